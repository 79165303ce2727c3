package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/bbs"
)

// FileStore is a filesystem-backed KeyStateStore, one JSON/binary file per
// record under a directory tree rooted at the given path:
//
//	<root>/groups/<groupId>.json       group state (MLS ratchet + access keys)
//	<root>/credentials/<groupId>.bin   BBS+ member credential (144 bytes)
//	<root>/publickeys/<groupId>.bin    group public key (192 bytes)
//
// Writes are atomic (temp file in the same directory, then rename) so a
// crash mid-write never leaves a half-written record behind.
type FileStore struct {
	mu         sync.Mutex
	root       string
	groupsDir  string
	credDir    string
	pubKeysDir string
}

const (
	groupsSubdir     = "groups"
	credentialSubdir = "credentials"
	pubKeySubdir     = "publickeys"
)

// NewFileStore creates or opens a filesystem-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	groupsDir := filepath.Join(dir, groupsSubdir)
	credDir := filepath.Join(dir, credentialSubdir)
	pubKeysDir := filepath.Join(dir, pubKeySubdir)

	for _, d := range []string{groupsDir, credDir, pubKeysDir} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, apperr.Wrap(500, apperr.CodeStorageIO, "create storage directory", err)
		}
	}

	return &FileStore{root: dir, groupsDir: groupsDir, credDir: credDir, pubKeysDir: pubKeysDir}, nil
}

// writeFileAtomic writes data to destPath via a temp file in the same
// directory followed by an atomic rename.
func writeFileAtomic(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return apperr.Wrap(500, apperr.CodeStorageIO, "create temp file", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Wrap(500, apperr.CodeStorageIO, "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(500, apperr.CodeStorageIO, "close temp file", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return apperr.Wrap(500, apperr.CodeStorageIO, "rename temp file", err)
	}
	success = true
	return nil
}

// readFileOptional returns (data, true, nil) on success, (nil, false, nil)
// if the file does not exist, and (nil, false, err) on any other I/O error.
func readFileOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, apperr.Wrap(500, apperr.CodeStorageIO, "read file", err)
	}
	return data, true, nil
}

func (f *FileStore) groupStatePath(groupID string) string {
	return filepath.Join(f.groupsDir, groupID+".json")
}

func (f *FileStore) credentialPath(groupID string) string {
	return filepath.Join(f.credDir, groupID+".bin")
}

func (f *FileStore) publicKeyPath(groupID string) string {
	return filepath.Join(f.pubKeysDir, groupID+".bin")
}

func (f *FileStore) SaveGroupState(groupID string, state GroupState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return apperr.Wrap(500, apperr.CodeSerialization, "encode group state", err)
	}
	return writeFileAtomic(f.groupStatePath(groupID), data)
}

func (f *FileStore) LoadGroupState(groupID string) (GroupState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var state GroupState
	data, ok, err := readFileOptional(f.groupStatePath(groupID))
	if err != nil || !ok {
		return state, false, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return GroupState{}, false, apperr.Wrap(500, apperr.CodeSerialization, "decode group state", err)
	}
	return state, true, nil
}

func (f *FileStore) DeleteGroupState(groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removeIfExists(f.groupStatePath(groupID))
}

func (f *FileStore) ListGroupIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.groupsDir)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeStorageIO, "list group state directory", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

func (f *FileStore) SaveCredential(groupID string, cred *bbs.MemberCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeFileAtomic(f.credentialPath(groupID), bbs.MarshalCredential(cred))
}

func (f *FileStore) LoadCredential(groupID string) (*bbs.MemberCredential, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok, err := readFileOptional(f.credentialPath(groupID))
	if err != nil || !ok {
		return nil, false, err
	}
	cred, err := bbs.UnmarshalCredential(data)
	if err != nil {
		return nil, false, err
	}
	return cred, true, nil
}

func (f *FileStore) DeleteCredential(groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removeIfExists(f.credentialPath(groupID))
}

func (f *FileStore) SavePublicKey(groupID string, pub bbs.GroupPublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeFileAtomic(f.publicKeyPath(groupID), bbs.MarshalPublicKey(pub))
}

func (f *FileStore) LoadPublicKey(groupID string) (bbs.GroupPublicKey, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok, err := readFileOptional(f.publicKeyPath(groupID))
	if err != nil || !ok {
		return bbs.GroupPublicKey{}, false, err
	}
	pub, err := bbs.UnmarshalPublicKey(data)
	if err != nil {
		return bbs.GroupPublicKey{}, false, err
	}
	return pub, true, nil
}

func (f *FileStore) DeletePublicKey(groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removeIfExists(f.publicKeyPath(groupID))
}

// Close is a no-op: FileStore holds no open file handles between calls.
func (f *FileStore) Close() error { return nil }

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(500, apperr.CodeStorageIO, "remove file", err)
	}
	return nil
}

var _ KeyStateStore = (*FileStore)(nil)
