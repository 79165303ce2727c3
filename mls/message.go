package mls

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/hashledger/hashledger/apperr"
)

// ApplicationMessage is an AES-256-GCM-protected group payload: IV12 ||
// TAG16 || CT, keyed by the group key at a specific epoch.
type ApplicationMessage struct {
	Epoch      uint64
	Ciphertext []byte // iv12 || tag16 || ct
}

// EncryptApplicationMessage seals plaintext under gs.GroupKey at gs.Epoch.
func EncryptApplicationMessage(gs *GroupState, plaintext []byte) (*ApplicationMessage, error) {
	block, err := aes.NewCipher(gs.GroupKey)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "gcm init failed", err)
	}
	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "iv generation failed", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-16]
	tag := sealed[len(sealed)-16:]

	out := make([]byte, 0, 12+16+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return &ApplicationMessage{Epoch: gs.Epoch, Ciphertext: out}, nil
}

// DecryptApplicationMessage opens msg using gs.GroupKey. The message's epoch
// must equal the receiver's current epoch.
func DecryptApplicationMessage(gs *GroupState, msg *ApplicationMessage) ([]byte, error) {
	if msg.Epoch != gs.Epoch {
		return nil, apperr.New(400, apperr.CodeInvalidEpoch, "application message epoch does not match local epoch")
	}
	if len(msg.Ciphertext) < 12+16 {
		return nil, apperr.New(400, apperr.CodeDecryptionFailed, "application message shorter than minimum length")
	}
	iv := msg.Ciphertext[0:12]
	tag := msg.Ciphertext[12:28]
	ct := msg.Ciphertext[28:]

	block, err := aes.NewCipher(gs.GroupKey)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "gcm init failed", err)
	}
	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeDecryptionFailed, "gcm authentication failed", err)
	}
	return plaintext, nil
}
