package transport

import (
	"context"
	"sync"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/chain"
)

// LocalServer is an in-process PullTransport backed by plain slices, for
// tests and single-machine deployments where client and server are
// co-located.
type LocalServer struct {
	mu           sync.Mutex
	personal     map[string][]chain.PersonalEntry
	group        map[string]map[string][]chain.GroupEntry // groupID -> db -> entries
	groups       map[string]bool
	subscribers  []*localPushStream
}

// NewLocalServer creates an empty in-process server.
func NewLocalServer() *LocalServer {
	return &LocalServer{
		personal: map[string][]chain.PersonalEntry{},
		group:    map[string]map[string][]chain.GroupEntry{},
		groups:   map[string]bool{},
	}
}

func (s *LocalServer) PersonalHead(ctx context.Context, db string) (*chain.PersonalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.personal[db]
	if len(entries) == 0 {
		return nil, nil
	}
	head := entries[len(entries)-1]
	return &head, nil
}

func (s *LocalServer) PersonalList(ctx context.Context, db string, startIndex int64, limit int) ([]chain.PersonalEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.personal[db]
	var out []chain.PersonalEntry
	for _, e := range entries {
		if e.Index >= startIndex {
			out = append(out, e)
		}
		if len(out) >= limit {
			break
		}
	}
	hasMore := int64(len(entries)) > startIndex+int64(len(out))
	return out, hasMore, nil
}

func (s *LocalServer) PersonalAt(ctx context.Context, db string, index int64) (*chain.PersonalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.personal[db] {
		if e.Index == index {
			cp := e
			return &cp, nil
		}
	}
	return nil, apperr.New(404, apperr.CodeNoHead, "entry not found at requested index")
}

func (s *LocalServer) AppendPersonal(ctx context.Context, db string, entry chain.PersonalEntry) (*chain.PersonalEntry, error) {
	s.mu.Lock()
	entries := s.personal[db]
	if entry.Index != int64(len(entries)) {
		s.mu.Unlock()
		return nil, apperr.New(409, apperr.CodeChainBroken, "append index does not match the server's next expected index")
	}
	s.personal[db] = append(entries, entry)
	s.mu.Unlock()

	s.broadcast(Event{Type: EventNewLog, Entry: &entry})
	return &entry, nil
}

func (s *LocalServer) GroupHead(ctx context.Context, groupID, db string) (*chain.GroupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.group[groupID][db]
	if len(entries) == 0 {
		return nil, nil
	}
	head := entries[len(entries)-1]
	return &head, nil
}

func (s *LocalServer) GroupList(ctx context.Context, groupID, db string, startIndex int64, limit int) ([]chain.GroupEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.group[groupID][db]
	var out []chain.GroupEntry
	for _, e := range entries {
		if e.Index >= startIndex {
			out = append(out, e)
		}
		if len(out) >= limit {
			break
		}
	}
	hasMore := int64(len(entries)) > startIndex+int64(len(out))
	return out, hasMore, nil
}

func (s *LocalServer) GroupAt(ctx context.Context, groupID, db string, index int64) (*chain.GroupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.group[groupID][db] {
		if e.Index == index {
			cp := e
			return &cp, nil
		}
	}
	return nil, apperr.New(404, apperr.CodeNoHead, "entry not found at requested index")
}

func (s *LocalServer) AppendGroup(ctx context.Context, groupID, db string, entry chain.GroupEntry) (*chain.GroupEntry, error) {
	s.mu.Lock()
	if !s.groups[groupID] {
		s.mu.Unlock()
		return nil, apperr.New(404, apperr.CodeNotMember, "unknown group")
	}
	if s.group[groupID] == nil {
		s.group[groupID] = map[string][]chain.GroupEntry{}
	}
	entries := s.group[groupID][db]
	if entry.Index != int64(len(entries)) {
		s.mu.Unlock()
		return nil, apperr.New(409, apperr.CodeChainBroken, "append index does not match the server's next expected index")
	}
	s.group[groupID][db] = append(entries, entry)
	s.mu.Unlock()

	s.broadcast(Event{Type: EventNewGroupLog, GroupID: groupID, GroupEntry: &entry})
	return &entry, nil
}

func (s *LocalServer) CreateGroup(ctx context.Context, req CreateGroupRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[req.GroupID] = true
	return nil
}

func (s *LocalServer) broadcast(ev Event) {
	s.mu.Lock()
	subs := append([]*localPushStream{}, s.subscribers...)
	s.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Subscribe opens a push stream fed by this server's future appends.
func (s *LocalServer) Subscribe() *localPushStream {
	stream := &localPushStream{events: make(chan Event, 64)}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, stream)
	s.mu.Unlock()
	return stream
}

type localPushStream struct {
	events chan Event
}

func (p *localPushStream) Send(ctx context.Context, frame ControlFrame) error { return nil }
func (p *localPushStream) Events() <-chan Event                              { return p.events }
func (p *localPushStream) Close() error                                      { close(p.events); return nil }

var _ PullTransport = (*LocalServer)(nil)
var _ PushStream = (*localPushStream)(nil)
