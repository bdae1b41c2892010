package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a Gateway backed by process memory, used when no database
// is configured and by tests.
type MemoryStore struct {
	mu         sync.Mutex
	chats      []ChatRecord
	broadcasts []BroadcastRecord
}

var _ Gateway = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateChatMessage(_ context.Context, rec ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, rec)
	return nil
}

func (s *MemoryStore) CreateBroadcastMessage(_ context.Context, rec BroadcastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, rec)
	return nil
}

func (s *MemoryStore) DeleteChatMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.chats {
		if rec.ID == id {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) DeleteBroadcastMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.broadcasts {
		if rec.ID == id {
			s.broadcasts = append(s.broadcasts[:i], s.broadcasts[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecentChatMessages(_ context.Context, limit int) ([]ChatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]ChatRecord, len(s.chats))
	copy(recs, s.chats)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *MemoryStore) RecentBroadcasts(_ context.Context, limit int) ([]BroadcastRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]BroadcastRecord, len(s.broadcasts))
	copy(recs, s.broadcasts)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}
