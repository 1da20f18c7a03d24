package archive

import (
	"context"
	"sort"
	"sync"

	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/topic"
)

// MemStore is a thread-safe in-memory event store, useful for tests and
// short-lived sessions.
type MemStore struct {
	mu     sync.RWMutex
	events []event.Event
}

// NewMemStore creates a new in-memory event store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemStore) List(_ context.Context, q Query) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []event.Event
	for _, e := range s.events {
		if q.AfterSeq > 0 && e.Seq <= q.AfterSeq {
			continue
		}
		if q.Pattern != "" && !topic.Matches(q.Pattern, e.Topic) {
			continue
		}
		result = append(result, e)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result, nil
}

func (s *MemStore) LatestSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq uint64
	for _, e := range s.events {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq, nil
}

func (s *MemStore) Topics(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, e := range s.events {
		seen[e.Topic] = true
	}

	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics, nil
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
