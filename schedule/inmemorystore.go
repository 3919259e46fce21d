package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryStore implements Store with a mutex-guarded map. Used in tests and
// single-process setups. Holding one lock across delete+insert gives
// ReplaceForRule its atomicity.
type InMemoryStore struct {
	entries map[string]*Entry
	mu      sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory schedule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*Entry),
	}
}

// ReplaceForRule atomically swaps a rule's entries.
func (s *InMemoryStore) ReplaceForRule(ruleID string, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.RuleID == ruleID && !e.Processed {
			delete(s.entries, id)
		}
	}
	for _, e := range entries {
		cp := *e
		s.entries[e.ID] = &cp
	}
	return nil
}

// DeleteForRule removes all unprocessed entries owned by a rule.
func (s *InMemoryStore) DeleteForRule(ruleID string) error {
	return s.ReplaceForRule(ruleID, nil)
}

// ListDue returns unprocessed entries due at or before now, ascending.
func (s *InMemoryStore) ListDue(now time.Time) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Entry
	for _, e := range s.entries {
		if !e.Processed && !e.ScheduledAt.After(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due, nil
}

// MarkProcessed flags an entry processed.
func (s *InMemoryStore) MarkProcessed(id string, at time.Time, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Processed = true
	e.ProcessedAt = &at
	e.ErrorMessage = errorMessage
	return nil
}

// DeleteProcessedBefore removes processed entries older than the cutoff.
func (s *InMemoryStore) DeleteProcessedBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, e := range s.entries {
		if e.Processed && e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// ListUpcoming returns a product's unprocessed entries in (from, to], ascending.
func (s *InMemoryStore) ListUpcoming(productID string, from, to time.Time) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, e := range s.entries {
		if e.ProductID == productID && !e.Processed &&
			e.ScheduledAt.After(from) && !e.ScheduledAt.After(to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}
