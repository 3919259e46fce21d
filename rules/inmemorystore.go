package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRuleStore implements RuleStore with a mutex-guarded map. Used in
// tests and single-process setups.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates an empty in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule, rejecting duplicate IDs.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(rule)
}

func (s *InMemoryRuleStore) addLocked(rule *Rule) error {
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID. Soft-deleted rules are not found.
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists || rule.DeletedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rule, nil
}

// ListByProduct returns all non-deleted rules owned by a product.
func (s *InMemoryRuleStore) ListByProduct(productID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if rule.ProductID == productID && rule.DeletedAt == nil {
			out = append(out, rule)
		}
	}
	return out, nil
}

// ListEnabled returns every enabled, non-deleted rule.
func (s *InMemoryRuleStore) ListEnabled() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if rule.Enabled && rule.DeletedAt == nil {
			out = append(out, rule)
		}
	}
	return out, nil
}

// Update replaces an existing rule, preserving its CreatedAt.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(rule)
}

func (s *InMemoryRuleStore) updateLocked(rule *Rule) error {
	existing, exists := s.rules[rule.ID]
	if !exists || existing.DeletedAt != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// SoftDelete marks a rule deleted; it disappears from every read.
func (s *InMemoryRuleStore) SoftDelete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softDeleteLocked(id)
}

func (s *InMemoryRuleStore) softDeleteLocked(id string) error {
	rule, exists := s.rules[id]
	if !exists || rule.DeletedAt != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now()
	rule.DeletedAt = &now
	rule.UpdatedAt = now
	return nil
}

// BulkApply runs one operation over many products under a single lock, so a
// reader never observes a half-applied batch. The first failure aborts with
// no writes applied.
func (s *InMemoryRuleStore) BulkApply(req *BulkRequest) error {
	if result := ValidateBulkRequest(req); !result.Valid {
		return fmt.Errorf("invalid bulk request: %v", result.Errors)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage against a snapshot so a mid-batch failure leaves the live map
	// untouched.
	staged := make(map[string]*Rule, len(s.rules))
	for id, r := range s.rules {
		cp := *r
		staged[id] = &cp
	}
	live := s.rules
	s.rules = staged

	var err error
	switch req.Operation {
	case BulkCreate:
		for _, productID := range req.ProductIDs {
			for _, tmpl := range req.Rules {
				r := *tmpl
				r.ID = uuid.New().String()
				r.ProductID = productID
				if err = s.addLocked(&r); err != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
	case BulkUpdate:
		for _, r := range req.Rules {
			if err = s.updateLocked(r); err != nil {
				break
			}
		}
	case BulkDelete:
		for _, productID := range req.ProductIDs {
			for id, r := range s.rules {
				if r.ProductID == productID && r.DeletedAt == nil {
					if err = s.softDeleteLocked(id); err != nil {
						break
					}
				}
			}
			if err != nil {
				break
			}
		}
	}

	if err != nil {
		s.rules = live
		return fmt.Errorf("bulk %s aborted: %w", req.Operation, err)
	}
	return nil
}
