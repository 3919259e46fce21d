package rules

import "errors"

// ErrNotFound is returned by stores when a rule does not exist or has been
// soft-deleted.
var ErrNotFound = errors.New("rule not found")

// RuleStore manages rule persistence. Every read filters out soft-deleted
// rules; the engine additionally filters to enabled ones.
type RuleStore interface {
	// Add a new rule.
	Add(rule *Rule) error

	// Get a rule by ID.
	Get(id string) (*Rule, error)

	// ListByProduct returns all non-deleted rules owned by a product.
	ListByProduct(productID string) ([]*Rule, error)

	// ListEnabled returns every enabled, non-deleted rule across products.
	// Used by reschedule-all.
	ListEnabled() ([]*Rule, error)

	// Update an existing rule.
	Update(rule *Rule) error

	// SoftDelete marks a rule deleted. Implementations backed by the same
	// database as the schedule store also cascade-delete the rule's pending
	// schedule entries in the same transaction.
	SoftDelete(id string) error

	// BulkApply runs one authoring operation over many products as a single
	// atomic unit: any one failure aborts the whole batch.
	BulkApply(req *BulkRequest) error
}
