package schedule

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a schedule entry does not exist.
var ErrNotFound = errors.New("schedule entry not found")

// Store persists schedule entries.
//
// ReplaceForRule must behave as a single atomic unit: a reader must never
// observe the transient empty set between deleting a rule's old entries and
// inserting its new ones.
type Store interface {
	// ReplaceForRule atomically deletes every entry owned by the rule and
	// inserts the given ones.
	ReplaceForRule(ruleID string, entries []*Entry) error

	// DeleteForRule removes all unprocessed entries owned by a rule.
	DeleteForRule(ruleID string) error

	// ListDue returns unprocessed entries with scheduledAt <= now, ordered
	// ascending by scheduledAt to preserve the causal order of transitions.
	ListDue(now time.Time) ([]*Entry, error)

	// MarkProcessed flags an entry processed at the given instant, recording
	// an error message when the notification failed.
	MarkProcessed(id string, at time.Time, errorMessage string) error

	// DeleteProcessedBefore removes processed entries older than the cutoff
	// and reports how many were deleted.
	DeleteProcessedBefore(cutoff time.Time) (int64, error)

	// ListUpcoming returns unprocessed entries for a product scheduled in
	// (from, to], ordered ascending by scheduledAt.
	ListUpcoming(productID string, from, to time.Time) ([]*Entry, error)
}
