package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianretail/availability/internal/logger"
	"github.com/meridianretail/availability/rules"
)

// Scheduler materializes rule transitions into schedule entries and
// processes them when due. It owns no timer or event loop: an external
// trigger (cron, queue consumer) calls ProcessPendingChanges periodically.
type Scheduler struct {
	ruleStore rules.RuleStore
	store     Store
	notifier  Notifier
}

// NewScheduler wires a scheduler. A nil notifier defaults to LogNotifier.
func NewScheduler(ruleStore rules.RuleStore, store Store, notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Scheduler{
		ruleStore: ruleStore,
		store:     store,
		notifier:  notifier,
	}
}

// ScheduleRuleChanges replaces a rule's schedule entries with a fresh
// derivation. Full replace rather than incremental diff: any temporal field
// may have changed, and replacing is idempotent for unchanged rule content.
func (s *Scheduler) ScheduleRuleChanges(r *rules.Rule, now time.Time) error {
	entries := EntriesForRule(r, now)
	if err := s.store.ReplaceForRule(r.ID, entries); err != nil {
		logger.ScheduleWriteFailure(r.ID, err)
		return fmt.Errorf("failed to schedule changes for rule %s: %w", r.ID, err)
	}
	return nil
}

// ProcessPendingChanges notifies the collaborator for every entry due at or
// before now, in scheduled order. Each entry is marked processed whether or
// not its notification succeeded, with the failure recorded on the entry;
// failures are not retried. One bad entry never blocks the rest, and a
// re-run after a partial batch skips everything already marked.
//
// Returns how many entries were processed.
func (s *Scheduler) ProcessPendingChanges(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDue(now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due entries: %w", err)
	}

	processed := 0
	for _, e := range due {
		errMsg := ""
		if err := s.notifier.NotifyStateChange(ctx, e.ProductID, e.Label); err != nil {
			logger.NotifyFailure(e.ID, err)
			errMsg = err.Error()
		}
		if err := s.store.MarkProcessed(e.ID, now, errMsg); err != nil {
			// Leave the entry for the next run rather than halting the batch.
			logger.Error("failed to mark schedule entry processed", "entryId", e.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// RescheduleAllRules re-derives entries for every enabled rule. Used after
// systemic changes such as a timezone policy update. Sequential on purpose:
// rule sets are small and simplicity beats throughput here.
//
// Returns how many rules were rescheduled.
func (s *Scheduler) RescheduleAllRules(now time.Time) (int, error) {
	enabled, err := s.ruleStore.ListEnabled()
	if err != nil {
		return 0, fmt.Errorf("failed to list enabled rules: %w", err)
	}

	count := 0
	for _, r := range enabled {
		// Failures are logged and counted inside ScheduleRuleChanges.
		if err := s.ScheduleRuleChanges(r, now); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// CleanupOldSchedules deletes processed entries older than daysOld days.
// Pure retention housekeeping.
func (s *Scheduler) CleanupOldSchedules(daysOld int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -daysOld)
	deleted, err := s.store.DeleteProcessedBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up schedules: %w", err)
	}
	return deleted, nil
}

// GetUpcomingChanges projects a product's unprocessed future entries within
// the horizon, for display.
func (s *Scheduler) GetUpcomingChanges(productID string, horizonDays int, now time.Time) ([]*Entry, error) {
	return s.store.ListUpcoming(productID, now, now.AddDate(0, 0, horizonDays))
}

// DeleteForRule drops a rule's pending entries. Called after every rule
// soft-delete; the Postgres rule store also cascades this inside its
// soft-delete transaction, so the call is a no-op there.
func (s *Scheduler) DeleteForRule(ruleID string) error {
	return s.store.DeleteForRule(ruleID)
}
