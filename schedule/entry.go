// Package schedule materializes availability rule transitions into concrete
// future instants and processes them when due. The evaluation engine stays
// the source of truth for current state; entries exist so an externally
// triggered batch can notify collaborators as transitions arrive.
package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianretail/availability/rules"
)

// Entry is a materialized future instant at which a rule's effect changes.
// Entries are created in batches when a rule is (re)materialized, replaced
// wholesale on rule edit, and deleted on rule soft-delete.
type Entry struct {
	ID           string                  `json:"id"`
	RuleID       string                  `json:"ruleId"`
	ProductID    string                  `json:"productId"`
	ScheduledAt  time.Time               `json:"scheduledAt"`
	Label        string                  `json:"label"`
	TargetState  rules.AvailabilityState `json:"targetState"`
	Processed    bool                    `json:"processed"`
	ProcessedAt  *time.Time              `json:"processedAt,omitempty"`
	ErrorMessage string                  `json:"errorMessage,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
}

// Transition labels name the origin and target state of an entry, e.g.
// "activate_PRE_ORDER" or "seasonal_end_AVAILABLE".
const (
	labelActivate      = "activate_%s"
	labelDeactivate    = "deactivate_%s"
	labelSeasonalStart = "seasonal_start_%s"
	labelSeasonalEnd   = "seasonal_end_%s"
)

// EntriesForRule derives the schedule entries a rule implies, relative to
// now. Only strictly future instants materialize. A disabled or soft-deleted
// rule yields nothing, which makes a replace clear its old entries.
//
// Date bounds produce one activation (target = the rule's state) and one
// deactivation (target = AVAILABLE). Seasonal windows produce start/end
// occurrences for the current and next calendar year under distinct labels.
func EntriesForRule(r *rules.Rule, now time.Time) []*Entry {
	if r == nil || !r.Enabled || r.DeletedAt != nil {
		return nil
	}

	var entries []*Entry
	add := func(at time.Time, label string, target rules.AvailabilityState) {
		if !at.After(now) {
			return
		}
		entries = append(entries, &Entry{
			ID:          uuid.New().String(),
			RuleID:      r.ID,
			ProductID:   r.ProductID,
			ScheduledAt: at,
			Label:       fmt.Sprintf(label, target),
			TargetState: target,
			CreatedAt:   now,
		})
	}

	if r.StartDate != nil {
		add(*r.StartDate, labelActivate, r.State)
	}
	if r.EndDate != nil {
		add(*r.EndDate, labelDeactivate, rules.StateAvailable)
	}

	if r.Type == rules.TypeSeasonal && r.Seasonal != nil {
		for _, year := range []int{now.Year(), now.Year() + 1} {
			start, end, err := rules.SeasonalOccurrences(r.Seasonal, year)
			if err != nil {
				// Validation keeps unknown zones out; a rule that slipped
				// through materializes nothing rather than guessing UTC.
				return entries
			}
			add(start, labelSeasonalStart, r.State)
			add(end, labelSeasonalEnd, rules.StateAvailable)
		}
	}

	return entries
}
