package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/meridianretail/availability/internal/logger"
)

// EvaluateProduct computes the availability of one product at one instant
// from its rule set. Rules are filtered to enabled and non-deleted, then
// ordered by priority descending; every applicable rule is collected and the
// first one fixes the current state. With no applicable rule the product is
// AVAILABLE.
//
// Equal priorities order by earliest CreatedAt, then rule ID, so the result
// is deterministic for any permutation of the input.
//
// The function never panics. Any internal fault degrades to the fail-open
// default (AVAILABLE, no applied rules) with the failure logged and counted;
// purchase flows must not be blocked by an evaluator bug.
func EvaluateProduct(productID string, list []*Rule, now time.Time) (ev *Evaluation) {
	defer func() {
		if r := recover(); r != nil {
			logger.FallbackEvaluation(productID, "panic", fmt.Sprint(r))
			ev = &Evaluation{
				ProductID:    productID,
				CurrentState: StateAvailable,
				AppliedRules: []*Rule{},
				EvaluatedAt:  now,
			}
		}
	}()

	active := activeRules(list)
	sortByPriority(active)

	applied := []*Rule{}
	state := StateAvailable
	for _, r := range active {
		ok, err := ruleApplies(r, now)
		if err != nil {
			// A single malformed rule is skipped, not fatal to the evaluation.
			logger.Warn("rule applicability check failed", "ruleId", r.ID, "error", err)
			continue
		}
		if ok {
			if len(applied) == 0 {
				state = r.State
			}
			applied = append(applied, r)
		}
	}

	return &Evaluation{
		ProductID:    productID,
		CurrentState: state,
		AppliedRules: applied,
		EvaluatedAt:  now,
		NextChange:   NextStateChange(list, now),
	}
}

// ruleApplies tests the temporal predicate of a single rule at an instant.
func ruleApplies(r *Rule, now time.Time) (bool, error) {
	switch r.Type {
	case TypeDateRange:
		return dateRangeApplies(r.StartDate, r.EndDate, now), nil
	case TypeSeasonal:
		if r.Seasonal == nil {
			return false, fmt.Errorf("seasonal rule %s has no seasonal window", r.ID)
		}
		return seasonalApplies(r.Seasonal, now)
	case TypeTimeBased:
		if r.TimeWindow == nil {
			return false, fmt.Errorf("time-based rule %s has no time window", r.ID)
		}
		return timeWindowApplies(r.TimeWindow, now)
	case TypeCustom:
		// Gating is interpreted by downstream consumers of the settings.
		return true, nil
	case TypeInventory:
		// Stub: inventory-aware gating lives outside this subsystem.
		return true, nil
	default:
		return false, fmt.Errorf("unknown rule type %q", r.Type)
	}
}

// dateRangeApplies treats absent bounds as open: no dates means always
// applicable, a single bound checks only that side.
func dateRangeApplies(start, end *time.Time, now time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && now.After(*end) {
		return false
	}
	return true
}

// NextStateChange scans enabled, non-deleted rules for transition instants
// strictly after now and returns the earliest with its target state, or nil.
// Candidates are rule start dates (target = the rule's state), rule end
// dates (target = AVAILABLE), and seasonal start/end occurrences for the
// current and next calendar year. Time-based windows recur too frequently
// for a next-change headline and are not forecast.
func NextStateChange(list []*Rule, now time.Time) *StateChange {
	active := activeRules(list)
	sortByPriority(active)

	var next *StateChange
	consider := func(at time.Time, state AvailabilityState, r *Rule) {
		if !at.After(now) {
			return
		}
		if next == nil || at.Before(next.At) {
			next = &StateChange{At: at, State: state, RuleID: r.ID, RuleName: r.Name}
		}
	}

	for _, r := range active {
		if r.StartDate != nil {
			consider(*r.StartDate, r.State, r)
		}
		if r.EndDate != nil {
			consider(*r.EndDate, StateAvailable, r)
		}
		if r.Type == TypeSeasonal && r.Seasonal != nil {
			for _, year := range []int{now.Year(), now.Year() + 1} {
				start, end, err := SeasonalOccurrences(r.Seasonal, year)
				if err != nil {
					logger.Warn("seasonal forecast skipped", "ruleId", r.ID, "error", err)
					break
				}
				consider(start, r.State, r)
				consider(end, StateAvailable, r)
			}
		}
	}
	return next
}

// activeRules filters to enabled, non-soft-deleted rules.
func activeRules(list []*Rule) []*Rule {
	out := make([]*Rule, 0, len(list))
	for _, r := range list {
		if r != nil && r.Enabled && r.DeletedAt == nil {
			out = append(out, r)
		}
	}
	return out
}

// sortByPriority orders rules by priority descending with a total tie-break:
// earliest CreatedAt wins, then lowest rule ID.
func sortByPriority(list []*Rule) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
