package rules

import "fmt"

// DetectRuleConflicts checks every pair of rules for authoring conflicts.
// O(n^2) is fine: rule sets per product are bounded in the tens.
//
// A priority conflict is two enabled rules sharing a priority, regardless of
// state. A date_overlap conflict requires both rules to carry complete
// start/end ranges that overlap while asserting different states; partial or
// absent ranges are never flagged.
func DetectRuleConflicts(list []*Rule) []Conflict {
	var conflicts []Conflict

	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			a, b := list[i], list[j]
			if a == nil || b == nil || a.DeletedAt != nil || b.DeletedAt != nil {
				continue
			}

			if a.Enabled && b.Enabled && a.Priority == b.Priority {
				conflicts = append(conflicts, Conflict{
					Type:   ConflictPriority,
					RuleA:  a.ID,
					RuleB:  b.ID,
					Detail: fmt.Sprintf("rules %q and %q share priority %d", a.Name, b.Name, a.Priority),
				})
			}

			if datesOverlap(a, b) && a.State != b.State {
				conflicts = append(conflicts, Conflict{
					Type:  ConflictDateOverlap,
					RuleA: a.ID,
					RuleB: b.ID,
					Detail: fmt.Sprintf("rules %q (%s) and %q (%s) have overlapping date ranges",
						a.Name, a.State, b.Name, b.State),
				})
			}
		}
	}
	return conflicts
}

// datesOverlap reports whether both rules carry complete date ranges that
// intersect. Inclusive on both ends: touching boundaries count as overlap.
func datesOverlap(a, b *Rule) bool {
	if a.StartDate == nil || a.EndDate == nil || b.StartDate == nil || b.EndDate == nil {
		return false
	}
	return !a.StartDate.After(*b.EndDate) && !b.StartDate.After(*a.EndDate)
}

// ComputeRuleStats summarizes a product's rule set for admin tooling.
func ComputeRuleStats(list []*Rule) RuleStats {
	stats := RuleStats{
		ByType:  make(map[RuleType]int),
		ByState: make(map[AvailabilityState]int),
	}
	for _, r := range list {
		if r == nil || r.DeletedAt != nil {
			continue
		}
		stats.Total++
		if r.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByType[r.Type]++
		stats.ByState[r.State]++
	}
	stats.Conflicts = len(DetectRuleConflicts(list))
	return stats
}
