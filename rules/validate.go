package rules

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/cel-go/cel"
)

// ValidationResult aggregates every violation found in a rule. The validator
// never returns a Go error: the caller decides whether to block persistence.
type ValidationResult struct {
	Valid  bool     `json:"isValid"`
	Errors []string `json:"errors"`
}

// ValidateOptions tunes a ValidateRule call.
type ValidateOptions struct {
	// Now anchors the relative date checks; zero means time.Now().
	Now time.Time
	// ProductID, when set, must match the rule's owning product.
	ProductID string
	// SkipFutureDateCheck suppresses the pre-order delivery-date future
	// check. Escape hatch for toggling enablement of an existing rule
	// without re-validating its original delivery date.
	SkipFutureDateCheck bool
}

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Date range sanity bounds relative to now.
const (
	maxStartDateAge   = 2 * 365 * 24 * time.Hour
	maxEndDateHorizon = 5 * 365 * 24 * time.Hour
	leapReferenceYear = 2024
)

// ValidateRule runs every structural and semantic check on a candidate rule
// and reports all violations at once rather than stopping at the first.
func ValidateRule(r *Rule, opts ValidateOptions) ValidationResult {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if r == nil {
		return ValidationResult{Valid: false, Errors: []string{"rule is required"}}
	}

	if r.Name == "" {
		add("rule name is required")
	}
	if r.ProductID == "" {
		add("product reference is required")
	}
	if opts.ProductID != "" && r.ProductID != "" && r.ProductID != opts.ProductID {
		add("rule belongs to product %s, not %s", r.ProductID, opts.ProductID)
	}
	if !validRuleType(r.Type) {
		add("unknown rule type %q", r.Type)
	}
	if !validState(r.State) {
		add("unknown state %q", r.State)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		add("priority %d out of range [%d,%d]", r.Priority, MinPriority, MaxPriority)
	}

	validateDateRange(r, now, add)
	validateTypeConsistency(r, add)

	if r.Seasonal != nil {
		validateSeasonalWindow(r.Seasonal, add)
	}
	if r.TimeWindow != nil {
		validateTimeWindow(r.TimeWindow, add)
	}
	if r.Custom != nil && r.Custom.Expression != "" {
		validateCustomExpression(r.Custom.Expression, add)
	}

	if r.State == StatePreOrder {
		validatePreOrder(r.PreOrder, now, opts.SkipFutureDateCheck, add)
	}
	if r.State == StateViewOnly && r.ViewOnly == nil {
		add("VIEW_ONLY rules require view-only settings")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateDateRange(r *Rule, now time.Time, add func(string, ...any)) {
	if r.StartDate != nil && r.EndDate != nil && !r.StartDate.Before(*r.EndDate) {
		add("startDate must be before endDate")
	}
	if r.StartDate != nil && r.StartDate.Before(now.Add(-maxStartDateAge)) {
		add("startDate is more than 2 years in the past")
	}
	if r.EndDate != nil && r.EndDate.After(now.Add(maxEndDateHorizon)) {
		add("endDate is more than 5 years in the future")
	}
}

// validateTypeConsistency enforces that exactly the config block matching
// the rule type is populated, so a mismatched block never reaches the engine.
func validateTypeConsistency(r *Rule, add func(string, ...any)) {
	switch r.Type {
	case TypeDateRange:
		if r.StartDate == nil && r.EndDate == nil {
			add("DATE_RANGE rules require at least one of startDate or endDate")
		}
	case TypeSeasonal:
		if r.Seasonal == nil {
			add("SEASONAL rules require a seasonal window")
		}
	case TypeTimeBased:
		if r.TimeWindow == nil {
			add("TIME_BASED rules require a time window")
		}
	}
	if r.Seasonal != nil && r.Type != TypeSeasonal {
		add("seasonal window is only valid on SEASONAL rules")
	}
	if r.TimeWindow != nil && r.Type != TypeTimeBased {
		add("time window is only valid on TIME_BASED rules")
	}
}

// validateSeasonalWindow checks month/day pairs against a leap-year
// reference so Feb 29 is accepted and Feb 30 is not, and that the zone is a
// recognized IANA identifier.
func validateSeasonalWindow(w *SeasonalWindow, add func(string, ...any)) {
	checkDay := func(label string, month, day int) {
		if month < 1 || month > 12 {
			add("seasonal %s month %d out of range", label, month)
			return
		}
		if day < 1 || !realCalendarDay(month, day) {
			add("seasonal %s day %d is not a valid day of month %d", label, day, month)
		}
	}
	checkDay("start", w.StartMonth, w.StartDay)
	checkDay("end", w.EndMonth, w.EndDay)

	if _, err := loadZone(w.Timezone); err != nil {
		add("seasonal window: %v", err)
	}
}

// realCalendarDay validates a month/day pair against a leap year, so Feb 29
// is a real date here.
func realCalendarDay(month, day int) bool {
	d := time.Date(leapReferenceYear, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return int(d.Month()) == month && d.Day() == day
}

func validateTimeWindow(w *TimeWindow, add func(string, ...any)) {
	if len(w.Weekdays) == 0 {
		add("time window requires at least one weekday")
	}
	for _, d := range w.Weekdays {
		if d < 0 || d > 6 {
			add("weekday %d out of range [0,6]", d)
		}
	}
	if !clockPattern.MatchString(w.StartTime) {
		add("startTime %q is not a valid HH:MM value", w.StartTime)
	}
	if !clockPattern.MatchString(w.EndTime) {
		add("endTime %q is not a valid HH:MM value", w.EndTime)
	}
	// Overnight wrap (start after end) is allowed and handled by the engine.
	if _, err := loadZone(w.Timezone); err != nil {
		add("time window: %v", err)
	}
}

// validateCustomExpression compiles the optional CEL gating expression of a
// CUSTOM rule so broken expressions are rejected at authoring time.
// Interpretation at evaluation time belongs to downstream consumers.
func validateCustomExpression(expression string, add func(string, ...any)) {
	env, err := cel.NewEnv(
		cel.Variable("Product", cel.DynType),
		cel.Variable("Customer", cel.DynType),
	)
	if err != nil {
		add("custom expression environment: %v", err)
		return
	}
	if _, issues := env.Compile(expression); issues != nil && issues.Err() != nil {
		add("custom expression does not compile: %v", issues.Err())
	}
}

func validatePreOrder(s *PreOrderSettings, now time.Time, skipFutureDateCheck bool, add func(string, ...any)) {
	if s == nil {
		add("PRE_ORDER rules require pre-order settings")
		return
	}
	if s.ExpectedDeliveryDate == nil {
		add("pre-order settings require an expectedDeliveryDate")
	} else if !skipFutureDateCheck && !s.ExpectedDeliveryDate.After(now) {
		add("expectedDeliveryDate must be in the future")
	}
	if s.RequireDeposit && s.DepositAmount <= 0 {
		add("deposit amount must be greater than zero when a deposit is required")
	}
	if s.MaxQuantity < 0 {
		add("maxQuantity must be greater than zero when set")
	}
}

func validRuleType(t RuleType) bool {
	switch t {
	case TypeDateRange, TypeSeasonal, TypeTimeBased, TypeCustom, TypeInventory:
		return true
	}
	return false
}

func validState(s AvailabilityState) bool {
	switch s {
	case StateAvailable, StatePreOrder, StateViewOnly, StateComingSoon,
		StateDiscontinued, StateUnavailable:
		return true
	}
	return false
}

// BulkOperation names an authoring action applied to many products at once.
type BulkOperation string

const (
	BulkCreate BulkOperation = "create"
	BulkUpdate BulkOperation = "update"
	BulkDelete BulkOperation = "delete"
)

// MaxBulkProducts bounds the blast radius of one bulk operation.
const MaxBulkProducts = 100

// BulkRequest applies one authoring operation to a list of products.
type BulkRequest struct {
	ProductIDs []string      `json:"productIds"`
	Operation  BulkOperation `json:"operation"`
	Rules      []*Rule       `json:"rules,omitempty"`
}

// ValidateBulkRequest checks the shape of a bulk authoring request.
func ValidateBulkRequest(req *BulkRequest) ValidationResult {
	var errs []string

	if req == nil {
		return ValidationResult{Valid: false, Errors: []string{"request is required"}}
	}
	if len(req.ProductIDs) == 0 {
		errs = append(errs, "productIds must not be empty")
	}
	if len(req.ProductIDs) > MaxBulkProducts {
		errs = append(errs, fmt.Sprintf("productIds exceeds the maximum of %d entries", MaxBulkProducts))
	}
	switch req.Operation {
	case BulkCreate, BulkUpdate:
		if len(req.Rules) == 0 {
			errs = append(errs, fmt.Sprintf("rules are required for %s operations", req.Operation))
		}
	case BulkDelete:
	default:
		errs = append(errs, fmt.Sprintf("unknown operation %q", req.Operation))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
