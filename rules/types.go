package rules

import "time"

// RuleType identifies which temporal predicate a rule carries.
type RuleType string

const (
	TypeDateRange RuleType = "DATE_RANGE"
	TypeSeasonal  RuleType = "SEASONAL"
	TypeTimeBased RuleType = "TIME_BASED"
	TypeCustom    RuleType = "CUSTOM"
	TypeInventory RuleType = "INVENTORY"
)

// AvailabilityState is the purchasability state a rule asserts while applicable.
type AvailabilityState string

const (
	StateAvailable    AvailabilityState = "AVAILABLE"
	StatePreOrder     AvailabilityState = "PRE_ORDER"
	StateViewOnly     AvailabilityState = "VIEW_ONLY"
	StateComingSoon   AvailabilityState = "COMING_SOON"
	StateDiscontinued AvailabilityState = "DISCONTINUED"
	StateUnavailable  AvailabilityState = "UNAVAILABLE"
)

// DefaultTimezone is applied when a seasonal or time-based rule omits its zone.
const DefaultTimezone = "America/Los_Angeles"

// Priority bounds for a rule. Higher priority wins when multiple rules apply.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// SeasonalWindow is a yearly recurring date range. The range may wrap the
// year boundary (e.g. Nov 15 through Feb 15) when start sorts after end.
type SeasonalWindow struct {
	StartMonth int    `json:"startMonth"`
	StartDay   int    `json:"startDay"`
	EndMonth   int    `json:"endMonth"`
	EndDay     int    `json:"endDay"`
	Timezone   string `json:"timezone,omitempty"`
}

// TimeWindow is a weekly recurring time-of-day range. Weekdays use
// 0=Sunday..6=Saturday; times are 24-hour "HH:MM". The range may wrap
// midnight (e.g. 22:00 through 06:00) when start sorts after end.
type TimeWindow struct {
	Weekdays  []int  `json:"weekdays"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone,omitempty"`
}

// PreOrderSettings configures a PRE_ORDER state rule.
type PreOrderSettings struct {
	ExpectedDeliveryDate *time.Time `json:"expectedDeliveryDate,omitempty"`
	RequireDeposit       bool       `json:"requireDeposit"`
	DepositAmount        float64    `json:"depositAmount,omitempty"`
	MaxQuantity          int        `json:"maxQuantity,omitempty"`
}

// ViewOnlySettings configures a VIEW_ONLY state rule.
type ViewOnlySettings struct {
	Message             string `json:"message,omitempty"`
	ShowPrice           bool   `json:"showPrice"`
	NotifyWhenAvailable bool   `json:"notifyWhenAvailable"`
}

// CustomSettings carries the opaque configuration of a CUSTOM rule. The
// optional Expression is a CEL predicate over Product and Customer; it is
// syntax-checked at authoring time and interpreted by downstream consumers,
// not by the evaluation engine.
type CustomSettings struct {
	Expression string            `json:"expression,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Rule is a time-scoped policy asserting an availability state for one
// product while its temporal predicate holds. Exactly the config block
// matching Type may be set; ValidateRule enforces this.
type Rule struct {
	ID        string            `json:"id"`
	ProductID string            `json:"productId"`
	Name      string            `json:"name"`
	Type      RuleType          `json:"ruleType"`
	State     AvailabilityState `json:"state"`
	Priority  int               `json:"priority"`
	Enabled   bool              `json:"enabled"`

	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	Seasonal   *SeasonalWindow   `json:"seasonal,omitempty"`
	TimeWindow *TimeWindow       `json:"timeWindow,omitempty"`
	PreOrder   *PreOrderSettings `json:"preOrder,omitempty"`
	ViewOnly   *ViewOnlySettings `json:"viewOnly,omitempty"`
	Custom     *CustomSettings   `json:"custom,omitempty"`

	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedBy string     `json:"createdBy,omitempty"`
	UpdatedBy string     `json:"updatedBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// StateChange is a forecasted future transition.
type StateChange struct {
	At       time.Time         `json:"at"`
	State    AvailabilityState `json:"state"`
	RuleID   string            `json:"ruleId"`
	RuleName string            `json:"ruleName"`
}

// Evaluation is the computed availability outcome for one product at one
// instant. It is ephemeral: computed on demand, never persisted.
type Evaluation struct {
	ProductID    string            `json:"productId"`
	CurrentState AvailabilityState `json:"currentState"`
	AppliedRules []*Rule           `json:"appliedRules"`
	EvaluatedAt  time.Time         `json:"evaluatedAt"`
	NextChange   *StateChange      `json:"nextStateChange,omitempty"`
}

// ConflictType classifies a detected rule conflict.
type ConflictType string

const (
	ConflictPriority    ConflictType = "priority"
	ConflictDateOverlap ConflictType = "date_overlap"
)

// Conflict reports a pair of rules that an author should resolve.
type Conflict struct {
	Type   ConflictType `json:"type"`
	RuleA  string       `json:"ruleA"`
	RuleB  string       `json:"ruleB"`
	Detail string       `json:"detail"`
}

// RuleStats summarizes a product's rule set for admin tooling.
type RuleStats struct {
	Total     int                       `json:"total"`
	Enabled   int                       `json:"enabled"`
	Disabled  int                       `json:"disabled"`
	ByType    map[RuleType]int          `json:"byType"`
	ByState   map[AvailabilityState]int `json:"byState"`
	Conflicts int                       `json:"conflicts"`
}
