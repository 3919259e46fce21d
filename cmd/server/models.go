package main

import (
	"time"

	"github.com/meridianretail/availability/rules"
	"github.com/meridianretail/availability/schedule"
)

// API request and response models.

// EvaluateRequest asks for an evaluation at an optional instant; a zero At
// means now.
type EvaluateRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// BatchEvaluateRequest evaluates many products at one instant.
type BatchEvaluateRequest struct {
	ProductIDs []string   `json:"productIds"`
	At         *time.Time `json:"at,omitempty"`
}

// BatchEvaluateResponse maps product IDs to their evaluations.
type BatchEvaluateResponse struct {
	Evaluations map[string]*rules.Evaluation `json:"evaluations"`
	EvaluatedAt time.Time                    `json:"evaluatedAt"`
}

// CreateRuleRequest is the authoring payload for a new rule.
type CreateRuleRequest struct {
	Name      string                  `json:"name"`
	RuleType  rules.RuleType          `json:"ruleType"`
	State     rules.AvailabilityState `json:"state"`
	Priority  int                     `json:"priority"`
	Enabled   bool                    `json:"enabled"`
	StartDate *time.Time              `json:"startDate,omitempty"`
	EndDate   *time.Time              `json:"endDate,omitempty"`
	Seasonal  *rules.SeasonalWindow   `json:"seasonal,omitempty"`
	Time      *rules.TimeWindow       `json:"timeWindow,omitempty"`
	PreOrder  *rules.PreOrderSettings `json:"preOrder,omitempty"`
	ViewOnly  *rules.ViewOnlySettings `json:"viewOnly,omitempty"`
	Custom    *rules.CustomSettings   `json:"custom,omitempty"`
	CreatedBy string                  `json:"createdBy,omitempty"`
}

// UpdateRuleRequest is the authoring payload for editing a rule.
// SkipFutureDateCheck lets an author toggle enablement of an existing
// pre-order rule without re-validating its original delivery date.
type UpdateRuleRequest struct {
	CreateRuleRequest
	UpdatedBy           string `json:"updatedBy,omitempty"`
	SkipFutureDateCheck bool   `json:"skipFutureDateCheck,omitempty"`
}

func (req *CreateRuleRequest) toRule(productID string) *rules.Rule {
	return &rules.Rule{
		ProductID:  productID,
		Name:       req.Name,
		Type:       req.RuleType,
		State:      req.State,
		Priority:   req.Priority,
		Enabled:    req.Enabled,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Seasonal:   req.Seasonal,
		TimeWindow: req.Time,
		PreOrder:   req.PreOrder,
		ViewOnly:   req.ViewOnly,
		Custom:     req.Custom,
		CreatedBy:  req.CreatedBy,
	}
}

// ConflictsResponse reports pairwise conflicts plus rule set statistics for
// admin tooling.
type ConflictsResponse struct {
	Conflicts []rules.Conflict `json:"conflicts"`
	Stats     rules.RuleStats  `json:"stats"`
}

// UpcomingResponse lists a product's materialized future transitions.
type UpcomingResponse struct {
	ProductID string            `json:"productId"`
	Days      int               `json:"days"`
	Changes   []*schedule.Entry `json:"changes"`
}

// ProcessResponse reports a processor batch outcome.
type ProcessResponse struct {
	Processed int       `json:"processed"`
	RanAt     time.Time `json:"ranAt"`
}
