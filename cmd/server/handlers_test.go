package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meridianretail/availability/rules"
	"github.com/meridianretail/availability/schedule"
)

// newTestServer wires the handlers against in-memory stores. The health
// endpoint needs a real database and is covered by the integration tests.
func newTestServer() (*Server, *schedule.InMemoryStore) {
	store := rules.NewInMemoryRuleStore()
	scheduleStore := schedule.NewInMemoryStore()
	s := &Server{
		store:     store,
		cache:     rules.NewInMemoryRulesCache(rules.DefaultCacheConfig()),
		scheduler: schedule.NewScheduler(store, scheduleStore, schedule.LogNotifier{}),
	}
	s.setupRoutes()
	return s, scheduleStore
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func preOrderPayload(priority int) CreateRuleRequest {
	start := time.Now().Add(24 * time.Hour).UTC()
	end := start.Add(30 * 24 * time.Hour)
	return CreateRuleRequest{
		Name:      "holiday pre-order",
		RuleType:  rules.TypeDateRange,
		State:     rules.StatePreOrder,
		Priority:  priority,
		Enabled:   true,
		StartDate: &start,
		EndDate:   &end,
		PreOrder:  &rules.PreOrderSettings{ExpectedDeliveryDate: &end},
	}
}

func TestCreateRule(t *testing.T) {
	s, scheduleStore := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/rules/", preOrderPayload(10))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	created := decode[rules.Rule](t, rec)
	if created.ID == "" {
		t.Error("created rule should get a generated ID")
	}
	if created.ProductID != "prod-1" {
		t.Errorf("ProductID = %s, want prod-1", created.ProductID)
	}

	// Creation materializes schedule entries.
	upcoming, err := scheduleStore.ListUpcoming("prod-1", time.Now(), time.Now().AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("ListUpcoming failed: %v", err)
	}
	if len(upcoming) != 2 {
		t.Errorf("expected 2 schedule entries after create, got %d", len(upcoming))
	}
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	s, _ := newTestServer()

	payload := preOrderPayload(10)
	payload.PreOrder = nil

	rec := doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/rules/", payload)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body)
	}
	result := decode[rules.ValidationResult](t, rec)
	if result.Valid || len(result.Errors) == 0 {
		t.Errorf("expected validation errors, got %+v", result)
	}
}

func TestGetRuleNotFound(t *testing.T) {
	s, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/api/v1/products/prod-1/rules/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateRulePreservesCreatedAt(t *testing.T) {
	s, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/rules/", preOrderPayload(10))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	created := decode[rules.Rule](t, rec)

	update := UpdateRuleRequest{CreateRuleRequest: preOrderPayload(20), UpdatedBy: "merch-team"}
	update.Name = "extended pre-order"
	rec = doJSON(t, s, http.MethodPut, "/api/v1/products/prod-1/rules/"+created.ID, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body)
	}
	updated := decode[rules.Rule](t, rec)

	if updated.Name != "extended pre-order" || updated.Priority != 20 {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.UpdatedBy != "merch-team" {
		t.Errorf("UpdatedBy = %s, want merch-team", updated.UpdatedBy)
	}

	stored, err := s.store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", created.CreatedAt, stored.CreatedAt)
	}
}

func TestDeleteRule(t *testing.T) {
	s, scheduleStore := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/rules/", preOrderPayload(10))
	created := decode[rules.Rule](t, rec)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/products/prod-1/rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}

	// Deleting a rule also drops its pending schedule entries, so the
	// processor never notifies for a dead rule.
	upcoming, err := scheduleStore.ListUpcoming("prod-1", time.Now(), time.Now().AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("ListUpcoming failed: %v", err)
	}
	if len(upcoming) != 0 {
		t.Errorf("deleted rule left %d pending schedule entries", len(upcoming))
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/products/prod-1/rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", rec.Code)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	s, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/rules/", preOrderPayload(10))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}

	// No applicable rule yet: the window starts tomorrow.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d: %s", rec.Code, rec.Body)
	}
	ev := decode[rules.Evaluation](t, rec)
	if ev.CurrentState != rules.StateAvailable {
		t.Errorf("CurrentState = %s, want AVAILABLE before the window", ev.CurrentState)
	}
	if ev.NextChange == nil {
		t.Error("expected a forecast next change")
	}

	// Pinning the instant inside the window flips the state.
	at := time.Now().Add(48 * time.Hour)
	rec = doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/evaluate", EvaluateRequest{At: &at})
	ev = decode[rules.Evaluation](t, rec)
	if ev.CurrentState != rules.StatePreOrder {
		t.Errorf("CurrentState = %s, want PRE_ORDER inside the window", ev.CurrentState)
	}
	if len(ev.AppliedRules) != 1 {
		t.Errorf("expected 1 applied rule, got %d", len(ev.AppliedRules))
	}
}

func TestBatchEvaluateEndpoint(t *testing.T) {
	s, _ := newTestServer()

	for i := 1; i <= 2; i++ {
		rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/products/prod-%d/rules/", i), preOrderPayload(10))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
		}
	}

	at := time.Now().Add(48 * time.Hour)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", BatchEvaluateRequest{
		ProductIDs: []string{"prod-1", "prod-2", "prod-3"},
		At:         &at,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[BatchEvaluateResponse](t, rec)
	if len(resp.Evaluations) != 3 {
		t.Fatalf("expected 3 evaluations, got %d", len(resp.Evaluations))
	}
	if resp.Evaluations["prod-1"].CurrentState != rules.StatePreOrder {
		t.Errorf("prod-1 state = %s, want PRE_ORDER", resp.Evaluations["prod-1"].CurrentState)
	}
	// A product with no rules evaluates to the default.
	if resp.Evaluations["prod-3"].CurrentState != rules.StateAvailable {
		t.Errorf("prod-3 state = %s, want AVAILABLE", resp.Evaluations["prod-3"].CurrentState)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/evaluate", BatchEvaluateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
}

func TestConflictsEndpoint(t *testing.T) {
	s, _ := newTestServer()

	for i := 0; i < 2; i++ {
		payload := preOrderPayload(10)
		payload.Name = fmt.Sprintf("clashing rule %d", i)
		rec := doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/rules/", payload)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
		}
	}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/products/prod-1/conflicts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("conflicts status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[ConflictsResponse](t, rec)
	if len(resp.Conflicts) == 0 {
		t.Error("expected a priority conflict to be reported")
	}
	if resp.Stats.Total != 2 {
		t.Errorf("Stats.Total = %d, want 2", resp.Stats.Total)
	}
}

func TestUpcomingEndpoint(t *testing.T) {
	s, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/products/prod-1/rules/", preOrderPayload(10))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/products/prod-1/upcoming?days=60", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("upcoming status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[UpcomingResponse](t, rec)
	if resp.Days != 60 || len(resp.Changes) != 2 {
		t.Errorf("upcoming = %d changes over %d days, want 2 over 60", len(resp.Changes), resp.Days)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/products/prod-1/upcoming?days=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad days status = %d, want 400", rec.Code)
	}
}

func TestProcessEndpoint(t *testing.T) {
	s, scheduleStore := newTestServer()

	// A due entry planted directly in the store.
	past := time.Now().Add(-time.Hour)
	entry := &schedule.Entry{
		ID:          "e1",
		RuleID:      "r1",
		ProductID:   "prod-1",
		ScheduledAt: past,
		Label:       "activate_PRE_ORDER",
		TargetState: rules.StatePreOrder,
	}
	if err := scheduleStore.ReplaceForRule("r1", []*schedule.Entry{entry}); err != nil {
		t.Fatalf("ReplaceForRule failed: %v", err)
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/schedule/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("process status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[ProcessResponse](t, rec)
	if resp.Processed != 1 {
		t.Errorf("Processed = %d, want 1", resp.Processed)
	}
}

func TestBulkEndpointRejectsOversizedBatch(t *testing.T) {
	s, _ := newTestServer()

	ids := make([]string, rules.MaxBulkProducts+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("prod-%d", i)
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/bulk", rules.BulkRequest{
		ProductIDs: ids,
		Operation:  rules.BulkDelete,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestBulkEndpointCreate(t *testing.T) {
	s, _ := newTestServer()

	payload := preOrderPayload(10)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/bulk", rules.BulkRequest{
		ProductIDs: []string{"prod-1", "prod-2"},
		Operation:  rules.BulkCreate,
		Rules:      []*rules.Rule{payload.toRule("")},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk status = %d: %s", rec.Code, rec.Body)
	}

	for _, productID := range []string{"prod-1", "prod-2"} {
		list, err := s.store.ListByProduct(productID)
		if err != nil {
			t.Fatalf("ListByProduct failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("product %s: expected 1 rule, got %d", productID, len(list))
		}
	}
}
