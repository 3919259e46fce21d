package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/meridianretail/availability/internal/logger"
	"github.com/meridianretail/availability/rules"
	"github.com/meridianretail/availability/schedule"
)

// Config binds the server's environment.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	Port            string        `env:"PORT" envDefault:"8080"`
	DefaultTimezone string        `env:"DEFAULT_TIMEZONE"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type Server struct {
	db        *sql.DB
	store     rules.RuleStore
	cache     rules.RulesCache
	scheduler *schedule.Scheduler
	router    *chi.Mux
}

func NewServer(cfg Config) (*Server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := rules.NewPostgresRuleStore(db)
	scheduleStore := schedule.NewPostgresStore(db)

	s := &Server{
		db:        db,
		store:     store,
		cache:     rules.NewInMemoryRulesCache(rules.DefaultCacheConfig()),
		scheduler: schedule.NewScheduler(store, scheduleStore, schedule.LogNotifier{}),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/evaluate", s.handleEvaluateBatch)
	r.Post("/api/v1/rules/bulk", s.handleBulk)

	r.Route("/api/v1/products/{productId}", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/conflicts", s.handleConflicts)
		r.Get("/upcoming", s.handleUpcoming)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{ruleId}", s.handleGetRule)
			r.Put("/{ruleId}", s.handleUpdateRule)
			r.Delete("/{ruleId}", s.handleDeleteRule)
		})
	})

	r.Route("/api/v1/schedule", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Post("/reschedule", s.handleReschedule)
		r.Delete("/cleanup", s.handleCleanup)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// productRules fetches a product's rule set through the cache.
func (s *Server) productRules(productID string) ([]*rules.Rule, error) {
	if cached := s.cache.Get(productID); cached != nil {
		return cached, nil
	}
	list, err := s.store.ListByProduct(productID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(productID, list)
	return list, nil
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var req EvaluateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	now := time.Now()
	if req.At != nil {
		now = *req.At
	}

	list, err := s.productRules(productID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load rules", err)
		return
	}

	respondJSON(w, http.StatusOK, rules.EvaluateProduct(productID, list, now))
}

func (s *Server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.ProductIDs) == 0 {
		respondError(w, http.StatusBadRequest, "productIds are required", nil)
		return
	}

	now := time.Now()
	if req.At != nil {
		now = *req.At
	}

	byProduct := make(map[string][]*rules.Rule, len(req.ProductIDs))
	for _, productID := range req.ProductIDs {
		list, err := s.productRules(productID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load rules", err)
			return
		}
		byProduct[productID] = list
	}

	respondJSON(w, http.StatusOK, BatchEvaluateResponse{
		Evaluations: rules.EvaluateMultipleProducts(byProduct, now),
		EvaluatedAt: now,
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	list, err := s.store.ListByProduct(productID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(productID)
	rule.ID = uuid.New().String()

	if result := rules.ValidateRule(rule, rules.ValidateOptions{ProductID: productID}); !result.Valid {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		logger.WarnHttp4xx()
		return
	}

	if err := s.store.Add(rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}
	if err := s.scheduler.ScheduleRuleChanges(rule, time.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to materialize schedule", err)
		return
	}
	s.cache.Invalidate(productID)

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.store.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	ruleID := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	existing, err := s.store.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	rule := req.toRule(productID)
	rule.ID = ruleID
	rule.CreatedAt = existing.CreatedAt
	rule.CreatedBy = existing.CreatedBy
	rule.UpdatedBy = req.UpdatedBy

	opts := rules.ValidateOptions{
		ProductID:           productID,
		SkipFutureDateCheck: req.SkipFutureDateCheck,
	}
	if result := rules.ValidateRule(rule, opts); !result.Valid {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		logger.WarnHttp4xx()
		return
	}

	if err := s.store.Update(rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}
	// Old entries are replaced wholesale: any temporal field may have changed.
	if err := s.scheduler.ScheduleRuleChanges(rule, time.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to rematerialize schedule", err)
		return
	}
	s.cache.Invalidate(productID)

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	ruleID := chi.URLParam(r, "ruleId")

	// The Postgres store cascades the schedule entry deletion in one
	// transaction; the explicit DeleteForRule covers every other store
	// composition and is a no-op when nothing is pending.
	if err := s.store.SoftDelete(ruleID); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}
	if err := s.scheduler.DeleteForRule(ruleID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete schedule entries", err)
		return
	}
	s.cache.Invalidate(productID)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req rules.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if result := rules.ValidateBulkRequest(&req); !result.Valid {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		logger.WarnHttp4xx()
		return
	}
	if req.Operation == rules.BulkCreate || req.Operation == rules.BulkUpdate {
		for _, rule := range req.Rules {
			// Create payloads are templates: their product is set per target,
			// so validate a copy against the first target product.
			cp := *rule
			if req.Operation == rules.BulkCreate && cp.ProductID == "" && len(req.ProductIDs) > 0 {
				cp.ProductID = req.ProductIDs[0]
			}
			if result := rules.ValidateRule(&cp, rules.ValidateOptions{}); !result.Valid {
				respondJSON(w, http.StatusUnprocessableEntity, result)
				logger.WarnHttp4xx()
				return
			}
		}
	}

	// All-or-nothing: one transaction, any failure aborts the whole batch.
	if err := s.store.BulkApply(&req); err != nil {
		respondError(w, http.StatusConflict, "bulk operation aborted", err)
		return
	}

	// Re-materialize every touched product and drop its cached rules.
	now := time.Now()
	for _, productID := range req.ProductIDs {
		s.cache.Invalidate(productID)
		list, err := s.store.ListByProduct(productID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to rematerialize schedules", err)
			return
		}
		for _, rule := range list {
			if err := s.scheduler.ScheduleRuleChanges(rule, now); err != nil {
				respondError(w, http.StatusInternalServerError, "failed to rematerialize schedules", err)
				return
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"operation": req.Operation,
		"products":  len(req.ProductIDs),
	})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	list, err := s.store.ListByProduct(productID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	conflicts := rules.DetectRuleConflicts(list)
	if conflicts == nil {
		conflicts = []rules.Conflict{}
	}
	respondJSON(w, http.StatusOK, ConflictsResponse{
		Conflicts: conflicts,
		Stats:     rules.ComputeRuleStats(list),
	})
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "days must be a positive integer", err)
			return
		}
		days = parsed
	}

	changes, err := s.scheduler.GetUpcomingChanges(productID, days, time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load upcoming changes", err)
		return
	}
	if changes == nil {
		changes = []*schedule.Entry{}
	}
	respondJSON(w, http.StatusOK, UpcomingResponse{ProductID: productID, Days: days, Changes: changes})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	processed, err := s.scheduler.ProcessPendingChanges(r.Context(), now)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process pending changes", err)
		return
	}
	respondJSON(w, http.StatusOK, ProcessResponse{Processed: processed, RanAt: now})
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	count, err := s.scheduler.RescheduleAllRules(time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reschedule rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"rescheduled": count})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := 90
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "days must be a positive integer", err)
			return
		}
		days = parsed
	}

	deleted, err := s.scheduler.CleanupOldSchedules(days, time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clean up schedules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if status >= 500 {
		logger.ErrorHttp5xx()
	} else {
		logger.WarnHttp4xx()
	}
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	if cfg.DefaultTimezone != "" {
		if err := rules.SetDefaultTimezone(cfg.DefaultTimezone); err != nil {
			logger.Fatal("invalid configuration", "error", err)
		}
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}
}
