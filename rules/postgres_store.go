package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Config blocks
// are stored as JSONB columns; soft-deleted rows are filtered in every read.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, product_id, name, rule_type, state, priority, enabled,
	start_date, end_date, seasonal, time_window, pre_order, view_only, custom,
	deleted_at, created_by, updated_by, created_at, updated_at`

// Add inserts a new rule.
func (s *PostgresRuleStore) Add(rule *Rule) error {
	return s.add(s.db, rule)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *PostgresRuleStore) add(ex execer, rule *Rule) error {
	var exists bool
	err := ex.QueryRow(`SELECT EXISTS(SELECT 1 FROM availability_rules WHERE id = $1)`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	seasonal, timeWindow, preOrder, viewOnly, custom, err := marshalConfigs(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = ex.Exec(`
		INSERT INTO availability_rules
			(id, product_id, name, rule_type, state, priority, enabled,
			 start_date, end_date, seasonal, time_window, pre_order, view_only, custom,
			 created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, rule.ID, rule.ProductID, rule.Name, rule.Type, rule.State, rule.Priority, rule.Enabled,
		rule.StartDate, rule.EndDate, seasonal, timeWindow, preOrder, viewOnly, custom,
		rule.CreatedBy, rule.UpdatedBy, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID. Soft-deleted rules are not found.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListByProduct returns all non-deleted rules owned by a product, priority
// descending.
func (s *PostgresRuleStore) ListByProduct(productID string) ([]*Rule, error) {
	return s.list(`
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE product_id = $1 AND deleted_at IS NULL
		ORDER BY priority DESC, created_at ASC
	`, productID)
}

// ListEnabled returns every enabled, non-deleted rule.
func (s *PostgresRuleStore) ListEnabled() ([]*Rule, error) {
	return s.list(`
		SELECT ` + ruleColumns + `
		FROM availability_rules
		WHERE enabled = true AND deleted_at IS NULL
		ORDER BY product_id, priority DESC, created_at ASC
	`)
}

func (s *PostgresRuleStore) list(query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	return s.update(s.db, rule)
}

func (s *PostgresRuleStore) update(ex execer, rule *Rule) error {
	seasonal, timeWindow, preOrder, viewOnly, custom, err := marshalConfigs(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := ex.Exec(`
		UPDATE availability_rules
		SET name = $1, rule_type = $2, state = $3, priority = $4, enabled = $5,
			start_date = $6, end_date = $7, seasonal = $8, time_window = $9,
			pre_order = $10, view_only = $11, custom = $12,
			updated_by = $13, updated_at = $14
		WHERE id = $15 AND deleted_at IS NULL
	`, rule.Name, rule.Type, rule.State, rule.Priority, rule.Enabled,
		rule.StartDate, rule.EndDate, seasonal, timeWindow, preOrder, viewOnly, custom,
		rule.UpdatedBy, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rule.ID)
	}
	return nil
}

// SoftDelete marks a rule deleted and cascade-deletes its pending schedule
// entries in the same transaction, so no reader observes a deleted rule
// with live schedule entries.
func (s *PostgresRuleStore) SoftDelete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := softDeleteTx(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func softDeleteTx(ex execer, id string) error {
	result, err := ex.Exec(`
		UPDATE availability_rules
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if _, err := ex.Exec(`DELETE FROM schedule_entries WHERE rule_id = $1 AND processed = false`, id); err != nil {
		return fmt.Errorf("failed to cascade schedule deletion: %w", err)
	}
	return nil
}

// BulkApply runs one authoring operation over many products inside a single
// transaction: any one failure rolls back the whole batch.
func (s *PostgresRuleStore) BulkApply(req *BulkRequest) error {
	if result := ValidateBulkRequest(req); !result.Valid {
		return fmt.Errorf("invalid bulk request: %v", result.Errors)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	switch req.Operation {
	case BulkCreate:
		for _, productID := range req.ProductIDs {
			for _, tmpl := range req.Rules {
				r := *tmpl
				r.ID = uuid.New().String()
				r.ProductID = productID
				if err := s.add(tx, &r); err != nil {
					return fmt.Errorf("bulk create aborted: %w", err)
				}
			}
		}
	case BulkUpdate:
		for _, r := range req.Rules {
			if err := s.update(tx, r); err != nil {
				return fmt.Errorf("bulk update aborted: %w", err)
			}
		}
	case BulkDelete:
		for _, productID := range req.ProductIDs {
			ids, err := productRuleIDs(tx, productID)
			if err != nil {
				return fmt.Errorf("bulk delete aborted: %w", err)
			}
			for _, id := range ids {
				if err := softDeleteTx(tx, id); err != nil {
					return fmt.Errorf("bulk delete aborted: %w", err)
				}
			}
		}
	}

	return tx.Commit()
}

func productRuleIDs(tx *sql.Tx, productID string) ([]string, error) {
	rows, err := tx.Query(`
		SELECT id FROM availability_rules
		WHERE product_id = $1 AND deleted_at IS NULL
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalConfigs(rule *Rule) (seasonal, timeWindow, preOrder, viewOnly, custom []byte, err error) {
	if rule.Seasonal != nil {
		if seasonal, err = json.Marshal(rule.Seasonal); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal seasonal window: %w", err)
		}
	}
	if rule.TimeWindow != nil {
		if timeWindow, err = json.Marshal(rule.TimeWindow); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal time window: %w", err)
		}
	}
	if rule.PreOrder != nil {
		if preOrder, err = json.Marshal(rule.PreOrder); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal pre-order settings: %w", err)
		}
	}
	if rule.ViewOnly != nil {
		if viewOnly, err = json.Marshal(rule.ViewOnly); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal view-only settings: %w", err)
		}
	}
	if rule.Custom != nil {
		if custom, err = json.Marshal(rule.Custom); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal custom settings: %w", err)
		}
	}
	return seasonal, timeWindow, preOrder, viewOnly, custom, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var seasonal, timeWindow, preOrder, viewOnly, custom []byte
	var createdBy, updatedBy sql.NullString

	err := row.Scan(
		&r.ID, &r.ProductID, &r.Name, &r.Type, &r.State, &r.Priority, &r.Enabled,
		&r.StartDate, &r.EndDate, &seasonal, &timeWindow, &preOrder, &viewOnly, &custom,
		&r.DeletedAt, &createdBy, &updatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedBy = createdBy.String
	r.UpdatedBy = updatedBy.String

	if seasonal != nil {
		r.Seasonal = &SeasonalWindow{}
		if err := json.Unmarshal(seasonal, r.Seasonal); err != nil {
			return nil, fmt.Errorf("invalid seasonal window for rule %s: %w", r.ID, err)
		}
	}
	if timeWindow != nil {
		r.TimeWindow = &TimeWindow{}
		if err := json.Unmarshal(timeWindow, r.TimeWindow); err != nil {
			return nil, fmt.Errorf("invalid time window for rule %s: %w", r.ID, err)
		}
	}
	if preOrder != nil {
		r.PreOrder = &PreOrderSettings{}
		if err := json.Unmarshal(preOrder, r.PreOrder); err != nil {
			return nil, fmt.Errorf("invalid pre-order settings for rule %s: %w", r.ID, err)
		}
	}
	if viewOnly != nil {
		r.ViewOnly = &ViewOnlySettings{}
		if err := json.Unmarshal(viewOnly, r.ViewOnly); err != nil {
			return nil, fmt.Errorf("invalid view-only settings for rule %s: %w", r.ID, err)
		}
	}
	if custom != nil {
		r.Custom = &CustomSettings{}
		if err := json.Unmarshal(custom, r.Custom); err != nil {
			return nil, fmt.Errorf("invalid custom settings for rule %s: %w", r.ID, err)
		}
	}

	return &r, nil
}
