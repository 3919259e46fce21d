package schedule

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL. ReplaceForRule wraps
// its delete+insert in one transaction so readers never see the transient
// empty set.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed schedule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, rule_id, product_id, scheduled_at, label, target_state,
	processed, processed_at, error_message, created_at`

// ReplaceForRule atomically swaps a rule's unprocessed entries.
func (s *PostgresStore) ReplaceForRule(ruleID string, entries []*Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_entries WHERE rule_id = $1 AND processed = false`, ruleID); err != nil {
		return fmt.Errorf("failed to delete old entries: %w", err)
	}

	for _, e := range entries {
		_, err := tx.Exec(`
			INSERT INTO schedule_entries
				(id, rule_id, product_id, scheduled_at, label, target_state, processed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, false, $7)
		`, e.ID, e.RuleID, e.ProductID, e.ScheduledAt, e.Label, e.TargetState, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteForRule removes all unprocessed entries owned by a rule.
func (s *PostgresStore) DeleteForRule(ruleID string) error {
	if _, err := s.db.Exec(`DELETE FROM schedule_entries WHERE rule_id = $1 AND processed = false`, ruleID); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	return nil
}

// ListDue returns unprocessed entries due at or before now, ascending by
// scheduled instant.
func (s *PostgresStore) ListDue(now time.Time) ([]*Entry, error) {
	return s.list(`
		SELECT `+entryColumns+`
		FROM schedule_entries
		WHERE processed = false AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`, now)
}

// MarkProcessed flags an entry processed, recording any notification error.
func (s *PostgresStore) MarkProcessed(id string, at time.Time, errorMessage string) error {
	var msg any
	if errorMessage != "" {
		msg = errorMessage
	}
	result, err := s.db.Exec(`
		UPDATE schedule_entries
		SET processed = true, processed_at = $1, error_message = $2
		WHERE id = $3
	`, at, msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteProcessedBefore removes processed entries older than the cutoff.
func (s *PostgresStore) DeleteProcessedBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM schedule_entries
		WHERE processed = true AND processed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// ListUpcoming returns a product's unprocessed entries in (from, to], ascending.
func (s *PostgresStore) ListUpcoming(productID string, from, to time.Time) ([]*Entry, error) {
	return s.list(`
		SELECT `+entryColumns+`
		FROM schedule_entries
		WHERE product_id = $1 AND processed = false
			AND scheduled_at > $2 AND scheduled_at <= $3
		ORDER BY scheduled_at ASC
	`, productID, from, to)
}

func (s *PostgresStore) list(query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RuleID, &e.ProductID, &e.ScheduledAt, &e.Label,
			&e.TargetState, &e.Processed, &e.ProcessedAt, &errMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.ErrorMessage = errMsg.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return out, nil
}
