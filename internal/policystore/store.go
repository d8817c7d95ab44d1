// Package policystore persists per-model, per-priority queue.ModelQueuePolicy
// rows and an audit trail of rejected payloads in SQLite, the same
// migrate/upsert/list shape the teacher used for its API-key and user
// tables, now serving admission policy instead of auth records.
package policystore

import (
	"context"
	"database/sql"
	"time"

	"github.com/kestrun/inferqueue/internal/queue"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS model_queue_policies (
  model_id TEXT NOT NULL,
  priority_level INTEGER NOT NULL,
  timeout_action INTEGER NOT NULL DEFAULT 0,
  default_timeout_us INTEGER NOT NULL DEFAULT 0,
  allow_timeout_override INTEGER NOT NULL DEFAULT 0,
  max_queue_size INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (model_id, priority_level)
);

CREATE TABLE IF NOT EXISTS rejections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  model_id TEXT NOT NULL,
  priority_level INTEGER NOT NULL,
  correlation_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  at_unix_nano INTEGER NOT NULL
);
`)
	return err
}

// UpsertPolicy stores or replaces the policy for (ModelID, PriorityLevel).
func (s *Store) UpsertPolicy(ctx context.Context, r PolicyRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO model_queue_policies(model_id, priority_level, timeout_action, default_timeout_us, allow_timeout_override, max_queue_size)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(model_id, priority_level) DO UPDATE SET
  timeout_action=excluded.timeout_action,
  default_timeout_us=excluded.default_timeout_us,
  allow_timeout_override=excluded.allow_timeout_override,
  max_queue_size=excluded.max_queue_size;
`, r.ModelID, r.PriorityLevel, int(r.TimeoutAction), r.DefaultTimeoutUS, boolToInt(r.AllowTimeoutOverride), r.MaxQueueSize)
	return err
}

// GetPolicy fetches the policy for (modelID, priorityLevel), if present.
func (s *Store) GetPolicy(ctx context.Context, modelID string, priorityLevel uint32) (PolicyRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT model_id, priority_level, timeout_action, default_timeout_us, allow_timeout_override, max_queue_size
FROM model_queue_policies WHERE model_id=? AND priority_level=?;
`, modelID, priorityLevel)

	var r PolicyRecord
	var action int
	var overrideInt int
	err := row.Scan(&r.ModelID, &r.PriorityLevel, &action, &r.DefaultTimeoutUS, &overrideInt, &r.MaxQueueSize)
	if err == sql.ErrNoRows {
		return PolicyRecord{}, false, nil
	}
	if err != nil {
		return PolicyRecord{}, false, err
	}
	r.TimeoutAction = queue.TimeoutAction(action)
	r.AllowTimeoutOverride = overrideInt != 0
	return r, true, nil
}

// ListPolicies returns every stored policy for modelID, ordered by
// priority level.
func (s *Store) ListPolicies(ctx context.Context, modelID string) ([]PolicyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT model_id, priority_level, timeout_action, default_timeout_us, allow_timeout_override, max_queue_size
FROM model_queue_policies WHERE model_id=? ORDER BY priority_level ASC;
`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PolicyRecord
	for rows.Next() {
		var r PolicyRecord
		var action int
		var overrideInt int
		if err := rows.Scan(&r.ModelID, &r.PriorityLevel, &action, &r.DefaultTimeoutUS, &overrideInt, &r.MaxQueueSize); err != nil {
			return nil, err
		}
		r.TimeoutAction = queue.TimeoutAction(action)
		r.AllowTimeoutOverride = overrideInt != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeletePolicy removes the stored policy for (modelID, priorityLevel).
func (s *Store) DeletePolicy(ctx context.Context, modelID string, priorityLevel uint32) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM model_queue_policies WHERE model_id=? AND priority_level=?;", modelID, priorityLevel)
	return err
}

// RecordRejection appends one row to the audit ledger.
func (s *Store) RecordRejection(ctx context.Context, r RejectionRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rejections(model_id, priority_level, correlation_id, reason, at_unix_nano)
VALUES(?, ?, ?, ?, ?);
`, r.ModelID, r.PriorityLevel, r.CorrelationID, string(r.Reason), r.AtUnixNano)
	return err
}

// ListRejections returns the most recent rejections for modelID, newest
// first, capped at limit rows.
func (s *Store) ListRejections(ctx context.Context, modelID string, limit int) ([]RejectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT model_id, priority_level, correlation_id, reason, at_unix_nano
FROM rejections WHERE model_id=? ORDER BY at_unix_nano DESC LIMIT ?;
`, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RejectionRecord
	for rows.Next() {
		var r RejectionRecord
		var reason string
		if err := rows.Scan(&r.ModelID, &r.PriorityLevel, &r.CorrelationID, &reason, &r.AtUnixNano); err != nil {
			return nil, err
		}
		r.Reason = RejectionReason(reason)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
