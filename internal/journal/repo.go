package journal

import (
	"context"
	"fmt"
	"time"
)

// Outcome of a successful operation.
const OutcomeOK = "ok"

// Entry is one journaled operation.
type Entry struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	// Outcome is "ok" or a failure kind.
	Outcome  string        `json:"outcome"`
	Target   string        `json:"target,omitempty"`
	Checksum string        `json:"checksum,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Message  string        `json:"message,omitempty"`
	At       time.Time     `json:"at"`
}

// Record appends an entry.
func (db *DB) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO operations (id, op, outcome, target, checksum, duration_ms, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Op, e.Outcome, e.Target, e.Checksum, e.Duration.Milliseconds(), e.Message, e.At)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", e.Op, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return db.query(ctx, `
		SELECT id, op, outcome, target, checksum, duration_ms, message, created_at
		FROM operations ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

// ForTarget returns up to limit entries about one note or notebook,
// newest first.
func (db *DB) ForTarget(ctx context.Context, target string, limit int) ([]Entry, error) {
	return db.query(ctx, `
		SELECT id, op, outcome, target, checksum, duration_ms, message, created_at
		FROM operations WHERE target = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, target, limit)
}

// Prune deletes all but the newest keep entries.
func (db *DB) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM operations WHERE rowid NOT IN (
			SELECT rowid FROM operations ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Op, &e.Outcome, &e.Target, &e.Checksum, &ms, &e.Message, &e.At); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
