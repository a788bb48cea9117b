// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// sqliteBusyTimeout bounds writer contention on the trail.
const sqliteBusyTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT NOT NULL,
	type        TEXT NOT NULL,
	actor       TEXT NOT NULL,
	resource    TEXT NOT NULL,
	result      TEXT NOT NULL,
	remote_addr TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_events_ts ON audit_events (ts);
`

// SQLiteTrail is the durable, insert-only audit trail.
type SQLiteTrail struct {
	db *sql.DB
}

// OpenSQLiteTrail opens (or creates) the audit database at path. The DSN
// carries the mandatory PRAGMAs so they apply to every pooled connection.
func OpenSQLiteTrail(path string) (*SQLiteTrail, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, sqliteBusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer, insert-only workload
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLiteTrail{db: db}, nil
}

func (t *SQLiteTrail) Append(ctx context.Context, e Event) error {
	details := "{}"
	if len(e.Details) > 0 {
		buf, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
		details = string(buf)
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO audit_events (ts, type, actor, resource, result, remote_addr, request_id, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Type), e.Actor, e.Resource, e.Result,
		e.RemoteAddr, e.RequestID, details,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func (t *SQLiteTrail) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT ts, type, actor, resource, result, remote_addr, request_id, details
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			ts      string
			typ     string
			details string
		)
		if err := rows.Scan(&ts, &typ, &e.Actor, &e.Resource, &e.Result, &e.RemoteAddr, &e.RequestID, &details); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = EventType(typ)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (t *SQLiteTrail) Close() error { return t.db.Close() }

// Compile-time interface check.
var _ Trail = (*SQLiteTrail)(nil)
