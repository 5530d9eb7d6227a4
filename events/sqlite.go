package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/GoCodeAlone/actionpipe/interfaces"
)

var _ interfaces.EventRecorder = (*SQLiteRecorder)(nil)

// SQLiteRecorder persists the event log in SQLite. Writes are serialized
// with a mutex to avoid SQLITE_BUSY under concurrent load.
type SQLiteRecorder struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteRecorder opens the database at path and creates the events table
// if it does not exist.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)

	r := &SQLiteRecorder{db: db}
	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRecorder) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatch_events (
		id            TEXT PRIMARY KEY,
		dispatch_id   TEXT NOT NULL,
		sequence_num  INTEGER NOT NULL,
		event_type    TEXT NOT NULL,
		event_data    TEXT,
		created_at    TEXT NOT NULL,
		UNIQUE(dispatch_id, sequence_num)
	);
	CREATE INDEX IF NOT EXISTS idx_dispatch_events_dispatch_id ON dispatch_events(dispatch_id);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("create dispatch_events table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func (r *SQLiteRecorder) RecordEvent(ctx context.Context, dispatchID, eventType string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence_num) FROM dispatch_events WHERE dispatch_id = ?`, dispatchID,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	seq := maxSeq.Int64 + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dispatch_events (id, dispatch_id, sequence_num, event_type, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), dispatchID, seq, eventType, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// Events returns the event log of a dispatch ordered by sequence number.
func (r *SQLiteRecorder) Events(ctx context.Context, dispatchID string) ([]RecordedEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, dispatch_id, sequence_num, event_type, event_data, created_at
		 FROM dispatch_events
		 WHERE dispatch_id = ?
		 ORDER BY sequence_num ASC`, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []RecordedEvent
	for rows.Next() {
		var ev RecordedEvent
		var dataStr, createdStr string
		if err := rows.Scan(&ev.ID, &ev.DispatchID, &ev.SequenceNum, &ev.EventType, &dataStr, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventData = json.RawMessage(dataStr)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Timeline materializes the view of one dispatch.
func (r *SQLiteRecorder) Timeline(ctx context.Context, dispatchID string) (*DispatchTimeline, error) {
	events, err := r.Events(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	t := materialize(events)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dispatchID)
	}
	return t, nil
}

// Timelines returns the views matching filter, most recent first.
func (r *SQLiteRecorder) Timelines(ctx context.Context, filter TimelineFilter) ([]DispatchTimeline, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT dispatch_id FROM dispatch_events`)
	if err != nil {
		return nil, fmt.Errorf("query dispatch ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan dispatch id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []DispatchTimeline
	for _, id := range ids {
		events, err := r.Events(ctx, id)
		if err != nil {
			return nil, err
		}
		if t := materialize(events); t != nil && filter.match(t) {
			results = append(results, *t)
		}
	}
	sortTimelines(results)
	if filter.Limit > 0 && filter.Limit < len(results) {
		results = results[:filter.Limit]
	}
	return results, nil
}
