// Package journal persists a diagnostics trail of transfer buffer lifecycle
// events and latched faults, so an operator can reconstruct how a context was
// lost after the fact. It is advisory: journal failures are logged and never
// fail a service operation.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Buffer lifecycle actions.
const (
	ActionCreated    = "created"
	ActionRegistered = "registered"
	ActionDestroyed  = "destroyed"
)

// Fault kinds.
const (
	KindParseError  = "parse_error"
	KindContextLost = "context_lost"
)

// BufferEvent is one registry lifecycle row.
type BufferEvent struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	BufferID   int32     `json:"buffer_id"`
	Size       int       `json:"size"`
	Shared     bool      `json:"shared"`
	TotalBytes int64     `json:"total_bytes"`
	At         time.Time `json:"at"`
}

// Fault is one latched failure row, with the offsets and token at latch time.
type Fault struct {
	ID    string    `json:"id"`
	Kind  string    `json:"kind"`
	Code  int32     `json:"code"`
	Put   int32     `json:"put"`
	Get   int32     `json:"get"`
	Token int32     `json:"token"`
	At    time.Time `json:"at"`
}

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// RecordBufferEvent appends a buffer lifecycle row.
func (j *Journal) RecordBufferEvent(ctx context.Context, ev BufferEvent) error {
	if ev.Action == "" {
		return fmt.Errorf("action is empty")
	}

	shared := 0
	if ev.Shared {
		shared = 1
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO buffer_log(id, action, buffer_id, size, shared, total_bytes, at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), ev.Action, ev.BufferID, ev.Size, shared, ev.TotalBytes,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record buffer event: %w", err)
	}
	return nil
}

// RecordFault appends a fault row.
func (j *Journal) RecordFault(ctx context.Context, f Fault) error {
	if f.Kind != KindParseError && f.Kind != KindContextLost {
		return fmt.Errorf("invalid fault kind: %q", f.Kind)
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO fault_log(id, kind, code, put, get_, token, at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), f.Kind, f.Code, f.Put, f.Get, f.Token,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record fault: %w", err)
	}
	return nil
}

// RecentBufferEvents returns up to limit rows, newest first.
func (j *Journal) RecentBufferEvents(ctx context.Context, limit int) ([]BufferEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, action, buffer_id, size, shared, total_bytes, at
FROM buffer_log
ORDER BY at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list buffer events: %w", err)
	}
	defer rows.Close()

	var out []BufferEvent
	for rows.Next() {
		var (
			ev     BufferEvent
			shared int
			atS    string
		)
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.BufferID, &ev.Size, &shared, &ev.TotalBytes, &atS); err != nil {
			return nil, fmt.Errorf("scan buffer event: %w", err)
		}
		ev.Shared = shared != 0
		if t, err := time.Parse(time.RFC3339Nano, atS); err == nil {
			ev.At = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecentFaults returns up to limit rows, newest first.
func (j *Journal) RecentFaults(ctx context.Context, limit int) ([]Fault, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, kind, code, put, get_, token, at
FROM fault_log
ORDER BY at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list faults: %w", err)
	}
	defer rows.Close()

	var out []Fault
	for rows.Next() {
		var (
			f   Fault
			atS string
		)
		if err := rows.Scan(&f.ID, &f.Kind, &f.Code, &f.Put, &f.Get, &f.Token, &atS); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, atS); err == nil {
			f.At = t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
