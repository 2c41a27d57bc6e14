package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"water_monitor/internal/models"

	"github.com/google/uuid"
)

const (
	sqliteTimestamp = "2006-01-02 15:04:05"
	// journalTimestamp is fixed width so text order is time order even for
	// commands issued within the same second.
	journalTimestamp = "2006-01-02 15:04:05.000"

	insertJournalSQL = `INSERT INTO command_events (id, occurred_at, type, description, metadata) VALUES (?, ?, ?, ?, ?)`
	selectJournalSQL = `SELECT id, occurred_at, type, description, metadata FROM command_events`
)

// EventSQLite stores the command journal in command_events.
type EventSQLite struct {
	db *sql.DB
}

func NewEventSQLite(db *sql.DB) *EventSQLite { return &EventSQLite{db: db} }

// Append writes one entry. A missing id or time is filled in.
func (r *EventSQLite) Append(ctx context.Context, e models.CommandEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("journal %s metadata: %w", e.EventID, err)
	}
	if _, err := r.db.ExecContext(ctx, insertJournalSQL,
		e.EventID,
		e.OccurredAt.UTC().Format(journalTimestamp),
		e.Type,
		e.Description,
		meta,
	); err != nil {
		return fmt.Errorf("insert journal entry %s: %w", e.EventID, err)
	}
	return nil
}

// List returns entries with from <= occurred_at <= to, oldest first. Zero
// bounds and an empty type are not applied.
func (r *EventSQLite) List(ctx context.Context, from, to time.Time, typ string) ([]models.CommandEvent, error) {
	q, args := journalQuery(from, to, typ)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select journal: %w", err)
	}
	defer rows.Close()

	out := []models.CommandEvent{}
	for rows.Next() {
		var (
			ev   models.CommandEvent
			at   string
			meta sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &at, &ev.Type, &ev.Description, &meta); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if ev.OccurredAt, err = time.ParseInLocation(journalTimestamp, at, time.UTC); err != nil {
			return nil, fmt.Errorf("journal entry %s time %q: %w", ev.EventID, at, err)
		}
		ev.Metadata = decodeMetadata(meta)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func journalQuery(from, to time.Time, typ string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, from.UTC().Format(journalTimestamp))
	}
	if !to.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, to.UTC().Format(journalTimestamp))
	}
	if typ != "" {
		where = append(where, "type = ?")
		args = append(args, typ)
	}
	q := selectJournalSQL
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	return q + " ORDER BY occurred_at, rowid", args
}

func encodeMetadata(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// decodeMetadata keeps a value that is not valid JSON as the raw string.
func decodeMetadata(ns sql.NullString) any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return ns.String
	}
	return v
}
