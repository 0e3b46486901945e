// Package audit implements an append-only SQLite event ledger for a
// run: job lifecycle events plus the final SharedStore key snapshot.
// It is explicitly NOT a recovery mechanism — spec.md's Non-goals rule
// out persistent state across runs, so this package never reads its
// own history back into a live run. Grounded on
// hdrp/internal/storage/storage.go + wal.go, trimmed to the
// append-only subset (no snapshot/recovery/replay machinery).
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// EventType names the kinds of events recorded for a run.
type EventType string

const (
	EventRunStart       EventType = "RUN_START"
	EventRunEnd         EventType = "RUN_END"
	EventJobDispatched  EventType = "JOB_DISPATCHED"
	EventJobCompleted   EventType = "JOB_COMPLETED"
	EventJobErrored     EventType = "JOB_ERRORED"
	EventStoreSnapshot  EventType = "STORE_SNAPSHOT"
)

// Ledger is an append-only SQLite-backed event log for one or more runs.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			operator_id TEXT,
			payload TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: migrating schema: %w", err)
	}
	return nil
}

// Append records one event. payload is marshaled to JSON; pass nil
// for events with no payload.
func (l *Ledger) Append(runID string, eventType EventType, operatorID string, payload any) error {
	var payloadJSON []byte
	var err error
	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("audit: encoding payload: %w", err)
		}
	}

	_, err = l.db.Exec(`
		INSERT INTO run_events (run_id, event_type, operator_id, payload)
		VALUES (?, ?, ?, ?)
	`, runID, string(eventType), operatorID, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("audit: appending event: %w", err)
	}
	return nil
}

// Event is one row read back from the ledger, used by operators and
// CLI tooling that inspect a completed run's history.
type Event struct {
	ID         int64
	RunID      string
	EventType  EventType
	OperatorID sql.NullString
	Payload    sql.NullString
}

// EventsForRun returns every event recorded for runID in insertion order.
func (l *Ledger) EventsForRun(runID string) ([]Event, error) {
	rows, err := l.db.Query(`
		SELECT id, run_id, event_type, operator_id, payload
		FROM run_events WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.EventType, &e.OperatorID, &e.Payload); err != nil {
			return nil, fmt.Errorf("audit: scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
