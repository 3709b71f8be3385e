// Package store provides the SQLite-backed event journal used when the
// engine is configured for a durable blackboard log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	_ "modernc.org/sqlite"
)

// SQLiteJournal implements bus.Journal on a local SQLite file.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}
	j := &SQLiteJournal{db: db}
	if err := j.init(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) init() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		topic TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		body JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);`)
	if err != nil {
		return fmt.Errorf("failed to init journal schema: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Append(ev bus.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
	}
	_, err = j.db.Exec(
		"INSERT INTO events (id, topic, created_at, body) VALUES (?, ?, ?, ?)",
		ev.ID, string(ev.Topic), ev.CreatedAt.UnixMilli(), body,
	)
	return err
}

func (j *SQLiteJournal) Range(from, to time.Time, fn func(bus.Event) bool) error {
	rows, err := j.db.Query(
		"SELECT body FROM events WHERE created_at >= ? AND created_at < ? ORDER BY seq",
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return err
		}
		var ev bus.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			continue
		}
		if !fn(ev) {
			return nil
		}
	}
	return rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
