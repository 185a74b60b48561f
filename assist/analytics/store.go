package analytics

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	// Pure-Go sqlite driver; no cgo.
	_ "modernc.org/sqlite"
)

// fallbackStore persists undelivered analytics events across restarts.
type fallbackStore struct {
	db *sql.DB
}

func openFallbackStore(path string) (*fallbackStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open fallback store")
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_event (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL,
			created_ts INTEGER NOT NULL
		)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate fallback store")
	}
	return &fallbackStore{db: db}, nil
}

func (s *fallbackStore) save(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO pending_event (payload, created_ts) VALUES (?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().Unix()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := stmt.Exec(string(payload), now); err != nil {
			return errors.Wrap(err, "insert pending event")
		}
	}
	return tx.Commit()
}

func (s *fallbackStore) load(limit int) ([]Event, []int64, error) {
	rows, err := s.db.Query(`SELECT id, payload FROM pending_event ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load pending events")
	}
	defer func() { _ = rows.Close() }()

	var (
		events []Event
		ids    []int64
	)
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, errors.Wrap(err, "scan pending event")
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			ids = append(ids, id) // broken row, let delivery prune it
			continue
		}
		events = append(events, ev)
		ids = append(ids, id)
	}
	return events, ids, rows.Err()
}

func (s *fallbackStore) delete(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`DELETE FROM pending_event WHERE id = ?`)
	if err != nil {
		return errors.Wrap(err, "prepare delete")
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return errors.Wrap(err, "delete pending event")
		}
	}
	return tx.Commit()
}

func (s *fallbackStore) close() {
	_ = s.db.Close()
}
