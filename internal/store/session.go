package store

import (
	"database/sql"
	"time"
)

// UpsertSession records the provider account's status. lastSyncedAt <= 0
// leaves the stored value untouched.
func (db *DB) UpsertSession(id, status string, lastSyncedAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sessions (id, status, last_synced_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_synced_at = CASE WHEN excluded.last_synced_at > 0 THEN excluded.last_synced_at ELSE sessions.last_synced_at END,
			updated_at = excluded.updated_at`,
		id, status, lastSyncedAt, now)
	return err
}

// GetSession returns a session row by id, or nil if absent.
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	err := db.QueryRow(`SELECT id, status, last_synced_at FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.Status, &s.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
