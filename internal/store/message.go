package store

import (
	"database/sql"
	"time"
)

// CreateMessage inserts a message keyed by its provider id. Returns
// false when a row with that id already exists: re-delivery is a no-op,
// never a duplicate row and never an error.
func (db *DB) CreateMessage(m *Message) (bool, error) {
	var inserted bool
	err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		inserted, err = CreateMessageTx(tx, m)
		return err
	})
	return inserted, err
}

// CreateMessageTx is CreateMessage inside an existing transaction.
// First write wins: a second payload under the same id is ignored.
func CreateMessageTx(tx *sql.Tx, m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		INSERT INTO messages (id, chat_id, from_me, body, media_ref, message_type, ack, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ChatID, m.FromMe, m.Body, m.MediaRef, m.MessageType, m.Ack, m.Timestamp, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMessagesAsc returns all messages for a chat ordered ascending by
// timestamp, the display order for history.
func (db *DB) ListMessagesAsc(chatID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, from_me, body, media_ref, message_type, ack, timestamp
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC, created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.FromMe, &m.Body, &m.MediaRef, &m.MessageType, &m.Ack, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of stored messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
