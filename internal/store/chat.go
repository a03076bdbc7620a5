package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat record from reconciliation.
// An empty incoming name never erases a known one, and last_message_at
// only moves forward, so reconciliation cannot regress recency learned
// from message ingestion.
func (db *DB) UpsertChat(c *Chat) error {
	return db.WithTx(func(tx *sql.Tx) error {
		return UpsertChatTx(tx, c)
	})
}

// UpsertChatTx is UpsertChat inside an existing transaction.
func UpsertChatTx(tx *sql.Tx, c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO chats (id, name, is_group, archived, pinned, last_message_at, last_message_preview, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name,''), chats.name),
			is_group = excluded.is_group,
			archived = excluded.archived,
			pinned = excluded.pinned,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			last_message_preview = COALESCE(NULLIF(excluded.last_message_preview,''), chats.last_message_preview),
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.IsGroup, c.Archived, c.Pinned, c.LastMessageAt, c.LastMessagePreview, c.UnreadCount, now)
	return err
}

// EnsureChatTx guarantees a chat row exists for an incoming message,
// without touching flags owned by reconciliation. The name is only
// filled in when the stored one is empty (a brand-new chat first seen
// through a message), and the preview only advances with recency.
func EnsureChatTx(tx *sql.Tx, id, name string, isGroup bool, lastMessageAt int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO chats (id, name, is_group, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN chats.name = '' THEN excluded.name ELSE chats.name END,
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at
				THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		id, name, isGroup, lastMessageAt, preview, now)
	return err
}

// ListChats returns all chats sorted by last message timestamp descending.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT id, name, is_group, archived, pinned, last_message_at, last_message_preview, unread_count
		FROM chats
		ORDER BY last_message_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.Archived, &c.Pinned, &c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil if absent.
func (db *DB) GetChat(id string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, name, is_group, archived, pinned, last_message_at, last_message_preview, unread_count
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.IsGroup, &c.Archived, &c.Pinned, &c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatCount returns the number of stored chats.
func (db *DB) ChatCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}
