package store

// Session tracks the provider account's connection state. One row per
// provider identity; updated on transitions, never deleted.
type Session struct {
	ID           string
	Status       string
	LastSyncedAt int64
}

// Chat is a synced conversation. Created and updated only via upsert:
// the same chat id can be observed from reconciliation and from message
// ingestion, and both paths must converge on one row.
type Chat struct {
	ID                 string
	Name               string
	IsGroup            bool
	Archived           bool
	Pinned             bool
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
}

// Message is a persisted message. Append-only; ID is the provider
// message id and the idempotency key.
type Message struct {
	ID          string
	ChatID      string
	FromMe      bool
	Body        string
	MediaRef    string
	MessageType string
	Ack         int
	Timestamp   int64
}
