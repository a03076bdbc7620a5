// Package provider abstracts the external messaging collaborator: a
// typed event stream plus the command primitives the bridge consumes.
// The production implementation wraps whatsmeow; tests script a fake.
package provider

import "context"

// EventType enumerates the provider's event stream.
type EventType string

const (
	EventQR            EventType = "qr"
	EventAuthenticated EventType = "authenticated"
	EventReady         EventType = "ready"
	EventMessage       EventType = "message"
	EventDisconnected  EventType = "disconnected"
	EventAuthFailure   EventType = "auth_failure"
	EventStateChange   EventType = "state_change"
)

// Event is one provider event. Exactly the fields relevant to the type
// are set: QR for EventQR, Message for EventMessage, Reason for
// disconnect/auth failure, State for EventStateChange.
type Event struct {
	Type    EventType
	QR      string
	Message *IncomingMessage
	Reason  string
	State   string
}

// IncomingMessage is a normalized provider message.
type IncomingMessage struct {
	ID         string
	ChatID     string
	ChatName   string // best-effort display name for the owning chat
	SenderName string
	Body       string
	MediaRef   string
	Type       string
	FromMe     bool
	IsGroup    bool
	Timestamp  int64
	Ack        int
}

// ChatInfo is one entry of the provider's chat list.
type ChatInfo struct {
	ID            string
	Name          string
	IsGroup       bool
	Archived      bool
	Pinned        bool
	LastMessageAt int64
	UnreadCount   int
}

// Media is an outbound attachment.
type Media struct {
	Mimetype string
	Filename string
	Data     []byte
}

// SentMessage is the provider's confirmation of a successful send.
type SentMessage struct {
	ID        string
	Timestamp int64
}

// Client is the provider collaborator. Send primitives may fail or
// hang; callers bound them with the context.
type Client interface {
	// Initialize establishes (or re-establishes) the provider session.
	// Events flow on Events() from this point.
	Initialize(ctx context.Context) error
	// Destroy tears the underlying connection down so a later
	// Initialize starts from a clean state.
	Destroy(ctx context.Context) error
	Events() <-chan Event
	// AccountID returns the provider account identifier, or "" before
	// authentication.
	AccountID() string
	GetChats(ctx context.Context) ([]ChatInfo, error)
	GetChatByID(ctx context.Context, chatID string) (*ChatInfo, error)
	SendText(ctx context.Context, chatID, body string) (*SentMessage, error)
	SendMedia(ctx context.Context, chatID string, media Media) (*SentMessage, error)
}
