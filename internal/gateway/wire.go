package gateway

import (
	"github.com/season179/wabridge/internal/bus"
	"github.com/season179/wabridge/internal/engine"
	"github.com/season179/wabridge/internal/store"
)

// Frame is one websocket message in either direction: an event name
// plus a JSON payload.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type statusPayload struct {
	Status engine.Status `json:"status"`
}

type reasonPayload struct {
	Reason string `json:"reason"`
}

type sendErrorPayload struct {
	ChatID string `json:"chatId"`
	Error  string `json:"error"`
}

type wireMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	FromMe    bool   `json:"fromMe"`
	Body      string `json:"body"`
	MediaRef  string `json:"mediaRef,omitempty"`
	Type      string `json:"type"`
	Ack       int    `json:"ack"`
	Timestamp int64  `json:"timestamp"`
}

func toWireMessage(m *store.Message) wireMessage {
	return wireMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		FromMe:    m.FromMe,
		Body:      m.Body,
		MediaRef:  m.MediaRef,
		Type:      m.MessageType,
		Ack:       m.Ack,
		Timestamp: m.Timestamp,
	}
}

// frameFor translates an internal bus event into its wire frame.
// Returns false for kinds that have no wire representation.
func frameFor(evt bus.Event) (Frame, bool) {
	switch evt.Kind {
	case "session.status":
		change, ok := evt.Payload.(engine.StatusChange)
		if !ok {
			return Frame{}, false
		}
		return Frame{Event: "status", Data: statusPayload{Status: change.To}}, true
	case "session.qr":
		code, _ := evt.Payload.(string)
		return Frame{Event: "qr", Data: code}, true
	case "session.ready":
		return Frame{Event: "ready"}, true
	case "session.disconnected":
		reason, _ := evt.Payload.(string)
		return Frame{Event: "disconnected", Data: reasonPayload{Reason: reason}}, true
	case "session.auth_failure":
		reason, _ := evt.Payload.(string)
		return Frame{Event: "auth_failure", Data: reasonPayload{Reason: reason}}, true
	case "chat.snapshot":
		chats, ok := evt.Payload.([]engine.CacheEntry)
		if !ok {
			return Frame{}, false
		}
		return Frame{Event: "chats", Data: chats}, true
	case "message.new":
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return Frame{}, false
		}
		return Frame{Event: "message", Data: toWireMessage(msg)}, true
	}
	return Frame{}, false
}

// replayFrames builds the catch-up sequence for a freshly attached
// subscriber. The current status always comes first so the client can
// render before any data arrives.
func replayFrames(snap engine.Snapshot) []Frame {
	frames := []Frame{{Event: "status", Data: statusPayload{Status: snap.Status}}}
	switch snap.Status {
	case engine.QRPending:
		if snap.QR != "" {
			frames = append(frames, Frame{Event: "qr", Data: snap.QR})
		}
	case engine.Ready:
		frames = append(frames,
			Frame{Event: "ready"},
			Frame{Event: "chats", Data: snap.Chats})
	}
	return frames
}
