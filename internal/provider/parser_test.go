package provider

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("pic")}}, "pic"},
		{"image without caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMessageType(tt.msg)
			if got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMessageDirectChat(t *testing.T) {
	ts := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "5511999", Server: types.DefaultUserServer},
				Sender:   types.JID{User: "5511999", Server: types.DefaultUserServer},
				IsFromMe: false,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	m := parseMessage(evt)

	if m.ID != "MSG123" {
		t.Errorf("ID = %q, want MSG123", m.ID)
	}
	if m.ChatID != "5511999@s.whatsapp.net" {
		t.Errorf("ChatID = %q", m.ChatID)
	}
	if m.ChatName != "Alice" {
		t.Errorf("ChatName = %q, want Alice (push name fallback)", m.ChatName)
	}
	if m.Body != "hello world" {
		t.Errorf("Body = %q", m.Body)
	}
	if m.Type != "text" {
		t.Errorf("Type = %q, want text", m.Type)
	}
	if m.FromMe {
		t.Error("FromMe = true, want false")
	}
	if m.IsGroup {
		t.Error("IsGroup = true for a direct chat")
	}
	if m.MediaRef != "" {
		t.Errorf("MediaRef = %q, want empty for text", m.MediaRef)
	}
	if m.Timestamp != ts.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", m.Timestamp, ts.UnixMilli())
	}
}

func TestParseMessageOwnOutgoing(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Me",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "5511999", Server: types.DefaultUserServer},
				Sender:   types.JID{User: "me", Server: types.DefaultUserServer},
				IsFromMe: true,
			},
			ID: "OUT1",
		},
		Message: &waE2E.Message{Conversation: proto.String("sent elsewhere")},
	}

	m := parseMessage(evt)
	if !m.FromMe {
		t.Error("FromMe = false, want true")
	}
	// Own push name must not become the peer chat's name.
	if m.ChatName != "5511999" {
		t.Errorf("ChatName = %q, want chat user part", m.ChatName)
	}
}

func TestParseMessageMediaPlaceholder(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat: types.JID{User: "group1", Server: types.GroupServer},
			},
			ID: "IMG1",
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}},
	}

	m := parseMessage(evt)
	if m.Type != "image" {
		t.Errorf("Type = %q, want image", m.Type)
	}
	if m.MediaRef != mediaRefPlaceholder {
		t.Errorf("MediaRef = %q, want placeholder", m.MediaRef)
	}
	if !m.IsGroup {
		t.Error("IsGroup = false for a group chat")
	}
	if m.Body != "look" {
		t.Errorf("Body = %q, want caption", m.Body)
	}
}
