package provider

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// mediaRefPlaceholder marks messages that carried media. Media payloads
// themselves are not stored.
const mediaRefPlaceholder = "media_placeholder"

// parseMessage normalizes a live whatsmeow message event.
func parseMessage(evt *events.Message) *IncomingMessage {
	msgType := detectMessageType(evt.Message)

	m := &IncomingMessage{
		ID:         evt.Info.ID,
		ChatID:     evt.Info.Chat.String(),
		SenderName: evt.Info.PushName,
		Body:       extractTextBody(evt.Message),
		Type:       msgType,
		FromMe:     evt.Info.IsFromMe,
		IsGroup:    evt.Info.Chat.Server == types.GroupServer,
		Timestamp:  evt.Info.Timestamp.UnixMilli(),
	}

	if msgType != "text" && msgType != "unknown" {
		m.MediaRef = mediaRefPlaceholder
	}

	// Default the chat name from whatever the event offers: the sender's
	// push name for direct chats, the chat user part otherwise. The store
	// keeps a reconciled name once one is known.
	switch {
	case m.IsGroup:
		m.ChatName = ""
	case evt.Info.PushName != "" && !evt.Info.IsFromMe:
		m.ChatName = evt.Info.PushName
	default:
		m.ChatName = evt.Info.Chat.User
	}

	return m
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
