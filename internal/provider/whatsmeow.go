package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/season179/wabridge/internal/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waevents "go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter implements Client on top of whatsmeow.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	events    chan Event
	logger    *zap.Logger
	session   string
}

var _ Client = (*Adapter)(nil)

// NewAdapter creates a whatsmeow-backed provider for the given session.
// The device credential store lives in the session's own session.db.
func NewAdapter(ctx context.Context, sessionName string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("WABridge", [3]uint32{0, 1, 0})

	dbPath := session.ProviderDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		events:    make(chan Event, 128),
		logger:    logger,
		session:   sessionName,
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// Events returns the provider event stream.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Initialize connects to WhatsApp. Without stored credentials it starts
// the QR pairing flow; with them it reconnects and reports
// authenticated immediately.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.loggedIn() {
		a.logger.Info("connecting with stored credentials")
		if err := a.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		a.emit(Event{Type: EventAuthenticated})
		return nil
	}

	// QR channel must be requested before Connect.
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	go a.pumpQR(qrChan)
	return nil
}

// Destroy tears down the underlying connection.
func (a *Adapter) Destroy(_ context.Context) error {
	a.logger.Info("destroying provider connection")
	a.client.Disconnect()
	return nil
}

// AccountID returns the phone number of the paired device, or "".
func (a *Adapter) AccountID() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// GetChats returns the provider's chat list: joined groups plus direct
// chats derived from the device contact store. Recency and unread
// counts are not available from this call; the store keeps whatever it
// has learned from message ingestion.
func (a *Adapter) GetChats(ctx context.Context) ([]ChatInfo, error) {
	var chats []ChatInfo

	groups, err := a.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}
	for _, g := range groups {
		chats = append(chats, ChatInfo{
			ID:      g.JID.String(),
			Name:    g.GroupName.Name,
			IsGroup: true,
		})
	}

	contacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	for jid, info := range contacts {
		normalized := jid.ToNonAD()
		if normalized.Server != types.DefaultUserServer {
			continue
		}
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		chats = append(chats, ChatInfo{
			ID:   normalized.String(),
			Name: name,
		})
	}

	return chats, nil
}

// GetChatByID resolves a single chat.
func (a *Adapter) GetChatByID(ctx context.Context, chatID string) (*ChatInfo, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}

	if jid.Server == types.GroupServer {
		info, err := a.client.GetGroupInfo(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("get group info: %w", err)
		}
		return &ChatInfo{ID: jid.String(), Name: info.GroupName.Name, IsGroup: true}, nil
	}

	contact, err := a.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	name := contact.FullName
	if name == "" {
		name = contact.PushName
	}
	return &ChatInfo{ID: jid.String(), Name: name}, nil
}

// SendText sends a text message. Returns the server message id.
func (a *Adapter) SendText(ctx context.Context, chatID, body string) (*SentMessage, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &SentMessage{ID: resp.ID, Timestamp: resp.Timestamp.UnixMilli()}, nil
}

// SendMedia uploads the attachment and sends it typed by mimetype class.
func (a *Adapter) SendMedia(ctx context.Context, chatID string, media Media) (*SentMessage, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}

	var mediaType whatsmeow.MediaType
	switch {
	case strings.HasPrefix(media.Mimetype, "image/"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(media.Mimetype, "video/"):
		mediaType = whatsmeow.MediaVideo
	case strings.HasPrefix(media.Mimetype, "audio/"):
		mediaType = whatsmeow.MediaAudio
	default:
		mediaType = whatsmeow.MediaDocument
	}

	uploaded, err := a.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	var msg *waE2E.Message
	switch mediaType {
	case whatsmeow.MediaImage:
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           &uploaded.URL,
			Mimetype:      &media.Mimetype,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	case whatsmeow.MediaVideo:
		msg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           &uploaded.URL,
			Mimetype:      &media.Mimetype,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	case whatsmeow.MediaAudio:
		msg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           &uploaded.URL,
			Mimetype:      &media.Mimetype,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	default:
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           &uploaded.URL,
			Mimetype:      &media.Mimetype,
			FileName:      &media.Filename,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	}

	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return nil, fmt.Errorf("send media message: %w", err)
	}
	return &SentMessage{ID: resp.ID, Timestamp: resp.Timestamp.UnixMilli()}, nil
}

func (a *Adapter) loggedIn() bool {
	return a.client.Store.ID != nil
}

func (a *Adapter) emit(evt Event) {
	a.events <- evt
}

func (a *Adapter) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			a.emit(Event{Type: EventQR, QR: item.Code})
		case "success":
			a.emit(Event{Type: EventAuthenticated})
			return
		case "timeout":
			a.emit(Event{Type: EventAuthFailure, Reason: "QR code timeout"})
			return
		default:
			if item.Error != nil {
				a.emit(Event{Type: EventAuthFailure, Reason: item.Error.Error()})
				return
			}
		}
	}
}

func (a *Adapter) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *waevents.Connected:
		a.emit(Event{Type: EventReady})
	case *waevents.Disconnected:
		a.emit(Event{Type: EventDisconnected, Reason: "connection closed"})
	case *waevents.LoggedOut:
		a.emit(Event{Type: EventAuthFailure, Reason: evt.Reason.String()})
	case *waevents.StreamReplaced:
		// Another client took over the session; the old connection is
		// unusable until torn down and recreated.
		a.emit(Event{Type: EventStateChange, State: "stream_replaced"})
	case *waevents.Message:
		a.emit(Event{Type: EventMessage, Message: parseMessage(evt)})
	}
}
