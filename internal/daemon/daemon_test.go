package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/season179/wabridge/internal/bus"
	"github.com/season179/wabridge/internal/engine"
	"github.com/season179/wabridge/internal/gateway"
	"github.com/season179/wabridge/internal/lock"
	"github.com/season179/wabridge/internal/provider"
	"github.com/season179/wabridge/internal/store"
)

// scriptedClient is a minimal provider used to drive the composed
// daemon components without a real account.
type scriptedClient struct {
	events chan provider.Event
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{events: make(chan provider.Event, 16)}
}

func (c *scriptedClient) Initialize(ctx context.Context) error { return nil }
func (c *scriptedClient) Destroy(ctx context.Context) error    { return nil }
func (c *scriptedClient) Events() <-chan provider.Event        { return c.events }
func (c *scriptedClient) AccountID() string                    { return "15550001111" }

func (c *scriptedClient) GetChats(ctx context.Context) ([]provider.ChatInfo, error) {
	return []provider.ChatInfo{{ID: "a@c.us", Name: "Alice", LastMessageAt: 100}}, nil
}

func (c *scriptedClient) GetChatByID(ctx context.Context, chatID string) (*provider.ChatInfo, error) {
	return nil, nil
}

func (c *scriptedClient) SendText(ctx context.Context, chatID, body string) (*provider.SentMessage, error) {
	return &provider.SentMessage{ID: "sent-1", Timestamp: time.Now().UnixMilli()}, nil
}

func (c *scriptedClient) SendMedia(ctx context.Context, chatID string, media provider.Media) (*provider.SentMessage, error) {
	return &provider.SentMessage{ID: "sent-1", Timestamp: time.Now().UnixMilli()}, nil
}

func waitStatus(t *testing.T, actor *engine.Actor, want engine.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if actor.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", actor.Status(), want)
}

// TestDaemonLifecycle composes the components the way registerLifecycle
// does and exercises the full path from provider events to the HTTP
// surface.
func TestDaemonLifecycle(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "wabridge-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionDir := filepath.Join(tmpDir, "test")
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	// A second daemon on the same session must be refused.
	var held *lock.HeldError
	if _, err := lock.Acquire(sessionDir); !errors.As(err, &held) {
		t.Fatalf("second acquire err = %v, want HeldError", err)
	}

	db, err := store.Open(filepath.Join(sessionDir, "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	b := bus.New()
	client := newScriptedClient()
	sup := engine.NewSupervisor(3, 5*time.Second, 10*time.Second)
	actor := engine.NewActor(db, client, b, sup, engine.RealClock(), nil)
	actor.Start(context.Background())
	defer actor.Stop()

	srv := gateway.NewServer(":0", "test", actor, db, b, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Fresh session: QR handshake first.
	client.events <- provider.Event{Type: provider.EventQR, QR: "qr-code"}
	waitStatus(t, actor, engine.QRPending)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	var statusBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&statusBody); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if statusBody["status"] != "QR_PENDING" || statusBody["qr"] != "qr-code" {
		t.Errorf("status body = %v", statusBody)
	}

	// Chats are refused until the session links.
	resp, err = http.Get(ts.URL + "/api/chats")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("chats before ready = %d, want 503", resp.StatusCode)
	}

	client.events <- provider.Event{Type: provider.EventAuthenticated}
	client.events <- provider.Event{Type: provider.EventReady}
	waitStatus(t, actor, engine.Ready)

	// Reconciliation may land just after READY; poll for the chat list.
	deadline := time.Now().Add(2 * time.Second)
	var chats []engine.CacheEntry
	for time.Now().Before(deadline) {
		resp, err = http.Get(ts.URL + "/api/chats")
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(resp.Body).Decode(&chats)
		_ = resp.Body.Close()
		if err == nil && len(chats) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(chats) != 1 || chats[0].ID != "a@c.us" {
		t.Fatalf("chats = %+v", chats)
	}

	// Incoming message becomes queryable through the REST surface.
	client.events <- provider.Event{Type: provider.EventMessage, Message: &provider.IncomingMessage{
		ID:        "m1",
		ChatID:    "a@c.us",
		ChatName:  "Alice",
		Body:      "hello",
		Type:      "text",
		Timestamp: time.Now().UnixMilli(),
	}}

	deadline = time.Now().Add(2 * time.Second)
	var msgs []map[string]any
	for time.Now().Before(deadline) {
		resp, err = http.Get(ts.URL + "/api/chats/a@c.us/messages")
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(resp.Body).Decode(&msgs)
		_ = resp.Body.Close()
		if err == nil && len(msgs) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(msgs) != 1 || msgs[0]["id"] != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}
}
