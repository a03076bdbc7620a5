package store

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestUpsertChatConverges(t *testing.T) {
	db := testDB(t)

	// Same chat id observed from reconciliation and from ingestion must
	// converge to one row.
	if err := db.UpsertChat(&Chat{ID: "c1", Name: "Alice", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}
	err := db.WithTx(func(tx *sql.Tx) error {
		return EnsureChatTx(tx, "c1", "alice-fallback", false, 2000, "hi there")
	})
	if err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].Name != "Alice" {
		t.Errorf("name = %q, want Alice (ingestion must not overwrite a known name)", chats[0].Name)
	}
	if chats[0].LastMessageAt != 2000 {
		t.Errorf("last_message_at = %d, want 2000", chats[0].LastMessageAt)
	}
}

func TestUpsertChatNeverRegressesRecency(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1", Name: "Alice", LastMessageAt: 5000}); err != nil {
		t.Fatal(err)
	}
	// Reconciliation with a stale (zero) timestamp.
	if err := db.UpsertChat(&Chat{ID: "c1", Name: "Alice", LastMessageAt: 0}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 5000 {
		t.Errorf("last_message_at = %d, want 5000", c.LastMessageAt)
	}
}

func TestEmptyNameDoesNotEraseKnownName(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{ID: "c1", Name: ""}); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("c1")
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice", c.Name)
	}
}

func TestCreateMessageIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{ID: "c1"}); err != nil {
		t.Fatal(err)
	}

	m := &Message{ID: "m1", ChatID: "c1", Body: "hi", MessageType: "text", Timestamp: 1000}
	inserted, err := db.CreateMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first insert reported not inserted")
	}

	// Re-delivery with a different payload: first write wins.
	dup := &Message{ID: "m1", ChatID: "c1", Body: "edited", MessageType: "text", Timestamp: 2000}
	inserted, err = db.CreateMessage(dup)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate id must be a no-op, not a second row")
	}

	msgs, err := db.ListMessagesAsc("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Body != "hi" {
		t.Errorf("body = %q, want hi (first write wins)", msgs[0].Body)
	}
}

func TestMessageRequiresChat(t *testing.T) {
	db := testDB(t)

	// Foreign key enforced: a message can never exist without its chat.
	_, err := db.CreateMessage(&Message{ID: "m1", ChatID: "ghost", Timestamp: 1})
	if err == nil {
		t.Fatal("insert without chat row should fail")
	}
}

func TestListMessagesAscOrder(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []Message{
		{ID: "m3", ChatID: "c1", Timestamp: 3000},
		{ID: "m1", ChatID: "c1", Timestamp: 1000},
		{ID: "m2", ChatID: "c1", Timestamp: 2000},
	} {
		if _, err := db.CreateMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessagesAsc("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp < msgs[i-1].Timestamp {
			t.Errorf("history not ascending: %d before %d", msgs[i-1].Timestamp, msgs[i].Timestamp)
		}
	}
}

func TestListChatsDescOrder(t *testing.T) {
	db := testDB(t)
	for _, c := range []Chat{
		{ID: "old", LastMessageAt: 1000},
		{ID: "new", LastMessageAt: 3000},
		{ID: "mid", LastMessageAt: 2000},
	} {
		if err := db.UpsertChat(&c); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if chats[i].ID != id {
			t.Errorf("chats[%d] = %s, want %s", i, chats[i].ID, id)
		}
	}
}

func TestUpsertSession(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertSession("acct1", "READY", 1000); err != nil {
		t.Fatal(err)
	}
	// Status change without a new sync must keep last_synced_at.
	if err := db.UpsertSession("acct1", "DISCONNECTED", 0); err != nil {
		t.Fatal(err)
	}

	s, err := db.GetSession("acct1")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil {
		t.Fatal("session row missing")
	}
	if s.Status != "DISCONNECTED" {
		t.Errorf("status = %q, want DISCONNECTED", s.Status)
	}
	if s.LastSyncedAt != 1000 {
		t.Errorf("last_synced_at = %d, want 1000", s.LastSyncedAt)
	}
}
