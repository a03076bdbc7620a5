// Package engine owns the session lifecycle and the sync pipeline. A
// single actor goroutine serializes provider events and subscriber
// commands, so state transitions, cache mutations and reconnect
// scheduling never race.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/season179/wabridge/internal/bus"
	"github.com/season179/wabridge/internal/provider"
	"github.com/season179/wabridge/internal/store"
)

const previewLimit = 100

// Actor drives the session. All mutations of the machine, the cache
// and the supervisor happen on its loop goroutine; the exported
// methods communicate with it over the command channel.
type Actor struct {
	machine *Machine
	cache   *ChatCache
	db      *store.DB
	client  provider.Client
	bus     *bus.Bus
	sup     *Supervisor
	clock   Clock
	logger  *zap.Logger

	cmds chan any
	done chan struct{}

	qrMu sync.RWMutex
	qr   string

	// retryGen invalidates pending reconnect timers. Bumped whenever
	// a timer's outcome would no longer apply (ready, auth failure,
	// operator restart). Actor goroutine only.
	retryGen int

	startOnce sync.Once
	cancel    context.CancelFunc
}

// Snapshot is a point-in-time view of the session handed to new
// subscribers for replay.
type Snapshot struct {
	Status Status
	QR     string
	Chats  []CacheEntry
}

type sendResult struct {
	msg *store.Message
	err error
}

type sendTextCmd struct {
	chatID string
	body   string
	reply  chan sendResult
}

type sendMediaCmd struct {
	chatID string
	media  provider.Media
	reply  chan sendResult
}

type retryCmd struct {
	gen int
}

type restartCmd struct {
	reply chan error
}

// NewActor wires an actor around its collaborators. Call Start to
// begin processing.
func NewActor(db *store.DB, client provider.Client, b *bus.Bus, sup *Supervisor, clock Clock, logger *zap.Logger) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Actor{
		machine: NewMachine(b),
		cache:   NewChatCache(),
		db:      db,
		client:  client,
		bus:     b,
		sup:     sup,
		clock:   clock,
		logger:  logger,
		cmds:    make(chan any, 64),
		done:    make(chan struct{}),
	}
}

// Start launches the actor loop and kicks off the first provider
// initialization.
func (a *Actor) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		go a.loop(ctx)
	})
}

// Stop terminates the actor loop and waits for it to exit.
func (a *Actor) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// Status returns the current lifecycle state.
func (a *Actor) Status() Status {
	return a.machine.Current()
}

// CurrentQR returns the active QR payload, or "" outside QR_PENDING.
func (a *Actor) CurrentQR() string {
	a.qrMu.RLock()
	defer a.qrMu.RUnlock()
	return a.qr
}

// State returns the replay snapshot for a newly attached subscriber.
func (a *Actor) State() Snapshot {
	return Snapshot{
		Status: a.machine.Current(),
		QR:     a.CurrentQR(),
		Chats:  a.cache.Snapshot(),
	}
}

// SendText relays a text message through the provider. The message is
// persisted and broadcast only after the provider accepts it.
func (a *Actor) SendText(ctx context.Context, chatID, content string) (*store.Message, error) {
	reply := make(chan sendResult, 1)
	if err := a.enqueue(ctx, sendTextCmd{chatID: chatID, body: content, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendMedia relays a media message through the provider.
func (a *Actor) SendMedia(ctx context.Context, chatID string, media provider.Media) (*store.Message, error) {
	reply := make(chan sendResult, 1)
	if err := a.enqueue(ctx, sendMediaCmd{chatID: chatID, media: media, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Restart tears the provider session down and reinitializes it with a
// fresh attempt budget. This is the only way out of AUTH_FAILED and
// TERMINATED.
func (a *Actor) Restart(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := a.enqueue(ctx, restartCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) enqueue(ctx context.Context, cmd any) error {
	select {
	case a.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return fmt.Errorf("session actor stopped")
	}
}

func (a *Actor) loop(ctx context.Context) {
	defer close(a.done)

	a.initialize(ctx)

	events := a.client.Events()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				a.logger.Warn("provider event stream closed")
				events = nil
				continue
			}
			a.handleEvent(ctx, evt)
		case cmd := <-a.cmds:
			a.handleCommand(ctx, cmd)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Actor) initialize(ctx context.Context) {
	if err := a.client.Initialize(ctx); err != nil {
		a.logger.Error("provider initialization failed", zap.Error(err))
		if terr := a.machine.Transition(Disconnected); terr != nil {
			a.logger.Warn("transition rejected", zap.Error(terr))
			return
		}
		a.persistStatus(0)
		a.bus.Publish("session.disconnected", err.Error())
		a.scheduleRetry(ctx)
	}
}

func (a *Actor) handleEvent(ctx context.Context, evt provider.Event) {
	if a.machine.Terminal() {
		// Stale events from a torn-down connection must not revive a
		// session that requires operator intervention.
		a.logger.Warn("provider event ignored in terminal state",
			zap.String("event", string(evt.Type)),
			zap.String("state", string(a.machine.Current())))
		return
	}

	switch evt.Type {
	case provider.EventQR:
		// Side effects only after the machine accepts the transition,
		// so a stray QR event cannot wipe live state.
		if err := a.machine.Transition(QRPending); err != nil {
			a.logger.Warn("transition rejected", zap.Error(err))
			return
		}
		a.setQR(evt.QR)
		a.cache.Clear()
		a.persistStatus(0)
		a.bus.Publish("session.qr", evt.QR)

	case provider.EventAuthenticated:
		a.setQR("")
		if err := a.machine.Transition(Authenticating); err != nil {
			a.logger.Warn("transition rejected", zap.Error(err))
		}

	case provider.EventReady:
		a.handleReady(ctx)

	case provider.EventMessage:
		if evt.Message == nil {
			return
		}
		a.ingestIncoming(evt.Message)

	case provider.EventDisconnected:
		a.handleDisconnect(ctx, evt.Reason, false)

	case provider.EventAuthFailure:
		if err := a.machine.Transition(AuthFailed); err != nil {
			a.logger.Warn("transition rejected", zap.Error(err))
			return
		}
		a.setQR("")
		a.cache.Clear()
		a.retryGen++
		a.persistStatus(0)
		a.logger.Error("authentication failed", zap.String("reason", evt.Reason))
		a.bus.Publish("session.auth_failure", evt.Reason)

	case provider.EventStateChange:
		// States like stream_replaced cannot be recovered on the
		// existing connection; tear it down and let the reconnect
		// policy rebuild it.
		a.logger.Warn("provider connection state changed", zap.String("state", evt.State))
		a.handleDisconnect(ctx, evt.State, true)
	}
}

func (a *Actor) handleReady(ctx context.Context) {
	// A provider restoring a persisted session may emit ready straight
	// from initialization.
	if cur := a.machine.Current(); cur == Initializing || cur == QRPending {
		if err := a.machine.Transition(Authenticating); err != nil {
			a.logger.Warn("transition rejected", zap.Error(err))
			return
		}
	}
	if err := a.machine.Transition(Ready); err != nil {
		a.logger.Warn("transition rejected", zap.Error(err))
		return
	}
	a.setQR("")
	a.sup.Reset()
	a.retryGen++
	a.bus.Publish("session.ready", a.client.AccountID())
	a.reconcile(ctx)
}

// reconcile pulls the provider's chat list, upserts it, then rebuilds
// the cache from the store so the snapshot reflects exactly what was
// committed. A partial provider failure degrades to whatever the store
// already holds.
func (a *Actor) reconcile(ctx context.Context) {
	chats, err := a.client.GetChats(ctx)
	if err != nil {
		a.logger.Error("chat reconciliation fetch failed", zap.Error(err))
	} else {
		for _, c := range chats {
			uerr := a.db.UpsertChat(&store.Chat{
				ID:            c.ID,
				Name:          c.Name,
				IsGroup:       c.IsGroup,
				Archived:      c.Archived,
				Pinned:        c.Pinned,
				LastMessageAt: c.LastMessageAt,
				UnreadCount:   c.UnreadCount,
			})
			if uerr != nil {
				// One bad chat must not abort the rest of the list.
				a.logger.Error("chat upsert failed",
					zap.String("chat_id", c.ID), zap.Error(uerr))
			}
		}
	}

	stored, err := a.db.ListChats()
	if err != nil {
		a.logger.Error("chat read-back failed", zap.Error(err))
		return
	}
	entries := make([]CacheEntry, 0, len(stored))
	for _, c := range stored {
		entries = append(entries, CacheEntry{
			ID:                 c.ID,
			Name:               c.Name,
			LastMessagePreview: c.LastMessagePreview,
			LastMessageAt:      c.LastMessageAt,
		})
	}
	a.cache.Rebuild(entries)
	a.persistStatus(time.Now().UnixMilli())
	a.logger.Info("chat list reconciled", zap.Int("chats", len(entries)))
	a.bus.Publish("chat.snapshot", a.cache.Snapshot())
}

func (a *Actor) handleDisconnect(ctx context.Context, reason string, teardown bool) {
	if err := a.machine.Transition(Disconnected); err != nil {
		a.logger.Warn("transition rejected", zap.Error(err))
		return
	}
	a.setQR("")
	a.cache.Clear()
	a.persistStatus(0)
	a.logger.Warn("session disconnected", zap.String("reason", reason))
	a.bus.Publish("session.disconnected", reason)
	if teardown {
		if err := a.client.Destroy(ctx); err != nil {
			a.logger.Warn("provider teardown failed", zap.Error(err))
		}
	}
	a.scheduleRetry(ctx)
}

func (a *Actor) scheduleRetry(ctx context.Context) {
	delay, ok := a.sup.Next()
	if !ok {
		a.logger.Error("reconnect attempts exhausted",
			zap.Int("attempts", a.sup.Attempts()))
		if err := a.machine.Transition(Terminated); err != nil {
			a.logger.Warn("transition rejected", zap.Error(err))
			return
		}
		a.persistStatus(0)
		return
	}

	gen := a.retryGen
	a.logger.Info("reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", a.sup.Attempts()))
	go func() {
		select {
		case <-a.clock.After(delay):
		case <-ctx.Done():
			return
		}
		select {
		case a.cmds <- retryCmd{gen: gen}:
		case <-ctx.Done():
		}
	}()
}

func (a *Actor) handleCommand(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case sendTextCmd:
		c.reply <- a.doSendText(ctx, c)
	case sendMediaCmd:
		c.reply <- a.doSendMedia(ctx, c)
	case retryCmd:
		a.doRetry(ctx, c)
	case restartCmd:
		c.reply <- a.doRestart(ctx)
	}
}

func (a *Actor) doRetry(ctx context.Context, c retryCmd) {
	// A timer armed before a successful reconnect or an auth failure
	// carries a stale generation and must not fire.
	if c.gen != a.retryGen || a.machine.Current() != Disconnected {
		a.logger.Debug("reconnect attempt superseded", zap.Int("gen", c.gen))
		return
	}
	if err := a.machine.Transition(Initializing); err != nil {
		a.logger.Warn("transition rejected", zap.Error(err))
		return
	}
	a.logger.Info("reconnecting", zap.Int("attempt", a.sup.Attempts()))
	if err := a.client.Initialize(ctx); err != nil {
		a.logger.Error("reconnect attempt failed",
			zap.Int("attempt", a.sup.Attempts()), zap.Error(err))
		if terr := a.machine.Transition(Disconnected); terr != nil {
			a.logger.Warn("transition rejected", zap.Error(terr))
			return
		}
		a.persistStatus(0)
		a.scheduleRetry(ctx)
	}
}

func (a *Actor) doRestart(ctx context.Context) error {
	cur := a.machine.Current()
	if cur != AuthFailed && cur != Terminated && cur != Disconnected {
		return fmt.Errorf("restart not allowed from %s", cur)
	}
	a.retryGen++
	a.sup.Reset()
	a.setQR("")
	a.cache.Clear()
	if err := a.client.Destroy(ctx); err != nil {
		a.logger.Warn("provider teardown failed", zap.Error(err))
	}
	if err := a.machine.Transition(Initializing); err != nil {
		return err
	}
	a.logger.Info("session restart requested", zap.String("from", string(cur)))
	a.initialize(ctx)
	return nil
}

func (a *Actor) doSendText(ctx context.Context, c sendTextCmd) sendResult {
	if c.chatID == "" {
		return sendResult{err: &ValidationError{Reason: "chatId is required"}}
	}
	if c.body == "" {
		return sendResult{err: &ValidationError{Reason: "content is required"}}
	}
	if a.machine.Current() != Ready {
		return sendResult{err: ErrNotReady}
	}

	sent, err := a.client.SendText(ctx, c.chatID, c.body)
	if err != nil {
		return sendResult{err: &SendError{ChatID: c.chatID, Err: err}}
	}

	msg := &store.Message{
		ID:          sent.ID,
		ChatID:      c.chatID,
		FromMe:      true,
		Body:        c.body,
		MessageType: "text",
		Timestamp:   sent.Timestamp,
	}
	name, isGroup := a.chatIdentity(ctx, c.chatID)
	if err := a.ingest(msg, name, isGroup); err != nil {
		// The provider accepted the message; surface the storage
		// failure instead of pretending the send failed.
		return sendResult{err: err}
	}
	return sendResult{msg: msg}
}

// chatIdentity resolves a display name for a chat first reached through
// an outbound send. Known chats skip the provider round trip.
func (a *Actor) chatIdentity(ctx context.Context, chatID string) (string, bool) {
	isGroup := strings.HasSuffix(chatID, "@g.us")
	known, err := a.db.GetChat(chatID)
	if err == nil && known != nil {
		return known.Name, known.IsGroup
	}
	info, err := a.client.GetChatByID(ctx, chatID)
	if err != nil || info == nil {
		return "", isGroup
	}
	return info.Name, info.IsGroup
}

func (a *Actor) doSendMedia(ctx context.Context, c sendMediaCmd) sendResult {
	if c.chatID == "" {
		return sendResult{err: &ValidationError{Reason: "chatId is required"}}
	}
	if c.media.Mimetype == "" {
		return sendResult{err: &ValidationError{Reason: "media mimetype is required"}}
	}
	if len(c.media.Data) == 0 {
		return sendResult{err: &ValidationError{Reason: "media data is required"}}
	}
	if c.media.Filename == "" {
		return sendResult{err: &ValidationError{Reason: "media filename is required"}}
	}
	if a.machine.Current() != Ready {
		return sendResult{err: ErrNotReady}
	}

	sent, err := a.client.SendMedia(ctx, c.chatID, c.media)
	if err != nil {
		return sendResult{err: &SendError{ChatID: c.chatID, Err: err}}
	}

	msg := &store.Message{
		ID:          sent.ID,
		ChatID:      c.chatID,
		FromMe:      true,
		MediaRef:    "media_placeholder",
		MessageType: mediaType(c.media.Mimetype),
		Timestamp:   sent.Timestamp,
	}
	name, isGroup := a.chatIdentity(ctx, c.chatID)
	if err := a.ingest(msg, name, isGroup); err != nil {
		return sendResult{err: err}
	}
	return sendResult{msg: msg}
}

func (a *Actor) ingestIncoming(in *provider.IncomingMessage) {
	msg := &store.Message{
		ID:          in.ID,
		ChatID:      in.ChatID,
		FromMe:      in.FromMe,
		Body:        in.Body,
		MediaRef:    in.MediaRef,
		MessageType: in.Type,
		Ack:         in.Ack,
		Timestamp:   in.Timestamp,
	}
	if err := a.ingest(msg, in.ChatName, in.IsGroup); err != nil {
		a.logger.Error("incoming message dropped",
			zap.String("message_id", in.ID),
			zap.String("chat_id", in.ChatID),
			zap.Error(err))
	}
}

// ingest commits a message and its owning chat atomically, then patches
// the cache and broadcasts. Re-delivery of an already stored id is a
// silent no-op.
func (a *Actor) ingest(msg *store.Message, chatName string, isGroup bool) error {
	pv := preview(msg)
	inserted := false
	err := a.db.WithTx(func(tx *sql.Tx) error {
		if err := store.EnsureChatTx(tx, msg.ChatID, chatName, isGroup, msg.Timestamp, pv); err != nil {
			return fmt.Errorf("ensure chat: %w", err)
		}
		var err error
		inserted, err = store.CreateMessageTx(tx, msg)
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "ingest", Err: err}
	}
	if !inserted {
		a.logger.Debug("duplicate message delivery ignored",
			zap.String("message_id", msg.ID))
		return nil
	}
	a.cache.Patch(msg.ChatID, chatName, pv, msg.Timestamp)
	a.bus.Publish("message.new", msg)
	return nil
}

func (a *Actor) persistStatus(lastSyncedAt int64) {
	id := a.client.AccountID()
	if id == "" {
		id = "default"
	}
	if err := a.db.UpsertSession(id, string(a.machine.Current()), lastSyncedAt); err != nil {
		a.logger.Warn("session row update failed", zap.Error(err))
	}
}

func (a *Actor) setQR(code string) {
	a.qrMu.Lock()
	a.qr = code
	a.qrMu.Unlock()
}

func preview(m *store.Message) string {
	if m.Body != "" {
		return truncate(m.Body, previewLimit)
	}
	if m.MessageType != "" && m.MessageType != "text" {
		return "[" + m.MessageType + "]"
	}
	return ""
}

func mediaType(mimetype string) string {
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return "image"
	case strings.HasPrefix(mimetype, "video/"):
		return "video"
	case strings.HasPrefix(mimetype, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

// truncate cuts on a rune boundary so a preview never carries a torn
// multi-byte character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
