package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

// Transport is the upstream collaborator the reconciler talks to. It is
// injected at construction so tests can swap in doubles.
type Transport interface {
	FetchHistory(ctx context.Context, key models.ConversationKey) ([]models.Message, error)
	SendMessage(ctx context.Context, m *models.Message) error
	DeleteMessage(ctx context.Context, messageID string, key models.ConversationKey) error
	SaveMessage(ctx context.Context, messageID string) error
}

// Reporter receives engine events (ingests, failures) for downstream
// consumers. Remote-mutation failures are reported here instead of being
// swallowed.
type Reporter interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Notification is pushed to subscribers whenever a view or counter changes.
type Notification struct {
	Type         string                 `json:"type"`
	Conversation models.ConversationKey `json:"conversation,omitempty"`
	Unread       int                    `json:"unread,omitempty"`
}

const (
	NotifyViewChanged   = "view_changed"
	NotifyUnreadChanged = "unread_changed"
)

type conversation struct {
	baseline []*models.Message
	live     []*models.Message
	pending  map[string]struct{} // outstanding provisional client ids
	epoch    int
	loaded   bool
}

func (c *conversation) inBaseline(key string) bool {
	for _, m := range c.baseline {
		if m.DedupKey() == key {
			return true
		}
	}
	return false
}

func (c *conversation) inLive(key string) bool {
	for _, m := range c.live {
		if m.DedupKey() == key {
			return true
		}
	}
	return false
}

type Config struct {
	SelfID   string
	Location *time.Location
	Logger   *zap.SugaredLogger
	Reporter Reporter
	Now      func() time.Time
}

// Reconciler merges fetched history with the live event stream into ordered,
// deduplicated per-conversation views, tracks unread counters and applies
// optimistic local mutations. All state mutation is serialized under one
// mutex; transport callbacks and user actions may interleave freely.
type Reconciler struct {
	tr       Transport
	selfID   string
	loc      *time.Location
	now      func() time.Time
	log      *zap.SugaredLogger
	reporter Reporter

	mu     sync.Mutex
	convs  map[models.ConversationKey]*conversation
	unread map[models.ConversationKey]int
	active models.ConversationKey
	subs   []func(Notification)
}

func New(tr Transport, cfg Config) *Reconciler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Reconciler{
		tr:       tr,
		selfID:   cfg.SelfID,
		loc:      cfg.Location,
		now:      cfg.Now,
		log:      cfg.Logger,
		reporter: cfg.Reporter,
		convs:    make(map[models.ConversationKey]*conversation),
		unread:   make(map[models.ConversationKey]int),
	}
}

// Subscribe registers a notification callback. Callbacks run outside the
// state lock and must not block for long.
func (r *Reconciler) Subscribe(fn func(Notification)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

func (r *Reconciler) fire(ns ...Notification) {
	r.mu.Lock()
	subs := make([]func(Notification), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()
	for _, n := range ns {
		for _, fn := range subs {
			fn(n)
		}
	}
}

func (r *Reconciler) report(ctx context.Context, event string, payload any) {
	if r.reporter == nil {
		return
	}
	if err := r.reporter.Publish(ctx, event, payload); err != nil {
		r.log.Warnw("event publish failed", "event", event, "error", err)
	}
}

// conv returns the conversation state for key, creating it on first touch.
// Callers must hold r.mu.
func (r *Reconciler) conv(key models.ConversationKey) *conversation {
	c, ok := r.convs[key]
	if !ok {
		c = &conversation{pending: make(map[string]struct{})}
		r.convs[key] = c
	}
	return c
}

func (r *Reconciler) normalize(m *models.Message) {
	m.InferMedia()
	if m.SentAt.IsZero() {
		m.SentAt = models.NormalizeTimestamp(m.RawTimestamp, r.now(), r.loc)
	}
}

// LoadHistory fetches the persisted history for key and replaces the view's
// baseline. Fetch errors degrade to an empty history so the consumer is
// never blocked; the view is marked loaded either way. A response that lost
// the race against a newer LoadHistory for the same key is discarded.
func (r *Reconciler) LoadHistory(ctx context.Context, key models.ConversationKey) error {
	r.mu.Lock()
	c := r.conv(key)
	c.epoch++
	epoch := c.epoch
	r.mu.Unlock()

	msgs, err := r.tr.FetchHistory(ctx, key)

	r.mu.Lock()
	c = r.conv(key)
	if c.epoch != epoch {
		r.mu.Unlock()
		return nil
	}
	c.loaded = true
	if err != nil {
		c.baseline = nil
		r.mu.Unlock()
		r.log.Warnw("history fetch failed, degrading to empty", "conversation", key, "error", err)
		r.report(ctx, "history.fetch_failed", map[string]any{"conversation": key.String(), "error": err.Error()})
		r.fire(Notification{Type: NotifyViewChanged, Conversation: key})
		return err
	}
	baseline := make([]*models.Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		r.normalize(&m)
		baseline = append(baseline, &m)
	}
	c.baseline = baseline
	r.mu.Unlock()
	r.fire(Notification{Type: NotifyViewChanged, Conversation: key})
	return nil
}

// Loaded reports whether a history load for key has completed at least once.
func (r *Reconciler) Loaded(key models.ConversationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[key]
	return ok && c.loaded
}

// IngestLive inserts one live message into its conversation's buffer. A
// server echo carrying the client id of an outstanding provisional send
// replaces the provisional entry in place; a repeat of a message already in
// the live buffer is a no-op. A live copy of a baseline message still
// enters the buffer, since the live value supersedes the fetched one in the
// merged view, but it does not count as unread. Fresh messages from other
// users bump the unread counter unless their conversation is the active
// one.
func (r *Reconciler) IngestLive(m models.Message) {
	r.normalize(&m)
	key := models.KeyFor(&m, r.selfID)

	r.mu.Lock()
	c := r.conv(key)

	if m.ClientID != "" {
		if _, ok := c.pending[m.ClientID]; ok {
			delete(c.pending, m.ClientID)
			for i, lm := range c.live {
				if lm.Provisional && lm.ClientID == m.ClientID {
					confirmed := m
					confirmed.Provisional = false
					c.live[i] = &confirmed
					r.mu.Unlock()
					r.fire(Notification{Type: NotifyViewChanged, Conversation: key})
					return
				}
			}
		}
	}

	dk := m.DedupKey()
	if c.inLive(dk) {
		r.mu.Unlock()
		return
	}
	seen := c.inBaseline(dk)
	c.live = append(c.live, &m)

	notifs := []Notification{{Type: NotifyViewChanged, Conversation: key}}
	if !seen && m.From != r.selfID && key != r.active {
		r.unread[key]++
		notifs = append(notifs, Notification{Type: NotifyUnreadChanged, Conversation: key, Unread: r.unread[key]})
	}
	r.mu.Unlock()

	r.fire(notifs...)
	r.report(context.Background(), "message.ingested", map[string]any{"conversation": key.String(), "id": m.ID})
}

// Send applies an optimistic send: a provisional message with a generated
// client id enters the live buffer immediately, then goes out over the
// transport. On transport failure the message stays local and the failure is
// reported; there is no retry.
func (r *Reconciler) Send(ctx context.Context, key models.ConversationKey, body string, kind models.Kind, mediaType models.MediaType) *models.Message {
	now := r.now()
	m := &models.Message{
		ClientID:     uuid.NewString(),
		From:         r.selfID,
		Body:         body,
		Kind:         kind,
		MediaType:    mediaType,
		RawTimestamp: now.In(r.loc).Format("15:04:05"),
		SentAt:       now,
		Provisional:  true,
	}
	if key.IsRoom() {
		m.RoomID = key.RoomID()
	} else {
		m.To = key.PeerID()
	}

	r.mu.Lock()
	c := r.conv(key)
	c.live = append(c.live, m)
	c.pending[m.ClientID] = struct{}{}
	r.mu.Unlock()
	r.fire(Notification{Type: NotifyViewChanged, Conversation: key})

	if err := r.tr.SendMessage(ctx, m); err != nil {
		r.log.Warnw("send failed, message stays local", "conversation", key, "error", err)
		r.report(ctx, "send.failed", map[string]any{"conversation": key.String(), "clientId": m.ClientID, "error": err.Error()})
	} else {
		r.report(ctx, "message.sent", map[string]any{"conversation": key.String(), "clientId": m.ClientID})
	}
	return m
}

// Delete removes a message locally, then tells the transport. The local
// removal stands regardless of the remote outcome.
func (r *Reconciler) Delete(ctx context.Context, key models.ConversationKey, messageID string) {
	if r.removeLocal(key, messageID) {
		r.fire(Notification{Type: NotifyViewChanged, Conversation: key})
	}
	if err := r.tr.DeleteMessage(ctx, messageID, key); err != nil {
		r.log.Warnw("remote delete failed", "message", messageID, "error", err)
		r.report(ctx, "mutation.failed", map[string]any{"op": "delete", "message": messageID, "error": err.Error()})
		return
	}
	r.report(ctx, "message.deleted", map[string]any{"conversation": key.String(), "message": messageID})
}

// HandleRemoteDelete applies a deletion pushed by the upstream. An empty key
// means the upstream did not say which conversation; all of them are swept.
func (r *Reconciler) HandleRemoteDelete(key models.ConversationKey, messageID string) {
	var changed []models.ConversationKey
	if key != "" {
		if r.removeLocal(key, messageID) {
			changed = append(changed, key)
		}
	} else {
		r.mu.Lock()
		keys := make([]models.ConversationKey, 0, len(r.convs))
		for k := range r.convs {
			keys = append(keys, k)
		}
		r.mu.Unlock()
		for _, k := range keys {
			if r.removeLocal(k, messageID) {
				changed = append(changed, k)
			}
		}
	}
	for _, k := range changed {
		r.fire(Notification{Type: NotifyViewChanged, Conversation: k})
	}
}

func (r *Reconciler) removeLocal(key models.ConversationKey, messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[key]
	if !ok || messageID == "" {
		return false
	}
	removed := false
	byID := func(m *models.Message) bool { return m.ID == messageID }
	c.baseline, removed = filterOut(c.baseline, byID, removed)
	c.live, removed = filterOut(c.live, byID, removed)
	if !removed {
		// a provisional send has no server id yet; the caller only knows
		// its client id
		c.live, removed = filterOut(c.live, func(m *models.Message) bool {
			return m.ClientID == messageID
		}, removed)
		if removed {
			delete(c.pending, messageID)
		}
	}
	return removed
}

func filterOut(msgs []*models.Message, match func(*models.Message) bool, removed bool) ([]*models.Message, bool) {
	out := msgs[:0]
	for _, m := range msgs {
		if match(m) {
			removed = true
			continue
		}
		out = append(out, m)
	}
	return out, removed
}

// ToggleSave flips actorID's bookmark on a message locally and persists
// asynchronously through the transport. No rollback on failure.
func (r *Reconciler) ToggleSave(ctx context.Context, key models.ConversationKey, messageID, actorID string) bool {
	if actorID == "" {
		actorID = r.selfID
	}
	r.mu.Lock()
	saved, found := false, false
	if c, ok := r.convs[key]; ok {
		for _, m := range append(append([]*models.Message{}, c.baseline...), c.live...) {
			if m.ID == messageID {
				saved = m.ToggleSaved(actorID)
				found = true
				break
			}
		}
	}
	r.mu.Unlock()
	if !found {
		return false
	}
	r.fire(Notification{Type: NotifyViewChanged, Conversation: key})

	go func() {
		// detached from the caller's ctx: the persist outlives the request
		ctx := context.Background()
		if err := r.tr.SaveMessage(ctx, messageID); err != nil {
			r.log.Warnw("save persist failed", "message", messageID, "error", err)
			r.report(ctx, "mutation.failed", map[string]any{"op": "save", "message": messageID, "error": err.Error()})
		}
	}()
	return saved
}

// MarkOpen flags key as the active conversation and resets its unread
// counter.
func (r *Reconciler) MarkOpen(key models.ConversationKey) {
	r.mu.Lock()
	r.active = key
	had := r.unread[key] != 0
	r.unread[key] = 0
	r.mu.Unlock()
	if had {
		r.fire(Notification{Type: NotifyUnreadChanged, Conversation: key, Unread: 0})
	}
}

// MarkClosed clears the active flag if key still holds it.
func (r *Reconciler) MarkClosed(key models.ConversationKey) {
	r.mu.Lock()
	if r.active == key {
		r.active = ""
	}
	r.mu.Unlock()
}

// Unread returns the counter for one conversation.
func (r *Reconciler) Unread(key models.ConversationKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[key]
}

// UnreadCounts returns a copy of all non-zero counters.
func (r *Reconciler) UnreadCounts() map[models.ConversationKey]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.ConversationKey]int, len(r.unread))
	for k, n := range r.unread {
		if n > 0 {
			out[k] = n
		}
	}
	return out
}
