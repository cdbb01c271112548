package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

type fakeTransport struct {
	mu      sync.Mutex
	history map[models.ConversationKey][]models.Message
	fetchFn func(key models.ConversationKey) ([]models.Message, error)

	sent      []*models.Message
	sendErr   error
	deleted   []string
	deleteErr error
	saved     chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		history: make(map[models.ConversationKey][]models.Message),
		saved:   make(chan string, 8),
	}
}

func (f *fakeTransport) FetchHistory(_ context.Context, key models.ConversationKey) ([]models.Message, error) {
	if f.fetchFn != nil {
		return f.fetchFn(key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[key], nil
}

func (f *fakeTransport) SendMessage(_ context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.sendErr
}

func (f *fakeTransport) DeleteMessage(_ context.Context, messageID string, _ models.ConversationKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return f.deleteErr
}

func (f *fakeTransport) SaveMessage(_ context.Context, messageID string) error {
	f.saved <- messageID
	return nil
}

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestReconciler(tr Transport) *Reconciler {
	return New(tr, Config{
		SelfID:   "me",
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
}

func msgAt(id, from, body, ts string) models.Message {
	return models.Message{ID: id, From: from, To: "me", Body: body, RawTimestamp: ts}
}

func TestMergeDisjointSources(t *testing.T) {
	tr := newFakeTransport()
	key := models.DirectKey("alice")
	tr.history[key] = []models.Message{
		msgAt("h1", "alice", "one", "2024-03-15T09:00:00Z"),
		msgAt("h2", "alice", "two", "2024-03-15T10:00:00Z"),
	}
	r := newTestReconciler(tr)
	if err := r.LoadHistory(context.Background(), key); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	r.IngestLive(msgAt("l1", "alice", "three", "2024-03-15T09:30:00Z"))
	r.IngestLive(msgAt("l2", "alice", "four", "2024-03-15T11:00:00Z"))

	got := r.Messages(key)
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}
	wantOrder := []string{"h1", "l1", "h2", "l2"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestDedupByIDLiveWins(t *testing.T) {
	tr := newFakeTransport()
	key := models.DirectKey("alice")
	tr.history[key] = []models.Message{msgAt("m1", "alice", "stale body", "2024-03-15T09:00:00Z")}
	r := newTestReconciler(tr)
	if err := r.LoadHistory(context.Background(), key); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	r.IngestLive(msgAt("m1", "alice", "fresh body", "2024-03-15T09:00:00Z"))

	got := r.Messages(key)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry after dedup, got %d", len(got))
	}
	if got[0].Body != "fresh body" {
		t.Errorf("live value should win, got body %q", got[0].Body)
	}
}

func TestDedupCompositeFallback(t *testing.T) {
	r := newTestReconciler(newFakeTransport())
	m := models.Message{From: "alice", To: "me", Body: "hello", RawTimestamp: "10:00:00"}
	r.IngestLive(m)
	r.IngestLive(m)

	key := models.DirectKey("alice")
	if got := r.Messages(key); len(got) != 1 {
		t.Fatalf("identical unidentified messages should collapse, got %d entries", len(got))
	}
}

func TestUnreadCounters(t *testing.T) {
	r := newTestReconciler(newFakeTransport())
	alice := models.DirectKey("alice")
	bob := models.DirectKey("bob")

	r.MarkOpen(alice)
	r.IngestLive(msgAt("a1", "alice", "hi", "10:00:00"))
	if n := r.Unread(alice); n != 0 {
		t.Errorf("active conversation should not accumulate unread, got %d", n)
	}

	r.IngestLive(models.Message{ID: "b1", From: "bob", To: "me", Body: "yo", RawTimestamp: "10:01:00"})
	if n := r.Unread(bob); n != 1 {
		t.Errorf("inactive conversation unread = %d, want 1", n)
	}
	r.IngestLive(models.Message{ID: "b2", From: "bob", To: "me", Body: "yo again", RawTimestamp: "10:02:00"})
	if n := r.Unread(bob); n != 2 {
		t.Errorf("unread should increment, got %d", n)
	}

	r.MarkOpen(bob)
	if n := r.Unread(bob); n != 0 {
		t.Errorf("open should reset unread, got %d", n)
	}
	if n := r.Unread(bob); n < 0 {
		t.Errorf("unread went negative: %d", n)
	}
}

func TestOwnMessagesDoNotCountUnread(t *testing.T) {
	r := newTestReconciler(newFakeTransport())
	r.IngestLive(models.Message{ID: "x1", From: "me", To: "alice", Body: "mine", RawTimestamp: "10:00:00"})
	if n := r.Unread(models.DirectKey("alice")); n != 0 {
		t.Errorf("own message should not count as unread, got %d", n)
	}
}

func TestHistoryThenLiveScenario(t *testing.T) {
	tr := newFakeTransport()
	key := models.DirectKey("alice")
	tr.history[key] = []models.Message{msgAt("1", "alice", "hi", "10:00:00")}
	r := newTestReconciler(tr)
	if err := r.LoadHistory(context.Background(), key); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	r.IngestLive(msgAt("2", "alice", "yo", "10:05:00"))

	got := r.Messages(key)
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("unexpected view: %+v", got)
	}
	if n := r.Unread(key); n != 1 {
		t.Errorf("unread = %d, want 1 (conversation inactive)", n)
	}
}

func TestLoadHistoryFailsOpen(t *testing.T) {
	tr := newFakeTransport()
	tr.fetchFn = func(models.ConversationKey) ([]models.Message, error) {
		return nil, errors.New("network down")
	}
	r := newTestReconciler(tr)
	key := models.DirectKey("alice")
	if err := r.LoadHistory(context.Background(), key); err == nil {
		t.Fatal("expected error from LoadHistory")
	}
	if !r.Loaded(key) {
		t.Error("view must be marked loaded even on fetch failure")
	}
	if got := r.Messages(key); len(got) != 0 {
		t.Errorf("failed fetch should degrade to empty history, got %d entries", len(got))
	}
}

func TestStaleHistoryDiscarded(t *testing.T) {
	tr := newFakeTransport()
	key := models.DirectKey("alice")

	gate := make(chan struct{})
	old := []models.Message{msgAt("old", "alice", "stale", "2024-03-15T08:00:00Z")}
	fresh := []models.Message{msgAt("new", "alice", "fresh", "2024-03-15T09:00:00Z")}
	first := true
	var mu sync.Mutex
	tr.fetchFn = func(models.ConversationKey) ([]models.Message, error) {
		mu.Lock()
		wasFirst := first
		first = false
		mu.Unlock()
		if wasFirst {
			<-gate
			return old, nil
		}
		return fresh, nil
	}

	r := newTestReconciler(tr)
	done := make(chan struct{})
	go func() {
		_ = r.LoadHistory(context.Background(), key)
		close(done)
	}()
	// second load starts while the first is still in flight
	for {
		mu.Lock()
		started := !first
		mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.LoadHistory(context.Background(), key); err != nil {
		t.Fatalf("second LoadHistory: %v", err)
	}
	close(gate)
	<-done

	got := r.Messages(key)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("stale response must not overwrite the newer baseline: %+v", got)
	}
}

func TestOptimisticSendAndEchoReplacement(t *testing.T) {
	tr := newFakeTransport()
	r := newTestReconciler(tr)
	key := models.DirectKey("alice")

	m := r.Send(context.Background(), key, "hello", models.KindText, "")
	if m.ClientID == "" {
		t.Fatal("send must assign a client id")
	}
	if !m.Provisional {
		t.Fatal("optimistic send must be provisional")
	}
	if got := r.Messages(key); len(got) != 1 {
		t.Fatalf("provisional message should be visible immediately, got %d", len(got))
	}
	if len(tr.sent) != 1 || tr.sent[0].ClientID != m.ClientID {
		t.Fatalf("draft should go out over the transport: %+v", tr.sent)
	}

	// server echo with a real id and the same client id
	r.IngestLive(models.Message{
		ID: "srv-1", ClientID: m.ClientID, From: "me", To: "alice",
		Body: "hello", RawTimestamp: "12:00:00",
	})
	got := r.Messages(key)
	if len(got) != 1 {
		t.Fatalf("echo must replace the provisional entry, not duplicate it: %d entries", len(got))
	}
	if got[0].ID != "srv-1" || got[0].Provisional {
		t.Errorf("confirmed copy should replace provisional: %+v", got[0])
	}
}

func TestSendFailureStaysLocal(t *testing.T) {
	tr := newFakeTransport()
	tr.sendErr = errors.New("socket down")
	r := newTestReconciler(tr)
	key := models.DirectKey("alice")

	r.Send(context.Background(), key, "hello", models.KindText, "")
	if got := r.Messages(key); len(got) != 1 {
		t.Fatalf("message must stay local on transport failure, got %d entries", len(got))
	}
}

func TestDeleteRemovesRegardlessOfNetwork(t *testing.T) {
	tr := newFakeTransport()
	tr.deleteErr = errors.New("network down")
	key := models.DirectKey("alice")
	tr.history[key] = []models.Message{msgAt("1", "alice", "hi", "10:00:00")}
	r := newTestReconciler(tr)
	if err := r.LoadHistory(context.Background(), key); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	r.Delete(context.Background(), key, "1")
	if got := r.Messages(key); len(got) != 0 {
		t.Fatalf("delete must apply locally regardless of network outcome, got %d entries", len(got))
	}
	if len(tr.deleted) != 1 || tr.deleted[0] != "1" {
		t.Errorf("remote delete should still be attempted: %+v", tr.deleted)
	}
}

func TestDeleteProvisionalByClientID(t *testing.T) {
	tr := newFakeTransport()
	r := newTestReconciler(tr)
	key := models.DirectKey("alice")

	m := r.Send(context.Background(), key, "oops", models.KindText, "")
	if m.ID != "" {
		t.Fatal("provisional message must not have a server id yet")
	}

	r.Delete(context.Background(), key, m.ClientID)
	if got := r.Messages(key); len(got) != 0 {
		t.Fatalf("deleting a not-yet-echoed send by client id must remove it, got %d entries", len(got))
	}
}

func TestRemoteDeleteWithoutConversation(t *testing.T) {
	tr := newFakeTransport()
	r := newTestReconciler(tr)
	r.IngestLive(msgAt("d1", "alice", "bye", "10:00:00"))

	r.HandleRemoteDelete("", "d1")
	if got := r.Messages(models.DirectKey("alice")); len(got) != 0 {
		t.Fatalf("remote delete should sweep all conversations, got %d entries", len(got))
	}
}

func TestToggleSave(t *testing.T) {
	tr := newFakeTransport()
	r := newTestReconciler(tr)
	key := models.DirectKey("alice")
	r.IngestLive(msgAt("s1", "alice", "keep me", "10:00:00"))

	if saved := r.ToggleSave(context.Background(), key, "s1", "me"); !saved {
		t.Fatal("first toggle should save")
	}
	select {
	case id := <-tr.saved:
		if id != "s1" {
			t.Errorf("persisted wrong id %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("save was never persisted")
	}
	if saved := r.ToggleSave(context.Background(), key, "s1", "me"); saved {
		t.Fatal("second toggle should unsave")
	}
	got := r.Messages(key)
	if got[0].Saved("me") {
		t.Error("message should no longer be saved")
	}
}

func TestNotifications(t *testing.T) {
	r := newTestReconciler(newFakeTransport())
	var mu sync.Mutex
	var got []Notification
	r.Subscribe(func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	r.IngestLive(msgAt("n1", "alice", "ping", "10:00:00"))

	mu.Lock()
	defer mu.Unlock()
	var view, unread bool
	for _, n := range got {
		switch n.Type {
		case NotifyViewChanged:
			view = true
		case NotifyUnreadChanged:
			unread = true
			if n.Unread != 1 {
				t.Errorf("unread notification carried %d, want 1", n.Unread)
			}
		}
	}
	if !view || !unread {
		t.Errorf("expected view and unread notifications, got %+v", got)
	}
}
