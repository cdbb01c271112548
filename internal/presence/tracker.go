package presence

import (
	"context"

	"go.uber.org/zap"
)

// Tracker applies presence transitions from the push channel (or the polling
// fallback) to a Store and fans them out to a subscriber.
type Tracker struct {
	store  Store
	log    *zap.SugaredLogger
	notify func(userID string, online bool)
}

func NewTracker(store Store, log *zap.SugaredLogger, notify func(userID string, online bool)) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{store: store, log: log, notify: notify}
}

func (t *Tracker) Apply(ctx context.Context, userID string, online bool) {
	if err := t.store.Set(ctx, userID, online); err != nil {
		t.log.Warnw("presence store update failed", "user", userID, "error", err)
	}
	if t.notify != nil {
		t.notify(userID, online)
	}
}

// Reconcile replaces the store's view with a polled roster. Users missing
// from the roster go offline, new ones come online; transitions notify.
func (t *Tracker) Reconcile(ctx context.Context, onlineIDs []string) {
	current, err := t.store.Snapshot(ctx)
	if err != nil {
		t.log.Warnw("presence snapshot failed", "error", err)
		return
	}
	next := make(map[string]struct{}, len(onlineIDs))
	for _, id := range onlineIDs {
		next[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(current))
	for _, id := range current {
		seen[id] = struct{}{}
		if _, still := next[id]; !still {
			t.Apply(ctx, id, false)
		}
	}
	for _, id := range onlineIDs {
		if _, had := seen[id]; !had {
			t.Apply(ctx, id, true)
		}
	}
}

func (t *Tracker) Online(ctx context.Context, userID string) bool {
	ok, err := t.store.Online(ctx, userID)
	if err != nil {
		t.log.Warnw("presence lookup failed", "user", userID, "error", err)
		return false
	}
	return ok
}

func (t *Tracker) Snapshot(ctx context.Context) []string {
	ids, err := t.store.Snapshot(ctx)
	if err != nil {
		t.log.Warnw("presence snapshot failed", "error", err)
		return nil
	}
	return ids
}
