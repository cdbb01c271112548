package engine

import (
	"sort"
	"time"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

// ViewEntry is one row of a rendered conversation: either a date separator
// or a message.
type ViewEntry struct {
	Separator string          `json:"separator,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
}

// Summary describes one conversation for listing.
type Summary struct {
	Conversation models.ConversationKey `json:"conversation"`
	LastMessage  *models.Message        `json:"lastMessage,omitempty"`
	Unread       int                    `json:"unread"`
	Loaded       bool                   `json:"loaded"`
}

// merged builds the deduplicated, time-ordered sequence for a conversation.
// The live value wins when both sources carry the same dedup key; ties on
// SentAt keep history before live. Callers must hold r.mu.
func (c *conversation) merged() []*models.Message {
	liveKeys := make(map[string]struct{}, len(c.live))
	for _, m := range c.live {
		liveKeys[m.DedupKey()] = struct{}{}
	}
	out := make([]*models.Message, 0, len(c.baseline)+len(c.live))
	for _, m := range c.baseline {
		if _, dup := liveKeys[m.DedupKey()]; !dup {
			out = append(out, m)
		}
	}
	out = append(out, c.live...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

// Messages returns the merged view for key without separators.
func (r *Reconciler) Messages(key models.ConversationKey) []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[key]
	if !ok {
		return nil
	}
	return c.merged()
}

// View returns the merged view for key with a separator entry in front of
// each distinct calendar day, using the display timezone.
func (r *Reconciler) View(key models.ConversationKey) []ViewEntry {
	msgs := r.Messages(key)
	now := r.now()
	out := make([]ViewEntry, 0, len(msgs)+4)
	var lastY, lastD int
	var lastM time.Month
	for _, m := range msgs {
		y, mo, d := m.SentAt.In(r.loc).Date()
		if len(out) == 0 || y != lastY || mo != lastM || d != lastD {
			out = append(out, ViewEntry{Separator: DateLabel(m.SentAt, now, r.loc)})
			lastY, lastM, lastD = y, mo, d
		}
		out = append(out, ViewEntry{Message: m})
	}
	return out
}

// Summaries lists every known conversation with its last message and unread
// counter.
func (r *Reconciler) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, 0, len(r.convs))
	for key, c := range r.convs {
		s := Summary{Conversation: key, Unread: r.unread[key], Loaded: c.loaded}
		if msgs := c.merged(); len(msgs) > 0 {
			s.LastMessage = msgs[len(msgs)-1]
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Conversation < out[j].Conversation
	})
	return out
}

// DateLabel renders a calendar day relative to wall-clock now: Today,
// Yesterday, or the full date.
func DateLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	ty, tm, td := t.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	if ty == ny && tm == nm && td == nd {
		return "Today"
	}
	yy, ym, yd := now.In(loc).AddDate(0, 0, -1).Date()
	if ty == yy && tm == ym && td == yd {
		return "Yesterday"
	}
	return t.In(loc).Format("2 January 2006")
}
