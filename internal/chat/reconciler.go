package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender issues the wire send. Satisfied by *channel.Session.
type Sender interface {
	SendMessage(ctx context.Context, caseID, body string) error
}

// Reconciler makes sends feel instantaneous while converging the visible
// list to exactly the server's version. A submit appends an optimistic
// Pending record at once; when the server's broadcast for it arrives, the
// Pending record is replaced in place instead of appended a second time.
type Reconciler struct {
	mu       sync.Mutex
	sender   Sender
	caseID   string
	selfID   string
	selfName string
	list     []*Message
	onChange func()
}

func NewReconciler(sender Sender, caseID, selfID, selfName string) *Reconciler {
	return &Reconciler{
		sender:   sender,
		caseID:   caseID,
		selfID:   selfID,
		selfName: selfName,
	}
}

// OnChange registers a callback invoked after every visible-list mutation.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Seed replaces the list with fetched history, ordered by SentAt.
func (r *Reconciler) Seed(history []Message) {
	r.mu.Lock()
	r.list = make([]*Message, 0, len(history))
	for i := range history {
		m := history[i]
		r.list = append(r.list, &m)
	}
	sort.SliceStable(r.list, func(i, j int) bool {
		return r.list[i].SentAt.Before(r.list[j].SentAt)
	})
	r.mu.Unlock()
	r.changed()
}

// Submit appends an optimistic Pending record and issues the wire send.
// If the send fails the record is marked Failed and stays visible; it is
// never matched by a later broadcast.
func (r *Reconciler) Submit(ctx context.Context, body string) Message {
	msg := &Message{
		ID:         OptimisticID("tmp-" + uuid.NewString()),
		CaseID:     r.caseID,
		SenderID:   r.selfID,
		SenderName: r.selfName,
		Body:       body,
		SentAt:     time.Now(),
		Delivery:   Pending,
		ReadBy:     []string{r.selfID},
	}

	r.mu.Lock()
	r.list = append(r.list, msg)
	r.mu.Unlock()
	r.changed()

	if err := r.sender.SendMessage(ctx, r.caseID, body); err != nil {
		slog.Warn("chat send failed", "caseId", r.caseID, "error", err)
		r.mu.Lock()
		msg.Delivery = Failed
		r.mu.Unlock()
		r.changed()
	}
	return *msg
}

// Apply merges a server broadcast. A broadcast from the local user whose body
// matches a still-Pending record replaces the oldest such record in place
// (FIFO, so ordering survives duplicate bodies); anything else appends in
// receive order.
func (r *Reconciler) Apply(broadcast Message) {
	r.mu.Lock()
	if broadcast.CaseID != r.caseID {
		r.mu.Unlock()
		return
	}
	if broadcast.SenderID == r.selfID {
		for _, m := range r.list {
			if m.Delivery == Pending && m.Body == broadcast.Body {
				m.ID = broadcast.ID
				m.SentAt = broadcast.SentAt
				m.Delivery = Sent
				m.ReadBy = broadcast.ReadBy
				r.mu.Unlock()
				r.changed()
				return
			}
		}
	}
	b := broadcast
	r.list = append(r.list, &b)
	r.mu.Unlock()
	r.changed()
}

// MarkAllRead folds a confirmed chat-wide mark-read into the visible list:
// userID joins every confirmed message's read set. Call only after the server
// acknowledged the mark-read; read state is never applied speculatively.
func (r *Reconciler) MarkAllRead(userID string) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	changed := false
	for _, m := range r.list {
		if m.Delivery != Sent || m.ReadByContains(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
		changed = true
	}
	r.mu.Unlock()
	if changed {
		r.changed()
	}
}

// Messages returns a snapshot of the visible list. Confirmed messages are
// ordered by SentAt; Pending and Failed records keep their insertion slots.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.list))
	for _, m := range r.list {
		out = append(out, *m)
	}
	return out
}

// UnreadCount counts confirmed messages not yet read by userID and not sent
// by them. Anonymous viewers have no unread state.
func (r *Reconciler) UnreadCount(userID string) int {
	if userID == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.list {
		if m.Delivery != Sent {
			continue
		}
		if m.SenderID == userID {
			continue
		}
		if !m.ReadByContains(userID) {
			n++
		}
	}
	return n
}

func (r *Reconciler) changed() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}
