// Package notify fans a human-readable alert out to everyone assigned to a
// case after a state-changing action. Delivery is best-effort: each recipient
// is independent, and no failure here ever reaches the user who acted.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/riverline/casetrack/internal/api"
)

// PushSender delivers one alert. Satisfied by *api.Client.
type PushSender interface {
	SendNotification(ctx context.Context, userID, message, icon string) error
}

// Dispatcher sends one alert per case-assigned user (minus the actor) plus
// exactly one to the designated oversight account.
type Dispatcher struct {
	mu          sync.RWMutex
	sender      PushSender
	oversightID string
	icon        string
}

func NewDispatcher(sender PushSender, oversightID, icon string) *Dispatcher {
	return &Dispatcher{sender: sender, oversightID: oversightID, icon: icon}
}

// SetOversight swaps the oversight account id (config hot reload).
func (d *Dispatcher) SetOversight(id string) {
	d.mu.Lock()
	d.oversightID = id
	d.mu.Unlock()
}

// Dispatch delivers the alert to every assigned user except the actor, then
// to the oversight account. A failed delivery is logged and skipped; the
// remaining recipients still get theirs. Callers run this on a goroutine
// after their primary mutation has already succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, actorID string, assigned []api.UserRef, message string) {
	d.mu.RLock()
	oversight := d.oversightID
	icon := d.icon
	d.mu.RUnlock()

	delivered := make(map[string]bool)
	for _, u := range assigned {
		if u.ID == "" || u.ID == actorID || delivered[u.ID] {
			continue
		}
		delivered[u.ID] = true
		d.send(ctx, u.ID, message, icon)
	}

	if oversight != "" && oversight != actorID && !delivered[oversight] {
		d.send(ctx, oversight, message, icon)
	}
}

func (d *Dispatcher) send(ctx context.Context, userID, message, icon string) {
	if err := d.sender.SendNotification(ctx, userID, message, icon); err != nil {
		slog.Warn("notification delivery failed", "userId", userID, "error", err)
	}
}
