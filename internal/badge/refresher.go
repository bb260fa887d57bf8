// Package badge keeps the per-case and per-service unread badges current by
// periodically re-fetching the remark stream and recomputing the unread
// index from scratch.
package badge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/riverline/casetrack/internal/api"
	"github.com/riverline/casetrack/internal/readstate"
)

// Lister is the slice of *api.Client the refresher needs.
type Lister interface {
	Cases(ctx context.Context) ([]api.Case, error)
	RecentRemarks(ctx context.Context) ([]api.Remark, error)
}

// ChatCounter supplies the per-case unread chat counts (from open views and
// broadcast traffic). Chats and remarks stay separately attributed.
type ChatCounter func() map[string]int

// Refresher recomputes the unread index on a cron schedule and on demand.
// The index is derived state: every refresh rebuilds it as a pure function
// of the fetched lists, so it can never drift from source data.
type Refresher struct {
	mu        sync.RWMutex
	backend   Lister
	store     *readstate.Store
	userID    string
	chatCount ChatCounter
	cron      *cron.Cron
	index     readstate.Index
	cases     []api.Case
	remarks   []api.Remark
	onChange  func(readstate.Index)
}

func NewRefresher(backend Lister, store *readstate.Store, userID string, chatCount ChatCounter) *Refresher {
	return &Refresher{
		backend:   backend,
		store:     store,
		userID:    userID,
		chatCount: chatCount,
		index: readstate.Index{
			ByCase:    make(map[string]readstate.Counts),
			ByService: make(map[string]int),
		},
	}
}

// OnChange registers a callback invoked with each freshly computed index.
func (r *Refresher) OnChange(fn func(readstate.Index)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Start schedules periodic refreshes. The schedule is a cron expression with
// seconds granularity, e.g. "*/30 * * * * *".
func (r *Refresher) Start(schedule string) error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			slog.Warn("badge refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule badge refresh: %w", err)
	}
	c.Start()
	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()
	return nil
}

// Stop halts scheduled refreshes.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// Refresh fetches cases and remarks and rebuilds the unread index.
func (r *Refresher) Refresh(ctx context.Context) error {
	cases, err := r.backend.Cases(ctx)
	if err != nil {
		return fmt.Errorf("fetch cases: %w", err)
	}
	remarks, err := r.backend.RecentRemarks(ctx)
	if err != nil {
		return fmt.Errorf("fetch remarks: %w", err)
	}

	for _, rm := range remarks {
		r.store.Seed(rm.ID, rm.ReadBy)
	}

	r.mu.Lock()
	r.cases = cases
	r.remarks = remarks
	r.mu.Unlock()

	r.recompute()
	return nil
}

// MarkRemarkRead folds a confirmed mark-read into the local store and
// recomputes. Call only after the server acknowledged the mark-read; read
// state is never applied speculatively.
func (r *Refresher) MarkRemarkRead(remarkID string) {
	r.store.MarkRead(remarkID, r.userID)
	r.recompute()
}

// Recompute rebuilds the index from the cached lists, e.g. after chat unread
// counts changed.
func (r *Refresher) Recompute() {
	r.recompute()
}

// Index returns the latest computed index.
func (r *Refresher) Index() readstate.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

func (r *Refresher) recompute() {
	var chats map[string]int
	if r.chatCount != nil {
		chats = r.chatCount()
	}

	r.mu.Lock()
	idx := readstate.Compute(r.store, r.cases, r.remarks, chats, r.userID)
	r.index = idx
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(idx)
	}
}
