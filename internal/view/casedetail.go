// Package view owns the case-detail lifecycle: seed history, join the case
// room, route broadcasts into the reconciler, and guarantee that teardown
// releases every subscription before the next render.
package view

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/riverline/casetrack/internal/api"
	"github.com/riverline/casetrack/internal/channel"
	"github.com/riverline/casetrack/internal/chat"
	"github.com/riverline/casetrack/internal/notify"
)

// Channel is the slice of *channel.Session the view needs.
type Channel interface {
	chat.Sender
	JoinRoom(ctx context.Context, caseID string) error
	LeaveRoom(ctx context.Context, caseID string)
	Subscribe(channel.Listener) (cancel func())
	State() channel.State
}

// CaseAPI is the slice of *api.Client the view needs.
type CaseAPI interface {
	CaseMessages(ctx context.Context, caseID string) ([]chat.Message, error)
	MarkChatRead(ctx context.Context, caseID, userID string) error
	CreateRemark(ctx context.Context, caseID, serviceID, body string) (api.Remark, error)
}

// CaseView is one open case-detail view. Open acquires the room; Close
// releases it. Async continuations check the mounted flag so nothing mutates
// view state after teardown.
type CaseView struct {
	mu        sync.Mutex
	mounted   bool
	cancelSub func()
	connState channel.State

	kase       api.Case
	userID     string
	userName   string
	session    Channel
	backend    CaseAPI
	dispatcher *notify.Dispatcher
	rec        *chat.Reconciler
	onChange   func()
}

func NewCaseView(kase api.Case, userID, userName string, session Channel, backend CaseAPI, dispatcher *notify.Dispatcher) *CaseView {
	v := &CaseView{
		kase:       kase,
		userID:     userID,
		userName:   userName,
		session:    session,
		backend:    backend,
		dispatcher: dispatcher,
	}
	v.rec = chat.NewReconciler(session, kase.ID, userID, userName)
	return v
}

// OnChange registers a callback fired whenever the visible state changes.
func (v *CaseView) OnChange(fn func()) {
	v.onChange = fn
	v.rec.OnChange(fn)
}

// Open mounts the view: seed chat history, join the case room, subscribe to
// broadcasts, and mark the case's chat read for the viewer.
func (v *CaseView) Open(ctx context.Context) error {
	history, err := v.backend.CaseMessages(ctx, v.kase.ID)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	v.rec.Seed(history)

	if err := v.session.JoinRoom(ctx, v.kase.ID); err != nil {
		return fmt.Errorf("join case room: %w", err)
	}

	cancel := v.session.Subscribe(channel.Listener{
		OnBroadcast: v.handleBroadcast,
		OnState:     v.handleState,
	})

	v.mu.Lock()
	v.mounted = true
	v.cancelSub = cancel
	v.connState = v.session.State()
	v.mu.Unlock()

	if err := v.backend.MarkChatRead(ctx, v.kase.ID, v.userID); err != nil {
		slog.Warn("mark chat read failed", "caseId", v.kase.ID, "error", err)
	} else {
		v.rec.MarkAllRead(v.userID)
	}
	return nil
}

// Close unmounts the view. The subscription is cancelled synchronously, so
// no broadcast callback runs against a torn-down view.
func (v *CaseView) Close(ctx context.Context) {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = false
	cancel := v.cancelSub
	v.cancelSub = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	v.session.LeaveRoom(ctx, v.kase.ID)
}

// Send submits a chat message. The optimistic record is visible before the
// wire send completes; fan-out fires only after the send is on its way and
// never affects the send's outcome.
func (v *CaseView) Send(ctx context.Context, body string) chat.Message {
	msg := v.rec.Submit(ctx, body)
	if msg.Delivery != chat.Failed {
		go v.dispatcher.Dispatch(context.Background(), v.userID,
			v.kase.AssignedUsers, v.userName+" sent a message on "+v.caseLabel())
	}
	return msg
}

// AddRemark creates a remark on a service over request/response. The action
// succeeds as soon as the remark is stored; fan-out runs detached.
func (v *CaseView) AddRemark(ctx context.Context, serviceID, body string) (api.Remark, error) {
	remark, err := v.backend.CreateRemark(ctx, v.kase.ID, serviceID, body)
	if err != nil {
		return api.Remark{}, err
	}
	go v.dispatcher.Dispatch(context.Background(), v.userID,
		v.kase.AssignedUsers, v.userName+" added a remark on "+v.caseLabel())
	return remark, nil
}

// Messages returns the current visible chat list.
func (v *CaseView) Messages() []chat.Message {
	return v.rec.Messages()
}

// ConnState returns the channel state for the disconnected indicator.
func (v *CaseView) ConnState() channel.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connState
}

// ChatUnread counts confirmed messages unread by userID.
func (v *CaseView) ChatUnread(userID string) int {
	return v.rec.UnreadCount(userID)
}

func (v *CaseView) handleBroadcast(msg chat.Message) {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	v.rec.Apply(msg)

	// The viewer is looking at the conversation, so new traffic is read.
	if msg.SenderID != v.userID {
		if err := v.backend.MarkChatRead(context.Background(), v.kase.ID, v.userID); err != nil {
			slog.Debug("mark chat read failed", "caseId", v.kase.ID, "error", err)
		} else {
			v.rec.MarkAllRead(v.userID)
		}
	}
}

func (v *CaseView) handleState(st channel.State) {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.connState = st
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (v *CaseView) caseLabel() string {
	if v.kase.Title != "" {
		return v.kase.Title
	}
	return "case " + v.kase.ID
}
