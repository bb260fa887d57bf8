package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riverline/casetrack/internal/chat"
)

// State is the lifecycle position of a Session. Owned exclusively by the
// Session; other components only observe it.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Identified
	RoomJoined
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Identified:
		return "identified"
	case RoomJoined:
		return "room-joined"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrNotConnected is returned for operations attempted without a live,
	// identified transport. Sends fail fast instead of hanging.
	ErrNotConnected = errors.New("channel not connected")
	// ErrClosed is returned once the session has been released.
	ErrClosed = errors.New("channel session closed")
)

// Listener receives session events. All callbacks are optional.
type Listener struct {
	OnBroadcast func(chat.Message)
	OnState     func(State)
	OnError     func(reason string)
}

// Options configures a Session.
type Options struct {
	URL         string
	Token       string
	UserID      string
	DisplayName string
	MaxRetries  int           // reconnect attempt ceiling
	RetryDelay  time.Duration // fixed delay between attempts
	Dialer      Dialer
}

const handshakeTimeout = 15 * time.Second

// Session owns one persistent channel connection: connect, identify, join
// per-case rooms, route broadcasts, reconnect with a bounded retry, and
// release every registered listener on teardown.
type Session struct {
	mu        sync.Mutex
	opts      Options
	state     State
	transport Transport
	gen       int // transport generation; stale read loops bail out
	rooms     map[string]bool
	queued    []Frame // ops deferred until RoomJoined
	listeners map[int]Listener
	nextSub   int
	pending   map[string]chan Frame // request id → response
	retrying  bool                  // a reconnect loop is running
	closed    bool
}

func NewSession(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{}
	}
	return &Session{
		opts:      opts,
		rooms:     make(map[string]bool),
		listeners: make(map[int]Listener),
		pending:   make(map[string]chan Frame),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener and returns its cancel func. Close releases
// all remaining listeners, so no subscription can outlive the session.
func (s *Session) Subscribe(l Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Connect establishes the transport and performs the identify handshake.
// On return the session is Identified (or an error is returned and the
// session is back to Disconnected). Valid from Disconnected and from Failed,
// so a caller can retry manually after the automatic attempts ran out.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Disconnected && s.state != Failed {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect in state %s", st)
	}
	s.state = Connecting
	s.mu.Unlock()
	s.notifyState(Connecting)

	tr, err := s.opts.Dialer.Dial(ctx, s.opts.URL)
	if err != nil {
		s.transition(Disconnected)
		return fmt.Errorf("dial channel: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tr.Close()
		return ErrClosed
	}
	s.transport = tr
	s.gen++
	gen := s.gen
	s.state = Connected
	s.mu.Unlock()
	s.notifyState(Connected)

	go s.readLoop(tr, gen)

	if err := s.identify(ctx); err != nil {
		s.dropTransport(tr, gen)
		s.transition(Disconnected)
		return err
	}
	s.transition(Identified)
	return nil
}

func (s *Session) identify(ctx context.Context) error {
	_, err := s.call(ctx, MethodIdentify, IdentifyParams{
		UserID:      s.opts.UserID,
		DisplayName: s.opts.DisplayName,
		Token:       s.opts.Token,
	})
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	return nil
}

// JoinRoom joins the per-case room. Valid from Identified or RoomJoined; a
// session may hold several rooms at once.
func (s *Session) JoinRoom(ctx context.Context, caseID string) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != Identified && st != RoomJoined {
		return fmt.Errorf("join room in state %s: %w", st, ErrNotConnected)
	}
	if _, err := s.call(ctx, MethodJoinRoom, RoomParams{CaseID: caseID}); err != nil {
		return err
	}

	s.mu.Lock()
	s.rooms[caseID] = true
	flush := s.queued
	s.queued = nil
	tr := s.transport
	s.mu.Unlock()
	s.transition(RoomJoined)

	for _, f := range flush {
		if tr == nil {
			s.resolvePending(f.ID, Frame{})
			continue
		}
		if err := tr.WriteFrame(f); err != nil {
			slog.Warn("flush queued op failed", "method", f.Method, "error", err)
			s.resolvePending(f.ID, Frame{})
		}
	}
	return nil
}

// LeaveRoom releases the per-case room membership. Best-effort on the wire;
// local room state is dropped regardless.
func (s *Session) LeaveRoom(ctx context.Context, caseID string) {
	s.mu.Lock()
	delete(s.rooms, caseID)
	remaining := len(s.rooms)
	st := s.state
	s.mu.Unlock()

	if st == RoomJoined || st == Identified {
		if _, err := s.call(ctx, MethodLeaveRoom, RoomParams{CaseID: caseID}); err != nil {
			slog.Debug("leave room failed", "caseId", caseID, "error", err)
		}
	}
	if st == RoomJoined && remaining == 0 {
		s.transition(Identified)
	}
}

// SendMessage sends a chat message to the case room. While the room join is
// still settling the op is queued and flushed on RoomJoined; in any
// disconnected state it fails fast so the caller can mark its optimistic
// record Failed. A server rejection is returned once and never auto-retried.
func (s *Session) SendMessage(ctx context.Context, caseID, body string) error {
	s.mu.Lock()
	switch s.state {
	case RoomJoined:
		tr := s.transport
		s.mu.Unlock()
		if tr == nil {
			return ErrNotConnected
		}
		_, err := s.call(ctx, MethodSend, SendParams{CaseID: caseID, Body: body})
		return err
	case Identified:
		id := uuid.NewString()
		ch := make(chan Frame, 1)
		s.pending[id] = ch
		s.queued = append(s.queued, Req(id, MethodSend, SendParams{CaseID: caseID, Body: body}))
		s.mu.Unlock()
		return s.await(ctx, id, ch, MethodSend)
	default:
		s.mu.Unlock()
		return ErrNotConnected
	}
}

// Close tears the session down: the transport is closed, every pending call
// fails, and all listeners are released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tr := s.transport
	s.transport = nil
	s.gen++
	s.failPendingLocked()
	s.listeners = make(map[int]Listener)
	s.state = Disconnected
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
}

// call sends a request frame and waits for its response.
func (s *Session) call(ctx context.Context, method string, params any) (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, ErrClosed
	}
	tr := s.transport
	if tr == nil {
		s.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan Frame, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	if err := tr.WriteFrame(Req(id, method, params)); err != nil {
		s.dropPending(id)
		return Frame{}, fmt.Errorf("write %s: %w", method, err)
	}
	res, err := s.awaitFrame(ctx, id, ch, method)
	if err != nil {
		return Frame{}, err
	}
	return res, nil
}

func (s *Session) await(ctx context.Context, id string, ch chan Frame, method string) error {
	_, err := s.awaitFrame(ctx, id, ch, method)
	return err
}

func (s *Session) awaitFrame(ctx context.Context, id string, ch chan Frame, method string) (Frame, error) {
	select {
	case res, ok := <-ch:
		if !ok || res.Type == "" {
			return Frame{}, ErrNotConnected
		}
		if res.OK != nil && !*res.OK {
			if res.Error != nil {
				return Frame{}, fmt.Errorf("%s rejected: %s", method, res.Error.Message)
			}
			return Frame{}, fmt.Errorf("%s rejected", method)
		}
		return res, nil
	case <-ctx.Done():
		s.dropPending(id)
		return Frame{}, ctx.Err()
	}
}

func (s *Session) dropPending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// resolvePending delivers a frame (or a zero frame meaning transport loss)
// to a waiting caller.
func (s *Session) resolvePending(id string, frame Frame) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		ch <- frame
	}
}

func (s *Session) failPendingLocked() {
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.queued = nil
}

func (s *Session) readLoop(tr Transport, gen int) {
	for {
		frame, err := tr.ReadFrame()
		if err != nil {
			s.handleTransportLoss(tr, gen, err)
			return
		}
		switch frame.Type {
		case "res":
			s.resolvePending(frame.ID, frame)
		case "event":
			s.dispatchEvent(frame)
		}
	}
}

func (s *Session) dispatchEvent(frame Frame) {
	switch frame.Event {
	case EventMessageBroadcast:
		var w chat.WireMessage
		if err := json.Unmarshal(frame.Payload, &w); err != nil {
			slog.Warn("malformed broadcast payload", "error", err)
			return
		}
		msg := w.Message()
		for _, l := range s.snapshotListeners() {
			if l.OnBroadcast != nil {
				l.OnBroadcast(msg)
			}
		}
	case EventSessionError:
		var p SessionErrorPayload
		_ = json.Unmarshal(frame.Payload, &p)
		slog.Warn("channel session error", "reason", p.Reason)
		s.notifyError(p.Reason)
	}
}

func (s *Session) handleTransportLoss(tr Transport, gen int, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.transport = nil
	s.failPendingLocked()
	midRetry := s.retrying
	s.retrying = true
	s.mu.Unlock()
	tr.Close()

	// A transport lost during a reconnect handshake fails the pending calls
	// above and the running loop counts it as a failed attempt; a second loop
	// here would reset the attempt counter and dial past the ceiling.
	if midRetry {
		return
	}

	slog.Warn("channel transport lost", "error", err)
	s.transition(Reconnecting)
	s.reconnect()
}

// reconnect retries the transport up to the configured ceiling with a fixed
// delay between attempts. On success the session re-identifies and re-joins
// all rooms; past the ceiling it reaches Failed and stops. Exactly one loop
// runs at a time.
func (s *Session) reconnect() {
	defer func() {
		s.mu.Lock()
		s.retrying = false
		s.mu.Unlock()
	}()

	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		time.Sleep(s.opts.RetryDelay)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		tr, err := s.opts.Dialer.Dial(dialCtx, s.opts.URL)
		cancel()
		if err != nil {
			slog.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			tr.Close()
			return
		}
		s.transport = tr
		s.gen++
		gen := s.gen
		rooms := make([]string, 0, len(s.rooms))
		for room := range s.rooms {
			rooms = append(rooms, room)
		}
		s.mu.Unlock()

		go s.readLoop(tr, gen)
		s.transition(Connected)

		hctx, hcancel := context.WithTimeout(context.Background(), handshakeTimeout)
		err = s.identify(hctx)
		if err == nil {
			s.transition(Identified)
			for _, room := range rooms {
				if _, jerr := s.call(hctx, MethodJoinRoom, RoomParams{CaseID: room}); jerr != nil {
					err = jerr
					break
				}
			}
		}
		hcancel()
		if err != nil {
			slog.Warn("reconnect handshake failed", "attempt", attempt, "error", err)
			s.dropTransport(tr, gen)
			continue
		}

		if len(rooms) > 0 {
			s.transition(RoomJoined)
		}
		slog.Info("channel reconnected", "attempt", attempt)
		return
	}

	s.transition(Failed)
	s.notifyError("reconnect attempts exhausted")
}

// dropTransport detaches a transport without triggering reconnect.
func (s *Session) dropTransport(tr Transport, gen int) {
	s.mu.Lock()
	if s.gen == gen {
		s.gen++
		s.transport = nil
		s.failPendingLocked()
	}
	s.mu.Unlock()
	tr.Close()
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	if s.state == to || s.closed {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.notifyState(to)
}

func (s *Session) notifyState(st State) {
	for _, l := range s.snapshotListeners() {
		if l.OnState != nil {
			l.OnState(st)
		}
	}
}

func (s *Session) notifyError(reason string) {
	for _, l := range s.snapshotListeners() {
		if l.OnError != nil {
			l.OnError(reason)
		}
	}
}

func (s *Session) snapshotListeners() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}
