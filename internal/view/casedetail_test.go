package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riverline/casetrack/internal/api"
	"github.com/riverline/casetrack/internal/channel"
	"github.com/riverline/casetrack/internal/chat"
	"github.com/riverline/casetrack/internal/notify"
)

type fakeChannel struct {
	mu      sync.Mutex
	state   channel.State
	sendErr error
	sent    []string
	joined  []string
	left    []string
	subs    map[int]channel.Listener
	next    int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{state: channel.RoomJoined, subs: make(map[int]channel.Listener)}
}

func (f *fakeChannel) SendMessage(ctx context.Context, caseID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeChannel) JoinRoom(ctx context.Context, caseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, caseID)
	return nil
}

func (f *fakeChannel) LeaveRoom(ctx context.Context, caseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, caseID)
}

func (f *fakeChannel) Subscribe(l channel.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeChannel) State() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) broadcast(m chat.Message) {
	f.mu.Lock()
	listeners := make([]channel.Listener, 0, len(f.subs))
	for _, l := range f.subs {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		if l.OnBroadcast != nil {
			l.OnBroadcast(m)
		}
	}
}

func (f *fakeChannel) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeBackend struct {
	mu           sync.Mutex
	history      []chat.Message
	historyErr   error
	chatReads    []string
	chatReadErr  error
	remarkErr    error
	remarksAdded []string
}

func (f *fakeBackend) CaseMessages(ctx context.Context, caseID string) ([]chat.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeBackend) MarkChatRead(ctx context.Context, caseID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatReadErr != nil {
		return f.chatReadErr
	}
	f.chatReads = append(f.chatReads, caseID+":"+userID)
	return nil
}

func (f *fakeBackend) CreateRemark(ctx context.Context, caseID, serviceID, body string) (api.Remark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remarkErr != nil {
		return api.Remark{}, f.remarkErr
	}
	f.remarksAdded = append(f.remarksAdded, body)
	return api.Remark{ID: "r-1", CaseID: caseID, ServiceID: serviceID, Body: body}, nil
}

type fakePush struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakePush) SendNotification(ctx context.Context, userID, message, icon string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, userID)
	return nil
}

func (f *fakePush) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testView(ch *fakeChannel, backend *fakeBackend, push *fakePush) *CaseView {
	kase := api.Case{
		ID:            "c-1",
		Title:         "Fire safety audit",
		AssignedUsers: []api.UserRef{{ID: "u-1"}, {ID: "u-2"}},
		Services:      []api.Service{{ID: "s-1", CaseID: "c-1"}},
	}
	d := notify.NewDispatcher(push, "ops", "")
	return NewCaseView(kase, "u-1", "Ada", ch, backend, d)
}

func confirmed(id, sender, body string) chat.Message {
	return chat.Message{
		ID: chat.ConfirmedID(id), CaseID: "c-1", SenderID: sender,
		Body: body, SentAt: time.Now(), Delivery: chat.Sent,
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenSeedsJoinsAndMarksRead(t *testing.T) {
	ch := newFakeChannel()
	backend := &fakeBackend{history: []chat.Message{confirmed("m-1", "u-2", "earlier")}}
	v := testView(ch, backend, &fakePush{})

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(ch.joined) != 1 || ch.joined[0] != "c-1" {
		t.Errorf("joined = %v, want [c-1]", ch.joined)
	}
	if got := len(v.Messages()); got != 1 {
		t.Errorf("seeded messages = %d, want 1", got)
	}
	if len(backend.chatReads) != 1 {
		t.Errorf("chat reads = %v, want one", backend.chatReads)
	}
}

func TestOpenFailsWhenHistoryUnavailable(t *testing.T) {
	ch := newFakeChannel()
	backend := &fakeBackend{historyErr: errors.New("boom")}
	v := testView(ch, backend, &fakePush{})

	if err := v.Open(context.Background()); err == nil {
		t.Fatal("want error when history fetch fails")
	}
	if len(ch.joined) != 0 {
		t.Error("must not join room when mount fails")
	}
}

func TestCloseReleasesSubscriptionSynchronously(t *testing.T) {
	ch := newFakeChannel()
	v := testView(ch, &fakeBackend{}, &fakePush{})

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	v.Close(context.Background())

	if got := ch.subscriberCount(); got != 0 {
		t.Errorf("subscriptions after Close = %d, want 0", got)
	}
	if len(ch.left) != 1 || ch.left[0] != "c-1" {
		t.Errorf("left = %v, want [c-1]", ch.left)
	}

	// A straggler broadcast after teardown must not mutate the view.
	ch.broadcast(confirmed("m-9", "u-2", "late"))
	if got := len(v.Messages()); got != 0 {
		t.Errorf("messages after teardown broadcast = %d, want 0", got)
	}
}

func TestBroadcastAppliedWhileMounted(t *testing.T) {
	ch := newFakeChannel()
	backend := &fakeBackend{}
	v := testView(ch, backend, &fakePush{})

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ch.broadcast(confirmed("m-2", "u-2", "incoming"))

	if got := len(v.Messages()); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestChatUnreadClearsAfterConfirmedMarkRead(t *testing.T) {
	ch := newFakeChannel()
	backend := &fakeBackend{history: []chat.Message{confirmed("m-1", "u-2", "earlier")}}
	v := testView(ch, backend, &fakePush{})

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := v.ChatUnread("u-1"); got != 0 {
		t.Errorf("unread after open's mark-read = %d, want 0", got)
	}

	// New traffic while the view is open is re-marked read on the server,
	// and the confirmation keeps the badge at zero.
	ch.broadcast(confirmed("m-2", "u-2", "incoming"))
	if got := v.ChatUnread("u-1"); got != 0 {
		t.Errorf("unread after broadcast re-mark = %d, want 0", got)
	}
}

func TestChatUnreadUntouchedWhenMarkReadFails(t *testing.T) {
	ch := newFakeChannel()
	backend := &fakeBackend{
		history:     []chat.Message{confirmed("m-1", "u-2", "earlier")},
		chatReadErr: errors.New("backend down"),
	}
	v := testView(ch, backend, &fakePush{})

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Without server confirmation no read state is applied.
	if got := v.ChatUnread("u-1"); got != 1 {
		t.Errorf("unread after failed mark-read = %d, want 1", got)
	}
}

func TestSendFansOutToOthersAndOversight(t *testing.T) {
	ch := newFakeChannel()
	push := &fakePush{}
	v := testView(ch, &fakeBackend{}, push)

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	msg := v.Send(context.Background(), "hello")
	if msg.Delivery != chat.Pending {
		t.Errorf("delivery = %v, want Pending", msg.Delivery)
	}

	// u-2 (assigned, not actor) plus oversight.
	waitFor(t, func() bool { return push.count() == 2 }, "fan-out")
}

func TestFailedSendSkipsFanOut(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = channel.ErrNotConnected
	push := &fakePush{}
	v := testView(ch, &fakeBackend{}, push)

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	msg := v.Send(context.Background(), "hello")
	if msg.Delivery != chat.Failed {
		t.Fatalf("delivery = %v, want Failed", msg.Delivery)
	}

	time.Sleep(20 * time.Millisecond)
	if got := push.count(); got != 0 {
		t.Errorf("fan-out after failed send = %d, want 0", got)
	}
}

func TestAddRemarkSucceedsBeforeFanOut(t *testing.T) {
	ch := newFakeChannel()
	push := &fakePush{}
	backend := &fakeBackend{}
	v := testView(ch, backend, push)

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	remark, err := v.AddRemark(context.Background(), "s-1", "note")
	if err != nil {
		t.Fatalf("AddRemark: %v", err)
	}
	if remark.ID != "r-1" {
		t.Errorf("remark id = %s", remark.ID)
	}
	waitFor(t, func() bool { return push.count() == 2 }, "remark fan-out")
}

func TestAddRemarkErrorDoesNotFanOut(t *testing.T) {
	ch := newFakeChannel()
	push := &fakePush{}
	backend := &fakeBackend{remarkErr: errors.New("rejected")}
	v := testView(ch, backend, push)

	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := v.AddRemark(context.Background(), "s-1", "note"); err == nil {
		t.Fatal("want error")
	}
	time.Sleep(20 * time.Millisecond)
	if got := push.count(); got != 0 {
		t.Errorf("fan-out after failed remark = %d, want 0", got)
	}
}
