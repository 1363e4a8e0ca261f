package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"direct-chat/internal/domain"
	"direct-chat/internal/feed"
	"direct-chat/internal/repository"
	"direct-chat/internal/service"
)

const waitTimeout = 2 * time.Second

type stack struct {
	store      *repository.MemoryStore
	rooms      *service.RoomService
	messages   *service.MessageService
	dispatcher *feed.Dispatcher
	manager    *Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	notifier := feed.NewLocalNotifier()
	rooms := service.NewRoomService(logger, store)
	messages := service.NewMessageService(logger, rooms, store, notifier, time.Second)
	dispatcher := feed.NewDispatcher(logger, messages, notifier)
	t.Cleanup(dispatcher.Close)
	return &stack{
		store:      store,
		rooms:      rooms,
		messages:   messages,
		dispatcher: dispatcher,
		manager:    NewManager(logger, rooms, messages, dispatcher),
	}
}

func waitView(t *testing.T, s *Session, desc string, ok func(View) bool) View {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		v := s.View()
		if ok(v) {
			return v
		}
		select {
		case _, open := <-s.Changes():
			if !open {
				v = s.View()
				if ok(v) {
					return v
				}
				t.Fatalf("session closed while waiting for %s", desc)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, last view %+v", desc, v)
		}
	}
}

func isActive(v View) bool { return v.State == StateActive }

type fakeResolver struct {
	room    domain.ChatRoom
	err     error
	release chan struct{}
}

func (f *fakeResolver) Resolve(ctx context.Context, _, _ string) (domain.ChatRoom, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.ChatRoom{}, ctx.Err()
		}
	}
	return f.room, f.err
}

type fakeSubscriber struct {
	mu           sync.Mutex
	onUpdate     feed.UpdateFunc
	onError      feed.ErrorFunc
	err          error
	release      chan struct{}
	unsubscribes int32
}

func (f *fakeSubscriber) Subscribe(_ context.Context, _ string, onUpdate feed.UpdateFunc, onError feed.ErrorFunc) (feed.Unsubscribe, error) {
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.onUpdate = onUpdate
	f.onError = onError
	f.mu.Unlock()
	return func() { atomic.AddInt32(&f.unsubscribes, 1) }, nil
}

func (f *fakeSubscriber) push(snap domain.Snapshot) {
	f.mu.Lock()
	fn := f.onUpdate
	f.mu.Unlock()
	fn(snap)
}

func (f *fakeSubscriber) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

type flakySender struct {
	inner   MessageSender
	mu      sync.Mutex
	err     error
	release chan struct{}
}

func (f *flakySender) Append(ctx context.Context, roomID, senderID, text string) (domain.Message, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return domain.Message{}, err
	}
	return f.inner.Append(ctx, roomID, senderID, text)
}

func (f *flakySender) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestOpenChat_BecomesActive(t *testing.T) {
	st := newStack(t)
	s := st.manager.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2", DisplayName: "Bob"})
	t.Cleanup(s.Close)

	v := waitView(t, s, "active", isActive)
	if v.RoomID == "" {
		t.Fatalf("expected room id once active")
	}
	if len(v.Transcript) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(v.Transcript))
	}
	if v.Error != nil {
		t.Fatalf("expected no error, got %+v", v.Error)
	}
	if v.Partner.AvatarURL != domain.DefaultAvatarURL {
		t.Fatalf("expected default avatar, got %q", v.Partner.AvatarURL)
	}
	if got := st.dispatcher.SubscriberCount(v.RoomID); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
}

func TestOpenChat_MissingIdentity(t *testing.T) {
	st := newStack(t)
	cases := []struct {
		name    string
		self    string
		partner string
	}{
		{name: "missing self", self: "", partner: "u2"},
		{name: "missing partner", self: "u1", partner: " "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := st.manager.OpenChat(context.Background(), tc.self, domain.Partner{ID: tc.partner})
			t.Cleanup(s.Close)

			v := s.View()
			if v.State != StateFailed {
				t.Fatalf("expected failed, got %s", v.State)
			}
			if v.Error == nil || v.Error.Kind != KindMissingIdentity {
				t.Fatalf("expected MissingIdentity, got %+v", v.Error)
			}
			if v.Error.Message != msgMissingIdentity {
				t.Fatalf("unexpected message %q", v.Error.Message)
			}
			if err := s.Send(context.Background(), "hi"); !errors.Is(err, ErrSessionNotActive) {
				t.Fatalf("expected ErrSessionNotActive, got %v", err)
			}
		})
	}
	if got := st.dispatcher.RoomCount(); got != 0 {
		t.Fatalf("expected no room feeds, got %d", got)
	}
}

func TestOpenChat_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("db down")
	m := NewManager(zap.NewNop(), &fakeResolver{err: resolveErr}, &flakySender{}, &fakeSubscriber{})
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	t.Cleanup(s.Close)

	v := waitView(t, s, "failed", func(v View) bool { return v.State == StateFailed })
	if v.Error == nil || v.Error.Kind != KindChatInitFailed {
		t.Fatalf("expected ChatInitFailed, got %+v", v.Error)
	}
	if !errors.Is(v.Error, resolveErr) {
		t.Fatalf("expected cause to be kept, got %v", v.Error.Err)
	}
	if v.Error.Message != msgChatInitFailed {
		t.Fatalf("unexpected message %q", v.Error.Message)
	}
}

func TestOpenChat_SubscribeFailure(t *testing.T) {
	sub := &fakeSubscriber{err: feed.ErrFeed}
	m := NewManager(zap.NewNop(), &fakeResolver{room: domain.ChatRoom{ID: "r1"}}, &flakySender{}, sub)
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	t.Cleanup(s.Close)

	v := waitView(t, s, "failed", func(v View) bool { return v.State == StateFailed })
	if v.Error == nil || v.Error.Kind != KindChatInitFailed {
		t.Fatalf("expected ChatInitFailed, got %+v", v.Error)
	}
	if v.RoomID != "" {
		t.Fatalf("expected no room on failure, got %q", v.RoomID)
	}
}

func TestSend_DeliveredToBothParticipants(t *testing.T) {
	st := newStack(t)
	alice := st.manager.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	bob := st.manager.OpenChat(context.Background(), "u2", domain.Partner{ID: "u1"})
	t.Cleanup(alice.Close)
	t.Cleanup(bob.Close)

	av := waitView(t, alice, "alice active", isActive)
	bv := waitView(t, bob, "bob active", isActive)
	if av.RoomID != bv.RoomID {
		t.Fatalf("expected shared room, got %q and %q", av.RoomID, bv.RoomID)
	}

	ctx := context.Background()
	if err := alice.Send(ctx, "hi"); err != nil {
		t.Fatalf("alice send: %v", err)
	}
	if err := bob.Send(ctx, "  yo  "); err != nil {
		t.Fatalf("bob send: %v", err)
	}

	two := func(v View) bool { return len(v.Transcript) == 2 }
	av = waitView(t, alice, "alice transcript", two)
	bv = waitView(t, bob, "bob transcript", two)

	if av.Transcript[0].Text != "hi" || av.Transcript[1].Text != "yo" {
		t.Fatalf("unexpected order %+v", av.Transcript)
	}
	if !av.Transcript[0].IsSelf || av.Transcript[1].IsSelf {
		t.Fatalf("unexpected self tagging for alice %+v", av.Transcript)
	}
	if bv.Transcript[0].IsSelf || !bv.Transcript[1].IsSelf {
		t.Fatalf("unexpected self tagging for bob %+v", bv.Transcript)
	}
	if av.Input != "" || av.Sending {
		t.Fatalf("expected cleared input after send, got %+v", av)
	}
}

func TestSend_FailurePreservesInput(t *testing.T) {
	st := newStack(t)
	sender := &flakySender{inner: st.messages, err: errors.New("write failed")}
	m := NewManager(zap.NewNop(), st.rooms, sender, st.dispatcher)
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	t.Cleanup(s.Close)
	waitView(t, s, "active", isActive)

	err := s.Send(context.Background(), "hello")
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Kind != KindSendFailed {
		t.Fatalf("expected SendFailed, got %v", err)
	}
	v := s.View()
	if v.Input != "hello" || v.Sending {
		t.Fatalf("expected input preserved and sending cleared, got %+v", v)
	}
	if v.Error == nil || v.Error.Message != msgSendFailed {
		t.Fatalf("expected send failure message, got %+v", v.Error)
	}
	if len(v.Transcript) != 0 {
		t.Fatalf("expected transcript unchanged, got %d", len(v.Transcript))
	}

	sender.setErr(nil)
	if err := s.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	v = waitView(t, s, "retried message", func(v View) bool { return len(v.Transcript) == 1 })
	if v.Error != nil || v.Input != "" {
		t.Fatalf("expected error and input cleared, got %+v", v)
	}
	if err := s.Retry(context.Background()); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("expected ErrNothingToRetry, got %v", err)
	}
}

func TestSend_Validation(t *testing.T) {
	st := newStack(t)
	s := st.manager.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	t.Cleanup(s.Close)
	waitView(t, s, "active", isActive)

	if err := s.Send(context.Background(), "   "); !errors.Is(err, service.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if v := s.View(); v.Error != nil || v.Sending {
		t.Fatalf("expected untouched session, got %+v", v)
	}
	if err := st.manager.SendMessage(context.Background(), "missing", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := st.manager.SendMessage(context.Background(), s.ID(), "hi"); err != nil {
		t.Fatalf("send through manager: %v", err)
	}
}

func TestSend_NotActiveWhileResolving(t *testing.T) {
	resolver := &fakeResolver{room: domain.ChatRoom{ID: "r1"}, release: make(chan struct{})}
	m := NewManager(zap.NewNop(), resolver, &flakySender{}, &fakeSubscriber{})
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	t.Cleanup(s.Close)

	if v := s.View(); v.State != StateResolving {
		t.Fatalf("expected resolving, got %s", v.State)
	}
	if err := s.Send(context.Background(), "hi"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	close(resolver.release)
	waitView(t, s, "active", isActive)
}

func TestSend_RejectsConcurrentSend(t *testing.T) {
	st := newStack(t)
	sender := &flakySender{inner: st.messages, release: make(chan struct{})}
	m := NewManager(zap.NewNop(), st.rooms, sender, st.dispatcher)
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	t.Cleanup(s.Close)
	waitView(t, s, "active", isActive)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "first") }()
	waitView(t, s, "sending", func(v View) bool { return v.Sending })

	if err := s.Send(context.Background(), "second"); !errors.Is(err, ErrSendInProgress) {
		t.Fatalf("expected ErrSendInProgress, got %v", err)
	}
	close(sender.release)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	v := waitView(t, s, "one message", func(v View) bool { return len(v.Transcript) == 1 && !v.Sending })
	if v.Transcript[0].Text != "first" {
		t.Fatalf("unexpected transcript %+v", v.Transcript)
	}
}

func TestFeedError_KeepsTranscript(t *testing.T) {
	sub := &fakeSubscriber{}
	m := NewManager(zap.NewNop(), &fakeResolver{room: domain.ChatRoom{ID: "r1"}}, &flakySender{}, sub)
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	t.Cleanup(s.Close)
	waitView(t, s, "active", isActive)

	msg := domain.Message{ID: "m1", RoomID: "r1", SenderID: "u2", Text: "hey", Seq: 1, CreatedAt: time.Now()}
	sub.push(domain.NewSnapshot("r1", []domain.Message{msg}))
	sub.fail(feed.ErrFeed)

	v := s.View()
	if v.Error == nil || v.Error.Kind != KindFeedError {
		t.Fatalf("expected FeedError, got %+v", v.Error)
	}
	if v.State != StateActive {
		t.Fatalf("expected session to stay active, got %s", v.State)
	}
	if len(v.Transcript) != 1 || v.Transcript[0].IsSelf {
		t.Fatalf("expected transcript kept, got %+v", v.Transcript)
	}

	sub.push(domain.NewSnapshot("r1", []domain.Message{msg}))
	if v := s.View(); v.Error != nil {
		t.Fatalf("expected error cleared by snapshot, got %+v", v.Error)
	}
}

func TestCloseChat_ReleasesSubscription(t *testing.T) {
	st := newStack(t)
	s := st.manager.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	v := waitView(t, s, "active", isActive)

	if err := st.manager.CloseChat(s.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := st.dispatcher.SubscriberCount(v.RoomID); got != 0 {
		t.Fatalf("expected subscription released, got %d", got)
	}
	if got := st.manager.ActiveSessions(); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}
	if err := st.manager.CloseChat(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, open := <-s.Changes(); open {
		t.Fatalf("expected changes channel closed")
	}
	if err := s.Send(context.Background(), "late"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	s.Close()
}

func TestClose_DuringResolving(t *testing.T) {
	resolver := &fakeResolver{room: domain.ChatRoom{ID: "r1"}, release: make(chan struct{})}
	sub := &fakeSubscriber{}
	m := NewManager(zap.NewNop(), resolver, &flakySender{}, sub)
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})

	s.Close()
	time.Sleep(20 * time.Millisecond)
	v := s.View()
	if v.Error != nil {
		t.Fatalf("expected cancelled resolution to be ignored, got %+v", v.Error)
	}
	if !v.Closed {
		t.Fatalf("expected closed view")
	}
	if got := atomic.LoadInt32(&sub.unsubscribes); got != 0 {
		t.Fatalf("expected no subscription, got %d unsubscribes", got)
	}
}

func TestClose_ReleasesLateSubscription(t *testing.T) {
	sub := &fakeSubscriber{release: make(chan struct{})}
	m := NewManager(zap.NewNop(), &fakeResolver{room: domain.ChatRoom{ID: "r1"}}, &flakySender{}, sub)
	s := m.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})

	s.Close()
	close(sub.release)

	deadline := time.Now().Add(waitTimeout)
	for atomic.LoadInt32(&sub.unsubscribes) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected late subscription to be released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if v := s.View(); v.State == StateActive {
		t.Fatalf("expected session not to become active after close")
	}
}

func TestManager_CloseAll(t *testing.T) {
	st := newStack(t)
	a := st.manager.OpenChat(context.Background(), "u1", domain.Partner{ID: "u2"})
	b := st.manager.OpenChat(context.Background(), "u3", domain.Partner{ID: "u4"})
	waitView(t, a, "a active", isActive)
	waitView(t, b, "b active", isActive)

	st.manager.CloseAll()
	if got := st.manager.ActiveSessions(); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}
	if got := st.dispatcher.RoomCount(); got != 0 {
		t.Fatalf("expected no room feeds, got %d", got)
	}
}
