package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"direct-chat/internal/domain"
	"direct-chat/internal/feed"
	"direct-chat/internal/service"
)

type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateActive    State = "active"
	StateFailed    State = "failed"
)

type ErrorKind string

const (
	KindMissingIdentity ErrorKind = "MissingIdentity"
	KindChatInitFailed  ErrorKind = "ChatInitFailed"
	KindSendFailed      ErrorKind = "SendFailed"
	KindFeedError       ErrorKind = "FeedError"
)

// Textos visibles para el usuario.
const (
	msgMissingIdentity = "Unable to start chat: missing user information."
	msgChatInitFailed  = "Failed to start chat. Please try again later."
	msgSendFailed      = "Failed to send message. Try again."
	msgFeedError       = "Live updates interrupted."
)

var (
	ErrSessionNotActive = errors.New("session not active")
	ErrSendInProgress   = errors.New("send in progress")
	ErrSessionClosed    = errors.New("session closed")
	ErrNothingToRetry   = errors.New("nothing to retry")
)

// SessionError es el unico error visible de una sesion.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *SessionError) Unwrap() error { return e.Err }

// RoomResolver resuelve la sala del par.
type RoomResolver interface {
	Resolve(ctx context.Context, a, b string) (domain.ChatRoom, error)
}

// MessageSender agrega mensajes a una sala.
type MessageSender interface {
	Append(ctx context.Context, roomID, senderID, text string) (domain.Message, error)
}

// FeedSubscriber entrega snapshots en vivo de una sala.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, roomID string, onUpdate feed.UpdateFunc, onError feed.ErrorFunc) (feed.Unsubscribe, error)
}

type TranscriptEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	IsSelf    bool      `json:"is_self"`
	CreatedAt time.Time `json:"created_at"`
}

// View es el estado observable de la sesion para renderizar.
type View struct {
	ID         string            `json:"id"`
	State      State             `json:"state"`
	Sending    bool              `json:"sending"`
	Closed     bool              `json:"closed"`
	RoomID     string            `json:"room_id,omitempty"`
	SelfID     string            `json:"self_id"`
	Partner    domain.Partner    `json:"partner"`
	Transcript []TranscriptEntry `json:"transcript"`
	Input      string            `json:"input,omitempty"`
	Error      *SessionError     `json:"error,omitempty"`
}

// Session es la maquina de estados de un visor:
// Idle -> Resolving -> {Active, Failed}, con Sending dentro de Active.
type Session struct {
	id       string
	selfID   string
	partner  domain.Partner
	logger   *zap.Logger
	rooms    RoomResolver
	messages MessageSender
	feed     FeedSubscriber
	onClose  func(*Session)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	sending     bool
	roomID      string
	transcript  []TranscriptEntry
	input       string
	err         *SessionError
	unsubscribe feed.Unsubscribe
	closed      bool
	changes     chan struct{}
}

func newSession(ctx context.Context, id, selfID string, partner domain.Partner, logger *zap.Logger, rooms RoomResolver, messages MessageSender, subscriber FeedSubscriber) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:         id,
		selfID:     strings.TrimSpace(selfID),
		partner:    partner.Normalized(),
		logger:     logger.With(zap.String("session_id", id)),
		rooms:      rooms,
		messages:   messages,
		feed:       subscriber,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		transcript: []TranscriptEntry{},
		changes:    make(chan struct{}, 1),
	}
}

func (s *Session) ID() string { return s.id }

// start sale de Idle. Sin ambas identidades no intenta resolver.
func (s *Session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return
	}
	if s.selfID == "" || s.partner.ID == "" {
		s.state = StateFailed
		s.err = &SessionError{Kind: KindMissingIdentity, Message: msgMissingIdentity}
		s.logger.Warn("chat session missing identity")
		s.notifyLocked()
		return
	}
	s.state = StateResolving
	s.notifyLocked()
	go s.open()
}

func (s *Session) open() {
	room, err := s.rooms.Resolve(s.ctx, s.selfID, s.partner.ID)
	if err != nil {
		s.failInit(err)
		return
	}
	unsubscribe, err := s.feed.Subscribe(s.ctx, room.ID, s.applySnapshot, s.applyFeedError)
	if err != nil {
		s.failInit(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Close gano la carrera contra la apertura.
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.roomID = room.ID
	s.state = StateActive
	s.notifyLocked()
	s.mu.Unlock()
	s.logger.Info("chat session active", zap.String("room_id", room.ID))
}

func (s *Session) failInit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = StateFailed
	s.err = &SessionError{Kind: KindChatInitFailed, Message: msgChatInitFailed, Err: err}
	s.logger.Warn("chat session init failed", zap.Error(err))
	s.notifyLocked()
}

// applySnapshot reemplaza la transcripcion completa.
func (s *Session) applySnapshot(snap domain.Snapshot) {
	transcript := make([]TranscriptEntry, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		transcript = append(transcript, TranscriptEntry{
			ID:        m.ID,
			Text:      m.Text,
			SenderID:  m.SenderID,
			IsSelf:    m.SenderID == s.selfID,
			CreatedAt: m.CreatedAt,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.transcript = transcript
	if s.err != nil && s.err.Kind == KindFeedError {
		s.err = nil
	}
	s.notifyLocked()
}

// applyFeedError conserva la ultima transcripcion valida.
func (s *Session) applyFeedError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == StateFailed {
		return
	}
	s.err = &SessionError{Kind: KindFeedError, Message: msgFeedError, Err: err}
	s.logger.Warn("chat feed error", zap.Error(err))
	s.notifyLocked()
}

// Send envia el texto como el participante propio. Los errores de validacion
// y de estado no modifican la sesion; un fallo del store deja SendFailed y
// conserva el texto para reintentar.
func (s *Session) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return service.ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state != StateActive || s.roomID == "":
		s.mu.Unlock()
		return ErrSessionNotActive
	case s.sending:
		s.mu.Unlock()
		return ErrSendInProgress
	}
	s.sending = true
	s.input = text
	roomID := s.roomID
	s.notifyLocked()
	s.mu.Unlock()

	_, err := s.messages.Append(ctx, roomID, s.selfID, trimmed)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	if err != nil {
		sendErr := &SessionError{Kind: KindSendFailed, Message: msgSendFailed, Err: err}
		if !s.closed {
			s.err = sendErr
			s.notifyLocked()
		}
		s.logger.Warn("send message failed", zap.String("room_id", roomID), zap.Error(err))
		return sendErr
	}
	if s.closed {
		return nil
	}
	s.input = ""
	if s.err != nil && s.err.Kind == KindSendFailed {
		s.err = nil
	}
	s.notifyLocked()
	return nil
}

// Retry reenvia el texto que quedo pendiente tras un SendFailed.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	input := s.input
	sending := s.sending
	s.mu.Unlock()
	if sending {
		return ErrSendInProgress
	}
	if strings.TrimSpace(input) == "" {
		return ErrNothingToRetry
	}
	return s.Send(ctx, input)
}

// Close libera la suscripcion en cualquier estado. Es idempotente.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	close(s.changes)
	s.mu.Unlock()

	s.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Debug("chat session closed")
}

// View devuelve una copia del estado observable.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	transcript := make([]TranscriptEntry, len(s.transcript))
	copy(transcript, s.transcript)
	var sessErr *SessionError
	if s.err != nil {
		copied := *s.err
		sessErr = &copied
	}
	return View{
		ID:         s.id,
		State:      s.state,
		Sending:    s.sending,
		Closed:     s.closed,
		RoomID:     s.roomID,
		SelfID:     s.selfID,
		Partner:    s.partner,
		Transcript: transcript,
		Input:      s.input,
		Error:      sessErr,
	}
}

// Changes recibe una señal por cada cambio de View (coalescidas). Se cierra
// con Close.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

func (s *Session) notifyLocked() {
	if s.closed {
		return
	}
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
