package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"direct-chat/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager es la superficie expuesta a los colaboradores externos:
// OpenChat, SendMessage y CloseChat.
type Manager struct {
	logger   *zap.Logger
	rooms    RoomResolver
	messages MessageSender
	feed     FeedSubscriber

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(logger *zap.Logger, rooms RoomResolver, messages MessageSender, subscriber FeedSubscriber) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		rooms:    rooms,
		messages: messages,
		feed:     subscriber,
		sessions: make(map[string]*Session),
	}
}

// OpenChat crea la sesion y arranca su maquina de estados. Resolucion y
// suscripcion corren en segundo plano; se observan con View/Changes.
// Si ctx se cancela antes de activarse, la sesion termina en Failed.
func (m *Manager) OpenChat(ctx context.Context, selfID string, partner domain.Partner) *Session {
	s := newSession(ctx, uuid.NewString(), selfID, partner, m.logger, m.rooms, m.messages, m.feed)
	s.onClose = m.forget
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	s.start()
	return s
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) SendMessage(ctx context.Context, sessionID, text string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Send(ctx, text)
}

// CloseChat desuscribe y libera la sesion.
func (m *Manager) CloseChat(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// ActiveSessions devuelve cuantas sesiones siguen abiertas.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll cierra todas las sesiones, usado en el shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.id)
}
