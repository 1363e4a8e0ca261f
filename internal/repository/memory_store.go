package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"direct-chat/internal/domain"
)

// MemoryStore implementa RoomRepository y MessageRepository en memoria.
// Replica la semantica del store Postgres (pair_key unico, seq por sala,
// created_at monotono) y devuelve pgx.ErrNoRows para salas inexistentes.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	rooms    map[string]domain.ChatRoom
	byPair   map[string]string
	messages map[string][]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryStoreWithClock permite fijar el reloj del "servidor" en tests.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:      now,
		rooms:    make(map[string]domain.ChatRoom),
		byPair:   make(map[string]string),
		messages: make(map[string][]domain.Message),
	}
}

func (s *MemoryStore) Create(_ context.Context, room domain.ChatRoom) (domain.ChatRoom, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[room.PairKey]; ok {
		return s.rooms[id], false, nil
	}
	room.CreatedAt = s.now()
	s.rooms[room.ID] = room
	s.byPair[room.PairKey] = room.ID
	return room, true, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (domain.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return domain.ChatRoom{}, pgx.ErrNoRows
	}
	return room, nil
}

func (s *MemoryStore) ListByParticipant(_ context.Context, participantID string) ([]domain.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []domain.ChatRoom
	for _, room := range s.rooms {
		if room.HasParticipant(participantID) {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *MemoryStore) Append(_ context.Context, message domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[message.RoomID]; !ok {
		return domain.Message{}, pgx.ErrNoRows
	}
	existing := s.messages[message.RoomID]
	createdAt := s.now()
	if n := len(existing); n > 0 {
		last := existing[n-1]
		if createdAt.Before(last.CreatedAt) {
			createdAt = last.CreatedAt
		}
		message.Seq = last.Seq + 1
	} else {
		message.Seq = 1
	}
	message.CreatedAt = createdAt
	s.messages[message.RoomID] = append(existing, message)
	return message, nil
}

func (s *MemoryStore) ListByRoomID(_ context.Context, roomID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages[roomID]))
	copy(out, s.messages[roomID])
	return out, nil
}
