package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"direct-chat/internal/domain"
	"direct-chat/internal/repository"
)

// ChangePublisher notifica que los mensajes de una sala cambiaron.
type ChangePublisher interface {
	Publish(ctx context.Context, roomID string) error
}

// RoomGetter es la parte del resolver que necesita el store de mensajes.
type RoomGetter interface {
	Get(ctx context.Context, roomID string) (domain.ChatRoom, error)
}

// MessageService encapsula append y listado ordenado de mensajes por sala.
type MessageService struct {
	logger         *zap.Logger
	rooms          RoomGetter
	repo           repository.MessageRepository
	publisher      ChangePublisher
	publishTimeout time.Duration
}

var (
	ErrMessageServiceNotConfigured = errors.New("message service not configured")
	ErrInvalidSender               = errors.New("invalid sender")
	ErrEmptyMessage                = errors.New("empty message")
)

func NewMessageService(logger *zap.Logger, rooms RoomGetter, repo repository.MessageRepository, publisher ChangePublisher, publishTimeout time.Duration) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publishTimeout <= 0 {
		publishTimeout = 500 * time.Millisecond
	}
	return &MessageService{
		logger:         logger,
		rooms:          rooms,
		repo:           repo,
		publisher:      publisher,
		publishTimeout: publishTimeout,
	}
}

// Append guarda el mensaje con id, seq y created_at asignados por el store y
// publica el cambio de la sala.
func (s *MessageService) Append(ctx context.Context, roomID, senderID, text string) (domain.Message, error) {
	if s == nil || s.repo == nil || s.rooms == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return domain.Message{}, err
	}
	senderID = strings.TrimSpace(senderID)
	if !room.HasParticipant(senderID) {
		return domain.Message{}, ErrInvalidSender
	}

	stored, err := s.repo.Append(ctx, domain.Message{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		SenderID: senderID,
		Text:     text,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, ErrInvalidRoom
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}

	s.publish(room.ID)
	return stored, nil
}

// publish usa su propio contexto: el mensaje ya es durable aunque el request
// original se cancele.
func (s *MessageService) publish(roomID string) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, roomID); err != nil {
		s.logger.Warn("publish room change failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// ListOrdered devuelve los mensajes de la sala por created_at y seq ascendente.
func (s *MessageService) ListOrdered(ctx context.Context, roomID string) ([]domain.Message, error) {
	if s == nil || s.repo == nil || s.rooms == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.ListByRoomID(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		return []domain.Message{}, nil
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
	return messages, nil
}
