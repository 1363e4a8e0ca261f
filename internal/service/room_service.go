package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"direct-chat/internal/domain"
	"direct-chat/internal/repository"
)

var (
	ErrRoomServiceNotConfigured = errors.New("room service not configured")
	ErrInvalidParticipants      = errors.New("invalid participants")
	ErrInvalidRoom              = errors.New("invalid room")
	ErrRoomMismatch             = errors.New("room does not match participants")
)

// resolveTimeout acota la resolucion compartida, que no hereda la
// cancelacion de ningun llamador.
const resolveTimeout = 10 * time.Second

// RoomService resuelve la sala privada de un par de participantes.
type RoomService struct {
	logger *zap.Logger
	repo   repository.RoomRepository
	group  singleflight.Group
}

func NewRoomService(logger *zap.Logger, repo repository.RoomRepository) *RoomService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomService{logger: logger, repo: repo}
}

// Resolve devuelve la sala del par {a, b}, creandola en el primer contacto.
// El orden de los argumentos no importa.
func (s *RoomService) Resolve(ctx context.Context, a, b string) (domain.ChatRoom, error) {
	if s == nil || s.repo == nil {
		return domain.ChatRoom{}, ErrRoomServiceNotConfigured
	}
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return domain.ChatRoom{}, ErrInvalidParticipants
	}

	// Resoluciones simultaneas del mismo par en este proceso comparten una
	// sola consulta; entre procesos decide el indice unico de pair_key.
	// Cada llamador espera con su propio ctx.
	ch := s.group.DoChan(domain.PairKey(a, b), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return s.resolve(shared, a, b)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.ChatRoom{}, res.Err
		}
		return res.Val.(domain.ChatRoom), nil
	case <-ctx.Done():
		return domain.ChatRoom{}, ctx.Err()
	}
}

func (s *RoomService) resolve(ctx context.Context, a, b string) (domain.ChatRoom, error) {
	rooms, err := s.repo.ListByParticipant(ctx, a)
	if err != nil {
		return domain.ChatRoom{}, fmt.Errorf("list rooms: %w", err)
	}
	for _, room := range rooms {
		if room.Partner(a) == b {
			return room, nil
		}
	}

	stored, created, err := s.repo.Create(ctx, domain.ChatRoom{
		ID:           uuid.NewString(),
		Participants: [2]string{a, b},
		PairKey:      domain.PairKey(a, b),
	})
	if err != nil {
		return domain.ChatRoom{}, fmt.Errorf("create room: %w", err)
	}
	if !stored.HasParticipant(a) || !stored.HasParticipant(b) {
		s.logger.Error("pair key returned foreign room", zap.String("room_id", stored.ID))
		return domain.ChatRoom{}, fmt.Errorf("create room %s: %w", stored.ID, ErrRoomMismatch)
	}
	if created {
		s.logger.Info("chat room created", zap.String("room_id", stored.ID))
	} else {
		s.logger.Debug("chat room created concurrently", zap.String("room_id", stored.ID))
	}
	return stored, nil
}

// Get busca una sala por id. Ids vacios, mal formados o inexistentes
// devuelven ErrInvalidRoom.
func (s *RoomService) Get(ctx context.Context, roomID string) (domain.ChatRoom, error) {
	if s == nil || s.repo == nil {
		return domain.ChatRoom{}, ErrRoomServiceNotConfigured
	}
	roomID = strings.TrimSpace(roomID)
	if _, err := uuid.Parse(roomID); err != nil {
		return domain.ChatRoom{}, ErrInvalidRoom
	}
	room, err := s.repo.GetByID(ctx, roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatRoom{}, ErrInvalidRoom
	}
	if err != nil {
		return domain.ChatRoom{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}
