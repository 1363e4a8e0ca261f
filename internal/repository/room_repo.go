package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"direct-chat/internal/domain"
)

// RoomRepository define el contrato de persistencia para salas de chat.
type RoomRepository interface {
	// Create inserta la sala si su pair_key no existe; si ya existe devuelve la
	// sala almacenada y created=false.
	Create(ctx context.Context, room domain.ChatRoom) (stored domain.ChatRoom, created bool, err error)
	GetByID(ctx context.Context, id string) (domain.ChatRoom, error)
	ListByParticipant(ctx context.Context, participantID string) ([]domain.ChatRoom, error)
}

// PgRoomRepository implementa RoomRepository usando pgxpool.
type PgRoomRepository struct {
	pool *pgxpool.Pool
}

func NewPgRoomRepository(pool *pgxpool.Pool) *PgRoomRepository {
	return &PgRoomRepository{pool: pool}
}

func (r *PgRoomRepository) Create(ctx context.Context, room domain.ChatRoom) (domain.ChatRoom, bool, error) {
	const query = `
		INSERT INTO chat_rooms (id, participants, pair_key, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id::text, participants, pair_key, created_at
	`
	stored, err := scanRoom(r.pool.QueryRow(ctx, query,
		room.ID,
		room.Participants[:],
		room.PairKey,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatRoom{}, false, err
	}

	// Otro writer gano la carrera: devolvemos su sala.
	const existing = `
		SELECT id::text, participants, pair_key, created_at
		FROM chat_rooms
		WHERE pair_key = $1
	`
	stored, err = scanRoom(r.pool.QueryRow(ctx, existing, room.PairKey))
	return stored, false, err
}

func (r *PgRoomRepository) GetByID(ctx context.Context, id string) (domain.ChatRoom, error) {
	const query = `
		SELECT id::text, participants, pair_key, created_at
		FROM chat_rooms
		WHERE id = $1
	`
	room, err := scanRoom(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatRoom{}, err
	}
	return room, err
}

func (r *PgRoomRepository) ListByParticipant(ctx context.Context, participantID string) ([]domain.ChatRoom, error) {
	const query = `
		SELECT id::text, participants, pair_key, created_at
		FROM chat_rooms
		WHERE participants @> ARRAY[$1::text]
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []domain.ChatRoom
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return rooms, nil
}

func scanRoom(row pgx.Row) (domain.ChatRoom, error) {
	var (
		room         domain.ChatRoom
		participants []string
	)
	if err := row.Scan(&room.ID, &participants, &room.PairKey, &room.CreatedAt); err != nil {
		return domain.ChatRoom{}, err
	}
	if len(participants) != 2 {
		return domain.ChatRoom{}, fmt.Errorf("room %s: expected 2 participants, got %d", room.ID, len(participants))
	}
	room.Participants = [2]string{participants[0], participants[1]}
	return room, nil
}
