package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"direct-chat/internal/domain"
)

// MessageRepository define el contrato de persistencia para mensajes de una sala.
type MessageRepository interface {
	// Append asigna seq y created_at en el servidor. Devuelve pgx.ErrNoRows si
	// la sala no existe.
	Append(ctx context.Context, message domain.Message) (domain.Message, error)
	ListByRoomID(ctx context.Context, roomID string) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	// El UPDATE bloquea la fila de la sala, asi los appends concurrentes se
	// serializan y created_at nunca retrocede aunque el reloj lo haga.
	const query = `
		WITH bumped AS (
			UPDATE chat_rooms
			SET last_seq = last_seq + 1,
			    last_message_at = GREATEST(clock_timestamp(), COALESCE(last_message_at, clock_timestamp()))
			WHERE id = $1
			RETURNING id, last_seq, last_message_at
		)
		INSERT INTO chat_messages (id, room_id, seq, sender_id, text, created_at)
		SELECT $2, id, last_seq, $3, $4, last_message_at
		FROM bumped
		RETURNING seq, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		message.RoomID,
		message.ID,
		message.SenderID,
		message.Text,
	).Scan(&message.Seq, &message.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (r *PgMessageRepository) ListByRoomID(ctx context.Context, roomID string) ([]domain.Message, error) {
	const query = `
		SELECT id::text, room_id::text, sender_id, text, seq, created_at
		FROM chat_messages
		WHERE room_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		err = rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.Text,
			&msg.Seq,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
