package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema crea las tablas del chat si no existen.
// pair_key es unico para que la creacion concurrente de una sala no duplique pares.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_rooms (
		id UUID PRIMARY KEY,
		participants TEXT[] NOT NULL,
		pair_key TEXT NOT NULL UNIQUE,
		last_seq BIGINT NOT NULL DEFAULT 0,
		last_message_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS chat_rooms_participants_idx ON chat_rooms USING GIN (participants)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id UUID PRIMARY KEY,
		room_id UUID NOT NULL REFERENCES chat_rooms (id),
		seq BIGINT NOT NULL,
		sender_id TEXT NOT NULL,
		text TEXT NOT NULL CHECK (length(btrim(text)) > 0),
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (room_id, seq)
	)`,
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// EnsureSchema aplica Schema en orden; es idempotente.
func EnsureSchema(ctx context.Context, conn execer) error {
	for i, stmt := range Schema {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
