package domain

import "time"

// Message es inmutable una vez creado. Seq y CreatedAt los asigna el store.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Before aplica el orden total de una sala: created_at y luego seq.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Snapshot es la lista ordenada completa de una sala en un instante.
type Snapshot struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
	Version  int64     `json:"version"`
}

// NewSnapshot calcula la version como el seq mas alto de la lista.
func NewSnapshot(roomID string, messages []Message) Snapshot {
	var version int64
	for _, m := range messages {
		if m.Seq > version {
			version = m.Seq
		}
	}
	if messages == nil {
		messages = []Message{}
	}
	return Snapshot{RoomID: roomID, Messages: messages, Version: version}
}
