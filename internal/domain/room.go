package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChatRoom es el canal privado y durable entre exactamente dos participantes.
type ChatRoom struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	PairKey      string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// PairKey deriva la clave compuesta del par sin importar el orden de los ids.
// Cada id va prefijado con su largo, asi ids que contienen el separador
// (p. ej. "auth0|123") no colisionan entre pares distintos.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(strconv.Itoa(len(id)))
		sb.WriteByte(':')
		sb.WriteString(id)
	}
	return sb.String()
}

// HasParticipant indica si el id pertenece a la sala.
func (r ChatRoom) HasParticipant(id string) bool {
	return id != "" && (r.Participants[0] == id || r.Participants[1] == id)
}

// Partner devuelve el otro participante de la sala.
func (r ChatRoom) Partner(self string) string {
	if r.Participants[0] == self {
		return r.Participants[1]
	}
	return r.Participants[0]
}
