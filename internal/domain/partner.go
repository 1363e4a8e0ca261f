package domain

import "strings"

// DefaultAvatarURL se usa cuando el colaborador de identidad no envia avatar.
const DefaultAvatarURL = "https://i.pravatar.cc/100"

// Partner son los datos de presentacion del otro participante.
// Solo el ID es relevante para el core; nombre y avatar no se persisten.
type Partner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Normalized recorta campos y completa el avatar por defecto.
func (p Partner) Normalized() Partner {
	p.ID = strings.TrimSpace(p.ID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.AvatarURL = strings.TrimSpace(p.AvatarURL)
	if p.AvatarURL == "" {
		p.AvatarURL = DefaultAvatarURL
	}
	return p
}
