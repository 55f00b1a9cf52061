package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultTitle   = "New Chat"
	titleMaxRunes  = 30
	titleEllipsis  = "..."
	defaultGreetFm = "Hello! I'm your AI tutor%s. Ask me anything about your lessons, or attach a photo of your homework and I'll help you work through it."
)

// ChatSession es una conversacion persistida. Siempre contiene al menos un mensaje.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []ChatMessage `json:"messages"`
	UpdatedAt int64         `json:"updatedAt"`
}

// Clone devuelve una copia profunda de la sesion.
func (s ChatSession) Clone() ChatSession {
	out := s
	if s.Messages != nil {
		out.Messages = make([]ChatMessage, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// Touch actualiza UpdatedAt garantizando monotonia respecto al valor previo.
func (s *ChatSession) Touch(now time.Time) {
	ms := now.UnixMilli()
	if ms <= s.UpdatedAt {
		ms = s.UpdatedAt + 1
	}
	s.UpdatedAt = ms
}

// HasUserMessages indica si la sesion ya tiene algun turno del usuario.
func (s ChatSession) HasUserMessages() bool {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// DeriveTitle recorta el primer mensaje del usuario a 30 caracteres.
func DeriveTitle(content string) string {
	if content == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + titleEllipsis
}

// Greeting construye el mensaje de bienvenida con el nombre del colegio si se conoce.
func Greeting(schoolName string) string {
	schoolName = strings.TrimSpace(schoolName)
	suffix := ""
	if schoolName != "" {
		suffix = " from " + schoolName
	}
	return fmt.Sprintf(defaultGreetFm, suffix)
}

// NewSession crea una sesion sembrada con el saludo del asistente.
func NewSession(id, schoolName string, now time.Time) ChatSession {
	return ChatSession{
		ID:    id,
		Title: DefaultTitle,
		Messages: []ChatMessage{
			{Role: RoleAssistant, Content: Greeting(schoolName)},
		},
		UpdatedAt: now.UnixMilli(),
	}
}
