package domain

import "strings"

// Roles admitidos en una conversacion.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Valores de feedback por mensaje. FeedbackNone significa sin valorar.
const (
	FeedbackNone    = ""
	FeedbackLike    = "like"
	FeedbackDislike = "dislike"
)

// ChatMessage es un turno individual. Es inmutable una vez persistido salvo Feedback.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Image    string `json:"image,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// IsValidFeedback indica si el valor es un tipo de feedback aceptado (o vacio para limpiar).
func IsValidFeedback(feedback string) bool {
	switch feedback {
	case FeedbackNone, FeedbackLike, FeedbackDislike:
		return true
	}
	return false
}

// NormalizeRole devuelve el rol en minusculas y sin espacios.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
