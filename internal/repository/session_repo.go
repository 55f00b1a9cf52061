package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tutor-llm/internal/domain"
)

// SessionRepository persiste sesiones completas indexadas por UpdatedAt.
// Todas las operaciones son de registro completo (read-modify-write por sesion).
type SessionRepository interface {
	// GetAll devuelve todas las sesiones en orden ascendente de UpdatedAt.
	GetAll(ctx context.Context) ([]domain.ChatSession, error)
	// GetByID devuelve false si no existe; no es un error.
	GetByID(ctx context.Context, id string) (domain.ChatSession, bool, error)
	Save(ctx context.Context, session domain.ChatSession) error
	// Delete es idempotente.
	Delete(ctx context.Context, id string) error
	// UpdateMessageFeedback es un no-op silencioso si la sesion o el indice no existen.
	UpdateMessageFeedback(ctx context.Context, sessionID string, index int, feedback string) error
}

// updateFeedback implementa UpdateMessageFeedback sobre GetByID + Save.
func updateFeedback(ctx context.Context, repo SessionRepository, sessionID string, index int, feedback string) error {
	session, ok, err := repo.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok || index < 0 || index >= len(session.Messages) {
		return nil
	}
	session.Messages[index].Feedback = feedback
	if err := repo.Save(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func encodeMessages(messages []domain.ChatMessage) ([]byte, error) {
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return json.Marshal(messages)
}

func decodeMessages(raw []byte) ([]domain.ChatMessage, error) {
	var messages []domain.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

// PgSessionRepository guarda sesiones en Postgres con los mensajes como JSONB.
type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

// EnsureSchema crea la tabla y el indice por updated_at si no existen.
func (r *PgSessionRepository) EnsureSchema(ctx context.Context) error {
	const table = `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			messages   JSONB NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`
	const index = `CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions (updated_at)`
	if _, err := r.pool.Exec(ctx, table); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, index)
	return err
}

func (r *PgSessionRepository) GetAll(ctx context.Context) ([]domain.ChatSession, error) {
	const query = `
		SELECT id, title, messages, updated_at
		FROM chat_sessions
		ORDER BY updated_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		var (
			session domain.ChatSession
			raw     []byte
		)
		if err := rows.Scan(&session.ID, &session.Title, &raw, &session.UpdatedAt); err != nil {
			return nil, err
		}
		if session.Messages, err = decodeMessages(raw); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.ChatSession, bool, error) {
	const query = `
		SELECT id, title, messages, updated_at
		FROM chat_sessions
		WHERE id = $1
	`
	var (
		session domain.ChatSession
		raw     []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&session.ID, &session.Title, &raw, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatSession{}, false, nil
	}
	if err != nil {
		return domain.ChatSession{}, false, err
	}
	if session.Messages, err = decodeMessages(raw); err != nil {
		return domain.ChatSession{}, false, err
	}
	return session, true, nil
}

func (r *PgSessionRepository) Save(ctx context.Context, session domain.ChatSession) error {
	const query = `
		INSERT INTO chat_sessions (id, title, messages, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, messages = EXCLUDED.messages, updated_at = EXCLUDED.updated_at
	`
	raw, err := encodeMessages(session.Messages)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query, session.ID, session.Title, raw, session.UpdatedAt)
	return err
}

func (r *PgSessionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM chat_sessions WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PgSessionRepository) UpdateMessageFeedback(ctx context.Context, sessionID string, index int, feedback string) error {
	return updateFeedback(ctx, r, sessionID, index, feedback)
}
