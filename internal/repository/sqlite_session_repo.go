package repository

import (
	"context"
	"database/sql"
	"errors"

	"tutor-llm/internal/domain"
)

// SQLiteSessionRepository es el almacenamiento local por defecto del dispositivo.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSessionRepository crea el esquema si no existe.
func NewSQLiteSessionRepository(ctx context.Context, db *sql.DB) (*SQLiteSessionRepository, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		messages   TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions(updated_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, err
	}
	return &SQLiteSessionRepository{db: db}, nil
}

func (r *SQLiteSessionRepository) GetAll(ctx context.Context) ([]domain.ChatSession, error) {
	const query = `
		SELECT id, title, messages, updated_at
		FROM chat_sessions
		ORDER BY updated_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		var (
			session domain.ChatSession
			raw     string
		)
		if err := rows.Scan(&session.ID, &session.Title, &raw, &session.UpdatedAt); err != nil {
			return nil, err
		}
		if session.Messages, err = decodeMessages([]byte(raw)); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (domain.ChatSession, bool, error) {
	const query = `
		SELECT id, title, messages, updated_at
		FROM chat_sessions
		WHERE id = ?
	`
	var (
		session domain.ChatSession
		raw     string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&session.ID, &session.Title, &raw, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatSession{}, false, nil
	}
	if err != nil {
		return domain.ChatSession{}, false, err
	}
	if session.Messages, err = decodeMessages([]byte(raw)); err != nil {
		return domain.ChatSession{}, false, err
	}
	return session, true, nil
}

func (r *SQLiteSessionRepository) Save(ctx context.Context, session domain.ChatSession) error {
	const query = `
		INSERT INTO chat_sessions (id, title, messages, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE
		SET title = excluded.title, messages = excluded.messages, updated_at = excluded.updated_at
	`
	raw, err := encodeMessages(session.Messages)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, session.ID, session.Title, string(raw), session.UpdatedAt)
	return err
}

func (r *SQLiteSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	return err
}

func (r *SQLiteSessionRepository) UpdateMessageFeedback(ctx context.Context, sessionID string, index int, feedback string) error {
	return updateFeedback(ctx, r, sessionID, index, feedback)
}
