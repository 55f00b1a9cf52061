package repository

import (
	"context"
	"sort"

	"github.com/patrickmn/go-cache"

	"tutor-llm/internal/domain"
)

// MemorySessionRepository mantiene las sesiones solo durante la vida del proceso.
// Se usa como modo degradado cuando el almacenamiento configurado no abre.
type MemorySessionRepository struct {
	items *cache.Cache
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{items: cache.New(cache.NoExpiration, 0)}
}

func (r *MemorySessionRepository) GetAll(_ context.Context) ([]domain.ChatSession, error) {
	items := r.items.Items()
	sessions := make([]domain.ChatSession, 0, len(items))
	for _, item := range items {
		if s, ok := item.Object.(domain.ChatSession); ok {
			sessions = append(sessions, s.Clone())
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt == sessions[j].UpdatedAt {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt < sessions[j].UpdatedAt
	})
	return sessions, nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (domain.ChatSession, bool, error) {
	v, ok := r.items.Get(id)
	if !ok {
		return domain.ChatSession{}, false, nil
	}
	s, ok := v.(domain.ChatSession)
	if !ok {
		return domain.ChatSession{}, false, nil
	}
	return s.Clone(), true, nil
}

func (r *MemorySessionRepository) Save(_ context.Context, session domain.ChatSession) error {
	r.items.Set(session.ID, session.Clone(), cache.NoExpiration)
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.items.Delete(id)
	return nil
}

func (r *MemorySessionRepository) UpdateMessageFeedback(ctx context.Context, sessionID string, index int, feedback string) error {
	return updateFeedback(ctx, r, sessionID, index, feedback)
}
