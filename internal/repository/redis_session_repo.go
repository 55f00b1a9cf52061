package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tutor-llm/internal/domain"
)

type redisSessionClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisSessionRepository guarda cada sesion como JSON y mantiene un sorted set
// puntuado por updated_at como indice temporal.
type RedisSessionRepository struct {
	client redisSessionClient
	prefix string
	index  string
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "tutor:session:",
		index:  "tutor:sessions",
	}
}

func (r *RedisSessionRepository) GetAll(ctx context.Context) ([]domain.ChatSession, error) {
	ids, err := r.client.ZRange(ctx, r.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	sessions := make([]domain.ChatSession, 0, len(ids))
	for _, id := range ids {
		session, ok, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		// Un miembro del indice sin registro queda de un borrado interrumpido.
		if !ok {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (domain.ChatSession, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ChatSession{}, false, nil
	}
	if err != nil {
		return domain.ChatSession{}, false, err
	}
	var session domain.ChatSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.ChatSession{}, false, fmt.Errorf("decode session: %w", err)
	}
	return session, true, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, session domain.ChatSession) error {
	if session.Messages == nil {
		session.Messages = []domain.ChatMessage{}
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	// Registro e indice van en la misma transaccion MULTI/EXEC.
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.prefix+session.ID, raw, 0)
		pipe.ZAdd(ctx, r.index, redis.Z{Score: float64(session.UpdatedAt), Member: session.ID})
		return nil
	})
	return err
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.prefix+id)
		pipe.ZRem(ctx, r.index, id)
		return nil
	})
	return err
}

func (r *RedisSessionRepository) UpdateMessageFeedback(ctx context.Context, sessionID string, index int, feedback string) error {
	return updateFeedback(ctx, r, sessionID, index, feedback)
}
