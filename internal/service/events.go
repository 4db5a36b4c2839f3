package service

import (
	"context"
	"encoding/json"

	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCompletionQueue pushes completion events onto the Redis list the
// progress worker drains. Publishing is best-effort: a Redis outage must not
// fail a submit call, so errors are logged and dropped.
type RedisCompletionQueue struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisCompletionQueue creates a new RedisCompletionQueue.
func NewRedisCompletionQueue(rdb *redis.Client, log zerolog.Logger) *RedisCompletionQueue {
	return &RedisCompletionQueue{
		rdb: rdb,
		log: log.With().Str("component", "completion_queue").Logger(),
	}
}

// PublishSessionCompleted enqueues a completion event.
func (q *RedisCompletionQueue) PublishSessionCompleted(ctx context.Context, evt model.SessionCompletedEvent) {
	raw, err := json.Marshal(evt)
	if err != nil {
		q.log.Error().Err(err).Msg("marshal completion event")
		return
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.SessionCompletedQueue, raw).Err(); err != nil {
		q.log.Warn().Err(err).
			Str("user_id", evt.UserID).
			Str("exam_id", evt.ExamID).
			Msg("enqueue completion event failed")
	}
}
