package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ProgressBatchSize    = 50
	ProgressBatchTimeout = 2 * time.Second
	ProgressPollTimeout  = 1 * time.Second
)

// ProgressWorker drains completion events from Redis and maintains the
// per-user-per-exam aggregates (attempts, best score, pass count, study
// streak) behind the progress endpoint.
type ProgressWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ProgressWorker {
	return &ProgressWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "progress_worker").Logger(),
	}
}

// Start runs the worker loop until the context is cancelled. Events are
// batched per flush to keep write amplification down under submit bursts.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProgressWorker started")

	batch := make([]*model.SessionCompletedEvent, 0, ProgressBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ProgressBatchSize || time.Since(lastFlush) >= ProgressBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ProgressPollTimeout, config.WorkerKey.SessionCompletedQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var evt model.SessionCompletedEvent
			if err := json.Unmarshal([]byte(item[1]), &evt); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &evt)
		}
	}
}

// aggregate collapses a batch into one delta per (user, exam) so the upsert
// touches each row once.
type aggregate struct {
	userID     string
	examID     string
	attempts   int
	bestScore  int
	lastScore  int
	passes     int
	finishedAt int64
}

func (w *ProgressWorker) flushSafe(ctx context.Context, batch []*model.SessionCompletedEvent) {
	if len(batch) == 0 {
		return
	}

	deltas := collapse(batch)
	if err := w.bulkUpsertProgress(ctx, deltas); err != nil {
		w.log.Warn().Err(err).Msg("bulk progress upsert failed, using fallback")

		for _, d := range deltas {
			if err := w.upsertSingle(ctx, d); err != nil {
				w.log.Error().Err(err).
					Str("user_id", d.userID).
					Str("exam_id", d.examID).
					Msg("upsertSingle failed")
			}
		}
	}
}

func collapse(batch []*model.SessionCompletedEvent) []*aggregate {
	byKey := make(map[string]*aggregate)
	order := make([]*aggregate, 0, len(batch))

	for _, evt := range batch {
		key := evt.UserID + "\x00" + evt.ExamID
		agg, ok := byKey[key]
		if !ok {
			agg = &aggregate{userID: evt.UserID, examID: evt.ExamID}
			byKey[key] = agg
			order = append(order, agg)
		}

		agg.attempts++
		if evt.Passed {
			agg.passes++
		}
		if evt.Score > agg.bestScore {
			agg.bestScore = evt.Score
		}
		if evt.FinishedAt >= agg.finishedAt {
			agg.finishedAt = evt.FinishedAt
			agg.lastScore = evt.Score
		}
	}
	return order
}

// bulkUpsertProgress applies all deltas in one statement via UNNEST. The
// streak only advances when the activity day is exactly one day after the
// stored one; a gap resets it to 1.
func (w *ProgressWorker) bulkUpsertProgress(ctx context.Context, deltas []*aggregate) error {
	n := len(deltas)

	userIDs := make([]string, 0, n)
	examIDs := make([]string, 0, n)
	attempts := make([]int, 0, n)
	bestScores := make([]int, 0, n)
	lastScores := make([]int, 0, n)
	passes := make([]int, 0, n)
	days := make([]time.Time, 0, n)

	for _, d := range deltas {
		userIDs = append(userIDs, d.userID)
		examIDs = append(examIDs, d.examID)
		attempts = append(attempts, d.attempts)
		bestScores = append(bestScores, d.bestScore)
		lastScores = append(lastScores, d.lastScore)
		passes = append(passes, d.passes)
		days = append(days, time.Unix(d.finishedAt, 0).UTC().Truncate(24*time.Hour))
	}

	query := `
		INSERT INTO user_progress
			(user_id, exam_id, attempts, best_score, last_score, passes, streak_days, last_activity_day)
		SELECT
			u.user_id, u.exam_id, u.attempts, u.best_score, u.last_score, u.passes, 1, u.day
		FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::int[],
			$4::int[],
			$5::int[],
			$6::int[],
			$7::date[]
		) AS u (user_id, exam_id, attempts, best_score, last_score, passes, day)
		ON CONFLICT (user_id, exam_id) DO UPDATE SET
			attempts   = user_progress.attempts + EXCLUDED.attempts,
			best_score = GREATEST(user_progress.best_score, EXCLUDED.best_score),
			last_score = EXCLUDED.last_score,
			passes     = user_progress.passes + EXCLUDED.passes,
			streak_days = CASE
				WHEN EXCLUDED.last_activity_day = user_progress.last_activity_day THEN user_progress.streak_days
				WHEN EXCLUDED.last_activity_day = user_progress.last_activity_day + 1 THEN user_progress.streak_days + 1
				ELSE 1
			END,
			last_activity_day = GREATEST(user_progress.last_activity_day, EXCLUDED.last_activity_day)
	`

	_, err := w.pool.Exec(ctx, query, userIDs, examIDs, attempts, bestScores, lastScores, passes, days)
	return err
}

func (w *ProgressWorker) upsertSingle(ctx context.Context, d *aggregate) error {
	day := time.Unix(d.finishedAt, 0).UTC().Truncate(24 * time.Hour)

	_, err := w.pool.Exec(ctx, `
		INSERT INTO user_progress
			(user_id, exam_id, attempts, best_score, last_score, passes, streak_days, last_activity_day)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		ON CONFLICT (user_id, exam_id) DO UPDATE SET
			attempts   = user_progress.attempts + EXCLUDED.attempts,
			best_score = GREATEST(user_progress.best_score, EXCLUDED.best_score),
			last_score = EXCLUDED.last_score,
			passes     = user_progress.passes + EXCLUDED.passes,
			streak_days = CASE
				WHEN EXCLUDED.last_activity_day = user_progress.last_activity_day THEN user_progress.streak_days
				WHEN EXCLUDED.last_activity_day = user_progress.last_activity_day + 1 THEN user_progress.streak_days + 1
				ELSE 1
			END,
			last_activity_day = GREATEST(user_progress.last_activity_day, EXCLUDED.last_activity_day)`,
		d.userID, d.examID, d.attempts, d.bestScore, d.lastScore, d.passes, day,
	)
	return err
}
