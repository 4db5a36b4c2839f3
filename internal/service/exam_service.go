package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// examCacheTTL bounds how stale a cached catalog record may get. Exam
// metadata changes rarely; five minutes keeps the hot path off PostgreSQL.
const examCacheTTL = 5 * time.Minute

// ExamService is the exam catalog: read access to exam metadata (duration,
// passing score, question count, vendor) with a Redis read-through cache.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam, serving from cache when possible.
// Returns ErrNotFound if the exam does not exist.
func (s *ExamService) GetByID(ctx context.Context, examID string) (*model.Exam, error) {
	key := config.CacheKey.ExamMetaKey(examID)

	if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
		exam := &model.Exam{}
		if jsonErr := json.Unmarshal([]byte(raw), exam); jsonErr == nil {
			return exam, nil
		}
		// Corrupt cache entry: fall through to the database and rewrite it.
		s.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("exam cache read failed")
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: exam %s", ErrNotFound, examID)
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if raw, err := json.Marshal(exam); err == nil {
		if err := s.rdb.Set(ctx, key, raw, examCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID).Msg("exam cache write failed")
		}
	}

	return exam, nil
}

// ListActive returns all active exams in the catalog.
func (s *ExamService) ListActive(ctx context.Context) ([]model.Exam, error) {
	exams, err := s.examRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// GetObjectives returns the exam's objectives, cached alongside the exam.
func (s *ExamService) GetObjectives(ctx context.Context, examID string) ([]model.Objective, error) {
	key := config.CacheKey.ExamObjectivesKey(examID)

	if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
		var objectives []model.Objective
		if jsonErr := json.Unmarshal([]byte(raw), &objectives); jsonErr == nil {
			return objectives, nil
		}
		s.rdb.Del(ctx, key)
	}

	objectives, err := s.examRepo.ListObjectives(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}

	if raw, err := json.Marshal(objectives); err == nil {
		_ = s.rdb.Set(ctx, key, raw, examCacheTTL).Err()
	}

	return objectives, nil
}
