package service

import (
	"context"
	"fmt"

	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
)

// ProgressService exposes the per-exam aggregates the progress worker
// maintains.
type ProgressService struct {
	progressRepo *repository.ProgressRepository
}

// NewProgressService creates a new ProgressService.
func NewProgressService(progressRepo *repository.ProgressRepository) *ProgressService {
	return &ProgressService{progressRepo: progressRepo}
}

// GetUserProgress returns the caller's aggregates across all exams.
func (s *ProgressService) GetUserProgress(ctx context.Context, userID string) ([]model.UserProgress, error) {
	progress, err := s.progressRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return progress, nil
}
