package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepdeck/prepdeck-backend/internal/model"
)

// ProgressRepository reads the per-user-per-exam aggregates maintained by the
// progress worker.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// ListByUser retrieves all progress rows for a user.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]model.UserProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, exam_id, attempts, best_score, last_score, passes,
		        streak_days, to_char(last_activity_day, 'YYYY-MM-DD')
		 FROM user_progress WHERE user_id = $1
		 ORDER BY exam_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var progress []model.UserProgress
	for rows.Next() {
		var p model.UserProgress
		if err := rows.Scan(&p.UserID, &p.ExamID, &p.Attempts, &p.BestScore,
			&p.LastScore, &p.Passes, &p.StreakDays, &p.LastActivityDay); err != nil {
			return nil, err
		}
		progress = append(progress, p)
	}
	return progress, rows.Err()
}
