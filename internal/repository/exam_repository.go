package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepdeck/prepdeck-backend/internal/model"
)

const examColumns = `id, code, name, vendor, description, duration_minutes,
	passing_score, total_questions, is_active, created_at, updated_at`

// ExamRepository handles exam catalog data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

func scanExam(row rowScanner) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(
		&e.ID, &e.Code, &e.Name, &e.Vendor, &e.Description, &e.DurationMinutes,
		&e.PassingScore, &e.TotalQuestions, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by id. Returns pgx.ErrNoRows if absent.
func (r *ExamRepository) GetByID(ctx context.Context, id string) (*model.Exam, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id)
	return scanExam(row)
}

// ListActive retrieves all active exams ordered by vendor and code.
func (r *ExamRepository) ListActive(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE is_active ORDER BY vendor, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// ListObjectives retrieves the exam's objectives ordered by weight descending.
func (r *ExamRepository) ListObjectives(ctx context.Context, examID string) ([]model.Objective, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, title, weight FROM objectives
		 WHERE exam_id = $1 ORDER BY weight DESC, title`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objectives []model.Objective
	for rows.Next() {
		var o model.Objective
		if err := rows.Scan(&o.ID, &o.ExamID, &o.Title, &o.Weight); err != nil {
			return nil, err
		}
		objectives = append(objectives, o)
	}
	return objectives, rows.Err()
}
