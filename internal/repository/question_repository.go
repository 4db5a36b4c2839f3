package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepdeck/prepdeck-backend/internal/model"
)

const questionColumns = `id, exam_id, objective_id, question_text, question_type,
	options, correct_answers, explanation, position, is_active`

// QuestionRepository handles question data access. It is read-only from the
// engine's point of view; authoring happens in the back-office.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

func scanQuestion(row rowScanner) (*model.Question, error) {
	q := &model.Question{}
	err := row.Scan(
		&q.ID, &q.ExamID, &q.ObjectiveID, &q.QuestionText, &q.QuestionType,
		&q.Options, &q.CorrectAnswers, &q.Explanation, &q.Position, &q.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// GetByIDs retrieves questions by id. Order of the result is unspecified;
// callers that need input order re-sort (see QuestionService.GetByIDs).
func (r *QuestionRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// ListActiveByExam retrieves the exam's active questions in catalog order,
// optionally restricted to the given objectives.
func (r *QuestionRepository) ListActiveByExam(ctx context.Context, examID string, objectiveIDs []string) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
		 WHERE exam_id = $1 AND is_active`
	args := []any{examID}
	if len(objectiveIDs) > 0 {
		query += ` AND objective_id = ANY($2)`
		args = append(args, objectiveIDs)
	}
	query += ` ORDER BY position, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}
