package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepdeck/prepdeck-backend/internal/model"
)

// ErrStaleVersion is returned by Update when the patch carried an
// ExpectedVersion that no longer matches the stored row.
var ErrStaleVersion = errors.New("stale session version")

const sessionColumns = `id, kind, user_id, exam_id, status, questions_order,
	current_question_index, answers, bookmarks, flags, option_orders,
	time_spent_seconds, study_mode, show_explanations, time_limit_seconds,
	passing_score, score, correct_count, incorrect_count, unanswered_count,
	passed, started_at, completed_at, version`

// SessionRepository handles session persistence. Sequence and answer data
// live in JSONB columns so a partial patch stays a single atomic row update.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	s := &model.Session{}
	err := row.Scan(
		&s.ID, &s.Kind, &s.UserID, &s.ExamID, &s.Status, &s.QuestionsOrder,
		&s.CurrentQuestionIndex, &s.Answers, &s.Bookmarks, &s.Flags, &s.OptionOrders,
		&s.TimeSpentSeconds, &s.StudyMode, &s.ShowExplanations, &s.TimeLimitSeconds,
		&s.PassingScore, &s.Score, &s.CorrectCount, &s.IncorrectCount, &s.UnansweredCount,
		&s.Passed, &s.StartedAt, &s.CompletedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	order, err := json.Marshal(s.QuestionsOrder)
	if err != nil {
		return fmt.Errorf("marshal questions order: %w", err)
	}
	answers, _ := json.Marshal(emptyIfNilAnswers(s.Answers))
	bookmarks, _ := json.Marshal(emptyIfNil(s.Bookmarks))
	flags, _ := json.Marshal(emptyIfNil(s.Flags))
	optionOrders, _ := json.Marshal(emptyIfNilOrders(s.OptionOrders))

	_, err = r.pool.Exec(ctx,
		`INSERT INTO sessions (
			id, kind, user_id, exam_id, status, questions_order,
			current_question_index, answers, bookmarks, flags, option_orders,
			time_spent_seconds, study_mode, show_explanations,
			time_limit_seconds, passing_score, started_at, version
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,1)`,
		s.ID, s.Kind, s.UserID, s.ExamID, s.Status, order,
		s.CurrentQuestionIndex, answers, bookmarks, flags, optionOrders,
		s.TimeSpentSeconds, s.StudyMode, s.ShowExplanations,
		s.TimeLimitSeconds, s.PassingScore, s.StartedAt,
	)
	if err != nil {
		return err
	}
	s.Version = 1
	return nil
}

// GetByID retrieves a session by id. Returns pgx.ErrNoRows if absent.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetActiveByUserExam retrieves the single active (or paused) session of the
// given kind for a (user, exam) pair. A partial unique index guarantees at
// most one such row exists.
func (r *SessionRepository) GetActiveByUserExam(ctx context.Context, userID, examID string, kind model.SessionKind) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND exam_id = $2 AND kind = $3
		   AND status IN ('active', 'paused')`,
		userID, examID, kind)
	return scanSession(row)
}

// Update applies a partial patch to one session row and returns the updated
// record. Answer entries are merged per question id via jsonb concatenation,
// so patches touching disjoint question ids compose instead of clobbering.
func (r *SessionRepository) Update(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	query, args := buildSessionUpdate(id, patch)

	s, err := scanSession(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// No row matched: either the id is unknown or the version check failed.
	if patch.ExpectedVersion != nil {
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrStaleVersion
		}
	}
	return nil, pgx.ErrNoRows
}

// ListByUser retrieves a page of the user's sessions, most recent first.
// kind and examID are optional filters; examID may be empty.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, kind model.SessionKind, examID string, page, limit int) ([]model.Session, int, error) {
	base := ` FROM sessions WHERE user_id = $1`
	args := []any{userID}

	if kind != "" {
		args = append(args, kind)
		base += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if examID != "" {
		args = append(args, examID)
		base += fmt.Sprintf(" AND exam_id = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + sessionColumns + base +
		fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, total, rows.Err()
}

// ListOverdueTestIDs returns ids of active test sessions whose deadline passed
// at or before the given epoch cutoff. Used by the expiry sweeper.
func (r *SessionRepository) ListOverdueTestIDs(ctx context.Context, cutoffEpoch int64, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM sessions
		 WHERE kind = 'test' AND status = 'active'
		   AND started_at + time_limit_seconds <= $1
		 ORDER BY started_at
		 LIMIT $2`,
		cutoffEpoch, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buildSessionUpdate renders the dynamic UPDATE for a patch. Every update
// bumps version and updated_at; an ExpectedVersion constrains the WHERE
// clause so stale writers match zero rows.
func buildSessionUpdate(id string, p model.SessionPatch) (string, []any) {
	sets := []string{"version = version + 1", "updated_at = NOW()"}
	args := []any{id}

	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if p.Status != nil {
		add("status = $%d", *p.Status)
	}
	if p.CurrentQuestionIndex != nil {
		add("current_question_index = $%d", *p.CurrentQuestionIndex)
	}
	if len(p.AnswersMerge) > 0 {
		raw, _ := json.Marshal(p.AnswersMerge)
		add("answers = answers || $%d::jsonb", raw)
	}
	if p.Bookmarks != nil {
		raw, _ := json.Marshal(emptyIfNil(*p.Bookmarks))
		add("bookmarks = $%d::jsonb", raw)
	}
	if p.Flags != nil {
		raw, _ := json.Marshal(emptyIfNil(*p.Flags))
		add("flags = $%d::jsonb", raw)
	}
	if p.TimeSpentDelta != 0 {
		add("time_spent_seconds = time_spent_seconds + $%d", p.TimeSpentDelta)
	}
	if p.Score != nil {
		add("score = $%d", *p.Score)
	}
	if p.CorrectCount != nil {
		add("correct_count = $%d", *p.CorrectCount)
	}
	if p.IncorrectCount != nil {
		add("incorrect_count = $%d", *p.IncorrectCount)
	}
	if p.UnansweredCount != nil {
		add("unanswered_count = $%d", *p.UnansweredCount)
	}
	if p.Passed != nil {
		add("passed = $%d", *p.Passed)
	}
	if p.CompletedAt != nil {
		add("completed_at = $%d", *p.CompletedAt)
	}

	where := "WHERE id = $1"
	if p.ExpectedVersion != nil {
		args = append(args, *p.ExpectedVersion)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}

	query := "UPDATE sessions SET " + strings.Join(sets, ", ") + " " + where +
		" RETURNING " + sessionColumns
	return query, args
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyIfNilAnswers(m map[string]model.Answer) map[string]model.Answer {
	if m == nil {
		return map[string]model.Answer{}
	}
	return m
}

func emptyIfNilOrders(m map[string][]int) map[string][]int {
	if m == nil {
		return map[string][]int{}
	}
	return m
}
