package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/jackc/pgx/v5"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
)

// SessionQuestionOptions controls how a session's candidate question list is
// assembled.
type SessionQuestionOptions struct {
	ObjectiveIDs     []string
	MaxQuestions     int // 0 = no truncation
	ShuffleQuestions bool
}

// QuestionService is the read-only question store: it fetches question
// records, strips correct-answer data for attempt-facing projections, and
// validates submitted answers. Malformed answer-key encodings are rejected
// here so the session services never see them.
type QuestionService struct {
	questionRepo *repository.QuestionRepository
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(questionRepo *repository.QuestionRepository) *QuestionService {
	return &QuestionService{questionRepo: questionRepo}
}

// GetByIDs returns projections for the given question ids, in input order.
// Unknown ids are reported as ErrNotFound.
func (s *QuestionService) GetByIDs(ctx context.Context, ids []string, includeAnswers bool) ([]model.QuestionProjection, error) {
	questions, err := s.questionRepo.GetByIDs(ctx, ids)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get questions: %w", err)
	}

	byID := make(map[string]*model.Question, len(questions))
	for i := range questions {
		if err := checkQuestion(&questions[i]); err != nil {
			return nil, err
		}
		byID[questions[i].ID] = &questions[i]
	}

	projections := make([]model.QuestionProjection, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: question %s", ErrNotFound, id)
		}
		projections = append(projections, q.Project(includeAnswers))
	}
	return projections, nil
}

// GetQuestionsForSession returns the exam's active questions, optionally
// filtered by objective, shuffled, and truncated to MaxQuestions.
func (s *QuestionService) GetQuestionsForSession(ctx context.Context, examID string, opts SessionQuestionOptions) ([]model.Question, error) {
	questions, err := s.questionRepo.ListActiveByExam(ctx, examID, opts.ObjectiveIDs)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	for i := range questions {
		if err := checkQuestion(&questions[i]); err != nil {
			return nil, err
		}
	}

	if opts.ShuffleQuestions {
		rand.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	if opts.MaxQuestions > 0 && len(questions) > opts.MaxQuestions {
		questions = questions[:opts.MaxQuestions]
	}
	return questions, nil
}

// ValidateAnswer reports whether the selected option indices exactly match
// the question's correct-answer set. Order-independent, no partial credit.
func (s *QuestionService) ValidateAnswer(q *model.QuestionProjection, selected []int) bool {
	return indexSetsEqual(q.CorrectAnswers, selected)
}

// checkQuestion rejects malformed question encodings at the store boundary:
// empty option lists, empty answer keys, and out-of-range answer indices.
func checkQuestion(q *model.Question) error {
	if len(q.Options) == 0 {
		return fmt.Errorf("question %s: empty option list", q.ID)
	}
	if len(q.CorrectAnswers) == 0 {
		return fmt.Errorf("question %s: empty answer key", q.ID)
	}
	for _, idx := range q.CorrectAnswers {
		if idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("question %s: answer index %d out of range", q.ID, idx)
		}
	}
	return nil
}

// indexSetsEqual compares two index slices as sets. Duplicate selections
// collapse before comparison.
func indexSetsEqual(a, b []int) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	as := toSet(a)
	bs := toSet(b)
	if len(as) != len(bs) {
		return false
	}
	for v := range bs {
		if _, ok := as[v]; !ok {
			return false
		}
	}
	return true
}

func toSet(values []int) map[int]struct{} {
	set := make(map[int]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
