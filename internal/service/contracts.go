package service

import (
	"context"

	"github.com/prepdeck/prepdeck-backend/internal/model"
)

// SessionStore is the persistence contract the session services depend on.
// Implemented by repository.SessionRepository; tests use in-memory fakes.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	GetActiveByUserExam(ctx context.Context, userID, examID string, kind model.SessionKind) (*model.Session, error)
	Update(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error)
	ListByUser(ctx context.Context, userID string, kind model.SessionKind, examID string, page, limit int) ([]model.Session, int, error)
	ListOverdueTestIDs(ctx context.Context, cutoff int64, limit int) ([]string, error)
}

// QuestionStore is the read-only question contract. Implemented by
// QuestionService.
type QuestionStore interface {
	GetByIDs(ctx context.Context, ids []string, includeAnswers bool) ([]model.QuestionProjection, error)
	GetQuestionsForSession(ctx context.Context, examID string, opts SessionQuestionOptions) ([]model.Question, error)
	ValidateAnswer(q *model.QuestionProjection, selected []int) bool
}

// ExamCatalog is the exam metadata contract. Implemented by ExamService.
type ExamCatalog interface {
	GetByID(ctx context.Context, examID string) (*model.Exam, error)
}

// CompletionQueue receives fire-and-forget analytics events when a test
// session reaches a scored terminal state. Implementations must never fail
// the caller's request.
type CompletionQueue interface {
	PublishSessionCompleted(ctx context.Context, evt model.SessionCompletedEvent)
}
