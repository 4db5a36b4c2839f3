package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
)

// fakeSessionStore is an in-memory SessionStore mirroring the repository's
// patch semantics, including the optimistic version guard.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.Session)}
}

func cloneSession(s *model.Session) *model.Session {
	c := *s
	c.QuestionsOrder = append([]string(nil), s.QuestionsOrder...)
	c.Bookmarks = append([]string(nil), s.Bookmarks...)
	c.Flags = append([]string(nil), s.Flags...)
	c.Answers = make(map[string]model.Answer, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	c.OptionOrders = make(map[string][]int, len(s.OptionOrders))
	for k, v := range s.OptionOrders {
		c.OptionOrders[k] = append([]int(nil), v...)
	}
	return &c
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.Version = 1
	f.sessions[s.ID] = cloneSession(s)
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneSession(s), nil
}

func (f *fakeSessionStore) GetActiveByUserExam(_ context.Context, userID, examID string, kind model.SessionKind) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.ExamID == examID && s.Kind == kind &&
			(s.Status == model.SessionStatusActive || s.Status == model.SessionStatusPaused) {
			return cloneSession(s), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionStore) Update(_ context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != s.Version {
		return nil, repository.ErrStaleVersion
	}

	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.CurrentQuestionIndex != nil {
		s.CurrentQuestionIndex = *patch.CurrentQuestionIndex
	}
	for qid, a := range patch.AnswersMerge {
		s.Answers[qid] = a
	}
	if patch.Bookmarks != nil {
		s.Bookmarks = append([]string(nil), *patch.Bookmarks...)
	}
	if patch.Flags != nil {
		s.Flags = append([]string(nil), *patch.Flags...)
	}
	s.TimeSpentSeconds += patch.TimeSpentDelta
	if patch.Score != nil {
		s.Score = patch.Score
	}
	if patch.CorrectCount != nil {
		s.CorrectCount = *patch.CorrectCount
	}
	if patch.IncorrectCount != nil {
		s.IncorrectCount = *patch.IncorrectCount
	}
	if patch.UnansweredCount != nil {
		s.UnansweredCount = *patch.UnansweredCount
	}
	if patch.Passed != nil {
		s.Passed = patch.Passed
	}
	if patch.CompletedAt != nil {
		s.CompletedAt = patch.CompletedAt
	}
	s.Version++

	return cloneSession(s), nil
}

func (f *fakeSessionStore) ListByUser(_ context.Context, userID string, kind model.SessionKind, examID string, page, limit int) ([]model.Session, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*model.Session
	for _, s := range f.sessions {
		if s.UserID != userID {
			continue
		}
		if kind != "" && s.Kind != kind {
			continue
		}
		if examID != "" && s.ExamID != examID {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt > matched[j].StartedAt
	})

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]model.Session, 0, end-start)
	for _, s := range matched[start:end] {
		out = append(out, *cloneSession(s))
	}
	return out, total, nil
}

func (f *fakeSessionStore) ListOverdueTestIDs(_ context.Context, cutoff int64, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for _, s := range f.sessions {
		if s.Kind != model.SessionKindTest || s.Status != model.SessionStatusActive {
			continue
		}
		if s.StartedAt+int64(s.TimeLimitSeconds) <= cutoff {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// fakeQuestionStore serves a fixed question set. Selection is deterministic:
// catalog order, no shuffling.
type fakeQuestionStore struct {
	questions []model.Question
}

func (f *fakeQuestionStore) GetByIDs(_ context.Context, ids []string, includeAnswers bool) ([]model.QuestionProjection, error) {
	byID := make(map[string]*model.Question, len(f.questions))
	for i := range f.questions {
		byID[f.questions[i].ID] = &f.questions[i]
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

func (f *fakeQuestionStore) GetQuestionsForSession(_ context.Context, examID string, opts SessionQuestionOptions) ([]model.Question, error) {
	allowed := make(map[string]struct{}, len(opts.ObjectiveIDs))
	for _, id := range opts.ObjectiveIDs {
		allowed[id] = struct{}{}
	}

	var out []model.Question
	for _, q := range f.questions {
		if q.ExamID != examID || !q.IsActive {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[q.ObjectiveID]; !ok {
				continue
			}
		}
		out = append(out, q)
	}
	if opts.MaxQuestions > 0 && len(out) > opts.MaxQuestions {
		out = out[:opts.MaxQuestions]
	}
	return out, nil
}

func (f *fakeQuestionStore) ValidateAnswer(q *model.QuestionProjection, selected []int) bool {
	return indexSetsEqual(q.CorrectAnswers, selected)
}

// fakeExamCatalog serves exams from a map.
type fakeExamCatalog struct {
	exams map[string]*model.Exam
}

func (f *fakeExamCatalog) GetByID(_ context.Context, examID string) (*model.Exam, error) {
	exam, ok := f.exams[examID]
	if !ok {
		return nil, fmt.Errorf("%w: exam %s", ErrNotFound, examID)
	}
	return exam, nil
}

// fakeCompletionQueue records published events.
type fakeCompletionQueue struct {
	mu     sync.Mutex
	events []model.SessionCompletedEvent
}

func (f *fakeCompletionQueue) PublishSessionCompleted(_ context.Context, evt model.SessionCompletedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeCompletionQueue) all() []model.SessionCompletedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SessionCompletedEvent(nil), f.events...)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
