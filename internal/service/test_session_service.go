package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
	"github.com/rs/zerolog"
)

// StartTestResult is returned by Create and GetActive. Questions carry the
// per-session option order; answer keys are never included.
type StartTestResult struct {
	Session          *model.Session             `json:"session"`
	Questions        []model.QuestionProjection `json:"questions"`
	RemainingSeconds int                        `json:"remaining_seconds"`
	IsResuming       bool                       `json:"is_resuming"`
}

// QuestionResult is one entry of a result breakdown: the full question (with
// answer key and explanation) alongside what the caller selected.
type QuestionResult struct {
	Question        model.QuestionProjection `json:"question"`
	SelectedAnswers []int                    `json:"selected_answers,omitempty"`
	Answered        bool                     `json:"answered"`
	IsCorrect       bool                     `json:"is_correct"`
}

// TestResults is the scored outcome of a finished test session.
type TestResults struct {
	Session   *model.Session   `json:"session"`
	Breakdown []QuestionResult `json:"breakdown,omitempty"`
}

// TestSessionService orchestrates timed mock-exam sessions: fixed question
// count, shuffled questions and options, a hard deadline enforced lazily on
// every access, and server-side scoring at submission or expiry.
type TestSessionService struct {
	sessions  SessionStore
	questions QuestionStore
	exams     ExamCatalog
	queue     CompletionQueue
	cfg       *config.Config
	log       zerolog.Logger
	now       func() time.Time
}

// NewTestSessionService creates a new TestSessionService.
func NewTestSessionService(sessions SessionStore, questions QuestionStore, exams ExamCatalog, queue CompletionQueue, cfg *config.Config, log zerolog.Logger) *TestSessionService {
	return &TestSessionService{
		sessions:  sessions,
		questions: questions,
		exams:     exams,
		queue:     queue,
		cfg:       cfg,
		log:       log.With().Str("component", "test_session_service").Logger(),
		now:       time.Now,
	}
}

// TestOptions are caller overrides for a new test session. Zero values fall
// back to the exam snapshot, then to the configured defaults.
type TestOptions struct {
	TimeLimitMinutes int
	MaxQuestions     int
}

// Create starts a timed test session for the exam, or resumes the caller's
// existing active one when its deadline has not passed (overrides do not
// apply to a resumed session; it keeps its own snapshot). An overdue session
// found here is finalized as expired before the new one is created.
func (s *TestSessionService) Create(ctx context.Context, caller Caller, examID string, opts TestOptions) (*StartTestResult, error) {
	if opts.TimeLimitMinutes < 0 || opts.MaxQuestions < 0 {
		return nil, fmt.Errorf("%w: time limit and question count must be positive", ErrInvalidInput)
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsActive && !caller.IsAdmin {
		return nil, fmt.Errorf("%w: exam %s is inactive", ErrForbidden, examID)
	}

	existing, err := s.sessions.GetActiveByUserExam(ctx, caller.UserID, examID, model.SessionKindTest)
	if err == nil {
		if !s.overdue(existing) {
			return s.resumeResult(ctx, existing)
		}
		if _, err := s.expire(ctx, existing); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	count := opts.MaxQuestions
	if count <= 0 {
		count = exam.TotalQuestions
	}
	if count <= 0 {
		count = s.cfg.DefaultTestQuestions
	}
	selected, err := s.questions.GetQuestionsForSession(ctx, examID, SessionQuestionOptions{
		MaxQuestions:     count,
		ShuffleQuestions: true,
	})
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no eligible questions for exam %s", ErrNotFound, examID)
	}

	limitSeconds := opts.TimeLimitMinutes * 60
	if limitSeconds <= 0 {
		limitSeconds = exam.DurationMinutes * 60
	}
	if limitSeconds <= 0 {
		limitSeconds = s.cfg.DefaultTestMinutes * 60
	}

	order := make([]string, len(selected))
	orders := make(map[string][]int, len(selected))
	projections := make([]model.QuestionProjection, len(selected))
	for i := range selected {
		q := &selected[i]
		order[i] = q.ID
		perm := newOptionOrder(len(q.Options))
		orders[q.ID] = perm
		projections[i] = permuteProjection(q.Project(false), perm)
	}

	session := &model.Session{
		ID:               newSessionID(model.SessionKindTest),
		Kind:             model.SessionKindTest,
		UserID:           caller.UserID,
		ExamID:           examID,
		Status:           model.SessionStatusActive,
		QuestionsOrder:   order,
		Answers:          map[string]model.Answer{},
		Bookmarks:        []string{},
		Flags:            []string{},
		OptionOrders:     orders,
		StartedAt:        s.now().Unix(),
		TimeLimitSeconds: limitSeconds,
		PassingScore:     exam.PassingScore,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", session.ID).
		Str("exam_id", examID).
		Int("questions", len(order)).
		Int("time_limit_seconds", limitSeconds).
		Msg("test session started")

	return &StartTestResult{
		Session:          session.View(),
		Questions:        projections,
		RemainingSeconds: limitSeconds,
	}, nil
}

// GetActive returns the caller's in-flight test session for the exam,
// expiring it first if the deadline has passed.
func (s *TestSessionService) GetActive(ctx context.Context, caller Caller, examID string) (*StartTestResult, error) {
	session, err := s.sessions.GetActiveByUserExam(ctx, caller.UserID, examID, model.SessionKindTest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active test session for exam %s", ErrNotFound, examID)
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	if s.overdue(session) {
		if _, err := s.expire(ctx, session); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: session %s is expired", ErrAlreadyEnded, session.ID)
	}
	return s.resumeResult(ctx, session)
}

// GetByID returns the session, enforcing ownership and lazy expiry.
func (s *TestSessionService) GetByID(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if s.overdue(session) {
		return s.expire(ctx, session)
	}
	return session, nil
}

// UpdateProgress applies an incremental mutation batch to an in-flight test
// session. Selected option indices refer to the shuffled order the session
// presented. A session past its deadline is expired here; the update is
// dropped and the finalized session comes back so the caller can render the
// outcome without another round-trip.
func (s *TestSessionService) UpdateProgress(ctx context.Context, caller Caller, id string, upd ProgressUpdate) (*model.Session, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, id, session.Status)
	}
	if s.overdue(session) {
		expired, err := s.expire(ctx, session)
		if err != nil {
			return nil, err
		}
		return expired.View(), nil
	}
	if upd.TimeSpentDelta < 0 {
		return nil, fmt.Errorf("%w: time spent must not be negative", ErrInvalidInput)
	}

	patch := model.SessionPatch{
		TimeSpentDelta:  upd.TimeSpentDelta,
		ExpectedVersion: upd.ExpectedVersion,
	}
	touched := upd.TimeSpentDelta > 0

	if upd.Answer != nil {
		answer, err := s.recordAnswer(ctx, session, upd.Answer)
		if err != nil {
			return nil, err
		}
		patch.AnswersMerge = map[string]model.Answer{upd.Answer.QuestionID: *answer}
		touched = true
	}
	if upd.ToggleBookmark != "" {
		// Bookmarks are a study aid; during a timed attempt only flagging
		// for review is available.
		return nil, fmt.Errorf("%w: test sessions do not support bookmarks", ErrInvalidInput)
	}
	if upd.ToggleFlag != "" {
		if !session.InOrder(upd.ToggleFlag) {
			return nil, fmt.Errorf("%w: question %s is not part of this session", ErrInvalidInput, upd.ToggleFlag)
		}
		toggled := toggleMember(session.Flags, upd.ToggleFlag)
		patch.Flags = &toggled
		touched = true
	}
	if upd.CurrentQuestionIndex != nil {
		idx := *upd.CurrentQuestionIndex
		if idx < 0 || idx >= len(session.QuestionsOrder) {
			return nil, fmt.Errorf("%w: question index %d out of range", ErrInvalidInput, idx)
		}
		patch.CurrentQuestionIndex = upd.CurrentQuestionIndex
		touched = true
	}
	if !touched {
		return nil, fmt.Errorf("%w: empty progress update", ErrInvalidInput)
	}

	updated, err := s.applyPatch(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return updated.View(), nil
}

// Submit finalizes and scores the session. A submit landing after the
// deadline finalizes the session as expired instead; either way the scored
// results are returned. Duplicate submits report ErrAlreadyEnded.
func (s *TestSessionService) Submit(ctx context.Context, caller Caller, id string) (*TestResults, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyEnded, id, session.Status)
	}

	status := model.SessionStatusSubmitted
	completedAt := s.now().Unix()
	if s.overdue(session) {
		status = model.SessionStatusExpired
		completedAt = s.deadline(session)
	}

	finalized, err := s.finalizeScored(ctx, session, status, completedAt)
	if err != nil {
		return nil, err
	}
	return s.results(ctx, finalized)
}

// Abandon finalizes the session as abandoned without scoring it.
func (s *TestSessionService) Abandon(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyEnded, id, session.Status)
	}
	if s.overdue(session) {
		return s.expire(ctx, session)
	}

	status := model.SessionStatusAbandoned
	completedAt := s.now().Unix()
	version := session.Version
	updated, err := s.applyPatch(ctx, id, model.SessionPatch{
		Status:          &status,
		CompletedAt:     &completedAt,
		ExpectedVersion: &version,
	})
	if errors.Is(err, ErrStaleWrite) {
		if current, getErr := s.sessions.GetByID(ctx, id); getErr == nil && current.Status.Terminal() {
			return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyEnded, id, current.Status)
		}
		return nil, err
	}
	return updated, err
}

// GetResults returns the scored outcome with a per-question breakdown.
// Only submitted and expired sessions have results.
func (s *TestSessionService) GetResults(ctx context.Context, caller Caller, id string) (*TestResults, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if s.overdue(session) {
		if session, err = s.expire(ctx, session); err != nil {
			return nil, err
		}
	}
	switch session.Status {
	case model.SessionStatusSubmitted, model.SessionStatusExpired:
	default:
		return nil, fmt.Errorf("%w: session %s is %s, no results yet", ErrInvalidState, id, session.Status)
	}
	return s.results(ctx, session)
}

// GetUserHistory lists the caller's test sessions, most recent first.
func (s *TestSessionService) GetUserHistory(ctx context.Context, userID string, page, limit int, examID string) ([]model.Session, int, error) {
	sessions, total, err := s.sessions.ListByUser(ctx, userID, model.SessionKindTest, examID, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

// ExpireOverdue finalizes up to limit overdue active test sessions. It backs
// the background sweeper; lazy expiry on access remains the primary path.
// Sessions get a short grace period past their deadline before the sweeper
// picks them up, so an in-flight submit is not raced.
func (s *TestSessionService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	cutoff := s.now().Add(-s.cfg.ExpirySweepGrace).Unix()
	ids, err := s.sessions.ListOverdueTestIDs(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue sessions: %w", err)
	}

	expired := 0
	for _, id := range ids {
		session, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return expired, fmt.Errorf("get session %s: %w", id, err)
		}
		if session.Status.Terminal() || !s.overdue(session) {
			continue
		}
		if _, err := s.expire(ctx, session); err != nil {
			s.log.Error().Err(err).Str("session_id", id).Msg("expire overdue session failed")
			continue
		}
		expired++
	}
	return expired, nil
}

// RemainingSeconds reports the time left on the session's clock, never
// negative.
func (s *TestSessionService) RemainingSeconds(session *model.Session) int {
	remaining := s.deadline(session) - s.now().Unix()
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

func (s *TestSessionService) getOwned(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Kind != model.SessionKindTest {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err := checkOwnership(session, caller); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *TestSessionService) deadline(session *model.Session) int64 {
	return session.StartedAt + int64(session.TimeLimitSeconds)
}

func (s *TestSessionService) overdue(session *model.Session) bool {
	return !session.Status.Terminal() && s.now().Unix() >= s.deadline(session)
}

func (s *TestSessionService) resumeResult(ctx context.Context, session *model.Session) (*StartTestResult, error) {
	projections, err := s.questions.GetByIDs(ctx, session.QuestionsOrder, false)
	if err != nil {
		return nil, err
	}
	for i := range projections {
		if perm, ok := session.OptionOrders[projections[i].ID]; ok {
			projections[i] = permuteProjection(projections[i], perm)
		}
	}
	return &StartTestResult{
		Session:          session.View(),
		Questions:        projections,
		RemainingSeconds: s.RemainingSeconds(session),
		IsResuming:       true,
	}, nil
}

// recordAnswer grades a submission against the session's option order and
// returns the answer to merge. Selected indices are stored as submitted, in
// displayed order; grading maps them back to catalog order first.
func (s *TestSessionService) recordAnswer(ctx context.Context, session *model.Session, sub *AnswerSubmission) (*model.Answer, error) {
	if !session.InOrder(sub.QuestionID) {
		return nil, fmt.Errorf("%w: question %s is not part of this session", ErrInvalidInput, sub.QuestionID)
	}
	if len(sub.SelectedAnswers) == 0 {
		return nil, fmt.Errorf("%w: no answer options selected", ErrInvalidInput)
	}
	if sub.TimeSpentSeconds < 0 {
		return nil, fmt.Errorf("%w: time spent must not be negative", ErrInvalidInput)
	}

	projections, err := s.questions.GetByIDs(ctx, []string{sub.QuestionID}, true)
	if err != nil {
		return nil, err
	}
	question := &projections[0]

	for _, idx := range sub.SelectedAnswers {
		if idx < 0 || idx >= len(question.Options) {
			return nil, fmt.Errorf("%w: option index %d out of range", ErrInvalidInput, idx)
		}
	}

	graded := sub.SelectedAnswers
	if perm, ok := session.OptionOrders[sub.QuestionID]; ok {
		graded = make([]int, len(sub.SelectedAnswers))
		for i, displayed := range sub.SelectedAnswers {
			graded[i] = perm[displayed]
		}
	}

	return &model.Answer{
		SelectedAnswers:  sub.SelectedAnswers,
		IsCorrect:        s.questions.ValidateAnswer(question, graded),
		TimeSpentSeconds: sub.TimeSpentSeconds,
		AnsweredAt:       s.now().Unix(),
	}, nil
}

// expire finalizes an overdue session as expired, scoring whatever answers
// were recorded. CompletedAt is pinned to the deadline, not the observation
// time.
func (s *TestSessionService) expire(ctx context.Context, session *model.Session) (*model.Session, error) {
	return s.finalizeScored(ctx, session, model.SessionStatusExpired, s.deadline(session))
}

// finalizeScored computes the score and writes the terminal state under a
// version guard. Losing the guard to a concurrent finalize yields
// ErrAlreadyEnded; losing it to a progress update re-reads and retries once.
func (s *TestSessionService) finalizeScored(ctx context.Context, session *model.Session, status model.SessionStatus, completedAt int64) (*model.Session, error) {
	for attempt := 0; ; attempt++ {
		correct, incorrect, unanswered := tally(session)
		score := roundedScore(correct, len(session.QuestionsOrder))
		passed := score >= session.PassingScore

		version := session.Version
		updated, err := s.applyPatch(ctx, session.ID, model.SessionPatch{
			Status:          &status,
			Score:           &score,
			CorrectCount:    &correct,
			IncorrectCount:  &incorrect,
			UnansweredCount: &unanswered,
			Passed:          &passed,
			CompletedAt:     &completedAt,
			ExpectedVersion: &version,
		})
		if err == nil {
			s.log.Info().
				Str("session_id", updated.ID).
				Str("status", string(status)).
				Int("score", score).
				Bool("passed", passed).
				Msg("test session finalized")
			s.queue.PublishSessionCompleted(ctx, model.SessionCompletedEvent{
				UserID:     updated.UserID,
				ExamID:     updated.ExamID,
				Score:      score,
				Passed:     passed,
				FinishedAt: completedAt,
			})
			return updated, nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return nil, err
		}

		current, getErr := s.sessions.GetByID(ctx, session.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reread session: %w", getErr)
		}
		if current.Status.Terminal() {
			return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyEnded, session.ID, current.Status)
		}
		if attempt >= 1 {
			return nil, err
		}
		session = current
	}
}

func (s *TestSessionService) results(ctx context.Context, session *model.Session) (*TestResults, error) {
	projections, err := s.questions.GetByIDs(ctx, session.QuestionsOrder, true)
	if err != nil {
		return nil, err
	}

	breakdown := make([]QuestionResult, len(projections))
	for i := range projections {
		entry := QuestionResult{Question: projections[i]}
		if answer, ok := session.Answers[projections[i].ID]; ok {
			entry.Answered = true
			entry.SelectedAnswers = answer.SelectedAnswers
			entry.IsCorrect = answer.IsCorrect
		}
		breakdown[i] = entry
	}
	return &TestResults{Session: session, Breakdown: breakdown}, nil
}

func (s *TestSessionService) applyPatch(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	updated, err := s.sessions.Update(ctx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleVersion):
			return nil, fmt.Errorf("%w: session %s", ErrStaleWrite, id)
		case errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return updated, nil
}

func tally(session *model.Session) (correct, incorrect, unanswered int) {
	for _, answer := range session.Answers {
		if answer.IsCorrect {
			correct++
		} else {
			incorrect++
		}
	}
	unanswered = len(session.QuestionsOrder) - correct - incorrect
	if unanswered < 0 {
		unanswered = 0
	}
	return correct, incorrect, unanswered
}

// roundedScore is the percentage of correct answers, rounded half away from
// zero to the nearest integer.
func roundedScore(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) * 100 / float64(total)))
}

// newOptionOrder returns a random permutation mapping displayed position to
// catalog position.
func newOptionOrder(n int) []int {
	return rand.Perm(n)
}

// permuteProjection reorders the projection's options by the permutation.
// The answer key, when present, is remapped to displayed positions.
func permuteProjection(p model.QuestionProjection, perm []int) model.QuestionProjection {
	if len(perm) != len(p.Options) {
		return p
	}
	options := make([]string, len(p.Options))
	for displayed, original := range perm {
		options[displayed] = p.Options[original]
	}
	p.Options = options

	if len(p.CorrectAnswers) > 0 {
		inverse := make(map[int]int, len(perm))
		for displayed, original := range perm {
			inverse[original] = displayed
		}
		remapped := make([]int, len(p.CorrectAnswers))
		for i, original := range p.CorrectAnswers {
			remapped[i] = inverse[original]
		}
		p.CorrectAnswers = remapped
	}
	return p
}
