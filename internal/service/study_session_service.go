package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
	"github.com/rs/zerolog"
)

// historyWindow bounds how many past sessions feed the flagged/incorrect/
// weak_areas selection modes.
const historyWindow = 50

// StudyOptions configures a new study session.
type StudyOptions struct {
	Mode             model.StudyMode
	MaxQuestions     int
	ObjectiveIDs     []string
	ShowExplanations bool
}

// StartStudyResult is returned by Create. IsResuming is true when an
// existing active or paused session was returned instead of a new one.
type StartStudyResult struct {
	Session    *model.Session             `json:"session"`
	Questions  []model.QuestionProjection `json:"questions"`
	IsResuming bool                       `json:"is_resuming"`
}

// StudyUpdateResult is returned by UpdateProgress.
type StudyUpdateResult struct {
	Session  *model.Session  `json:"session"`
	Feedback *AnswerFeedback `json:"feedback,omitempty"`
}

// StudySessionService orchestrates untimed practice sessions: flexible
// question selection, per-answer progress, bookmarks/flags, pause/resume.
type StudySessionService struct {
	sessions  SessionStore
	questions QuestionStore
	exams     ExamCatalog
	log       zerolog.Logger
	now       func() time.Time
}

// NewStudySessionService creates a new StudySessionService.
func NewStudySessionService(sessions SessionStore, questions QuestionStore, exams ExamCatalog, log zerolog.Logger) *StudySessionService {
	return &StudySessionService{
		sessions:  sessions,
		questions: questions,
		exams:     exams,
		log:       log.With().Str("component", "study_session_service").Logger(),
		now:       time.Now,
	}
}

// Create starts a study session, or resumes the caller's existing active or
// paused one for the same exam. The question order is fixed here for the
// session's whole lifetime.
func (s *StudySessionService) Create(ctx context.Context, caller Caller, examID string, opts StudyOptions) (*StartStudyResult, error) {
	if opts.Mode == "" {
		opts.Mode = model.StudyModeSequential
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown study mode %q", ErrInvalidInput, opts.Mode)
	}
	if opts.MaxQuestions < 0 {
		return nil, fmt.Errorf("%w: max questions must not be negative", ErrInvalidInput)
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsActive && !caller.IsAdmin {
		return nil, fmt.Errorf("%w: exam %s is inactive", ErrForbidden, examID)
	}

	// One active-or-paused study session per (user, exam): resume it.
	existing, err := s.sessions.GetActiveByUserExam(ctx, caller.UserID, examID, model.SessionKindStudy)
	if err == nil {
		projections, err := s.questions.GetByIDs(ctx, existing.QuestionsOrder, false)
		if err != nil {
			return nil, err
		}
		return &StartStudyResult{Session: existing, Questions: projections, IsResuming: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	selected, err := s.selectQuestions(ctx, caller.UserID, examID, opts)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no eligible questions for exam %s", ErrNotFound, examID)
	}

	order := make([]string, len(selected))
	projections := make([]model.QuestionProjection, len(selected))
	for i := range selected {
		order[i] = selected[i].ID
		projections[i] = selected[i].Project(false)
	}

	session := &model.Session{
		ID:               newSessionID(model.SessionKindStudy),
		Kind:             model.SessionKindStudy,
		UserID:           caller.UserID,
		ExamID:           examID,
		Status:           model.SessionStatusActive,
		QuestionsOrder:   order,
		Answers:          map[string]model.Answer{},
		Bookmarks:        []string{},
		Flags:            []string{},
		StudyMode:        opts.Mode,
		ShowExplanations: opts.ShowExplanations,
		StartedAt:        s.now().Unix(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", session.ID).
		Str("exam_id", examID).
		Str("mode", string(opts.Mode)).
		Int("questions", len(order)).
		Msg("study session started")

	return &StartStudyResult{Session: session, Questions: projections, IsResuming: false}, nil
}

// GetByID returns the session, enforcing ownership.
func (s *StudySessionService) GetByID(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	return s.getOwned(ctx, caller, id)
}

// UpdateProgress applies an incremental mutation batch: record an answer,
// toggle a bookmark or flag, move the cursor, add elapsed time. Correctness
// is always recomputed server-side; the session must not be terminal.
func (s *StudySessionService) UpdateProgress(ctx context.Context, caller Caller, id string, upd ProgressUpdate) (*StudyUpdateResult, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, id, session.Status)
	}
	if upd.TimeSpentDelta < 0 {
		return nil, fmt.Errorf("%w: time spent must not be negative", ErrInvalidInput)
	}

	patch := model.SessionPatch{
		TimeSpentDelta:  upd.TimeSpentDelta,
		ExpectedVersion: upd.ExpectedVersion,
	}
	touched := upd.TimeSpentDelta > 0

	var feedback *AnswerFeedback
	if upd.Answer != nil {
		answer, fb, err := s.recordAnswer(ctx, session, upd.Answer)
		if err != nil {
			return nil, err
		}
		patch.AnswersMerge = map[string]model.Answer{upd.Answer.QuestionID: *answer}
		feedback = fb
		touched = true
	}
	if upd.ToggleBookmark != "" {
		if !session.InOrder(upd.ToggleBookmark) {
			return nil, fmt.Errorf("%w: question %s is not part of this session", ErrInvalidInput, upd.ToggleBookmark)
		}
		toggled := toggleMember(session.Bookmarks, upd.ToggleBookmark)
		patch.Bookmarks = &toggled
		touched = true
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
	return &StudyUpdateResult{Session: updated, Feedback: feedback}, nil
}

// Pause moves an active session to paused. The question order and recorded
// progress are untouched.
func (s *StudySessionService) Pause(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	return s.transition(ctx, caller, id, model.SessionStatusActive, model.SessionStatusPaused)
}

// Resume moves a paused session back to active.
func (s *StudySessionService) Resume(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	return s.transition(ctx, caller, id, model.SessionStatusPaused, model.SessionStatusActive)
}

// Complete finalizes the session as completed.
func (s *StudySessionService) Complete(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	return s.finalize(ctx, caller, id, model.SessionStatusCompleted)
}

// Abandon finalizes the session as abandoned.
func (s *StudySessionService) Abandon(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	return s.finalize(ctx, caller, id, model.SessionStatusAbandoned)
}

// GetUserHistory lists the caller's study sessions, most recent first.
func (s *StudySessionService) GetUserHistory(ctx context.Context, userID string, page, limit int, examID string) ([]model.Session, int, error) {
	sessions, total, err := s.sessions.ListByUser(ctx, userID, model.SessionKindStudy, examID, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *StudySessionService) getOwned(ctx context.Context, caller Caller, id string) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Kind != model.SessionKindStudy {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err := checkOwnership(session, caller); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *StudySessionService) recordAnswer(ctx context.Context, session *model.Session, sub *AnswerSubmission) (*model.Answer, *AnswerFeedback, error) {
	if !session.InOrder(sub.QuestionID) {
		return nil, nil, fmt.Errorf("%w: question %s is not part of this session", ErrInvalidInput, sub.QuestionID)
	}
	if len(sub.SelectedAnswers) == 0 {
		return nil, nil, fmt.Errorf("%w: no answer options selected", ErrInvalidInput)
	}
	if sub.TimeSpentSeconds < 0 {
		return nil, nil, fmt.Errorf("%w: time spent must not be negative", ErrInvalidInput)
	}

	projections, err := s.questions.GetByIDs(ctx, []string{sub.QuestionID}, true)
	if err != nil {
		return nil, nil, err
	}
	question := &projections[0]

	for _, idx := range sub.SelectedAnswers {
		if idx < 0 || idx >= len(question.Options) {
			return nil, nil, fmt.Errorf("%w: option index %d out of range", ErrInvalidInput, idx)
		}
	}

	answer := &model.Answer{
		SelectedAnswers:  sub.SelectedAnswers,
		IsCorrect:        s.questions.ValidateAnswer(question, sub.SelectedAnswers),
		TimeSpentSeconds: sub.TimeSpentSeconds,
		AnsweredAt:       s.now().Unix(),
	}

	feedback := &AnswerFeedback{QuestionID: sub.QuestionID, IsCorrect: answer.IsCorrect}
	if session.ShowExplanations {
		feedback.CorrectAnswers = question.CorrectAnswers
		feedback.Explanation = question.Explanation
	}
	return answer, feedback, nil
}

func (s *StudySessionService) transition(ctx context.Context, caller Caller, id string, from, to model.SessionStatus) (*model.Session, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if session.Status != from {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, id, session.Status)
	}

	version := session.Version
	return s.applyPatch(ctx, id, model.SessionPatch{
		Status:          &to,
		ExpectedVersion: &version,
	})
}

func (s *StudySessionService) finalize(ctx context.Context, caller Caller, id string, status model.SessionStatus) (*model.Session, error) {
	session, err := s.getOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyEnded, id, session.Status)
	}

	completedAt := s.now().Unix()
	version := session.Version
	updated, err := s.applyPatch(ctx, id, model.SessionPatch{
		Status:          &status,
		CompletedAt:     &completedAt,
		ExpectedVersion: &version,
	})
	if errors.Is(err, ErrStaleWrite) {
		// Lost a finalize race: report the duplicate rather than the conflict.
		if current, getErr := s.sessions.GetByID(ctx, id); getErr == nil && current.Status.Terminal() {
			return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyEnded, id, current.Status)
		}
		return nil, err
	}
	return updated, err
}

func (s *StudySessionService) applyPatch(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
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

// selectQuestions builds the candidate list for a new session according to
// the study mode.
func (s *StudySessionService) selectQuestions(ctx context.Context, userID, examID string, opts StudyOptions) ([]model.Question, error) {
	eligible, err := s.questions.GetQuestionsForSession(ctx, examID, SessionQuestionOptions{
		ObjectiveIDs: opts.ObjectiveIDs,
	})
	if err != nil {
		return nil, err
	}

	switch opts.Mode {
	case model.StudyModeSequential:
		return truncate(eligible, opts.MaxQuestions), nil

	case model.StudyModeRandom:
		shuffleQuestions(eligible)
		return truncate(eligible, opts.MaxQuestions), nil

	case model.StudyModeFlagged, model.StudyModeIncorrect:
		wanted, err := s.historyQuestionSet(ctx, userID, examID, opts.Mode)
		if err != nil {
			return nil, err
		}
		var picked []model.Question
		for _, q := range eligible {
			if _, ok := wanted[q.ID]; ok {
				picked = append(picked, q)
			}
		}
		shuffleQuestions(picked)
		return truncate(picked, opts.MaxQuestions), nil

	case model.StudyModeWeakAreas:
		picked, err := s.weakAreaQuestions(ctx, userID, examID, eligible)
		if err != nil {
			return nil, err
		}
		return truncate(picked, opts.MaxQuestions), nil
	}

	return nil, fmt.Errorf("%w: unknown study mode %q", ErrInvalidInput, opts.Mode)
}

// historyQuestionSet walks the caller's recent sessions for the exam and
// collects flagged question ids, or ids ever answered incorrectly.
func (s *StudySessionService) historyQuestionSet(ctx context.Context, userID, examID string, mode model.StudyMode) (map[string]struct{}, error) {
	past, _, err := s.sessions.ListByUser(ctx, userID, "", examID, 1, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("list past sessions: %w", err)
	}

	wanted := make(map[string]struct{})
	for i := range past {
		if mode == model.StudyModeFlagged {
			for _, qid := range past[i].Flags {
				wanted[qid] = struct{}{}
			}
			continue
		}
		for qid, ans := range past[i].Answers {
			if !ans.IsCorrect {
				wanted[qid] = struct{}{}
			}
		}
	}
	return wanted, nil
}

// weakAreaQuestions orders the eligible questions by the caller's historical
// per-objective accuracy, weakest objective first. Objectives the caller has
// never answered count as 0% and therefore sort first. Questions are
// shuffled within each objective bucket.
func (s *StudySessionService) weakAreaQuestions(ctx context.Context, userID, examID string, eligible []model.Question) ([]model.Question, error) {
	past, _, err := s.sessions.ListByUser(ctx, userID, "", examID, 1, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("list past sessions: %w", err)
	}

	objByQuestion := make(map[string]string, len(eligible))
	buckets := make(map[string][]model.Question)
	for _, q := range eligible {
		objByQuestion[q.ID] = q.ObjectiveID
		buckets[q.ObjectiveID] = append(buckets[q.ObjectiveID], q)
	}

	type stat struct{ answered, correct int }
	stats := make(map[string]*stat)
	for i := range past {
		for qid, ans := range past[i].Answers {
			obj, ok := objByQuestion[qid]
			if !ok {
				continue
			}
			st := stats[obj]
			if st == nil {
				st = &stat{}
				stats[obj] = st
			}
			st.answered++
			if ans.IsCorrect {
				st.correct++
			}
		}
	}

	accuracy := func(obj string) float64 {
		st := stats[obj]
		if st == nil || st.answered == 0 {
			return 0
		}
		return float64(st.correct) / float64(st.answered)
	}

	objectives := make([]string, 0, len(buckets))
	for obj := range buckets {
		objectives = append(objectives, obj)
	}
	sort.Slice(objectives, func(i, j int) bool {
		ai, aj := accuracy(objectives[i]), accuracy(objectives[j])
		if ai != aj {
			return ai < aj
		}
		return objectives[i] < objectives[j]
	})

	var picked []model.Question
	for _, obj := range objectives {
		bucket := buckets[obj]
		shuffleQuestions(bucket)
		picked = append(picked, bucket...)
	}
	return picked, nil
}

func shuffleQuestions(questions []model.Question) {
	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
}

func truncate(questions []model.Question, max int) []model.Question {
	if max > 0 && len(questions) > max {
		return questions[:max]
	}
	return questions
}
