package model

// SessionKind distinguishes the two session flavors.
type SessionKind string

const (
	SessionKindStudy SessionKind = "study"
	SessionKindTest  SessionKind = "test"
)

// SessionStatus enumerates session states. Transitions only move forward:
// active -> {paused <-> active} -> {completed | submitted | abandoned | expired}.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusPaused    SessionStatus = "paused" // study only
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusSubmitted SessionStatus = "submitted"
	SessionStatusAbandoned SessionStatus = "abandoned"
	SessionStatusExpired   SessionStatus = "expired"
)

// Terminal reports whether the status accepts no further mutation.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusSubmitted, SessionStatusAbandoned, SessionStatusExpired:
		return true
	}
	return false
}

// StudyMode selects how a study session's question order is built.
type StudyMode string

const (
	StudyModeSequential StudyMode = "sequential"
	StudyModeRandom     StudyMode = "random"
	StudyModeFlagged    StudyMode = "flagged"
	StudyModeIncorrect  StudyMode = "incorrect"
	StudyModeWeakAreas  StudyMode = "weak_areas"
)

// Valid reports whether the mode is one of the known study modes.
func (m StudyMode) Valid() bool {
	switch m {
	case StudyModeSequential, StudyModeRandom, StudyModeFlagged, StudyModeIncorrect, StudyModeWeakAreas:
		return true
	}
	return false
}

// Answer records a user's response to one question. Keys in Session.Answers
// are question ids; last write wins per question.
type Answer struct {
	SelectedAnswers  []int `json:"selected_answers"`
	IsCorrect        bool  `json:"is_correct"`
	TimeSpentSeconds int   `json:"time_spent_seconds"`
	AnsweredAt       int64 `json:"answered_at"`
}

// Session is a single attempt instance (study or test) at an exam.
// QuestionsOrder is fixed at creation and never mutated; it is the
// authoritative definition of "total questions" for the session.
// All timestamps are epoch seconds.
type Session struct {
	ID                   string            `json:"id"`
	Kind                 SessionKind       `json:"kind"`
	UserID               string            `json:"user_id"`
	ExamID               string            `json:"exam_id"`
	Status               SessionStatus     `json:"status"`
	QuestionsOrder       []string          `json:"questions_order"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	Answers              map[string]Answer `json:"answers"`
	Bookmarks            []string          `json:"bookmarks"`
	Flags                []string          `json:"flags"`
	// OptionOrders maps a question id to the option permutation shown to the
	// caller for this session: OptionOrders[qid][displayed] = original index.
	// Empty for study sessions (options are shown in catalog order).
	OptionOrders     map[string][]int `json:"-"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
	StartedAt        int64            `json:"started_at"`
	CompletedAt      *int64           `json:"completed_at,omitempty"`
	Version          int              `json:"version"`

	// Study only.
	StudyMode        StudyMode `json:"study_mode,omitempty"`
	ShowExplanations bool      `json:"show_explanations,omitempty"`

	// Test only. PassingScore and TimeLimitSeconds are snapshotted from the
	// exam at creation; scoring fields are derived at submission or expiry.
	TimeLimitSeconds int   `json:"time_limit_seconds,omitempty"`
	PassingScore     int   `json:"passing_score,omitempty"`
	Score            *int  `json:"score,omitempty"`
	CorrectCount     int   `json:"correct_count"`
	IncorrectCount   int   `json:"incorrect_count"`
	UnansweredCount  int   `json:"unanswered_count"`
	Passed           *bool `json:"passed,omitempty"`
}

// View returns the caller-facing copy of the session. For in-flight test
// sessions the per-answer verdicts are withheld so clients cannot grade
// themselves mid-attempt; terminal sessions are returned as-is.
func (s *Session) View() *Session {
	if s.Kind != SessionKindTest || s.Status.Terminal() {
		return s
	}
	view := *s
	view.Answers = make(map[string]Answer, len(s.Answers))
	for qid, a := range s.Answers {
		a.IsCorrect = false
		view.Answers[qid] = a
	}
	return &view
}

// InOrder reports whether the question id belongs to the session's fixed order.
func (s *Session) InOrder(questionID string) bool {
	for _, id := range s.QuestionsOrder {
		if id == questionID {
			return true
		}
	}
	return false
}

// SessionPatch is a partial update applied atomically to one session row.
// Nil fields are left untouched. AnswersMerge entries are upserted per
// question id without clobbering answers to other questions, so concurrent
// patches touching different questions never lose data.
type SessionPatch struct {
	Status               *SessionStatus
	CurrentQuestionIndex *int
	AnswersMerge         map[string]Answer
	Bookmarks            *[]string
	Flags                *[]string
	TimeSpentDelta       int
	Score                *int
	CorrectCount         *int
	IncorrectCount       *int
	UnansweredCount      *int
	Passed               *bool
	CompletedAt          *int64
	// ExpectedVersion enables optimistic concurrency: when set, the patch is
	// rejected as stale unless the stored version matches. When nil the patch
	// is last-write-wins, matching the row-level semantics the engine accepts.
	ExpectedVersion *int
}

// SessionCompletedEvent is the fire-and-forget analytics payload pushed onto
// the Redis queue when a test session reaches a scored terminal state.
type SessionCompletedEvent struct {
	UserID     string `json:"user_id"`
	ExamID     string `json:"exam_id"`
	Score      int    `json:"score"`
	Passed     bool   `json:"passed"`
	FinishedAt int64  `json:"finished_at"`
}
