package service

import (
	"strings"

	"github.com/google/uuid"
	"github.com/prepdeck/prepdeck-backend/internal/model"
)

// Caller identifies the authenticated requester. Admins bypass the
// session-ownership check; nothing else.
type Caller struct {
	UserID  string
	IsAdmin bool
}

// AnswerSubmission records one answer inside a progress update. Selected
// indices refer to the option order the session presented to the caller.
type AnswerSubmission struct {
	QuestionID       string
	SelectedAnswers  []int
	TimeSpentSeconds int
}

// ProgressUpdate is a batch of incremental session mutations applied in one
// call. Zero-valued fields are skipped.
type ProgressUpdate struct {
	Answer               *AnswerSubmission
	ToggleBookmark       string
	ToggleFlag           string
	CurrentQuestionIndex *int
	TimeSpentDelta       int
	// ExpectedVersion, when set, rejects the update if another request has
	// modified the session since the caller last read it.
	ExpectedVersion *int
}

// AnswerFeedback echoes the server-side verdict for a just-recorded answer.
// CorrectAnswers and Explanation are filled only for study sessions that
// opted into explanations.
type AnswerFeedback struct {
	QuestionID     string `json:"question_id"`
	IsCorrect      bool   `json:"is_correct"`
	CorrectAnswers []int  `json:"correct_answers,omitempty"`
	Explanation    string `json:"explanation,omitempty"`
}

// newSessionID builds a kind-prefixed opaque identifier, e.g. "test_9f3c...".
func newSessionID(kind model.SessionKind) string {
	return string(kind) + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// toggleMember adds id to the list if absent, removes it if present.
func toggleMember(list []string, id string) []string {
	for i, v := range list {
		if v == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return append(list, id)
}

// checkOwnership enforces that only the owner (or an admin) touches a session.
func checkOwnership(s *model.Session, caller Caller) error {
	if s.UserID != caller.UserID && !caller.IsAdmin {
		return ErrForbidden
	}
	return nil
}
