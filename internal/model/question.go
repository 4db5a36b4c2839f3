package model

// QuestionType distinguishes single-answer from multiple-answer questions.
type QuestionType string

const (
	QuestionTypeSingle   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultiple QuestionType = "MULTIPLE_CHOICE"
)

// Question represents a practice question. Options is an ordered list of
// option texts; CorrectAnswers holds zero-based indices into Options.
type Question struct {
	ID             string       `json:"id"`
	ExamID         string       `json:"exam_id"`
	ObjectiveID    string       `json:"objective_id"`
	QuestionText   string       `json:"question_text"`
	QuestionType   QuestionType `json:"question_type"`
	Options        []string     `json:"options"`
	CorrectAnswers []int        `json:"correct_answers"`
	Explanation    string       `json:"explanation,omitempty"`
	Position       int          `json:"position"`
	IsActive       bool         `json:"is_active"`
}

// QuestionProjection is a question as exposed to callers. CorrectAnswers and
// Explanation are present only when the caller is allowed to see them, never
// during an active attempt.
type QuestionProjection struct {
	ID             string       `json:"id"`
	ExamID         string       `json:"exam_id"`
	ObjectiveID    string       `json:"objective_id"`
	QuestionText   string       `json:"question_text"`
	QuestionType   QuestionType `json:"question_type"`
	Options        []string     `json:"options"`
	CorrectAnswers []int        `json:"correct_answers,omitempty"`
	Explanation    string       `json:"explanation,omitempty"`
}

// Project converts a question into its caller-facing form.
func (q *Question) Project(includeAnswers bool) QuestionProjection {
	p := QuestionProjection{
		ID:           q.ID,
		ExamID:       q.ExamID,
		ObjectiveID:  q.ObjectiveID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Options:      q.Options,
	}
	if includeAnswers {
		p.CorrectAnswers = q.CorrectAnswers
		p.Explanation = q.Explanation
	}
	return p
}
