package model

// StartStudySessionRequest is the payload for opening a study session.
type StartStudySessionRequest struct {
	ExamID           string   `json:"exam_id" binding:"required"`
	Mode             string   `json:"mode" binding:"omitempty,oneof=sequential random flagged incorrect weak_areas"`
	MaxQuestions     int      `json:"max_questions" binding:"omitempty,min=1,max=500"`
	ObjectiveIDs     []string `json:"objective_ids" binding:"omitempty,dive,required"`
	ShowExplanations bool     `json:"show_explanations"`
}

// StartTestSessionRequest is the payload for opening a timed test session.
// TimeLimitMinutes and MaxQuestions override the exam's snapshot values;
// left zero, the exam record and then the configured defaults apply.
type StartTestSessionRequest struct {
	ExamID           string `json:"exam_id" binding:"required"`
	TimeLimitMinutes int    `json:"time_limit_minutes" binding:"omitempty,min=1,max=600"`
	MaxQuestions     int    `json:"max_questions" binding:"omitempty,min=1,max=500"`
}

// AnswerPayload records one answer inside a progress update. Selected
// indices refer to the option order the session presented.
type AnswerPayload struct {
	QuestionID       string `json:"question_id" binding:"required"`
	SelectedAnswers  []int  `json:"selected_answers" binding:"required,min=1"`
	TimeSpentSeconds int    `json:"time_spent_seconds" binding:"omitempty,min=0"`
}

// UpdateProgressRequest is the payload for an incremental session update.
// All fields are optional but at least one mutation must be present.
type UpdateProgressRequest struct {
	Answer               *AnswerPayload `json:"answer"`
	ToggleBookmark       string         `json:"toggle_bookmark"`
	ToggleFlag           string         `json:"toggle_flag"`
	CurrentQuestionIndex *int           `json:"current_question_index" binding:"omitempty,min=0"`
	TimeSpentDelta       int            `json:"time_spent_delta" binding:"omitempty,min=0"`
	ExpectedVersion      *int           `json:"expected_version" binding:"omitempty,min=1"`
}
