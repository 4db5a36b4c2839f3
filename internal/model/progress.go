package model

// UserProgress aggregates a user's test-session outcomes for one exam.
// Maintained asynchronously by the progress worker.
type UserProgress struct {
	UserID          string `json:"user_id"`
	ExamID          string `json:"exam_id"`
	Attempts        int    `json:"attempts"`
	BestScore       int    `json:"best_score"`
	LastScore       int    `json:"last_score"`
	Passes          int    `json:"passes"`
	StreakDays      int    `json:"streak_days"`
	LastActivityDay string `json:"last_activity_day"` // YYYY-MM-DD, UTC
}
