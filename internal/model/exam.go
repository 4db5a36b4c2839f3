package model

import "time"

// Exam represents a certification exam in the catalog.
type Exam struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Vendor          string    `json:"vendor"`
	Description     string    `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	PassingScore    int       `json:"passing_score"`
	TotalQuestions  int       `json:"total_questions"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Objective is a weighted topic area within an exam, used to group and
// filter questions.
type Objective struct {
	ID     string  `json:"id"`
	ExamID string  `json:"exam_id"`
	Title  string  `json:"title"`
	Weight float64 `json:"weight"`
}
