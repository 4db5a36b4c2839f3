package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prepdeck/prepdeck-backend/internal/middleware"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
	"github.com/prepdeck/prepdeck-backend/internal/validator"
)

// StudySessionHandler handles study session endpoints.
type StudySessionHandler struct {
	studyService *service.StudySessionService
}

// NewStudySessionHandler creates a new StudySessionHandler.
func NewStudySessionHandler(studyService *service.StudySessionService) *StudySessionHandler {
	return &StudySessionHandler{studyService: studyService}
}

// Start godoc
// POST /api/v1/sessions/study
// Opens a study session, or resumes the caller's existing one for the exam.
func (h *StudySessionHandler) Start(c *gin.Context) {
	var req model.StartStudySessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.studyService.Create(c.Request.Context(), middleware.CallerFrom(c), req.ExamID, service.StudyOptions{
		Mode:             model.StudyMode(req.Mode),
		MaxQuestions:     req.MaxQuestions,
		ObjectiveIDs:     req.ObjectiveIDs,
		ShowExplanations: req.ShowExplanations,
	})
	if err != nil {
		failFromError(c, err)
		return
	}

	status := http.StatusCreated
	if result.IsResuming {
		status = http.StatusOK
	}
	response.Success(c, status, result)
}

// Get godoc
// GET /api/v1/sessions/study/:session_id
func (h *StudySessionHandler) Get(c *gin.Context) {
	session, err := h.studyService.GetByID(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// UpdateProgress godoc
// PATCH /api/v1/sessions/study/:session_id
// Records an answer, toggles a bookmark or flag, moves the cursor, or adds
// elapsed time. Answers are graded server-side; feedback is included when
// the session opted into explanations.
func (h *StudySessionHandler) UpdateProgress(c *gin.Context) {
	var req model.UpdateProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.studyService.UpdateProgress(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"), toProgressUpdate(&req))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Pause godoc
// POST /api/v1/sessions/study/:session_id/pause
func (h *StudySessionHandler) Pause(c *gin.Context) {
	h.transition(c, h.studyService.Pause)
}

// Resume godoc
// POST /api/v1/sessions/study/:session_id/resume
func (h *StudySessionHandler) Resume(c *gin.Context) {
	h.transition(c, h.studyService.Resume)
}

// Complete godoc
// POST /api/v1/sessions/study/:session_id/complete
func (h *StudySessionHandler) Complete(c *gin.Context) {
	h.transition(c, h.studyService.Complete)
}

// Abandon godoc
// POST /api/v1/sessions/study/:session_id/abandon
func (h *StudySessionHandler) Abandon(c *gin.Context) {
	h.transition(c, h.studyService.Abandon)
}

// History godoc
// GET /api/v1/sessions/study?exam_id=&page=&limit=
// Lists the caller's study sessions, most recent first.
func (h *StudySessionHandler) History(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, limit := parsePagination(c)
	sessions, total, err := h.studyService.GetUserHistory(c.Request.Context(), claims.UserID, page, limit, c.Query("exam_id"))
	if err != nil {
		failFromError(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": sessions}, buildPagination(page, limit, total))
}

type transitionFunc func(ctx context.Context, caller service.Caller, id string) (*model.Session, error)

func (h *StudySessionHandler) transition(c *gin.Context, fn transitionFunc) {
	session, err := fn(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// toProgressUpdate converts the wire payload into the service mutation batch.
func toProgressUpdate(req *model.UpdateProgressRequest) service.ProgressUpdate {
	upd := service.ProgressUpdate{
		ToggleBookmark:       req.ToggleBookmark,
		ToggleFlag:           req.ToggleFlag,
		CurrentQuestionIndex: req.CurrentQuestionIndex,
		TimeSpentDelta:       req.TimeSpentDelta,
		ExpectedVersion:      req.ExpectedVersion,
	}
	if req.Answer != nil {
		upd.Answer = &service.AnswerSubmission{
			QuestionID:       req.Answer.QuestionID,
			SelectedAnswers:  req.Answer.SelectedAnswers,
			TimeSpentSeconds: req.Answer.TimeSpentSeconds,
		}
	}
	return upd
}
