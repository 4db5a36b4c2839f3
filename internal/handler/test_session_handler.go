package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prepdeck/prepdeck-backend/internal/middleware"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
	"github.com/prepdeck/prepdeck-backend/internal/validator"
)

// TestSessionHandler handles timed test session endpoints.
type TestSessionHandler struct {
	testService *service.TestSessionService
}

// NewTestSessionHandler creates a new TestSessionHandler.
func NewTestSessionHandler(testService *service.TestSessionService) *TestSessionHandler {
	return &TestSessionHandler{testService: testService}
}

// Start godoc
// POST /api/v1/sessions/test
// Opens a timed test session, or resumes the caller's in-flight one for the
// exam when its deadline has not passed.
func (h *TestSessionHandler) Start(c *gin.Context) {
	var req model.StartTestSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.testService.Create(c.Request.Context(), middleware.CallerFrom(c), req.ExamID, service.TestOptions{
		TimeLimitMinutes: req.TimeLimitMinutes,
		MaxQuestions:     req.MaxQuestions,
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

// GetActive godoc
// GET /api/v1/sessions/test/active?exam_id=
// Returns the caller's in-flight test session for the exam, with the
// remaining time and the session's question order.
func (h *TestSessionHandler) GetActive(c *gin.Context) {
	examID := c.Query("exam_id")
	if examID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	result, err := h.testService.GetActive(c.Request.Context(), middleware.CallerFrom(c), examID)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Get godoc
// GET /api/v1/sessions/test/:session_id
func (h *TestSessionHandler) Get(c *gin.Context) {
	session, err := h.testService.GetByID(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session.View()})
}

// UpdateProgress godoc
// PATCH /api/v1/sessions/test/:session_id
// Records an answer, toggles a bookmark or flag, moves the cursor, or adds
// elapsed time. No correctness feedback is given during the attempt.
func (h *TestSessionHandler) UpdateProgress(c *gin.Context) {
	var req model.UpdateProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.testService.UpdateProgress(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"), toProgressUpdate(&req))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Submit godoc
// POST /api/v1/sessions/test/:session_id/submit
// Finalizes and scores the session, returning the per-question breakdown.
func (h *TestSessionHandler) Submit(c *gin.Context) {
	results, err := h.testService.Submit(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// Abandon godoc
// POST /api/v1/sessions/test/:session_id/abandon
func (h *TestSessionHandler) Abandon(c *gin.Context) {
	session, err := h.testService.Abandon(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Results godoc
// GET /api/v1/sessions/test/:session_id/results
// Returns the scored outcome of a submitted or expired session.
func (h *TestSessionHandler) Results(c *gin.Context) {
	results, err := h.testService.GetResults(c.Request.Context(), middleware.CallerFrom(c), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidState) {
			response.Fail(c, http.StatusConflict, response.ErrNotYetFinished)
			return
		}
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// ExpireOverdue godoc
// POST /api/v1/admin/sessions/test/expire-overdue
// Force-runs one sweep of overdue test sessions. The background worker
// performs the same sweep periodically; this exists for operators.
func (h *TestSessionHandler) ExpireOverdue(c *gin.Context) {
	expired, err := h.testService.ExpireOverdue(c.Request.Context(), 100)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"expired": expired})
}

// History godoc
// GET /api/v1/sessions/test?exam_id=&page=&limit=
// Lists the caller's test sessions, most recent first.
func (h *TestSessionHandler) History(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, limit := parsePagination(c)
	sessions, total, err := h.testService.GetUserHistory(c.Request.Context(), claims.UserID, page, limit, c.Query("exam_id"))
	if err != nil {
		failFromError(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": sessionViews(sessions)}, buildPagination(page, limit, total))
}
