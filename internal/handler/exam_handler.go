package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
)

// ExamHandler handles exam catalog endpoints.
type ExamHandler struct {
	examService *service.ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService) *ExamHandler {
	return &ExamHandler{examService: examService}
}

// List godoc
// GET /api/v1/exams
// Returns all active exams in the catalog.
func (h *ExamHandler) List(c *gin.Context) {
	exams, err := h.examService.ListActive(c.Request.Context())
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// Get godoc
// GET /api/v1/exams/:exam_id
// Returns one exam with its objectives.
func (h *ExamHandler) Get(c *gin.Context) {
	examID := c.Param("exam_id")

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}

	objectives, err := h.examService.GetObjectives(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"exam":       exam,
		"objectives": objectives,
	})
}
