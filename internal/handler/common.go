package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// failFromError maps service-layer errors onto the API error envelope.
func failFromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrInvalidInput):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	case errors.Is(err, service.ErrAlreadyEnded):
		response.Fail(c, http.StatusConflict, response.ErrSessionEnded)
	case errors.Is(err, service.ErrInvalidState):
		response.Fail(c, http.StatusConflict, response.ErrSessionLocked)
	case errors.Is(err, service.ErrStaleWrite):
		response.Fail(c, http.StatusConflict, response.ErrStaleVersion)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// parsePagination reads ?page= and ?limit= with sane defaults and caps.
func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func buildPagination(page, limit, total int) *response.Pagination {
	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	return &response.Pagination{
		Page:       page,
		PerPage:    limit,
		TotalItems: total,
		TotalPages: totalPages,
	}
}

// sessionViews redacts in-flight test verdicts across a listing.
func sessionViews(sessions []model.Session) []*model.Session {
	views := make([]*model.Session, len(sessions))
	for i := range sessions {
		views[i] = sessions[i].View()
	}
	return views
}
