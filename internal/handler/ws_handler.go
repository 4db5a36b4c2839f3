package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prepdeck/prepdeck-backend/internal/middleware"
	"github.com/prepdeck/prepdeck-backend/internal/service"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// timerEvent is one frame of the countdown stream.
type timerEvent struct {
	Type             string `json:"type"` // "tick" or "ended"
	RemainingSeconds int    `json:"remaining_seconds"`
	Status           string `json:"status,omitempty"`
}

// WSHandler streams the countdown of a timed test session.
type WSHandler struct {
	testService *service.TestSessionService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(testService *service.TestSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		testService: testService,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// TimerStream godoc
// WS /ws/v1/sessions/test/:session_id/timer?token=...
// Pushes the remaining seconds once per second. When the clock runs out the
// session is expired server-side and a final "ended" frame is sent.
func (h *WSHandler) TimerStream(c *gin.Context) {
	caller := middleware.CallerFrom(c)
	sessionID := c.Param("session_id")

	session, err := h.testService.GetByID(c.Request.Context(), caller, sessionID)
	if err != nil {
		failFromError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("session_id", sessionID).Logger()
	wsLog.Info().Msg("timer stream connected")

	if session.Status.Terminal() {
		conn.WriteJSON(timerEvent{Type: "ended", Status: string(session.Status)})
		return
	}

	// Drain client frames so close messages are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := h.testService.RemainingSeconds(session)
	for {
		if remaining <= 0 {
			// The deadline passed: expire server-side and report the outcome.
			final, err := h.testService.GetByID(c.Request.Context(), caller, sessionID)
			status := ""
			if err == nil {
				status = string(final.Status)
			}
			conn.WriteJSON(timerEvent{Type: "ended", Status: status})
			wsLog.Info().Msg("timer stream ended")
			return
		}

		if err := conn.WriteJSON(timerEvent{Type: "tick", RemainingSeconds: remaining}); err != nil {
			wsLog.Debug().Msg("timer stream closed")
			return
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
			remaining--
		}
	}
}
