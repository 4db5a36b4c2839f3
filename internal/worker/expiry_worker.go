package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const expiryBatchLimit = 100

// SessionExpirer finalizes overdue test sessions. Implemented by
// service.TestSessionService.
type SessionExpirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// ExpiryWorker periodically sweeps overdue test sessions that no request has
// touched since their deadline. Lazy expiry on access is the primary
// mechanism; the sweeper keeps history and aggregates from drifting when a
// client simply walks away.
type ExpiryWorker struct {
	expirer  SessionExpirer
	interval time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(expirer SessionExpirer, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			expired, err := w.expirer.ExpireOverdue(ctx, expiryBatchLimit)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if expired > 0 {
				w.log.Info().Int("expired", expired).Msg("expired overdue sessions")
			}
		}
	}
}
