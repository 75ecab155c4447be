package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"voice-ingest/internal/domain"
)

// BacklogProcessor is the slice of the ingest use case the sweeper needs.
type BacklogProcessor interface {
	ProcessBacklog(ctx context.Context, projectID string) (int, error)
}

// BacklogWorker periodically queues PENDING messages that already have audio.
type BacklogWorker struct {
	interval time.Duration
	projects []string
	uc       BacklogProcessor
	log      *zerolog.Logger
}

func NewBacklogWorker(interval time.Duration, projects []string, uc BacklogProcessor, logger *zerolog.Logger) *BacklogWorker {
	l := logger.With().Str("component", "BacklogWorker").Logger()
	return &BacklogWorker{
		interval: interval,
		projects: append([]string(nil), projects...),
		uc:       uc,
		log:      &l,
	}
}

func (w *BacklogWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Strs("projects", w.projects).Msg("Starting backlog worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping backlog worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs one pass over every project; a failing project does not stop the rest.
func (w *BacklogWorker) sweep(ctx context.Context) int {
	total := 0
	for _, p := range w.projects {
		if ctx.Err() != nil {
			return total
		}
		n, err := w.uc.ProcessBacklog(ctx, p)
		switch {
		case errors.Is(err, domain.ErrOperationInProgress):
			w.log.Debug().Str("project_id", p).Msg("backlog sweep already running elsewhere")
		case err != nil:
			w.log.Error().Err(err).Str("project_id", p).Msg("backlog worker error")
		case n > 0:
			w.log.Info().Str("project_id", p).Int("count", n).Msg("backlog messages queued")
		}
		total += n
	}
	return total
}
