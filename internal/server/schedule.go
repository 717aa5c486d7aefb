package server

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
)

// schedule pulls every integration once per interval until ctx is done.
// An integration still running from a previous tick or a manual trigger is
// skipped for that tick.
func (s *Server) schedule(ctx context.Context, interval time.Duration) {
	s.log.Info("scheduled pulls enabled", logger.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll runs every configured integration, at most Sync.Concurrency at a
// time, and waits for them. Failures are logged; each run reports its own
// metrics and alerts.
func (s *Server) RunAll(ctx context.Context) {
	g := new(errgroup.Group)
	g.SetLimit(max(1, s.settings.Sync.Concurrency))

	for i := range s.settings.Integrations {
		id := s.settings.Integrations[i].ID
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := s.runOnce(id)
			switch {
			case errors.Is(err, errShuttingDown):
			case errors.Is(err, errBusy):
				s.log.Debug("skipping scheduled pull, sync already running",
					logger.String("integration_id", id))
			case err != nil:
				s.log.Warn("scheduled pull failed",
					logger.String("integration_id", id),
					logger.String("run_id", result.RunID),
					logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
