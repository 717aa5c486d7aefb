package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
)

// Push sends the registry to a Prometheus push gateway. A one-shot `pull`
// exits before any scraper could see it, so it pushes instead.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	start := time.Now()
	err := push.New(gatewayURL, job).
		Gatherer(m.registry).
		Grouping("instance", hostname()).
		PushContext(ctx)
	if err != nil {
		return errors.Newf("failed to push metrics: %w", err).
			Category(errors.CategoryNetwork).
			Component("observability").
			NetworkContext(gatewayURL, 0).
			Context("job", job).
			Build()
	}

	log.Debug("metrics pushed",
		logger.String("gateway", gatewayURL),
		logger.String("job", job),
		logger.Duration("duration", time.Since(start)))
	return nil
}
