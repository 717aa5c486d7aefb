package sink

import (
	"context"
	"time"

	"github.com/tphakala/ebirdsync/internal/observation"
)

// SendObserver receives the outcome of each submission.
// *metrics.SinkMetrics implements it.
type SendObserver interface {
	ObserveSend(sinkType string, events int, duration time.Duration, err error)
}

type instrumented struct {
	Sink
	sinkType string
	observer SendObserver
}

// Instrument reports every non-empty Send of s to observer.
func Instrument(s Sink, sinkType string, observer SendObserver) Sink {
	if observer == nil {
		return s
	}
	return &instrumented{Sink: s, sinkType: sinkType, observer: observer}
}

func (s *instrumented) Send(ctx context.Context, integrationID string, events []observation.Event) error {
	if len(events) == 0 {
		return s.Sink.Send(ctx, integrationID, events)
	}
	start := time.Now()
	err := s.Sink.Send(ctx, integrationID, events)
	s.observer.ObserveSend(s.sinkType, len(events), time.Since(start), err)
	return err
}
