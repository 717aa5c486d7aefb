// Package syncer runs one incremental sync of eBird observations for an
// integration: read the watermark, fetch the lookback window, normalize,
// drop what was already forwarded, forward the rest, then commit.
//
// The watermark only advances after the sink accepted the whole batch, so
// a failed run is retried in full by the next trigger. Events recorded at
// exactly the watermark instant are treated as already seen.
package syncer

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/ebird"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/notification"
	"github.com/tphakala/ebirdsync/internal/observability/metrics"
	"github.com/tphakala/ebirdsync/internal/observation"
	"github.com/tphakala/ebirdsync/internal/sink"
	"github.com/tphakala/ebirdsync/internal/watermark"
)

const (
	tracerName   = "github.com/tphakala/ebirdsync/internal/syncer"
	alertTimeout = 30 * time.Second
)

// Source fetches raw observation records. *ebird.Client implements it.
type Source interface {
	Fetch(ctx context.Context, q ebird.Query, opts ebird.QueryOptions) ([]json.RawMessage, error)
}

// RegionResolver looks up region metadata. Sources that implement it get
// region codes checked before fetching; *ebird.Client does.
type RegionResolver interface {
	RegionInfo(ctx context.Context, regionCode string) (*ebird.RegionInfo, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Deps are the collaborators of a Syncer. Store, Source and Sink are
// required; the rest default to no-op or global implementations.
type Deps struct {
	Store   watermark.Store
	Source  Source
	Sink    sink.Sink
	Clock   Clock
	Logger  logger.Logger
	Metrics metrics.SyncRecorder
	Alerter notification.Alerter
	Tracer  trace.Tracer
}

// Syncer runs syncs against one source.
type Syncer struct {
	store   watermark.Store
	source  Source
	sink    sink.Sink
	clock   Clock
	log     logger.Logger
	metrics metrics.SyncRecorder
	alerter notification.Alerter
	tracer  trace.Tracer
}

// Result summarizes one run.
type Result struct {
	RunID           string `json:"run_id"`
	IntegrationID   string `json:"integration_id"`
	ActionID        string `json:"action_id"`
	EventsForwarded int    `json:"events_forwarded"`
	// Fetched counts raw records returned by the source.
	Fetched int `json:"fetched"`
	// Skipped counts malformed records.
	Skipped int `json:"skipped"`
	// Filtered counts events not newer than the previous watermark.
	Filtered          int        `json:"filtered"`
	LookbackDays      int        `json:"lookback_days"`
	PreviousWatermark *time.Time `json:"previous_watermark,omitempty"`
	Watermark         *time.Time `json:"watermark,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        time.Time  `json:"finished_at"`
}

// New validates deps and fills defaults.
func New(deps Deps) (*Syncer, error) {
	if deps.Store == nil || deps.Source == nil || deps.Sink == nil {
		return nil, errors.Newf("syncer requires a store, a source and a sink").
			Category(errors.CategoryConfiguration).
			Component("syncer").
			Build()
	}

	s := &Syncer{
		store:   deps.Store,
		source:  deps.Source,
		sink:    deps.Sink,
		clock:   deps.Clock,
		log:     deps.Logger,
		metrics: deps.Metrics,
		alerter: deps.Alerter,
		tracer:  deps.Tracer,
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopRecorder{}
	}
	if s.alerter == nil {
		s.alerter = notification.NoopAlerter{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s, nil
}

// GetLogger returns the syncer package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("syncer")
}

// Run performs one sync for integration. The returned Result is valid
// even when err is not nil; EventsForwarded is 0 unless the sink accepted
// the batch.
func (s *Syncer) Run(ctx context.Context, integration conf.IntegrationSettings) (Result, error) {
	runID := uuid.NewString()
	actionID := integration.ActionID
	if actionID == "" {
		actionID = conf.DefaultActionID
	}

	ctx = logger.WithTraceID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "syncer.Run", trace.WithAttributes(
		attribute.String("ebirdsync.integration_id", integration.ID),
		attribute.String("ebirdsync.action_id", actionID),
		attribute.String("ebirdsync.run_id", runID),
	))
	defer span.End()

	log := s.log.With(
		logger.String("integration_id", integration.ID),
		logger.String("action_id", actionID),
		logger.String("run_id", runID),
	).WithContext(ctx)

	r := &run{
		Syncer:      s,
		ctx:         ctx,
		span:        span,
		log:         log,
		integration: integration,
		result: Result{
			RunID:         runID,
			IntegrationID: integration.ID,
			ActionID:      actionID,
			StartedAt:     s.clock.Now().UTC(),
		},
	}

	err := r.execute()
	r.result.FinishedAt = s.clock.Now().UTC()

	status := metrics.StatusSuccess
	switch {
	case err != nil:
		status = metrics.StatusError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case r.result.EventsForwarded == 0:
		status = metrics.StatusEmpty
	}
	span.SetAttributes(
		attribute.Int("ebirdsync.events_forwarded", r.result.EventsForwarded),
		attribute.Int("ebirdsync.skipped", r.result.Skipped),
	)
	s.metrics.RecordRun(integration.ID, status, r.result.FinishedAt.Sub(r.result.StartedAt))

	return r.result, err
}

// run holds the state of one Run call.
type run struct {
	*Syncer
	ctx         context.Context
	span        trace.Span
	log         logger.Logger
	integration conf.IntegrationSettings
	result      Result
}

func (r *run) execute() error {
	pull := r.integration.Pull
	pull.ApplyDefaults()

	previous, hasPrevious := r.loadWatermark()
	if hasPrevious {
		r.result.PreviousWatermark = &previous
	}

	now := r.clock.Now().UTC()
	r.result.LookbackDays = LookbackDays(now, previous, hasPrevious, pull.NumDays, pull.MaxLookbackDays)

	query, err := ebird.NewQuery(pull)
	if err != nil {
		r.log.Error("invalid pull configuration", logger.Error(err))
		return err
	}
	opts := ebird.OptionsFromSettings(pull, r.result.LookbackDays)

	regionName, err := r.resolveRegion(query)
	if err != nil {
		return err
	}

	fields := []logger.Field{
		logger.String("query", ebird.Describe(query)),
		logger.Int("lookback_days", r.result.LookbackDays),
		logger.Bool("has_watermark", hasPrevious),
	}
	if regionName != "" {
		fields = append(fields, logger.String("region_name", regionName))
	}
	r.log.Info("starting sync", fields...)

	events, err := r.fetch(query, opts)
	if err != nil {
		return err
	}

	if hasPrevious {
		var dropped int
		events, dropped = observation.After(events, previous)
		r.result.Filtered = dropped
		if dropped > 0 {
			r.metrics.RecordFiltered(r.integration.ID, dropped)
			r.log.Debug("dropped events not newer than watermark",
				logger.Int("dropped", dropped),
				logger.Time("watermark", previous))
		}
	}

	if len(events) == 0 {
		r.log.Info("no new observations to forward",
			logger.Int("fetched", r.result.Fetched),
			logger.Int("skipped", r.result.Skipped))
		return nil
	}

	if err := r.forward(events); err != nil {
		return err
	}
	r.result.EventsForwarded = len(events)
	r.metrics.RecordForwarded(r.integration.ID, len(events))

	return r.commit(observation.Latest(events))
}

// resolveRegion returns the display name of a region query. An unknown
// region code fails the run; any other lookup failure only loses the name.
func (r *run) resolveRegion(query ebird.Query) (string, error) {
	rq, ok := query.(ebird.RegionQuery)
	if !ok {
		return "", nil
	}
	resolver, ok := r.source.(RegionResolver)
	if !ok {
		return "", nil
	}

	info, err := resolver.RegionInfo(r.ctx, rq.RegionCode)
	switch {
	case err == nil:
		return info.Result, nil
	case errors.IsCategory(err, errors.CategoryNotFound):
		r.log.Error("unknown eBird region code",
			logger.String("region_code", rq.RegionCode),
			logger.Error(err))
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Component("syncer").
			Context("region_code", rq.RegionCode).
			Build()
	default:
		r.log.Warn("failed to resolve region name",
			logger.String("region_code", rq.RegionCode),
			logger.Error(err))
		return "", nil
	}
}

// loadWatermark never fails the run: unreadable or corrupt state is
// treated as absent.
func (r *run) loadWatermark() (time.Time, bool) {
	blob, found, err := r.store.Get(r.ctx, r.integration.ID, r.result.ActionID)
	if err != nil {
		r.log.Warn("failed to read watermark, using default lookback", logger.Error(err))
		return time.Time{}, false
	}
	if !found {
		return time.Time{}, false
	}

	latest, ok, err := watermark.Decode(blob)
	if err != nil {
		r.log.Warn("corrupt watermark treated as absent",
			logger.Error(err),
			logger.Int("state_bytes", len(blob)))
		return time.Time{}, false
	}
	return latest, ok
}

func (r *run) fetch(query ebird.Query, opts ebird.QueryOptions) ([]observation.Event, error) {
	ctx, span := r.tracer.Start(r.ctx, "syncer.fetch")
	defer span.End()

	raw, err := r.source.Fetch(ctx, query, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		r.log.Error("failed to fetch observations", logger.Error(err))
		return nil, err
	}
	r.result.Fetched = len(raw)
	span.SetAttributes(attribute.Int("ebirdsync.records", len(raw)))

	events := make([]observation.Event, 0, len(raw))
	for i, rec := range raw {
		obs, err := observation.Normalize(rec)
		if err != nil {
			r.result.Skipped++
			r.log.Warn("skipping malformed observation",
				logger.Int("index", i),
				logger.Error(err))
			continue
		}
		events = append(events, observation.Transform(obs))
	}

	if r.result.Skipped > 0 {
		r.metrics.RecordSkipped(r.integration.ID, r.result.Skipped)
	}
	return events, nil
}

func (r *run) forward(events []observation.Event) error {
	ctx, span := r.tracer.Start(r.ctx, "syncer.forward",
		trace.WithAttributes(attribute.Int("ebirdsync.events", len(events))))
	defer span.End()

	err := r.sink.Send(ctx, r.integration.ID, events)
	if err == nil {
		r.log.Info("forwarded observations", logger.Int("events", len(events)))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "submission failed")
	r.metrics.RecordSubmissionFailure(r.integration.ID)
	r.log.Error("failed to forward observations, watermark not advanced",
		logger.Bool("needs_attention", true),
		logger.Int("events", len(events)),
		logger.Error(err))

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	alert := notification.NeedsAttention(r.integration.ID, r.result.ActionID, r.result.RunID, len(events), err)
	if alertErr := r.alerter.Alert(alertCtx, alert); alertErr != nil {
		r.log.Warn("failed to send needs-attention alert", logger.Error(alertErr))
	}

	if !errors.IsCategory(err, errors.CategorySubmission) {
		err = errors.New(err).
			Category(errors.CategorySubmission).
			Component("syncer").
			Context("integration_id", r.integration.ID).
			Build()
	}
	return err
}

func (r *run) commit(latest time.Time) error {
	ctx, span := r.tracer.Start(r.ctx, "syncer.commit")
	defer span.End()

	blob, err := watermark.Encode(latest)
	if err == nil {
		err = r.store.Set(ctx, r.integration.ID, r.result.ActionID, blob)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		r.log.Error("events forwarded but watermark not saved, next run will resend them",
			logger.Time("watermark", latest),
			logger.Error(err))
		return err
	}

	r.result.Watermark = &latest
	r.metrics.SetWatermark(r.integration.ID, latest)
	r.log.Info("watermark advanced", logger.Time("watermark", latest))
	return nil
}

// LookbackDays returns how many days back to query. With a watermark it
// covers the time since the watermark in whole days, clamped to
// [1, maxDays]; without one it is defaultDays.
func LookbackDays(now, watermark time.Time, hasWatermark bool, defaultDays, maxDays int) int {
	if !hasWatermark {
		return defaultDays
	}
	days := int(math.Ceil(now.Sub(watermark).Hours() / 24))
	return max(1, min(maxDays, days))
}
