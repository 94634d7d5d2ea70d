// Package ingest wires the processing path together: raw record in,
// normalized event persisted, both engines evaluated, triggers handed to the
// alert lifecycle manager.
package ingest

import (
	"context"
	"errors"
	"time"

	"argus/alerting"
	"argus/core"
	"argus/detect"
	"argus/metrics"
	"argus/normalize"
	"argus/storage"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when ingestion exceeds the configured rate.
var ErrRateLimited = errors.New("ingest rate limit exceeded")

// Options sizes the pipeline.
type Options struct {
	Workers   int
	QueueSize int
	RateLimit rate.Limit
	RateBurst int
}

// DefaultOptions returns the pipeline sizing used when nothing is configured.
func DefaultOptions() Options {
	return Options{Workers: 4, QueueSize: 1000, RateLimit: 5000, RateBurst: 10000}
}

// Pipeline is the ingestion path. Normalization and event persistence run on
// the caller's goroutine so the caller gets the event or the error; rule
// evaluation fans out to the worker pool.
type Pipeline struct {
	normalizer  *normalize.Normalizer
	detection   *detect.Engine
	correlation *detect.CorrelationEngine
	alerts      *alerting.Manager
	events      storage.EventStorage
	pool        *core.WorkerPool
	limiter     *rate.Limiter
	logger      *zap.SugaredLogger
}

// NewPipeline assembles the processing path.
func NewPipeline(
	ctx context.Context,
	normalizer *normalize.Normalizer,
	detection *detect.Engine,
	correlation *detect.CorrelationEngine,
	alerts *alerting.Manager,
	events storage.EventStorage,
	opts Options,
	logger *zap.SugaredLogger,
) *Pipeline {
	return &Pipeline{
		normalizer:  normalizer,
		detection:   detection,
		correlation: correlation,
		alerts:      alerts,
		events:      events,
		pool:        core.NewWorkerPool(ctx, opts.Workers, opts.QueueSize, "ingest", logger),
		limiter:     rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		logger:      logger,
	}
}

// Start brings up the evaluation workers.
func (p *Pipeline) Start() {
	p.pool.Start()
}

// Stop drains the evaluation workers.
func (p *Pipeline) Stop() {
	p.pool.Stop()
}

// Ingest normalizes one raw record, persists the event, and schedules rule
// evaluation. The normalized event is returned to the caller immediately;
// evaluation completes asynchronously.
func (p *Pipeline) Ingest(ctx context.Context, raw map[string]interface{}, format normalize.SourceFormat) (*core.Event, error) {
	if !p.limiter.Allow() {
		metrics.IngestRateLimited.Inc()
		return nil, ErrRateLimited
	}

	event, err := p.normalizer.Normalize(raw, format)
	if err != nil {
		return nil, err
	}
	if err := p.events.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	if err := p.pool.Submit(func() { p.process(event) }); err != nil {
		// Queue saturated or pool stopping: evaluate inline so the event is
		// never silently skipped.
		p.logger.Warnw("Evaluating inline", "event_id", event.EventID, "reason", err)
		p.process(event)
	}
	return event, nil
}

// IngestBytes decodes a serialized raw record and runs it through Ingest.
func (p *Pipeline) IngestBytes(ctx context.Context, data []byte, format normalize.SourceFormat) (*core.Event, error) {
	if !p.limiter.Allow() {
		metrics.IngestRateLimited.Inc()
		return nil, ErrRateLimited
	}

	event, err := p.normalizer.NormalizeBytes(data, format)
	if err != nil {
		return nil, err
	}
	if err := p.events.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	if err := p.pool.Submit(func() { p.process(event) }); err != nil {
		p.logger.Warnw("Evaluating inline", "event_id", event.EventID, "reason", err)
		p.process(event)
	}
	return event, nil
}

// process runs one event through both engines and routes the triggers to the
// alert manager. Both engines consume the same event independently.
func (p *Pipeline) process(event *core.Event) {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	triggers := p.detection.Evaluate(event)
	correlated := p.correlation.Observe(event)
	triggers = append(triggers, correlated...)

	if len(triggers) == 0 && len(event.CorrelationRefs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, trigger := range triggers {
		if _, _, err := p.alerts.CreateOrMerge(ctx, trigger); err != nil {
			p.logger.Errorw("Failed to create alert from trigger",
				"rule_id", trigger.RuleID, "event_id", event.EventID, "error", err)
		}
	}

	for _, trigger := range correlated {
		p.persistLinks(ctx, trigger.EventIDs, event)
	}
	if len(correlated) == 0 && len(event.CorrelationRefs) > 0 {
		// Silent match: no trigger carries the matched set, but the refs on
		// the observed event name its partners.
		p.persistLinks(ctx, append([]string{event.EventID}, event.CorrelationRefs...), event)
	}
}

// persistLinks writes the correlation back-references of one matched event
// set through to storage. The engine links the events in memory only;
// backends that return detached copies would otherwise keep the refs on
// nothing but the observed event.
func (p *Pipeline) persistLinks(ctx context.Context, eventIDs []string, observed *core.Event) {
	for _, id := range eventIDs {
		target := observed
		if id != observed.EventID {
			stored, err := p.events.GetEvent(ctx, id)
			if err != nil {
				p.logger.Warnw("Failed to load correlated event",
					"event_id", id, "error", err)
				continue
			}
			target = stored
		}
		for _, other := range eventIDs {
			target.AddCorrelationRef(other)
		}
		if err := p.events.UpdateEvent(ctx, target); err != nil {
			p.logger.Warnw("Failed to persist correlation refs",
				"event_id", target.EventID, "error", err)
		}
	}
}
