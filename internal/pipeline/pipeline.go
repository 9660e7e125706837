package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/intelmap-ingest/internal/domain"
	"github.com/couchcryptid/intelmap-ingest/internal/observability"
)

// EventSource delivers chat events. The channel is closed when the source stops.
type EventSource interface {
	Events() <-chan domain.Event
}

// ChatPlatform is the outbound side of the chat client.
type ChatPlatform interface {
	// DownloadMedia saves the attachment under dest (without extension) and
	// returns the path written.
	DownloadMedia(ctx context.Context, ref domain.MediaRef, dest string) (string, error)
	// Forward copies the event's message to the monitoring destination.
	Forward(ctx context.Context, ev domain.Event) error
}

// MessageStore persists messages and their locations.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *domain.Message) (int64, error)
	InsertLocations(ctx context.Context, messageID int64, locations []domain.ResolvedLocation) error
}

// LocationResolver turns message text into resolved locations. It never fails.
type LocationResolver interface {
	ResolveAll(ctx context.Context, text string) []domain.ResolvedLocation
}

// Notifier announces committed messages to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, record domain.MessageRecord) error
}

// DefaultShutdownTimeout bounds how long in-flight events may keep running
// after Run's context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Config tunes the pipeline.
type Config struct {
	MediaDir            string
	MaxConcurrentEvents int
	MaxRateLimitRetries int
	// ShutdownTimeout is the grace period in-flight events get to reach a
	// terminal state once intake stops. Zero uses DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
	Clock           clockwork.Clock
}

// Pipeline drives each chat event through media download, message persistence,
// forwarding, location resolution, and location persistence.
type Pipeline struct {
	source   EventSource
	chat     ChatPlatform
	store    MessageStore
	resolver LocationResolver
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	cfg      Config
	clock    clockwork.Clock
	gate     *Gate
	ready    atomic.Bool
}

// New creates a Pipeline with the given collaborators and observability.
func New(source EventSource, chat ChatPlatform, store MessageStore, resolver LocationResolver,
	logger *slog.Logger, metrics *observability.Metrics, cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxConcurrentEvents <= 0 {
		cfg.MaxConcurrentEvents = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Pipeline{
		source:   source,
		chat:     chat,
		store:    store,
		resolver: resolver,
		logger:   logger.With("component", "pipeline"),
		metrics:  metrics,
		cfg:      cfg,
		clock:    cfg.Clock,
		gate:     NewGate(cfg.Clock),
	}
}

// SetNotifier registers a post-commit notifier. Nil disables notifications.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// Gate exposes the rate-limit gate shared by intake and in-flight events.
func (p *Pipeline) Gate() *Gate {
	return p.gate
}

// CheckReadiness returns nil once the pipeline has committed at least one event.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not committed any messages yet")
	}
	return nil
}

// Run accepts events until the context is cancelled or the source closes,
// handling up to MaxConcurrentEvents at once. Cancelling ctx stops intake
// only: in-flight events keep running until they finish or ShutdownTimeout
// elapses, and Run waits for them before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "max_concurrent_events", p.cfg.MaxConcurrentEvents)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	handleCtx, stopHandling := p.drainContext(ctx)
	defer stopHandling()

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrentEvents)

	events := p.source.Events()
intake:
	for {
		if p.gate.Wait(ctx) != nil {
			break
		}

		var ev domain.Event
		select {
		case <-ctx.Done():
			break intake
		case e, ok := <-events:
			if !ok {
				p.logger.Info("event source closed")
				break intake
			}
			ev = e
		}

		// A pause that began while waiting for this event still holds it back.
		if p.gate.Wait(ctx) != nil {
			p.logger.Warn("shutdown while paused, event not processed",
				"trace_id", ev.TraceID, "channel_id", ev.ChannelID, "message_id", ev.MessageID)
			break
		}

		p.metrics.EventsReceived.Inc()
		g.Go(func() error {
			p.Handle(handleCtx, ev)
			return nil
		})
	}

	_ = g.Wait()
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// drainContext returns the context in-flight events run under. It outlives
// ctx by at most ShutdownTimeout.
func (p *Pipeline) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-drainCtx.Done():
			return
		case <-ctx.Done():
		}
		timer := p.clock.NewTimer(p.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-drainCtx.Done():
		case <-timer.Chan():
			p.logger.Warn("shutdown timeout reached, aborting in-flight events",
				"timeout", p.cfg.ShutdownTimeout)
			cancel()
		}
	}()
	return drainCtx, cancel
}

// Handle runs one event through its lifecycle. Failures are contained: the
// returned Outcome reports them and nothing propagates to other events.
func (p *Pipeline) Handle(ctx context.Context, ev domain.Event) (out Outcome) {
	start := p.clock.Now()
	log := p.logger.With("trace_id", ev.TraceID, "channel_id", ev.ChannelID, "message_id", ev.MessageID)
	out.LastState = StateReceived

	defer func() {
		if r := recover(); r != nil {
			out.State = StateFailed
			out.Err = fmt.Errorf("panic: %v", r)
			log.Error("event handling panicked", "state", out.LastState.String(), "panic", r)
		}
		p.metrics.EventOutcomes.WithLabelValues(out.State.String(), out.LastState.String()).Inc()
		p.metrics.EventDuration.Observe(p.clock.Since(start).Seconds())
	}()

	log.Info("processing message", "text_preview", truncate(ev.Text, 50))

	media := p.storeMedia(ctx, log, ev)
	out.LastState = StateMediaStored

	msg := &domain.Message{
		Text:              ev.Text,
		MediaPaths:        media,
		SourceChannel:     strconv.FormatInt(ev.ChannelID, 10),
		ExternalMessageID: ev.MessageID,
	}
	id, err := p.store.InsertMessage(ctx, msg)
	if err != nil {
		p.metrics.StepFailures.WithLabelValues("persist_message").Inc()
		log.Error("persist message failed, event dropped", "error", err)
		out.State = StateFailed
		out.Err = err
		return out
	}
	out.MessageID = id
	out.LastState = StateMessagePersisted
	log = log.With("stored_id", id)

	if err := p.withRateLimit(ctx, log, "forward", func() error { return p.chat.Forward(ctx, ev) }); err != nil {
		p.metrics.StepFailures.WithLabelValues("forward").Inc()
		log.Warn("forward failed, continuing", "error", err)
	}
	out.LastState = StateForwarded

	locations := p.resolver.ResolveAll(ctx, ev.Text)
	for i := range locations {
		locations[i].MessageID = id
	}
	out.LastState = StateLocationsResolved

	if err := p.store.InsertLocations(ctx, id, locations); err != nil {
		p.metrics.StepFailures.WithLabelValues("persist_locations").Inc()
		log.Error("persist locations failed, message kept without locations",
			"locations", len(locations), "error", err)
		out.State = StateFailed
		out.Err = err
		return out
	}

	out.State = StateCommitted
	out.Locations = len(locations)
	p.ready.Store(true)
	p.metrics.LocationsPersisted.Add(float64(len(locations)))
	for _, l := range locations {
		p.metrics.ResolutionConfidence.Observe(l.Confidence)
	}

	log.Info("message committed", "locations", len(locations), "duration", p.clock.Since(start))
	p.notify(ctx, log, msg, locations)
	return out
}

// storeMedia downloads the event's attachment. Media is best-effort: any
// failure yields an empty list.
func (p *Pipeline) storeMedia(ctx context.Context, log *slog.Logger, ev domain.Event) []string {
	if ev.Media == nil {
		return nil
	}

	dest := MediaPath(p.cfg.MediaDir, ev)
	var written string
	err := p.withRateLimit(ctx, log, "media", func() error {
		var err error
		written, err = p.chat.DownloadMedia(ctx, *ev.Media, dest)
		return err
	})
	if err != nil {
		p.metrics.StepFailures.WithLabelValues("media").Inc()
		log.Warn("media download failed, continuing without media", "error", err)
		return nil
	}
	log.Debug("media saved", "path", written)
	return []string{written}
}

// withRateLimit runs fn, and each time it reports a rate limit, pauses the
// shared gate for the mandated duration and retries. The gate is paused even
// when the retry budget is spent, so intake always honours the signal.
func (p *Pipeline) withRateLimit(ctx context.Context, log *slog.Logger, step string, fn func() error) error {
	for retries := 0; ; retries++ {
		err := fn()
		var rl *domain.RateLimitError
		if err == nil || !errors.As(err, &rl) {
			return err
		}

		p.metrics.RateLimitPauses.Inc()
		log.Warn("rate limited, pausing intake", "step", step, "retry_after", rl.RetryAfter)
		p.gate.Pause(rl.RetryAfter)
		if retries >= p.cfg.MaxRateLimitRetries {
			return fmt.Errorf("%s: giving up after %d rate-limit retries: %w", step, retries, err)
		}
		if err := p.gate.Wait(ctx); err != nil {
			return err
		}
		log.Info("resuming after rate limit", "step", step)
	}
}

func (p *Pipeline) notify(ctx context.Context, log *slog.Logger, msg *domain.Message, locations []domain.ResolvedLocation) {
	if p.notifier == nil {
		return
	}
	record := domain.MessageRecord{Message: *msg, Locations: make([]domain.LocationRecord, len(locations))}
	for i, l := range locations {
		record.Locations[i] = domain.NewLocationRecord(l)
	}
	if err := p.notifier.Notify(ctx, record); err != nil {
		p.metrics.StepFailures.WithLabelValues("notify").Inc()
		log.Warn("notify failed", "error", err)
	}
}

// MediaPath is the local destination for an event's attachment:
// <dir>/<channel>_<message><ext>, where ext comes from the platform file path.
func MediaPath(dir string, ev domain.Event) string {
	name := fmt.Sprintf("%d_%d", ev.ChannelID, ev.MessageID)
	if ev.Media != nil {
		name += path.Ext(ev.Media.FilePath)
	}
	return filepath.Join(dir, name)
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

