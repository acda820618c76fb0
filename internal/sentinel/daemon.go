// Package sentinel is the audit daemon. It queues file changes and agent
// claims by priority, evaluates them one at a time and routes the verdicts.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/config"
	"github.com/qorelogic/sentinel/internal/events"
	"github.com/qorelogic/sentinel/internal/genome"
	"github.com/qorelogic/sentinel/internal/types"
	"github.com/qorelogic/sentinel/internal/verdict"
)

const (
	// DefaultQueueSize bounds pending events
	DefaultQueueSize = 100
	// DefaultMaintenanceInterval is how often quarantine and approval
	// expiry run
	DefaultMaintenanceInterval = time.Minute
)

// ErrNotRunning is returned by Enqueue when the daemon is stopped
var ErrNotRunning = errors.New("sentinel daemon is not running")

// Evaluator produces a verdict for an event
type Evaluator interface {
	Evaluate(ctx context.Context, event *types.Event) *types.Verdict
	CheckAvailability(ctx context.Context) bool
	Mode() verdict.Mode
	ModelAvailable() bool
}

// VerdictRouter publishes verdicts
type VerdictRouter interface {
	Route(ctx context.Context, v *types.Verdict)
}

// FileNotifier delivers filesystem changes
type FileNotifier interface {
	Subscribe(fn func(types.FileChange)) (unsubscribe func())
}

// ObservationRecorder keeps processed events and their verdicts
type ObservationRecorder interface {
	Record(ctx context.Context, event *types.Event, v *types.Verdict) error
}

// QuarantineReleaser lifts expired quarantines
type QuarantineReleaser interface {
	ReleaseExpired(ctx context.Context) (int, error)
}

// ApprovalExpirer expires approvals past their SLA
type ApprovalExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// GenomePruner enforces shadow genome retention
type GenomePruner interface {
	Prune(ctx context.Context, cfg config.GenomeRetentionConfig) (genome.PruneResult, error)
}

// Config configures a Daemon. Notifier, Events, Recorder and the
// maintenance collaborators are optional.
type Config struct {
	Evaluator Evaluator
	Router    VerdictRouter
	Notifier  FileNotifier
	Events    events.Emitter
	Recorder  ObservationRecorder

	Trust     QuarantineReleaser
	Approvals ApprovalExpirer
	Genome    GenomePruner
	Retention config.GenomeRetentionConfig

	QueueSize           int
	CodeExtensions      []string
	MaintenanceInterval time.Duration
	Logger              zerolog.Logger
	Now                 func() time.Time
}

// Status is a snapshot of the daemon
type Status struct {
	Running         bool           `json:"running"`
	Mode            verdict.Mode   `json:"mode"`
	ModelAvailable  bool           `json:"model_available"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	Uptime          time.Duration  `json:"uptime"`
	EventsProcessed int64          `json:"events_processed"`
	QueueDepth      int            `json:"queue_depth"`
	Dropped         int64          `json:"dropped"`
	LastVerdict     *types.Verdict `json:"last_verdict,omitempty"`
}

// Daemon is the sentinel. Create it with New, then Start and Stop it;
// AuditFile and ValidateClaim work whether or not it is running.
type Daemon struct {
	evaluator      Evaluator
	router         VerdictRouter
	notifier       FileNotifier
	events         events.Emitter
	recorder       ObservationRecorder
	trust          QuarantineReleaser
	approvals      ApprovalExpirer
	genome         GenomePruner
	retention      config.GenomeRetentionConfig
	codeExtensions []string
	maintInterval  time.Duration
	logger         zerolog.Logger
	now            func() time.Time

	mu          sync.Mutex
	cond        *sync.Cond
	queue       *eventQueue
	running     bool
	stopping    bool
	startedAt   time.Time
	unsubscribe func()
	stopCtx     func() bool
	maintStop   chan struct{}
	// gen identifies the current run so a late cancellation of an earlier
	// Start context cannot halt a newer run
	gen uint64
	wg          sync.WaitGroup

	processed   int64
	dropped     int64
	lastVerdict *types.Verdict

	// processMu makes evaluation single-flight across the drain loop and
	// the synchronous entry points
	processMu sync.Mutex
	lastPrune time.Time
}

// New creates a stopped daemon
func New(cfg Config) (*Daemon, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("verdict router is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if len(cfg.CodeExtensions) == 0 {
		cfg.CodeExtensions = DefaultCodeExtensions
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	d := &Daemon{
		evaluator:      cfg.Evaluator,
		router:         cfg.Router,
		notifier:       cfg.Notifier,
		events:         cfg.Events,
		recorder:       cfg.Recorder,
		trust:          cfg.Trust,
		approvals:      cfg.Approvals,
		genome:         cfg.Genome,
		retention:      cfg.Retention,
		codeExtensions: cfg.CodeExtensions,
		maintInterval:  cfg.MaintenanceInterval,
		logger:         cfg.Logger.With().Str("component", "sentinel").Logger(),
		now:            cfg.Now,
		queue:          newEventQueue(cfg.QueueSize),
	}
	d.cond = sync.NewCond(&d.mu)
	return d, nil
}

// Start subscribes to file changes, probes the model and starts the drain
// and maintenance goroutines. Starting a running daemon is a no-op; a daemon
// halted by its context is shut down fully and started again.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running && d.stopping {
		d.mu.Unlock()
		d.Stop()
		d.mu.Lock()
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopping = false
	d.gen++
	gen := d.gen
	d.startedAt = d.now()
	d.lastPrune = d.startedAt
	d.maintStop = make(chan struct{})
	maintStop := d.maintStop
	if d.notifier != nil {
		d.unsubscribe = d.notifier.Subscribe(d.handleChange)
	}
	d.stopCtx = context.AfterFunc(ctx, func() { d.halt(gen) })
	d.mu.Unlock()

	requested := d.evaluator.Mode()
	available := d.evaluator.CheckAvailability(ctx)
	if !available && requested != verdict.ModeHeuristic {
		d.stream(events.StreamModelDegraded, "model unavailable, heuristic checks only", nil)
	}

	// verdicts in flight finish even if ctx is cancelled
	work := context.WithoutCancel(ctx)
	d.wg.Add(2)
	go d.drain(work)
	go d.maintenance(work, maintStop)

	d.logger.Info().
		Str("mode", string(d.evaluator.Mode())).
		Bool("model_available", available).
		Msg("sentinel daemon started")
	d.stream(events.StreamDaemonStarted, "Sentinel daemon started", map[string]any{
		"mode": d.evaluator.Mode(),
	})
	return nil
}

// Stop stops accepting events, lets the verdict in flight finish and waits
// for the background goroutines. Queued events are discarded. Stopping a
// stopped daemon is a no-op.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	if d.stopCtx != nil {
		d.stopCtx()
		d.stopCtx = nil
	}
	d.stopping = true
	d.cond.Broadcast()
	d.closeMaintenance()
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	if !d.running {
		// a concurrent Stop finished first
		d.mu.Unlock()
		return
	}
	d.running = false
	discarded := d.queue.len()
	d.queue = newEventQueue(d.queue.max)
	d.mu.Unlock()

	d.logger.Info().Int("discarded", discarded).Msg("sentinel daemon stopped")
	d.stream(events.StreamDaemonStopped, "Sentinel daemon stopped", nil)
}

// halt is run when the Start context of run gen is cancelled. It stops the
// drain and maintenance loops; the next Start or Stop completes the shutdown.
func (d *Daemon) halt(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || !d.running {
		return
	}
	d.stopping = true
	d.cond.Broadcast()
	d.closeMaintenance()
}

// closeMaintenance signals the maintenance loop once. Callers hold mu.
func (d *Daemon) closeMaintenance() {
	if d.maintStop != nil {
		close(d.maintStop)
		d.maintStop = nil
	}
}

// Enqueue adds an event for asynchronous processing
func (d *Daemon) Enqueue(ev *types.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	d.mu.Lock()
	if !d.running || d.stopping {
		d.mu.Unlock()
		return ErrNotRunning
	}
	dropped := d.queue.push(ev)
	if dropped != nil {
		d.dropped++
	}
	d.cond.Signal()
	d.mu.Unlock()

	if dropped != nil {
		d.logger.Warn().
			Str("event_id", dropped.ID).
			Str("path", dropped.Path()).
			Str("priority", string(dropped.Priority)).
			Msg("queue full, dropped lowest-priority event")
		d.stream(events.StreamEventDropped, "queue full, event dropped", map[string]any{
			"event_id": dropped.ID,
			"path":     dropped.Path(),
		})
	}
	return nil
}

// AuditFile evaluates path immediately, bypassing the queue
func (d *Daemon) AuditFile(ctx context.Context, path string) (*types.Verdict, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	ev := &types.Event{
		ID:        uuid.NewString(),
		Timestamp: d.now().UTC(),
		Priority:  types.PriorityHigh,
		Source:    types.SourceManual,
		Type:      types.EventManualAudit,
		File:      &types.FilePayload{Path: abs},
	}
	d.logger.Info().Str("path", abs).Msg("manual audit requested")
	return d.process(ctx, ev), nil
}

// ValidateClaim checks an agent's claimed artifacts immediately
func (d *Daemon) ValidateClaim(ctx context.Context, agentID string, artifacts []string) (*types.Verdict, error) {
	ev := &types.Event{
		ID:        uuid.NewString(),
		Timestamp: d.now().UTC(),
		Priority:  types.PriorityHigh,
		Source:    types.SourceAgent,
		Type:      types.EventAgentClaim,
		Claim:     &types.ClaimPayload{AgentID: agentID, ClaimedArtifacts: artifacts},
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid claim: %w", err)
	}
	return d.process(ctx, ev), nil
}

// Status returns a snapshot of the daemon
func (d *Daemon) Status() Status {
	d.mu.Lock()
	running := d.running && !d.stopping
	started := d.startedAt
	depth := d.queue.len()
	dropped := d.dropped
	processed := d.processed
	last := d.lastVerdict
	d.mu.Unlock()

	s := Status{
		Running:         running,
		Mode:            d.evaluator.Mode(),
		ModelAvailable:  d.evaluator.ModelAvailable(),
		EventsProcessed: processed,
		QueueDepth:      depth,
		Dropped:         dropped,
		LastVerdict:     last,
	}
	if running {
		s.StartedAt = &started
		s.Uptime = d.now().Sub(started)
	}
	return s
}

func (d *Daemon) handleChange(c types.FileChange) {
	if c.Type != types.EventFileDeleted && !isCodeFile(c.Path, d.codeExtensions) {
		return
	}
	ev := &types.Event{
		ID:        uuid.NewString(),
		Timestamp: d.now().UTC(),
		Priority:  PriorityForPath(c.Path),
		Source:    types.SourceFileWatcher,
		Type:      c.Type,
		File:      &types.FilePayload{Path: c.Path},
	}
	if err := d.Enqueue(ev); err != nil {
		d.logger.Debug().Err(err).Str("path", c.Path).Msg("file change not queued")
	}
}

// next blocks until an event is available or the daemon is stopping
func (d *Daemon) next() (*types.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.stopping && d.queue.len() == 0 {
		d.cond.Wait()
	}
	if d.stopping {
		return nil, false
	}
	return d.queue.pop(), true
}

func (d *Daemon) drain(ctx context.Context) {
	defer d.wg.Done()
	for {
		ev, ok := d.next()
		if !ok {
			return
		}
		d.process(ctx, ev)
	}
}

func (d *Daemon) process(ctx context.Context, ev *types.Event) *types.Verdict {
	d.processMu.Lock()
	defer d.processMu.Unlock()

	d.logger.Debug().Str("event_id", ev.ID).Str("type", string(ev.Type)).Str("path", ev.Path()).Msg("processing event")
	v := d.evaluator.Evaluate(ctx, ev)
	d.router.Route(ctx, v)
	if d.recorder != nil {
		if err := d.recorder.Record(ctx, ev, v); err != nil {
			d.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to record observation")
		}
	}

	d.mu.Lock()
	d.processed++
	d.lastVerdict = v
	d.mu.Unlock()
	return v
}

func (d *Daemon) maintenance(ctx context.Context, stop <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.maintInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.runMaintenance(ctx)
		}
	}
}

// runMaintenance expires quarantines and approvals, and prunes the shadow
// genome once per prune interval. Failures are logged and retried on the
// next tick.
func (d *Daemon) runMaintenance(ctx context.Context) {
	if d.trust != nil {
		n, err := d.trust.ReleaseExpired(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("failed to release expired quarantines")
		} else if n > 0 {
			d.stream(events.StreamQuarantineLift, fmt.Sprintf("released %d agent(s) from quarantine", n), map[string]any{"count": n})
		}
	}

	if d.approvals != nil {
		if _, err := d.approvals.ExpireOverdue(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("failed to expire overdue approvals")
		}
	}

	if d.genome == nil || !d.retention.PruneEnabled {
		return
	}
	now := d.now()
	interval := time.Duration(d.retention.PruneIntervalHours) * time.Hour
	if now.Sub(d.lastPrune) < interval {
		return
	}
	d.lastPrune = now

	res, err := d.genome.Prune(ctx, d.retention)
	if err != nil {
		d.logger.Error().Err(err).Msg("shadow genome prune failed")
		return
	}
	if res.TotalPruned > 0 {
		d.stream(events.StreamGenomePruned, fmt.Sprintf("pruned %d shadow genome entries", res.TotalPruned), res)
	}
}

func (d *Daemon) stream(kind events.StreamKind, message string, detail any) {
	if d.events == nil {
		return
	}
	ev, err := events.NewStreamEvent(kind, message, detail)
	if err != nil {
		d.logger.Warn().Err(err).Str("kind", string(kind)).Msg("failed to build stream event")
	}
	d.events.Emit(events.TopicStreamEvent, ev)
}
