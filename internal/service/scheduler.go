package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	arbotel "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/otel"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/logger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/ledger"
)

// TrackState is the scheduler's local view of one dispute. It is a hint for
// skipping work; the ledger decides whether a dispute is ruled.
type TrackState string

const (
	TrackIndexed    TrackState = "indexed"
	TrackWaiting    TrackState = "waiting"    // evidence incomplete
	TrackEvaluating TrackState = "evaluating" // attempt in flight
	TrackDone       TrackState = "done"
	TrackFailed     TrackState = "failed" // retried after backoff
)

const maxBackoffShift = 6

// Tracked is one dispute known to the scheduler.
type Tracked struct {
	Key        string     `json:"key"`
	State      TrackState `json:"state"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	RetryAfter time.Time  `json:"retry_after,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DisputeEvaluator runs one evaluation attempt.
type DisputeEvaluator interface {
	Evaluate(ctx context.Context, key dispute.Key) (*evaluation.Result, error)
}

// SchedulerConfig holds the loop timing.
type SchedulerConfig struct {
	Interval          time.Duration
	LookbackBlocks    uint64
	DisputeTimeout    time.Duration // how long a tick waits for one evaluation
	EvaluationTimeout time.Duration // hard bound on one detached evaluation
}

// Scheduler evaluates disputes automatically once both parties submitted
// evidence. Each tick re-indexes a bounded block window, then walks tracked
// disputes in key order with at most one attempt per dispute.
type Scheduler struct {
	ledger    ledger.Ledger
	evaluator DisputeEvaluator
	cfg       SchedulerConfig
	events    *EventSink
	telemetry Telemetry

	mu      sync.Mutex
	tracked map[dispute.Key]*Tracked
	tickMu  sync.Mutex
	wake    chan struct{}
	running sync.WaitGroup
	now     func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(l ledger.Ledger, evaluator DisputeEvaluator, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.DisputeTimeout <= 0 {
		cfg.DisputeTimeout = 3 * time.Minute
	}
	if cfg.EvaluationTimeout < cfg.DisputeTimeout {
		cfg.EvaluationTimeout = 5 * cfg.DisputeTimeout
	}
	return &Scheduler{
		ledger:    l,
		evaluator: evaluator,
		cfg:       cfg,
		telemetry: noopTelemetry{},
		tracked:   make(map[dispute.Key]*Tracked),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// SetEventSink attaches websocket state broadcasts.
func (s *Scheduler) SetEventSink(e *EventSink) { s.events = e }

// SetTelemetry attaches metrics.
func (s *Scheduler) SetTelemetry(t Telemetry) {
	if t != nil {
		s.telemetry = t
	}
}

// Start runs the loop until ctx is canceled. Detached evaluations still in
// flight are awaited with Wait.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("scheduler: started", "interval", s.cfg.Interval, "lookback_blocks", s.cfg.LookbackBlocks)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.wake:
			s.Tick(ctx)
		}
	}
}

// Wait blocks until detached evaluations have finished.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

// Notify tracks key immediately and triggers an early tick. Waiting and
// failed disputes are re-indexed and lose their backoff.
func (s *Scheduler) Notify(key dispute.Key) {
	s.mu.Lock()
	t, ok := s.tracked[key]
	switch {
	case !ok:
		s.tracked[key] = &Tracked{Key: key.String(), State: TrackIndexed, UpdatedAt: s.now()}
	case t.State == TrackFailed || t.State == TrackWaiting:
		t.State = TrackIndexed
		t.RetryAfter = time.Time{}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Snapshot returns the tracked disputes in key order.
func (s *Scheduler) Snapshot() []Tracked {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tracked, 0, len(s.tracked))
	for _, t := range s.tracked {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Tick runs one pass. Concurrent calls are serialized.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	ctx, span := arbotel.StartTickSpan(ctx)
	defer span.End()

	s.reindex(ctx)

	for _, key := range s.pending() {
		if ctx.Err() != nil {
			return
		}
		s.visit(ctx, key)
	}

	snapshot := s.Snapshot()
	s.telemetry.SchedulerTick(ctx, len(snapshot))
	s.events.SchedulerState(ctx, snapshot)
}

// reindex tracks disputes requested within the lookback window and forgets
// the ones that left it, except attempts in flight and keys not yet visited.
// A forgotten key comes back through Notify.
func (s *Scheduler) reindex(ctx context.Context) {
	head, err := s.ledger.LatestBlock(ctx)
	if err != nil {
		slog.Warn("scheduler: latest block unavailable, skipping re-index", "error", err)
		return
	}
	keys, err := s.ledger.ListRecentDisputeKeys(ctx, ledger.Recent(head, s.cfg.LookbackBlocks))
	if err != nil {
		slog.Warn("scheduler: dispute listing failed, skipping re-index", "error", err)
		return
	}

	inWindow := make(map[dispute.Key]bool, len(keys))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		inWindow[k] = true
		if _, ok := s.tracked[k]; !ok {
			s.tracked[k] = &Tracked{Key: k.String(), State: TrackIndexed, UpdatedAt: s.now()}
		}
	}
	for k, t := range s.tracked {
		if inWindow[k] || t.State == TrackEvaluating || t.State == TrackIndexed {
			continue
		}
		delete(s.tracked, k)
	}
}

// pending returns the keys worth visiting this tick, sorted.
func (s *Scheduler) pending() []dispute.Key {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dispute.Key
	for k, t := range s.tracked {
		switch t.State {
		case TrackDone, TrackEvaluating:
			continue
		case TrackFailed:
			if now.Before(t.RetryAfter) {
				continue
			}
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Scheduler) visit(ctx context.Context, key dispute.Key) {
	lctx := logger.WithDisputeKey(ctx, key.String())

	status, err := s.ledger.GetStatus(lctx, key)
	if err != nil {
		s.fail(key, err)
		return
	}
	if status.IsTerminal() {
		s.set(key, TrackDone, "")
		return
	}

	entries, err := s.ledger.GetAllEvidence(lctx, key)
	if err != nil {
		s.fail(key, err)
		return
	}

	switch {
	case dispute.HasRole(entries, dispute.RoleArbiter):
		// Ruled by another trigger. Status is still pending, so the ruling
		// itself may be missing; the evaluator resumes it without the model.
		s.launch(lctx, key)
	case dispute.BothPartiesSubmitted(entries):
		s.launch(lctx, key)
	default:
		s.set(key, TrackWaiting, "")
	}
}

// launch runs one evaluation on a detached context and waits for it at most
// DisputeTimeout. A deferred evaluation stays TrackEvaluating until it reports.
func (s *Scheduler) launch(ctx context.Context, key dispute.Key) {
	s.set(key, TrackEvaluating, "")

	done := make(chan struct{})
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer close(done)

		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EvaluationTimeout)
		defer cancel()

		res, err := s.evaluator.Evaluate(ectx, key)
		if err != nil {
			s.fail(key, err)
			return
		}
		s.set(key, TrackDone, "")
		slog.Info("scheduler: dispute finished", append([]any{"status", res.Status}, logger.Attrs(ctx)...)...)
	}()

	timer := time.NewTimer(s.cfg.DisputeTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.Warn("scheduler: evaluation still running, deferring", append([]any{"timeout", s.cfg.DisputeTimeout}, logger.Attrs(ctx)...)...)
	case <-ctx.Done():
	}
}

func (s *Scheduler) set(key dispute.Key, state TrackState, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[key]
	if !ok {
		t = &Tracked{Key: key.String()}
		s.tracked[key] = t
	}
	t.State = state
	t.LastError = lastErr
	t.UpdatedAt = s.now()
	if state == TrackDone {
		t.RetryAfter = time.Time{}
	}
}

// fail marks key retryable. The first retry happens on the next tick; later
// ones back off exponentially in units of the interval.
func (s *Scheduler) fail(key dispute.Key, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindNoEvidence {
		s.set(key, TrackWaiting, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[key]
	if !ok {
		t = &Tracked{Key: key.String()}
		s.tracked[key] = t
	}
	t.State = TrackFailed
	t.Attempts++
	t.LastError = err.Error()
	t.UpdatedAt = s.now()
	t.RetryAfter = time.Time{}
	if t.Attempts > 1 {
		shift := min(t.Attempts-2, maxBackoffShift)
		t.RetryAfter = t.UpdatedAt.Add(s.cfg.Interval * time.Duration(1<<shift))
	}

	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "scheduler: attempt failed",
		"dispute", key, "kind", kind, "attempts", t.Attempts, "retry_after", t.RetryAfter, "error", err)
}
