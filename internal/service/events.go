package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/logger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/broadcast"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/database"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/messagequeue"
)

// EventSink fans evaluation outcomes out to the audit table, the queue and
// websocket clients. Every sink is optional and every write is best effort:
// the ledger already holds the result.
type EventSink struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
	store database.Store
}

// NewEventSink creates a sink. Any argument may be nil.
func NewEventSink(q messagequeue.Queue, hub broadcast.Broadcaster, store database.Store) *EventSink {
	return &EventSink{queue: q, hub: hub, store: store}
}

// Evaluated records a finished evaluation.
func (s *EventSink) Evaluated(ctx context.Context, r *evaluation.Result) {
	if s == nil {
		return
	}
	s.audit(ctx, r)
	if r.Status != evaluation.StatusEvaluated && r.Status != evaluation.StatusResumed {
		return
	}

	p := messagequeue.RulingPayload{
		EvaluationID: r.ID,
		DisputeKey:   r.DisputeKey,
		Enacted:      string(r.Outcome),
		Model:        r.Model,
		EvidenceTx:   r.EvidenceTx,
		RulingTx:     r.RulingTx,
		RefundTx:     r.RefundTx,
		Warnings:     r.Warnings,
	}
	if r.Ruling != nil {
		p.Decision = string(r.Ruling.Decision)
		p.Confidence = r.Ruling.Confidence
	}
	if r.Commitment != nil {
		p.CommitmentHash = r.Commitment.CommitmentHash
		p.Seed = r.Commitment.Seed
	}
	s.publish(ctx, messagequeue.SubjectRuling, p)
	s.broadcast(ctx, broadcast.EventRuling, p)
}

// Failed records a failed evaluation attempt.
func (s *EventSink) Failed(ctx context.Context, r *evaluation.Result, err error) {
	if s == nil {
		return
	}
	r.Status = evaluation.StatusFailed
	r.ErrorKind = string(domain.KindOf(err))
	r.Error = err.Error()
	s.audit(ctx, r)

	p := messagequeue.RulingFailedPayload{
		DisputeKey: r.DisputeKey,
		Kind:       r.ErrorKind,
		Error:      r.Error,
		Retryable:  domain.IsRetryable(err),
	}
	s.publish(ctx, messagequeue.SubjectRulingFailed, p)
	s.broadcast(ctx, broadcast.EventEvaluationErr, p)
}

// Replayed records a replay verification.
func (s *EventSink) Replayed(ctx context.Context, p messagequeue.ReplayPayload) {
	if s == nil {
		return
	}
	s.publish(ctx, messagequeue.SubjectReplay, p)
	s.broadcast(ctx, broadcast.EventReplay, p)
}

// SchedulerState pushes the tracked dispute states to dashboards.
func (s *EventSink) SchedulerState(ctx context.Context, snapshot []Tracked) {
	if s == nil {
		return
	}
	s.broadcast(ctx, broadcast.EventScheduler, snapshot)
}

func (s *EventSink) audit(ctx context.Context, r *evaluation.Result) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveEvaluation(ctx, r); err != nil {
		slog.Warn("events: audit write failed", append([]any{"evaluation", r.ID, "error", err}, logger.Attrs(ctx)...)...)
	}
}

func (s *EventSink) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("events: marshal failed", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("events: publish failed", append([]any{"subject", subject, "error", err}, logger.Attrs(ctx)...)...)
	}
}

func (s *EventSink) broadcast(ctx context.Context, eventType string, payload any) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, eventType, payload)
}
