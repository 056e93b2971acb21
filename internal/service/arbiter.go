package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	arbotel "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/otel"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/commitment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/prompt"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/ruling"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/logger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/evidencestore"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/ledger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/lock"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/model"
)

// Seed policies.
const (
	SeedPolicyFixed  = "fixed"
	SeedPolicyRandom = "random"
)

// ArbiterConfig holds the decision and prompt settings of an Arbiter.
type ArbiterConfig struct {
	Threshold      float64
	SeedPolicy     string
	Seed           uint64
	SystemPrompt   string
	MaxEntryChars  int
	MaxPromptChars int
	AutoRefund     bool
}

// Arbiter evaluates one dispute end to end: evidence, prompt, model,
// decision, commitment, and the ledger writes that enact the ruling.
//
// The ledger's evidence list is the only record of whether a dispute was
// ruled. Locks and caches narrow races but are never trusted for that.
type Arbiter struct {
	ledger    ledger.Ledger
	model     model.Evaluator
	resolver  *EvidenceResolver
	payments  *PaymentIndex
	records   evidencestore.Store
	locker    lock.Locker
	events    *EventSink
	telemetry Telemetry
	builder   prompt.Builder
	cfg       ArbiterConfig

	group singleflight.Group
	now   func() time.Time
	seed  func() (uint64, error)
}

// NewArbiter creates an Arbiter with in-process locking and no side-effect sinks.
func NewArbiter(l ledger.Ledger, m model.Evaluator, resolver *EvidenceResolver, payments *PaymentIndex, cfg ArbiterConfig) *Arbiter {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompt.DefaultSystemPrompt
	}
	if cfg.SeedPolicy == "" {
		cfg.SeedPolicy = SeedPolicyFixed
	}
	return &Arbiter{
		ledger:    l,
		model:     m,
		resolver:  resolver,
		payments:  payments,
		locker:    NewLocalLocker(),
		telemetry: noopTelemetry{},
		builder:   prompt.NewBuilder(cfg.MaxEntryChars, cfg.MaxPromptChars),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		seed:      randomSeed,
	}
}

// SetLocker replaces the per-dispute lock (e.g. with a chain including Redis).
func (a *Arbiter) SetLocker(l lock.Locker) { a.locker = l }

// SetRecordStore publishes commitment records to s and submits their
// identifier instead of inline JSON.
func (a *Arbiter) SetRecordStore(s evidencestore.Store) { a.records = s }

// SetEventSink attaches audit, queue and websocket side effects.
func (a *Arbiter) SetEventSink(s *EventSink) { a.events = s }

// SetTelemetry attaches metrics.
func (a *Arbiter) SetTelemetry(t Telemetry) {
	if t != nil {
		a.telemetry = t
	}
}

// Threshold returns the configured confidence threshold.
func (a *Arbiter) Threshold() float64 { return a.cfg.Threshold }

// Evaluate arbitrates key. Concurrent in-process callers share one attempt.
// Every error leaves the dispute eligible for a later attempt.
func (a *Arbiter) Evaluate(ctx context.Context, key dispute.Key) (*evaluation.Result, error) {
	v, err, shared := a.group.Do(key.String(), func() (any, error) {
		return a.evaluate(ctx, key)
	})
	if shared {
		slog.Debug("arbiter: joined in-flight evaluation", "dispute", key)
	}
	if err != nil {
		return nil, err
	}
	return v.(*evaluation.Result), nil
}

func (a *Arbiter) evaluate(ctx context.Context, key dispute.Key) (*evaluation.Result, error) {
	ctx = logger.WithDisputeKey(ctx, key.String())
	ctx, span := arbotel.StartEvaluationSpan(ctx, key.String())
	defer span.End()

	start := time.Now()
	a.telemetry.EvaluationStarted(ctx)

	res := &evaluation.Result{
		ID:          uuid.NewString(),
		DisputeKey:  key.String(),
		Model:       a.model.Name(),
		EvaluatedAt: a.now(),
	}

	err := a.run(ctx, key, res)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		a.telemetry.EvaluationFailed(ctx, string(domain.KindOf(err)), elapsed)
		a.events.Failed(ctx, res, err)
		slog.Warn("arbiter: evaluation failed", append([]any{
			"kind", domain.KindOf(err), "retryable", domain.IsRetryable(err), "error", err,
		}, logger.Attrs(ctx)...)...)
		return nil, err
	}

	var confidence float64
	if res.Ruling != nil {
		confidence = res.Ruling.Confidence
	}
	a.telemetry.EvaluationFinished(ctx, string(res.Status), string(res.Outcome), confidence, elapsed)
	a.events.Evaluated(ctx, res)
	slog.Info("arbiter: evaluation finished", append([]any{
		"status", res.Status, "outcome", res.Outcome, "warnings", len(res.Warnings),
	}, logger.Attrs(ctx)...)...)
	return res, nil
}

func (a *Arbiter) run(ctx context.Context, key dispute.Key, res *evaluation.Result) error {
	release, err := a.locker.TryLock(ctx, key.String())
	if errors.Is(err, lock.ErrHeld) {
		return domain.Errorf(domain.KindTransient, "dispute %s is being evaluated by another worker", key)
	}
	if err != nil {
		return domain.Wrap(domain.KindTransient, "acquire dispute lock", err)
	}
	defer release()

	status, err := a.ledger.GetStatus(ctx, key)
	if err != nil {
		return fmt.Errorf("read dispute status: %w", err)
	}
	if status.IsTerminal() {
		res.Status = evaluation.StatusClosed
		res.Warn("dispute is " + string(status))
		return nil
	}

	entries, err := a.ledger.GetAllEvidence(ctx, key)
	if err != nil {
		return fmt.Errorf("read evidence: %w", err)
	}
	if prior, ok := dispute.FirstOfRole(entries, dispute.RoleArbiter); ok {
		// Ruled before but still pending: a previous attempt died between
		// submitting its record and its ruling.
		return a.resume(ctx, key, prior, res)
	}

	canonical := dispute.Canonical(entries)
	if len(canonical) == 0 {
		return domain.Errorf(domain.KindNoEvidence, "dispute %s has no party evidence", key)
	}

	resolved := a.resolver.ResolveAll(ctx, canonical)
	if err := ctx.Err(); err != nil {
		// Sentinels caused by cancellation must not be sealed into a commitment.
		return domain.Wrap(domain.KindTransient, "resolve evidence", err)
	}

	seed, err := a.chooseSeed()
	if err != nil {
		return domain.Wrap(domain.KindInternal, "draw seed", err)
	}

	p := a.builder.Build(a.cfg.SystemPrompt, resolved)
	slog.Debug("arbiter: prompt built", append([]any{
		"entries", len(resolved),
		"system_prompt_hash", commitment.Keccak256Hex([]byte(p.System)),
		"prompt_chars", len(p.User),
		"seed", seed,
	}, logger.Attrs(ctx)...)...)

	raw, err := a.model.Evaluate(ctx, p.System, p.User, seed)
	if err != nil {
		return fmt.Errorf("model evaluation: %w", err)
	}

	display := ruling.StripDisplay(raw)
	r, outcome, err := ruling.Decide(display, a.cfg.Threshold)
	if err != nil {
		return err
	}
	c := commitment.Compute(p.Canonical(), seed, display)

	res.Ruling = &r
	res.Outcome = outcome
	res.Commitment = &c

	// Final guard: another writer may have ruled while the model was running.
	entries, err = a.ledger.GetAllEvidence(ctx, key)
	if err != nil {
		return fmt.Errorf("re-read evidence: %w", err)
	}
	if prior, ok := dispute.FirstOfRole(entries, dispute.RoleArbiter); ok {
		res.Ruling, res.Outcome, res.Commitment = nil, "", nil
		res.Status = evaluation.StatusAlreadyRuled
		res.Record = a.decodePrior(ctx, prior, res)
		return nil
	}

	record := commitment.Record{
		CommitmentHash: c.CommitmentHash,
		Confidence:     r.Confidence,
		Decision:       string(r.Decision),
		Enacted:        string(outcome),
		EvaluatedAt:    res.EvaluatedAt.Format(time.RFC3339),
		Model:          a.model.Name(),
		PromptHash:     c.PromptHash,
		Reasoning:      r.Reasoning,
		ResponseHash:   c.ResponseHash,
		Seed:           seed,
	}
	if err := a.submitRecord(ctx, key, record, res); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return a.settleConflict(ctx, key, res, err)
		}
		return err
	}

	if err := a.enact(ctx, key, outcome, res); err != nil {
		return err
	}
	res.Status = evaluation.StatusEvaluated
	return nil
}

// submitRecord publishes the commitment as Arbiter evidence. It must land
// before the ruling so every ruling on the ledger is backed by a commitment.
func (a *Arbiter) submitRecord(ctx context.Context, key dispute.Key, record commitment.Record, res *evaluation.Result) error {
	payload, err := commitment.Encode(record)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "encode commitment record", err)
	}

	content := payload
	if a.records != nil {
		id, err := a.records.Put(ctx, []byte(payload))
		if err != nil {
			res.Warn("record store unavailable, submitted commitment inline: " + err.Error())
		} else {
			content = id
		}
	}

	tx, err := a.ledger.SubmitEvidence(ctx, key, content)
	if err != nil {
		return fmt.Errorf("submit commitment: %w", err)
	}
	res.EvidenceTx = tx
	return nil
}

// settleConflict reports a rejected commitment write as the state that
// rejected it: a closed dispute, or a ruling recorded by another writer.
// A conflict neither explains stays retryable.
func (a *Arbiter) settleConflict(ctx context.Context, key dispute.Key, res *evaluation.Result, cause error) error {
	res.Ruling, res.Outcome, res.Commitment = nil, "", nil

	status, err := a.ledger.GetStatus(ctx, key)
	if err != nil {
		return fmt.Errorf("read dispute status after conflict: %w", err)
	}
	if status.IsTerminal() {
		res.Status = evaluation.StatusClosed
		res.Warn("dispute became " + string(status) + " during evaluation")
		return nil
	}

	entries, err := a.ledger.GetAllEvidence(ctx, key)
	if err != nil {
		return fmt.Errorf("re-read evidence after conflict: %w", err)
	}
	if prior, ok := dispute.FirstOfRole(entries, dispute.RoleArbiter); ok {
		res.Status = evaluation.StatusAlreadyRuled
		res.Record = a.decodePrior(ctx, prior, res)
		return nil
	}
	return domain.Wrap(domain.KindTransient, "submit commitment rejected, dispute state unchanged", cause)
}

// enact submits the ruling and, for approvals, the refund. A failed ruling
// write is returned so the dispute is retried; the retry resumes from the
// recorded outcome. Refund failures are warnings.
func (a *Arbiter) enact(ctx context.Context, key dispute.Key, outcome ruling.Outcome, res *evaluation.Result) error {
	var (
		tx  string
		err error
	)
	if outcome == ruling.OutcomeApprove {
		tx, err = a.ledger.Approve(ctx, key)
	} else {
		tx, err = a.ledger.Deny(ctx, key)
	}
	switch {
	case errors.Is(err, domain.ErrConflict):
		res.Warn(fmt.Sprintf("%s ruling already settled on ledger", outcome))
	case err != nil:
		return fmt.Errorf("submit %s ruling: %w", outcome, err)
	default:
		res.RulingTx = tx
	}

	if outcome == ruling.OutcomeApprove && a.cfg.AutoRefund {
		a.refund(ctx, key, res)
	}
	return nil
}

func (a *Arbiter) refund(ctx context.Context, key dispute.Key, res *evaluation.Result) {
	if a.payments == nil {
		res.Warn("refund skipped: no payment index configured")
		return
	}
	info, err := a.payments.ForDispute(ctx, key)
	if err != nil {
		res.Warn("refund skipped: payment lookup failed: " + err.Error())
		return
	}
	tx, err := a.ledger.ExecuteRefund(ctx, *info)
	switch {
	case errors.Is(err, domain.ErrConflict):
		res.Warn("refund already settled on ledger")
	case err != nil:
		res.Warn("refund failed: " + err.Error())
	default:
		res.RefundTx = tx
	}
}

// resume finishes a dispute whose commitment record is on the ledger but
// whose ruling is not. The model is not called again.
func (a *Arbiter) resume(ctx context.Context, key dispute.Key, prior dispute.EvidenceEntry, res *evaluation.Result) error {
	res.Record = a.decodePrior(ctx, prior, res)
	if res.Record == nil {
		res.Status = evaluation.StatusAlreadyRuled
		return nil
	}

	outcome := ruling.Outcome(res.Record.Enacted)
	if outcome != ruling.OutcomeApprove && outcome != ruling.OutcomeDeny {
		res.Status = evaluation.StatusAlreadyRuled
		res.Warn(fmt.Sprintf("recorded outcome %q is not enactable", res.Record.Enacted))
		return nil
	}

	c := res.Record.Commitment()
	res.Commitment = &c
	res.Outcome = outcome
	res.Ruling = &ruling.Ruling{
		Decision:   ruling.Decision(res.Record.Decision),
		Reasoning:  res.Record.Reasoning,
		Confidence: res.Record.Confidence,
	}
	if res.Record.Model != "" {
		res.Model = res.Record.Model
	}

	if err := a.enact(ctx, key, outcome, res); err != nil {
		return err
	}
	res.Status = evaluation.StatusResumed
	return nil
}

// decodePrior decodes an existing Arbiter entry, noting a warning on failure.
func (a *Arbiter) decodePrior(ctx context.Context, prior dispute.EvidenceEntry, res *evaluation.Result) *commitment.Record {
	rec, err := decodeRecord(ctx, a.resolver, prior.Identifier)
	if err != nil {
		res.Warn("existing arbiter record could not be decoded: " + err.Error())
		return nil
	}
	return rec
}

// GetCommitment returns the decoded commitment record of key.
func (a *Arbiter) GetCommitment(ctx context.Context, key dispute.Key) (*commitment.Record, error) {
	entries, err := a.ledger.GetAllEvidence(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}
	prior, ok := dispute.FirstOfRole(entries, dispute.RoleArbiter)
	if !ok {
		return nil, fmt.Errorf("commitment for dispute %s: %w", key, domain.ErrNotFound)
	}
	return decodeRecord(ctx, a.resolver, prior.Identifier)
}

// decodeRecord reads an Arbiter entry that is either inline JSON or a
// content address of the JSON.
func decodeRecord(ctx context.Context, resolver *EvidenceResolver, identifier string) (*commitment.Record, error) {
	payload := identifier
	if classify(identifier) != addressJSON {
		data, err := resolver.Fetch(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("fetch commitment record: %w", err)
		}
		payload = string(data)
	}
	rec, err := commitment.Decode(payload)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (a *Arbiter) chooseSeed() (uint64, error) {
	if a.cfg.SeedPolicy == SeedPolicyRandom {
		return a.seed()
	}
	return a.cfg.Seed, nil
}

// randomSeed draws a 31-bit seed, the range every provider accepts.
func randomSeed() (uint64, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return uint64(binary.BigEndian.Uint32(b[:]) & 0x7fffffff), nil
}
