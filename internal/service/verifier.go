package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	arbotel "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/otel"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/commitment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/prompt"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/ruling"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/logger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/ledger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/messagequeue"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/model"
)

// Where a replay's seed came from.
const (
	SeedFromRecord  = "record"
	SeedFromDefault = "default"
)

// ReplayResult is an independent re-evaluation of a dispute.
type ReplayResult struct {
	DisputeKey  string                `json:"dispute_key"`
	Commitment  commitment.Commitment `json:"commitment"`
	DisplayText string                `json:"display_text"`
	Model       string                `json:"model"`
	Ruling      *ruling.Ruling        `json:"ruling,omitempty"` // nil when the replayed output does not parse
	Original    *commitment.Record    `json:"original,omitempty"`
	SeedSource  string                `json:"seed_source"`
}

// Verification compares a replay with the commitment on the ledger.
type Verification struct {
	ReplayResult
	Match bool `json:"match"`
	// PromptMatch separates changed evidence (false) from model
	// nondeterminism (true with Match false).
	PromptMatch bool `json:"prompt_match"`
	// ModelMatch is false when the replay ran on a different model than the
	// recorded one, in which case a mismatch says nothing about drift.
	// Records without a model name count as matching.
	ModelMatch bool `json:"model_match"`
}

// Verifier replays disputes against an independently configured model and
// never writes to the ledger.
type Verifier struct {
	ledger       ledger.Ledger
	model        model.Evaluator
	resolver     *EvidenceResolver
	builder      prompt.Builder
	systemPrompt string
	events       *EventSink
	telemetry    Telemetry
}

// NewVerifier creates a Verifier. The prompt settings must match the
// arbiter's for commitments to be reproducible.
func NewVerifier(l ledger.Ledger, m model.Evaluator, resolver *EvidenceResolver, cfg ArbiterConfig) *Verifier {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompt.DefaultSystemPrompt
	}
	return &Verifier{
		ledger:       l,
		model:        m,
		resolver:     resolver,
		builder:      prompt.NewBuilder(cfg.MaxEntryChars, cfg.MaxPromptChars),
		systemPrompt: cfg.SystemPrompt,
		telemetry:    noopTelemetry{},
	}
}

// SetEventSink attaches queue and websocket side effects.
func (v *Verifier) SetEventSink(s *EventSink) { v.events = s }

// SetTelemetry attaches metrics.
func (v *Verifier) SetTelemetry(t Telemetry) {
	if t != nil {
		v.telemetry = t
	}
}

// Replay re-runs the evaluation of key with the recorded seed (or
// commitment.DefaultSeed when no record exists) and recomputes the commitment.
func (v *Verifier) Replay(ctx context.Context, key dispute.Key) (*ReplayResult, error) {
	ctx = logger.WithDisputeKey(ctx, key.String())
	ctx, span := arbotel.StartReplaySpan(ctx, key.String())
	defer span.End()

	entries, err := v.ledger.GetAllEvidence(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}

	res := &ReplayResult{DisputeKey: key.String(), Model: v.model.Name(), SeedSource: SeedFromDefault}
	seed := commitment.DefaultSeed
	if prior, ok := dispute.FirstOfRole(entries, dispute.RoleArbiter); ok {
		rec, err := decodeRecord(ctx, v.resolver, prior.Identifier)
		if err != nil {
			slog.Warn("verifier: arbiter record undecodable, replaying with default seed",
				append([]any{"error", err}, logger.Attrs(ctx)...)...)
		} else {
			res.Original = rec
			res.SeedSource = SeedFromRecord
			seed = rec.Seed
		}
	}

	canonical := dispute.Canonical(entries)
	if len(canonical) == 0 {
		return nil, domain.Errorf(domain.KindNoEvidence, "dispute %s has no party evidence", key)
	}
	resolved := v.resolver.ResolveAll(ctx, canonical)
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindTransient, "resolve evidence", err)
	}

	p := v.builder.Build(v.systemPrompt, resolved)
	raw, err := v.model.Evaluate(ctx, p.System, p.User, seed)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("replay model evaluation: %w", err)
	}

	res.DisplayText = ruling.StripDisplay(raw)
	res.Commitment = commitment.Compute(p.Canonical(), seed, res.DisplayText)
	if r, err := ruling.Parse(res.DisplayText); err == nil {
		res.Ruling = &r
	}
	return res, nil
}

// Verify replays key and compares the result with its recorded commitment.
func (v *Verifier) Verify(ctx context.Context, key dispute.Key) (*Verification, error) {
	res, err := v.Replay(ctx, key)
	if err != nil {
		return nil, err
	}
	if res.Original == nil {
		return nil, fmt.Errorf("no arbiter commitment to verify for dispute %s: %w", key, domain.ErrNotFound)
	}

	out := &Verification{
		ReplayResult: *res,
		Match:        res.Commitment.Matches(res.Original.Commitment()),
		PromptMatch:  strings.EqualFold(res.Commitment.PromptHash, res.Original.PromptHash),
		ModelMatch:   res.Original.Model == "" || res.Original.Model == res.Model,
	}
	if !out.ModelMatch {
		slog.Warn("verifier: replay model differs from the recorded model", append([]any{
			"recorded", res.Original.Model, "replay", res.Model,
		}, logger.Attrs(ctx)...)...)
	}

	v.telemetry.ReplayFinished(ctx, out.Match)
	v.events.Replayed(ctx, messagequeue.ReplayPayload{
		DisputeKey:         key.String(),
		Match:              out.Match,
		ModelMatch:         out.ModelMatch,
		OriginalCommitment: res.Original.CommitmentHash,
		ReplayCommitment:   res.Commitment.CommitmentHash,
		SeedSource:         res.SeedSource,
	})
	slog.Info("verifier: replay compared", append([]any{
		"match", out.Match, "prompt_match", out.PromptMatch, "model_match", out.ModelMatch, "seed_source", res.SeedSource,
	}, logger.Attrs(ctx)...)...)
	return out, nil
}
