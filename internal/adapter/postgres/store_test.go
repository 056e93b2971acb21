package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/postgres"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/commitment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/ruling"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	// Run goose migrations first (uses embedded SQL files).
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func TestStore_PaymentUpsert(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	hash := "0x" + uuid.New().String()
	info := payment.Info{
		Hash:     hash,
		Payer:    "0xpayer",
		Receiver: "0xreceiver",
		Token:    "0xusdc",
		Amount:   "1000000",
	}
	if err := store.UpsertPayment(ctx, info); err != nil {
		t.Fatalf("UpsertPayment: %v", err)
	}

	got, err := store.GetPayment(ctx, hash)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if got.Payer != "0xpayer" || got.Amount != "1000000" {
		t.Fatalf("unexpected payment %+v", got)
	}
	if got.IndexedAt.IsZero() {
		t.Error("expected indexed_at to be set")
	}

	// Latest write wins.
	info.Amount = "2000000"
	if err := store.UpsertPayment(ctx, info); err != nil {
		t.Fatalf("UpsertPayment update: %v", err)
	}
	got, err = store.GetPayment(ctx, hash)
	if err != nil {
		t.Fatalf("GetPayment after update: %v", err)
	}
	if got.Amount != "2000000" {
		t.Errorf("expected updated amount, got %s", got.Amount)
	}

	n, err := store.CountPayments(ctx)
	if err != nil {
		t.Fatalf("CountPayments: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least one payment, got %d", n)
	}
}

func TestStore_PaymentNotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.GetPayment(context.Background(), "0x"+uuid.New().String())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PaymentRejectsIncomplete(t *testing.T) {
	store := setupStore(t)
	err := store.UpsertPayment(context.Background(), payment.Info{Hash: "0xabc"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStore_Evaluations(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := "0x" + uuid.New().String()

	first := &evaluation.Result{
		DisputeKey:  key,
		Status:      evaluation.StatusFailed,
		ErrorKind:   string(domain.KindMalformedOutput),
		Error:       "model returned prose",
		EvaluatedAt: time.Now().UTC().Add(-time.Minute),
	}
	second := &evaluation.Result{
		DisputeKey: key,
		Status:     evaluation.StatusEvaluated,
		Ruling:     &ruling.Ruling{Decision: ruling.DecisionApprove, Reasoning: "not delivered", Confidence: 0.92},
		Outcome:    ruling.OutcomeApprove,
		Commitment: &commitment.Commitment{CommitmentHash: "0xabc", Seed: 42},
		Warnings:   []string{"refund failed"},
	}
	for _, r := range []*evaluation.Result{first, second} {
		if err := store.SaveEvaluation(ctx, r); err != nil {
			t.Fatalf("SaveEvaluation: %v", err)
		}
	}
	if second.ID == "" || second.EvaluatedAt.IsZero() {
		t.Fatal("SaveEvaluation should assign ID and timestamp")
	}

	list, err := store.ListEvaluations(ctx, key, 10)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("expected newest first, got %s", list[0].ID)
	}
	if list[0].Ruling == nil || list[0].Ruling.Confidence != 0.92 {
		t.Errorf("ruling did not round-trip: %+v", list[0].Ruling)
	}
	if list[1].ErrorKind != string(domain.KindMalformedOutput) {
		t.Errorf("unexpected error kind %q", list[1].ErrorKind)
	}

	empty, err := store.ListEvaluations(ctx, "0xnone-"+uuid.New().String(), 10)
	if err != nil {
		t.Fatalf("ListEvaluations empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestMigrationVersion(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v < 1 {
		t.Errorf("expected version >= 1, got %d", v)
	}
}
