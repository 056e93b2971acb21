package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/database"
)

const maxEvaluationList = 500

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Payments ---

func (s *Store) GetPayment(ctx context.Context, hash string) (*payment.Info, error) {
	hash = payment.NormalizeHash(hash)
	row := s.pool.QueryRow(ctx,
		`SELECT hash, payer, receiver, token, amount, operator, salt, indexed_at
		 FROM payments WHERE hash = $1`, hash)

	p, err := scanPayment(row)
	if err != nil {
		return nil, missing(err, "get payment %s", hash)
	}
	return &p, nil
}

// UpsertPayment inserts or refreshes a payment row. The ledger remains the
// source of truth, so the latest write wins.
func (s *Store) UpsertPayment(ctx context.Context, info payment.Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	indexedAt := info.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payments (hash, payer, receiver, token, amount, operator, salt, indexed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (hash) DO UPDATE SET
		   payer = EXCLUDED.payer, receiver = EXCLUDED.receiver, token = EXCLUDED.token,
		   amount = EXCLUDED.amount, operator = EXCLUDED.operator, salt = EXCLUDED.salt,
		   indexed_at = EXCLUDED.indexed_at`,
		payment.NormalizeHash(info.Hash), info.Payer, info.Receiver, info.Token,
		info.Amount, info.Operator, info.Salt, indexedAt)
	if err != nil {
		return fmt.Errorf("upsert payment %s: %w", info.Hash, err)
	}
	return nil
}

func (s *Store) CountPayments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM payments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

func scanPayment(r row) (payment.Info, error) {
	var p payment.Info
	err := r.Scan(&p.Hash, &p.Payer, &p.Receiver, &p.Token, &p.Amount, &p.Operator, &p.Salt, &p.IndexedAt)
	return p, err
}

// --- Evaluations ---

// SaveEvaluation appends an audit row. Rows are never consulted to decide
// whether a dispute was ruled.
func (s *Store) SaveEvaluation(ctx context.Context, r *evaluation.Result) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.EvaluatedAt.IsZero() {
		r.EvaluatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}

	var commitmentHash string
	if r.Commitment != nil {
		commitmentHash = r.Commitment.CommitmentHash
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO evaluations (id, dispute_key, status, outcome, commitment_hash, error_kind, payload, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.DisputeKey, string(r.Status), string(r.Outcome), commitmentHash, r.ErrorKind, payload, r.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("save evaluation %s: %w", r.ID, err)
	}
	return nil
}

// ListEvaluations returns the newest audit rows, optionally for one dispute.
func (s *Store) ListEvaluations(ctx context.Context, disputeKey string, limit int) ([]evaluation.Result, error) {
	if limit <= 0 || limit > maxEvaluationList {
		limit = maxEvaluationList
	}

	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM evaluations
		 WHERE ($1 = '' OR dispute_key = $1)
		 ORDER BY evaluated_at DESC
		 LIMIT $2`, disputeKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []evaluation.Result
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		var r evaluation.Result
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode evaluation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	if out == nil {
		out = []evaluation.Result{}
	}
	return out, nil
}

// row is satisfied by pgx.Row and pgx.Rows.
type row interface {
	Scan(dest ...any) error
}

// missing maps pgx.ErrNoRows to domain.ErrNotFound: a payment absent from
// the table is only uncached, and callers fall through to the ledger.
func missing(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
