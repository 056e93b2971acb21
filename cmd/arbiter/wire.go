package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/gcs"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/inference"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/ipfs"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/ledgerrpc"
	arbnats "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/nats"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/natskv"
	arbotel "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/otel"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/postgres"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/redislock"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/ristretto"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/s3"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/tiered"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/ws"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/config"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/logger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/broadcast"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/cache"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/database"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/evidencestore"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/lock"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/messagequeue"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/resilience"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/service"
)

// appOptions selects the long-lived infrastructure a command needs.
type appOptions struct {
	withHub bool // websocket broadcast hub (serve only)
}

// app holds every wired component. Optional backends stay nil when their
// config is empty.
type app struct {
	cfg *config.Config

	ledger      *ledgerrpc.Client
	model       *inference.Client
	replayModel *inference.Client
	gateway     *ipfs.Gateway

	pool    *pgxpool.Pool
	store   database.Store
	queue   *arbnats.Queue
	redis   *redislock.Locker
	hub     *ws.Hub
	metrics *arbotel.Metrics

	resolver *service.EvidenceResolver
	payments *service.PaymentIndex
	arbiter  *service.Arbiter
	verifier *service.Verifier
	events   *service.EventSink

	closers []func()
}

// newApp builds the arbiter from configuration. Call close when done.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	shutdown, err := arbotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.onClose(func() { _ = shutdown(context.Background()) })

	if a.metrics, err = arbotel.NewMetrics(); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	// --- Outbound clients ---

	a.ledger = ledgerrpc.NewClient(cfg.Ledger.URL, cfg.Ledger.APIKey, cfg.Ledger.Timeout)
	a.ledger.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	a.model = newModelClient(cfg.Model, cfg.Breaker)
	a.replayModel = newModelClient(cfg.Replay, cfg.Breaker)

	a.gateway = ipfs.NewGateway(cfg.Evidence.IPFSGateway, cfg.Evidence.FetchTimeout, cfg.Evidence.MaxBytes)
	a.gateway.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	records, err := newRecordStore(ctx, cfg.Evidence)
	if err != nil {
		return nil, err
	}

	// --- Persistence ---

	if cfg.Postgres.DSN != "" {
		if a.pool, err = postgres.NewPool(ctx, cfg.Postgres); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.onClose(a.pool.Close)
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.store = postgres.NewStore(a.pool)
		slog.Info("postgres connected")
	}

	// --- Cache and events ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.onClose(l1.Close)

	var l2 cache.Cache
	if cfg.NATS.URL != "" {
		if a.queue, err = arbnats.Connect(ctx, cfg.NATS.URL); err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.onClose(func() { _ = a.queue.Close() })

		kv, err := natskv.Open(ctx, a.queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return nil, fmt.Errorf("nats kv: %w", err)
		}
		l2 = kv
	}
	c := tiered.New(l1, l2, cfg.Cache.L1TTL)

	if opts.withHub {
		a.hub = ws.NewHub(cfg.Server.CORSOrigin)
		a.onClose(a.hub.Close)
	}

	// --- Services ---

	a.resolver = service.NewEvidenceResolver(a.gateway, records, c, cfg.Cache.L2TTL, cfg.Evidence.Concurrency)
	a.payments = service.NewPaymentIndex(a.ledger, c, a.store, cfg.Cache.L2TTL)

	acfg, err := arbiterConfig(cfg.Arbiter)
	if err != nil {
		return nil, err
	}
	a.arbiter = service.NewArbiter(a.ledger, a.model, a.resolver, a.payments, acfg)
	a.verifier = service.NewVerifier(a.ledger, a.replayModel, a.resolver, acfg)

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}
	a.arbiter.SetLocker(locker)
	if records != nil {
		a.arbiter.SetRecordStore(records)
	}

	a.events = service.NewEventSink(a.messageQueue(), a.broadcaster(), a.store)
	a.arbiter.SetEventSink(a.events)
	a.verifier.SetEventSink(a.events)
	a.arbiter.SetTelemetry(a.metrics)
	a.verifier.SetTelemetry(a.metrics)

	return a, nil
}

func newModelClient(m config.Model, b config.Breaker) *inference.Client {
	c := inference.NewClient(inference.Options{
		BaseURL:           m.URL,
		APIKey:            m.APIKey,
		Model:             m.Name,
		MaxTokens:         m.MaxTokens,
		Timeout:           m.Timeout,
		RequestsPerSecond: m.RequestsPerSecond,
	})
	c.SetBreaker(resilience.NewBreaker(b.MaxFailures, b.Timeout))
	return c
}

// newRecordStore picks the content store for arbiter records: S3 first,
// then GCS. Neither configured keeps records inline on the ledger.
func newRecordStore(ctx context.Context, cfg config.Evidence) (evidencestore.Store, error) {
	switch {
	case cfg.S3Bucket != "":
		s, err := s3.New(ctx, s3.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
			MaxBytes: cfg.MaxBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 evidence store: %w", err)
		}
		slog.Info("evidence store: s3", "bucket", cfg.S3Bucket)
		return s, nil
	case cfg.GCSBucket != "":
		if !gcs.Enabled {
			return nil, errors.New("evidence.gcs_bucket is set but this binary was built without -tags gcp")
		}
		s, err := gcs.New(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix, MaxBytes: cfg.MaxBytes})
		if err != nil {
			return nil, fmt.Errorf("gcs evidence store: %w", err)
		}
		slog.Info("evidence store: gcs", "bucket", cfg.GCSBucket)
		return s, nil
	default:
		return nil, nil
	}
}

func arbiterConfig(cfg config.Arbiter) (service.ArbiterConfig, error) {
	acfg := service.ArbiterConfig{
		Threshold:      cfg.ConfidenceThreshold,
		SeedPolicy:     cfg.SeedPolicy,
		Seed:           cfg.Seed,
		MaxEntryChars:  cfg.MaxEntryChars,
		MaxPromptChars: cfg.MaxPromptChars,
		AutoRefund:     cfg.AutoRefund,
	}
	if cfg.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return acfg, fmt.Errorf("system prompt: %w", err)
		}
		acfg.SystemPrompt = string(data)
	}
	return acfg, nil
}

// newLocker always holds the in-process lock; Redis is chained after it so
// replicas also exclude each other.
func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	local := service.NewLocalLocker()
	if a.cfg.Redis.Addr == "" {
		return local, nil
	}
	a.redis = redislock.New(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, a.cfg.Redis.LockTTL)
	a.onClose(func() { _ = a.redis.Close() })
	if err := a.redis.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	slog.Info("redis lock enabled", "addr", a.cfg.Redis.Addr)
	return service.ChainLockers(local, a.redis), nil
}

// messageQueue and broadcaster return untyped nils for absent backends so
// the services' nil checks hold.
func (a *app) messageQueue() messagequeue.Queue {
	if a.queue == nil {
		return nil
	}
	return a.queue
}

func (a *app) broadcaster() broadcast.Broadcaster {
	if a.hub == nil {
		return nil
	}
	return a.hub
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// setupLogging installs the configured default logger.
func setupLogging(cfg *config.Config) func() {
	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	return closer.Close
}
