package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	arbhttp "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/http"
	arbmcp "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/mcp"
	arbotel "github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/otel"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/config"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/middleware"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/service"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port string
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the auto-evaluation scheduler and the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := g.overrides(cmd)
			if cmd.Flags().Changed("port") {
				o.Port = &port
			}
			cfg, err := config.LoadWithOverrides(g.configFile, o)
			if err != nil {
				return err
			}
			if noScheduler {
				cfg.Scheduler.Enabled = false
			}
			defer setupLogging(cfg)()
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "disable the auto-evaluation loop")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"ledger", cfg.Ledger.URL,
		"model", cfg.Model.Name,
		"threshold", cfg.Arbiter.ConfidenceThreshold,
		"seed_policy", cfg.Arbiter.SeedPolicy,
		"scheduler", cfg.Scheduler.Enabled,
	)

	a, err := newApp(ctx, cfg, appOptions{withHub: true})
	if err != nil {
		return err
	}
	defer a.close()

	// --- Scheduler and ledger events ---

	var scheduler *service.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = service.NewScheduler(a.ledger, a.arbiter, service.SchedulerConfig{
			Interval:          cfg.Scheduler.Interval,
			LookbackBlocks:    cfg.Scheduler.LookbackBlocks,
			DisputeTimeout:    cfg.Scheduler.DisputeTimeout,
			EvaluationTimeout: cfg.Scheduler.EvaluationTimeout,
		})
		scheduler.SetEventSink(a.events)
		scheduler.SetTelemetry(a.metrics)
		go scheduler.Start(ctx)
		defer scheduler.Wait()

		if a.queue != nil {
			cancelSubs, err := service.SubscribeLedgerEvents(ctx, a.queue, scheduler, a.payments)
			if err != nil {
				return fmt.Errorf("ledger event subscriptions: %w", err)
			}
			defer cancelSubs()
		}
	}

	// --- HTTP ---

	handlers := &arbhttp.Handlers{
		Arbiter:           a.arbiter,
		Verifier:          a.verifier,
		Scheduler:         scheduler,
		Payments:          a.payments,
		Store:             a.store,
		Checks:            healthChecks(a),
		Version:           version,
		EvaluationTimeout: cfg.Scheduler.EvaluationTimeout,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(arbhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(arbotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(arbhttp.SecurityHeaders)
	r.Use(arbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(limiter.Handler)
	r.Use(middleware.APIKey(cfg.Server.APIKey))

	arbhttp.MountRoutes(r, handlers, a.hub.HandleWS)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: a synchronous evaluate waits on the model.
	}

	// --- MCP ---

	if cfg.MCP.Enabled {
		deps := arbmcp.ServerDeps{
			Evaluator:   a.arbiter,
			Replayer:    a.verifier,
			Commitments: a.arbiter,
		}
		if scheduler != nil {
			deps.Disputes = scheduler
		}
		mcpSrv := arbmcp.NewServer(arbmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Logging.Service,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, deps)
		if err := mcpSrv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(sctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthChecks builds the readiness probes for every configured backend.
func healthChecks(a *app) map[string]arbhttp.HealthCheck {
	checks := map[string]arbhttp.HealthCheck{
		"ledger": a.ledger.Health,
		"model":  a.model.Health,
	}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.queue != nil {
		checks["nats"] = func(context.Context) error {
			if !a.queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	return checks
}
