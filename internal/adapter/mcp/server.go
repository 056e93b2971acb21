// Package mcp exposes arbitration to AI agents over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/commitment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/service"
)

// DisputeEvaluator runs an arbitration.
type DisputeEvaluator interface {
	Evaluate(ctx context.Context, key dispute.Key) (*evaluation.Result, error)
}

// DisputeReplayer re-runs a recorded arbitration.
type DisputeReplayer interface {
	Replay(ctx context.Context, key dispute.Key) (*service.ReplayResult, error)
	Verify(ctx context.Context, key dispute.Key) (*service.Verification, error)
}

// CommitmentReader returns the arbiter record of a dispute.
type CommitmentReader interface {
	GetCommitment(ctx context.Context, key dispute.Key) (*commitment.Record, error)
}

// DisputeLister returns the scheduler's tracked disputes.
type DisputeLister interface {
	Snapshot() []service.Tracked
}

// ServerConfig configures the MCP listener.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the services behind the tools. Any may be nil; the tool
// then reports itself as not configured.
type ServerDeps struct {
	Evaluator   DisputeEvaluator
	Replayer    DisputeReplayer
	Commitments CommitmentReader
	Disputes    DisputeLister
}

// Server serves MCP over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer creates a server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the authenticated streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// Start listens on cfg.Addr in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server stopped", "error", err)
		}
	}()
	slog.Info("mcp server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
