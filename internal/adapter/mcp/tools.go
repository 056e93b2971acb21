package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.evaluateDisputeTool(),
		s.replayDisputeTool(),
		s.getCommitmentTool(),
	)
}

func disputeKeyParam() mcplib.ToolOption {
	return mcplib.WithString("dispute_key",
		mcplib.Required(),
		mcplib.Description("0x-prefixed 32-byte dispute key"),
	)
}

func (s *Server) evaluateDisputeTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("evaluate_dispute",
		mcplib.WithDescription("Arbitrate a pending refund dispute and submit the ruling to the ledger"),
		disputeKeyParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleEvaluate}
}

func (s *Server) replayDisputeTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("replay_dispute",
		mcplib.WithDescription("Re-run a dispute's evaluation and optionally compare it with the recorded commitment"),
		disputeKeyParam(),
		mcplib.WithBoolean("verify",
			mcplib.Description("Compare with the on-ledger commitment (fails when none exists)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleReplay}
}

func (s *Server) getCommitmentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_commitment",
		mcplib.WithDescription("Read the arbiter commitment record submitted for a dispute"),
		disputeKeyParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetCommitment}
}

func (s *Server) handleEvaluate(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Evaluator == nil {
		return mcplib.NewToolResultError("evaluator not configured"), nil
	}
	key, errResult := keyArg(req)
	if errResult != nil {
		return errResult, nil
	}
	res, err := s.deps.Evaluator.Evaluate(ctx, key)
	if err != nil {
		return toolError(fmt.Sprintf("evaluation of %s failed", key), err), nil
	}
	return marshalResult(res)
}

func (s *Server) handleReplay(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Replayer == nil {
		return mcplib.NewToolResultError("replayer not configured"), nil
	}
	key, errResult := keyArg(req)
	if errResult != nil {
		return errResult, nil
	}

	verify, _ := req.GetArguments()["verify"].(bool)
	if verify {
		v, err := s.deps.Replayer.Verify(ctx, key)
		if err != nil {
			return toolError(fmt.Sprintf("verification of %s failed", key), err), nil
		}
		return marshalResult(v)
	}
	res, err := s.deps.Replayer.Replay(ctx, key)
	if err != nil {
		return toolError(fmt.Sprintf("replay of %s failed", key), err), nil
	}
	return marshalResult(res)
}

func (s *Server) handleGetCommitment(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Commitments == nil {
		return mcplib.NewToolResultError("commitment reader not configured"), nil
	}
	key, errResult := keyArg(req)
	if errResult != nil {
		return errResult, nil
	}
	rec, err := s.deps.Commitments.GetCommitment(ctx, key)
	if err != nil {
		return toolError(fmt.Sprintf("no commitment for %s", key), err), nil
	}
	return marshalResult(rec)
}

func keyArg(req mcplib.CallToolRequest) (dispute.Key, *mcplib.CallToolResult) { //nolint:gocritic // hugeParam: mcp-go request type
	raw, ok := req.GetArguments()["dispute_key"].(string)
	if !ok || raw == "" {
		return "", mcplib.NewToolResultError("dispute_key is required")
	}
	key, err := dispute.ParseKey(raw)
	if err != nil {
		return "", mcplib.NewToolResultErrorFromErr("invalid dispute_key", err)
	}
	return key, nil
}

// toolError prefixes the message with the error kind so agents can decide
// whether to retry.
func toolError(msg string, err error) *mcplib.CallToolResult {
	return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("[%s] %s", domain.KindOf(err), msg), err)
}

func marshalResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
