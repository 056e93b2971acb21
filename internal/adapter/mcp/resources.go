package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const disputesURI = "arbiter://disputes"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			disputesURI,
			"Tracked Disputes",
			mcplib.WithResourceDescription("Disputes tracked by the auto-evaluation scheduler and their state"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDisputesResource,
	)
}

func (s *Server) handleDisputesResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"scheduler not running"}`
	if s.deps.Disputes != nil {
		data, err := json.Marshal(s.deps.Disputes.Snapshot())
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
