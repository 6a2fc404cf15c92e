// Package mcpserver exposes the policy search over MCP stdio so external agents can use it.
package mcpserver

import (
	"context"
	"log/slog"

	"negotiator/app/client/policy"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
)

const (
	serverName    = "negotiator-policy"
	serverVersion = "1.0.0"
)

type Service struct {
	server *server.MCPServer
}

func New(di *do.Injector) (*Service, error) {
	chroma, err := do.Invoke[*policy.Chroma](di)
	if err != nil {
		return nil, err
	}

	return NewWithSearcher(chroma), nil
}

func NewWithSearcher(searcher policy.Searcher) *Service {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	tool := mcp.NewTool(policy.ToolName,
		mcp.WithDescription(policy.ToolDescription),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Question or conversation excerpt to look up"),
		),
	)
	s.AddTool(tool, searchHandler(policy.NewTool(searcher)))

	return &Service{server: s}
}

func searchHandler(tool *policy.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := tool.Call(ctx, query)
		if err != nil {
			slog.Warn("MCP policy search failed", "query", query, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(result), nil
	}
}

// ServeStdio blocks until stdin is closed.
func (s *Service) ServeStdio() error {
	slog.Info("Serving policy search over MCP stdio")
	return server.ServeStdio(s.server)
}
