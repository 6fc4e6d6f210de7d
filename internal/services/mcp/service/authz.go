package service

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/mcp/domain"
)

// requireScope wraps a tool handler with the scope check for one tool name.
// A missing grant or an insufficient scope surfaces as a tool error; the
// handler underneath only ever runs for authorized callers.
func requireScope[In, Out any](tool string, handler mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		var zero Out
		grant, ok := domain.GrantFromContext(ctx)
		if !ok {
			return nil, zero, apperrors.New(apperrors.CodeUnauthenticated, "caller identity is missing")
		}
		if err := domain.Authorize(grant.Scopes, tool); err != nil {
			return nil, zero, err
		}
		return handler(ctx, req, input)
	}
}
