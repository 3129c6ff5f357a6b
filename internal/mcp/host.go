package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/termbridge/termbridge/internal/monitor"
)

func hostStatsTool() mcp.Tool {
	return mcp.NewTool("host_stats",
		mcp.WithDescription("Collect CPU, memory, disk and uptime figures from a session's host"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
	)
}

func (s *Server) handleHostStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	conn, errMsg := s.sessionConn(sessionID)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}
	runner, ok := conn.(monitor.Runner)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session %s cannot run remote probes", sessionID)), nil
	}

	stats, err := monitor.Snapshot(ctx, runner)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}
