package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/termbridge/termbridge/internal/recovery"
)

// registerTools wires every tool definition to its handler.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(openSessionTool(), s.handleOpenSession)
	s.mcpServer.AddTool(sendInputTool(), s.handleSendInput)
	s.mcpServer.AddTool(readOutputTool(), s.handleReadOutput)
	s.mcpServer.AddTool(resizeSessionTool(), s.handleResizeSession)
	s.mcpServer.AddTool(closeSessionTool(), s.handleCloseSession)
	s.mcpServer.AddTool(listSessionsTool(), s.handleListSessions)

	s.mcpServer.AddTool(uploadChunkTool(), s.handleUploadChunk)
	s.mcpServer.AddTool(downloadFileTool(), s.handleDownloadFile)
	s.mcpServer.AddTool(downloadDirTool(), s.handleDownloadDir)
	s.mcpServer.AddTool(transferProgressTool(), s.handleTransferProgress)
	s.mcpServer.AddTool(cancelTransferTool(), s.handleCancelTransfer)

	s.mcpServer.AddTool(sftpListTool(), s.handleSFTPList)
	s.mcpServer.AddTool(sftpMkdirTool(), s.handleSFTPMkdir)
	s.mcpServer.AddTool(sftpRenameTool(), s.handleSFTPRename)
	s.mcpServer.AddTool(sftpDeleteTool(), s.handleSFTPDelete)
	s.mcpServer.AddTool(sftpReadTool(), s.handleSFTPRead)

	s.mcpServer.AddTool(hostStatsTool(), s.handleHostStats)
	s.mcpServer.AddTool(saveCredentialTool(), s.handleSaveCredential)
	s.mcpServer.AddTool(forgetCredentialTool(), s.handleForgetCredential)
}

// Session tool definitions

func openSessionTool() mcp.Tool {
	return mcp.NewTool("open_session",
		mcp.WithDescription("Open an interactive shell session on a remote host over SSH"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Caller-chosen identifier for the new session"),
		),
		mcp.WithString("host", mcp.Required(), mcp.Description(descHost)),
		mcp.WithNumber("port", mcp.Description(descPort)),
		mcp.WithString("user", mcp.Required(), mcp.Description(descUser)),
		mcp.WithString("password", mcp.Description(descPassword)),
		mcp.WithString("key_path", mcp.Description(descKeyPath)),
		mcp.WithString("passphrase", mcp.Description(descPassphrase)),
		mcp.WithBoolean("use_agent", mcp.Description(descUseAgent)),
		mcp.WithBoolean("use_saved", mcp.Description(descUseSaved)),
		mcp.WithString("client_id",
			mcp.Description(descClientID),
			mcp.DefaultString(defaultClientID),
		),
	)
}

func sendInputTool() mcp.Tool {
	return mcp.NewTool("send_input",
		mcp.WithDescription("Write input to a session's shell"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithString("data", mcp.Required(), mcp.Description("The input to write, verbatim")),
		mcp.WithBoolean("pasted",
			mcp.Description("Marks one line of a multi-line paste; a newline is appended unless it is the last line"),
		),
		mcp.WithBoolean("is_last_line",
			mcp.Description("Marks the final line of a paste"),
		),
		mcp.WithString("client_id",
			mcp.Description(descClientID),
			mcp.DefaultString(defaultClientID),
		),
	)
}

func readOutputTool() mcp.Tool {
	return mcp.NewTool("read_output",
		mcp.WithDescription("Drain buffered output from a session; reports the close reason once the session ends"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
	)
}

func resizeSessionTool() mcp.Tool {
	return mcp.NewTool("resize_session",
		mcp.WithDescription("Resize a session's terminal; dimensions are clamped to the supported range"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithNumber("cols", mcp.Required(), mcp.Description("Terminal columns")),
		mcp.WithNumber("rows", mcp.Required(), mcp.Description("Terminal rows")),
	)
}

func closeSessionTool() mcp.Tool {
	return mcp.NewTool("close_session",
		mcp.WithDescription("Close a session and release its connection"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithString("client_id",
			mcp.Description(descClientID),
			mcp.DefaultString(defaultClientID),
		),
	)
}

func listSessionsTool() mcp.Tool {
	return mcp.NewTool("list_sessions",
		mcp.WithDescription("List all live sessions"),
	)
}

// Session tool handlers

func (s *Server) handleOpenSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	clientID := mcp.ParseString(req, "client_id", defaultClientID)

	params, errMsg := s.connectParams(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}
	if msg := s.authLockMessage(params); msg != "" {
		return mcp.NewToolResultError(msg), nil
	}

	slog.Info("opening session",
		slog.String("session_id", sessionID),
		slog.String("host", params.Host),
		slog.String("user", params.User),
	)

	if err := s.engine.Open(sessionID, clientID, params); err != nil {
		s.noteAuthFailure(params, err)
		return mcp.NewToolResultError(recovery.Annotate(err)), nil
	}
	s.noteAuthSuccess(params)

	cols, rows := 0, 0
	if sess, ok := s.engine.Registry().Get(sessionID); ok {
		cols, rows = sess.Size()
		s.recorder.Start(sessionID, cols, rows)
	}

	return jsonResult(map[string]any{
		"session_id": sessionID,
		"status":     "connected",
		"host":       params.Host,
		"port":       params.Port,
		"user":       params.User,
		"cols":       cols,
		"rows":       rows,
	})
}

func (s *Server) handleSendInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	clientID := mcp.ParseString(req, "client_id", defaultClientID)
	data := mcp.ParseString(req, "data", "")
	pasted := mcp.ParseBoolean(req, "pasted", false)
	isLastLine := mcp.ParseBoolean(req, "is_last_line", false)

	if err := s.engine.Input(sessionID, clientID, data, pasted, isLastLine); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Input sent"), nil
}

func (s *Server) handleReadOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}

	d, ok := s.output.Drain(sessionID)
	if !ok {
		// Nothing buffered: fine for a live session, an error for an
		// unknown one.
		if _, live := s.engine.Registry().Get(sessionID); !live {
			return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
		}
		d = Drained{}
	}

	result := map[string]any{
		"session_id": sessionID,
		"output":     d.Output,
		"closed":     d.Closed,
	}
	if d.Truncated {
		result["truncated"] = true
	}
	if d.Closed {
		result["reason"] = d.Reason
	}
	return jsonResult(result)
}

func (s *Server) handleResizeSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	cols := mcp.ParseInt(req, "cols", 0)
	rows := mcp.ParseInt(req, "rows", 0)

	appliedCols, appliedRows, err := s.engine.Resize(sessionID, cols, rows)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"cols":       appliedCols,
		"rows":       appliedRows,
	})
}

func (s *Server) handleCloseSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	clientID := mcp.ParseString(req, "client_id", defaultClientID)

	slog.Info("closing session", slog.String("session_id", sessionID))

	if err := s.engine.Close(sessionID, clientID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session closed"), nil
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.engine.Registry().List()
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})

	rows := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		cols, sessRows := sess.Size()
		rows = append(rows, map[string]any{
			"session_id": sess.ID,
			"owner":      sess.Owner,
			"host":       sess.Host,
			"user":       sess.User,
			"state":      string(sess.State()),
			"cols":       cols,
			"rows":       sessRows,
			"created_at": sess.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return jsonResult(map[string]any{
		"sessions": rows,
		"count":    len(rows),
	})
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
