package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/termbridge/termbridge/internal/session"
	"github.com/termbridge/termbridge/internal/sftpx"
	"github.com/termbridge/termbridge/internal/sshconn"
)

// File management tool definitions

func sftpListTool() mcp.Tool {
	return mcp.NewTool("sftp_list",
		mcp.WithDescription("List a remote directory over an open session's connection"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithString("path", mcp.DefaultString("."), mcp.Description("Remote directory to list")),
		mcp.WithBoolean("show_hidden", mcp.Description("Include dot entries")),
	)
}

func sftpMkdirTool() mcp.Tool {
	return mcp.NewTool("sftp_mkdir",
		mcp.WithDescription("Create a remote directory, including missing parents"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithString("path", mcp.Required(), mcp.Description("Remote directory to create")),
	)
}

func sftpRenameTool() mcp.Tool {
	return mcp.NewTool("sftp_rename",
		mcp.WithDescription("Rename or move a remote file or directory"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithString("old_path", mcp.Required(), mcp.Description("Current remote path")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("New remote path")),
	)
}

func sftpDeleteTool() mcp.Tool {
	return mcp.NewTool("sftp_delete",
		mcp.WithDescription("Delete a remote file or directory"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithString("path", mcp.Required(), mcp.Description("Remote path to delete")),
		mcp.WithBoolean("recursive", mcp.Description("Delete directories and their contents")),
	)
}

func sftpReadTool() mcp.Tool {
	return mcp.NewTool("sftp_read",
		mcp.WithDescription("Read a remote file, capped to a preview limit"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description(descSessionID)),
		mcp.WithString("path", mcp.Required(), mcp.Description("Remote file to read")),
		mcp.WithNumber("limit", mcp.Description("Maximum bytes to read (default: 3 MiB)")),
	)
}

// File management tool handlers

// sessionConn resolves a session id to its live connection.
func (s *Server) sessionConn(sessionID string) (session.Conn, string) {
	sess, ok := s.engine.Registry().Get(sessionID)
	if !ok {
		return nil, fmt.Sprintf("session not found: %s", sessionID)
	}
	conn := sess.Conn()
	if conn == nil {
		return nil, fmt.Sprintf("session not found: %s", sessionID)
	}
	return conn, ""
}

// sftpClient opens a file management client over a session's connection.
func (s *Server) sftpClient(sessionID string) (*sftpx.Client, string) {
	conn, errMsg := s.sessionConn(sessionID)
	if errMsg != "" {
		return nil, errMsg
	}
	sc, ok := conn.(*sshconn.Conn)
	if !ok {
		return nil, fmt.Sprintf("session %s has no file management channel", sessionID)
	}
	return sftpx.NewClient(sc), ""
}

func (s *Server) handleSFTPList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	client, errMsg := s.sftpClient(sessionID)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	p := mcp.ParseString(req, "path", ".")
	entries, err := client.List(p, mcp.ParseBoolean(req, "show_hidden", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"path":    p,
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleSFTPMkdir(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	p := mcp.ParseString(req, "path", "")
	if p == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}
	client, errMsg := s.sftpClient(sessionID)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	if err := client.Mkdir(p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Directory created: " + p), nil
}

func (s *Server) handleSFTPRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	oldPath := mcp.ParseString(req, "old_path", "")
	if oldPath == "" {
		return mcp.NewToolResultError("old_path is required"), nil
	}
	newPath := mcp.ParseString(req, "new_path", "")
	if newPath == "" {
		return mcp.NewToolResultError("new_path is required"), nil
	}
	for _, p := range []string{oldPath, newPath} {
		if allowed, reason := s.pathPolicy.IsAllowed(p); !allowed {
			return mcp.NewToolResultError(fmt.Sprintf("rename blocked: %s", reason)), nil
		}
	}
	client, errMsg := s.sftpClient(sessionID)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	if err := client.Rename(oldPath, newPath); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Renamed %s to %s", oldPath, newPath)), nil
}

func (s *Server) handleSFTPDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	p := mcp.ParseString(req, "path", "")
	if p == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}
	if allowed, reason := s.pathPolicy.IsAllowed(p); !allowed {
		return mcp.NewToolResultError(fmt.Sprintf("delete of %s blocked: %s", p, reason)), nil
	}
	client, errMsg := s.sftpClient(sessionID)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	if err := client.Remove(p, mcp.ParseBoolean(req, "recursive", false)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Deleted: " + p), nil
}

func (s *Server) handleSFTPRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	p := mcp.ParseString(req, "path", "")
	if p == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}
	if allowed, reason := s.pathPolicy.IsAllowed(p); !allowed {
		return mcp.NewToolResultError(fmt.Sprintf("read of %s blocked: %s", p, reason)), nil
	}
	client, errMsg := s.sftpClient(sessionID)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	data, truncated, err := client.ReadPreview(p, int64(mcp.ParseInt(req, "limit", 0)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"path":       p,
		"size_bytes": len(data),
		"truncated":  truncated,
	}
	if isTextData(data) {
		result["content"] = string(data)
		result["encoding"] = "utf-8"
	} else {
		result["content"] = base64.StdEncoding.EncodeToString(data)
		result["encoding"] = "base64"
	}
	return jsonResult(result)
}

// isTextData reports whether data can travel as a plain string.
func isTextData(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}
