package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/termbridge/termbridge/internal/recovery"
	"github.com/termbridge/termbridge/internal/transfer"
)

// maxInlinePayload caps how much file content a download may return
// directly in the tool result. Larger files need a local_path.
const maxInlinePayload = 8 << 20

// Transfer tool definitions

func uploadChunkTool() mcp.Tool {
	return mcp.NewTool("upload_chunk",
		mcp.WithDescription("Upload one chunk of a file; the final chunk pushes the reassembled file to the remote host"),
		mcp.WithString("transfer_id", mcp.Required(), mcp.Description(descTransferID)),
		mcp.WithNumber("chunk_index", mcp.Required(), mcp.Description("Zero-based chunk sequence number")),
		mcp.WithBoolean("is_last_chunk", mcp.Description("Marks the final chunk")),
		mcp.WithNumber("total_size", mcp.Description("Total file size in bytes")),
		mcp.WithString("remote_path",
			mcp.Description("Destination path on the remote host, required on the first chunk"),
		),
		mcp.WithString("data", mcp.Required(), mcp.Description("Chunk payload, base64-encoded")),
		mcp.WithString("host", mcp.Required(), mcp.Description(descHost)),
		mcp.WithNumber("port", mcp.Description(descPort)),
		mcp.WithString("user", mcp.Required(), mcp.Description(descUser)),
		mcp.WithString("password", mcp.Description(descPassword)),
		mcp.WithString("key_path", mcp.Description(descKeyPath)),
		mcp.WithString("passphrase", mcp.Description(descPassphrase)),
		mcp.WithBoolean("use_saved", mcp.Description(descUseSaved)),
	)
}

func downloadFileTool() mcp.Tool {
	return mcp.NewTool("download_file",
		mcp.WithDescription("Download a remote file, to a local path or inline as base64"),
		mcp.WithString("remote_path", mcp.Required(), mcp.Description("The remote file to download")),
		mcp.WithString("local_path",
			mcp.Description("Local destination; omit to return the content inline (small files only)"),
		),
		mcp.WithString("transfer_id",
			mcp.Description("Identifier for progress polling and cancellation; generated when omitted"),
		),
		mcp.WithString("host", mcp.Required(), mcp.Description(descHost)),
		mcp.WithNumber("port", mcp.Description(descPort)),
		mcp.WithString("user", mcp.Required(), mcp.Description(descUser)),
		mcp.WithString("password", mcp.Description(descPassword)),
		mcp.WithString("key_path", mcp.Description(descKeyPath)),
		mcp.WithString("passphrase", mcp.Description(descPassphrase)),
		mcp.WithBoolean("use_saved", mcp.Description(descUseSaved)),
	)
}

func downloadDirTool() mcp.Tool {
	return mcp.NewTool("download_dir",
		mcp.WithDescription("Mirror a remote directory tree into a local directory"),
		mcp.WithString("remote_dir", mcp.Required(), mcp.Description("The remote directory to download")),
		mcp.WithString("local_dir", mcp.Required(), mcp.Description("Local destination directory")),
		mcp.WithString("exclude",
			mcp.Description("Comma-separated glob patterns to skip, matched against paths relative to remote_dir"),
		),
		mcp.WithString("transfer_id",
			mcp.Description("Identifier for progress polling and cancellation; generated when omitted"),
		),
		mcp.WithString("host", mcp.Required(), mcp.Description(descHost)),
		mcp.WithNumber("port", mcp.Description(descPort)),
		mcp.WithString("user", mcp.Required(), mcp.Description(descUser)),
		mcp.WithString("password", mcp.Description(descPassword)),
		mcp.WithString("key_path", mcp.Description(descKeyPath)),
		mcp.WithString("passphrase", mcp.Description(descPassphrase)),
		mcp.WithBoolean("use_saved", mcp.Description(descUseSaved)),
	)
}

func transferProgressTool() mcp.Tool {
	return mcp.NewTool("transfer_progress",
		mcp.WithDescription("Report progress, speed and ETA for a transfer"),
		mcp.WithString("transfer_id", mcp.Required(), mcp.Description(descTransferID)),
	)
}

func cancelTransferTool() mcp.Tool {
	return mcp.NewTool("cancel_transfer",
		mcp.WithDescription("Cancel a transfer and discard its staged data"),
		mcp.WithString("transfer_id", mcp.Required(), mcp.Description(descTransferID)),
	)
}

// Transfer tool handlers

func (s *Server) handleUploadChunk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transferID := mcp.ParseString(req, "transfer_id", "")
	if transferID == "" {
		return mcp.NewToolResultError(errTransferIDRequired), nil
	}

	remotePath := mcp.ParseString(req, "remote_path", "")
	if remotePath != "" {
		if allowed, reason := s.pathPolicy.IsAllowed(remotePath); !allowed {
			return mcp.NewToolResultError(fmt.Sprintf("upload to %s blocked: %s", remotePath, reason)), nil
		}
	}

	params, errMsg := s.connectParams(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}
	if msg := s.authLockMessage(params); msg != "" {
		return mcp.NewToolResultError(msg), nil
	}

	ack, err := s.uploader.Put(ctx, transfer.Chunk{
		TransferID: transferID,
		Index:      mcp.ParseInt(req, "chunk_index", 0),
		IsLast:     mcp.ParseBoolean(req, "is_last_chunk", false),
		TotalSize:  int64(mcp.ParseInt(req, "total_size", 0)),
		RemotePath: remotePath,
		Data:       mcp.ParseString(req, "data", ""),
		Params:     params,
	})
	if err != nil {
		s.noteAuthFailure(params, err)
		return mcp.NewToolResultError(recovery.Annotate(err)), nil
	}

	switch ack.Outcome {
	case transfer.OutcomeCancelled:
		return jsonResult(map[string]any{
			"transfer_id": transferID,
			"status":      "cancelled",
		})
	case transfer.OutcomeCompleted:
		// Only the final chunk dials the remote, so only it proves the
		// credentials.
		s.noteAuthSuccess(params)
		return jsonResult(map[string]any{
			"transfer_id": transferID,
			"status":      "completed",
			"chunk_index": ack.Index,
			"received":    ack.Received,
			"total":       ack.Total,
		})
	default:
		result := map[string]any{
			"transfer_id": transferID,
			"status":      "chunk_received",
			"chunk_index": ack.Index,
			"received":    ack.Received,
			"total":       ack.Total,
		}
		if ack.Duplicate {
			result["duplicate"] = true
		}
		return jsonResult(result)
	}
}

func (s *Server) handleDownloadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	remotePath := mcp.ParseString(req, "remote_path", "")
	if remotePath == "" {
		return mcp.NewToolResultError("remote_path is required"), nil
	}
	if allowed, reason := s.pathPolicy.IsAllowed(remotePath); !allowed {
		return mcp.NewToolResultError(fmt.Sprintf("download of %s blocked: %s", remotePath, reason)), nil
	}

	transferID := mcp.ParseString(req, "transfer_id", "")
	if transferID == "" {
		transferID = uuid.New().String()
	}
	localPath := mcp.ParseString(req, "local_path", "")

	params, errMsg := s.connectParams(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}
	if msg := s.authLockMessage(params); msg != "" {
		return mcp.NewToolResultError(msg), nil
	}

	stream, outcome, err := s.downloader.Fetch(ctx, transferID, params, remotePath)
	if err != nil {
		s.noteAuthFailure(params, err)
		return mcp.NewToolResultError(recovery.Annotate(err)), nil
	}
	s.noteAuthSuccess(params)

	if outcome == transfer.OutcomeCancelled {
		return jsonResult(map[string]any{
			"transfer_id": transferID,
			"status":      "cancelled",
		})
	}
	defer stream.Close()

	size, err := stream.Size()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if localPath != "" {
		written, err := s.writeStreamToFile(stream, localPath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"transfer_id": transferID,
			"status":      "completed",
			"remote_path": remotePath,
			"local_path":  localPath,
			"size_bytes":  written,
			"size":        transfer.FormatBytes(written),
		})
	}

	if size > maxInlinePayload {
		return mcp.NewToolResultError(fmt.Sprintf(
			"%s is %s, too large to return inline; pass local_path",
			remotePath, transfer.FormatBytes(size),
		)), nil
	}

	var content []byte
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content = append(content, chunk...)
	}
	return jsonResult(map[string]any{
		"transfer_id":    transferID,
		"status":         "completed",
		"remote_path":    remotePath,
		"size_bytes":     size,
		"size":           transfer.FormatBytes(size),
		"content_base64": base64.StdEncoding.EncodeToString(content),
	})
}

// writeStreamToFile drains a staged download into a local file.
func (s *Server) writeStreamToFile(stream *transfer.Stream, localPath string) (int64, error) {
	if dir := filepath.Dir(localPath); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create local dir: %w", err)
		}
	}
	f, err := s.fs.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create local file: %w", err)
	}

	var written int64
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return written, err
		}
		if _, werr := f.Write(chunk); werr != nil {
			f.Close()
			return written, fmt.Errorf("write local file: %w", werr)
		}
		written += int64(len(chunk))
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close local file: %w", err)
	}
	return written, nil
}

func (s *Server) handleDownloadDir(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	remoteDir := mcp.ParseString(req, "remote_dir", "")
	if remoteDir == "" {
		return mcp.NewToolResultError("remote_dir is required"), nil
	}
	localDir := mcp.ParseString(req, "local_dir", "")
	if localDir == "" {
		return mcp.NewToolResultError("local_dir is required"), nil
	}
	if allowed, reason := s.pathPolicy.IsAllowed(remoteDir); !allowed {
		return mcp.NewToolResultError(fmt.Sprintf("download of %s blocked: %s", remoteDir, reason)), nil
	}

	transferID := mcp.ParseString(req, "transfer_id", "")
	if transferID == "" {
		transferID = uuid.New().String()
	}
	excludes := splitPatterns(mcp.ParseString(req, "exclude", ""))

	params, errMsg := s.connectParams(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}
	if msg := s.authLockMessage(params); msg != "" {
		return mcp.NewToolResultError(msg), nil
	}

	result, outcome, err := s.downloader.FetchDir(ctx, transferID, params, remoteDir, localDir, excludes)
	if err != nil {
		s.noteAuthFailure(params, err)
		return mcp.NewToolResultError(recovery.Annotate(err)), nil
	}
	s.noteAuthSuccess(params)

	status := "completed"
	if outcome == transfer.OutcomeCancelled {
		// Files already mirrored stay on disk.
		status = "cancelled"
	}
	return jsonResult(map[string]any{
		"transfer_id": transferID,
		"status":      status,
		"remote_dir":  remoteDir,
		"local_dir":   localDir,
		"files":       result.Files,
		"skipped":     result.Skipped,
		"bytes":       result.Bytes,
		"size":        transfer.FormatBytes(result.Bytes),
	})
}

func (s *Server) handleTransferProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transferID := mcp.ParseString(req, "transfer_id", "")
	if transferID == "" {
		return mcp.NewToolResultError(errTransferIDRequired), nil
	}

	snap, ok := s.transfers.Status(transferID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("transfer not found: %s", transferID)), nil
	}

	result := map[string]any{
		"transfer_id": transferID,
		"status":      string(snap.Status),
		"transferred": snap.Transferred,
		"total":       snap.Total,
		"percent":     math.Round(snap.Percent*10) / 10,
		"speed":       snap.HumanSpeed,
		"speed_bps":   math.Round(snap.Speed),
		"eta":         snap.HumanETA,
		"eta_seconds": int64(snap.ETA.Seconds()),
		"elapsed":     snap.HumanElapsed,
	}
	if snap.Direction != "" {
		result["direction"] = string(snap.Direction)
	}
	return jsonResult(result)
}

func (s *Server) handleCancelTransfer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transferID := mcp.ParseString(req, "transfer_id", "")
	if transferID == "" {
		return mcp.NewToolResultError(errTransferIDRequired), nil
	}

	// The uploader cancel path also flags the shared manager, covering
	// downloads, and discards any staged chunks.
	live := s.uploader.Cancel(transferID)

	slog.Info("transfer cancelled",
		slog.String("transfer_id", transferID),
		slog.Bool("was_active", live),
	)
	return jsonResult(map[string]any{
		"transfer_id": transferID,
		"status":      "cancelled",
		"was_active":  live,
	})
}

// splitPatterns parses a comma-separated pattern list.
func splitPatterns(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
