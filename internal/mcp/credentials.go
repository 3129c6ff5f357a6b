package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/termbridge/termbridge/internal/security"
	"github.com/termbridge/termbridge/internal/sshconn"
)

// Credential tool definitions

func saveCredentialTool() mcp.Tool {
	return mcp.NewTool("save_credential",
		mcp.WithDescription("Store a password or key passphrase in the OS keyring"),
		mcp.WithString("user", mcp.Required(), mcp.Description(descUser)),
		mcp.WithString("host", mcp.Required(), mcp.Description(descHost)),
		mcp.WithNumber("port", mcp.Description(descPort)),
		mcp.WithString("kind",
			mcp.DefaultString("password"),
			mcp.Description("What to store: password or passphrase"),
		),
		mcp.WithString("secret", mcp.Required(), mcp.Description("The secret, base64-encoded")),
	)
}

func forgetCredentialTool() mcp.Tool {
	return mcp.NewTool("forget_credential",
		mcp.WithDescription("Remove stored credentials for a host from the OS keyring"),
		mcp.WithString("user", mcp.Required(), mcp.Description(descUser)),
		mcp.WithString("host", mcp.Required(), mcp.Description(descHost)),
		mcp.WithNumber("port", mcp.Description(descPort)),
		mcp.WithString("kind",
			mcp.DefaultString("all"),
			mcp.Description("What to remove: password, passphrase or all"),
		),
	)
}

// Credential tool handlers

func (s *Server) handleSaveCredential(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user := mcp.ParseString(req, "user", "")
	if user == "" {
		return mcp.NewToolResultError(errUserRequired), nil
	}
	host := mcp.ParseString(req, "host", "")
	if host == "" {
		return mcp.NewToolResultError(errHostRequired), nil
	}
	port := mcp.ParseInt(req, "port", 22)

	encoded := mcp.ParseString(req, "secret", "")
	if encoded == "" {
		return mcp.NewToolResultError("secret is required"), nil
	}
	secret := []byte(sshconn.DecodePassword(encoded))
	defer security.WipeBytes(secret)

	var err error
	kind := mcp.ParseString(req, "kind", "password")
	switch kind {
	case "password":
		err = s.creds.SavePassword(user, host, port, secret)
	case "passphrase":
		err = s.creds.SavePassphrase(user, host, port, secret)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown credential kind %q", kind)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Credential saved for %s@%s:%d", user, host, port)), nil
}

func (s *Server) handleForgetCredential(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user := mcp.ParseString(req, "user", "")
	if user == "" {
		return mcp.NewToolResultError(errUserRequired), nil
	}
	host := mcp.ParseString(req, "host", "")
	if host == "" {
		return mcp.NewToolResultError(errHostRequired), nil
	}
	port := mcp.ParseInt(req, "port", 22)

	var err error
	kind := mcp.ParseString(req, "kind", "all")
	switch kind {
	case "password":
		err = s.creds.DeletePassword(user, host, port)
	case "passphrase":
		err = s.creds.DeletePassphrase(user, host, port)
	case "all":
		err = s.creds.Forget(user, host, port)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown credential kind %q", kind)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Credentials forgotten for %s@%s:%d", user, host, port)), nil
}
