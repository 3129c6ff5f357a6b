package mcp

const (
	serverName    = "termbridge"
	serverVersion = "1.0.0"

	// defaultClientID is the session owner used when a request does not
	// carry one. Over stdio there is normally a single caller.
	defaultClientID = "mcp"
)

// Shared tool parameter descriptions and error messages.
const (
	descSessionID  = "The session ID"
	descClientID   = "Caller identity owning the session (defaults to 'mcp')"
	descTransferID = "The transfer ID"
	descHost       = "Remote host name or address"
	descPort       = "SSH port (default: 22)"
	descUser       = "SSH username"
	descPassword   = "Password, base64-encoded"
	descKeyPath    = "Path to a private key file"
	descPassphrase = "Passphrase for an encrypted private key"
	descUseAgent   = "Try the SSH agent before other authentication methods"
	descUseSaved   = "Fill missing credentials from the OS keyring"

	errSessionIDRequired  = "session_id is required"
	errTransferIDRequired = "transfer_id is required"
	errPathRequired       = "path is required"
	errHostRequired       = "host is required"
	errUserRequired       = "user is required"
)
