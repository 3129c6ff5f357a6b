package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

// newLogger returns a sanitizing logger writing JSON into the buffer.
func newLogger(sanitize bool) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewSanitizingHandler(inner, sanitize)), &buf
}

// record decodes the single JSON line the test logged.
func record(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("log output is not one JSON record: %v\nraw: %s", err, buf.String())
	}
	return out
}

// --- redaction ---

func TestHandle_RedactsCredentialKeys(t *testing.T) {
	cases := []struct {
		key    string
		redact bool
	}{
		{"password", true},
		{"passphrase", true},
		{"secret", true},
		{"token", true},
		{"key", true},
		{"credential", true},
		{"auth", true},
		{"Password", true},          // case folds
		{"key_passphrase", true},    // substring
		{"private_key_path", true},  // paths to keys stay private too
		{"github_token", true},      // substring at the tail
		{"host", false},
		{"username", false},
		{"session_id", false},
	}

	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			logger, buf := newLogger(true)
			logger.Info("probe", slog.String(tc.key, "hunter2"))

			got := record(t, buf)[tc.key]
			if tc.redact && got != redacted {
				t.Errorf("%q logged as %v, want %q", tc.key, got, redacted)
			}
			if !tc.redact && got != "hunter2" {
				t.Errorf("%q logged as %v, want the original value", tc.key, got)
			}
		})
	}
}

func TestHandle_MixedAttrsKeepNonCredentials(t *testing.T) {
	logger, buf := newLogger(true)

	logger.Info("session open",
		slog.String("username", "deploy"),
		slog.String("password", "s3cr3t"),
		slog.String("host", "db-1.internal"),
	)

	out := record(t, buf)
	if out["username"] != "deploy" || out["host"] != "db-1.internal" {
		t.Errorf("ordinary attrs mangled: %v", out)
	}
	if out["password"] != redacted {
		t.Errorf("password logged as %v", out["password"])
	}
}

func TestHandle_PassThroughWhenDisabled(t *testing.T) {
	logger, buf := newLogger(false)

	logger.Info("probe", slog.String("password", "plaintext"))

	if got := record(t, buf)["password"]; got != "plaintext" {
		t.Errorf("sanitize=false still rewrote the value: %v", got)
	}
}

func TestHandle_RedactsInsideGroups(t *testing.T) {
	logger, buf := newLogger(true)

	logger.Info("connecting",
		slog.Group("target",
			slog.String("host", "gw.example.com"),
			slog.String("password", "s3cr3t"),
		),
	)

	target, ok := record(t, buf)["target"].(map[string]any)
	if !ok {
		t.Fatalf("no target group in output: %s", buf.String())
	}
	if target["host"] != "gw.example.com" {
		t.Errorf("group host = %v", target["host"])
	}
	if target["password"] != redacted {
		t.Errorf("group password = %v", target["password"])
	}
}

// --- handler plumbing ---

func TestEnabled_FollowsInnerLevel(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewSanitizingHandler(inner, true)

	ctx := context.Background()
	for level, want := range map[slog.Level]bool{
		slog.LevelDebug: false,
		slog.LevelInfo:  false,
		slog.LevelWarn:  true,
		slog.LevelError: true,
	} {
		if got := h.Enabled(ctx, level); got != want {
			t.Errorf("Enabled(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestWithAttrs_RedactsPreboundAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := NewSanitizingHandler(inner, true)

	bound := h.WithAttrs([]slog.Attr{
		slog.String("password", "s3cr3t"),
		slog.String("username", "deploy"),
	})
	slog.New(bound).Info("probe")

	out := record(t, &buf)
	if out["password"] != redacted {
		t.Errorf("prebound password = %v", out["password"])
	}
	if out["username"] != "deploy" {
		t.Errorf("prebound username = %v", out["username"])
	}
}

func TestWithGroup_StillRedacts(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := NewSanitizingHandler(inner, true)

	logger := slog.New(h.WithGroup("ssh"))
	logger.Info("connecting",
		slog.String("host", "gw.example.com"),
		slog.String("password", "s3cr3t"),
	)

	ssh, ok := record(t, &buf)["ssh"].(map[string]any)
	if !ok {
		t.Fatalf("no ssh group in output: %s", buf.String())
	}
	if ssh["password"] != redacted {
		t.Errorf("grouped password = %v", ssh["password"])
	}
	if ssh["host"] != "gw.example.com" {
		t.Errorf("grouped host = %v", ssh["host"])
	}
}

// --- setup ---

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetup_LevelControlsDefaultLogger(t *testing.T) {
	Setup("warn", true)

	h := slog.Default().Handler()
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled after Setup(warn)")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn disabled after Setup(warn)")
	}
}

func TestSetupWriter_RoutesAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "info", true)

	slog.Info("hello", slog.String("password", "s3cr3t"))

	out := record(t, &buf)
	if out["msg"] != "hello" {
		t.Errorf("msg = %v", out["msg"])
	}
	if out["password"] != redacted {
		t.Errorf("password through default logger = %v", out["password"])
	}
}
