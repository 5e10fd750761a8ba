package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		debug     bool
		wantJSON  bool
		wantDebug bool
	}{
		{"text info", FormatText, false, false, false},
		{"json debug", FormatJSON, true, true, true},
		{"uppercase json", "JSON", false, true, false},
		{"unknown falls back to text", "yaml", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.format, tt.debug)
			logger.Debug("debug line")
			logger.Info("info line")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "debug line"))
			assert.Equal(t, tt.wantJSON, strings.HasPrefix(out, "{"), out)
		})
	}
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := WithTool(WithOperation(NewLogger(&buf, FormatJSON, false), "chat"), "search_emails")
	logger.Info("hello", Round(2), StopReason("tool_use"), Err(nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "chat", line[KeyOperation])
	assert.Equal(t, "search_emails", line[KeyTool])
	assert.Equal(t, "tool_use", line[KeyStopReason])
	assert.EqualValues(t, 2, line[KeyRound])
	assert.NotContains(t, line, KeyError, "nil errors are omitted")
}

func TestAttributes(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"operation", Operation("login"), KeyOperation, "login"},
		{"tool", Tool("list_attachments"), KeyTool, "list_attachments"},
		{"status", Status(StatusError), KeyStatus, StatusError},
		{"request id", RequestID("req-1"), KeyRequestID, "req-1"},
		{"error", Err(errors.New("boom")), KeyError, "boom"},
		{"domain", Domain("jane@example.com"), "user_domain", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.value, tt.attr.Value.String())
		})
	}
}

func TestAnonymizeEmail(t *testing.T) {
	assert.Empty(t, AnonymizeEmail(""))

	hashed := AnonymizeEmail("jane@example.com")
	assert.Len(t, hashed, len("user:")+16)
	assert.True(t, strings.HasPrefix(hashed, "user:"))
	assert.NotContains(t, hashed, "jane")

	assert.Equal(t, hashed, AnonymizeEmail("jane@example.com"), "deterministic")
	assert.NotEqual(t, hashed, AnonymizeEmail("john@example.com"))

	attr := UserHash("jane@example.com")
	assert.Equal(t, KeyUserHash, attr.Key)
	assert.Equal(t, hashed, attr.Value.String())
}

func TestSession(t *testing.T) {
	attr := Session("secret-session-id")
	assert.Equal(t, KeySession, attr.Key)
	assert.NotContains(t, attr.Value.String(), "secret-session-id")
	assert.True(t, strings.HasPrefix(attr.Value.String(), "sess:"))
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	assert.Equal(t, "[token:6 chars]", SanitizeToken("abc123"))
	assert.NotContains(t, SanitizeToken("ya29.secret"), "secret")
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"jane@example.com": "example.com",
		"invalid":          "",
		"":                 "",
		"@":                "",
		"user@":            "",
		"@example.com":     "",
		"a@b@c":            "",
	}

	for email, want := range tests {
		t.Run(email, func(t *testing.T) {
			assert.Equal(t, want, ExtractDomain(email))
		})
	}
}
