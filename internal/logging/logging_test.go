// ABOUTME: Tests for logger construction and custom levels
// ABOUTME: Verifies level parsing, filtering and level labels in both formats

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":    LevelTrace,
		"debug":    slog.LevelDebug,
		"info":     slog.LevelInfo,
		"WARN":     slog.LevelWarn,
		"error":    slog.LevelError,
		"critical": LevelCritical,
		"":         slog.LevelInfo,
		"verbose":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "TRC", LevelName(LevelTrace))
	assert.Equal(t, "DBG", LevelName(slog.LevelDebug))
	assert.Equal(t, "INF", LevelName(slog.LevelInfo))
	assert.Equal(t, "WRN", LevelName(slog.LevelWarn))
	assert.Equal(t, "ERR", LevelName(slog.LevelError))
	assert.Equal(t, "CRT", LevelName(LevelCritical))
}

func TestNew_TextFiltersAndLabels(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := New("info", "text", &buf)
	ctx := context.Background()

	logger.Log(ctx, LevelTrace, "gateway.main_agent.ensure.start")
	logger.With("component", "lifecycle").Log(ctx, LevelCritical,
		"gateway.main_agent.provision_failed_unexpected", "error_type", "*errors.errorString")

	out := buf.String()
	assert.NotContains(t, out, "ensure.start")
	assert.Contains(t, out, "CRT gateway.main_agent.provision_failed_unexpected")
	assert.Contains(t, out, "component=lifecycle")
	assert.Contains(t, out, "error_type=*errors.errorString")
}

func TestNew_TextGroups(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	New("debug", "text", &buf).WithGroup("rpc").Debug("call", "method", "agents.list")

	assert.Contains(t, buf.String(), "rpc.method=agents.list")
}

func TestNew_JSONLevelNames(t *testing.T) {
	var buf bytes.Buffer
	logger := New("trace", "json", &buf)
	logger.Log(context.Background(), LevelTrace, "gateway.templates.sync.start", "gateway_id", "gw-1")

	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "TRC", rec["level"])
	assert.Equal(t, "gateway.templates.sync.start", rec["msg"])
	assert.Equal(t, "gw-1", rec["gateway_id"])
}
