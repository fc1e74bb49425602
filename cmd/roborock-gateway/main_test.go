// ABOUTME: Tests for CLI flag parsing and the color log handler
// ABOUTME: Covers flag forms, unknown flags, and attribute rendering

package main

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	fs, err := parseFlags([]string{"get_status", "--url", "http://gw:8080", "--token=abc", "{}"}, "url", "token")
	require.NoError(t, err)
	assert.Equal(t, "http://gw:8080", fs.get("url", ""))
	assert.Equal(t, "abc", fs.get("token", ""))
	assert.Equal(t, "fallback", fs.get("limit", "fallback"))
	assert.Equal(t, []string{"get_status", "{}"}, fs.positional)

	_, err = parseFlags([]string{"--bogus", "x"}, "url")
	assert.ErrorContains(t, err, "unknown flag")

	_, err = parseFlags([]string{"--url"}, "url")
	assert.ErrorContains(t, err, "requires a value")
}

func TestGatewayBaseURL_FlagWins(t *testing.T) {
	t.Setenv(envGatewayURL, "http://from-env:1")
	fs, err := parseFlags([]string{"--url", "http://from-flag:2/"}, "url")
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag:2", gatewayBaseURL(fs))

	fs, err = parseFlags(nil, "url")
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:1", gatewayBaseURL(fs))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := slog.New(&colorHandler{mu: &sync.Mutex{}, out: &buf, level: slog.LevelInfo})

	logger.Debug("hidden")
	logger.With("component", "vacuum").WithGroup("cmd").Warn("command failed", "name", "app_start")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN command failed")
	assert.Contains(t, out, "component=vacuum")
	assert.Contains(t, out, "cmd.name=app_start")
}

func TestYes(t *testing.T) {
	assert.True(t, yes("Y"))
	assert.True(t, yes(" yes "))
	assert.False(t, yes("no"))
	assert.False(t, yes(""))
}

func TestIndentJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", indentJSON(`{"a":1}`))
	assert.Equal(t, "not json", indentJSON("not json"))
}
