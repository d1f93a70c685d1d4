// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("source", "plex").Msg("Webhook received")

	out := buf.String()
	if !strings.Contains(out, `"source":"plex"`) {
		t.Errorf("Expected structured field in output, got: %s", out)
	}
	if !strings.Contains(out, `"message":"Webhook received"`) {
		t.Errorf("Expected message in output, got: %s", out)
	}
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Debug().Msg("should not appear")
	Info().Msg("should not appear either")

	if buf.Len() != 0 {
		t.Errorf("Expected no output below error level, got: %s", buf.String())
	}

	Error().Msg("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("Expected error output, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCtxAddsCorrelationAndRequestIDs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithRequestID(ctx, "req-1")

	Ctx(ctx).Info().Msg("with ids")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"abc12345"`) {
		t.Errorf("Expected correlation_id field, got: %s", out)
	}
	if !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("Expected request_id field, got: %s", out)
	}
}

func TestCtxWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Ctx(context.Background()).Info().Msg("plain")

	out := buf.String()
	if strings.Contains(out, "correlation_id") {
		t.Errorf("Expected no correlation_id field, got: %s", out)
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	t.Parallel()

	id := GenerateCorrelationID()
	if len(id) != 8 {
		t.Errorf("Expected 8-character correlation ID, got %q", id)
	}

	if GenerateCorrelationID() == id {
		t.Error("Expected unique correlation IDs")
	}
}
