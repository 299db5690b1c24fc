// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSlogLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	return slog.New(newSlogBridge(zerolog.New(&buf))), &buf
}

// --- Test: Enabled ---

func TestSlogBridgeEnabled(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	bridge := newSlogBridge(zerolog.New(&buf).Level(zerolog.InfoLevel))

	tests := []struct {
		name    string
		level   slog.Level
		enabled bool
	}{
		{"debug disabled at info", slog.LevelDebug, false},
		{"info enabled", slog.LevelInfo, true},
		{"warn enabled", slog.LevelWarn, true},
		{"error enabled", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bridge.Enabled(context.Background(), tt.level)
			if got != tt.enabled {
				t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.enabled)
			}
		})
	}
}

// --- Test: Handle ---

func TestSlogBridgeHandle(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	logger.Info("service started",
		slog.String("service", "tier2-cache"),
		slog.Int("attempt", 3),
		slog.Bool("healthy", true),
	)

	output := buf.String()
	for _, want := range []string{"service started", "tier2-cache", "attempt", "healthy"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output: %s", want, output)
		}
	}
}

func TestSlogBridgeLevels(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")
	logger.Error("error msg")

	output := buf.String()
	for _, want := range []string{"debug msg", "info msg", "warn msg", "error msg"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output: %s", want, output)
		}
	}
}

func TestSlogBridgeAttrKinds(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	logger.Info("kinds",
		slog.Duration("elapsed", 250*time.Millisecond),
		slog.Time("at", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		slog.Float64("ratio", 0.75),
		slog.Uint64("count", 42),
		slog.Any("err", errors.New("tier unreachable")),
	)

	output := buf.String()
	for _, want := range []string{"elapsed", "ratio", "count", "tier unreachable"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output: %s", want, output)
		}
	}
}

// --- Test: WithAttrs / WithGroup ---

func TestSlogBridgeWithAttrs(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	child := logger.With(slog.String("supervisor", "data"))
	child.Info("supervised")

	output := buf.String()
	if !strings.Contains(output, "supervisor") || !strings.Contains(output, "data") {
		t.Errorf("expected pre-set attrs in output: %s", output)
	}
}

func TestSlogBridgeWithGroup(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	// Group names flatten into dotted keys.
	grouped := logger.WithGroup("cache")
	grouped.Info("grouped", slog.String("tier", "l1"))

	output := buf.String()
	if !strings.Contains(output, "cache.tier") {
		t.Errorf("expected grouped key 'cache.tier' in output: %s", output)
	}
}

func TestSlogBridgeGroupValue(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	logger.Info("nested",
		slog.Group("decision",
			slog.String("outcome", "granted"),
			slog.Int("layer", 2),
		),
	)

	output := buf.String()
	if !strings.Contains(output, "decision.outcome") {
		t.Errorf("expected nested group key in output: %s", output)
	}
	if !strings.Contains(output, "granted") {
		t.Errorf("expected group value in output: %s", output)
	}
}

func TestSlogBridgeNestedGroupsKeepOrder(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	logger.WithGroup("outer").WithGroup("inner").Info("deep", slog.String("key", "val"))

	if output := buf.String(); !strings.Contains(output, "outer.inner.key") {
		t.Errorf("expected 'outer.inner.key' in output: %s", output)
	}
}

func TestSlogBridgeEmptyGroupName(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogLogger(t)

	same := logger.WithGroup("")
	same.Info("ungrouped", slog.String("key", "val"))

	output := buf.String()
	if !strings.Contains(output, `"key"`) {
		t.Errorf("expected unprefixed key in output: %s", output)
	}
}

// --- Test: constructor ---

func TestNewSlogLogger(t *testing.T) {
	logger := NewSlogLogger()
	if logger == nil {
		t.Fatal("expected non-nil slog logger")
	}
	// Must not panic when used.
	logger.Info("via global zerolog")
}
