// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogBridge routes slog records into zerolog so libraries that require an
// *slog.Logger (sutureslog, which supervises the background services) write
// through the same pipeline as the rest of the process. Group names flatten
// into dot-joined key prefixes.
type slogBridge struct {
	log    zerolog.Logger
	prefix string
	preset []slog.Attr
}

// NewSlogLogger returns an *slog.Logger backed by the global zerolog logger.
//
//	sutureHandler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
func NewSlogLogger() *slog.Logger {
	return slog.New(newSlogBridge(Logger()))
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func newSlogBridge(log zerolog.Logger) *slogBridge {
	return &slogBridge{log: log}
}

// zerologLevel maps an slog level onto the zerolog scale. Levels between
// the named thresholds round down, matching slog's own convention that a
// handler serving LevelInfo also serves LevelInfo+1.
func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return zerologLevel(level) >= b.log.GetLevel()
}

//nolint:gocritic // slog.Record is passed by value per slog.Handler interface
func (b *slogBridge) Handle(_ context.Context, record slog.Record) error {
	ev := b.log.WithLevel(zerologLevel(record.Level))

	for _, attr := range b.preset {
		ev = b.appendAttr(ev, b.prefix, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		ev = b.appendAttr(ev, b.prefix, attr)
		return true
	})

	ev.Msg(record.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(b.preset)+len(attrs))
	merged = append(merged, b.preset...)
	merged = append(merged, attrs...)
	return &slogBridge{log: b.log, prefix: b.prefix, preset: merged}
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	return &slogBridge{log: b.log, prefix: joinKey(b.prefix, name), preset: b.preset}
}

// appendAttr writes one attribute under the accumulated prefix, expanding
// group values in place.
func (b *slogBridge) appendAttr(ev *zerolog.Event, prefix string, attr slog.Attr) *zerolog.Event {
	v := attr.Value.Resolve()

	if v.Kind() == slog.KindGroup {
		inner := joinKey(prefix, attr.Key)
		for _, ga := range v.Group() {
			ev = b.appendAttr(ev, inner, ga)
		}
		return ev
	}

	key := joinKey(prefix, attr.Key)
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	default:
		// An error left to Interface would JSON-marshal to an empty object.
		if err, ok := v.Any().(error); ok {
			return ev.AnErr(key, err)
		}
		return ev.Interface(key, v.Any())
	}
}

// joinKey concatenates prefix and key with a dot, tolerating either side
// being empty (anonymous groups, root-level attributes).
func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "." + key
	}
}
