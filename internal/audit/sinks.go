// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package audit

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/claviger-project/claviger/internal/breaker"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// LogSink writes events to the structured log. It never fails, so events
// routed only here are never spooled.
type LogSink struct{}

// NewLogSink creates the structured-log sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Write implements Sink.
func (s *LogSink) Write(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to marshal audit event")
		return nil
	}
	logging.Info().RawJSON("event", data).Msg("Audit event")
	return nil
}

// StoreSink persists events through a Store, typically the DuckDB store that
// also serves the audit query API.
type StoreSink struct {
	store Store
}

// NewStoreSink creates a sink backed by the given store.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

// Name implements Sink.
func (s *StoreSink) Name() string { return "store" }

// Write implements Sink.
func (s *StoreSink) Write(ctx context.Context, event *Event) error {
	if err := s.store.Save(ctx, event); err != nil {
		return fmt.Errorf("store sink save: %w", err)
	}
	return nil
}

// BusPublisher is the slice of the event bus the bus sink needs. Satisfied by
// watermill publishers (NATS JetStream or the in-process channel bus).
type BusPublisher interface {
	Publish(topic string, messages ...*message.Message) error
}

// BusSink publishes events on the event bus so external consumers can tail
// the decision stream. Publishes run through a circuit breaker: when the
// broker is down the breaker opens, Write fails fast, and events take the
// spool path instead of queueing behind a dead connection.
type BusSink struct {
	pub   BusPublisher
	topic string
	br    *breaker.Breaker
}

// NewBusSink creates a breaker-wrapped event bus sink publishing on topic.
func NewBusSink(pub BusPublisher, topic string, br *breaker.Breaker) *BusSink {
	return &BusSink{pub: pub, topic: topic, br: br}
}

// Name implements Sink.
func (s *BusSink) Name() string { return "bus" }

// Write implements Sink.
func (s *BusSink) Write(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus sink marshal: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	if event.CorrelationID != "" {
		msg.Metadata.Set("correlation_id", event.CorrelationID)
	}

	err = s.br.Execute(ctx, func(ctx context.Context) error {
		return s.pub.Publish(s.topic, msg)
	})
	metrics.RecordBusPublish(s.topic, err)
	if err != nil {
		return fmt.Errorf("bus sink publish: %w", err)
	}
	return nil
}
