// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// sinkWriteTimeout bounds a single sink delivery so one slow sink cannot
// stall the writer goroutine indefinitely.
const sinkWriteTimeout = 5 * time.Second

// Sink receives emitted audit events. Implementations must be safe for use
// from a single writer goroutine; they need not be idempotent, but spool
// replay delivers at-least-once, so downstream consumers should tolerate
// duplicate event IDs.
type Sink interface {
	// Name identifies the sink in metrics and logs.
	Name() string

	// Write delivers one event. A non-nil error sends the event to the
	// durable spool for redelivery.
	Write(ctx context.Context, event *Event) error
}

// Emitter is the async audit pipeline. Emit never blocks the decision path:
// events go onto a bounded channel consumed by a single writer goroutine that
// fans each event out to the configured sinks. When the channel is full, or
// when a sink rejects an event, the event is written to the durable spool
// (when configured) and redelivered on an interval; without a spool it is
// counted and dropped.
//
// Emitter is a suture service: run it under the supervision tree and it
// drains the channel within the configured budget on shutdown.
type Emitter struct {
	cfg   config.AuditConfig
	sinks []Sink
	spool *Spool

	events chan *Event
}

// NewEmitter creates an audit emitter delivering to the given sinks. The
// spool may be nil, in which case overflow and sink failures are dropped.
func NewEmitter(cfg config.AuditConfig, spool *Spool, sinks ...Sink) *Emitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	return &Emitter{
		cfg:    cfg,
		sinks:  sinks,
		spool:  spool,
		events: make(chan *Event, cfg.BufferSize),
	}
}

// Emit enqueues an event for asynchronous delivery. It fills in the ID and
// timestamp when unset and hashes the subject when privacy mode is on. Emit
// never blocks: a full buffer spills to the spool or drops.
func (e *Emitter) Emit(event *Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if e.cfg.HashSubjects && event.SubjectID != "" {
		event.SubjectID = HashSubject(event.SubjectID)
	}

	metrics.RecordAuditEvent(string(event.Type))

	select {
	case e.events <- event:
		metrics.UpdateAuditBufferDepth(len(e.events))
	default:
		e.spill(event)
	}
}

// spill persists an event that could not be buffered or delivered.
func (e *Emitter) spill(event *Event) {
	if e.spool == nil {
		metrics.RecordAuditDropped()
		logging.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Audit buffer full, dropping event")
		return
	}
	if _, err := e.spool.Write(context.Background(), event); err != nil {
		metrics.RecordAuditDropped()
		logging.Error().Err(err).Str("event_id", event.ID).Msg("Audit spool write failed, dropping event")
		return
	}
	metrics.RecordAuditSpooled()
}

// Serve runs the writer loop until ctx is canceled, then drains the buffer
// within the configured drain timeout. It implements suture.Service.
func (e *Emitter) Serve(ctx context.Context) error {
	logging.Info().
		Int("buffer_size", e.cfg.BufferSize).
		Int("sinks", len(e.sinks)).
		Bool("spool", e.spool != nil).
		Msg("Audit emitter started")

	var replay *time.Ticker
	var replayC <-chan time.Time
	if e.spool != nil {
		interval := e.cfg.SpoolRetryInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		replay = time.NewTicker(interval)
		replayC = replay.C
		defer replay.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case event := <-e.events:
			e.deliver(event)
			metrics.UpdateAuditBufferDepth(len(e.events))
		case <-replayC:
			e.replaySpool(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (e *Emitter) String() string {
	return "audit-emitter"
}

// deliver fans one event out to every sink. Any sink failure sends the event
// to the spool for redelivery.
func (e *Emitter) deliver(event *Event) {
	if e.writeSinks(event) {
		return
	}
	e.spill(event)
}

// writeSinks writes the event to every sink, reporting whether all accepted.
func (e *Emitter) writeSinks(event *Event) bool {
	ok := true
	for _, sink := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		err := sink.Write(ctx, event)
		cancel()
		if err != nil {
			ok = false
			metrics.RecordAuditSinkError(sink.Name())
			logging.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("event_id", event.ID).
				Msg("Audit sink rejected event")
		}
	}
	return ok
}

// replaySpool redelivers pending spooled events, confirming each one that
// every sink accepts.
func (e *Emitter) replaySpool(ctx context.Context) {
	entries, err := e.spool.Pending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Audit spool read failed")
		return
	}
	metrics.UpdateAuditSpoolPending(len(entries))

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !e.writeSinks(entry.Event) {
			continue
		}
		if err := e.spool.Confirm(ctx, entry.ID); err != nil {
			logging.Warn().Err(err).Str("entry_id", entry.ID).Msg("Audit spool confirm failed")
			continue
		}
		metrics.RecordAuditReplayed()
	}
}

// drain flushes buffered events within the drain timeout. Events still
// buffered when the budget expires spill to the spool.
func (e *Emitter) drain() {
	deadline := time.Now().Add(e.cfg.DrainTimeout)
	for {
		select {
		case event := <-e.events:
			if time.Now().After(deadline) {
				e.spill(event)
				continue
			}
			e.deliver(event)
		default:
			metrics.UpdateAuditBufferDepth(0)
			logging.Info().Msg("Audit emitter drained")
			return
		}
	}
}
