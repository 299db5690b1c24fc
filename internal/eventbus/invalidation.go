// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// invalidationEnvelope is the wire format for one invalidated tag.
type invalidationEnvelope struct {
	Tag    string    `json:"tag"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Publisher fans invalidated cache tags out to peer processes. It satisfies
// the tiered cache's invalidation seam.
type Publisher struct {
	bus    Bus
	topic  string
	origin string
}

// NewPublisher creates an invalidation publisher. Origin identifies this
// process so the paired Consumer ignores its own messages; pass the same
// value to both.
func NewPublisher(bus Bus, topic, origin string) *Publisher {
	if origin == "" {
		origin = uuid.New().String()
	}
	return &Publisher{bus: bus, topic: topic, origin: origin}
}

// Origin returns the process identifier carried on published invalidations.
func (p *Publisher) Origin() string {
	return p.origin
}

// PublishInvalidation implements cache.InvalidationPublisher.
func (p *Publisher) PublishInvalidation(ctx context.Context, tag string) error {
	payload, err := json.Marshal(invalidationEnvelope{
		Tag:    tag,
		Origin: p.origin,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}

	err = p.bus.Publish(p.topic, message.NewMessage(uuid.New().String(), payload))
	metrics.RecordBusPublish(p.topic, err)
	if err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// LocalDropper is the slice of the tiered cache the consumer needs: dropping
// tagged entries from this process's in-process tier only.
type LocalDropper interface {
	DropLocal(tag string) int
}

// Consumer applies peer invalidations to the local cache tier. It is a
// suture service.
type Consumer struct {
	bus    Bus
	topic  string
	origin string
	cache  LocalDropper
}

// NewConsumer creates an invalidation consumer. Origin must match the paired
// Publisher's so self-published invalidations are skipped; the publishing
// process already dropped its own entries synchronously.
func NewConsumer(bus Bus, topic, origin string, cache LocalDropper) *Consumer {
	return &Consumer{bus: bus, topic: topic, origin: origin, cache: cache}
}

// Serve consumes invalidations until ctx is canceled. It implements
// suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.bus.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	logging.Info().Str("topic", c.topic).Msg("Invalidation consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("invalidation subscription closed")
			}
			c.handle(msg)
		}
	}
}

// String names the service in supervisor logs.
func (c *Consumer) String() string {
	return "invalidation-consumer"
}

// handle applies one invalidation message. Malformed messages are acked and
// dropped; redelivering them cannot make them parse.
func (c *Consumer) handle(msg *message.Message) {
	defer msg.Ack()

	var env invalidationEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Malformed invalidation message")
		return
	}
	if env.Origin == c.origin {
		return
	}

	dropped := c.cache.DropLocal(env.Tag)
	metrics.RecordBusConsumed(c.topic)
	logging.Debug().
		Str("tag", env.Tag).
		Str("origin", env.Origin).
		Int("dropped", dropped).
		Msg("Peer invalidation applied")
}
