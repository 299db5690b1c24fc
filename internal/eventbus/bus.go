// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Bus is the transport carrying invalidation fan-out and the audit stream.
// Both the in-process gochannel bus and the NATS JetStream bus satisfy it.
type Bus interface {
	// Publish sends messages to a topic.
	Publish(topic string, messages ...*message.Message) error

	// Subscribe returns a channel of messages for a topic. The channel
	// closes when ctx is canceled or the bus is closed. Consumers must Ack
	// or Nack every message.
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)

	// Close shuts the bus down.
	Close() error
}
