// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package eventbus

import (
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// inProcessBuffer bounds per-subscriber output channels so a stalled
// consumer cannot back-pressure publishers on the decision path.
const inProcessBuffer = 1024

// NewInProcess creates a broker-less bus for single-node deployments.
// Messages published with no subscriber are dropped, which matches the
// invalidation channel's semantics: a process with no peers has no one to
// notify.
func NewInProcess() Bus {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: inProcessBuffer,
		},
		NewWatermillLogger(),
	)
}
