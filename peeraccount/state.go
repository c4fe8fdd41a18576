// SPDX-License-Identifier: Apache-2.0

// Package peeraccount implements the per-peer settlement state machine:
// balances, linked payout address, the incoming/outgoing claim pipelines,
// channel lifecycle management, and the dispute watcher, all serialized
// through a pair of reducerqueue.Queue instances per spec §4/§5.
package peeraccount

import (
	"math/big"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
)

// Queue priorities, per spec §4.5-§4.7: a pending claim preempts new
// validations; validations preempt routine watcher polls.
const (
	PriorityDefault        = 0
	PriorityValidateClaim  = 1
	PriorityChannelWatcher = 2
	PriorityClaimChannel   = 3
)

// weiPerGwei is 10^9, the fixed-point scale between the wei amounts the
// chain speaks and the gwei amounts this engine's balances are tracked in.
var weiPerGwei = big.NewInt(1_000_000_000)

// GweiToWei converts a gwei amount to wei.
func GweiToWei(gwei *big.Int) *big.Int {
	return new(big.Int).Mul(gwei, weiPerGwei)
}

// WeiToGwei floors a wei amount down to whole gwei, per spec §4.4/§4.5's
// "floor(increment / 10^9)".
func WeiToGwei(wei *big.Int) *big.Int {
	return new(big.Int).Div(wei, weiPerGwei)
}

// OutgoingChannel is the tagged "no channel yet" / "channel present"
// variant spec §9 calls for in place of a nullable reference, covering the
// outgoing direction.
type OutgoingChannel struct {
	channel *ethchannel.PaymentChannel
}

// NoOutgoingChannel is the empty variant: no channel cached yet.
func NoOutgoingChannel() OutgoingChannel { return OutgoingChannel{} }

// SomeOutgoingChannel wraps a cached outgoing channel.
func SomeOutgoingChannel(ch ethchannel.PaymentChannel) OutgoingChannel {
	return OutgoingChannel{channel: &ch}
}

// Present reports whether a channel is cached.
func (o OutgoingChannel) Present() bool { return o.channel != nil }

// Get returns the cached channel and whether one was present.
func (o OutgoingChannel) Get() (ethchannel.PaymentChannel, bool) {
	if o.channel == nil {
		return ethchannel.PaymentChannel{}, false
	}
	return *o.channel, true
}

// IncomingChannel is the incoming-direction counterpart of OutgoingChannel.
type IncomingChannel struct {
	channel *ethchannel.ClaimablePaymentChannel
}

// NoIncomingChannel is the empty variant: no channel linked yet.
func NoIncomingChannel() IncomingChannel { return IncomingChannel{} }

// SomeIncomingChannel wraps a cached incoming channel.
func SomeIncomingChannel(ch ethchannel.ClaimablePaymentChannel) IncomingChannel {
	return IncomingChannel{channel: &ch}
}

// Present reports whether a channel is linked.
func (i IncomingChannel) Present() bool { return i.channel != nil }

// Get returns the cached channel and whether one was present.
func (i IncomingChannel) Get() (ethchannel.ClaimablePaymentChannel, bool) {
	if i.channel == nil {
		return ethchannel.ClaimablePaymentChannel{}, false
	}
	return *i.channel, true
}
