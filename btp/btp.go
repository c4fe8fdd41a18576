// SPDX-License-Identifier: Apache-2.0

// Package btp is the transport boundary a PeerAccount sits behind: named
// sub-protocol messages exchanged with a single peer, and the money-handler
// callback fired on validated incoming claims. The BTP framing itself (out
// of scope per spec §1) is not implemented here; Transport is the fixed
// interface a real BTP connection would satisfy.
package btp

import (
	"context"
	"math/big"
)

// Sub-protocol names and content types, per spec §6.
const (
	ProtocolInfo         = "info"
	ProtocolMachinomy    = "machinomy"
	ProtocolRequestClose = "requestClose"
	ProtocolILP          = "ilp"

	ContentTypeJSON        = "application/json"
	ContentTypeText        = "text/plain; charset=utf-8"
	ContentTypeOctetStream = "application/octet-stream"
)

// Address identifies a peer on the transport; BTP addresses are ILP
// addresses in practice, but this boundary only needs string identity.
type Address string

// Message is one BTP sub-protocol frame.
type Message struct {
	Protocol    string
	ContentType string
	Payload     []byte
}

// Handler processes an inbound batch of sub-protocol messages from a peer
// and returns the response batch.
type Handler func(ctx context.Context, from Address, msgs []Message) ([]Message, error)

// MoneyHandler is invoked after a validated incoming claim increases the
// amount owed to us, with the increment in gwei.
type MoneyHandler func(ctx context.Context, from Address, amountGwei *big.Int)

// Transport is the fixed BTP boundary for one peer connection: send a
// request and await the peer's response, and register the callbacks
// PeerAccount needs driven when a message or a settlement arrives from
// this peer.
type Transport interface {
	SendMessage(ctx context.Context, to Address, msgs []Message) ([]Message, error)
	RegisterDataHandler(Handler)
	RegisterMoneyHandler(MoneyHandler)
	// MoneyHandler returns the callback last installed by
	// RegisterMoneyHandler, or nil if none has been registered.
	MoneyHandler() MoneyHandler
}
