// SPDX-License-Identifier: Apache-2.0

// Package ethchannel models unidirectional on-chain payment channels and the
// typed view over the channel contract that opens, funds, and redeems them.
package ethchannel

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ChannelID is the 32-byte on-chain channel identifier.
type ChannelID [32]byte

// NewRandomChannelID fills a ChannelID from the given entropy source.
func NewRandomChannelID(random func([]byte) (int, error)) (ChannelID, error) {
	var id ChannelID
	if _, err := random(id[:]); err != nil {
		return ChannelID{}, errors.Wrap(err, "generating random channel id")
	}
	return id, nil
}

// String renders the channel id as 0x-prefixed hex.
func (id ChannelID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// ChannelIDFromHex parses a 0x-prefixed, 64-hex-character channel id.
func ChannelIDFromHex(s string) (ChannelID, error) {
	b, err := decodeFixedHex(s, 32)
	if err != nil {
		return ChannelID{}, errors.Wrap(err, "parsing channel id")
	}
	var id ChannelID
	copy(id[:], b)
	return id, nil
}

func decodeFixedHex(s string, n int) ([]byte, error) {
	if len(s) < 2 || s[0:2] != "0x" {
		return nil, errors.Errorf("missing 0x prefix: %q", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, errors.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}

// OnChainChannel is the view returned by the contract's channels(id) getter.
type OnChainChannel struct {
	Sender        common.Address
	Receiver      common.Address
	Value         *big.Int
	DisputePeriod uint64
	// DisputedUntil is nil when the channel has never been disputed.
	DisputedUntil *big.Int
}

// Exists reports whether the getter returned a live channel. Contracts
// return the zero value for an unknown channel id.
func (c OnChainChannel) Exists() bool {
	return c.Sender != (common.Address{})
}

// IsDisputed reports whether the channel is presently within its dispute
// window at the given block height.
func (c OnChainChannel) IsDisputed(currentBlock uint64) bool {
	return c.DisputedUntil != nil && c.DisputedUntil.Uint64() > currentBlock
}

// PaymentChannel is the outgoing-direction cached channel view held by a
// PeerAccount's outgoing queue.
type PaymentChannel struct {
	ChannelID       ChannelID
	ContractAddress common.Address
	Sender          common.Address
	Receiver        common.Address
	Value           *big.Int // total escrowed, wei
	DisputePeriod   uint64   // blocks
	DisputedUntil   *big.Int
	Spent           *big.Int // wei, last signed value
	Signature       []byte   // optional, 65 bytes once a claim has been signed
}

// ClaimablePaymentChannel is the incoming-direction cached channel view held
// by a PeerAccount's incoming queue. Signature is required once a claim has
// been accepted.
type ClaimablePaymentChannel struct {
	ChannelID       ChannelID
	ContractAddress common.Address
	Sender          common.Address
	Receiver        common.Address
	Value           *big.Int
	DisputePeriod   uint64
	DisputedUntil   *big.Int
	Spent           *big.Int
	Signature       []byte
}

// IsDisputed reports whether the cached channel is presently disputed.
func (c *ClaimablePaymentChannel) IsDisputed(currentBlock uint64) bool {
	return c.DisputedUntil != nil && c.DisputedUntil.Uint64() > currentBlock
}
