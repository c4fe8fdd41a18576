// SPDX-License-Identifier: Apache-2.0

package ethchannel

import "errors"

var (
	// ErrChannelNotFound is returned when the contract has no channel
	// recorded for a given id.
	ErrChannelNotFound = errors.New("ethchannel: channel not found")
	// ErrInvalidSignature is returned when a claim's signature does not
	// recover to the channel's on-chain sender.
	ErrInvalidSignature = errors.New("ethchannel: invalid claim signature")
	// ErrWrongContract is returned when a claim names a different
	// contract than the one this process is configured for.
	ErrWrongContract = errors.New("ethchannel: claim names wrong contract")
	// ErrNegativeValue is returned when a claim's value parses as negative.
	ErrNegativeValue = errors.New("ethchannel: negative claim value")
	// ErrMalformedClaim is returned by the codec for structurally invalid
	// wire claims.
	ErrMalformedClaim = errors.New("ethchannel: malformed claim")
)
