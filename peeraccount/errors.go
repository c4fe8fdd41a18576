// SPDX-License-Identifier: Apache-2.0

package peeraccount

import "errors"

var (
	// ErrNoLinkedAddress is returned when an outgoing channel operation
	// needs the peer's payout address but the info sub-protocol has not
	// yet supplied one.
	ErrNoLinkedAddress = errors.New("peeraccount: peer has not linked an ethereum address")
	// ErrAddressAlreadyLinked describes a peer's attempt to rebind its
	// linked address to a different value. HandleInfo does not return it:
	// such an attempt is logged and ignored, per spec §4.2.
	ErrAddressAlreadyLinked = errors.New("peeraccount: peer address already linked to a different value")
	// ErrFeeRejected is returned when the configured authorize callback
	// declines a transaction's estimated fee.
	ErrFeeRejected = errors.New("peeraccount: fee authorization rejected")
	// ErrChannelStillPropagating is returned when a bounded retry loop
	// exhausts its attempts waiting for a channel or deposit to appear
	// on-chain.
	ErrChannelStillPropagating = errors.New("peeraccount: channel not yet visible on chain")
	// ErrDuplicateChannelLink is returned when a channel id is already
	// owned by a different account in the store, per spec §4.5 case A
	// step 7 / invariant 4.
	ErrDuplicateChannelLink = errors.New("peeraccount: channel already linked to a different account")
	// ErrWrongContract is returned when a claim names a contract other
	// than the one this account is configured to redeem against.
	ErrWrongContract = errors.New("peeraccount: claim names wrong contract address")
	// ErrNotReceiver is returned when the channel's on-chain receiver is
	// not this account's own address.
	ErrNotReceiver = errors.New("peeraccount: channel receiver is not our address")
	// ErrDisputePeriodTooShort is returned when an incoming channel's
	// dispute period is below the configured minimum.
	ErrDisputePeriodTooShort = errors.New("peeraccount: incoming channel dispute period too short")
	// ErrChannelMismatch is returned when a claim's channel id does not
	// match the cached incoming channel.
	ErrChannelMismatch = errors.New("peeraccount: claim channel id does not match cached channel")
	// ErrChannelGone is returned when a cached channel has vanished from
	// the chain view.
	ErrChannelGone = errors.New("peeraccount: channel no longer exists on chain")
	// ErrNotDisputed is used internally to abort claimIfProfitable when it
	// was called with requireDisputed=true and the channel is not
	// presently disputed.
	ErrNotDisputed = errors.New("peeraccount: channel is not disputed")
	// ErrUnprofitable is returned when claimIfProfitable's fee gate
	// rejects a claim transaction absent caller authorization.
	ErrUnprofitable = errors.New("peeraccount: claim fee exceeds spent value")
	// ErrNothingToClaim is returned when claimIfProfitable has no cached
	// signature to redeem.
	ErrNothingToClaim = errors.New("peeraccount: no signed claim cached for this channel")
)
