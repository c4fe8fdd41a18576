package peeraccount

import (
	"context"
	"math/big"
	"strings"

	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/reducerqueue"
)

// HandleClaim parses a machinomy sub-protocol payload and enqueues the
// claim-validation reducer at PriorityValidateClaim, per spec §4.5.
func (a *PeerAccount) HandleClaim(payload []byte) *reducerqueue.Future[IncomingChannel] {
	claim, err := a.codec.Unmarshal(payload)
	if err != nil {
		return a.incoming.Add(func(ctx context.Context, state IncomingChannel) (IncomingChannel, error) {
			return state, err
		}, PriorityValidateClaim)
	}
	return a.incoming.Add(func(ctx context.Context, state IncomingChannel) (IncomingChannel, error) {
		return a.validateClaimReducer(ctx, state, claim)
	}, PriorityValidateClaim)
}

func (a *PeerAccount) validateClaimReducer(ctx context.Context, state IncomingChannel, claim ethchannel.Claim) (IncomingChannel, error) {
	if claim.Value.Sign() < 0 {
		return state, ethchannel.ErrNegativeValue
	}

	cached, hadCached := state.Get()
	var onChain ethchannel.OnChainChannel
	var err error

	if !hadCached {
		onChain, err = a.fetchWithRetry(ctx, claim.ChannelID)
		if err != nil {
			return state, err
		}
		if err := a.admitNewIncomingChannel(claim, onChain); err != nil {
			return state, err
		}
	} else {
		if claim.ChannelID != cached.ChannelID {
			return state, ErrChannelMismatch
		}
		onChain, err = a.refreshForClaim(ctx, cached, claim)
		if err != nil {
			return state, err
		}
		signer, err := a.codec.Verify(claim)
		if err != nil {
			return state, err
		}
		if !strings.EqualFold(signer.Hex(), onChain.Sender.Hex()) {
			return state, ethchannel.ErrInvalidSignature
		}
	}

	cachedSpent := big.NewInt(0)
	if hadCached && cached.Spent != nil {
		cachedSpent = cached.Spent
	}
	capped := claim.Value
	if onChain.Value != nil && onChain.Value.Cmp(capped) < 0 {
		capped = onChain.Value
	}
	increment := new(big.Int).Sub(capped, cachedSpent)

	if increment.Sign() <= 0 {
		if !hadCached {
			// A brand-new channel whose first claim is 0 or a regression:
			// still link it (proof of ownership), just credit nothing.
			a.ensureWatcherRunning()
			return SomeIncomingChannel(ethchannel.ClaimablePaymentChannel{
				ChannelID:       claim.ChannelID,
				ContractAddress: claim.ContractAddress,
				Sender:          onChain.Sender,
				Receiver:        onChain.Receiver,
				Value:           onChain.Value,
				DisputePeriod:   onChain.DisputePeriod,
				DisputedUntil:   onChain.DisputedUntil,
				Spent:           cachedSpent,
				Signature:       claim.Signature,
			}), nil
		}
		// Replay or regression against a cached channel: ignore, keep
		// cached state unchanged (spec §4.5 closing paragraph).
		return state, nil
	}

	amountGwei := WeiToGwei(increment)
	a.mutateBalances(func(receivable, payable, payout *big.Int) {
		receivable.Sub(receivable, amountGwei)
	})
	a.persist()
	if amountGwei.Sign() > 0 {
		a.fireMoneyHandler(ctx, amountGwei)
	}

	a.ensureWatcherRunning()

	return SomeIncomingChannel(ethchannel.ClaimablePaymentChannel{
		ChannelID:       claim.ChannelID,
		ContractAddress: claim.ContractAddress,
		Sender:          onChain.Sender,
		Receiver:        onChain.Receiver,
		Value:           onChain.Value,
		DisputePeriod:   onChain.DisputePeriod,
		DisputedUntil:   onChain.DisputedUntil,
		Spent:           claim.Value,
		Signature:       claim.Signature,
	}), nil
}

// admitNewIncomingChannel runs spec §4.5 case A steps 2-8: the checks
// performed the first time a claim names a channel this account has not
// seen before.
func (a *PeerAccount) admitNewIncomingChannel(claim ethchannel.Claim, onChain ethchannel.OnChainChannel) error {
	if !strings.EqualFold(claim.ContractAddress.Hex(), a.contractAddress.Hex()) {
		return ErrWrongContract
	}
	signer, err := a.codec.Verify(claim)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer.Hex(), onChain.Sender.Hex()) {
		return ethchannel.ErrInvalidSignature
	}
	if !strings.EqualFold(onChain.Receiver.Hex(), a.wallet.Address().Hex()) {
		return ErrNotReceiver
	}
	if onChain.DisputePeriod < a.params.MinIncomingDisputePeriod {
		return ErrDisputePeriodTooShort
	}

	key := claim.ChannelID.String() + ":incoming-channel"
	existing, ok, err := a.store.Get(key)
	if err != nil {
		return errors.Wrap(err, "reading channel ownership record")
	}
	if ok && string(existing) != a.name {
		return ErrDuplicateChannelLink
	}
	if !ok {
		if err := a.store.Put(key, []byte(a.name)); err != nil {
			return errors.Wrap(err, "writing channel ownership record")
		}
	}
	return nil
}

// fetchWithRetry polls the chain for channelID until it appears, up to
// chainRetryAttempts times, for the propagation window in spec §4.5 case A
// step 1.
func (a *PeerAccount) fetchWithRetry(ctx context.Context, channelID ethchannel.ChannelID) (ethchannel.OnChainChannel, error) {
	var last error
	for i := 0; i < chainRetryAttempts; i++ {
		ch, err := a.chain.Fetch(ctx, channelID)
		if err == nil {
			return ch, nil
		}
		last = err
		if err := sleepOrDone(ctx, chainRetryDelay); err != nil {
			return ethchannel.OnChainChannel{}, err
		}
	}
	return ethchannel.OnChainChannel{}, errors.Wrap(ErrChannelStillPropagating, last.Error())
}

// refreshForClaim implements spec §4.5 case B steps 1-3: only re-fetch the
// chain view when the claim asserts a value above the cached channel's
// capacity (a deposit may have landed), and retry while the chain has not
// yet caught up.
func (a *PeerAccount) refreshForClaim(ctx context.Context, cached ethchannel.ClaimablePaymentChannel, claim ethchannel.Claim) (ethchannel.OnChainChannel, error) {
	if cached.Value == nil || claim.Value.Cmp(cached.Value) <= 0 {
		return ethchannel.OnChainChannel{
			Sender:        cached.Sender,
			Receiver:      cached.Receiver,
			Value:         cached.Value,
			DisputePeriod: cached.DisputePeriod,
			DisputedUntil: cached.DisputedUntil,
		}, nil
	}

	for i := 0; i < chainRetryAttempts; i++ {
		onChain, err := a.chain.Fetch(ctx, cached.ChannelID)
		if err != nil {
			return ethchannel.OnChainChannel{}, ErrChannelGone
		}
		if onChain.Value != nil && onChain.Value.Cmp(claim.Value) >= 0 {
			return onChain, nil
		}
		if err := sleepOrDone(ctx, chainRetryDelay); err != nil {
			return ethchannel.OnChainChannel{}, err
		}
	}
	return ethchannel.OnChainChannel{}, ErrChannelStillPropagating
}
