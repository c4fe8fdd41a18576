package peeraccount

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
)

// ensureWatcherRunning starts the periodic dispute-detection task if it is
// not already running, per spec §4.6: the watcher is started lazily once
// an incoming claim has been linked.
func (a *PeerAccount) ensureWatcherRunning() {
	a.watcherMu.Lock()
	defer a.watcherMu.Unlock()
	if a.watcherCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.watcherCancel = cancel
	go a.watchLoop(ctx)
}

// stopWatcher cancels the periodic task, if running. Safe to call when no
// watcher is running.
func (a *PeerAccount) stopWatcher() {
	a.watcherMu.Lock()
	defer a.watcherMu.Unlock()
	if a.watcherCancel != nil {
		a.watcherCancel()
		a.watcherCancel = nil
	}
}

func (a *PeerAccount) watchLoop(ctx context.Context) {
	interval := a.params.ChannelWatcherInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fut := a.incoming.Add(a.watcherTickReducer, PriorityChannelWatcher)
			state, err := fut.Wait(ctx)
			if err != nil {
				// Errors in periodic watcher reductions are logged and do
				// not cancel the timer, per spec §7.
				a.logf("watcher: tick reduction failed: %v", err)
				continue
			}
			if !state.Present() {
				a.stopWatcher()
				return
			}
		}
	}
}

// watcherTickReducer implements spec §4.6's per-tick body: refresh the
// channel, and if disputed, schedule a profitable claim without awaiting
// it.
func (a *PeerAccount) watcherTickReducer(ctx context.Context, state IncomingChannel) (IncomingChannel, error) {
	ch, ok := state.Get()
	if !ok {
		return state, nil
	}

	onChain, err := a.chain.Fetch(ctx, ch.ChannelID)
	if err != nil {
		if errors.Is(err, ethchannel.ErrChannelNotFound) {
			return NoIncomingChannel(), nil
		}
		return state, err
	}
	ch.Value = onChain.Value
	ch.DisputedUntil = onChain.DisputedUntil
	ch.DisputePeriod = onChain.DisputePeriod

	disputed, err := a.isDisputed(ctx, ch)
	if err != nil {
		return SomeIncomingChannel(ch), err
	}
	if disputed {
		a.incoming.Add(func(ctx context.Context, state IncomingChannel) (IncomingChannel, error) {
			return a.claimIfProfitableReducer(ctx, state, true, nil)
		}, PriorityClaimChannel)
	}

	return SomeIncomingChannel(ch), nil
}

func (a *PeerAccount) isDisputed(ctx context.Context, ch ethchannel.ClaimablePaymentChannel) (bool, error) {
	if ch.DisputedUntil == nil {
		return false, nil
	}
	block, err := a.chain.CurrentBlock(ctx)
	if err != nil {
		return false, errors.Wrap(err, "fetching current block")
	}
	return ch.DisputedUntil.Uint64() > block, nil
}

// ClaimIfProfitable enqueues the §4.7 profitability-gated redemption at
// PriorityClaimChannel. authorize, if non-nil, makes this claim's fee
// decision; if nil, the claim is abandoned when the fee is at least the
// spent value. The account's WithAuthorize callback is not consulted.
func (a *PeerAccount) ClaimIfProfitable(requireDisputed bool, authorize AuthorizeFunc) {
	a.incoming.Add(func(ctx context.Context, state IncomingChannel) (IncomingChannel, error) {
		return a.claimIfProfitableReducer(ctx, state, requireDisputed, authorize)
	}, PriorityClaimChannel)
}

// claimIfProfitableReducer implements spec §4.7.
func (a *PeerAccount) claimIfProfitableReducer(ctx context.Context, state IncomingChannel, requireDisputed bool, authorize AuthorizeFunc) (IncomingChannel, error) {
	ch, ok := state.Get()
	if !ok || len(ch.Signature) == 0 {
		return state, ErrNothingToClaim
	}

	onChain, err := a.chain.Fetch(ctx, ch.ChannelID)
	if err != nil {
		if errors.Is(err, ethchannel.ErrChannelNotFound) {
			return NoIncomingChannel(), nil
		}
		return state, err
	}
	ch.Value = onChain.Value
	ch.DisputedUntil = onChain.DisputedUntil

	if requireDisputed {
		disputed, err := a.isDisputed(ctx, ch)
		if err != nil {
			return SomeIncomingChannel(ch), err
		}
		if !disputed {
			return SomeIncomingChannel(ch), ErrNotDisputed
		}
	}

	fee, err := a.estimateFee(ctx)
	if err != nil {
		return SomeIncomingChannel(ch), err
	}

	authorizeFn := authorize
	if authorizeFn != nil {
		if err := authorizeFn(ctx, fee); err != nil {
			return SomeIncomingChannel(ch), errors.Wrap(ErrFeeRejected, err.Error())
		}
	} else if fee.Cmp(ch.Spent) >= 0 {
		return SomeIncomingChannel(ch), ErrUnprofitable
	}

	txHash, err := a.chain.Claim(ctx, ch.ChannelID, ch.Spent, ch.Signature)
	if err != nil {
		return SomeIncomingChannel(ch), errors.Wrap(err, "submitting claim")
	}
	if _, err := a.chain.AwaitConfirmations(ctx, txHash, a.params.Confirmations); err != nil {
		return SomeIncomingChannel(ch), errors.Wrap(err, "awaiting claim confirmation")
	}

	for i := 0; i < chainRetryAttempts; i++ {
		if _, err := a.chain.Fetch(ctx, ch.ChannelID); err != nil {
			if errors.Is(err, ethchannel.ErrChannelNotFound) {
				return NoIncomingChannel(), nil
			}
		}
		if err := sleepOrDone(ctx, chainRetryDelay); err != nil {
			return NoIncomingChannel(), err
		}
	}
	return NoIncomingChannel(), nil
}
