package peeraccount

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
)

func newTestParams() Params {
	return Params{
		OutgoingChannelAmountGwei: big.NewInt(1_000_000),
		OutgoingDisputePeriod:     10,
		MinIncomingDisputePeriod:  5,
		MaxPacketAmountGwei:       big.NewInt(1_000),
		MaxBalanceGwei:            big.NewInt(1_000_000),
		ChannelWatcherInterval:    time.Hour,
		Confirmations:             1,
	}
}

func newTestAccount(t *testing.T, transport *fakeTransport, chain *fakeChain, st *memStore) *PeerAccount {
	t.Helper()
	acc, err := ethwallet.GenerateAccount()
	require.NoError(t, err)
	contract := common.HexToAddress("0xC0FFEE")
	return New("bob", transport, chain, acc, contract, st, newTestParams(), WithRandomSource(alwaysReadRandom))
}

func TestNewAccountStartsAtZeroBalances(t *testing.T) {
	a := newTestAccount(t, newFakeTransport(), newFakeChain(), newMemStore())

	require.Equal(t, int64(0), a.Receivable().Int64())
	require.Equal(t, int64(0), a.Payable().Int64())
	require.Equal(t, int64(0), a.PayoutAmount().Int64())
	require.False(t, a.IncomingSnapshot().Present())
	require.False(t, a.OutgoingSnapshot().Present())

	_, ok := a.LinkedAddress()
	require.False(t, ok)
}

func TestUnloadDeletesSnapshotAndStopsWatcher(t *testing.T) {
	st := newMemStore()
	a := newTestAccount(t, newFakeTransport(), newFakeChain(), st)
	a.PersistNow()

	_, ok, err := st.Get("bob:account")
	require.NoError(t, err)
	require.True(t, ok)

	a.ensureWatcherRunning()
	a.Unload()

	_, ok, err = st.Get("bob:account")
	require.NoError(t, err)
	require.False(t, ok)

	a.watcherMu.Lock()
	cancel := a.watcherCancel
	a.watcherMu.Unlock()
	require.Nil(t, cancel)
}

func TestRegisterMoneyHandlerFires(t *testing.T) {
	a := newTestAccount(t, newFakeTransport(), newFakeChain(), newMemStore())

	var gotAmount *big.Int
	done := make(chan struct{})
	a.RegisterMoneyHandler(func(ctx context.Context, from btp.Address, amount *big.Int) {
		gotAmount = amount
		close(done)
	})

	a.fireMoneyHandler(context.Background(), big.NewInt(42))
	<-done
	require.Equal(t, int64(42), gotAmount.Int64())
}
