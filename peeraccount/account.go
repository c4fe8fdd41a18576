package peeraccount

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethrpc"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/reducerqueue"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/store"
)

// AuthorizeFunc gates a transaction's estimated fee. It returns a non-nil
// error to reject.
type AuthorizeFunc func(ctx context.Context, feeWei *big.Int) error

// alwaysAuthorize is the default AuthorizeFunc when none is configured:
// every fee is accepted.
func alwaysAuthorize(context.Context, *big.Int) error { return nil }

// Params are the per-account settlement parameters sourced from spec §6's
// configuration table.
type Params struct {
	OutgoingChannelAmountGwei *big.Int
	OutgoingDisputePeriod     uint64
	MinIncomingDisputePeriod  uint64
	MaxPacketAmountGwei       *big.Int
	MaxBalanceGwei            *big.Int
	ChannelWatcherInterval    time.Duration
	Confirmations             uint64
}

// DataHandler forwards a PREPARE received from the peer to the local ILP
// connector and returns its FULFILL/REJECT reply, per spec §4.8.
type DataHandler func(ctx context.Context, prepare []byte) ([]byte, error)

// PeerAccount is the per-peer settlement state machine: balances, linked
// payout address, incoming/outgoing channel queues, and watcher handle,
// per spec §3.
type PeerAccount struct {
	name            string
	transport       btp.Transport
	chain           ethrpc.Chain
	wallet          *ethwallet.Account
	contractAddress common.Address
	store           store.Store
	params          Params
	authorize       AuthorizeFunc
	codec           ethchannel.ClaimCodec
	random          func([]byte) (int, error)
	logger          *log.Logger

	balanceMu  sync.Mutex
	receivable *big.Int
	payable    *big.Int
	payout     *big.Int
	ethAddress *common.Address

	incoming *reducerqueue.Queue[IncomingChannel]
	outgoing *reducerqueue.Queue[OutgoingChannel]

	watcherMu     sync.Mutex
	watcherCancel context.CancelFunc

	dataHandler DataHandler

	moneyHandlerMu sync.RWMutex
	moneyHandler   btp.MoneyHandler
}

// Option configures a PeerAccount at construction.
type Option func(*PeerAccount)

// WithAuthorize installs the fee-authorization callback used by outgoing
// channel funding (open and deposit).
func WithAuthorize(fn AuthorizeFunc) Option {
	return func(a *PeerAccount) { a.authorize = fn }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(a *PeerAccount) { a.logger = l }
}

// WithRandomSource overrides crypto/rand-backed channel id generation, for
// deterministic tests.
func WithRandomSource(fn func([]byte) (int, error)) Option {
	return func(a *PeerAccount) { a.random = fn }
}

// WithDataHandler installs the local PREPARE-forwarding target.
func WithDataHandler(fn DataHandler) Option {
	return func(a *PeerAccount) { a.dataHandler = fn }
}

// New creates a PeerAccount for accountName, freshly seeded (zero
// balances, no linked address, no cached channels). Callers restoring a
// persisted account should use Load instead.
func New(name string, transport btp.Transport, chain ethrpc.Chain, wallet *ethwallet.Account, contractAddress common.Address, st store.Store, params Params, opts ...Option) *PeerAccount {
	return newAccount(name, transport, chain, wallet, contractAddress, st, params, seed{
		receivable: big.NewInt(0),
		payable:    big.NewInt(0),
		payout:     big.NewInt(0),
		incoming:   NoIncomingChannel(),
		outgoing:   NoOutgoingChannel(),
	}, opts...)
}

// seed is the initial balance/channel state a PeerAccount is constructed
// with, shared by New (all zero) and Load (restored from a snapshot).
type seed struct {
	receivable, payable, payout *big.Int
	ethAddress                  *common.Address
	incoming                    IncomingChannel
	outgoing                    OutgoingChannel
}

func newAccount(name string, transport btp.Transport, chain ethrpc.Chain, wallet *ethwallet.Account, contractAddress common.Address, st store.Store, params Params, s seed, opts ...Option) *PeerAccount {
	a := &PeerAccount{
		name:            name,
		transport:       transport,
		chain:           chain,
		wallet:          wallet,
		contractAddress: contractAddress,
		store:           st,
		params:          params,
		authorize:       alwaysAuthorize,
		random:          rand.Read,
		logger:          log.New(os.Stderr, "peeraccount["+name+"] ", log.LstdFlags),
		receivable:      s.receivable,
		payable:         s.payable,
		payout:          s.payout,
		ethAddress:      s.ethAddress,
		incoming:        reducerqueue.New[IncomingChannel](s.incoming),
		outgoing:        reducerqueue.New[OutgoingChannel](s.outgoing),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.incoming.Subscribe(func(IncomingChannel) { a.persist() })
	a.outgoing.Subscribe(func(OutgoingChannel) { a.persist() })

	return a
}

// Name returns the ILP-address-derived account name.
func (a *PeerAccount) Name() string { return a.name }

// LinkedAddress returns the peer's payout address, if one has been linked.
func (a *PeerAccount) LinkedAddress() (common.Address, bool) {
	a.balanceMu.Lock()
	defer a.balanceMu.Unlock()
	if a.ethAddress == nil {
		return common.Address{}, false
	}
	return *a.ethAddress, true
}

// Receivable returns the current receivable balance in gwei.
func (a *PeerAccount) Receivable() *big.Int {
	a.balanceMu.Lock()
	defer a.balanceMu.Unlock()
	return new(big.Int).Set(a.receivable)
}

// Payable returns the current payable balance in gwei.
func (a *PeerAccount) Payable() *big.Int {
	a.balanceMu.Lock()
	defer a.balanceMu.Unlock()
	return new(big.Int).Set(a.payable)
}

// PayoutAmount returns the current payout backlog in gwei.
func (a *PeerAccount) PayoutAmount() *big.Int {
	a.balanceMu.Lock()
	defer a.balanceMu.Unlock()
	return new(big.Int).Set(a.payout)
}

// IncomingSnapshot returns the incoming queue's current cached state,
// which may be stale relative to an in-flight reduction.
func (a *PeerAccount) IncomingSnapshot() IncomingChannel {
	return a.incoming.Snapshot()
}

// OutgoingSnapshot returns the outgoing queue's current cached state,
// which may be stale relative to an in-flight reduction.
func (a *PeerAccount) OutgoingSnapshot() OutgoingChannel {
	return a.outgoing.Snapshot()
}

// RegisterMoneyHandler installs the callback fired when a validated
// incoming claim increases the amount owed to us.
func (a *PeerAccount) RegisterMoneyHandler(fn btp.MoneyHandler) {
	a.moneyHandlerMu.Lock()
	a.moneyHandler = fn
	a.moneyHandlerMu.Unlock()
}

func (a *PeerAccount) fireMoneyHandler(ctx context.Context, amountGwei *big.Int) {
	a.moneyHandlerMu.RLock()
	fn := a.moneyHandler
	a.moneyHandlerMu.RUnlock()
	if fn == nil {
		return
	}
	fn(ctx, btp.Address(a.name), amountGwei)
}

// Unload stops the watcher, drops queue listeners, and removes the
// account's snapshot from the store, per spec §3's lifecycle and §5's
// cancellation rules. In-flight reducers run to completion. Dropping the
// listeners stops the snapshot writes that queue events trigger, but
// persist() has no unloaded check: a reducer or handler still in flight
// that calls persist() directly writes the snapshot to the store again.
func (a *PeerAccount) Unload() {
	a.stopWatcher()
	a.incoming.RemoveAllListeners()
	a.outgoing.RemoveAllListeners()
	a.incoming.Clear()
	a.outgoing.Clear()
	if err := a.store.Delete(a.name + ":account"); err != nil {
		a.logger.Printf("unload: deleting account snapshot: %v", err)
	}
}

// mutateBalances mutates the three balance fields under the coarse account
// lock, matching spec §5's "per-account coarse lock" discipline: the lock
// is held only across the mutation itself, never across a suspension
// point.
func (a *PeerAccount) mutateBalances(fn func(receivable, payable, payout *big.Int)) {
	a.balanceMu.Lock()
	defer a.balanceMu.Unlock()
	fn(a.receivable, a.payable, a.payout)
}

func (a *PeerAccount) logf(format string, args ...interface{}) {
	a.logger.Printf(format, args...)
}
