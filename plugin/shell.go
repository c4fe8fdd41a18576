// SPDX-License-Identifier: Apache-2.0

// Package plugin is the BTP-transport-facing shell: it multiplexes one
// underlying btp.Transport across many per-peer PeerAccount instances,
// lazily creating an account the first time a given BTP address is seen
// (mini-accounts-style address routing), and exposes the single
// registerDataHandler/registerMoneyHandler surface a local ILP connector
// wires into.
package plugin

import (
	"context"
	"log"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethrpc"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/peeraccount"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/store"
)

// DataHandler is the shell's own connector-facing callback: a PREPARE
// arriving from the named peer, forwarded to the local ILP connector.
type DataHandler func(ctx context.Context, from btp.Address, prepare []byte) ([]byte, error)

// MoneyHandler is the shell's own connector-facing callback: a validated
// incoming claim from the named peer increased the amount owed to us.
type MoneyHandler func(ctx context.Context, from btp.Address, amountGwei *big.Int)

// AccountDispatcher resolves a BTP address to its PeerAccount, creating
// one on first contact. Shell is the concrete implementation; the
// interface exists so a caller can substitute a test double.
type AccountDispatcher interface {
	Account(ctx context.Context, addr btp.Address) (*peeraccount.PeerAccount, error)
}

// ShellOption configures a Shell at construction.
type ShellOption func(*Shell)

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) ShellOption {
	return func(s *Shell) { s.logger = l }
}

// WithAuthorize installs the fee-authorization callback passed through to
// every PeerAccount this shell creates.
func WithAuthorize(fn peeraccount.AuthorizeFunc) ShellOption {
	return func(s *Shell) { s.authorize = fn }
}

// Shell is the mini-accounts address→account router named in spec §1/§6:
// one shared transport, one chain client, one signing wallet, and a
// lazily populated map of per-peer PeerAccount instances.
type Shell struct {
	transport       btp.Transport
	chain           ethrpc.Chain
	wallet          *ethwallet.Account
	contractAddress common.Address
	store           store.Store
	params          peeraccount.Params
	authorize       peeraccount.AuthorizeFunc
	logger          *log.Logger

	mu       sync.Mutex
	accounts map[btp.Address]*peeraccount.PeerAccount

	handlerMu    sync.RWMutex
	dataHandler  DataHandler
	moneyHandler MoneyHandler
}

// NewShell wires a Shell over the given transport, installing itself as
// the transport's sole data handler and demultiplexing every inbound
// batch to the originating peer's PeerAccount.
func NewShell(transport btp.Transport, chain ethrpc.Chain, wallet *ethwallet.Account, contractAddress common.Address, st store.Store, params peeraccount.Params, opts ...ShellOption) *Shell {
	s := &Shell{
		transport:       transport,
		chain:           chain,
		wallet:          wallet,
		contractAddress: contractAddress,
		store:           st,
		params:          params,
		authorize:       func(context.Context, *big.Int) error { return nil },
		logger:          log.New(os.Stderr, "plugin ", log.LstdFlags),
		accounts:        make(map[btp.Address]*peeraccount.PeerAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	transport.RegisterDataHandler(s.handleData)
	return s
}

// RegisterDataHandler installs the connector-facing PREPARE handler.
func (s *Shell) RegisterDataHandler(fn DataHandler) {
	s.handlerMu.Lock()
	s.dataHandler = fn
	s.handlerMu.Unlock()
}

// RegisterMoneyHandler installs the connector-facing settlement callback.
func (s *Shell) RegisterMoneyHandler(fn MoneyHandler) {
	s.handlerMu.Lock()
	s.moneyHandler = fn
	s.handlerMu.Unlock()
}

// Account resolves addr to its PeerAccount, creating and wiring a fresh
// one (restored from the store, if a snapshot exists) on first contact.
func (s *Shell) Account(ctx context.Context, addr btp.Address) (*peeraccount.PeerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[addr]; ok {
		return a, nil
	}

	scoped := &scopedTransport{underlying: s.transport, peer: addr}
	a, err := peeraccount.Load(
		string(addr), scoped, s.chain, s.wallet, s.contractAddress, s.store, s.params,
		peeraccount.WithAuthorize(s.authorize),
		peeraccount.WithDataHandler(func(ctx context.Context, prepare []byte) ([]byte, error) {
			return s.fireDataHandler(ctx, addr, prepare)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "plugin: loading account %q", addr)
	}
	a.RegisterMoneyHandler(func(ctx context.Context, _ btp.Address, amountGwei *big.Int) {
		s.fireMoneyHandler(ctx, addr, amountGwei)
	})
	s.accounts[addr] = a
	return a, nil
}

func (s *Shell) fireDataHandler(ctx context.Context, from btp.Address, prepare []byte) ([]byte, error) {
	s.handlerMu.RLock()
	fn := s.dataHandler
	s.handlerMu.RUnlock()
	if fn == nil {
		return nil, errors.New("plugin: no data handler registered")
	}
	return fn(ctx, from, prepare)
}

func (s *Shell) fireMoneyHandler(ctx context.Context, from btp.Address, amountGwei *big.Int) {
	s.handlerMu.RLock()
	fn := s.moneyHandler
	s.handlerMu.RUnlock()
	if fn == nil {
		return
	}
	fn(ctx, from, amountGwei)
}

func (s *Shell) handleData(ctx context.Context, from btp.Address, msgs []btp.Message) ([]btp.Message, error) {
	account, err := s.Account(ctx, from)
	if err != nil {
		return nil, errors.Wrapf(err, "plugin: dispatching to %q", from)
	}
	return account.HandleMessages(ctx, msgs)
}

// Disconnect unloads every account this shell has created, stopping their
// watchers and dropping their queue listeners, per spec §3's lifecycle.
func (s *Shell) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, a := range s.accounts {
		a.Unload()
		delete(s.accounts, addr)
	}
	return nil
}

// scopedTransport adapts a Shell's single underlying transport to the
// single-peer btp.Transport shape a PeerAccount expects, binding every
// outbound SendMessage to one fixed destination. RegisterDataHandler/
// RegisterMoneyHandler are no-ops: the Shell alone is the transport's
// registrant, dispatching inbound traffic itself via handleData.
type scopedTransport struct {
	underlying btp.Transport
	peer       btp.Address
}

func (t *scopedTransport) SendMessage(ctx context.Context, _ btp.Address, msgs []btp.Message) ([]btp.Message, error) {
	return t.underlying.SendMessage(ctx, t.peer, msgs)
}

func (t *scopedTransport) RegisterDataHandler(btp.Handler) {}

func (t *scopedTransport) RegisterMoneyHandler(btp.MoneyHandler) {}

func (t *scopedTransport) MoneyHandler() btp.MoneyHandler { return nil }
