// SPDX-License-Identifier: Apache-2.0

package ethchannel

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// channelContractABI is the minimal ABI surface this process consumes:
// open, deposit, claim, startDispute, and the channels view.
const channelContractABI = `[
	{"type":"function","name":"open","stateMutability":"payable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"receiver","type":"address"},
		{"name":"disputePeriod","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[
		{"name":"channelId","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"value","type":"uint256"},
		{"name":"signature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"startDispute","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"channels","stateMutability":"view","inputs":[
		{"name":"channelId","type":"bytes32"}
	],"outputs":[
		{"name":"sender","type":"address"},
		{"name":"receiver","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"disputePeriod","type":"uint256"},
		{"name":"disputedUntil","type":"uint256"}
	]}
]`

// Contract is a thin typed view over the on-chain channel contract: open,
// deposit, claim, startDispute, and fetch(channelId). It builds unsigned
// transactions and decodes view calls; submission, fee estimation, and
// confirmation waiting belong to the ethrpc TxExecutor.
type Contract struct {
	address common.Address
	bound   *bind.BoundContract
}

// NewContract parses the channel contract ABI and binds it to address over
// backend.
func NewContract(address common.Address, backend bind.ContractBackend) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(channelContractABI))
	if err != nil {
		return nil, errors.Wrap(err, "parsing channel contract ABI")
	}
	return &Contract{
		address: address,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the contract's on-chain address.
func (c *Contract) Address() common.Address {
	return c.address
}

// Open builds the transaction opening a new channel, escrowing
// opts.Value wei for receiver, redeemable after disputePeriod blocks of
// dispute.
func (c *Contract) Open(opts *bind.TransactOpts, channelID ChannelID, receiver common.Address, disputePeriod *big.Int) (*types.Transaction, error) {
	tx, err := c.bound.Transact(opts, "open", channelID, receiver, disputePeriod)
	return tx, errors.Wrap(err, "building open transaction")
}

// Deposit builds the transaction adding opts.Value wei of escrow to an
// existing channel.
func (c *Contract) Deposit(opts *bind.TransactOpts, channelID ChannelID) (*types.Transaction, error) {
	tx, err := c.bound.Transact(opts, "deposit", channelID)
	return tx, errors.Wrap(err, "building deposit transaction")
}

// Claim builds the transaction redeeming value wei against signature.
func (c *Contract) Claim(opts *bind.TransactOpts, channelID ChannelID, value *big.Int, signature []byte) (*types.Transaction, error) {
	tx, err := c.bound.Transact(opts, "claim", channelID, value, signature)
	return tx, errors.Wrap(err, "building claim transaction")
}

// StartDispute builds the transaction a sender uses to begin reclaiming
// escrow after the dispute period elapses.
func (c *Contract) StartDispute(opts *bind.TransactOpts, channelID ChannelID) (*types.Transaction, error) {
	tx, err := c.bound.Transact(opts, "startDispute", channelID)
	return tx, errors.Wrap(err, "building startDispute transaction")
}

// Channels fetches the current on-chain state of channelID. A channel that
// has never been opened decodes as the zero OnChainChannel; callers should
// check Exists().
func (c *Contract) Channels(ctx context.Context, channelID ChannelID) (OnChainChannel, error) {
	var out struct {
		Sender        common.Address
		Receiver      common.Address
		Value         *big.Int
		DisputePeriod *big.Int
		DisputedUntil *big.Int
	}
	opts := &bind.CallOpts{Context: ctx}
	results := []interface{}{&out}
	if err := c.bound.Call(opts, &results, "channels", channelID); err != nil {
		return OnChainChannel{}, errors.Wrap(err, "calling channels")
	}

	channel := OnChainChannel{
		Sender:        out.Sender,
		Receiver:      out.Receiver,
		Value:         out.Value,
		DisputePeriod: out.DisputePeriod.Uint64(),
	}
	if out.DisputedUntil != nil && out.DisputedUntil.Sign() > 0 {
		channel.DisputedUntil = out.DisputedUntil
	}
	return channel, nil
}

// Fetch is Channels, returning ErrChannelNotFound instead of a zero-value
// channel when the contract has no record of channelID.
func (c *Contract) Fetch(ctx context.Context, channelID ChannelID) (OnChainChannel, error) {
	channel, err := c.Channels(ctx, channelID)
	if err != nil {
		return OnChainChannel{}, err
	}
	if !channel.Exists() {
		return OnChainChannel{}, ErrChannelNotFound
	}
	return channel, nil
}
