package ethrpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
)

// Chain is the channel-contract boundary a PeerAccount drives: build, sign,
// submit, and confirm each of the four contract operations, plus the
// read-only fetch and fee-estimation primitives. It combines
// ethchannel.Contract (typed calls) with Executor (submission/confirmation)
// under a single signing key.
type Chain interface {
	Open(ctx context.Context, channelID ethchannel.ChannelID, receiver common.Address, disputePeriod uint64, valueWei *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, channelID ethchannel.ChannelID, valueWei *big.Int) (common.Hash, error)
	Claim(ctx context.Context, channelID ethchannel.ChannelID, value *big.Int, sig []byte) (common.Hash, error)
	StartDispute(ctx context.Context, channelID ethchannel.ChannelID) (common.Hash, error)
	Fetch(ctx context.Context, channelID ethchannel.ChannelID) (ethchannel.OnChainChannel, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	AwaitConfirmations(ctx context.Context, txHash common.Hash, confirmations uint64) (*gethtypes.Receipt, error)
	// CurrentBlock reports the chain's current head height, used to decide
	// whether a channel's disputedUntil deadline has elapsed.
	CurrentBlock(ctx context.Context) (uint64, error)
}

// chainClient is the Chain implementation: it signs transactions built
// against the channel contract with bind.NewKeyedTransactorWithChainID
// wrapped around an ethwallet.Account's private key.
type chainClient struct {
	contract *ethchannel.Contract
	executor *Executor
	account  *ethwallet.Account
	chainID  *big.Int
	backend  bind.ContractBackend
}

// NewChain wires an ethchannel.Contract and an Executor over the same
// backend into a Chain signed by account.
func NewChain(contract *ethchannel.Contract, executor *Executor, backend bind.ContractBackend, account *ethwallet.Account, chainID *big.Int) Chain {
	return &chainClient{contract: contract, executor: executor, account: account, chainID: chainID, backend: backend}
}

func (c *chainClient) transactOpts(ctx context.Context, valueWei *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.account.PrivateKey(), c.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "building transactor")
	}
	opts.Context = ctx
	if valueWei != nil {
		opts.Value = valueWei
	}
	return opts, nil
}

func (c *chainClient) submit(ctx context.Context, tx *gethtypes.Transaction, err error) (common.Hash, error) {
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.executor.Submit(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (c *chainClient) Open(ctx context.Context, channelID ethchannel.ChannelID, receiver common.Address, disputePeriod uint64, valueWei *big.Int) (common.Hash, error) {
	opts, err := c.transactOpts(ctx, valueWei)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.contract.Open(opts, channelID, receiver, new(big.Int).SetUint64(disputePeriod))
	return c.submit(ctx, tx, err)
}

func (c *chainClient) Deposit(ctx context.Context, channelID ethchannel.ChannelID, valueWei *big.Int) (common.Hash, error) {
	opts, err := c.transactOpts(ctx, valueWei)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.contract.Deposit(opts, channelID)
	return c.submit(ctx, tx, err)
}

func (c *chainClient) Claim(ctx context.Context, channelID ethchannel.ChannelID, value *big.Int, sig []byte) (common.Hash, error) {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.contract.Claim(opts, channelID, value, sig)
	return c.submit(ctx, tx, err)
}

func (c *chainClient) StartDispute(ctx context.Context, channelID ethchannel.ChannelID) (common.Hash, error) {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.contract.StartDispute(opts, channelID)
	return c.submit(ctx, tx, err)
}

func (c *chainClient) Fetch(ctx context.Context, channelID ethchannel.ChannelID) (ethchannel.OnChainChannel, error) {
	return c.contract.Fetch(ctx, channelID)
}

func (c *chainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.executor.SuggestGasPrice(ctx)
}

func (c *chainClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return c.backend.EstimateGas(ctx, call)
}

func (c *chainClient) AwaitConfirmations(ctx context.Context, txHash common.Hash, confirmations uint64) (*gethtypes.Receipt, error) {
	return c.executor.AwaitConfirmations(ctx, txHash, confirmations)
}

func (c *chainClient) CurrentBlock(ctx context.Context) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "fetching chain head")
	}
	if header == nil || header.Number == nil {
		return 0, errors.New("ethrpc: chain head missing block number")
	}
	return header.Number.Uint64(), nil
}
