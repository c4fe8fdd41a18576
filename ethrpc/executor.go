// SPDX-License-Identifier: Apache-2.0

// Package ethrpc is the JSON-RPC gateway a PeerAccount uses to submit
// channel-contract transactions and wait for their confirmation: the
// TxExecutor of the spec.
package ethrpc

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Backend is the subset of an Ethereum JSON-RPC client an Executor needs:
// fee estimation, submission, and confirmation polling. *ethclient.Client
// satisfies it; tests supply a fake.
type Backend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Dial opens a JSON-RPC connection to an Ethereum node, matching the
// dial-and-wrap pattern used for the oracle attester's EVM client.
func Dial(endpoint string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "dialing ethereum rpc endpoint")
	}
	return client, nil
}

// ErrTxReverted is returned when a submitted transaction is mined but its
// receipt reports failure.
var ErrTxReverted = errors.New("ethrpc: transaction reverted")

// Executor fee-estimates, submits, and awaits confirmation of
// channel-contract transactions that a Chain has already built and signed.
// It holds no signing key, so one Executor can serve several Chains.
type Executor struct {
	backend    Backend
	pollPeriod time.Duration
}

// New wraps backend in an Executor. pollPeriod governs the spacing of
// confirmation-polling retries; callers pass 0 to use the default 500ms the
// spec's retry loops use elsewhere (§4.3, §4.7).
func New(backend Backend, pollPeriod time.Duration) *Executor {
	if pollPeriod <= 0 {
		pollPeriod = 500 * time.Millisecond
	}
	return &Executor{backend: backend, pollPeriod: pollPeriod}
}

// SuggestGasPrice reports the chain's current wei/gas price.
func (e *Executor) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := e.backend.SuggestGasPrice(ctx)
	return price, errors.Wrap(err, "suggesting gas price")
}

// EstimateFee estimates the total wei fee (gasLimit * gasPrice) a call
// would cost at the current gas price.
func (e *Executor) EstimateFee(ctx context.Context, call ethereum.CallMsg) (*big.Int, error) {
	gasPrice, err := e.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit, err := e.backend.EstimateGas(ctx, call)
	if err != nil {
		return nil, errors.Wrap(err, "estimating gas limit")
	}
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit)), nil
}

// Submit broadcasts tx.
func (e *Executor) Submit(ctx context.Context, tx *types.Transaction) error {
	return errors.Wrap(e.backend.SendTransaction(ctx, tx), "submitting transaction")
}

// AwaitConfirmations blocks, polling at e.pollPeriod, until txHash has
// received at least confirmations confirmations, then returns its receipt.
// A reverted receipt is returned alongside ErrTxReverted so the caller can
// distinguish "mined but failed" from "not yet mined".
func (e *Executor) AwaitConfirmations(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error) {
	for {
		receipt, err := e.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, ErrTxReverted
			}
			confirmed, cerr := e.confirmedCount(ctx, receipt)
			if cerr != nil {
				return nil, cerr
			}
			if confirmed >= confirmations {
				return receipt, nil
			}
		} else if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrap(err, "fetching transaction receipt")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollPeriod):
		}
	}
}

func (e *Executor) confirmedCount(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "fetching chain head")
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return 0, nil
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return 0, nil
	}
	diff := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	diff.Add(diff, big.NewInt(1))
	return diff.Uint64(), nil
}
