package ethrpc

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	gasPrice     *big.Int
	gasLimit     uint64
	receipts     map[common.Hash]*types.Receipt
	receiptAfter map[common.Hash]int
	calls        map[common.Hash]int
	head         uint64
	sendErr      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		gasPrice:     big.NewInt(10),
		gasLimit:     21000,
		receipts:     make(map[common.Hash]*types.Receipt),
		receiptAfter: make(map[common.Hash]int),
		calls:        make(map[common.Hash]int),
		head:         100,
	}
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return f.gasLimit, nil
}
func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return f.sendErr
}
func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.calls[txHash]++
	if f.calls[txHash] < f.receiptAfter[txHash] {
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head)}, nil
}

func TestEstimateFeeMultipliesGasPriceByLimit(t *testing.T) {
	backend := newFakeBackend()
	exec := New(backend, time.Millisecond)

	fee, err := exec.EstimateFee(context.Background(), ethereum.CallMsg{})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(210000), fee)
}

func TestAwaitConfirmationsWaitsForRequiredDepth(t *testing.T) {
	backend := newFakeBackend()
	backend.head = 100
	hash := common.HexToHash("0x01")
	backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(99)}

	exec := New(backend, time.Millisecond)
	receipt, err := exec.AwaitConfirmations(context.Background(), hash, 2)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestAwaitConfirmationsReturnsRevertedError(t *testing.T) {
	backend := newFakeBackend()
	hash := common.HexToHash("0x02")
	backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(100)}

	exec := New(backend, time.Millisecond)
	receipt, err := exec.AwaitConfirmations(context.Background(), hash, 1)
	require.ErrorIs(t, err, ErrTxReverted)
	require.NotNil(t, receipt)
}

func TestAwaitConfirmationsRetriesUntilMined(t *testing.T) {
	backend := newFakeBackend()
	hash := common.HexToHash("0x03")
	backend.receiptAfter[hash] = 3
	backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}

	exec := New(backend, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	receipt, err := exec.AwaitConfirmations(ctx, hash, 1)
	require.NoError(t, err)
	require.NotNil(t, receipt)
}
