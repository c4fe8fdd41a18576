package ethchannel

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// fakeBackend implements bind.ContractBackend just enough to exercise
// Contract.Channels: CallContract returns a canned ABI-encoded return value
// for the "channels" selector, keyed by the channel id passed in the call
// data.
type fakeBackend struct {
	channelsABI abi.ABI
	responses   map[ChannelID]OnChainChannel
}

func newFakeBackend(t *testing.T) *fakeBackend {
	parsed, err := abi.JSON(strings.NewReader(channelContractABI))
	require.NoError(t, err)
	return &fakeBackend{channelsABI: parsed, responses: make(map[ChannelID]OnChainChannel)}
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method := f.channelsABI.Methods["channels"]

	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	id := ChannelID(args[0].([32]byte))

	ch, ok := f.responses[id]
	if !ok {
		ch = OnChainChannel{}
	}
	disputedUntil := big.NewInt(0)
	if ch.DisputedUntil != nil {
		disputedUntil = ch.DisputedUntil
	}
	value := ch.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return method.Outputs.Pack(ch.Sender, ch.Receiver, value, new(big.Int).SetUint64(ch.DisputePeriod), disputedUntil)
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}
func (f *fakeBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, nil
}

func TestChannelsDecodesExistingChannel(t *testing.T) {
	backend := newFakeBackend(t)
	channelID, err := ChannelIDFromHex("0x" + repeatHex("01", 32))
	require.NoError(t, err)

	backend.responses[channelID] = OnChainChannel{
		Sender:        repeatAddress(),
		Receiver:      common.HexToAddress("0x00000000000000000000000000000000000002"),
		Value:         big.NewInt(1_000_000),
		DisputePeriod: 100,
	}

	contract, err := NewContract(common.HexToAddress("0x00000000000000000000000000000000000099"), backend)
	require.NoError(t, err)

	ch, err := contract.Fetch(context.Background(), channelID)
	require.NoError(t, err)
	require.True(t, ch.Exists())
	require.Equal(t, uint64(100), ch.DisputePeriod)
	require.Equal(t, 0, ch.Value.Cmp(big.NewInt(1_000_000)))
}

func TestFetchUnknownChannelReturnsNotFound(t *testing.T) {
	backend := newFakeBackend(t)
	channelID, err := ChannelIDFromHex("0x" + repeatHex("02", 32))
	require.NoError(t, err)

	contract, err := NewContract(common.HexToAddress("0x00000000000000000000000000000000000099"), backend)
	require.NoError(t, err)

	_, err = contract.Fetch(context.Background(), channelID)
	require.ErrorIs(t, err, ErrChannelNotFound)
}
