package peeraccount

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
)

// memStore is an in-memory store.Store for tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// fakeTransport is an in-memory btp.Transport double that records sent
// messages and lets a test script canned replies per sub-protocol.
type fakeTransport struct {
	mu           sync.Mutex
	dataHandler  btp.Handler
	moneyHandler btp.MoneyHandler
	sent         []btp.Message
	replies      map[string][]btp.Message
	sendErr      error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[string][]btp.Message)}
}

func (t *fakeTransport) SendMessage(ctx context.Context, to btp.Address, msgs []btp.Message) ([]btp.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return nil, t.sendErr
	}
	t.sent = append(t.sent, msgs...)
	if len(msgs) == 0 {
		return nil, nil
	}
	return t.replies[msgs[0].Protocol], nil
}

func (t *fakeTransport) RegisterDataHandler(h btp.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dataHandler = h
}

func (t *fakeTransport) RegisterMoneyHandler(h btp.MoneyHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.moneyHandler = h
}

func (t *fakeTransport) MoneyHandler() btp.MoneyHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moneyHandler
}

func (t *fakeTransport) setReply(protocol string, reply btp.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[protocol] = []btp.Message{reply}
}

func (t *fakeTransport) lastSent() (btp.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return btp.Message{}, false
	}
	return t.sent[len(t.sent)-1], true
}

// fakeChain is an in-memory ethrpc.Chain double tracking one channel's
// on-chain state plus canned fee/confirmation behavior.
type fakeChain struct {
	mu sync.Mutex

	channels map[ethchannel.ChannelID]ethchannel.OnChainChannel
	block    uint64
	gasPrice *big.Int
	gasLimit uint64

	openErr         error
	depositErr      error
	claimErr        error
	startDisputeErr error
	confirmationErr error
	gasPriceErr     error
	estimateGasErr  error
	currentBlockErr error
	fetchErr        error

	nextTx int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		channels: make(map[ethchannel.ChannelID]ethchannel.OnChainChannel),
		gasPrice: big.NewInt(1),
		gasLimit: 21000,
	}
}

func (c *fakeChain) nextHash() common.Hash {
	c.nextTx++
	var h common.Hash
	h[31] = byte(c.nextTx)
	return h
}

func (c *fakeChain) Open(ctx context.Context, channelID ethchannel.ChannelID, receiver common.Address, disputePeriod uint64, valueWei *big.Int) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return common.Hash{}, c.openErr
	}
	c.channels[channelID] = ethchannel.OnChainChannel{
		Sender:        common.HexToAddress("0xAAAA"),
		Receiver:      receiver,
		Value:         new(big.Int).Set(valueWei),
		DisputePeriod: disputePeriod,
	}
	return c.nextHash(), nil
}

func (c *fakeChain) Deposit(ctx context.Context, channelID ethchannel.ChannelID, valueWei *big.Int) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depositErr != nil {
		return common.Hash{}, c.depositErr
	}
	ch, ok := c.channels[channelID]
	if !ok {
		return common.Hash{}, ethchannel.ErrChannelNotFound
	}
	ch.Value = new(big.Int).Add(ch.Value, valueWei)
	c.channels[channelID] = ch
	return c.nextHash(), nil
}

func (c *fakeChain) Claim(ctx context.Context, channelID ethchannel.ChannelID, value *big.Int, sig []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return common.Hash{}, c.claimErr
	}
	delete(c.channels, channelID)
	return c.nextHash(), nil
}

func (c *fakeChain) StartDispute(ctx context.Context, channelID ethchannel.ChannelID) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startDisputeErr != nil {
		return common.Hash{}, c.startDisputeErr
	}
	ch, ok := c.channels[channelID]
	if !ok {
		return common.Hash{}, ethchannel.ErrChannelNotFound
	}
	ch.DisputedUntil = new(big.Int).SetUint64(c.block + ch.DisputePeriod)
	c.channels[channelID] = ch
	return c.nextHash(), nil
}

func (c *fakeChain) Fetch(ctx context.Context, channelID ethchannel.ChannelID) (ethchannel.OnChainChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return ethchannel.OnChainChannel{}, c.fetchErr
	}
	ch, ok := c.channels[channelID]
	if !ok {
		return ethchannel.OnChainChannel{}, ethchannel.ErrChannelNotFound
	}
	return ch, nil
}

func (c *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gasPriceErr != nil {
		return nil, c.gasPriceErr
	}
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.estimateGasErr != nil {
		return 0, c.estimateGasErr
	}
	return c.gasLimit, nil
}

func (c *fakeChain) AwaitConfirmations(ctx context.Context, txHash common.Hash, confirmations uint64) (*gethtypes.Receipt, error) {
	if c.confirmationErr != nil {
		return nil, c.confirmationErr
	}
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful}, nil
}

func (c *fakeChain) CurrentBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentBlockErr != nil {
		return 0, c.currentBlockErr
	}
	return c.block, nil
}

func (c *fakeChain) setChannel(id ethchannel.ChannelID, ch ethchannel.OnChainChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = ch
}

func (c *fakeChain) setBlock(b uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = b
}

var alwaysReadRandom = func(b []byte) (int, error) {
	for i := range b {
		b[i] = byte(i + 1)
	}
	return len(b), nil
}
