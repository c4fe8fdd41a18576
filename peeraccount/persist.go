package peeraccount

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethrpc"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/store"
)

// snapshot is the persisted record for "<accountName>:account", per spec
// §3/§9: big integers as decimal strings, channels as plain records. It is
// the replacement for the source's dynamic property-bag persistence: one
// explicit struct, marshaled wholesale on every queue "data" event.
type snapshot struct {
	AccountName       string            `json:"accountName"`
	ReceivableBalance string            `json:"receivableBalance"`
	PayableBalance    string            `json:"payableBalance"`
	PayoutAmount      string            `json:"payoutAmount"`
	EthereumAddress   string            `json:"ethereumAddress,omitempty"`
	Incoming          *channelSnapshot `json:"incoming,omitempty"`
	Outgoing          *channelSnapshot `json:"outgoing,omitempty"`
}

type channelSnapshot struct {
	ChannelID       string `json:"channelId"`
	ContractAddress string `json:"contractAddress"`
	Sender          string `json:"sender"`
	Receiver        string `json:"receiver"`
	Value           string `json:"value"`
	DisputePeriod   uint64 `json:"disputePeriod"`
	DisputedUntil   string `json:"disputedUntil,omitempty"`
	Spent           string `json:"spent"`
	Signature       string `json:"signature,omitempty"`
}

func outgoingToSnapshot(ch ethchannel.PaymentChannel) *channelSnapshot {
	s := &channelSnapshot{
		ChannelID:       ch.ChannelID.String(),
		ContractAddress: ch.ContractAddress.Hex(),
		Sender:          ch.Sender.Hex(),
		Receiver:        ch.Receiver.Hex(),
		Value:           bigString(ch.Value),
		DisputePeriod:   ch.DisputePeriod,
		Spent:           bigString(ch.Spent),
	}
	if ch.DisputedUntil != nil {
		s.DisputedUntil = ch.DisputedUntil.String()
	}
	if len(ch.Signature) > 0 {
		s.Signature = "0x" + hex.EncodeToString(ch.Signature)
	}
	return s
}

func incomingToSnapshot(ch ethchannel.ClaimablePaymentChannel) *channelSnapshot {
	return outgoingToSnapshot(ethchannel.PaymentChannel{
		ChannelID:       ch.ChannelID,
		ContractAddress: ch.ContractAddress,
		Sender:          ch.Sender,
		Receiver:        ch.Receiver,
		Value:           ch.Value,
		DisputePeriod:   ch.DisputePeriod,
		DisputedUntil:   ch.DisputedUntil,
		Spent:           ch.Spent,
		Signature:       ch.Signature,
	})
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// persist serializes the account's current state and writes it to the
// store under "<accountName>:account". Errors are logged, not propagated:
// per spec §9, a systems design replaces the source's automatic property
// interception with an explicit persist() call after every queue
// reduction, and a failed persist should not abort the reduction that
// triggered it.
func (a *PeerAccount) persist() {
	a.balanceMu.Lock()
	snap := snapshot{
		AccountName:       a.name,
		ReceivableBalance: bigString(a.receivable),
		PayableBalance:    bigString(a.payable),
		PayoutAmount:      bigString(a.payout),
	}
	if a.ethAddress != nil {
		snap.EthereumAddress = a.ethAddress.Hex()
	}
	a.balanceMu.Unlock()

	if ch, ok := a.incoming.Snapshot().Get(); ok {
		snap.Incoming = incomingToSnapshot(ch)
	}
	if ch, ok := a.outgoing.Snapshot().Get(); ok {
		snap.Outgoing = outgoingToSnapshot(ch)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		a.logf("persist: marshaling snapshot: %v", err)
		return
	}
	if err := a.store.Put(a.name+":account", data); err != nil {
		a.logf("persist: writing snapshot: %v", err)
	}
}

// PersistNow forces an immediate snapshot write, e.g. right after balance
// mutations driven from ILP packet handling rather than a queue reducer.
func (a *PeerAccount) PersistNow() { a.persist() }

// Load restores a PeerAccount from its persisted "<name>:account" snapshot,
// or constructs a fresh one (equivalent to New) if no snapshot exists.
func Load(name string, transport btp.Transport, chain ethrpc.Chain, wallet *ethwallet.Account, contractAddress common.Address, st store.Store, params Params, opts ...Option) (*PeerAccount, error) {
	data, ok, err := st.Get(name + ":account")
	if err != nil {
		return nil, errors.Wrapf(err, "peeraccount: loading snapshot for %q", name)
	}
	if !ok {
		return New(name, transport, chain, wallet, contractAddress, st, params, opts...), nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrapf(err, "peeraccount: parsing snapshot for %q", name)
	}

	s := seed{
		receivable: bigFromString(snap.ReceivableBalance),
		payable:    bigFromString(snap.PayableBalance),
		payout:     bigFromString(snap.PayoutAmount),
		incoming:   NoIncomingChannel(),
		outgoing:   NoOutgoingChannel(),
	}
	if snap.EthereumAddress != "" {
		addr := common.HexToAddress(snap.EthereumAddress)
		s.ethAddress = &addr
	}
	if snap.Outgoing != nil {
		ch, err := channelSnapshotToOutgoing(*snap.Outgoing)
		if err != nil {
			return nil, errors.Wrapf(err, "peeraccount: restoring outgoing channel for %q", name)
		}
		s.outgoing = SomeOutgoingChannel(ch)
	}
	if snap.Incoming != nil {
		ch, err := channelSnapshotToIncoming(*snap.Incoming)
		if err != nil {
			return nil, errors.Wrapf(err, "peeraccount: restoring incoming channel for %q", name)
		}
		s.incoming = SomeIncomingChannel(ch)
	}

	return newAccount(name, transport, chain, wallet, contractAddress, st, params, s, opts...), nil
}

func bigFromString(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func channelSnapshotToOutgoing(s channelSnapshot) (ethchannel.PaymentChannel, error) {
	return channelSnapshotToCommon(s)
}

func channelSnapshotToIncoming(s channelSnapshot) (ethchannel.ClaimablePaymentChannel, error) {
	ch, err := channelSnapshotToCommon(s)
	if err != nil {
		return ethchannel.ClaimablePaymentChannel{}, err
	}
	return ethchannel.ClaimablePaymentChannel(ch), nil
}

func channelSnapshotToCommon(s channelSnapshot) (ethchannel.PaymentChannel, error) {
	id, err := ethchannel.ChannelIDFromHex(s.ChannelID)
	if err != nil {
		return ethchannel.PaymentChannel{}, err
	}
	if !common.IsHexAddress(s.ContractAddress) || !common.IsHexAddress(s.Sender) || !common.IsHexAddress(s.Receiver) {
		return ethchannel.PaymentChannel{}, errors.New("peeraccount: malformed address in channel snapshot")
	}
	ch := ethchannel.PaymentChannel{
		ChannelID:       id,
		ContractAddress: common.HexToAddress(s.ContractAddress),
		Sender:          common.HexToAddress(s.Sender),
		Receiver:        common.HexToAddress(s.Receiver),
		Value:           bigFromString(s.Value),
		DisputePeriod:   s.DisputePeriod,
		Spent:           bigFromString(s.Spent),
	}
	if s.DisputedUntil != "" {
		ch.DisputedUntil = bigFromString(s.DisputedUntil)
	}
	if s.Signature != "" {
		sig, err := hex.DecodeString(strings.TrimPrefix(s.Signature, "0x"))
		if err != nil {
			return ethchannel.PaymentChannel{}, errors.Wrap(err, "peeraccount: decoding channel signature")
		}
		ch.Signature = sig
	}
	return ch, nil
}
