package peeraccount

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ilp"
)

// HandlePrepare implements spec §4.8's incoming-PREPARE path: a PREPARE
// arriving from the peer over the "ilp" sub-protocol, forwarded to the
// local dataHandler, with receivableBalance admission control and
// rollback-on-reject.
func (a *PeerAccount) HandlePrepare(ctx context.Context, raw []byte) []byte {
	prepare, err := ilp.UnmarshalPrepare(raw)
	if err != nil {
		return ilp.RejectBundled(err).Marshal()
	}

	if a.params.MaxPacketAmountGwei != nil && prepare.Amount.Cmp(a.params.MaxPacketAmountGwei) > 0 {
		return ilp.RejectF08(prepare.Amount, a.params.MaxPacketAmountGwei).Marshal()
	}

	var projected *big.Int
	a.mutateBalances(func(receivable, payable, payout *big.Int) {
		projected = new(big.Int).Add(receivable, prepare.Amount)
	})
	if a.params.MaxBalanceGwei != nil && projected.Cmp(a.params.MaxBalanceGwei) > 0 {
		return ilp.RejectT04("receivable balance would exceed maxBalance").Marshal()
	}

	a.mutateBalances(func(receivable, payable, payout *big.Int) {
		receivable.Add(receivable, prepare.Amount)
	})
	a.persist()

	reply, err := a.forward(ctx, raw)
	if err != nil {
		a.mutateBalances(func(receivable, payable, payout *big.Int) {
			receivable.Sub(receivable, prepare.Amount)
		})
		a.persist()
		return ilp.RejectBundled(err).Marshal()
	}

	if _, err := ilp.UnmarshalReject(reply); err == nil {
		// Local forwarding rejected the packet: roll back the debit.
		a.mutateBalances(func(receivable, payable, payout *big.Int) {
			receivable.Sub(receivable, prepare.Amount)
		})
		a.persist()
		return reply
	}
	// FULFILL: keep the debit; money settles via the claim channel on the
	// peer's own initiative (spec §4.8 step 5).
	return reply
}

func (a *PeerAccount) forward(ctx context.Context, raw []byte) ([]byte, error) {
	if a.dataHandler == nil {
		return nil, errors.New("peeraccount: no local data handler registered")
	}
	return a.dataHandler(ctx, raw)
}

// SendPrepare forwards a locally originated PREPARE to this peer over the
// "ilp" sub-protocol and applies spec §4.8's outgoing-response balance
// rules: FULFILL credits payableBalance and triggers sendMoney; a T04
// REJECT triggers sendMoney as a stalemate-breaking measure; any other
// REJECT changes nothing.
func (a *PeerAccount) SendPrepare(ctx context.Context, prepare ilp.Prepare) ([]byte, error) {
	raw, err := prepare.Marshal()
	if err != nil {
		return nil, err
	}

	replies, err := a.transport.SendMessage(ctx, btp.Address(a.name), []btp.Message{{
		Protocol:    btp.ProtocolILP,
		ContentType: btp.ContentTypeOctetStream,
		Payload:     raw,
	}})
	if err != nil {
		return nil, errors.Wrap(err, "peeraccount: sending prepare")
	}
	if len(replies) == 0 {
		return nil, errors.New("peeraccount: peer sent no ilp reply")
	}
	reply := replies[0].Payload

	if _, err := ilp.UnmarshalFulfill(reply); err == nil {
		a.mutateBalances(func(receivable, payable, payout *big.Int) {
			payable.Add(payable, prepare.Amount)
		})
		a.persist()
		a.SendMoney(ctx, nil)
		return reply, nil
	}

	if rej, err := ilp.UnmarshalReject(reply); err == nil {
		if rej.Code == ilp.CodeT04InsufficientLiquidity {
			a.SendMoney(ctx, nil)
		}
		return reply, nil
	}

	return reply, errors.New("peeraccount: unrecognized ilp reply packet")
}
