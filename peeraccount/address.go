package peeraccount

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
)

type infoPayload struct {
	EthereumAddress string `json:"ethereumAddress"`
}

// HandleInfo implements the "info" address-linking sub-protocol, per spec
// §4.2: on first contact, store the peer's address and reply with our own;
// on a later message, ignore silently if it matches the linked address, or
// log and ignore if it differs (addresses are never rebound once linked).
func (a *PeerAccount) HandleInfo(ctx context.Context, payload []byte) (btp.Message, error) {
	var in infoPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return btp.Message{}, errors.Wrap(err, "peeraccount: parsing info payload")
	}
	if !common.IsHexAddress(in.EthereumAddress) {
		return btp.Message{}, errors.Errorf("peeraccount: invalid ethereumAddress %q", in.EthereumAddress)
	}
	incoming := common.HexToAddress(in.EthereumAddress)

	a.balanceMu.Lock()
	switch {
	case a.ethAddress == nil:
		a.ethAddress = &incoming
	case !strings.EqualFold(a.ethAddress.Hex(), incoming.Hex()):
		a.balanceMu.Unlock()
		a.logf("info: peer %s attempted to rebind linked address from %s to %s, ignoring", a.name, a.ethAddress.Hex(), incoming.Hex())
		return a.ourAddressReply()
	}
	a.balanceMu.Unlock()

	a.persist()
	return a.ourAddressReply()
}

func (a *PeerAccount) ourAddressReply() (btp.Message, error) {
	out, err := json.Marshal(infoPayload{EthereumAddress: a.wallet.Address().Hex()})
	if err != nil {
		return btp.Message{}, errors.Wrap(err, "peeraccount: marshaling info reply")
	}
	return btp.Message{Protocol: btp.ProtocolInfo, ContentType: btp.ContentTypeJSON, Payload: out}, nil
}

// RequestAddressLink proactively sends our address-linking request to the
// peer, invoked by fundOutgoingChannel when no address is yet known.
func (a *PeerAccount) RequestAddressLink(ctx context.Context) error {
	if _, ok := a.LinkedAddress(); ok {
		return nil
	}
	msg, err := a.ourAddressReply()
	if err != nil {
		return err
	}
	replies, err := a.transport.SendMessage(ctx, btp.Address(a.name), []btp.Message{msg})
	if err != nil {
		return errors.Wrap(err, "peeraccount: sending info request")
	}
	for _, reply := range replies {
		if reply.Protocol != btp.ProtocolInfo {
			continue
		}
		if _, err := a.HandleInfo(ctx, reply.Payload); err != nil {
			return err
		}
	}
	if _, ok := a.LinkedAddress(); !ok {
		return ErrNoLinkedAddress
	}
	return nil
}

// HandleRequestClose implements the "requestClose" sub-protocol, per spec
// §4.9: schedule a best-effort claim and reply with an empty payload.
func (a *PeerAccount) HandleRequestClose(ctx context.Context) btp.Message {
	a.incoming.Add(func(ctx context.Context, state IncomingChannel) (IncomingChannel, error) {
		return a.claimIfProfitableReducer(ctx, state, false, nil)
	}, PriorityClaimChannel)
	return btp.Message{Protocol: btp.ProtocolRequestClose, ContentType: btp.ContentTypeText}
}
