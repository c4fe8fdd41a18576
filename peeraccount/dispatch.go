package peeraccount

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
)

// HandleMessages dispatches one inbound BTP batch across the sub-protocols
// this account understands (info, machinomy, requestClose, ilp), per spec
// §6's sub-protocol table, and collects their replies.
func (a *PeerAccount) HandleMessages(ctx context.Context, msgs []btp.Message) ([]btp.Message, error) {
	replies := make([]btp.Message, 0, len(msgs))
	for _, msg := range msgs {
		reply, err := a.handleOne(ctx, msg)
		if err != nil {
			return nil, err
		}
		if reply != nil {
			replies = append(replies, *reply)
		}
	}
	return replies, nil
}

func (a *PeerAccount) handleOne(ctx context.Context, msg btp.Message) (*btp.Message, error) {
	switch msg.Protocol {
	case btp.ProtocolInfo:
		reply, err := a.HandleInfo(ctx, msg.Payload)
		if err != nil {
			return nil, err
		}
		return &reply, nil

	case btp.ProtocolMachinomy:
		fut := a.HandleClaim(msg.Payload)
		if _, err := fut.Wait(ctx); err != nil {
			a.logf("machinomy: claim rejected: %v", err)
		}
		return nil, nil

	case btp.ProtocolRequestClose:
		reply := a.HandleRequestClose(ctx)
		return &reply, nil

	case btp.ProtocolILP:
		reply := a.HandlePrepare(ctx, msg.Payload)
		return &btp.Message{Protocol: btp.ProtocolILP, ContentType: btp.ContentTypeOctetStream, Payload: reply}, nil

	default:
		return nil, errors.Errorf("peeraccount: unsupported sub-protocol %q", msg.Protocol)
	}
}
