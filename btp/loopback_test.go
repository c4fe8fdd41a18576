package btp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopbackBusDeliversToRegisteredHandler(t *testing.T) {
	bus := NewLoopbackBus()
	alice := bus.Connect("alice")
	bob := bus.Connect("bob")

	var received []Message
	bob.RegisterDataHandler(func(ctx context.Context, from Address, msgs []Message) ([]Message, error) {
		received = msgs
		require.Equal(t, Address("alice"), from)
		return []Message{{Protocol: ProtocolInfo, ContentType: ContentTypeJSON, Payload: []byte("ack")}}, nil
	})

	resp, err := alice.SendMessage(context.Background(), "bob", []Message{{Protocol: ProtocolInfo, ContentType: ContentTypeJSON, Payload: []byte("hi")}})
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.Equal(t, "hi", string(received[0].Payload))
	require.Equal(t, "ack", string(resp[0].Payload))
}

func TestLoopbackBusErrorsOnUnknownPeer(t *testing.T) {
	bus := NewLoopbackBus()
	alice := bus.Connect("alice")

	_, err := alice.SendMessage(context.Background(), "nobody", nil)
	require.Error(t, err)
}
