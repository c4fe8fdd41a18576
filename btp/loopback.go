package btp

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// LoopbackBus is an in-process BTP bus connecting named peers directly to
// each other's registered handlers, letting two demo clients exchange BTP
// traffic without a real network.
type LoopbackBus struct {
	mu    sync.Mutex
	peers map[Address]*LoopbackTransport
}

// NewLoopbackBus creates an empty bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{peers: make(map[Address]*LoopbackTransport)}
}

// Connect registers self on the bus and returns a Transport that delivers
// SendMessage calls directly into whichever peer is later connected under
// the destination address.
func (b *LoopbackBus) Connect(self Address) *LoopbackTransport {
	t := &LoopbackTransport{bus: b, self: self}
	b.mu.Lock()
	b.peers[self] = t
	b.mu.Unlock()
	return t
}

// LoopbackTransport is one peer's endpoint on a LoopbackBus.
type LoopbackTransport struct {
	bus          *LoopbackBus
	self         Address
	dataHandler  Handler
	moneyHandler MoneyHandler
}

// RegisterDataHandler installs the handler invoked for inbound messages.
func (t *LoopbackTransport) RegisterDataHandler(h Handler) {
	t.dataHandler = h
}

// RegisterMoneyHandler installs the callback invoked on validated incoming
// claim increments.
func (t *LoopbackTransport) RegisterMoneyHandler(h MoneyHandler) {
	t.moneyHandler = h
}

// MoneyHandler returns the callback installed by RegisterMoneyHandler.
func (t *LoopbackTransport) MoneyHandler() MoneyHandler {
	return t.moneyHandler
}

// SendMessage looks up the destination peer on the bus and invokes its
// registered data handler directly, synchronously, as if the round trip
// were instantaneous.
func (t *LoopbackTransport) SendMessage(ctx context.Context, to Address, msgs []Message) ([]Message, error) {
	t.bus.mu.Lock()
	dst, ok := t.bus.peers[to]
	t.bus.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("btp: no peer registered for %q", to)
	}
	if dst.dataHandler == nil {
		return nil, errors.Errorf("btp: peer %q has no data handler registered", to)
	}
	return dst.dataHandler(ctx, t.self, msgs)
}
