package messaging

import (
	"fmt"
	"sync"
)

// MultiTransport multiplexes several pairwise Transports, each dedicated to
// one remote peer, behind the single Transport interface a Bus expects. A
// peer process in this protocol talks to up to two counterparties (Alice to
// gateway and dealer, the gateway to Alice and dealer, the dealer to Alice
// and the gateway) over separate websocket connections addressed by the
// same pubkey-hex peer names Bus.Call uses.
type MultiTransport struct {
	mu    sync.Mutex
	peers map[string]Transport

	inbox chan InboundFrame
}

func NewMultiTransport() *MultiTransport {
	return &MultiTransport{
		peers: make(map[string]Transport),
		inbox: make(chan InboundFrame, 64),
	}
}

// Add registers t as the connection to peerName and starts forwarding its
// inbound frames into the shared inbox.
func (m *MultiTransport) Add(peerName string, t Transport) {
	m.mu.Lock()
	m.peers[peerName] = t
	m.mu.Unlock()

	go func() {
		for frame := range t.Inbox() {
			m.inbox <- frame
		}
	}()
}

func (m *MultiTransport) Send(peer string, frame []byte) error {
	m.mu.Lock()
	t, ok := m.peers[peer]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no connection registered for peer %q", peer)
	}
	return t.Send(peer, frame)
}

func (m *MultiTransport) Inbox() <-chan InboundFrame {
	return m.inbox
}
