package messaging

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSTransport is a gorilla/websocket Transport backing a single peer
// connection (one peer dials another's relay endpoint; which end
// accepted the connection doesn't matter once the socket is up).
type WSTransport struct {
	peerName string
	conn     *websocket.Conn

	mu       sync.Mutex
	send     chan []byte
	inbox    chan InboundFrame
	closed   chan struct{}
	closeErr error

	pongWait     time.Duration
	pingInterval time.Duration
}

// DialWS opens a websocket connection to url and names the remote end
// peerName for Send's benefit (this protocol's peers are pairwise, so one
// connection maps to exactly one logical peer name).
func DialWS(url string, peerName string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return newWSTransport(conn, peerName), nil
}

// AcceptWS upgrades an inbound HTTP request to a websocket connection.
func AcceptWS(w http.ResponseWriter, r *http.Request, peerName string) (*WSTransport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWSTransport(conn, peerName), nil
}

func newWSTransport(conn *websocket.Conn, peerName string) *WSTransport {
	t := &WSTransport{
		peerName:     peerName,
		conn:         conn,
		send:         make(chan []byte, 32),
		inbox:        make(chan InboundFrame, 32),
		closed:       make(chan struct{}),
		pongWait:     60 * time.Second,
		pingInterval: 30 * time.Second,
	}
	go t.readLoop()
	go t.writeLoop()
	return t
}

func (t *WSTransport) Send(peer string, frame []byte) error {
	if peer != t.peerName {
		return fmt.Errorf("transport bound to peer %q, cannot send to %q", t.peerName, peer)
	}
	select {
	case t.send <- frame:
		return nil
	case <-t.closed:
		return fmt.Errorf("transport closed")
	}
}

func (t *WSTransport) Inbox() <-chan InboundFrame {
	return t.inbox
}

func (t *WSTransport) readLoop() {
	defer t.close(nil)
	defer close(t.inbox)

	t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})

	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case t.inbox <- InboundFrame{From: t.peerName, Frame: msg}:
		case <-t.closed:
			return
		}
	}
}

func (t *WSTransport) writeLoop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	defer t.close(nil)

	for {
		select {
		case frame, ok := <-t.send:
			if !ok {
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *WSTransport) close(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return
	default:
		t.closeErr = err
		close(t.closed)
		t.conn.Close()
	}
}

func (t *WSTransport) Close() error {
	t.close(nil)
	return nil
}
