package peer

import (
	"fmt"
	"net/http"

	"github.com/elnosh/htlcswap/messaging"
)

// DialPeers opens an outbound websocket connection to every configured
// counterparty and registers it on mt, identifying the caller to the
// remote relay by its own pubkey so the remote end can route replies back.
func DialPeers(mt *messaging.MultiTransport, peers map[string]string, selfPubkeyHex string) error {
	for pubkeyHex, url := range peers {
		t, err := messaging.DialWS(url+"?peer="+selfPubkeyHex, pubkeyHex)
		if err != nil {
			return fmt.Errorf("dialing peer %s at %s: %w", pubkeyHex, url, err)
		}
		mt.Add(pubkeyHex, t)
	}
	return nil
}

// ServeRelay accepts inbound websocket connections on addr at /ws, keyed by
// the caller-supplied ?peer= pubkey hex, and registers each on mt.
func ServeRelay(addr string, mt *messaging.MultiTransport) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		peerName := r.URL.Query().Get("peer")
		if peerName == "" {
			http.Error(w, "missing peer query parameter", http.StatusBadRequest)
			return
		}
		t, err := messaging.AcceptWS(w, r, peerName)
		if err != nil {
			return
		}
		mt.Add(peerName, t)
	})
	return &http.Server{Addr: addr, Handler: mux}
}
