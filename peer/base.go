// Package peer implements the three protocol participants' state
// machines (A, G, D) on top of the shared infrastructure packages:
// mintclient for swaps, lightning for invoices, messaging for the
// request/response bus between peers, and proofstore for persisted
// holdings. Base carries the fields every peer shares; peer/a, peer/g
// and peer/d embed it and add their own pending-request bookkeeping.
package peer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
	"github.com/elnosh/htlcswap/messaging"
	"github.com/elnosh/htlcswap/mintclient"
	"github.com/elnosh/htlcswap/proofstore"
	"github.com/elnosh/htlcswap/prooftracker"
)

// Info is the common response of every peer's "info" method.
type Info struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// Base holds the fields shared by Alice, Gateway and Dealer: a logger,
// the messaging bus, a mint client, a proof store and tracker, and the
// peer's own long-term P2PK keypair. Its pubkey hex doubles as this
// peer's address on the messaging bus, so callers address peers by
// pubkey (spec.md §6 CLI surface: gatewayPubkey, dealerPubkey).
type Base struct {
	Type string // "A", "G" or "D"

	Bus   *messaging.Bus
	Mint  *mintclient.Client
	Store *proofstore.Store

	Tracker *prooftracker.Tracker

	privKey *btcec.PrivateKey
	pubKey  *btcec.PublicKey

	logger *slog.Logger

	mu     sync.Mutex
	keyset *mintclient.ActiveKeyset
}

// NewBase wires the shared infrastructure for one peer. privKey is the
// peer's long-term P2PK signing key, derived by the keys package from
// its seed phrase.
func NewBase(peerType string, bus *messaging.Bus, mint *mintclient.Client, store *proofstore.Store, privKey *btcec.PrivateKey) *Base {
	b := &Base{
		Type:    peerType,
		Bus:     bus,
		Mint:    mint,
		Store:   store,
		Tracker: prooftracker.New(),
		privKey: privKey,
		pubKey:  privKey.PubKey(),
		logger:  setupLogger(peerType),
	}
	b.Bus.Handle("info", b.handleInfo)
	return b
}

func setupLogger(peerType string) *slog.Logger {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, ReplaceAttr: replacer})
	return slog.New(handler).With("peer", peerType)
}

// LogInfof formats and logs at Info level, preserving the caller's source
// position rather than this helper's.
func (b *Base) LogInfof(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf(format, args...), pcs[0])
	_ = b.logger.Handler().Handle(context.Background(), r)
}

func (b *Base) LogErrorf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelError, fmt.Sprintf(format, args...), pcs[0])
	_ = b.logger.Handler().Handle(context.Background(), r)
}

// Logger exposes the peer's logger to subpackage types embedding Base.
func (b *Base) Logger() *slog.Logger { return b.logger }

// PubKeyHex is this peer's address on the messaging bus and its P2PK
// locking key.
func (b *Base) PubKeyHex() string {
	return hex.EncodeToString(b.pubKey.SerializeCompressed())
}

func (b *Base) handleInfo(ctx context.Context, from string, method string, params json.RawMessage) (any, error) {
	return Info{Type: b.Type, Name: b.PubKeyHex(), Timestamp: time.Now().Unix()}, nil
}

// ActiveKeyset fetches and caches the mint's active sat keyset. Peers
// call this at startup and reuse the cached value; a real deployment
// would refresh on keyset rotation, out of scope here (spec.md §4.3
// treats the keyset cache as single-writer, cache-miss-triggers-fetch).
func (b *Base) ActiveKeyset() (*mintclient.ActiveKeyset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keyset != nil {
		return b.keyset, nil
	}
	ks, err := b.Mint.LoadKeysets()
	if err != nil {
		return nil, err
	}
	b.keyset = ks
	return ks, nil
}

// SignP2PKInput signs a proof's own secret (its SIG_INPUTS digest) with
// priv and returns a hex-encoded Schnorr signature, for attaching to
// that proof's own witness.
func SignP2PKInput(proof contract.Proof, priv *btcec.PrivateKey) (string, error) {
	sig, err := crypto.SchnorrSign(priv, []byte(proof.Secret))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// SignP2PKInputs attaches an individual SIG_INPUTS signature to every
// proof in proofs, signing each proof's own secret with priv. Used when
// a peer spends its own ordinary P2PK-locked proofs (no SIG_ALL, no
// shared witness across proofs).
func SignP2PKInputs(proofs contract.Proofs, priv *btcec.PrivateKey) (contract.Proofs, error) {
	signed := make(contract.Proofs, len(proofs))
	for i, p := range proofs {
		sigHex, err := SignP2PKInput(p, priv)
		if err != nil {
			return nil, err
		}
		w := contract.Witness{Signatures: []string{sigHex}}
		ws, err := w.Serialize()
		if err != nil {
			return nil, err
		}
		p.Witness = ws
		signed[i] = p
	}
	return signed, nil
}

// PrivKey exposes the peer's long-term key to subpackages.
func (b *Base) PrivKey() *btcec.PrivateKey { return b.privKey }

// ReceiveToken redeems a bearer Cashu token for fresh proofs of this peer's
// own and deposits them into its store. Every proof must be a P2PK secret
// locked to this peer's own key, the only kind of token this protocol's
// flows ever hand a peer directly; ReceiveToken signs each one with that
// key as its unlock witness before handing it to the mint, rather than
// trusting the bearer proofs themselves into the store (mirrors the
// teacher's wallet.Wallet.Receive, which always swaps a received token's
// proofs for fresh outputs before storing anything).
func (b *Base) ReceiveToken(tokenStr string) (uint64, error) {
	token, err := contract.DecodeToken(tokenStr)
	if err != nil {
		return 0, err
	}
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return 0, fmt.Errorf("empty token")
	}

	for _, p := range proofs {
		secret, err := contract.DeserializeSecret(p.Secret)
		if err != nil {
			return 0, err
		}
		if contract.SecretType(p.Secret) != contract.P2PK || secret.Data != b.PubKeyHex() {
			return 0, fmt.Errorf("token proof not P2PK-locked to this peer")
		}
	}

	signed, err := SignP2PKInputs(proofs, b.privKey)
	if err != nil {
		return 0, err
	}

	keyset, err := b.ActiveKeyset()
	if err != nil {
		return 0, err
	}
	cond := contract.SpendingCondition{Kind: contract.P2PK, Data: b.PubKeyHex()}

	fresh, err := b.Mint.Receive(signed, keyset, cond)
	if err != nil {
		return 0, err
	}

	if err := b.Store.Save(fresh); err != nil {
		return 0, err
	}
	return fresh.Amount(), nil
}
