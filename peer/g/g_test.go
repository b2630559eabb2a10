package g

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/htlcswap/blindedoutput"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
	"github.com/elnosh/htlcswap/lightning"
	"github.com/elnosh/htlcswap/messaging"
	"github.com/elnosh/htlcswap/mintclient"
	"github.com/elnosh/htlcswap/peer"
	"github.com/elnosh/htlcswap/proofstore"
)

const testKeysetId = "00ad268c4d1f5826"

type fakeMint struct {
	keys map[uint64]*secp256k1.PrivateKey
}

func newFakeMint(t *testing.T) (*httptest.Server, *fakeMint) {
	t.Helper()
	fm := &fakeMint{keys: make(map[uint64]*secp256k1.PrivateKey)}
	for i := 0; i < 24; i++ {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		fm.keys[uint64(1)<<i] = key
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/keys", func(w http.ResponseWriter, r *http.Request) {
		pubkeys := make(crypto.PublicKeys, len(fm.keys))
		for amt, key := range fm.keys {
			pubkeys[amt] = key.PubKey()
		}
		keysJSON, err := json.Marshal(pubkeys)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"keysets":[{"id":%q,"unit":"sat","keys":%s}]}`, testKeysetId, keysJSON)
	})
	mux.HandleFunc("/v1/swap", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs  contract.Proofs          `json:"inputs"`
			Outputs contract.BlindedMessages `json:"outputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sigs := make(contract.BlindedSignatures, len(req.Outputs))
		for i, out := range req.Outputs {
			key, ok := fm.keys[out.Amount]
			if !ok {
				http.Error(w, "no mint key for amount", http.StatusBadRequest)
				return
			}
			bBytes, err := hex.DecodeString(out.B_)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			B_, err := secp256k1.ParsePubKey(bBytes)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			C_ := crypto.SignBlindedMessage(B_, key)
			sigs[i] = contract.BlindedSignature{Amount: out.Amount, C_: hex.EncodeToString(C_.SerializeCompressed()), Id: out.Id}
		}
		json.NewEncoder(w).Encode(struct {
			Signatures contract.BlindedSignatures `json:"signatures"`
		}{sigs})
	})
	return httptest.NewServer(mux), fm
}

func (fm *fakeMint) keyMap() map[uint64]*secp256k1.PublicKey {
	m := make(map[uint64]*secp256k1.PublicKey, len(fm.keys))
	for amt, key := range fm.keys {
		m[amt] = key.PubKey()
	}
	return m
}

func newTestGateway(t *testing.T, server *httptest.Server, network *messaging.MemNetwork, ln lightning.HodlClient) (*Gateway, *btcec.PrivateKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	store, err := proofstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := messaging.NewBus(network.Peer(hex.EncodeToString(priv.PubKey().SerializeCompressed())))
	base := peer.NewBase("G", bus, mintclient.New(server.URL), store, priv)
	return New(base, ln), priv
}

// fundP2PK mints amount fresh sats directly into gw's store, locked to
// gw's own pubkey, the way an initial liquidity deposit would arrive.
func fundP2PK(t *testing.T, gw *Gateway, fm *fakeMint, amount uint64) {
	t.Helper()
	cond := contract.SpendingCondition{
		Kind: contract.P2PK,
		Data: gw.PubKeyHex(),
		Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
	}
	set, err := blindedoutput.New(amount, testKeysetId, cond)
	if err != nil {
		t.Fatal(err)
	}
	sigs, err := gw.Mint.Swap(nil, set.Messages)
	if err != nil {
		t.Fatal(err)
	}
	proofs, err := set.Unblind(sigs, fm.keyMap())
	if err != nil {
		t.Fatal(err)
	}
	if err := gw.Store.Save(proofs); err != nil {
		t.Fatal(err)
	}
}

// TestOnPaymentReceivedCompletesSwapHTLC drives the full gateway-side
// receive flow: a make_invoice call, a HODL settlement, and the resulting
// swap_htlc handoff to a stub dealer.
func TestOnPaymentReceivedCompletesSwapHTLC(t *testing.T) {
	server, fm := newFakeMint(t)
	defer server.Close()
	network := messaging.NewMemNetwork()
	ln := lightning.NewFakeHodlBackend()
	gw, _ := newTestGateway(t, server, network, ln)
	fundP2PK(t, gw, fm, 2000)

	dealerPriv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	dealerPubkeyHex := hex.EncodeToString(dealerPriv.PubKey().SerializeCompressed())

	alicePriv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	alicePubkeyHex := hex.EncodeToString(alicePriv.PubKey().SerializeCompressed())
	aliceCond := contract.SpendingCondition{
		Kind: contract.P2PK,
		Data: alicePubkeyHex,
		Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
	}
	aliceOutputs, err := blindedoutput.New(1000, testKeysetId, aliceCond)
	if err != nil {
		t.Fatal(err)
	}

	var preimage [32]byte
	rand.Read(preimage[:])
	hash := sha256.Sum256(preimage[:])
	preimageHash := hex.EncodeToString(hash[:])

	swapReceived := make(chan map[string]any, 1)
	dealerBus := messaging.NewBus(network.Peer(dealerPubkeyHex))
	dealerBus.Handle("swap_htlc", func(ctx context.Context, from, method string, raw json.RawMessage) (any, error) {
		var params map[string]any
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, err
		}
		swapReceived <- params
		return map[string]bool{"success": true}, nil
	})

	requester := messaging.NewBus(network.Peer(alicePubkeyHex))
	resp, err := requester.Call(context.Background(), gw.PubKeyHex(), "make_invoice", map[string]any{
		"amount":           1000,
		"preimage_hash":    preimageHash,
		"blinded_messages": aliceOutputs.Messages,
		"dealer_pubkey":    dealerPubkeyHex,
	}, messaging.DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected make_invoice error: %v", resp.Error)
	}
	var invResult struct {
		Invoice string `json:"invoice"`
	}
	if err := json.Unmarshal(resp.Result, &invResult); err != nil {
		t.Fatal(err)
	}

	// MakeInvoice bound the invoice's payment hash to preimage_hash
	// directly (HODL semantics), so settling with the preimage A herself
	// generated is what the external payer's Lightning HTLC resolution
	// ultimately triggers.
	if err := ln.SettleInvoice(preimageHash, hex.EncodeToString(preimage[:])); err != nil {
		t.Fatal(err)
	}

	select {
	case params := <-swapReceived:
		if params["request_preimage_hash"] != preimageHash {
			t.Fatalf("unexpected request_preimage_hash forwarded: %v", params["request_preimage_hash"])
		}
		if params["alice_pubkey"] != alicePubkeyHex {
			t.Fatalf("unexpected alice_pubkey forwarded: %v", params["alice_pubkey"])
		}
		if params["preimage"] != hex.EncodeToString(preimage[:]) {
			t.Fatalf("unexpected preimage forwarded: %v", params["preimage"])
		}
	case <-time.After(time.Second):
		t.Fatal("gateway never forwarded swap_htlc to the dealer after settlement")
	}

	if gw.Store.Balance() != 1000 {
		t.Fatalf("expected gateway to keep 1000 sats of change, balance is %d", gw.Store.Balance())
	}
}

// TestHandlePayInvoiceRedeemsHTLC is spec.md §4.5.2 step 3: the gateway
// checks the HTLC token's payment hash against the invoice, pays it, and
// redeems the token into fresh P2PK proofs of its own.
func TestHandlePayInvoiceRedeemsHTLC(t *testing.T) {
	server, fm := newFakeMint(t)
	defer server.Close()
	network := messaging.NewMemNetwork()
	ln := lightning.NewFakeHodlBackend()
	gw, _ := newTestGateway(t, server, network, ln)

	var preimage [32]byte
	rand.Read(preimage[:])
	hash := sha256.Sum256(preimage[:])
	paymentHashHex := hex.EncodeToString(hash[:])

	// Simulate the external payee side of this fake Lightning network: an
	// invoice already settled with the known preimage, which PayInvoice
	// will find and pay instantly.
	extInvoice, err := ln.MakeInvoice(1000, paymentHashHex, "external invoice")
	if err != nil {
		t.Fatal(err)
	}
	if err := ln.SettleInvoice(extInvoice.PaymentHash, hex.EncodeToString(preimage[:])); err != nil {
		t.Fatal(err)
	}

	alicePriv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	htlcCond := contract.SpendingCondition{
		Kind: contract.HTLC,
		Data: paymentHashHex,
		Tags: [][]string{
			{contract.TagSigflag, contract.SigInputs},
			{contract.TagRefund, hex.EncodeToString(alicePriv.PubKey().SerializeCompressed())},
		},
	}
	htlcSet, err := blindedoutput.New(1000, testKeysetId, htlcCond)
	if err != nil {
		t.Fatal(err)
	}
	sigs := make(contract.BlindedSignatures, len(htlcSet.Messages))
	for i, msg := range htlcSet.Messages {
		bBytes, _ := hex.DecodeString(msg.B_)
		B_, _ := secp256k1.ParsePubKey(bBytes)
		C_ := crypto.SignBlindedMessage(B_, fm.keys[msg.Amount])
		sigs[i] = contract.BlindedSignature{Amount: msg.Amount, C_: hex.EncodeToString(C_.SerializeCompressed()), Id: testKeysetId}
	}
	htlcProofs, err := htlcSet.Unblind(sigs, fm.keyMap())
	if err != nil {
		t.Fatal(err)
	}
	token, err := contract.NewTokenV4(htlcProofs, server.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	tokenStr, err := token.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	requester := messaging.NewBus(network.Peer("requester"))
	resp, err := requester.Call(context.Background(), gw.PubKeyHex(), "pay_invoice", map[string]any{
		"invoice": extInvoice.PaymentRequest,
		"token":   tokenStr,
	}, messaging.DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected pay_invoice error: %v", resp.Error)
	}
	var result struct {
		Preimage string `json:"preimage"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.Preimage != hex.EncodeToString(preimage[:]) {
		t.Fatalf("unexpected preimage returned: %s", result.Preimage)
	}
	if gw.Store.Balance() != 1000 {
		t.Fatalf("expected gateway to have redeemed 1000 sats, balance is %d", gw.Store.Balance())
	}
}

func TestHandlePayInvoiceRejectsMismatchedPaymentHash(t *testing.T) {
	server, fm := newFakeMint(t)
	defer server.Close()
	network := messaging.NewMemNetwork()
	ln := lightning.NewFakeHodlBackend()
	gw, _ := newTestGateway(t, server, network, ln)

	var realPreimage [32]byte
	rand.Read(realPreimage[:])
	realHash := sha256.Sum256(realPreimage[:])
	extInvoice, err := ln.MakeInvoice(1000, hex.EncodeToString(realHash[:]), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := ln.SettleInvoice(extInvoice.PaymentHash, hex.EncodeToString(realPreimage[:])); err != nil {
		t.Fatal(err)
	}

	// Build an HTLC token locked to an unrelated payment hash.
	var otherPreimage [32]byte
	rand.Read(otherPreimage[:])
	otherHash := sha256.Sum256(otherPreimage[:])
	htlcCond := contract.SpendingCondition{Kind: contract.HTLC, Data: hex.EncodeToString(otherHash[:])}
	htlcSet, err := blindedoutput.New(1000, testKeysetId, htlcCond)
	if err != nil {
		t.Fatal(err)
	}
	sigs := make(contract.BlindedSignatures, len(htlcSet.Messages))
	for i, msg := range htlcSet.Messages {
		bBytes, _ := hex.DecodeString(msg.B_)
		B_, _ := secp256k1.ParsePubKey(bBytes)
		C_ := crypto.SignBlindedMessage(B_, fm.keys[msg.Amount])
		sigs[i] = contract.BlindedSignature{Amount: msg.Amount, C_: hex.EncodeToString(C_.SerializeCompressed()), Id: testKeysetId}
	}
	htlcProofs, err := htlcSet.Unblind(sigs, fm.keyMap())
	if err != nil {
		t.Fatal(err)
	}
	token, err := contract.NewTokenV4(htlcProofs, server.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	tokenStr, err := token.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	requester := messaging.NewBus(network.Peer("requester"))
	resp, err := requester.Call(context.Background(), gw.PubKeyHex(), "pay_invoice", map[string]any{
		"invoice": extInvoice.PaymentRequest,
		"token":   tokenStr,
	}, messaging.DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil {
		t.Fatal("expected pay_invoice to reject a token locked to an unrelated payment hash")
	}
}

func TestHandlePayInvoiceRejectsUnderfundedToken(t *testing.T) {
	server, fm := newFakeMint(t)
	defer server.Close()
	network := messaging.NewMemNetwork()
	ln := lightning.NewFakeHodlBackend()
	gw, _ := newTestGateway(t, server, network, ln)

	var preimage [32]byte
	rand.Read(preimage[:])
	hash := sha256.Sum256(preimage[:])
	paymentHashHex := hex.EncodeToString(hash[:])

	extInvoice, err := ln.MakeInvoice(1000, paymentHashHex, "external invoice")
	if err != nil {
		t.Fatal(err)
	}
	if err := ln.SettleInvoice(extInvoice.PaymentHash, hex.EncodeToString(preimage[:])); err != nil {
		t.Fatal(err)
	}

	// HTLC token locked to the right payment hash, but worth far less than
	// the 1000 sat invoice it's meant to cover.
	htlcCond := contract.SpendingCondition{Kind: contract.HTLC, Data: paymentHashHex}
	htlcSet, err := blindedoutput.New(1, testKeysetId, htlcCond)
	if err != nil {
		t.Fatal(err)
	}
	sigs := make(contract.BlindedSignatures, len(htlcSet.Messages))
	for i, msg := range htlcSet.Messages {
		bBytes, _ := hex.DecodeString(msg.B_)
		B_, _ := secp256k1.ParsePubKey(bBytes)
		C_ := crypto.SignBlindedMessage(B_, fm.keys[msg.Amount])
		sigs[i] = contract.BlindedSignature{Amount: msg.Amount, C_: hex.EncodeToString(C_.SerializeCompressed()), Id: testKeysetId}
	}
	htlcProofs, err := htlcSet.Unblind(sigs, fm.keyMap())
	if err != nil {
		t.Fatal(err)
	}
	token, err := contract.NewTokenV4(htlcProofs, server.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	tokenStr, err := token.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	requester := messaging.NewBus(network.Peer("requester"))
	resp, err := requester.Call(context.Background(), gw.PubKeyHex(), "pay_invoice", map[string]any{
		"invoice": extInvoice.PaymentRequest,
		"token":   tokenStr,
	}, messaging.DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil {
		t.Fatal("expected pay_invoice to reject a token worth less than the invoice it's paying")
	}
}
