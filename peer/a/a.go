// Package a implements Alice (A), the payer peer: she requests Lightning
// liquidity from the gateway via the dealer (spec.md §4.5.1), and pays
// Lightning invoices through the gateway by handing over an HTLC-locked
// token (spec.md §4.5.2).
package a

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/elnosh/htlcswap/blindedoutput"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
	"github.com/elnosh/htlcswap/messaging"
	"github.com/elnosh/htlcswap/peer"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// DefaultSendLocktime is the fallback locktime for A's own send-flow HTLC,
// counted from now, when the decoded invoice reports no expiry (spec.md
// §4.5.2 step 2); otherwise the locktime is the invoice's expiry time.
const DefaultSendLocktime = 24 * time.Hour

// PendingHTLCRequest is A's record of an in-flight receive flow, keyed
// by preimage_hash/payment_hash (spec.md §3).
type PendingHTLCRequest struct {
	Outputs   *blindedoutput.Set
	Amount    uint64
	Preimage  string
	Timestamp time.Time
}

type Alice struct {
	*peer.Base

	mu      sync.Mutex
	pending map[string]*PendingHTLCRequest
	done    map[string]chan struct{}
}

func New(base *peer.Base) *Alice {
	a := &Alice{
		Base:    base,
		pending: make(map[string]*PendingHTLCRequest),
		done:    make(map[string]chan struct{}),
	}
	a.Bus.Handle("blinded_signatures", a.handleBlindedSignatures)
	return a
}

// WaitReceive blocks until the dealer's blinded_signatures callback
// completes the receive flow keyed by preimageHash, or ctx is canceled.
// Callers drive this after RequestReceive's invoice has been paid
// out-of-band, since settlement (and so this flow's completion) can take
// an arbitrary amount of time.
func (a *Alice) WaitReceive(ctx context.Context, preimageHash string) error {
	a.mu.Lock()
	ch, ok := a.done[preimageHash]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending receive request for this preimage_hash")
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type requestDealerFeeResult struct {
	FeeAmount       uint64                   `json:"fee_amount"`
	BlindedMessages contract.BlindedMessages `json:"blinded_messages"`
}

type makeInvoiceResult struct {
	Invoice string `json:"invoice"`
}

// RequestReceive drives spec.md §4.5.1 steps 1-4: negotiate a fee with
// the dealer, build A's own blinded outputs, and ask the gateway for a
// Lightning invoice covering both. Returns the invoice the caller (or an
// external payer) must pay, and the preimage_hash this flow is keyed by.
func (a *Alice) RequestReceive(ctx context.Context, amount uint64, gatewayPubkey, dealerPubkey string) (invoice string, preimageHash string, err error) {
	keyset, err := a.ActiveKeyset()
	if err != nil {
		return "", "", err
	}

	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return "", "", err
	}
	hash := sha256.Sum256(preimage[:])
	preimageHash = hex.EncodeToString(hash[:])

	feeResp, err := a.Bus.Call(ctx, dealerPubkey, "request_dealer_fee", map[string]any{
		"preimage_hash": preimageHash,
		"amount":        amount,
	}, messaging.DefaultTimeout)
	if err != nil {
		return "", "", fmt.Errorf("requesting dealer fee: %w", err)
	}
	if feeResp.Error != nil {
		return "", "", feeResp.Error
	}
	var feeResult requestDealerFeeResult
	if err := json.Unmarshal(feeResp.Result, &feeResult); err != nil {
		return "", "", fmt.Errorf("decoding dealer fee response: %w", err)
	}

	aliceCond := contract.SpendingCondition{
		Kind: contract.P2PK,
		Data: a.PubKeyHex(),
		Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
	}
	aliceOutputs, err := blindedoutput.New(amount, keyset.Id, aliceCond)
	if err != nil {
		return "", "", fmt.Errorf("building blinded outputs: %w", err)
	}

	a.mu.Lock()
	a.pending[preimageHash] = &PendingHTLCRequest{
		Outputs:   aliceOutputs,
		Amount:    amount,
		Preimage:  hex.EncodeToString(preimage[:]),
		Timestamp: time.Now(),
	}
	a.done[preimageHash] = make(chan struct{})
	a.mu.Unlock()

	// The dealer's blinded_signatures RPC is the normal completion signal;
	// Track just registers the set so a live proof-state subscription
	// (out of scope here) could also drive it, and so Forget has a
	// matching entry to clean up.
	a.Tracker.Track(preimageHash, aliceOutputYs(aliceOutputs), func(map[string]string) {})

	blindedMessages := append(contract.BlindedMessages{}, feeResult.BlindedMessages...)
	blindedMessages = append(blindedMessages, aliceOutputs.Messages...)

	invResp, err := a.Bus.Call(ctx, gatewayPubkey, "make_invoice", map[string]any{
		"amount":           amount + feeResult.FeeAmount,
		"preimage_hash":    preimageHash,
		"blinded_messages": blindedMessages,
		"dealer_pubkey":    dealerPubkey,
	}, messaging.DefaultTimeout)
	if err != nil {
		a.forget(preimageHash)
		return "", "", fmt.Errorf("requesting invoice: %w", err)
	}
	if invResp.Error != nil {
		a.forget(preimageHash)
		return "", "", invResp.Error
	}
	var invResult makeInvoiceResult
	if err := json.Unmarshal(invResp.Result, &invResult); err != nil {
		return "", "", fmt.Errorf("decoding invoice response: %w", err)
	}

	a.LogInfof("requested receive of %d sats (fee %d), preimage_hash=%s", amount, feeResult.FeeAmount, preimageHash)
	return invResult.Invoice, preimageHash, nil
}

type blindedSignaturesParams struct {
	PreimageHash      string                     `json:"preimage_hash"`
	BlindedSignatures contract.BlindedSignatures `json:"blinded_signatures"`
}

type blindedSignaturesResult struct {
	Success     bool   `json:"success"`
	TotalAmount uint64 `json:"total_amount"`
}

// handleBlindedSignatures is spec.md §4.5.1 step 8, delivered as an
// inbound RPC from the dealer: unblind against the retained OutputData,
// validate each proof's secret, and store them.
func (a *Alice) handleBlindedSignatures(ctx context.Context, from string, method string, raw json.RawMessage) (any, error) {
	var params blindedSignaturesParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}

	a.mu.Lock()
	pending, ok := a.pending[params.PreimageHash]
	a.mu.Unlock()
	if !ok {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: "no pending receive request for this preimage_hash"}
	}

	keyset, err := a.ActiveKeyset()
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	proofs, err := pending.Outputs.Unblind(params.BlindedSignatures, keyset.KeyMap())
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}
	for _, p := range proofs {
		secret, err := contract.DeserializeSecret(p.Secret)
		if err != nil {
			return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
		}
		if secret.Data != a.PubKeyHex() {
			return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "received proof not locked to this peer"}
		}
	}

	if err := a.Store.Save(proofs); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}
	a.notifyDone(params.PreimageHash)
	a.forget(params.PreimageHash)
	a.Tracker.Forget(params.PreimageHash)

	a.LogInfof("received %d sats for preimage_hash=%s", proofs.Amount(), params.PreimageHash)
	return blindedSignaturesResult{Success: true, TotalAmount: proofs.Amount()}, nil
}

func (a *Alice) forget(preimageHash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, preimageHash)
	delete(a.done, preimageHash)
}

func (a *Alice) notifyDone(preimageHash string) {
	a.mu.Lock()
	ch, ok := a.done[preimageHash]
	delete(a.done, preimageHash)
	a.mu.Unlock()
	if ok {
		close(ch)
	}
}

type payInvoiceResult struct {
	Preimage string `json:"preimage"`
	FeesPaid uint64 `json:"fees_paid"`
}

// Send drives spec.md §4.5.2: decode the invoice, build a single-party
// HTLC-locked token covering its amount (plus a P2PK change output back
// to A for any unspent balance from the inputs the mint swap consumes),
// and hand it to the gateway to settle.
func (a *Alice) Send(ctx context.Context, invoice string, gatewayPubkey string, amountOverride uint64) (preimage string, err error) {
	decoded, err := decodepay.Decodepay(invoice)
	if err != nil {
		return "", fmt.Errorf("invalid invoice: %w", err)
	}
	if decoded.PaymentHash == "" {
		return "", fmt.Errorf("invoice missing payment hash")
	}

	amountSat := uint64(decoded.MSatoshi / 1000)
	if amountOverride != 0 {
		if amountSat != 0 && amountSat != amountOverride {
			return "", fmt.Errorf("amount override %d does not match invoice amount %d", amountOverride, amountSat)
		}
		amountSat = amountOverride
	}
	if amountSat == 0 {
		return "", fmt.Errorf("no amount specified by invoice or caller")
	}

	keyset, err := a.ActiveKeyset()
	if err != nil {
		return "", err
	}

	inputs, err := a.Store.SelectForSpend(amountSat)
	if err != nil {
		return "", fmt.Errorf("selecting proofs to spend: %w", err)
	}
	change := inputs.Amount() - amountSat

	locktime := time.Now().Add(DefaultSendLocktime).Unix()
	if decoded.Expiry > 0 {
		locktime = int64(decoded.CreatedAt + decoded.Expiry)
	}
	htlcCond := contract.SpendingCondition{
		Kind: contract.HTLC,
		Data: decoded.PaymentHash,
		Tags: [][]string{
			{contract.TagSigflag, contract.SigInputs},
			{contract.TagLocktime, strconv.FormatInt(locktime, 10)},
			{contract.TagRefund, a.PubKeyHex()},
		},
	}
	htlcSet, err := blindedoutput.New(amountSat, keyset.Id, htlcCond)
	if err != nil {
		return "", err
	}

	outputs := append(contract.BlindedMessages{}, htlcSet.Messages...)
	var changeSet *blindedoutput.Set
	if change > 0 {
		changeCond := contract.SpendingCondition{
			Kind: contract.P2PK,
			Data: a.PubKeyHex(),
			Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
		}
		changeSet, err = blindedoutput.New(change, keyset.Id, changeCond)
		if err != nil {
			return "", err
		}
		outputs = append(outputs, changeSet.Messages...)
	}

	signedInputs, err := peer.SignP2PKInputs(inputs, a.PrivKey())
	if err != nil {
		return "", err
	}

	sigs, err := a.Mint.Swap(signedInputs, outputs)
	if err != nil {
		return "", fmt.Errorf("mint swap: %w", err)
	}

	htlcProofs, err := htlcSet.Unblind(sigs[:len(htlcSet.Messages)], keyset.KeyMap())
	if err != nil {
		return "", err
	}
	if changeSet != nil {
		changeProofs, err := changeSet.Unblind(sigs[len(htlcSet.Messages):], keyset.KeyMap())
		if err != nil {
			return "", err
		}
		if err := a.Store.Save(changeProofs); err != nil {
			return "", err
		}
	}
	if err := a.Store.Remove(inputs); err != nil {
		return "", err
	}

	token, err := contract.NewTokenV4(htlcProofs, a.Mint.MintURL, "")
	if err != nil {
		return "", err
	}
	tokenStr, err := token.Serialize()
	if err != nil {
		return "", err
	}

	resp, err := a.Bus.Call(ctx, gatewayPubkey, "pay_invoice", map[string]any{
		"invoice": invoice,
		"token":   tokenStr,
	}, messaging.DefaultTimeout)
	if err != nil {
		return "", fmt.Errorf("pay_invoice: %w", err)
	}
	if resp.Error != nil {
		return "", resp.Error
	}

	var result payInvoiceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("decoding pay_invoice response: %w", err)
	}

	proofHash := sha256.Sum256(mustDecodeHex(result.Preimage))
	if hex.EncodeToString(proofHash[:]) != decoded.PaymentHash {
		return "", fmt.Errorf("gateway returned preimage not matching invoice payment hash")
	}

	a.LogInfof("paid invoice of %d sats via gateway %s", amountSat, gatewayPubkey)
	return result.Preimage, nil
}

func mustDecodeHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

// aliceOutputYs computes the Y point (hex) of each secret in a set, the
// key space the proof-state tracker and proof store both index by.
func aliceOutputYs(set *blindedoutput.Set) []string {
	secrets := set.Secrets()
	ys := make([]string, len(secrets))
	for i, secret := range secrets {
		ys[i] = hex.EncodeToString(crypto.HashToCurve([]byte(secret)).SerializeCompressed())
	}
	return ys
}
