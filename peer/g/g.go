// Package g implements the Gateway (G), the Lightning-facing peer: it
// issues the HODL invoice the external payer settles (spec.md §4.5.1
// steps 4-6), and pays invoices on Alice's behalf by redeeming her
// HTLC-locked token (spec.md §4.5.2 step 3).
package g

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/elnosh/htlcswap/blindedoutput"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
	"github.com/elnosh/htlcswap/lightning"
	"github.com/elnosh/htlcswap/messaging"
	"github.com/elnosh/htlcswap/peer"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// InvoiceExpiry is how far out G's HODL invoices expire, and the
// HTLC locktime it mints against (spec.md §4.5.1 step 6).
const InvoiceExpiry = time.Hour

// PendingReceiveRequest is G's record of an in-flight receive flow,
// keyed by the invoice's payment_hash, the authoritative key per
// spec.md §9 (preimage_hash is echoed back for correlation only).
type PendingReceiveRequest struct {
	RequesterPubkey string
	DealerPubkey    string
	BlindedMessages contract.BlindedMessages
	RequestPreimageHash string
	Timestamp       time.Time
	settled         bool
}

type Gateway struct {
	*peer.Base
	Lightning lightning.HodlClient

	mu      sync.Mutex
	pending map[string]*PendingReceiveRequest
}

func New(base *peer.Base, ln lightning.HodlClient) *Gateway {
	g := &Gateway{Base: base, Lightning: ln, pending: make(map[string]*PendingReceiveRequest)}
	g.Bus.Handle("make_invoice", g.handleMakeInvoice)
	g.Bus.Handle("pay_invoice", g.handlePayInvoice)
	return g
}

type makeInvoiceParams struct {
	Amount          uint64                   `json:"amount"`
	PreimageHash    string                   `json:"preimage_hash"`
	BlindedMessages contract.BlindedMessages `json:"blinded_messages"`
	DealerPubkey    string                   `json:"dealer_pubkey"`
}

type makeInvoiceResult struct {
	Invoice string `json:"invoice"`
}

// handleMakeInvoice is spec.md §4.5.1 step 4: G asks its Lightning
// backend for a HODL invoice bound to preimage_hash and remembers the
// blinded messages it must forward once the payment settles.
func (g *Gateway) handleMakeInvoice(ctx context.Context, from string, method string, raw json.RawMessage) (any, error) {
	var params makeInvoiceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}
	if params.Amount == 0 || len(params.BlindedMessages) == 0 {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "amount and blinded_messages required"}
	}

	inv, err := g.Lightning.MakeInvoice(params.Amount, params.PreimageHash, "htlcswap receive")
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	g.mu.Lock()
	g.pending[inv.PaymentHash] = &PendingReceiveRequest{
		RequesterPubkey:      from,
		DealerPubkey:         params.DealerPubkey,
		BlindedMessages:      params.BlindedMessages,
		RequestPreimageHash:  params.PreimageHash,
		Timestamp:            time.Now(),
	}
	g.mu.Unlock()

	go g.awaitPayment(inv.PaymentHash)

	g.LogInfof("issued invoice for %d sats, payment_hash=%s", params.Amount, inv.PaymentHash)
	return makeInvoiceResult{Invoice: inv.PaymentRequest}, nil
}

// awaitPayment blocks on the Lightning backend's notification stream for
// one invoice and triggers the HTLC mint + swap_htlc handoff once it is
// paid. Delivery is at-least-once, so onPaymentReceived dedupes.
func (g *Gateway) awaitPayment(paymentHash string) {
	notifications, err := g.Lightning.Subscribe(paymentHash)
	if err != nil {
		g.LogErrorf("subscribing to payment_hash=%s: %v", paymentHash, err)
		return
	}
	for n := range notifications {
		if n.Status != lightning.Succeeded {
			continue
		}
		g.onPaymentReceived(paymentHash, n.Preimage)
		return
	}
}

// onPaymentReceived is spec.md §4.5.1 steps 5-6: G converts its own
// existing proofs into a fresh HTLC-locked transit proof set, signs the
// SIG_ALL digest covering (that transit set, the dealer/alice outputs)
// and attaches the revealed preimage, then hands the package to the
// dealer via swap_htlc.
func (g *Gateway) onPaymentReceived(paymentHash string, preimage string) {
	g.mu.Lock()
	pending, ok := g.pending[paymentHash]
	if ok && pending.settled {
		g.mu.Unlock()
		return
	}
	if ok {
		pending.settled = true
	}
	g.mu.Unlock()
	if !ok {
		g.LogErrorf("payment_received for unknown payment_hash=%s", paymentHash)
		return
	}

	keyset, err := g.ActiveKeyset()
	if err != nil {
		g.LogErrorf("fetching keyset: %v", err)
		return
	}

	amount := pending.BlindedMessages.Amount()
	inputs, err := g.Store.SelectForSpend(amount)
	if err != nil {
		g.LogErrorf("selecting proofs to fund HTLC of %d sats: %v", amount, err)
		return
	}
	change := inputs.Amount() - amount

	locktime := time.Now().Add(InvoiceExpiry).Unix()
	htlcCond := contract.SpendingCondition{
		Kind: contract.HTLC,
		Data: paymentHash,
		Tags: [][]string{
			{contract.TagSigflag, contract.SigAll},
			{contract.TagPubkeys, g.PubKeyHex()},
			{contract.TagNSigs, "1"},
			{contract.TagLocktime, strconv.FormatInt(locktime, 10)},
			{contract.TagRefund, g.PubKeyHex()},
			{contract.TagNSigsRefund, "1"},
		},
	}
	transitSet, err := blindedoutput.New(amount, keyset.Id, htlcCond)
	if err != nil {
		g.LogErrorf("building HTLC outputs: %v", err)
		return
	}

	fundingOutputs := append(contract.BlindedMessages{}, transitSet.Messages...)
	var changeSet *blindedoutput.Set
	if change > 0 {
		changeCond := contract.SpendingCondition{
			Kind: contract.P2PK,
			Data: g.PubKeyHex(),
			Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
		}
		changeSet, err = blindedoutput.New(change, keyset.Id, changeCond)
		if err != nil {
			g.LogErrorf("building change outputs: %v", err)
			return
		}
		fundingOutputs = append(fundingOutputs, changeSet.Messages...)
	}

	signedInputs, err := peer.SignP2PKInputs(inputs, g.PrivKey())
	if err != nil {
		g.LogErrorf("signing inputs: %v", err)
		return
	}

	fundingSigs, err := g.Mint.Swap(signedInputs, fundingOutputs)
	if err != nil {
		g.LogErrorf("funding HTLC swap: %v", err)
		return
	}

	htlcProofs, err := transitSet.Unblind(fundingSigs[:len(transitSet.Messages)], keyset.KeyMap())
	if err != nil {
		g.LogErrorf("unblinding HTLC proofs: %v", err)
		return
	}
	if changeSet != nil {
		changeProofs, err := changeSet.Unblind(fundingSigs[len(transitSet.Messages):], keyset.KeyMap())
		if err != nil {
			g.LogErrorf("unblinding change: %v", err)
			return
		}
		if err := g.Store.Save(changeProofs); err != nil {
			g.LogErrorf("saving change: %v", err)
			return
		}
	}
	if err := g.Store.Remove(inputs); err != nil {
		g.LogErrorf("removing spent inputs: %v", err)
		return
	}

	digest := crypto.SigAllDigest(htlcProofs.Secrets(), pending.BlindedMessages.Points())
	sig, err := crypto.SchnorrSign(g.PrivKey(), digest[:])
	if err != nil {
		g.LogErrorf("signing SIG_ALL digest: %v", err)
		return
	}
	witness := contract.Witness{Signatures: []string{hex.EncodeToString(sig.Serialize())}, Preimage: preimage}
	witnessStr, err := witness.Serialize()
	if err != nil {
		g.LogErrorf("serializing witness: %v", err)
		return
	}
	htlcProofs[0].Witness = witnessStr

	token, err := contract.NewTokenV4(htlcProofs, g.Mint.MintURL, "")
	if err != nil {
		g.LogErrorf("building htlc token: %v", err)
		return
	}
	tokenStr, err := token.Serialize()
	if err != nil {
		g.LogErrorf("serializing htlc token: %v", err)
		return
	}

	resp, err := g.Bus.Call(context.Background(), pending.DealerPubkey, "swap_htlc", map[string]any{
		"htlc_token":            tokenStr,
		"blinded_messages":      pending.BlindedMessages,
		"request_preimage_hash": pending.RequestPreimageHash,
		"preimage":              preimage,
		"alice_pubkey":          pending.RequesterPubkey,
	}, messaging.DefaultTimeout)
	if err != nil {
		g.LogErrorf("swap_htlc to dealer failed, will reclaim at locktime: %v", err)
		go g.reclaimAfterLocktime(paymentHash, htlcProofs, locktime)
		return
	}
	if resp.Error != nil {
		g.LogErrorf("dealer rejected swap_htlc: %v", resp.Error)
		go g.reclaimAfterLocktime(paymentHash, htlcProofs, locktime)
		return
	}

	g.mu.Lock()
	delete(g.pending, paymentHash)
	g.mu.Unlock()
	g.LogInfof("completed receive flow for payment_hash=%s", paymentHash)
}

// reclaimAfterLocktime implements spec.md §4.5.1's edge case: if the
// dealer never completes the swap, G reclaims the HTLC proofs at
// locktime by submitting a refund-signed swap into fresh outputs of its
// own. If the dealer in fact succeeded in the meantime, the mint
// rejects the refund swap with ProofAlreadyUsedErrCode, which this
// treats as confirmation rather than failure.
func (g *Gateway) reclaimAfterLocktime(paymentHash string, htlcProofs contract.Proofs, locktime int64) {
	wait := time.Until(time.Unix(locktime, 0))
	if wait > 0 {
		time.Sleep(wait)
	}

	keyset, err := g.ActiveKeyset()
	if err != nil {
		g.LogErrorf("reclaim: fetching keyset: %v", err)
		return
	}

	recoverCond := contract.SpendingCondition{
		Kind: contract.P2PK,
		Data: g.PubKeyHex(),
		Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
	}
	recoverSet, err := blindedoutput.New(htlcProofs.Amount(), keyset.Id, recoverCond)
	if err != nil {
		g.LogErrorf("reclaim: building recovery outputs: %v", err)
		return
	}

	digest := crypto.SigAllDigest(htlcProofs.Secrets(), recoverSet.Messages.Points())
	sig, err := crypto.SchnorrSign(g.PrivKey(), digest[:])
	if err != nil {
		g.LogErrorf("reclaim: signing refund: %v", err)
		return
	}
	witness := contract.Witness{Signatures: []string{hex.EncodeToString(sig.Serialize())}}
	witnessStr, err := witness.Serialize()
	if err != nil {
		g.LogErrorf("reclaim: serializing witness: %v", err)
		return
	}
	refundInputs := append(contract.Proofs{}, htlcProofs...)
	refundInputs[0].Witness = witnessStr

	sigs, err := g.Mint.Swap(refundInputs, recoverSet.Messages)
	if err != nil {
		if mintErr, ok := err.(contract.MintError); ok && mintErr.Code == contract.ProofAlreadyUsedErrCode {
			g.LogInfof("reclaim skipped for payment_hash=%s: dealer already completed the swap", paymentHash)
			return
		}
		g.LogErrorf("reclaim swap failed: %v", err)
		return
	}

	recoveredProofs, err := recoverSet.Unblind(sigs, keyset.KeyMap())
	if err != nil {
		g.LogErrorf("reclaim: unblinding recovered proofs: %v", err)
		return
	}
	if err := g.Store.Save(recoveredProofs); err != nil {
		g.LogErrorf("reclaim: saving recovered proofs: %v", err)
		return
	}
	g.LogInfof("reclaimed %d sats from expired HTLC for payment_hash=%s", recoveredProofs.Amount(), paymentHash)
}

type payInvoiceParams struct {
	Invoice string `json:"invoice"`
	Token   string `json:"token"`
}

type payInvoiceResult struct {
	Preimage string `json:"preimage"`
	FeesPaid uint64 `json:"fees_paid"`
}

// handlePayInvoice is spec.md §4.5.2 step 3: verify the HTLC token's
// payment hash matches the invoice, pay it, then redeem the HTLC with
// the resulting preimage into fresh outputs of G's own.
func (g *Gateway) handlePayInvoice(ctx context.Context, from string, method string, raw json.RawMessage) (any, error) {
	var params payInvoiceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}

	token, err := contract.DecodeToken(params.Token)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "empty token"}
	}

	secret, err := contract.DeserializeSecret(proofs[0].Secret)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}

	decoded, err := decodepay.Decodepay(params.Invoice)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "invalid invoice: " + err.Error()}
	}
	if secret.Data != decoded.PaymentHash {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "HTLC payment hash does not match invoice"}
	}
	invoiceAmountSat := uint64(decoded.MSatoshi / 1000)
	if proofs.Amount() < invoiceAmountSat {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "HTLC token amount does not cover invoice amount"}
	}

	status, err := g.Lightning.PayInvoice(ctx, params.Invoice, 0)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}
	if status.Status != lightning.Succeeded {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: "payment did not succeed: " + status.Status.String()}
	}

	witnessed := make(contract.Proofs, len(proofs))
	for i, p := range proofs {
		w := contract.Witness{Preimage: status.Preimage}
		ws, err := w.Serialize()
		if err != nil {
			return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
		}
		p.Witness = ws
		witnessed[i] = p
	}

	keyset, err := g.ActiveKeyset()
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}
	outputCond := contract.SpendingCondition{
		Kind: contract.P2PK,
		Data: g.PubKeyHex(),
		Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
	}
	freshSet, err := blindedoutput.New(witnessed.Amount(), keyset.Id, outputCond)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	sigs, err := g.Mint.Swap(witnessed, freshSet.Messages)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}
	freshProofs, err := freshSet.Unblind(sigs, keyset.KeyMap())
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}
	if err := g.Store.Save(freshProofs); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	g.LogInfof("paid invoice for %d sats, redeemed HTLC from %s", witnessed.Amount(), from)
	return payInvoiceResult{Preimage: status.Preimage, FeesPaid: 0}, nil
}
