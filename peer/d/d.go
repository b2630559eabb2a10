// Package d implements the Dealer (D), the liquidity intermediary who
// charges a flat fee for brokering a receive flow: it quotes its fee and
// blinded outputs to Alice (spec.md §4.5.1 step 2), then completes the
// HTLC swap the gateway hands it once the Lightning payment settles
// (spec.md §4.5.1 step 7) and forwards Alice her share.
package d

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/elnosh/htlcswap/blindedoutput"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
	"github.com/elnosh/htlcswap/messaging"
	"github.com/elnosh/htlcswap/peer"
)

// PendingDealerFee is D's record of a fee quote it has issued but not yet
// redeemed, keyed by preimage_hash.
type PendingDealerFee struct {
	Outputs   *blindedoutput.Set
	Amount    uint64
	Timestamp time.Time
}

type Dealer struct {
	*peer.Base

	// Fee is the flat sat amount D charges per receive flow (spec.md §9:
	// fees here are a fixed amount, not a percentage).
	Fee uint64

	mu      sync.Mutex
	pending map[string]*PendingDealerFee
}

func New(base *peer.Base, fee uint64) *Dealer {
	d := &Dealer{Base: base, Fee: fee, pending: make(map[string]*PendingDealerFee)}
	d.Bus.Handle("request_dealer_fee", d.handleRequestDealerFee)
	d.Bus.Handle("swap_htlc", d.handleSwapHTLC)
	return d
}

type requestDealerFeeParams struct {
	PreimageHash string `json:"preimage_hash"`
	Amount       uint64 `json:"amount"`
}

type requestDealerFeeResult struct {
	FeeAmount       uint64                   `json:"fee_amount"`
	BlindedMessages contract.BlindedMessages `json:"blinded_messages"`
}

// handleRequestDealerFee is spec.md §4.5.1 step 2: D quotes its flat fee
// and builds the P2PK blinded outputs it wants that fee paid into,
// remembering them so it can unblind its own share once the swap lands.
func (d *Dealer) handleRequestDealerFee(ctx context.Context, from string, method string, raw json.RawMessage) (any, error) {
	var params requestDealerFeeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}
	if params.PreimageHash == "" || params.Amount == 0 {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "preimage_hash and amount required"}
	}

	d.mu.Lock()
	if _, exists := d.pending[params.PreimageHash]; exists {
		d.mu.Unlock()
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "fee already quoted for this preimage_hash"}
	}
	d.mu.Unlock()

	keyset, err := d.ActiveKeyset()
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	feeCond := contract.SpendingCondition{
		Kind: contract.P2PK,
		Data: d.PubKeyHex(),
		Tags: [][]string{{contract.TagSigflag, contract.SigInputs}},
	}
	outputs, err := blindedoutput.New(d.Fee, keyset.Id, feeCond)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	d.mu.Lock()
	d.pending[params.PreimageHash] = &PendingDealerFee{
		Outputs:   outputs,
		Amount:    d.Fee,
		Timestamp: time.Now(),
	}
	d.mu.Unlock()

	d.LogInfof("quoted fee of %d sats for preimage_hash=%s", d.Fee, params.PreimageHash)
	return requestDealerFeeResult{FeeAmount: d.Fee, BlindedMessages: outputs.Messages}, nil
}

type swapHTLCParams struct {
	HTLCToken           string                   `json:"htlc_token"`
	BlindedMessages     contract.BlindedMessages `json:"blinded_messages"`
	RequestPreimageHash string                   `json:"request_preimage_hash"`
	Preimage            string                   `json:"preimage"`
	AlicePubkey         string                   `json:"alice_pubkey"`
}

type swapHTLCResult struct {
	Success bool `json:"success"`
}

// handleSwapHTLC is spec.md §4.5.1 step 7: decode the gateway's HTLC
// token, verify the preimage and SIG_ALL witness it carries, swap it into
// D's fee outputs plus Alice's outputs, keep D's share and forward the
// rest to Alice.
func (d *Dealer) handleSwapHTLC(ctx context.Context, from string, method string, raw json.RawMessage) (any, error) {
	var params swapHTLCParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}

	d.mu.Lock()
	pending, ok := d.pending[params.RequestPreimageHash]
	d.mu.Unlock()
	if !ok {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "no fee quote for this preimage_hash"}
	}

	token, err := contract.DecodeToken(params.HTLCToken)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}
	htlcProofs := token.Proofs()
	if len(htlcProofs) == 0 {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: "empty htlc token"}
	}

	secret, err := contract.DeserializeSecret(htlcProofs[0].Secret)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}
	witness, err := contract.ParseWitness(htlcProofs[0].Witness)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: err.Error()}
	}

	outputs := append(contract.BlindedMessages{}, pending.Outputs.Messages...)
	outputs = append(outputs, params.BlindedMessages...)

	digest := crypto.SigAllDigest(htlcProofs.Secrets(), outputs.Points())
	if err := contract.VerifyHTLCWitness(secret, witness, digest[:]); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInvalidParams, Message: fmt.Sprintf("invalid htlc witness: %v", err)}
	}

	keyset, err := d.ActiveKeyset()
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	sigs, err := d.Mint.Swap(htlcProofs, outputs)
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	boundary := len(pending.Outputs.Messages)
	feeSigs := sigs[:boundary]
	aliceSigs := sigs[boundary:]

	feeProofs, err := pending.Outputs.Unblind(feeSigs, keyset.KeyMap())
	if err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}
	if err := d.Store.Save(feeProofs); err != nil {
		return nil, &messaging.Error{Code: messaging.ErrCodeInternal, Message: err.Error()}
	}

	d.mu.Lock()
	delete(d.pending, params.RequestPreimageHash)
	d.mu.Unlock()

	if params.AlicePubkey != "" {
		resp, err := d.Bus.Call(context.Background(), params.AlicePubkey, "blinded_signatures", map[string]any{
			"preimage_hash":      params.RequestPreimageHash,
			"blinded_signatures": aliceSigs,
		}, messaging.DefaultTimeout)
		if err != nil {
			d.LogErrorf("forwarding signatures to alice_pubkey=%s: %v", params.AlicePubkey, err)
		} else if resp.Error != nil {
			d.LogErrorf("alice rejected forwarded signatures: %v", resp.Error)
		}
	}

	d.LogInfof("completed swap_htlc for preimage_hash=%s, kept fee of %d sats", params.RequestPreimageHash, feeProofs.Amount())
	return swapHTLCResult{Success: true}, nil
}
