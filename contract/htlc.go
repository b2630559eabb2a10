package contract

import (
	"crypto/sha256"
	"fmt"
)

// NewHTLCSecret builds a fresh HTLC-locked secret. data is the payment hash
// (hex-encoded sha256 of the preimage); the hashlock pubkey and the refund
// path live in tags, same as P2PK's pubkeys/refund tags.
func NewHTLCSecret(paymentHashHex string, tags [][]string) (string, error) {
	return NewSecret(SpendingCondition{Kind: HTLC, Data: paymentHashHex, Tags: tags})
}

// VerifyPreimage checks that sha256(preimage) equals the payment hash
// carried in an HTLC secret's Data field.
func VerifyPreimage(secret WellKnownSecret, preimageHex string) bool {
	preimage, err := decodeHex(preimageHex)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(preimage)
	paymentHash, err := decodeHex(secret.Data)
	if err != nil || len(paymentHash) != len(hash) {
		return false
	}
	for i := range hash {
		if hash[i] != paymentHash[i] {
			return false
		}
	}
	return true
}

// VerifyHTLCWitness checks an HTLC proof's witness against its secret: the
// preimage must hash to the payment hash, and if the pubkeys tag names
// hashlock keys, n_sigs of them must have signed. The locktime and refund
// tags are not consulted here (see VerifyHTLCRefund). digest is the message the signatures commit to
// (either the proof's own secret for SIG_INPUTS, or the SIG_ALL digest).
func VerifyHTLCWitness(secret WellKnownSecret, w Witness, digest []byte) error {
	if secret.Data == "" {
		return fmt.Errorf("%w: missing payment hash", ErrInvalidSecret)
	}
	if w.Preimage == "" {
		return fmt.Errorf("%w: missing preimage", ErrInvalidWitness)
	}
	if !VerifyPreimage(secret, w.Preimage) {
		return fmt.Errorf("%w: preimage does not match payment hash", ErrInvalidWitness)
	}

	tags, err := ParseTags(secret.Tags)
	if err != nil {
		return err
	}

	// No hashlock pubkeys: preimage alone unlocks the spend.
	if len(tags.Pubkeys) == 0 {
		return nil
	}

	required := tags.NSigs
	if required < 1 {
		required = 1
	}
	if !HasValidSignatures(digest, w.Signatures, required, tags.Pubkeys) {
		return fmt.Errorf("%w: not enough valid hashlock signatures", ErrInvalidWitness)
	}
	return nil
}

// VerifyHTLCRefund checks a refund-path spend: no preimage is presented,
// the secret's locktime must have passed, and the refund tag's signature
// requirement must be met.
func VerifyHTLCRefund(secret WellKnownSecret, w Witness, digest []byte, now int64) error {
	tags, err := ParseTags(secret.Tags)
	if err != nil {
		return err
	}
	if tags.Locktime == 0 || now < tags.Locktime {
		return fmt.Errorf("%w: refund attempted before locktime", ErrInvalidWitness)
	}
	if len(tags.Refund) == 0 {
		return nil
	}
	required := tags.NSigsRefund
	if required < 1 {
		required = 1
	}
	if !HasValidSignatures(digest, w.Signatures, required, tags.Refund) {
		return fmt.Errorf("%w: not enough valid refund signatures", ErrInvalidWitness)
	}
	return nil
}
