// Package blindedoutput builds and unblinds the blinded-message sets a
// peer sends to the mint: fresh secrets carrying a spending condition,
// blinding factors, and the resulting proofs once the mint signs.
package blindedoutput

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
)

var ErrLengthMismatch = errors.New("blinded signatures, secrets and blinding factors have different lengths")

// Set is a batch of blinded messages alongside the secrets and blinding
// factors needed to unblind the mint's signatures into spendable proofs.
// Built by New, sorted by amount then by B_ so callers producing a
// SIG_ALL digest over it get a deterministic point ordering.
type Set struct {
	Messages contract.BlindedMessages
	secrets  []string
	rs       []*secp256k1.PrivateKey
}

// New builds a Set of blinded messages covering amount, split into
// power-of-two denominations, each locked with cond under the given
// keyset id. Passing an AnyoneCanSpend condition (Data and Tags both
// zero value) produces freely-spendable outputs.
func New(amount uint64, keysetId string, cond contract.SpendingCondition) (*Set, error) {
	amounts := contract.AmountSplit(amount)

	messages := make(contract.BlindedMessages, len(amounts))
	secrets := make([]string, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))

	for i, amt := range amounts {
		secret, err := newSecret(cond)
		if err != nil {
			return nil, err
		}

		blindingFactorBytes := make([]byte, 32)
		if _, err := rand.Read(blindingFactorBytes); err != nil {
			return nil, err
		}

		B_, blindingFactor := crypto.BlindMessage([]byte(secret), blindingFactorBytes)
		messages[i] = contract.BlindedMessage{
			Amount: amt,
			B_:     hex.EncodeToString(B_.SerializeCompressed()),
			Id:     keysetId,
		}
		secrets[i] = secret
		rs[i] = blindingFactor
	}

	set := &Set{Messages: messages, secrets: secrets, rs: rs}
	set.sort()
	return set, nil
}

func newSecret(cond contract.SpendingCondition) (string, error) {
	if cond.Kind == contract.AnyoneCanSpend {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return "", err
		}
		return hex.EncodeToString(secretBytes), nil
	}
	return contract.NewSecret(cond)
}

// sort orders messages (and the parallel secrets/rs slices) by amount
// ascending, breaking ties by B_ so a given set always serializes to the
// same point list regardless of construction order.
func (s *Set) sort() {
	idx := make([]int, len(s.Messages))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ma, mb := s.Messages[idx[a]], s.Messages[idx[b]]
		if ma.Amount != mb.Amount {
			return ma.Amount < mb.Amount
		}
		return ma.B_ < mb.B_
	})

	messages := make(contract.BlindedMessages, len(s.Messages))
	secrets := make([]string, len(s.secrets))
	rs := make([]*secp256k1.PrivateKey, len(s.rs))
	for newPos, oldPos := range idx {
		messages[newPos] = s.Messages[oldPos]
		secrets[newPos] = s.secrets[oldPos]
		rs[newPos] = s.rs[oldPos]
	}
	s.Messages, s.secrets, s.rs = messages, secrets, rs
}

// Secrets returns the underlying proof secrets in Messages order, for use
// building a SIG_ALL digest or signing a single-proof request.
func (s *Set) Secrets() []string {
	return s.secrets
}

// Unblind turns the mint's blinded signatures into spendable proofs using
// this set's blinding factors. keys maps amount to the mint's public key
// for that denomination (from the active keyset).
func (s *Set) Unblind(signatures contract.BlindedSignatures, keys map[uint64]*secp256k1.PublicKey) (contract.Proofs, error) {
	if len(signatures) != len(s.secrets) || len(signatures) != len(s.rs) {
		return nil, ErrLengthMismatch
	}

	proofs := make(contract.Proofs, len(signatures))
	for i, sig := range signatures {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, fmt.Errorf("invalid C_: %w", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid C_: %w", err)
		}

		K, ok := keys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("no mint key for amount %d", sig.Amount)
		}

		C := crypto.UnblindSignature(C_, s.rs[i], K)
		proofs[i] = contract.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: s.secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs, nil
}
