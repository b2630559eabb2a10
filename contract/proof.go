// Package contract implements the Cashu secret/witness encoding shared by
// all three peers: the two well-known secret kinds (P2PK, HTLC), their
// witness envelopes, and the wire types (Proof, BlindedMessage,
// BlindedSignature) that carry them between a peer and the mint.
package contract

import (
	"encoding/hex"
	"errors"
)

var (
	ErrInvalidSecret  = errors.New("invalid secret")
	ErrInvalidWitness = errors.New("invalid witness")
	ErrInvalidHex     = errors.New("invalid hex")
)

// Unit is the only unit this protocol deals in.
const Unit = "sat"

// BlindedMessage is what a peer hands to the mint to be signed.
type BlindedMessage struct {
	Amount  uint64 `json:"amount"`
	B_      string `json:"B_"`
	Id      string `json:"id"`
	Witness string `json:"witness,omitempty"`
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var total uint64
	for _, m := range bm {
		total += m.Amount
	}
	return total
}

func (bm BlindedMessages) Points() []string {
	points := make([]string, len(bm))
	for i, m := range bm {
		points[i] = m.B_
	}
	return points
}

// BlindedSignature is the mint's signature over a BlindedMessage.
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var total uint64
	for _, s := range bs {
		total += s.Amount
	}
	return total
}

// Proof is a spendable unit: a secret the holder knows, and the mint's
// signature C over H2C(secret).
type Proof struct {
	Amount  uint64 `json:"amount"`
	Id      string `json:"id"`
	Secret  string `json:"secret"`
	C       string `json:"C"`
	Witness string `json:"witness,omitempty"`
}

type Proofs []Proof

func (proofs Proofs) Amount() uint64 {
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

func (proofs Proofs) Secrets() []string {
	secrets := make([]string, len(proofs))
	for i, p := range proofs {
		secrets[i] = p.Secret
	}
	return secrets
}

// AmountSplit returns the power-of-two denominations (descending bit
// position, ascending when read in natural order) that sum to amount, e.g.
// 13 -> [1, 4, 8]. Ported from the mint's greedy split algorithm; used here
// by the blinded-output engine to build denomination sets.
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

func CheckDuplicateProofs(proofs Proofs) bool {
	seen := make(map[Proof]bool, len(proofs))
	for _, p := range proofs {
		if seen[p] {
			return true
		}
		seen[p] = true
	}
	return false
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidHex
	}
	return b, nil
}
