package contract

import "encoding/json"

// Witness is the single envelope both P2PK and HTLC proofs attach to their
// Witness string field: zero or more signatures, and a preimage when the
// secret is HTLC. A P2PK witness just leaves Preimage empty.
type Witness struct {
	Signatures []string `json:"signatures,omitempty"`
	Preimage   string   `json:"preimage,omitempty"`
}

func (w Witness) Serialize() (string, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ParseWitness(raw string) (Witness, error) {
	var w Witness
	if raw == "" {
		return w, nil
	}
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Witness{}, ErrInvalidWitness
	}
	return w, nil
}

// AddSignature appends sig to w.Signatures, returning the updated witness.
func (w Witness) AddSignature(sigHex string) Witness {
	w.Signatures = append(w.Signatures, sigHex)
	return w
}

// VerifyP2PKWitness checks a P2PK proof's witness against its secret's
// locking key(s). digest is the message the signatures commit to (the
// proof's own secret under SIG_INPUTS, or the shared SIG_ALL digest).
func VerifyP2PKWitness(secret WellKnownSecret, w Witness, digest []byte) error {
	tags, err := ParseTags(secret.Tags)
	if err != nil {
		return err
	}
	pubkeys, err := PublicKeys(secret)
	if err != nil {
		return err
	}

	// Only the data pubkey and the pubkeys tag are checked, against n_sigs;
	// the locktime and refund tags are not consulted here.
	required := tags.NSigs
	if required < 1 {
		required = 1
	}
	if !HasValidSignatures(digest, w.Signatures, required, pubkeys) {
		return ErrInvalidWitness
	}
	return nil
}
