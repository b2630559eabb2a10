package contract

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type SecretKind int

const (
	AnyoneCanSpend SecretKind = iota
	P2PK
	HTLC
)

func (kind SecretKind) String() string {
	switch kind {
	case P2PK:
		return "P2PK"
	case HTLC:
		return "HTLC"
	default:
		return "anyonecanspend"
	}
}

// WellKnownSecret is the common shape behind both P2PK and HTLC secrets:
// a fresh nonce, a kind-specific data field (a pubkey for P2PK, a
// preimage hash for HTLC), and a set of string-array tags.
type WellKnownSecret struct {
	Nonce string     `json:"nonce"`
	Data  string     `json:"data"`
	Tags  [][]string `json:"tags"`
}

// SpendingCondition is the caller-facing description of a lock to place on
// a fresh secret.
type SpendingCondition struct {
	Kind SecretKind
	Data string
	Tags [][]string
}

// NewSecret generates a fresh 32-byte nonce and serializes the spending
// condition into the two-element JSON array form `["KIND", {...}]` that
// spec.md §6 mandates for the Secret field of a Proof/BlindedMessage.
func NewSecret(cond SpendingCondition) (string, error) {
	if cond.Kind != P2PK && cond.Kind != HTLC {
		return "", fmt.Errorf("%w: invalid kind %q for new secret", ErrInvalidSecret, cond.Kind)
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}

	secretData := WellKnownSecret{
		Nonce: hex.EncodeToString(nonceBytes),
		Data:  cond.Data,
		Tags:  cond.Tags,
	}
	return SerializeSecret(cond.Kind, secretData)
}

func SerializeSecret(kind SecretKind, data WellKnownSecret) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%q, %s]", kind.String(), jsonData), nil
}

// DeserializeSecret parses the two-element JSON array form. Callers that
// only want to classify an arbitrary secret (which may be a plain random
// string, not a well-known secret) should use SecretType first.
func DeserializeSecret(secret string) (WellKnownSecret, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(secret), &raw); err != nil {
		return WellKnownSecret{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if len(raw) < 2 {
		return WellKnownSecret{}, fmt.Errorf("%w: length < 2", ErrInvalidSecret)
	}

	var kind string
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return WellKnownSecret{}, fmt.Errorf("%w: invalid kind", ErrInvalidSecret)
	}

	var data WellKnownSecret
	if err := json.Unmarshal(raw[1], &data); err != nil {
		return WellKnownSecret{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return data, nil
}

// SecretType classifies a proof's secret. Secrets that are not valid
// well-known secrets (e.g. plain random strings) are AnyoneCanSpend.
func SecretType(secret string) SecretKind {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(secret), &raw); err != nil {
		return AnyoneCanSpend
	}
	if len(raw) < 2 {
		return AnyoneCanSpend
	}

	var kind string
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return AnyoneCanSpend
	}

	switch kind {
	case "P2PK":
		return P2PK
	case "HTLC":
		return HTLC
	default:
		return AnyoneCanSpend
	}
}
