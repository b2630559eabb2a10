package contract

import "testing"

func TestNewSecretAndDeserialize(t *testing.T) {
	secret, err := NewP2PKSecret("02"+"11"+"22", [][]string{{"sigflag", "SIG_INPUTS"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if SecretType(secret) != P2PK {
		t.Fatalf("expected P2PK secret type")
	}

	parsed, err := DeserializeSecret(secret)
	if err != nil {
		t.Fatalf("unexpected error deserializing: %v", err)
	}
	if len(parsed.Nonce) != 64 {
		t.Fatalf("expected 32-byte hex nonce, got length %d", len(parsed.Nonce))
	}
}

func TestSecretTypeDefaultsToAnyoneCanSpend(t *testing.T) {
	if SecretType("not-a-well-known-secret") != AnyoneCanSpend {
		t.Fatal("expected plain string secret to classify as AnyoneCanSpend")
	}
	if SecretType(`["P2PK"]`) != AnyoneCanSpend {
		t.Fatal("expected malformed well-known secret to classify as AnyoneCanSpend")
	}
}

func TestNewSecretRejectsAnyoneCanSpendKind(t *testing.T) {
	if _, err := NewSecret(SpendingCondition{Kind: AnyoneCanSpend}); err == nil {
		t.Fatal("expected error constructing a well-known secret with AnyoneCanSpend kind")
	}
}
