package contract

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/elnosh/htlcswap/crypto"
)

func TestIsSigAll(t *testing.T) {
	tests := []struct {
		tags     [][]string
		expected bool
	}{
		{tags: [][]string{}, expected: false},
		{tags: [][]string{{"sigflag", "SIG_INPUTS"}}, expected: false},
		{
			tags: [][]string{
				{"locktime", "882912379"},
				{"sigflag", "SIG_ALL"},
			},
			expected: true,
		},
	}

	for _, test := range tests {
		secret := WellKnownSecret{Tags: test.tags}
		if result := IsSigAll(secret); result != test.expected {
			t.Fatalf("expected '%v' but got '%v'", test.expected, result)
		}
	}
}

func TestVerifyP2PKWitness(t *testing.T) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pubkeyHex := hex.EncodeToString(privKey.PubKey().SerializeCompressed())

	secretStr, err := NewP2PKSecret(pubkeyHex, nil)
	if err != nil {
		t.Fatal(err)
	}
	secret, err := DeserializeSecret(secretStr)
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte(secretStr)
	sig, err := crypto.SchnorrSign(privKey, msg)
	if err != nil {
		t.Fatal(err)
	}

	w := Witness{}.AddSignature(hex.EncodeToString(sig.Serialize()))
	if err := VerifyP2PKWitness(secret, w, msg); err != nil {
		t.Fatalf("expected valid witness, got error: %v", err)
	}

	wrong := Witness{}.AddSignature(hex.EncodeToString(sig.Serialize()))
	if err := VerifyP2PKWitness(secret, wrong, []byte("different message")); err == nil {
		t.Fatal("expected signature over wrong message to fail")
	}
}

func TestHasValidSignaturesRejectsOneKeyCoveringTwoSlots(t *testing.T) {
	privKey, _ := btcec.NewPrivateKey()
	msg := []byte("sig_all digest")

	sig1, err := crypto.SchnorrSign(privKey, msg)
	if err != nil {
		t.Fatal(err)
	}
	sig2, err := crypto.SchnorrSign(privKey, msg)
	if err != nil {
		t.Fatal(err)
	}

	signatures := []string{hex.EncodeToString(sig1.Serialize()), hex.EncodeToString(sig2.Serialize())}
	pubkeys := []*btcec.PublicKey{privKey.PubKey()}

	if HasValidSignatures(msg, signatures, 2, pubkeys) {
		t.Fatal("expected a single pubkey's two signatures to satisfy only one required slot, not two")
	}
	if !HasValidSignatures(msg, signatures, 1, pubkeys) {
		t.Fatal("expected the same signatures to still satisfy a single required slot")
	}
}

func TestVerifyP2PKWitnessRequiresEnoughSignatures(t *testing.T) {
	privKey1, _ := btcec.NewPrivateKey()
	privKey2, _ := btcec.NewPrivateKey()
	pubkeyHex := hex.EncodeToString(privKey1.PubKey().SerializeCompressed())
	pubkey2Hex := hex.EncodeToString(privKey2.PubKey().SerializeCompressed())

	secretStr, err := NewP2PKSecret(pubkeyHex, [][]string{
		{"pubkeys", pubkey2Hex},
		{"n_sigs", "2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	secret, err := DeserializeSecret(secretStr)
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte(secretStr)
	sig1, _ := crypto.SchnorrSign(privKey1, msg)
	w := Witness{}.AddSignature(hex.EncodeToString(sig1.Serialize()))

	if err := VerifyP2PKWitness(secret, w, msg); err == nil {
		t.Fatal("expected one signature to be insufficient when n_sigs is 2")
	}

	sig2, _ := crypto.SchnorrSign(privKey2, msg)
	w = w.AddSignature(hex.EncodeToString(sig2.Serialize()))
	if err := VerifyP2PKWitness(secret, w, msg); err != nil {
		t.Fatalf("expected two signatures to satisfy n_sigs=2, got error: %v", err)
	}
}
