package crypto

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestSchnorrSignAndVerify(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("htlcswap")

	sig, err := SchnorrSign(key, msg)
	if err != nil {
		t.Fatal(err)
	}

	if !SchnorrVerify(sig, msg, key.PubKey()) {
		t.Fatal("expected signature to verify against signer's own key")
	}
	if SchnorrVerify(sig, []byte("different"), key.PubKey()) {
		t.Fatal("expected signature to fail against a different message")
	}
}

func TestParsePublicKeyBothForms(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	compressed := key.PubKey().SerializeCompressed()

	pk, err := ParsePublicKey(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !pk.IsEqual(key.PubKey()) {
		t.Fatal("expected parsed 33-byte key to match original")
	}

	xonly := compressed[1:]
	if _, err := ParsePublicKey(xonly); err != nil {
		t.Fatal(err)
	}
}
