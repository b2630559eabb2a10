package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ParsePublicKey parses a 32-byte x-only or 33-byte compressed public key.
// Verifiers must tolerate both: witnesses carry compressed keys (as used in
// P2PK/HTLC secret data) but schnorr verification operates on x-only keys.
func ParsePublicKey(key []byte) (*btcec.PublicKey, error) {
	switch len(key) {
	case 32:
		return schnorr.ParsePubKey(key)
	case 33:
		return btcec.ParsePubKey(key)
	default:
		return nil, fmt.Errorf("invalid public key length: %d", len(key))
	}
}

// SchnorrSign signs the sha256 of msg with an x-only Schnorr signature.
func SchnorrSign(key *btcec.PrivateKey, msg []byte) (*schnorr.Signature, error) {
	hash := sha256.Sum256(msg)
	return schnorr.Sign(key, hash[:])
}

// SchnorrVerify verifies sig over sha256(msg) against pubkey, stripping the
// parity prefix if pubkey was given in 33-byte compressed form.
func SchnorrVerify(sig *schnorr.Signature, msg []byte, pubkey *btcec.PublicKey) bool {
	hash := sha256.Sum256(msg)
	return sig.Verify(hash[:], pubkey)
}

func ParseSignature(sig []byte) (*schnorr.Signature, error) {
	return schnorr.ParseSignature(sig)
}
