// Package keys derives each peer's long-term P2PK keypair from a BIP39
// seed phrase, the same way the teacher's wallet derives its P2PK receiving
// key (wallet/p2pk.go), generalized to an account-level path per peer role so A,
// G and D running off the same seed phrase never collide.
package keys

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Role selects the account-level derivation index so the three peer types
// never reuse the same key off a shared seed phrase.
type Role uint32

const (
	RoleAlice Role = iota
	RoleGateway
	RoleDealer
)

// NewMnemonic generates a fresh BIP39 mnemonic for a new peer identity.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DerivePrivateKey derives a peer's long-term P2PK signing key from its
// seed phrase. The path follows wallet/p2pk.go's m/129372'/0'/1'/0 shape,
// with the role folded into the account level (m/129372'/0'/<role>'/0) so
// A/G/D keys diverge even when started from identical mnemonics.
func DerivePrivateKey(mnemonic string, role Role) (*btcec.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 129372)
	if err != nil {
		return nil, err
	}
	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}
	account, err := coinType.Derive(hdkeychain.HardenedKeyStart + uint32(role))
	if err != nil {
		return nil, err
	}
	extKey, err := account.Derive(0)
	if err != nil {
		return nil, err
	}

	return extKey.ECPrivKey()
}
