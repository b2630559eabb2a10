package contract

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/elnosh/htlcswap/crypto"
)

// Tag names, per NUT-10/NUT-11/NUT-14's well-known secret tags, extended
// with n_sigs_refund for the HTLC refund-signature count (spec.md §3).
const (
	TagSigflag      = "sigflag"
	TagNSigs        = "n_sigs"
	TagPubkeys      = "pubkeys"
	TagLocktime     = "locktime"
	TagRefund       = "refund"
	TagNSigsRefund  = "n_sigs_refund"

	SigInputs = "SIG_INPUTS"
	SigAll    = "SIG_ALL"
)

// Tags is the parsed form of a secret's [][]string tag list.
type Tags struct {
	Sigflag     string
	NSigs       int
	Pubkeys     []*btcec.PublicKey
	Locktime    int64
	Refund      []*btcec.PublicKey
	NSigsRefund int
}

func ParseTags(raw [][]string) (*Tags, error) {
	tags := &Tags{}

	for _, tag := range raw {
		if len(tag) < 2 {
			return nil, fmt.Errorf("%w: tag with fewer than 2 elements", ErrInvalidSecret)
		}
		switch tag[0] {
		case TagSigflag:
			if tag[1] != SigInputs && tag[1] != SigAll {
				return nil, fmt.Errorf("%w: invalid sigflag %q", ErrInvalidSecret, tag[1])
			}
			tags.Sigflag = tag[1]
		case TagNSigs:
			n, err := strconv.ParseInt(tag[1], 10, 32)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: invalid n_sigs", ErrInvalidSecret)
			}
			tags.NSigs = int(n)
		case TagNSigsRefund:
			n, err := strconv.ParseInt(tag[1], 10, 32)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: invalid n_sigs_refund", ErrInvalidSecret)
			}
			tags.NSigsRefund = int(n)
		case TagPubkeys:
			keys := make([]*btcec.PublicKey, 0, len(tag)-1)
			for _, k := range tag[1:] {
				pk, err := parseTagPubkey(k)
				if err != nil {
					return nil, err
				}
				keys = append(keys, pk)
			}
			tags.Pubkeys = keys
		case TagLocktime:
			locktime, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid locktime", ErrInvalidSecret)
			}
			tags.Locktime = locktime
		case TagRefund:
			keys := make([]*btcec.PublicKey, 0, len(tag)-1)
			for _, k := range tag[1:] {
				pk, err := parseTagPubkey(k)
				if err != nil {
					return nil, err
				}
				keys = append(keys, pk)
			}
			tags.Refund = keys
		}
	}

	return tags, nil
}

func parseTagPubkey(hexKey string) (*btcec.PublicKey, error) {
	b, err := decodeHex(hexKey)
	if err != nil {
		return nil, err
	}
	pk, err := crypto.ParsePublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidSecret, err)
	}
	return pk, nil
}

// NewP2PKSecret builds a fresh P2PK-locked secret with the given tag set.
// pubkey is the primary locking key (secret.Data); extra signers, if any,
// belong in tags' pubkeys entry.
func NewP2PKSecret(pubkeyHex string, tags [][]string) (string, error) {
	return NewSecret(SpendingCondition{Kind: P2PK, Data: pubkeyHex, Tags: tags})
}

// PublicKeys returns every key that may produce a valid P2PK signature:
// the primary data pubkey plus any pubkeys tag entries.
func PublicKeys(secret WellKnownSecret) ([]*btcec.PublicKey, error) {
	tags, err := ParseTags(secret.Tags)
	if err != nil {
		return nil, err
	}
	primary, err := parseTagPubkey(secret.Data)
	if err != nil {
		return nil, err
	}
	return append([]*btcec.PublicKey{primary}, tags.Pubkeys...), nil
}

func IsSigAll(secret WellKnownSecret) bool {
	for _, tag := range secret.Tags {
		if len(tag) == 2 && tag[0] == TagSigflag && tag[1] == SigAll {
			return true
		}
	}
	return false
}

// HasValidSignatures checks that at least `required` of the witness'
// signatures verify against distinct keys in `pubkeys`, over `msg` (hashed
// internally by crypto.SchnorrVerify). Each pubkey can satisfy at most one
// signature.
func HasValidSignatures(msg []byte, signatures []string, required int, pubkeys []*btcec.PublicKey) bool {
	remaining := slices.Clone(pubkeys)
	valid := 0
	for _, sigHex := range signatures {
		sigBytes, err := decodeHex(sigHex)
		if err != nil {
			continue
		}
		sig, err := crypto.ParseSignature(sigBytes)
		if err != nil {
			continue
		}
		for i, pk := range remaining {
			if crypto.SchnorrVerify(sig, msg, pk) {
				valid++
				remaining = slices.Delete(remaining, i, i+1)
				break
			}
		}
	}
	return valid >= required
}
