package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PublicKeys maps a denomination amount to the mint's public key for that
// amount, as published by GET /v1/keys. Callers unmarshaling into this
// type must allocate the map first (json.Unmarshal into a nil map panics).
type PublicKeys map[uint64]*secp256k1.PublicKey

// MarshalJSON sorts by amount so output is stable across calls.
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, 0, len(pks))
	for k := range pks {
		amounts = append(amounts, k)
	}
	slices.Sort(amounts)

	for i, amount := range amounts {
		if i != 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(fmt.Sprintf("%d", amount))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		pubkeyHex := hex.EncodeToString(pks[amount].SerializeCompressed())
		val, err := json.Marshal(pubkeyHex)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var raw map[uint64]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for amount, keyHex := range raw {
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			return err
		}
		pubkey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = pubkey
	}
	return nil
}
