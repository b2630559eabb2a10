package blindedoutput

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
)

func TestNewSplitsAmountAndSorts(t *testing.T) {
	set, err := New(13, "00ad268c4d1f5826", contract.SpendingCondition{})
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Messages) != 3 {
		t.Fatalf("expected 3 messages for amount 13, got %d", len(set.Messages))
	}
	for i := 1; i < len(set.Messages); i++ {
		if set.Messages[i-1].Amount > set.Messages[i].Amount {
			t.Fatalf("expected messages sorted ascending by amount: %v", set.Messages)
		}
	}
}

func TestUnblindRoundTrip(t *testing.T) {
	keysetId := "00ad268c4d1f5826"
	set, err := New(8, keysetId, contract.SpendingCondition{})
	if err != nil {
		t.Fatal(err)
	}

	mintKey := mustGenerateKey(t)
	keys := map[uint64]*secp256k1.PublicKey{8: mintKey.PubKey()}

	signatures := make(contract.BlindedSignatures, len(set.Messages))
	for i, msg := range set.Messages {
		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			t.Fatal(err)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			t.Fatal(err)
		}
		C_ := crypto.SignBlindedMessage(B_, mintKey)
		signatures[i] = contract.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keysetId,
		}
	}

	proofs, err := set.Unblind(signatures, keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(proofs) != 1 || proofs[0].Amount != 8 {
		t.Fatalf("unexpected proofs: %v", proofs)
	}

	Cbytes, err := hex.DecodeString(proofs[0].C)
	if err != nil {
		t.Fatal(err)
	}
	C, err := secp256k1.ParsePubKey(Cbytes)
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.Verify([]byte(proofs[0].Secret), mintKey, C) {
		t.Fatal("expected unblinded signature to verify against mint key")
	}
}

func mustGenerateKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}
