package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// SigAllDigest builds the message a SIG_ALL signature commits to: every
// input proof's secret (as UTF-8 bytes of its canonical string form)
// followed by every output's blinded point B_ (as lowercase compressed
// hex), each length-prefixed with its big-endian uint32 byte length so two
// differently-partitioned but concatenation-equal input sets can never hash
// to the same digest, SHA256'd as one. A single Schnorr signature over
// this digest is attached to the first input's witness; the mint replays
// this computation to verify, so any change to an input secret or an
// output B_ invalidates the signature.
func SigAllDigest(secrets []string, blindedMessages []string) [32]byte {
	var buf strings.Builder
	writeFramed := func(s string) {
		var lenBytes [4]byte
		binary.BigEndian.PutUint32(lenBytes[:], uint32(len(s)))
		buf.Write(lenBytes[:])
		buf.WriteString(s)
	}
	for _, secret := range secrets {
		writeFramed(secret)
	}
	for _, B_ := range blindedMessages {
		writeFramed(strings.ToLower(B_))
	}
	return sha256.Sum256([]byte(buf.String()))
}
