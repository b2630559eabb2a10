package crypto

import "testing"

func TestSigAllDigestChangesWithInputs(t *testing.T) {
	secrets := []string{"secret-one", "secret-two"}
	points := []string{"02aa", "02bb"}

	digest := SigAllDigest(secrets, points)

	if other := SigAllDigest(append(secrets, "secret-three"), points); other == digest {
		t.Fatal("expected digest to change when a secret is added")
	}
	if other := SigAllDigest(secrets, append(points, "02cc")); other == digest {
		t.Fatal("expected digest to change when an output point is added")
	}

	same := SigAllDigest(secrets, points)
	if same != digest {
		t.Fatal("expected digest to be deterministic for the same inputs")
	}
}

func TestSigAllDigestFramesLengthToAvoidSplitCollisions(t *testing.T) {
	a := SigAllDigest([]string{"ab", "c"}, nil)
	b := SigAllDigest([]string{"a", "bc"}, nil)
	if a == b {
		t.Fatal("expected differently-split secrets to produce different digests")
	}
}

func TestSigAllDigestIsCaseInsensitiveOnPoints(t *testing.T) {
	secrets := []string{"secret-one"}
	lower := SigAllDigest(secrets, []string{"02aabbcc"})
	upper := SigAllDigest(secrets, []string{"02AABBCC"})
	if lower != upper {
		t.Fatal("expected point hex case to not affect the digest")
	}
}
