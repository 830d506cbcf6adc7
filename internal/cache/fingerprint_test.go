package cache

import "testing"

func TestFingerprint(t *testing.T) {
	a := Fingerprint("What is the capital of France?", "gpt-x-temp0")
	b := Fingerprint("What is the capital of France?", "gpt-x-temp0")
	if a != b {
		t.Fatalf("fingerprint not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}

	if Fingerprint("What is the capital of France?", "gpt-x-temp1") == a {
		t.Fatalf("different signatures must give different fingerprints")
	}
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatalf("prompt/signature boundary must be part of the hash")
	}
}
