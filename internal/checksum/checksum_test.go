package checksum

import "testing"

func TestSum_Stable(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	if a != b {
		t.Fatalf("digest not stable: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
}

func TestEqual(t *testing.T) {
	d := Sum([]byte("body"))
	if !Equal([]byte("body"), d) {
		t.Error("same content should match")
	}
	if Equal([]byte("other"), d) {
		t.Error("different content should not match")
	}
	if Equal([]byte(""), "") {
		t.Error("empty digest must never match")
	}
}
