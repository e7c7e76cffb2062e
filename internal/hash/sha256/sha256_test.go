package sha256

import (
	"strings"
	"testing"
)

func TestHexDeterministic(t *testing.T) {
	t.Parallel()

	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := Hex("hello world"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCap(t *testing.T) {
	t.Parallel()

	if got := Cap("short", 100); got != "short" {
		t.Fatalf("short value changed: %s", got)
	}

	a := strings.Repeat("a", 300) + "1"
	b := strings.Repeat("a", 300) + "2"
	ca, cb := Cap(a, 120), Cap(b, 120)
	if len(ca) != 120 || len(cb) != 120 {
		t.Fatalf("expected capped length 120, got %d and %d", len(ca), len(cb))
	}
	if ca == cb {
		t.Fatal("distinct inputs collapsed to the same key")
	}
	if !strings.HasPrefix(ca, strings.Repeat("a", 120-DigestLen-1)+"_") {
		t.Fatalf("unexpected prefix: %s", ca)
	}
}
