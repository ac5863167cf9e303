package crypto

import "testing"

func TestPHIHash_Deterministic(t *testing.T) {
	a := PHIHash("salt", "P123456")
	b := PHIHash("salt", "P123456")
	if a == "" || a != b {
		t.Fatalf("hash not deterministic: a=%q b=%q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash length=%d want=64", len(a))
	}
}

func TestPHIHash_SaltChangesDigest(t *testing.T) {
	a := PHIHash("salt-a", "P123456")
	b := PHIHash("salt-b", "P123456")
	if a == b {
		t.Fatalf("different salts produced the same digest: %q", a)
	}
}

func TestPHIHash_SkipsPlaceholders(t *testing.T) {
	for _, v := range []string{"", "  ", "nan", "None", "NULL"} {
		if got := PHIHash("salt", v); got != "" {
			t.Fatalf("PHIHash(%q)=%q want empty", v, got)
		}
	}
}
