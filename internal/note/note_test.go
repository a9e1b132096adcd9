package note

import (
	"bytes"
	"testing"
)

func TestGenerateSecret(t *testing.T) {
	s1, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	s2, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if s1.IsZero() || s2.IsZero() {
		t.Error("generated secret should not be zero")
	}
	if s1 == s2 {
		t.Error("two generated secrets should not collide")
	}
}

func TestCommitmentDeterminism(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	cm1 := Commitment(s, 1000000)
	cm2 := Commitment(s, 1000000)
	if !bytes.Equal(cm1, cm2) {
		t.Error("commitment is not deterministic")
	}
	if len(cm1) == 0 {
		t.Error("commitment should not be empty")
	}
}

func TestCommitmentDistinctness(t *testing.T) {
	// No two distinct (secret, amount) pairs in a generated corpus may
	// share a commitment.
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		s, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret failed: %v", err)
		}
		for _, amt := range []int64{1, 1000000, 5000000} {
			cm := string(Commitment(s, amt))
			if seen[cm] {
				t.Fatalf("commitment collision at iteration %d", i)
			}
			seen[cm] = true
		}
	}
}

func TestNullifierIdempotent(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	nf1 := Nullifier(s, 42)
	nf2 := Nullifier(s, 42)
	if !bytes.Equal(nf1, nf2) {
		t.Error("nullifier must be idempotent for the same note")
	}
	if bytes.Equal(nf1, Commitment(s, 42)) {
		t.Error("nullifier must be domain-separated from commitment")
	}
	if bytes.Equal(nf1, Nullifier(s, 43)) {
		t.Error("nullifier must depend on amount")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	text, err := s.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var back Secret
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if back != s {
		t.Error("secret round-trip mismatch")
	}
	if err := back.UnmarshalText([]byte("abcd")); err == nil {
		t.Error("short secret should be rejected")
	}
}

func TestFormatAndParseAmount(t *testing.T) {
	cases := []struct {
		minor    int64
		decimals int
		want     string
	}{
		{1000000, 6, "1.000000"},
		{1500000, 6, "1.500000"},
		{1, 6, "0.000001"},
		{42, 0, "42"},
	}
	for _, c := range cases {
		got := FormatAmount(c.minor, c.decimals)
		if got != c.want {
			t.Errorf("FormatAmount(%d, %d) = %q, want %q", c.minor, c.decimals, got, c.want)
		}
		if c.decimals > 0 {
			back, err := ParseAmount(got, c.decimals)
			if err != nil {
				t.Errorf("ParseAmount(%q) failed: %v", got, err)
			} else if back != c.minor {
				t.Errorf("ParseAmount(%q) = %d, want %d", got, back, c.minor)
			}
		}
	}
	if _, err := ParseAmount("-1", 6); err == nil {
		t.Error("negative amount should be rejected")
	}
	if _, err := ParseAmount("1.1234567", 6); err == nil {
		t.Error("too many decimal places should be rejected")
	}
}
