package httpserver

import (
	"strings"
	"testing"
)

var testParams = Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", testParams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if !VerifyPassword("s3cret", hash) {
		t.Fatalf("expected verification to succeed")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatalf("expected verification to fail for wrong password")
	}
}

func TestVerifyPasswordRejectsMalformedHashes(t *testing.T) {
	cases := []string{
		"",
		"argon2id$1$8192$1$notbase64!!$zzz",
		"bcrypt$whatever",
		"argon2id$1$8192$1$only-five-parts",
	}
	for _, h := range cases {
		if VerifyPassword("s3cret", h) {
			t.Fatalf("expected rejection for %q", h)
		}
	}
}

func TestHashesAreSalted(t *testing.T) {
	h1, err := HashPassword("same", testParams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashPassword("same", testParams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("two hashes of the same password should differ by salt")
	}
}
