package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	legacy, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	return NewHasher(newTestArgon2(t, cfg), legacy)
}

func TestHasherVerifiesPrimaryDigest(t *testing.T) {
	h := newTestHasher(t, testConfig())
	digest, err := h.Hash("hunter2hunter2")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, rehash, err := h.Verify("hunter2hunter2", digest)
	if err != nil || !ok || rehash {
		t.Fatalf("unexpected verify result ok=%v rehash=%v err=%v", ok, rehash, err)
	}

	ok, rehash, err = h.Verify("nope", digest)
	if err != nil || ok || rehash {
		t.Fatalf("unexpected verify result for wrong password ok=%v rehash=%v err=%v", ok, rehash, err)
	}
}

func TestHasherAcceptsBcryptAndAsksForRehash(t *testing.T) {
	h := newTestHasher(t, testConfig())
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, rehash, err := h.Verify("legacy-pass", string(legacy))
	if err != nil || !ok || !rehash {
		t.Fatalf("expected legacy digest to verify with rehash, got ok=%v rehash=%v err=%v", ok, rehash, err)
	}

	ok, rehash, err = h.Verify("wrong", string(legacy))
	if err != nil || ok || rehash {
		t.Fatalf("expected mismatch without rehash, got ok=%v rehash=%v err=%v", ok, rehash, err)
	}
}

func TestHasherRehashesWeakArgon2(t *testing.T) {
	old := newTestHasher(t, testConfig())
	digest, err := old.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	cfg := testConfig()
	cfg.Memory = 16 * 1024
	h := newTestHasher(t, cfg)
	ok, rehash, err := h.Verify("correct horse", digest)
	if err != nil || !ok || !rehash {
		t.Fatalf("expected rehash for weaker digest, got ok=%v rehash=%v err=%v", ok, rehash, err)
	}
}

func TestHasherRejectsUnknownFormat(t *testing.T) {
	h := newTestHasher(t, testConfig())
	if _, _, err := h.Verify("pw", "plaintext-pw"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestNewBcryptRejectsCost(t *testing.T) {
	if _, err := NewBcrypt(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected out-of-range cost to fail")
	}
}
