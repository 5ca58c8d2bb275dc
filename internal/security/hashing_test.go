package security

import (
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	password := []byte("secret123")
	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" {
		t.Fatal("Hash returned empty")
	}
	if err := h.Compare(hash, password); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Fatal("Compare with wrong password should fail")
	}
}

func TestHasher_Cost(t *testing.T) {
	if h := NewHasher(12); h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	if h := NewHasher(1); h.Cost < 4 {
		t.Errorf("low cost should be clamped to MinCost, got %d", h.Cost)
	}
	if h := NewHasher(99); h.Cost > 31 {
		t.Errorf("high cost should be clamped to MaxCost, got %d", h.Cost)
	}
}

func TestHasher_HashRandomDiffers(t *testing.T) {
	h := NewHasher(4)
	a, err := h.HashRandom()
	if err != nil {
		t.Fatalf("HashRandom: %v", err)
	}
	b, _ := h.HashRandom()
	if a == b {
		t.Error("two random hashes should differ")
	}
	if err := h.Compare(a, []byte("")); err == nil {
		t.Error("random hash must not match the empty password")
	}
}
