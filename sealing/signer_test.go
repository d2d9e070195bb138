package sealing

import (
	"encoding/base64"
	"testing"
)

func TestSha256HexKnownVector(t *testing.T) {
	got := Sha256Hex([]byte("abc"))
	expected := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != expected {
		t.Fatalf("Sha256Hex(abc) expected %s, got %s", expected, got)
	}
	if again := Sha256Hex([]byte("abc")); again != got {
		t.Fatalf("Sha256Hex not stable: %s vs %s", got, again)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	payload := []byte(`{"bundle_id":"b-1","version":1}`)

	sig := Sign(payload, key)
	if sig == "" {
		t.Fatal("Sign returned empty signature")
	}
	if _, err := base64.StdEncoding.DecodeString(sig); err != nil {
		t.Fatalf("signature is not valid base64: %v", err)
	}
	if !VerifySignature(payload, sig, key) {
		t.Fatal("round-trip verification failed")
	}

	// Any single flipped payload byte must fail verification.
	for i := range payload {
		mutated := make([]byte, len(payload))
		copy(mutated, payload)
		mutated[i] ^= 0x01
		if VerifySignature(mutated, sig, key) {
			t.Fatalf("verification passed with payload byte %d flipped", i)
		}
	}

	// Same for the signature itself.
	raw, _ := base64.StdEncoding.DecodeString(sig)
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		if VerifySignature(payload, base64.StdEncoding.EncodeToString(mutated), key) {
			t.Fatalf("verification passed with signature byte %d flipped", i)
		}
	}

	if VerifySignature(payload, "not base64!!!", key) {
		t.Fatal("verification passed with malformed signature encoding")
	}
	if VerifySignature(payload, sig, []byte("another-key-entirely-wrong-here!")) {
		t.Fatal("verification passed under the wrong key")
	}
}

func TestKeyRingLookup(t *testing.T) {
	ring, err := NewKeyRing("2024-09", []byte("active-key"), map[string][]byte{
		"2023-04": []byte("retired-key"),
		"":        []byte("never-listed"),
		"empty":   nil,
	})
	if err != nil {
		t.Fatalf("NewKeyRing error: %v", err)
	}

	if ring.ActiveID() != "2024-09" {
		t.Fatalf("ActiveID expected 2024-09, got %s", ring.ActiveID())
	}
	if k, ok := ring.Lookup("2024-09"); !ok || string(k) != "active-key" {
		t.Fatalf("active lookup failed: %q %v", k, ok)
	}
	if k, ok := ring.Lookup("2023-04"); !ok || string(k) != "retired-key" {
		t.Fatalf("legacy lookup failed: %q %v", k, ok)
	}
	if _, ok := ring.Lookup("2019-01"); ok {
		t.Fatal("unknown key id resolved")
	}
	// Blank or empty-material entries are dropped at construction so a found
	// key is always usable.
	if _, ok := ring.Lookup(""); ok {
		t.Fatal("blank key id resolved")
	}
	if _, ok := ring.Lookup("empty"); ok {
		t.Fatal("empty key material resolved")
	}
}

func TestNewKeyRingRejectsMissingActive(t *testing.T) {
	if _, err := NewKeyRing("", []byte("k"), nil); err == nil {
		t.Fatal("expected error for empty active key id")
	}
	if _, err := NewKeyRing("k1", nil, nil); err == nil {
		t.Fatal("expected error for empty active key material")
	}
}
