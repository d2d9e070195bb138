package sealing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SignatureAlgorithm is the fixed algorithm recorded in every manifest.
const SignatureAlgorithm = "HMAC-SHA256"

// Sign computes the HMAC-SHA256 of b under key and returns it base64 encoded.
func Sign(b []byte, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(b)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is a valid HMAC-SHA256 over b under key.
// Comparison is constant time via hmac.Equal.
func VerifySignature(b []byte, sig string, key []byte) bool {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(b)
	return hmac.Equal(raw, mac.Sum(nil))
}

// KeyRing resolves signing key ids to key material. The active key signs new
// bundles; legacy keys keep previously sealed bundles verifiable after
// rotation. Lookup failure means "cannot verify", which callers must keep
// distinct from "signature invalid".
type KeyRing struct {
	activeID string
	active   []byte
	legacy   map[string][]byte
}

func NewKeyRing(activeID string, active []byte, legacy map[string][]byte) (*KeyRing, error) {
	if activeID == "" {
		return nil, errors.New("signing key id is empty")
	}
	if len(active) == 0 {
		return nil, errors.New("signing key material is empty")
	}
	r := &KeyRing{
		activeID: activeID,
		active:   active,
		legacy:   make(map[string][]byte, len(legacy)),
	}
	for id, k := range legacy {
		if id == "" || len(k) == 0 {
			continue
		}
		r.legacy[id] = k
	}
	return r, nil
}

func (r *KeyRing) ActiveID() string {
	return r.activeID
}

func (r *KeyRing) ActiveKey() []byte {
	return r.active
}

// Lookup checks the active key first, then the legacy table. The boolean is
// the only signal for "not found"; an empty key never comes back as found.
func (r *KeyRing) Lookup(keyID string) ([]byte, bool) {
	if keyID == r.activeID {
		return r.active, true
	}
	k, ok := r.legacy[keyID]
	if !ok || len(k) == 0 {
		return nil, false
	}
	return k, true
}
