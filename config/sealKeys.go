package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"bitbucket.org/safeplayhq/inspect_backend/sealing"
)

var (
	sealKeyRing   *sealing.KeyRing
	sealKeyRingMu sync.Mutex
)

// GetSealKeyRing loads the bundle signing keys from env, once.
//
// - SEAL_SIGNING_KEY_ID: id of the active key, recorded in every manifest
// - SEAL_SIGNING_KEY:    base64 key material for the active key
// - SEAL_LEGACY_KEYS:    optional JSON object of id -> base64 key for retired
//   keys, so bundles sealed before a rotation stay verifiable
func GetSealKeyRing() (*sealing.KeyRing, error) {
	sealKeyRingMu.Lock()
	defer sealKeyRingMu.Unlock()

	if sealKeyRing != nil {
		return sealKeyRing, nil
	}

	activeID := os.Getenv("SEAL_SIGNING_KEY_ID")
	if activeID == "" {
		return nil, fmt.Errorf("SEAL_SIGNING_KEY_ID is required")
	}
	activeRaw := os.Getenv("SEAL_SIGNING_KEY")
	if activeRaw == "" {
		return nil, fmt.Errorf("SEAL_SIGNING_KEY is required")
	}
	active, err := base64.StdEncoding.DecodeString(activeRaw)
	if err != nil {
		return nil, fmt.Errorf("SEAL_SIGNING_KEY is not valid base64: %w", err)
	}

	legacy := make(map[string][]byte)
	if legacyRaw := os.Getenv("SEAL_LEGACY_KEYS"); legacyRaw != "" {
		var encoded map[string]string
		if err := json.Unmarshal([]byte(legacyRaw), &encoded); err != nil {
			return nil, fmt.Errorf("SEAL_LEGACY_KEYS is not a valid JSON object: %w", err)
		}
		for id, b64 := range encoded {
			k, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return nil, fmt.Errorf("SEAL_LEGACY_KEYS[%s] is not valid base64: %w", id, err)
			}
			legacy[id] = k
		}
	}

	ring, err := sealing.NewKeyRing(activeID, active, legacy)
	if err != nil {
		return nil, err
	}
	sealKeyRing = ring
	return sealKeyRing, nil
}
