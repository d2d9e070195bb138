package sealing

import (
	"encoding/json"
	"fmt"
)

// VerifyReason is the audit-facing explanation attached to every
// verification outcome. Failure modes carry different legal weight, so they
// are never collapsed into a bare boolean: an unresolvable key means the
// bundle cannot be verified at all, which is not the same finding as a
// signature that checked out false.
type VerifyReason string

const (
	ReasonOK                 VerifyReason = "ok"
	ReasonManifestMissing    VerifyReason = "manifest_missing"
	ReasonManifestUnreadable VerifyReason = "manifest_unreadable"
	ReasonSignatureMissing   VerifyReason = "signature_missing"
	ReasonFileMissing        VerifyReason = "file_missing"
	ReasonFileHashMismatch   VerifyReason = "file_hash_mismatch"
	ReasonUnknownKey         VerifyReason = "unknown_key"
	ReasonSignatureInvalid   VerifyReason = "signature_invalid"
	ReasonChainMismatch      VerifyReason = "chain_mismatch"
)

// VerificationResult reports one verification run. Detail names the specific
// file or key involved where that helps an audit narrative.
type VerificationResult struct {
	Valid    bool            `json:"valid"`
	Reason   VerifyReason    `json:"reason"`
	Detail   string          `json:"detail,omitempty"`
	Manifest *ExportManifest `json:"manifest,omitempty"`
}

func failed(reason VerifyReason, detail string) VerificationResult {
	return VerificationResult{Valid: false, Reason: reason, Detail: detail}
}

// VerifyArchive re-validates a sealed bundle from its raw archive bytes:
// every declared file hash is recomputed and compared, then the signature is
// verified against the extracted manifest.json bytes under the key the
// manifest names. The chain check against the ledger is a separate, optional
// step owned by the caller; a bundle is self-contained for everything else.
func VerifyArchive(archive []byte, ring *KeyRing) VerificationResult {
	entries, err := ReadArchive(archive)
	if err != nil {
		return failed(ReasonManifestUnreadable, err.Error())
	}

	manifestBytes, ok := entries[ManifestFileName]
	if !ok {
		return failed(ReasonManifestMissing, ManifestFileName+" not present in archive")
	}
	sigBytes, ok := entries[SignatureFileName]
	if !ok {
		return failed(ReasonSignatureMissing, SignatureFileName+" not present in archive")
	}

	var manifest ExportManifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return failed(ReasonManifestUnreadable, err.Error())
	}

	// File tampering: recompute every declared digest from the packed bytes.
	for _, entry := range manifest.Files {
		content, ok := entries[entry.Path]
		if !ok {
			return failed(ReasonFileMissing, entry.Path)
		}
		if Sha256Hex(content) != entry.Sha256 {
			r := failed(ReasonFileHashMismatch, entry.Path)
			r.Manifest = &manifest
			return r
		}
		if int64(len(content)) != entry.Bytes {
			r := failed(ReasonFileHashMismatch, fmt.Sprintf("%s: declared %d bytes, packed %d", entry.Path, entry.Bytes, len(content)))
			r.Manifest = &manifest
			return r
		}
	}

	// Manifest tampering: the signature must verify over the archived bytes
	// verbatim, under the key id the manifest itself names.
	key, ok := ring.Lookup(manifest.SigningKeyID)
	if !ok {
		r := failed(ReasonUnknownKey, manifest.SigningKeyID)
		r.Manifest = &manifest
		return r
	}
	if !VerifySignature(manifestBytes, string(sigBytes), key) {
		r := failed(ReasonSignatureInvalid, "")
		r.Manifest = &manifest
		return r
	}

	return VerificationResult{Valid: true, Reason: ReasonOK, Manifest: &manifest}
}
