package sealing

import (
	"errors"
	"fmt"
	"time"
)

// ManifestVersion is the schema version stamped into every manifest.
const ManifestVersion = 1

var (
	ErrNoFiles       = errors.New("export file set is empty")
	ErrEmptyFilePath = errors.New("export file has an empty path")
)

// InputFile is one in-memory file handed to the sealing pipeline.
type InputFile struct {
	Path        string
	Content     []byte
	ContentType string
}

// ManifestFileEntry describes one packaged file. Immutable once computed.
type ManifestFileEntry struct {
	Path        string `json:"path"`
	Sha256      string `json:"sha256"`
	Bytes       int64  `json:"bytes"`
	ContentType string `json:"content_type"`
}

// GeneratedBy records attribution for a seal, not authorization.
type GeneratedBy struct {
	UserID      int    `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// ExportManifest is the signed object describing a bundle. Pointer fields
// deliberately omit omitempty so absent values serialize as explicit null;
// canonicalization depends on it. PrevBundleHash is the sole field forming
// the per-tenant hash chain: it holds the SHA-256 of the previous manifest's
// canonical bytes, or null for the tenant's first bundle.
type ExportManifest struct {
	Version            int                 `json:"version"`
	BundleID           string              `json:"bundle_id"`
	GeneratedAt        time.Time           `json:"generated_at"`
	GeneratedBy        GeneratedBy         `json:"generated_by"`
	TenantID           string              `json:"tenant_id"`
	ExportType         string              `json:"export_type"`
	SourceID           *string             `json:"source_id"`
	SignatureAlgorithm string              `json:"signature_algorithm"`
	SigningKeyID       string              `json:"signing_key_id"`
	VerifyURL          string              `json:"verify_url"`
	PrevBundleHash     *string             `json:"prev_bundle_hash"`
	Files              []ManifestFileEntry `json:"files"`
}

// HashFiles digests every input file into a fully materialized entry list.
// Paths must be non-empty and unique within the bundle. No shared state is
// mutated while hashing, so a mid-loop failure leaves nothing half built.
func HashFiles(files []InputFile) ([]ManifestFileEntry, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	seen := make(map[string]bool, len(files))
	entries := make([]ManifestFileEntry, 0, len(files))
	for _, f := range files {
		if f.Path == "" {
			return nil, ErrEmptyFilePath
		}
		if seen[f.Path] {
			return nil, fmt.Errorf("duplicate file path in export: %s", f.Path)
		}
		seen[f.Path] = true
		entries = append(entries, ManifestFileEntry{
			Path:        f.Path,
			Sha256:      Sha256Hex(f.Content),
			Bytes:       int64(len(f.Content)),
			ContentType: f.ContentType,
		})
	}
	return entries, nil
}

// BuildParams carries everything BuildManifest needs. All values are supplied
// by the caller; the builder never touches storage.
type BuildParams struct {
	BundleID       string
	TenantID       string
	ExportType     string
	SourceID       *string
	GeneratedBy    GeneratedBy
	SigningKeyID   string
	VerifyURL      string
	PrevBundleHash *string
	Files          []ManifestFileEntry
	// GeneratedAt overrides the sealing timestamp when non-zero. Tests use
	// this; production leaves it zero.
	GeneratedAt time.Time
}

// BuildManifest assembles the fixed-shape manifest and stamps generated_at.
// Pure construction, no I/O.
func BuildManifest(p BuildParams) *ExportManifest {
	at := p.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}
	return &ExportManifest{
		Version:            ManifestVersion,
		BundleID:           p.BundleID,
		GeneratedAt:        at.UTC().Truncate(time.Second),
		GeneratedBy:        p.GeneratedBy,
		TenantID:           p.TenantID,
		ExportType:         p.ExportType,
		SourceID:           p.SourceID,
		SignatureAlgorithm: SignatureAlgorithm,
		SigningKeyID:       p.SigningKeyID,
		VerifyURL:          p.VerifyURL,
		PrevBundleHash:     p.PrevBundleHash,
		Files:              p.Files,
	}
}
