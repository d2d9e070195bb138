package sealing

// SealedBundle is the transient output of sealing one export: the signed
// manifest with its canonical bytes and digest, plus the packaged archive.
// It lives long enough to be uploaded and recorded, then gets discarded;
// nothing about it is mutated after construction.
type SealedBundle struct {
	BundleID       string
	Manifest       *ExportManifest
	CanonicalJSON  []byte
	ManifestSha256 string
	Signature      string
	Archive        []byte
	TotalBytes     int64
}

// SealBundle canonicalizes and signs a built manifest and packages the
// archive around it. Pure assembly, no storage or ledger access. TotalBytes
// sums the manifest's file sizes, not the compressed archive.
func SealBundle(manifest *ExportManifest, files []InputFile, key []byte) (*SealedBundle, error) {
	canonical, err := Canonicalize(manifest)
	if err != nil {
		return nil, err
	}
	signature := Sign(canonical, key)
	archive, err := BuildArchive(files, canonical, signature)
	if err != nil {
		return nil, err
	}
	var totalBytes int64
	for _, e := range manifest.Files {
		totalBytes += e.Bytes
	}
	return &SealedBundle{
		BundleID:       manifest.BundleID,
		Manifest:       manifest,
		CanonicalJSON:  canonical,
		ManifestSha256: Sha256Hex(canonical),
		Signature:      signature,
		Archive:        archive,
		TotalBytes:     totalBytes,
	}, nil
}
