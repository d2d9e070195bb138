package sealing

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

// sealForTest runs the pure half of the sealing pipeline: hash, build,
// canonicalize, sign, pack. The orchestration around storage and the ledger
// lives elsewhere; these tests exercise the bundle format itself.
func sealForTest(t *testing.T, files []InputFile, prevHash *string, keyID string, key []byte) ([]byte, *ExportManifest, []byte) {
	t.Helper()
	entries, err := HashFiles(files)
	if err != nil {
		t.Fatalf("HashFiles error: %v", err)
	}
	manifest := BuildManifest(BuildParams{
		BundleID:       "11111111-2222-3333-4444-555555555555",
		TenantID:       "t-100",
		ExportType:     "inspection_report",
		GeneratedBy:    GeneratedBy{UserID: 3, DisplayName: "Sam Ward"},
		SigningKeyID:   keyID,
		VerifyURL:      "https://api.example.test/verify/11111111-2222-3333-4444-555555555555",
		PrevBundleHash: prevHash,
		Files:          entries,
		GeneratedAt:    time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC),
	})
	bundle, err := SealBundle(manifest, files, key)
	if err != nil {
		t.Fatalf("SealBundle error: %v", err)
	}
	return bundle.Archive, bundle.Manifest, bundle.CanonicalJSON
}

func testRing(t *testing.T) *KeyRing {
	t.Helper()
	ring, err := NewKeyRing("2024-09", []byte("active-signing-key-material-32b!"), map[string][]byte{
		"2023-04": []byte("retired-signing-key-material-32!"),
	})
	if err != nil {
		t.Fatalf("NewKeyRing error: %v", err)
	}
	return ring
}

func TestVerifyArchiveValidBundle(t *testing.T) {
	ring := testRing(t)
	files := []InputFile{
		{Path: "report.pdf", Content: []byte("%PDF-1.4 yes"), ContentType: "application/pdf"},
		{Path: "photos/swing.jpg", Content: []byte{0xff, 0xd8, 0xff, 0xe0}, ContentType: "image/jpeg"},
	}
	archive, _, _ := sealForTest(t, files, nil, ring.ActiveID(), ring.ActiveKey())

	result := VerifyArchive(archive, ring)
	if !result.Valid {
		t.Fatalf("expected valid, got reason=%s detail=%s", result.Reason, result.Detail)
	}
	if result.Reason != ReasonOK {
		t.Fatalf("expected reason ok, got %s", result.Reason)
	}
	if result.Manifest == nil || len(result.Manifest.Files) != 2 {
		t.Fatalf("expected manifest with 2 files in result, got %+v", result.Manifest)
	}
}

func TestSealBundleDerivedFields(t *testing.T) {
	ring := testRing(t)
	files := []InputFile{
		{Path: "report.pdf", Content: []byte("four"), ContentType: "application/pdf"},
		{Path: "photos/slide.jpg", Content: []byte("eight by"), ContentType: "image/jpeg"},
	}
	entries, err := HashFiles(files)
	if err != nil {
		t.Fatalf("HashFiles error: %v", err)
	}
	manifest := BuildManifest(BuildParams{
		BundleID:     "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		TenantID:     "t-100",
		ExportType:   "claims_pack",
		GeneratedBy:  GeneratedBy{UserID: 7, DisplayName: "Priya Shah"},
		SigningKeyID: ring.ActiveID(),
		VerifyURL:    "https://api.example.test/verify/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		Files:        entries,
		GeneratedAt:  time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC),
	})
	bundle, err := SealBundle(manifest, files, ring.ActiveKey())
	if err != nil {
		t.Fatalf("SealBundle error: %v", err)
	}

	if bundle.BundleID != manifest.BundleID {
		t.Fatalf("bundle id %s does not match manifest %s", bundle.BundleID, manifest.BundleID)
	}
	if bundle.ManifestSha256 != Sha256Hex(bundle.CanonicalJSON) {
		t.Fatal("ManifestSha256 does not match the canonical bytes")
	}
	if bundle.TotalBytes != 12 {
		t.Fatalf("expected total of 12 bytes across inputs, got %d", bundle.TotalBytes)
	}
	if bundle.Signature != Sign(bundle.CanonicalJSON, ring.ActiveKey()) {
		t.Fatal("signature does not match a fresh signing of the canonical bytes")
	}
	if result := VerifyArchive(bundle.Archive, ring); !result.Valid {
		t.Fatalf("sealed archive failed verification: %s", result.Reason)
	}
}

// rewriteEntry rebuilds the archive with one entry's bytes replaced,
// leaving every other entry untouched.
func rewriteEntry(t *testing.T, archive []byte, name string, content []byte) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("zip open: %v", err)
	}
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, zf := range zr.File {
		w, err := zw.Create(zf.Name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if zf.Name == name {
			if _, err := w.Write(content); err != nil {
				t.Fatalf("zip write: %v", err)
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("zip entry open: %v", err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			t.Fatalf("zip entry copy: %v", err)
		}
		rc.Close()
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestVerifyArchiveDetectsTamperedFile(t *testing.T) {
	ring := testRing(t)
	files := []InputFile{
		{Path: "report.pdf", Content: []byte("original body"), ContentType: "application/pdf"},
	}
	archive, _, _ := sealForTest(t, files, nil, ring.ActiveID(), ring.ActiveKey())

	tampered := rewriteEntry(t, archive, "report.pdf", []byte("original bodY"))
	result := VerifyArchive(tampered, ring)
	if result.Valid {
		t.Fatal("tampered file passed verification")
	}
	if result.Reason != ReasonFileHashMismatch {
		t.Fatalf("expected file_hash_mismatch, got %s", result.Reason)
	}
	if result.Detail != "report.pdf" {
		t.Fatalf("expected detail report.pdf, got %s", result.Detail)
	}
}

func TestVerifyArchiveDetectsTamperedManifest(t *testing.T) {
	ring := testRing(t)
	files := []InputFile{
		{Path: "report.pdf", Content: []byte("original body"), ContentType: "application/pdf"},
	}
	archive, _, canonical := sealForTest(t, files, nil, ring.ActiveID(), ring.ActiveKey())

	// Re-point the declared hash at the mutated file so the file check
	// passes and the signature check is what trips.
	mutatedFile := []byte("replacement body")
	doctored := bytes.Replace(canonical, []byte(Sha256Hex([]byte("original body"))), []byte(Sha256Hex(mutatedFile)), 1)
	if bytes.Equal(doctored, canonical) {
		t.Fatal("test setup: manifest hash replacement did not apply")
	}
	tampered := rewriteEntry(t, archive, "report.pdf", mutatedFile)
	tampered = rewriteEntry(t, tampered, ManifestFileName, doctored)

	result := VerifyArchive(tampered, ring)
	if result.Valid {
		t.Fatal("doctored manifest passed verification")
	}
	if result.Reason != ReasonSignatureInvalid {
		t.Fatalf("expected signature_invalid, got %s", result.Reason)
	}
}

func TestVerifyArchiveKeyRotation(t *testing.T) {
	retiredID := "2023-04"
	retiredKey := []byte("retired-signing-key-material-32!")
	files := []InputFile{
		{Path: "report.pdf", Content: []byte("sealed last year"), ContentType: "application/pdf"},
	}
	archive, _, _ := sealForTest(t, files, nil, retiredID, retiredKey)

	// Retired key still present in the legacy table: verifies.
	withLegacy := testRing(t)
	if result := VerifyArchive(archive, withLegacy); !result.Valid {
		t.Fatalf("expected legacy-signed bundle to verify, got %s", result.Reason)
	}

	// Key removed from the table entirely: cannot verify, which is a
	// different finding from a bad signature.
	withoutLegacy, err := NewKeyRing("2024-09", []byte("active-signing-key-material-32b!"), nil)
	if err != nil {
		t.Fatalf("NewKeyRing error: %v", err)
	}
	result := VerifyArchive(archive, withoutLegacy)
	if result.Valid {
		t.Fatal("bundle verified under a ring that no longer holds its key")
	}
	if result.Reason != ReasonUnknownKey {
		t.Fatalf("expected unknown_key, got %s", result.Reason)
	}
	if result.Detail != retiredID {
		t.Fatalf("expected detail %s, got %s", retiredID, result.Detail)
	}
}

func TestVerifyArchiveMissingPieces(t *testing.T) {
	ring := testRing(t)
	files := []InputFile{
		{Path: "report.pdf", Content: []byte("body"), ContentType: "application/pdf"},
	}

	if result := VerifyArchive([]byte("not a zip at all"), ring); result.Valid || result.Reason != ReasonManifestUnreadable {
		t.Fatalf("expected manifest_unreadable for junk bytes, got %+v", result)
	}

	// Archive missing the manifest entirely.
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	w, _ := zw.Create("report.pdf")
	w.Write([]byte("body"))
	zw.Close()
	if result := VerifyArchive(buf.Bytes(), ring); result.Valid || result.Reason != ReasonManifestMissing {
		t.Fatalf("expected manifest_missing, got %+v", result)
	}

	// Declared file absent from the archive.
	archive, _, _ := sealForTest(t, files, nil, ring.ActiveID(), ring.ActiveKey())
	zr, _ := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	stripped := new(bytes.Buffer)
	zw = zip.NewWriter(stripped)
	for _, zf := range zr.File {
		if zf.Name == "report.pdf" {
			continue
		}
		w, _ := zw.Create(zf.Name)
		rc, _ := zf.Open()
		io.Copy(w, rc)
		rc.Close()
	}
	zw.Close()
	if result := VerifyArchive(stripped.Bytes(), ring); result.Valid || result.Reason != ReasonFileMissing {
		t.Fatalf("expected file_missing, got %+v", result)
	}
}

func TestFirstAndSecondBundleChainLinkage(t *testing.T) {
	ring := testRing(t)

	// First export for the tenant: twelve-byte report, no predecessor.
	first := []InputFile{
		{Path: "report.pdf", Content: []byte("abcdefghijkl"), ContentType: "application/pdf"},
	}
	archive1, manifest1, canonical1 := sealForTest(t, first, nil, ring.ActiveID(), ring.ActiveKey())

	if manifest1.PrevBundleHash != nil {
		t.Fatalf("first bundle must have null prev hash, got %v", *manifest1.PrevBundleHash)
	}
	if len(manifest1.Files) != 1 || manifest1.Files[0].Bytes != 12 {
		t.Fatalf("expected one 12-byte entry, got %+v", manifest1.Files)
	}
	manifestSha1 := Sha256Hex(canonical1)
	if len(manifestSha1) != 64 {
		t.Fatalf("manifest digest length %d", len(manifestSha1))
	}
	sig1 := Sign(canonical1, ring.ActiveKey())
	if sig1 == "" {
		t.Fatal("empty signature for first bundle")
	}
	if result := VerifyArchive(archive1, ring); !result.Valid {
		t.Fatalf("first bundle failed verification: %s", result.Reason)
	}

	// Second export immediately after: links to the first manifest's digest.
	second := []InputFile{
		{Path: "claims/schedule.xlsx", Content: []byte("PK fake sheet"), ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	}
	archive2, manifest2, _ := sealForTest(t, second, &manifestSha1, ring.ActiveID(), ring.ActiveKey())

	if manifest2.PrevBundleHash == nil || *manifest2.PrevBundleHash != manifestSha1 {
		t.Fatalf("second bundle prev hash expected %s, got %v", manifestSha1, manifest2.PrevBundleHash)
	}
	if result := VerifyArchive(archive2, ring); !result.Valid {
		t.Fatalf("second bundle failed verification: %s", result.Reason)
	}
}

func TestHashFilesRejectsBadInput(t *testing.T) {
	if _, err := HashFiles(nil); err != ErrNoFiles {
		t.Fatalf("expected ErrNoFiles, got %v", err)
	}
	if _, err := HashFiles([]InputFile{{Path: "", Content: []byte("x")}}); err != ErrEmptyFilePath {
		t.Fatalf("expected ErrEmptyFilePath, got %v", err)
	}
	_, err := HashFiles([]InputFile{
		{Path: "a.pdf", Content: []byte("1")},
		{Path: "a.pdf", Content: []byte("2")},
	})
	if err == nil {
		t.Fatal("expected duplicate path error")
	}
}
