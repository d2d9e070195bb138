package sealing

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// Archive entry names fixed by the bundle format. Any off-the-shelf unzip
// tool can inspect a bundle without verifying it.
const (
	ManifestFileName  = "manifest.json"
	SignatureFileName = "manifest.sig"
)

// BuildArchive packs the source files at their declared paths plus
// manifest.json and manifest.sig at the archive root. manifestBytes must be
// the canonical bytes verbatim; re-serializing here would risk breaking
// signature verification.
func BuildArchive(files []InputFile, manifestBytes []byte, signature string) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	write := func(name string, content []byte) error {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("archive create %s: %w", name, err)
		}
		if _, err := w.Write(content); err != nil {
			return fmt.Errorf("archive write %s: %w", name, err)
		}
		return nil
	}

	for _, f := range files {
		if err := write(f.Path, f.Content); err != nil {
			return nil, err
		}
	}
	if err := write(ManifestFileName, manifestBytes); err != nil {
		return nil, err
	}
	if err := write(SignatureFileName, []byte(signature)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive close: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadArchive extracts every entry of a bundle archive into memory, keyed by
// entry name.
func ReadArchive(archive []byte) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("archive open: %w", err)
	}
	out := make(map[string][]byte, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", zf.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", zf.Name, err)
		}
		out[zf.Name] = content
	}
	return out, nil
}
