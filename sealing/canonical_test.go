package sealing

import (
	"bytes"
	"testing"
	"time"
)

func TestCanonicalizeSortsKeysAtEveryLevel(t *testing.T) {
	in := map[string]interface{}{
		"zebra": 1,
		"alpha": map[string]interface{}{
			"nine": []interface{}{3, 2, 1},
			"one":  nil,
		},
		"mid": "x",
	}
	out, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	expected := `{"alpha":{"nine":[3,2,1],"one":null},"mid":"x","zebra":1}`
	if string(out) != expected {
		t.Fatalf("expected %s, got %s", expected, string(out))
	}
}

func TestCanonicalizeDeterministicAcrossBuildOrder(t *testing.T) {
	build := func(reversed bool) map[string]interface{} {
		keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
		if reversed {
			for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
		m := make(map[string]interface{})
		for i, k := range keys {
			m[k] = i
		}
		m["nested"] = map[string]interface{}{"y": "1", "x": "2"}
		return m
	}

	// Map iteration order is randomized per run; sorting must defeat it.
	first, err := Canonicalize(build(false))
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := Canonicalize(build(i%2 == 1))
		if err != nil {
			t.Fatalf("Canonicalize error: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("iteration %d: canonical bytes differ:\n%s\n%s", i, first, again)
		}
	}
}

func TestCanonicalizeManifestMaterializesNulls(t *testing.T) {
	m := BuildManifest(BuildParams{
		BundleID:     "b-1",
		TenantID:     "t-1",
		ExportType:   "inspection_report",
		GeneratedBy:  GeneratedBy{UserID: 7, DisplayName: "Jo Field"},
		SigningKeyID: "k1",
		VerifyURL:    "https://example.test/verify/b-1",
		Files: []ManifestFileEntry{
			{Path: "report.pdf", Sha256: Sha256Hex([]byte("x")), Bytes: 1, ContentType: "application/pdf"},
		},
		GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	})

	out, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	s := string(out)
	for _, want := range []string{`"prev_bundle_hash":null`, `"source_id":null`} {
		if !bytes.Contains(out, []byte(want)) {
			t.Fatalf("expected %s in canonical manifest, got %s", want, s)
		}
	}
	// No separator whitespace; spaces inside string values are content.
	for _, bad := range []string{`": `, `", `} {
		if bytes.Contains(out, []byte(bad)) {
			t.Fatalf("canonical output contains insignificant whitespace: %s", s)
		}
	}
}

func TestCanonicalizeStructAndMapAgree(t *testing.T) {
	type pair struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	fromStruct, err := Canonicalize(pair{B: "two", A: 1})
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	fromMap, err := Canonicalize(map[string]interface{}{"b": "two", "a": 1})
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	if !bytes.Equal(fromStruct, fromMap) {
		t.Fatalf("struct and map canonical forms differ: %s vs %s", fromStruct, fromMap)
	}
	if string(fromStruct) != `{"a":1,"b":"two"}` {
		t.Fatalf("unexpected canonical form: %s", fromStruct)
	}
}

func TestCanonicalizePreservesArrayOrder(t *testing.T) {
	out, err := Canonicalize(map[string]interface{}{
		"files": []interface{}{"z.pdf", "a.pdf", "m.pdf"},
	})
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	expected := `{"files":["z.pdf","a.pdf","m.pdf"]}`
	if string(out) != expected {
		t.Fatalf("expected %s, got %s", expected, string(out))
	}
}
