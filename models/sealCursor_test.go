package models

import (
	"testing"
	"time"
)

func TestSealCursorRoundTrip(t *testing.T) {
	createdAt := time.Date(2025, 7, 14, 16, 45, 30, 123456789, time.UTC)
	bundleId := "7d4f3a10-91f2-4c6e-8a0d-2b5c9e1f6a33"

	cursor := encodeSealCursor(createdAt, bundleId)
	gotTime, gotBundle, err := decodeSealCursor(&cursor)
	if err != nil {
		t.Fatalf("decodeSealCursor error: %v", err)
	}
	if !gotTime.Equal(createdAt) {
		t.Fatalf("decoded time %s, want %s", gotTime, createdAt)
	}
	if gotBundle != bundleId {
		t.Fatalf("decoded bundle %s, want %s", gotBundle, bundleId)
	}
}

func TestSealCursorKeepsSubSecondPrecision(t *testing.T) {
	// MySQL timestamps carry fractional seconds; truncating them in the
	// cursor would skip or repeat rows at page boundaries.
	a := time.Date(2025, 7, 14, 16, 45, 30, 100000000, time.UTC)
	b := time.Date(2025, 7, 14, 16, 45, 30, 200000000, time.UTC)

	ca := encodeSealCursor(a, "b-1")
	cb := encodeSealCursor(b, "b-1")
	if ca == cb {
		t.Fatal("cursors for different sub-second times must differ")
	}
}

func TestDecodeSealCursorEmpty(t *testing.T) {
	gotTime, gotBundle, err := decodeSealCursor(nil)
	if err != nil || gotBundle != "" || !gotTime.IsZero() {
		t.Fatalf("nil cursor: got (%v, %q, %v)", gotTime, gotBundle, err)
	}

	empty := ""
	gotTime, gotBundle, err = decodeSealCursor(&empty)
	if err != nil || gotBundle != "" || !gotTime.IsZero() {
		t.Fatalf("empty cursor: got (%v, %q, %v)", gotTime, gotBundle, err)
	}
}

func TestDecodeSealCursorRejectsGarbage(t *testing.T) {
	cases := []string{
		"not base64 at all!!!",
		EncodeCursor("no separator here"),
		EncodeCursor("not-a-time|bundle-1"),
	}
	for _, c := range cases {
		cursor := c
		if _, _, err := decodeSealCursor(&cursor); err == nil {
			t.Fatalf("cursor %q decoded without error", c)
		}
	}
}

func TestParseExportType(t *testing.T) {
	for _, s := range []string{"inspection_report", "claims_pack", "maintenance_log"} {
		got, err := ParseExportType(s)
		if err != nil {
			t.Fatalf("ParseExportType(%q) error: %v", s, err)
		}
		if string(got) != s {
			t.Fatalf("ParseExportType(%q) = %q", s, got)
		}
	}
	for _, s := range []string{"", "INSPECTION_REPORT", "claims", "audit_log"} {
		if _, err := ParseExportType(s); err == nil {
			t.Fatalf("ParseExportType(%q) accepted", s)
		}
	}
}
