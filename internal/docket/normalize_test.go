package docket

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeTitle(t *testing.T) {
	if NormalizeTitle("Smith, John v. ACME Corp.") != NormalizeTitle("smith john v acme corp") {
		t.Fatalf("punctuation and case variants must normalize to equal keys")
	}
	if NormalizeTitle("Smith v. ACME") == NormalizeTitle("Jones v. ACME") {
		t.Fatalf("distinct titles must not normalize to equal keys")
	}
	if got := NormalizeTitle("  A   B\tC  "); got != "a b c" {
		t.Fatalf("whitespace collapse: got %q", got)
	}
}

func TestSanitizeDocketAndArtifactKey(t *testing.T) {
	if got := SanitizeDocket("1:23-cv-00001"); got != "1_23-cv-00001" {
		t.Fatalf("SanitizeDocket: got %q", got)
	}
	want := "complaints/1_23-cv-00001/1_23-cv-00001_complaint.pdf"
	if got := ArtifactKey("1:23-cv-00001"); got != want {
		t.Fatalf("ArtifactKey: got %q, want %q", got, want)
	}
	// Same docket always derives the same key, so re-uploads overwrite.
	if ArtifactKey("1:23-cv-00001") != ArtifactKey("1:23-cv-00001") {
		t.Fatalf("ArtifactKey must be deterministic")
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n...")) {
		t.Fatalf("expected PDF magic to pass")
	}
	if IsPDF([]byte("<html><body>session expired</body></html>")) {
		t.Fatalf("HTML body must fail the PDF check")
	}
	if IsPDF([]byte("%PD")) {
		t.Fatalf("short body must fail the PDF check")
	}
}

func TestTruncateError(t *testing.T) {
	if got := TruncateError(nil, 10); got != "" {
		t.Fatalf("nil error: got %q", got)
	}
	long := errors.New(strings.Repeat("x", 3000))
	if got := TruncateError(long, 2000); len(got) != 2000 {
		t.Fatalf("expected truncation to 2000 chars, got %d", len(got))
	}
	short := errors.New("boom")
	if got := TruncateError(short, 2000); got != "boom" {
		t.Fatalf("short message must pass through, got %q", got)
	}
}
