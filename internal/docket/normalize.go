package docket

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun    = regexp.MustCompile(`\s+`)
	nonTitleChars    = regexp.MustCompile(`[^a-z0-9 ]+`)
	unsafeDocketRuns = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// CollapseWhitespace trims the string and folds interior whitespace runs
// into single spaces.
func CollapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NormalizeTitle lowercases, collapses whitespace and strips punctuation so
// that case titles rendered with differing punctuation compare equal.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceRun.ReplaceAllString(s, " ")
	return nonTitleChars.ReplaceAllString(s, "")
}

// SanitizeDocket rewrites a docket number into a form safe for object keys
// and filenames, replacing each run of unsafe characters with an underscore.
func SanitizeDocket(docket string) string {
	return unsafeDocketRuns.ReplaceAllString(docket, "_")
}

// ArtifactKey derives the deterministic object key for a docket's complaint
// so repeated uploads for the same job land on the same object.
func ArtifactKey(docket string) string {
	safe := SanitizeDocket(docket)
	return "complaints/" + safe + "/" + safe + "_complaint.pdf"
}

// ArtifactFilename is the attachment filename recorded on the tracker.
func ArtifactFilename(docket string) string {
	return SanitizeDocket(docket) + "_complaint.pdf"
}

// IsPDF checks the magic number at the start of a captured body.
func IsPDF(body []byte) bool {
	return len(body) >= 4 && string(body[:4]) == "%PDF"
}
