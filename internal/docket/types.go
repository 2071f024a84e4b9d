// Package docket defines core types shared across subsystems.
package docket

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the tracker-side lifecycle state of a retrieval job.
type JobStatus string

// Job status values stored in the tracker. An empty status means the job has
// never been attempted.
const (
	JobStatusEmpty JobStatus = ""
	JobStatusDone  JobStatus = "Done"
	JobStatusError JobStatus = "Error"
)

// Job is one queued unit of retrieval work. The tracker owns the record; the
// engine reads a filtered slice and writes back status, attempt count, error
// text and the artifact reference.
type Job struct {
	ID           string
	DocketNumber string
	Defendant    string
	CaseName     string
	AttemptCount int
	Status       JobStatus
	ErrorText    string
	ArtifactURL  string
}

// Eligible reports whether the job may be selected for another retrieval
// attempt. A job that already carries an artifact is never re-selected, nor
// is one whose attempts have reached the cap, regardless of status.
func (j Job) Eligible(maxAttempts int) bool {
	if j.ArtifactURL != "" {
		return false
	}
	if j.AttemptCount >= maxAttempts {
		return false
	}
	return j.Status == JobStatusEmpty || j.Status == JobStatusError
}

// MissingSearchFields reports whether the record lacks a field the portal
// search form requires. Such a job can never match and is skipped without
// burning an attempt.
func (j Job) MissingSearchFields() bool {
	return j.DocketNumber == "" || j.Defendant == "" || j.CaseName == ""
}

// JobPatch is a partial update applied to a tracker record. Nil fields are
// left untouched.
type JobPatch struct {
	Status       *JobStatus
	AttemptCount *int
	ErrorText    *string
	Artifact     *ArtifactRef
}

// ArtifactRef points a job at its uploaded document.
type ArtifactRef struct {
	URL      string
	Filename string
}

// CaseRecord is one filing row extracted from the portal results table. It is
// created fresh on every extraction pass and never mutated.
type CaseRecord struct {
	Court        string
	DocketNumber string
	Defendant    string
	CaseName     string
	NatureOfSuit string
	Cause        string
	Complaint    string
	DateHit      string
	DateFiled    string
}

// Key is the de-duplication key for a record. It is identical for the same
// logical row across repeated extractions of the same page.
func (r CaseRecord) Key() string {
	return fmt.Sprintf("%s|%s", r.Court, r.DocketNumber)
}

// RetrievedArtifact holds a captured document between capture and upload.
type RetrievedArtifact struct {
	Body        []byte
	ContentType string
	SourceURL   string
}

// SessionState is the opaque authenticated-session blob persisted across
// runs. It carries no explicit expiry; staleness is detected by the login
// probe on the portal landing page.
type SessionState struct {
	Cookies []byte    `json:"cookies"`
	SavedAt time.Time `json:"saved_at"`
}

// Empty reports whether the state carries no usable session.
func (s SessionState) Empty() bool {
	return len(s.Cookies) == 0
}

// RecordFilter is the inclusion predicate applied to extracted rows: the
// complaint text, case-folded, must start with "free", and the
// nature-of-suit must be in the allow-set unless the set is empty.
type RecordFilter struct {
	allowNature map[string]struct{}
}

// NewRecordFilter builds a filter from the configured nature-of-suit
// allow-list. Blank entries are ignored; an empty list allows all natures.
func NewRecordFilter(allowNature []string) RecordFilter {
	f := RecordFilter{}
	for _, n := range allowNature {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if f.allowNature == nil {
			f.allowNature = make(map[string]struct{})
		}
		f.allowNature[n] = struct{}{}
	}
	return f
}

// Include applies the predicate to a parsed record.
func (f RecordFilter) Include(r CaseRecord) bool {
	if !strings.HasPrefix(strings.ToLower(r.Complaint), "free") {
		return false
	}
	if len(f.allowNature) == 0 {
		return true
	}
	_, ok := f.allowNature[CollapseWhitespace(r.NatureOfSuit)]
	return ok
}
