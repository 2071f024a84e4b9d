package docket

import "testing"

func TestCaseRecordKey(t *testing.T) {
	a := CaseRecord{Court: "S.D.N.Y.", DocketNumber: "1:23-cv-00001", Complaint: "free"}
	b := CaseRecord{Court: "S.D.N.Y.", DocketNumber: "1:23-cv-00001", Complaint: "fee waiver"}
	if a.Key() != b.Key() {
		t.Fatalf("same court|docket must produce the same key: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() != "S.D.N.Y.|1:23-cv-00001" {
		t.Fatalf("unexpected key %q", a.Key())
	}
	c := CaseRecord{Court: "N.D. Cal.", DocketNumber: "1:23-cv-00001"}
	if a.Key() == c.Key() {
		t.Fatalf("different courts must not collide")
	}
}

func TestRecordFilter(t *testing.T) {
	cases := []struct {
		name     string
		allow    []string
		record   CaseRecord
		included bool
	}{
		{
			name:     "free complaint with allowed nature",
			allow:    []string{"440", "220"},
			record:   CaseRecord{Complaint: "FREE — consumer fraud", NatureOfSuit: "440"},
			included: true,
		},
		{
			name:     "non-free complaint excluded regardless of nature",
			allow:    []string{"440", "220"},
			record:   CaseRecord{Complaint: "fee waiver denied", NatureOfSuit: "440"},
			included: false,
		},
		{
			name:     "empty allow-set never disqualifies by nature",
			allow:    nil,
			record:   CaseRecord{Complaint: "free access", NatureOfSuit: "999"},
			included: true,
		},
		{
			name:     "nature outside allow-set excluded",
			allow:    []string{"440"},
			record:   CaseRecord{Complaint: "free access", NatureOfSuit: "220"},
			included: false,
		},
		{
			name:     "nature compared whitespace-normalized",
			allow:    []string{"440 Civil Rights"},
			record:   CaseRecord{Complaint: "free access", NatureOfSuit: "  440   Civil Rights "},
			included: true,
		},
		{
			name:     "blank allow entries ignored",
			allow:    []string{"", "  "},
			record:   CaseRecord{Complaint: "free access", NatureOfSuit: "anything"},
			included: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewRecordFilter(tc.allow)
			if got := f.Include(tc.record); got != tc.included {
				t.Fatalf("Include=%v, want %v", got, tc.included)
			}
		})
	}
}

func TestJobEligible(t *testing.T) {
	cases := []struct {
		name        string
		job         Job
		maxAttempts int
		want        bool
	}{
		{"fresh job", Job{}, 5, true},
		{"errored under cap", Job{Status: JobStatusError, AttemptCount: 4}, 5, true},
		{"errored at cap", Job{Status: JobStatusError, AttemptCount: 5}, 5, false},
		{"errored at cap but higher max", Job{Status: JobStatusError, AttemptCount: 5}, 6, true},
		{"done never reselected", Job{Status: JobStatusDone}, 5, false},
		{"artifact set never reselected", Job{ArtifactURL: "https://example.com/a.pdf"}, 5, false},
		{"artifact set even when errored", Job{Status: JobStatusError, ArtifactURL: "https://x/a.pdf"}, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Eligible(tc.maxAttempts); got != tc.want {
				t.Fatalf("Eligible=%v, want %v", got, tc.want)
			}
		})
	}
}
