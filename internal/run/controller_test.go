package run

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docketwatch/docketwatch/internal/docket"
	"github.com/docketwatch/docketwatch/internal/progress"
)

type fakeAuth struct {
	calls   []string
	authErr error
}

func (f *fakeAuth) Restore(context.Context) error {
	f.calls = append(f.calls, "restore")
	return nil
}

func (f *fakeAuth) EnsureAuthenticated(context.Context) error {
	f.calls = append(f.calls, "auth")
	return f.authErr
}

func (f *fakeAuth) SelectClientID(context.Context) error {
	f.calls = append(f.calls, "client")
	return nil
}

type patchCall struct {
	jobID string
	patch docket.JobPatch
}

type fakeTracker struct {
	queue    []docket.Job
	fetchErr error

	patches []patchCall
	created []docket.CaseRecord
}

func (f *fakeTracker) FetchQueue(context.Context, int, int) ([]docket.Job, error) {
	return f.queue, f.fetchErr
}

func (f *fakeTracker) Patch(_ context.Context, jobID string, patch docket.JobPatch) error {
	f.patches = append(f.patches, patchCall{jobID: jobID, patch: patch})
	return nil
}

func (f *fakeTracker) CreateRecords(_ context.Context, records []docket.CaseRecord) (int, error) {
	f.created = append(f.created, records...)
	return len(records), nil
}

type fakeRetriever struct {
	run func(ctx context.Context, job docket.Job) (docket.ArtifactRef, error)
}

func (f *fakeRetriever) Run(ctx context.Context, job docket.Job) (docket.ArtifactRef, error) {
	return f.run(ctx, job)
}

type fakeExtractor struct {
	records []docket.CaseRecord
	err     error
	opened  []string
}

func (f *fakeExtractor) OpenAlert(_ context.Context, from, to string) error {
	f.opened = append(f.opened, from, to)
	return nil
}

func (f *fakeExtractor) ExtractAll(context.Context) ([]docket.CaseRecord, error) {
	return f.records, f.err
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
}

func (f *fakePublisher) Publish(_ context.Context, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return "msg-1", nil
}

func (f *fakePublisher) Close() error { return nil }

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, len(c.events))
	for i, e := range c.events {
		out[i] = e.Stage
	}
	return out
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func testController(cfg Config, auth Authenticator, tracker docket.Tracker, pub docket.Publisher, emitter progress.Emitter, cleanup func()) *Controller {
	return New(cfg, auth, tracker, pub, emitter, fixedClock{t: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}, cleanup, nil)
}

func TestRetrieveWalksQueueAndRecordsOutcomes(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{queue: []docket.Job{
		{ID: "job-done", DocketNumber: "1:23-cv-00001", ArtifactURL: "https://blob/x.pdf"},
		{ID: "job-ok", DocketNumber: "1:23-cv-00002", Defendant: "ACME Corp", CaseName: "Smith v. ACME"},
		{ID: "job-bad", DocketNumber: "1:23-cv-00003", Defendant: "Widget Co", CaseName: "Jones v. Widget", AttemptCount: 1, Status: docket.JobStatusError},
	}}
	auth := &fakeAuth{}
	pub := &fakePublisher{}
	emitter := &captureEmitter{}
	cleanups := 0

	retriever := &fakeRetriever{run: func(_ context.Context, job docket.Job) (docket.ArtifactRef, error) {
		if job.ID == "job-bad" {
			return docket.ArtifactRef{}, docket.ErrCaptureTimeout
		}
		return docket.ArtifactRef{URL: "https://signed/doc.pdf", Filename: "doc.pdf"}, nil
	}}

	c := testController(Config{MaxAttempts: 5}, auth, tracker, pub, emitter, func() { cleanups++ })
	summary, err := c.Retrieve(context.Background(), retriever)
	require.NoError(t, err)

	require.Equal(t, 3, summary.Fetched)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 1, cleanups, "cleanup must run exactly once")
	require.Equal(t, []string{"restore", "auth", "client"}, auth.calls)

	require.Len(t, tracker.patches, 2)
	ok := tracker.patches[0]
	require.Equal(t, "job-ok", ok.jobID)
	require.Equal(t, docket.JobStatusDone, *ok.patch.Status)
	require.Equal(t, "", *ok.patch.ErrorText)
	require.Equal(t, "https://signed/doc.pdf", ok.patch.Artifact.URL)

	bad := tracker.patches[1]
	require.Equal(t, "job-bad", bad.jobID)
	require.Equal(t, docket.JobStatusError, *bad.patch.Status)
	require.Equal(t, 2, *bad.patch.AttemptCount)
	require.Contains(t, *bad.patch.ErrorText, "capture timed out")
	require.Nil(t, bad.patch.Artifact)

	require.Equal(t, []progress.Stage{
		progress.StageRunStart, progress.StageStateLoaded, progress.StageLoginDone, progress.StageClientSet,
		progress.StageJobStart, progress.StageJobDone,
		progress.StageJobStart, progress.StageJobError,
		progress.StageRunDone,
	}, emitter.stages())

	require.Len(t, pub.payloads, 1)
}

func TestRetrieveTruncatesStoredErrorText(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{queue: []docket.Job{{ID: "job-1", DocketNumber: "1:23-cv-00001", Defendant: "ACME Corp", CaseName: "Smith v. ACME"}}}
	longErr := errors.New(strings.Repeat("x", 5000))
	retriever := &fakeRetriever{run: func(context.Context, docket.Job) (docket.ArtifactRef, error) {
		return docket.ArtifactRef{}, longErr
	}}

	c := testController(Config{}, &fakeAuth{}, tracker, nil, nil, nil)
	_, err := c.Retrieve(context.Background(), retriever)
	require.NoError(t, err)

	require.Len(t, tracker.patches, 1)
	require.Len(t, *tracker.patches[0].patch.ErrorText, docket.ErrorTextLimit)
}

func TestRetrieveWatchdogAbandonsRun(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{queue: []docket.Job{{ID: "job-1", DocketNumber: "1:23-cv-00001", Defendant: "ACME Corp", CaseName: "Smith v. ACME"}}}
	retriever := &fakeRetriever{run: func(ctx context.Context, _ docket.Job) (docket.ArtifactRef, error) {
		<-ctx.Done()
		return docket.ArtifactRef{}, ctx.Err()
	}}
	cleanups := 0

	c := testController(Config{GlobalTimeout: 50 * time.Millisecond}, &fakeAuth{}, tracker, nil, nil, func() { cleanups++ })
	start := time.Now()
	_, err := c.Retrieve(context.Background(), retriever)
	require.ErrorIs(t, err, docket.ErrGlobalTimeout)
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, 1, cleanups, "cleanup must run even when the watchdog fires")
}

func TestRetrieveSkipsJobMissingSearchFields(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{queue: []docket.Job{
		{ID: "job-no-defendant", DocketNumber: "1:23-cv-00004", CaseName: "Smith v. ACME"},
		{ID: "job-no-docket", Defendant: "ACME Corp", CaseName: "Smith v. ACME"},
	}}
	retriever := &fakeRetriever{run: func(_ context.Context, job docket.Job) (docket.ArtifactRef, error) {
		t.Fatalf("retriever must not run incomplete job %s", job.ID)
		return docket.ArtifactRef{}, nil
	}}

	c := testController(Config{}, &fakeAuth{}, tracker, nil, nil, nil)
	summary, err := c.Retrieve(context.Background(), retriever)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Skipped)
	require.Empty(t, tracker.patches, "incomplete records must not burn attempts")
}

func TestRetrieveAuthFailureAbortsBeforeQueue(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{queue: []docket.Job{{ID: "job-1", DocketNumber: "1:23-cv-00001"}}}
	auth := &fakeAuth{authErr: docket.ErrAuth}

	c := testController(Config{}, auth, tracker, nil, nil, nil)
	_, err := c.Retrieve(context.Background(), &fakeRetriever{run: func(context.Context, docket.Job) (docket.ArtifactRef, error) {
		t.Fatal("retriever must not run when auth fails")
		return docket.ArtifactRef{}, nil
	}})
	require.ErrorIs(t, err, docket.ErrAuth)
	require.Empty(t, tracker.patches)
}

func TestExtractCreatesRecordsAndExports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tracker := &fakeTracker{}
	extractor := &fakeExtractor{records: []docket.CaseRecord{
		{Court: "S.D.N.Y.", DocketNumber: "1:23-cv-00001", Complaint: "free one"},
		{Court: "N.D. Cal.", DocketNumber: "3:23-cv-00009", Complaint: "free two"},
	}}

	c := testController(Config{ExportDir: dir}, &fakeAuth{}, tracker, nil, nil, nil)
	summary, err := c.Extract(context.Background(), extractor)
	require.NoError(t, err)

	require.Equal(t, 2, summary.Extracted)
	require.Equal(t, 2, summary.Created)
	require.Equal(t, []string{"08/31/2026", "08/31/2026"}, extractor.opened,
		"date window must cover the run day in portal format")
	require.Len(t, tracker.created, 2)

	require.Equal(t, filepath.Join(dir, "filtered_results_2026-08-31.json"), summary.ExportPath)
	data, err := os.ReadFile(summary.ExportPath)
	require.NoError(t, err)
	var exported []map[string]string
	require.NoError(t, json.Unmarshal(data, &exported))
	require.Len(t, exported, 2)
	require.Equal(t, "1:23-cv-00001", exported[0]["docket_number"])
}

func TestExtractKeepsPartialResultsOnStall(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{}
	extractor := &fakeExtractor{
		records: []docket.CaseRecord{{Court: "S.D.N.Y.", DocketNumber: "1:23-cv-00001", Complaint: "free"}},
		err:     docket.ErrPaginationStalled,
	}

	c := testController(Config{}, &fakeAuth{}, tracker, nil, nil, nil)
	summary, err := c.Extract(context.Background(), extractor)
	require.NoError(t, err, "a stall must not abandon the rows already gathered")
	require.Equal(t, 1, summary.Created)
	require.Len(t, tracker.created, 1)
}
