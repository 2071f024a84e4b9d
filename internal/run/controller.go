// Package run sequences whole engine invocations: session warmup, the
// extraction or retrieval work, tracker sync and cleanup, all under one
// global watchdog.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/docket"
	"github.com/docketwatch/docketwatch/internal/progress"
)

// Authenticator prepares the authenticated portal session for a run.
type Authenticator interface {
	Restore(ctx context.Context) error
	EnsureAuthenticated(ctx context.Context) error
	SelectClientID(ctx context.Context) error
}

// Retriever drives one job through the document retrieval flow.
type Retriever interface {
	Run(ctx context.Context, job docket.Job) (docket.ArtifactRef, error)
}

// Extractor walks the alert results and returns filtered case records.
type Extractor interface {
	OpenAlert(ctx context.Context, dateFrom, dateTo string) error
	ExtractAll(ctx context.Context) ([]docket.CaseRecord, error)
}

// Clock supplies the current time; injectable for tests.
type Clock interface {
	Now() time.Time
}

// Config controls run-level behavior.
type Config struct {
	// GlobalTimeout bounds the whole invocation. When it expires the run is
	// abandoned wherever it stands and cleanup still executes.
	GlobalTimeout time.Duration
	// QueueLimit caps how many jobs one retrieval run takes on.
	QueueLimit int
	// MaxAttempts excludes jobs that already failed this many times.
	MaxAttempts int
	// ExportDir, when set, receives a JSON export of extracted records.
	ExportDir string
}

// RetrievalSummary tallies one retrieval run.
type RetrievalSummary struct {
	RunID     string        `json:"run_id"`
	Fetched   int           `json:"fetched"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// ExtractionSummary tallies one extraction run.
type ExtractionSummary struct {
	RunID      string        `json:"run_id"`
	Extracted  int           `json:"extracted"`
	Created    int           `json:"created"`
	ExportPath string        `json:"export_path,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Controller owns run sequencing. Construct one per invocation.
type Controller struct {
	cfg       Config
	auth      Authenticator
	tracker   docket.Tracker
	publisher docket.Publisher
	emitter   progress.Emitter
	clock     Clock
	logger    *zap.Logger

	runID uuid.UUID
	// cleanup closes the browser and any other per-run resources. It runs
	// exactly once, even when the watchdog fires mid-flight.
	cleanup func()
}

// New builds a run controller.
func New(cfg Config, auth Authenticator, tracker docket.Tracker, publisher docket.Publisher, emitter progress.Emitter, clock Clock, cleanup func(), logger *zap.Logger) *Controller {
	if cfg.GlobalTimeout <= 0 {
		cfg.GlobalTimeout = 30 * time.Minute
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 25
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		auth:      auth,
		tracker:   tracker,
		publisher: publisher,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
		runID:     uuid.New(),
		cleanup:   cleanup,
	}
}

// RunID exposes this invocation's identifier for logging and export names.
func (c *Controller) RunID() string { return c.runID.String() }

// Retrieve executes one retrieval run: warm up the session, fetch the work
// queue and walk it job by job. One job's failure is recorded on the tracker
// and never stops the rest of the queue.
func (c *Controller) Retrieve(ctx context.Context, retriever Retriever) (RetrievalSummary, error) {
	start := c.now()
	summary := RetrievalSummary{RunID: c.runID.String()}

	err := c.withWatchdog(ctx, func(ctx context.Context) error {
		if err := c.warmup(ctx); err != nil {
			return err
		}

		jobs, err := c.tracker.FetchQueue(ctx, c.cfg.QueueLimit, c.cfg.MaxAttempts)
		if err != nil {
			return fmt.Errorf("fetch work queue: %w", err)
		}
		summary.Fetched = len(jobs)
		c.logger.Info("work queue fetched", zap.String("run_id", c.runID.String()), zap.Int("jobs", len(jobs)))

		for _, job := range jobs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !job.Eligible(c.cfg.MaxAttempts) {
				summary.Skipped++
				c.logger.Info("skipping ineligible job", zap.String("job_id", job.ID), zap.String("docket", job.DocketNumber))
				continue
			}
			if job.MissingSearchFields() {
				summary.Skipped++
				c.logger.Warn("skipping job with incomplete record", zap.String("job_id", job.ID), zap.String("docket", job.DocketNumber))
				continue
			}
			if c.retrieveOne(ctx, retriever, job) {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
		}
		return ctx.Err()
	})

	summary.Duration = c.now().Sub(start)
	c.emitRun(progress.StageRunDone, summary.Duration)
	c.publish(summary)
	return summary, err
}

// retrieveOne runs a single job and syncs its outcome back to the tracker.
// It reports whether the job succeeded.
func (c *Controller) retrieveOne(ctx context.Context, retriever Retriever, job docket.Job) bool {
	jobStart := c.now()
	c.emitJob(progress.StageJobStart, job, 0, 0, "")

	ref, err := retriever.Run(ctx, job)
	if err != nil {
		c.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("docket", job.DocketNumber),
			zap.Error(err),
		)
		c.recordFailure(ctx, job, err)
		c.emitJob(progress.StageJobError, job, 0, c.now().Sub(jobStart), err.Error())
		return false
	}

	status := docket.JobStatusDone
	clearError := ""
	patch := docket.JobPatch{
		Status:    &status,
		ErrorText: &clearError,
		Artifact:  &ref,
	}
	if err := c.tracker.Patch(ctx, job.ID, patch); err != nil {
		// The artifact is already durable; only the tracker row is stale.
		c.logger.Error("job succeeded but tracker patch failed", zap.String("job_id", job.ID), zap.Error(err))
		c.emitJob(progress.StageJobError, job, 0, c.now().Sub(jobStart), err.Error())
		return false
	}
	c.emitJob(progress.StageJobDone, job, 0, c.now().Sub(jobStart), "")
	return true
}

// recordFailure bumps the attempt count and stores the truncated error text.
// A tracker write failure here is logged and swallowed: the run must keep
// going and the next queue fetch will pick the job up again anyway.
func (c *Controller) recordFailure(ctx context.Context, job docket.Job, cause error) {
	status := docket.JobStatusError
	attempts := job.AttemptCount + 1
	errText := docket.TruncateError(cause, docket.ErrorTextLimit)
	patch := docket.JobPatch{
		Status:       &status,
		AttemptCount: &attempts,
		ErrorText:    &errText,
	}
	if err := c.tracker.Patch(ctx, job.ID, patch); err != nil {
		c.logger.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Extract executes one extraction run over today's date window and creates
// the surviving records on the tracker.
func (c *Controller) Extract(ctx context.Context, extractor Extractor) (ExtractionSummary, error) {
	start := c.now()
	summary := ExtractionSummary{RunID: c.runID.String()}

	var records []docket.CaseRecord
	err := c.withWatchdog(ctx, func(ctx context.Context) error {
		if err := c.warmup(ctx); err != nil {
			return err
		}

		day := start.Format("01/02/2006")
		if err := extractor.OpenAlert(ctx, day, day); err != nil {
			return err
		}

		var err error
		records, err = extractor.ExtractAll(ctx)
		summary.Extracted = len(records)
		if err != nil {
			// Pagination stalls keep the rows gathered so far; everything
			// else abandons the run before creating partial records.
			if !errors.Is(err, docket.ErrPaginationStalled) {
				return err
			}
			c.logger.Warn("pagination stalled, keeping partial results", zap.Int("records", len(records)), zap.Error(err))
		}

		created, err := c.tracker.CreateRecords(ctx, records)
		summary.Created = created
		if err != nil {
			return fmt.Errorf("create case records: %w", err)
		}

		if c.cfg.ExportDir != "" {
			path, err := exportRecords(c.cfg.ExportDir, start, records)
			if err != nil {
				return err
			}
			summary.ExportPath = path
		}
		return nil
	})

	summary.Duration = c.now().Sub(start)
	c.emitRun(progress.StageRunDone, summary.Duration)
	c.publish(summary)
	return summary, err
}

// warmup restores persisted state, renews authentication and selects the
// billing client before any scripted work.
func (c *Controller) warmup(ctx context.Context) error {
	c.emitRun(progress.StageRunStart, 0)
	if err := c.auth.Restore(ctx); err != nil {
		return err
	}
	c.emitRun(progress.StageStateLoaded, 0)
	if err := c.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}
	c.emitRun(progress.StageLoginDone, 0)
	if err := c.auth.SelectClientID(ctx); err != nil {
		return err
	}
	c.emitRun(progress.StageClientSet, 0)
	return nil
}

// withWatchdog runs fn under the global deadline and guarantees cleanup.
// A watchdog expiry is surfaced as ErrGlobalTimeout so callers can tell an
// abandoned run from an ordinary failure.
func (c *Controller) withWatchdog(ctx context.Context, fn func(ctx context.Context) error) error {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.GlobalTimeout)
	defer cancel()
	defer func() {
		if c.cleanup != nil {
			c.cleanup()
			c.cleanup = nil
		}
	}()

	err := fn(runCtx)
	if err == nil {
		return nil
	}
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%w: run abandoned after %s: %w", docket.ErrGlobalTimeout, c.cfg.GlobalTimeout, err)
	}
	return err
}

func (c *Controller) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now().UTC()
}

func (c *Controller) emitRun(stage progress.Stage, dur time.Duration) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(progress.Event{
		RunID: progress.UUIDToBytes(c.runID),
		TS:    c.now(),
		Stage: stage,
		Dur:   dur,
	})
}

func (c *Controller) emitJob(stage progress.Stage, job docket.Job, bytes int64, dur time.Duration, note string) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(c.runID),
		TS:     c.now(),
		Stage:  stage,
		JobID:  job.ID,
		Docket: job.DocketNumber,
		Bytes:  bytes,
		Dur:    dur,
		Note:   note,
	})
}

func (c *Controller) publish(summary any) {
	if c.publisher == nil {
		return
	}
	// Publishing is advisory; a dead topic must not fail the run.
	pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.publisher.Publish(pubCtx, summary); err != nil {
		c.logger.Warn("failed to publish run summary", zap.Error(err))
	}
}
