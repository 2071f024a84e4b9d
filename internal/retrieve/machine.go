// Package retrieve implements the per-job document retrieval state machine:
// search, match, modal interaction, dual-channel capture and upload.
package retrieve

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// Page is the subset of browser operations the state machine drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, sel, value string) error
	Click(ctx context.Context, sel string) error
	SetChecked(ctx context.Context, sel string, checked bool) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	ElementCount(ctx context.Context, sel string) (int, error)
	EvaluateJSON(ctx context.Context, js string, out any) error
	Text(ctx context.Context, sel string) (string, error)
	Poll(ctx context.Context, js string, timeout, interval time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	Fetch(ctx context.Context, rawURL string) (body []byte, contentType string, err error)
	Listen(fn func(ev any)) func()
	ResponseBody(ctx context.Context, requestID network.RequestID) ([]byte, error)
}

// Uploader stores a captured artifact and returns its retrievable URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// State names one step of the retrieval lifecycle.
type State string

// Retrieval states. Done and Error are terminal for the current run.
const (
	StateQueued             State = "Queued"
	StateSearching          State = "Searching"
	StateMatched            State = "Matched"
	StateModalOpen          State = "ModalOpen"
	StateDocumentsRequested State = "DocumentsRequested"
	StateCaptured           State = "Captured"
	StateUploaded           State = "Uploaded"
	StateDone               State = "Done"
	StateError              State = "Error"
)

// Search and detail-view selectors.
const (
	selDocketInput    = "#docketNumberInput"
	selLitigantName   = "input[placeholder='Enter Name...']"
	selDefendantRole  = "#litigant-defendant1"
	selPlaintiffRole  = "#litigant-plaintiff1"
	selOtherRole      = "#litigant-other1"
	selSearchTrigger  = "#triggersearch"
	selResultItems    = "resultslist result-item"
	selFirstTitleLink = "resultslist result-item a.titleLink"
	selProceedingRows = "tr[data-proceedingnumber]"
	selResultsLoadbox = "loadbox .loadbox"
	selViewLink       = "#viewfile a"
)

// Config controls per-step timeouts and retry schedules.
type Config struct {
	SearchURL string
	// ResultsTimeout bounds the wait for the results list to render after
	// submitting a search.
	ResultsTimeout time.Duration
	// ModalOpenRetry drives the free-link click loop.
	ModalOpenRetry docket.RetryPolicy
	// GetDocumentsRetry drives the Get Documents click loop.
	GetDocumentsRetry docket.RetryPolicy
	// CaptureTimeout bounds the dual-channel capture race.
	CaptureTimeout time.Duration
	// PopupProbeInterval paces the window.open poller during capture.
	PopupProbeInterval time.Duration
	// Transition, when set, observes every state change.
	Transition func(jobID string, state State)
}

// Machine retrieves one job's complaint document at a time using the run's
// live authenticated session.
type Machine struct {
	page      Page
	artifacts Uploader
	cfg       Config
	logger    *zap.Logger
}

// New builds a retrieval machine for one run.
func New(page Page, artifacts Uploader, cfg Config, logger *zap.Logger) *Machine {
	if cfg.ResultsTimeout <= 0 {
		cfg.ResultsTimeout = 60 * time.Second
	}
	if cfg.ModalOpenRetry.MaxAttempts <= 0 {
		cfg.ModalOpenRetry = docket.RetryPolicy{MaxAttempts: 3, Wait: 800 * time.Millisecond}
	}
	if cfg.GetDocumentsRetry.MaxAttempts <= 0 {
		cfg.GetDocumentsRetry = docket.RetryPolicy{MaxAttempts: 6, Wait: 900 * time.Millisecond}
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 3 * time.Minute
	}
	if cfg.PopupProbeInterval <= 0 {
		cfg.PopupProbeInterval = popupProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{page: page, artifacts: artifacts, cfg: cfg, logger: logger}
}

// Run drives one job through the full state machine and returns the
// uploaded artifact reference. Any error leaves the job in the Error state;
// the caller records it on the tracker and moves on.
func (m *Machine) Run(ctx context.Context, job docket.Job) (docket.ArtifactRef, error) {
	m.transition(job.ID, StateQueued)

	m.transition(job.ID, StateSearching)
	if err := m.search(ctx, job.DocketNumber, job.Defendant); err != nil {
		m.transition(job.ID, StateError)
		return docket.ArtifactRef{}, err
	}

	if err := m.matchFirstResult(ctx, job.CaseName); err != nil {
		m.transition(job.ID, StateError)
		return docket.ArtifactRef{}, err
	}
	m.transition(job.ID, StateMatched)

	if err := m.openComplaintModal(ctx); err != nil {
		m.transition(job.ID, StateError)
		return docket.ArtifactRef{}, err
	}
	m.transition(job.ID, StateModalOpen)

	if err := m.requestDocuments(ctx); err != nil {
		m.transition(job.ID, StateError)
		return docket.ArtifactRef{}, err
	}
	m.transition(job.ID, StateDocumentsRequested)

	artifact, err := m.capture(ctx)
	if err != nil {
		m.transition(job.ID, StateError)
		return docket.ArtifactRef{}, err
	}
	m.transition(job.ID, StateCaptured)

	key := docket.ArtifactKey(job.DocketNumber)
	url, err := m.artifacts.Upload(ctx, key, artifact.Body, artifact.ContentType)
	if err != nil {
		m.transition(job.ID, StateError)
		return docket.ArtifactRef{}, err
	}
	m.transition(job.ID, StateUploaded)

	m.logger.Info("complaint retrieved",
		zap.String("job_id", job.ID),
		zap.String("docket", job.DocketNumber),
		zap.Int("bytes", len(artifact.Body)),
		zap.String("source", artifact.SourceURL),
	)
	m.transition(job.ID, StateDone)
	return docket.ArtifactRef{URL: url, Filename: docket.ArtifactFilename(job.DocketNumber)}, nil
}

func (m *Machine) transition(jobID string, state State) {
	m.logger.Debug("state transition", zap.String("job_id", jobID), zap.String("state", string(state)))
	if m.cfg.Transition != nil {
		m.cfg.Transition(jobID, state)
	}
}

// search fills the docket search form, restricting the litigant role to
// defendant only, and waits for the results list to render.
func (m *Machine) search(ctx context.Context, docketNumber, litigantName string) error {
	if err := m.page.Navigate(ctx, m.cfg.SearchURL); err != nil {
		return fmt.Errorf("open search: %w", err)
	}
	if err := m.page.WaitVisible(ctx, selDocketInput, 60*time.Second); err != nil {
		return fmt.Errorf("wait for search form: %w", err)
	}
	if err := m.page.Fill(ctx, selDocketInput, docketNumber); err != nil {
		return fmt.Errorf("fill docket number: %w", err)
	}
	if err := m.page.Fill(ctx, selLitigantName, litigantName); err != nil {
		return fmt.Errorf("fill litigant name: %w", err)
	}
	if err := m.page.SetChecked(ctx, selDefendantRole, true); err != nil {
		return fmt.Errorf("check defendant role: %w", err)
	}
	// Other roles may be pre-selected from a previous search in the same
	// session; they widen the match and must be cleared.
	for _, sel := range []string{selPlaintiffRole, selOtherRole} {
		count, err := m.page.ElementCount(ctx, sel)
		if err != nil {
			return fmt.Errorf("probe role %s: %w", sel, err)
		}
		if count == 0 {
			continue
		}
		if err := m.page.SetChecked(ctx, sel, false); err != nil {
			return fmt.Errorf("uncheck role %s: %w", sel, err)
		}
	}
	if err := m.page.Click(ctx, selSearchTrigger); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	return m.waitResultsReady(ctx)
}

// waitResultsReady waits for the results list to be attached and the
// loading box to stop covering it.
func (m *Machine) waitResultsReady(ctx context.Context) error {
	js := fmt.Sprintf(`(() => {
		if (!document.querySelector(%q)) return false;
		const box = document.querySelector(%q);
		if (!box) return true;
		const st = getComputedStyle(box);
		return st.display === "none" || st.visibility === "hidden";
	})()`, selResultItems, selResultsLoadbox)
	if err := m.page.Poll(ctx, js, m.cfg.ResultsTimeout, 250*time.Millisecond); err != nil {
		return fmt.Errorf("wait for search results: %w", err)
	}
	return nil
}

// matchFirstResult compares the first result's normalized title against the
// expected case name and opens it on a match. A mismatch is a semantic,
// non-retryable failure for this run.
func (m *Machine) matchFirstResult(ctx context.Context, expectedCaseName string) error {
	if err := m.page.WaitVisible(ctx, selFirstTitleLink, m.cfg.ResultsTimeout); err != nil {
		return fmt.Errorf("wait for first result: %w", err)
	}
	found, err := m.page.Text(ctx, selFirstTitleLink)
	if err != nil {
		return fmt.Errorf("read first result title: %w", err)
	}
	if docket.NormalizeTitle(found) != docket.NormalizeTitle(expectedCaseName) {
		m.logger.Warn("first result does not match",
			zap.String("expected", expectedCaseName),
			zap.String("found", found),
		)
		return &docket.TitleMismatchError{Expected: expectedCaseName, Found: found}
	}
	if err := m.page.Click(ctx, selFirstTitleLink); err != nil {
		return fmt.Errorf("open matched case: %w", err)
	}
	return nil
}

// openComplaintModal finds the proceeding row whose document-type label
// starts with COMPLAINT and exposes a free-access link, then clicks it
// until the Get Documents control appears. The link opens a modal rather
// than navigating, so visibility of the button is the only ready signal.
func (m *Machine) openComplaintModal(ctx context.Context) error {
	if err := m.page.WaitVisible(ctx, selProceedingRows, 60*time.Second); err != nil {
		return fmt.Errorf("wait for proceedings: %w", err)
	}
	freeLinkSel, err := m.findFreeComplaintLink(ctx)
	if err != nil {
		return err
	}

	err = m.cfg.ModalOpenRetry.Do(ctx, func(ctx context.Context) error {
		if err := m.page.Click(ctx, freeLinkSel); err != nil {
			return err
		}
		return m.waitButtonVisible(ctx, "Get Documents", 15*time.Second)
	})
	if err != nil {
		return fmt.Errorf("%w: free link clicked but modal never opened: %w", docket.ErrModalTimeout, err)
	}
	return nil
}

// findFreeComplaintLink scans the proceeding rows and returns a selector
// for the qualifying free link.
func (m *Machine) findFreeComplaintLink(ctx context.Context) (string, error) {
	js := fmt.Sprintf(`(() => {
		const rows = Array.from(document.querySelectorAll(%q));
		for (const row of rows) {
			const link = row.querySelector("a.SS_ProceedingLink[data-action='ProceedingFree']");
			if (!link || !link.innerText.includes("Free")) continue;
			const td = row.querySelector("td[id^='text_']");
			if (!td) continue;
			if (!td.innerText.trim().toUpperCase().startsWith("COMPLAINT")) continue;
			return row.getAttribute("data-proceedingnumber");
		}
		return null;
	})()`, selProceedingRows)
	var proceeding *string
	if err := m.page.EvaluateJSON(ctx, js, &proceeding); err != nil {
		return "", fmt.Errorf("scan proceedings: %w", err)
	}
	if proceeding == nil {
		return "", fmt.Errorf("%w: no free COMPLAINT row found", docket.ErrModalTimeout)
	}
	return fmt.Sprintf(`tr[data-proceedingnumber="%s"] a.SS_ProceedingLink[data-action='ProceedingFree']`, *proceeding), nil
}

// requestDocuments clicks Get Documents until the View control becomes
// visible.
func (m *Machine) requestDocuments(ctx context.Context) error {
	err := m.cfg.GetDocumentsRetry.Do(ctx, func(ctx context.Context) error {
		if err := m.clickButtonByText(ctx, "Get Documents"); err != nil {
			return err
		}
		return m.waitViewVisible(ctx, 25*time.Second)
	})
	if err != nil {
		return fmt.Errorf("%w: clicked Get Documents but View never appeared: %w", docket.ErrModalTimeout, err)
	}
	return nil
}

// clickButtonByText clicks the first visible primary button whose label
// contains the text.
func (m *Machine) clickButtonByText(ctx context.Context, text string) error {
	js := fmt.Sprintf(`(() => {
		const btns = Array.from(document.querySelectorAll("button.button.primary"));
		const hit = btns.find(b => b.offsetParent !== null && b.innerText.toLowerCase().includes(%q));
		if (!hit) return false;
		hit.scrollIntoView({block: "center"});
		hit.click();
		return true;
	})()`, lower(text))
	var clicked bool
	if err := m.page.EvaluateJSON(ctx, js, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("button %q not visible", text)
	}
	return nil
}

func (m *Machine) waitButtonVisible(ctx context.Context, text string, timeout time.Duration) error {
	js := fmt.Sprintf(`(() => {
		const btns = Array.from(document.querySelectorAll("button.button.primary"));
		return btns.some(b => b.offsetParent !== null && b.innerText.toLowerCase().includes(%q));
	})()`, lower(text))
	return m.page.Poll(ctx, js, timeout, 300*time.Millisecond)
}

func (m *Machine) waitViewVisible(ctx context.Context, timeout time.Duration) error {
	js := fmt.Sprintf(`(() => {
		const link = document.querySelector(%q);
		return link !== null && link.offsetParent !== null;
	})()`, selViewLink)
	return m.page.Poll(ctx, js, timeout, 300*time.Millisecond)
}
