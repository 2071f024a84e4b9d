// Package extract drives the portal's paginated alert-results table and
// turns rows into case records.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// Page is the subset of browser operations the extractor drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	ClickLinkByText(ctx context.Context, text string) error
	Fill(ctx context.Context, sel, value string) error
	Click(ctx context.Context, sel string) error
	SetChecked(ctx context.Context, sel string, checked bool) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	EvaluateJSON(ctx context.Context, js string, out any) error
	Text(ctx context.Context, sel string) (string, error)
	Poll(ctx context.Context, js string, timeout, interval time.Duration) error
}

// Portal selectors for the results table, pagination and the blocking
// loading overlay rendered during server round-trips.
const (
	selRows       = "table[ln-table] tbody tr:not(.filter-row)"
	selFirstRow   = "table[ln-table] tbody tr:not(.filter-row)"
	selNextButton = "button.ln-pagination-next[aria-label='Next page']"
	selOverlay    = "loadbox .loadbox"
	selFromDate   = `input[aria-label="from-date"]`
	selToDate     = `input[aria-label="to-date"]`
	selSubmit     = "button.alert-btn-submit"
	selFirstParty = "#ln-checkbox-0-input"
)

// minColumns is the fixed column contract: cells 2 through 10 carry the
// record fields, so anything shorter is skipped.
const minColumns = 11

// Config controls extraction behavior.
type Config struct {
	AlertsURL string
	AlertName string
	// PageTimeout bounds the wait for the table to change after paging.
	PageTimeout time.Duration
	// OverlayTimeout bounds the wait for the loading overlay to release
	// pointer input.
	OverlayTimeout time.Duration
}

// Extractor walks the alert results pages and collects filtered records.
type Extractor struct {
	page   Page
	filter docket.RecordFilter
	cfg    Config
	logger *zap.Logger
}

// New builds an extractor for one run.
func New(page Page, filter docket.RecordFilter, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	if cfg.OverlayTimeout <= 0 {
		cfg.OverlayTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{page: page, filter: filter, cfg: cfg, logger: logger}
}

// OpenAlert navigates to the configured alert and applies the date window
// and first-participant filter before extraction starts.
func (e *Extractor) OpenAlert(ctx context.Context, dateFrom, dateTo string) error {
	if err := e.page.Navigate(ctx, e.cfg.AlertsURL); err != nil {
		return fmt.Errorf("open alerts page: %w", err)
	}
	if err := e.page.ClickLinkByText(ctx, e.cfg.AlertName); err != nil {
		return fmt.Errorf("open alert %q: %w", e.cfg.AlertName, err)
	}
	if err := e.page.WaitVisible(ctx, selFromDate, 60*time.Second); err != nil {
		return fmt.Errorf("wait for date filter: %w", err)
	}
	if err := e.page.Fill(ctx, selFromDate, dateFrom); err != nil {
		return fmt.Errorf("fill from date: %w", err)
	}
	if err := e.page.Fill(ctx, selToDate, dateTo); err != nil {
		return fmt.Errorf("fill to date: %w", err)
	}
	if err := e.clickThroughOverlay(ctx, selSubmit); err != nil {
		return fmt.Errorf("submit date filter: %w", err)
	}
	if err := e.page.WaitVisible(ctx, selFirstParty, 60*time.Second); err != nil {
		return fmt.Errorf("wait for participant filter: %w", err)
	}
	if err := e.page.SetChecked(ctx, selFirstParty, true); err != nil {
		return fmt.Errorf("check first participant: %w", err)
	}
	return nil
}

// ExtractCurrentPage parses the rendered table and returns the rows passing
// the record filter. Rows with fewer than the contracted column count are
// skipped rather than erroring.
func (e *Extractor) ExtractCurrentPage(ctx context.Context) ([]docket.CaseRecord, error) {
	if err := e.page.WaitVisible(ctx, selRows, 60*time.Second); err != nil {
		return nil, fmt.Errorf("wait for results rows: %w", err)
	}
	js := fmt.Sprintf(`(() => {
		const rows = Array.from(document.querySelectorAll(%q));
		return rows.map(r => Array.from(r.querySelectorAll("td")).map(td => td.innerText));
	})()`, selRows)
	var cells [][]string
	if err := e.page.EvaluateJSON(ctx, js, &cells); err != nil {
		return nil, fmt.Errorf("read results table: %w", err)
	}

	records := make([]docket.CaseRecord, 0, len(cells))
	for i, row := range cells {
		if len(row) < minColumns {
			e.logger.Debug("skipping short row", zap.Int("row", i), zap.Int("cells", len(row)))
			continue
		}
		rec := parseRow(row)
		if e.filter.Include(rec) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ExtractAll walks every results page, stopping when the next control is
// absent or disabled. A page that fails to change after triggering
// pagination surfaces as ErrPaginationStalled instead of looping forever.
func (e *Extractor) ExtractAll(ctx context.Context) ([]docket.CaseRecord, error) {
	var all []docket.CaseRecord
	seen := make(map[string]struct{})
	for pageNum := 1; ; pageNum++ {
		records, err := e.ExtractCurrentPage(ctx)
		if err != nil {
			return all, err
		}
		for _, rec := range records {
			if _, dup := seen[rec.Key()]; dup {
				continue
			}
			seen[rec.Key()] = struct{}{}
			all = append(all, rec)
		}
		e.logger.Info("extracted page",
			zap.Int("page", pageNum),
			zap.Int("matched", len(records)),
			zap.Int("total", len(all)),
		)

		state, err := e.nextButtonState(ctx)
		if err != nil {
			return all, err
		}
		if state != "enabled" {
			return all, nil
		}

		fingerprint, err := e.page.Text(ctx, selFirstRow)
		if err != nil {
			return all, fmt.Errorf("fingerprint first row: %w", err)
		}
		if err := e.clickThroughOverlay(ctx, selNextButton); err != nil {
			return all, fmt.Errorf("trigger next page: %w", err)
		}
		if err := e.waitRowChanged(ctx, fingerprint); err != nil {
			return all, err
		}
	}
}

func (e *Extractor) nextButtonState(ctx context.Context) (string, error) {
	js := fmt.Sprintf(`(() => {
		const b = document.querySelector(%q);
		if (!b) return "absent";
		return b.disabled ? "disabled" : "enabled";
	})()`, selNextButton)
	var state string
	if err := e.page.EvaluateJSON(ctx, js, &state); err != nil {
		return "", fmt.Errorf("probe next button: %w", err)
	}
	return state, nil
}

// clickThroughOverlay waits for the loading overlay to release pointer
// input before and after the click; the click itself falls back to a forced
// JS click when intercepted.
func (e *Extractor) clickThroughOverlay(ctx context.Context, sel string) error {
	if err := e.waitOverlayGone(ctx); err != nil {
		return err
	}
	if err := e.page.Click(ctx, sel); err != nil {
		return err
	}
	return e.waitOverlayGone(ctx)
}

func (e *Extractor) waitOverlayGone(ctx context.Context) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return true;
		const st = getComputedStyle(el);
		return st.display === "none" || st.visibility === "hidden" || st.pointerEvents === "none";
	})()`, selOverlay)
	if err := e.page.Poll(ctx, js, e.cfg.OverlayTimeout, 200*time.Millisecond); err != nil {
		return fmt.Errorf("wait for loading overlay: %w", err)
	}
	return nil
}

func (e *Extractor) waitRowChanged(ctx context.Context, fingerprint string) error {
	js := fmt.Sprintf(`(() => {
		const row = document.querySelector(%q);
		return row && row.innerText.trim() !== %q;
	})()`, selFirstRow, fingerprint)
	err := e.page.Poll(ctx, js, e.cfg.PageTimeout, 250*time.Millisecond)
	if err == nil {
		return nil
	}
	if errors.Is(err, docket.ErrNavigationTimeout) {
		return fmt.Errorf("%w (waited %s)", docket.ErrPaginationStalled, e.cfg.PageTimeout)
	}
	return err
}

// parseRow maps the fixed column layout onto a record. Column indexes
// follow the table contract: cells 0-1 are selection/expansion controls.
func parseRow(cells []string) docket.CaseRecord {
	return docket.CaseRecord{
		Court:        docket.CollapseWhitespace(cells[2]),
		DocketNumber: docket.CollapseWhitespace(cells[3]),
		Defendant:    docket.CollapseWhitespace(cells[4]),
		CaseName:     docket.CollapseWhitespace(cells[5]),
		NatureOfSuit: docket.CollapseWhitespace(cells[6]),
		Cause:        docket.CollapseWhitespace(cells[7]),
		Complaint:    docket.CollapseWhitespace(cells[8]),
		DateHit:      docket.CollapseWhitespace(cells[9]),
		DateFiled:    docket.CollapseWhitespace(cells[10]),
	}
}
