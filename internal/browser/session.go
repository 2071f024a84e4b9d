// Package browser owns the single headless-Chrome session used by a run.
// It wraps chromedp with the portal-specific interaction helpers the rest of
// the engine needs: overlay-aware clicking, form filling, cookie snapshot
// and restore, and authenticated out-of-page fetches.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// Config controls browser launch and default wait behavior.
type Config struct {
	Headless    bool
	UserAgent   string
	NavTimeout  time.Duration
	WaitTimeout time.Duration
}

// Session is one live browser tab. It is not safe for concurrent use; the
// run controller drives it strictly sequentially.
type Session struct {
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context
	cfg         Config
	logger      *zap.Logger
}

// New launches headless Chrome and opens the tab used for the whole run.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.WindowSize(1280, 720),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tab, network.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Session{
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		tab:         tab,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Close tears down the tab and the browser process. It uses its own
// deadline so cleanup still completes when the run context is already dead.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.tabCancel()
	s.allocCancel()
}

// run executes chromedp actions against the tab under both the caller's
// context and an operation timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %w", docket.ErrNavigationTimeout, err)
	}
	return err
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Navigate loads a URL and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.cfg.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// CurrentURL returns the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// WaitVisible blocks until the selector is visible or the timeout elapses.
func (s *Session) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.WaitTimeout
	}
	return s.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

// WaitGone blocks until no element matches the selector.
func (s *Session) WaitGone(ctx context.Context, sel string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.WaitTimeout
	}
	js := fmt.Sprintf("document.querySelector(%q) === null", sel)
	return s.run(ctx, timeout, chromedp.Poll(js, nil, chromedp.WithPollingInterval(200*time.Millisecond)))
}

// ElementCount returns how many nodes match the selector right now.
func (s *Session) ElementCount(ctx context.Context, sel string) (int, error) {
	var count int
	js := fmt.Sprintf("document.querySelectorAll(%q).length", sel)
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(js, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

// Fill sets an input's value, dispatching the events the portal's framework
// listens for.
func (s *Session) Fill(ctx context.Context, sel, value string) error {
	return s.run(ctx, s.cfg.WaitTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, value, chromedp.ByQuery),
	)
}

// Click performs a normal click, falling back to a JS-level click when the
// pointer event is intercepted (typically by the loading overlay).
func (s *Session) Click(ctx context.Context, sel string) error {
	err := s.run(ctx, 10*time.Second, chromedp.Click(sel, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Debug("click intercepted, forcing via JS", zap.String("selector", sel), zap.Error(err))
	js := fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (!el) return false; el.scrollIntoView({block:"center"}); el.click(); return true; })()`, sel)
	var clicked bool
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(js, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("click %q: element not found", sel)
	}
	return nil
}

// ClickLinkByText clicks the anchor whose trimmed text matches exactly.
func (s *Session) ClickLinkByText(ctx context.Context, text string) error {
	js := fmt.Sprintf(`(() => {
		const links = Array.from(document.querySelectorAll("a"));
		const hit = links.find(a => a.innerText.trim() === %q);
		if (!hit) return false;
		hit.click();
		return true;
	})()`, text)
	var clicked bool
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(js, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("link %q not found", text)
	}
	return nil
}

// SetChecked drives a checkbox or radio to the desired state via a JS click
// so the page's change handlers fire.
func (s *Session) SetChecked(ctx context.Context, sel string, checked bool) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		if (el.checked !== %t) el.click();
		return true;
	})()`, sel, checked)
	var ok bool
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("checkbox %q not found", sel)
	}
	return nil
}

// SelectOption selects a value in a <select> element and reports the value
// that was current beforehand.
func (s *Session) SelectOption(ctx context.Context, sel, value string) (string, error) {
	var prev string
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return null;
		const prev = el.value;
		if (prev !== %q) {
			el.value = %q;
			el.dispatchEvent(new Event("change", {bubbles: true}));
		}
		return prev;
	})()`, sel, value, value)
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(js, &prev)); err != nil {
		return "", err
	}
	return prev, nil
}

// Text returns the trimmed innerText of the first matching element.
func (s *Session) Text(ctx context.Context, sel string) (string, error) {
	js := fmt.Sprintf(`(() => { const el = document.querySelector(%q); return el ? el.innerText : ""; })()`, sel)
	var text string
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(js, &text)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// EvaluateJSON runs an expression and unmarshals its JSON result into out.
// Pass nil to discard the result.
func (s *Session) EvaluateJSON(ctx context.Context, js string, out any) error {
	if out == nil {
		var discard json.RawMessage
		return s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(js, &discard))
	}
	return s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(js, out))
}

// Poll evaluates the expression until it is truthy or the timeout elapses.
// A timeout surfaces as docket.ErrNavigationTimeout so callers can
// classify the stall.
func (s *Session) Poll(ctx context.Context, js string, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = s.cfg.WaitTimeout
	}
	err := s.run(ctx, timeout+5*time.Second,
		chromedp.Poll(js, nil,
			chromedp.WithPollingInterval(interval),
			chromedp.WithPollingTimeout(timeout),
		))
	if err != nil && errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("%w: condition not met within %s", docket.ErrNavigationTimeout, timeout)
	}
	return err
}

// Listen registers a CDP event listener on the tab and returns a function
// that detaches it. Events keep flowing until the returned stop function is
// called.
func (s *Session) Listen(fn func(ev any)) func() {
	listenCtx, cancel := context.WithCancel(s.tab)
	chromedp.ListenTarget(listenCtx, fn)
	return cancel
}

// ResponseBody fetches the body of a network response observed on the tab.
func (s *Session) ResponseBody(ctx context.Context, requestID network.RequestID) ([]byte, error) {
	var body []byte
	err := s.run(ctx, s.cfg.WaitTimeout, chromedp.ActionFunc(func(cdpCtx context.Context) error {
		b, err := network.GetResponseBody(requestID).Do(cdpCtx)
		if err != nil {
			return err
		}
		body = b
		return nil
	}))
	return body, err
}

// ExportCookies snapshots the browser's cookie jar as an opaque blob.
func (s *Session) ExportCookies(ctx context.Context) ([]byte, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, s.cfg.WaitTimeout, chromedp.ActionFunc(func(cdpCtx context.Context) error {
		c, err := cdpstorage.GetCookies().Do(cdpCtx)
		if err != nil {
			return err
		}
		cookies = c
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return json.Marshal(cookies)
}

// ImportCookies restores a cookie snapshot produced by ExportCookies.
func (s *Session) ImportCookies(ctx context.Context, blob []byte) error {
	var cookies []*network.Cookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return fmt.Errorf("decode cookie blob: %w", err)
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		})
	}
	return s.run(ctx, s.cfg.WaitTimeout, chromedp.ActionFunc(func(cdpCtx context.Context) error {
		return cdpstorage.SetCookies(params).Do(cdpCtx)
	}))
}

// Fetch retrieves a URL outside the page using the session's cookies, for
// documents the portal opens via popup rather than in-page navigation.
func (s *Session) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	blob, err := s.ExportCookies(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("export cookies: %w", err)
	}
	var cookies []*network.Cookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return nil, "", fmt.Errorf("decode cookies: %w", err)
	}

	client := resty.New().SetTimeout(s.cfg.NavTimeout)
	if s.cfg.UserAgent != "" {
		client.SetHeader("User-Agent", s.cfg.UserAgent)
	}
	req := client.R().SetContext(ctx)
	for _, c := range cookies {
		req.SetCookie(toHTTPCookie(c))
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("authenticated fetch: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return nil, "", fmt.Errorf("authenticated fetch: status %d for %s", resp.StatusCode(), rawURL)
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
