package retrieve

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// popupProbeInterval paces the window.open poller.
const popupProbeInterval = 200 * time.Millisecond

// patchWindowOpenJS replaces window.open so the popup URL lands in a page
// global instead of a new tab the driver cannot reach. Idempotent across
// clicks within the same document.
const patchWindowOpenJS = `(() => {
	if (window.__dwOpenPatched) return true;
	window.__dwOpenPatched = true;
	window.__dwLastOpenURL = null;
	const original = window.open;
	window.open = function(url) {
		window.__dwLastOpenURL = String(url || "");
		return null;
	};
	return true;
})()`

const readPopupURLJS = `window.__dwLastOpenURL`

// capture clicks the View control and races two delivery channels against a
// shared deadline: a network listener watching for a PDF-ish response in the
// page itself, and a poller watching for a popup URL intercepted from
// window.open. Whichever fires first wins; the loser is discarded.
func (m *Machine) capture(ctx context.Context) (docket.RetrievedArtifact, error) {
	var patched bool
	if err := m.page.EvaluateJSON(ctx, patchWindowOpenJS, &patched); err != nil {
		return docket.RetrievedArtifact{}, fmt.Errorf("patch window.open: %w", err)
	}

	respCh := make(chan pdfResponse, 1)
	detach := m.page.Listen(newPDFResponseWatcher(respCh).handle)
	defer detach()

	if err := m.page.Click(ctx, selViewLink); err != nil {
		return docket.RetrievedArtifact{}, fmt.Errorf("click view link: %w", err)
	}

	deadline := time.NewTimer(m.cfg.CaptureTimeout)
	defer deadline.Stop()
	probe := time.NewTicker(m.cfg.PopupProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return docket.RetrievedArtifact{}, ctx.Err()
		case <-deadline.C:
			return docket.RetrievedArtifact{}, fmt.Errorf("%w: no document within %s", docket.ErrCaptureTimeout, m.cfg.CaptureTimeout)
		case resp := <-respCh:
			return m.captureFromResponse(ctx, resp)
		case <-probe.C:
			popupURL, err := m.readPopupURL(ctx)
			if err != nil {
				m.logger.Debug("popup probe failed", zap.Error(err))
				continue
			}
			if popupURL == "" {
				continue
			}
			return m.captureFromPopup(ctx, popupURL)
		}
	}
}

// captureFromResponse pulls the body of an in-page PDF response.
func (m *Machine) captureFromResponse(ctx context.Context, resp pdfResponse) (docket.RetrievedArtifact, error) {
	body, err := m.page.ResponseBody(ctx, resp.RequestID)
	if err != nil {
		return docket.RetrievedArtifact{}, fmt.Errorf("read captured response body: %w", err)
	}
	if !docket.IsPDF(body) {
		return docket.RetrievedArtifact{}, fmt.Errorf("%w: response from %s is not a PDF", docket.ErrNonPDFResponse, resp.URL)
	}
	m.logger.Debug("captured document via response listener", zap.String("url", resp.URL))
	return docket.RetrievedArtifact{Body: body, ContentType: "application/pdf", SourceURL: resp.URL}, nil
}

// captureFromPopup refetches the intercepted popup URL inside the
// authenticated session and validates the magic bytes before accepting it.
func (m *Machine) captureFromPopup(ctx context.Context, popupURL string) (docket.RetrievedArtifact, error) {
	resolved, err := m.resolvePopupURL(ctx, popupURL)
	if err != nil {
		return docket.RetrievedArtifact{}, err
	}
	body, contentType, err := m.page.Fetch(ctx, resolved)
	if err != nil {
		return docket.RetrievedArtifact{}, fmt.Errorf("fetch popup document: %w", err)
	}
	if !docket.IsPDF(body) {
		snippet := body
		if len(snippet) > 64 {
			snippet = snippet[:64]
		}
		return docket.RetrievedArtifact{}, fmt.Errorf("%w: %s returned %q", docket.ErrNonPDFResponse, resolved, string(snippet))
	}
	if contentType == "" {
		contentType = "application/pdf"
	}
	m.logger.Debug("captured document via popup interception", zap.String("url", resolved))
	return docket.RetrievedArtifact{Body: body, ContentType: contentType, SourceURL: resolved}, nil
}

func (m *Machine) readPopupURL(ctx context.Context) (string, error) {
	var popupURL *string
	if err := m.page.EvaluateJSON(ctx, readPopupURLJS, &popupURL); err != nil {
		return "", err
	}
	if popupURL == nil {
		return "", nil
	}
	return *popupURL, nil
}

// resolvePopupURL makes a possibly-relative popup URL absolute against the
// current page location.
func (m *Machine) resolvePopupURL(ctx context.Context, popupURL string) (string, error) {
	parsed, err := url.Parse(popupURL)
	if err != nil {
		return "", fmt.Errorf("parse popup url %q: %w", popupURL, err)
	}
	if parsed.IsAbs() {
		return popupURL, nil
	}
	current, err := m.page.CurrentURL(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve popup url: %w", err)
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse page url %q: %w", current, err)
	}
	return base.ResolveReference(parsed).String(), nil
}

// pdfResponse identifies an in-page response that looks like a document
// delivery.
type pdfResponse struct {
	RequestID network.RequestID
	URL       string
}

// pdfResponseWatcher matches network events against the document heuristics
// and reports the first hit once its body finished loading. GetResponseBody
// is only reliable after LoadingFinished, so the watcher holds the
// candidate until then.
type pdfResponseWatcher struct {
	out        chan<- pdfResponse
	candidates map[network.RequestID]string
}

func newPDFResponseWatcher(out chan<- pdfResponse) *pdfResponseWatcher {
	return &pdfResponseWatcher{out: out, candidates: make(map[network.RequestID]string)}
}

// handle runs on the browser event loop; it must not block.
func (w *pdfResponseWatcher) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil || !looksLikePDF(e.Response) {
			return
		}
		w.candidates[e.RequestID] = e.Response.URL
	case *network.EventLoadingFinished:
		u, ok := w.candidates[e.RequestID]
		if !ok {
			return
		}
		delete(w.candidates, e.RequestID)
		select {
		case w.out <- pdfResponse{RequestID: e.RequestID, URL: u}:
		default:
		}
	}
}

// looksLikePDF applies the portal's delivery heuristics: a PDF content
// type, a .pdf filename in the disposition, or the download endpoint in the
// URL. The download endpoint often serves a generic content type, so the
// URL check carries real weight.
func looksLikePDF(resp *network.Response) bool {
	if strings.Contains(lower(resp.MimeType), "application/pdf") {
		return true
	}
	for name, value := range resp.Headers {
		switch lower(name) {
		case "content-type":
			if s, ok := value.(string); ok && strings.Contains(lower(s), "application/pdf") {
				return true
			}
		case "content-disposition":
			if s, ok := value.(string); ok && strings.Contains(lower(s), ".pdf") {
				return true
			}
		}
	}
	return strings.Contains(lower(resp.URL), "/downloadfile/")
}

func lower(s string) string { return strings.ToLower(s) }
