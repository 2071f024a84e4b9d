package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/docketwatch/docketwatch/internal/docket"
)

func TestCapturePopupPathResolvesAndFetches(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.popupURL = "/doc/view.pdf?id=9"
	page.fetchBody = []byte("%PDF-1.4 popup")
	page.fetchCT = "application/pdf"
	m := testMachine(page, &fakeUploader{})

	doc, err := m.capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://portal.example/doc/view.pdf?id=9", page.fetchedAt,
		"relative popup URL must be resolved against the page")
	require.Equal(t, []byte("%PDF-1.4 popup"), doc.Body)
	require.Equal(t, "application/pdf", doc.ContentType)
}

func TestCapturePopupRejectsNonPDFBody(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.popupURL = "https://portal.example/doc/expired"
	page.fetchBody = []byte("<html><body>session expired</body></html>")
	page.fetchCT = "text/html"
	m := testMachine(page, &fakeUploader{})

	_, err := m.capture(context.Background())
	require.ErrorIs(t, err, docket.ErrNonPDFResponse)
}

func TestCaptureResponseListenerWinsOverPopup(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.viewEvents = pdfEvents("req-9", "https://portal.example/doc/9.pdf")
	page.responseBodies["req-9"] = []byte("%PDF-1.7 inline")
	page.popupURL = "https://portal.example/doc/ignored.pdf"
	m := testMachine(page, &fakeUploader{})

	doc, err := m.capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.7 inline"), doc.Body)
	require.Equal(t, "https://portal.example/doc/9.pdf", doc.SourceURL)
	require.Empty(t, page.fetchedAt, "popup channel must not fire once the response wins")
}

func TestCaptureTimesOutWhenNeitherChannelFires(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	m := testMachine(page, &fakeUploader{})
	m.cfg.CaptureTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := m.capture(context.Background())
	require.ErrorIs(t, err, docket.ErrCaptureTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestLooksLikePDFHeuristics(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		resp *network.Response
		want bool
	}{
		{"pdf mime", &network.Response{MimeType: "application/pdf"}, true},
		{"pdf content-type header", &network.Response{
			MimeType: "application/octet-stream",
			Headers:  network.Headers{"Content-Type": "application/pdf;charset=UTF-8"},
		}, true},
		{"inline pdf disposition", &network.Response{
			MimeType: "application/octet-stream",
			Headers:  network.Headers{"Content-Disposition": `inline; filename="doc.pdf"`},
		}, true},
		{"download endpoint with generic type", &network.Response{
			MimeType: "application/octet-stream",
			URL:      "https://x/DownloadFile/abc123",
		}, true},
		{"zip attachment", &network.Response{
			MimeType: "application/zip",
			Headers:  network.Headers{"Content-Disposition": `attachment; filename="bundle.zip"`},
		}, false},
		{"html page", &network.Response{MimeType: "text/html", URL: "https://x/cases/1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, looksLikePDF(tc.resp))
		})
	}
}

func TestPDFResponseWatcherWaitsForLoadingFinished(t *testing.T) {
	t.Parallel()
	out := make(chan pdfResponse, 1)
	w := newPDFResponseWatcher(out)

	w.handle(&network.EventResponseReceived{
		RequestID: "req-1",
		Response:  &network.Response{URL: "https://x/a.pdf", MimeType: "application/pdf"},
	})
	select {
	case <-out:
		t.Fatal("must not report before the body finished loading")
	default:
	}

	w.handle(&network.EventLoadingFinished{RequestID: "req-1"})
	select {
	case got := <-out:
		require.Equal(t, network.RequestID("req-1"), got.RequestID)
		require.Equal(t, "https://x/a.pdf", got.URL)
	default:
		t.Fatal("expected a captured response after loading finished")
	}
}
