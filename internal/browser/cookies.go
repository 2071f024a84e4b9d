package browser

import (
	"net/http"

	"github.com/chromedp/cdproto/network"
)

func toHTTPCookie(c *network.Cookie) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
}
