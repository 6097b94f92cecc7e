package vtop

import (
	"net/http"
)

// Cookies exports the portal cookies held by the client. The jar only keeps
// name and value per request URL, so every cookie is scoped to the portal host.
func (c *Client) Cookies() []*http.Cookie {
	cookies := c.jar.Cookies(c.BaseUrl)
	out := make([]*http.Cookie, 0, len(cookies))
	for _, cookie := range cookies {
		out = append(out, &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   c.BaseUrl.Hostname(),
			Path:     "/",
			Secure:   c.BaseUrl.Scheme == "https",
			HttpOnly: true,
		})
	}
	return out
}

// SetCookies restores previously exported cookies into the client's jar.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	restored := make([]*http.Cookie, 0, len(cookies))
	for _, cookie := range cookies {
		if cookie == nil || cookie.Name == "" {
			continue
		}
		// host-only, the jar rejects domain cookies for IP hosts
		restored = append(restored, &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     "/",
			Expires:  cookie.Expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HttpOnly,
		})
	}
	c.jar.SetCookies(c.BaseUrl, restored)
}
