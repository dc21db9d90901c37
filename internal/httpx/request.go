package httpx

import (
	"net/http"
	"strings"
)

const (
	// CaptchaTokenHeader carries a CAPTCHA token on requests without a JSON body.
	CaptchaTokenHeader = "X-Captcha-Token"

	bearerPrefix = "Bearer "
)

// BearerToken returns the credential from an "Authorization: Bearer <token>" header.
// A header without the Bearer scheme is returned as-is.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) >= len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return h
}

// Origin returns "scheme://host" for the request. When trustProxy is set the
// X-Forwarded-Proto and X-Forwarded-Host headers win over the connection values.
func Origin(r *http.Request, trustProxy bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if trustProxy {
		if p := firstHeaderValue(r, "X-Forwarded-Proto"); p == "http" || p == "https" {
			scheme = p
		}
		if h := firstHeaderValue(r, "X-Forwarded-Host"); h != "" {
			host = h
		}
	}
	return scheme + "://" + host
}

func firstHeaderValue(r *http.Request, name string) string {
	v := r.Header.Get(name)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
