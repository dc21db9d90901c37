package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/sundayezeilo/linkgate/internal/errx"
	"github.com/sundayezeilo/linkgate/internal/httpx"
)

type contextKey struct{}

// WithDecision stores an authorized decision in ctx.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, contextKey{}, d)
}

// DecisionFrom returns the decision stored by Middleware, if any.
func DecisionFrom(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(contextKey{}).(Decision)
	return d, ok
}

// CredentialsFromRequest reads the bearer token from the Authorization
// header and the CAPTCHA token from the X-Captcha-Token header.
func CredentialsFromRequest(r *http.Request) Credentials {
	return Credentials{
		CaptchaToken: r.Header.Get(httpx.CaptchaTokenHeader),
		Bearer:       httpx.BearerToken(r),
	}
}

// captchaFromBody returns the captchaToken field of a JSON body and puts the
// body back for the next handler. Bodies that are not JSON objects yield "".
func captchaFromBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	// one byte over the limit keeps oversized bodies detectable downstream
	body, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxRequestBodySize+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		CaptchaToken string `json:"captchaToken"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.CaptchaToken
}

// Middleware rejects requests whose credentials are not authorized with a
// 401 JSON error. Without an X-Captcha-Token header the CAPTCHA token is
// read from the captchaToken field of a JSON body.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := CredentialsFromRequest(r)
		if creds.CaptchaToken == "" {
			creds.CaptchaToken = captchaFromBody(r)
		}

		d := a.Authenticate(r.Context(), creds)
		if !d.Authorized() {
			httpx.WriteKind(w, errx.Unauthorized, d.Message, nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))
	})
}
