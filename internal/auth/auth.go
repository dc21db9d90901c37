// Package auth decides whether a request may create or manage links.
//
// A request is authorized by either of two alternative credentials: a CAPTCHA
// token redeemed with the provider, or a bearer token equal to the configured
// site token. The CAPTCHA is tried first; a failed or unreachable CAPTCHA
// falls through to the bearer check.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sundayezeilo/linkgate/internal/captcha"
	"github.com/sundayezeilo/linkgate/internal/errx"
	"github.com/sundayezeilo/linkgate/internal/httpx"
)

// MinTokenLength is the shortest accepted site token and the threshold of
// the "too short" hint on bearer credentials.
const MinTokenLength = 8

// Messages returned with unauthorized decisions.
const (
	MessageUnauthorized  = "Unauthorized: Invalid Bearer or CAPTCHA token."
	MessageTokenTooShort = "Token is too short"
)

var (
	ErrNoSiteToken    = errors.New("auth: site token is not configured")
	ErrShortSiteToken = fmt.Errorf("auth: site token must be at least %d characters", MinTokenLength)

	// ErrUnauthorized matches every *DeniedError.
	ErrUnauthorized = errors.New("unauthorized")
)

// DeniedError carries the message of an unauthorized decision.
type DeniedError struct {
	Message string
}

func (e *DeniedError) Error() string { return e.Message }

func (e *DeniedError) Is(target error) bool { return target == ErrUnauthorized }

// Method tags the credential that authorized a request.
type Method uint8

const (
	MethodNone Method = iota
	MethodCaptcha
	MethodBearer
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodCaptcha:
		return "captcha"
	case MethodBearer:
		return "bearer"
	default:
		return fmt.Sprintf("Method(%d)", m)
	}
}

// Decision is the outcome of Authenticate. Method is MethodNone exactly when
// the request is denied, in which case Message explains why.
type Decision struct {
	Method  Method
	Message string
}

func (d Decision) Authorized() bool { return d.Method != MethodNone }

// Err returns nil for an authorized decision and an Unauthorized error otherwise.
func (d Decision) Err() error {
	if d.Authorized() {
		return nil
	}
	return errx.E("auth.Authenticate", errx.Unauthorized, &DeniedError{Message: d.Message})
}

// Credentials are the request's candidate proofs of authorization.
type Credentials struct {
	CaptchaToken string
	Bearer       string
}

// Recorder receives authorization outcomes.
type Recorder interface {
	AuthDecision(method string)
	CaptchaError()
}

type Config struct {
	SiteToken string
	// Verifier redeems CAPTCHA tokens. Nil disables the CAPTCHA credential.
	Verifier captcha.Verifier
	Logger   *slog.Logger
	Metrics  Recorder
}

// Authenticator evaluates Credentials. It is safe for concurrent use.
type Authenticator struct {
	siteToken []byte
	verifier  captcha.Verifier
	logger    *slog.Logger
	metrics   Recorder
}

// New returns an Authenticator. A missing or short site token is a setup error.
func New(cfg Config) (*Authenticator, error) {
	switch {
	case cfg.SiteToken == "":
		return nil, ErrNoSiteToken
	case len(cfg.SiteToken) < MinTokenLength:
		return nil, ErrShortSiteToken
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		siteToken: []byte(cfg.SiteToken),
		verifier:  cfg.Verifier,
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Authenticate never fails: provider errors are logged, counted and treated
// as a negative CAPTCHA verdict.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) Decision {
	d := a.decide(ctx, creds)
	if a.metrics != nil {
		a.metrics.AuthDecision(d.Method.String())
	}
	return d
}

func (a *Authenticator) decide(ctx context.Context, creds Credentials) Decision {
	if creds.CaptchaToken != "" && a.verifier != nil {
		ok, err := a.verifier.Verify(ctx, creds.CaptchaToken)
		if err != nil {
			a.logger.WarnContext(ctx, "captcha verification failed",
				"request_id", httpx.GetRequestID(ctx),
				"error", err,
			)
			if a.metrics != nil {
				a.metrics.CaptchaError()
			}
		}
		if ok && err == nil {
			return Decision{Method: MethodCaptcha}
		}
	}

	if creds.Bearer != "" && subtle.ConstantTimeCompare([]byte(creds.Bearer), a.siteToken) == 1 {
		return Decision{Method: MethodBearer}
	}

	if creds.Bearer != "" && len(creds.Bearer) < MinTokenLength {
		return Decision{Method: MethodNone, Message: MessageTokenTooShort}
	}
	return Decision{Method: MethodNone, Message: MessageUnauthorized}
}
