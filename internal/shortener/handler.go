package shortener

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sundayezeilo/linkgate/internal/auth"
	"github.com/sundayezeilo/linkgate/internal/errx"
	"github.com/sundayezeilo/linkgate/internal/httpx"
)

// CreateLinkRequest is the JSON body of POST /api/link/create.
type CreateLinkRequest struct {
	URL          string `json:"url"`
	Slug         string `json:"slug,omitempty"`
	Comment      string `json:"comment,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`  // seconds from now
	Expiration   int64  `json:"expiration,omitempty"` // epoch seconds
	CaptchaToken string `json:"captchaToken,omitempty"`
}

// CreateLinkResponse is returned with 201 Created.
type CreateLinkResponse struct {
	Link      Link   `json:"link"`
	ShortLink string `json:"shortLink"`
}

// DeleteBatchRequest is the JSON body of POST /api/link/delete-batch.
type DeleteBatchRequest struct {
	Slugs []string `json:"slugs"`

	// CaptchaToken is consumed by the auth middleware.
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type DeleteBatchResponse struct {
	Success bool `json:"success"`
}

// Handler provides HTTP handlers for the link service.
type Handler struct {
	service    Service
	logger     *slog.Logger
	baseURL    string
	trustProxy bool
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
	// BaseURL prefixes short links (e.g. "https://sho.rt"). When empty the
	// request's scheme and host are used.
	BaseURL string
	// TrustProxy honours X-Forwarded-Proto and X-Forwarded-Host when BaseURL is empty.
	TrustProxy bool
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service:    cfg.Service,
		logger:     logger,
		baseURL:    cfg.BaseURL,
		trustProxy: cfg.TrustProxy,
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func (h *Handler) shortLink(r *http.Request, slug string) string {
	base := h.baseURL
	if base == "" {
		base = httpx.Origin(r, h.trustProxy)
	}
	return base + "/" + slug
}

// CreateLink handles POST /api/link/create.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[CreateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}

	captchaToken := req.CaptchaToken
	if captchaToken == "" {
		captchaToken = r.Header.Get(httpx.CaptchaTokenHeader)
	}

	createReq := CreateRequest{
		URL:     req.URL,
		Slug:    req.Slug,
		Comment: req.Comment,
		Credentials: auth.Credentials{
			CaptchaToken: captchaToken,
			Bearer:       httpx.BearerToken(r),
		},
	}
	if req.ExpiresIn != 0 {
		ttl, err := secondsToTTL(req.ExpiresIn)
		if err != nil {
			h.handleCreateError(ctx, logger, w, errx.E("shortener.handler.CreateLink", errx.Invalid, err))
			return
		}
		createReq.TTL = ttl
	}
	if req.Expiration != 0 {
		createReq.ExpiresAt = time.Unix(req.Expiration, 0)
	}

	link, err := h.service.Create(ctx, createReq)
	if err != nil {
		h.handleCreateError(ctx, logger, w, err)
		return
	}

	logger.InfoContext(ctx, "link created",
		"link_id", link.ID,
		"slug", link.Slug,
		"custom_slug", req.Slug != "",
		"expiration", link.Expiration,
	)

	httpx.WriteJSON(w, http.StatusCreated, CreateLinkResponse{
		Link:      link,
		ShortLink: h.shortLink(r, link.Slug),
	})
}

// secondsToTTL converts expiresIn without overflowing time.Duration.
func secondsToTTL(seconds int64) (time.Duration, error) {
	switch {
	case seconds < 0:
		return 0, errors.New("expiresIn must be positive")
	case seconds > int64(MaxLifetime/time.Second):
		return 0, ErrTooFarAhead
	}
	return time.Duration(seconds) * time.Second, nil
}

// DeleteBatch handles POST /api/link/delete-batch.
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[DeleteBatchRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}

	if err := h.service.DeleteBatch(ctx, req.Slugs); err != nil {
		h.handleDeleteError(ctx, logger, w, err)
		return
	}

	logger.InfoContext(ctx, "links deleted", "count", len(req.Slugs))
	httpx.WriteJSON(w, http.StatusOK, DeleteBatchResponse{Success: true})
}

// QueryLink handles GET /api/link/query?slug=.
func (h *Handler) QueryLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	slug := r.URL.Query().Get("slug")
	if slug == "" {
		logger.WarnContext(ctx, "missing slug query parameter")
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "slug is required", nil)
		return
	}

	link, err := h.service.Lookup(ctx, slug)
	if err != nil {
		h.handleLookupError(ctx, logger, w, err, slug)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, link)
}

// Redirect handles GET /{slug} with a 302 to the destination.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	slug := r.PathValue("slug")

	link, err := h.service.Lookup(ctx, slug)
	if err != nil {
		// a malformed slug cannot name a link
		if errx.KindOf(err) == errx.Invalid {
			err = errx.E("shortener.handler.Redirect", errx.NotFound, err)
		}
		h.handleLookupError(ctx, logger, w, err, slug)
		return
	}

	logger.InfoContext(ctx, "slug resolved",
		"slug", link.Slug,
		"user_agent", r.UserAgent(),
		"referer", r.Referer(),
	)

	w.Header().Set("Cache-Control", "private, max-age=0")
	http.Redirect(w, r, link.URL, http.StatusFound)
}

func errorAttrs(err error) []any {
	return []any{
		"error", err.Error(),
		"error_kind", errx.KindOf(err),
		"operation", errx.OpOf(err),
	}
}

// handleCreateError handles errors from the Create service method.
func (h *Handler) handleCreateError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)
	attrs := errorAttrs(err)

	switch kind {
	case errx.Unauthorized:
		logger.WarnContext(ctx, "unauthorized link request", attrs...)
		httpx.WriteKind(w, kind, errx.Message(err), nil)

	case errx.Conflict:
		logger.WarnContext(ctx, "slug conflict", attrs...)
		httpx.WriteKind(w, kind, "This slug is already taken",
			map[string]string{
				"hint": "Try a different custom slug or let us generate one for you",
			})

	case errx.Invalid:
		logger.WarnContext(ctx, "invalid link request", attrs...)
		httpx.WriteKind(w, kind, errx.Message(err), nil)

	case errx.Unavailable:
		logger.ErrorContext(ctx, "service unavailable", attrs...)
		httpx.WriteKind(w, kind, "Unable to create short link at this time. Please try again.", nil)

	default:
		logger.ErrorContext(ctx, "unexpected error creating link", attrs...)
		httpx.WriteKind(w, errx.Internal, "Unable to create short link at this time. Please try again.", nil)
	}
}

func (h *Handler) handleDeleteError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)
	attrs := errorAttrs(err)

	switch kind {
	case errx.Invalid:
		logger.WarnContext(ctx, "invalid delete request", attrs...)
		message := errx.Message(err)
		if errors.Is(err, ErrNoSlugs) {
			message = "Invalid request: No slugs provided."
		}
		httpx.WriteKind(w, kind, message, nil)

	case errx.Unavailable:
		logger.ErrorContext(ctx, "batch delete failed", attrs...)
		var details any
		var batchErr *BatchError
		if errors.As(err, &batchErr) {
			details = map[string]any{"failed": batchErr.Failures}
		}
		httpx.WriteKind(w, kind, "Some links could not be deleted. Please try again.", details)

	default:
		logger.ErrorContext(ctx, "unexpected error deleting links", attrs...)
		httpx.WriteKind(w, errx.Internal, "Unable to delete links at this time.", nil)
	}
}

func (h *Handler) handleLookupError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error, slug string) {
	kind := errx.KindOf(err)
	attrs := append(errorAttrs(err), "slug", slug)

	switch kind {
	case errx.NotFound:
		logger.WarnContext(ctx, "slug not found", attrs...)
		httpx.WriteKind(w, kind, "short link doesn't exist", nil)

	case errx.Invalid:
		logger.WarnContext(ctx, "invalid slug", attrs...)
		httpx.WriteKind(w, kind, errx.Message(err), nil)

	case errx.Unavailable:
		logger.ErrorContext(ctx, "service unavailable", attrs...)
		httpx.WriteKind(w, kind, "Unable to resolve this link at this time", nil)

	default:
		logger.ErrorContext(ctx, "unexpected error resolving link", attrs...)
		httpx.WriteKind(w, errx.Internal, "Unable to resolve this link at this time", nil)
	}
}
