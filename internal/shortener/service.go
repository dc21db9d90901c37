package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sundayezeilo/linkgate/internal/auth"
	"github.com/sundayezeilo/linkgate/internal/errx"
	"github.com/sundayezeilo/linkgate/internal/idgen"
	"github.com/sundayezeilo/linkgate/internal/linkstore"
	"github.com/sundayezeilo/linkgate/internal/slug"
	"github.com/sundayezeilo/linkgate/internal/telemetry"
)

var tracer = telemetry.Tracer("github.com/sundayezeilo/linkgate/internal/shortener")

const (
	MaxURLLength             = 2048
	MaxCommentLength         = 2048
	MaxBatchSize             = 1000
	DefaultSlugMaxRetries    = 3
	DefaultDeleteConcurrency = 8
	DefaultTTL               = 7 * 24 * time.Hour

	// MaxLifetime bounds every expiration, configured or requested, so that
	// it stays representable by each link store backend.
	MaxLifetime = 100 * 365 * 24 * time.Hour
)

var (
	ErrExpired       = errors.New("link has expired")
	ErrNoSlugs       = errors.New("no slugs provided")
	ErrSlugExhausted = errors.New("could not generate a unique slug")
	ErrTooFarAhead   = errors.New("expiration is too far in the future")
)

// CreateRequest is one link creation attempt.
type CreateRequest struct {
	URL     string
	Slug    string // empty: generate one
	Comment string
	// TTL overrides the default lifetime; zero means unspecified.
	TTL time.Duration
	// ExpiresAt sets an absolute expiration; the zero time means unspecified.
	// Setting both TTL and ExpiresAt is invalid.
	ExpiresAt   time.Time
	Credentials auth.Credentials
}

// Service is the link admission, lookup and deletion API.
type Service interface {
	// Create runs the admission pipeline: authenticate, validate, check for
	// collision, compute the expiration and write with put-if-absent.
	Create(ctx context.Context, req CreateRequest) (Link, error)
	Lookup(ctx context.Context, rawSlug string) (Link, error)
	// DeleteBatch deletes every slug. Missing slugs are not an error.
	DeleteBatch(ctx context.Context, slugs []string) error
}

// Authorizer decides whether a creation request is allowed.
type Authorizer interface {
	Authenticate(ctx context.Context, creds auth.Credentials) auth.Decision
}

// Recorder receives admission outcomes.
type Recorder interface {
	LinkCreated(generated bool)
	LinkConflict()
	SlugRetry()
	LinksDeleted(n, failed int)
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	Slugs       *slug.Policy
	IDGenerator idgen.Generator
	KeyPrefix   string

	// DefaultTTL applies when a request names no expiration; zero means
	// such links never expire. Nil config defaults to seven days.
	DefaultTTL time.Duration
	// MaxTTL caps any requested lifetime; zero means unbounded.
	MaxTTL time.Duration

	SlugMaxRetries    int // attempts when generating a unique slug (default: 3)
	DeleteConcurrency int

	Metrics Recorder
	Now     func() time.Time
}

type service struct {
	store             linkstore.Store
	authz             Authorizer
	slugs             *slug.Policy
	ids               idgen.Generator
	keyPrefix         string
	defaultTTL        time.Duration
	maxTTL            time.Duration
	slugMaxRetries    int
	deleteConcurrency int
	metrics           Recorder
	now               func() time.Time
}

// NewService creates a new service instance.
func NewService(store linkstore.Store, authz Authorizer, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{DefaultTTL: DefaultTTL}
	}

	slugs := config.Slugs
	if slugs == nil {
		slugs = slug.NewPolicy(slug.Config{})
	}

	ids := config.IDGenerator
	if ids == nil {
		ids = idgen.V7()
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = linkstore.DefaultKeyPrefix
	}

	retries := config.SlugMaxRetries
	if retries <= 0 {
		retries = DefaultSlugMaxRetries
	}

	concurrency := config.DeleteConcurrency
	if concurrency <= 0 {
		concurrency = DefaultDeleteConcurrency
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		store:             store,
		authz:             authz,
		slugs:             slugs,
		ids:               ids,
		keyPrefix:         prefix,
		defaultTTL:        config.DefaultTTL,
		maxTTL:            config.MaxTTL,
		slugMaxRetries:    retries,
		deleteConcurrency: concurrency,
		metrics:           config.Metrics,
		now:               now,
	}
}

func (s *service) key(normalized string) string {
	return linkstore.Key(s.keyPrefix, normalized)
}

func (s *service) Create(ctx context.Context, req CreateRequest) (Link, error) {
	ctx, span := tracer.Start(ctx, "shortener.Create",
		trace.WithAttributes(attribute.Bool("link.custom_slug", req.Slug != "")))
	defer span.End()

	link, err := s.create(ctx, req)
	if err == nil {
		span.SetAttributes(attribute.String("link.slug", link.Slug))
	}
	recordSpanError(span, err)
	return link, err
}

func (s *service) create(ctx context.Context, req CreateRequest) (Link, error) {
	const op = "shortener.service.Create"

	now := s.now()

	if d := s.authz.Authenticate(ctx, req.Credentials); !d.Authorized() {
		return Link{}, errx.Wrap(op, d.Err())
	}

	if err := validateURL(req.URL); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}
	if len(req.Comment) > MaxCommentLength {
		return Link{}, errx.E(op, errx.Invalid,
			fmt.Errorf("comment too long (max %d characters)", MaxCommentLength))
	}
	expiration, err := s.expiration(now, req)
	if err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	link := Link{
		URL:        req.URL,
		Comment:    req.Comment,
		Expiration: expiration,
		CreatedAt:  now.Unix(),
		UpdatedAt:  now.Unix(),
	}
	if link.ID, err = s.ids.NewID(); err != nil {
		return Link{}, errx.E(op, errx.Internal, err)
	}

	// Custom slug path: validate and create once
	if req.Slug != "" {
		link.Slug = s.slugs.Normalize(req.Slug)
		if err := s.slugs.Validate(link.Slug); err != nil {
			return Link{}, errx.E(op, errx.Invalid, err)
		}

		if err := s.admit(ctx, link); err != nil {
			if errx.KindOf(err) == errx.Conflict {
				s.recordConflict()
			}
			return Link{}, errx.Wrap(op, err)
		}
		s.recordCreated(false)
		return link, nil
	}

	// Generated slug path: retry on conflicts
	for range s.slugMaxRetries {
		generated, err := s.slugs.Generate()
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}
		if err := s.slugs.Validate(generated); err != nil {
			s.recordRetry()
			continue
		}
		link.Slug = generated

		err = s.admit(ctx, link)
		if err == nil {
			s.recordCreated(true)
			return link, nil
		}

		// Retry on conflict, fail on other errors
		if errx.KindOf(err) != errx.Conflict {
			return Link{}, errx.Wrap(op, err)
		}
		s.recordRetry()
	}

	return Link{}, errx.E(op, errx.Unavailable,
		fmt.Errorf("%w after %d attempts", ErrSlugExhausted, s.slugMaxRetries))
}

// admit checks for an existing record and writes link with put-if-absent.
// A record created between the check and the write also yields Conflict.
func (s *service) admit(ctx context.Context, link Link) error {
	const op = "shortener.service.admit"
	key := s.key(link.Slug)

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return errx.Wrap(op, err)
	}
	if exists {
		return errx.E(op, errx.Conflict, fmt.Errorf("slug %q: %w", link.Slug, linkstore.ErrExists))
	}

	value, err := encodeLink(link)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	err = s.store.PutIfAbsent(ctx, key, value, linkstore.PutOptions{
		ExpiresAt: link.ExpiresAt(),
		Metadata:  link.metadata(),
	})
	if err != nil {
		return errx.Wrap(op, err)
	}
	return nil
}

// expiration resolves the record's absolute expiration in epoch seconds,
// or 0 when the link never expires.
func (s *service) expiration(now time.Time, req CreateRequest) (int64, error) {
	created := now.Unix()

	var exp int64
	switch {
	case req.TTL != 0 && !req.ExpiresAt.IsZero():
		return 0, errors.New("set either expiresIn or expiration, not both")
	case req.TTL < 0:
		return 0, errors.New("expiresIn must be positive")
	case req.TTL > MaxLifetime:
		return 0, ErrTooFarAhead
	case req.TTL > 0:
		exp = created + ttlSeconds(req.TTL)
	case !req.ExpiresAt.IsZero():
		exp = req.ExpiresAt.Unix()
		if exp <= created {
			return 0, errors.New("expiration must be in the future")
		}
	case s.defaultTTL > 0:
		return created + ttlSeconds(s.defaultTTL), nil
	default:
		return 0, nil
	}

	if exp-created > ttlSeconds(MaxLifetime) {
		return 0, ErrTooFarAhead
	}
	if s.maxTTL > 0 && exp-created > ttlSeconds(s.maxTTL) {
		return 0, fmt.Errorf("expiration exceeds the maximum lifetime of %s", s.maxTTL)
	}
	return exp, nil
}

// ttlSeconds rounds d up to whole seconds so a positive TTL never yields zero.
func ttlSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

func (s *service) Lookup(ctx context.Context, rawSlug string) (Link, error) {
	ctx, span := tracer.Start(ctx, "shortener.Lookup")
	defer span.End()

	link, err := s.lookup(ctx, rawSlug)
	recordSpanError(span, err)
	return link, err
}

func (s *service) lookup(ctx context.Context, rawSlug string) (Link, error) {
	const op = "shortener.service.Lookup"

	normalized := s.slugs.Normalize(rawSlug)
	if err := s.slugs.Validate(normalized); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	value, err := s.store.Get(ctx, s.key(normalized))
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}

	link, err := decodeLink(value)
	if err != nil {
		return Link{}, errx.E(op, errx.Internal, fmt.Errorf("decode link %q: %w", normalized, err))
	}
	if link.Expired(s.now()) {
		return Link{}, errx.E(op, errx.NotFound, ErrExpired)
	}
	return link, nil
}

// DeleteFailure is one slug that could not be deleted.
type DeleteFailure struct {
	Slug string `json:"slug"`
	Err  error  `json:"-"`
}

// BatchError lists the per-slug failures of DeleteBatch.
type BatchError struct {
	Failures []DeleteFailure
}

func (e *BatchError) Error() string {
	slugs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		slugs[i] = f.Slug
	}
	return fmt.Sprintf("failed to delete %d slug(s): %s", len(e.Failures), strings.Join(slugs, ", "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

func (s *service) DeleteBatch(ctx context.Context, slugs []string) error {
	const op = "shortener.service.DeleteBatch"

	if len(slugs) == 0 {
		return errx.E(op, errx.Invalid, ErrNoSlugs)
	}
	if len(slugs) > MaxBatchSize {
		return errx.E(op, errx.Invalid, fmt.Errorf("too many slugs (max %d)", MaxBatchSize))
	}

	normalized := make([]string, 0, len(slugs))
	for _, raw := range slugs {
		normalized = append(normalized, s.slugs.Normalize(raw))
	}
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)

	var (
		mu       sync.Mutex
		failures []DeleteFailure
		g        errgroup.Group
	)
	g.SetLimit(s.deleteConcurrency)

	for _, sl := range normalized {
		g.Go(func() error {
			if err := s.store.Delete(ctx, s.key(sl)); err != nil {
				mu.Lock()
				failures = append(failures, DeleteFailure{Slug: sl, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.metrics != nil {
		s.metrics.LinksDeleted(len(normalized), len(failures))
	}

	if len(failures) > 0 {
		slices.SortFunc(failures, func(a, b DeleteFailure) int { return strings.Compare(a.Slug, b.Slug) })
		return errx.E(op, errx.Unavailable, &BatchError{Failures: failures})
	}
	return nil
}

// recordSpanError marks the span failed for faults. Expected outcomes such as
// conflicts or bad input only annotate it.
func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(attribute.String("error.kind", errx.KindOf(err).String()))
	if !errx.Expected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *service) recordCreated(generated bool) {
	if s.metrics != nil {
		s.metrics.LinkCreated(generated)
	}
}

func (s *service) recordConflict() {
	if s.metrics != nil {
		s.metrics.LinkConflict()
	}
}

func (s *service) recordRetry() {
	if s.metrics != nil {
		s.metrics.SlugRetry()
	}
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("url too long (max %d characters)", MaxURLLength)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme (http or https)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	return nil
}
