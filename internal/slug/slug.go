// Package slug normalizes, validates and generates link slugs.
//
// Normalization is applied to every slug before it touches storage, on the
// way in (creation) and on the way out (lookup, deletion), so both directions
// always address the same key.
package slug

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sundayezeilo/linkgate/sluggen"
)

// MaxLength is the longest accepted slug.
const MaxLength = 64

var (
	ErrEmpty    = errors.New("slug cannot be empty")
	ErrTooLong  = fmt.Errorf("slug too long (maximum %d characters)", MaxLength)
	ErrFormat   = errors.New("slug may contain only letters, digits, '-' and '_', and must start and end with a letter or digit")
	ErrReserved = errors.New("slug is reserved")
)

var pattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9_-]*[A-Za-z0-9])?$`)

// DefaultReserved lists path segments already taken by the service's own routes.
var DefaultReserved = []string{
	"api", "x", "admin", "dashboard", "health", "metrics",
	"swagger", "docs", "static", "assets", "favicon.ico", "robots.txt",
}

// Config configures a Policy.
type Config struct {
	CaseSensitive bool
	Reserved      []string // nil means DefaultReserved
	Generator     sluggen.Generator
	Length        int
}

// Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	caseSensitive bool
	reserved      map[string]struct{}
	gen           sluggen.Generator
	length        int
}

// NewPolicy builds a Policy. A nil generator defaults to random base36 or
// base62 depending on case sensitivity.
func NewPolicy(cfg Config) *Policy {
	reserved := cfg.Reserved
	if reserved == nil {
		reserved = DefaultReserved
	}
	set := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		if r = strings.TrimSpace(r); r != "" {
			set[strings.ToLower(r)] = struct{}{}
		}
	}

	gen := cfg.Generator
	if gen == nil {
		if cfg.CaseSensitive {
			gen = sluggen.NewBase62()
		} else {
			gen = sluggen.NewBase36()
		}
	}

	length := cfg.Length
	if length <= 0 || length > MaxLength {
		length = 6
	}

	return &Policy{
		caseSensitive: cfg.CaseSensitive,
		reserved:      set,
		gen:           gen,
		length:        length,
	}
}

// CaseSensitive reports whether slugs keep their case.
func (p *Policy) CaseSensitive() bool { return p.caseSensitive }

// Normalize lower-cases raw unless the policy is case-sensitive.
// It is total and idempotent.
func (p *Policy) Normalize(raw string) string {
	if p.caseSensitive {
		return raw
	}
	return strings.ToLower(raw)
}

// Validate checks a normalized slug against the format rules and the reserved list.
func (p *Policy) Validate(s string) error {
	switch {
	case s == "":
		return ErrEmpty
	case len(s) > MaxLength:
		return ErrTooLong
	case !pattern.MatchString(s):
		return ErrFormat
	}
	if _, ok := p.reserved[strings.ToLower(s)]; ok {
		return fmt.Errorf("%w: %q", ErrReserved, s)
	}
	return nil
}

// Generate returns a fresh normalized slug. Uniqueness is not guaranteed;
// callers must still admit it through a collision check.
func (p *Policy) Generate() (string, error) {
	s, err := p.gen.Generate(p.length)
	if err != nil {
		return "", fmt.Errorf("generate slug: %w", err)
	}
	return p.Normalize(s), nil
}
