// Package sluggen provides slug generation functionality.
// Generators are safe for concurrent use.
package sluggen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jxskiss/base62"
)

const (
	// Base62Alphabet is mixed-case alphanumeric.
	Base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// Base36Alphabet is lower-case alphanumeric, for case-insensitive slugs.
	Base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Generator generates URL slugs.
type Generator interface {
	Generate(length int) (string, error)
}

// randomGenerator draws each character uniformly from its alphabet.
type randomGenerator struct {
	alphabet string
	// bytes at or above limit are rejected to keep the draw unbiased
	limit int
}

// NewBase62 returns a random mixed-case alphanumeric generator.
func NewBase62() Generator {
	return newRandom(Base62Alphabet)
}

// NewBase36 returns a random lower-case alphanumeric generator.
func NewBase36() Generator {
	return newRandom(Base36Alphabet)
}

func newRandom(alphabet string) *randomGenerator {
	return &randomGenerator{
		alphabet: alphabet,
		limit:    256 - 256%len(alphabet),
	}
}

// Generate returns a random string of exactly length characters.
func (g *randomGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= g.limit {
				continue
			}
			out = append(out, g.alphabet[int(b)%len(g.alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// snowflakeGenerator encodes node-unique, time-ordered snowflake IDs.
type snowflakeGenerator struct {
	node          *snowflake.Node
	caseSensitive bool
}

// NewSnowflake returns a generator whose slugs never repeat on the same node.
// Slugs are base62 when caseSensitive is set and base36 otherwise, so that
// lower-casing never maps two IDs onto one slug. length acts as a minimum;
// shorter encodings are left-padded with '0'.
func NewSnowflake(node int64, caseSensitive bool) (Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", node, err)
	}
	return &snowflakeGenerator{node: n, caseSensitive: caseSensitive}, nil
}

func (g *snowflakeGenerator) Generate(length int) (string, error) {
	id := g.node.Generate().Int64()

	var s string
	if g.caseSensitive {
		s = string(base62.FormatInt(id))
	} else {
		s = strconv.FormatInt(id, 36)
	}
	if len(s) < length {
		s = strings.Repeat("0", length-len(s)) + s
	}
	return s, nil
}
