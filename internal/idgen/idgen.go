// Package idgen issues identifiers for stored link records.
// Generators are safe for concurrent use.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues record IDs.
type Generator interface {
	NewID() (string, error)
}

// Func adapts a plain function to Generator.
type Func func() (string, error)

func (f Func) NewID() (string, error) { return f() }

// V4 returns a Generator of random UUIDs.
func V4() Generator {
	return Func(func() (string, error) {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("uuid v4: %w", err)
		}
		return id.String(), nil
	})
}

// V7 returns a Generator of time-ordered UUIDs. A failed v7 draw is retried
// once before the error is returned.
func V7() Generator {
	return Func(func() (string, error) {
		var last error
		for range 2 {
			id, err := uuid.NewV7()
			if err == nil {
				return id.String(), nil
			}
			last = err
		}
		return "", fmt.Errorf("uuid v7: %w", last)
	})
}

// Static always returns id. Useful for deterministic tests.
func Static(id string) Generator {
	return Func(func() (string, error) { return id, nil })
}
