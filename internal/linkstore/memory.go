package linkstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/sundayezeilo/linkgate/internal/errx"
)

type memoryEntry struct {
	value     []byte
	metadata  map[string]string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store for development and tests.
// Expired entries are hidden on read and dropped on overwrite or DeleteExpired.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "linkstore.memory.Get"
	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return nil, errx.E(op, errx.NotFound, ErrNotFound)
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	const op = "linkstore.memory.Exists"
	if err := ctx.Err(); err != nil {
		return false, errx.E(op, errx.Unavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	return ok && !e.expired(m.now()), nil
}

// Metadata returns a copy of the metadata stored with key.
func (m *Memory) Metadata(ctx context.Context, key string) (map[string]string, error) {
	const op = "linkstore.memory.Metadata"
	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return nil, errx.E(op, errx.NotFound, ErrNotFound)
	}
	return maps.Clone(e.metadata), nil
}

func (m *Memory) PutIfAbsent(ctx context.Context, key string, value []byte, opts PutOptions) error {
	const op = "linkstore.memory.PutIfAbsent"
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && !e.expired(m.now()) {
		return errx.E(op, errx.Conflict, ErrExists)
	}

	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		metadata:  maps.Clone(opts.Metadata),
		expiresAt: opts.ExpiresAt,
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	const op = "linkstore.memory.Delete"
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// DeleteExpired drops every expired entry and returns how many were removed.
func (m *Memory) DeleteExpired(ctx context.Context) (int64, error) {
	const op = "linkstore.memory.DeleteExpired"
	if err := ctx.Err(); err != nil {
		return 0, errx.E(op, errx.Unavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
