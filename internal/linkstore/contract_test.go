package linkstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sundayezeilo/linkgate/internal/errx"
)

// metadataReader is implemented by every backend in this package.
type metadataReader interface {
	Metadata(ctx context.Context, key string) (map[string]string, error)
}

// runStoreContract exercises the behaviour every Store backend must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		key := Key(DefaultKeyPrefix, "abc")

		if err := s.PutIfAbsent(ctx, key, []byte(`{"url":"https://example.com"}`), PutOptions{}); err != nil {
			t.Fatalf("PutIfAbsent() failed: %v", err)
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if string(got) != `{"url":"https://example.com"}` {
			t.Errorf("Get() = %s, want stored value", got)
		}

		exists, err := s.Exists(ctx, key)
		if err != nil || !exists {
			t.Errorf("Exists() = %v, %v; want true, nil", exists, err)
		}
	})

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(ctx, "link:missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
		if errx.KindOf(err) != errx.NotFound {
			t.Errorf("KindOf() = %v, want NotFound", errx.KindOf(err))
		}

		exists, err := s.Exists(ctx, "link:missing")
		if err != nil || exists {
			t.Errorf("Exists() = %v, %v; want false, nil", exists, err)
		}
	})

	t.Run("put never overwrites a live key", func(t *testing.T) {
		s := newStore(t)
		key := "link:taken"

		if err := s.PutIfAbsent(ctx, key, []byte("first"), PutOptions{}); err != nil {
			t.Fatalf("first PutIfAbsent() failed: %v", err)
		}

		err := s.PutIfAbsent(ctx, key, []byte("second"), PutOptions{})
		if !errors.Is(err, ErrExists) {
			t.Fatalf("second PutIfAbsent() error = %v, want ErrExists", err)
		}
		if errx.KindOf(err) != errx.Conflict {
			t.Errorf("KindOf() = %v, want Conflict", errx.KindOf(err))
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if string(got) != "first" {
			t.Errorf("Get() = %s, want first", got)
		}
	})

	t.Run("metadata is stored beside the value", func(t *testing.T) {
		s := newStore(t)
		key := "link:meta"
		meta := map[string]string{"url": "https://example.com", "expiration": "1700000000", "comment": "hi"}

		if err := s.PutIfAbsent(ctx, key, []byte("v"), PutOptions{Metadata: meta}); err != nil {
			t.Fatalf("PutIfAbsent() failed: %v", err)
		}

		mr, ok := s.(metadataReader)
		if !ok {
			t.Skip("store does not expose metadata")
		}
		got, err := mr.Metadata(ctx, key)
		if err != nil {
			t.Fatalf("Metadata() failed: %v", err)
		}
		for field, want := range meta {
			if got[field] != want {
				t.Errorf("Metadata()[%s] = %q, want %q", field, got[field], want)
			}
		}
	})

	t.Run("future expiry keeps the entry live", func(t *testing.T) {
		s := newStore(t)
		key := "link:later"

		opts := PutOptions{ExpiresAt: time.Now().Add(time.Hour)}
		if err := s.PutIfAbsent(ctx, key, []byte("v"), opts); err != nil {
			t.Fatalf("PutIfAbsent() failed: %v", err)
		}
		if exists, _ := s.Exists(ctx, key); !exists {
			t.Error("Exists() = false, want true before expiry")
		}
	})

	t.Run("expired entry is gone and the key is reusable", func(t *testing.T) {
		s := newStore(t)
		key := "link:stale"

		opts := PutOptions{ExpiresAt: time.Now().Add(-time.Hour)}
		if err := s.PutIfAbsent(ctx, key, []byte("old"), opts); err != nil {
			t.Fatalf("PutIfAbsent() failed: %v", err)
		}

		if exists, _ := s.Exists(ctx, key); exists {
			t.Error("Exists() = true, want false after expiry")
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}

		if err := s.PutIfAbsent(ctx, key, []byte("new"), PutOptions{}); err != nil {
			t.Fatalf("PutIfAbsent() over expired entry failed: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil || string(got) != "new" {
			t.Errorf("Get() = %s, %v; want new, nil", got, err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		key := "link:gone"

		if err := s.PutIfAbsent(ctx, key, []byte("v"), PutOptions{Metadata: map[string]string{"url": "u"}}); err != nil {
			t.Fatalf("PutIfAbsent() failed: %v", err)
		}
		for i := range 2 {
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete() #%d failed: %v", i+1, err)
			}
		}
		if exists, _ := s.Exists(ctx, key); exists {
			t.Error("Exists() = true after Delete()")
		}
		if mr, ok := s.(metadataReader); ok {
			if _, err := mr.Metadata(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Metadata() error = %v, want ErrNotFound after Delete()", err)
			}
		}
	})

	t.Run("concurrent puts have exactly one winner", func(t *testing.T) {
		s := newStore(t)
		const writers = 16

		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.PutIfAbsent(ctx, "link:race", []byte("v"), PutOptions{})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrExists):
					conflicts.Add(1)
				default:
					t.Errorf("PutIfAbsent() unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if wins.Load() != 1 || conflicts.Load() != writers-1 {
			t.Errorf("wins = %d, conflicts = %d; want 1 and %d", wins.Load(), conflicts.Load(), writers-1)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newStore(t).Ping(ctx); err != nil {
			t.Errorf("Ping() failed: %v", err)
		}
	})
}
