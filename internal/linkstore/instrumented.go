package linkstore

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives the latency and outcome of each store call.
type Observer interface {
	ObserveStore(op string, d time.Duration, err error)
}

// Instrumented bounds every call of the wrapped Store by a timeout and
// reports it to an Observer. A call that hits the deadline fails with the
// backend's Unavailable error.
type Instrumented struct {
	next     Store
	timeout  time.Duration
	observer Observer
}

// Instrument wraps next. A zero timeout leaves calls unbounded; a nil
// observer records nothing.
func Instrument(next Store, timeout time.Duration, observer Observer) *Instrumented {
	return &Instrumented{next: next, timeout: timeout, observer: observer}
}

func (s *Instrumented) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if s.observer != nil {
		s.observer.ObserveStore(op, time.Since(start), err)
	}
	return err
}

func (s *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.call(ctx, "get", func(ctx context.Context) error {
		var err error
		value, err = s.next.Get(ctx, key)
		return err
	})
	return value, err
}

func (s *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.call(ctx, "exists", func(ctx context.Context) error {
		var err error
		exists, err = s.next.Exists(ctx, key)
		return err
	})
	return exists, err
}

func (s *Instrumented) PutIfAbsent(ctx context.Context, key string, value []byte, opts PutOptions) error {
	return s.call(ctx, "put", func(ctx context.Context) error {
		return s.next.PutIfAbsent(ctx, key, value, opts)
	})
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	return s.call(ctx, "delete", func(ctx context.Context) error {
		return s.next.Delete(ctx, key)
	})
}

func (s *Instrumented) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", s.next.Ping)
}

// RunJanitor calls DeleteExpired every interval until ctx is done.
func RunJanitor(ctx context.Context, e Expirer, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.DeleteExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "failed to delete expired links", "error", err)
				continue
			}
			if n > 0 {
				logger.DebugContext(ctx, "deleted expired links", "count", n)
			}
		}
	}
}
