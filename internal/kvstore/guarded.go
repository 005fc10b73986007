package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/riskwatch/internal/circuitbreaker"
)

// Guarded wraps a Store with a circuit breaker keyed by set. While a set's
// circuit is open its calls fail fast with ErrUnavailable. Ping always
// reaches the backend so health checks report what is really there.
type Guarded struct {
	next    Store
	breaker *circuitbreaker.Breaker
}

// Guard wraps next with b.
func Guard(next Store, b *circuitbreaker.Breaker) *Guarded {
	return &Guarded{next: next, breaker: b}
}

// Unwrap returns the wrapped store.
func (s *Guarded) Unwrap() Store {
	return s.next
}

// tripping reports whether err says something about backend health.
func tripping(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled)
}

func (s *Guarded) do(set string, fn func() error) error {
	err := s.breaker.Execute(set, fn, tripping)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %w for set %s", ErrUnavailable, err, set)
	}
	return err
}

func (s *Guarded) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *Guarded) Scan(ctx context.Context, set string) ([]Entry, error) {
	var out []Entry
	err := s.do(set, func() (err error) {
		out, err = s.next.Scan(ctx, set)
		return err
	})
	return out, err
}

func (s *Guarded) BatchGet(ctx context.Context, set string, ids []string) (map[string]Record, error) {
	var out map[string]Record
	err := s.do(set, func() (err error) {
		out, err = s.next.BatchGet(ctx, set, ids)
		return err
	})
	return out, err
}

// BatchPut only trips on whole-batch errors; per-entry failures are the
// caller's concern.
func (s *Guarded) BatchPut(ctx context.Context, set string, entries []Entry) (BatchResult, error) {
	var res BatchResult
	err := s.do(set, func() (err error) {
		res, err = s.next.BatchPut(ctx, set, entries)
		return err
	})
	return res, err
}

func (s *Guarded) Get(ctx context.Context, set, id string) (Record, error) {
	var rec Record
	err := s.do(set, func() (err error) {
		rec, err = s.next.Get(ctx, set, id)
		return err
	})
	return rec, err
}

func (s *Guarded) Put(ctx context.Context, set, id string, rec Record) error {
	return s.do(set, func() error {
		return s.next.Put(ctx, set, id, rec)
	})
}

func (s *Guarded) Truncate(ctx context.Context, set string) error {
	return s.do(set, func() error {
		return s.next.Truncate(ctx, set)
	})
}
