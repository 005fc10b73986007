package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/riskwatch/internal/metrics"
	"github.com/mbd888/riskwatch/internal/traces"
)

// Operation names reported by Instrumented.
const (
	OpPing     = "ping"
	OpScan     = "scan"
	OpBatchGet = "batch_get"
	OpBatchPut = "batch_put"
	OpGet      = "get"
	OpPut      = "put"
	OpTruncate = "truncate"
)

// Instrumented wraps a Store, exporting Prometheus metrics for every call and
// keeping per-operation round-trip counts.
type Instrumented struct {
	next Store

	mu    sync.Mutex
	calls map[string]int
}

// Instrument wraps next.
func Instrument(next Store) *Instrumented {
	return &Instrumented{next: next, calls: make(map[string]int)}
}

// Unwrap returns the wrapped store.
func (s *Instrumented) Unwrap() Store {
	return s.next
}

// Calls returns how many times op has been invoked since the last reset.
func (s *Instrumented) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ResetCalls zeroes the round-trip counters.
func (s *Instrumented) ResetCalls() {
	s.mu.Lock()
	s.calls = make(map[string]int)
	s.mu.Unlock()
}

func (s *Instrumented) observe(op, set string, start time.Time, err error) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues(op, set, result).Inc()
	metrics.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe(OpPing, "", start, err)
	return err
}

func (s *Instrumented) Scan(ctx context.Context, set string) ([]Entry, error) {
	ctx, span := traces.StartSpan(ctx, "kvstore.Scan", traces.StoreSet(set))
	defer span.End()

	start := time.Now()
	out, err := s.next.Scan(ctx, set)
	s.observe(OpScan, set, start, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(traces.EntityCount(len(out)))
	return out, err
}

func (s *Instrumented) BatchGet(ctx context.Context, set string, ids []string) (map[string]Record, error) {
	ctx, span := traces.StartSpan(ctx, "kvstore.BatchGet", traces.StoreSet(set), traces.EntityCount(len(ids)))
	defer span.End()

	start := time.Now()
	out, err := s.next.BatchGet(ctx, set, ids)
	s.observe(OpBatchGet, set, start, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (s *Instrumented) BatchPut(ctx context.Context, set string, entries []Entry) (BatchResult, error) {
	ctx, span := traces.StartSpan(ctx, "kvstore.BatchPut", traces.StoreSet(set), traces.EntityCount(len(entries)))
	defer span.End()

	start := time.Now()
	res, err := s.next.BatchPut(ctx, set, entries)
	s.observe(OpBatchPut, set, start, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Instrumented) Get(ctx context.Context, set, id string) (Record, error) {
	start := time.Now()
	rec, err := s.next.Get(ctx, set, id)
	if errors.Is(err, ErrNotFound) {
		s.observe(OpGet, set, start, nil)
	} else {
		s.observe(OpGet, set, start, err)
	}
	return rec, err
}

func (s *Instrumented) Put(ctx context.Context, set, id string, rec Record) error {
	start := time.Now()
	err := s.next.Put(ctx, set, id, rec)
	s.observe(OpPut, set, start, err)
	return err
}

func (s *Instrumented) Truncate(ctx context.Context, set string) error {
	start := time.Now()
	err := s.next.Truncate(ctx, set)
	s.observe(OpTruncate, set, start, err)
	return err
}
