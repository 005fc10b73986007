package kvstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// Records are held in their encoded form so callers never share maps with
// the store and values come back with the same JSON typing as the other
// backends.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string]map[string][]byte // set → id → JSON

	down       atomic.Bool
	failPutIDs map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets:       make(map[string]map[string][]byte),
		failPutIDs: make(map[string]struct{}),
	}
}

// SetUnavailable makes every operation fail with ErrUnavailable until it is
// called again with false.
func (s *MemoryStore) SetUnavailable(down bool) {
	s.down.Store(down)
}

// FailWrites makes subsequent writes of the given ids fail. Used to exercise
// partial batch failures.
func (s *MemoryStore) FailWrites(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failPutIDs[id] = struct{}{}
	}
}

// Len returns the number of records in a set.
func (s *MemoryStore) Len(set string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets[set])
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

func (s *MemoryStore) Scan(ctx context.Context, set string) ([]Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.sets[set]
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		rec, err := decodeJSON(records[id])
		if err != nil {
			rec = corruptRecord(set, err)
		}
		out = append(out, Entry{ID: id, Record: rec})
	}
	return out, nil
}

func (s *MemoryStore) BatchGet(ctx context.Context, set string, ids []string) (map[string]Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		data, ok := s.sets[set][id]
		if !ok {
			out[id] = nil
			continue
		}
		rec, err := decodeJSON(data)
		if err != nil {
			rec = corruptRecord(set, err)
		}
		out[id] = rec
	}
	return out, nil
}

func (s *MemoryStore) BatchPut(ctx context.Context, set string, entries []Entry) (BatchResult, error) {
	var result BatchResult
	if err := s.check(ctx); err != nil {
		return result, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if _, fail := s.failPutIDs[e.ID]; fail {
			result.Failed = append(result.Failed, e.ID)
			continue
		}
		data, err := encodeJSON(e.Record)
		if err != nil {
			result.Failed = append(result.Failed, e.ID)
			continue
		}
		s.setLocked(set)[e.ID] = data
		result.Succeeded++
	}
	return result, nil
}

func (s *MemoryStore) Get(ctx context.Context, set, id string) (Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.sets[set][id]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeJSON(data)
}

func (s *MemoryStore) Put(ctx context.Context, set, id string, rec Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	data, err := encodeJSON(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, fail := s.failPutIDs[id]; fail {
		return ErrUnavailable
	}
	s.setLocked(set)[id] = data
	return nil
}

func (s *MemoryStore) Truncate(ctx context.Context, set string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sets, set)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) setLocked(set string) map[string][]byte {
	m, ok := s.sets[set]
	if !ok {
		m = make(map[string][]byte)
		s.sets[set] = m
	}
	return m
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.down.Load() {
		return ErrUnavailable
	}
	return nil
}
