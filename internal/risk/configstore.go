package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/riskwatch/internal/metrics"
)

// ConfigStore holds the active Config. Readers get a consistent snapshot
// without locking; updates are serialized and produce a new version.
type ConfigStore struct {
	mu      sync.Mutex
	current atomic.Pointer[Config]
	now     func() time.Time
}

// NewConfigStore validates initial and makes it the active version.
func NewConfigStore(initial Config) (*ConfigStore, error) {
	if initial.Version <= 0 {
		initial.Version = 1
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &ConfigStore{now: time.Now}
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = s.now().UTC()
	}
	s.current.Store(&initial)
	metrics.ConfigVersion.Set(float64(initial.Version))
	return s, nil
}

// Current returns the active configuration.
func (s *ConfigStore) Current() Config {
	return *s.current.Load()
}

// Update applies fn to a copy of the active config. If fn succeeds and the
// result validates, it becomes the next version; otherwise the active
// config is unchanged.
func (s *ConfigStore) Update(fn func(*Config) error) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := *cur
	if err := fn(&next); err != nil {
		return *cur, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC()
	if err := next.Validate(); err != nil {
		return *cur, err
	}

	s.current.Store(&next)
	metrics.ConfigVersion.Set(float64(next.Version))
	return next, nil
}
