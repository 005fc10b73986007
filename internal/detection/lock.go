package detection

import (
	"context"
	"errors"
	"fmt"
)

// ErrJobCancelled is returned when the caller's context ends before the
// runner becomes free.
var ErrJobCancelled = errors.New("detection: job cancelled while waiting for runner")

// jobLock is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type jobLock struct {
	ch chan struct{}
}

func newJobLock() *jobLock {
	l := &jobLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{} // Start unlocked.
	return l
}

// lock acquires the runner. On success the caller must call the returned
// unlock function.
func (l *jobLock) lock(ctx context.Context) (func(), error) {
	select {
	case <-l.ch:
		return func() { l.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrJobCancelled, ctx.Err())
	}
}
