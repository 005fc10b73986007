package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically runs the feature job followed by detection.
type Timer struct {
	runner     *Runner
	interval   time.Duration
	windowDays int
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewTimer creates a new job timer. An interval of zero disables it.
func NewTimer(runner *Runner, interval time.Duration, windowDays int, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		runner:     runner,
		interval:   interval,
		windowDays: windowDays,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic job loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	if t.interval <= 0 {
		t.logger.Info("job timer disabled")
		return
	}
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in job timer", "panic", fmt.Sprint(r))
		}
	}()

	if err := t.runner.RunCycle(ctx, t.windowDays); err != nil {
		t.logger.Warn("scheduled job cycle failed", "error", err)
	}
}
