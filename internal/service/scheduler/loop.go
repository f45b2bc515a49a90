package scheduler

import (
	"context"
	"time"

	"github.com/krobus00/broker-gateway/internal/metrics"
)

const (
	triggerStart  = "start"
	triggerTimer  = "timer"
	triggerManual = "manual"
)

// loop runs fn immediately, then every interval. Trigger runs fn early and
// restarts the interval from the end of that run. Triggers that arrive while
// fn is running collapse into one follow-up run, so there is never more than
// one request in flight per loop.
type loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	trigger  chan struct{}
}

func newLoop(name string, interval time.Duration, fn func(ctx context.Context) error) *loop {
	return &loop{
		name:     name,
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
	}
}

func (l *loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *loop) run(ctx context.Context) {
	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	reason := triggerStart
	for {
		if ctx.Err() != nil {
			return
		}

		l.runOnce(ctx, reason)
		timer.Reset(l.interval)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			reason = triggerTimer
		case <-l.trigger:
			reason = triggerManual
		}
	}
}

func (l *loop) runOnce(ctx context.Context, reason string) {
	outcome := metrics.OutcomeSuccess
	if err := l.fn(ctx); err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.SyncRuns.WithLabelValues(l.name, reason, outcome).Inc()
}
