package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/congenial-acorn/goldwatch/internal/inara"
)

const (
	runnerBaseBackoff = 5 * time.Second
	runnerMaxBackoff  = time.Hour
)

// Runner keeps the monitor loop alive across crashes, restarting it with
// exponential backoff. The loop itself only exits on ctx cancellation, so a
// return here means a scan cycle raised something unrecoverable.
type Runner struct {
	monitor *Monitor
	logger  *slog.Logger
}

// NewRunner wraps a Monitor for supervised execution.
func NewRunner(m *Monitor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{monitor: m, logger: logger}
}

// Run supervises the monitor loop until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	backoff := runnerBaseBackoff
	failures := 0

	for {
		err := r.runGuarded(ctx)
		if ctx.Err() != nil {
			return
		}

		failures++
		r.classify(err, backoff, failures)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, runnerMaxBackoff)
		r.logger.Info("restarting monitor loop", "backoff", backoff)
	}
}

// runGuarded converts a panic in the monitor loop into an error so the
// supervisor can restart instead of taking the process down.
func (r *Runner) runGuarded(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("monitor panicked: %v", rec)
		}
	}()
	return r.monitor.Run(ctx)
}

func (r *Runner) classify(err error, backoff time.Duration, failures int) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	switch {
	case inara.IsBlocked(err):
		r.logger.Error("data source has blocked this address; retry will likely fail until unblocked",
			"backoff", backoff)
	case strings.Contains(msg, "429"):
		r.logger.Warn("data source rate limit hit", "backoff", backoff)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout"):
		r.logger.Error("network error in monitor loop", "error", err, "backoff", backoff)
	default:
		r.logger.Error("monitor loop crashed", "error", err, "backoff", backoff)
	}

	if failures >= 5 {
		r.logger.Warn("monitor loop has crashed repeatedly; check for persistent issues",
			"consecutive_failures", failures)
	}
}
