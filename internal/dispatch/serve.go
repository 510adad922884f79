package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrCycleTimeout is returned by Trigger when the serving goroutine did not
// finish a cycle within the deadline. The cycle is abandoned for this scan
// interval, not retried.
var ErrCycleTimeout = errors.New("dispatch cycle timed out")

// CycleRequest asks the serving goroutine to run one dispatch cycle. Done
// receives the cycle's error (nil on success) exactly once.
type CycleRequest struct {
	Done chan error
}

// Serve runs dispatch cycles one at a time as requests arrive. It is the
// delivery-side half of the scan→dispatch handoff: the monitor goroutine
// posts a request after each completed scan and blocks on Done, so two
// cycles can never overlap. Serve returns when ctx is cancelled.
func (e *Engine) Serve(ctx context.Context, requests <-chan CycleRequest) {
	e.logger.Info("dispatch serve loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("dispatch serve loop stopped")
			return
		case req := <-requests:
			_, err := e.RunCycle(ctx)
			select {
			case req.Done <- err:
			default:
				// Requester gave up (timeout); nobody is listening.
			}
		}
	}
}

// Trigger posts a cycle request and waits for its completion with a
// timeout. A timeout is fatal to this cycle only: the caller logs it and
// proceeds to the next scan.
func Trigger(ctx context.Context, requests chan<- CycleRequest, timeout time.Duration, logger *slog.Logger) error {
	req := CycleRequest{Done: make(chan error, 1)}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case requests <- req:
	case <-timer.C:
		logger.Error("dispatch trigger timed out before handoff", "timeout", timeout)
		return ErrCycleTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.Done:
		return err
	case <-timer.C:
		logger.Error("dispatch cycle timed out", "timeout", timeout)
		return ErrCycleTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
