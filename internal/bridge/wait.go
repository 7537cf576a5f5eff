package bridge

import (
	"context"
	"time"
)

type waitOutcome int

const (
	waitReady waitOutcome = iota
	waitTimedOut
	waitCancelled
)

func (o waitOutcome) String() string {
	switch o {
	case waitReady:
		return "ready"
	case waitTimedOut:
		return "timed out"
	default:
		return "cancelled"
	}
}

// await blocks until ready is closed, timeout elapses, ctx is done or abort is
// closed. A ready signal wins over a simultaneous abort.
func await(ctx context.Context, ready <-chan struct{}, timeout time.Duration, abort <-chan struct{}) waitOutcome {
	select {
	case <-ready:
		return waitReady
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return waitReady
	case <-abort:
		return waitCancelled
	case <-ctx.Done():
		return waitCancelled
	case <-timer.C:
		return waitTimedOut
	}
}
