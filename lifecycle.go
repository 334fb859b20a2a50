package cdpdrive

import (
	"context"
	"syscall"
	"time"
)

// stopProcessGraceful sends SIGTERM to p, waits up to 3s for it to exit
// (one bounded Wait, not a poll loop), and escalates to SIGKILL if it
// hasn't exited by then. Grounded on the original implementation's
// browser.py stop(): same signal pair, same 3s budget.
func stopProcessGraceful(ctx context.Context, p ProcessHandle) error {
	if err := p.Signal(int(syscall.SIGTERM)); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Wait(waitCtx) }()

	select {
	case <-done:
		return nil
	case <-waitCtx.Done():
	}

	return p.Signal(int(syscall.SIGKILL))
}
