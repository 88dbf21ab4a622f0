package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// waitForSignal returns when the process is interrupted or ctx is done. An
// interrupt cancels ctx through cancel.
func waitForSignal(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		_config.Broadcast.Logger().WithField("signal", sig).Debug("Interrupted")
		cancel()
	case <-ctx.Done():
	}
	return nil
}
