package launcher

import (
	"context"

	"github.com/core-tools/hsu-launcher-go/pkg/logging"
)

// SignalHost is a headless shell: it runs until an interrupt/terminate
// signal arrives or ctx is done
type SignalHost struct {
	logger logging.Logger
}

func NewSignalHost(logger logging.Logger) *SignalHost {
	return &SignalHost{logger: logger}
}

func (h *SignalHost) Run(ctx context.Context, hooks Hooks) error {
	sig, stop := exitSignals()
	defer stop()

	received, err := interruptibleStartup(ctx, hooks, sig)
	if err != nil {
		return err
	}
	if received != nil {
		h.logger.Infof("Received signal during startup: %v", received)
		requestExit(hooks)
		return nil
	}

	h.logger.Infof("Running headless, waiting for exit signal...")

	select {
	case receivedSignal := <-sig:
		h.logger.Infof("Received signal: %v", receivedSignal)
	case <-ctx.Done():
		h.logger.Infof("Host context done")
	}

	requestExit(hooks)
	return nil
}
