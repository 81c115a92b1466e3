package launcher

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Hooks are the lifecycle callbacks a host shell invokes
type Hooks struct {
	// OnAppReady runs once during host startup. An error aborts the launch.
	OnAppReady func(ctx context.Context) error

	// OnExitRequested runs once when the host is asked to exit. The host
	// must not return from Run before it completes.
	OnExitRequested func()
}

// Host is the application shell that owns the UI event loop
type Host interface {
	Run(ctx context.Context, hooks Hooks) error
}

// HostFunc adapts a plain function to Host
type HostFunc func(ctx context.Context, hooks Hooks) error

func (f HostFunc) Run(ctx context.Context, hooks Hooks) error {
	return f(ctx, hooks)
}

// exitSignals returns a channel that fires on an interrupt or terminate request
func exitSignals() (<-chan os.Signal, func()) {
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	return sig, func() { signal.Stop(sig) }
}

// startup runs OnAppReady and, when it fails, still runs OnExitRequested so a
// partially started backend is not left behind
func startup(ctx context.Context, hooks Hooks) error {
	if hooks.OnAppReady == nil {
		return nil
	}
	if err := hooks.OnAppReady(ctx); err != nil {
		requestExit(hooks)
		return err
	}
	return nil
}

// interruptibleStartup runs startup with a context that an exit signal
// cancels, so Ctrl+C does not wait out the readiness budget. It returns the
// signal that interrupted startup, if any.
func interruptibleStartup(ctx context.Context, hooks Hooks, sig <-chan os.Signal) (os.Signal, error) {
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	watcherExited := make(chan struct{})
	var received os.Signal
	go func() {
		defer close(watcherExited)
		select {
		case received = <-sig:
			cancel()
		case <-done:
		}
	}()

	err := startup(startCtx, hooks)
	close(done)
	<-watcherExited
	return received, err
}

func requestExit(hooks Hooks) {
	if hooks.OnExitRequested != nil {
		hooks.OnExitRequested()
	}
}
