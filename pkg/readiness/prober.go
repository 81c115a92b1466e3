package readiness

import (
	"context"
	"net"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"
	"github.com/core-tools/hsu-launcher-go/pkg/logging"
)

// Reason explains how a probe finished
type Reason string

const (
	ReasonReady         Reason = "ready"
	ReasonExhausted     Reason = "exhausted"
	ReasonProcessExited Reason = "process_exited"
	ReasonCancelled     Reason = "cancelled"
)

// Outcome is computed fresh per probe and never persisted
type Outcome struct {
	Ready    bool
	Attempts int
	Elapsed  time.Duration
	Reason   Reason
	LastErr  error
}

// Err converts a failed outcome into a ReadinessTimeout error. Nil when ready.
func (o Outcome) Err() error {
	if o.Ready {
		return nil
	}
	return errors.NewReadinessTimeoutError("backend did not become ready", o.LastErr).
		WithContext("reason", string(o.Reason)).
		WithContext("attempts", o.Attempts).
		WithContext("elapsed", o.Elapsed.Round(time.Millisecond))
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober polls a TCP endpoint until it accepts a connection.
//
// Only "the port is open" is observable, so a successful connect is followed by
// a settle delay. That narrows but does not close the window where the listener
// is bound before the application behind it can serve requests.
type Prober struct {
	dial   DialFunc
	logger logging.Logger
}

func NewProber(logger logging.Logger) *Prober {
	dialer := &net.Dialer{}
	return NewProberWithDialer(dialer.DialContext, logger)
}

func NewProberWithDialer(dial DialFunc, logger logging.Logger) *Prober {
	return &Prober{
		dial:   dial,
		logger: logger,
	}
}

// Probe blocks until the target accepts a connection, the attempts are exhausted,
// or ctx is done. It never returns an error; failures are reported in the Outcome.
func (p *Prober) Probe(ctx context.Context, target Target) Outcome {
	return p.ProbeUntilExit(ctx, target, nil)
}

// ProbeUntilExit is Probe with a short-circuit: once exited is closed the probe
// stops waiting and reports ReasonProcessExited. A nil channel never fires.
func (p *Prober) ProbeUntilExit(ctx context.Context, target Target, exited <-chan struct{}) Outcome {
	if target.MaxAttempts <= 0 {
		target.MaxAttempts = DefaultMaxAttempts
	}
	if target.AttemptTimeout <= 0 {
		target.AttemptTimeout = DefaultAttemptTimeout
	}

	address := target.Address()
	startTime := time.Now()
	outcome := Outcome{Reason: ReasonExhausted}

	finish := func(reason Reason) Outcome {
		outcome.Reason = reason
		outcome.Ready = reason == ReasonReady
		outcome.Elapsed = time.Since(startTime)
		return outcome
	}

	p.logger.Infof("Waiting for backend readiness, address: %s, max attempts: %d, backoff: %v",
		address, target.MaxAttempts, target.Backoff)

	for attempt := 1; attempt <= target.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			outcome.LastErr = ctx.Err()
			return finish(ReasonCancelled)
		case <-exited:
			return finish(ReasonProcessExited)
		default:
		}

		outcome.Attempts = attempt

		attemptCtx, cancel := context.WithTimeout(ctx, target.AttemptTimeout)
		conn, err := p.dial(attemptCtx, "tcp", address)
		cancel()

		if err == nil {
			conn.Close()
			p.logger.Infof("Backend port open, address: %s, attempt: %d, settling for %v",
				address, attempt, target.SettleDelay)
			p.settle(ctx, target.SettleDelay)
			outcome.LastErr = nil
			return finish(ReasonReady)
		}

		outcome.LastErr = err
		p.logger.Debugf("Readiness attempt %d/%d failed, address: %s, error: %v",
			attempt, target.MaxAttempts, address, err)

		timer := time.NewTimer(target.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			outcome.LastErr = ctx.Err()
			return finish(ReasonCancelled)
		case <-exited:
			timer.Stop()
			return finish(ReasonProcessExited)
		}
	}

	return finish(ReasonExhausted)
}

func (p *Prober) settle(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
