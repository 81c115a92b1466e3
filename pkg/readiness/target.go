package readiness

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"
)

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8000
	DefaultMaxAttempts    = 120
	DefaultAttemptTimeout = 250 * time.Millisecond
	DefaultBackoff        = 250 * time.Millisecond
	DefaultSettleDelay    = 300 * time.Millisecond
)

// Target describes the TCP endpoint that signals backend readiness and the polling budget
type Target struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Backoff        time.Duration `yaml:"backoff"`

	// SettleDelay follows the first accepted connection. An open port does not
	// prove the server behind it can answer yet; this only narrows that window.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// DefaultTarget is the loopback endpoint the packaged backend listens on
func DefaultTarget() Target {
	return Target{
		Host:           DefaultHost,
		Port:           DefaultPort,
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
		Backoff:        DefaultBackoff,
		SettleDelay:    DefaultSettleDelay,
	}
}

func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL is the address the host shell points its web view at
func (t Target) URL() string {
	return fmt.Sprintf("http://%s/", t.Address())
}

// Budget is the worst-case time spent waiting between failed attempts
func (t Target) Budget() time.Duration {
	return time.Duration(t.MaxAttempts) * t.Backoff
}

func (t Target) Validate() error {
	if t.Host == "" {
		return errors.NewValidationError("readiness host is required", nil)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return errors.NewValidationError("readiness port out of range", nil).WithContext("port", t.Port)
	}
	if t.MaxAttempts <= 0 {
		return errors.NewValidationError("readiness max attempts must be positive", nil).WithContext("max_attempts", t.MaxAttempts)
	}
	if t.AttemptTimeout <= 0 {
		return errors.NewValidationError("readiness attempt timeout must be positive", nil).WithContext("attempt_timeout", t.AttemptTimeout)
	}
	if t.Backoff < 0 || t.SettleDelay < 0 {
		return errors.NewValidationError("readiness delays cannot be negative", nil).
			WithContext("backoff", t.Backoff).
			WithContext("settle_delay", t.SettleDelay)
	}
	return nil
}
