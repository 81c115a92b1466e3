package backendprocess

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/logcollection"
)

// Handle is the supervisor's reference to one spawned backend
type Handle struct {
	path      string
	startTime time.Time
	cmd       *exec.Cmd
	process   *os.Process
	collector *logcollection.Collector

	exited   chan struct{}
	exitOnce sync.Once
	exitErr  error
}

func newHandle(path string, spawned *spawnResult, collector *logcollection.Collector) *Handle {
	return &Handle{
		path:      path,
		startTime: time.Now(),
		cmd:       spawned.cmd,
		process:   spawned.cmd.Process,
		collector: collector,
		exited:    make(chan struct{}),
	}
}

func (h *Handle) PID() int {
	return h.process.Pid
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) StartTime() time.Time {
	return h.startTime
}

// Exited is closed once the backend has exited and been reaped
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// HasExited reports without blocking whether the backend has exited
func (h *Handle) HasExited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// ExitErr is the result of waiting on the backend; only meaningful after Exited is closed
func (h *Handle) ExitErr() error {
	select {
	case <-h.exited:
		return h.exitErr
	default:
		return nil
	}
}

// OutputTail returns the most recent backend output lines
func (h *Handle) OutputTail() []logcollection.LogLine {
	if h.collector == nil {
		return nil
	}
	return h.collector.Tail()
}

func (h *Handle) markExited(err error) {
	h.exitOnce.Do(func() {
		h.exitErr = err
		close(h.exited)
	})
}
