package backendprocess

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"
	"github.com/core-tools/hsu-launcher-go/pkg/logcollection"
	"github.com/core-tools/hsu-launcher-go/pkg/logging"
	"github.com/core-tools/hsu-launcher-go/pkg/readiness"
)

const (
	DefaultProcessID       = "backend"
	DefaultKillWaitTimeout = 2 * time.Second
)

// State of the supervisor slot
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

type SupervisorOptions struct {
	ProcessID       string
	Execution       ExecutionConfig
	Readiness       readiness.Target
	KillWaitTimeout time.Duration
	OutputTailLines int
}

// StartResult reports spawn and readiness independently: a non-nil result
// means the backend was spawned, whether or not it became reachable.
type StartResult struct {
	PID       int
	Path      string
	Readiness readiness.Outcome
}

func (r *StartResult) Ready() bool {
	return r.Readiness.Ready
}

// Status is a diagnostics snapshot of the supervisor
type Status struct {
	State         State
	PID           int
	Path          string
	StartTime     *time.Time
	LastReadiness *readiness.Outcome
	LastExitError error
	Transitions   []StateTransition
}

// Supervisor owns the single backend process slot. The mutex is held only
// while the slot is read or written, never across spawn, probe or kill.
type Supervisor struct {
	options SupervisorOptions
	prober  *readiness.Prober
	logger  logging.Logger

	mutex          sync.Mutex
	slot           *slotState
	handle         *Handle
	startCancelled bool
	startDone      chan struct{}
	stopDone       chan struct{}
	lastReadiness  *readiness.Outcome
	lastExitErr    error
}

func NewSupervisor(options SupervisorOptions, logger logging.Logger) *Supervisor {
	return NewSupervisorWithProber(options, readiness.NewProber(logger), logger)
}

func NewSupervisorWithProber(options SupervisorOptions, prober *readiness.Prober, logger logging.Logger) *Supervisor {
	if options.ProcessID == "" {
		options.ProcessID = DefaultProcessID
	}
	if options.KillWaitTimeout <= 0 {
		options.KillWaitTimeout = DefaultKillWaitTimeout
	}
	if options.Readiness == (readiness.Target{}) {
		options.Readiness = readiness.DefaultTarget()
	}

	return &Supervisor{
		options: options,
		prober:  prober,
		logger:  logger,
		slot:    newSlotState(options.ProcessID, logger),
	}
}

// Start resolves and spawns the backend, then blocks probing readiness.
//
// Resolution and spawn failures are returned as errors and leave the slot
// empty. A readiness failure is not an error: the result carries the outcome
// and the backend keeps running.
func (s *Supervisor) Start(ctx context.Context, locate ExecutableLocator) (*StartResult, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if locate == nil {
		return nil, errors.NewValidationError("executable locator cannot be nil", nil)
	}

	if err := s.reserve(); err != nil {
		return nil, err
	}

	handle, err := s.spawn(locate)
	if err != nil {
		s.releaseReservation()
		return nil, err
	}

	if err := s.store(handle); err != nil {
		s.terminateQuietly(handle, "startup aborted")
		if errors.IsCancelledError(err) {
			s.releaseReservation()
		}
		return nil, err
	}

	s.logger.Infof("Backend process started, process: %s, PID: %d, path: %s",
		s.options.ProcessID, handle.PID(), handle.Path())

	outcome := s.prober.ProbeUntilExit(ctx, s.options.Readiness, handle.Exited())
	s.recordReadiness(outcome)

	if outcome.Ready {
		s.logger.Infof("Backend ready, process: %s, attempts: %d, elapsed: %v",
			s.options.ProcessID, outcome.Attempts, outcome.Elapsed.Round(time.Millisecond))
	} else {
		s.logger.Warnf("Backend not confirmed ready, continuing anyway, process: %s, %v",
			s.options.ProcessID, outcome.Err())
		if outcome.Reason == readiness.ReasonProcessExited {
			s.logOutputTail(handle)
		}
	}

	return &StartResult{
		PID:       handle.PID(),
		Path:      handle.Path(),
		Readiness: outcome,
	}, nil
}

// Stop terminates the held backend, if any. It never fails: termination is
// best effort at exit time, and any termination error is dropped in one place
// below. Safe to call any number of times, with or without a prior Start.
// A Stop that overlaps another returns only after that one's kill is done.
func (s *Supervisor) Stop() {
	plan := s.planStop()

	if plan.waitForStart != nil {
		// Start is spawning; it observes startCancelled and kills the child itself.
		select {
		case <-plan.waitForStart:
		case <-time.After(2 * s.options.KillWaitTimeout):
			s.logger.Warnf("Timed out waiting for backend startup to abort, process: %s", s.options.ProcessID)
		}
		return
	}

	if plan.waitForStop != nil {
		// Another Stop owns the kill; return once it has finished.
		select {
		case <-plan.waitForStop:
		case <-time.After(2 * s.options.KillWaitTimeout):
			s.logger.Warnf("Timed out waiting for concurrent backend stop, process: %s", s.options.ProcessID)
		}
		return
	}

	if plan.handle == nil {
		s.logger.Debugf("No backend to stop, process: %s", s.options.ProcessID)
		return
	}

	s.terminateQuietly(plan.handle, "stop requested")
	s.finalizeStop()
}

func (s *Supervisor) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.slot.current
}

func (s *Supervisor) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	status := Status{
		State:         s.slot.current,
		Transitions:   s.slot.history(),
		LastReadiness: s.lastReadiness,
		LastExitError: s.lastExitErr,
	}
	if s.handle != nil {
		startTime := s.handle.StartTime()
		status.PID = s.handle.PID()
		status.Path = s.handle.Path()
		status.StartTime = &startTime
	}
	return status
}

// ===== SLOT TRANSITIONS (lock held only inside each helper) =====

func (s *Supervisor) reserve() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.slot.current != StateIdle {
		err := errors.NewAlreadyRunningError("backend is already supervised", nil).
			WithContext("process", s.options.ProcessID).
			WithContext("state", string(s.slot.current))
		if s.handle != nil {
			err.WithContext("pid", s.handle.PID())
		}
		return err
	}

	s.setState(StateStarting, "reserve")
	s.startCancelled = false
	s.startDone = make(chan struct{})
	return nil
}

func (s *Supervisor) releaseReservation() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.setState(StateIdle, "release reservation")
	s.closeStartDone()
}

func (s *Supervisor) store(handle *Handle) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// A waiting Stop is released by releaseReservation, after the child is killed.
	if s.startCancelled {
		return errors.NewCancelledError("stop requested during backend startup", nil).
			WithContext("process", s.options.ProcessID)
	}

	defer s.closeStartDone()

	if s.handle != nil {
		s.setState(StateRunning, "store")
		return errors.NewAlreadyRunningError("backend slot already holds a process", nil).
			WithContext("process", s.options.ProcessID).
			WithContext("pid", s.handle.PID())
	}

	// The waiter closes Exited before taking the lock, so an exit seen here
	// means the waiter will not find this handle in the slot.
	if handle.HasExited() {
		s.setState(StateIdle, "exited before store")
		s.lastExitErr = handle.ExitErr()
		return nil
	}

	s.handle = handle
	s.setState(StateRunning, "store")
	return nil
}

// setState must be called with the mutex held
func (s *Supervisor) setState(to State, operation string) {
	if err := s.slot.transition(to, operation); err != nil {
		s.logger.Errorf("Backend slot transition rejected: %v", err)
	}
}

func (s *Supervisor) closeStartDone() {
	if s.startDone != nil {
		close(s.startDone)
		s.startDone = nil
	}
}

type stopPlan struct {
	handle       *Handle
	waitForStart <-chan struct{}
	waitForStop  <-chan struct{}
}

func (s *Supervisor) planStop() stopPlan {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.slot.current {
	case StateStarting:
		s.startCancelled = true
		return stopPlan{waitForStart: s.startDone}
	case StateRunning:
		handle := s.handle
		s.handle = nil
		s.setState(StateStopping, "stop")
		s.stopDone = make(chan struct{})
		return stopPlan{handle: handle}
	case StateStopping:
		return stopPlan{waitForStop: s.stopDone}
	default:
		return stopPlan{}
	}
}

func (s *Supervisor) finalizeStop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.slot.current == StateStopping {
		s.setState(StateIdle, "stopped")
	}
	if s.stopDone != nil {
		close(s.stopDone)
		s.stopDone = nil
	}
}

// onExit runs on the waiter goroutine once the backend has been reaped
func (s *Supervisor) onExit(handle *Handle, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.handle != handle {
		return
	}

	s.handle = nil
	s.lastExitErr = err
	if s.slot.current == StateRunning {
		s.setState(StateIdle, "exited")
	}
}

func (s *Supervisor) recordReadiness(outcome readiness.Outcome) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastReadiness = &outcome
}

// ===== PROCESS OPERATIONS (no lock held) =====

func (s *Supervisor) spawn(locate ExecutableLocator) (*Handle, error) {
	path, err := locate()
	if err != nil {
		s.logger.Errorf("Failed to resolve backend executable, process: %s, error: %v", s.options.ProcessID, err)
		if errors.IsResolutionError(err) {
			return nil, err
		}
		return nil, errors.NewResolutionError("failed to resolve backend executable", err)
	}

	s.logger.Infof("Spawning backend, process: %s, path: %s", s.options.ProcessID, path)

	spawned, err := spawnProcess(path, s.options.Execution)
	if err != nil {
		s.logger.Errorf("Failed to spawn backend, process: %s, error: %v", s.options.ProcessID, err)
		return nil, err
	}

	collector := logcollection.NewCollector(s.options.ProcessID, s.options.OutputTailLines, s.logger)
	collector.CollectFromStream(spawned.stdout, logcollection.StdoutStream)
	collector.CollectFromStream(spawned.stderr, logcollection.StderrStream)

	handle := newHandle(path, spawned, collector)
	go s.wait(handle, spawned)

	return handle, nil
}

func (s *Supervisor) wait(handle *Handle, spawned *spawnResult) {
	err := spawned.cmd.Wait()
	spawned.closeWriters()

	if err != nil {
		s.logger.Infof("Backend process exited, process: %s, PID: %d, status: %v", s.options.ProcessID, handle.PID(), err)
	} else {
		s.logger.Infof("Backend process exited cleanly, process: %s, PID: %d", s.options.ProcessID, handle.PID())
	}

	handle.markExited(err)
	s.onExit(handle, err)
}

// terminateQuietly is the single place where termination errors are dropped.
// The backend may already have exited on its own, and shutdown must proceed either way.
func (s *Supervisor) terminateQuietly(handle *Handle, reason string) {
	if err := s.terminate(handle); err != nil {
		s.logger.Debugf("Ignoring backend termination error, process: %s, reason: %s, error: %v",
			s.options.ProcessID, reason, err)
	}
}

func (s *Supervisor) terminate(handle *Handle) error {
	pid := handle.PID()
	s.logger.Infof("Killing backend process, process: %s, PID: %d", s.options.ProcessID, pid)

	if err := handle.process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return errors.NewProcessError("failed to kill backend process", err).WithContext("pid", pid)
	}

	select {
	case <-handle.Exited():
		s.logger.Infof("Backend process terminated, process: %s, PID: %d", s.options.ProcessID, pid)
		return nil
	case <-time.After(s.options.KillWaitTimeout):
		return errors.NewTimeoutError("backend did not exit after kill", nil).
			WithContext("pid", pid).
			WithContext("timeout", s.options.KillWaitTimeout)
	}
}

func (s *Supervisor) logOutputTail(handle *Handle) {
	tail := handle.OutputTail()
	if len(tail) == 0 {
		s.logger.Warnf("Backend exited without output, process: %s, exit: %v", s.options.ProcessID, handle.ExitErr())
		return
	}

	s.logger.Warnf("Backend exited before becoming ready, process: %s, exit: %v, last %d output lines follow",
		s.options.ProcessID, handle.ExitErr(), len(tail))
	for _, line := range tail {
		s.logger.Warnf("[%s %s] %s", s.options.ProcessID, line.Stream, line.Line)
	}
}
