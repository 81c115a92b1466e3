//go:build !windows

package backendprocess

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"
	"github.com/core-tools/hsu-launcher-go/pkg/logging"
	"github.com/core-tools/hsu-launcher-go/pkg/readiness"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	sleeperScript = "#!/bin/sh\nexec sleep 30\n"
	crasherScript = "#!/bin/sh\necho 'boot failed: missing settings'\nexit 3\n"
	echoerScript  = "#!/bin/sh\necho \"arg=$1 host=$AUTOCL_HOST\"\nexec sleep 30\n"
)

type mockLogger struct {
	mock.Mock
}

func (m *mockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *mockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *mockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *mockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *mockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newTestLogger() logging.Logger {
	logger := &mockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

// writeBackend creates a resource dir holding bin/auto_cl_backend with the given script
func writeBackend(t *testing.T, script string) string {
	t.Helper()
	resourceDir := t.TempDir()
	binDir := filepath.Join(resourceDir, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "auto_cl_backend"), []byte(script), 0o755))
	return resourceDir
}

func freePort(t *testing.T) int {
	t.Helper()
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	return port
}

func serve(t *testing.T, address string) {
	t.Helper()
	listener, err := net.Listen("tcp", address)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go acceptLoop(listener)
}

func acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}

func testTarget(port int) readiness.Target {
	return readiness.Target{
		Host:           "127.0.0.1",
		Port:           port,
		MaxAttempts:    10,
		AttemptTimeout: 50 * time.Millisecond,
		Backoff:        20 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
	}
}

func newTestSupervisor(t *testing.T, port int) *Supervisor {
	t.Helper()
	supervisor := NewSupervisor(SupervisorOptions{
		Readiness:       testTarget(port),
		KillWaitTimeout: 2 * time.Second,
	}, newTestLogger())
	t.Cleanup(supervisor.Stop)
	return supervisor
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func TestSupervisor_StopWithoutStart(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))

	for i := 0; i < 3; i++ {
		assert.NotPanics(t, supervisor.Stop)
	}

	assert.Equal(t, StateIdle, supervisor.State())
	assert.Zero(t, supervisor.Status().PID)
}

func TestSupervisor_StartResolutionError(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))

	result, err := supervisor.Start(context.Background(), ResourceLocator(t.TempDir(), DefaultExecutableRelPath))

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.IsResolutionError(err))
	assert.Equal(t, StateIdle, supervisor.State())
	assert.Zero(t, supervisor.Status().PID)
}

func TestSupervisor_StartLocatorPlainError(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))

	_, err := supervisor.Start(context.Background(), func() (string, error) {
		return "", os.ErrNotExist
	})

	require.Error(t, err)
	assert.True(t, errors.IsResolutionError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSupervisor_StartSpawnError(t *testing.T) {
	resourceDir := writeBackend(t, sleeperScript)
	require.NoError(t, os.Chmod(filepath.Join(resourceDir, "bin", "auto_cl_backend"), 0o644))
	supervisor := newTestSupervisor(t, freePort(t))

	result, err := supervisor.Start(context.Background(), ResourceLocator(resourceDir, DefaultExecutableRelPath))

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
	assert.Equal(t, StateIdle, supervisor.State())
}

func TestSupervisor_StartReadyThenStop(t *testing.T) {
	port := freePort(t)
	serve(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	supervisor := newTestSupervisor(t, port)

	result, err := supervisor.Start(context.Background(), ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath))

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Ready())
	assert.Equal(t, 1, result.Readiness.Attempts)
	assert.True(t, processAlive(result.PID))

	status := supervisor.Status()
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, result.PID, status.PID)
	assert.NotNil(t, status.StartTime)
	require.NotNil(t, status.LastReadiness)
	assert.True(t, status.LastReadiness.Ready)

	supervisor.Stop()

	assert.Equal(t, StateIdle, supervisor.State())
	assert.Zero(t, supervisor.Status().PID)
	assert.False(t, processAlive(result.PID))

	var path []State
	for _, transition := range supervisor.Status().Transitions {
		path = append(path, transition.To)
	}
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateIdle}, path)
}

func TestSupervisor_SecondStartRejected(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))
	locator := ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath)

	first, err := supervisor.Start(context.Background(), locator)
	require.NoError(t, err)

	locatorCalls := 0
	second, err := supervisor.Start(context.Background(), func() (string, error) {
		locatorCalls++
		return locator()
	})

	assert.Nil(t, second)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyRunningError(err))
	assert.Zero(t, locatorCalls, "second start must not resolve or spawn")
	assert.Equal(t, first.PID, supervisor.Status().PID)
	assert.True(t, processAlive(first.PID))
}

func TestSupervisor_StartAfterStop(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))
	locator := ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath)

	first, err := supervisor.Start(context.Background(), locator)
	require.NoError(t, err)
	supervisor.Stop()

	second, err := supervisor.Start(context.Background(), locator)
	require.NoError(t, err)
	assert.NotEqual(t, first.PID, second.PID)
	assert.Equal(t, StateRunning, supervisor.State())
}

func TestSupervisor_ReadinessFailureIsNotFatal(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))

	result, err := supervisor.Start(context.Background(), ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath))

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Ready())
	assert.Equal(t, readiness.ReasonExhausted, result.Readiness.Reason)
	assert.Equal(t, 10, result.Readiness.Attempts)
	assert.True(t, errors.IsReadinessTimeoutError(result.Readiness.Err()))

	assert.Equal(t, StateRunning, supervisor.State())
	assert.True(t, processAlive(result.PID))
}

func TestSupervisor_ListenerBindsAfterSpawn(t *testing.T) {
	port := freePort(t)
	supervisor := NewSupervisor(SupervisorOptions{
		Readiness: readiness.Target{
			Host:           "127.0.0.1",
			Port:           port,
			MaxAttempts:    120,
			AttemptTimeout: 100 * time.Millisecond,
			Backoff:        25 * time.Millisecond,
			SettleDelay:    10 * time.Millisecond,
		},
	}, newTestLogger())
	t.Cleanup(supervisor.Stop)

	listeners := make(chan net.Listener, 1)
	time.AfterFunc(50*time.Millisecond, func() {
		listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return
		}
		listeners <- listener
		acceptLoop(listener)
	})
	defer func() {
		select {
		case listener := <-listeners:
			listener.Close()
		default:
		}
	}()

	result, err := supervisor.Start(context.Background(), ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath))

	require.NoError(t, err)
	assert.True(t, result.Ready())
	assert.Less(t, result.Readiness.Attempts, 120)
}

func TestSupervisor_BackendExitsBeforeReady(t *testing.T) {
	supervisor := NewSupervisor(SupervisorOptions{
		Readiness: readiness.Target{
			Host:           "127.0.0.1",
			Port:           freePort(t),
			MaxAttempts:    1000,
			AttemptTimeout: 50 * time.Millisecond,
			Backoff:        20 * time.Millisecond,
		},
	}, newTestLogger())
	t.Cleanup(supervisor.Stop)

	startTime := time.Now()
	result, err := supervisor.Start(context.Background(), ResourceLocator(writeBackend(t, crasherScript), DefaultExecutableRelPath))

	require.NoError(t, err, "spawn succeeded, so start succeeds")
	assert.False(t, result.Ready())
	assert.Equal(t, readiness.ReasonProcessExited, result.Readiness.Reason)
	assert.Less(t, time.Since(startTime), 10*time.Second)

	require.Eventually(t, func() bool {
		return supervisor.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond)

	status := supervisor.Status()
	assert.Zero(t, status.PID)
	assert.Error(t, status.LastExitError)

	// Slot was cleared by exit detection, so a new start is allowed
	_, err = supervisor.Start(context.Background(), ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath))
	assert.NoError(t, err)
}

func TestSupervisor_ExitDetectionClearsSlot(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))

	result, err := supervisor.Start(context.Background(), ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath))
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(result.PID, syscall.SIGKILL))

	require.Eventually(t, func() bool {
		return supervisor.State() == StateIdle
	}, 5*time.Second, 10*time.Millisecond)

	// Stop after the backend died on its own is a silent no-op
	assert.NotPanics(t, supervisor.Stop)
	assert.Equal(t, StateIdle, supervisor.State())
}

func TestSupervisor_ArgsAndEnvFile(t *testing.T) {
	resourceDir := writeBackend(t, echoerScript)
	require.NoError(t, os.WriteFile(filepath.Join(resourceDir, ".env"), []byte("AUTOCL_HOST=127.0.0.9\n"), 0o644))

	supervisor := NewSupervisor(SupervisorOptions{
		Readiness: testTarget(freePort(t)),
		Execution: ExecutionConfig{
			ArgsLine:    "--noreload",
			EnvFile:     ".env",
			ResourceDir: resourceDir,
		},
	}, newTestLogger())
	t.Cleanup(supervisor.Stop)

	_, err := supervisor.Start(context.Background(), ResourceLocator(resourceDir, DefaultExecutableRelPath))
	require.NoError(t, err)

	supervisor.mutex.Lock()
	handle := supervisor.handle
	supervisor.mutex.Unlock()
	require.NotNil(t, handle)

	require.Eventually(t, func() bool {
		for _, line := range handle.OutputTail() {
			if strings.Contains(line.Line, "arg=--noreload host=127.0.0.9") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisor_OverlongOutputDoesNotStallBackend(t *testing.T) {
	resourceDir := writeBackend(t, "#!/bin/sh\n"+
		"head -c 102400 /dev/zero | tr '\\0' a; echo\n"+
		"head -c 307200 /dev/zero | tr '\\0' b; echo\n"+
		"touch \"$0.done\"\n"+
		"exec sleep 30\n")
	marker := filepath.Join(resourceDir, "bin", "auto_cl_backend.done")
	supervisor := newTestSupervisor(t, freePort(t))

	_, err := supervisor.Start(context.Background(), ResourceLocator(resourceDir, DefaultExecutableRelPath))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "backend blocked writing its output")
}

func TestSupervisor_ConcurrentStopWaitsForKill(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))
	result, err := supervisor.Start(context.Background(), ResourceLocator(writeBackend(t, sleeperScript), DefaultExecutableRelPath))
	require.NoError(t, err)

	// Take the slot the way the first Stop does, but hold off on the kill.
	plan := supervisor.planStop()
	require.NotNil(t, plan.handle)
	assert.Equal(t, StateStopping, supervisor.State())

	secondStopped := make(chan struct{})
	go func() {
		supervisor.Stop()
		close(secondStopped)
	}()

	select {
	case <-secondStopped:
		t.Fatal("second Stop returned while the kill was still pending")
	case <-time.After(100 * time.Millisecond):
	}

	supervisor.terminateQuietly(plan.handle, "stop requested")
	supervisor.finalizeStop()

	select {
	case <-secondStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("second Stop did not return after the kill finished")
	}
	assert.False(t, processAlive(result.PID))
	assert.Equal(t, StateIdle, supervisor.State())
}

func TestSupervisor_StopDuringStartup(t *testing.T) {
	resourceDir := writeBackend(t, sleeperScript)
	supervisor := newTestSupervisor(t, freePort(t))

	locatorEntered := make(chan struct{})
	releaseLocator := make(chan struct{})
	locator := func() (string, error) {
		close(locatorEntered)
		<-releaseLocator
		return ResourceLocator(resourceDir, DefaultExecutableRelPath)()
	}

	startErr := make(chan error, 1)
	go func() {
		_, err := supervisor.Start(context.Background(), locator)
		startErr <- err
	}()

	<-locatorEntered
	assert.Equal(t, StateStarting, supervisor.State())

	stopped := make(chan struct{})
	go func() {
		supervisor.Stop()
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		supervisor.mutex.Lock()
		defer supervisor.mutex.Unlock()
		return supervisor.startCancelled
	}, time.Second, 5*time.Millisecond)

	close(releaseLocator)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	err := <-startErr
	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
	assert.Equal(t, StateIdle, supervisor.State())
}

func TestSupervisor_StartValidation(t *testing.T) {
	supervisor := newTestSupervisor(t, freePort(t))

	//nolint:staticcheck // nil context is the case under test
	_, err := supervisor.Start(nil, ResourceLocator(t.TempDir(), DefaultExecutableRelPath))
	assert.True(t, errors.IsValidationError(err))

	_, err = supervisor.Start(context.Background(), nil)
	assert.True(t, errors.IsValidationError(err))

	assert.Equal(t, StateIdle, supervisor.State())
}

func TestNewSupervisor_Defaults(t *testing.T) {
	supervisor := NewSupervisor(SupervisorOptions{}, newTestLogger())

	assert.Equal(t, DefaultProcessID, supervisor.options.ProcessID)
	assert.Equal(t, DefaultKillWaitTimeout, supervisor.options.KillWaitTimeout)
	assert.Equal(t, readiness.DefaultTarget(), supervisor.options.Readiness)
}
