package launcher

import (
	"context"
	"runtime"
	"sync"

	"github.com/core-tools/hsu-launcher-go/pkg/backendprocess"
	"github.com/core-tools/hsu-launcher-go/pkg/errors"
	"github.com/core-tools/hsu-launcher-go/pkg/logging"
)

// Launcher wires one backend supervisor into the host's startup and exit hooks
type Launcher struct {
	config     *LauncherConfig
	supervisor *backendprocess.Supervisor
	logger     logging.Logger

	stopOnce sync.Once
}

func NewLauncher(config *LauncherConfig, logger logging.Logger) *Launcher {
	return &Launcher{
		config:     config,
		supervisor: backendprocess.NewSupervisor(config.SupervisorOptions(), logger),
		logger:     logger,
	}
}

func (l *Launcher) Supervisor() *backendprocess.Supervisor {
	return l.supervisor
}

// OnAppReady starts the backend. Resolution and spawn failures are fatal;
// a backend that never became reachable only produces a warning.
func (l *Launcher) OnAppReady(ctx context.Context) error {
	startCtx := ctx
	if l.config.Launcher.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, l.config.Launcher.StartupTimeout)
		defer cancel()
	}

	result, err := l.supervisor.Start(startCtx, l.config.Locator())
	if err != nil {
		l.logger.Errorf("Failed to start backend: %v", err)
		return err
	}

	if !result.Ready() {
		l.logger.Warnf("Backend did not answer on %s (%s after %d attempts); presenting UI anyway",
			l.config.Readiness.Address(), result.Readiness.Reason, result.Readiness.Attempts)
	}
	return nil
}

// OnExitRequested stops the backend; it runs at most once
func (l *Launcher) OnExitRequested() {
	l.stopOnce.Do(func() {
		l.logger.Infof("Exit requested, stopping backend...")
		l.supervisor.Stop()
		l.logger.Infof("Backend stopped")
	})
}

func (l *Launcher) Hooks() Hooks {
	return Hooks{
		OnAppReady:      l.OnAppReady,
		OnExitRequested: l.OnExitRequested,
	}
}

// RunOptions carries command line overrides
type RunOptions struct {
	ConfigFile  string
	ResourceDir string
	Headless    bool
	LogLevel    string
}

// LoadRunConfig loads the optional config file and applies command line overrides
func LoadRunConfig(options RunOptions) (*LauncherConfig, error) {
	var config *LauncherConfig
	if options.ConfigFile != "" {
		loaded, err := LoadConfigFromFile(options.ConfigFile)
		if err != nil {
			return nil, errors.NewIOError("failed to load configuration", err).WithContext("config_file", options.ConfigFile)
		}
		config = loaded
	} else {
		config = DefaultConfig()
	}

	if options.ResourceDir != "" {
		config.Backend.ResourceDir = options.ResourceDir
	}
	if options.Headless {
		config.Launcher.Headless = true
	}
	if options.LogLevel != "" {
		config.Launcher.LogLevel = options.LogLevel
	}

	if err := ValidateConfig(config); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", options.ConfigFile)
	}
	return config, nil
}

// NewHost picks the desktop window or the headless shell
func NewHost(config *LauncherConfig, logger logging.Logger) Host {
	if config.Launcher.Headless {
		return NewSignalHost(logger)
	}
	return NewLorcaHost(config.Readiness.URL(), config.Launcher.Window, logger)
}

// Run supervises the backend for the lifetime of host. It returns only after
// the backend has been stopped.
func Run(ctx context.Context, config *LauncherConfig, host Host, logger logging.Logger) error {
	logger.Infof("Launcher starting...")
	logger.Infof("Platform: OS=%s, Arch=%s, Go=%s", runtime.GOOS, runtime.GOARCH, runtime.Version())
	logger.Infof("Backend: %s under %s, readiness: %s", config.Backend.Executable, config.Backend.ResourceDir, config.Readiness.Address())

	return runLauncher(ctx, NewLauncher(config, logger), host)
}

func runLauncher(ctx context.Context, launcher *Launcher, host Host) error {
	// Covers a host that returns without delivering the exit request
	defer launcher.OnExitRequested()

	if err := host.Run(ctx, launcher.Hooks()); err != nil {
		return err
	}

	launcher.logger.Infof("Launcher exiting")
	return nil
}
