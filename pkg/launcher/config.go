package launcher

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/backendprocess"
	"github.com/core-tools/hsu-launcher-go/pkg/errors"
	"github.com/core-tools/hsu-launcher-go/pkg/logcollection"
	"github.com/core-tools/hsu-launcher-go/pkg/logging/zaplogging"
	"github.com/core-tools/hsu-launcher-go/pkg/readiness"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// LauncherConfig represents the top-level configuration file structure
type LauncherConfig struct {
	Launcher  LauncherOptions  `yaml:"launcher"`
	Backend   BackendConfig    `yaml:"backend"`
	Readiness readiness.Target `yaml:"readiness"`
}

// LauncherOptions represents shell-level configuration
type LauncherOptions struct {
	LogLevel string       `yaml:"log_level,omitempty"`
	Headless bool         `yaml:"headless,omitempty"`
	Window   WindowConfig `yaml:"window,omitempty"`

	// StartupTimeout caps the readiness wait; zero leaves only the attempt budget
	StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`
}

type WindowConfig struct {
	// Title replaces the page title when set
	Title      string `yaml:"title,omitempty"`
	Width      int    `yaml:"width,omitempty"`
	Height     int    `yaml:"height,omitempty"`
	ProfileDir string `yaml:"profile_dir,omitempty"`
}

// BackendConfig describes the packaged backend executable
type BackendConfig struct {
	ResourceDir     string        `yaml:"resource_dir,omitempty"`
	Executable      string        `yaml:"executable,omitempty"`
	KillWaitTimeout time.Duration `yaml:"kill_wait_timeout,omitempty"`
	OutputTailLines int           `yaml:"output_tail_lines,omitempty"`

	backendprocess.ExecutionConfig `yaml:",inline"`
}

const (
	DefaultWindowWidth  = 1280
	DefaultWindowHeight = 850
)

// DefaultConfig reproduces the launcher's built-in behavior when no file is given
func DefaultConfig() *LauncherConfig {
	config := &LauncherConfig{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads launcher configuration from a YAML file
func LoadConfigFromFile(filename string) (*LauncherConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config LauncherConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults fills every unset field. The resource dir falls back to
// the directory of the running launcher binary.
func setConfigDefaults(config *LauncherConfig) {
	if config.Launcher.LogLevel == "" {
		config.Launcher.LogLevel = "info"
	}
	if config.Launcher.Window.Width == 0 {
		config.Launcher.Window.Width = DefaultWindowWidth
	}
	if config.Launcher.Window.Height == 0 {
		config.Launcher.Window.Height = DefaultWindowHeight
	}

	if config.Backend.ResourceDir == "" {
		if dir, err := backendprocess.ExecutableDir(); err == nil {
			config.Backend.ResourceDir = dir
		}
	}
	if config.Backend.Executable == "" {
		config.Backend.Executable = backendprocess.DefaultExecutableName(backendprocess.DefaultExecutableRelPath)
	}
	if config.Backend.KillWaitTimeout == 0 {
		config.Backend.KillWaitTimeout = backendprocess.DefaultKillWaitTimeout
	}
	if config.Backend.OutputTailLines == 0 {
		config.Backend.OutputTailLines = logcollection.DefaultTailLines
	}
	if config.Backend.WaitDelay == 0 {
		config.Backend.WaitDelay = backendprocess.DefaultWaitDelay
	}

	target := &config.Readiness
	if target.Host == "" {
		target.Host = readiness.DefaultHost
	}
	if target.Port == 0 {
		target.Port = readiness.DefaultPort
	}
	if target.MaxAttempts == 0 {
		target.MaxAttempts = readiness.DefaultMaxAttempts
	}
	if target.AttemptTimeout == 0 {
		target.AttemptTimeout = readiness.DefaultAttemptTimeout
	}
	if target.Backoff == 0 {
		target.Backoff = readiness.DefaultBackoff
	}
	if target.SettleDelay == 0 {
		target.SettleDelay = readiness.DefaultSettleDelay
	}
}

// ValidateConfig validates the entire configuration structure, reporting every problem found
func ValidateConfig(config *LauncherConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	var result error

	if _, err := zaplogging.ParseLevel(config.Launcher.LogLevel); err != nil {
		result = multierr.Append(result, err)
	}
	if config.Launcher.StartupTimeout < 0 {
		result = multierr.Append(result, errors.NewValidationError("startup timeout cannot be negative", nil).
			WithContext("startup_timeout", config.Launcher.StartupTimeout))
	}
	if config.Launcher.Window.Width < 0 || config.Launcher.Window.Height < 0 {
		result = multierr.Append(result, errors.NewValidationError("window size cannot be negative", nil).
			WithContext("window", fmt.Sprintf("%dx%d", config.Launcher.Window.Width, config.Launcher.Window.Height)))
	}

	if config.Backend.ResourceDir == "" {
		result = multierr.Append(result, errors.NewValidationError("backend resource directory is required", nil))
	}
	if config.Backend.Executable == "" {
		result = multierr.Append(result, errors.NewValidationError("backend executable is required", nil))
	}
	if config.Backend.KillWaitTimeout < 0 {
		result = multierr.Append(result, errors.NewValidationError("kill wait timeout cannot be negative", nil).
			WithContext("kill_wait_timeout", config.Backend.KillWaitTimeout))
	}
	if _, err := backendprocess.ParseArgs(config.Backend.ArgsLine); err != nil {
		result = multierr.Append(result, err)
	}

	if err := config.Readiness.Validate(); err != nil {
		result = multierr.Append(result, err)
	}

	if result != nil {
		return errors.NewValidationError("invalid launcher configuration", result)
	}
	return nil
}

// SupervisorOptions maps the configuration onto the backend supervisor
func (c *LauncherConfig) SupervisorOptions() backendprocess.SupervisorOptions {
	execution := c.Backend.ExecutionConfig
	execution.ResourceDir = c.Backend.ResourceDir

	return backendprocess.SupervisorOptions{
		ProcessID:       backendprocess.DefaultProcessID,
		Execution:       execution,
		Readiness:       c.Readiness,
		KillWaitTimeout: c.Backend.KillWaitTimeout,
		OutputTailLines: c.Backend.OutputTailLines,
	}
}

// Locator resolves the backend under the configured resource directory
func (c *LauncherConfig) Locator() backendprocess.ExecutableLocator {
	return backendprocess.ResourceLocator(c.Backend.ResourceDir, c.Backend.Executable)
}
