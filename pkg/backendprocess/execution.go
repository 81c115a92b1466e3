package backendprocess

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
)

const DefaultWaitDelay = 2 * time.Second

// ExecutionConfig controls how the backend is spawned. The zero value spawns
// it with no arguments and the launcher's own environment.
type ExecutionConfig struct {
	Args             []string      `yaml:"-"`
	ArgsLine         string        `yaml:"args,omitempty"`
	Env              []string      `yaml:"env,omitempty"`
	EnvFile          string        `yaml:"env_file,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`

	// ResourceDir anchors a relative EnvFile. When empty the executable's
	// directory is used.
	ResourceDir string `yaml:"-"`
}

// ParseArgs splits a shell-style argument line
func ParseArgs(line string) ([]string, error) {
	if line == "" {
		return nil, nil
	}
	args, err := shlex.Split(line)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse backend arguments", err).WithContext("args", line)
	}
	return args, nil
}

// resolveArgs returns Args when set, otherwise the parsed ArgsLine
func (c ExecutionConfig) resolveArgs() ([]string, error) {
	if len(c.Args) > 0 {
		return c.Args, nil
	}
	return ParseArgs(c.ArgsLine)
}

// resolveEnv returns nil (inherit) unless extra variables are configured.
// A relative EnvFile is looked up under ResourceDir.
func (c ExecutionConfig) resolveEnv(executablePath string) ([]string, error) {
	if len(c.Env) == 0 && c.EnvFile == "" {
		return nil, nil
	}

	env := os.Environ()

	if c.EnvFile != "" {
		envFile := c.EnvFile
		if !filepath.IsAbs(envFile) {
			baseDir := c.ResourceDir
			if baseDir == "" {
				baseDir = filepath.Dir(executablePath)
			}
			envFile = filepath.Join(baseDir, envFile)
		}
		vars, err := godotenv.Read(envFile)
		if err != nil {
			return nil, errors.NewIOError("failed to read backend env file", err).WithContext("env_file", envFile)
		}
		for k, v := range vars {
			env = append(env, k+"="+v)
		}
	}

	return append(env, c.Env...), nil
}

type spawnResult struct {
	cmd          *exec.Cmd
	stdout       io.ReadCloser
	stderr       io.ReadCloser
	closeWriters func()
}

// spawnProcess starts the executable without tying it to any context:
// the child outlives failed readiness and is only ended by Stop.
func spawnProcess(executablePath string, config ExecutionConfig) (*spawnResult, error) {
	args, err := config.resolveArgs()
	if err != nil {
		return nil, errors.NewSpawnError("invalid backend arguments", err).WithContext("path", executablePath)
	}

	env, err := config.resolveEnv(executablePath)
	if err != nil {
		return nil, errors.NewSpawnError("invalid backend environment", err).WithContext("path", executablePath)
	}

	cmd := exec.Command(executablePath, args...)
	cmd.Env = env
	cmd.Dir = config.WorkingDirectory
	configureSysProcAttr(cmd)

	waitDelay := config.WaitDelay
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	// Grandchildren may inherit the output pipes; WaitDelay bounds how long
	// Wait keeps copying after the backend itself has exited.
	cmd.WaitDelay = waitDelay

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	closeWriters := func() {
		stdoutWriter.Close()
		stderrWriter.Close()
	}

	if err := cmd.Start(); err != nil {
		closeWriters()
		return nil, errors.NewSpawnError("failed to start backend process", err).WithContext("path", executablePath)
	}

	return &spawnResult{
		cmd:          cmd,
		stdout:       stdoutReader,
		stderr:       stderrReader,
		closeWriters: closeWriters,
	}, nil
}
