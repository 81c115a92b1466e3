package backendprocess

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"
)

// DefaultExecutableRelPath is where packaging places the backend under the resource root
const DefaultExecutableRelPath = "bin/auto_cl_backend"

// ExecutableLocator resolves the absolute path of the backend executable
type ExecutableLocator func() (string, error)

// DefaultExecutableName appends the platform executable suffix
func DefaultExecutableName(relPath string) string {
	if runtime.GOOS == "windows" && filepath.Ext(relPath) == "" {
		return relPath + ".exe"
	}
	return relPath
}

// ResourceLocator resolves relPath beneath the packaged application's resource directory
func ResourceLocator(resourceDir, relPath string) ExecutableLocator {
	return func() (string, error) {
		if resourceDir == "" {
			return "", errors.NewResolutionError("resource directory is not set", nil)
		}

		root, err := filepath.Abs(resourceDir)
		if err != nil {
			return "", errors.NewResolutionError("failed to resolve resource directory", err).
				WithContext("resource_dir", resourceDir)
		}

		info, err := os.Stat(root)
		if err != nil {
			return "", errors.NewResolutionError("resource directory does not exist", err).
				WithContext("resource_dir", root)
		}
		if !info.IsDir() {
			return "", errors.NewResolutionError("resource directory is not a directory", nil).
				WithContext("resource_dir", root)
		}

		if filepath.IsAbs(relPath) {
			return "", errors.NewResolutionError("backend path must be relative to the resource directory", nil).
				WithContext("path", relPath)
		}

		return checkExecutable(filepath.Join(root, filepath.FromSlash(relPath)))
	}
}

// StaticLocator verifies and returns a fixed path
func StaticLocator(path string) ExecutableLocator {
	return func() (string, error) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", errors.NewResolutionError("failed to resolve backend path", err).WithContext("path", path)
		}
		return checkExecutable(absPath)
	}
}

// ExecutableDir returns the directory holding the running launcher binary
func ExecutableDir() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", errors.NewResolutionError("failed to locate launcher executable", err)
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	return filepath.Dir(self), nil
}

func checkExecutable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.NewResolutionError("backend executable not found", err).WithContext("path", path)
	}
	if info.IsDir() {
		return "", errors.NewResolutionError("backend path is a directory", nil).WithContext("path", path)
	}
	return path, nil
}
