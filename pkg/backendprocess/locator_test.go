package backendprocess

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceLocator_Success(t *testing.T) {
	resourceDir := t.TempDir()
	binDir := filepath.Join(resourceDir, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	exePath := filepath.Join(binDir, "auto_cl_backend")
	require.NoError(t, os.WriteFile(exePath, []byte("binary"), 0o755))

	path, err := ResourceLocator(resourceDir, "bin/auto_cl_backend")()

	require.NoError(t, err)
	expected, err := filepath.Abs(exePath)
	require.NoError(t, err)
	assert.Equal(t, expected, path)
}

func TestResourceLocator_Failures(t *testing.T) {
	resourceDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(resourceDir, "bin", "as_dir"), 0o755))
	plainFile := filepath.Join(resourceDir, "plain")
	require.NoError(t, os.WriteFile(plainFile, []byte("x"), 0o644))

	absRel := "/bin/backend"
	if runtime.GOOS == "windows" {
		absRel = `C:\bin\backend.exe`
	}

	tests := []struct {
		name        string
		resourceDir string
		relPath     string
	}{
		{"empty resource dir", "", "bin/auto_cl_backend"},
		{"missing resource dir", filepath.Join(resourceDir, "missing"), "bin/auto_cl_backend"},
		{"resource dir is a file", plainFile, "bin/auto_cl_backend"},
		{"absolute relative path", resourceDir, absRel},
		{"missing executable", resourceDir, "bin/auto_cl_backend"},
		{"executable is a directory", resourceDir, "bin/as_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := ResourceLocator(tt.resourceDir, tt.relPath)()

			assert.Empty(t, path)
			require.Error(t, err)
			assert.True(t, errors.IsResolutionError(err), "unexpected error: %v", err)
		})
	}
}

func TestStaticLocator(t *testing.T) {
	dir := t.TempDir()
	exePath := filepath.Join(dir, "backend")
	require.NoError(t, os.WriteFile(exePath, []byte("binary"), 0o755))

	path, err := StaticLocator(exePath)()
	require.NoError(t, err)
	assert.Equal(t, exePath, path)

	_, err = StaticLocator(filepath.Join(dir, "missing"))()
	assert.True(t, errors.IsResolutionError(err))
}

func TestDefaultExecutableName(t *testing.T) {
	if runtime.GOOS == "windows" {
		assert.Equal(t, "bin/auto_cl_backend.exe", DefaultExecutableName(DefaultExecutableRelPath))
		assert.Equal(t, "bin/server.bat", DefaultExecutableName("bin/server.bat"))
	} else {
		assert.Equal(t, "bin/auto_cl_backend", DefaultExecutableName(DefaultExecutableRelPath))
	}
}

func TestExecutableDir(t *testing.T) {
	dir, err := ExecutableDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
}
