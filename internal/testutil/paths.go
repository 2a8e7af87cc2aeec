package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNoModule is returned when no go.mod exists above the calling file
var ErrNoModule = errors.New("go.mod not found in any parent directory")

// FindProjectRoot returns the module root of the calling source file, so
// tests can locate the repository regardless of the working directory
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	return moduleRoot(filepath.Dir(filename))
}

// moduleRoot returns the nearest directory at or above dir containing go.mod
func moduleRoot(dir string) (string, error) {
	for {
		if info, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoModule
		}
		dir = parent
	}
}
