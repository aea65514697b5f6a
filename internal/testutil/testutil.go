// Package testutil holds shared helpers for tests: repository paths, label
// fixtures and synthetic label images.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// ModuleRoot returns the directory holding go.mod, searched upwards from
// this source file so it works from any package's test binary.
func ModuleRoot() (string, error) {
	_, here, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("testutil: no caller information")
	}
	for dir := filepath.Dir(here); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("testutil: go.mod not found above " + filepath.Dir(here))
		}
		dir = parent
	}
}

// TestDataPath joins elem under the repository's testdata directory.
func TestDataPath(t *testing.T, elem ...string) string {
	t.Helper()
	root, err := ModuleRoot()
	require.NoError(t, err)
	return filepath.Join(append([]string{root, "testdata"}, elem...)...)
}

// labelFixturesDir is where the JSON label fixtures live.
func labelFixturesDir(t *testing.T) string {
	t.Helper()
	return TestDataPath(t, "fixtures", "labels")
}

// Exists reports whether path can be stat'ed.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
