// Package testutil holds helpers shared by the build-tagged test suites.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ProjectRoot returns the repository root, located by walking up from the
// caller's source file until a go.mod appears. Harnesses use it as the
// docker build context, so it must work no matter which package the test
// binary runs from.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	for dir := filepath.Dir(filename); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if dir == filepath.Dir(dir) {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
	}
}
