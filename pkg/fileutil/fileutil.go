package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rohmanhakim/gravity-worker/pkg/failure"
)

// EnsureDir check if a given directory plus the following path exist, then create one if not
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := []string{dir}
	targetPath = append(targetPath, path...)

	target := filepath.Join(targetPath...)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return nil
}

// EnsureParentDir creates the directory holding the database file at path.
// Paths without a directory component (or in-memory DSNs) are left alone.
func EnsureParentDir(path string) failure.ClassifiedError {
	if strings.TrimSpace(path) == "" {
		return &FileError{
			Message:   "empty path",
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	if strings.HasPrefix(path, ":memory:") || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	return EnsureDir(dir)
}
