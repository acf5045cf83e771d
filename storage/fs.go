package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writeFile replaces dest with the contents of r. The data lands in a
// temporary sibling first so a failed transfer never leaves a truncated
// dest behind.
func writeFile(dest string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(tmp.Name())

		return n, fmt.Errorf("write %s: %w", dest, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())

		return n, fmt.Errorf("rename into %s: %w", dest, err)
	}

	return n, nil
}

// localPath maps an object key below dir, rejecting keys that would
// escape it.
func localPath(dir, key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("key %q is not a relative path", key)
	}

	return filepath.Join(dir, rel), nil
}
