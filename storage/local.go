package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores each bucket as a directory under Root.
type Local struct {
	Root string
}

// NewLocal returns a filesystem backend rooted at root.
func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) object(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}

	return localPath(filepath.Join(l.Root, bucket), key)
}

// Download implements Client.
func (l *Local) Download(ctx context.Context, bucket, key, dest string) (string, error) {
	src, err := l.object(bucket, key)
	if err != nil {
		return "", transferFailed("download", bucket, key, err)
	}

	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", notFound("download", bucket, key)
	}
	if err != nil {
		return "", transferFailed("download", bucket, key, err)
	}
	defer f.Close()

	if _, err := writeFile(dest, f); err != nil {
		return "", transferFailed("download", bucket, key, err)
	}

	return dest, nil
}

// DownloadDirectory implements Client. Keys keep their full path below
// destDir, prefix included.
func (l *Local) DownloadDirectory(ctx context.Context, bucket, prefix, destDir string) (string, error) {
	bucketDir, err := l.object(bucket, ".")
	if err != nil {
		return "", transferFailed("download directory", bucket, prefix, err)
	}

	var keys []string

	err = filepath.WalkDir(bucketDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return "", notFound("download directory", bucket, prefix)
	}
	if err != nil {
		return "", transferFailed("download directory", bucket, prefix, err)
	}

	if len(keys) == 0 {
		return "", notFound("download directory", bucket, prefix)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return "", transferFailed("download directory", bucket, prefix, err)
		}

		dest, err := localPath(destDir, key)
		if err != nil {
			return "", transferFailed("download directory", bucket, key, err)
		}

		if _, err := l.Download(ctx, bucket, key, dest); err != nil {
			return "", fmt.Errorf("download directory %s/%s: %w", bucket, prefix, err)
		}
	}

	return destDir, nil
}

// Upload implements Client.
func (l *Local) Upload(ctx context.Context, bucket, key, localPath string) (string, error) {
	dest, err := l.object(bucket, key)
	if err != nil {
		return "", transferFailed("upload", bucket, key, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", transferFailed("upload", bucket, key, err)
	}
	defer f.Close()

	if _, err := writeFile(dest, f); err != nil {
		return "", transferFailed("upload", bucket, key, err)
	}

	return key, nil
}
