// Package storage moves benchmark inputs and outputs between named buckets
// and the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrObjectNotFound is returned when a key (or, for directory
	// downloads, every key under a prefix) is absent from a bucket.
	ErrObjectNotFound = errors.New("object not found")

	// ErrTransfer is returned for any I/O fault while moving data.
	ErrTransfer = errors.New("transfer failed")
)

// Client is the capability surface every backend provides. None of the
// methods retry.
type Client interface {
	// Download fetches bucket/key into dest, overwriting it, and returns
	// the local path written.
	Download(ctx context.Context, bucket, key, dest string) (string, error)

	// DownloadDirectory fetches every object under prefix into destDir,
	// keeping each key's relative path. It fails as a whole if any
	// object fails.
	DownloadDirectory(ctx context.Context, bucket, prefix, destDir string) (string, error)

	// Upload pushes localPath to bucket under key and returns the key
	// actually stored.
	Upload(ctx context.Context, bucket, key, localPath string) (string, error)
}

func notFound(op, bucket, key string) error {
	return fmt.Errorf("%s %s/%s: %w", op, bucket, key, ErrObjectNotFound)
}

func transferFailed(op, bucket, key string, err error) error {
	return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrTransfer, err)
}

// Opener constructs a backend.
type Opener func(ctx context.Context) (Client, error)

// Lazy is a Client that constructs its backend on first use and keeps it
// for the lifetime of the process. A failed construction is remembered and
// returned to every later caller.
type Lazy struct {
	open Opener

	once   sync.Once
	client Client
	err    error
}

// NewLazy wraps open so it runs at most once.
func NewLazy(open Opener) *Lazy {
	return &Lazy{open: open}
}

func (l *Lazy) resolve(ctx context.Context) (Client, error) {
	l.once.Do(func() {
		// The result outlives the request that triggered it, so a
		// cancelled caller must not fail every later one.
		l.client, l.err = l.open(context.WithoutCancel(ctx))
		if l.err != nil {
			l.err = fmt.Errorf("open storage backend: %w", l.err)
		}
	})

	return l.client, l.err
}

// Download implements Client.
func (l *Lazy) Download(ctx context.Context, bucket, key, dest string) (string, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return "", err
	}

	return c.Download(ctx, bucket, key, dest)
}

// DownloadDirectory implements Client.
func (l *Lazy) DownloadDirectory(ctx context.Context, bucket, prefix, destDir string) (string, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return "", err
	}

	return c.DownloadDirectory(ctx, bucket, prefix, destDir)
}

// Upload implements Client.
func (l *Lazy) Upload(ctx context.Context, bucket, key, localPath string) (string, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return "", err
	}

	return c.Upload(ctx, bucket, key, localPath)
}
