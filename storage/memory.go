package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Memory keeps objects in process memory. It backs tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string][]byte)}
}

// Put stores a copy of data under bucket/key.
func (m *Memory) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[bucket] = b
	}

	b[key] = bytes.Clone(data)
}

// Get returns a copy of bucket/key.
func (m *Memory) Get(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.buckets[bucket][key]
	if !ok {
		return nil, false
	}

	return bytes.Clone(data), true
}

// Keys lists the keys of bucket in lexical order.
func (m *Memory) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Download implements Client.
func (m *Memory) Download(ctx context.Context, bucket, key, dest string) (string, error) {
	data, ok := m.Get(bucket, key)
	if !ok {
		return "", notFound("download", bucket, key)
	}

	if _, err := writeFile(dest, bytes.NewReader(data)); err != nil {
		return "", transferFailed("download", bucket, key, err)
	}

	return dest, nil
}

// DownloadDirectory implements Client.
func (m *Memory) DownloadDirectory(ctx context.Context, bucket, prefix, destDir string) (string, error) {
	var keys []string
	for _, k := range m.Keys(bucket) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	if len(keys) == 0 {
		return "", notFound("download directory", bucket, prefix)
	}

	for _, key := range keys {
		dest, err := localPath(destDir, key)
		if err != nil {
			return "", transferFailed("download directory", bucket, key, err)
		}

		if _, err := m.Download(ctx, bucket, key, dest); err != nil {
			return "", fmt.Errorf("download directory %s/%s: %w", bucket, prefix, err)
		}
	}

	return destDir, nil
}

// Upload implements Client.
func (m *Memory) Upload(ctx context.Context, bucket, key, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", transferFailed("upload", bucket, key, err)
	}

	m.Put(bucket, key, data)

	return key, nil
}
