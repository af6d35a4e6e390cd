package storage

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rainycape/vfs"
)

// FileStore is a Store backed by a local or virtual filesystem via
// rainycape/vfs, one JSON file per key under a flat directory. It gives
// the library a dependency-light backend for local development and
// tests that don't want to stand up a NATS server — every AESP key is
// already a short, structured string ("aesp:policies", "vendor:42",
// ...), so there is no need for nested directories; filenames are a
// base32 encoding of the key to stay filesystem-safe.
type FileStore struct {
	mu sync.Mutex
	fs vfs.VFS
}

// NewFileStore opens (creating if necessary) a native-filesystem-backed
// FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base dir %q: %w", dir, err)
	}
	fs, err := vfs.Native(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: open native vfs at %q: %w", dir, err)
	}
	return &FileStore{fs: fs}, nil
}

// NewInMemoryFileStore backs a FileStore with an in-process virtual
// filesystem (vfs.Map) rather than the real disk — useful for tests
// that want FileStore's exact encoding behavior without touching disk.
func NewInMemoryFileStore() (*FileStore, error) {
	fs, err := vfs.Map(map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("storage: open in-memory vfs: %w", err)
	}
	return &FileStore{fs: fs}, nil
}

func filename(key string) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(key)) + ".json"
}

func decodeFilename(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimSuffix(name, ".json"))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (f *FileStore) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := f.fs.Open(filename(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: open %q: %w", key, err)
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		return false, fmt.Errorf("storage: read %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: unmarshal %q: %w", key, err)
	}
	return true, nil
}

func (f *FileStore) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal %q: %w", key, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := f.fs.OpenFile(filename(key), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create %q: %w", key, err)
	}
	defer file.Close()
	if _, err := file.Write(raw); err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	return nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fs.Remove(filename(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %q: %w", key, err)
	}
	return nil
}

func (f *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, err := f.fs.Open(".")
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	defer dir.Close()
	entries, err := dir.Readdir(-1)
	if err != nil {
		return nil, fmt.Errorf("storage: readdir: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		key, ok := decodeFilename(e.Name())
		if !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}
