package kv

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/errors"
)

const fileExt = ".json"

// FileStore keeps one JSON document per key in a directory. Writes go through a
// synced temp file that is renamed over the previous version, so a crash leaves
// either the old or the new record and never a partial one.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create store directory")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileExt)
}

func (s *FileStore) Get(_ context.Context, key string, dst any) (bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if goerrors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrap(err, "read record")
	}

	if err = json.Unmarshal(b, dst); err != nil {
		return false, errors.Wrapf(err, "decode record %s", key)
	}
	return true, nil
}

func (s *FileStore) Put(_ context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode record %s", key)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp record")
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp record")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp record")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp record")
	}

	if err = os.Rename(tmp.Name(), s.path(key)); err != nil {
		return errors.Wrap(err, "replace record")
	}

	return syncDir(s.dir)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !goerrors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "delete record")
	}
	return syncDir(s.dir)
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Close() error {
	return nil
}

// syncDir flushes the directory entry so a rename survives a power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open store directory")
	}
	defer d.Close()

	if err = d.Sync(); err != nil && !goerrors.Is(err, os.ErrInvalid) {
		return errors.Wrap(err, "sync store directory")
	}
	return nil
}
