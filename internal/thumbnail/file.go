package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores each object as <dir>/<key> with its content type in
// <dir>/<key>.type.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, filepath.Base(key))
}

func (f *FileBackend) Put(_ context.Context, key string, obj Object) error {
	p := f.path(key)
	if err := writeAtomic(p+".type", []byte(obj.ContentType)); err != nil {
		return err
	}
	return writeAtomic(p, obj.Data)
}

func (f *FileBackend) Get(_ context.Context, key string) (Object, error) {
	p := f.path(key)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	ct, err := os.ReadFile(p + ".type")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Object{}, err
	}
	if len(ct) == 0 {
		ct = []byte("application/octet-stream")
	}
	return Object{Data: data, ContentType: string(ct)}, nil
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	p := f.path(key)
	for _, name := range []string{p, p + ".type"} {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }

// writeAtomic writes via a temp file + rename so readers never see partial data.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".thumb-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
