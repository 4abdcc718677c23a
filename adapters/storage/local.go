// Package storage provides StorageAdapter implementations.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

const metaSuffix = ".meta.json"

// Local stores images on the local filesystem.  Writes go to a temporary file
// that is renamed into place, so readers never observe a partial image.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.init",
			fmt.Errorf("mkdir %s: %w", dir, err))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.init", err)
	}
	return &Local{rootDir: abs, permissions: perm}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.rootDir }

// absPath maps Bucket to a subdirectory and Path to the file name.  Keys that
// would escape the root are rejected.
func (l *Local) absPath(op string, key core.StorageKey) (string, error) {
	if key.Path == "" {
		return "", apperrors.Fail(apperrors.CategoryStorage, op, apperrors.ErrInvalidArguments,
			fmt.Errorf("empty key path"))
	}
	path := filepath.Join(l.rootDir, filepath.Clean("/"+key.Bucket), filepath.Clean("/"+key.Path))
	if path != l.rootDir && !strings.HasPrefix(path, l.rootDir+string(os.PathSeparator)) {
		return "", apperrors.Fail(apperrors.CategoryStorage, op, apperrors.ErrInvalidArguments,
			fmt.Errorf("key %s/%s escapes storage root", key.Bucket, key.Path))
	}
	return path, nil
}

func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}

	path, err := l.absPath("local.put", key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	if err := l.writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	}); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.write", err)
	}

	// Persist metadata as a side-car JSON file.
	if len(meta) > 0 {
		if err := l.writeAtomic(path+metaSuffix, func(w io.Writer) error {
			return json.NewEncoder(w).Encode(meta)
		}); err != nil {
			return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
		}
	}
	return nil
}

func (l *Local) writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(l.permissions); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (l *Local) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	path, err := l.absPath("local.get", key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.get",
				fmt.Errorf("key not found: %s/%s: %w", key.Bucket, key.Path, os.ErrNotExist))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get.open", err)
	}
	return f, nil
}

// Meta returns the side-car metadata stored with key, or an empty map when
// the image was stored without any.
func (l *Local) Meta(ctx context.Context, key core.StorageKey) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	path, err := l.absPath("local.meta", key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path + metaSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta.open", err)
	}
	defer f.Close()

	meta := map[string]string{}
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta.decode", err)
	}
	return meta, nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	path, err := l.absPath("local.delete", key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	_ = os.Remove(path + metaSuffix)
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	path, err := l.absPath("local.exists", key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}

var _ core.StorageAdapter = (*Local)(nil)
