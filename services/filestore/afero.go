package filestore

import (
	"io"
	"os"
	"path"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/trezcool/elimu/core"
)

// Store is an afero backed core.FileStore.
type Store struct {
	fs afero.Fs
}

var _ core.FileStore = (*Store)(nil)

// NewLocalStore stores files under root on the local disk.
func NewLocalStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "creating media root")
	}
	return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), root)}, nil
}

// NewMemoryStore keeps files in memory. Used by tests.
func NewMemoryStore() *Store {
	return &Store{fs: afero.NewMemMapFs()}
}

func clean(p string) (string, error) {
	p = path.Clean("/" + strings.TrimSpace(p))
	if p == "/" {
		return "", pkgerrors.New("empty file path")
	}
	return p, nil
}

func (s *Store) Open(p string) (io.ReadCloser, error) {
	p, err := clean(p)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if os.IsNotExist(err) {
		return nil, core.ErrFileNotFound
	}
	return f, pkgerrors.Wrap(err, "opening file")
}

func (s *Store) Save(p string, r io.Reader) (int64, error) {
	p, err := clean(p)
	if err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return 0, pkgerrors.Wrap(err, "creating directory")
	}
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "creating file")
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, pkgerrors.Wrap(err, "writing file")
}

func (s *Store) Exists(p string) (bool, error) {
	p, err := clean(p)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, p)
	return ok, pkgerrors.Wrap(err, "checking file")
}

func (s *Store) Delete(paths ...string) error {
	for _, p := range paths {
		p, err := clean(p)
		if err != nil {
			continue
		}
		if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return pkgerrors.Wrap(err, "deleting file")
		}
	}
	return nil
}
