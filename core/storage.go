package core

import (
	"errors"
	"io"
)

var ErrFileNotFound = errors.New("file not found")

// FileStore keeps uploaded media (resources, catalog files, import archives).
// Paths are slash separated and relative to the store root.
type FileStore interface {
	// Open returns ErrFileNotFound when nothing is stored at path.
	Open(path string) (io.ReadCloser, error)
	Save(path string, r io.Reader) (int64, error)
	Exists(path string) (bool, error)
	Delete(paths ...string) error
}
