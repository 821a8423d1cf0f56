package interchange

import (
	"errors"
	"fmt"

	"github.com/trezcool/elimu/core/course"
)

var (
	ErrInvalidDocumentType = errors.New("invalid document type")
	ErrMissingDocumentType = errors.New("no document type found in course.json")
	ErrMissingCourseFile   = errors.New("archive is missing a course.json file at the top level")
	ErrEmptyDocument       = errors.New("course json is empty")
	ErrCourseExists        = course.ErrCourseExists
	ErrCancelled           = errors.New("course import was cancelled")
	ErrUnsupportedFormat   = errors.New("unsupported export format")
)

// InvalidNodeError reports a node of the imported document breaking the tree rules.
type InvalidNodeError struct {
	Slug   string
	Reason string
}

func (e *InvalidNodeError) Error() string {
	return fmt.Sprintf("invalid node %q: %s", e.Slug, e.Reason)
}

// InvalidFileError reports an unexpected file in an imported archive.
type InvalidFileError struct {
	Path   string
	Reason string
}

func (e *InvalidFileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}
