package course

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("course not found")
	ErrNodeNotFound     = errors.New("course node not found")
	ErrUnitNotFound     = errors.New("course unit not found")
	ErrBlockNotFound    = errors.New("block not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrCourseExists     = errors.New("a course with this slug and run already exists")
	ErrNavUnavailable   = errors.New("could not generate course nav")
)

// NodeDoesNotExistError is returned when no module, section or unit matches the requested slug.
type NodeDoesNotExistError struct {
	Level NodeType
}

func (e *NodeDoesNotExistError) Error() string {
	return e.Level.Level() + " does not exist"
}

// NodeNotReleasedError is returned when a module or section is requested before its release.
type NodeNotReleasedError struct {
	Level           NodeType
	ReleaseDatetime *time.Time
}

func (e *NodeNotReleasedError) Error() string {
	if e.ReleaseDatetime == nil {
		return fmt.Sprintf("this %s is not yet released", e.Level.Level())
	}
	return fmt.Sprintf("this %s will be released on %s", e.Level.Level(), FormatReleaseDatetime(*e.ReleaseDatetime))
}

func AsNodeDoesNotExist(err error) (*NodeDoesNotExistError, bool) {
	e, ok := pkgerrors.Cause(err).(*NodeDoesNotExistError)
	return e, ok
}

func AsNodeNotReleased(err error) (*NodeNotReleasedError, bool) {
	e, ok := pkgerrors.Cause(err).(*NodeNotReleasedError)
	return e, ok
}
