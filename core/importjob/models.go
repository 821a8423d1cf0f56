package importjob

import (
	"time"

	"github.com/trezcool/elimu/core/interchange"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Finished reports whether a task in status s will never run again.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Options are the import settings chosen when the task was started.
type Options struct {
	ImportConfig *interchange.ImportConfig `json:"import_config,omitempty"`
}

// TaskResult is the persisted record of a background course import.
type TaskResult struct {
	ID           string    `json:"id"`
	CourseSlug   string    `json:"course_slug"`
	CourseRun    string    `json:"course_run"`
	DisplayName  string    `json:"display_name"`
	ArchivePath  string    `json:"-"`
	Options      Options   `json:"options"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message"`
	CourseID     *int64    `json:"course_id"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (t TaskResult) CourseToken() string {
	return t.CourseSlug + "_" + t.CourseRun
}

// ImportStatus is the live state of an import, polled by clients.
type ImportStatus struct {
	PercentComplete int    `json:"percent_complete"`
	ProgressMessage string `json:"progress_message"`
	State           Status `json:"state"`
	CourseToken     string `json:"course_token"`
}

// NewImport holds what is needed to start an import besides the archive itself.
type NewImport struct {
	CourseSlug  string                    `json:"course_slug" form:"course_slug" validate:"required,nodeslug"`
	CourseRun   string                    `json:"course_run" form:"course_run" validate:"required,nodeslug"`
	DisplayName string                    `json:"display_name" form:"display_name"`
	Config      *interchange.ImportConfig `json:"import_config,omitempty"`
}
