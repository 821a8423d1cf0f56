package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/importjob"
)

type taskRow struct {
	ID           string      `db:"id"`
	CourseSlug   string      `db:"course_slug"`
	CourseRun    string      `db:"course_run"`
	DisplayName  string      `db:"display_name"`
	ArchivePath  string      `db:"archive_path"`
	Options      null.JSON   `db:"options"`
	Status       string      `db:"status"`
	ErrorMessage string      `db:"error_message"`
	CourseID     null.Int64  `db:"course_id"`
	CreatedBy    null.String `db:"created_by"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (row taskRow) unboil() (importjob.TaskResult, error) {
	t := importjob.TaskResult{
		ID:           row.ID,
		CourseSlug:   row.CourseSlug,
		CourseRun:    row.CourseRun,
		DisplayName:  row.DisplayName,
		ArchivePath:  row.ArchivePath,
		Status:       importjob.Status(row.Status),
		ErrorMessage: row.ErrorMessage,
		CourseID:     row.CourseID.Ptr(),
		CreatedBy:    row.CreatedBy.String,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.Options.Valid {
		if err := row.Options.Unmarshal(&t.Options); err != nil {
			return importjob.TaskResult{}, errors.Wrap(err, "decoding import options")
		}
	}
	return t, nil
}

const taskColumns = `id, course_slug, course_run, display_name, archive_path, options, status, error_message,
	course_id, created_by, created_at, updated_at`

type importTaskRepository struct {
	repository
}

var _ importjob.Repository = (*importTaskRepository)(nil) // interface compliance check

func NewImportTaskRepository(db core.DB) importjob.Repository {
	return &importTaskRepository{repository{db: db}}
}

func (repo importTaskRepository) getTask(ctx context.Context, exe core.DBExecutor, msg, q string, args ...interface{}) (importjob.TaskResult, error) {
	var row taskRow
	if err := exe.GetContext(ctx, &row, q, args...); err != nil {
		return importjob.TaskResult{}, trapNoRowsErr(err, importjob.ErrTaskNotFound, msg)
	}
	return row.unboil()
}

func (repo importTaskRepository) CreateTask(ctx context.Context, t importjob.TaskResult, exec ...core.DBExecutor) (importjob.TaskResult, error) {
	opts, err := json.Marshal(t.Options)
	if err != nil {
		return importjob.TaskResult{}, errors.Wrap(err, "encoding import options")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = core.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	return repo.getTask(ctx, repo.getExec(exec), "inserting import task", `
		INSERT INTO course_import_task (id, course_slug, course_run, display_name, archive_path, options, status,
			error_message, course_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+taskColumns,
		t.ID, t.CourseSlug, t.CourseRun, t.DisplayName, t.ArchivePath, null.JSONFrom(opts), t.Status,
		t.ErrorMessage, null.Int64FromPtr(t.CourseID), null.NewString(t.CreatedBy, t.CreatedBy != ""),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC())
}

func (repo importTaskRepository) GetTask(ctx context.Context, id string, exec ...core.DBExecutor) (importjob.TaskResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return importjob.TaskResult{}, importjob.ErrTaskNotFound
	}
	return repo.getTask(ctx, repo.getExec(exec), "finding import task",
		"SELECT "+taskColumns+" FROM course_import_task WHERE id = $1", id)
}

func (repo importTaskRepository) UpdateTask(ctx context.Context, t importjob.TaskResult, exec ...core.DBExecutor) (importjob.TaskResult, error) {
	return repo.getTask(ctx, repo.getExec(exec), "updating import task", `
		UPDATE course_import_task SET status = $2, error_message = $3, course_id = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+taskColumns,
		t.ID, t.Status, t.ErrorMessage, null.Int64FromPtr(t.CourseID), core.Now().UTC())
}

// ClaimNext locks the oldest pending row so that concurrent workers never claim the same task.
func (repo importTaskRepository) ClaimNext(ctx context.Context, exec ...core.DBExecutor) (importjob.TaskResult, error) {
	t, err := repo.getTask(ctx, repo.getExec(exec), "claiming import task", `
		UPDATE course_import_task SET status = $1, updated_at = $3
		WHERE id = (
			SELECT id FROM course_import_task
			WHERE status = $2
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		importjob.StatusInProgress, importjob.StatusPending, core.Now().UTC())
	if errors.Cause(err) == importjob.ErrTaskNotFound {
		return importjob.TaskResult{}, importjob.ErrNoPendingTask
	}
	return t, err
}

func (repo importTaskRepository) QueryTasks(ctx context.Context, createdBy string, exec ...core.DBExecutor) ([]importjob.TaskResult, error) {
	var rows []taskRow
	var err error
	exe := repo.getExec(exec)

	if createdBy == "" {
		err = exe.SelectContext(ctx, &rows, "SELECT "+taskColumns+" FROM course_import_task ORDER BY created_at DESC")
	} else {
		err = exe.SelectContext(ctx, &rows,
			"SELECT "+taskColumns+" FROM course_import_task WHERE created_by = $1 ORDER BY created_at DESC", createdBy)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying import tasks")
	}

	tasks := make([]importjob.TaskResult, 0, len(rows))
	for _, row := range rows {
		t, err := row.unboil()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
