package importjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/interchange"
	"github.com/trezcool/elimu/core/user"
)

var (
	ErrTaskNotFound    = errors.New("course import task not found")
	ErrNoPendingTask   = errors.New("no pending course import task")
	ErrTaskFinished    = errors.New("this course import already finished")
	ErrArchiveTooLarge = errors.New("course archive is too large")
	ErrCancelled       = interchange.ErrCancelled
)

type (
	Repository interface {
		CreateTask(ctx context.Context, t TaskResult, exec ...core.DBExecutor) (TaskResult, error)
		GetTask(ctx context.Context, id string, exec ...core.DBExecutor) (TaskResult, error)
		UpdateTask(ctx context.Context, t TaskResult, exec ...core.DBExecutor) (TaskResult, error)
		// ClaimNext moves the oldest PENDING task to IN_PROGRESS and returns it.
		// It returns ErrNoPendingTask when there is nothing to run.
		ClaimNext(ctx context.Context, exec ...core.DBExecutor) (TaskResult, error)
		QueryTasks(ctx context.Context, createdBy string, exec ...core.DBExecutor) ([]TaskResult, error)
	}

	// Importer creates a course from an archive.
	Importer interface {
		ImportCourseFromArchive(
			ctx context.Context, r io.ReaderAt, size int64, slug, run, displayName string, opts interchange.ImportOptions,
		) (course.Course, error)
	}

	// UserGetter finds the user to notify when an import finishes.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service interface {
		// Start stores the archive and queues its import.
		Start(ctx context.Context, usr user.User, ni NewImport, archive io.Reader) (TaskResult, error)
		Get(ctx context.Context, id string) (TaskResult, error)
		Query(ctx context.Context, createdBy string) ([]TaskResult, error)
		Status(ctx context.Context, id string) (ImportStatus, error)
		// Cancel stops a queued or running import. A running import is rolled back.
		Cancel(ctx context.Context, id string) (TaskResult, error)
		// Run processes queued imports with Config.Workers workers until ctx is done.
		Run(ctx context.Context) error
		// RunNext processes the oldest queued import, if any, and reports whether there was one.
		RunNext(ctx context.Context) (bool, error)
	}

	Config struct {
		Workers         int
		PollInterval    time.Duration
		MaxArchiveBytes int64
		StatusTTL       time.Duration
	}

	Deps struct {
		Repo     Repository
		Importer Importer
		Files    core.FileStore
		Cache    core.Cache
		Users    UserGetter
		Mailer   core.EmailService
		Logger   core.Logger
	}

	service struct {
		Deps
		conf Config
	}
)

var _ Service = (*service)(nil)

// NewConfig reads the import settings of conf.
func NewConfig(conf *core.Config) Config {
	return Config{
		Workers:         conf.Import.Workers,
		PollInterval:    conf.Import.PollInterval,
		MaxArchiveBytes: conf.Import.MaxArchiveBytes,
		StatusTTL:       conf.Cache.ImportStatusTTL,
	}
}

func NewService(deps Deps, conf Config) Service {
	if conf.Workers < 1 {
		conf.Workers = 1
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = time.Second
	}
	return &service{Deps: deps, conf: conf}
}

func statusKey(id string) string { return "course_import_" + id }

func cancelKey(id string) string { return "course_import_" + id + "_cancelled" }

func (svc *service) Start(ctx context.Context, usr user.User, ni NewImport, archive io.Reader) (TaskResult, error) {
	id := uuid.NewString()
	archivePath := path.Join("imports", id+".zip")

	r := archive
	if svc.conf.MaxArchiveBytes > 0 {
		r = io.LimitReader(archive, svc.conf.MaxArchiveBytes+1)
	}
	n, err := svc.Files.Save(archivePath, r)
	if err != nil {
		return TaskResult{}, pkgerrors.Wrap(err, "saving course archive")
	}
	if svc.conf.MaxArchiveBytes > 0 && n > svc.conf.MaxArchiveBytes {
		svc.deleteArchive(archivePath)
		return TaskResult{}, core.NewValidationError(ErrArchiveTooLarge, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("course archive must not exceed %d bytes", svc.conf.MaxArchiveBytes),
		})
	}

	now := core.Now()
	task, err := svc.Repo.CreateTask(ctx, TaskResult{
		ID:          id,
		CourseSlug:  ni.CourseSlug,
		CourseRun:   ni.CourseRun,
		DisplayName: ni.DisplayName,
		ArchivePath: archivePath,
		Options:     Options{ImportConfig: ni.Config},
		Status:      StatusPending,
		CreatedBy:   usr.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		svc.deleteArchive(archivePath)
		return TaskResult{}, pkgerrors.Wrap(err, "creating import task")
	}
	svc.setStatus(ctx, task.ID, ImportStatus{
		ProgressMessage: "Waiting to start",
		State:           StatusPending,
		CourseToken:     task.CourseToken(),
	})
	svc.Logger.Info(fmt.Sprintf("queued import %s of course %s", task.ID, task.CourseToken()))
	return task, nil
}

func (svc *service) Get(ctx context.Context, id string) (TaskResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return TaskResult{}, ErrTaskNotFound
	}
	return svc.Repo.GetTask(ctx, id)
}

func (svc *service) Query(ctx context.Context, createdBy string) ([]TaskResult, error) {
	return svc.Repo.QueryTasks(ctx, createdBy)
}

// Status reads the live status from the cache, falling back on the task row once it expired.
func (svc *service) Status(ctx context.Context, id string) (ImportStatus, error) {
	if data, err := svc.Cache.Get(ctx, statusKey(id)); err == nil {
		var status ImportStatus
		if err := json.Unmarshal(data, &status); err == nil {
			if status.State == StatusInProgress && svc.cancelRequested(ctx, id) {
				status.State = StatusCancelled
			}
			return status, nil
		}
	}

	task, err := svc.Get(ctx, id)
	if err != nil {
		return ImportStatus{}, err
	}
	status := ImportStatus{State: task.Status, CourseToken: task.CourseToken(), ProgressMessage: task.ErrorMessage}
	if task.Status == StatusCompleted {
		status.PercentComplete = 100
		status.ProgressMessage = "Import complete"
	}
	return status, nil
}

func (svc *service) Cancel(ctx context.Context, id string) (TaskResult, error) {
	task, err := svc.Get(ctx, id)
	if err != nil {
		return TaskResult{}, err
	}
	if task.Status.Finished() {
		return TaskResult{}, ErrTaskFinished
	}

	if task.Status == StatusPending {
		svc.deleteArchive(task.ArchivePath)
	}
	// the running worker polls this key and rolls the import back
	if err := svc.Cache.Set(ctx, cancelKey(id), []byte("1"), svc.conf.StatusTTL); err != nil {
		return TaskResult{}, pkgerrors.Wrap(err, "flagging import as cancelled")
	}
	task.Status = StatusCancelled
	task.UpdatedAt = core.Now()
	if task, err = svc.Repo.UpdateTask(ctx, task); err != nil {
		return TaskResult{}, pkgerrors.Wrap(err, "cancelling import task")
	}
	svc.setStatus(ctx, id, ImportStatus{
		ProgressMessage: "Import cancelled",
		State:           StatusCancelled,
		CourseToken:     task.CourseToken(),
	})
	return task, nil
}

func (svc *service) cancelRequested(ctx context.Context, id string) bool {
	_, err := svc.Cache.Get(ctx, cancelKey(id))
	return err == nil
}

func (svc *service) setStatus(ctx context.Context, id string, status ImportStatus) {
	data, err := json.Marshal(status)
	if err == nil {
		err = svc.Cache.Set(ctx, statusKey(id), data, svc.conf.StatusTTL)
	}
	if err != nil {
		svc.Logger.Error(fmt.Sprintf("could not save status of import %s. FAILING SILENTLY: %v", id, err), err)
	}
}

func (svc *service) deleteArchive(p string) {
	if err := svc.Files.Delete(p); err != nil {
		svc.Logger.Error(fmt.Sprintf("could not delete course archive %s. FAILING SILENTLY: %v", p, err), err)
	}
}

func (svc *service) Run(ctx context.Context) error {
	svc.Logger.Info(fmt.Sprintf("starting %d course import workers", svc.conf.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < svc.conf.Workers; i++ {
		g.Go(func() error {
			svc.work(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (svc *service) work(ctx context.Context) {
	ticker := time.NewTicker(svc.conf.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain the queue before waiting for the next tick
			for {
				ran, err := svc.RunNext(ctx)
				if err != nil {
					svc.Logger.Error(fmt.Sprintf("%+v", err), err)
				}
				if !ran || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

func (svc *service) RunNext(ctx context.Context) (bool, error) {
	task, err := svc.Repo.ClaimNext(ctx)
	if err != nil {
		if pkgerrors.Cause(err) == ErrNoPendingTask {
			return false, nil
		}
		return false, pkgerrors.Wrap(err, "claiming import task")
	}
	svc.process(ctx, task)
	return true, nil
}

// process runs the import of a claimed task and records its outcome.
func (svc *service) process(ctx context.Context, task TaskResult) {
	start := time.Now()
	tasksInFlight.Inc()
	defer tasksInFlight.Dec()

	token := task.CourseToken()
	opts := interchange.ImportOptions{
		Config: task.Options.ImportConfig,
		Progress: func(percent int, message string) {
			svc.setStatus(ctx, task.ID, ImportStatus{
				PercentComplete: percent,
				ProgressMessage: message,
				State:           StatusInProgress,
				CourseToken:     token,
			})
		},
		Cancelled: func() bool { return svc.cancelRequested(ctx, task.ID) },
	}
	opts.Progress(0, "Starting import")

	c, err := svc.runImport(ctx, task, opts)
	switch {
	case err == nil:
		task.Status = StatusCompleted
		task.CourseID = &c.ID
		task.ErrorMessage = ""
	case pkgerrors.Cause(err) == ErrCancelled || svc.cancelRequested(ctx, task.ID):
		task.Status = StatusCancelled
	default:
		task.Status = StatusFailed
		task.ErrorMessage = pkgerrors.Cause(err).Error()
		svc.Logger.Error(fmt.Sprintf("import %s of course %s failed: %+v", task.ID, token, err), err)
	}
	task.UpdatedAt = core.Now()

	if _, uerr := svc.Repo.UpdateTask(ctx, task); uerr != nil {
		svc.Logger.Error(fmt.Sprintf("could not save result of import %s. FAILING SILENTLY: %v", task.ID, uerr), uerr)
	}
	final := ImportStatus{State: task.Status, CourseToken: token, ProgressMessage: task.ErrorMessage}
	switch task.Status {
	case StatusCompleted:
		final.PercentComplete = 100
		final.ProgressMessage = "Import complete"
	case StatusCancelled:
		final.ProgressMessage = "Import cancelled"
	}
	svc.setStatus(ctx, task.ID, final)
	svc.deleteArchive(task.ArchivePath)

	tasksTotal.WithLabelValues(string(task.Status)).Inc()
	taskSeconds.Observe(time.Since(start).Seconds())
	svc.Logger.Info(fmt.Sprintf("import %s of course %s finished with status %s in %s", task.ID, token, task.Status, time.Since(start)))

	if task.Status != StatusCancelled {
		svc.notify(ctx, task)
	}
}

func (svc *service) runImport(ctx context.Context, task TaskResult, opts interchange.ImportOptions) (course.Course, error) {
	rc, err := svc.Files.Open(task.ArchivePath)
	if err != nil {
		return course.Course{}, pkgerrors.Wrap(err, "opening course archive")
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return course.Course{}, pkgerrors.Wrap(err, "reading course archive")
	}
	return svc.Importer.ImportCourseFromArchive(
		ctx, bytes.NewReader(data), int64(len(data)), task.CourseSlug, task.CourseRun, task.DisplayName, opts,
	)
}

func (svc *service) notify(ctx context.Context, task TaskResult) {
	if task.CreatedBy == "" || svc.Users == nil {
		return
	}
	usr, err := svc.Users.GetByID(ctx, task.CreatedBy)
	if err != nil {
		svc.Logger.Error(fmt.Sprintf("could not find the author of import %s. FAILING SILENTLY: %v", task.ID, err), err)
		return
	}
	if usr.Email == "" {
		return
	}
	svc.Mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      fmt.Sprintf("Import of %s: %s", task.CourseToken(), task.Status),
		TemplateName: "import_finished",
		TemplateData: map[string]interface{}{
			"Name":         usr.DisplayName(),
			"CourseToken":  task.CourseToken(),
			"Status":       string(task.Status),
			"ErrorMessage": task.ErrorMessage,
		},
	})
}
