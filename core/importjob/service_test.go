package importjob_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/importjob"
	"github.com/trezcool/elimu/core/interchange"
	"github.com/trezcool/elimu/core/user"
	cachesvc "github.com/trezcool/elimu/services/cache"
	emailsvc "github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/filestore"
	logsvc "github.com/trezcool/elimu/services/logger"
	dummydb "github.com/trezcool/elimu/storage/database/dummy"
	testutil "github.com/trezcool/elimu/tests"
)

// fakeImporter reports progress, then runs fn.
type fakeImporter struct {
	fn    func(opts interchange.ImportOptions) (course.Course, error)
	calls int
	data  []byte
}

func (imp *fakeImporter) ImportCourseFromArchive(
	_ context.Context, r io.ReaderAt, size int64, slug, run, _ string, opts interchange.ImportOptions,
) (course.Course, error) {
	imp.calls++
	imp.data = make([]byte, size)
	if _, err := r.ReadAt(imp.data, 0); err != nil && err != io.EOF {
		return course.Course{}, err
	}
	opts.Progress(50, "Halfway")
	if imp.fn != nil {
		return imp.fn(opts)
	}
	return course.Course{ID: 42, Slug: slug, Run: run}, nil
}

type testEnv struct {
	svc      importjob.Service
	repo     importjob.Repository
	files    *filestore.Store
	cache    core.Cache
	importer *fakeImporter
	author   user.User
}

func newTestEnv(t *testing.T, maxBytes int64) *testEnv {
	db, err := dummydb.Open()
	require.NoError(t, err)
	userRepo := dummydb.NewUserRepository(db)
	logger := logsvc.NewNopLogger()

	env := &testEnv{
		repo:     dummydb.NewImportTaskRepository(db),
		files:    filestore.NewMemoryStore(),
		cache:    cachesvc.NewMemoryCache(),
		importer: &fakeImporter{},
	}
	env.author = testutil.CreateUser(t, userRepo, "Ada", "ada", "ada@example.com", "pwd", []string{user.RoleStaffAuthor}, true)
	env.svc = importjob.NewService(importjob.Deps{
		Repo:     env.repo,
		Importer: env.importer,
		Files:    env.files,
		Cache:    env.cache,
		Users:    user.NewService(userRepo, emailsvc.NewConsoleServiceMock(logger)),
		Mailer:   emailsvc.NewConsoleServiceMock(logger),
		Logger:   logger,
	}, importjob.Config{Workers: 1, PollInterval: 10 * time.Millisecond, MaxArchiveBytes: maxBytes, StatusTTL: time.Hour})

	emailsvc.ResetSentMessages()
	t.Cleanup(emailsvc.ResetSentMessages)
	return env
}

func (env *testEnv) start(t *testing.T, archive string) importjob.TaskResult {
	task, err := env.svc.Start(context.Background(), env.author, importjob.NewImport{
		CourseSlug: "PY", CourseRun: "FALL", DisplayName: "Python",
	}, strings.NewReader(archive))
	require.NoError(t, err)
	return task
}

func TestService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("queues the import", func(t *testing.T) {
		env := newTestEnv(t, 0)
		task := env.start(t, "archive bytes")
		assert.Equal(t, importjob.StatusPending, task.Status)
		assert.Equal(t, env.author.ID, task.CreatedBy)
		assert.Equal(t, "PY_FALL", task.CourseToken())

		ok, err := env.files.Exists(task.ArchivePath)
		require.NoError(t, err)
		assert.True(t, ok)

		status, err := env.svc.Status(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.ImportStatus{ProgressMessage: "Waiting to start", State: importjob.StatusPending, CourseToken: "PY_FALL"}, status)

		got, err := env.svc.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)
	})

	t.Run("archive too large", func(t *testing.T) {
		env := newTestEnv(t, 4)
		_, err := env.svc.Start(ctx, env.author, importjob.NewImport{CourseSlug: "PY", CourseRun: "FALL"}, strings.NewReader("12345"))
		var verr *core.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "file", verr.Fields[0].Field)

		tasks, err := env.svc.Query(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})
}

func TestService_Get_notFound(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, id := range []string{"nope", "0b6cdb5c-4bc0-4d6b-9fd5-6f1e1e0c8f6e"} {
		_, err := env.svc.Get(context.Background(), id)
		assert.Equal(t, importjob.ErrTaskNotFound, err, id)
	}
}

func TestService_RunNext(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing queued", func(t *testing.T) {
		env := newTestEnv(t, 0)
		ran, err := env.svc.RunNext(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
	})

	t.Run("completed", func(t *testing.T) {
		env := newTestEnv(t, 0)
		task := env.start(t, "archive bytes")

		ran, err := env.svc.RunNext(ctx)
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, []byte("archive bytes"), env.importer.data)

		got, err := env.svc.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusCompleted, got.Status)
		require.NotNil(t, got.CourseID)
		assert.Equal(t, int64(42), *got.CourseID)

		status, err := env.svc.Status(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, status.PercentComplete)
		assert.Equal(t, importjob.StatusCompleted, status.State)

		ok, err := env.files.Exists(task.ArchivePath)
		require.NoError(t, err)
		assert.False(t, ok, "archive is deleted once processed")

		sent := emailsvc.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "ada@example.com", sent[0].To[0].Address)
		assert.Contains(t, sent[0].Subject, "COMPLETED")

		ran, err = env.svc.RunNext(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
	})

	t.Run("failed", func(t *testing.T) {
		env := newTestEnv(t, 0)
		env.importer.fn = func(interchange.ImportOptions) (course.Course, error) {
			return course.Course{}, &interchange.InvalidNodeError{Slug: "m1", Reason: "bad node"}
		}
		task := env.start(t, "archive bytes")

		_, err := env.svc.RunNext(ctx)
		require.NoError(t, err)

		got, err := env.svc.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusFailed, got.Status)
		assert.Equal(t, `invalid node "m1": bad node`, got.ErrorMessage)
		assert.Nil(t, got.CourseID)

		status, err := env.svc.Status(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusFailed, status.State)
		assert.Equal(t, got.ErrorMessage, status.ProgressMessage)

		sent := emailsvc.SentMessages()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Subject, "FAILED")
	})

	t.Run("oldest first", func(t *testing.T) {
		env := newTestEnv(t, 0)
		now := time.Now()
		core.NowFunc = func() time.Time { return now }
		t.Cleanup(func() { core.NowFunc = time.Now })

		first := env.start(t, "first")
		now = now.Add(time.Minute)
		second := env.start(t, "second")

		_, err := env.svc.RunNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), env.importer.data)

		got, err := env.svc.Get(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusPending, got.Status)

		tasks, err := env.svc.Query(ctx, env.author.ID)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, second.ID, tasks[0].ID)
		assert.Equal(t, first.ID, tasks[1].ID)
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		env := newTestEnv(t, 0)
		task := env.start(t, "archive bytes")

		cancelled, err := env.svc.Cancel(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusCancelled, cancelled.Status)

		ok, err := env.files.Exists(task.ArchivePath)
		require.NoError(t, err)
		assert.False(t, ok)

		ran, err := env.svc.RunNext(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
		assert.Zero(t, env.importer.calls)

		status, err := env.svc.Status(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusCancelled, status.State)

		_, err = env.svc.Cancel(ctx, task.ID)
		assert.Equal(t, importjob.ErrTaskFinished, err)
	})

	t.Run("running", func(t *testing.T) {
		env := newTestEnv(t, 0)
		var task importjob.TaskResult
		env.importer.fn = func(opts interchange.ImportOptions) (course.Course, error) {
			_, err := env.svc.Cancel(ctx, task.ID)
			require.NoError(t, err)

			status, err := env.svc.Status(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, importjob.StatusCancelled, status.State)

			require.True(t, opts.Cancelled())
			return course.Course{}, interchange.ErrCancelled
		}
		task = env.start(t, "archive bytes")

		_, err := env.svc.RunNext(ctx)
		require.NoError(t, err)

		got, err := env.svc.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusCancelled, got.Status)
		assert.Empty(t, emailsvc.SentMessages())
	})
}

func TestService_Status_fallsBackOnTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	task := env.start(t, "archive bytes")
	_, err := env.svc.RunNext(ctx)
	require.NoError(t, err)

	// status entry expired
	require.NoError(t, env.cache.Delete(ctx, "course_import_"+task.ID))

	status, err := env.svc.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, importjob.ImportStatus{
		PercentComplete: 100,
		ProgressMessage: "Import complete",
		State:           importjob.StatusCompleted,
		CourseToken:     "PY_FALL",
	}, status)
}

func TestService_Run(t *testing.T) {
	env := newTestEnv(t, 0)
	done := make(chan struct{})
	env.importer.fn = func(interchange.ImportOptions) (course.Course, error) {
		close(done)
		return course.Course{ID: 1}, nil
	}
	task := env.start(t, "archive bytes")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- env.svc.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("import was never run")
	}
	cancel()
	require.NoError(t, <-errc)

	got, err := env.svc.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, importjob.StatusCompleted, got.Status)
}

func TestService_withImporter(t *testing.T) {
	ctx := context.Background()
	db, err := dummydb.Open()
	require.NoError(t, err)
	files := filestore.NewMemoryStore()
	logger := logsvc.NewNopLogger()
	courses := dummydb.NewCourseRepository(db)

	svc := importjob.NewService(importjob.Deps{
		Repo:     dummydb.NewImportTaskRepository(db),
		Importer: interchange.NewImporter(courses, dummydb.Transactor{}, files, logger),
		Files:    files,
		Cache:    cachesvc.NewMemoryCache(),
		Mailer:   emailsvc.NewConsoleServiceMock(logger),
		Logger:   logger,
	}, importjob.Config{StatusTTL: time.Hour})

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	f, err := zw.Create("course.json")
	require.NoError(t, err)
	_, err = f.Write([]byte(`{
		"document_type": "kinesinlms:course_export",
		"course": {"slug": "X", "run": "Y", "display_name": "Course", "course_root_node": {"type": "ROOT", "children": [
			{"type": "MODULE", "slug": "m1", "display_name": "Module"}
		]}}
	}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	task, err := svc.Start(ctx, user.User{}, importjob.NewImport{CourseSlug: "PY", CourseRun: "FALL"}, &archive)
	require.NoError(t, err)
	_, err = svc.RunNext(ctx)
	require.NoError(t, err)

	got, err := svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, importjob.StatusCompleted, got.Status, got.ErrorMessage)

	c, err := courses.GetCourse(ctx, course.GetFilter{Slug: "PY", Run: "FALL"})
	require.NoError(t, err)
	assert.Equal(t, *got.CourseID, c.ID)
	assert.Equal(t, "Course", c.DisplayName)
}
