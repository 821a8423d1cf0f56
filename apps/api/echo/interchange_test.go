package echoapi_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/elimu/apps/api/echo"
	"github.com/trezcool/elimu/core/importjob"
	"github.com/trezcool/elimu/core/interchange"
	"github.com/trezcool/elimu/core/user"
)

func Test_interchangeApi_export(t *testing.T) {
	env := setup(t)
	env.createCourse(t)
	author := env.createUser(t, "author", user.RoleStaffAuthor)
	student := env.createUser(t, "student", user.RoleStudent)
	token := getToken(t, author)

	runHTTPTests(t, env, []httpTest{
		{
			name:     "students are forbidden",
			method:   http.MethodGet,
			path:     "/v1/courses/PY/FALL/export",
			token:    getToken(t, student),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "unknown format",
			method:   http.MethodGet,
			path:     "/v1/courses/PY/FALL/export?format=scorm",
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: interchange.ErrUnsupportedFormat.Error()}),
		},
	})

	tests := []struct {
		format      string
		contentType string
		filename    string
	}{
		{"", "application/zip", "PY_FALL_export.klms"},
		{"kinesinlms", "application/zip", "PY_FALL_export.klms"},
		{"cc", "application/zip", "PY_FALL_cc_export.imscc"},
		{"legacy", "application/gzip", "PY_FALL_export.tar.gz"},
	}
	for _, tt := range tests {
		t.Run("format "+tt.format, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/courses/PY/FALL/export?format="+tt.format, token)
			env.serve(req, rec)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, `attachment; filename="`+tt.filename+`"`, rec.Header().Get("Content-Disposition"))
			assert.NotZero(t, rec.Body.Len())
		})
	}

	t.Run("internal archive holds the course document", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/courses/PY/FALL/export", token)
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		data := rec.Body.Bytes()
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		var names []string
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		assert.Contains(t, names, "course.json")
	})
}

type importForm struct {
	fields  map[string]string
	archive []byte
	config  []byte
}

func newImportRequest(t *testing.T, token string, form importForm) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range form.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if form.archive != nil {
		fw, err := mw.CreateFormFile("file", "course.zip")
		require.NoError(t, err)
		_, err = fw.Write(form.archive)
		require.NoError(t, err)
	}
	if form.config != nil {
		fw, err := mw.CreateFormFile("config", "import.yaml")
		require.NoError(t, err)
		_, err = fw.Write(form.config)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

func Test_interchangeApi_import(t *testing.T) {
	env := setup(t)
	author := env.createUser(t, "author", user.RoleStaffAuthor)
	other := env.createUser(t, "other", user.RoleStaffAuthor)
	admin := env.createUser(t, "admin", user.RoleAdmin)
	student := env.createUser(t, "student", user.RoleStudent)
	token := getToken(t, author)
	fields := map[string]string{"course_slug": "PY", "course_run": "SPRING", "display_name": "Python"}

	t.Run("students are forbidden", func(t *testing.T) {
		req, rec := newImportRequest(t, getToken(t, student), importForm{fields: fields, archive: []byte("PK")})
		env.serve(req, rec)
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	})

	t.Run("missing archive", func(t *testing.T) {
		req, rec := newImportRequest(t, token, importForm{fields: fields})
		env.serve(req, rec)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"file":"this field is required"}`),
		}, rec)
	})

	t.Run("missing run", func(t *testing.T) {
		req, rec := newImportRequest(t, token, importForm{
			fields:  map[string]string{"course_slug": "PY"},
			archive: []byte("PK"),
		})
		env.serve(req, rec)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"course_run":"this field is required"}`),
		}, rec)
	})

	t.Run("invalid config", func(t *testing.T) {
		req, rec := newImportRequest(t, token, importForm{fields: fields, archive: []byte("PK"), config: []byte("blocks: [")})
		env.serve(req, rec)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"config":"invalid import configuration"}`),
		}, rec)
	})

	t.Run("archive too large", func(t *testing.T) {
		req, rec := newImportRequest(t, token, importForm{fields: fields, archive: make([]byte, 1<<20+1)})
		env.serve(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	})

	req, rec := newImportRequest(t, token, importForm{fields: fields, archive: []byte("PK")})
	env.serve(req, rec)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var task importjob.TaskResult
	unmarshal(t, rec, &task)
	assert.Equal(t, importjob.StatusPending, task.Status)
	assert.Equal(t, author.ID, task.CreatedBy)
	taskPath := "/v1/imports/" + task.ID

	t.Run("retrieve", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, taskPath, token)
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got echoapi.ImportResponse
		unmarshal(t, rec, &got)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, importjob.StatusPending, got.Progress.State)
		assert.Equal(t, "PY/SPRING", got.Progress.CourseToken)
	})

	t.Run("query", func(t *testing.T) {
		for _, tc := range []struct {
			token string
			want  int
		}{{token, 1}, {getToken(t, other), 0}, {getToken(t, admin), 1}} {
			req, rec := newAuthRequest(http.MethodGet, "/v1/imports", tc.token)
			env.serve(req, rec)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var tasks []importjob.TaskResult
			unmarshal(t, rec, &tasks)
			assert.Len(t, tasks, tc.want)
		}
	})

	runHTTPTests(t, env, []httpTest{
		{
			name:     "hidden from other staff",
			method:   http.MethodGet,
			path:     taskPath,
			token:    getToken(t, other),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unknown task",
			method:   http.MethodGet,
			path:     "/v1/imports/not-a-uuid",
			token:    token,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "other staff cannot cancel",
			method:   http.MethodPost,
			path:     taskPath + "/cancel",
			token:    getToken(t, other),
			wantCode: http.StatusNotFound,
		},
	})

	t.Run("cancel", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, taskPath+"/cancel", token)
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got importjob.TaskResult
		unmarshal(t, rec, &got)
		assert.Equal(t, importjob.StatusCancelled, got.Status)

		req, rec = newAuthRequest(http.MethodPost, taskPath+"/cancel", token)
		env.serve(req, rec)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: importjob.ErrTaskFinished.Error()}),
		}, rec)
	})
}
