package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/elimu/apps/api/echo"
	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/access"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/enrollment"
	"github.com/trezcool/elimu/core/importjob"
	"github.com/trezcool/elimu/core/interchange"
	"github.com/trezcool/elimu/core/progress"
	"github.com/trezcool/elimu/core/user"
	cachesvc "github.com/trezcool/elimu/services/cache"
	emailsvc "github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/filestore"
	logsvc "github.com/trezcool/elimu/services/logger"
	dummydb "github.com/trezcool/elimu/storage/database/dummy"
	testutil "github.com/trezcool/elimu/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testEnv struct {
	app         *echoapi.Server
	db          *dummydb.DB
	usrRepo     user.Repository
	courseRepo  course.Repository
	enrRepo     enrollment.Repository
	progRepo    progress.Repository
	importSvc   importjob.Service
	files       *filestore.Store
	enrollments enrollment.Service
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	require.NoError(t, err)

	conf := *core.Conf
	conf.Debug = false
	conf.TestMode = true
	logger := logsvc.NewNopLogger()

	env := &testEnv{
		db:         db,
		usrRepo:    dummydb.NewUserRepository(db),
		courseRepo: dummydb.NewCourseRepository(db),
		enrRepo:    dummydb.NewEnrollmentRepository(db),
		progRepo:   dummydb.NewProgressRepository(db),
		files:      filestore.NewMemoryStore(),
	}

	// set up services
	txr := dummydb.Transactor{}
	mailSvc := emailsvc.NewConsoleServiceMock(logger)
	usrSvc := user.NewService(env.usrRepo, mailSvc)
	courseSvc := course.NewService(env.courseRepo, txr, cachesvc.NewMemoryCache(), 0, logger)
	env.enrollments = enrollment.NewService(env.enrRepo, dummydb.NewGroupRepository(db), mailSvc, logger)
	env.importSvc = importjob.NewService(importjob.Deps{
		Repo:     dummydb.NewImportTaskRepository(db),
		Importer: interchange.NewImporter(env.courseRepo, txr, env.files, logger),
		Files:    env.files,
		Cache:    cachesvc.NewMemoryCache(),
		Users:    usrSvc,
		Mailer:   mailSvc,
		Logger:   logger,
	}, importjob.Config{Workers: 1, MaxArchiveBytes: 1 << 20, StatusTTL: conf.Cache.ImportStatusTTL})

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	course.InitValidators(validate, translator)

	// set up server
	env.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           &conf,
		Logger:         logger,
		DisableReqLogs: true,
		UserSvc:        usrSvc,
		CourseSvc:      courseSvc,
		AccessSvc:      access.NewService(courseSvc, env.enrollments, logger),
		EnrollmentSvc:  env.enrollments,
		ProgressSvc:    progress.NewService(env.progRepo, env.courseRepo, courseSvc, txr, logger),
		ImportSvc:      env.importSvc,
		Exporter:       interchange.NewExporter(env.courseRepo, env.files, logger),
		Validate:       validate,
		Translator:     translator,
	})
	t.Cleanup(func() { _ = env.app.Close() })
	return env
}

func (env *testEnv) createUser(t *testing.T, uname string, roles ...string) user.User {
	return testutil.CreateUser(t, env.usrRepo, uname, uname, uname+"@example.com", "Passw0rd!#", roles, true)
}

func (env *testEnv) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	env.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := echoapi.GetUserClaims(usr)
	token, err := echoapi.GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, env *testEnv, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}
