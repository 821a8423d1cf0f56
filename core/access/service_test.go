package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/access"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/enrollment"
	"github.com/trezcool/elimu/core/user"
	cachesvc "github.com/trezcool/elimu/services/cache"
	emailsvc "github.com/trezcool/elimu/services/email"
	logsvc "github.com/trezcool/elimu/services/logger"
	dummydb "github.com/trezcool/elimu/storage/database/dummy"
	testutil "github.com/trezcool/elimu/tests"
)

func TestCanAccessCourse(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, 5)
	student := user.User{Roles: []string{user.RoleStudent}}
	staff := user.User{Roles: []string{user.RoleStaffEducator}}
	started := course.Course{}
	upcoming := course.Course{StartDate: &start, DaysEarlyForBeta: 7}

	active := &enrollment.Enrollment{Active: true}
	inactive := &enrollment.Enrollment{Active: false}
	beta := &enrollment.Enrollment{Active: true, BetaTester: true}

	tests := []struct {
		name string
		usr  user.User
		c    course.Course
		enr  *enrollment.Enrollment
		want bool
	}{
		{"staff without enrollment", staff, upcoming, nil, true},
		{"not enrolled", student, started, nil, false},
		{"inactive enrollment", student, started, inactive, false},
		{"enrolled", student, started, active, true},
		{"course not started", student, upcoming, active, false},
		{"beta tester before start", student, upcoming, beta, true},
		{"beta tester too early", student, course.Course{StartDate: &start, DaysEarlyForBeta: 2}, beta, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, access.CanAccessCourse(tt.usr, tt.c, tt.enr, now))
		})
	}
}

type testEnv struct {
	svc         access.Service
	usrRepo     user.Repository
	courseRepo  course.Repository
	enrollments enrollment.Service
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	require.NoError(t, err)
	logger := logsvc.NewNopLogger()

	env := &testEnv{
		usrRepo:    dummydb.NewUserRepository(db),
		courseRepo: dummydb.NewCourseRepository(db),
	}
	courses := course.NewService(env.courseRepo, dummydb.Transactor{}, cachesvc.NewMemoryCache(), 0, logger)
	env.enrollments = enrollment.NewService(
		dummydb.NewEnrollmentRepository(db),
		dummydb.NewGroupRepository(db),
		emailsvc.NewConsoleServiceMock(logger),
		logger,
	)
	env.svc = access.NewService(courses, env.enrollments, logger)
	return env
}

// createCourse builds PY/SP where m2 and u2 are released tomorrow and u4 was released yesterday.
func (env *testEnv) createCourse(t *testing.T, opts ...func(c *course.Course)) (course.Course, time.Time) {
	tomorrow := core.Now().Add(24 * time.Hour).Truncate(time.Minute)
	yesterday := core.Now().Add(-24 * time.Hour).Truncate(time.Minute)
	c := testutil.CreateCourse(t, env.courseRepo, "PY", "SP", opts...)
	testutil.BuildTree(t, env.courseRepo, c,
		testutil.NodeSpec{Slug: "m1", ContentIndex: core.IntPtr(1), Children: []testutil.NodeSpec{
			{Slug: "s1", ContentIndex: core.IntPtr(2), Children: []testutil.NodeSpec{
				{Slug: "u1", ContentIndex: core.IntPtr(3)},
				{Slug: "u2", Release: &tomorrow},
				{Slug: "u4", Release: &yesterday},
			}},
		}},
		testutil.NodeSpec{Slug: "m2", Release: &tomorrow, Children: []testutil.NodeSpec{
			{Slug: "s2", Children: []testutil.NodeSpec{{Slug: "u3"}}},
		}},
	)
	return c, tomorrow
}

func TestService_GetAccessInfo(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	c, tomorrow := env.createCourse(t)
	student := testutil.CreateUser(t, env.usrRepo, "Student", "student", "student@test.cd", "pwd", []string{user.RoleStudent}, true)
	staff := testutil.CreateUser(t, env.usrRepo, "Staff", "staff", "staff@test.cd", "pwd", []string{user.RoleStaff}, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "pwd", []string{user.RoleAdmin}, true)

	t.Run("not enrolled", func(t *testing.T) {
		_, err := env.svc.GetAccessInfo(ctx, student, "PY", "SP", "m1", "s1", "u1")
		assert.Equal(t, access.ErrCourseAccessDenied, err)
	})

	t.Run("unknown course", func(t *testing.T) {
		_, err := env.svc.GetAccessInfo(ctx, student, "PY", "FA", "m1", "s1", "u1")
		assert.Equal(t, course.ErrNotFound, err)
	})

	_, err := env.enrollments.Enroll(ctx, student, c)
	require.NoError(t, err)

	t.Run("released unit", func(t *testing.T) {
		info, err := env.svc.GetAccessInfo(ctx, student, "PY", "SP", "m1", "s1", "u1")
		require.NoError(t, err)
		assert.True(t, info.UnitReleased)
		assert.Equal(t, "1.2.3", info.FullContentIndex)
		require.NotNil(t, info.Enrollment)
		require.NotNil(t, info.Unit)
		assert.Equal(t, "u1", info.Unit.Slug)
		assert.Empty(t, info.Message)
		assert.Empty(t, info.AdminMessage)
	})

	t.Run("unreleased unit", func(t *testing.T) {
		info, err := env.svc.GetAccessInfo(ctx, student, "PY", "SP", "m1", "s1", "u2")
		require.NoError(t, err)
		assert.False(t, info.UnitReleased)
		assert.Nil(t, info.Unit)
		assert.Equal(t, "This unit will be released on "+course.FormatReleaseDatetime(tomorrow)+".", info.Message)
	})

	t.Run("unit released yesterday", func(t *testing.T) {
		info, err := env.svc.GetAccessInfo(ctx, student, "PY", "SP", "m1", "s1", "u4")
		require.NoError(t, err)
		assert.True(t, info.UnitReleased)
		require.NotNil(t, info.Unit)
		assert.Empty(t, info.Message)
	})

	t.Run("unreleased module", func(t *testing.T) {
		_, err := env.svc.GetAccessInfo(ctx, student, "PY", "SP", "m2", "s2", "u3")
		var nErr *course.NodeNotReleasedError
		require.ErrorAs(t, err, &nErr)
		assert.Equal(t, course.NodeTypeModule, nErr.Level)
		require.NotNil(t, nErr.ReleaseDatetime)
		assert.True(t, tomorrow.Equal(*nErr.ReleaseDatetime))
	})

	t.Run("missing section", func(t *testing.T) {
		_, err := env.svc.GetAccessInfo(ctx, student, "PY", "SP", "m1", "s9", "")
		nErr, ok := course.AsNodeDoesNotExist(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, course.NodeTypeSection, nErr.Level)
	})

	t.Run("staff see unreleased content", func(t *testing.T) {
		info, err := env.svc.GetAccessInfo(ctx, staff, "PY", "SP", "m2", "s2", "u3")
		require.NoError(t, err)
		assert.Nil(t, info.Enrollment)
		assert.NotNil(t, info.Unit)
		assert.Equal(t, "This unit is not yet available to students (Module not released).", info.AdminMessage)

		info, err = env.svc.GetAccessInfo(ctx, staff, "PY", "SP", "m1", "s1", "u2")
		require.NoError(t, err)
		assert.False(t, info.UnitReleased)
		assert.NotNil(t, info.Unit)
		assert.Equal(t, "This unit is not yet available to students (Unit not released).", info.AdminMessage)
	})

	t.Run("superusers are enrolled on their first visit", func(t *testing.T) {
		info, err := env.svc.GetAccessInfo(ctx, admin, "PY", "SP", "", "", "")
		require.NoError(t, err)
		require.NotNil(t, info.Enrollment)
		assert.True(t, info.Enrollment.Active)
		assert.Equal(t, "u1", info.NavInfo.UnitNodeSlug)

		enr, err := env.enrollments.GetActive(ctx, admin.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, info.Enrollment.ID, enr.ID)
	})
}

func TestService_GetAccessInfo_selfPaced(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	c, _ := env.createCourse(t, func(c *course.Course) { c.SelfPaced = true })
	student := testutil.CreateUser(t, env.usrRepo, "Student", "student", "student@test.cd", "pwd", []string{user.RoleStudent}, true)
	_, err := env.enrollments.Enroll(ctx, student, c)
	require.NoError(t, err)

	info, err := env.svc.GetAccessInfo(ctx, student, "PY", "SP", "m2", "s2", "u3")
	require.NoError(t, err)
	assert.True(t, info.UnitReleased)
	assert.NotNil(t, info.Unit)
}

func TestService_CanAccessCourseUnit(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	c, _ := env.createCourse(t)
	student := testutil.CreateUser(t, env.usrRepo, "Student", "student", "student@test.cd", "pwd", []string{user.RoleStudent}, true)
	staff := testutil.CreateUser(t, env.usrRepo, "Staff", "staff", "staff@test.cd", "pwd", []string{user.RoleStaff}, true)

	units := make(map[string]int64)
	nodes, err := env.courseRepo.QueryNodes(ctx, c.ID)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.UnitID != nil {
			units[n.Slug] = *n.UnitID
		}
	}

	ok, err := env.svc.CanAccessCourseUnit(ctx, student, c, units["u1"])
	require.NoError(t, err)
	assert.False(t, ok, "not enrolled")

	_, err = env.enrollments.Enroll(ctx, student, c)
	require.NoError(t, err)

	for slug, want := range map[string]bool{"u1": true, "u2": false, "u3": false, "u4": true} {
		ok, err := env.svc.CanAccessCourseUnit(ctx, student, c, units[slug])
		require.NoError(t, err)
		assert.Equal(t, want, ok, slug)
	}

	ok, err = env.svc.CanAccessCourseUnit(ctx, staff, c, units["u3"])
	require.NoError(t, err)
	assert.True(t, ok)
}
