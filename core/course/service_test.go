package course_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	cachesvc "github.com/trezcool/elimu/services/cache"
	logsvc "github.com/trezcool/elimu/services/logger"
	dummydb "github.com/trezcool/elimu/storage/database/dummy"
	testutil "github.com/trezcool/elimu/tests"
)

type testEnv struct {
	svc   course.Service
	repo  course.Repository
	cache core.Cache
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	require.NoError(t, err)
	env := &testEnv{repo: dummydb.NewCourseRepository(db), cache: cachesvc.NewMemoryCache()}
	env.svc = course.NewService(env.repo, dummydb.Transactor{}, env.cache, time.Hour, logsvc.NewNopLogger())
	return env
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	for _, slug := range []string{"GO", "PY", "C"} {
		testutil.CreateCourse(t, env.repo, slug, "SP")
	}

	tests := []struct {
		name     string
		ordering []core.DBOrdering
		want     []string
	}{
		{"default", nil, []string{"GO", "PY", "C"}},
		{"slug", []core.DBOrdering{{Field: "slug", Ascending: true}}, []string{"C", "GO", "PY"}},
		{"unknown fields are ignored", []core.DBOrdering{{Field: "password"}}, []string{"GO", "PY", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			courses, err := env.svc.Query(ctx, tt.ordering)
			require.NoError(t, err)
			slugs := make([]string, 0, len(courses))
			for _, c := range courses {
				slugs = append(slugs, c.Slug)
			}
			assert.Equal(t, tt.want, slugs)
		})
	}

	c, err := env.svc.GetByToken(ctx, "PY", "SP")
	require.NoError(t, err)
	got, err := env.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "PY/SP", got.Token())

	_, err = env.svc.GetByToken(ctx, "PY", "FA")
	assert.Equal(t, course.ErrNotFound, err)
}

func TestService_composerBustsNav(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	c := testutil.CreateCourse(t, env.repo, "PY", "SP")
	nodes := testutil.BuildTree(t, env.repo, c,
		testutil.NodeSpec{Slug: "m1", Children: []testutil.NodeSpec{{Slug: "s1", Children: []testutil.NodeSpec{{Slug: "u1"}}}}},
	)

	nav, err := env.svc.GetNav(ctx, c, false)
	require.NoError(t, err)
	require.Len(t, nav.Children[0].Children[0].Children, 1)
	_, err = env.cache.Get(ctx, course.NavCacheKey(c))
	require.NoError(t, err, "nav is cached")

	added, err := env.svc.AddNode(ctx, c, course.NewNode{
		ParentID: nodes["s1"].ID, Type: course.NodeTypeUnit, DisplayName: "U2", Slug: "u2", UnitDisplayName: "Second unit",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added.DisplaySequence)
	require.NotNil(t, added.UnitID)

	_, err = env.cache.Get(ctx, course.NavCacheKey(c))
	assert.Equal(t, core.ErrCacheMiss, err)

	nav, err = env.svc.GetNav(ctx, c, false)
	require.NoError(t, err)
	units := nav.Children[0].Children[0].Children
	require.Len(t, units, 2)
	assert.Equal(t, "u2", units[1].Slug)
	require.NotNil(t, units[1].Unit)
	assert.Equal(t, "Second unit", units[1].Unit.DisplayName)

	require.NoError(t, env.svc.BustNavCache(ctx, c))
	_, err = env.cache.Get(ctx, course.NavCacheKey(c))
	assert.Equal(t, core.ErrCacheMiss, err)
}

func TestService_AddNode(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	c := testutil.CreateCourse(t, env.repo, "PY", "SP")
	other := testutil.CreateCourse(t, env.repo, "GO", "SP")
	nodes := testutil.BuildTree(t, env.repo, c,
		testutil.NodeSpec{Slug: "m1", Children: []testutil.NodeSpec{{Slug: "s1", Children: []testutil.NodeSpec{{Slug: "u1"}}}}},
	)

	tests := []struct {
		name    string
		c       course.Course
		nn      course.NewNode
		wantErr error
		field   string
	}{
		{name: "unknown parent", c: c, nn: course.NewNode{ParentID: 999, Type: course.NodeTypeModule, Slug: "m2"}, wantErr: course.ErrNodeNotFound},
		{name: "other course", c: other, nn: course.NewNode{ParentID: nodes["m1"].ID, Type: course.NodeTypeSection, Slug: "s2"}, wantErr: course.ErrNodeNotFound},
		{name: "wrong level", c: c, nn: course.NewNode{ParentID: nodes["m1"].ID, Type: course.NodeTypeUnit, Slug: "u2"}, field: "type"},
		{name: "sibling slug", c: c, nn: course.NewNode{ParentID: *c.RootNodeID, Type: course.NodeTypeModule, Slug: "m1"}, field: "slug"},
		{name: "disallowed slug", c: c, nn: course.NewNode{ParentID: *c.RootNodeID, Type: course.NodeTypeModule, Slug: "progress"}, field: "slug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AddNode(ctx, tt.c, tt.nn)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			var vErr *core.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Fields[0].Field)
		})
	}

	seq := 7
	m2, err := env.svc.AddNode(ctx, c, course.NewNode{
		ParentID: *c.RootNodeID, Type: course.NodeTypeModule, DisplayName: "M2", Slug: "m2", DisplaySequence: &seq,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, m2.DisplaySequence)
	assert.Nil(t, m2.UnitID)
}

func TestService_units(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	c := testutil.CreateCourse(t, env.repo, "PY", "SP")
	other := testutil.CreateCourse(t, env.repo, "GO", "SP")
	nodes := testutil.BuildTree(t, env.repo, c,
		testutil.NodeSpec{Slug: "m1", Children: []testutil.NodeSpec{{Slug: "s1", Children: []testutil.NodeSpec{{Slug: "u1"}}}}},
	)
	unitID := *nodes["u1"].UnitID

	t.Run("update", func(t *testing.T) {
		_, err := env.svc.UpdateUnit(ctx, other, course.Unit{ID: unitID})
		assert.Equal(t, course.ErrUnitNotFound, err)

		u, err := env.svc.UpdateUnit(ctx, c, course.Unit{ID: unitID, Slug: "intro", DisplayName: "Intro", HTMLContent: "<p>hi</p>"})
		require.NoError(t, err)
		assert.Equal(t, "Intro", u.DisplayName)
		assert.Equal(t, course.UnitTypeStandard, u.Type, "type is kept when omitted")
	})

	t.Run("blocks", func(t *testing.T) {
		_, err := env.svc.AddUnitBlock(ctx, c, unitID, course.UnitBlock{Block: course.Block{Type: "GIF"}})
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)

		first, err := env.svc.AddUnitBlock(ctx, c, unitID, course.UnitBlock{Block: course.Block{Type: course.BlockTypeHTMLContent, Slug: "h1"}})
		require.NoError(t, err)
		assert.NotZero(t, first.BlockID)
		assert.NotEmpty(t, first.Block.UUID)

		second, err := env.svc.AddUnitBlock(ctx, c, unitID, course.UnitBlock{Block: course.Block{ID: first.BlockID}})
		require.NoError(t, err)
		assert.Equal(t, 1, second.BlockOrder)

		_, err = env.svc.AddUnitBlock(ctx, c, unitID, course.UnitBlock{Block: course.Block{ID: 999}})
		assert.Equal(t, course.ErrBlockNotFound, err)
		_, err = env.svc.AddUnitBlock(ctx, other, unitID, course.UnitBlock{Block: course.Block{ID: first.BlockID}})
		assert.Equal(t, course.ErrUnitNotFound, err)

		u, err := env.svc.GetUnit(ctx, unitID)
		require.NoError(t, err)
		assert.Len(t, u.UnitBlocks, 2)

		require.NoError(t, env.svc.RemoveUnitBlock(ctx, c, unitID, first.BlockID))
		assert.Equal(t, course.ErrUnitNotFound, env.svc.RemoveUnitBlock(ctx, other, unitID, first.BlockID))

		u, err = env.svc.GetUnit(ctx, unitID)
		require.NoError(t, err)
		assert.Len(t, u.UnitBlocks, 1)
	})
}
