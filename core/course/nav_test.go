package course

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	cachesvc "github.com/trezcool/elimu/services/cache"
	logsvc "github.com/trezcool/elimu/services/logger"
)

type fakeLoader struct {
	nodes []Node
	err   error
	calls int
}

func (l *fakeLoader) GetTree(_ context.Context, _ Course) (*Node, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return BuildTree(l.nodes)
}

func freezeTime(t *testing.T, now time.Time) {
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = time.Now })
}

func TestNavigator_GetCourseNav_caching(t *testing.T) {
	ctx := context.Background()
	c := Course{ID: 1, Slug: "PY", Run: "SP"}

	t.Run("cached until busted", func(t *testing.T) {
		loader := &fakeLoader{nodes: sampleNodes()}
		cache := cachesvc.NewMemoryCache()
		nav := NewNavigator(loader, cache, time.Hour, logsvc.NewNopLogger())

		first, err := nav.GetCourseNav(ctx, c, false)
		require.NoError(t, err)
		second, err := nav.GetCourseNav(ctx, c, false)
		require.NoError(t, err)
		assert.Equal(t, 1, loader.calls)
		assert.Equal(t, first, second)

		_, err = cache.Get(ctx, "PY_SP_nav")
		assert.NoError(t, err)

		require.NoError(t, nav.BustCache(ctx, c))
		_, err = nav.GetCourseNav(ctx, c, false)
		require.NoError(t, err)
		assert.Equal(t, 2, loader.calls)
	})

	t.Run("zero ttl never caches", func(t *testing.T) {
		loader := &fakeLoader{nodes: sampleNodes()}
		cache := cachesvc.NewMemoryCache()
		nav := NewNavigator(loader, cache, 0, logsvc.NewNopLogger())

		for i := 0; i < 3; i++ {
			_, err := nav.GetCourseNav(ctx, c, false)
			require.NoError(t, err)
		}
		assert.Equal(t, 3, loader.calls)
		_, err := cache.Get(ctx, NavCacheKey(c))
		assert.Equal(t, core.ErrCacheMiss, err)
	})

	t.Run("corrupted entry is rebuilt", func(t *testing.T) {
		loader := &fakeLoader{nodes: sampleNodes()}
		cache := cachesvc.NewMemoryCache()
		require.NoError(t, cache.Set(ctx, NavCacheKey(c), []byte("{not json"), 0))
		nav := NewNavigator(loader, cache, time.Hour, logsvc.NewNopLogger())

		root, err := nav.GetCourseNav(ctx, c, false)
		require.NoError(t, err)
		assert.Len(t, root.Children, 2)
		assert.Equal(t, 1, loader.calls)
	})

	t.Run("load failure", func(t *testing.T) {
		loader := &fakeLoader{err: errors.New("boom")}
		nav := NewNavigator(loader, cachesvc.NewMemoryCache(), time.Hour, logsvc.NewNopLogger())

		_, err := nav.GetCourseNav(ctx, c, false)
		assert.True(t, errors.Is(err, ErrNavUnavailable), "GetCourseNav() error = %v, want ErrNavUnavailable", err)
	})
}

func TestNavigator_GetCourseNav_serialization(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	release := time.Date(2024, 3, 10, 17, 30, 0, 0, time.UTC)
	nodes := sampleNodes()
	nodes[2].ReleaseDatetime = &release // intro
	nodes[2].ContentIndex = core.IntPtr(1)

	nav := NewNavigator(&fakeLoader{nodes: nodes}, cachesvc.NewMemoryCache(), 0, logsvc.NewNopLogger())
	root, err := nav.GetCourseNav(context.Background(), Course{ID: 1, Slug: "PY", Run: "SP"}, false)
	require.NoError(t, err)

	intro := root.Children[0]
	assert.Equal(t, "intro", intro.Slug)
	assert.Equal(t, "/courses/PY/SP/intro/", intro.NodeURL)
	assert.Equal(t, "Mar 10, 2024 10:30 PDT", intro.ReleaseDatetime)
	assert.Equal(t, &release, intro.ReleaseDatetimeUTC)
	assert.Equal(t, "M1", intro.ContentToken)
	assert.False(t, intro.IsReleased)
	assert.False(t, intro.LinkEnabled)

	hello := intro.Children[0].Children[0]
	assert.True(t, hello.LinkEnabled)
	assert.True(t, hello.IsReleased)
	require.NotNil(t, hello.Unit)
	assert.Equal(t, int64(101), hello.Unit.ID)
	assert.Equal(t, "", hello.ReleaseDatetime)
}

func TestNavigator_GetCourseNav_betaTester(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	const daysEarly = 3
	soon := now.AddDate(0, 0, daysEarly-1)
	later := now.AddDate(0, 0, daysEarly+1)
	nodes := sampleNodes()
	nodes[2].ReleaseDatetime = &soon  // intro
	nodes[1].ReleaseDatetime = &later // basics

	tests := []struct {
		name        string
		selfPaced   bool
		beta        bool
		wantIntro   bool
		wantBasics  bool
		daysForBeta int
	}{
		{name: "student", wantIntro: false, wantBasics: false, daysForBeta: daysEarly},
		{name: "beta tester", beta: true, wantIntro: true, wantBasics: false, daysForBeta: daysEarly},
		{name: "beta tester without offset", beta: true, wantIntro: false, wantBasics: false},
		{name: "self paced", selfPaced: true, wantIntro: true, wantBasics: true, daysForBeta: daysEarly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Course{ID: 1, Slug: "PY", Run: "SP", SelfPaced: tt.selfPaced, DaysEarlyForBeta: tt.daysForBeta}
			nav := NewNavigator(&fakeLoader{nodes: nodes}, cachesvc.NewMemoryCache(), time.Hour, logsvc.NewNopLogger())

			root, err := nav.GetCourseNav(context.Background(), c, tt.beta)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIntro, root.Children[0].IsReleased, "intro")
			assert.Equal(t, tt.wantBasics, root.Children[1].IsReleased, "basics")
		})
	}
}

func TestNavNode_Lineage(t *testing.T) {
	root := NewNavNode(sampleTree(t), Course{Slug: "PY", Run: "SP"}, time.Now())

	lineage := root.Lineage(103)
	require.Len(t, lineage, 3)
	assert.Equal(t, "install", lineage[0].Slug)
	assert.Equal(t, "setup", lineage[1].Slug)
	assert.Equal(t, "intro", lineage[2].Slug)

	assert.Empty(t, root.Lineage(999))

	units := root.Units()
	assert.Len(t, units, 4)
	assert.Equal(t, "variables", units[3].Slug)

	first, ok := root.Child("")
	assert.True(t, ok)
	assert.Equal(t, "intro", first.Slug)
	_, ok = root.Child("nope")
	assert.False(t, ok)
}
