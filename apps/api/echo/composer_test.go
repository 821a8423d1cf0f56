package echoapi_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/elimu/apps/api/echo"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/progress"
	"github.com/trezcool/elimu/core/user"
)

func Test_composerApi_nodes(t *testing.T) {
	env := setup(t)
	c, _ := env.createCourse(t)
	student := env.createUser(t, "student", user.RoleStudent)
	author := env.createUser(t, "author", user.RoleStaffAuthor)
	token := getToken(t, author)
	ctx := context.Background()

	nodes, err := env.courseRepo.QueryNodes(ctx, c.ID)
	require.NoError(t, err)
	bySlug := make(map[string]course.Node, len(nodes))
	for _, n := range nodes {
		bySlug[n.Slug] = n
	}
	nodePath := func(slug string) string {
		return fmt.Sprintf("/v1/courses/PY/FALL/composer/nodes/%d", bySlug[slug].ID)
	}

	runHTTPTests(t, env, []httpTest{
		{
			name:     "students are forbidden",
			method:   http.MethodGet,
			path:     "/v1/courses/PY/FALL/composer/tree",
			token:    getToken(t, student),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "tree",
			method:   http.MethodGet,
			path:     "/v1/courses/PY/FALL/composer/tree",
			token:    token,
			wantCode: http.StatusOK,
		},
		{
			name:   "invalid node",
			method: http.MethodPost,
			path:   "/v1/courses/PY/FALL/composer/nodes",
			body: marchallObj(t, course.NewNode{
				ParentID:    bySlug["m1"].ID,
				Type:        course.NodeTypeSection,
				DisplayName: "Section",
			}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"slug":"this field is required"}`),
		},
		{
			name:   "wrong level",
			method: http.MethodPost,
			path:   "/v1/courses/PY/FALL/composer/nodes",
			body: marchallObj(t, course.NewNode{
				ParentID:    bySlug["m1"].ID,
				Type:        course.NodeTypeUnit,
				DisplayName: "Unit",
				Slug:        "u9",
			}),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "sibling slug",
			method: http.MethodPost,
			path:   "/v1/courses/PY/FALL/composer/nodes",
			body: marchallObj(t, course.NewNode{
				ParentID:    bySlug["m1"].ID,
				Type:        course.NodeTypeSection,
				DisplayName: "Section",
				Slug:        "s1",
			}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"slug":"a sibling node already uses this slug"}`),
		},
		{
			name:     "unknown node",
			method:   http.MethodDelete,
			path:     "/v1/courses/PY/FALL/composer/nodes/999",
			token:    token,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "malformed id",
			method:   http.MethodDelete,
			path:     "/v1/courses/PY/FALL/composer/nodes/abc",
			token:    token,
			wantCode: http.StatusNotFound,
		},
	})

	t.Run("add", func(t *testing.T) {
		body := marchallObj(t, course.NewNode{
			ParentID:    bySlug["s1"].ID,
			Type:        course.NodeTypeUnit,
			DisplayName: "Third unit",
			Slug:        "u4",
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/courses/PY/FALL/composer/nodes", token, body)
		env.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var got course.Node
		unmarshal(t, rec, &got)
		assert.NotZero(t, got.ID)
		assert.Equal(t, "u4", got.Slug)
		assert.Equal(t, 2, got.DisplaySequence)
	})

	t.Run("update", func(t *testing.T) {
		body := marchallObj(t, course.UpdateNode{DisplayName: "Intro", Slug: "intro"})
		req, rec := newAuthRequest(http.MethodPut, nodePath("m1"), token, body)
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got course.Node
		unmarshal(t, rec, &got)
		assert.Equal(t, "intro", got.Slug)
		assert.Equal(t, "Intro", got.DisplayName)
	})

	t.Run("move", func(t *testing.T) {
		body := marchallObj(t, echoapi.MoveNodeRequest{ParentID: bySlug["s2"].ID, DisplaySequence: 5})
		req, rec := newAuthRequest(http.MethodPost, nodePath("u2")+"/move", token, body)
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		moved, err := env.courseRepo.GetNode(ctx, bySlug["u2"].ID)
		require.NoError(t, err)
		require.NotNil(t, moved.ParentID)
		assert.Equal(t, bySlug["s2"].ID, *moved.ParentID)
		assert.Equal(t, 5, moved.DisplaySequence)
	})

	t.Run("move to wrong level", func(t *testing.T) {
		body := marchallObj(t, echoapi.MoveNodeRequest{ParentID: bySlug["m2"].ID})
		req, rec := newAuthRequest(http.MethodPost, nodePath("u1")+"/move", token, body)
		env.serve(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, nodePath("u1"), token)
		env.serve(req, rec)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		_, err := env.courseRepo.GetNode(ctx, bySlug["u1"].ID)
		assert.Equal(t, course.ErrNodeNotFound, err)
	})

	t.Run("root cannot be deleted", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, fmt.Sprintf("/v1/courses/PY/FALL/composer/nodes/%d", *c.RootNodeID), token)
		env.serve(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	})
}

func Test_composerApi_reindex(t *testing.T) {
	env := setup(t)
	c, _ := env.createCourse(t)
	author := env.createUser(t, "author", user.RoleStaffAuthor)
	token := getToken(t, author)
	ctx := context.Background()

	contentIndexes := func(t *testing.T) map[string]*int {
		nodes, err := env.courseRepo.QueryNodes(ctx, c.ID)
		require.NoError(t, err)
		indexes := make(map[string]*int, len(nodes))
		for _, n := range nodes {
			indexes[n.Slug] = n.ContentIndex
		}
		return indexes
	}

	req, rec := newAuthRequest(http.MethodPost, "/v1/courses/PY/FALL/composer/reindex", token, []byte(`{"start_module_at":0}`))
	env.serve(req, rec)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	indexes := contentIndexes(t)
	for slug, want := range map[string]int{"m1": 1, "m2": 2, "s1": 1, "s2": 1, "u1": 1, "u2": 2, "u3": 1} {
		if assert.NotNil(t, indexes[slug], slug) {
			assert.Equal(t, want, *indexes[slug], slug)
		}
	}

	req, rec = newAuthRequest(http.MethodDelete, "/v1/courses/PY/FALL/composer/reindex", token)
	env.serve(req, rec)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	for slug, idx := range contentIndexes(t) {
		assert.Nil(t, idx, slug)
	}

	req, rec = newAuthRequest(http.MethodDelete, "/v1/courses/PY/FALL/composer/nav-cache", token)
	env.serve(req, rec)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func Test_composerApi_milestones(t *testing.T) {
	env := setup(t)
	env.createCourse(t)
	author := env.createUser(t, "author", user.RoleStaffAuthor)
	student := env.createUser(t, "student", user.RoleStudent)
	token := getToken(t, author)

	create := func(t *testing.T, m progress.Milestone) progress.Milestone {
		req, rec := newAuthRequest(http.MethodPost, "/v1/courses/PY/FALL/milestones", token, marchallObj(t, m))
		env.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var got progress.Milestone
		unmarshal(t, rec, &got)
		return got
	}

	answers := create(t, progress.Milestone{
		Slug:             "answers",
		Name:             "Answer three questions",
		Type:             progress.MilestoneTypeCorrectAnswers,
		CountRequirement: 3,
	})
	videos := create(t, progress.Milestone{
		Slug:             "videos",
		Name:             "Watch a video",
		Type:             progress.MilestoneTypeVideoPlays,
		CountRequirement: 1,
	})

	runHTTPTests(t, env, []httpTest{
		{
			name:     "students are forbidden",
			method:   http.MethodGet,
			path:     "/v1/courses/PY/FALL/milestones",
			token:    getToken(t, student),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "query",
			method:   http.MethodGet,
			path:     "/v1/courses/PY/FALL/milestones",
			token:    token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, []progress.Milestone{answers, videos}),
		},
		{
			name:   "both thresholds",
			method: http.MethodPost,
			path:   "/v1/courses/PY/FALL/milestones",
			body: marchallObj(t, progress.Milestone{
				Slug:                "both",
				Type:                progress.MilestoneTypeCorrectAnswers,
				CountRequirement:    1,
				MinScoreRequirement: 1,
			}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"min_score_requirement":"please set a minimum score OR count requirement, not both"}`),
		},
		{
			name:     "rescore",
			method:   http.MethodPost,
			path:     fmt.Sprintf("/v1/courses/PY/FALL/milestones/%d/rescore", answers.ID),
			token:    token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.RescoreResponse{NewlyAchieved: 0}),
		},
		{
			name:     "rescore unsupported",
			method:   http.MethodPost,
			path:     fmt.Sprintf("/v1/courses/PY/FALL/milestones/%d/rescore", videos.ID),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: progress.ErrRescoreUnsupported.Error()}),
		},
		{
			name:     "rescore malformed block",
			method:   http.MethodPost,
			path:     fmt.Sprintf("/v1/courses/PY/FALL/milestones/%d/rescore?block_id=abc", answers.ID),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "rescore unknown milestone",
			method:   http.MethodPost,
			path:     "/v1/courses/PY/FALL/milestones/999/rescore",
			token:    token,
			wantCode: http.StatusNotFound,
		},
	})
}
