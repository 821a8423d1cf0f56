package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/progress"
)

type composerApi struct {
	courses  course.Service
	progress progress.Service
	validate *validator.Validate
}

func registerComposerAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := composerApi{
		courses:  deps.CourseSvc,
		progress: deps.ProgressSvc,
		validate: deps.Validate,
	}

	sg := g.Group("/courses/:slug/:run", jwt, staffMiddleware, courseMiddleware(api.courses))

	cg := sg.Group("/composer")
	cg.GET("/tree", api.tree)
	cg.POST("/nodes", api.addNode)
	cg.PUT("/nodes/:id", api.updateNode)
	cg.DELETE("/nodes/:id", api.deleteNode)
	cg.POST("/nodes/:id/move", api.moveNode)
	cg.POST("/reindex", api.reindex)
	cg.DELETE("/reindex", api.clearContentIndex)
	cg.DELETE("/nav-cache", api.bustNavCache)
	cg.PUT("/units/:id", api.updateUnit)
	cg.POST("/units/:id/blocks", api.addUnitBlock)
	cg.DELETE("/units/:id/blocks/:block_id", api.removeUnitBlock)

	mg := sg.Group("/milestones")
	mg.GET("", api.queryMilestones)
	mg.POST("", api.createMilestone)
	mg.POST("/:id/rescore", api.rescoreMilestone)
}

// Handlers

func (api *composerApi) tree(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	root, err := api.courses.GetTree(ctx.Request().Context(), c)
	if err != nil {
		return errors.Wrap(err, "getting course tree")
	}
	return ctx.JSON(http.StatusOK, root)
}

func (api *composerApi) addNode(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	var data course.NewNode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNode")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	node, err := api.courses.AddNode(ctx.Request().Context(), c, data)
	if err != nil {
		return errors.Wrap(err, "adding node")
	}
	return ctx.JSON(http.StatusCreated, node)
}

func (api *composerApi) updateNode(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data course.UpdateNode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateNode")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	node, err := api.courses.UpdateNode(ctx.Request().Context(), c, id, data)
	if err != nil {
		return errors.Wrap(err, "updating node")
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *composerApi) deleteNode(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err := api.courses.DeleteNode(ctx.Request().Context(), c, id); err != nil {
		return errors.Wrap(err, "deleting node")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *composerApi) moveNode(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data MoveNodeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MoveNodeRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	node, err := api.courses.MoveNode(ctx.Request().Context(), c, id, data.ParentID, data.DisplaySequence)
	if err != nil {
		return errors.Wrap(err, "moving node")
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *composerApi) reindex(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	var data ReindexRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReindexRequest")
	}
	if data.StartModuleAt < 1 {
		data.StartModuleAt = 1
	}

	if err := api.courses.ReindexContent(ctx.Request().Context(), c, data.StartModuleAt); err != nil {
		return errors.Wrap(err, "reindexing content")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *composerApi) clearContentIndex(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	if err := api.courses.ClearContentIndex(ctx.Request().Context(), c); err != nil {
		return errors.Wrap(err, "clearing content index")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *composerApi) bustNavCache(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	if err := api.courses.BustNavCache(ctx.Request().Context(), c); err != nil {
		return errors.Wrap(err, "busting nav cache")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *composerApi) updateUnit(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data UpdateUnitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUnitRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	unit, err := api.courses.UpdateUnit(ctx.Request().Context(), c, course.Unit{
		ID:               id,
		Slug:             data.Slug,
		DisplayName:      data.DisplayName,
		Type:             data.Type,
		ShortDescription: data.ShortDescription,
		HTMLContent:      data.HTMLContent,
	})
	if err != nil {
		return errors.Wrap(err, "updating unit")
	}
	return ctx.JSON(http.StatusOK, unit)
}

func (api *composerApi) addUnitBlock(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data course.UnitBlock
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UnitBlock")
	}

	ub, err := api.courses.AddUnitBlock(ctx.Request().Context(), c, id, data)
	if err != nil {
		return errors.Wrap(err, "adding unit block")
	}
	return ctx.JSON(http.StatusCreated, ub)
}

func (api *composerApi) removeUnitBlock(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	blockID, err := idParam(ctx, "block_id")
	if err != nil {
		return err
	}
	if err := api.courses.RemoveUnitBlock(ctx.Request().Context(), c, id, blockID); err != nil {
		return errors.Wrap(err, "removing unit block")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *composerApi) queryMilestones(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	milestones, err := api.progress.QueryMilestones(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "querying milestones")
	}
	if milestones == nil {
		milestones = []progress.Milestone{}
	}
	return ctx.JSON(http.StatusOK, milestones)
}

func (api *composerApi) createMilestone(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	var data progress.Milestone
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Milestone")
	}
	data.ID = 0
	data.CourseID = c.ID

	m, err := api.progress.CreateMilestone(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating milestone")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *composerApi) rescoreMilestone(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	blockID, err := optionalIDQuery(ctx, "block_id")
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()

	m, err := api.progress.GetMilestone(rctx, id)
	if err != nil {
		return errors.Wrap(err, "finding milestone")
	}
	if m.CourseID != c.ID {
		return errHttpNotFound
	}

	achieved, err := api.progress.RescoreMilestone(rctx, m.ID, blockID)
	if err != nil {
		return errors.Wrap(err, "rescoring milestone")
	}
	return ctx.JSON(http.StatusOK, RescoreResponse{NewlyAchieved: achieved})
}

type (
	MoveNodeRequest struct {
		ParentID        int64 `json:"parent_id" validate:"required"`
		DisplaySequence int   `json:"display_sequence" validate:"min=0"`
	}

	ReindexRequest struct {
		StartModuleAt int `json:"start_module_at"`
	}

	UpdateUnitRequest struct {
		Slug             string          `json:"slug" validate:"required,slug"`
		DisplayName      string          `json:"display_name" validate:"required"`
		Type             course.UnitType `json:"type"`
		ShortDescription string          `json:"short_description"`
		HTMLContent      string          `json:"html_content"`
	}

	RescoreResponse struct {
		NewlyAchieved int `json:"newly_achieved"`
	}
)
