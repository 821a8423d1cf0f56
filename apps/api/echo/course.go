package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/access"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/enrollment"
	"github.com/trezcool/elimu/core/progress"
	"github.com/trezcool/elimu/core/user"
)

type courseApi struct {
	users       user.Service
	courses     course.Service
	access      access.Service
	enrollments enrollment.Service
	progress    progress.Service
	validate    *validator.Validate
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := courseApi{
		users:       deps.UserSvc,
		courses:     deps.CourseSvc,
		access:      deps.AccessSvc,
		enrollments: deps.EnrollmentSvc,
		progress:    deps.ProgressSvc,
		validate:    deps.Validate,
	}

	cg := g.Group("/courses", jwt)
	cg.GET("", api.query)

	dg := cg.Group("/:slug/:run", courseMiddleware(api.courses))
	dg.GET("", api.retrieve)
	dg.GET("/nav", api.nav)
	dg.GET("/progress", api.progressStatus)
	dg.POST("/enrollment", api.enroll)
	dg.DELETE("/enrollment", api.unenroll)
	dg.POST("/blocks/:block_id/answer", api.submitAnswer)

	// empty slugs resolve to the first module, section or unit
	dg.GET("/units", api.unit)
	dg.GET("/units/:module", api.unit)
	dg.GET("/units/:module/:section", api.unit)
	dg.GET("/units/:module/:section/:unit", api.unit)

	// staff endpoints
	dg.GET("/enrollments", api.queryEnrollments, staffMiddleware)
	dg.PUT("/beta-testers/:user_id", api.setBetaTester, staffMiddleware)
}

// contextUserAndCourse returns the authenticated user and the course loaded by courseMiddleware.
func contextUserAndCourse(ctx echo.Context, svc user.Service) (user.User, course.Course, error) {
	usr, err := getContextUser(ctx, svc)
	if err != nil {
		return user.User{}, course.Course{}, errors.Wrap(err, "getting context user")
	}
	c, err := getContextCourse(ctx)
	if err != nil {
		return user.User{}, course.Course{}, errors.Wrap(err, "getting context course")
	}
	return usr, c, nil
}

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.courses.Query(ctx.Request().Context(), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}

	// courses hidden from the catalog are listed for staff only
	visible := make([]course.Course, 0, len(courses))
	for _, c := range courses {
		if claims.IsStaff || claims.IsSuperuser || c.Catalog == nil || c.Catalog.Visible {
			visible = append(visible, c)
		}
	}
	return ctx.JSON(http.StatusOK, visible)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	usr, c, err := contextUserAndCourse(ctx, api.users)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()

	resp := CourseResponse{Course: c}
	enr, err := api.enrollments.Get(rctx, usr.ID, c.ID)
	switch {
	case err == nil:
		resp.Enrollment = &enr
	case errors.Cause(err) != enrollment.ErrNotFound:
		return errors.Wrap(err, "finding enrollment")
	}
	if resp.CanAccess, err = api.access.CanAccessCourse(rctx, usr, c); err != nil {
		return errors.Wrap(err, "checking course access")
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *courseApi) nav(ctx echo.Context) error {
	usr, c, err := contextUserAndCourse(ctx, api.users)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()

	ok, err := api.access.CanAccessCourse(rctx, usr, c)
	if err != nil {
		return errors.Wrap(err, "checking course access")
	}
	if !ok {
		return access.ErrCourseAccessDenied
	}

	var isBetaTester bool
	if enr, err := api.enrollments.GetActive(rctx, usr.ID, c.ID); err == nil {
		isBetaTester = enr.BetaTester
	} else if errors.Cause(err) != enrollment.ErrNotFound {
		return errors.Wrap(err, "finding enrollment")
	}

	nav, err := api.courses.GetNav(rctx, c, isBetaTester)
	if err != nil {
		return errors.Wrap(err, "getting course nav")
	}
	return ctx.JSON(http.StatusOK, nav)
}

func (api *courseApi) unit(ctx echo.Context) error {
	usr, c, err := contextUserAndCourse(ctx, api.users)
	if err != nil {
		return err
	}
	info, err := api.access.GetAccessInfo(
		ctx.Request().Context(), usr, c.Slug, c.Run, ctx.Param("module"), ctx.Param("section"), ctx.Param("unit"),
	)
	if err != nil {
		return errors.Wrap(err, "getting unit access info")
	}
	return ctx.JSON(http.StatusOK, info)
}

func (api *courseApi) progressStatus(ctx echo.Context) error {
	usr, c, err := contextUserAndCourse(ctx, api.users)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()

	ok, err := api.access.CanAccessCourse(rctx, usr, c)
	if err != nil {
		return errors.Wrap(err, "checking course access")
	}
	if !ok {
		return access.ErrCourseAccessDenied
	}
	moduleNodeID, err := optionalIDQuery(ctx, "module_node_id")
	if err != nil {
		return err
	}

	status, err := api.progress.GetProgressStatus(rctx, c, usr.ID, moduleNodeID)
	if err != nil {
		return errors.Wrap(err, "getting progress status")
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	usr, c, err := contextUserAndCourse(ctx, api.users)
	if err != nil {
		return err
	}
	enr, err := api.enrollments.Enroll(ctx.Request().Context(), usr, c)
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *courseApi) unenroll(ctx echo.Context) error {
	usr, c, err := contextUserAndCourse(ctx, api.users)
	if err != nil {
		return err
	}
	enr, err := api.enrollments.DoUnenrollment(ctx.Request().Context(), usr, c)
	if err != nil {
		return errors.Wrap(err, "unenrolling")
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *courseApi) submitAnswer(ctx echo.Context) error {
	usr, c, err := contextUserAndCourse(ctx, api.users)
	if err != nil {
		return err
	}
	blockID, err := idParam(ctx, "block_id")
	if err != nil {
		return err
	}
	var data AnswerRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnswerRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	rctx := ctx.Request().Context()

	ok, err := api.access.CanAccessCourse(rctx, usr, c)
	if err != nil {
		return errors.Wrap(err, "checking course access")
	}
	if !ok {
		return access.ErrCourseAccessDenied
	}

	answer, err := api.progress.SubmitAnswer(rctx, c, usr.ID, blockID, data.Answer)
	if err != nil {
		return errors.Wrap(err, "submitting answer")
	}
	return ctx.JSON(http.StatusOK, answer)
}

func (api *courseApi) queryEnrollments(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	activeOnly := ctx.QueryParam("active") == "true"

	enrs, err := api.enrollments.QueryByCourse(ctx.Request().Context(), c.ID, activeOnly)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrs == nil {
		enrs = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrs)
}

func (api *courseApi) setBetaTester(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	var data BetaTesterRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BetaTesterRequest")
	}

	enr, err := api.enrollments.SetBetaTester(ctx.Request().Context(), ctx.Param("user_id"), c, data.BetaTester)
	if err != nil {
		return errors.Wrap(err, "setting beta tester")
	}
	return ctx.JSON(http.StatusOK, enr)
}

type (
	CourseResponse struct {
		course.Course
		Enrollment *enrollment.Enrollment `json:"enrollment"`
		CanAccess  bool                   `json:"can_access"`
	}

	AnswerRequest struct {
		Answer string `json:"answer" validate:"required"`
	}

	BetaTesterRequest struct {
		BetaTester bool `json:"beta_tester"`
	}
)
