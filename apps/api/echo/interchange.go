package echoapi

import (
	"bytes"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/importjob"
	"github.com/trezcool/elimu/core/interchange"
	"github.com/trezcool/elimu/core/user"
)

var archiveContentTypes = map[interchange.Format]string{
	interchange.FormatInternal:        "application/zip",
	interchange.FormatCommonCartridge: "application/zip",
	interchange.FormatLegacy:          "application/gzip",
}

type interchangeApi struct {
	users    user.Service
	courses  course.Service
	imports  importjob.Service
	exporter CourseExporter
	validate *validator.Validate
}

func registerInterchangeAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := interchangeApi{
		users:    deps.UserSvc,
		courses:  deps.CourseSvc,
		imports:  deps.ImportSvc,
		exporter: deps.Exporter,
		validate: deps.Validate,
	}

	g.GET("/courses/:slug/:run/export", api.export, jwt, staffMiddleware, courseMiddleware(api.courses))

	ig := g.Group("/imports", jwt, staffMiddleware)
	ig.POST("", api.startImport)
	ig.GET("", api.queryImports)
	ig.GET("/:id", api.retrieveImport)
	ig.POST("/:id/cancel", api.cancelImport)
}

// Handlers

func (api *interchangeApi) export(ctx echo.Context) error {
	c, err := getContextCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context course")
	}
	format := interchange.Format(ctx.QueryParam("format"))
	if format == "" {
		format = interchange.FormatInternal
	}
	if !format.IsValid() {
		return interchange.ErrUnsupportedFormat
	}

	// buffered so that a failing export still gets a proper error response
	var buf bytes.Buffer
	if err := api.exporter.Export(ctx.Request().Context(), c, format, &buf); err != nil {
		return errors.Wrap(err, "exporting course")
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+interchange.Filename(c, format)+`"`)
	return ctx.Blob(http.StatusOK, archiveContentTypes[format], buf.Bytes())
}

func (api *interchangeApi) startImport(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data importjob.NewImport
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewImport")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	if fh, err := ctx.FormFile("config"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return errors.Wrap(err, "opening import config")
		}
		cfg, err := interchange.LoadImportConfig(f)
		_ = f.Close()
		if err != nil {
			return errInvalidImportConfig
		}
		data.Config = &cfg
	} else if err != http.ErrMissingFile {
		return errors.Wrap(err, "reading import config")
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		if err == http.ErrMissingFile {
			return errMissingArchive
		}
		return errors.Wrap(err, "reading course archive")
	}
	archive, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening course archive")
	}
	defer archive.Close()

	task, err := api.imports.Start(ctx.Request().Context(), usr, data, archive)
	if err != nil {
		return errors.Wrap(err, "starting import")
	}
	return ctx.JSON(http.StatusAccepted, task)
}

func (api *interchangeApi) queryImports(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	// staff only see their own imports
	var createdBy string
	if !claims.IsSuperuser {
		createdBy = claims.Subject
	}

	tasks, err := api.imports.Query(ctx.Request().Context(), createdBy)
	if err != nil {
		return errors.Wrap(err, "querying imports")
	}
	if tasks == nil {
		tasks = []importjob.TaskResult{}
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *interchangeApi) retrieveImport(ctx echo.Context) error {
	task, err := api.getTask(ctx)
	if err != nil {
		return err
	}
	status, err := api.imports.Status(ctx.Request().Context(), task.ID)
	if err != nil {
		return errors.Wrap(err, "getting import status")
	}
	return ctx.JSON(http.StatusOK, ImportResponse{TaskResult: task, Progress: status})
}

func (api *interchangeApi) cancelImport(ctx echo.Context) error {
	task, err := api.getTask(ctx)
	if err != nil {
		return err
	}
	if task, err = api.imports.Cancel(ctx.Request().Context(), task.ID); err != nil {
		return errors.Wrap(err, "cancelling import")
	}
	return ctx.JSON(http.StatusOK, task)
}

// getTask finds the import named by the :id param, hiding the imports of other users from non superusers.
func (api *interchangeApi) getTask(ctx echo.Context) (importjob.TaskResult, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return importjob.TaskResult{}, errors.Wrap(err, "getting context claims")
	}
	task, err := api.imports.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return importjob.TaskResult{}, errors.Wrap(err, "finding import")
	}
	if !claims.IsSuperuser && task.CreatedBy != claims.Subject {
		return importjob.TaskResult{}, errHttpNotFound
	}
	return task, nil
}

var (
	errMissingArchive      = echo.NewHTTPError(http.StatusBadRequest, echo.Map{"file": "this field is required"})
	errInvalidImportConfig = echo.NewHTTPError(http.StatusBadRequest, echo.Map{"config": "invalid import configuration"})
)

type ImportResponse struct {
	importjob.TaskResult
	Progress importjob.ImportStatus `json:"progress"`
}
