package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/course"
)

var (
	contextCourseKey     = "course"
	errCourseNotFoundCtx = errors.New("course not found in echo.Context")
)

func staffMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.IsStaff || claims.IsSuperuser {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

func superuserMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.IsSuperuser {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

// courseMiddleware loads the course named by the :slug and :run path params.
func courseMiddleware(svc course.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			c, err := svc.GetByToken(ctx.Request().Context(), ctx.Param("slug"), ctx.Param("run"))
			if err != nil {
				if errors.Cause(err) == course.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding course by token")
			}
			ctx.Set(contextCourseKey, c)
			return next(ctx)
		}
	}
}

func getContextCourse(ctx echo.Context) (course.Course, error) {
	if c, ok := ctx.Get(contextCourseKey).(course.Course); ok {
		return c, nil
	}
	return course.Course{}, errCourseNotFoundCtx
}
