// Package sqlxrepos implements the course, enrollment, progress and import task repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/elimu/core"
)

// postgres error codes
const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

type repository struct {
	db core.DB
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.db
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func pqError(err error) (*pq.Error, bool) {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return pqErr, ok
}

func isUniqueViolation(err error) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == uniqueViolation
}

// isForeignKeyViolation reports whether err violates the foreign key on column (e.g. "unit_id").
func isForeignKeyViolation(err error, column string) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == foreignKeyViolation && strings.Contains(pqErr.Constraint, column)
}

func nullJSON(j types.JSON) null.JSON {
	return null.NewJSON(j, len(j) > 0)
}

func unnullJSON(j null.JSON) types.JSON {
	if !j.Valid {
		return nil
	}
	return types.JSON(j.JSON)
}

// orderBy renders the ORDER BY clause of the orderings, fallback when there is none.
func orderBy(alias string, ordering []core.DBOrdering, fallback string) string {
	if len(ordering) == 0 {
		return " ORDER BY " + fallback
	}
	list := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		list = append(list, alias+ord.String())
	}
	return " ORDER BY " + strings.Join(list, ", ")
}

// selectIn runs a query holding a single "IN (?)" bindvar expanded with ids.
func selectIn(ctx context.Context, exe core.DBExecutor, dest interface{}, query string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(query, ids)
	if err != nil {
		return errors.Wrap(err, "expanding IN query")
	}
	return exe.SelectContext(ctx, dest, exe.Rebind(q), args...)
}
