package sqlxrepos

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/enrollment"
)

type enrollmentRow struct {
	ID         int64     `db:"id"`
	StudentID  string    `db:"student_id"`
	CourseID   int64     `db:"course_id"`
	Active     bool      `db:"active"`
	BetaTester bool      `db:"beta_tester"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (row enrollmentRow) unboil() enrollment.Enrollment {
	return enrollment.Enrollment(row)
}

const enrollmentColumns = "id, student_id, course_id, active, beta_tester, created_at, updated_at"

type enrollmentRepository struct {
	repository
}

var (
	_ enrollment.Repository      = (*enrollmentRepository)(nil) // interface compliance check
	_ enrollment.GroupRepository = (*groupRepository)(nil)
)

func NewEnrollmentRepository(db core.DB) enrollment.Repository {
	return &enrollmentRepository{repository{db: db}}
}

func (repo enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	err := repo.getExec(exec).QueryRowxContext(ctx, `
		INSERT INTO enrollment (student_id, course_id, active, beta_tester)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		e.StudentID, e.CourseID, e.Active, e.BetaTester,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return enrollment.Enrollment{}, enrollment.ErrStudentAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return e, nil
}

func (repo enrollmentRepository) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	err := repo.getExec(exec).QueryRowxContext(ctx, `
		UPDATE enrollment SET active = $2, beta_tester = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.Active, e.BetaTester,
	).Scan(&e.UpdatedAt)
	if err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "updating enrollment")
	}
	return e, nil
}

func (repo enrollmentRepository) GetEnrollment(ctx context.Context, studentID string, courseID int64, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	var row enrollmentRow
	q := "SELECT " + enrollmentColumns + " FROM enrollment WHERE student_id = $1 AND course_id = $2"
	if err := repo.getExec(exec).GetContext(ctx, &row, q, studentID, courseID); err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "finding enrollment")
	}
	return row.unboil(), nil
}

func (repo enrollmentRepository) QueryEnrollments(ctx context.Context, filter enrollment.QueryFilter, exec ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	var conds []string
	var args []interface{}
	where := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}

	if filter.CourseID != 0 {
		where("course_id =", filter.CourseID)
	}
	if filter.StudentID != "" {
		where("student_id =", filter.StudentID)
	}
	if filter.Active != nil {
		where("active =", *filter.Active)
	}
	if filter.BetaTester != nil {
		where("beta_tester =", *filter.BetaTester)
	}

	q := "SELECT " + enrollmentColumns + " FROM enrollment"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"

	var rows []enrollmentRow
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrs := make([]enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrs = append(enrs, row.unboil())
	}
	return enrs, nil
}

type groupRepository struct {
	repository
}

func NewGroupRepository(db core.DB) enrollment.GroupRepository {
	return &groupRepository{repository{db: db}}
}

func (repo groupRepository) AddGroupMember(ctx context.Context, groupName, userID string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)

	// the no-op update makes RETURNING yield the id of an existing group
	var groupID int64
	err := exe.QueryRowxContext(ctx, `
		INSERT INTO "group" (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, groupName,
	).Scan(&groupID)
	if err != nil {
		return errors.Wrap(err, "saving group")
	}

	_, err = exe.ExecContext(ctx,
		"INSERT INTO group_member (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", groupID, userID)
	return errors.Wrap(err, "adding group member")
}

func (repo groupRepository) RemoveGroupMember(ctx context.Context, groupName, userID string, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx, `
		DELETE FROM group_member
		WHERE user_id = $2 AND group_id IN (SELECT id FROM "group" WHERE name = $1)`,
		groupName, userID)
	return errors.Wrap(err, "removing group member")
}
