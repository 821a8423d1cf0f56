package enrollment

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/user"
)

var (
	ErrNotFound                      = errors.New("enrollment not found")
	ErrEnrollmentPeriodHasNotStarted = errors.New("enrollment for this course has not started yet")
	ErrStudentAlreadyEnrolled        = errors.New("you are already enrolled in this course")
	ErrAdminOnlyEnrollment           = errors.New("enrollment in this course is managed by the course staff")
)

type (
	Repository interface {
		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		UpdateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		GetEnrollment(ctx context.Context, studentID string, courseID int64, exec ...core.DBExecutor) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Enrollment, error)
	}

	// GroupRepository maintains the per course groups of enrolled students.
	GroupRepository interface {
		// AddGroupMember creates the group when it does not exist yet.
		AddGroupMember(ctx context.Context, groupName, userID string, exec ...core.DBExecutor) error
		RemoveGroupMember(ctx context.Context, groupName, userID string, exec ...core.DBExecutor) error
	}

	Service interface {
		// DoEnrollment enrolls usr, reactivating a previous enrollment if any.
		// The enrollment start date is only enforced for non superusers when checkEnrollmentPeriod is set.
		DoEnrollment(ctx context.Context, usr user.User, c course.Course, checkEnrollmentPeriod bool) (Enrollment, error)
		DoUnenrollment(ctx context.Context, usr user.User, c course.Course) (Enrollment, error)
		// Enroll is the self service enrollment of usr.
		Enroll(ctx context.Context, usr user.User, c course.Course) (Enrollment, error)
		SetBetaTester(ctx context.Context, studentID string, c course.Course, betaTester bool) (Enrollment, error)
		Get(ctx context.Context, studentID string, courseID int64) (Enrollment, error)
		GetActive(ctx context.Context, studentID string, courseID int64) (Enrollment, error)
		QueryByCourse(ctx context.Context, courseID int64, activeOnly bool) ([]Enrollment, error)
	}

	service struct {
		repo   Repository
		groups GroupRepository
		mailer core.EmailService
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, groups GroupRepository, mailer core.EmailService, logger core.Logger) Service {
	return &service{repo: repo, groups: groups, mailer: mailer, logger: logger}
}

func (svc *service) DoEnrollment(ctx context.Context, usr user.User, c course.Course, checkEnrollmentPeriod bool) (Enrollment, error) {
	if !usr.IsSuperuser() && checkEnrollmentPeriod && !c.EnrollmentHasStarted(core.Now()) {
		return Enrollment{}, ErrEnrollmentPeriodHasNotStarted
	}

	enr, err := svc.repo.GetEnrollment(ctx, usr.ID, c.ID)
	switch {
	case err == nil:
		if !enr.Active {
			enr.Active = true
			enr.UpdatedAt = core.Now()
			if enr, err = svc.repo.UpdateEnrollment(ctx, enr); err != nil {
				return Enrollment{}, pkgerrors.Wrap(err, "reactivating enrollment")
			}
		}
	case pkgerrors.Cause(err) == ErrNotFound:
		now := core.Now()
		enr, err = svc.repo.CreateEnrollment(ctx, Enrollment{
			StudentID: usr.ID,
			CourseID:  c.ID,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return Enrollment{}, pkgerrors.Wrap(err, "creating enrollment")
		}
	default:
		return Enrollment{}, pkgerrors.Wrap(err, "getting enrollment")
	}

	// from here, ancillary failures never block the enrollment
	if err := svc.groups.AddGroupMember(ctx, c.GroupName(), usr.ID); err != nil {
		svc.logger.Error(
			fmt.Sprintf("could not add user %s to course group %s. FAILING SILENTLY", usr.ID, c.GroupName()),
			err, usr,
		)
	}
	svc.sendEnrollmentEmail(usr, c)
	return enr, nil
}

func (svc *service) sendEnrollmentEmail(usr user.User, c course.Course) {
	if usr.Email == "" {
		return
	}
	svc.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      "Welcome to " + c.DisplayName,
		TemplateName: "enrollment",
		TemplateData: map[string]interface{}{
			"Name":       usr.DisplayName(),
			"CourseName": c.DisplayName,
			"CoursePath": c.CourseURL(),
		},
	})
}

func (svc *service) DoUnenrollment(ctx context.Context, usr user.User, c course.Course) (Enrollment, error) {
	enr, err := svc.repo.GetEnrollment(ctx, usr.ID, c.ID)
	if err != nil {
		return Enrollment{}, err
	}
	enr.Active = false
	enr.UpdatedAt = core.Now()
	if enr, err = svc.repo.UpdateEnrollment(ctx, enr); err != nil {
		return Enrollment{}, pkgerrors.Wrap(err, "deactivating enrollment")
	}

	if err := svc.groups.RemoveGroupMember(ctx, c.GroupName(), usr.ID); err != nil {
		svc.logger.Error(
			fmt.Sprintf("could not remove user %s from course group %s. FAILING SILENTLY", usr.ID, c.GroupName()),
			err, usr,
		)
	}
	return enr, nil
}

func (svc *service) Enroll(ctx context.Context, usr user.User, c course.Course) (Enrollment, error) {
	if c.AdminOnlyEnrollment && !usr.IsStaff() {
		return Enrollment{}, ErrAdminOnlyEnrollment
	}
	enr, err := svc.repo.GetEnrollment(ctx, usr.ID, c.ID)
	if err == nil && enr.Active {
		return Enrollment{}, ErrStudentAlreadyEnrolled
	} else if err != nil && pkgerrors.Cause(err) != ErrNotFound {
		return Enrollment{}, pkgerrors.Wrap(err, "getting enrollment")
	}
	return svc.DoEnrollment(ctx, usr, c, true)
}

func (svc *service) SetBetaTester(ctx context.Context, studentID string, c course.Course, betaTester bool) (Enrollment, error) {
	enr, err := svc.repo.GetEnrollment(ctx, studentID, c.ID)
	if err != nil {
		return Enrollment{}, err
	}
	if enr.BetaTester == betaTester {
		return enr, nil
	}
	enr.BetaTester = betaTester
	enr.UpdatedAt = core.Now()
	return svc.repo.UpdateEnrollment(ctx, enr)
}

func (svc *service) Get(ctx context.Context, studentID string, courseID int64) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, studentID, courseID)
}

func (svc *service) GetActive(ctx context.Context, studentID string, courseID int64) (Enrollment, error) {
	enr, err := svc.repo.GetEnrollment(ctx, studentID, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !enr.Active {
		return Enrollment{}, ErrNotFound
	}
	return enr, nil
}

func (svc *service) QueryByCourse(ctx context.Context, courseID int64, activeOnly bool) ([]Enrollment, error) {
	filter := QueryFilter{CourseID: courseID}
	if activeOnly {
		active := true
		filter.Active = &active
	}
	return svc.repo.QueryEnrollments(ctx, filter)
}
