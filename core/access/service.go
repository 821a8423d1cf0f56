package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/enrollment"
	"github.com/trezcool/elimu/core/user"
)

var ErrCourseAccessDenied = errors.New("you do not have access to this course")

// CanAccessCourse reports whether usr may view c. enr is the enrollment of usr in c, nil when there is none.
// Before the course starts only beta testers get in, and only within the beta window.
func CanAccessCourse(usr user.User, c course.Course, enr *enrollment.Enrollment, now time.Time) bool {
	if usr.IsStaff() {
		return true
	}
	if enr == nil || !enr.Active {
		return false
	}
	if !c.HasStarted(now) {
		if !enr.BetaTester {
			return false
		}
		betaStart := c.StartDate.AddDate(0, 0, -c.DaysEarlyForBeta)
		return now.After(betaStart)
	}
	return true
}

// releaseClock is the moment release dates are compared to, shifted for beta testers.
func releaseClock(c course.Course, enr *enrollment.Enrollment) time.Time {
	now := core.Now()
	if enr != nil && enr.BetaTester && c.DaysEarlyForBeta > 0 {
		now = now.AddDate(0, 0, c.DaysEarlyForBeta)
	}
	return now
}

// CanAccessUnitInNav reports whether every node in the lineage of the unit is released at now.
// A unit missing from nav cannot be accessed.
func CanAccessUnitInNav(nav *course.NavNode, unitID int64, now time.Time) bool {
	lineage := nav.Lineage(unitID)
	if len(lineage) == 0 {
		return false
	}
	for _, n := range lineage {
		if n.ReleaseDatetimeUTC != nil && n.ReleaseDatetimeUTC.After(now) {
			return false
		}
	}
	return true
}

// AccessInfo is everything needed to render a unit page.
type AccessInfo struct {
	Course     course.Course          `json:"course"`
	Enrollment *enrollment.Enrollment `json:"enrollment"`
	NavInfo    UnitNavInfo            `json:"nav_info"`
	// Unit is only loaded when it is released or usr is staff.
	Unit             *course.Unit `json:"unit"`
	UnitReleased     bool         `json:"unit_released"`
	FullContentIndex string       `json:"full_content_index"`
	Message          string       `json:"message,omitempty"`
	AdminMessage     string       `json:"admin_message,omitempty"`
}

type (
	Service interface {
		CanAccessCourse(ctx context.Context, usr user.User, c course.Course) (bool, error)
		CanAccessCourseUnit(ctx context.Context, usr user.User, c course.Course, unitID int64) (bool, error)
		// GetAccessInfo resolves a unit page. Unreleased modules and sections are denied to non staff
		// with a *course.NodeNotReleasedError; an unreleased unit is returned without its content.
		GetAccessInfo(ctx context.Context, usr user.User, slug, run, moduleSlug, sectionSlug, unitSlug string) (AccessInfo, error)
	}

	service struct {
		courses     course.Service
		enrollments enrollment.Service
		logger      core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(courses course.Service, enrollments enrollment.Service, logger core.Logger) Service {
	return &service{courses: courses, enrollments: enrollments, logger: logger}
}

// enrollment returns the enrollment of usr in c, active or not, or nil.
func (svc *service) enrollment(ctx context.Context, usr user.User, c course.Course) (*enrollment.Enrollment, error) {
	enr, err := svc.enrollments.Get(ctx, usr.ID, c.ID)
	if err != nil {
		if pkgerrors.Cause(err) == enrollment.ErrNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "getting enrollment")
	}
	return &enr, nil
}

func (svc *service) CanAccessCourse(ctx context.Context, usr user.User, c course.Course) (bool, error) {
	if usr.IsStaff() {
		return true, nil
	}
	enr, err := svc.enrollment(ctx, usr, c)
	if err != nil {
		return false, err
	}
	if enr == nil || !enr.Active {
		svc.logger.Info(fmt.Sprintf("user %s wants to view course %s and cannot because not enrolled", usr.ID, c.Token()))
		return false, nil
	}
	return CanAccessCourse(usr, c, enr, core.Now()), nil
}

func (svc *service) CanAccessCourseUnit(ctx context.Context, usr user.User, c course.Course, unitID int64) (bool, error) {
	if usr.IsStaff() {
		return true, nil
	}
	enr, err := svc.enrollment(ctx, usr, c)
	if err != nil || enr == nil {
		return false, err
	}
	if !CanAccessCourse(usr, c, enr, core.Now()) {
		return false, nil
	}

	nav, err := svc.courses.GetNav(ctx, c, enr.BetaTester)
	if err != nil {
		return false, err
	}
	if !CanAccessUnitInNav(nav, unitID, releaseClock(c, enr)) {
		if len(nav.Lineage(unitID)) == 0 {
			svc.logger.Warn(fmt.Sprintf("could not find unit %d in the nav of course %s", unitID, c.Token()))
		}
		return false, nil
	}
	return true, nil
}

func (svc *service) GetAccessInfo(ctx context.Context, usr user.User, slug, run, moduleSlug, sectionSlug, unitSlug string) (AccessInfo, error) {
	c, err := svc.courses.GetByToken(ctx, slug, run)
	if err != nil {
		return AccessInfo{}, err
	}
	info := AccessInfo{Course: c}

	enr, err := svc.enrollment(ctx, usr, c)
	if err != nil {
		return AccessInfo{}, err
	}
	if (enr == nil || !enr.Active) && usr.IsSuperuser() {
		// superusers are enrolled on their first visit
		created, err := svc.enrollments.DoEnrollment(ctx, usr, c, false)
		if err != nil {
			return AccessInfo{}, pkgerrors.Wrap(err, "enrolling superuser")
		}
		enr = &created
	}
	info.Enrollment = enr

	if !CanAccessCourse(usr, c, enr, core.Now()) {
		return AccessInfo{}, ErrCourseAccessDenied
	}

	isBetaTester := enr != nil && enr.BetaTester
	nav, err := svc.courses.GetNav(ctx, c, isBetaTester)
	if err != nil {
		return AccessInfo{}, err
	}

	isStaff := usr.IsStaff()
	navInfo, err := GetUnitNavInfo(nav, moduleSlug, sectionSlug, unitSlug, isStaff)
	if err != nil {
		return AccessInfo{}, err
	}
	info.NavInfo = navInfo
	info.FullContentIndex = navInfo.FullContentIndex()

	switch {
	case !navInfo.ModuleReleased:
		if !isStaff {
			return AccessInfo{}, &course.NodeNotReleasedError{Level: course.NodeTypeModule, ReleaseDatetime: navInfo.ModuleReleaseDatetime}
		}
		info.AdminMessage = "This unit is not yet available to students (Module not released)."
	case !navInfo.SectionReleased:
		if !isStaff {
			return AccessInfo{}, &course.NodeNotReleasedError{Level: course.NodeTypeSection, ReleaseDatetime: navInfo.SectionReleaseDatetime}
		}
		info.AdminMessage = "This unit is not yet available to students (Section not released)."
	case !navInfo.UnitNodeReleased && isStaff:
		info.AdminMessage = "This unit is not yet available to students (Unit not released)."
	}

	info.UnitReleased = c.SelfPaced || navInfo.UnitNodeReleased
	if !info.UnitReleased {
		info.Message = "This unit is not yet released."
		if navInfo.UnitReleaseDatetime != nil {
			info.Message = "This unit will be released on " + course.FormatReleaseDatetime(*navInfo.UnitReleaseDatetime) + "."
		}
	}

	if (info.UnitReleased || isStaff) && navInfo.UnitID != 0 {
		unit, err := svc.courses.GetUnit(ctx, navInfo.UnitID)
		if err != nil {
			return AccessInfo{}, pkgerrors.Wrap(err, "getting unit")
		}
		info.Unit = &unit
	}
	return info, nil
}
