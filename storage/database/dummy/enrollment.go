package dummydb

import (
	"context"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/enrollment"
)

type enrollmentRepository struct {
	db *DB
}

var (
	_ enrollment.Repository      = (*enrollmentRepository)(nil)
	_ enrollment.GroupRepository = (*groupRepository)(nil)
)

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db}
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, enr := range repo.db.enrollments {
		if enr.StudentID == e.StudentID && enr.CourseID == e.CourseID {
			return enrollment.Enrollment{}, enrollment.ErrStudentAlreadyEnrolled
		}
	}
	e.ID = repo.db.nextPK()
	repo.db.enrollments[e.ID] = &e
	return e, nil
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, e enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.enrollments[e.ID]; !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	repo.db.enrollments[e.ID] = &e
	return e, nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, studentID string, courseID int64, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, enr := range repo.db.enrollments {
		if enr.StudentID == studentID && enr.CourseID == courseID {
			return *enr, nil
		}
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, filter enrollment.QueryFilter, _ ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var enrs []enrollment.Enrollment
	for _, enr := range repo.db.enrollments {
		switch {
		case filter.CourseID != 0 && enr.CourseID != filter.CourseID,
			filter.StudentID != "" && enr.StudentID != filter.StudentID,
			filter.Active != nil && enr.Active != *filter.Active,
			filter.BetaTester != nil && enr.BetaTester != *filter.BetaTester:
			continue
		}
		enrs = append(enrs, *enr)
	}
	sortByID(enrs, func(e enrollment.Enrollment) int64 { return e.ID })
	return enrs, nil
}

type groupRepository struct {
	db *DB
}

func NewGroupRepository(db *DB) enrollment.GroupRepository {
	return &groupRepository{db: db}
}

func (repo *groupRepository) AddGroupMember(_ context.Context, groupName, userID string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.groups[groupName]; !ok {
		repo.db.groups[groupName] = make(map[string]bool)
	}
	repo.db.groups[groupName][userID] = true
	return nil
}

func (repo *groupRepository) RemoveGroupMember(_ context.Context, groupName, userID string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.groups[groupName], userID)
	return nil
}
