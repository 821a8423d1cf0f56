package dummydb

import (
	"context"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/progress"
)

type progressRepository struct {
	db *DB
}

var _ progress.Repository = (*progressRepository)(nil)

func NewProgressRepository(db *DB) progress.Repository {
	return &progressRepository{db: db}
}

func (repo *progressRepository) CreateMilestone(_ context.Context, m progress.Milestone, _ ...core.DBExecutor) (progress.Milestone, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, ms := range repo.db.milestones {
		if ms.CourseID == m.CourseID && ms.Slug == m.Slug {
			return progress.Milestone{}, core.NewFieldValidationError("slug", "a milestone with this slug already exists")
		}
	}
	m.ID = repo.db.nextPK()
	repo.db.milestones[m.ID] = &m
	return m, nil
}

func (repo *progressRepository) GetMilestone(_ context.Context, id int64, _ ...core.DBExecutor) (progress.Milestone, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if m, ok := repo.db.milestones[id]; ok {
		return *m, nil
	}
	return progress.Milestone{}, progress.ErrMilestoneNotFound
}

func (repo *progressRepository) QueryMilestones(_ context.Context, courseID int64, requiredOnly bool, _ ...core.DBExecutor) ([]progress.Milestone, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var milestones []progress.Milestone
	for _, m := range repo.db.milestones {
		if m.CourseID == courseID && (!requiredOnly || m.RequiredToPass) {
			milestones = append(milestones, *m)
		}
	}
	sortByID(milestones, func(m progress.Milestone) int64 { return m.ID })
	return milestones, nil
}

// studentProgress must be called with the lock held.
func (repo *progressRepository) studentProgress(milestoneID int64, studentID string) *progress.MilestoneProgress {
	for _, p := range repo.db.progresses {
		if p.MilestoneID == milestoneID && p.StudentID == studentID {
			return p
		}
	}
	return nil
}

func (repo *progressRepository) GetOrCreateProgress(_ context.Context, milestoneID int64, studentID string, courseID int64, _ ...core.DBExecutor) (progress.MilestoneProgress, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if p := repo.studentProgress(milestoneID, studentID); p != nil {
		return *p, nil
	}
	now := core.Now()
	p := &progress.MilestoneProgress{
		ID:          repo.db.nextPK(),
		MilestoneID: milestoneID,
		StudentID:   studentID,
		CourseID:    courseID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	repo.db.progresses[p.ID] = p
	return *p, nil
}

func (repo *progressRepository) GetProgress(_ context.Context, id int64, _ ...core.DBExecutor) (progress.MilestoneProgress, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.progresses[id]; ok {
		return *p, nil
	}
	return progress.MilestoneProgress{}, progress.ErrNotFound
}

func (repo *progressRepository) GetStudentProgress(_ context.Context, milestoneID int64, studentID string, _ ...core.DBExecutor) (progress.MilestoneProgress, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p := repo.studentProgress(milestoneID, studentID); p != nil {
		return *p, nil
	}
	return progress.MilestoneProgress{}, progress.ErrNotFound
}

func (repo *progressRepository) QueryProgresses(_ context.Context, milestoneID int64, _ ...core.DBExecutor) ([]progress.MilestoneProgress, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var progresses []progress.MilestoneProgress
	for _, p := range repo.db.progresses {
		if p.MilestoneID == milestoneID {
			progresses = append(progresses, *p)
		}
	}
	sortByID(progresses, func(p progress.MilestoneProgress) int64 { return p.ID })
	return progresses, nil
}

func (repo *progressRepository) IncrementProgress(_ context.Context, id int64, countDelta, scoreDelta int, _ ...core.DBExecutor) (progress.MilestoneProgress, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.progresses[id]
	if !ok {
		return progress.MilestoneProgress{}, progress.ErrNotFound
	}
	p.Count += countDelta
	p.TotalScore += scoreDelta
	p.UpdatedAt = core.Now()
	return *p, nil
}

func (repo *progressRepository) SetProgressTotals(_ context.Context, id int64, count, totalScore int, _ ...core.DBExecutor) (progress.MilestoneProgress, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.progresses[id]
	if !ok {
		return progress.MilestoneProgress{}, progress.ErrNotFound
	}
	p.Count = count
	p.TotalScore = totalScore
	p.UpdatedAt = core.Now()
	return *p, nil
}

func (repo *progressRepository) MarkProgressAchieved(_ context.Context, id int64, _ ...core.DBExecutor) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.progresses[id]
	if !ok || p.Achieved {
		return false, nil
	}
	now := core.Now()
	p.Achieved = true
	p.AchievedDate = &now
	p.UpdatedAt = now
	return true, nil
}

func (repo *progressRepository) InsertProgressBlock(_ context.Context, pb progress.ProgressBlock, _ ...core.DBExecutor) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.progressBlocks {
		if existing.ProgressID == pb.ProgressID && existing.BlockID == pb.BlockID {
			return false, nil
		}
	}
	pb.ID = repo.db.nextPK()
	repo.db.progressBlocks[pb.ID] = &pb
	return true, nil
}

func (repo *progressRepository) DeleteProgressBlocks(_ context.Context, progressIDs []int64, blockID int64, _ ...core.DBExecutor) ([]progress.ProgressBlock, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ids := make(map[int64]bool, len(progressIDs))
	for _, id := range progressIDs {
		ids[id] = true
	}
	var deleted []progress.ProgressBlock
	for id, pb := range repo.db.progressBlocks {
		if pb.BlockID == blockID && ids[pb.ProgressID] {
			deleted = append(deleted, *pb)
			delete(repo.db.progressBlocks, id)
		}
	}
	sortByID(deleted, func(pb progress.ProgressBlock) int64 { return pb.ID })
	return deleted, nil
}

func (repo *progressRepository) QueryProgressBlocks(_ context.Context, progressID int64, _ ...core.DBExecutor) ([]progress.ProgressBlock, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var blocks []progress.ProgressBlock
	for _, pb := range repo.db.progressBlocks {
		if pb.ProgressID == progressID {
			blocks = append(blocks, *pb)
		}
	}
	sortByID(blocks, func(pb progress.ProgressBlock) int64 { return pb.ID })
	return blocks, nil
}

func (repo *progressRepository) SaveProgressBlocks(_ context.Context, blocks []progress.ProgressBlock, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, pb := range blocks {
		pb := pb
		if pb.ID == 0 {
			pb.ID = repo.db.nextPK()
		}
		repo.db.progressBlocks[pb.ID] = &pb
	}
	return nil
}

func (repo *progressRepository) UpsertSubmittedAnswer(_ context.Context, a progress.SubmittedAnswer, _ ...core.DBExecutor) (progress.SubmittedAnswer, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.answers {
		if existing.CourseID == a.CourseID && existing.StudentID == a.StudentID && existing.BlockID == a.BlockID {
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
			break
		}
	}
	if a.ID == 0 {
		a.ID = repo.db.nextPK()
	}
	repo.db.answers[a.ID] = &a
	return a, nil
}

func (repo *progressRepository) QuerySubmittedAnswers(_ context.Context, courseID int64, studentID string, _ ...core.DBExecutor) ([]progress.SubmittedAnswer, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var answers []progress.SubmittedAnswer
	for _, a := range repo.db.answers {
		if a.CourseID == courseID && a.StudentID == studentID {
			answers = append(answers, *a)
		}
	}
	sortByID(answers, func(a progress.SubmittedAnswer) int64 { return a.ID })
	return answers, nil
}
