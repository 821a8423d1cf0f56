package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

var (
	ErrNotFound           = errors.New("milestone progress not found")
	ErrMilestoneNotFound  = errors.New("milestone not found")
	ErrRescoreUnsupported = errors.New("only CORRECT_ANSWERS milestones can be rescored")
	ErrBlockNotAnswerable = errors.New("this block does not accept answers")
)

type (
	Repository interface {
		CreateMilestone(ctx context.Context, m Milestone, exec ...core.DBExecutor) (Milestone, error)
		GetMilestone(ctx context.Context, id int64, exec ...core.DBExecutor) (Milestone, error)
		QueryMilestones(ctx context.Context, courseID int64, requiredOnly bool, exec ...core.DBExecutor) ([]Milestone, error)

		GetOrCreateProgress(ctx context.Context, milestoneID int64, studentID string, courseID int64, exec ...core.DBExecutor) (MilestoneProgress, error)
		GetProgress(ctx context.Context, id int64, exec ...core.DBExecutor) (MilestoneProgress, error)
		// GetStudentProgress returns ErrNotFound when the student has no progress on the milestone yet.
		GetStudentProgress(ctx context.Context, milestoneID int64, studentID string, exec ...core.DBExecutor) (MilestoneProgress, error)
		QueryProgresses(ctx context.Context, milestoneID int64, exec ...core.DBExecutor) ([]MilestoneProgress, error)
		// IncrementProgress adds the deltas to count and total_score in a single statement and returns the new row.
		IncrementProgress(ctx context.Context, id int64, countDelta, scoreDelta int, exec ...core.DBExecutor) (MilestoneProgress, error)
		SetProgressTotals(ctx context.Context, id int64, count, totalScore int, exec ...core.DBExecutor) (MilestoneProgress, error)
		// MarkProgressAchieved only updates a progress that is not achieved yet, and reports whether it did.
		MarkProgressAchieved(ctx context.Context, id int64, exec ...core.DBExecutor) (bool, error)

		// InsertProgressBlock reports false when the block was already attributed to the progress.
		InsertProgressBlock(ctx context.Context, pb ProgressBlock, exec ...core.DBExecutor) (bool, error)
		// DeleteProgressBlocks deletes the attribution of blockID from the given progresses and returns the deleted rows.
		DeleteProgressBlocks(ctx context.Context, progressIDs []int64, blockID int64, exec ...core.DBExecutor) ([]ProgressBlock, error)
		QueryProgressBlocks(ctx context.Context, progressID int64, exec ...core.DBExecutor) ([]ProgressBlock, error)
		// SaveProgressBlocks creates the blocks without ID and updates the score of the others.
		SaveProgressBlocks(ctx context.Context, blocks []ProgressBlock, exec ...core.DBExecutor) error

		UpsertSubmittedAnswer(ctx context.Context, a SubmittedAnswer, exec ...core.DBExecutor) (SubmittedAnswer, error)
		QuerySubmittedAnswers(ctx context.Context, courseID int64, studentID string, exec ...core.DBExecutor) ([]SubmittedAnswer, error)
	}

	// BlockLoader loads blocks of a course.
	BlockLoader interface {
		QueryBlocks(ctx context.Context, courseID int64, blockType course.BlockType, exec ...core.DBExecutor) ([]course.Block, error)
		GetBlock(ctx context.Context, id int64, exec ...core.DBExecutor) (course.Block, error)
	}

	Service interface {
		CreateMilestone(ctx context.Context, m Milestone) (Milestone, error)
		GetMilestone(ctx context.Context, id int64) (Milestone, error)
		QueryMilestones(ctx context.Context, courseID int64) ([]Milestone, error)

		// AddBlock attributes blockID to p once. It returns the new count and whether p was just achieved.
		AddBlock(ctx context.Context, p MilestoneProgress, blockID int64, score int) (int, bool, error)
		// RemoveBlock never revokes an achievement.
		RemoveBlock(ctx context.Context, p MilestoneProgress, blockID int64) (int, error)
		// BulkRemoveBlock removes blockID from every progress of the milestone and returns how many were updated.
		BulkRemoveBlock(ctx context.Context, milestoneID, blockID int64) (int, error)
		MarkAchieved(ctx context.Context, p MilestoneProgress) (bool, error)
		// Rescore replays the finished answers of the student. Only answers to blockID are graded again when it is set.
		Rescore(ctx context.Context, p MilestoneProgress, blockID *int64) (bool, error)
		RescoreMilestone(ctx context.Context, milestoneID int64, blockID *int64) (int, error)

		// SubmitAnswer grades and saves an answer, then credits the milestones it counts towards.
		SubmitAnswer(ctx context.Context, c course.Course, studentID string, blockID int64, answer string) (SubmittedAnswer, error)
		GetProgressStatus(ctx context.Context, c course.Course, studentID string, moduleNodeID *int64) (ProgressStatus, error)
	}

	service struct {
		repo    Repository
		blocks  BlockLoader
		courses course.Service
		txr     core.Transactor
		grade   Grader
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, blocks BlockLoader, courses course.Service, txr core.Transactor, logger core.Logger) Service {
	return &service{
		repo:    repo,
		blocks:  blocks,
		courses: courses,
		txr:     txr,
		grade:   GradeAnswer,
		logger:  logger,
	}
}

func (svc *service) CreateMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	m.Slug = core.CleanString(m.Slug)
	if !core.IsSlug(m.Slug) {
		return Milestone{}, core.NewFieldValidationError("slug", "invalid slug")
	}
	if err := m.Validate(); err != nil {
		return Milestone{}, err
	}
	return svc.repo.CreateMilestone(ctx, m)
}

func (svc *service) GetMilestone(ctx context.Context, id int64) (Milestone, error) {
	return svc.repo.GetMilestone(ctx, id)
}

func (svc *service) QueryMilestones(ctx context.Context, courseID int64) ([]Milestone, error) {
	return svc.repo.QueryMilestones(ctx, courseID, false)
}

func (svc *service) AddBlock(ctx context.Context, p MilestoneProgress, blockID int64, score int) (int, bool, error) {
	newCount := p.Count
	var justAchieved bool
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		inserted, err := svc.repo.InsertProgressBlock(ctx, ProgressBlock{ProgressID: p.ID, BlockID: blockID, Score: score}, exec)
		if err != nil {
			return pkgerrors.Wrap(err, "inserting progress block")
		}
		if !inserted {
			return nil
		}
		updated, err := svc.repo.IncrementProgress(ctx, p.ID, 1, score, exec)
		if err != nil {
			return pkgerrors.Wrap(err, "incrementing progress")
		}
		newCount = updated.Count
		justAchieved, err = svc.markAchieved(ctx, updated, exec)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return newCount, justAchieved, nil
}

func (svc *service) RemoveBlock(ctx context.Context, p MilestoneProgress, blockID int64) (int, error) {
	newCount := p.Count
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		deleted, err := svc.repo.DeleteProgressBlocks(ctx, []int64{p.ID}, blockID, exec)
		if err != nil {
			return pkgerrors.Wrap(err, "deleting progress block")
		}
		if len(deleted) == 0 {
			svc.logger.Warn(fmt.Sprintf("milestone progress %d: block %d was not attributed", p.ID, blockID))
			return nil
		}
		updated, err := svc.repo.IncrementProgress(ctx, p.ID, -1, -deleted[0].Score, exec)
		if err != nil {
			return pkgerrors.Wrap(err, "decrementing progress")
		}
		newCount = updated.Count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

func (svc *service) BulkRemoveBlock(ctx context.Context, milestoneID, blockID int64) (int, error) {
	var updated int
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		progresses, err := svc.repo.QueryProgresses(ctx, milestoneID, exec)
		if err != nil {
			return pkgerrors.Wrap(err, "querying milestone progresses")
		}
		ids := make([]int64, 0, len(progresses))
		for _, p := range progresses {
			ids = append(ids, p.ID)
		}
		deleted, err := svc.repo.DeleteProgressBlocks(ctx, ids, blockID, exec)
		if err != nil {
			return pkgerrors.Wrap(err, "deleting progress blocks")
		}
		for _, pb := range deleted {
			if _, err := svc.repo.IncrementProgress(ctx, pb.ProgressID, -1, -pb.Score, exec); err != nil {
				return pkgerrors.Wrap(err, "decrementing progress")
			}
		}
		updated = len(deleted)
		return nil
	})
	return updated, err
}

func (svc *service) MarkAchieved(ctx context.Context, p MilestoneProgress) (bool, error) {
	return svc.markAchieved(ctx, p, nil)
}

// markAchieved achieves p when its milestone is met. Achievement is one way.
func (svc *service) markAchieved(ctx context.Context, p MilestoneProgress, exec core.DBExecutor) (bool, error) {
	if p.Achieved {
		return false, nil
	}
	m, err := svc.repo.GetMilestone(ctx, p.MilestoneID, exec)
	if err != nil {
		return false, pkgerrors.Wrap(err, "getting milestone")
	}
	if !m.isMet(p.Count, p.TotalScore) {
		return false, nil
	}
	achieved, err := svc.repo.MarkProgressAchieved(ctx, p.ID, exec)
	if err != nil {
		return false, pkgerrors.Wrap(err, "marking progress achieved")
	}
	if achieved {
		progressAchievements.WithLabelValues(string(m.Type)).Inc()
	}
	return achieved, nil
}

func (svc *service) Rescore(ctx context.Context, p MilestoneProgress, blockID *int64) (bool, error) {
	m, err := svc.repo.GetMilestone(ctx, p.MilestoneID)
	if err != nil {
		return false, err
	}
	if m.Type != MilestoneTypeCorrectAnswers {
		return false, ErrRescoreUnsupported
	}

	var justAchieved bool
	err = svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		justAchieved, err = svc.rescore(ctx, m, p, blockID, exec)
		return err
	})
	return justAchieved, err
}

func (svc *service) rescore(ctx context.Context, m Milestone, p MilestoneProgress, blockID *int64, exec core.DBExecutor) (bool, error) {
	assessments, err := svc.blocks.QueryBlocks(ctx, p.CourseID, course.BlockTypeAssessment, exec)
	if err != nil {
		return false, pkgerrors.Wrap(err, "querying assessments")
	}
	blocks := make(map[int64]course.Block, len(assessments))
	for _, b := range assessments {
		blocks[b.ID] = b
	}

	existing, err := svc.repo.QueryProgressBlocks(ctx, p.ID, exec)
	if err != nil {
		return false, pkgerrors.Wrap(err, "querying progress blocks")
	}
	attributed := make(map[int64]ProgressBlock, len(existing))
	for _, pb := range existing {
		attributed[pb.BlockID] = pb
	}

	answers, err := svc.repo.QuerySubmittedAnswers(ctx, p.CourseID, p.StudentID, exec)
	if err != nil {
		return false, pkgerrors.Wrap(err, "querying submitted answers")
	}

	var total int
	save := make([]ProgressBlock, 0, len(answers))
	for _, answer := range answers {
		block, ok := blocks[answer.BlockID]
		if !ok || (m.CountGradedOnly && !block.Graded) {
			continue
		}
		if blockID == nil || *blockID == answer.BlockID {
			status, score := svc.grade(block, answer.Answer)
			if status != answer.Status || score != answer.Score {
				answer.Status, answer.Score = status, score
				answer.UpdatedAt = core.Now()
				if _, err := svc.repo.UpsertSubmittedAnswer(ctx, answer, exec); err != nil {
					return false, pkgerrors.Wrap(err, "updating submitted answer")
				}
			}
		}
		if !answer.Status.Finished() {
			continue
		}
		pb, ok := attributed[answer.BlockID]
		if !ok {
			pb = ProgressBlock{ProgressID: p.ID, BlockID: answer.BlockID}
		}
		pb.Score = answer.Score
		save = append(save, pb)
		total += answer.Score
	}

	if err := svc.repo.SaveProgressBlocks(ctx, save, exec); err != nil {
		return false, pkgerrors.Wrap(err, "saving progress blocks")
	}
	updated, err := svc.repo.SetProgressTotals(ctx, p.ID, len(save), total, exec)
	if err != nil {
		return false, pkgerrors.Wrap(err, "updating progress totals")
	}
	return svc.markAchieved(ctx, updated, exec)
}

func (svc *service) RescoreMilestone(ctx context.Context, milestoneID int64, blockID *int64) (int, error) {
	m, err := svc.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return 0, err
	}
	if m.Type != MilestoneTypeCorrectAnswers {
		return 0, ErrRescoreUnsupported
	}
	progresses, err := svc.repo.QueryProgresses(ctx, milestoneID)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "querying milestone progresses")
	}

	var achieved int
	for _, p := range progresses {
		p := p
		err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
			justAchieved, err := svc.rescore(ctx, m, p, blockID, exec)
			if justAchieved {
				achieved++
			}
			return err
		})
		if err != nil {
			return achieved, pkgerrors.Wrapf(err, "rescoring progress %d", p.ID)
		}
	}
	return achieved, nil
}

func (svc *service) SubmitAnswer(ctx context.Context, c course.Course, studentID string, blockID int64, answer string) (SubmittedAnswer, error) {
	block, err := svc.blocks.GetBlock(ctx, blockID)
	if err != nil {
		return SubmittedAnswer{}, err
	}
	var milestoneType MilestoneType
	for mt, it := range itemTypes {
		if it.blockType == block.Type {
			milestoneType = mt
		}
	}
	if milestoneType == "" {
		return SubmittedAnswer{}, ErrBlockNotAnswerable
	}

	now := core.Now()
	sa := SubmittedAnswer{CourseID: c.ID, StudentID: studentID, BlockID: blockID, Answer: answer, CreatedAt: now, UpdatedAt: now}
	if block.Type == course.BlockTypeAssessment {
		sa.Status, sa.Score = svc.grade(block, answer)
	} else {
		// interactions are complete as soon as they happen
		sa.Status, sa.Score = AnswerStatusComplete, block.MaxScore
	}
	if sa, err = svc.repo.UpsertSubmittedAnswer(ctx, sa); err != nil {
		return SubmittedAnswer{}, pkgerrors.Wrap(err, "saving submitted answer")
	}
	if !sa.Status.Finished() {
		return sa, nil
	}

	milestones, err := svc.repo.QueryMilestones(ctx, c.ID, false)
	if err != nil {
		return SubmittedAnswer{}, pkgerrors.Wrap(err, "querying milestones")
	}
	for _, m := range milestones {
		if m.Type != milestoneType || (m.CountGradedOnly && !block.Graded) {
			continue
		}
		p, err := svc.repo.GetOrCreateProgress(ctx, m.ID, studentID, c.ID)
		if err != nil {
			return SubmittedAnswer{}, pkgerrors.Wrap(err, "getting milestone progress")
		}
		if _, justAchieved, err := svc.AddBlock(ctx, p, blockID, sa.Score); err != nil {
			return SubmittedAnswer{}, err
		} else if justAchieved {
			svc.logger.Info(fmt.Sprintf("student %s achieved milestone %s", studentID, m.Slug))
		}
	}
	return sa, nil
}

func (svc *service) GetProgressStatus(ctx context.Context, c course.Course, studentID string, moduleNodeID *int64) (ProgressStatus, error) {
	milestones, err := svc.repo.QueryMilestones(ctx, c.ID, true)
	if err != nil {
		return ProgressStatus{}, pkgerrors.Wrap(err, "querying milestones")
	}
	sort.SliceStable(milestones, func(i, j int) bool { return milestones[i].Type < milestones[j].Type })

	nav, err := svc.courses.GetNav(ctx, c, false)
	if err != nil {
		return ProgressStatus{}, err
	}
	answers, err := svc.repo.QuerySubmittedAnswers(ctx, c.ID, studentID)
	if err != nil {
		return ProgressStatus{}, pkgerrors.Wrap(err, "querying submitted answers")
	}
	scores := make(map[int64]int, len(answers))
	for _, a := range answers {
		scores[a.BlockID] = a.Score
	}

	units := make(map[int64]course.Unit)
	status := ProgressStatus{Milestones: make([]MilestoneProgressData, 0, len(milestones))}
	for _, m := range milestones {
		data, err := svc.milestoneProgressData(ctx, c, m, studentID, nav, moduleNodeID, scores, units)
		if err != nil {
			return ProgressStatus{}, err
		}
		status.Milestones = append(status.Milestones, data)
	}
	return status, nil
}

func (svc *service) milestoneProgressData(
	ctx context.Context,
	c course.Course,
	m Milestone,
	studentID string,
	nav *course.NavNode,
	moduleNodeID *int64,
	scores map[int64]int,
	units map[int64]course.Unit,
) (MilestoneProgressData, error) {
	it := itemTypes[m.Type]
	data := MilestoneProgressData{
		MilestoneID:         m.ID,
		Name:                m.Name,
		Items:               make([]ProgressItem, 0),
		ItemType:            it.label,
		CountRequirement:    m.CountRequirement,
		CountGradedOnly:     m.CountGradedOnly,
		MinScoreRequirement: m.MinScoreRequirement,
	}

	completed := make(map[int64]bool)
	p, err := svc.repo.GetStudentProgress(ctx, m.ID, studentID)
	switch {
	case err == nil:
		data.ProgressAchieved = p.Achieved
		data.ProgressCount = p.Count
		data.ProgressScoreAchieved = p.TotalScore
		pbs, err := svc.repo.QueryProgressBlocks(ctx, p.ID)
		if err != nil {
			return data, pkgerrors.Wrap(err, "querying progress blocks")
		}
		for _, pb := range pbs {
			completed[pb.BlockID] = true
		}
	case pkgerrors.Cause(err) != ErrNotFound:
		return data, pkgerrors.Wrap(err, "getting milestone progress")
	}

	var gradedItems int
	seen := make(map[int64]bool)
	for _, module := range nav.Children {
		if moduleNodeID != nil && module.ID != *moduleNodeID {
			continue
		}
		for _, section := range module.Children {
			for _, unitNode := range section.Children {
				if unitNode.Unit == nil {
					continue
				}
				unit, ok := units[unitNode.Unit.ID]
				if !ok {
					if unit, err = svc.courses.GetUnit(ctx, unitNode.Unit.ID); err != nil {
						return data, pkgerrors.Wrap(err, "getting unit")
					}
					units[unit.ID] = unit
				}
				released := c.SelfPaced || (module.IsReleased && section.IsReleased && unitNode.IsReleased)

				for _, ub := range unit.UnitBlocks {
					block := ub.Block
					if block.Type != it.blockType || seen[block.ID] {
						continue
					}
					seen[block.ID] = true // first position only

					item := ProgressItem{
						Released:                released,
						ModuleNodeID:            module.ID,
						ModuleNodeContentIndex:  module.ContentIndex,
						ModuleNodeSlug:          module.Slug,
						SectionNodeID:           section.ID,
						SectionNodeContentIndex: section.ContentIndex,
						SectionNodeSlug:         section.Slug,
						UnitNodeID:              unitNode.ID,
						UnitNodeContentIndex:    unitNode.ContentIndex,
						UnitNodeSlug:            unitNode.Slug,
						BlockID:                 block.ID,
						Title:                   block.DisplayName,
						Graded:                  block.Graded,
						Completed:               completed[block.ID],
						MaxScore:                block.MaxScore,
					}
					if score, ok := scores[block.ID]; ok {
						item.Score = &score
					}
					if block.Graded {
						gradedItems++
					}
					data.ProgressScorePossible += block.MaxScore
					data.Items = append(data.Items, item)
				}
			}
		}
	}

	data.Message = requirementMessage(data, gradedItems)
	return data, nil
}

func requirementMessage(data MilestoneProgressData, gradedItems int) string {
	itemStr := data.ItemType + " items"
	totalItems := len(data.Items)
	if data.CountGradedOnly {
		itemStr = "graded " + itemStr
		totalItems = gradedItems
	}

	switch {
	case data.CountRequirement > 0:
		if data.CountRequirement == totalItems {
			return fmt.Sprintf("Milestone requirement: You must complete all %d %s.", data.CountRequirement, itemStr)
		}
		return fmt.Sprintf("Milestone requirement: You must complete %d of %d %s.", data.CountRequirement, totalItems, itemStr)
	case data.MinScoreRequirement > 0:
		if data.MinScoreRequirement == data.ProgressScorePossible {
			return fmt.Sprintf("Milestone requirement: You must score at least %d points total on %s.", data.MinScoreRequirement, itemStr)
		}
		return fmt.Sprintf("Milestone requirement: You must score at least %d of %d points on %s.",
			data.MinScoreRequirement, data.ProgressScorePossible, itemStr)
	}
	return ""
}
