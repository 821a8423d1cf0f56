package sqlxrepos

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/progress"
)

type (
	milestoneRow struct {
		ID                  int64    `db:"id"`
		CourseID            int64    `db:"course_id"`
		Slug                string   `db:"slug"`
		Name                string   `db:"name"`
		Type                string   `db:"type"`
		CountGradedOnly     bool     `db:"count_graded_only"`
		CountRequirement    null.Int `db:"count_requirement"`
		MinScoreRequirement null.Int `db:"min_score_requirement"`
		RequiredToPass      bool     `db:"required_to_pass"`
	}

	progressRow struct {
		ID           int64     `db:"id"`
		MilestoneID  int64     `db:"milestone_id"`
		StudentID    string    `db:"student_id"`
		CourseID     int64     `db:"course_id"`
		Count        int       `db:"count"`
		TotalScore   int       `db:"total_score"`
		Achieved     bool      `db:"achieved"`
		AchievedDate null.Time `db:"achieved_date"`
		CreatedAt    time.Time `db:"created_at"`
		UpdatedAt    time.Time `db:"updated_at"`
	}

	progressBlockRow struct {
		ID         int64 `db:"id"`
		ProgressID int64 `db:"progress_id"`
		BlockID    int64 `db:"block_id"`
		Score      int   `db:"score"`
	}

	answerRow struct {
		ID        int64     `db:"id"`
		CourseID  int64     `db:"course_id"`
		StudentID string    `db:"student_id"`
		BlockID   int64     `db:"block_id"`
		Status    string    `db:"status"`
		Score     int       `db:"score"`
		Answer    string    `db:"answer"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
)

func (row milestoneRow) unboil() progress.Milestone {
	return progress.Milestone{
		ID:                  row.ID,
		CourseID:            row.CourseID,
		Slug:                row.Slug,
		Name:                row.Name,
		Type:                progress.MilestoneType(row.Type),
		CountGradedOnly:     row.CountGradedOnly,
		CountRequirement:    row.CountRequirement.Int,
		MinScoreRequirement: row.MinScoreRequirement.Int,
		RequiredToPass:      row.RequiredToPass,
	}
}

func (row progressRow) unboil() progress.MilestoneProgress {
	return progress.MilestoneProgress{
		ID:           row.ID,
		MilestoneID:  row.MilestoneID,
		StudentID:    row.StudentID,
		CourseID:     row.CourseID,
		Count:        row.Count,
		TotalScore:   row.TotalScore,
		Achieved:     row.Achieved,
		AchievedDate: row.AchievedDate.Ptr(),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func (row answerRow) unboil() progress.SubmittedAnswer {
	return progress.SubmittedAnswer{
		ID:        row.ID,
		CourseID:  row.CourseID,
		StudentID: row.StudentID,
		BlockID:   row.BlockID,
		Status:    progress.AnswerStatus(row.Status),
		Score:     row.Score,
		Answer:    row.Answer,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

const (
	milestoneColumns     = "id, course_id, slug, name, type, count_graded_only, count_requirement, min_score_requirement, required_to_pass"
	progressColumns      = "id, milestone_id, student_id, course_id, count, total_score, achieved, achieved_date, created_at, updated_at"
	progressBlockColumns = "id, progress_id, block_id, score"
	answerColumns        = "id, course_id, student_id, block_id, status, score, answer, created_at, updated_at"
)

type progressRepository struct {
	repository
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db core.DB) progress.Repository {
	return &progressRepository{repository{db: db}}
}

func (repo progressRepository) CreateMilestone(ctx context.Context, m progress.Milestone, exec ...core.DBExecutor) (progress.Milestone, error) {
	err := repo.getExec(exec).QueryRowxContext(ctx, `
		INSERT INTO milestone (course_id, slug, name, type, count_graded_only, count_requirement,
			min_score_requirement, required_to_pass)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		m.CourseID, m.Slug, m.Name, m.Type, m.CountGradedOnly,
		null.NewInt(m.CountRequirement, m.CountRequirement > 0),
		null.NewInt(m.MinScoreRequirement, m.MinScoreRequirement > 0),
		m.RequiredToPass,
	).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return progress.Milestone{}, core.NewFieldValidationError("slug", "a milestone with this slug already exists")
		}
		return progress.Milestone{}, errors.Wrap(err, "inserting milestone")
	}
	return m, nil
}

func (repo progressRepository) GetMilestone(ctx context.Context, id int64, exec ...core.DBExecutor) (progress.Milestone, error) {
	var row milestoneRow
	if err := repo.getExec(exec).GetContext(ctx, &row, "SELECT "+milestoneColumns+" FROM milestone WHERE id = $1", id); err != nil {
		return progress.Milestone{}, trapNoRowsErr(err, progress.ErrMilestoneNotFound, "finding milestone")
	}
	return row.unboil(), nil
}

func (repo progressRepository) QueryMilestones(ctx context.Context, courseID int64, requiredOnly bool, exec ...core.DBExecutor) ([]progress.Milestone, error) {
	var rows []milestoneRow
	q := "SELECT " + milestoneColumns + " FROM milestone WHERE course_id = $1 AND (NOT $2 OR required_to_pass) ORDER BY id"
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, courseID, requiredOnly); err != nil {
		return nil, errors.Wrap(err, "querying milestones")
	}
	milestones := make([]progress.Milestone, 0, len(rows))
	for _, row := range rows {
		milestones = append(milestones, row.unboil())
	}
	return milestones, nil
}

// getProgress runs a statement returning a single milestone_progress row.
func (repo progressRepository) getProgress(ctx context.Context, exe core.DBExecutor, msg, q string, args ...interface{}) (progress.MilestoneProgress, error) {
	var row progressRow
	if err := exe.GetContext(ctx, &row, q, args...); err != nil {
		return progress.MilestoneProgress{}, trapNoRowsErr(err, progress.ErrNotFound, msg)
	}
	return row.unboil(), nil
}

func (repo progressRepository) GetOrCreateProgress(ctx context.Context, milestoneID int64, studentID string, courseID int64, exec ...core.DBExecutor) (progress.MilestoneProgress, error) {
	// the no-op update makes RETURNING yield an existing row
	return repo.getProgress(ctx, repo.getExec(exec), "getting or creating progress", `
		INSERT INTO milestone_progress (milestone_id, student_id, course_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (milestone_id, student_id) DO UPDATE SET milestone_id = EXCLUDED.milestone_id
		RETURNING `+progressColumns,
		milestoneID, studentID, courseID)
}

func (repo progressRepository) GetProgress(ctx context.Context, id int64, exec ...core.DBExecutor) (progress.MilestoneProgress, error) {
	return repo.getProgress(ctx, repo.getExec(exec), "finding progress",
		"SELECT "+progressColumns+" FROM milestone_progress WHERE id = $1", id)
}

func (repo progressRepository) GetStudentProgress(ctx context.Context, milestoneID int64, studentID string, exec ...core.DBExecutor) (progress.MilestoneProgress, error) {
	return repo.getProgress(ctx, repo.getExec(exec), "finding student progress",
		"SELECT "+progressColumns+" FROM milestone_progress WHERE milestone_id = $1 AND student_id = $2",
		milestoneID, studentID)
}

func (repo progressRepository) QueryProgresses(ctx context.Context, milestoneID int64, exec ...core.DBExecutor) ([]progress.MilestoneProgress, error) {
	var rows []progressRow
	q := "SELECT " + progressColumns + " FROM milestone_progress WHERE milestone_id = $1 ORDER BY id"
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, milestoneID); err != nil {
		return nil, errors.Wrap(err, "querying progresses")
	}
	progresses := make([]progress.MilestoneProgress, 0, len(rows))
	for _, row := range rows {
		progresses = append(progresses, row.unboil())
	}
	return progresses, nil
}

func (repo progressRepository) IncrementProgress(ctx context.Context, id int64, countDelta, scoreDelta int, exec ...core.DBExecutor) (progress.MilestoneProgress, error) {
	return repo.getProgress(ctx, repo.getExec(exec), "incrementing progress", `
		UPDATE milestone_progress SET count = count + $2, total_score = total_score + $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+progressColumns,
		id, countDelta, scoreDelta)
}

func (repo progressRepository) SetProgressTotals(ctx context.Context, id int64, count, totalScore int, exec ...core.DBExecutor) (progress.MilestoneProgress, error) {
	return repo.getProgress(ctx, repo.getExec(exec), "setting progress totals", `
		UPDATE milestone_progress SET count = $2, total_score = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+progressColumns,
		id, count, totalScore)
}

func (repo progressRepository) MarkProgressAchieved(ctx context.Context, id int64, exec ...core.DBExecutor) (bool, error) {
	res, err := repo.getExec(exec).ExecContext(ctx, `
		UPDATE milestone_progress SET achieved = TRUE, achieved_date = $2, updated_at = NOW()
		WHERE id = $1 AND NOT achieved`,
		id, core.Now())
	if err != nil {
		return false, errors.Wrap(err, "marking progress achieved")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "marking progress achieved")
	}
	return cnt > 0, nil
}

func (repo progressRepository) InsertProgressBlock(ctx context.Context, pb progress.ProgressBlock, exec ...core.DBExecutor) (bool, error) {
	res, err := repo.getExec(exec).ExecContext(ctx, `
		INSERT INTO milestone_progress_block (progress_id, block_id, score)
		VALUES ($1, $2, $3)
		ON CONFLICT (progress_id, block_id) DO NOTHING`,
		pb.ProgressID, pb.BlockID, pb.Score)
	if err != nil {
		return false, errors.Wrap(err, "inserting progress block")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "inserting progress block")
	}
	return cnt > 0, nil
}

func (repo progressRepository) DeleteProgressBlocks(ctx context.Context, progressIDs []int64, blockID int64, exec ...core.DBExecutor) ([]progress.ProgressBlock, error) {
	if len(progressIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(progressIDs)+1)
	args = append(args, blockID)
	for _, id := range progressIDs {
		args = append(args, id)
	}
	q := fmt.Sprintf(
		"DELETE FROM milestone_progress_block WHERE block_id = $1 AND progress_id IN (%s) RETURNING %s",
		strmangle.Placeholders(true, len(progressIDs), 2, 1), progressBlockColumns)

	var rows []progressBlockRow
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "deleting progress blocks")
	}
	return unboilProgressBlocks(rows), nil
}

func unboilProgressBlocks(rows []progressBlockRow) []progress.ProgressBlock {
	blocks := make([]progress.ProgressBlock, 0, len(rows))
	for _, row := range rows {
		blocks = append(blocks, progress.ProgressBlock(row))
	}
	return blocks
}

func (repo progressRepository) QueryProgressBlocks(ctx context.Context, progressID int64, exec ...core.DBExecutor) ([]progress.ProgressBlock, error) {
	var rows []progressBlockRow
	q := "SELECT " + progressBlockColumns + " FROM milestone_progress_block WHERE progress_id = $1 ORDER BY id"
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, progressID); err != nil {
		return nil, errors.Wrap(err, "querying progress blocks")
	}
	return unboilProgressBlocks(rows), nil
}

func (repo progressRepository) SaveProgressBlocks(ctx context.Context, blocks []progress.ProgressBlock, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	for _, pb := range blocks {
		var err error
		if pb.ID == 0 {
			_, err = exe.ExecContext(ctx, `
				INSERT INTO milestone_progress_block (progress_id, block_id, score)
				VALUES ($1, $2, $3)
				ON CONFLICT (progress_id, block_id) DO UPDATE SET score = EXCLUDED.score`,
				pb.ProgressID, pb.BlockID, pb.Score)
		} else {
			_, err = exe.ExecContext(ctx, "UPDATE milestone_progress_block SET score = $2 WHERE id = $1", pb.ID, pb.Score)
		}
		if err != nil {
			return errors.Wrapf(err, "saving progress block %d", pb.BlockID)
		}
	}
	return nil
}

func (repo progressRepository) UpsertSubmittedAnswer(ctx context.Context, a progress.SubmittedAnswer, exec ...core.DBExecutor) (progress.SubmittedAnswer, error) {
	var row answerRow
	err := repo.getExec(exec).GetContext(ctx, &row, `
		INSERT INTO submitted_answer (course_id, student_id, block_id, status, score, answer)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (course_id, student_id, block_id) DO UPDATE SET status = EXCLUDED.status,
			score = EXCLUDED.score, answer = EXCLUDED.answer, updated_at = NOW()
		RETURNING `+answerColumns,
		a.CourseID, a.StudentID, a.BlockID, a.Status, a.Score, a.Answer)
	if err != nil {
		return progress.SubmittedAnswer{}, errors.Wrap(err, "saving submitted answer")
	}
	return row.unboil(), nil
}

func (repo progressRepository) QuerySubmittedAnswers(ctx context.Context, courseID int64, studentID string, exec ...core.DBExecutor) ([]progress.SubmittedAnswer, error) {
	var rows []answerRow
	q := "SELECT " + answerColumns + " FROM submitted_answer WHERE course_id = $1 AND student_id = $2 ORDER BY id"
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, courseID, studentID); err != nil {
		return nil, errors.Wrap(err, "querying submitted answers")
	}
	answers := make([]progress.SubmittedAnswer, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, row.unboil())
	}
	return answers, nil
}
