package progress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/progress"
)

func TestGradeAnswer(t *testing.T) {
	withSolution := course.Block{Type: course.BlockTypeAssessment, MaxScore: 3, Solution: " Paris "}
	openEnded := course.Block{Type: course.BlockTypeAssessment, MaxScore: 2}

	tests := []struct {
		name       string
		block      course.Block
		answer     string
		wantStatus progress.AnswerStatus
		wantScore  int
	}{
		{"blank answer", withSolution, "  ", progress.AnswerStatusUnanswered, 0},
		{"correct", withSolution, "paris", progress.AnswerStatusCorrect, 3},
		{"incorrect", withSolution, "Lyon", progress.AnswerStatusIncorrect, 0},
		{"open ended", openEnded, "anything", progress.AnswerStatusComplete, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, score := progress.GradeAnswer(tt.block, tt.answer)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestMilestone_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       progress.Milestone
		wantErr bool
	}{
		{"count", progress.Milestone{Type: progress.MilestoneTypeVideoPlays, CountRequirement: 2}, false},
		{"score", progress.Milestone{Type: progress.MilestoneTypeCorrectAnswers, MinScoreRequirement: 10}, false},
		{"unknown type", progress.Milestone{Type: "LIKES", CountRequirement: 2}, true},
		{"both thresholds", progress.Milestone{Type: progress.MilestoneTypeCorrectAnswers, CountRequirement: 2, MinScoreRequirement: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProgressStatus_HasData(t *testing.T) {
	assert.False(t, progress.ProgressStatus{}.HasData())
	assert.False(t, progress.ProgressStatus{Milestones: []progress.MilestoneProgressData{{}}}.HasData())
	assert.True(t, progress.ProgressStatus{Milestones: []progress.MilestoneProgressData{
		{}, {Items: []progress.ProgressItem{{BlockID: 1}}},
	}}.HasData())
}
