package progress

import (
	"strings"
	"time"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

type MilestoneType string

const (
	MilestoneTypeCorrectAnswers MilestoneType = "CORRECT_ANSWERS"
	MilestoneTypeVideoPlays     MilestoneType = "VIDEO_PLAYS"
	MilestoneTypeForumPosts     MilestoneType = "FORUM_POSTS"
	MilestoneTypeSITInteraction MilestoneType = "SIMPLE_INTERACTIVE_TOOL_INTERACTIONS"
)

// itemTypes maps a milestone type to the blocks it counts and how they are called.
var itemTypes = map[MilestoneType]struct {
	blockType course.BlockType
	label     string
}{
	MilestoneTypeCorrectAnswers: {course.BlockTypeAssessment, "Assessment"},
	MilestoneTypeVideoPlays:     {course.BlockTypeVideo, "Video"},
	MilestoneTypeForumPosts:     {course.BlockTypeForumTopic, "Forum topic"},
	MilestoneTypeSITInteraction: {course.BlockTypeSimpleInteractiveTool, "Simple interactive tool"},
}

// Milestone is a completion rule: a count of blocks or a minimum total score.
type Milestone struct {
	ID                  int64         `json:"id"`
	CourseID            int64         `json:"course_id"`
	Slug                string        `json:"slug"`
	Name                string        `json:"name"`
	Type                MilestoneType `json:"type"`
	CountGradedOnly     bool          `json:"count_graded_only"`
	CountRequirement    int           `json:"count_requirement"`
	MinScoreRequirement int           `json:"min_score_requirement"`
	RequiredToPass      bool          `json:"required_to_pass"`
}

// Validate rejects milestones with both thresholds set.
func (m Milestone) Validate() error {
	if _, ok := itemTypes[m.Type]; !ok {
		return core.NewFieldValidationError("type", "invalid milestone type")
	}
	if m.CountRequirement > 0 && m.MinScoreRequirement > 0 {
		return core.NewFieldValidationError("min_score_requirement", "please set a minimum score OR count requirement, not both")
	}
	return nil
}

// isMet reports whether count or totalScore satisfies m. The count requirement governs when set.
func (m Milestone) isMet(count, totalScore int) bool {
	if m.CountRequirement > 0 {
		return count >= m.CountRequirement
	}
	if m.MinScoreRequirement > 0 {
		return totalScore >= m.MinScoreRequirement
	}
	return false
}

// MilestoneProgress tracks one student's progress towards a milestone.
type MilestoneProgress struct {
	ID           int64      `json:"id"`
	MilestoneID  int64      `json:"milestone_id"`
	StudentID    string     `json:"student_id"`
	CourseID     int64      `json:"course_id"`
	Count        int        `json:"count"`
	TotalScore   int        `json:"total_score"`
	Achieved     bool       `json:"achieved"`
	AchievedDate *time.Time `json:"achieved_date"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ProgressBlock attributes a block, and the score it earned, to a MilestoneProgress.
type ProgressBlock struct {
	ID         int64 `json:"id"`
	ProgressID int64 `json:"progress_id"`
	BlockID    int64 `json:"block_id"`
	Score      int   `json:"score"`
}

type AnswerStatus string

const (
	AnswerStatusUnanswered AnswerStatus = "UNANSWERED"
	AnswerStatusIncorrect  AnswerStatus = "INCORRECT"
	AnswerStatusCorrect    AnswerStatus = "CORRECT"
	AnswerStatusComplete   AnswerStatus = "COMPLETE"
)

// Finished answers count towards milestones.
func (s AnswerStatus) Finished() bool {
	return s == AnswerStatusCorrect || s == AnswerStatusComplete
}

type SubmittedAnswer struct {
	ID        int64        `json:"id"`
	CourseID  int64        `json:"course_id"`
	StudentID string       `json:"student_id"`
	BlockID   int64        `json:"block_id"`
	Status    AnswerStatus `json:"status"`
	Score     int          `json:"score"`
	Answer    string       `json:"answer"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Grader computes the status and score of an answer to block.
type Grader func(block course.Block, answer string) (AnswerStatus, int)

// GradeAnswer is the default Grader. Blocks without a solution are complete once answered;
// otherwise the answer must match the solution, ignoring case and surrounding spaces.
func GradeAnswer(block course.Block, answer string) (AnswerStatus, int) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return AnswerStatusUnanswered, 0
	}
	solution := strings.TrimSpace(block.Solution)
	if solution == "" {
		return AnswerStatusComplete, block.MaxScore
	}
	if strings.EqualFold(solution, answer) {
		return AnswerStatusCorrect, block.MaxScore
	}
	return AnswerStatusIncorrect, 0
}

// ProgressItem is one block counted by a milestone, at its first position in the course.
type ProgressItem struct {
	Released                bool   `json:"released"`
	ModuleNodeID            int64  `json:"module_node_id"`
	ModuleNodeContentIndex  *int   `json:"module_node_content_index"`
	ModuleNodeSlug          string `json:"module_node_slug"`
	SectionNodeID           int64  `json:"section_node_id"`
	SectionNodeContentIndex *int   `json:"section_node_content_index"`
	SectionNodeSlug         string `json:"section_node_slug"`
	UnitNodeID              int64  `json:"unit_node_id"`
	UnitNodeContentIndex    *int   `json:"unit_node_content_index"`
	UnitNodeSlug            string `json:"unit_node_slug"`
	BlockID                 int64  `json:"block_id"`
	Title                   string `json:"title"`
	Graded                  bool   `json:"graded"`
	Completed               bool   `json:"completed"`
	Score                   *int   `json:"score"`
	MaxScore                int    `json:"max_score"`
}

type MilestoneProgressData struct {
	MilestoneID           int64          `json:"milestone_id"`
	Name                  string         `json:"name"`
	Message               string         `json:"message"`
	Items                 []ProgressItem `json:"items"`
	ItemType              string         `json:"item_type"`
	CountRequirement      int            `json:"count_requirement"`
	CountGradedOnly       bool           `json:"count_graded_only"`
	MinScoreRequirement   int            `json:"min_score_requirement"`
	ProgressAchieved      bool           `json:"progress_achieved"`
	ProgressCount         int            `json:"progress_count"`
	ProgressScorePossible int            `json:"progress_score_possible"`
	ProgressScoreAchieved int            `json:"progress_score_achieved"`
}

type ProgressStatus struct {
	Milestones []MilestoneProgressData `json:"milestones"`
}

// HasData reports whether any milestone counts at least one item.
func (ps ProgressStatus) HasData() bool {
	for _, m := range ps.Milestones {
		if len(m.Items) > 0 {
			return true
		}
	}
	return false
}
