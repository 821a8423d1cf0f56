package course

import (
	"fmt"
	"time"

	"github.com/volatiletech/sqlboiler/v4/types"
)

// NodeType places a Node in the ROOT > MODULE > SECTION > UNIT hierarchy.
type NodeType string

const (
	NodeTypeRoot    NodeType = "ROOT"
	NodeTypeModule  NodeType = "MODULE"
	NodeTypeSection NodeType = "SECTION"
	NodeTypeUnit    NodeType = "UNIT"
)

// Level is the lowercase name used in user facing messages ("module does not exist").
func (t NodeType) Level() string {
	switch t {
	case NodeTypeModule:
		return "module"
	case NodeTypeSection:
		return "section"
	case NodeTypeUnit:
		return "unit"
	}
	return "root"
}

// ParentType is the type a parent of a t node must have, empty for ROOT.
func (t NodeType) ParentType() NodeType {
	switch t {
	case NodeTypeModule:
		return NodeTypeRoot
	case NodeTypeSection:
		return NodeTypeModule
	case NodeTypeUnit:
		return NodeTypeSection
	}
	return ""
}

// NodePurpose tells what a node does within the course (mostly set on UNIT nodes).
type NodePurpose string

const (
	PurposeDefault      NodePurpose = "DEFAULT"
	PurposeIntroduction NodePurpose = "INTRODUCTION"
	PurposeLesson       NodePurpose = "LESSON"
	PurposeSurvey       NodePurpose = "SURVEY"
	PurposeExtraContent NodePurpose = "EXTRA_CONTENT"
	PurposePlan         NodePurpose = "PLAN"
	PurposeActivity     NodePurpose = "ACTIVITY"
)

type UnitType string

const (
	UnitTypeStandard                  UnitType = "STANDARD"
	UnitTypeModuleLearningObjectives  UnitType = "MODULE_LEARNING_OBJECTIVES"
	UnitTypeSectionLearningObjectives UnitType = "SECTION_LEARNING_OBJECTIVES"
	UnitTypeMyResponses               UnitType = "MY_RESPONSES"
	UnitTypePrintableReview           UnitType = "PRINTABLE_REVIEW"
	UnitTypeRoadmap                   UnitType = "ROADMAP"
)

type BlockType string

const (
	BlockTypeVideo                 BlockType = "VIDEO"
	BlockTypeHTMLContent           BlockType = "HTML_CONTENT"
	BlockTypeFileResource          BlockType = "FILE_RESOURCE"
	BlockTypeCallout               BlockType = "CALLOUT"
	BlockTypeAnswerList            BlockType = "ANSWER_LIST"
	BlockTypeAssessment            BlockType = "ASSESSMENT"
	BlockTypeForumTopic            BlockType = "FORUM_TOPIC"
	BlockTypeSimpleInteractiveTool BlockType = "SIMPLE_INTERACTIVE_TOOL"
	BlockTypeSurvey                BlockType = "SURVEY"
	BlockTypeJupyterNotebook       BlockType = "JUPYTER_NOTEBOOK"
	BlockTypeExternalToolView      BlockType = "EXTERNAL_TOOL_VIEW"
)

var BlockTypes = []BlockType{
	BlockTypeVideo, BlockTypeHTMLContent, BlockTypeFileResource, BlockTypeCallout, BlockTypeAnswerList,
	BlockTypeAssessment, BlockTypeForumTopic, BlockTypeSimpleInteractiveTool, BlockTypeSurvey,
	BlockTypeJupyterNotebook, BlockTypeExternalToolView,
}

// IsValid reports whether t is a known block type.
func (t BlockType) IsValid() bool {
	for _, bt := range BlockTypes {
		if bt == t {
			return true
		}
	}
	return false
}

type ResourceType string

const (
	ResourceTypeGeneric         ResourceType = "GENERIC"
	ResourceTypeImage           ResourceType = "IMAGE"
	ResourceTypeVideoTranscript ResourceType = "VIDEO_TRANSCRIPT"
	ResourceTypeJupyterNotebook ResourceType = "JUPYTER_NOTEBOOK"
	ResourceTypeSQLite          ResourceType = "SQLITE"
	ResourceTypeCSV             ResourceType = "CSV"
)

func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceTypeGeneric, ResourceTypeImage, ResourceTypeVideoTranscript,
		ResourceTypeJupyterNotebook, ResourceTypeSQLite, ResourceTypeCSV:
		return true
	}
	return false
}

type Course struct {
	ID                  int64               `json:"id"`
	Slug                string              `json:"slug"`
	Run                 string              `json:"run"`
	DisplayName         string              `json:"display_name"`
	ShortName           string              `json:"short_name"`
	StartDate           *time.Time          `json:"start_date"`
	EndDate             *time.Time          `json:"end_date"`
	EnrollmentStartDate *time.Time          `json:"enrollment_start_date"`
	EnrollmentEndDate   *time.Time          `json:"enrollment_end_date"`
	SelfPaced           bool                `json:"self_paced"`
	DaysEarlyForBeta    int                 `json:"days_early_for_beta"`
	AdminOnlyEnrollment bool                `json:"admin_only_enrollment"`
	EnableCertificates  bool                `json:"enable_certificates"`
	EnableForum         bool                `json:"enable_forum"`
	EnableSurveys       bool                `json:"enable_surveys"`
	ContentLicense      string              `json:"content_license"`
	ContentLicenseURL   string              `json:"content_license_url"`
	RootNodeID          *int64              `json:"-"`
	Catalog             *CatalogDescription `json:"catalog_description,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Token uniquely identifies a course run: "<slug>_<run>".
func (c Course) Token() string {
	return c.Slug + "_" + c.Run
}

// GroupName is the name of the group holding every active student of the course.
func (c Course) GroupName() string {
	return "COURSE_GROUP_" + c.Token()
}

func (c Course) CourseURL() string {
	return fmt.Sprintf("/courses/%s/%s/", c.Slug, c.Run)
}

// HasStarted is true when the course has no start date or it is passed.
func (c Course) HasStarted(now time.Time) bool {
	return c.StartDate == nil || !now.Before(*c.StartDate)
}

func (c Course) EnrollmentHasStarted(now time.Time) bool {
	return c.EnrollmentStartDate == nil || !c.EnrollmentStartDate.After(now)
}

type CatalogDescription struct {
	ID             int64  `json:"-"`
	CourseID       int64  `json:"-"`
	Title          string `json:"title"`
	Blurb          string `json:"blurb"`
	Overview       string `json:"overview"`
	AboutContent   string `json:"about_content"`
	SidebarContent string `json:"sidebar_content"`
	Duration       string `json:"duration"`
	Effort         string `json:"effort"`
	Audience       string `json:"audience"`
	ThumbnailPath  string `json:"thumbnail,omitempty"`
	SyllabusPath   string `json:"syllabus,omitempty"`
	Visible        bool   `json:"visible"`
}

// Node is a node of the course tree. Only UNIT nodes reference a Unit.
type Node struct {
	ID              int64       `json:"id"`
	CourseID        int64       `json:"-"`
	ParentID        *int64      `json:"-"`
	Type            NodeType    `json:"type"`
	Purpose         NodePurpose `json:"purpose"`
	DisplayName     string      `json:"display_name"`
	Slug            string      `json:"slug"`
	ReleaseDatetime *time.Time  `json:"release_datetime"`
	ContentIndex    *int        `json:"content_index"`
	DisplaySequence int         `json:"display_sequence"`
	UnitID          *int64      `json:"-"`
	Unit            *Unit       `json:"unit,omitempty"`
	Children        []*Node     `json:"children"`

	parent *Node
}

func (n *Node) Parent() *Node { return n.parent }

func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

func (n *Node) IsUnit() bool { return n.Type == NodeTypeUnit }

// IsReleased is true when the node has no release date or it is not after now.
func (n *Node) IsReleased(now time.Time) bool {
	return n.ReleaseDatetime == nil || !n.ReleaseDatetime.After(now)
}

// Unit is the content container referenced by one or more UNIT nodes.
type Unit struct {
	ID               int64       `json:"id"`
	CourseID         int64       `json:"-"`
	UUID             string      `json:"uuid"`
	Slug             string      `json:"slug"`
	DisplayName      string      `json:"display_name"`
	Type             UnitType    `json:"type"`
	ShortDescription string      `json:"short_description"`
	HTMLContent      string      `json:"html_content"`
	JSONContent      types.JSON  `json:"json_content,omitempty"`
	UnitBlocks       []UnitBlock `json:"unit_blocks"`
}

type UnitBlock struct {
	ID         int64 `json:"-"`
	UnitID     int64 `json:"-"`
	BlockID    int64 `json:"-"`
	BlockOrder int   `json:"block_order"`
	Hidden     bool  `json:"hidden"`
	ReadOnly   bool  `json:"read_only"`
	Block      Block `json:"block"`
}

type Block struct {
	ID          int64      `json:"id"`
	UUID        string     `json:"uuid"`
	Type        BlockType  `json:"type"`
	Slug        string     `json:"slug"`
	DisplayName string     `json:"display_name"`
	HTMLContent string     `json:"html_content"`
	JSONContent types.JSON `json:"json_content,omitempty"`
	Graded      bool       `json:"graded"`
	MaxScore    int        `json:"max_score"`
	Solution    string     `json:"-"`
	Resources   []Resource `json:"resources,omitempty"`
}

// Resource is a file stored under the media root, linked from blocks or courses.
type Resource struct {
	ID       int64        `json:"-"`
	UUID     string       `json:"uuid"`
	Type     ResourceType `json:"type"`
	FileName string       `json:"file_name"`
	Path     string       `json:"-"`
}

// NewNode holds the composer input to add a node under ParentID.
type NewNode struct {
	ParentID        int64       `json:"parent_id" validate:"required"`
	Type            NodeType    `json:"type" validate:"required,oneof=MODULE SECTION UNIT"`
	Purpose         NodePurpose `json:"purpose"`
	DisplayName     string      `json:"display_name" validate:"required"`
	Slug            string      `json:"slug" validate:"required,nodeslug"`
	ReleaseDatetime *time.Time  `json:"release_datetime"`
	ContentIndex    *int        `json:"content_index"`
	DisplaySequence *int        `json:"display_sequence"`
	// UnitDisplayName is used for the unit created along with a UNIT node.
	UnitDisplayName string `json:"unit_display_name"`
}

// UpdateNode holds the editable fields of a node.
type UpdateNode struct {
	DisplayName     string      `json:"display_name" validate:"required"`
	Slug            string      `json:"slug" validate:"required,nodeslug"`
	Purpose         NodePurpose `json:"purpose"`
	ReleaseDatetime *time.Time  `json:"release_datetime"`
	ContentIndex    *int        `json:"content_index"`
}
