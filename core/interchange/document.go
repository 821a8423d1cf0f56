package interchange

import (
	"encoding/json"
	"time"

	"github.com/trezcool/elimu/core/course"
)

const (
	DocumentTypeCourseExport = "kinesinlms:course_export"
	// DocumentTypeSCL is the export format of the legacy iBiology courses platform.
	DocumentTypeSCL = "ibiology_courses:course_export"

	ExporterVersion = "1.0"

	courseFileName = "course.json"
)

// Format is a course export format.
type Format string

const (
	FormatInternal        Format = "kinesinlms"
	FormatCommonCartridge Format = "cc"
	FormatLegacy          Format = "legacy"
)

func (f Format) IsValid() bool {
	return f == FormatInternal || f == FormatCommonCartridge || f == FormatLegacy
}

// Document is the content of course.json in an internal export archive.
type Document struct {
	DocumentType string    `json:"document_type"`
	Metadata     Metadata  `json:"metadata"`
	Course       CourseDoc `json:"course"`
}

type Metadata struct {
	ExporterVersion string `json:"exporter_version"`
	ExportDate      string `json:"export_date"`
}

type CourseDoc struct {
	Slug                string        `json:"slug"`
	Run                 string        `json:"run"`
	DisplayName         string        `json:"display_name"`
	ShortName           string        `json:"short_name"`
	StartDate           *time.Time    `json:"start_date"`
	EndDate             *time.Time    `json:"end_date"`
	EnrollmentStartDate *time.Time    `json:"enrollment_start_date"`
	EnrollmentEndDate   *time.Time    `json:"enrollment_end_date"`
	SelfPaced           bool          `json:"self_paced"`
	DaysEarlyForBeta    int           `json:"days_early_for_beta"`
	AdminOnlyEnrollment bool          `json:"admin_only_enrollment"`
	EnableCertificates  bool          `json:"enable_certificates"`
	EnableForum         bool          `json:"enable_forum"`
	EnableSurveys       bool          `json:"enable_surveys"`
	ContentLicense      string        `json:"content_license"`
	ContentLicenseURL   string        `json:"content_license_url"`
	Catalog             *CatalogDoc   `json:"catalog_description,omitempty"`
	CourseResources     []ResourceDoc `json:"course_resources,omitempty"`
	ImportConfig        *ImportConfig `json:"import_config,omitempty"`
	RootNode            *NodeDoc      `json:"course_root_node"`
}

type CatalogDoc struct {
	Title          string `json:"title"`
	Blurb          string `json:"blurb"`
	Overview       string `json:"overview"`
	AboutContent   string `json:"about_content"`
	SidebarContent string `json:"sidebar_content"`
	Duration       string `json:"duration"`
	Effort         string `json:"effort"`
	Audience       string `json:"audience"`
	Visible        bool   `json:"visible"`
}

// NodeDoc is a node of the exported tree. Imports reject nodes carrying an id or a parent.
type NodeDoc struct {
	ID              *int64             `json:"id,omitempty"`
	Parent          *int64             `json:"parent,omitempty"`
	Type            course.NodeType    `json:"type"`
	Purpose         course.NodePurpose `json:"purpose,omitempty"`
	DisplayName     string             `json:"display_name"`
	Slug            string             `json:"slug"`
	NodeURL         string             `json:"node_url,omitempty"`
	ReleaseDatetime *time.Time         `json:"release_datetime"`
	ContentIndex    *int               `json:"content_index"`
	DisplaySequence int                `json:"display_sequence"`
	Unit            *UnitDoc           `json:"unit,omitempty"`
	Children        []*NodeDoc         `json:"children"`
}

type UnitDoc struct {
	UUID             string          `json:"uuid"`
	Slug             string          `json:"slug"`
	DisplayName      string          `json:"display_name"`
	Type             course.UnitType `json:"type"`
	ShortDescription string          `json:"short_description"`
	HTMLContent      string          `json:"html_content"`
	JSONContent      json.RawMessage `json:"json_content,omitempty"`
	UnitBlocks       []UnitBlockDoc  `json:"unit_blocks"`
}

type UnitBlockDoc struct {
	BlockOrder int      `json:"block_order"`
	Hidden     bool     `json:"hidden"`
	ReadOnly   bool     `json:"read_only"`
	Block      BlockDoc `json:"block"`
}

type BlockDoc struct {
	UUID        string           `json:"uuid"`
	Type        course.BlockType `json:"type"`
	Slug        string           `json:"slug"`
	DisplayName string           `json:"display_name"`
	HTMLContent string           `json:"html_content"`
	JSONContent json.RawMessage  `json:"json_content,omitempty"`
	Graded      bool             `json:"graded"`
	MaxScore    int              `json:"max_score"`
	Solution    string           `json:"solution,omitempty"`
	// set by the legacy preprocessing, folded into json_content on import
	Assessment  json.RawMessage  `json:"assessment,omitempty"`
	SurveyBlock *SurveyRef       `json:"survey_block,omitempty"`
	Resources   []ResourceDoc    `json:"resources,omitempty"`
}

type SurveyRef struct {
	Survey string `json:"survey"`
}

type ResourceDoc struct {
	UUID     string              `json:"uuid"`
	Type     course.ResourceType `json:"type"`
	FileName string              `json:"file_name"`
}

// CountNodes counts the nodes of the document tree per type.
func (n *NodeDoc) CountNodes() map[course.NodeType]int {
	counts := make(map[course.NodeType]int)
	var walk func(n *NodeDoc)
	walk = func(n *NodeDoc) {
		counts[n.Type]++
		for _, child := range n.Children {
			walk(child)
		}
	}
	if n != nil {
		walk(n)
	}
	return counts
}
