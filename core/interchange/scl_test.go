package interchange

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core/course"
)

func TestRewriteTemplateKeywords(t *testing.T) {
	tests := []struct {
		html string
		want string
	}{
		{"", ""},
		{"<p>no keywords</p>", "<p>no keywords</p>"},
		{"Hi [[USERNAME]]!", "Hi {% username %}!"},
		{"id: [[ ANON_USER_ID ]]", "id: {% anon_user_id %}"},
		{`<a href="##MODULE_LINK[2]##">`, `<a href="{% module_link 2 %}">`},
		{"##SECTION_LINK[1, 3]##", "{% section_link 1 3 %}"},
		{"##UNIT_LINK[1,2,3]## and ##UNIT_LINK[ 4 , 5 , 6 ]##", "{% unit_link 1 2 3 %} and {% unit_link 4 5 6 %}"},
		{"##UNIT_SLUG_LINK[intro_unit-1]##", "{% unit_slug_link intro_unit-1 %}"},
		{"##UNIT_LINK[a,b,c]##", "##UNIT_LINK[a,b,c]##"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RewriteTemplateKeywords(tc.html), tc.html)
	}
}

const sclDocument = `{
  "document_type": "ibiology_courses:course_export",
  "course": {
    "slug": "BIO",
    "run": "2019",
    "display_name": "Biology",
    "catalog_description": {"title": "Biology", "testimonials": ["great"], "syllabus_url": "http://x"},
    "course_root_node": {
      "type": "ROOT",
      "slug": "root",
      "children": [{
        "type": "MODULE",
        "slug": "m1",
        "display_name": "Module 1",
        "children": [{
          "type": "SECTION",
          "slug": "s1",
          "display_name": "Section 1",
          "children": [{
            "type": "UNIT",
            "slug": "u1",
            "display_name": "Unit 1",
            "unit": {
              "uuid": "u-1",
              "slug": "u1",
              "unit_blocks": {
                "b": {"uuid": "blk-survey", "type": "SURVEY", "json_content": {"survey_id": 12}},
                "a": {"uuid": "blk-topic", "type": "DISCOURSE_TOPIC", "html_content": "Hello [[USERNAME]]"},
                "c": {"block_order": 5, "block": {
                  "uuid": "blk-mc",
                  "type": "ASSESSMENT",
                  "assessment": {"type": "MULTIPLE_CHOICE", "definition_json": {"choices": [{"choiceKey": "A", "text": "yes"}]}}
                }}
              }
            }
          }]
        }]
      }]
    }
  }
}`

func TestDecodeDocument_scl(t *testing.T) {
	doc, err := DecodeDocument([]byte(sclDocument))
	require.NoError(t, err)
	assert.Equal(t, DocumentTypeSCL, doc.DocumentType)
	assert.Equal(t, "BIO", doc.Course.Slug)

	unit := doc.Course.RootNode.Children[0].Children[0].Children[0].Unit
	require.NotNil(t, unit)
	require.Len(t, unit.UnitBlocks, 3)

	topic := unit.UnitBlocks[0]
	assert.Equal(t, 0, topic.BlockOrder)
	assert.Equal(t, course.BlockTypeForumTopic, topic.Block.Type)
	assert.Equal(t, "Hello {% username %}", topic.Block.HTMLContent)

	survey := unit.UnitBlocks[1].Block
	assert.Equal(t, course.BlockTypeSurvey, survey.Type)
	require.NotNil(t, survey.SurveyBlock)
	assert.Equal(t, "12", survey.SurveyBlock.Survey)
	assert.Empty(t, survey.JSONContent)

	mc := unit.UnitBlocks[2]
	assert.Equal(t, 5, mc.BlockOrder)
	var assessment struct {
		Definition struct {
			Choices []map[string]string `json:"choices"`
		} `json:"definition_json"`
	}
	require.NoError(t, json.Unmarshal(mc.Block.Assessment, &assessment))
	require.Len(t, assessment.Definition.Choices, 1)
	assert.Equal(t, "A", assessment.Definition.Choices[0]["choice_key"])
	assert.NotContains(t, assessment.Definition.Choices[0], "choiceKey")
}

func TestPreprocessSCLBlock_survey(t *testing.T) {
	t.Run("survey type", func(t *testing.T) {
		block := map[string]interface{}{
			"uuid":         "s",
			"type":         "SURVEY",
			"json_content": map[string]interface{}{"survey_type": "BASIC"},
		}
		require.NoError(t, preprocessSCLBlock(block))
		assert.Equal(t, map[string]interface{}{"survey": "basic"}, block["survey_block"])
		assert.NotContains(t, block, "json_content")
	})

	t.Run("missing survey", func(t *testing.T) {
		block := map[string]interface{}{"uuid": "s", "type": "SURVEY", "json_content": map[string]interface{}{}}
		assert.Error(t, preprocessSCLBlock(block))
	})
}

func TestDecodeDocument(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		for _, data := range []string{"", "  \n", "{}"} {
			_, err := DecodeDocument([]byte(data))
			assert.Equal(t, ErrEmptyDocument, err, "%q", data)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := DecodeDocument([]byte("{nope"))
		assert.Error(t, err)
	})

	t.Run("invalid document type", func(t *testing.T) {
		_, err := DecodeDocument([]byte(`{"document_type": "moodle:backup", "course": {}}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidDocumentType)
	})

	t.Run("bare course", func(t *testing.T) {
		doc, err := DecodeDocument([]byte(`{"slug": "PY", "run": "SP", "course_root_node": {"type": "ROOT", "children": []}}`))
		require.NoError(t, err)
		assert.Empty(t, doc.DocumentType)
		assert.Equal(t, "PY", doc.Course.Slug)
		assert.NotNil(t, doc.Course.RootNode)
	})

	t.Run("enveloped", func(t *testing.T) {
		doc, err := DecodeDocument([]byte(`{
			"document_type": "kinesinlms:course_export",
			"metadata": {"exporter_version": "1.0", "export_date": "2024-01-01T00:00:00Z"},
			"course": {"slug": "PY", "run": "SP", "import_config": {"module_content_start_index": 2}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, DocumentTypeCourseExport, doc.DocumentType)
		assert.Equal(t, "1.0", doc.Metadata.ExporterVersion)
		require.NotNil(t, doc.Course.ImportConfig)
		assert.Equal(t, 2, doc.Course.ImportConfig.ModuleContentStartIndex)
	})
}

func TestNodeDoc_CountNodes(t *testing.T) {
	root := &NodeDoc{Type: course.NodeTypeRoot, Children: []*NodeDoc{
		{Type: course.NodeTypeModule, Children: []*NodeDoc{
			{Type: course.NodeTypeSection, Children: []*NodeDoc{{Type: course.NodeTypeUnit}, {Type: course.NodeTypeUnit}}},
		}},
		{Type: course.NodeTypeModule},
	}}
	counts := root.CountNodes()
	assert.Equal(t, 1, counts[course.NodeTypeRoot])
	assert.Equal(t, 2, counts[course.NodeTypeModule])
	assert.Equal(t, 1, counts[course.NodeTypeSection])
	assert.Equal(t, 2, counts[course.NodeTypeUnit])

	var nilNode *NodeDoc
	assert.Empty(t, nilNode.CountNodes())
}
