package interchange

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core/course"
)

type keywordRewrite struct {
	pattern *regexp.Regexp
	tag     string
}

// legacy template keywords and the template tags replacing them
var keywordRewrites = []keywordRewrite{
	{regexp.MustCompile(`\[\[\s*ANON_USER_ID\s*\]\]`), "anon_user_id"},
	{regexp.MustCompile(`\[\[\s*USERNAME\s*\]\]`), "username"},
	{regexp.MustCompile(`##MODULE_LINK\[\s*(\d+)\s*\]##`), "module_link"},
	{regexp.MustCompile(`##SECTION_LINK\[\s*(\d+)\s*,\s*(\d+)\s*\]##`), "section_link"},
	{regexp.MustCompile(`##UNIT_LINK\[\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*\]##`), "unit_link"},
	{regexp.MustCompile(`##UNIT_SLUG_LINK\[\s*([A-Za-z\d\-_]+)\s*\]##`), "unit_slug_link"},
}

// RewriteTemplateKeywords turns legacy keywords such as ##UNIT_LINK[1,2,3]## into template tags
// such as {% unit_link 1 2 3 %}.
func RewriteTemplateKeywords(html string) string {
	if html == "" {
		return html
	}
	for _, rw := range keywordRewrites {
		tag := rw.tag
		html = rw.pattern.ReplaceAllStringFunc(html, func(match string) string {
			args := rw.pattern.FindStringSubmatch(match)[1:]
			return "{% " + strings.Join(append([]string{tag}, args...), " ") + " %}"
		})
	}
	return html
}

// preprocessSCL rewrites a legacy document, decoded as generic json, into the current schema.
func preprocessSCL(doc map[string]interface{}) error {
	crs, ok := doc["course"].(map[string]interface{})
	if !ok {
		crs = doc
	}
	if catalog, ok := crs["catalog_description"].(map[string]interface{}); ok {
		delete(catalog, "testimonials")
		delete(catalog, "syllabus_url")
	}
	root, ok := crs["course_root_node"].(map[string]interface{})
	if !ok {
		return nil
	}
	return preprocessSCLNode(root)
}

func preprocessSCLNode(node map[string]interface{}) error {
	children, _ := node["children"].([]interface{})
	for _, c := range children {
		if child, ok := c.(map[string]interface{}); ok {
			if err := preprocessSCLNode(child); err != nil {
				return err
			}
		}
	}

	unit, ok := node["unit"].(map[string]interface{})
	if !ok {
		return nil
	}
	unitBlocks := normalizeUnitBlocks(unit["unit_blocks"])
	unit["unit_blocks"] = unitBlocks
	for _, raw := range unitBlocks {
		ub, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		block, ok := ub["block"].(map[string]interface{})
		if !ok {
			continue
		}
		if err := preprocessSCLBlock(block); err != nil {
			return pkgerrors.Wrapf(err, "preprocessing unit %v", unit["slug"])
		}
	}
	return nil
}

// normalizeUnitBlocks accepts the keyed object of blocks some legacy exports use instead of a list.
func normalizeUnitBlocks(raw interface{}) []interface{} {
	switch ubs := raw.(type) {
	case []interface{}:
		return ubs
	case map[string]interface{}:
		keys := make([]string, 0, len(ubs))
		for k := range ubs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		list := make([]interface{}, 0, len(keys))
		for i, k := range keys {
			v, ok := ubs[k].(map[string]interface{})
			if !ok {
				continue
			}
			if _, wrapped := v["block"]; !wrapped {
				v = map[string]interface{}{"block_order": i, "block": v}
			}
			list = append(list, v)
		}
		return list
	}
	return []interface{}{}
}

func preprocessSCLBlock(block map[string]interface{}) error {
	switch block["type"] {
	case "DISCOURSE_TOPIC":
		block["type"] = string(course.BlockTypeForumTopic)
	case string(course.BlockTypeAssessment):
		if assessment, ok := block["assessment"].(map[string]interface{}); ok && assessment["type"] == "MULTIPLE_CHOICE" {
			if def, ok := assessment["definition_json"].(map[string]interface{}); ok {
				choices, _ := def["choices"].([]interface{})
				for _, c := range choices {
					choice, ok := c.(map[string]interface{})
					if !ok {
						continue
					}
					if key, ok := choice["choiceKey"]; ok {
						choice["choice_key"] = key
						delete(choice, "choiceKey")
					}
				}
			}
		}
	case string(course.BlockTypeSurvey):
		content, _ := block["json_content"].(map[string]interface{})
		delete(block, "json_content")
		survey := ""
		if id, ok := content["survey_id"]; ok && id != nil {
			survey = fmt.Sprint(id)
		} else if typ, ok := content["survey_type"].(string); ok && typ != "" {
			survey = strings.ToLower(typ)
		}
		if survey == "" {
			return pkgerrors.Errorf("survey block %v is missing survey_id", block["uuid"])
		}
		block["survey_block"] = map[string]interface{}{"survey": survey}
	}

	if html, ok := block["html_content"].(string); ok {
		block["html_content"] = RewriteTemplateKeywords(html)
	}
	return nil
}
