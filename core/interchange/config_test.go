package interchange

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core/course"
)

func TestLoadImportConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := LoadImportConfig(strings.NewReader("module_content_start_index: 0\nsection_content_start_index: 1\nunit_content_start_index: 1\n"))
		require.NoError(t, err)
		assert.Equal(t, ImportConfig{SectionContentStartIndex: 1, UnitContentStartIndex: 1}, cfg)
	})

	t.Run("empty", func(t *testing.T) {
		cfg, err := LoadImportConfig(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, ImportConfig{}, cfg)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadImportConfig(strings.NewReader("unit_start: 1\n"))
		assert.Error(t, err)
	})
}

func TestImportConfig_merge(t *testing.T) {
	base := ImportConfig{ModuleContentStartIndex: 1, UnitContentStartIndex: 3}
	assert.Equal(t, base, base.merge(nil))

	merged := base.merge(&ImportConfig{UnitContentStartIndex: 7, SectionContentStartIndex: 2})
	assert.Equal(t, ImportConfig{ModuleContentStartIndex: 1, SectionContentStartIndex: 2, UnitContentStartIndex: 7}, merged)

	assert.Equal(t, 1, merged.childStartIndex(course.NodeTypeRoot))
	assert.Equal(t, 2, merged.childStartIndex(course.NodeTypeModule))
	assert.Equal(t, 7, merged.childStartIndex(course.NodeTypeSection))
	assert.Equal(t, 0, merged.childStartIndex(course.NodeTypeUnit))
}

func TestValidResourcePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"web_resources/abc/file.pdf", true},
		{"a-b_c.1/x.html", true},
		{"", false},
		{"/abs/file.pdf", false},
		{"web_resources/../secret", false},
		{"web_resources//file.pdf", false},
		{"web_resources/my file.pdf", false},
		{"web_resources/CON", false},
		{"web_resources/lpt1/file.pdf", false},
		{"web_resources/é.pdf", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ValidResourcePath(tc.path), tc.path)
	}
}

func TestCCRootAttrs(t *testing.T) {
	attrs := ccRootAttrs()
	byName := make(map[string]string, len(attrs))
	for _, a := range attrs {
		byName[a.Name.Local] = a.Value
	}

	assert.Equal(t, CCNamespaces[""], byName["xmlns"])
	for prefix, ns := range CCNamespaces {
		if prefix != "" {
			assert.Equal(t, ns, byName["xmlns:"+prefix])
		}
	}

	locations := strings.Fields(byName["xsi:schemaLocation"])
	require.Len(t, locations, 2*len(CCSchemaLocations))
	for i, loc := range CCSchemaLocations {
		assert.Equal(t, loc[0], locations[2*i])
		assert.Equal(t, loc[1], locations[2*i+1])
	}

	// the schema location attribute comes last
	assert.Equal(t, xml.Name{Local: "xsi:schemaLocation"}, attrs[len(attrs)-1].Name)
}
