package course

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
)

func i64(i int64) *int64 { return &i }

// sampleNodes builds the flat node list of a course:
//
//	root
//	├── intro (M)
//	│   ├── welcome (S)
//	│   │   ├── hello (U, unit 101)
//	│   │   └── goals (U, unit 102)
//	│   └── setup (S)
//	│       └── install (U, unit 103)
//	└── basics (M)
//	    └── first-steps (S)
//	        └── variables (U, unit 104)
func sampleNodes() []Node {
	return []Node{
		{ID: 1, CourseID: 1, Type: NodeTypeRoot, Slug: "PY_SP"},
		// inserted out of order on purpose
		{ID: 8, CourseID: 1, ParentID: i64(1), Type: NodeTypeModule, Slug: "basics", DisplayName: "Basics", DisplaySequence: 2},
		{ID: 2, CourseID: 1, ParentID: i64(1), Type: NodeTypeModule, Slug: "intro", DisplayName: "Intro", DisplaySequence: 1},
		{ID: 6, CourseID: 1, ParentID: i64(2), Type: NodeTypeSection, Slug: "setup", DisplayName: "Setup", DisplaySequence: 2},
		{ID: 3, CourseID: 1, ParentID: i64(2), Type: NodeTypeSection, Slug: "welcome", DisplayName: "Welcome", DisplaySequence: 1},
		{ID: 5, CourseID: 1, ParentID: i64(3), Type: NodeTypeUnit, Slug: "goals", DisplayName: "Goals", DisplaySequence: 2, UnitID: i64(102)},
		{ID: 4, CourseID: 1, ParentID: i64(3), Type: NodeTypeUnit, Slug: "hello", DisplayName: "Hello", DisplaySequence: 1, UnitID: i64(101)},
		{ID: 7, CourseID: 1, ParentID: i64(6), Type: NodeTypeUnit, Slug: "install", DisplayName: "Install", UnitID: i64(103)},
		{ID: 9, CourseID: 1, ParentID: i64(8), Type: NodeTypeSection, Slug: "first-steps", DisplayName: "First steps"},
		{ID: 10, CourseID: 1, ParentID: i64(9), Type: NodeTypeUnit, Slug: "variables", DisplayName: "Variables", UnitID: i64(104)},
	}
}

func sampleTree(t *testing.T) *Node {
	root, err := BuildTree(sampleNodes())
	require.NoError(t, err)
	return root
}

func slugs(nodes []*Node) []string {
	s := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s = append(s, n.Slug)
	}
	return s
}

func TestBuildTree(t *testing.T) {
	root := sampleTree(t)

	assert.Equal(t, int64(1), root.ID)
	assert.Equal(t, []string{"intro", "basics"}, slugs(root.Children))
	assert.Equal(t, []string{"welcome", "setup"}, slugs(root.Children[0].Children))
	assert.Equal(t, []string{"hello", "goals"}, slugs(root.Children[0].Children[0].Children))
	assert.Equal(t, map[NodeType]int{NodeTypeModule: 2, NodeTypeSection: 3, NodeTypeUnit: 4}, CountByType(root))

	hello := root.Find(4)
	require.NotNil(t, hello)
	assert.Equal(t, []string{"PY_SP", "intro", "welcome"}, slugs(hello.Ancestors()))

	_, err := BuildTree(nil)
	assert.Equal(t, ErrNodeNotFound, err)
}

func TestNode_Clean(t *testing.T) {
	section := &Node{ID: 3, Type: NodeTypeSection, Slug: "welcome"}
	unitParent := &Node{ID: 4, Type: NodeTypeUnit, Slug: "hello", UnitID: i64(101)}

	tests := []struct {
		name      string
		node      *Node
		parent    *Node
		wantField string
	}{
		{
			name:   "valid unit",
			node:   &Node{Type: NodeTypeUnit, Slug: "goals", UnitID: i64(102)},
			parent: section,
		},
		{
			name:      "unit without unit",
			node:      &Node{Type: NodeTypeUnit, Slug: "goals"},
			parent:    section,
			wantField: "unit",
		},
		{
			name:      "unit with children",
			node:      &Node{Type: NodeTypeUnit, Slug: "goals", UnitID: i64(102), Children: []*Node{{ID: 99}}},
			parent:    section,
			wantField: "type",
		},
		{
			name:      "non leaf with unit",
			node:      &Node{Type: NodeTypeSection, Slug: "setup", UnitID: i64(102), Children: []*Node{{ID: 99}}},
			parent:    &Node{Type: NodeTypeModule},
			wantField: "unit",
		},
		{
			name:      "non leaf with unsaved unit",
			node:      &Node{Type: NodeTypeSection, Slug: "setup", Unit: &Unit{Slug: "setup"}, Children: []*Node{{ID: 99}}},
			parent:    &Node{Type: NodeTypeModule},
			wantField: "unit",
		},
		{
			name:      "parent holds a unit",
			node:      &Node{Type: NodeTypeSection, Slug: "nested"},
			parent:    unitParent,
			wantField: "parent_id",
		},
		{
			name:      "missing slug",
			node:      &Node{Type: NodeTypeModule},
			wantField: "slug",
		},
		{
			name:      "disallowed slug",
			node:      &Node{Type: NodeTypeModule, Slug: "progress"},
			wantField: "slug",
		},
		{
			name: "empty module",
			node: &Node{Type: NodeTypeModule, Slug: "later"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Clean(tt.parent)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			verr, ok := err.(*core.ValidationError)
			require.True(t, ok, "Clean() error = %v; want *core.ValidationError", err)
			assert.Equal(t, tt.wantField, verr.Fields[0].Field)
		})
	}
}

func TestNode_NodeURL(t *testing.T) {
	root := sampleTree(t)
	c := Course{Slug: "PY", Run: "SP"}

	assert.Equal(t, "/courses/PY/SP/", root.NodeURL(c))
	assert.Equal(t, "/courses/PY/SP/intro/", root.Find(2).NodeURL(c))
	assert.Equal(t, "/courses/PY/SP/intro/welcome/goals/", root.Find(5).NodeURL(c))
}

func TestNode_ContentTokenAndTooltip(t *testing.T) {
	tests := []struct {
		name        string
		node        Node
		wantToken   string
		wantTooltip string
	}{
		{
			name:        "indexed module",
			node:        Node{Type: NodeTypeModule, DisplayName: "Intro", ContentIndex: core.IntPtr(1)},
			wantToken:   "M1",
			wantTooltip: "<em>Module</em><br/>1 : Intro",
		},
		{
			name:        "module zero index",
			node:        Node{Type: NodeTypeModule, DisplayName: "Intro", ContentIndex: core.IntPtr(0)},
			wantToken:   "M0",
			wantTooltip: "<em>Module</em><br/>Intro",
		},
		{
			name:        "indexed section",
			node:        Node{Type: NodeTypeSection, DisplayName: "Welcome", ContentIndex: core.IntPtr(2)},
			wantToken:   "S2",
			wantTooltip: "<em>Section</em><br/><br/>2 : Welcome",
		},
		{
			name:        "section without index",
			node:        Node{Type: NodeTypeSection, DisplayName: "Welcome"},
			wantToken:   "S",
			wantTooltip: "<em>Section</em><br/>Welcome",
		},
		{
			name:        "unit",
			node:        Node{Type: NodeTypeUnit, DisplayName: "Hello", ContentIndex: core.IntPtr(3)},
			wantTooltip: "<em>Unit</em><br/>Hello",
		},
		{
			name:        "root",
			node:        Node{Type: NodeTypeRoot, DisplayName: "Python"},
			wantTooltip: "Python",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.ContentToken(); got != tt.wantToken {
				t.Errorf("ContentToken() = %q, want %q", got, tt.wantToken)
			}
			if got := tt.node.ContentTooltip(); got != tt.wantTooltip {
				t.Errorf("ContentTooltip() = %q, want %q", got, tt.wantTooltip)
			}
		})
	}
}

func TestReindexAndClearContentIndex(t *testing.T) {
	root := sampleTree(t)

	changed := ReindexContent(root, 0)
	assert.Len(t, changed, 9)

	indexes := make(map[string]int)
	root.Walk(func(n *Node) {
		if n.ContentIndex != nil {
			indexes[n.Slug] = *n.ContentIndex
		}
	})
	assert.Equal(t, map[string]int{
		"intro": 0, "welcome": 1, "hello": 1, "goals": 2, "setup": 2, "install": 1,
		"basics": 1, "first-steps": 1, "variables": 1,
	}, indexes)

	// already indexed: nothing to save
	assert.Empty(t, ReindexContent(root, 0))
	assert.Len(t, ReindexContent(root, 1), 2)

	assert.Len(t, ClearContentIndex(root), 9)
	root.Walk(func(n *Node) {
		assert.Nil(t, n.ContentIndex, n.Slug)
	})
}

func TestNode_IsReleased(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	assert.True(t, (&Node{}).IsReleased(now))
	assert.True(t, (&Node{ReleaseDatetime: &past}).IsReleased(now))
	assert.True(t, (&Node{ReleaseDatetime: &now}).IsReleased(now))
	assert.False(t, (&Node{ReleaseDatetime: &future}).IsReleased(now))
}
