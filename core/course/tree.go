package course

import (
	"sort"
	"strconv"

	"github.com/trezcool/elimu/core"
)

// DisallowedSlugs clash with course level routes and cannot be used as node slugs.
var DisallowedSlugs = []string{
	"certificate",
	"export",
	"progress",
	"extra",
	"bookmarks",
	"custom_app",
	"resource",
	"forum_topics",
}

func IsDisallowedSlug(slug string) bool {
	for _, s := range DisallowedSlugs {
		if s == slug {
			return true
		}
	}
	return false
}

// Clean checks the structural rules of the node within its tree.
// parent may be nil for root nodes.
func (n *Node) Clean(parent *Node) error {
	if n.IsLeaf() {
		if n.Type == NodeTypeUnit && n.UnitID == nil && n.Unit == nil {
			return core.NewFieldValidationError("unit", "'unit' node is missing reference to a unit")
		}
	} else if n.Type == NodeTypeUnit {
		return core.NewFieldValidationError("type", "'unit' nodes must be leaf nodes")
	} else if n.UnitID != nil || n.Unit != nil {
		return core.NewFieldValidationError("unit", "only leaf nodes can reference a unit")
	}
	if parent != nil && (parent.UnitID != nil || parent.Unit != nil) {
		return core.NewFieldValidationError("parent_id", "parent node cannot reference a unit")
	}
	if n.Slug == "" {
		return core.NewFieldValidationError("slug", "node must have a slug")
	}
	if IsDisallowedSlug(n.Slug) {
		return core.NewFieldValidationError("slug", "invalid slug name")
	}
	return nil
}

// BuildTree links the flat list of nodes of a course into a tree and returns its root.
// Children are ordered by display sequence.
func BuildTree(nodes []Node) (*Node, error) {
	byID := make(map[int64]*Node, len(nodes))
	for i := range nodes {
		n := nodes[i]
		n.Children = nil
		n.parent = nil
		byID[n.ID] = &n
	}

	var root *Node
	for _, n := range byID {
		if n.ParentID == nil {
			if root != nil && n.Type != NodeTypeRoot {
				continue
			}
			root = n
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok {
			continue
		}
		n.parent = parent
		parent.Children = append(parent.Children, n)
	}
	if root == nil {
		return nil, ErrNodeNotFound
	}

	root.Walk(func(n *Node) {
		SortNodes(n.Children)
	})
	return root, nil
}

// SortNodes orders sibling nodes by display sequence, then ID.
func SortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].DisplaySequence == nodes[j].DisplaySequence {
			return nodes[i].ID < nodes[j].ID
		}
		return nodes[i].DisplaySequence < nodes[j].DisplaySequence
	})
}

// Walk calls fn on n and every descendant, depth first in sibling order.
func (n *Node) Walk(fn func(n *Node)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Find returns the node with the given ID in the subtree of n.
func (n *Node) Find(id int64) *Node {
	var found *Node
	n.Walk(func(node *Node) {
		if found == nil && node.ID == id {
			found = node
		}
	})
	return found
}

// Ancestors returns the chain of nodes from the root down to n, n excluded.
func (n *Node) Ancestors() []*Node {
	var chain []*Node
	for p := n.parent; p != nil; p = p.parent {
		chain = append([]*Node{p}, chain...)
	}
	return chain
}

// NodeURL is the course URL followed by the slug of each non root node down to n.
func (n *Node) NodeURL(c Course) string {
	url := c.CourseURL()
	for _, a := range n.Ancestors() {
		if a.Type == NodeTypeRoot {
			continue
		}
		url += a.Slug + "/"
	}
	if n.Type != NodeTypeRoot {
		url += n.Slug + "/"
	}
	return url
}

// ContentToken is the short label shown in quick navigation ("M1", "S2").
func (n *Node) ContentToken() string {
	var token string
	switch n.Type {
	case NodeTypeModule:
		token = "M"
	case NodeTypeSection:
		token = "S"
	default:
		return ""
	}
	if n.ContentIndex != nil {
		token += strconv.Itoa(*n.ContentIndex)
	}
	return token
}

func (n *Node) ContentTooltip() string {
	hasIndex := n.ContentIndex != nil && *n.ContentIndex != 0
	switch n.Type {
	case NodeTypeModule:
		label := "<br/>" + n.DisplayName
		if hasIndex {
			label = "<br/>" + strconv.Itoa(*n.ContentIndex) + " : " + n.DisplayName
		}
		return "<em>Module</em>" + label
	case NodeTypeSection:
		label := "<br/>" + n.DisplayName
		if hasIndex {
			label = "<br/><br/>" + strconv.Itoa(*n.ContentIndex) + " : " + n.DisplayName
		}
		return "<em>Section</em>" + label
	case NodeTypeUnit:
		return "<em>Unit</em><br/>" + n.DisplayName
	}
	return n.DisplayName
}

// ReindexContent renumbers the content index of every node below root and returns the changed nodes.
// Modules start at startModuleAt, sections and units restart at 1 within their parent.
func ReindexContent(root *Node, startModuleAt int) []*Node {
	var changed []*Node
	set := func(n *Node, idx int) {
		if n.ContentIndex == nil || *n.ContentIndex != idx {
			n.ContentIndex = core.IntPtr(idx)
			changed = append(changed, n)
		}
	}

	moduleIdx := startModuleAt
	for _, module := range root.Children {
		set(module, moduleIdx)
		moduleIdx++
		for si, section := range module.Children {
			set(section, si+1)
			for ui, unit := range section.Children {
				set(unit, ui+1)
			}
		}
	}
	return changed
}

// ClearContentIndex removes the content index of every node below root and returns the changed nodes.
func ClearContentIndex(root *Node) []*Node {
	var changed []*Node
	root.Walk(func(n *Node) {
		if n != root && n.ContentIndex != nil {
			n.ContentIndex = nil
			changed = append(changed, n)
		}
	})
	return changed
}

// CountByType counts the modules, sections and units of a tree.
func CountByType(root *Node) map[NodeType]int {
	counts := make(map[NodeType]int, 3)
	root.Walk(func(n *Node) {
		if n.Type != NodeTypeRoot {
			counts[n.Type]++
		}
	})
	return counts
}
