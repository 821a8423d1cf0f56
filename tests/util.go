package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateCourse creates a course along with its ROOT node.
func CreateCourse(t *testing.T, repo course.Repository, slug, run string, opts ...func(c *course.Course)) course.Course {
	ctx := context.Background()
	now := core.Now()
	c := course.Course{
		Slug:        slug,
		Run:         run,
		DisplayName: slug + " " + run,
		Catalog:     &course.CatalogDescription{Title: slug, Visible: true},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c, err := repo.CreateCourse(ctx, c)
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	root, err := repo.CreateNode(ctx, course.Node{
		CourseID:    c.ID,
		Type:        course.NodeTypeRoot,
		DisplayName: c.Token(),
		Slug:        c.Token(),
	})
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	c.RootNodeID = &root.ID
	if c, err = repo.UpdateCourse(ctx, c); err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	return c
}

// NodeSpec describes a node to create with BuildTree.
// Nodes at the third level are UNIT nodes, they get a unit holding Blocks.
type NodeSpec struct {
	Slug         string
	Release      *time.Time
	ContentIndex *int
	Children     []NodeSpec
	Blocks       []course.Block
}

// BuildTree creates the modules, sections and units of c and returns the created nodes by slug.
func BuildTree(t *testing.T, repo course.Repository, c course.Course, modules ...NodeSpec) map[string]course.Node {
	if c.RootNodeID == nil {
		t.Fatal("buildTree() failed: course has no root node")
	}
	created := make(map[string]course.Node)
	levels := []course.NodeType{course.NodeTypeModule, course.NodeTypeSection, course.NodeTypeUnit}

	var build func(parentID int64, nodes []NodeSpec, level int)
	build = func(parentID int64, nodes []NodeSpec, level int) {
		ctx := context.Background()
		for i, ns := range nodes {
			parent := parentID
			n := course.Node{
				CourseID:        c.ID,
				ParentID:        &parent,
				Type:            levels[level],
				DisplayName:     ns.Slug,
				Slug:            ns.Slug,
				ReleaseDatetime: ns.Release,
				ContentIndex:    ns.ContentIndex,
				DisplaySequence: i,
			}
			if n.Type == course.NodeTypeUnit {
				unit, err := repo.CreateUnit(ctx, course.Unit{
					CourseID:    c.ID,
					UUID:        ns.Slug + "-unit",
					Slug:        ns.Slug,
					DisplayName: ns.Slug,
					Type:        course.UnitTypeStandard,
				})
				if err != nil {
					t.Fatalf("buildTree() failed: %v", err)
				}
				for order, b := range ns.Blocks {
					if b.ID == 0 {
						if b, err = repo.CreateBlock(ctx, b); err != nil {
							t.Fatalf("buildTree() failed: %v", err)
						}
					}
					if _, err = repo.CreateUnitBlock(ctx, course.UnitBlock{UnitID: unit.ID, BlockID: b.ID, BlockOrder: order}); err != nil {
						t.Fatalf("buildTree() failed: %v", err)
					}
				}
				n.UnitID = &unit.ID
			}
			node, err := repo.CreateNode(ctx, n)
			if err != nil {
				t.Fatalf("buildTree() failed: %v", err)
			}
			created[ns.Slug] = node
			if level+1 < len(levels) {
				build(node.ID, ns.Children, level+1)
			}
		}
	}
	build(*c.RootNodeID, modules, 0)
	return created
}
