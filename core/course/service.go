package course

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
)

type (
	// GetFilter selects a single Course, by ID or by slug and run.
	GetFilter struct {
		ID   int64
		Slug string
		Run  string
	}

	Repository interface {
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Course, error)
		QueryCourses(ctx context.Context, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)

		CreateNode(ctx context.Context, n Node, exec ...core.DBExecutor) (Node, error)
		UpdateNode(ctx context.Context, n Node, exec ...core.DBExecutor) (Node, error)
		DeleteNode(ctx context.Context, id int64, exec ...core.DBExecutor) error
		GetNode(ctx context.Context, id int64, exec ...core.DBExecutor) (Node, error)
		// QueryNodes returns every node of the course with its unit summary (no blocks) attached.
		QueryNodes(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Node, error)

		CreateUnit(ctx context.Context, u Unit, exec ...core.DBExecutor) (Unit, error)
		UpdateUnit(ctx context.Context, u Unit, exec ...core.DBExecutor) (Unit, error)
		// GetUnit returns the unit with its ordered unit blocks, blocks and block resources.
		GetUnit(ctx context.Context, id int64, exec ...core.DBExecutor) (Unit, error)
		QueryUnits(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Unit, error)

		CreateBlock(ctx context.Context, b Block, exec ...core.DBExecutor) (Block, error)
		GetBlock(ctx context.Context, id int64, exec ...core.DBExecutor) (Block, error)
		GetBlockByUUID(ctx context.Context, uuid string, exec ...core.DBExecutor) (Block, error)
		QueryBlocks(ctx context.Context, courseID int64, blockType BlockType, exec ...core.DBExecutor) ([]Block, error)
		CreateUnitBlock(ctx context.Context, ub UnitBlock, exec ...core.DBExecutor) (UnitBlock, error)
		DeleteUnitBlock(ctx context.Context, unitID, blockID int64, exec ...core.DBExecutor) error

		CreateResource(ctx context.Context, r Resource, exec ...core.DBExecutor) (Resource, error)
		GetResourceByUUID(ctx context.Context, uuid string, exec ...core.DBExecutor) (Resource, error)
		LinkBlockResource(ctx context.Context, blockID, resourceID int64, exec ...core.DBExecutor) error
		LinkCourseResource(ctx context.Context, courseID, resourceID int64, exec ...core.DBExecutor) error
		QueryCourseResources(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Resource, error)
	}

	Service interface {
		TreeLoader

		GetByToken(ctx context.Context, slug, run string) (Course, error)
		GetByID(ctx context.Context, id int64) (Course, error)
		Query(ctx context.Context, ordering []core.DBOrdering) ([]Course, error)
		GetUnit(ctx context.Context, id int64) (Unit, error)

		GetNav(ctx context.Context, c Course, isBetaTester bool) (*NavNode, error)
		BustNavCache(ctx context.Context, c Course) error

		// composer
		AddNode(ctx context.Context, c Course, nn NewNode) (Node, error)
		UpdateNode(ctx context.Context, c Course, id int64, un UpdateNode) (Node, error)
		DeleteNode(ctx context.Context, c Course, id int64) error
		MoveNode(ctx context.Context, c Course, id, parentID int64, displaySequence int) (Node, error)
		ReindexContent(ctx context.Context, c Course, startModuleAt int) error
		ClearContentIndex(ctx context.Context, c Course) error
		UpdateUnit(ctx context.Context, c Course, u Unit) (Unit, error)
		AddUnitBlock(ctx context.Context, c Course, unitID int64, ub UnitBlock) (UnitBlock, error)
		RemoveUnitBlock(ctx context.Context, c Course, unitID, blockID int64) error
	}

	service struct {
		repo   Repository
		txr    core.Transactor
		nav    *Navigator
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

var orderingFields = []string{"slug", "run", "display_name", "start_date", "created_at"}

func NewService(repo Repository, txr core.Transactor, cache core.Cache, navTTL time.Duration, logger core.Logger) Service {
	svc := &service{repo: repo, txr: txr, logger: logger}
	svc.nav = NewNavigator(svc, cache, navTTL, logger)
	return svc
}

func (svc *service) GetByToken(ctx context.Context, slug, run string) (Course, error) {
	return svc.repo.GetCourse(ctx, GetFilter{Slug: slug, Run: run})
}

func (svc *service) GetByID(ctx context.Context, id int64) (Course, error) {
	return svc.repo.GetCourse(ctx, GetFilter{ID: id})
}

func (svc *service) Query(ctx context.Context, ordering []core.DBOrdering) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, core.CleanOrderings(ordering, orderingFields...))
}

func (svc *service) GetTree(ctx context.Context, c Course) (*Node, error) {
	nodes, err := svc.repo.QueryNodes(ctx, c.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying course nodes")
	}
	return BuildTree(nodes)
}

func (svc *service) GetUnit(ctx context.Context, id int64) (Unit, error) {
	return svc.repo.GetUnit(ctx, id)
}

func (svc *service) GetNav(ctx context.Context, c Course, isBetaTester bool) (*NavNode, error) {
	return svc.nav.GetCourseNav(ctx, c, isBetaTester)
}

func (svc *service) BustNavCache(ctx context.Context, c Course) error {
	return svc.nav.BustCache(ctx, c)
}

// bust is called after every composer mutation; a failure leaves stale navigation until the TTL expires.
func (svc *service) bust(ctx context.Context, c Course) {
	if err := svc.nav.BustCache(ctx, c); err != nil {
		svc.logger.Error(fmt.Sprintf("FAILING SILENTLY: %v", err), err)
	}
}

// courseTree loads the tree of c and the node with the given id.
func (svc *service) courseTree(ctx context.Context, c Course, id int64, exec core.DBExecutor) (*Node, *Node, error) {
	nodes, err := svc.repo.QueryNodes(ctx, c.ID, exec)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "querying course nodes")
	}
	root, err := BuildTree(nodes)
	if err != nil {
		return nil, nil, err
	}
	node := root.Find(id)
	if node == nil {
		return nil, nil, ErrNodeNotFound
	}
	return root, node, nil
}

func (svc *service) AddNode(ctx context.Context, c Course, nn NewNode) (Node, error) {
	var created Node
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		_, parent, err := svc.courseTree(ctx, c, nn.ParentID, exec)
		if err != nil {
			return err
		}
		if nn.Type.ParentType() != parent.Type {
			return core.NewFieldValidationError("type", fmt.Sprintf("a %s cannot be added to a %s", nn.Type.Level(), parent.Type.Level()))
		}
		for _, sibling := range parent.Children {
			if sibling.Slug == nn.Slug {
				return core.NewFieldValidationError("slug", "a sibling node already uses this slug")
			}
		}

		node := Node{
			CourseID:        c.ID,
			ParentID:        &parent.ID,
			Type:            nn.Type,
			Purpose:         nn.Purpose,
			DisplayName:     nn.DisplayName,
			Slug:            nn.Slug,
			ReleaseDatetime: nn.ReleaseDatetime,
			ContentIndex:    nn.ContentIndex,
		}
		if nn.DisplaySequence != nil {
			node.DisplaySequence = *nn.DisplaySequence
		} else if n := len(parent.Children); n > 0 {
			node.DisplaySequence = parent.Children[n-1].DisplaySequence + 1
		}
		if node.Type == NodeTypeUnit {
			unitName := nn.UnitDisplayName
			if unitName == "" {
				unitName = nn.DisplayName
			}
			unit, err := svc.repo.CreateUnit(ctx, Unit{
				CourseID:    c.ID,
				UUID:        uuid.NewString(),
				Slug:        nn.Slug,
				DisplayName: unitName,
				Type:        UnitTypeStandard,
			}, exec)
			if err != nil {
				return pkgerrors.Wrap(err, "creating unit")
			}
			node.UnitID = &unit.ID
			node.Unit = &unit
		}
		if err := node.Clean(parent); err != nil {
			return err
		}

		created, err = svc.repo.CreateNode(ctx, node, exec)
		return pkgerrors.Wrap(err, "creating node")
	})
	if err != nil {
		return Node{}, err
	}
	svc.bust(ctx, c)
	return created, nil
}

func (svc *service) UpdateNode(ctx context.Context, c Course, id int64, un UpdateNode) (Node, error) {
	var updated Node
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		_, node, err := svc.courseTree(ctx, c, id, exec)
		if err != nil {
			return err
		}
		if parent := node.Parent(); parent != nil && un.Slug != node.Slug {
			for _, sibling := range parent.Children {
				if sibling.ID != node.ID && sibling.Slug == un.Slug {
					return core.NewFieldValidationError("slug", "a sibling node already uses this slug")
				}
			}
		}
		node.DisplayName = un.DisplayName
		node.Slug = un.Slug
		node.Purpose = un.Purpose
		node.ReleaseDatetime = un.ReleaseDatetime
		node.ContentIndex = un.ContentIndex
		if err := node.Clean(node.Parent()); err != nil {
			return err
		}
		updated, err = svc.repo.UpdateNode(ctx, *node, exec)
		return pkgerrors.Wrap(err, "updating node")
	})
	if err != nil {
		return Node{}, err
	}
	svc.bust(ctx, c)
	return updated, nil
}

func (svc *service) DeleteNode(ctx context.Context, c Course, id int64) error {
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		_, node, err := svc.courseTree(ctx, c, id, exec)
		if err != nil {
			return err
		}
		if node.Type == NodeTypeRoot {
			return core.NewFieldValidationError("id", "the root node cannot be deleted")
		}
		return pkgerrors.Wrap(svc.repo.DeleteNode(ctx, id, exec), "deleting node")
	})
	if err != nil {
		return err
	}
	svc.bust(ctx, c)
	return nil
}

func (svc *service) MoveNode(ctx context.Context, c Course, id, parentID int64, displaySequence int) (Node, error) {
	var moved Node
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		root, node, err := svc.courseTree(ctx, c, id, exec)
		if err != nil {
			return err
		}
		parent := root.Find(parentID)
		if parent == nil {
			return core.NewFieldValidationError("parent_id", "parent node does not exist")
		}
		if node.Type.ParentType() != parent.Type {
			return core.NewFieldValidationError("parent_id", fmt.Sprintf("a %s cannot be moved to a %s", node.Type.Level(), parent.Type.Level()))
		}
		for _, sibling := range parent.Children {
			if sibling.ID != node.ID && sibling.Slug == node.Slug {
				return core.NewFieldValidationError("slug", "a sibling node already uses this slug")
			}
		}
		if err := node.Clean(parent); err != nil {
			return err
		}
		node.ParentID = &parent.ID
		node.DisplaySequence = displaySequence
		moved, err = svc.repo.UpdateNode(ctx, *node, exec)
		return pkgerrors.Wrap(err, "moving node")
	})
	if err != nil {
		return Node{}, err
	}
	svc.bust(ctx, c)
	return moved, nil
}

func (svc *service) ReindexContent(ctx context.Context, c Course, startModuleAt int) error {
	return svc.updateContentIndexes(ctx, c, func(root *Node) []*Node {
		return ReindexContent(root, startModuleAt)
	})
}

func (svc *service) ClearContentIndex(ctx context.Context, c Course) error {
	return svc.updateContentIndexes(ctx, c, ClearContentIndex)
}

func (svc *service) updateContentIndexes(ctx context.Context, c Course, apply func(root *Node) []*Node) error {
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		nodes, err := svc.repo.QueryNodes(ctx, c.ID, exec)
		if err != nil {
			return pkgerrors.Wrap(err, "querying course nodes")
		}
		root, err := BuildTree(nodes)
		if err != nil {
			return err
		}
		for _, n := range apply(root) {
			if _, err := svc.repo.UpdateNode(ctx, *n, exec); err != nil {
				return pkgerrors.Wrap(err, "updating node content index")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	svc.bust(ctx, c)
	return nil
}

func (svc *service) UpdateUnit(ctx context.Context, c Course, u Unit) (Unit, error) {
	orig, err := svc.repo.GetUnit(ctx, u.ID)
	if err != nil {
		return Unit{}, err
	}
	if orig.CourseID != c.ID {
		return Unit{}, ErrUnitNotFound
	}
	orig.DisplayName = u.DisplayName
	orig.Slug = u.Slug
	orig.ShortDescription = u.ShortDescription
	orig.HTMLContent = u.HTMLContent
	if u.Type != "" {
		orig.Type = u.Type
	}

	updated, err := svc.repo.UpdateUnit(ctx, orig)
	if err != nil {
		return Unit{}, pkgerrors.Wrap(err, "updating unit")
	}
	svc.bust(ctx, c)
	return updated, nil
}

// AddUnitBlock attaches ub.Block to the unit, creating the block when it has no ID yet.
func (svc *service) AddUnitBlock(ctx context.Context, c Course, unitID int64, ub UnitBlock) (UnitBlock, error) {
	var created UnitBlock
	err := svc.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		unit, err := svc.repo.GetUnit(ctx, unitID, exec)
		if err != nil {
			return err
		}
		if unit.CourseID != c.ID {
			return ErrUnitNotFound
		}

		block := ub.Block
		if block.ID == 0 {
			if !block.Type.IsValid() {
				return core.NewFieldValidationError("type", "invalid block type")
			}
			if block.UUID == "" {
				block.UUID = uuid.NewString()
			}
			if block, err = svc.repo.CreateBlock(ctx, block, exec); err != nil {
				return pkgerrors.Wrap(err, "creating block")
			}
		} else if block, err = svc.repo.GetBlock(ctx, block.ID, exec); err != nil {
			return err
		}

		ub.UnitID = unit.ID
		ub.BlockID = block.ID
		ub.Block = block
		if ub.BlockOrder == 0 {
			ub.BlockOrder = len(unit.UnitBlocks)
		}
		created, err = svc.repo.CreateUnitBlock(ctx, ub, exec)
		return pkgerrors.Wrap(err, "creating unit block")
	})
	if err != nil {
		return UnitBlock{}, err
	}
	svc.bust(ctx, c)
	return created, nil
}

func (svc *service) RemoveUnitBlock(ctx context.Context, c Course, unitID, blockID int64) error {
	unit, err := svc.repo.GetUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.CourseID != c.ID {
		return ErrUnitNotFound
	}
	if err := svc.repo.DeleteUnitBlock(ctx, unitID, blockID); err != nil {
		return pkgerrors.Wrap(err, "deleting unit block")
	}
	svc.bust(ctx, c)
	return nil
}
