package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, crs := range repo.db.courses {
		if crs.Slug == c.Slug && crs.Run == c.Run {
			return course.Course{}, course.ErrCourseExists
		}
	}
	c.ID = repo.db.nextPK()
	if c.Catalog != nil {
		cat := *c.Catalog
		cat.ID = repo.db.nextPK()
		cat.CourseID = c.ID
		c.Catalog = &cat
	}
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[c.ID]; !ok {
		return course.Course{}, course.ErrNotFound
	}
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, filter course.GetFilter, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, c := range repo.db.courses {
		if (filter.ID != 0 && c.ID == filter.ID) || (filter.ID == 0 && c.Slug == filter.Slug && c.Run == filter.Run) {
			return *c, nil
		}
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) QueryCourses(_ context.Context, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		courses = append(courses, *c)
	}
	sortByID(courses, func(c course.Course) int64 { return c.ID })
	for _, ord := range ordering {
		if ord.Field == "slug" {
			asc := ord.Ascending
			sort.SliceStable(courses, func(i, j int) bool {
				if asc {
					return courses[i].Slug < courses[j].Slug
				}
				return courses[i].Slug > courses[j].Slug
			})
		}
	}
	return courses, nil
}

// nodes are stored flat: no children, no unit.
func flatNode(n course.Node) *course.Node {
	n.Children = nil
	n.Unit = nil
	return &n
}

func (repo *courseRepository) CreateNode(_ context.Context, n course.Node, _ ...core.DBExecutor) (course.Node, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	n.ID = repo.db.nextPK()
	repo.db.nodes[n.ID] = flatNode(n)
	return *repo.db.nodes[n.ID], nil
}

func (repo *courseRepository) UpdateNode(_ context.Context, n course.Node, _ ...core.DBExecutor) (course.Node, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.nodes[n.ID]; !ok {
		return course.Node{}, course.ErrNodeNotFound
	}
	repo.db.nodes[n.ID] = flatNode(n)
	return *repo.db.nodes[n.ID], nil
}

// DeleteNode deletes the node and its descendants.
func (repo *courseRepository) DeleteNode(_ context.Context, id int64, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.nodes[id]; !ok {
		return course.ErrNodeNotFound
	}
	doomed := []int64{id}
	for len(doomed) > 0 {
		curr := doomed[0]
		doomed = doomed[1:]
		delete(repo.db.nodes, curr)
		for _, n := range repo.db.nodes {
			if n.ParentID != nil && *n.ParentID == curr {
				doomed = append(doomed, n.ID)
			}
		}
	}
	return nil
}

func (repo *courseRepository) GetNode(_ context.Context, id int64, _ ...core.DBExecutor) (course.Node, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if n, ok := repo.db.nodes[id]; ok {
		return *n, nil
	}
	return course.Node{}, course.ErrNodeNotFound
}

func (repo *courseRepository) QueryNodes(_ context.Context, courseID int64, _ ...core.DBExecutor) ([]course.Node, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var nodes []course.Node
	for _, n := range repo.db.nodes {
		if n.CourseID != courseID {
			continue
		}
		node := *n
		if node.UnitID != nil {
			if u, ok := repo.db.units[*node.UnitID]; ok {
				summary := *u
				summary.UnitBlocks = nil
				node.Unit = &summary
			}
		}
		nodes = append(nodes, node)
	}
	sortByID(nodes, func(n course.Node) int64 { return n.ID })
	return nodes, nil
}

func (repo *courseRepository) CreateUnit(_ context.Context, u course.Unit, _ ...core.DBExecutor) (course.Unit, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	u.ID = repo.db.nextPK()
	u.UnitBlocks = nil
	repo.db.units[u.ID] = &u
	return u, nil
}

func (repo *courseRepository) UpdateUnit(_ context.Context, u course.Unit, _ ...core.DBExecutor) (course.Unit, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.units[u.ID]; !ok {
		return course.Unit{}, course.ErrUnitNotFound
	}
	stored := u
	stored.UnitBlocks = nil
	repo.db.units[u.ID] = &stored
	return repo.unit(u.ID), nil
}

// unit must be called with the lock held.
func (repo *courseRepository) unit(id int64) course.Unit {
	u := *repo.db.units[id]
	u.UnitBlocks = nil
	for _, ub := range repo.db.unitBlocks {
		if ub.UnitID != id {
			continue
		}
		unitBlock := *ub
		unitBlock.Block = repo.block(ub.BlockID)
		u.UnitBlocks = append(u.UnitBlocks, unitBlock)
	}
	sort.Slice(u.UnitBlocks, func(i, j int) bool {
		if u.UnitBlocks[i].BlockOrder == u.UnitBlocks[j].BlockOrder {
			return u.UnitBlocks[i].ID < u.UnitBlocks[j].ID
		}
		return u.UnitBlocks[i].BlockOrder < u.UnitBlocks[j].BlockOrder
	})
	return u
}

func (repo *courseRepository) GetUnit(_ context.Context, id int64, _ ...core.DBExecutor) (course.Unit, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if _, ok := repo.db.units[id]; !ok {
		return course.Unit{}, course.ErrUnitNotFound
	}
	return repo.unit(id), nil
}

func (repo *courseRepository) QueryUnits(_ context.Context, courseID int64, _ ...core.DBExecutor) ([]course.Unit, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var units []course.Unit
	for _, u := range repo.db.units {
		if u.CourseID == courseID {
			units = append(units, repo.unit(u.ID))
		}
	}
	sortByID(units, func(u course.Unit) int64 { return u.ID })
	return units, nil
}

func (repo *courseRepository) CreateBlock(_ context.Context, b course.Block, _ ...core.DBExecutor) (course.Block, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	b.ID = repo.db.nextPK()
	b.Resources = nil
	repo.db.blocks[b.ID] = &b
	return b, nil
}

// block must be called with the lock held.
func (repo *courseRepository) block(id int64) course.Block {
	b := *repo.db.blocks[id]
	b.Resources = nil
	for _, resID := range repo.db.blockResources[id] {
		b.Resources = append(b.Resources, *repo.db.resources[resID])
	}
	return b
}

func (repo *courseRepository) GetBlock(_ context.Context, id int64, _ ...core.DBExecutor) (course.Block, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if _, ok := repo.db.blocks[id]; !ok {
		return course.Block{}, course.ErrBlockNotFound
	}
	return repo.block(id), nil
}

func (repo *courseRepository) GetBlockByUUID(_ context.Context, uuid string, _ ...core.DBExecutor) (course.Block, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, b := range repo.db.blocks {
		if b.UUID == uuid {
			return repo.block(b.ID), nil
		}
	}
	return course.Block{}, course.ErrBlockNotFound
}

// QueryBlocks returns the blocks of blockType used by the units of the course, every type when blockType is empty.
func (repo *courseRepository) QueryBlocks(_ context.Context, courseID int64, blockType course.BlockType, _ ...core.DBExecutor) ([]course.Block, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	seen := make(map[int64]bool)
	var blocks []course.Block
	for _, ub := range repo.db.unitBlocks {
		u, ok := repo.db.units[ub.UnitID]
		if !ok || u.CourseID != courseID || seen[ub.BlockID] {
			continue
		}
		b := repo.block(ub.BlockID)
		if blockType != "" && b.Type != blockType {
			continue
		}
		seen[b.ID] = true
		blocks = append(blocks, b)
	}
	sortByID(blocks, func(b course.Block) int64 { return b.ID })
	return blocks, nil
}

func (repo *courseRepository) CreateUnitBlock(_ context.Context, ub course.UnitBlock, _ ...core.DBExecutor) (course.UnitBlock, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.units[ub.UnitID]; !ok {
		return course.UnitBlock{}, course.ErrUnitNotFound
	}
	if _, ok := repo.db.blocks[ub.BlockID]; !ok {
		return course.UnitBlock{}, course.ErrBlockNotFound
	}
	ub.ID = repo.db.nextPK()
	stored := ub
	stored.Block = course.Block{}
	repo.db.unitBlocks[ub.ID] = &stored
	ub.Block = repo.block(ub.BlockID)
	return ub, nil
}

func (repo *courseRepository) DeleteUnitBlock(_ context.Context, unitID, blockID int64, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, ub := range repo.db.unitBlocks {
		if ub.UnitID == unitID && ub.BlockID == blockID {
			delete(repo.db.unitBlocks, id)
			return nil
		}
	}
	return course.ErrBlockNotFound
}

func (repo *courseRepository) CreateResource(_ context.Context, r course.Resource, _ ...core.DBExecutor) (course.Resource, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	r.ID = repo.db.nextPK()
	repo.db.resources[r.ID] = &r
	return r, nil
}

func (repo *courseRepository) GetResourceByUUID(_ context.Context, uuid string, _ ...core.DBExecutor) (course.Resource, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, r := range repo.db.resources {
		if r.UUID == uuid {
			return *r, nil
		}
	}
	return course.Resource{}, course.ErrResourceNotFound
}

func link(links map[int64][]int64, from, to int64) {
	for _, id := range links[from] {
		if id == to {
			return
		}
	}
	links[from] = append(links[from], to)
}

func (repo *courseRepository) LinkBlockResource(_ context.Context, blockID, resourceID int64, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	link(repo.db.blockResources, blockID, resourceID)
	return nil
}

func (repo *courseRepository) LinkCourseResource(_ context.Context, courseID, resourceID int64, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	link(repo.db.courseResources, courseID, resourceID)
	return nil
}

func (repo *courseRepository) QueryCourseResources(_ context.Context, courseID int64, _ ...core.DBExecutor) ([]course.Resource, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	resources := make([]course.Resource, 0, len(repo.db.courseResources[courseID]))
	for _, id := range repo.db.courseResources[courseID] {
		resources = append(resources, *repo.db.resources[id])
	}
	return resources, nil
}
