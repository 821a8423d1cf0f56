package course

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata" // release dates are displayed in US/Pacific

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
)

var displayLocation = mustLoadLocation("America/Los_Angeles")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatReleaseDatetime renders a release date the way it is shown to students.
func FormatReleaseDatetime(t time.Time) string {
	return t.In(displayLocation).Format("Jan 02, 2006 03:04 MST")
}

// NavCacheKey is the cache key holding the navigation of a course.
func NavCacheKey(c Course) string {
	return c.Token() + "_nav"
}

type NavUnit struct {
	ID          int64    `json:"id"`
	Slug        string   `json:"slug"`
	Type        UnitType `json:"type"`
	DisplayName string   `json:"display_name"`
}

// NavNode is the serialized navigation view of a Node.
type NavNode struct {
	ID                 int64       `json:"id"`
	Slug               string      `json:"slug"`
	Type               NodeType    `json:"type"`
	Purpose            NodePurpose `json:"purpose"`
	DisplayName        string      `json:"display_name"`
	NodeURL            string      `json:"node_url"`
	Unit               *NavUnit    `json:"unit"`
	ReleaseDatetime    string      `json:"release_datetime"`
	ReleaseDatetimeUTC *time.Time  `json:"release_datetime_utc"`
	ContentToken       string      `json:"content_token"`
	ContentTooltip     string      `json:"content_tooltip"`
	IsReleased         bool        `json:"is_released"`
	LinkEnabled        bool        `json:"link_enabled"`
	ContentIndex       *int        `json:"content_index"`
	DisplaySequence    int         `json:"display_sequence"`
	Children           []*NavNode  `json:"children"`
}

// NewNavNode serializes the subtree of n.
func NewNavNode(n *Node, c Course, now time.Time) *NavNode {
	nn := &NavNode{
		ID:                 n.ID,
		Slug:               n.Slug,
		Type:               n.Type,
		Purpose:            n.Purpose,
		DisplayName:        n.DisplayName,
		NodeURL:            n.NodeURL(c),
		ReleaseDatetimeUTC: n.ReleaseDatetime,
		ContentToken:       n.ContentToken(),
		ContentTooltip:     n.ContentTooltip(),
		IsReleased:         n.IsReleased(now),
		LinkEnabled:        n.IsUnit(),
		ContentIndex:       n.ContentIndex,
		DisplaySequence:    n.DisplaySequence,
		Children:           make([]*NavNode, 0, len(n.Children)),
	}
	if n.ReleaseDatetime != nil {
		nn.ReleaseDatetime = FormatReleaseDatetime(*n.ReleaseDatetime)
	}
	if n.Unit != nil {
		nn.Unit = &NavUnit{ID: n.Unit.ID, Slug: n.Unit.Slug, Type: n.Unit.Type, DisplayName: n.Unit.DisplayName}
	} else if n.UnitID != nil {
		nn.Unit = &NavUnit{ID: *n.UnitID}
	}
	for _, child := range n.Children {
		nn.Children = append(nn.Children, NewNavNode(child, c, now))
	}
	return nn
}

func (nn *NavNode) updateReleased(now time.Time) {
	if nn.ReleaseDatetimeUTC != nil {
		nn.IsReleased = !nn.ReleaseDatetimeUTC.After(now)
	}
}

// UpdateReleased recomputes IsReleased on every module, section and unit against now.
// Self paced courses have every node released.
func (nn *NavNode) UpdateReleased(selfPaced bool, now time.Time) {
	for _, module := range nn.Children {
		for _, n := range module.flatten() {
			if selfPaced {
				n.IsReleased = true
			} else {
				n.updateReleased(now)
			}
		}
	}
}

func (nn *NavNode) flatten() []*NavNode {
	nodes := []*NavNode{nn}
	for _, child := range nn.Children {
		nodes = append(nodes, child.flatten()...)
	}
	return nodes
}

// Child returns the child with the given slug, or the first child when slug is empty.
func (nn *NavNode) Child(slug string) (*NavNode, bool) {
	if len(nn.Children) == 0 {
		return nil, false
	}
	if slug == "" {
		return nn.Children[0], true
	}
	for _, child := range nn.Children {
		if child.Slug == slug {
			return child, true
		}
	}
	return nil, false
}

// Lineage returns the first UNIT node referencing unitID followed by its ancestors (root excluded),
// nearest first. It is empty when the unit is not in the navigation.
func (nn *NavNode) Lineage(unitID int64) []*NavNode {
	for _, n := range nn.Children {
		if n.Type == NodeTypeUnit {
			if n.Unit != nil && n.Unit.ID == unitID {
				return []*NavNode{n}
			}
		} else if len(n.Children) > 0 {
			if found := n.Lineage(unitID); len(found) > 0 {
				return append(found, n)
			}
		}
	}
	return nil
}

// Units lists every UNIT node in document order.
func (nn *NavNode) Units() []*NavNode {
	var units []*NavNode
	for _, n := range nn.flatten() {
		if n.Type == NodeTypeUnit {
			units = append(units, n)
		}
	}
	return units
}

// TreeLoader loads the node tree of a course, with unit summaries attached.
type TreeLoader interface {
	GetTree(ctx context.Context, c Course) (*Node, error)
}

// Navigator materializes and caches course navigation.
type Navigator struct {
	loader TreeLoader
	cache  core.Cache
	ttl    time.Duration
	logger core.Logger
}

// NewNavigator returns a Navigator caching navigation for ttl. A zero ttl disables caching.
func NewNavigator(loader TreeLoader, cache core.Cache, ttl time.Duration, logger core.Logger) *Navigator {
	return &Navigator{loader: loader, cache: cache, ttl: ttl, logger: logger}
}

// GetCourseNav returns the navigation of c with release flags computed for the current moment,
// shifted by the beta offset of the course when isBetaTester.
func (nav *Navigator) GetCourseNav(ctx context.Context, c Course, isBetaTester bool) (*NavNode, error) {
	root, err := nav.cached(ctx, c)
	if err != nil {
		return nil, err
	}

	now := core.Now()
	if isBetaTester && c.DaysEarlyForBeta > 0 {
		now = now.AddDate(0, 0, c.DaysEarlyForBeta)
	}
	root.UpdateReleased(c.SelfPaced, now)
	return root, nil
}

func (nav *Navigator) cached(ctx context.Context, c Course) (*NavNode, error) {
	key := NavCacheKey(c)

	if data, err := nav.cache.Get(ctx, key); err == nil {
		root := new(NavNode)
		if err := json.Unmarshal(data, root); err == nil {
			navCacheHits.Inc()
			return root, nil
		}
		nav.logger.Warn(fmt.Sprintf("discarding corrupted course nav %q", key))
	} else if pkgerrors.Cause(err) != core.ErrCacheMiss {
		nav.logger.Warn(fmt.Sprintf("reading course nav %q: %v", key, err))
	}
	navCacheMisses.Inc()

	start := time.Now()
	tree, err := nav.loader.GetTree(ctx, c)
	if err != nil {
		nav.logger.Error(fmt.Sprintf("could not generate course nav for %s: %v", c.Token(), err), err)
		return nil, pkgerrors.Wrap(ErrNavUnavailable, err.Error())
	}
	root := NewNavNode(tree, c, core.Now())
	navBuildSeconds.Observe(time.Since(start).Seconds())

	if nav.ttl > 0 {
		data, err := json.Marshal(root)
		if err != nil {
			nav.logger.Error(fmt.Sprintf("could not serialize course nav for %s: %v", c.Token(), err), err)
			return nil, pkgerrors.Wrap(ErrNavUnavailable, err.Error())
		}
		if err := nav.cache.Set(ctx, key, data, nav.ttl); err != nil {
			nav.logger.Warn(fmt.Sprintf("caching course nav %q: %v", key, err))
		}
	}
	return root, nil
}

// BustCache drops the cached navigation of c.
func (nav *Navigator) BustCache(ctx context.Context, c Course) error {
	if err := nav.cache.Delete(ctx, NavCacheKey(c)); err != nil {
		return pkgerrors.Wrap(err, "busting course nav cache")
	}
	return nil
}
