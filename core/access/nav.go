package access

import (
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/elimu/core/course"
)

// UnitNavInfo describes the unit a student is looking at and its neighbours.
type UnitNavInfo struct {
	ModuleNodeID          int64      `json:"module_node_id"`
	ModuleNodeSlug        string     `json:"module_node_slug"`
	ModuleNodeDisplayName string     `json:"module_node_display_name"`
	ModuleContentIndex    *int       `json:"module_content_index"`
	ModuleReleased        bool       `json:"module_released"`
	ModuleReleaseDatetime *time.Time `json:"module_release_datetime"`

	SectionNodeID          int64      `json:"section_node_id"`
	SectionNodeSlug        string     `json:"section_node_slug"`
	SectionNodeDisplayName string     `json:"section_node_display_name"`
	SectionContentIndex    *int       `json:"section_content_index"`
	SectionReleased        bool       `json:"section_released"`
	SectionReleaseDatetime *time.Time `json:"section_release_datetime"`

	UnitNodeID          int64      `json:"unit_node_id"`
	UnitNodeSlug        string     `json:"unit_node_slug"`
	UnitNodeDisplayName string     `json:"unit_node_display_name"`
	UnitContentIndex    *int       `json:"unit_content_index"`
	UnitNodeReleased    bool       `json:"unit_node_released"`
	UnitReleaseDatetime *time.Time `json:"unit_node_release_datetime"`
	UnitID              int64      `json:"unit_id"`

	PrevUnitNodeURL  string `json:"prev_unit_node_url"`
	PrevUnitNodeName string `json:"prev_unit_node_name"`
	NextUnitNodeURL  string `json:"next_unit_node_url"`
	NextUnitNodeName string `json:"next_unit_node_name"`

	// UnreleasedContent is set when unreleased modules or sections were skipped looking for the next unit.
	UnreleasedContent bool `json:"unreleased_content"`
}

// FullContentIndex renders the "module.section.unit" content index, or "" when the module has none.
// Missing section or unit indexes are left out.
func (info UnitNavInfo) FullContentIndex() string {
	if info.ModuleContentIndex == nil {
		return ""
	}
	parts := []string{strconv.Itoa(*info.ModuleContentIndex)}
	for _, idx := range []*int{info.SectionContentIndex, info.UnitContentIndex} {
		if idx != nil {
			parts = append(parts, strconv.Itoa(*idx))
		}
	}
	return strings.Join(parts, ".")
}

// GetUnitNavInfo resolves the unit addressed by the given slugs in nav. An empty slug selects the first
// node of its level. Release flags of nav must already be computed for the current moment.
// isStaff lifts release checks while looking for the previous and next units.
func GetUnitNavInfo(nav *course.NavNode, moduleSlug, sectionSlug, unitSlug string, isStaff bool) (UnitNavInfo, error) {
	var info UnitNavInfo

	module, ok := nav.Child(moduleSlug)
	if !ok {
		return info, &course.NodeDoesNotExistError{Level: course.NodeTypeModule}
	}
	info.ModuleNodeID = module.ID
	info.ModuleNodeSlug = module.Slug
	info.ModuleNodeDisplayName = module.DisplayName
	info.ModuleContentIndex = module.ContentIndex
	info.ModuleReleased = module.IsReleased
	info.ModuleReleaseDatetime = module.ReleaseDatetimeUTC

	section, ok := module.Child(sectionSlug)
	if !ok {
		return info, &course.NodeDoesNotExistError{Level: course.NodeTypeSection}
	}
	info.SectionNodeID = section.ID
	info.SectionNodeSlug = section.Slug
	info.SectionNodeDisplayName = section.DisplayName
	info.SectionContentIndex = section.ContentIndex
	info.SectionReleased = section.IsReleased
	info.SectionReleaseDatetime = section.ReleaseDatetimeUTC

	unit, ok := section.Child(unitSlug)
	if !ok {
		return info, &course.NodeDoesNotExistError{Level: course.NodeTypeUnit}
	}
	info.UnitNodeID = unit.ID
	info.UnitNodeSlug = unit.Slug
	info.UnitNodeDisplayName = unit.DisplayName
	info.UnitContentIndex = unit.ContentIndex
	info.UnitNodeReleased = unit.IsReleased
	info.UnitReleaseDatetime = unit.ReleaseDatetimeUTC
	if unit.Unit != nil {
		info.UnitID = unit.Unit.ID
	}

	if prev := prevUnit(nav, unit.ID, isStaff); prev != nil {
		info.PrevUnitNodeName = prev.DisplayName
		info.PrevUnitNodeURL = prev.NodeURL
	}
	next, unreleased := nextUnit(nav, unit.ID, isStaff)
	if next != nil {
		info.NextUnitNodeName = next.DisplayName
		info.NextUnitNodeURL = next.NodeURL
	}
	info.UnreleasedContent = unreleased
	return info, nil
}

// prevUnit scans units in document order and returns the one visited right before currentID.
// Unreleased modules and sections are skipped unless ignoreRelease; unreleased units are valid targets.
func prevUnit(nav *course.NavNode, currentID int64, ignoreRelease bool) *course.NavNode {
	var prev *course.NavNode
	for _, module := range nav.Children {
		if !module.IsReleased && !ignoreRelease {
			continue
		}
		for _, section := range module.Children {
			if !section.IsReleased && !ignoreRelease {
				continue
			}
			for _, unit := range section.Children {
				if unit.ID == currentID {
					return prev
				}
				prev = unit
			}
		}
	}
	return prev
}

// nextUnit is prevUnit scanning backwards. It also reports whether unreleased modules or sections were skipped.
func nextUnit(nav *course.NavNode, currentID int64, ignoreRelease bool) (next *course.NavNode, unreleased bool) {
	for i := len(nav.Children) - 1; i >= 0; i-- {
		module := nav.Children[i]
		if !module.IsReleased && !ignoreRelease {
			unreleased = true
			continue
		}
		for j := len(module.Children) - 1; j >= 0; j-- {
			section := module.Children[j]
			if !section.IsReleased && !ignoreRelease {
				unreleased = true
				continue
			}
			for k := len(section.Children) - 1; k >= 0; k-- {
				unit := section.Children[k]
				if unit.ID == currentID {
					return next, unreleased
				}
				next = unit
			}
		}
	}
	return next, unreleased
}
