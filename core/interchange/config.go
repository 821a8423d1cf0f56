package interchange

import (
	"io"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/elimu/core/course"
)

// ImportConfig tunes how a document is turned into a course.
// A content start index of 0 keeps the content_index of the incoming nodes at that level;
// any other value renumbers the nodes of the level from it.
type ImportConfig struct {
	ModuleContentStartIndex  int `json:"module_content_start_index" yaml:"module_content_start_index"`
	SectionContentStartIndex int `json:"section_content_start_index" yaml:"section_content_start_index"`
	UnitContentStartIndex    int `json:"unit_content_start_index" yaml:"unit_content_start_index"`
}

// LoadImportConfig reads a yaml import configuration.
func LoadImportConfig(r io.Reader) (ImportConfig, error) {
	var cfg ImportConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return ImportConfig{}, pkgerrors.Wrap(err, "decoding import config")
	}
	return cfg, nil
}

// merge overrides cfg with the non zero values of other.
func (cfg ImportConfig) merge(other *ImportConfig) ImportConfig {
	if other == nil {
		return cfg
	}
	if other.ModuleContentStartIndex != 0 {
		cfg.ModuleContentStartIndex = other.ModuleContentStartIndex
	}
	if other.SectionContentStartIndex != 0 {
		cfg.SectionContentStartIndex = other.SectionContentStartIndex
	}
	if other.UnitContentStartIndex != 0 {
		cfg.UnitContentStartIndex = other.UnitContentStartIndex
	}
	return cfg
}

// childStartIndex is the auto content index of the first child of a parentType node, 0 when disabled.
func (cfg ImportConfig) childStartIndex(parentType course.NodeType) int {
	switch parentType {
	case course.NodeTypeRoot:
		return cfg.ModuleContentStartIndex
	case course.NodeTypeModule:
		return cfg.SectionContentStartIndex
	case course.NodeTypeSection:
		return cfg.UnitContentStartIndex
	}
	return 0
}
