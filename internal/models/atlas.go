// Package models defines the shared data shapes passed between the fusion
// pipeline stages.
package models

import (
	"sort"

	"atlasfusion/pkg/volume"
)

// WeightMapKey is the reserved structure-name key under which a case's
// registered weight map is stored alongside its anatomical label maps.
const WeightMapKey = "Weight Map"

// LabelSet maps structure names to label maps for one case under one
// registration method. The reserved WeightMapKey entry holds the case's
// weight map; all other entries are anatomical structures. Within one
// registration method every image in a LabelSet shares the grid of the
// case's weight map.
type LabelSet map[string]*volume.Image

// Case maps a registration-method label (for example "DIR" for deformable
// registration) to the label set that method produced for the case.
type Case map[string]LabelSet

// AtlasSet maps case identifiers to their registered label sets. Not every
// case needs to contain every structure.
type AtlasSet map[string]Case

// WeightMap returns the weight map for a case under the given registration
// label, or nil when the case carries none.
func (a AtlasSet) WeightMap(caseID, label string) *volume.Image {
	return a[caseID][label][WeightMapKey]
}

// Structures returns the sorted union of structure names present across all
// cases under the given registration label, excluding the weight-map entry.
func (a AtlasSet) Structures(label string) []string {
	seen := make(map[string]struct{})
	for _, c := range a {
		for name := range c[label] {
			if name != WeightMapKey {
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidCases returns the sorted case identifiers that contain the given
// structure under the given registration label.
func (a AtlasSet) ValidCases(label, structure string) []string {
	var ids []string
	for id, c := range a {
		if _, ok := c[label][structure]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
