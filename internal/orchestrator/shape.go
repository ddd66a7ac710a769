package orchestrator

import (
	"github.com/stonemason/stonemason/pkg/types"
)

// ruleBinding is the resolved rule package state one shape group generates
// against.
type ruleBinding struct {
	handle    types.ResolveHandle
	info      *types.RuleFileInfo
	ruleFile  string
	startRule string
}

// detectStartRule picks the entry rule of a rule file: an explicitly marked
// start rule wins, then the first non-hidden rule, then the first rule.
func detectStartRule(info *types.RuleFileInfo) string {
	if info == nil || len(info.Rules) == 0 {
		return ""
	}
	for _, rule := range info.Rules {
		if rule.StartRule {
			return rule.Name
		}
	}
	for _, rule := range info.Rules {
		if !rule.Hidden {
			return rule.Name
		}
	}
	return info.Rules[0].Name
}

// mergeAttributes layers caller overrides on top of the rule file's declared
// defaults. Overrides for undeclared attributes pass through untouched; the
// engine ignores names it does not know.
func mergeAttributes(declarations []types.AttributeDeclaration, overrides types.AttributeMap) types.AttributeMap {
	merged := make(types.AttributeMap, len(declarations)+len(overrides))
	for _, declaration := range declarations {
		if declaration.Default != nil {
			merged[declaration.Name] = declaration.Default
		}
	}
	for name, value := range overrides {
		merged[name] = value
	}
	return merged
}

// buildNativeShape flattens a shape's polygon into the coordinate arrays the
// engine consumes and attaches the rule binding.
//
// Hole encoding: for each face with holes, Holes carries the parent face
// index followed by the indices of its hole faces, terminated by HoleListEnd.
// Hole faces are appended to the face list after all regular faces.
func buildNativeShape(shape *types.Shape, binding ruleBinding, attributes types.AttributeMap) *types.NativeShape {
	polygon := &shape.Polygon

	native := &types.NativeShape{
		Index:      shape.Index,
		RuleFile:   binding.ruleFile,
		StartRule:  binding.startRule,
		RandomSeed: shape.RandomSeed,
		Attributes: attributes,
		ResolveMap: binding.handle,
	}

	native.VertexCoords = make([]float64, 0, len(polygon.Vertices)*3)
	for _, vertex := range polygon.Vertices {
		world := shape.Position.Add(vertex)
		native.VertexCoords = append(native.VertexCoords, world.X, world.Y, world.Z)
	}

	for _, face := range polygon.Faces {
		native.FaceIndices = append(native.FaceIndices, face.Indices...)
		native.FaceCounts = append(native.FaceCounts, uint32(len(face.Indices)))
	}

	// Hole faces live after the regular faces, so their face indices start
	// at len(polygon.Faces).
	holeFaceIndex := uint32(len(polygon.Faces))
	for faceIndex, face := range polygon.Faces {
		if len(face.Holes) == 0 {
			continue
		}
		native.Holes = append(native.Holes, uint32(faceIndex))
		for _, hole := range face.Holes {
			native.FaceIndices = append(native.FaceIndices, hole.Indices...)
			native.FaceCounts = append(native.FaceCounts, uint32(len(hole.Indices)))
			native.Holes = append(native.Holes, holeFaceIndex)
			holeFaceIndex++
		}
		native.Holes = append(native.Holes, types.HoleListEnd)
	}

	uvSetCount := len(polygon.UVSets)
	if uvSetCount > types.MaxUVSets {
		uvSetCount = types.MaxUVSets
	}
	for setIndex := 0; setIndex < uvSetCount; setIndex++ {
		set := polygon.UVSets[setIndex]
		coords := make([]float64, 0, len(set.Coords)*2)
		indices := make([]uint32, 0, len(set.Coords))
		for i, uv := range set.Coords {
			// The engine's texture space runs top-down.
			coords = append(coords, uv.U, -uv.V)
			indices = append(indices, uint32(i))
		}
		native.UVCoords = append(native.UVCoords, coords)
		native.UVIndices = append(native.UVIndices, indices)
	}

	return native
}
