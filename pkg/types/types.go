// Package types defines the shared data model for the stonemason engine
package types

import (
	"path/filepath"
	"strings"
)

// RulePackage is a bundled definition of procedural generation rules and
// assets. ID is the cache identity: two packages with equal IDs must
// reference the same package content.
type RulePackage struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Data       []byte `json:"-"`
	SourcePath string `json:"sourcePath,omitempty"`
}

// FileName returns the on-disk name used when the package is materialized
// for the engine.
func (p *RulePackage) FileName() string {
	name := p.Name
	if name == "" {
		name = filepath.Base(p.ID)
	}
	if !strings.HasSuffix(name, ".rpk") {
		name += ".rpk"
	}
	return name
}

// ResolveHandle is an opaque, engine-side reference to a materialized rule
// package. It stays valid as long as a cache entry or an in-flight request
// references it.
type ResolveHandle interface {
	// RuleFile returns the primary rule file key inside the package.
	RuleFile() string
}

// OcclusionHandle is an opaque token for precomputed occlusion data of a
// single shape.
type OcclusionHandle uint64

// RuleSignature describes one rule exported by a rule file.
type RuleSignature struct {
	Name      string `json:"name"`
	StartRule bool   `json:"startRule,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
}

// AttributeDeclaration describes an attribute exported by a rule file together
// with its default value.
type AttributeDeclaration struct {
	Name    string `json:"name"`
	Default any    `json:"default,omitempty"`
	Group   string `json:"group,omitempty"`
	Hidden  bool   `json:"hidden,omitempty"`
}

// RuleFileInfo is the metadata of a resolved rule file.
type RuleFileInfo struct {
	RuleFile   string                 `json:"ruleFile"`
	Rules      []RuleSignature        `json:"rules,omitempty"`
	Attributes []AttributeDeclaration `json:"attributes,omitempty"`
}

// AttributeMap holds named rule attribute values.
type AttributeMap map[string]any

// Clone returns a shallow copy of the map.
func (m AttributeMap) Clone() AttributeMap {
	if m == nil {
		return nil
	}
	out := make(AttributeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Vec2 is a 2D coordinate (texture space).
type Vec2 struct {
	U float64 `json:"u"`
	V float64 `json:"v"`
}

// Vec3 is a 3D coordinate.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns the component-wise sum of two vectors.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Hole is one interior ring of a face.
type Hole struct {
	Indices []uint32 `json:"indices"`
}

// Face is one polygon face with optional holes.
type Face struct {
	Indices []uint32 `json:"indices"`
	Holes   []Hole   `json:"holes,omitempty"`
}

// UVSet is one set of per-vertex texture coordinates.
type UVSet struct {
	Coords []Vec2 `json:"coords"`
}

// Polygon is the input geometry of a shape.
type Polygon struct {
	Vertices []Vec3  `json:"vertices"`
	Faces    []Face  `json:"faces"`
	UVSets   []UVSet `json:"uvSets,omitempty"`
}

// Shape is one input to a generation or evaluation call. Index is a
// caller-assigned identity that stays stable across a request batch and keys
// the occlusion handle cache.
type Shape struct {
	Index        int64        `json:"index"`
	Polygon      Polygon      `json:"polygon"`
	Position     Vec3         `json:"position"`
	RandomSeed   int32        `json:"randomSeed"`
	RulePackage  *RulePackage `json:"rulePackage"`
	Attributes   AttributeMap `json:"attributes,omitempty"`
	OccluderOnly bool         `json:"occluderOnly,omitempty"`
}

// HoleListEnd terminates one face's hole run inside NativeShape.Holes.
const HoleListEnd = ^uint32(0)

// MaxUVSets mirrors the engine's texture coordinate set limit.
const MaxUVSets = 8

// NativeShape is the engine-facing form of a Shape: flattened geometry plus
// the resolved rule binding and the merged attribute set.
type NativeShape struct {
	Index        int64
	VertexCoords []float64
	FaceIndices  []uint32
	FaceCounts   []uint32
	Holes        []uint32
	UVCoords     [][]float64
	UVIndices    [][]uint32
	RuleFile     string
	StartRule    string
	RandomSeed   int32
	Attributes   AttributeMap
	ResolveMap   ResolveHandle
}

// MeshPart is one chunk of generated geometry. The payload encoding is owned
// by the engine's geometry encoder and not interpreted here.
type MeshPart struct {
	ShapeIndex int64  `json:"shapeIndex"`
	Name       string `json:"name"`
	Payload    []byte `json:"-"`
}

// Instance is a reference to an engine-provided asset placed by a rule.
type Instance struct {
	ShapeIndex int64       `json:"shapeIndex"`
	MeshRef    string      `json:"meshRef"`
	Name       string      `json:"name"`
	Transform  [16]float64 `json:"transform"`
}

// Reports holds the report values a rule emitted for one shape.
type Reports map[string]any

// GenerateResultDescription is the immutable outcome of one completed
// generation call. EvaluatedAttributes holds one entry per non-occluder input
// shape, in input order; entries for shapes whose rule package could not be
// resolved are nil.
type GenerateResultDescription struct {
	Geometry            []MeshPart
	Instances           []Instance
	InstanceMeshes      []string
	InstanceNames       []string
	Reports             map[int64]Reports
	EvaluatedAttributes []AttributeMap
}

// IsEmpty reports whether the result carries no output at all.
func (r GenerateResultDescription) IsEmpty() bool {
	return len(r.Geometry) == 0 && len(r.Instances) == 0 &&
		len(r.Reports) == 0 && len(r.EvaluatedAttributes) == 0
}

// NotificationConfig controls desktop notifications.
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty"`
}

// MetricsConfig controls prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace,omitempty"`
}

// OrchestratorConfig configures the generation orchestrator.
type OrchestratorConfig struct {
	Version       string              `json:"version,omitempty"`
	Workers       int                 `json:"workers,omitempty"`
	TempDir       string              `json:"tempDir,omitempty"`
	LogLevel      string              `json:"logLevel,omitempty"`
	LogFile       string              `json:"logFile,omitempty"`
	WatchSources  bool                `json:"watchSources,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`
	Metrics       *MetricsConfig      `json:"metrics,omitempty"`
}

// ApplyDefaults fills unset fields with safe defaults.
func (c *OrchestratorConfig) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
