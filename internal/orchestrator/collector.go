package orchestrator

import (
	"sync"

	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/types"
)

// resultCollector gathers engine output for one batched call. The engine
// reports shapes from multiple worker threads, so every receiver takes the
// mutex. An optional forward sink receives a streamed copy of everything.
type resultCollector struct {
	mu        sync.Mutex
	geometry  []types.MeshPart
	instances []types.Instance
	attrs     map[int64]types.AttributeMap
	reports   map[int64]types.Reports

	forward interfaces.OutputSink
}

func newResultCollector(forward interfaces.OutputSink) *resultCollector {
	return &resultCollector{
		attrs:   make(map[int64]types.AttributeMap),
		reports: make(map[int64]types.Reports),
		forward: forward,
	}
}

func (c *resultCollector) ReceiveGeometry(shapeIndex int64, part types.MeshPart) {
	c.mu.Lock()
	c.geometry = append(c.geometry, part)
	c.mu.Unlock()

	if c.forward != nil {
		c.forward.ReceiveGeometry(shapeIndex, part)
	}
}

func (c *resultCollector) ReceiveInstance(shapeIndex int64, instance types.Instance) {
	c.mu.Lock()
	c.instances = append(c.instances, instance)
	c.mu.Unlock()

	if c.forward != nil {
		c.forward.ReceiveInstance(shapeIndex, instance)
	}
}

func (c *resultCollector) ReceiveAttributes(shapeIndex int64, attrs types.AttributeMap) {
	c.mu.Lock()
	c.attrs[shapeIndex] = attrs
	c.mu.Unlock()

	if c.forward != nil {
		c.forward.ReceiveAttributes(shapeIndex, attrs)
	}
}

func (c *resultCollector) ReceiveReports(shapeIndex int64, reports types.Reports) {
	c.mu.Lock()
	c.reports[shapeIndex] = reports
	c.mu.Unlock()

	if c.forward != nil {
		c.forward.ReceiveReports(shapeIndex, reports)
	}
}

// attributesFor returns the evaluated attributes received for a shape index.
func (c *resultCollector) attributesFor(shapeIndex int64) (types.AttributeMap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attrs, ok := c.attrs[shapeIndex]
	return attrs, ok
}

// result assembles the final description. Evaluated holds one entry per
// output shape in the caller's input order; the instance mesh and name
// tables are deduplicated in first-appearance order.
func (c *resultCollector) result(evaluated []types.AttributeMap) types.GenerateResultDescription {
	c.mu.Lock()
	defer c.mu.Unlock()

	description := types.GenerateResultDescription{
		Geometry:            c.geometry,
		Instances:           c.instances,
		Reports:             c.reports,
		EvaluatedAttributes: evaluated,
	}

	seenMeshes := make(map[string]bool)
	seenNames := make(map[string]bool)
	for _, instance := range c.instances {
		if instance.MeshRef != "" && !seenMeshes[instance.MeshRef] {
			seenMeshes[instance.MeshRef] = true
			description.InstanceMeshes = append(description.InstanceMeshes, instance.MeshRef)
		}
		if instance.Name != "" && !seenNames[instance.Name] {
			seenNames[instance.Name] = true
			description.InstanceNames = append(description.InstanceNames, instance.Name)
		}
	}

	return description
}
