package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/types"
)

// shapeGroup is one rule package's slice of a batch, in input order.
type shapeGroup struct {
	pkg    *types.RulePackage
	shapes []*types.Shape

	binding ruleBinding
	skipped bool
}

// batchGenerate runs one generate call end to end. The outstanding counter
// was registered when the call was dispatched; it is decremented here exactly
// once on every path, before the completion notification reads it.
func (o *Orchestrator) batchGenerate(shapes []*types.Shape, opts GenerateOptions) (types.GenerateResultDescription, error) {
	finished := false
	finish := func() {
		if !finished {
			finished = true
			o.generateCalls.Add(-1)
			o.metrics.GenerateFinished()
		}
	}
	defer finish()

	// Requests still pending when shutdown flips the flag complete here
	// without touching the engine.
	if !o.initialized.Load() {
		return types.GenerateResultDescription{}, ErrNotInitialized
	}

	description, err := o.runGenerate(shapes, opts)
	finish()

	if err != nil {
		o.logger.Error("Generate call failed", logger.WithField("error", err))
		if o.notifier != nil {
			o.notifier.NotifyGenerateFailure(err)
		}
		return types.GenerateResultDescription{}, err
	}

	o.notifyGenerateCompleted()
	return description, nil
}

func (o *Orchestrator) runGenerate(shapes []*types.Shape, opts GenerateOptions) (description types.GenerateResultDescription, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic recovered in generate call",
				logger.WithField("panic", fmt.Sprintf("%v", r)),
				logger.WithField("stack", string(debug.Stack())))
			description = types.GenerateResultDescription{}
			err = fmt.Errorf("%w: panic: %v", ErrEngineCall, r)
		}
	}()

	// Occluder-only shapes contribute occlusion but produce no output.
	var outputShapes []*types.Shape
	var occluderShapes []*types.Shape
	for _, shape := range shapes {
		if shape.OccluderOnly {
			occluderShapes = append(occluderShapes, shape)
		} else {
			outputShapes = append(outputShapes, shape)
		}
	}

	groups := groupByPackage(append(outputShapes, occluderShapes...))
	if err := o.resolveGroups(groups); err != nil {
		return types.GenerateResultDescription{}, err
	}

	natives := make(map[int64]*types.NativeShape)
	for _, group := range groups {
		if group.skipped {
			continue
		}
		for _, shape := range group.shapes {
			attributes := mergeAttributes(group.binding.info.Attributes, shape.Attributes)
			natives[shape.Index] = buildNativeShape(shape, group.binding, attributes)
		}
	}
	if len(natives) == 0 {
		return types.GenerateResultDescription{}, nil
	}

	outputNatives := nativesFor(outputShapes, natives)
	if len(outputNatives) == 0 {
		return types.GenerateResultDescription{}, nil
	}

	// Attribute evaluation pass first, so the result carries the values the
	// geometry pass actually generated with.
	evalCollector := newResultCollector(nil)
	err = o.engine.Generate(interfaces.GenerateRequest{
		Shapes:  outputNatives,
		Encoder: interfaces.EncoderAttributeEval,
	}, evalCollector)
	if err != nil {
		o.metrics.EngineFailure("evaluate")
		return types.GenerateResultDescription{}, fmt.Errorf("%w: %v", ErrEngineCall, err)
	}

	evaluated := make([]types.AttributeMap, len(outputShapes))
	for i, shape := range outputShapes {
		if _, ok := natives[shape.Index]; !ok {
			continue
		}
		if attrs, ok := evalCollector.attributesFor(shape.Index); ok {
			evaluated[i] = attrs
		}
	}

	collector := newResultCollector(opts.Sink)

	request := interfaces.GenerateRequest{
		Shapes:        outputNatives,
		Encoder:       interfaces.EncoderGeometry,
		UseOcclusion:  opts.EnableOcclusion,
		WorkerThreads: o.config.Workers,
	}

	if opts.EnableOcclusion {
		// The registry lock spans occluder computation and the generate
		// call that consumes the handles, so no handle is disposed while
		// the engine reads it.
		o.occlusion.Lock()
		defer o.occlusion.Unlock()

		// Output shapes are being regenerated; their previous occluders
		// describe stale geometry.
		stale := make([]int64, 0, len(outputNatives))
		for _, native := range outputNatives {
			stale = append(stale, native.Index)
		}
		o.occlusion.InvalidateLocked(stale)

		all := append(outputNatives, nativesFor(occluderShapes, natives)...)
		if err := o.occlusion.EnsureLocked(all, collector); err != nil {
			o.metrics.EngineFailure("occluders")
			return types.GenerateResultDescription{}, fmt.Errorf("%w: %v", ErrEngineCall, err)
		}

		for _, native := range all {
			if handle, ok := o.occlusion.HandleLocked(native.Index); ok {
				request.OcclusionHandles = append(request.OcclusionHandles, handle)
			}
		}
	}

	if err := o.engine.Generate(request, collector); err != nil {
		o.metrics.EngineFailure("generate")
		return types.GenerateResultDescription{}, fmt.Errorf("%w: %v", ErrEngineCall, err)
	}

	return collector.result(evaluated), nil
}

// batchEvaluate runs one attribute evaluation call. The outstanding counter
// was registered at dispatch; the deferred decrement pairs it on every path.
func (o *Orchestrator) batchEvaluate(shapes []*types.Shape) (evaluated []types.AttributeMap, err error) {
	defer func() {
		o.evalCalls.Add(-1)
		o.metrics.EvalFinished()
	}()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic recovered in evaluation call",
				logger.WithField("panic", fmt.Sprintf("%v", r)),
				logger.WithField("stack", string(debug.Stack())))
			evaluated, err = nil, fmt.Errorf("%w: panic: %v", ErrEngineCall, r)
		}
	}()

	if !o.initialized.Load() {
		return nil, ErrNotInitialized
	}

	groups := groupByPackage(shapes)
	if err := o.resolveGroups(groups); err != nil {
		return nil, err
	}

	natives := make(map[int64]*types.NativeShape)
	for _, group := range groups {
		if group.skipped {
			continue
		}
		for _, shape := range group.shapes {
			attributes := mergeAttributes(group.binding.info.Attributes, shape.Attributes)
			natives[shape.Index] = buildNativeShape(shape, group.binding, attributes)
		}
	}

	evaluated = make([]types.AttributeMap, len(shapes))
	if len(natives) == 0 {
		return evaluated, nil
	}

	collector := newResultCollector(nil)
	err = o.engine.Generate(interfaces.GenerateRequest{
		Shapes:  nativesFor(shapes, natives),
		Encoder: interfaces.EncoderAttributeEval,
	}, collector)
	if err != nil {
		o.metrics.EngineFailure("evaluate")
		return nil, fmt.Errorf("%w: %v", ErrEngineCall, err)
	}

	for i, shape := range shapes {
		if attrs, ok := collector.attributesFor(shape.Index); ok {
			evaluated[i] = attrs
		}
	}
	return evaluated, nil
}

// resolveGroups resolves every group's rule package concurrently and fetches
// the rule file metadata. Groups whose package cannot be resolved are marked
// skipped; only infrastructure failures propagate as errors.
func (o *Orchestrator) resolveGroups(groups []*shapeGroup) error {
	sg, ctx := NewSafeGroup(context.Background(), 0, o.logger)

	for _, group := range groups {
		group := group
		sg.Go(func() error {
			resolution := <-o.resolver.Resolve(ctx, group.pkg)
			if resolution.Err != nil || resolution.Handle == nil {
				o.logger.Warn("Skipping shapes with unresolved rule package",
					logger.WithField("package", packageID(group.pkg)),
					logger.WithField("shapes", len(group.shapes)),
					logger.WithField("error", resolution.Err))
				group.skipped = true
				return nil
			}

			info, err := o.engine.RuleFileInfo(resolution.Handle)
			if err != nil {
				o.logger.Warn("Skipping shapes with unreadable rule file info",
					logger.WithField("package", packageID(group.pkg)),
					logger.WithField("error", err))
				group.skipped = true
				return nil
			}

			group.binding = ruleBinding{
				handle:    resolution.Handle,
				info:      info,
				ruleFile:  info.RuleFile,
				startRule: detectStartRule(info),
			}
			o.trackSource(group.pkg)
			return nil
		})
	}

	return sg.Wait()
}

// groupByPackage partitions shapes by rule package identity, preserving
// first-appearance order of packages and input order within each group.
func groupByPackage(shapes []*types.Shape) []*shapeGroup {
	var groups []*shapeGroup
	byID := make(map[string]*shapeGroup)

	for _, shape := range shapes {
		id := packageID(shape.RulePackage)
		group, ok := byID[id]
		if !ok {
			group = &shapeGroup{pkg: shape.RulePackage}
			byID[id] = group
			groups = append(groups, group)
		}
		group.shapes = append(group.shapes, shape)
	}
	return groups
}

// nativesFor returns the built native shapes for shapes, in the same order,
// omitting shapes that were skipped.
func nativesFor(shapes []*types.Shape, natives map[int64]*types.NativeShape) []*types.NativeShape {
	var out []*types.NativeShape
	for _, shape := range shapes {
		if native, ok := natives[shape.Index]; ok {
			out = append(out, native)
		}
	}
	return out
}

func packageID(pkg *types.RulePackage) string {
	if pkg == nil {
		return ""
	}
	return pkg.ID
}
