// Package dispatch implements the bundle dispatcher: for each bundle it
// narrows the iteration range to the bundle's BB, checks the step
// condition, and invokes the bundle's per-point or per-cluster entry point
// supplied by the code generator. Grounded on the teacher's
// kernels.Catalog opcode-indexed dispatch table, generalized from a fixed
// [256]KernelFn array to an ordered bundle-pack list since bundles are
// supplied dynamically by a solution descriptor rather than baked into a
// fixed opcode space.
package dispatch

import (
	"github.com/sbl8/stencilkit/bbox"
	"github.com/sbl8/stencilkit/kerr"
)

// Bundle is the opaque unit of stencil computation the code generator
// supplies. The dispatcher calls exactly one of CalcScalar or CalcCluster
// per point, chosen by the caller's dispatch mode.
type Bundle struct {
	Name string

	// BB is the bundle's discovered valid domain.
	BB bbox.BundleBB

	// ValidDomain reports whether point satisfies the bundle's sub-domain
	// predicate. May be nil, meaning "always valid within BB".
	ValidDomain func(point map[string]int64) bool

	// StepCondition reports whether this bundle runs at step t. May be nil,
	// meaning "always runs".
	StepCondition func(t int64) bool

	// IsScratch marks a bundle whose outputs are thread-private
	// intermediates; the dispatcher passes their entry points block-local
	// offsets (the point minus the dispatched box's Begin) so storage is
	// reused across blocks.
	IsScratch bool

	CalcScalar  func(point map[string]int64, stepSlot int64)
	CalcCluster func(vecPointIndex map[string]int64, stepSlot int64)
}

// Pack is an ordered set of bundles evaluated together at each time step.
type Pack struct {
	Name    string
	Bundles []*Bundle
}

// Mode selects which entry point a Dispatcher calls.
type Mode int

const (
	// Scalar uses CalcScalar for every point; the reference path.
	Scalar Mode = iota
	// Cluster calls CalcCluster once per point, over the same points Scalar
	// visits; points are not grouped into vlen-wide clusters.
	Cluster
)

// Dispatcher invokes bundle entry points over an iteration range,
// intersected with each bundle's BB/sub-BB list, honoring pack order.
type Dispatcher struct {
	// CheckStepConditions toggles whether StepCondition is consulted. The
	// reference path typically leaves this on; some optimized configurations
	// disable it when the caller has already partitioned packs by step.
	CheckStepConditions bool
}

// NewDispatcher builds a Dispatcher with step-condition checking enabled.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{CheckStepConditions: true}
}

// Range is the iteration box for one Dispatch call, expressed as per-dim
// [Begin,End) bounds over the current loop-nest box.
type Range struct {
	Begin, End map[string]int64
}

// DispatchPack evaluates every bundle in pack, in order, over rng ∩ (bundle
// BB or sub-BB list), at step t and the given step slot.
func (d *Dispatcher) DispatchPack(pack *Pack, rng Range, t, stepSlot int64, mode Mode) error {
	for _, b := range pack.Bundles {
		if err := d.dispatchBundle(b, rng, t, stepSlot, mode); err != nil {
			return kerr.Wrap(kerr.UnsupportedFeature, "dispatching bundle "+b.Name, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchBundle(b *Bundle, rng Range, t, stepSlot int64, mode Mode) error {
	if d.CheckStepConditions && b.StepCondition != nil && !b.StepCondition(t) {
		return nil
	}
	if mode == Cluster && b.CalcCluster == nil {
		return kerr.Newf(kerr.UnsupportedFeature, "bundle %q has no cluster entry point", b.Name)
	}
	if mode == Scalar && b.CalcScalar == nil {
		return kerr.Newf(kerr.UnsupportedFeature, "bundle %q has no scalar entry point", b.Name)
	}

	subBoxes := intersectionBoxes(b, rng)
	for _, box := range subBoxes {
		visitBox(box, func(point map[string]int64) {
			if b.ValidDomain != nil && !b.ValidDomain(point) {
				return
			}
			calcPoint := point
			if b.IsScratch {
				calcPoint = localizePoint(point, box.Begin)
			}
			switch mode {
			case Scalar:
				b.CalcScalar(calcPoint, stepSlot)
			case Cluster:
				b.CalcCluster(calcPoint, stepSlot)
			}
		})
	}
	return nil
}

// localizePoint rewrites a scratch bundle's global point into the
// block-local offsets its thread-private storage is indexed by, so the same
// scratch buffer is reused across blocks instead of sized to the full
// domain.
func localizePoint(point, boxBegin map[string]int64) map[string]int64 {
	local := make(map[string]int64, len(point))
	for name, v := range point {
		local[name] = v - boxBegin[name]
	}
	return local
}

// intersectionBoxes computes rng ∩ bundle BB (or each of its sub-BBs if the
// bundle's domain isn't full), dropping any empty intersection.
func intersectionBoxes(b *Bundle, rng Range) []Range {
	var boxes []bbox.Box
	if b.BB.IsFull {
		boxes = []bbox.Box{b.BB.BB}
	} else {
		boxes = b.BB.SubBBs
	}

	var out []Range
	for _, box := range boxes {
		if r, ok := intersect(rng, box); ok {
			out = append(out, r)
		}
	}
	return out
}

func intersect(rng Range, box bbox.Box) (Range, bool) {
	begin := make(map[string]int64)
	end := make(map[string]int64)
	for name, b := range rng.Begin {
		e := rng.End[name]
		bb, bOk := box.Begin[name]
		be, eOk := box.End[name]
		if !bOk || !eOk {
			begin[name], end[name] = b, e
			continue
		}
		lo := maxI64(b, bb)
		hi := minI64(e, be)
		if hi <= lo {
			return Range{}, false
		}
		begin[name], end[name] = lo, hi
	}
	return Range{Begin: begin, End: end}, true
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func visitBox(r Range, cb func(point map[string]int64)) {
	names := make([]string, 0, len(r.Begin))
	for name := range r.Begin {
		names = append(names, name)
	}
	point := make(map[string]int64, len(names))
	var visit func(depth int)
	visit = func(depth int) {
		if depth == len(names) {
			cb(point)
			return
		}
		name := names[depth]
		for p := r.Begin[name]; p < r.End[name]; p++ {
			point[name] = p
			visit(depth + 1)
		}
	}
	visit(0)
}
