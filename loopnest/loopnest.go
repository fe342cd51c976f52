// Package loopnest implements the loop nest driver: region→block tiling
// (mini-block and sub-block levels are not traversed), wavefront and
// temporal-blocking shift geometry, and the block-parallel sweep over a
// region. Grounded on the teacher's StreamScheduler/TaskGroup worker-pool
// wiring in runtime/runtime.go, generalized from dependency-level
// scheduling of graph nodes to geometry-level scheduling of spatial blocks.
package loopnest

import (
	"context"

	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/dispatch"
	"github.com/sbl8/stencilkit/settings"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/stencilkit/kerr"
)

// Box is a per-dim [Begin,End) range, the same shape dispatch.Range uses,
// kept distinct here because loopnest boxes additionally track the shift
// count that produced them.
type Box struct {
	Begin, End map[string]int64
	Shift      int64
}

func (b Box) toRange() dispatch.Range {
	return dispatch.Range{Begin: b.Begin, End: b.End}
}

// PerShiftBounds implements the exterior geometry calculation: given a base
// box and a shift count s, it widens/clamps the box against the rank's
// domain and wavefront extensions, per dim. It returns ok=false if the
// shifted box is empty in any dim (stop <= start), meaning the caller should
// skip this region.
func PerShiftBounds(base Box, s int64, geo *settings.Geometry, domainBegin, domainEnd map[string]int64, packBB dim.Dim, packBegin, packEnd map[string]int64) (Box, bool) {
	start := make(map[string]int64, len(base.Begin))
	stop := make(map[string]int64, len(base.Begin))
	for name := range base.Begin {
		angle := geo.Angle[name]
		st := base.Begin[name] - s*angle
		leftExtBound := domainBegin[name] - geo.LeftWfExt[name] + s*angle
		if st < leftExtBound {
			st = leftExtBound
		}
		sp := base.End[name] - s*angle
		rightExtBound := domainEnd[name] + geo.RightWfExt[name] - s*angle
		if sp > rightExtBound {
			sp = rightExtBound
		}
		if lo, ok := packBegin[name]; ok && st < lo {
			st = lo
		}
		if hi, ok := packEnd[name]; ok && sp > hi {
			sp = hi
		}
		if sp <= st {
			return Box{}, false
		}
		start[name] = st
		stop[name] = sp
	}
	return Box{Begin: start, End: stop, Shift: s}, true
}

// Interior reports the rank's interior region: its extended BB shrunk by
// the neighbor halo on every side that actually has a neighbor. Shrinking
// is applied per side, not per dim as a whole: a rank with a neighbor only
// on its +x side shrinks only the +x face of the test.
func Interior(extBB Box, leftHalo, rightHalo map[string]int64, hasLeftNeighbor, hasRightNeighbor map[string]bool) Box {
	begin := make(map[string]int64, len(extBB.Begin))
	end := make(map[string]int64, len(extBB.End))
	for name, b := range extBB.Begin {
		e := extBB.End[name]
		if hasLeftNeighbor[name] {
			b += leftHalo[name]
		}
		if hasRightNeighbor[name] {
			e -= rightHalo[name]
		}
		begin[name] = b
		end[name] = e
	}
	return Box{Begin: begin, End: end}
}

// IsInterior reports whether block lies entirely inside interior.
func IsInterior(block, interior Box) bool {
	for name, b := range block.Begin {
		e := block.End[name]
		if b < interior.Begin[name] || e > interior.End[name] {
			return false
		}
	}
	return true
}

// Classify splits blocks into interior-only and exterior (everything else).
func Classify(blocks []Box, interior Box) (interiorBlocks, exteriorBlocks []Box) {
	for _, b := range blocks {
		if IsInterior(b, interior) {
			interiorBlocks = append(interiorBlocks, b)
		} else {
			exteriorBlocks = append(exteriorBlocks, b)
		}
	}
	return
}

// TiledWidths computes the trapezoid base and top widths for temporal
// blocking, per the formula:
//   blk_width = round_up(ceil(block/2) + numShifts*tbAngle, vlen), clamped to
//     >= minTop + 2*numShifts*tbAngle where minTop = vlen
//   top = max(blk_width - 2*numShifts*tbAngle, 0)
func TiledWidths(block, vlen, tbAngle, numShifts int64) (base, top int64) {
	raw := ceilDiv(block, 2) + numShifts*tbAngle
	base = roundUpI64(raw, vlen)
	minBase := vlen + 2*numShifts*tbAngle
	if base < minBase {
		base = minBase
	}
	top = base - 2*numShifts*tbAngle
	if top < 0 {
		top = 0
	}
	return base, top
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func roundUpI64(n, m int64) int64 {
	if m <= 0 {
		return n
	}
	return ((n + m - 1) / m) * m
}

// BridgeDims enumerates, for phase k of a D+1-phase temporal-block sweep,
// every choice of k dims to bridge (C(D,k) combinations). Phase 0's bridge
// set is empty (the base trapezoid sweep); callers special-case it.
func BridgeDims(allDims []string, k int) [][]string {
	var out [][]string
	var combo func(start int, cur []string)
	combo = func(start int, cur []string) {
		if len(cur) == k {
			out = append(out, append([]string(nil), cur...))
			return
		}
		for i := start; i < len(allDims); i++ {
			combo(i+1, append(cur, allDims[i]))
		}
	}
	combo(0, nil)
	return out
}

// Driver sweeps a region's blocks, shifted by the wavefront/temporal-block
// geometry, dispatching each block's packs. It parallelizes across blocks
// within a region (the outer OpenMP-like level) using an errgroup worker
// pool sized by MaxWorkers, mirroring the teacher's worker/TaskGroup
// fan-out in StreamScheduler.
type Driver struct {
	Dispatcher *dispatch.Dispatcher
	MaxWorkers int
}

// NewDriver builds a Driver with the given block-level parallelism.
func NewDriver(maxWorkers int) *Driver {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Driver{Dispatcher: dispatch.NewDispatcher(), MaxWorkers: maxWorkers}
}

// SweepRegion dispatches pack over every block in blocks, at step t and
// stepSlot, in parallel up to MaxWorkers at a time. All blocks must finish
// before SweepRegion returns, matching the ordering guarantee that all
// bundles in a pack finish before the next pack starts.
func (d *Driver) SweepRegion(ctx context.Context, pack *dispatch.Pack, blocks []Box, t, stepSlot int64, mode dispatch.Mode) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.MaxWorkers)
	for _, block := range blocks {
		block := block
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := d.Dispatcher.DispatchPack(pack, block.toRange(), t, stepSlot, mode); err != nil {
				return kerr.Wrap(kerr.UnsupportedFeature, "sweeping block", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SweepPhases runs the D+1-phase temporal-block sweep: phase 0 over
// baseBlocks, then phase k over bridgeBlocks[k-1] for k in 1..D, with a
// synchronization barrier between phases (each phase's SweepRegion call
// fully completes before the next begins).
func (d *Driver) SweepPhases(ctx context.Context, pack *dispatch.Pack, baseBlocks []Box, bridgeBlocks [][]Box, t, stepSlot int64, mode dispatch.Mode) error {
	if err := d.SweepRegion(ctx, pack, baseBlocks, t, stepSlot, mode); err != nil {
		return err
	}
	for _, phaseBlocks := range bridgeBlocks {
		if err := d.SweepRegion(ctx, pack, phaseBlocks, t, stepSlot, mode); err != nil {
			return err
		}
	}
	return nil
}

// TileRegion divides a region box into a grid of block-sized boxes, the
// traversal the driver supplies to the dispatcher. Blocks that would
// overhang the region are clamped to the region's end.
func TileRegion(region Box, blockSize map[string]int64) []Box {
	names := make([]string, 0, len(region.Begin))
	for name := range region.Begin {
		names = append(names, name)
	}

	var blocks []Box
	starts := make(map[string][]int64, len(names))
	for _, name := range names {
		var s []int64
		size := blockSize[name]
		if size <= 0 {
			size = region.End[name] - region.Begin[name]
		}
		for p := region.Begin[name]; p < region.End[name]; p += size {
			s = append(s, p)
		}
		starts[name] = s
	}

	var visit func(depth int, begin, end map[string]int64)
	visit = func(depth int, begin, end map[string]int64) {
		if depth == len(names) {
			blocks = append(blocks, Box{Begin: cloneI64(begin), End: cloneI64(end)})
			return
		}
		name := names[depth]
		size := blockSize[name]
		if size <= 0 {
			size = region.End[name] - region.Begin[name]
		}
		for _, s := range starts[name] {
			e := s + size
			if e > region.End[name] {
				e = region.End[name]
			}
			begin[name] = s
			end[name] = e
			visit(depth+1, begin, end)
		}
	}
	visit(0, map[string]int64{}, map[string]int64{})
	return blocks
}

func cloneI64(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
