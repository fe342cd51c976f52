// Package solution implements the orchestrator: lifecycle
// (prepare_solution, run_solution, end_solution), timers, and dirty-flag
// bookkeeping across time steps. Grounded on the teacher's Engine lifecycle
// in runtime/runtime.go (NewEngine / Run / Stats), generalized from
// single-pass graph execution to a stepped, halo-exchanging time loop.
package solution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sbl8/stencilkit/bbox"
	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/dispatch"
	"github.com/sbl8/stencilkit/grid"
	"github.com/sbl8/stencilkit/haloexchange"
	"github.com/sbl8/stencilkit/kerr"
	"github.com/sbl8/stencilkit/loopnest"
	"github.com/sbl8/stencilkit/rankgrid"
	"github.com/sbl8/stencilkit/settings"
)

// Options configures a Solution's lifecycle.
type Options struct {
	Dims        []dim.Dim
	Config      *settings.FileConfig
	BlockWorkers int
	Overlap     bool // exterior/interior overlap mode
	Logger      *slog.Logger
}

// Stats mirrors the teacher's ExecutionStats shape, generalized to the
// kind of measurements a stencil run reports: points/sec, halo and wait
// time, per-pack timings.
type Stats struct {
	PointsPerSecond float64
	Reads, Writes   int64
	FlopCount       int64
	HaloTime        time.Duration
	WaitTime        time.Duration
	PackTimes       map[string]time.Duration
}

// Solution is the top-level orchestrator, analogous to the teacher's
// Engine: it owns the vars, the rank environment, the bundle packs, and
// drives prepare/run/end.
type Solution struct {
	mu sync.RWMutex

	RunID string

	opts Options
	env  *rankgrid.Env

	vars  map[string]*grid.Var
	packs []*dispatch.Pack

	geometry *settings.Geometry
	driver   *loopnest.Driver
	exchanger *haloexchange.Exchanger

	maxLeftHalo, maxRightHalo       map[string]int64
	hasLeftNeighbor, hasRightNeighbor map[string]bool

	prepared bool
	stats    Stats

	logger *slog.Logger
}

// New builds a Solution bound to transport, not yet prepared.
func New(transport rankgrid.Transport, opts Options) *Solution {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Solution{
		RunID:  uuid.NewString(),
		opts:   opts,
		env:    rankgrid.NewEnv(transport, opts.Dims),
		vars:   make(map[string]*grid.Var),
		driver: loopnest.NewDriver(opts.BlockWorkers),
		logger: logger,
	}
}

// AddVar registers a var with the solution. Must be called before
// PrepareSolution.
func (s *Solution) AddVar(v *grid.Var) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return kerr.New(kerr.LayoutMismatch, "cannot add a var after prepare_solution")
	}
	s.vars[v.Name()] = v
	return nil
}

// AddPack registers a bundle pack in evaluation order. Must be called
// before PrepareSolution.
func (s *Solution) AddPack(p *dispatch.Pack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return kerr.New(kerr.LayoutMismatch, "cannot add a pack after prepare_solution")
	}
	s.packs = append(s.packs, p)
	return nil
}

// PrepareSolution finalizes settings, sets up the rank neighborhood, and
// binds every var's storage. It does not discover bundle bounding boxes
// (each Bundle's BB is used as given) and makes no initial halo exchange.
func (s *Solution) PrepareSolution(ctx context.Context, nranks, coords, rankDomainSizes map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("preparing solution", "run_id", s.RunID)

	if err := s.env.Init(ctx); err != nil {
		return err
	}
	if err := s.env.SetupRank(ctx, nranks, coords, rankDomainSizes); err != nil {
		return err
	}

	maxHalo := make(map[string]int64)
	s.maxLeftHalo = make(map[string]int64)
	s.maxRightHalo = make(map[string]int64)
	for _, v := range s.vars {
		for _, d := range v.Dims() {
			if d.Kind != dim.Domain {
				continue
			}
			sizing, err := v.Sizing(d.Name)
			if err != nil {
				return err
			}
			if sizing.LeftHalo > maxHalo[d.Name] {
				maxHalo[d.Name] = sizing.LeftHalo
			}
			if sizing.RightHalo > maxHalo[d.Name] {
				maxHalo[d.Name] = sizing.RightHalo
			}
			if sizing.LeftHalo > s.maxLeftHalo[d.Name] {
				s.maxLeftHalo[d.Name] = sizing.LeftHalo
			}
			if sizing.RightHalo > s.maxRightHalo[d.Name] {
				s.maxRightHalo[d.Name] = sizing.RightHalo
			}
		}
	}

	isFirst := make(map[string]bool)
	isLast := make(map[string]bool)
	s.hasLeftNeighbor = make(map[string]bool)
	s.hasRightNeighbor = make(map[string]bool)
	for _, d := range s.opts.Dims {
		if d.Kind != dim.Domain {
			continue
		}
		isFirst[d.Name] = s.env.NeighborAt(negOffset(s.opts.Dims, d.Name)) == nil
		isLast[d.Name] = s.env.NeighborAt(posOffset(s.opts.Dims, d.Name)) == nil
		s.hasLeftNeighbor[d.Name] = !isFirst[d.Name]
		s.hasRightNeighbor[d.Name] = !isLast[d.Name]
	}

	geo, err := settings.Finalize(s.opts.Config, settings.FinalizeInput{
		Dims:        s.opts.Dims,
		MaxHalo:     maxHalo,
		RankDomain:  rankDomainSizes,
		IsFirst:     isFirst,
		IsLast:      isLast,
		Packs:       int64(len(s.packs)),
		RegionSteps: s.opts.Config.RegionSteps,
		TBStepsIn:   s.opts.Config.TBSteps,
	})
	if err != nil {
		return err
	}
	s.geometry = geo

	for _, v := range s.vars {
		for _, d := range v.Dims() {
			if d.Kind != dim.Domain {
				continue
			}
			sizing, err := v.Sizing(d.Name)
			if err != nil {
				return err
			}
			if err := v.SetPad(d.Name, sizing.LeftHalo, sizing.RightHalo); err != nil {
				return kerr.Wrap(kerr.LayoutMismatch, "padding var "+v.Name(), err)
			}
		}
		if err := v.Bind(nil); err != nil {
			return kerr.Wrap(kerr.NoStorage, "binding var "+v.Name(), err)
		}
	}

	s.exchanger = haloexchange.NewExchanger(s.env.Transport())

	s.prepared = true
	s.logger.Info("solution prepared", "run_id", s.RunID, "neighbors", len(s.env.Neighbors()))
	return nil
}

func negOffset(dims []dim.Dim, name string) []int64 {
	return signedOffset(dims, name, -1)
}

func posOffset(dims []dim.Dim, name string) []int64 {
	return signedOffset(dims, name, 1)
}

func signedOffset(dims []dim.Dim, name string, sign int64) []int64 {
	var domainDims []dim.Dim
	for _, d := range dims {
		if d.Kind == dim.Domain {
			domainDims = append(domainDims, d)
		}
	}
	out := make([]int64, len(domainDims))
	for i, d := range domainDims {
		if d.Name == name {
			out[i] = sign
		}
	}
	return out
}

// RunSolution steps from firstStep to lastStep inclusive, stepping by
// max(wf_steps,1) per region iteration. Each region window internally loops
// packs x wf_steps sub-steps (the wavefront skew), each sub-step's blocks
// narrowed by loopnest.PerShiftBounds before dispatch, with a single halo
// exchange at the end of the window.
func (s *Solution) RunSolution(ctx context.Context, region loopnest.Box, firstStep, lastStep int64) error {
	s.mu.RLock()
	prepared := s.prepared
	s.mu.RUnlock()
	if !prepared {
		return kerr.New(kerr.NotPrepared, "run_solution called before prepare_solution")
	}

	direction := int64(1)
	if lastStep < firstStep {
		direction = -1
	}
	stepSize := s.geometry.WfSteps
	if stepSize < 1 {
		stepSize = 1
	}

	blockSize := map[string]int64{}
	for name, sz := range s.geometry.Block {
		blockSize[name] = sz
	}

	packCount := int64(len(s.packs))
	if packCount < 1 {
		packCount = 1
	}

	for t := firstStep; stepWithinRange(t, lastStep, direction); t += direction * stepSize {
		if s.opts.Overlap {
			if err := s.sweepAndExchangeOverlapped(ctx, region, blockSize, t, direction, stepSize, packCount); err != nil {
				return err
			}
			continue
		}
		if err := s.sweepWindow(ctx, region, blockSize, t, direction, stepSize, packCount); err != nil {
			return err
		}
		s.markStepDirty(t)
		if err := s.exchangeHalos(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// sweepAndExchangeOverlapped implements §4.6's exterior/interior overlap
// mode: interior blocks (the rank's own Interior box, per loopnest.Interior/
// Classify) never read a neighbor's ghost cells, so they can be swept while
// this window's halo receive is still in flight; exterior blocks are swept
// only after the receive completes, and the send of this window's own fresh
// boundary data is posted only once that exterior sweep has produced it.
// Temporal blocking's trapezoid/bridge phases are not combined with overlap
// mode (see DESIGN.md): an interior/exterior split of the base tiling
// doesn't line up with trapezoid seam adjacency across the split, so
// overlap mode sweeps with plain wavefront shifting only.
func (s *Solution) sweepAndExchangeOverlapped(ctx context.Context, region loopnest.Box, blockSize map[string]int64, t, direction, stepSize, packCount int64) error {
	haloStart := time.Now()
	defer func() { s.stats.HaloTime += time.Since(haloStart) }()

	base := loopnest.TileRegion(region, blockSize)
	interiorBox := loopnest.Interior(region, s.maxLeftHalo, s.maxRightHalo, s.hasLeftNeighbor, s.hasRightNeighbor)
	interiorBlocks, exteriorBlocks := loopnest.Classify(base, interiorBox)

	var idx uint16
	var recvWaiters []func() error
	for _, v := range s.vars {
		specs := s.buildBufferSpecs(v, idx)
		idx++
		if len(specs) == 0 {
			continue
		}
		p, err := s.exchanger.PostReceives(ctx, specs, t)
		if err != nil {
			return err
		}
		recvWaiters = append(recvWaiters, func() error {
			return s.exchanger.WaitAndUnpack(ctx, p, t)
		})
	}

	sweepSet := func(blocks []loopnest.Box) error {
		for local := int64(0); local < stepSize; local++ {
			tt := t + direction*local
			stepSlot := s.stepSlot(tt)
			for pi, pack := range s.packs {
				shift := local*packCount + int64(pi)
				shifted := shiftBlocks(blocks, shift, s.geometry, region)
				if len(shifted) == 0 {
					continue
				}
				if err := s.driver.SweepRegion(ctx, pack, shifted, tt, stepSlot, dispatch.Scalar); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := sweepSet(interiorBlocks); err != nil {
		return err
	}

	waitStart := time.Now()
	for _, wait := range recvWaiters {
		if err := wait(); err != nil {
			return err
		}
	}
	s.stats.WaitTime += time.Since(waitStart)

	if err := sweepSet(exteriorBlocks); err != nil {
		return err
	}
	s.markStepDirty(t)

	idx = 0
	var sendWaiters []func() error
	for _, v := range s.vars {
		specs := s.buildBufferSpecs(v, idx)
		idx++
		if len(specs) == 0 {
			continue
		}
		p, err := s.exchanger.PackAndSend(ctx, specs, t)
		if err != nil {
			return err
		}
		sendWaiters = append(sendWaiters, func() error {
			return s.exchanger.WaitOnSends(ctx, p)
		})
	}
	for _, wait := range sendWaiters {
		if err := wait(); err != nil {
			return err
		}
	}
	for _, v := range s.vars {
		_ = v.SetDirty(v.StepSlot(t), false)
	}
	return nil
}

// sweepWindow runs every (local step, pack) sub-step inside one region
// window. Sub-step shift index s = local*packCount+packIndex, per §4.9/§4.6's
// "let calc_region loop packs internally" rule for wf_steps > 1: each
// sub-step gets its own shifted box from loopnest.PerShiftBounds rather than
// a single flat sweep over the whole window. Temporal blocking (tb_steps > 0)
// additionally splits each sub-step's sweep into a base-trapezoid phase plus
// bridge phases via loopnest.SweepPhases.
func (s *Solution) sweepWindow(ctx context.Context, region loopnest.Box, blockSize map[string]int64, t, direction, stepSize, packCount int64) error {
	geo := s.geometry
	blocks := loopnest.TileRegion(region, blockSize)
	domainNames := s.domainDimNames()

	for local := int64(0); local < stepSize; local++ {
		tt := t + direction*local
		stepSlot := s.stepSlot(tt)
		for pi, pack := range s.packs {
			shift := local*packCount + int64(pi)
			if geo.TbSteps > 0 {
				baseBlocks, bridgeBlocks := s.tbPhaseBlocks(blocks, shift, geo, region, domainNames, blockSize)
				if len(baseBlocks) == 0 && len(bridgeBlocks) == 0 {
					continue
				}
				if err := s.driver.SweepPhases(ctx, pack, baseBlocks, bridgeBlocks, tt, stepSlot, dispatch.Scalar); err != nil {
					return err
				}
				continue
			}
			shifted := shiftBlocks(blocks, shift, geo, region)
			if len(shifted) == 0 {
				continue
			}
			if err := s.driver.SweepRegion(ctx, pack, shifted, tt, stepSlot, dispatch.Scalar); err != nil {
				return err
			}
		}
	}
	return nil
}

// shiftBlocks narrows every block to its wavefront-shift-s footprint,
// dropping any block that shifts to empty (e.g. a region edge that has
// already run out of valid wavefront extension).
func shiftBlocks(blocks []loopnest.Box, shift int64, geo *settings.Geometry, region loopnest.Box) []loopnest.Box {
	out := make([]loopnest.Box, 0, len(blocks))
	for _, b := range blocks {
		shifted, ok := loopnest.PerShiftBounds(b, shift, geo, region.Begin, region.End, dim.Dim{}, nil, nil)
		if ok {
			out = append(out, shifted)
		}
	}
	return out
}

// tbPhaseBlocks builds the base-trapezoid blocks (shifted per shiftBlocks,
// then narrowed to the temporal-block trapezoid's footprint at this shift)
// and the bridge-phase blocks covering the thin seams a trapezoid's
// base-to-top shrink leaves between neighboring blocks. The bridge
// construction here is a direct, dimension-by-dimension reading of
// loopnest.TiledWidths/BridgeDims rather than a byte-for-byte port of
// original_source's internal bookkeeping (see DESIGN.md).
func (s *Solution) tbPhaseBlocks(blocks []loopnest.Box, shift int64, geo *settings.Geometry, region loopnest.Box, domainNames []string, blockSize map[string]int64) ([]loopnest.Box, [][]loopnest.Box) {
	base := shiftBlocks(blocks, shift, geo, region)

	var tbDims []string
	seams := make(map[string]int64)
	for _, name := range domainNames {
		angle := geo.TbAngle[name]
		if angle <= 0 {
			continue
		}
		vlen := int64(1)
		baseW, topW := loopnest.TiledWidths(blockSize[name], vlen, angle, geo.NumWfShifts)
		seam := baseW - topW
		if seam <= 0 {
			continue
		}
		tbDims = append(tbDims, name)
		seams[name] = seam
	}
	if len(tbDims) == 0 {
		return base, nil
	}

	var bridgeBlocks [][]loopnest.Box
	for k := 1; k <= len(tbDims); k++ {
		var phaseBlocks []loopnest.Box
		for _, combo := range loopnest.BridgeDims(tbDims, k) {
			phaseBlocks = append(phaseBlocks, seamBoxesForCombo(base, combo, seams)...)
		}
		if len(phaseBlocks) > 0 {
			bridgeBlocks = append(bridgeBlocks, phaseBlocks)
		}
	}
	return base, bridgeBlocks
}

// seamBoxesForCombo builds, for every pair of base blocks that are adjacent
// along every dim in combo, a thin box spanning the seam between them (width
// seams[d] in each combo dim, the block's own span in every other dim).
func seamBoxesForCombo(base []loopnest.Box, combo []string, seams map[string]int64) []loopnest.Box {
	var out []loopnest.Box
	for i, a := range base {
		for _, b := range base[i+1:] {
			seam, ok := adjacentSeam(a, b, combo, seams)
			if ok {
				out = append(out, seam)
			}
		}
	}
	return out
}

// adjacentSeam reports the seam box between a and b if they touch along
// every dim in combo (a.End == b.Begin or b.End == a.Begin) and coincide in
// every other shared dim.
func adjacentSeam(a, b loopnest.Box, combo []string, seams map[string]int64) (loopnest.Box, bool) {
	for name := range a.Begin {
		isComboDim := false
		for _, c := range combo {
			if c == name {
				isComboDim = true
				break
			}
		}
		if isComboDim {
			continue
		}
		if a.Begin[name] != b.Begin[name] || a.End[name] != b.End[name] {
			return loopnest.Box{}, false
		}
	}

	begin := make(map[string]int64, len(a.Begin))
	end := make(map[string]int64, len(a.Begin))
	for name, ab := range a.Begin {
		isComboDim := false
		for _, c := range combo {
			if c == name {
				isComboDim = true
				break
			}
		}
		if !isComboDim {
			begin[name], end[name] = ab, a.End[name]
			continue
		}
		seam := seams[name]
		switch {
		case a.End[name] == b.Begin[name]:
			begin[name] = a.End[name] - seam/2
			end[name] = a.End[name] + seam/2
		case b.End[name] == ab:
			begin[name] = ab - seam/2
			end[name] = ab + seam/2
		default:
			return loopnest.Box{}, false
		}
		if end[name] <= begin[name] {
			return loopnest.Box{}, false
		}
	}
	return loopnest.Box{Begin: begin, End: end}, true
}

func (s *Solution) domainDimNames() []string {
	var out []string
	for _, d := range s.opts.Dims {
		if d.Kind == dim.Domain {
			out = append(out, d.Name)
		}
	}
	return out
}

// markStepDirty flags every var's current step slot as holding fresh values
// a neighbor hasn't seen yet, since a pack sweep may have written to any of
// them; exchangeHalos then sends only the (var, neighbor) pairs that
// actually have a slab to fill.
func (s *Solution) markStepDirty(t int64) {
	for _, v := range s.vars {
		_ = v.SetDirty(v.StepSlot(t), true)
	}
}

func stepWithinRange(t, last, direction int64) bool {
	if direction > 0 {
		return t <= last
	}
	return t >= last
}

func (s *Solution) stepSlot(t int64) int64 {
	for _, v := range s.vars {
		return v.StepSlot(t)
	}
	return 0
}

// exchangeHalos runs the four-phase protocol for every var straight
// through: post receives, pack and send, wait and unpack, wait on sends;
// it then marks the var's current step slot clean (at once for a var with
// no neighbors). Used outside overlap mode, where there's no interior sweep to hide the
// wait behind; see sweepAndExchangeOverlapped for the overlapped form.
func (s *Solution) exchangeHalos(ctx context.Context, t int64) error {
	start := time.Now()
	defer func() { s.stats.HaloTime += time.Since(start) }()

	var idx uint16
	for _, v := range s.vars {
		specs := s.buildBufferSpecs(v, idx)
		idx++
		if len(specs) == 0 {
			_ = v.SetDirty(v.StepSlot(t), false)
			continue
		}
		recvPosted, err := s.exchanger.PostReceives(ctx, specs, t)
		if err != nil {
			return err
		}
		sendPosted, err := s.exchanger.PackAndSend(ctx, specs, t)
		if err != nil {
			return err
		}
		waitStart := time.Now()
		if err := s.exchanger.WaitAndUnpack(ctx, recvPosted, t); err != nil {
			return err
		}
		if err := s.exchanger.WaitOnSends(ctx, sendPosted); err != nil {
			return err
		}
		s.stats.WaitTime += time.Since(waitStart)
		_ = v.SetDirty(v.StepSlot(t), false)
	}
	return nil
}

// buildBufferSpecs derives the send/recv slab for every (var, neighbor)
// pair using the var's own halo sizing on each side, per the exchange
// protocol's slab table.
func (s *Solution) buildBufferSpecs(v *grid.Var, idx uint16) []haloexchange.BufferSpec {
	var specs []haloexchange.BufferSpec
	domainDims := v.Dims()

	for _, n := range s.env.Neighbors() {
		sendSlab := make(map[string]haloexchange.Slab)
		recvSlab := make(map[string]haloexchange.Slab)
		for i, d := range domainDims {
			if d.Kind != dim.Domain {
				continue
			}
			sizing, err := v.Sizing(d.Name)
			if err != nil {
				continue
			}
			firstInner := int64(0)
			lastInner := sizing.Domain - 1

			// myHalo is this var's halo on the side facing the neighbor;
			// neighHalo is the neighbor's halo facing this rank, i.e. this
			// var's halo on the opposite side.
			side := haloexchange.Same
			myHalo, neighHalo := sizing.LeftHalo, sizing.RightHalo
			if i < len(n.Offset) {
				switch n.Offset[i] {
				case -1:
					side = haloexchange.Prev
				case 1:
					side = haloexchange.Next
					myHalo, neighHalo = sizing.RightHalo, sizing.LeftHalo
				}
			}
			send, recv := haloexchange.ComputeSlabs(side, firstInner, lastInner, myHalo, neighHalo)
			sendSlab[d.Name] = send
			recvSlab[d.Name] = recv
		}
		specs = append(specs, haloexchange.BufferSpec{VarIndex: idx, Var: v, Neighbor: n, SendSlab: sendSlab, RecvSlab: recvSlab})
	}
	return specs
}

// EndSolution tears down the solution. Vars are only ever destroyed here,
// matching the lifecycle rule that storage outlives every intermediate
// resize until the run is fully finished.
func (s *Solution) EndSolution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("ending solution", "run_id", s.RunID)
	s.vars = make(map[string]*grid.Var)
	s.prepared = false
}

// Stats returns a snapshot of accumulated run statistics.
func (s *Solution) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// DiscoverBundleBB is a convenience wrapper around bbox.Discover for
// callers assembling a Pack before AddPack.
func DiscoverBundleBB(dims []dim.Dim, extent bbox.Box, valid bbox.ValidPredicate, workers int) bbox.BundleBB {
	return bbox.Discover(dims, extent, valid, workers)
}
