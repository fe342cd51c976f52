// Package grid implements the Var store: per-rank N-D array storage with
// halos, padding, vector folding, step-dim cyclic allocation, and dirty-flag
// tracking. Storage for each Var is a single cache-line-aligned byte arena
// allocated once by Bind, following the arena-region layout the teacher's
// runtime package uses for node payloads.
package grid

import (
	"sync"

	"github.com/sbl8/stencilkit/core"
	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/kerr"
)

const elemSize = 8 // float64

// DimSizing holds the per-domain-dim sizes a Var tracks. left_halo/right_halo
// are the accumulated halo requirements from update_halo; left_pad/right_pad
// must be >= the matching halo.
type DimSizing struct {
	Domain    int64
	LeftHalo  int64
	RightHalo int64
	LeftPad   int64
	RightPad  int64

	RankOffset  int64 // position within the overall problem
	LocalOffset int64 // position within the rank's allocation
	VarVecLen   int64 // <= the dim's Vlen
}

func (s DimSizing) alloc(vlen int64) int64 {
	total := s.LeftPad + s.Domain + s.RightPad
	return core.RoundUpI64(total, vlen)
}

// haloKey identifies one (stage, side, step offset, dim) halo contribution.
type haloKey struct {
	stage      string
	leftSide   bool
	stepOffset int64
	dimName    string
}

// Var is a multi-dimensional array of float64 elements, stepped or not,
// backed by a single aligned storage arena.
type Var struct {
	mu sync.RWMutex

	name     string
	dims     []dim.Dim // full dim list, in order; at most one Step
	hasStep  bool
	stepName string

	sizing map[string]*DimSizing // keyed by domain dim name

	allocStep  int64 // cyclic step-slot count; 1 if not stepped
	writeback  bool
	halos      map[haloKey]int64
	l1Dist     int64

	storage []byte
	bound   bool // true once storage has been allocated (prepare_solution)

	dirty []bool // one per cyclic step slot
}

// NewVar declares a Var over dims with zeroed sizing. Storage is not
// allocated until Bind is called.
func NewVar(name string, dims []dim.Dim) (*Var, error) {
	v := &Var{
		name:   name,
		dims:   append([]dim.Dim(nil), dims...),
		sizing: make(map[string]*DimSizing),
		halos:  make(map[haloKey]int64),
	}
	for _, d := range dims {
		switch d.Kind {
		case dim.Step:
			if v.hasStep {
				return nil, kerr.New(kerr.InvalidDim, "var declares more than one step dim")
			}
			v.hasStep = true
			v.stepName = d.Name
		case dim.Domain:
			v.sizing[d.Name] = &DimSizing{VarVecLen: int64(d.Vlen)}
		}
	}
	v.allocStep = 1
	return v, nil
}

func (v *Var) dimByName(name string) (dim.Dim, error) {
	for _, d := range v.dims {
		if d.Name == name {
			return d, nil
		}
	}
	return dim.Dim{}, kerr.Newf(kerr.InvalidDim, "var %q has no dim %q", v.name, name)
}

// SetDomainSize sets the logical domain extent for a domain dim. Only
// effective before Bind.
func (v *Var) SetDomainSize(dimName string, size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bound {
		return kerr.New(kerr.LayoutMismatch, "cannot resize a bound var")
	}
	s, ok := v.sizing[dimName]
	if !ok {
		return kerr.Newf(kerr.InvalidDim, "var %q has no domain dim %q", v.name, dimName)
	}
	s.Domain = size
	return nil
}

// SetPad sets left/right padding for a domain dim, which must be >= the
// accumulated halo on that side.
func (v *Var) SetPad(dimName string, left, right int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.sizing[dimName]
	if !ok {
		return kerr.Newf(kerr.InvalidDim, "var %q has no domain dim %q", v.name, dimName)
	}
	if left < s.LeftHalo || right < s.RightHalo {
		return kerr.Newf(kerr.LayoutMismatch, "pad (%d,%d) below halo (%d,%d) on dim %q", left, right, s.LeftHalo, s.RightHalo, dimName)
	}
	s.LeftPad, s.RightPad = left, right
	return nil
}

// UpdateHalo accumulates a (stage, side, step-offset, dim) halo requirement.
// offsets maps dim name to a signed request; negative means left side. It
// returns whether any recorded halo value changed, and recomputes l1Dist.
func (v *Var) UpdateHalo(stage string, stepOffset int64, offsets map[string]int64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	changed := false
	for dimName, off := range offsets {
		s, ok := v.sizing[dimName]
		if !ok {
			return false, kerr.Newf(kerr.InvalidDim, "var %q has no domain dim %q", v.name, dimName)
		}
		abs := off
		left := abs < 0
		if left {
			abs = -abs
		}
		key := haloKey{stage: stage, leftSide: left, stepOffset: stepOffset, dimName: dimName}
		if cur, ok := v.halos[key]; !ok || abs > cur {
			v.halos[key] = abs
			changed = true
		}
		if left && abs > s.LeftHalo {
			s.LeftHalo = abs
			changed = true
		}
		if !left && abs > s.RightHalo {
			s.RightHalo = abs
			changed = true
		}
	}
	if changed {
		v.recomputeL1Dist()
	}
	return changed, nil
}

func (v *Var) recomputeL1Dist() {
	var total int64
	for _, s := range v.sizing {
		total += s.LeftHalo + s.RightHalo
	}
	v.l1Dist = total
}

// SetWriteback enables the writeback optimization: computeAllocStep reduces
// each stage's step-slot span by one whenever that span is above one. Halo
// sizes and write offsets at the extreme step offsets are not checked.
func (v *Var) SetWriteback(enabled bool) { v.writeback = enabled }

// computeAllocStep implements the step-slot count formula: max over stages
// of (max_step_offset - min_step_offset + 1), minus one under the
// writeback optimization.
func (v *Var) computeAllocStep(stageOffsets map[string][]int64) int64 {
	if !v.hasStep || len(stageOffsets) == 0 {
		return 1
	}
	var best int64 = 1
	for _, offs := range stageOffsets {
		if len(offs) == 0 {
			continue
		}
		mn, mx := offs[0], offs[0]
		for _, o := range offs[1:] {
			if o < mn {
				mn = o
			}
			if o > mx {
				mx = o
			}
		}
		span := mx - mn + 1
		if v.writeback && span > 1 {
			span--
		}
		if span > best {
			best = span
		}
	}
	return best
}

// Bind finalizes sizing, rounds allocations up to vlen multiples, and
// allocates the storage arena. stageOffsets drives the step-slot count; pass
// nil for a non-stepped var.
func (v *Var) Bind(stageOffsets map[string][]int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bound {
		return nil
	}

	var elems int64 = 1
	for _, d := range v.dims {
		switch d.Kind {
		case dim.Domain:
			s := v.sizing[d.Name]
			if d.Clen > 0 && s.Domain%int64(d.Clen) != 0 {
				return kerr.Newf(kerr.DomainTooSmall, "var %q dim %q domain %d not a multiple of cluster %d", v.name, d.Name, s.Domain, d.Clen)
			}
			allocSize := s.alloc(int64(d.Vlen))
			elems *= allocSize
		case dim.Misc:
			elems *= 1 // misc dims add no extent to the allocation
		}
	}
	if v.hasStep {
		v.allocStep = v.computeAllocStep(stageOffsets)
		elems *= v.allocStep
	}

	v.storage = core.AlignedBytes(int(elems * elemSize))
	v.dirty = make([]bool, v.allocStep)
	v.bound = true
	return nil
}

// Bound reports whether storage has been allocated.
func (v *Var) Bound() bool { return v.bound }

// AllocStep returns the cyclic step-slot count.
func (v *Var) AllocStep() int64 { return v.allocStep }

// StepSlot maps a step index to its cyclic storage slot.
func (v *Var) StepSlot(t int64) int64 {
	m := v.allocStep
	if m <= 0 {
		return 0
	}
	s := t % m
	if s < 0 {
		s += m
	}
	return s
}

// SetDirty marks a step slot as having halo data stale on neighbors.
func (v *Var) SetDirty(slot int64, dirty bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if slot < 0 || int(slot) >= len(v.dirty) {
		return kerr.Newf(kerr.NoStorage, "var %q step slot %d out of range", v.name, slot)
	}
	v.dirty[slot] = dirty
	return nil
}

// IsDirty reports whether a step slot's halo data is stale on neighbors.
func (v *Var) IsDirty(slot int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if slot < 0 || int(slot) >= len(v.dirty) {
		return false
	}
	return v.dirty[slot]
}

// Sizing returns the current sizing record for a domain dim.
func (v *Var) Sizing(dimName string) (*DimSizing, error) {
	s, ok := v.sizing[dimName]
	if !ok {
		return nil, kerr.Newf(kerr.InvalidDim, "var %q has no domain dim %q", v.name, dimName)
	}
	return s, nil
}

// Name returns the var's declared name.
func (v *Var) Name() string { return v.name }

// Dims returns the var's full dim list.
func (v *Var) Dims() []dim.Dim { return v.dims }

// Fuse replaces v's metadata and storage with other's. Fails with
// LayoutMismatch if v is already bound and the two vars' layouts disagree.
func (v *Var) Fuse(other *Var) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bound && !v.layoutEquals(other) {
		return kerr.Newf(kerr.LayoutMismatch, "cannot fuse %q into bound var %q: layouts disagree", other.name, v.name)
	}
	v.dims = other.dims
	v.sizing = other.sizing
	v.allocStep = other.allocStep
	v.storage = other.storage
	v.dirty = other.dirty
	v.bound = other.bound
	return nil
}

func (v *Var) layoutEquals(other *Var) bool {
	if len(v.dims) != len(other.dims) || v.allocStep != other.allocStep {
		return false
	}
	for name, s := range v.sizing {
		os, ok := other.sizing[name]
		if !ok || *s != *os {
			return false
		}
	}
	return true
}
