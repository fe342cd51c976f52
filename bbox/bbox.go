// Package bbox implements the bounding-box engine: per-bundle valid-domain
// discovery over a rank's extended domain, and decomposition of a
// non-rectangular valid region into a list of non-overlapping full
// rectangles the loop nest driver iterates.
package bbox

import (
	"sort"

	"github.com/sbl8/stencilkit/dim"
)

// Box is a closed-open axis-aligned rectangle: Begin[d] <= p[d] < End[d].
type Box struct {
	Begin, End map[string]int64
	dims       []dim.Dim
}

// NewBox builds a Box over dims with the given per-dim bounds.
func NewBox(dims []dim.Dim, begin, end map[string]int64) Box {
	return Box{Begin: cloneMap(begin), End: cloneMap(end), dims: append([]dim.Dim(nil), dims...)}
}

func cloneMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Size returns End-Begin per dim.
func (b Box) Size() map[string]int64 {
	out := make(map[string]int64, len(b.dims))
	for _, d := range b.dims {
		out[d.Name] = b.End[d.Name] - b.Begin[d.Name]
	}
	return out
}

// NumPoints returns the product of Size(), i.e. the rectangle's element
// count.
func (b Box) NumPoints() int64 {
	var p int64 = 1
	for _, d := range b.dims {
		p *= b.End[d.Name] - b.Begin[d.Name]
	}
	return p
}

// Contains reports whether point lies within [Begin, End) in every dim.
func (b Box) Contains(point map[string]int64) bool {
	for _, d := range b.dims {
		p, ok := point[d.Name]
		if !ok || p < b.Begin[d.Name] || p >= b.End[d.Name] {
			return false
		}
	}
	return true
}

// IsAligned reports whether every edge falls on a vlen multiple.
func (b Box) IsAligned() bool {
	for _, d := range b.dims {
		if d.Vlen <= 1 {
			continue
		}
		if b.Begin[d.Name]%int64(d.Vlen) != 0 || b.End[d.Name]%int64(d.Vlen) != 0 {
			return false
		}
	}
	return true
}

// IsClusterMult reports whether every dim's extent is a cluster multiple.
func (b Box) IsClusterMult() bool {
	size := b.Size()
	for _, d := range b.dims {
		if d.Clen <= 1 {
			continue
		}
		if size[d.Name]%int64(d.Clen) != 0 {
			return false
		}
	}
	return true
}

// BundleBB is one bundle's discovered valid domain: a bounding Box, whether
// it is exactly rectangular (IsFull), and, if not, a list of non-overlapping
// full sub-rectangles covering every valid point.
type BundleBB struct {
	BB      Box
	IsFull  bool
	SubBBs  []Box
}

// ValidPredicate reports whether point is inside a bundle's valid domain.
type ValidPredicate func(point map[string]int64) bool

// Discover scans extent (the rank's extended domain) calling valid at every
// point, and returns the bundle's BB plus, if the valid region is not a
// rectangle, a decomposition into full sub-boxes. numWorkers controls how
// many outer-dim slices are swept concurrently during decomposition; pass 1
// for a single-threaded scan.
func Discover(dims []dim.Dim, extent Box, valid ValidPredicate, numWorkers int) BundleBB {
	begin, end, numPoints, any := scanExtent(dims, extent, valid)
	if !any {
		for _, d := range dims {
			begin[d.Name] = extent.Begin[d.Name]
		}
		return BundleBB{BB: NewBox(dims, begin, begin), IsFull: true}
	}
	bb := NewBox(dims, begin, end)
	if numPoints == bb.NumPoints() {
		return BundleBB{BB: bb, IsFull: true}
	}

	subs := decompose(dims, bb, valid, numWorkers)
	return BundleBB{BB: bb, IsFull: false, SubBBs: subs}
}

// scanExtent sweeps extent once, tracking the min/max valid coordinate per
// dim and the total count of valid points.
func scanExtent(dims []dim.Dim, extent Box, valid ValidPredicate) (begin, end map[string]int64, numPoints int64, any bool) {
	begin = make(map[string]int64, len(dims))
	end = make(map[string]int64, len(dims))

	var visit func(depth int, point map[string]int64)
	point := make(map[string]int64, len(dims))
	visit = func(depth int, point map[string]int64) {
		if depth == len(dims) {
			if !valid(point) {
				return
			}
			numPoints++
			for _, d := range dims {
				p := point[d.Name]
				if !any || p < begin[d.Name] {
					begin[d.Name] = p
				}
				if !any || p+1 > end[d.Name] {
					end[d.Name] = p + 1
				}
			}
			any = true
			return
		}
		d := dims[depth]
		for p := extent.Begin[d.Name]; p < extent.End[d.Name]; p++ {
			point[d.Name] = p
			visit(depth+1, point)
		}
	}
	visit(0, point)
	return
}

// decompose partitions the outer dim into numWorkers contiguous slices and
// expands full candidate rectangles within each; adjacent rectangles that
// match in every non-outer dim are then merged along the outer dim.
func decompose(dims []dim.Dim, bb Box, valid ValidPredicate, numWorkers int) []Box {
	if len(dims) == 0 {
		return nil
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	outer := dims[0]
	lo, hi := bb.Begin[outer.Name], bb.End[outer.Name]
	span := hi - lo
	if span <= 0 {
		return nil
	}
	if int64(numWorkers) > span {
		numWorkers = int(span)
	}

	sliceSize := (span + int64(numWorkers) - 1) / int64(numWorkers)
	type result struct {
		boxes []Box
	}
	results := make([]result, numWorkers)

	var wg sliceWaiter
	wg.run(numWorkers, func(i int) {
		sliceLo := lo + int64(i)*sliceSize
		sliceHi := sliceLo + sliceSize
		if sliceHi > hi {
			sliceHi = hi
		}
		if sliceLo >= sliceHi {
			return
		}
		results[i].boxes = sweepSlice(dims, bb, outer, sliceLo, sliceHi, valid)
	})

	var all []Box
	for _, r := range results {
		all = append(all, r.boxes...)
	}
	return mergeAlongOuter(outer, all)
}

// sweepSlice scans [sliceLo, sliceHi) of the outer dim, greedily expanding
// a candidate rectangle at each newly-seen valid point not already covered.
// Rectangles are bounded by the slice along the outer dim, so rectangles
// from different slices never overlap.
func sweepSlice(dims []dim.Dim, bb Box, outer dim.Dim, sliceLo, sliceHi int64, valid ValidPredicate) []Box {
	sliceBB := NewBox(dims, bb.Begin, bb.End)
	sliceBB.Begin[outer.Name], sliceBB.End[outer.Name] = sliceLo, sliceHi
	covered := make([]Box, 0)
	isCovered := func(point map[string]int64) bool {
		for _, box := range covered {
			if box.Contains(point) {
				return true
			}
		}
		return false
	}

	var visit func(depth int, point map[string]int64)
	point := make(map[string]int64, len(dims))
	visit = func(depth int, point map[string]int64) {
		if depth == len(dims) {
			if !valid(point) || isCovered(point) {
				return
			}
			box := expandRect(dims, sliceBB, point, valid, isCovered)
			covered = append(covered, box)
			return
		}
		d := dims[depth]
		lo, hi := bb.Begin[d.Name], bb.End[d.Name]
		if d.Name == outer.Name {
			lo, hi = sliceLo, sliceHi
		}
		for p := lo; p < hi; p++ {
			point[d.Name] = p
			visit(depth+1, point)
		}
	}
	visit(0, point)
	return covered
}

// expandRect starts from the largest rectangle between origin and bb's end
// and, in each pass over the dims, shrinks by one every dim whose check finds
// an invalid or already-covered point (a dim already one wide is not shrunk),
// repeating until a pass changes nothing.
func expandRect(dims []dim.Dim, bb Box, origin map[string]int64, valid ValidPredicate, isCovered func(map[string]int64) bool) Box {
	delta := make(map[string]int64, len(dims))
	for _, d := range dims {
		delta[d.Name] = bb.End[d.Name] - origin[d.Name]
	}

	for {
		adjusted := false
		for _, d := range dims {
			end := make(map[string]int64, len(dims))
			for _, dd := range dims {
				end[dd.Name] = origin[dd.Name] + delta[dd.Name]
			}
			box := NewBox(dims, origin, end)
			if rectOK(dims, box, valid, isCovered) {
				continue
			}
			if delta[d.Name] > 1 {
				delta[d.Name]--
				adjusted = true
			}
		}
		if !adjusted {
			break
		}
	}

	end := make(map[string]int64, len(dims))
	for _, d := range dims {
		end[d.Name] = origin[d.Name] + delta[d.Name]
	}
	return NewBox(dims, origin, end)
}

// rectOK reports whether every point in box is valid and uncovered.
func rectOK(dims []dim.Dim, box Box, valid ValidPredicate, isCovered func(map[string]int64) bool) bool {
	ok := true
	var visit func(depth int, point map[string]int64)
	point := make(map[string]int64, len(dims))
	visit = func(depth int, point map[string]int64) {
		if !ok {
			return
		}
		if depth == len(dims) {
			if !valid(point) || isCovered(point) {
				ok = false
			}
			return
		}
		d := dims[depth]
		for p := box.Begin[d.Name]; p < box.End[d.Name]; p++ {
			point[d.Name] = p
			visit(depth+1, point)
			if !ok {
				return
			}
		}
	}
	visit(0, point)
	return ok
}

// mergeAlongOuter merges adjacent boxes that match in every non-outer dim,
// extending the outer dim's range across the merged run.
func mergeAlongOuter(outer dim.Dim, boxes []Box) []Box {
	if len(boxes) <= 1 {
		return boxes
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].Begin[outer.Name] < boxes[j].Begin[outer.Name] })

	merged := []Box{boxes[0]}
	for _, b := range boxes[1:] {
		last := &merged[len(merged)-1]
		if matchesExceptOuter(*last, b, outer) && last.End[outer.Name] == b.Begin[outer.Name] {
			last.End[outer.Name] = b.End[outer.Name]
			continue
		}
		merged = append(merged, b)
	}
	return merged
}

func matchesExceptOuter(a, b Box, outer dim.Dim) bool {
	for _, d := range a.dims {
		if d.Name == outer.Name {
			continue
		}
		if a.Begin[d.Name] != b.Begin[d.Name] || a.End[d.Name] != b.End[d.Name] {
			return false
		}
	}
	return true
}

// sliceWaiter runs n indexed goroutines and waits for all to finish,
// grounded on the teacher's worker-pool fan-out/join style in
// runtime.StreamScheduler.
type sliceWaiter struct{}

func (sliceWaiter) run(n int, fn func(i int)) {
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			fn(i)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
}
