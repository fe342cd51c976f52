// Package dim implements the named-dimension tuple algebra every other
// stencilkit package builds on: dimension identity and kind, ordered tuples
// over a fixed dimension list, and the layout/unlayout permutation between an
// N-D point and a linear offset.
package dim

import (
	"fmt"

	"github.com/sbl8/stencilkit/kerr"
)

// Kind classifies what a Dim is used for.
type Kind int

const (
	// Domain is a spatial axis, fixed per solution, carrying a vector fold
	// length and a cluster length.
	Domain Kind = iota
	// Step is the time-like axis. At most one Dim in any tuple may be Step.
	Step
	// Misc is a non-iterated parameter axis (e.g. a material index).
	Misc
)

func (k Kind) String() string {
	switch k {
	case Domain:
		return "Domain"
	case Step:
		return "Step"
	case Misc:
		return "Misc"
	default:
		return "Unknown"
	}
}

// Dim is a named axis. Domain dims carry a fold length and cluster length
// that are invariant once a solution is prepared.
type Dim struct {
	Name string
	Kind Kind
	Vlen int // vector fold length; 1 for non-domain dims
	Clen int // cluster length; always >= Vlen
}

// NewDomainDim builds a spatial Dim with the given fold and cluster lengths.
func NewDomainDim(name string, vlen, clen int) Dim {
	if clen < vlen {
		clen = vlen
	}
	return Dim{Name: name, Kind: Domain, Vlen: vlen, Clen: clen}
}

// NewStepDim builds the (at most one) time-like Dim for a tuple.
func NewStepDim(name string) Dim {
	return Dim{Name: name, Kind: Step, Vlen: 1, Clen: 1}
}

// NewMiscDim builds a non-iterated parameter Dim.
func NewMiscDim(name string) Dim {
	return Dim{Name: name, Kind: Misc, Vlen: 1, Clen: 1}
}

// Tuple is an ordered mapping from dimension name to a signed integer value,
// preserving the insertion order of its Dims. Element-wise Tuple operations
// require identical dim lists; see each method.
type Tuple struct {
	dims []Dim
	vals []int64
}

// NewTuple builds a Tuple over dims with all values initialized to zero.
func NewTuple(dims ...Dim) *Tuple {
	t := &Tuple{
		dims: append([]Dim(nil), dims...),
		vals: make([]int64, len(dims)),
	}
	return t
}

// Dims returns the ordered dimension list backing this tuple. Callers must
// not mutate the returned slice.
func (t *Tuple) Dims() []Dim { return t.dims }

// Len returns the number of dims in this tuple.
func (t *Tuple) Len() int { return len(t.dims) }

func (t *Tuple) indexOf(name string) int {
	for i, d := range t.dims {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the value bound to name. Fails with kerr.InvalidDim if name
// is not present.
func (t *Tuple) Lookup(name string) (int64, error) {
	i := t.indexOf(name)
	if i < 0 {
		return 0, kerr.Newf(kerr.InvalidDim, "dim %q not present in tuple", name)
	}
	return t.vals[i], nil
}

// MustLookup is Lookup for call sites that have already validated name is
// present (e.g. iterating t.Dims() themselves).
func (t *Tuple) MustLookup(name string) int64 {
	v, err := t.Lookup(name)
	if err != nil {
		panic(err)
	}
	return v
}

// SetVal sets the value bound to name. Fails with kerr.InvalidDim if name is
// not present.
func (t *Tuple) SetVal(name string, v int64) error {
	i := t.indexOf(name)
	if i < 0 {
		return kerr.Newf(kerr.InvalidDim, "dim %q not present in tuple", name)
	}
	t.vals[i] = v
	return nil
}

// AddDimBack appends a new dim with value v to the end of the tuple's order.
// Fails with kerr.InvalidDim if name is already present.
func (t *Tuple) AddDimBack(d Dim, v int64) error {
	if t.indexOf(d.Name) >= 0 {
		return kerr.Newf(kerr.InvalidDim, "dim %q already present in tuple", d.Name)
	}
	t.dims = append(t.dims, d)
	t.vals = append(t.vals, v)
	return nil
}

// Clone returns an independent copy of t.
func (t *Tuple) Clone() *Tuple {
	return &Tuple{
		dims: append([]Dim(nil), t.dims...),
		vals: append([]int64(nil), t.vals...),
	}
}

// sameDims reports whether t and other share an identical, identically
// ordered dim list, by name.
func (t *Tuple) sameDims(other *Tuple) bool {
	if len(t.dims) != len(other.dims) {
		return false
	}
	for i := range t.dims {
		if t.dims[i].Name != other.dims[i].Name {
			return false
		}
	}
	return true
}

func (t *Tuple) elementWise(other *Tuple, op func(a, b int64) int64) (*Tuple, error) {
	if !t.sameDims(other) {
		return nil, kerr.New(kerr.LayoutMismatch, "element-wise op requires identical dim lists")
	}
	out := t.Clone()
	for i := range out.vals {
		out.vals[i] = op(out.vals[i], other.vals[i])
	}
	return out, nil
}

// Add returns the element-wise sum of t and other.
func (t *Tuple) Add(other *Tuple) (*Tuple, error) {
	return t.elementWise(other, func(a, b int64) int64 { return a + b })
}

// Sub returns the element-wise difference of t and other.
func (t *Tuple) Sub(other *Tuple) (*Tuple, error) {
	return t.elementWise(other, func(a, b int64) int64 { return a - b })
}

// Mul returns the element-wise product of t and other.
func (t *Tuple) Mul(other *Tuple) (*Tuple, error) {
	return t.elementWise(other, func(a, b int64) int64 { return a * b })
}

// Min returns the element-wise minimum of t and other.
func (t *Tuple) Min(other *Tuple) (*Tuple, error) {
	return t.elementWise(other, func(a, b int64) int64 {
		if a < b {
			return a
		}
		return b
	})
}

// Max returns the element-wise maximum of t and other.
func (t *Tuple) Max(other *Tuple) (*Tuple, error) {
	return t.elementWise(other, func(a, b int64) int64 {
		if a > b {
			return a
		}
		return b
	})
}

// Product returns the product of all values in the tuple, e.g. the element
// count of a box whose per-dim extents are given by t.
func (t *Tuple) Product() int64 {
	p := int64(1)
	for _, v := range t.vals {
		p *= v
	}
	return p
}

// RoundUp returns a copy of t with each value rounded up to the matching
// entry in multiples. multiples must share t's dim list.
func (t *Tuple) RoundUp(multiples *Tuple) (*Tuple, error) {
	if !t.sameDims(multiples) {
		return nil, kerr.New(kerr.LayoutMismatch, "round_up requires identical dim lists")
	}
	out := t.Clone()
	for i, m := range multiples.vals {
		out.vals[i] = roundUpInt64(out.vals[i], m)
	}
	return out, nil
}

func roundUpInt64(n, m int64) int64 {
	if m <= 0 {
		return n
	}
	return ((n + m - 1) / m) * m
}

// VisitAllPoints calls cb once for every point in the box [0, t) in
// row-major order over t's dims (the last dim varies fastest), stopping
// early if cb returns false.
func (t *Tuple) VisitAllPoints(cb func(point *Tuple) bool) {
	if len(t.dims) == 0 {
		cb(t.Clone())
		return
	}
	point := NewTuple(t.dims...)
	var visit func(depth int) bool
	visit = func(depth int) bool {
		if depth == len(t.dims) {
			return cb(point.Clone())
		}
		limit := t.vals[depth]
		for v := int64(0); v < limit; v++ {
			point.vals[depth] = v
			if !visit(depth + 1) {
				return false
			}
		}
		return true
	}
	visit(0)
}

// Layout converts point into a linear offset using row-major striping over
// sizes: the last dim in sizes' order varies fastest. point and sizes must
// share a dim list.
func Layout(point, sizes *Tuple) (int64, error) {
	if !point.sameDims(sizes) {
		return 0, kerr.New(kerr.LayoutMismatch, "layout requires identical dim lists")
	}
	var offset int64
	for i := range sizes.vals {
		offset = offset*sizes.vals[i] + point.vals[i]
	}
	return offset, nil
}

// Unlayout is the inverse of Layout: it decomposes a linear offset into a
// point over sizes' dim list.
func Unlayout(offset int64, sizes *Tuple) (*Tuple, error) {
	point := NewTuple(sizes.dims...)
	for i := len(sizes.vals) - 1; i >= 0; i-- {
		s := sizes.vals[i]
		if s <= 0 {
			point.vals[i] = 0
			continue
		}
		point.vals[i] = offset % s
		offset /= s
	}
	return point, nil
}

// SubsetByKind returns the sub-tuple over the dims with the given Kind, preserving
// insertion order.
func (t *Tuple) SubsetByKind(kind Kind) *Tuple {
	var dims []Dim
	var vals []int64
	for i, d := range t.dims {
		if d.Kind == kind {
			dims = append(dims, d)
			vals = append(vals, t.vals[i])
		}
	}
	return &Tuple{dims: dims, vals: vals}
}

// String renders the tuple as "name0=v0,name1=v1,...", useful in error
// messages and log lines.
func (t *Tuple) String() string {
	s := ""
	for i, d := range t.dims {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%d", d.Name, t.vals[i])
	}
	return s
}
