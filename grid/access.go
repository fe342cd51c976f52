package grid

import (
	"encoding/binary"
	"math"

	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/kerr"
)

// offset computes the linear element offset of a domain point at the given
// step slot, in the var's own row-major storage order (dims in declaration
// order, step dim cyclic, last domain dim varying fastest).
func (v *Var) offset(point map[string]int64, stepSlot int64) (int64, error) {
	var off int64
	for _, d := range v.dims {
		switch d.Kind {
		case dim.Step:
			off = off*v.allocStep + stepSlot
		case dim.Domain:
			s, ok := v.sizing[d.Name]
			if !ok {
				return 0, kerr.Newf(kerr.InvalidDim, "var %q has no domain dim %q", v.name, d.Name)
			}
			p, ok := point[d.Name]
			if !ok {
				return 0, kerr.Newf(kerr.InvalidDim, "point missing coordinate for dim %q", d.Name)
			}
			local := p + s.LeftPad
			allocSize := s.alloc(s.VarVecLen)
			if s.VarVecLen <= 0 {
				allocSize = s.alloc(1)
			}
			off = off*allocSize + local
		}
	}
	return off, nil
}

// ReadElem reads one element at point for the given step index.
func (v *Var) ReadElem(point map[string]int64, t int64) (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.bound {
		return 0, kerr.New(kerr.NoStorage, "var not bound")
	}
	off, err := v.offset(point, v.StepSlot(t))
	if err != nil {
		return 0, err
	}
	return v.readAt(off)
}

// WriteElem writes one element at point for the given step index.
func (v *Var) WriteElem(point map[string]int64, t int64, val float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.bound {
		return kerr.New(kerr.NoStorage, "var not bound")
	}
	off, err := v.offset(point, v.StepSlot(t))
	if err != nil {
		return err
	}
	return v.writeAt(off, val)
}

func (v *Var) readAt(off int64) (float64, error) {
	byteOff := off * elemSize
	if byteOff < 0 || int(byteOff)+elemSize > len(v.storage) {
		return 0, kerr.New(kerr.NoStorage, "element offset out of range")
	}
	bits := binary.LittleEndian.Uint64(v.storage[byteOff : byteOff+elemSize])
	return math.Float64frombits(bits), nil
}

func (v *Var) writeAt(off int64, val float64) error {
	byteOff := off * elemSize
	if byteOff < 0 || int(byteOff)+elemSize > len(v.storage) {
		return kerr.New(kerr.NoStorage, "element offset out of range")
	}
	binary.LittleEndian.PutUint64(v.storage[byteOff:byteOff+elemSize], math.Float64bits(val))
	return nil
}

// ReadVec reads a whole vector (vlen lanes) starting at point along
// dimName, returning the lanes in order.
func (v *Var) ReadVec(point map[string]int64, dimName string, t int64) ([]float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.bound {
		return nil, kerr.New(kerr.NoStorage, "var not bound")
	}
	s, ok := v.sizing[dimName]
	if !ok {
		return nil, kerr.Newf(kerr.InvalidDim, "var %q has no domain dim %q", v.name, dimName)
	}
	vlen := s.VarVecLen
	if vlen <= 0 {
		vlen = 1
	}
	base := point[dimName]
	lanes := make([]float64, vlen)
	for i := int64(0); i < vlen; i++ {
		p := copyPoint(point)
		p[dimName] = base + i
		off, err := v.offset(p, v.StepSlot(t))
		if err != nil {
			return nil, err
		}
		val, err := v.readAt(off)
		if err != nil {
			return nil, err
		}
		lanes[i] = val
	}
	return lanes, nil
}

// WriteVec writes a whole vector of lanes at point along dimName.
func (v *Var) WriteVec(point map[string]int64, dimName string, t int64, lanes []float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.bound {
		return kerr.New(kerr.NoStorage, "var not bound")
	}
	base := point[dimName]
	for i, val := range lanes {
		p := copyPoint(point)
		p[dimName] = base + int64(i)
		off, err := v.offset(p, v.StepSlot(t))
		if err != nil {
			return err
		}
		if err := v.writeAt(off, val); err != nil {
			return err
		}
	}
	return nil
}

func copyPoint(point map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(point))
	for k, val := range point {
		out[k] = val
	}
	return out
}

// GetElementsInSlice returns a new slice holding the axis-aligned range
// [first, last) (inclusive lower, exclusive upper, per dim named in
// first/last), in deterministic row-major order over domain dims, with misc
// dims held constant at the values given in first and the step slot taken
// from t.
func (v *Var) GetElementsInSlice(first, last map[string]int64, t int64) ([]float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.bound {
		return nil, kerr.New(kerr.NoStorage, "var not bound")
	}

	var domainDims []dim.Dim
	for _, d := range v.dims {
		if d.Kind == dim.Domain {
			domainDims = append(domainDims, d)
		}
	}

	var out []float64
	point := copyPoint(first)
	var visit func(depth int) error
	visit = func(depth int) error {
		if depth == len(domainDims) {
			off, err := v.offset(point, v.StepSlot(t))
			if err != nil {
				return err
			}
			val, err := v.readAt(off)
			if err != nil {
				return err
			}
			out = append(out, val)
			return nil
		}
		d := domainDims[depth]
		lo, hi := first[d.Name], last[d.Name]
		for p := lo; p < hi; p++ {
			point[d.Name] = p
			if err := visit(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(0); err != nil {
		return nil, err
	}
	return out, nil
}

// SetElementsInSlice is the inverse of GetElementsInSlice.
func (v *Var) SetElementsInSlice(first, last map[string]int64, t int64, buf []float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.bound {
		return kerr.New(kerr.NoStorage, "var not bound")
	}

	var domainDims []dim.Dim
	for _, d := range v.dims {
		if d.Kind == dim.Domain {
			domainDims = append(domainDims, d)
		}
	}

	idx := 0
	point := copyPoint(first)
	var visit func(depth int) error
	visit = func(depth int) error {
		if depth == len(domainDims) {
			if idx >= len(buf) {
				return kerr.New(kerr.LayoutMismatch, "buffer shorter than slice range")
			}
			off, err := v.offset(point, v.StepSlot(t))
			if err != nil {
				return err
			}
			if err := v.writeAt(off, buf[idx]); err != nil {
				return err
			}
			idx++
			return nil
		}
		d := domainDims[depth]
		lo, hi := first[d.Name], last[d.Name]
		for p := lo; p < hi; p++ {
			point[d.Name] = p
			if err := visit(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(0)
}
