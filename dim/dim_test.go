package dim

import (
	"testing"

	"github.com/sbl8/stencilkit/kerr"
)

func xyzDims() []Dim {
	return []Dim{
		NewDomainDim("x", 4, 4),
		NewDomainDim("y", 4, 4),
		NewDomainDim("z", 1, 1),
	}
}

func TestLookupAndSetVal(t *testing.T) {
	t.Parallel()
	tp := NewTuple(xyzDims()...)
	if err := tp.SetVal("y", 7); err != nil {
		t.Fatalf("SetVal: %v", err)
	}
	v, err := tp.Lookup("y")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v != 7 {
		t.Errorf("Lookup(y) = %d, want 7", v)
	}

	if _, err := tp.Lookup("w"); kerr.KindOf(err) != kerr.InvalidDim {
		t.Errorf("expected InvalidDim for missing dim, got %v", err)
	}
}

func TestAddDimBack(t *testing.T) {
	t.Parallel()
	tp := NewTuple(xyzDims()...)
	if err := tp.AddDimBack(NewStepDim("t"), 3); err != nil {
		t.Fatalf("AddDimBack: %v", err)
	}
	v, err := tp.Lookup("t")
	if err != nil || v != 3 {
		t.Fatalf("Lookup(t) = %d, %v", v, err)
	}
	if err := tp.AddDimBack(NewStepDim("t"), 0); err == nil {
		t.Fatal("expected error re-adding existing dim")
	}
}

func TestElementWiseOps(t *testing.T) {
	t.Parallel()
	a := NewTuple(xyzDims()...)
	a.SetVal("x", 10)
	a.SetVal("y", 5)
	a.SetVal("z", 2)

	b := NewTuple(xyzDims()...)
	b.SetVal("x", 3)
	b.SetVal("y", 8)
	b.SetVal("z", 2)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if v, _ := sum.Lookup("x"); v != 13 {
		t.Errorf("sum.x = %d, want 13", v)
	}

	mn, _ := a.Min(b)
	if v, _ := mn.Lookup("y"); v != 5 {
		t.Errorf("min.y = %d, want 5", v)
	}

	mx, _ := a.Max(b)
	if v, _ := mx.Lookup("y"); v != 8 {
		t.Errorf("max.y = %d, want 8", v)
	}
}

func TestMismatchedDimsFails(t *testing.T) {
	t.Parallel()
	a := NewTuple(xyzDims()...)
	b := NewTuple(NewDomainDim("x", 4, 4))
	if _, err := a.Add(b); kerr.KindOf(err) != kerr.LayoutMismatch {
		t.Errorf("expected LayoutMismatch, got %v", err)
	}
}

func TestProduct(t *testing.T) {
	t.Parallel()
	tp := NewTuple(xyzDims()...)
	tp.SetVal("x", 4)
	tp.SetVal("y", 3)
	tp.SetVal("z", 2)
	if got := tp.Product(); got != 24 {
		t.Errorf("Product() = %d, want 24", got)
	}
}

func TestRoundUp(t *testing.T) {
	t.Parallel()
	tp := NewTuple(xyzDims()...)
	tp.SetVal("x", 10)
	tp.SetVal("y", 10)
	tp.SetVal("z", 10)

	mult := NewTuple(xyzDims()...)
	mult.SetVal("x", 4)
	mult.SetVal("y", 1)
	mult.SetVal("z", 8)

	rounded, err := tp.RoundUp(mult)
	if err != nil {
		t.Fatalf("RoundUp: %v", err)
	}
	if v, _ := rounded.Lookup("x"); v != 12 {
		t.Errorf("x = %d, want 12", v)
	}
	if v, _ := rounded.Lookup("z"); v != 16 {
		t.Errorf("z = %d, want 16", v)
	}
}

func TestLayoutUnlayoutRoundTrip(t *testing.T) {
	t.Parallel()
	sizes := NewTuple(xyzDims()...)
	sizes.SetVal("x", 4)
	sizes.SetVal("y", 3)
	sizes.SetVal("z", 2)

	point := NewTuple(xyzDims()...)
	point.SetVal("x", 2)
	point.SetVal("y", 1)
	point.SetVal("z", 1)

	offset, err := Layout(point, sizes)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}

	back, err := Unlayout(offset, sizes)
	if err != nil {
		t.Fatalf("Unlayout: %v", err)
	}
	for _, d := range sizes.Dims() {
		want, _ := point.Lookup(d.Name)
		got, _ := back.Lookup(d.Name)
		if want != got {
			t.Errorf("round trip %s: got %d, want %d", d.Name, got, want)
		}
	}
}

func TestVisitAllPointsCount(t *testing.T) {
	t.Parallel()
	sizes := NewTuple(xyzDims()...)
	sizes.SetVal("x", 2)
	sizes.SetVal("y", 3)
	sizes.SetVal("z", 4)

	count := 0
	sizes.VisitAllPoints(func(p *Tuple) bool {
		count++
		return true
	})
	if count != 24 {
		t.Errorf("visited %d points, want 24", count)
	}
}

func TestVisitAllPointsEarlyStop(t *testing.T) {
	t.Parallel()
	sizes := NewTuple(xyzDims()...)
	sizes.SetVal("x", 5)
	sizes.SetVal("y", 5)
	sizes.SetVal("z", 5)

	count := 0
	sizes.VisitAllPoints(func(p *Tuple) bool {
		count++
		return count < 3
	})
	if count != 3 {
		t.Errorf("visited %d points, want 3 (early stop)", count)
	}
}

func TestSubsetByKind(t *testing.T) {
	t.Parallel()
	tp := NewTuple(xyzDims()...)
	tp.AddDimBack(NewStepDim("t"), 5)
	tp.AddDimBack(NewMiscDim("m"), 9)

	domain := tp.SubsetByKind(Domain)
	if domain.Len() != 3 {
		t.Errorf("domain subset len = %d, want 3", domain.Len())
	}
	step := tp.SubsetByKind(Step)
	if step.Len() != 1 {
		t.Errorf("step subset len = %d, want 1", step.Len())
	}
}
