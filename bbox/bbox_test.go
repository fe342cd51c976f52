package bbox

import (
	"testing"

	"github.com/sbl8/stencilkit/dim"
)

func xyDims() []dim.Dim {
	return []dim.Dim{dim.NewDomainDim("x", 1, 1), dim.NewDomainDim("y", 1, 1)}
}

func TestDiscoverFullRectangle(t *testing.T) {
	t.Parallel()
	dims := xyDims()
	extent := NewBox(dims, map[string]int64{"x": 0, "y": 0}, map[string]int64{"x": 4, "y": 4})
	valid := func(p map[string]int64) bool { return true }

	bb := Discover(dims, extent, valid, 2)
	if !bb.IsFull {
		t.Fatal("expected IsFull for a fully-valid extent")
	}
	if bb.BB.NumPoints() != 16 {
		t.Errorf("NumPoints = %d, want 16", bb.BB.NumPoints())
	}
}

func TestDiscoverLShapeDecomposesToSubBBs(t *testing.T) {
	t.Parallel()
	dims := xyDims()
	extent := NewBox(dims, map[string]int64{"x": 0, "y": 0}, map[string]int64{"x": 4, "y": 4})

	// an L shape: everything except the top-right quadrant [2,4)x[2,4)
	valid := func(p map[string]int64) bool {
		return !(p["x"] >= 2 && p["y"] >= 2)
	}

	bb := Discover(dims, extent, valid, 2)
	if bb.IsFull {
		t.Fatal("expected non-full BB for an L shape")
	}
	if len(bb.SubBBs) == 0 {
		t.Fatal("expected at least one sub-BB")
	}

	covered := make(map[[2]int64]bool)
	for _, sub := range bb.SubBBs {
		for x := sub.Begin["x"]; x < sub.End["x"]; x++ {
			for y := sub.Begin["y"]; y < sub.End["y"]; y++ {
				p := map[string]int64{"x": x, "y": y}
				if !valid(p) {
					t.Fatalf("sub-BB covers invalid point (%d,%d)", x, y)
				}
				key := [2]int64{x, y}
				if covered[key] {
					t.Fatalf("point (%d,%d) covered by more than one sub-BB", x, y)
				}
				covered[key] = true
			}
		}
	}
}

func TestDiscoverEmptyValidRegion(t *testing.T) {
	t.Parallel()
	dims := xyDims()
	extent := NewBox(dims, map[string]int64{"x": 0, "y": 0}, map[string]int64{"x": 4, "y": 4})
	valid := func(p map[string]int64) bool { return false }

	bb := Discover(dims, extent, valid, 2)
	if bb.BB.NumPoints() != 0 {
		t.Errorf("expected empty BB, got %d points", bb.BB.NumPoints())
	}
}

func TestBoxIsAlignedAndClusterMult(t *testing.T) {
	t.Parallel()
	dims := []dim.Dim{dim.NewDomainDim("x", 4, 8)}
	box := NewBox(dims, map[string]int64{"x": 0}, map[string]int64{"x": 16})
	if !box.IsAligned() {
		t.Error("expected aligned box")
	}
	if !box.IsClusterMult() {
		t.Error("expected cluster-multiple box")
	}

	unaligned := NewBox(dims, map[string]int64{"x": 2}, map[string]int64{"x": 16})
	if unaligned.IsAligned() {
		t.Error("expected unaligned box")
	}
}
