package dispatch

import (
	"testing"

	"github.com/sbl8/stencilkit/bbox"
	"github.com/sbl8/stencilkit/dim"
	"github.com/stretchr/testify/require"
)

func fullBundle(name string, visited *[]map[string]int64) *Bundle {
	dims := []dim.Dim{dim.NewDomainDim("x", 1, 1), dim.NewDomainDim("y", 1, 1)}
	bb := bbox.NewBox(dims, map[string]int64{"x": 0, "y": 0}, map[string]int64{"x": 4, "y": 4})
	return &Bundle{
		Name: name,
		BB:   bbox.BundleBB{BB: bb, IsFull: true},
		CalcScalar: func(point map[string]int64, stepSlot int64) {
			*visited = append(*visited, map[string]int64{"x": point["x"], "y": point["y"]})
		},
	}
}

func TestDispatchPackVisitsIntersection(t *testing.T) {
	t.Parallel()
	var visited []map[string]int64
	b := fullBundle("diffuse", &visited)
	pack := &Pack{Name: "p0", Bundles: []*Bundle{b}}

	d := NewDispatcher()
	rng := Range{Begin: map[string]int64{"x": 1, "y": 1}, End: map[string]int64{"x": 3, "y": 3}}
	require.NoError(t, d.DispatchPack(pack, rng, 0, 0, Scalar))
	require.Len(t, visited, 4) // 2x2 intersection
}

func TestDispatchSkipsOnStepCondition(t *testing.T) {
	t.Parallel()
	var visited []map[string]int64
	b := fullBundle("cond", &visited)
	b.StepCondition = func(t int64) bool { return t%2 == 0 }
	pack := &Pack{Name: "p0", Bundles: []*Bundle{b}}

	d := NewDispatcher()
	rng := Range{Begin: map[string]int64{"x": 0, "y": 0}, End: map[string]int64{"x": 4, "y": 4}}
	require.NoError(t, d.DispatchPack(pack, rng, 1, 0, Scalar))
	require.Empty(t, visited)
}

func TestDispatchMissingEntryPointFails(t *testing.T) {
	t.Parallel()
	var visited []map[string]int64
	b := fullBundle("nocluster", &visited)
	pack := &Pack{Name: "p0", Bundles: []*Bundle{b}}

	d := NewDispatcher()
	rng := Range{Begin: map[string]int64{"x": 0, "y": 0}, End: map[string]int64{"x": 4, "y": 4}}
	require.Error(t, d.DispatchPack(pack, rng, 0, 0, Cluster))
}

// A scratch bundle's CalcScalar must see block-local offsets (point minus
// the dispatched box's Begin), not the global point ValidDomain was
// evaluated against, so its thread-private storage is reused across blocks.
func TestDispatchLocalizesPointForScratchBundle(t *testing.T) {
	t.Parallel()
	dims := []dim.Dim{dim.NewDomainDim("x", 1, 1)}
	bb := bbox.NewBox(dims, map[string]int64{"x": 0}, map[string]int64{"x": 8})

	var globalSeen, localSeen []int64
	b := &Bundle{
		Name:      "tmp",
		BB:        bbox.BundleBB{BB: bb, IsFull: true},
		IsScratch: true,
		ValidDomain: func(point map[string]int64) bool {
			globalSeen = append(globalSeen, point["x"])
			return true
		},
		CalcScalar: func(point map[string]int64, stepSlot int64) {
			localSeen = append(localSeen, point["x"])
		},
	}
	pack := &Pack{Name: "p0", Bundles: []*Bundle{b}}

	d := NewDispatcher()
	rng := Range{Begin: map[string]int64{"x": 4}, End: map[string]int64{"x": 7}}
	require.NoError(t, d.DispatchPack(pack, rng, 0, 0, Scalar))

	require.Equal(t, []int64{4, 5, 6}, globalSeen)
	require.Equal(t, []int64{0, 1, 2}, localSeen)
}

func TestCopyLanesOptimizedRoundTrip(t *testing.T) {
	t.Parallel()
	src := []float64{1, 2, 3, 4}
	dst := make([]float64, 4)
	CopyLanesOptimized(dst, src)
	require.Equal(t, src, dst)
}
