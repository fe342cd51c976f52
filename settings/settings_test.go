package settings

import (
	"testing"

	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/kerr"
	"github.com/stretchr/testify/require"
)

func testDims() []dim.Dim {
	return []dim.Dim{dim.NewDomainDim("x", 4, 4), dim.NewDomainDim("y", 4, 4)}
}

func TestFinalizeRoundsLevelsUp(t *testing.T) {
	t.Parallel()
	cfg := &FileConfig{
		Region:    LevelSizes{"x": 20, "y": 20},
		Block:     LevelSizes{"x": 10, "y": 10},
		MiniBlock: LevelSizes{"x": 5, "y": 5},
		SubBlock:  LevelSizes{"x": 0, "y": 0},
	}
	in := FinalizeInput{
		Dims:        testDims(),
		MaxHalo:     map[string]int64{"x": 1, "y": 1},
		RankDomain:  map[string]int64{"x": 20, "y": 20},
		IsFirst:     map[string]bool{"x": true, "y": true},
		IsLast:      map[string]bool{"x": true, "y": true},
		Packs:       1,
		RegionSteps: 1,
	}
	g, err := Finalize(cfg, in)
	require.NoError(t, err)

	require.Equal(t, int64(4), g.SubBlock["x"]) // 0 means inherit cluster granularity (4)
	require.Equal(t, int64(5), g.MiniBlock["x"])
	require.Equal(t, int64(12), g.Block["x"]) // 10 rounded up to a multiple of 5
	require.Equal(t, int64(20), g.Region["x"])
	require.Equal(t, int64(4), g.Angle["x"]) // round_up(1, 4)
}

func TestFinalizeDomainTooSmallOnMultiRank(t *testing.T) {
	t.Parallel()
	cfg := &FileConfig{
		Region: LevelSizes{"x": 4, "y": 4},
		Block:  LevelSizes{"x": 4, "y": 4},
	}
	in := FinalizeInput{
		Dims:        testDims(),
		MaxHalo:     map[string]int64{"x": 8, "y": 1},
		RankDomain:  map[string]int64{"x": 4, "y": 4},
		IsFirst:     map[string]bool{"x": false, "y": true},
		IsLast:      map[string]bool{"x": false, "y": true},
		Packs:       2,
		RegionSteps: 3,
	}
	_, err := Finalize(cfg, in)
	require.Error(t, err)
	require.Equal(t, kerr.DomainTooSmall, kerr.KindOf(err))
}

func TestBoundTBSteps(t *testing.T) {
	t.Parallel()
	cfg := &FileConfig{
		Region: LevelSizes{"x": 32, "y": 32},
		Block:  LevelSizes{"x": 16, "y": 32},
	}
	in := FinalizeInput{
		Dims:        testDims(),
		MaxHalo:     map[string]int64{"x": 1, "y": 1},
		RankDomain:  map[string]int64{"x": 32, "y": 32},
		IsFirst:     map[string]bool{"x": true, "y": true},
		IsLast:      map[string]bool{"x": true, "y": true},
		Packs:       1,
		RegionSteps: 1,
		TBStepsIn:   10,
	}
	g, err := Finalize(cfg, in)
	require.NoError(t, err)
	require.Greater(t, g.TbAngle["x"], int64(0)) // block < region in x
	require.Equal(t, int64(0), g.TbAngle["y"])   // block == region in y
	require.LessOrEqual(t, g.TbSteps, int64(10))
}
