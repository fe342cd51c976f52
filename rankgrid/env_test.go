package rankgrid

import (
	"context"
	"testing"

	"github.com/sbl8/stencilkit/dim"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func domainDims() []dim.Dim {
	return []dim.Dim{dim.NewDomainDim("x", 4, 4), dim.NewDomainDim("y", 4, 4)}
}

func TestSetupRankSingleRank(t *testing.T) {
	t.Parallel()
	transports := NewInProcCluster(1)
	env := NewEnv(transports[0], domainDims())

	ctx := context.Background()
	require.NoError(t, env.Init(ctx))

	nranks := map[string]int64{"x": 1, "y": 1}
	myDomain := map[string]int64{"x": 16, "y": 16}
	require.NoError(t, env.SetupRank(ctx, nranks, map[string]int64{"x": 0, "y": 0}, myDomain))

	require.Equal(t, int64(16), env.OverallDomain()["x"])
	require.Empty(t, env.Neighbors())
}

func TestSetupRankTwoRanksAlongX(t *testing.T) {
	t.Parallel()
	transports := NewInProcCluster(2)

	nranks := map[string]int64{"x": 2, "y": 1}
	domains := []map[string]int64{
		{"x": 8, "y": 8},
		{"x": 8, "y": 8},
	}
	coordsFor := []map[string]int64{
		{"x": 0, "y": 0},
		{"x": 1, "y": 0},
	}

	envs := make([]*Env, 2)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 2; i++ {
		i := i
		envs[i] = NewEnv(transports[i], domainDims())
		g.Go(func() error {
			if err := envs[i].Init(ctx); err != nil {
				return err
			}
			return envs[i].SetupRank(ctx, nranks, coordsFor[i], domains[i])
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(16), envs[0].OverallDomain()["x"])
	require.Equal(t, int64(0), envs[0].RankDomainOffset()["x"])
	require.Equal(t, int64(8), envs[1].RankDomainOffset()["x"])

	require.Len(t, envs[0].Neighbors(), 1)
	require.Equal(t, 1, envs[0].Neighbors()[0].Rank)

	n := envs[0].NeighborAt([]int64{1, 0})
	require.NotNil(t, n)
	require.Equal(t, 1, n.Rank)
}

func TestSetupRankMisalignedFails(t *testing.T) {
	t.Parallel()
	transports := NewInProcCluster(2)

	nranks := map[string]int64{"x": 2, "y": 1}
	domains := []map[string]int64{
		{"x": 8, "y": 8},
		{"x": 8, "y": 12}, // y mismatch with an in-line neighbor
	}
	coordsFor := []map[string]int64{
		{"x": 0, "y": 0},
		{"x": 1, "y": 0},
	}

	envs := make([]*Env, 2)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 2; i++ {
		i := i
		envs[i] = NewEnv(transports[i], domainDims())
		g.Go(func() error {
			if err := envs[i].Init(ctx); err != nil {
				return err
			}
			return envs[i].SetupRank(ctx, nranks, coordsFor[i], domains[i])
		})
	}
	require.Error(t, g.Wait())
}
