package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/stencilkit/descriptor"
)

func writeSpec(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solution.sks")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const sampleSpec = `
step t
domain x 8 1
domain y 1 2
misc c
bundle update_u u,v u update_u_scalar update_u_cluster 0 1
halo update_u left -1 x 1
halo update_u right -1 x 1
halo update_u left -1 x 2
pack p0 update_u
`

func TestCompileProducesLoadableDescriptor(t *testing.T) {
	t.Parallel()
	src := writeSpec(t, sampleSpec)
	out := filepath.Join(t.TempDir(), "solution.skd")

	require.NoError(t, Compile(src, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	d, err := descriptor.Decode(data)
	require.NoError(t, err)

	require.Equal(t, "t", d.StepDim)
	require.Len(t, d.DomainDims, 2)
	require.Len(t, d.Bundles, 1)
	require.Equal(t, "p0", d.Packs[0].Name)
}

func TestCompileMergesHalosToMax(t *testing.T) {
	t.Parallel()
	d, err := parseSpec([]byte(sampleSpec))
	require.NoError(t, err)
	mergeHalos(&d)

	require.Len(t, d.Bundles[0].Halos, 2)
	for _, h := range d.Bundles[0].Halos {
		if h.LeftSide {
			require.Equal(t, int64(2), h.Amount)
		}
	}
}

func TestCompileRejectsUnknownPackBundle(t *testing.T) {
	t.Parallel()
	src := writeSpec(t, `
domain x 1 1
bundle b0 - u b0_scalar b0_cluster
pack p0 b0,ghost
`)
	out := filepath.Join(t.TempDir(), "out.skd")
	err := Compile(src, out)
	require.Error(t, err)
}

func TestCompileRejectsMissingBundleForHalo(t *testing.T) {
	t.Parallel()
	_, err := parseSpec([]byte(`
domain x 1 1
halo ghost left -1 x 1
`))
	require.Error(t, err)
}

func TestIterateExpandsHaloStepOffsets(t *testing.T) {
	t.Parallel()
	src := writeSpec(t, `
domain x 1 1
bundle b0 - u b0_scalar b0_cluster
iterate n -2 0 {
  halo b0 left n x 1
}
pack p0 b0
`)
	out := filepath.Join(t.TempDir(), "out.skd")
	require.NoError(t, Compile(src, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	d, err := descriptor.Decode(data)
	require.NoError(t, err)
	require.Len(t, d.Bundles[0].Halos, 3)
}
