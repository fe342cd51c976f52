package cli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/stencilkit/descriptor"
	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/grid"
)

func TestParseDomainFlag(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		spec    string
		want    map[string]int64
		wantErr bool
	}{
		{name: "single", spec: "x=128", want: map[string]int64{"x": 128}},
		{name: "multi", spec: "x=128, y=64", want: map[string]int64{"x": 128, "y": 64}},
		{name: "empty segments skipped", spec: "x=128,,y=64", want: map[string]int64{"x": 128, "y": 64}},
		{name: "missing equals", spec: "x128", wantErr: true},
		{name: "non-numeric size", spec: "x=abc", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseDomainFlag(tc.spec)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestToRuntimeDims(t *testing.T) {
	t.Parallel()
	d := &descriptor.Descriptor{
		StepDim: "t",
		DomainDims: []descriptor.DimDescriptor{
			{Name: "x", Kind: descriptor.DimDomain, Vlen: 8, Cluster: 2},
		},
		MiscDims: []descriptor.DimDescriptor{{Name: "species"}},
	}
	dims := toRuntimeDims(d)
	require.Len(t, dims, 3)
	require.Equal(t, "t", dims[0].Name)
	require.Equal(t, dim.Step, dims[0].Kind)
	require.Equal(t, "x", dims[1].Name)
	require.Equal(t, dim.Domain, dims[1].Kind)
	require.Equal(t, "species", dims[2].Name)
	require.Equal(t, dim.Misc, dims[2].Kind)
}

// applyHaloRequirements must register a bundle's declared halo against a var
// only when that var is actually one of the bundle's inputs, and must
// translate LeftSide into a negative offset amount the way UpdateHalo expects.
func TestApplyHaloRequirementsRegistersDeclaredHalo(t *testing.T) {
	t.Parallel()
	dims := []dim.Dim{dim.NewDomainDim("x", 1, 1)}
	v, err := grid.NewVar("u", dims)
	require.NoError(t, err)

	d := &descriptor.Descriptor{
		Bundles: []descriptor.BundleDescriptor{
			{
				Name:      "diffuse",
				InputVars: []string{"u"},
				Halos: []descriptor.HaloRequirement{
					{Stage: "diffuse", LeftSide: true, StepOffset: 0, DimName: "x", Amount: 2},
					{Stage: "diffuse", LeftSide: false, StepOffset: 0, DimName: "x", Amount: 3},
				},
			},
			{
				// Not an input of "u" — its halo must not be applied.
				Name:      "other",
				InputVars: []string{"v"},
				Halos: []descriptor.HaloRequirement{
					{Stage: "other", LeftSide: true, StepOffset: 0, DimName: "x", Amount: 99},
				},
			},
		},
	}

	require.NoError(t, applyHaloRequirements(v, "u", d))

	sizing, err := v.Sizing("x")
	require.NoError(t, err)
	require.Equal(t, int64(2), sizing.LeftHalo)
	require.Equal(t, int64(3), sizing.RightHalo)
}
