package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleDescriptor() *Descriptor {
	return &Descriptor{
		StepDim: "t",
		DomainDims: []DimDescriptor{
			{Name: "x", Kind: DimDomain, Vlen: 8, Cluster: 1, PrefetchDistance: 2},
			{Name: "y", Kind: DimDomain, Vlen: 1, Cluster: 2},
		},
		MiscDims: []DimDescriptor{{Name: "c", Kind: DimMisc, Vlen: 1, Cluster: 1}},
		Bundles: []BundleDescriptor{
			{
				Name:       "update_u",
				InputVars:  []string{"u", "v"},
				OutputVars: []string{"u"},
				Halos: []HaloRequirement{
					{Stage: "update_u", LeftSide: true, StepOffset: -1, DimName: "x", Amount: 1},
					{Stage: "update_u", LeftSide: false, StepOffset: -1, DimName: "x", Amount: 1},
				},
				ScalarSymbol:     "update_u_scalar",
				ClusterSymbol:    "update_u_cluster",
				HasStepCondition: false,
				HasValidDomain:   true,
			},
		},
		Packs: []PackDescriptor{{Name: "p0", BundleNames: []string{"update_u"}}},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor()
	data, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	t.Parallel()
	data, err := Encode(sampleDescriptor())
	require.NoError(t, err)
	data[0] ^= 0xFF
	_, err = Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	t.Parallel()
	data, err := Encode(sampleDescriptor())
	require.NoError(t, err)
	// version is the two bytes right after the 4-byte magic.
	data[4] = 0xFF
	_, err = Decode(data)
	require.Error(t, err)
}

func TestEncodeDecodeEmptyDescriptor(t *testing.T) {
	t.Parallel()
	d := &Descriptor{StepDim: "t"}
	data, err := Encode(d)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, d.StepDim, got.StepDim)
	require.Empty(t, got.DomainDims)
	require.Empty(t, got.Bundles)
	require.Empty(t, got.Packs)
}
