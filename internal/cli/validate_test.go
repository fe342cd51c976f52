package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/stencilkit/descriptor"
)

func writeTestDescriptor(t *testing.T, d *descriptor.Descriptor) string {
	t.Helper()
	data, err := descriptor.Encode(d)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "test.skd")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func validDescriptor() *descriptor.Descriptor {
	return &descriptor.Descriptor{
		StepDim:    "t",
		DomainDims: []descriptor.DimDescriptor{{Name: "x", Kind: descriptor.DimDomain, Vlen: 8, Cluster: 1}},
		Bundles: []descriptor.BundleDescriptor{
			{Name: "b0", OutputVars: []string{"u"}, ScalarSymbol: "b0_scalar", ClusterSymbol: "b0_cluster"},
		},
		Packs: []descriptor.PackDescriptor{{Name: "p0", BundleNames: []string{"b0"}}},
	}
}

func TestValidateValidDescriptor(t *testing.T) {
	t.Parallel()
	path := writeTestDescriptor(t, validDescriptor())

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
	require.Contains(t, buf.String(), "descriptor valid")
}

func TestValidateCatchesUnknownBundleReference(t *testing.T) {
	t.Parallel()
	d := validDescriptor()
	d.Packs[0].BundleNames = append(d.Packs[0].BundleNames, "ghost")
	path := writeTestDescriptor(t, d)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateJSONOutput(t *testing.T) {
	t.Parallel()
	path := writeTestDescriptor(t, validDescriptor())

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestValidateMissingFile(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.skd")})
	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, ExitCommandError, GetExitCode(err))
}
