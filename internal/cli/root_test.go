package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootRejectsInvalidFormat(t *testing.T) {
	t.Parallel()
	path := writeTestDescriptor(t, validDescriptor())

	root := NewRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"ref", "--format", "xml", path})
	require.Error(t, root.Execute())
}

func TestRootRefSubcommand(t *testing.T) {
	t.Parallel()
	path := writeTestDescriptor(t, validDescriptor())

	root := NewRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetArgs([]string{"ref", path})
	require.NoError(t, root.Execute())
	require.Contains(t, buf.String(), "step dim: t")
}
