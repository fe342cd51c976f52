package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefTextOutput(t *testing.T) {
	t.Parallel()
	path := writeTestDescriptor(t, validDescriptor())

	buf := &bytes.Buffer{}
	cmd := NewRefCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	require.Contains(t, out, "step dim: t")
	require.Contains(t, out, "b0")
	require.Contains(t, out, "p0")
}

func TestRefJSONOutput(t *testing.T) {
	t.Parallel()
	path := writeTestDescriptor(t, validDescriptor())

	buf := &bytes.Buffer{}
	cmd := NewRefCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}
