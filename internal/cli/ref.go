package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sbl8/stencilkit/descriptor"
)

// RefSummary is the JSON-rendered shape for "stencilctl ref".
type RefSummary struct {
	StepDim    string   `json:"step_dim"`
	DomainDims []string `json:"domain_dims"`
	MiscDims   []string `json:"misc_dims"`
	Bundles    []string `json:"bundles"`
	Packs      []string `json:"packs"`
}

// NewRefCommand builds "stencilctl ref <descriptor.skd>": prints a
// human-readable reference summary of a compiled descriptor's shape,
// without preparing or running a solution.
func NewRefCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ref <descriptor.skd>",
		Short:         "Print a reference summary of a compiled descriptor",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRef(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRef(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	d, err := LoadDescriptor(path)
	if err != nil {
		_ = formatter.Error(err.Error())
		return WrapExitError(ExitCommandError, "failed to load descriptor", err)
	}

	summary := summarize(d)
	if opts.Format == "json" {
		return formatter.Success(summary)
	}

	fmt.Fprintf(formatter.Writer, "step dim: %s\n", summary.StepDim)
	fmt.Fprintf(formatter.Writer, "domain dims: %v\n", summary.DomainDims)
	fmt.Fprintf(formatter.Writer, "misc dims: %v\n", summary.MiscDims)
	fmt.Fprintf(formatter.Writer, "bundles: %v\n", summary.Bundles)
	fmt.Fprintf(formatter.Writer, "packs: %v\n", summary.Packs)
	return nil
}

func summarize(d *descriptor.Descriptor) RefSummary {
	s := RefSummary{StepDim: d.StepDim}
	for _, dd := range d.DomainDims {
		s.DomainDims = append(s.DomainDims, dd.Name)
	}
	for _, dd := range d.MiscDims {
		s.MiscDims = append(s.MiscDims, dd.Name)
	}
	for _, b := range d.Bundles {
		s.Bundles = append(s.Bundles, b.Name)
	}
	for _, p := range d.Packs {
		s.Packs = append(s.Packs, p.Name)
	}
	return s
}
