package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sbl8/stencilkit/descriptor"
)

// NewValidateCommand builds "stencilctl validate <descriptor.skd>": decodes
// the descriptor and checks its internal consistency without preparing a
// solution (no rank transport, no var storage).
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "validate <descriptor.skd>",
		Short:         "Validate a compiled descriptor without running it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("loaded descriptor: step dim %q, %d domain dims, %d bundles, %d packs",
		d.StepDim, len(d.DomainDims), len(d.Bundles), len(d.Packs))

	if errs := validateDescriptor(d); len(errs) > 0 {
		for _, e := range errs {
			_ = formatter.Error(e)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	return formatter.Success("descriptor valid")
}

// validateDescriptor checks referential integrity: every bundle declares at
// least one output var, every pack references known bundles, and every
// bundle names both entry points.
func validateDescriptor(d *descriptor.Descriptor) []string {
	var errs []string

	bundleNames := make(map[string]bool, len(d.Bundles))
	for _, b := range d.Bundles {
		if bundleNames[b.Name] {
			errs = append(errs, fmt.Sprintf("duplicate bundle name %q", b.Name))
		}
		bundleNames[b.Name] = true

		if len(b.OutputVars) == 0 {
			errs = append(errs, fmt.Sprintf("bundle %q declares no output vars", b.Name))
		}
		if b.ScalarSymbol == "" {
			errs = append(errs, fmt.Sprintf("bundle %q missing scalar entry point symbol", b.Name))
		}
		if b.ClusterSymbol == "" {
			errs = append(errs, fmt.Sprintf("bundle %q missing cluster entry point symbol", b.Name))
		}
	}

	for _, p := range d.Packs {
		if len(p.BundleNames) == 0 {
			errs = append(errs, fmt.Sprintf("pack %q has no bundles", p.Name))
		}
		for _, bn := range p.BundleNames {
			if !bundleNames[bn] {
				errs = append(errs, fmt.Sprintf("pack %q references unknown bundle %q", p.Name, bn))
			}
		}
	}

	if d.StepDim == "" {
		errs = append(errs, "descriptor has no step dim")
	}

	return errs
}
