// Package cli implements the stencilctl command tree: run, validate, and
// ref. Grounded on roach88-nysm/brutalist/internal/cli's root/run/validate
// commands (RootOptions embedding, ExitError exit codes, OutputFormatter
// text/json rendering), generalized from CUE spec loading to compiled
// stencil descriptor loading.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every stencilctl subcommand.
type RootOptions struct {
	Verbose bool
	Format  string
}

var validFormats = []string{"text", "json"}

// NewRootCommand builds the stencilctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stencilctl",
		Short: "stencilctl - run and inspect compiled stencil solutions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRefCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}
