package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/stencilkit/descriptor"
	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/grid"
	"github.com/sbl8/stencilkit/loopnest"
	"github.com/sbl8/stencilkit/rankgrid"
	"github.com/sbl8/stencilkit/solution"
)

// RunOptions holds flags for "stencilctl run".
type RunOptions struct {
	*RootOptions
	Config    string
	Ranks     int
	Domain    string
	FirstStep int64
	LastStep  int64
}

// NewRunCommand builds "stencilctl run <descriptor.skd>": loads a compiled
// descriptor and a tuning config, decomposes the domain across Ranks
// simulated ranks along the first domain dim, and steps the resulting
// solutions through the configured time range.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <descriptor.skd>",
		Short: "Run a compiled stencil solution",
		Long: `Run a compiled stencil solution descriptor.

Loads the binary descriptor produced by stencilc, decomposes the domain
across the requested number of simulated ranks, and steps every rank's
solution through the configured time range, exchanging halos between
steps.

Example:
  stencilctl run --config tune.yaml --domain x=128,y=128 --ranks 4 solution.skd`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolution(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to tuning config YAML (required)")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "domain sizes, e.g. x=128,y=128 (required)")
	cmd.Flags().IntVar(&opts.Ranks, "ranks", 1, "number of simulated ranks, decomposed along the first domain dim")
	cmd.Flags().Int64Var(&opts.FirstStep, "first-step", 0, "first time step (inclusive)")
	cmd.Flags().Int64Var(&opts.LastStep, "last-step", 0, "last time step (inclusive)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

func parseDomainFlag(spec string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed domain entry %q, want dim=size", part)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed domain size in %q: %w", part, err)
		}
		out[strings.TrimSpace(kv[0])] = size
	}
	return out, nil
}

func runSolution(opts *RunOptions, descPath string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	logger.Info("loading descriptor", "path", descPath)
	d, err := LoadDescriptor(descPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load descriptor", err)
	}

	logger.Info("loading config", "path", opts.Config)
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	overallDomain, err := parseDomainFlag(opts.Domain)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to parse --domain", err)
	}

	dims := toRuntimeDims(d)
	if len(dims) == 0 {
		return NewExitError(ExitCommandError, "descriptor declares no dims")
	}
	firstDomainDim := ""
	for _, dd := range dims {
		if dd.Kind == dim.Domain {
			firstDomainDim = dd.Name
			break
		}
	}
	if firstDomainDim == "" {
		return NewExitError(ExitCommandError, "descriptor declares no domain dims")
	}
	if overallDomain[firstDomainDim]%int64(opts.Ranks) != 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("domain size %d for dim %q not evenly divisible by %d ranks",
			overallDomain[firstDomainDim], firstDomainDim, opts.Ranks))
	}
	rankDomainSize := overallDomain[firstDomainDim] / int64(opts.Ranks)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	nranks := make(map[string]int64, len(dims))
	for _, dd := range dims {
		if dd.Kind == dim.Domain {
			nranks[dd.Name] = 1
		}
	}
	nranks[firstDomainDim] = int64(opts.Ranks)

	transports := rankgrid.NewInProcCluster(opts.Ranks)
	sols := make([]*solution.Solution, opts.Ranks)
	for r := 0; r < opts.Ranks; r++ {
		sols[r] = solution.New(transports[r], solution.Options{Dims: dims, Config: cfg, BlockWorkers: 4, Logger: logger})
		seenVars := make(map[string]bool)
		for _, bundle := range d.Bundles {
			for _, vname := range bundle.OutputVars {
				if seenVars[vname] {
					continue
				}
				seenVars[vname] = true
				v, err := grid.NewVar(vname, dims)
				if err != nil {
					return WrapExitError(ExitFailure, "building var "+vname, err)
				}
				for name, size := range overallDomain {
					localSize := size
					if name == firstDomainDim {
						localSize = rankDomainSize
					}
					if err := v.SetDomainSize(name, localSize); err != nil {
						return WrapExitError(ExitFailure, "sizing var "+vname, err)
					}
				}
				if err := applyHaloRequirements(v, vname, d); err != nil {
					return WrapExitError(ExitFailure, "applying halo requirements to var "+vname, err)
				}
				if err := sols[r].AddVar(v); err != nil {
					return WrapExitError(ExitFailure, "registering var "+vname, err)
				}
			}
		}
	}

	coords := func(rank int) map[string]int64 {
		c := make(map[string]int64, len(dims))
		for _, dd := range dims {
			if dd.Kind == dim.Domain {
				c[dd.Name] = 0
			}
		}
		c[firstDomainDim] = int64(rank)
		return c
	}
	rankDomainSizes := func() map[string]int64 {
		rd := make(map[string]int64, len(overallDomain))
		for name, size := range overallDomain {
			if name == firstDomainDim {
				rd[name] = rankDomainSize
			} else {
				rd[name] = size
			}
		}
		return rd
	}()

	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < opts.Ranks; r++ {
		r := r
		g.Go(func() error {
			return sols[r].PrepareSolution(gctx, nranks, coords(r), rankDomainSizes)
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "preparing solution", err)
	}

	region := loopnest.Box{Begin: map[string]int64{}, End: map[string]int64{}}
	for name, size := range rankDomainSizes {
		region.Begin[name] = 0
		region.End[name] = size
	}

	g, gctx = errgroup.WithContext(ctx)
	for r := 0; r < opts.Ranks; r++ {
		r := r
		g.Go(func() error {
			return sols[r].RunSolution(gctx, region, opts.FirstStep, opts.LastStep)
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "running solution", err)
	}

	for r := 0; r < opts.Ranks; r++ {
		sols[r].EndSolution()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ran %d rank(s) over steps [%d,%d]; run_id=%s\n",
		opts.Ranks, opts.FirstStep, opts.LastStep, sols[0].RunID)
	logger.Info("run complete", "ranks", opts.Ranks, "bundles", len(d.Bundles))
	return nil
}

// applyHaloRequirements registers every halo a bundle declares against vname
// as one of its input vars, so PrepareSolution's maxHalo/SetPad derivation
// sees the full stencil footprint before binding storage.
func applyHaloRequirements(v *grid.Var, vname string, d *descriptor.Descriptor) error {
	for _, bundle := range d.Bundles {
		isInput := false
		for _, in := range bundle.InputVars {
			if in == vname {
				isInput = true
				break
			}
		}
		if !isInput {
			continue
		}
		for _, h := range bundle.Halos {
			amount := h.Amount
			if h.LeftSide {
				amount = -amount
			}
			if _, err := v.UpdateHalo(h.Stage, int64(h.StepOffset), map[string]int64{h.DimName: amount}); err != nil {
				return err
			}
		}
	}
	return nil
}

func toRuntimeDims(d *descriptor.Descriptor) []dim.Dim {
	var dims []dim.Dim
	if d.StepDim != "" {
		dims = append(dims, dim.NewStepDim(d.StepDim))
	}
	for _, dd := range d.DomainDims {
		dims = append(dims, dim.NewDomainDim(dd.Name, int(dd.Vlen), int(dd.Cluster)))
	}
	for _, dd := range d.MiscDims {
		dims = append(dims, dim.NewMiscDim(dd.Name))
	}
	return dims
}
