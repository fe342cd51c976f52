// Package compiler transforms a line-based stencil solution DSL into the
// binary descriptor format the runtime loads.
//
// This package implements the compiler (stencilc) that converts
// human-readable .sks solution specs into .skd descriptor files consumed by
// stencilctl and the runtime's solution package.
//
// Compilation pipeline:
//  1. Parse .sks DSL into an in-memory descriptor.Descriptor
//  2. Merge duplicate halo requirements to their monotonic maximum
//  3. Validate referential integrity (bundle/pack name resolution)
//  4. Emit the binary .skd descriptor
//
// DSL directives:
//
//	step <name>
//	domain <name> <vlen> <cluster>
//	misc <name>
//	bundle <name> <in-csv|-> <out-csv> <scalar-symbol> <cluster-symbol> [step-condition 0|1] [valid-domain 0|1]
//	halo <bundle> <left|right> <step-offset> <dim> <amount>
//	pack <name> <bundle-csv>
//	iterate <var> <start> <end> { ... }
package compiler

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sbl8/stencilkit/descriptor"
)

// Compile turns a .sks text spec into a binary .skd file using default
// options.
func Compile(src, out string) error {
	return CompileWithOptions(src, out, DefaultOptions())
}

// CompileOptions configures the compilation process.
type CompileOptions struct {
	Validate    bool // check bundle/pack referential integrity
	MergeHalos  bool // collapse duplicate halo requirements to their max
	Verbose     bool
}

// DefaultOptions provides sensible compilation defaults.
func DefaultOptions() CompileOptions {
	return CompileOptions{Validate: true, MergeHalos: true}
}

// CompileWithOptions reads src, parses it as the solution DSL, validates and
// normalizes the result, and writes the binary descriptor to out.
func CompileWithOptions(src, out string, opts CompileOptions) error {
	if opts.Verbose {
		fmt.Printf("compiling %s -> %s\n", src, out)
	}

	spec, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}

	d, err := parseSpec(spec)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	if opts.Verbose {
		fmt.Printf("parsed step dim %q, %d domain dims, %d bundles, %d packs\n",
			d.StepDim, len(d.DomainDims), len(d.Bundles), len(d.Packs))
	}

	if opts.MergeHalos {
		mergeHalos(&d)
	}

	if opts.Validate {
		if err := validateDescriptor(&d); err != nil {
			return fmt.Errorf("validation error: %w", err)
		}
		if opts.Verbose {
			fmt.Println("descriptor validation passed")
		}
	}

	data, err := descriptor.Encode(&d)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if opts.Verbose {
		fmt.Printf("successfully compiled to %s\n", out)
	}
	return nil
}

// parseSpec parses the DSL and returns a Descriptor or an error on invalid
// syntax.
func parseSpec(src []byte) (descriptor.Descriptor, error) {
	lines := strings.Split(string(src), "\n")
	d := descriptor.Descriptor{}
	parser := &dslParser{d: &d}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var err error
		i, err = parser.parseLine(lines, i)
		if err != nil {
			return descriptor.Descriptor{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return d, nil
}

// dslParser holds parse state across lines.
type dslParser struct {
	d *descriptor.Descriptor
}

func (p *dslParser) parseLine(lines []string, idx int) (int, error) {
	line := strings.TrimSpace(lines[idx])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return idx, nil
	}

	if fields[0] == "iterate" {
		return p.parseIterateBlock(lines, idx, fields)
	}
	return idx, p.processDirective(line, fields)
}

func (p *dslParser) parseIterateBlock(lines []string, idx int, fields []string) (int, error) {
	if len(fields) < 4 {
		return idx, fmt.Errorf("invalid iterate spec: %s", strings.Join(fields, " "))
	}
	varName := fields[1]
	start, err := strconv.Atoi(fields[2])
	if err != nil {
		return idx, fmt.Errorf("invalid iterate start %q: %w", fields[2], err)
	}
	end, err := strconv.Atoi(fields[3])
	if err != nil {
		return idx, fmt.Errorf("invalid iterate end %q: %w", fields[3], err)
	}

	blockStart := idx
	if !strings.HasSuffix(strings.Join(fields, " "), "{") {
		blockStart++
		for blockStart < len(lines) && strings.TrimSpace(lines[blockStart]) == "" {
			blockStart++
		}
		if blockStart >= len(lines) || strings.TrimSpace(lines[blockStart]) != "{" {
			return idx, fmt.Errorf("missing '{' after iterate")
		}
	}

	block, blockEnd, err := collectBlockLines(lines, blockStart)
	if err != nil {
		return idx, err
	}

	for v := start; v <= end; v++ {
		for _, bline := range block {
			expanded := expandVariable(bline, varName, v)
			if err := p.processDirective(expanded, strings.Fields(expanded)); err != nil {
				return idx, fmt.Errorf("iterate expansion error: %w", err)
			}
		}
	}
	return blockEnd, nil
}

func collectBlockLines(lines []string, startIdx int) ([]string, int, error) {
	var block []string
	i := startIdx + 1
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "}" {
			return block, i, nil
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			block = append(block, line)
		}
		i++
	}
	return nil, i, fmt.Errorf("unterminated iterate block")
}

func expandVariable(line, varName string, value int) string {
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == varName {
			fields[i] = strconv.Itoa(value)
		}
	}
	return strings.Join(fields, " ")
}

func (p *dslParser) processDirective(line string, fields []string) error {
	switch fields[0] {
	case "step":
		return p.parseStep(fields)
	case "domain":
		return p.parseDomain(fields)
	case "misc":
		return p.parseMisc(fields)
	case "bundle":
		return p.parseBundle(fields)
	case "halo":
		return p.parseHalo(fields)
	case "pack":
		return p.parsePack(fields)
	default:
		return fmt.Errorf("unknown directive: %s", fields[0])
	}
}

func (p *dslParser) parseStep(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("invalid step spec: needs a name")
	}
	p.d.StepDim = fields[1]
	return nil
}

func (p *dslParser) parseDomain(fields []string) error {
	if len(fields) < 4 {
		return fmt.Errorf("invalid domain spec: needs name vlen cluster")
	}
	vlen, err := strconv.ParseUint(fields[2], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid vlen %q: %w", fields[2], err)
	}
	cluster, err := strconv.ParseUint(fields[3], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid cluster %q: %w", fields[3], err)
	}
	p.d.DomainDims = append(p.d.DomainDims, descriptor.DimDescriptor{
		Name: fields[1], Kind: descriptor.DimDomain, Vlen: uint16(vlen), Cluster: uint16(cluster),
	})
	return nil
}

func (p *dslParser) parseMisc(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("invalid misc spec: needs a name")
	}
	p.d.MiscDims = append(p.d.MiscDims, descriptor.DimDescriptor{Name: fields[1], Kind: descriptor.DimMisc, Vlen: 1, Cluster: 1})
	return nil
}

func splitCSV(s string) []string {
	if s == "-" || s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (p *dslParser) parseBundle(fields []string) error {
	if len(fields) < 6 {
		return fmt.Errorf("invalid bundle spec: needs name in out scalar cluster")
	}
	b := descriptor.BundleDescriptor{
		Name:          fields[1],
		InputVars:     splitCSV(fields[2]),
		OutputVars:    splitCSV(fields[3]),
		ScalarSymbol:  fields[4],
		ClusterSymbol: fields[5],
	}
	if len(fields) > 6 {
		b.HasStepCondition = fields[6] == "1"
	}
	if len(fields) > 7 {
		b.HasValidDomain = fields[7] == "1"
	}
	p.d.Bundles = append(p.d.Bundles, b)
	return nil
}

func bundleIndex(d *descriptor.Descriptor, name string) int {
	for i := range d.Bundles {
		if d.Bundles[i].Name == name {
			return i
		}
	}
	return -1
}

func (p *dslParser) parseHalo(fields []string) error {
	if len(fields) < 6 {
		return fmt.Errorf("invalid halo spec: needs bundle side step_offset dim amount")
	}
	idx := bundleIndex(p.d, fields[1])
	if idx < 0 {
		return fmt.Errorf("halo references undefined bundle %q", fields[1])
	}
	var leftSide bool
	switch fields[2] {
	case "left":
		leftSide = true
	case "right":
		leftSide = false
	default:
		return fmt.Errorf("invalid halo side %q: want left or right", fields[2])
	}
	stepOffset, err := strconv.ParseInt(fields[3], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid step offset %q: %w", fields[3], err)
	}
	amount, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid halo amount %q: %w", fields[5], err)
	}
	p.d.Bundles[idx].Halos = append(p.d.Bundles[idx].Halos, descriptor.HaloRequirement{
		Stage: fields[1], LeftSide: leftSide, StepOffset: int32(stepOffset), DimName: fields[4], Amount: amount,
	})
	return nil
}

func (p *dslParser) parsePack(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("invalid pack spec: needs name and bundle list")
	}
	p.d.Packs = append(p.d.Packs, descriptor.PackDescriptor{Name: fields[1], BundleNames: splitCSV(fields[2])})
	return nil
}

// mergeHalos collapses duplicate (stage, side, step-offset, dim) halo
// entries within a bundle to their monotonic maximum, mirroring the
// runtime's own halo-accumulation rule in grid.Var.UpdateHalo.
func mergeHalos(d *descriptor.Descriptor) {
	for bi := range d.Bundles {
		type key struct {
			side   bool
			offset int32
			dim    string
		}
		merged := make(map[key]int64)
		var order []key
		for _, h := range d.Bundles[bi].Halos {
			k := key{h.LeftSide, h.StepOffset, h.DimName}
			if _, ok := merged[k]; !ok {
				order = append(order, k)
			}
			if h.Amount > merged[k] {
				merged[k] = h.Amount
			}
		}
		halos := make([]descriptor.HaloRequirement, 0, len(order))
		for _, k := range order {
			halos = append(halos, descriptor.HaloRequirement{
				Stage: d.Bundles[bi].Name, LeftSide: k.side, StepOffset: k.offset, DimName: k.dim, Amount: merged[k],
			})
		}
		d.Bundles[bi].Halos = halos
	}
}

// validateDescriptor checks referential integrity: every pack names bundles
// that exist, bundle names are unique, and every bundle declares both entry
// point symbols.
func validateDescriptor(d *descriptor.Descriptor) error {
	if len(d.Bundles) == 0 {
		return fmt.Errorf("no bundles declared")
	}

	seen := make(map[string]bool, len(d.Bundles))
	for _, b := range d.Bundles {
		if seen[b.Name] {
			return fmt.Errorf("duplicate bundle name %q", b.Name)
		}
		seen[b.Name] = true
		if b.ScalarSymbol == "" || b.ClusterSymbol == "" {
			return fmt.Errorf("bundle %q missing an entry point symbol", b.Name)
		}
		if len(b.OutputVars) == 0 {
			return fmt.Errorf("bundle %q declares no output vars", b.Name)
		}
	}

	for _, p := range d.Packs {
		if len(p.BundleNames) == 0 {
			return fmt.Errorf("pack %q has no bundles", p.Name)
		}
		for _, bn := range p.BundleNames {
			if !seen[bn] {
				return fmt.Errorf("pack %q references undefined bundle %q", p.Name, bn)
			}
		}
	}

	return nil
}
