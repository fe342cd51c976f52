// Package settings implements sizing and geometry derivation: rounding
// user-supplied level sizes to their enclosing granularity, computing the
// wavefront/temporal-blocking shift angle, and deriving step counts and
// extensions. Grounded on the teacher's compiler.go decomposition style
// (many small single-purpose functions feeding one Finalize entry point).
package settings

import (
	"os"

	"github.com/sbl8/stencilkit/core"
	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/kerr"
	"gopkg.in/yaml.v3"
)

// LevelSizes holds one tiling level's per-dim sizes. A zero value for a dim
// takes the next finer level's size (the cluster length at the sub-block
// level) unrounded; it does not take the enclosing level's size.
type LevelSizes map[string]int64

// FileConfig is the YAML-loadable solution sizing configuration: region,
// block, mini-block, and sub-block sizes per dim, padding, thread counts,
// and ranks-per-dim.
type FileConfig struct {
	Region     LevelSizes `yaml:"region"`
	Block      LevelSizes `yaml:"block"`
	MiniBlock  LevelSizes `yaml:"mini_block"`
	SubBlock   LevelSizes `yaml:"sub_block"`
	MinPad     LevelSizes `yaml:"min_pad"`
	NumRanks   LevelSizes `yaml:"num_ranks"`
	RegionSteps int64     `yaml:"region_steps"`
	TBSteps     int64     `yaml:"tb_steps"`
	Packs       int64     `yaml:"packs"`
	ThreadDivisor int64   `yaml:"thread_divisor"`
}

// LoadFile parses a YAML sizing config from path.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading settings file", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "parsing settings yaml", err)
	}
	return &cfg, nil
}

// Geometry is the finalized, derived sizing for one solution: rounded
// level sizes plus the wavefront/temporal-block shift parameters.
type Geometry struct {
	Region, Block, MiniBlock, SubBlock LevelSizes
	Angle                              map[string]int64 // round_up(max_halo[d], vlen[d])
	TbAngle                            map[string]int64
	MbAngle                            map[string]int64
	WfSteps                            int64
	NumWfShifts                        int64
	TbSteps                            int64
	LeftWfExt, RightWfExt              map[string]int64
}

// FinalizeInput carries everything Finalize needs beyond the raw config:
// per-dim cluster granularity, max accumulated halo per dim, vlen per dim,
// rank-domain size per dim, and whether this rank is first/last in each dim.
type FinalizeInput struct {
	Dims       []dim.Dim
	MaxHalo    map[string]int64
	RankDomain map[string]int64
	IsFirst    map[string]bool
	IsLast     map[string]bool
	Packs      int64
	RegionSteps int64
	TBStepsIn  int64
}

// Finalize rounds each level's size up to the next level's granularity,
// derives the shift angle, bounds temporal-block step count, and computes
// the wavefront extension at each rank edge. Fails with DomainTooSmall if a
// multi-rank dim's rank domain can't fit the halo plus the wavefront shift.
func Finalize(cfg *FileConfig, in FinalizeInput) (*Geometry, error) {
	g := &Geometry{
		Angle:         make(map[string]int64),
		TbAngle:       make(map[string]int64),
		MbAngle:       make(map[string]int64),
		LeftWfExt:     make(map[string]int64),
		RightWfExt:    make(map[string]int64),
	}

	g.SubBlock = roundLevel(cfg.SubBlock, clusterGranularity(in.Dims))
	g.MiniBlock = roundLevel(cfg.MiniBlock, g.SubBlock)
	g.Block = roundLevel(cfg.Block, g.MiniBlock)
	g.Region = roundLevel(cfg.Region, g.Block)

	for _, d := range in.Dims {
		if d.Kind != dim.Domain {
			continue
		}
		vlen := int64(d.Vlen)
		g.Angle[d.Name] = core.RoundUpI64(in.MaxHalo[d.Name], vlen)
		if g.Block[d.Name] < g.Region[d.Name] {
			g.TbAngle[d.Name] = g.Angle[d.Name]
		}
		if g.MiniBlock[d.Name] < g.Block[d.Name] {
			g.MbAngle[d.Name] = g.Angle[d.Name]
		}
	}

	packs := in.Packs
	if packs <= 0 {
		packs = 1
	}
	g.WfSteps = maxI64(in.RegionSteps, in.TBStepsIn)
	if g.WfSteps <= 0 {
		g.WfSteps = 1
	}
	g.NumWfShifts = packs*g.WfSteps - 1
	if g.NumWfShifts < 0 {
		g.NumWfShifts = 0
	}

	g.TbSteps = boundTBSteps(in.TBStepsIn, g, in.Dims, packs)

	for _, d := range in.Dims {
		if d.Kind != dim.Domain {
			continue
		}
		if !in.IsFirst[d.Name] {
			g.LeftWfExt[d.Name] = g.NumWfShifts * g.Angle[d.Name]
		}
		if !in.IsLast[d.Name] {
			g.RightWfExt[d.Name] = g.NumWfShifts * g.Angle[d.Name]
		}
	}

	for _, d := range in.Dims {
		if d.Kind != dim.Domain {
			continue
		}
		rd, ok := in.RankDomain[d.Name]
		if !ok {
			continue
		}
		multiRank := in.IsFirst[d.Name] == false || in.IsLast[d.Name] == false
		if multiRank {
			wfShiftPts := g.NumWfShifts * g.Angle[d.Name]
			need := in.MaxHalo[d.Name] + wfShiftPts
			if rd < need {
				return nil, kerr.Newf(kerr.DomainTooSmall, "rank domain %d in dim %q below required %d (halo %d + wavefront shift %d)", rd, d.Name, need, in.MaxHalo[d.Name], wfShiftPts)
			}
		}
	}

	return g, nil
}

func clusterGranularity(dims []dim.Dim) LevelSizes {
	out := make(LevelSizes, len(dims))
	for _, d := range dims {
		if d.Kind == dim.Domain {
			out[d.Name] = int64(d.Clen)
		}
	}
	return out
}

// roundLevel rounds each entry in level up to the matching entry in
// granularity (the next finer level's sizes); a zero entry in level copies
// granularity's value unrounded.
func roundLevel(level, granularity LevelSizes) LevelSizes {
	out := make(LevelSizes, len(granularity))
	for name, gran := range granularity {
		v := level[name]
		if v == 0 {
			out[name] = gran
			continue
		}
		out[name] = core.RoundUpI64(v, gran)
	}
	return out
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// boundTBSteps applies the bound
// tb_steps <= (block[d] - vlen[d] + 2*tb_angle[d]) / (2*packs*tb_angle[d])
// per dim with a positive tb_angle, taking the min over those dims and
// wf_steps.
func boundTBSteps(tbStepsIn int64, g *Geometry, dims []dim.Dim, packs int64) int64 {
	if tbStepsIn <= 0 {
		return 0
	}
	bound := g.WfSteps
	for _, d := range dims {
		if d.Kind != dim.Domain {
			continue
		}
		angle := g.TbAngle[d.Name]
		if angle <= 0 {
			continue
		}
		block := g.Block[d.Name]
		vlen := int64(d.Vlen)
		denom := 2 * packs * angle
		if denom <= 0 {
			continue
		}
		b := (block - vlen + 2*angle) / denom
		if b < bound {
			bound = b
		}
	}
	if tbStepsIn < bound {
		return tbStepsIn
	}
	return bound
}
