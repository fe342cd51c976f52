// Package stencilkit implements the runtime kernel of a distributed stencil
// execution engine: domain decomposition across MPI-style ranks, a
// region/block loop nest (mini-block and sub-block sizes are derived but
// not traversed), temporal
// wavefront/blocking, and the halo exchange that keeps neighboring ranks'
// ghost cells in sync between steps.
//
// # Architecture Overview
//
// The engine consists of several layers:
//
//   - grid: per-rank Var storage — halos, padding, vector folding, dirty flags
//   - rankgrid: the MPI-style rank environment and its pluggable Transport
//   - bbox: per-bundle valid-domain discovery and non-rectangular decomposition
//   - loopnest: the loop nest driver and wavefront/temporal-blocking geometry
//   - dispatch: bundle dispatch to code-generator entry points
//   - haloexchange: the four-phase post/pack-send/wait-unpack/wait protocol
//   - settings: sizing and geometry derivation from a tuning config
//   - solution: the orchestrator tying the above into prepare/run/end
//   - descriptor: the binary .skd format a compiled solution ships as
//   - compiler: the .sks DSL compiler producing a .skd descriptor
//
// # Performance Characteristics
//
// The engine favors:
//
//   - Pre-planned memory: every Var's storage is bound once before stepping
//   - SIMD-friendly layout: vector folding and a per-architecture lane-copy
//     hook (a plain copy on every architecture; no assembly is shipped)
//   - Overlap-friendly halo exchange: dirty-flag tracking skips unneeded sends
//   - Temporal blocking: fewer halo exchanges per step at the cost of a wider
//     spatial halo, trading network rounds for cache reuse
//
// # Basic Usage
//
//	// Compile a solution spec
//	stencilc solution.sks solution.skd
//
//	// Run it across simulated ranks
//	stencilctl run --config tune.yaml --domain x=512,y=512 --ranks 4 solution.skd
//
// # Package Structure
//
//   - core: alignment and wire-framing primitives
//   - dim: dimension kinds and coordinate/layout algebra
//   - kerr: typed error kinds shared across the engine
//   - internal/cli: the stencilctl command tree
//   - cmd: command-line tools (stencilc, stencilctl, stencilperf)
package stencilkit
