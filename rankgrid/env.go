// Package rankgrid implements the MPI-style rank environment: rank
// coordinates, overall-domain accumulation, the 3^D neighborhood table, and
// a pluggable Transport the halo exchanger sends buffers over. Grounded on
// the teacher's model.Node.Topo fixed neighbor-index arrays, generalized
// from graph-node topology to rank-grid topology.
package rankgrid

import (
	"context"
	"sort"

	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/kerr"
)

// Transport is the message-passing abstraction the Env and the halo
// exchanger use to move buffers between ranks. A single-process transport
// (InProcTransport) lets tests and single-rank runs exercise the full
// protocol without a real MPI runtime.
type Transport interface {
	Rank() int
	Size() int
	// Barrier blocks until every rank has called Barrier.
	Barrier(ctx context.Context) error
	// Broadcast sends data from root to every rank and returns root's data
	// on every rank, including root itself.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)
	Isend(ctx context.Context, to int, tag int, data []byte) (Request, error)
	Irecv(ctx context.Context, from int, tag int, buf []byte) (Request, error)
}

// Request represents an outstanding non-blocking send or receive.
type Request interface {
	Wait(ctx context.Context) ([]byte, error)
	Test() (done bool, data []byte, err error)
}

// Neighbor records one rank within Manhattan distance 1 in every dim.
type Neighbor struct {
	Rank            int
	Coords          []int64
	Offset          []int64 // relative offset in {-1,0,1}^D, excluding all-zero
	ManDist         int64
	HasAllVlenMults bool
}

// Env is one rank's view of the rank grid: its coordinates, the overall
// domain size, and its neighborhood.
type Env struct {
	transport Transport

	domainDims []dim.Dim
	nranks     map[string]int64
	myCoords   map[string]int64

	overallDomain     map[string]int64
	rankDomain        map[string]int64
	rankDomainOffset  map[string]int64

	neighbors      []Neighbor
	neighborByOff  map[string]*Neighbor // key: encoded offset tuple

	initialized bool
}

// NewEnv builds an Env bound to transport, over the given domain dims.
func NewEnv(transport Transport, domainDims []dim.Dim) *Env {
	return &Env{
		transport:  transport,
		domainDims: append([]dim.Dim(nil), domainDims...),
		nranks:     make(map[string]int64),
		myCoords:   make(map[string]int64),
	}
}

// Init performs the MPI-analog startup barrier. This is always called,
// even for a single-rank run, matching the reference implementation's
// initEnv, which calls a global barrier unconditionally after transport
// init.
func (e *Env) Init(ctx context.Context) error {
	if err := e.transport.Barrier(ctx); err != nil {
		return kerr.Wrap(kerr.MpiFailure, "global barrier during env init", err)
	}
	e.initialized = true
	return nil
}

// SetupRank verifies the rank-grid shape, derives this rank's coordinates
// (from nranks and either explicit coords or unlayout(my_rank)), and builds
// the neighborhood table. rankDomainSizes gives this rank's own domain size
// per dim, needed to accumulate overall_domain.
func (e *Env) SetupRank(ctx context.Context, nranks map[string]int64, coords map[string]int64, rankDomainSizes map[string]int64) error {
	if !e.initialized {
		return kerr.New(kerr.NotPrepared, "Env.Init must run before SetupRank")
	}

	var product int64 = 1
	for _, d := range e.domainDims {
		n, ok := nranks[d.Name]
		if !ok || n <= 0 {
			return kerr.Newf(kerr.BadRankLayout, "nranks missing or non-positive for dim %q", d.Name)
		}
		product *= n
	}
	if product != int64(e.transport.Size()) {
		return kerr.Newf(kerr.BadRankLayout, "product of nranks %d does not match rank count %d", product, e.transport.Size())
	}
	e.nranks = cloneInt64Map(nranks)

	if coords != nil {
		e.myCoords = cloneInt64Map(coords)
	} else {
		sizes := dim.NewTuple(e.domainDims...)
		for _, d := range e.domainDims {
			sizes.SetVal(d.Name, e.nranks[d.Name])
		}
		pt, err := dim.Unlayout(int64(e.transport.Rank()), sizes)
		if err != nil {
			return kerr.Wrap(kerr.BadRankLayout, "deriving rank coordinates", err)
		}
		e.myCoords = make(map[string]int64, len(e.domainDims))
		for _, d := range e.domainDims {
			e.myCoords[d.Name] = pt.MustLookup(d.Name)
		}
	}

	allCoords, allDomains, err := e.broadcastAll(ctx, rankDomainSizes)
	if err != nil {
		return err
	}

	if err := e.checkUniqueCoords(allCoords); err != nil {
		return err
	}
	if err := e.accumulateOverallDomain(allCoords, allDomains); err != nil {
		return err
	}
	if err := e.buildNeighborhood(allCoords, allDomains, rankDomainSizes); err != nil {
		return err
	}
	return nil
}

func cloneInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// rankInfo is what every rank broadcasts about itself during setup.
type rankInfo struct {
	rank   int
	coords map[string]int64
	domain map[string]int64
}

// broadcastAll gathers every rank's coordinates and domain sizes via one
// Broadcast call per rank, in rank order. A real MPI binding would use
// Allgather; the Transport abstraction only requires Broadcast, so setup
// loops over ranks the way the teacher's runtime loops over worker slots
// issuing repeated round-trips instead of one bulk call.
func (e *Env) broadcastAll(ctx context.Context, myDomain map[string]int64) ([]rankInfo, map[int]map[string]int64, error) {
	size := e.transport.Size()
	infos := make([]rankInfo, size)
	domains := make(map[int]map[string]int64, size)

	payload := encodeRankInfo(e.myCoords, myDomain, e.domainDims)
	for root := 0; root < size; root++ {
		var data []byte
		if root == e.transport.Rank() {
			data = payload
		}
		received, err := e.transport.Broadcast(ctx, root, data)
		if err != nil {
			return nil, nil, kerr.Wrap(kerr.MpiFailure, "broadcasting rank coordinates", err)
		}
		coords, dom, err := decodeRankInfo(received, e.domainDims)
		if err != nil {
			return nil, nil, kerr.Wrap(kerr.MpiFailure, "decoding broadcast rank info", err)
		}
		infos[root] = rankInfo{rank: root, coords: coords, domain: dom}
		domains[root] = dom
	}
	return infos, domains, nil
}

func (e *Env) checkUniqueCoords(infos []rankInfo) error {
	for i := range infos {
		for j := i + 1; j < len(infos); j++ {
			if manhattan(infos[i].coords, infos[j].coords, e.domainDims) == 0 {
				return kerr.Newf(kerr.BadRankLayout, "ranks %d and %d have identical coordinates", infos[i].rank, infos[j].rank)
			}
		}
	}
	return nil
}

func manhattan(a, b map[string]int64, dims []dim.Dim) int64 {
	var total int64
	for _, d := range dims {
		delta := a[d.Name] - b[d.Name]
		if delta < 0 {
			delta = -delta
		}
		total += delta
	}
	return total
}

func (e *Env) accumulateOverallDomain(infos []rankInfo, domains map[int]map[string]int64) error {
	e.overallDomain = make(map[string]int64)
	e.rankDomain = make(map[string]int64)
	e.rankDomainOffset = make(map[string]int64)

	for _, d := range e.domainDims {
		var overall int64
		var offset int64
		for _, info := range infos {
			sameOthers := true
			for _, od := range e.domainDims {
				if od.Name == d.Name {
					continue
				}
				if info.coords[od.Name] != e.myCoords[od.Name] {
					sameOthers = false
					break
				}
			}
			if !sameOthers {
				continue
			}
			sz := info.domain[d.Name]
			overall += sz
			if info.coords[d.Name] < e.myCoords[d.Name] {
				offset += sz
			}
		}
		e.overallDomain[d.Name] = overall
		e.rankDomainOffset[d.Name] = offset
		e.rankDomain[d.Name] = e.myDomainSizeFor(d.Name, infos)
	}
	return nil
}

func (e *Env) myDomainSizeFor(dimName string, infos []rankInfo) int64 {
	for _, info := range infos {
		if sameCoords(info.coords, e.myCoords, e.domainDims) {
			return info.domain[dimName]
		}
	}
	return 0
}

func sameCoords(a, b map[string]int64, dims []dim.Dim) bool {
	for _, d := range dims {
		if a[d.Name] != b[d.Name] {
			return false
		}
	}
	return true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (e *Env) buildNeighborhood(infos []rankInfo, domains map[int]map[string]int64, myDomain map[string]int64) error {
	e.neighbors = nil
	e.neighborByOff = make(map[string]*Neighbor)

	for _, info := range infos {
		if info.rank == e.transport.Rank() {
			continue
		}
		var maxAbs int64
		offsets := make([]int64, len(e.domainDims))
		for i, d := range e.domainDims {
			delta := info.coords[d.Name] - e.myCoords[d.Name]
			if delta > 1 {
				delta = 2 // force out of range marker below
			} else if delta < -1 {
				delta = -2
			}
			offsets[i] = delta
			a := abs(info.coords[d.Name] - e.myCoords[d.Name])
			if a > maxAbs {
				maxAbs = a
			}
			// in-line alignment check: if this rank differs from me only in
			// dim d (an in-line neighbor), every other dim's domain size must
			// match mine exactly.
			inline := true
			for j, od := range e.domainDims {
				if j == i {
					continue
				}
				if info.coords[od.Name] != e.myCoords[od.Name] {
					inline = false
					break
				}
			}
			if inline && a >= 1 {
				for _, od := range e.domainDims {
					if od.Name == d.Name {
						continue
					}
					if info.domain[od.Name] != myDomain[od.Name] {
						return kerr.Newf(kerr.MisalignedRanks, "rank %d misaligned with rank %d on dim %q", info.rank, e.transport.Rank(), od.Name)
					}
				}
			}
		}
		if maxAbs > 1 {
			continue
		}
		n := Neighbor{
			Rank:    info.rank,
			Coords:  coordsSlice(info.coords, e.domainDims),
			Offset:  offsets,
			ManDist: manhattan(info.coords, e.myCoords, e.domainDims),
		}
		n.HasAllVlenMults = true
		for _, d := range e.domainDims {
			if d.Vlen > 1 && info.domain[d.Name]%int64(d.Vlen) != 0 {
				n.HasAllVlenMults = false
				break
			}
		}
		e.neighbors = append(e.neighbors, n)
		e.neighborByOff[offsetKey(offsets)] = &e.neighbors[len(e.neighbors)-1]
	}

	sort.Slice(e.neighbors, func(i, j int) bool { return e.neighbors[i].Rank < e.neighbors[j].Rank })
	return nil
}

func coordsSlice(coords map[string]int64, dims []dim.Dim) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = coords[d.Name]
	}
	return out
}

func offsetKey(offsets []int64) string {
	b := make([]byte, 0, len(offsets)*2)
	for _, o := range offsets {
		b = append(b, byte(o+1), ',')
	}
	return string(b)
}

// NeighborAt returns the neighbor at the given relative offset, or nil if
// there is none (the rank is at a domain edge in that direction).
func (e *Env) NeighborAt(offset []int64) *Neighbor {
	return e.neighborByOff[offsetKey(offset)]
}

// Neighbors returns every recorded neighbor, sorted by rank.
func (e *Env) Neighbors() []Neighbor { return e.neighbors }

// MyRank returns this process's rank id.
func (e *Env) MyRank() int { return e.transport.Rank() }

// NumRanks returns the total rank count.
func (e *Env) NumRanks() int { return e.transport.Size() }

// MyCoords returns this rank's coordinates.
func (e *Env) MyCoords() map[string]int64 { return cloneInt64Map(e.myCoords) }

// OverallDomain returns the accumulated overall problem size per dim.
func (e *Env) OverallDomain() map[string]int64 { return cloneInt64Map(e.overallDomain) }

// RankDomainOffset returns this rank's global offset per dim.
func (e *Env) RankDomainOffset() map[string]int64 { return cloneInt64Map(e.rankDomainOffset) }

// Transport exposes the underlying transport for the halo exchanger.
func (e *Env) Transport() Transport { return e.transport }
