// Package haloexchange implements the four-phase halo exchange protocol:
// post receives, pack and send, wait and unpack, wait on sends. It consults
// a Var's dirty flags to decide whether an exchange is owed, and clears them
// once a receive completes. Grounded on the teacher's errgroup-free
// worker/channel wiring in runtime.StreamScheduler, generalized to use
// golang.org/x/sync/errgroup for the phase B/C/D fan-out this protocol needs.
package haloexchange

import (
	"context"

	"github.com/sbl8/stencilkit/core"
	"github.com/sbl8/stencilkit/grid"
	"github.com/sbl8/stencilkit/rankgrid"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/stencilkit/kerr"
)

// Side is which face of a dim a neighbor sits on relative to this rank.
type Side int

const (
	Prev Side = -1
	Same Side = 0
	Next Side = 1
)

// Slab is the element range [Begin, End) in one dim that a buffer covers.
type Slab struct {
	Begin, End int64
}

// BufferSpec describes one MPI Buffer Set entry: the var, the neighbor it
// talks to, and the per-dim slab range in the local grid to send/recv.
type BufferSpec struct {
	VarIndex    uint16
	Var         *grid.Var
	Neighbor    rankgrid.Neighbor
	SendSlab    map[string]Slab
	RecvSlab    map[string]Slab
	VecCopyOK   bool
}

// Exchanger drives the four-phase protocol for one pack step.
type Exchanger struct {
	transport rankgrid.Transport
}

// NewExchanger builds an Exchanger bound to a transport.
func NewExchanger(transport rankgrid.Transport) *Exchanger {
	return &Exchanger{transport: transport}
}

type pending struct {
	spec BufferSpec
	req  rankgrid.Request
}

// posted carries the outstanding requests across phase boundaries so
// overlap mode can run phase A/B, interior compute, then phase C/D.
type posted struct {
	recvs []pending
	sends []pending
}

// PostReceives is Phase A: issue a non-blocking receive for every spec whose
// recv slab is non-empty.
func (ex *Exchanger) PostReceives(ctx context.Context, specs []BufferSpec, t int64) (*posted, error) {
	p := &posted{}
	for _, spec := range specs {
		if slabElemCount(spec.RecvSlab) == 0 {
			continue
		}
		elemCount := slabElemCount(spec.RecvSlab)
		buf := make([]byte, core.WireHeaderSize+int(elemCount)*8)
		req, err := ex.transport.Irecv(ctx, spec.Neighbor.Rank, int(spec.VarIndex), buf)
		if err != nil {
			return nil, kerr.Wrap(kerr.MpiFailure, "posting receive", err)
		}
		p.recvs = append(p.recvs, pending{spec: spec, req: req})
	}
	return p, nil
}

// PackAndSend is Phase B: for every spec whose send slab is non-empty and
// whose var is dirty at this step, pack the slab and issue a non-blocking
// send.
func (ex *Exchanger) PackAndSend(ctx context.Context, specs []BufferSpec, t int64) (*posted, error) {
	p := &posted{}
	g, ctx := errgroup.WithContext(ctx)
	results := make([]pending, len(specs))
	active := make([]bool, len(specs))

	for i, spec := range specs {
		i, spec := i, spec
		if slabElemCount(spec.SendSlab) == 0 {
			continue
		}
		slot := spec.Var.StepSlot(t)
		if !spec.Var.IsDirty(slot) {
			continue
		}
		active[i] = true
		g.Go(func() error {
			payload, err := packSlab(spec, t)
			if err != nil {
				return err
			}
			msg := core.EncodeWireMessage(spec.VarIndex, neighborOffsetTag(spec.Neighbor), uint32(len(payload)/8), payload)
			req, err := ex.transport.Isend(ctx, spec.Neighbor.Rank, int(spec.VarIndex), msg)
			if err != nil {
				return kerr.Wrap(kerr.MpiFailure, "posting send", err)
			}
			results[i] = pending{spec: spec, req: req}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, ok := range active {
		if ok {
			p.sends = append(p.sends, results[i])
		}
	}
	return p, nil
}

func neighborOffsetTag(n rankgrid.Neighbor) int16 {
	if len(n.Offset) == 0 {
		return 0
	}
	return int16(n.Offset[0])
}

// WaitAndUnpack is Phase C: wait on every posted receive, unpack into the
// var, and mark the step slot clean.
func (ex *Exchanger) WaitAndUnpack(ctx context.Context, p *posted, t int64) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, pend := range p.recvs {
		pend := pend
		g.Go(func() error {
			data, err := pend.req.Wait(ctx)
			if err != nil {
				return kerr.Wrap(kerr.MpiFailure, "waiting on halo receive", err)
			}
			_, payload, err := core.DecodeWireMessage(data)
			if err != nil {
				return kerr.Wrap(kerr.MpiFailure, "decoding halo message", err)
			}
			if err := unpackSlab(pend.spec, payload, t); err != nil {
				return err
			}
			slot := pend.spec.Var.StepSlot(t)
			return pend.spec.Var.SetDirty(slot, false)
		})
	}
	return g.Wait()
}

// WaitOnSends is Phase D: drain outstanding sends.
func (ex *Exchanger) WaitOnSends(ctx context.Context, p *posted) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, pend := range p.sends {
		pend := pend
		g.Go(func() error {
			_, err := pend.req.Wait(ctx)
			if err != nil {
				return kerr.Wrap(kerr.MpiFailure, "waiting on halo send", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// TestOnly polls every posted receive without blocking, to drive transport
// progress during a long interior compute pass.
func (ex *Exchanger) TestOnly(p *posted) (allDone bool, err error) {
	allDone = true
	for _, pend := range p.recvs {
		done, _, e := pend.req.Test()
		if e != nil {
			return false, kerr.Wrap(kerr.MpiFailure, "test-only poll on halo receive", e)
		}
		if !done {
			allDone = false
		}
	}
	return allDone, nil
}

func slabElemCount(slab map[string]Slab) int64 {
	var n int64 = 1
	if len(slab) == 0 {
		return 0
	}
	for _, s := range slab {
		n *= s.End - s.Begin
	}
	return n
}

func packSlab(spec BufferSpec, t int64) ([]byte, error) {
	first := make(map[string]int64, len(spec.SendSlab))
	last := make(map[string]int64, len(spec.SendSlab))
	for name, s := range spec.SendSlab {
		first[name] = s.Begin
		last[name] = s.End
	}
	floats, err := spec.Var.GetElementsInSlice(first, last, t)
	if err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "packing halo slab", err)
	}
	return core.FloatsToBytes(floats), nil
}

func unpackSlab(spec BufferSpec, payload []byte, t int64) error {
	floats, err := core.BytesToFloats(payload)
	if err != nil {
		return kerr.Wrap(kerr.IoFailure, "unpacking halo payload", err)
	}
	first := make(map[string]int64, len(spec.RecvSlab))
	last := make(map[string]int64, len(spec.RecvSlab))
	for name, s := range spec.RecvSlab {
		first[name] = s.Begin
		last[name] = s.End
	}
	if err := spec.Var.SetElementsInSlice(first, last, t, floats); err != nil {
		return kerr.Wrap(kerr.IoFailure, "writing unpacked halo slab", err)
	}
	return nil
}

// ComputeSlabs derives the send/recv slab ranges for a neighbor side per the
// exchange protocol table: prev sends [first_inner, first_inner+neigh_halo)
// and receives [first_inner-my_halo, first_inner); next sends
// [last_inner-neigh_halo+1, last_inner+1) and receives
// [last_inner+1, last_inner+1+my_halo); same sends/receives the full inner
// domain.
func ComputeSlabs(side Side, firstInner, lastInner, myHalo, neighHalo int64) (send, recv Slab) {
	switch side {
	case Prev:
		send = Slab{Begin: firstInner, End: firstInner + neighHalo}
		recv = Slab{Begin: firstInner - myHalo, End: firstInner}
	case Next:
		send = Slab{Begin: lastInner - neighHalo + 1, End: lastInner + 1}
		recv = Slab{Begin: lastInner + 1, End: lastInner + 1 + myHalo}
	default:
		send = Slab{Begin: firstInner, End: lastInner + 1}
		recv = send
	}
	return send, recv
}
