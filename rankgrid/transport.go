package rankgrid

import (
	"context"
	"sync"

	"github.com/sbl8/stencilkit/kerr"
)

// InProcTransport is a Transport that connects every rank of a single
// process by buffered channels, letting tests and single-node runs exercise
// the full halo-exchange protocol without a real MPI runtime. Grounded on
// the teacher's worker-pool channel wiring in runtime.StreamScheduler, which
// connects goroutines by named channels rather than OS processes.
type InProcTransport struct {
	rank int
	size int
	bus  *transportBus
}

type transportBus struct {
	mu        sync.Mutex
	inboxes   []map[int]chan inProcMsg // inboxes[rank][tag] receives from any sender
	barrier   *sync.WaitGroup
	barrierMu sync.Mutex
	broadcast map[int]chan []byte // per-root broadcast channel, fanned out lazily
}

type inProcMsg struct {
	from int
	data []byte
}

// NewInProcCluster builds size InProcTransport handles sharing one bus, one
// per rank, indices 0..size-1.
func NewInProcCluster(size int) []*InProcTransport {
	bus := &transportBus{
		inboxes:   make([]map[int]chan inProcMsg, size),
		broadcast: make(map[int]chan []byte),
	}
	for i := range bus.inboxes {
		bus.inboxes[i] = make(map[int]chan inProcMsg)
	}
	out := make([]*InProcTransport, size)
	for i := 0; i < size; i++ {
		out[i] = &InProcTransport{rank: i, size: size, bus: bus}
	}
	return out
}

func (t *InProcTransport) Rank() int { return t.rank }
func (t *InProcTransport) Size() int { return t.size }

func (t *InProcTransport) Barrier(ctx context.Context) error {
	// A rendezvous barrier: every rank calls Done on a WaitGroup sized to
	// the cluster and then waits on it, so the last arrival releases everyone.
	t.bus.mu.Lock()
	if t.bus.barrier == nil {
		wg := &sync.WaitGroup{}
		wg.Add(t.size)
		t.bus.barrier = wg
	}
	wg := t.bus.barrier
	t.bus.mu.Unlock()

	wg.Done()
	wg.Wait()

	t.bus.mu.Lock()
	t.bus.barrier = nil
	t.bus.mu.Unlock()
	return nil
}

func (t *InProcTransport) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	t.bus.mu.Lock()
	ch, ok := t.bus.broadcast[root]
	if !ok {
		ch = make(chan []byte, t.size)
		t.bus.broadcast[root] = ch
	}
	t.bus.mu.Unlock()

	if t.rank == root {
		for i := 0; i < t.size; i++ {
			ch <- data
		}
	}

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return nil, kerr.Wrap(kerr.MpiFailure, "broadcast cancelled", ctx.Err())
	}
}

func (t *InProcTransport) inbox(tag int) chan inProcMsg {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	ch, ok := t.bus.inboxes[t.rank][tag]
	if !ok {
		ch = make(chan inProcMsg, 64)
		t.bus.inboxes[t.rank][tag] = ch
	}
	return ch
}

func (t *InProcTransport) Isend(ctx context.Context, to int, tag int, data []byte) (Request, error) {
	if to < 0 || to >= t.size {
		return nil, kerr.Newf(kerr.MpiFailure, "send target rank %d out of range", to)
	}
	target := &InProcTransport{rank: to, size: t.size, bus: t.bus}
	req := &inProcRequest{done: make(chan struct{})}
	go func() {
		target.inbox(tag) <- inProcMsg{from: t.rank, data: data}
		close(req.done)
	}()
	return req, nil
}

func (t *InProcTransport) Irecv(ctx context.Context, from int, tag int, buf []byte) (Request, error) {
	req := &inProcRequest{done: make(chan struct{})}
	ch := t.inbox(tag)
	go func() {
		select {
		case msg := <-ch:
			if from >= 0 && msg.from != from {
				req.err = kerr.Newf(kerr.MpiFailure, "received from rank %d, expected %d", msg.from, from)
			} else {
				req.data = msg.data
			}
		case <-ctx.Done():
			req.err = kerr.Wrap(kerr.MpiFailure, "receive cancelled", ctx.Err())
		}
		close(req.done)
	}()
	return req, nil
}

type inProcRequest struct {
	done chan struct{}
	data []byte
	err  error
}

func (r *inProcRequest) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, kerr.Wrap(kerr.MpiFailure, "wait cancelled", ctx.Err())
	}
}

func (r *inProcRequest) Test() (bool, []byte, error) {
	select {
	case <-r.done:
		return true, r.data, r.err
	default:
		return false, nil, nil
	}
}
