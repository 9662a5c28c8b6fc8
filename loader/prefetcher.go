package loader

import (
	"context"
	"sync"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/metrics"
	pkgerrors "github.com/pkg/errors"
)

// DefaultPrefetchDepth is the number of batches a Prefetcher loads ahead by default
const DefaultPrefetchDepth = 2

// ErrNothingScheduled is returned by Prefetcher.Next when no batch has been scheduled
var ErrNothingScheduled = pkgerrors.New("no batch has been scheduled")

// ErrQueueFull is returned by Prefetcher.Schedule when depth batches are already in flight
var ErrQueueFull = pkgerrors.New("prefetch queue is full")

// LoadFunc loads the batch for a list of ids
type LoadFunc func(ctx context.Context, ids []cassdl.RowID) (*cassdl.Batch, error)

type pendingBatch struct {
	ids    []cassdl.RowID
	done   chan struct{}
	batch  *cassdl.Batch
	err    error
	cancel context.CancelFunc
}

// Prefetcher loads batches in the background, in the order they were scheduled. Every
// scheduled load owns its own ids and context, so dropping one never affects another.
type Prefetcher struct {
	lock   sync.Mutex
	load   LoadFunc
	depth  int
	queue  []*pendingBatch
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPrefetcher creates a Prefetcher which keeps at most depth loads in flight. Loads are
// cancelled when ctx is.
func NewPrefetcher(ctx context.Context, load LoadFunc, depth int) *Prefetcher {
	if depth < 1 {
		depth = DefaultPrefetchDepth
	}
	pctx, cancel := context.WithCancel(ctx)
	return &Prefetcher{load: load, depth: depth, ctx: pctx, cancel: cancel}
}

// Schedule starts loading the batch for ids
func (p *Prefetcher) Schedule(ids []cassdl.RowID) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.ctx.Err(); err != nil {
		return err
	}
	if len(p.queue) >= p.depth {
		return ErrQueueFull
	}
	fctx, cancel := context.WithCancel(p.ctx)
	pb := &pendingBatch{
		ids:    append([]cassdl.RowID(nil), ids...),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	p.queue = append(p.queue, pb)
	go func() {
		defer close(pb.done)
		pb.batch, pb.err = p.load(fctx, pb.ids)
	}()
	return nil
}

// Pending returns the number of scheduled batches not yet consumed
func (p *Prefetcher) Pending() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.queue)
}

// Full returns true iff no more batches may be scheduled
func (p *Prefetcher) Full() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.queue) >= p.depth
}

// Next waits for the oldest scheduled batch and returns it
func (p *Prefetcher) Next(ctx context.Context) (*cassdl.Batch, error) {
	p.lock.Lock()
	if len(p.queue) == 0 {
		p.lock.Unlock()
		return nil, ErrNothingScheduled
	}
	pb := p.queue[0]
	p.lock.Unlock()

	select {
	case <-pb.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.lock.Lock()
	if len(p.queue) > 0 && p.queue[0] == pb {
		p.queue = p.queue[1:]
	}
	p.lock.Unlock()
	pb.cancel()
	return pb.batch, pb.err
}

// Ignore drops the oldest scheduled batch without waiting for it. It returns false if
// nothing was scheduled.
func (p *Prefetcher) Ignore() bool {
	p.lock.Lock()
	if len(p.queue) == 0 {
		p.lock.Unlock()
		return false
	}
	pb := p.queue[0]
	p.queue = p.queue[1:]
	p.lock.Unlock()
	pb.cancel()
	<-pb.done
	metrics.CounterPrefetchDiscarded.Inc()
	return true
}

// Reset drops every scheduled batch and waits for in-flight loads to stop
func (p *Prefetcher) Reset() {
	p.lock.Lock()
	queue := p.queue
	p.queue = nil
	p.lock.Unlock()
	for _, pb := range queue {
		pb.cancel()
	}
	for _, pb := range queue {
		<-pb.done
	}
	if len(queue) > 0 {
		metrics.CounterPrefetchDiscarded.Add(float64(len(queue)))
	}
}

// Close resets this Prefetcher and refuses further scheduling
func (p *Prefetcher) Close() {
	p.cancel()
	p.Reset()
}
