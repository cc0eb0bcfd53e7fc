package comm

import (
	"context"
	"fmt"
	"sync"
)

// DefaultCapacity bounds each rank's inbox in a World.
const DefaultCapacity = 64

// World is a group of ranks living in one process. Ranks share nothing but the
// channels between them: every Send and Gather contribution is copied on entry.
type World struct {
	size    int
	p2p     []*Mailbox
	gather  []*Mailbox
	barrier *barrier
	once    sync.Once
}

// NewWorld creates a group of size ranks.
func NewWorld(size int) *World {
	return NewWorldCapacity(size, DefaultCapacity)
}

// NewWorldCapacity creates a group whose inboxes buffer capacity messages.
func NewWorldCapacity(size, capacity int) *World {
	if size < 1 {
		size = 1
	}
	w := &World{
		size:    size,
		p2p:     make([]*Mailbox, size),
		gather:  make([]*Mailbox, size),
		barrier: newBarrier(size),
	}
	for r := 0; r < size; r++ {
		w.p2p[r] = NewMailbox(capacity)
		w.gather[r] = NewMailbox(capacity)
	}
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Rank returns the communicator of rank r. It panics if r is out of range.
func (w *World) Rank(r int) Comm {
	if err := CheckRank(r, w.size); err != nil {
		panic(fmt.Sprintf("comm: world rank %d of %d", r, w.size))
	}
	return &local{world: w, rank: r}
}

// Shutdown closes every mailbox, failing blocked operations with ErrClosed.
func (w *World) Shutdown() {
	w.once.Do(func() {
		for r := 0; r < w.size; r++ {
			w.p2p[r].Close()
			w.gather[r].Close()
		}
		w.barrier.close()
	})
}

type local struct {
	world  *World
	rank   int
	closed bool
}

func (l *local) Rank() int { return l.rank }

func (l *local) Size() int { return l.world.size }

func (l *local) Send(ctx context.Context, dest, tag int, row []int) error {
	if l.closed {
		return ErrClosed
	}
	if err := CheckRank(dest, l.world.size); err != nil {
		return fmt.Errorf("comm: send to %d: %w", dest, err)
	}
	return l.world.p2p[dest].Deliver(ctx, Message{Src: l.rank, Tag: tag, Row: Clone(row)})
}

func (l *local) Recv(ctx context.Context, src, tag int) ([]int, error) {
	if l.closed {
		return nil, ErrClosed
	}
	if err := CheckRank(src, l.world.size); err != nil {
		return nil, fmt.Errorf("comm: receive from %d: %w", src, err)
	}
	m, err := l.world.p2p[l.rank].Take(ctx, src, tag)
	if err != nil {
		return nil, err
	}
	return m.Row, nil
}

func (l *local) Gather(ctx context.Context, root, tag int, row []int) ([][]int, error) {
	if l.closed {
		return nil, ErrClosed
	}
	if err := CheckRank(root, l.world.size); err != nil {
		return nil, fmt.Errorf("comm: gather at %d: %w", root, err)
	}
	if l.rank != root {
		return nil, l.world.gather[root].Deliver(ctx, Message{Src: l.rank, Tag: tag, Row: Clone(row)})
	}
	return CollectGather(ctx, l.world.gather[root], l.rank, l.world.size, tag, row)
}

func (l *local) Barrier(ctx context.Context) error {
	if l.closed {
		return ErrClosed
	}
	return l.world.barrier.wait(ctx)
}

func (l *local) Close() error {
	l.closed = true
	return nil
}

// CollectGather assembles one gather step at root from a mailbox fed by the
// other ranks. The root's own contribution is copied in directly.
func CollectGather(ctx context.Context, mb *Mailbox, root, size, tag int, own []int) ([][]int, error) {
	parts := make([][]int, size)
	parts[root] = Clone(own)
	for src := 0; src < size; src++ {
		if src == root {
			continue
		}
		m, err := mb.TakeNext(ctx, src, tag)
		if err != nil {
			return nil, err
		}
		parts[src] = m.Row
	}
	return parts, nil
}

// barrier is a reusable rendezvous for a fixed number of parties.
type barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	release chan struct{}
	done    chan struct{}
}

func newBarrier(parties int) *barrier {
	return &barrier{
		parties: parties,
		release: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.release = make(chan struct{})
		close(release)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *barrier) close() {
	close(b.done)
}
