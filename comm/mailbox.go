package comm

import (
	"context"
	"fmt"
	"sync"
)

type key struct {
	src, tag int
}

// Mailbox is a rank's inbox. Deliver may be called from any goroutine; Take and
// TakeNext are called only by the owning rank. Messages from one sender arrive
// in the order they were delivered.
type Mailbox struct {
	inbox chan Message
	done  chan struct{}
	once  sync.Once
	// stash holds messages read while looking for a different (src, tag)
	stash map[key][]Message
	// order keeps per-sender arrival order of stashed messages for TakeNext
	order map[int][]Message
}

// NewMailbox returns a mailbox whose inbox buffers up to capacity messages
// before Deliver blocks.
func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{
		inbox: make(chan Message, capacity),
		done:  make(chan struct{}),
		stash: make(map[key][]Message),
		order: make(map[int][]Message),
	}
}

// Deliver enqueues m, blocking while the inbox is full. It fails once the
// mailbox is closed, even if the inbox has room.
func (mb *Mailbox) Deliver(ctx context.Context, m Message) error {
	if mb.closed() {
		return ErrClosed
	}
	select {
	case mb.inbox <- m:
		return nil
	case <-mb.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbox exposes the send side of the inbox for transports that pump decoded
// messages into the mailbox from their own goroutine.
func (mb *Mailbox) Inbox() chan<- Message {
	return mb.inbox
}

// Close makes pending and future Deliver calls fail.
func (mb *Mailbox) Close() {
	mb.once.Do(func() { close(mb.done) })
}

// Take returns the first message from src with tag, stashing anything else it
// reads on the way.
func (mb *Mailbox) Take(ctx context.Context, src, tag int) (Message, error) {
	k := key{src, tag}
	if m, ok := mb.unstash(k); ok {
		return m, nil
	}
	for {
		m, err := mb.next(ctx)
		if err != nil {
			return Message{}, err
		}
		if m.Src == src && m.Tag == tag {
			return m, nil
		}
		mb.push(m)
	}
}

// TakeNext returns the next message from src and fails with ErrProtocol if it
// does not carry tag. Collective steps use it: every rank contributes to steps in
// the same order, so an unexpected tag means some rank skipped or repeated one.
func (mb *Mailbox) TakeNext(ctx context.Context, src, tag int) (Message, error) {
	if q := mb.order[src]; len(q) > 0 {
		return mb.check(mb.unstashOrdered(src), tag)
	}
	for {
		m, err := mb.next(ctx)
		if err != nil {
			return Message{}, err
		}
		if m.Src == src {
			return mb.check(m, tag)
		}
		mb.push(m)
	}
}

func (mb *Mailbox) check(m Message, tag int) (Message, error) {
	if m.Tag != tag {
		return Message{}, fmt.Errorf("%w: rank %d sent step %d while step %d was expected", ErrProtocol, m.Src, m.Tag, tag)
	}
	return m, nil
}

func (mb *Mailbox) closed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}

func (mb *Mailbox) next(ctx context.Context) (Message, error) {
	if mb.closed() {
		return Message{}, ErrClosed
	}
	select {
	case m := <-mb.inbox:
		return m, nil
	case <-mb.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (mb *Mailbox) push(m Message) {
	k := key{m.Src, m.Tag}
	mb.stash[k] = append(mb.stash[k], m)
	mb.order[m.Src] = append(mb.order[m.Src], m)
}

// unstash removes the oldest stashed message for k.
func (mb *Mailbox) unstash(k key) (Message, bool) {
	q := mb.stash[k]
	if len(q) == 0 {
		return Message{}, false
	}
	m := q[0]
	mb.dropStash(k)
	mb.dropOrdered(k)
	return m, true
}

// unstashOrdered removes the oldest stashed message from src.
func (mb *Mailbox) unstashOrdered(src int) Message {
	m := mb.order[src][0]
	k := key{m.Src, m.Tag}
	mb.dropStash(k)
	mb.dropOrdered(k)
	return m
}

func (mb *Mailbox) dropStash(k key) {
	if q := mb.stash[k]; len(q) > 1 {
		mb.stash[k] = q[1:]
	} else {
		delete(mb.stash, k)
	}
}

// dropOrdered removes the first message matching k from its sender's order queue.
func (mb *Mailbox) dropOrdered(k key) {
	q := mb.order[k.src]
	for i, m := range q {
		if m.Tag == k.tag {
			q = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(mb.order, k.src)
	} else {
		mb.order[k.src] = q
	}
}
