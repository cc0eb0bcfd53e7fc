// Package comm is the process-group interface the renderer runs on: a fixed group
// of ranks that exchange row buffers only through explicit messages.
//
// Three implementations exist: World (ranks are goroutines in one process,
// connected by channels), rpccomm (ranks are processes talking net/rpc to a hub
// served by rank 0) and natscomm (ranks are processes on a NATS subject tree).
package comm

import (
	"context"
	"errors"
)

var (
	// ErrRank is returned for a rank outside [0, Size).
	ErrRank = errors.New("comm: rank out of range")
	// ErrProtocol reports mismatched participation, e.g. a gather contribution
	// tagged for a different step than the one the root is collecting.
	ErrProtocol = errors.New("comm: protocol violation")
	// ErrClosed is returned by operations on a closed communicator.
	ErrClosed = errors.New("comm: closed")
)

// Comm is one rank's view of the group. A Comm is used by a single goroutine.
//
// Buffers passed to Send and Gather are not retained after the call returns;
// the caller may reuse them. Buffers returned by Recv and Gather belong to the
// caller.
type Comm interface {
	// Rank is this member's 0-based index.
	Rank() int
	// Size is the number of ranks in the group.
	Size() int
	// Send delivers row to dest under tag.
	Send(ctx context.Context, dest, tag int, row []int) error
	// Recv blocks until a message from src with tag arrives.
	Recv(ctx context.Context, src, tag int) ([]int, error)
	// Gather is collective: every rank calls it with the same root and tag.
	// At root it returns the contributions indexed by rank; elsewhere it returns nil.
	Gather(ctx context.Context, root, tag int, row []int) ([][]int, error)
	// Barrier is collective: it returns once every rank has entered it.
	Barrier(ctx context.Context) error
	// Close releases the member's resources.
	Close() error
}

// Message is a tagged row buffer from one rank.
type Message struct {
	Src int
	Tag int
	Row []int
}

// CheckRank validates r against a group of size.
func CheckRank(r, size int) error {
	if r < 0 || r >= size {
		return ErrRank
	}
	return nil
}

// Clone copies a row so the sender keeps ownership of its buffer.
func Clone(row []int) []int {
	if row == nil {
		return nil
	}
	c := make([]int, len(row))
	copy(c, row)
	return c
}
