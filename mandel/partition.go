package mandel

import (
	"fmt"
	"strings"
)

// Strategy decides which rank owns a row. Owner must be a pure function of its
// arguments so every rank reaches the same answer without communicating.
type Strategy interface {
	Owner(row, height, size int) int
	Name() string
}

// Block assigns contiguous bands of ceil(height/size) rows to ranks in order.
// When height is not a multiple of size the last band is short, and trailing
// ranks may own nothing at all.
type Block struct{}

func (Block) Owner(row, height, size int) int {
	band := (height + size - 1) / size
	return row / band
}

func (Block) Name() string { return "block" }

// Cyclic deals rows round robin starting at rank 0: rank r owns row i iff (i-r) mod size == 0.
type Cyclic struct{}

func (Cyclic) Owner(row, height, size int) int {
	return row % size
}

func (Cyclic) Name() string { return "cyclic" }

// ParseStrategy accepts "block" and "cyclic", plus their historical names "joe" and "susie".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block", "joe":
		return Block{}, nil
	case "cyclic", "susie":
		return Cyclic{}, nil
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidParams, s)
}

// Partition binds a strategy to one render's height and group size.
type Partition struct {
	Strategy Strategy
	Height   int
	Size     int
}

// NewPartition returns the partition used by every rank of a render.
func NewPartition(s Strategy, height, size int) Partition {
	return Partition{Strategy: s, Height: height, Size: size}
}

// Owner returns the rank that computes row.
func (p Partition) Owner(row int) int {
	return p.Strategy.Owner(row, p.Height, p.Size)
}

// Owns reports whether rank computes row.
func (p Partition) Owns(row, rank int) bool {
	return p.Owner(row) == rank
}

// Rows lists the rows owned by rank in increasing order.
func (p Partition) Rows(rank int) []int {
	var rows []int
	for i := 0; i < p.Height; i++ {
		if p.Owns(i, rank) {
			rows = append(rows, i)
		}
	}
	return rows
}
