package mandel

import (
	"errors"
	"fmt"
	"strings"

	"uk.ac.bris.cs/mandelbrot/comm"
)

var (
	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("mandel: invalid params")
	// ErrProtocol reports mismatched participation in a collection step.
	ErrProtocol = comm.ErrProtocol
	// ErrIncomplete reports an image matrix with unassembled rows at output time.
	ErrIncomplete = errors.New("mandel: image matrix incomplete")
)

// Root is the rank of the coordinating process.
const Root = 0

// MaxPixels bounds height*width so the root's matrix can always be allocated.
const MaxPixels = 1 << 28

// Bounds is the window of the complex plane covered by the image.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// DefaultBounds is the fixed render window.
var DefaultBounds = Bounds{MinX: -2.1, MaxX: 0.7, MinY: -1.25, MaxY: 1.25}

// Pattern selects how rows travel from their owners to the coordinator.
type Pattern int

const (
	// Gather runs one collective gather per row on every rank.
	Gather Pattern = iota
	// SendRecv sends owned rows point to point and drains them at the root in row order.
	SendRecv
)

func (p Pattern) String() string {
	switch p {
	case Gather:
		return "gather"
	case SendRecv:
		return "sendrecv"
	default:
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
}

// ParsePattern accepts "gather" and "sendrecv" (or "send-recv", "p2p").
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gather", "a":
		return Gather, nil
	case "sendrecv", "send-recv", "p2p", "b":
		return SendRecv, nil
	}
	return 0, fmt.Errorf("%w: unknown pattern %q", ErrInvalidParams, s)
}

// Params is identical on every rank for the lifetime of one render.
type Params struct {
	ImageHeight int
	ImageWidth  int
	Bounds      Bounds
	Strategy    Strategy
	Pattern     Pattern
	// Kernel defaults to Escape when nil.
	Kernel Kernel
}

// Validate checks dimensions and fills in defaults.
func (p *Params) Validate() error {
	if p.ImageHeight <= 0 || p.ImageWidth <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrInvalidParams, p.ImageHeight, p.ImageWidth)
	}
	if p.ImageHeight > MaxPixels/p.ImageWidth {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidParams, p.ImageHeight, p.ImageWidth, MaxPixels)
	}
	if p.Bounds == (Bounds{}) {
		p.Bounds = DefaultBounds
	}
	if p.Bounds.MaxX <= p.Bounds.MinX || p.Bounds.MaxY <= p.Bounds.MinY {
		return fmt.Errorf("%w: empty window %+v", ErrInvalidParams, p.Bounds)
	}
	if p.Strategy == nil {
		p.Strategy = Cyclic{}
	}
	if p.Pattern != Gather && p.Pattern != SendRecv {
		return fmt.Errorf("%w: %v", ErrInvalidParams, p.Pattern)
	}
	if p.Kernel == nil {
		p.Kernel = Escape
	}
	return nil
}

// Signature identifies the parameters every rank must agree on. Transports compare
// signatures on startup so a rank launched with different arguments is rejected
// rather than deadlocking the collection loop.
func (p Params) Signature() string {
	strategy := "cyclic"
	if p.Strategy != nil {
		strategy = p.Strategy.Name()
	}
	return fmt.Sprintf("%dx%d/%s/%s/%g,%g,%g,%g",
		p.ImageHeight, p.ImageWidth, strategy, p.Pattern,
		p.Bounds.MinX, p.Bounds.MaxX, p.Bounds.MinY, p.Bounds.MaxY)
}

// grid holds the derived step sizes of a validated Params.
type grid struct {
	height, width int
	minX, minY    float64
	dx, dy        float64
}

func newGrid(p Params) grid {
	return grid{
		height: p.ImageHeight,
		width:  p.ImageWidth,
		minX:   p.Bounds.MinX,
		minY:   p.Bounds.MinY,
		dx:     (p.Bounds.MaxX - p.Bounds.MinX) / float64(p.ImageWidth),
		dy:     (p.Bounds.MaxY - p.Bounds.MinY) / float64(p.ImageHeight),
	}
}

// y returns the imaginary ordinate of a row.
func (g grid) y(row int) float64 {
	return g.minY + float64(row)*g.dy
}

// x returns the real abscissa of a column.
func (g grid) x(col int) float64 {
	return g.minX + float64(col)*g.dx
}
