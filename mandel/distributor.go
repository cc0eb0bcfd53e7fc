package mandel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"uk.ac.bris.cs/mandelbrot/comm"
	"uk.ac.bris.cs/mandelbrot/util"
)

// Output consumes the assembled matrix at the root.
type Output interface {
	Write(m *Matrix) error
}

// progressInterval is how often the root reports collection progress.
var progressInterval = time.Second

type distributor struct {
	params Params
	grid   grid
	part   Partition
	comm   comm.Comm
	rank   int
	size   int
	events chan<- Event
	log    *slog.Logger

	matrix     *Matrix
	meter      *util.AvgRows
	lastReport time.Time
}

// Run renders one image. Every rank of c calls Run with identical params and walks
// the same rows through the same collective calls; only the root assembles the
// matrix and hands it to out, after every rank has reached the final barrier.
// events may be nil.
func Run(ctx context.Context, p Params, c comm.Comm, out Output, events chan<- Event) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if c.Size() < 1 || c.Rank() < 0 || c.Rank() >= c.Size() {
		return fmt.Errorf("mandel: rank %d of %d: %w", c.Rank(), c.Size(), comm.ErrRank)
	}
	d := &distributor{
		params: p,
		grid:   newGrid(p),
		part:   NewPartition(p.Strategy, p.ImageHeight, c.Size()),
		comm:   c,
		rank:   c.Rank(),
		size:   c.Size(),
		events: events,
		log:    Logger().With("rank", c.Rank()),
	}
	if d.rank == Root {
		d.matrix = NewMatrix(p.ImageHeight, p.ImageWidth)
		d.meter = util.NewAvgRows()
		d.lastReport = time.Now()
	}
	return d.run(ctx, out)
}

func (d *distributor) run(ctx context.Context, out Output) error {
	d.emit(ctx, StateChange{d.rank, Computing})
	d.log.Info("render started",
		"height", d.params.ImageHeight,
		"width", d.params.ImageWidth,
		"strategy", d.params.Strategy.Name(),
		"pattern", d.params.Pattern,
		"size", d.size,
		"owned_rows", len(d.part.Rows(d.rank)))

	var err error
	switch {
	case d.size == 1:
		err = d.sequentialRows()
	case d.params.Pattern == Gather:
		err = d.gatherRows(ctx)
	case d.rank == Root:
		err = d.drainRows(ctx)
	default:
		err = d.sendRows(ctx)
	}
	if err != nil {
		return err
	}

	if d.size > 1 {
		if err := d.comm.Barrier(ctx); err != nil {
			return fmt.Errorf("mandel: final barrier: %w", err)
		}
	}
	d.emit(ctx, StateChange{d.rank, Synchronised})

	if d.rank != Root {
		d.emit(ctx, StateChange{d.rank, Done})
		return nil
	}
	if err := d.writeImage(ctx, out); err != nil {
		return err
	}
	d.emit(ctx, StateChange{d.rank, Done})
	return nil
}
