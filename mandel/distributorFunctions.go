package mandel

import (
	"context"
	"fmt"
	"time"
)

// sequentialRows computes every row in place; a group of one needs no messages.
func (d *distributor) sequentialRows() error {
	buf := make([]int, d.grid.width)
	for row := 0; row < d.grid.height; row++ {
		buf = computeRow(d.grid, d.params.Kernel, row, buf)
		if err := d.assemble(row, buf); err != nil {
			return err
		}
	}
	return nil
}

// gatherRows runs one gather per row on every rank. Non-owners contribute a zeroed
// placeholder of the same width; the root keeps only the owner's slot.
func (d *distributor) gatherRows(ctx context.Context) error {
	placeholder := make([]int, d.grid.width)
	buf := make([]int, d.grid.width)
	d.emit(ctx, StateChange{d.rank, Collecting})
	for row := 0; row < d.grid.height; row++ {
		contribution := placeholder
		if d.part.Owns(row, d.rank) {
			buf = computeRow(d.grid, d.params.Kernel, row, buf)
			contribution = buf
		}
		parts, err := d.comm.Gather(ctx, Root, row, contribution)
		if err != nil {
			return fmt.Errorf("mandel: gather row %d: %w", row, err)
		}
		if d.rank != Root {
			continue
		}
		if len(parts) != d.size {
			return fmt.Errorf("%w: gather row %d returned %d contributions, want %d", ErrProtocol, row, len(parts), d.size)
		}
		if err := d.assemble(row, parts[d.part.Owner(row)]); err != nil {
			return err
		}
	}
	return nil
}

// sendRows computes the rows this rank owns and sends each to the root tagged with its index.
func (d *distributor) sendRows(ctx context.Context) error {
	buf := make([]int, d.grid.width)
	for row := 0; row < d.grid.height; row++ {
		if !d.part.Owns(row, d.rank) {
			continue
		}
		buf = computeRow(d.grid, d.params.Kernel, row, buf)
		if err := d.comm.Send(ctx, Root, row, buf); err != nil {
			return fmt.Errorf("mandel: send row %d: %w", row, err)
		}
		d.log.Debug("row sent", "row", row)
	}
	return nil
}

// drainRows assembles rows in index order at the root. Rows owned by the root are
// computed locally; every other row is received from the rank the partition names,
// so a receive is never posted against the wrong sender.
func (d *distributor) drainRows(ctx context.Context) error {
	buf := make([]int, d.grid.width)
	d.emit(ctx, StateChange{d.rank, Collecting})
	for row := 0; row < d.grid.height; row++ {
		owner := d.part.Owner(row)
		if owner == d.rank {
			buf = computeRow(d.grid, d.params.Kernel, row, buf)
			if err := d.assemble(row, buf); err != nil {
				return err
			}
			continue
		}
		got, err := d.comm.Recv(ctx, owner, row)
		if err != nil {
			return fmt.Errorf("mandel: receive row %d from rank %d: %w", row, owner, err)
		}
		if err := d.assemble(row, got); err != nil {
			return err
		}
	}
	return nil
}

// assemble writes a row into the root's matrix and reports progress.
func (d *distributor) assemble(row int, buf []int) error {
	if err := d.matrix.SetRow(row, buf); err != nil {
		return err
	}
	d.log.Debug("row assembled", "row", row)
	if n := d.matrix.Assembled(); n == d.grid.height || time.Since(d.lastReport) >= progressInterval {
		d.lastReport = time.Now()
		rate := d.meter.Get(n)
		d.log.Info("collection progress", "rows", n, "of", d.grid.height, "rows_per_sec", rate)
		if d.events != nil {
			// progress is best effort; never stall collection on a slow reader
			select {
			case d.events <- RowsAssembled{Rank: d.rank, Rows: n, RowsPerSecond: rate}:
			default:
			}
		}
	}
	return nil
}

// writeImage hands the complete matrix to the output.
func (d *distributor) writeImage(ctx context.Context, out Output) error {
	if !d.matrix.Complete() {
		missing := d.matrix.Missing()
		return fmt.Errorf("%w: %d rows missing, first %d", ErrIncomplete, len(missing), missing[0])
	}
	d.emit(ctx, StateChange{d.rank, Rendering})
	if out == nil {
		return nil
	}
	if err := out.Write(d.matrix); err != nil {
		return fmt.Errorf("mandel: write image: %w", err)
	}
	filename := ""
	if n, ok := out.(interface{ Filename() string }); ok {
		filename = n.Filename()
	}
	d.log.Info("image written", "file", filename)
	d.emit(ctx, ImageOutputComplete{Rank: d.rank, Filename: filename})
	return nil
}

func (d *distributor) emit(ctx context.Context, e Event) {
	if d.events == nil {
		return
	}
	select {
	case d.events <- e:
	case <-ctx.Done():
	}
}
