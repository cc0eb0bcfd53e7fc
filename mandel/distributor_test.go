package mandel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"uk.ac.bris.cs/mandelbrot/comm"
)

// matrixOutput keeps the matrix handed to it.
type matrixOutput struct {
	mu     sync.Mutex
	m      *Matrix
	writes int
	check  func() error
}

func (o *matrixOutput) Write(m *Matrix) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.check != nil {
		if err := o.check(); err != nil {
			return err
		}
	}
	o.m = m
	o.writes++
	return nil
}

func (o *matrixOutput) Filename() string { return "matrix" }

// runGroup runs one render on an in-process group, bounded so a deadlock fails the test.
func runGroup(ctx context.Context, p Params, size int, out Output, wrap func(comm.Comm) comm.Comm) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	world := comm.NewWorld(size)
	return comm.Go(ctx, world, func(ctx context.Context, c comm.Comm) error {
		if wrap != nil {
			c = wrap(c)
		}
		var o Output
		if c.Rank() == Root {
			o = out
		}
		return Run(ctx, p, c, o, nil)
	})
}

// identity maps pixel (row, col) to 10*row + col on a 4x4 window where x = col and y = row.
func identity(x, y float64) int { return int(10*y + x) }

func TestRunAssembles(t *testing.T) {
	for _, s := range []Strategy{Block{}, Cyclic{}} {
		for _, pattern := range []Pattern{Gather, SendRecv} {
			for size := 1; size <= 4; size++ {
				name := fmt.Sprintf("%s/%s/P=%d", s.Name(), pattern, size)
				t.Run(name, func(t *testing.T) {
					p := Params{
						ImageHeight: 4,
						ImageWidth:  4,
						Bounds:      Bounds{MinX: 0, MaxX: 4, MinY: 0, MaxY: 4},
						Strategy:    s,
						Pattern:     pattern,
						Kernel:      identity,
					}
					out := &matrixOutput{}
					if err := runGroup(context.Background(), p, size, out, nil); err != nil {
						t.Fatal(err)
					}
					if out.writes != 1 {
						t.Fatalf("output written %d times, want 1", out.writes)
					}
					for i := 0; i < 4; i++ {
						for j := 0; j < 4; j++ {
							if got := out.m.At(i, j); got != 10*i+j {
								t.Errorf("M[%d][%d] = %d, want %d", i, j, got, 10*i+j)
							}
						}
					}
				})
			}
		}
	}
}

func TestRunMoreRanksThanRows(t *testing.T) {
	for _, pattern := range []Pattern{Gather, SendRecv} {
		p := Params{
			ImageHeight: 3,
			ImageWidth:  4,
			Bounds:      Bounds{MinX: 0, MaxX: 4, MinY: 0, MaxY: 3},
			Strategy:    Block{},
			Pattern:     pattern,
			Kernel:      identity,
		}
		out := &matrixOutput{}
		if err := runGroup(context.Background(), p, 5, out, nil); err != nil {
			t.Fatalf("%s: %v", pattern, err)
		}
		if !out.m.Complete() || out.m.At(2, 3) != 23 {
			t.Errorf("%s: bad matrix", pattern)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	base := Params{ImageHeight: 24, ImageWidth: 32}
	want := renderLocal(t, base, 1)
	for _, s := range []Strategy{Block{}, Cyclic{}} {
		for _, pattern := range []Pattern{Gather, SendRecv} {
			p := base
			p.Strategy, p.Pattern = s, pattern
			got := renderLocal(t, p, 3)
			for i := 0; i < want.Height; i++ {
				if !equalInts(got.Row(i), want.Row(i)) {
					t.Fatalf("%s/%s: row %d differs from the single-rank render", s.Name(), pattern, i)
				}
			}
		}
	}
}

// slowBarrier holds one rank back before it enters the final barrier.
type slowBarrier struct {
	comm.Comm
	delay   time.Duration
	entered chan struct{}
}

func (s *slowBarrier) Barrier(ctx context.Context) error {
	time.Sleep(s.delay)
	close(s.entered)
	return s.Comm.Barrier(ctx)
}

func TestNoOutputBeforeBarrier(t *testing.T) {
	tests := []struct {
		name          string
		height, size  int
		delayed       int
		wantOwnedRows int
	}{
		// rank 2 owns rows 4 and 5, so its delay comes after its last contribution
		{"last band", 6, 3, 2, 2},
		// bands of one row leave rank 4 with nothing to compute
		{"idle rank", 3, 5, 4, 0},
	}
	for _, test := range tests {
		for _, pattern := range []Pattern{Gather, SendRecv} {
			t.Run(test.name+"/"+pattern.String(), func(t *testing.T) {
				p := Params{ImageHeight: test.height, ImageWidth: 4, Strategy: Block{}, Pattern: pattern}
				owned := NewPartition(p.Strategy, test.height, test.size).Rows(test.delayed)
				if len(owned) != test.wantOwnedRows {
					t.Fatalf("rank %d owns %v, want %d rows", test.delayed, owned, test.wantOwnedRows)
				}

				entered := make(chan struct{})
				out := &matrixOutput{check: func() error {
					select {
					case <-entered:
						return nil
					default:
						return errors.New("output written before the last rank reached the barrier")
					}
				}}
				err := runGroup(context.Background(), p, test.size, out, func(c comm.Comm) comm.Comm {
					if c.Rank() == test.delayed {
						return &slowBarrier{Comm: c, delay: 100 * time.Millisecond, entered: entered}
					}
					return c
				})
				if err != nil {
					t.Fatal(err)
				}
				if out.writes != 1 {
					t.Errorf("output written %d times, want 1", out.writes)
				}
			})
		}
	}
}

// fakeComm answers collective calls with canned contributions.
type fakeComm struct {
	rank, size int
	parts      [][]int
}

func (f *fakeComm) Rank() int { return f.rank }
func (f *fakeComm) Size() int { return f.size }
func (f *fakeComm) Send(context.Context, int, int, []int) error {
	return nil
}
func (f *fakeComm) Recv(context.Context, int, int) ([]int, error) {
	return []int{1}, nil
}
func (f *fakeComm) Gather(context.Context, int, int, []int) ([][]int, error) {
	return f.parts, nil
}
func (f *fakeComm) Barrier(context.Context) error { return nil }
func (f *fakeComm) Close() error                  { return nil }

func TestRunProtocolErrors(t *testing.T) {
	ctx := context.Background()
	p := Params{ImageHeight: 2, ImageWidth: 2, Pattern: Gather}

	short := &fakeComm{rank: 0, size: 2, parts: [][]int{{1, 1}}}
	if err := Run(ctx, p, short, &matrixOutput{}, nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("missing contribution: got %v, want ErrProtocol", err)
	}

	narrow := &fakeComm{rank: 0, size: 2, parts: [][]int{{1, 1}, {1}}}
	p.Strategy = Cyclic{}
	if err := Run(ctx, p, narrow, &matrixOutput{}, nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("narrow contribution: got %v, want ErrProtocol", err)
	}

	p.Pattern = SendRecv
	if err := Run(ctx, p, &fakeComm{rank: 0, size: 2}, &matrixOutput{}, nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("narrow received row: got %v, want ErrProtocol", err)
	}

	if err := Run(ctx, p, &fakeComm{rank: 2, size: 2}, nil, nil); !errors.Is(err, comm.ErrRank) {
		t.Errorf("rank outside group: got %v, want ErrRank", err)
	}

	p.ImageHeight = 0
	if err := Run(ctx, p, &fakeComm{rank: 0, size: 1}, nil, nil); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("zero height: got %v, want ErrInvalidParams", err)
	}
}

func TestRunFailureReleasesGroup(t *testing.T) {
	p := Params{ImageHeight: 8, ImageWidth: 4, Strategy: Cyclic{}, Pattern: SendRecv}
	failing := errors.New("write failed")
	out := &matrixOutput{check: func() error { return failing }}
	if err := runGroup(context.Background(), p, 3, out, nil); !errors.Is(err, failing) {
		t.Fatalf("got %v, want the output error", err)
	}
}

func TestRunEvents(t *testing.T) {
	p := Params{ImageHeight: 8, ImageWidth: 8}
	events := make(chan Event, 100)
	if err := Run(context.Background(), p, comm.NewWorld(1).Rank(0), &matrixOutput{}, events); err != nil {
		t.Fatal(err)
	}
	close(events)

	var got []Event
	for e := range events {
		got = append(got, e)
	}
	if len(got) == 0 {
		t.Fatal("no events")
	}
	if e, ok := got[0].(StateChange); !ok || e.NewState != Computing {
		t.Errorf("first event %v, want StateChange Computing", got[0])
	}
	if e, ok := got[len(got)-1].(StateChange); !ok || e.NewState != Done {
		t.Errorf("last event %v, want StateChange Done", got[len(got)-1])
	}
	var output, rows bool
	for _, e := range got {
		switch e := e.(type) {
		case ImageOutputComplete:
			output = e.Filename == "matrix"
		case RowsAssembled:
			rows = rows || e.Rows == p.ImageHeight
		}
	}
	if !output {
		t.Error("no ImageOutputComplete event naming the output")
	}
	if !rows {
		t.Error("no RowsAssembled event for the full image")
	}
}

func TestSignature(t *testing.T) {
	a := Params{ImageHeight: 4, ImageWidth: 4, Strategy: Block{}}
	b := a
	b.Pattern = SendRecv
	if a.Signature() == b.Signature() {
		t.Errorf("patterns share signature %q", a.Signature())
	}
	if err := a.Validate(); err != nil {
		t.Fatal(err)
	}
	if a.Bounds != DefaultBounds || a.Kernel == nil {
		t.Error("Validate did not fill defaults")
	}
}

func TestRunRejectsOversizedImage(t *testing.T) {
	tests := []struct{ height, width int }{
		{1 << 62, 4},
		{MaxPixels, 2},
		{math.MaxInt, math.MaxInt},
	}
	for _, test := range tests {
		p := Params{ImageHeight: test.height, ImageWidth: test.width}
		err := Run(context.Background(), p, comm.NewWorld(1).Rank(0), nil, nil)
		if !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%dx%d: got %v, want ErrInvalidParams", test.height, test.width, err)
		}
	}
	p := Params{ImageHeight: MaxPixels / 4, ImageWidth: 4}
	if err := p.Validate(); err != nil {
		t.Errorf("image of exactly MaxPixels rejected: %v", err)
	}
}
