// Command launcher starts one mandelbrot process per rank, in the manner of mpirun.
//
//	launcher -np 4 -transport rpc -- ./mandelbrot -strategy block 600 800
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// job describes one group launch.
type job struct {
	program   string
	args      []string
	size      int
	transport string
	addr      string
	natsURL   string
	compress  bool
	id        string
}

// rankArgs returns the command line of one rank. Launcher flags come first so the
// child's positional <height> <width> stay last.
func (j job) rankArgs(rank int) []string {
	args := []string{
		"-transport", j.transport,
		"-rank", strconv.Itoa(rank),
		"-size", strconv.Itoa(j.size),
	}
	switch j.transport {
	case "rpc":
		if j.addr != "" {
			args = append(args, "-addr", j.addr)
		}
	case "nats":
		args = append(args, "-job", j.id)
		if j.natsURL != "" {
			args = append(args, "-nats", j.natsURL)
		}
		if j.compress {
			args = append(args, "-compress")
		}
	}
	return append(args, j.args...)
}

func parseJob(args []string, stderr io.Writer) (job, error) {
	fs := flag.NewFlagSet("launcher", flag.ContinueOnError)
	fs.SetOutput(stderr)
	np := fs.Int("np", 2, "number of ranks to start")
	transport := fs.String("transport", "rpc", "rpc or nats")
	addr := fs.String("addr", "", "hub address for the rpc transport")
	natsURL := fs.String("nats", "", "NATS server URL")
	compress := fs.Bool("compress", false, "zstd-compress NATS frames")
	id := fs.String("job", "", "job id (default: random uuid)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] -- <program> [args]\n\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return job{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return job{}, errors.New("launcher: no program given")
	}
	if *np < 1 {
		return job{}, fmt.Errorf("launcher: -np must be at least 1, got %d", *np)
	}
	if *transport != "rpc" && *transport != "nats" {
		return job{}, fmt.Errorf("launcher: unknown transport %q", *transport)
	}
	j := job{
		program:   rest[0],
		args:      rest[1:],
		size:      *np,
		transport: *transport,
		addr:      *addr,
		natsURL:   *natsURL,
		compress:  *compress,
		id:        *id,
	}
	if j.id == "" {
		j.id = uuid.New().String()
	}
	return j, nil
}

// launch runs every rank and waits for them. When one rank fails the shared
// context is cancelled, which kills the others.
func launch(ctx context.Context, j job, stdout, stderr io.Writer, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < j.size; rank++ {
		cmd := exec.CommandContext(ctx, j.program, j.rankArgs(rank)...)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			// fail the group so ranks already running are killed
			g.Go(func() error { return fmt.Errorf("launcher: start rank %d: %w", rank, err) })
			break
		}
		log.Debug("rank started", "rank", rank, "pid", cmd.Process.Pid)
		g.Go(func() error {
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("launcher: rank %d: %w", rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	j, err := parseJob(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Error("bad arguments", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	log.Info("launching", "np", j.size, "transport", j.transport, "job", j.id)
	if err := launch(ctx, j, os.Stdout, os.Stderr, log); err != nil {
		log.Error("job failed", "error", err)
		stop()
		os.Exit(1)
	}
}
