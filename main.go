// Command mandelbrot renders the Mandelbrot set across a group of ranks that
// exchange rows only by message, and writes the image at rank 0.
//
//	mandelbrot [flags] <height> <width>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"time"

	"uk.ac.bris.cs/mandelbrot/comm"
	"uk.ac.bris.cs/mandelbrot/comm/natscomm"
	"uk.ac.bris.cs/mandelbrot/comm/rpccomm"
	"uk.ac.bris.cs/mandelbrot/config"
	"uk.ac.bris.cs/mandelbrot/mandel"
	"uk.ac.bris.cs/mandelbrot/render"
	"uk.ac.bris.cs/mandelbrot/report"
	"uk.ac.bris.cs/mandelbrot/sdl"
)

func init() {
	// SDL must run on the main OS thread.
	runtime.LockOSThread()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// invocation is everything one process needs to take part in a render.
type invocation struct {
	cfg     *config.Config
	params  mandel.Params
	rank    int
	size    int
	verbose bool
}

func usage(fs *flag.FlagSet, stderr io.Writer) func() {
	return func() {
		fmt.Fprintf(stderr, "usage: %s [flags] <height> <width>\n", fs.Name())
		fmt.Fprintf(stderr, "where <height> and <width> are the dimensions of the image.\n\n")
		fs.PrintDefaults()
	}
}

// run parses args and renders. It returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	inv, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}

	level := slog.LevelInfo
	if inv.verbose {
		level = slog.LevelDebug
	} else {
		_ = level.UnmarshalText([]byte(inv.cfg.LogLevel))
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	mandel.SetLogger(logger)
	defer mandel.SetLogger(nil)

	start := time.Now()
	out, err := execute(ctx, inv, logger)
	if err != nil {
		logger.Error("render failed", "error", err)
		return 1
	}
	if out == nil {
		return 0
	}
	logger.Info("render complete", "file", out.Filename(), "elapsed", time.Since(start).Round(time.Millisecond))

	if inv.cfg.Summary {
		part := mandel.NewPartition(inv.params.Strategy, inv.params.ImageHeight, inv.size)
		loads, imbalance := mandel.Balance(out.matrix, part)
		fmt.Fprint(stdout, report.Table(inv.params.Strategy.Name(), loads, imbalance))
	}
	if inv.cfg.Preview {
		if err := sdl.Show(out.image); err != nil {
			logger.Error("preview failed", "error", err)
			return 1
		}
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (*invocation, error) {
	fs := flag.NewFlagSet("mandelbrot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs, stderr)

	configPath := fs.String("config", "", "YAML configuration file")
	workers := fs.Int("p", 0, "number of in-process ranks (local transport)")
	strategy := fs.String("strategy", "", "row partition: block or cyclic")
	pattern := fs.String("pattern", "", "collection pattern: gather or sendrecv")
	transport := fs.String("transport", "", "local, rpc or nats")
	output := fs.String("o", "", "output file (.png, .bmp, .tiff)")
	palette := fs.String("palette", "", "hsv, gray or wheel")
	rank := fs.Int("rank", 0, "this process's rank (rpc, nats)")
	size := fs.Int("size", 1, "number of processes (rpc, nats)")
	addr := fs.String("addr", "", "hub address for the rpc transport")
	natsURL := fs.String("nats", "", "NATS server URL")
	job := fs.String("job", "", "NATS job id shared by every rank")
	compress := fs.Bool("compress", false, "zstd-compress NATS frames")
	summary := fs.Bool("summary", false, "print per-rank load at rank 0")
	preview := fs.Bool("preview", false, "show the image in an SDL window at rank 0")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	height, width, err := dimensions(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		fs.Usage()
		return nil, err
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
			return nil, err
		}
	}

	// explicitly set flags override the file
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
		switch f.Name {
		case "p":
			cfg.Workers = *workers
		case "strategy":
			cfg.Strategy = *strategy
		case "pattern":
			cfg.Pattern = *pattern
		case "transport":
			cfg.Transport = *transport
		case "o":
			cfg.Output = *output
		case "palette":
			cfg.Palette = *palette
		case "addr":
			cfg.RPC.Addr = *addr
		case "nats":
			cfg.NATS.URL = *natsURL
		case "job":
			cfg.NATS.Job = *job
		case "compress":
			cfg.NATS.Compress = *compress
		case "summary":
			cfg.Summary = *summary
		case "preview":
			cfg.Preview = *preview
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		return nil, err
	}

	s, err := mandel.ParseStrategy(cfg.Strategy)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		return nil, err
	}
	p, err := mandel.ParsePattern(cfg.Pattern)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		return nil, err
	}
	if _, err := render.ParsePalette(cfg.Palette); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		return nil, err
	}

	inv := &invocation{
		cfg: cfg,
		params: mandel.Params{
			ImageHeight: height,
			ImageWidth:  width,
			Bounds:      mandel.DefaultBounds,
			Strategy:    s,
			Pattern:     p,
		},
		rank:    *rank,
		size:    *size,
		verbose: *verbose,
	}
	if err := inv.params.Validate(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		fs.Usage()
		return nil, err
	}
	if set["p"] && *workers < 1 {
		err := fmt.Errorf("-p must be at least 1, got %d", *workers)
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		return nil, err
	}
	if cfg.Transport == "local" {
		if set["rank"] || set["size"] {
			err := errors.New("-rank and -size apply to the rpc and nats transports; use -p for local ranks")
			fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
			return nil, err
		}
		inv.rank, inv.size = 0, cfg.Workers
	}
	if inv.size < 1 || inv.rank < 0 || inv.rank >= inv.size {
		err := fmt.Errorf("rank %d is outside a group of %d", inv.rank, inv.size)
		fmt.Fprintf(stderr, "%s: %v\n", fs.Name(), err)
		return nil, err
	}
	return inv, nil
}

// dimensions parses the two positional arguments.
func dimensions(args []string) (height, width int, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("expected <height> <width>, got %q", strings.Join(args, " "))
	}
	height, err = strconv.Atoi(args[0])
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("height must be a positive integer, got %q", args[0])
	}
	width, err = strconv.Atoi(args[1])
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("width must be a positive integer, got %q", args[1])
	}
	return height, width, nil
}

// coordinatorOutput writes the file and keeps what the summary and preview need.
type coordinatorOutput struct {
	*render.File
	matrix *mandel.Matrix
	image  *image.RGBA
}

func (o *coordinatorOutput) Write(m *mandel.Matrix) error {
	if err := o.File.Write(m); err != nil {
		return err
	}
	o.matrix = m
	return nil
}

func newOutput(cfg *config.Config) *coordinatorOutput {
	palette, _ := render.ParsePalette(cfg.Palette)
	o := &coordinatorOutput{}
	o.File = &render.File{
		Path:    cfg.Output,
		Palette: palette,
		Image:   func(img *image.RGBA) { o.image = img },
	}
	return o
}

// execute runs this process's share of the render. It returns the coordinator's
// output at rank 0 and nil elsewhere.
func execute(ctx context.Context, inv *invocation, logger *slog.Logger) (*coordinatorOutput, error) {
	switch inv.cfg.Transport {
	case "rpc":
		return executeRPC(ctx, inv, logger)
	case "nats":
		return executeNATS(ctx, inv, logger)
	default:
		return executeLocal(ctx, inv)
	}
}

// executeLocal runs every rank as a goroutine of this process.
func executeLocal(ctx context.Context, inv *invocation) (*coordinatorOutput, error) {
	out := newOutput(inv.cfg)
	world := comm.NewWorld(inv.size)
	err := comm.Go(ctx, world, func(ctx context.Context, c comm.Comm) error {
		var o mandel.Output
		if c.Rank() == mandel.Root {
			o = out
		}
		return mandel.Run(ctx, inv.params, c, o, nil)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func executeRPC(ctx context.Context, inv *invocation, logger *slog.Logger) (*coordinatorOutput, error) {
	cfg := rpccomm.Config{
		Addr:        inv.cfg.RPC.Addr,
		Rank:        inv.rank,
		Size:        inv.size,
		Signature:   inv.params.Signature(),
		DialTimeout: time.Duration(inv.cfg.RPC.DialTimeoutS) * time.Second,
		Logger:      logger.With("rank", inv.rank),
	}
	if inv.rank == mandel.Root {
		c, err := rpccomm.Listen(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return runRoot(ctx, inv, c)
	}
	c, err := rpccomm.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return nil, mandel.Run(ctx, inv.params, c, nil, nil)
}

func executeNATS(ctx context.Context, inv *invocation, logger *slog.Logger) (*coordinatorOutput, error) {
	c, err := natscomm.Connect(ctx, natscomm.Config{
		URL:       inv.cfg.NATS.URL,
		Job:       inv.cfg.NATS.Job,
		Rank:      inv.rank,
		Size:      inv.size,
		Signature: inv.params.Signature(),
		Compress:  inv.cfg.NATS.Compress,
		Logger:    logger.With("rank", inv.rank),
	})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if inv.rank == mandel.Root {
		return runRoot(ctx, inv, c)
	}
	return nil, mandel.Run(ctx, inv.params, c, nil, nil)
}

func runRoot(ctx context.Context, inv *invocation, c comm.Comm) (*coordinatorOutput, error) {
	out := newOutput(inv.cfg)
	if err := mandel.Run(ctx, inv.params, c, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}
