// Package rpccomm runs a comm group across processes over net/rpc. Rank 0 serves
// a Hub; every other rank dials it and forwards its operations as RPC calls. The
// hub executes them against an in-process comm.World, so the matching rules are
// the same as for goroutine ranks.
package rpccomm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"sync"
	"time"

	"uk.ac.bris.cs/mandelbrot/comm"
	"uk.ac.bris.cs/mandelbrot/stubs"
)

// Config describes one rank's place in the group.
type Config struct {
	// Addr is the hub's TCP address. Rank 0 listens on it, others dial it.
	Addr string
	Rank int
	Size int
	// Signature must be identical on every rank.
	Signature string
	// DialTimeout bounds how long a rank keeps retrying to reach the hub.
	DialTimeout time.Duration
	// LeaveTimeout bounds how long the root waits for remote ranks to detach on Close.
	LeaveTimeout time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hub is the RPC service served by rank 0.
type Hub struct {
	ctx       context.Context
	world     *comm.World
	size      int
	signature string
	log       *slog.Logger

	lock       sync.Mutex
	subscribed map[int]bool
	left       map[int]bool
	allLeft    chan struct{}
}

func newHub(ctx context.Context, cfg Config) *Hub {
	h := &Hub{
		ctx:        ctx,
		world:      comm.NewWorld(cfg.Size),
		size:       cfg.Size,
		signature:  cfg.Signature,
		log:        cfg.Logger,
		subscribed: make(map[int]bool),
		left:       make(map[int]bool),
		allLeft:    make(chan struct{}),
	}
	if cfg.Size == 1 {
		close(h.allLeft)
	}
	return h
}

// Subscribe registers a remote rank with the hub.
func (h *Hub) Subscribe(req stubs.Subscription, res *stubs.StatusReport) error {
	if req.Size != h.size {
		return fmt.Errorf("rank %d joined a group of %d, hub has %d", req.Rank, req.Size, h.size)
	}
	if req.Rank <= 0 || req.Rank >= h.size {
		return fmt.Errorf("rank %d cannot join a group of %d: %w", req.Rank, h.size, comm.ErrRank)
	}
	if req.Signature != h.signature {
		return fmt.Errorf("rank %d signature %q does not match %q", req.Rank, req.Signature, h.signature)
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.subscribed[req.Rank] {
		return fmt.Errorf("rank %d already subscribed", req.Rank)
	}
	h.subscribed[req.Rank] = true
	h.log.Info("rank subscribed", "peer", req.Rank, "subscribed", len(h.subscribed), "of", h.size-1)
	res.Message = "subscribed"
	return nil
}

// Send delivers a row from a remote rank.
func (h *Hub) Send(req stubs.RowMessage, res *stubs.StatusReport) error {
	if err := h.member(req.Src); err != nil {
		return err
	}
	return h.world.Rank(req.Src).Send(h.ctx, req.Dest, req.Tag, req.Row)
}

// Recv blocks until a row addressed to the remote rank arrives.
func (h *Hub) Recv(req stubs.RecvRequest, res *stubs.RowMessage) error {
	if err := h.member(req.Rank); err != nil {
		return err
	}
	row, err := h.world.Rank(req.Rank).Recv(h.ctx, req.Src, req.Tag)
	if err != nil {
		return err
	}
	res.Src, res.Dest, res.Tag, res.Row = req.Src, req.Rank, req.Tag, row
	return nil
}

// Gather takes part in a collective step on behalf of a remote rank.
func (h *Hub) Gather(req stubs.GatherRequest, res *stubs.GatherResponse) error {
	if err := h.member(req.Rank); err != nil {
		return err
	}
	rows, err := h.world.Rank(req.Rank).Gather(h.ctx, req.Root, req.Tag, req.Row)
	if err != nil {
		return err
	}
	res.Rows = rows
	return nil
}

// Barrier blocks the remote rank until every rank has entered the barrier.
func (h *Hub) Barrier(req stubs.RankRequest, res *stubs.StatusReport) error {
	if err := h.member(req.Rank); err != nil {
		return err
	}
	return h.world.Rank(req.Rank).Barrier(h.ctx)
}

// Leave detaches a remote rank once it has nothing more to exchange.
func (h *Hub) Leave(req stubs.RankRequest, res *stubs.StatusReport) error {
	if err := h.member(req.Rank); err != nil {
		return err
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.left[req.Rank] {
		return nil
	}
	h.left[req.Rank] = true
	if len(h.left) == h.size-1 {
		close(h.allLeft)
	}
	return nil
}

func (h *Hub) member(rank int) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.subscribed[rank] {
		return fmt.Errorf("rank %d is not subscribed", rank)
	}
	return nil
}

// Coordinator is rank 0: it serves the hub and takes part in the group directly.
type Coordinator struct {
	comm.Comm
	hub      *Hub
	listener net.Listener
	cancel   context.CancelFunc
	timeout  time.Duration
	log      *slog.Logger
}

// Listen starts the hub on cfg.Addr and returns rank 0's communicator.
func Listen(ctx context.Context, cfg Config) (*Coordinator, error) {
	cfg.defaults()
	if cfg.Rank != 0 {
		return nil, fmt.Errorf("rpccomm: rank %d cannot serve the hub", cfg.Rank)
	}
	if cfg.Size < 1 {
		return nil, fmt.Errorf("rpccomm: group size %d: %w", cfg.Size, comm.ErrRank)
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("rpccomm: listen on %s: %w", cfg.Addr, err)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	hub := newHub(hubCtx, cfg)
	server := rpc.NewServer()
	if err := server.RegisterName("Hub", hub); err != nil {
		cancel()
		ln.Close()
		return nil, fmt.Errorf("rpccomm: register hub: %w", err)
	}
	go server.Accept(ln)
	cfg.Logger.Info("hub listening", "addr", ln.Addr().String(), "size", cfg.Size)

	return &Coordinator{
		Comm:     hub.world.Rank(0),
		hub:      hub,
		listener: ln,
		cancel:   cancel,
		timeout:  cfg.LeaveTimeout,
		log:      cfg.Logger,
	}, nil
}

// Addr is the address the hub is listening on.
func (c *Coordinator) Addr() string {
	return c.listener.Addr().String()
}

// Close waits for every remote rank to leave, so replies to their final barrier
// are delivered, then stops the hub.
func (c *Coordinator) Close() error {
	select {
	case <-c.hub.allLeft:
	case <-time.After(c.timeout):
		c.log.Warn("closing hub before every rank left", "timeout", c.timeout)
	}
	c.cancel()
	c.hub.world.Shutdown()
	c.Comm.Close()
	return c.listener.Close()
}
