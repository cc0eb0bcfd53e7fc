// Package natscomm runs a comm group across processes on a NATS server. Each
// rank owns a point-to-point subject and a gather subject; barriers are
// coordinated by rank 0. Frames are msgpack, optionally zstd compressed.
package natscomm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"uk.ac.bris.cs/mandelbrot/comm"
)

// Config describes one rank's place in the group.
type Config struct {
	URL string
	// Job namespaces the subjects so concurrent renders do not interfere.
	Job       string
	Rank      int
	Size      int
	Signature string
	Compress  bool
	// ConnectTimeout bounds the startup handshake.
	ConnectTimeout time.Duration
	// Capacity bounds each mailbox's inbox.
	Capacity int
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Job == "" {
		c.Job = "default"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.Capacity <= 0 {
		c.Capacity = comm.DefaultCapacity
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type subjects struct {
	prefix string
}

func (s subjects) p2p(rank int) string    { return fmt.Sprintf("%s.p2p.%d", s.prefix, rank) }
func (s subjects) gather(rank int) string { return fmt.Sprintf("%s.gather.%d", s.prefix, rank) }
func (s subjects) barrier() string        { return s.prefix + ".barrier" }
func (s subjects) release() string        { return s.prefix + ".release" }
func (s subjects) hello() string          { return s.prefix + ".hello" }

// Comm is one rank connected to NATS.
type Comm struct {
	nc       *nats.Conn
	cfg      Config
	subjects subjects
	log      *slog.Logger

	p2p     *comm.Mailbox
	gather  *comm.Mailbox
	barrier *comm.Mailbox
	gen     int

	msgs   chan *nats.Msg
	subs   []*nats.Subscription
	cancel context.CancelFunc
	pumped sync.WaitGroup
}

// Connect joins the group. Rank 0 returns once every other rank has said hello;
// the others return once rank 0 has answered them. Every subscription is in
// place before the handshake, so no frame published after it can be missed.
func Connect(ctx context.Context, cfg Config) (*Comm, error) {
	cfg.defaults()
	if cfg.Size < 1 || comm.CheckRank(cfg.Rank, cfg.Size) != nil {
		return nil, fmt.Errorf("natscomm: rank %d of %d: %w", cfg.Rank, cfg.Size, comm.ErrRank)
	}
	nc, err := nats.Connect(cfg.URL, nats.Name(fmt.Sprintf("mandel-%s-%d", cfg.Job, cfg.Rank)))
	if err != nil {
		return nil, fmt.Errorf("natscomm: connect %s: %w", cfg.URL, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Comm{
		nc:       nc,
		cfg:      cfg,
		subjects: subjects{prefix: "mandel." + cfg.Job},
		log:      cfg.Logger,
		p2p:      comm.NewMailbox(cfg.Capacity),
		gather:   comm.NewMailbox(cfg.Capacity),
		barrier:  comm.NewMailbox(cfg.Capacity),
		msgs:     make(chan *nats.Msg, 4096),
		cancel:   cancel,
	}

	inboxes := []string{c.subjects.p2p(cfg.Rank), c.subjects.gather(cfg.Rank)}
	if cfg.Rank == 0 {
		inboxes = append(inboxes, c.subjects.barrier())
	} else {
		inboxes = append(inboxes, c.subjects.release())
	}
	for _, subject := range inboxes {
		sub, err := nc.ChanSubscribe(subject, c.msgs)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("natscomm: subscribe %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}
	c.pumped.Add(1)
	go c.pump(pumpCtx)

	ctx, stop := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer stop()
	if cfg.Rank == 0 {
		err = c.awaitHellos(ctx)
	} else {
		err = c.sayHello(ctx)
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	c.log.Info("joined nats group", "url", cfg.URL, "job", cfg.Job, "size", cfg.Size)
	return c, nil
}

func (c *Comm) awaitHellos(ctx context.Context) error {
	var (
		lock  sync.Mutex
		seen  = make(map[int]bool)
		ready = make(chan struct{})
	)
	if c.cfg.Size == 1 {
		close(ready)
	}
	sub, err := c.nc.Subscribe(c.subjects.hello(), func(msg *nats.Msg) {
		f, err := decodeFrame(msg.Data)
		reply := ""
		switch {
		case err != nil:
			reply = err.Error()
		case f.Signature != c.cfg.Signature:
			reply = fmt.Sprintf("signature %q does not match %q", f.Signature, c.cfg.Signature)
		case f.Src <= 0 || f.Src >= c.cfg.Size:
			reply = fmt.Sprintf("rank %d cannot join a group of %d", f.Src, c.cfg.Size)
		}
		if err := msg.Respond([]byte(reply)); err != nil {
			c.log.Warn("hello reply failed", "error", err)
		}
		if reply != "" {
			c.log.Warn("rejected rank", "peer", f.Src, "reason", reply)
			return
		}
		lock.Lock()
		defer lock.Unlock()
		if seen[f.Src] {
			return
		}
		seen[f.Src] = true
		c.log.Info("rank said hello", "peer", f.Src, "joined", len(seen), "of", c.cfg.Size-1)
		if len(seen) == c.cfg.Size-1 {
			close(ready)
		}
	})
	if err != nil {
		return fmt.Errorf("natscomm: subscribe hello: %w", err)
	}
	c.subs = append(c.subs, sub)
	if err := c.nc.Flush(); err != nil {
		return fmt.Errorf("natscomm: flush: %w", err)
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("natscomm: waiting for ranks: %w", ctx.Err())
	}
}

func (c *Comm) sayHello(ctx context.Context) error {
	if err := c.nc.Flush(); err != nil {
		return fmt.Errorf("natscomm: flush: %w", err)
	}
	data, err := encodeFrame(frame{Kind: kindHello, Src: c.cfg.Rank, Signature: c.cfg.Signature}, false)
	if err != nil {
		return err
	}
	for {
		msg, err := c.nc.Request(c.subjects.hello(), data, 500*time.Millisecond)
		if err == nil {
			if len(msg.Data) > 0 {
				return fmt.Errorf("natscomm: rank 0 refused rank %d: %s", c.cfg.Rank, msg.Data)
			}
			return nil
		}
		c.log.Debug("rank 0 not answering yet", "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("natscomm: hello: %w", errors.Join(err, ctx.Err()))
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// pump decodes frames into the mailboxes. It queues without bound so the NATS
// channel never backs up into a slow-consumer drop.
func (c *Comm) pump(ctx context.Context) {
	defer c.pumped.Done()
	pending := map[*comm.Mailbox][]comm.Message{}
	boxes := []*comm.Mailbox{c.p2p, c.gather, c.barrier}
	for {
		var outs [3]chan<- comm.Message
		var heads [3]comm.Message
		for i, mb := range boxes {
			if q := pending[mb]; len(q) > 0 {
				outs[i], heads[i] = mb.Inbox(), q[0]
			}
		}
		select {
		case msg := <-c.msgs:
			f, err := decodeFrame(msg.Data)
			if err != nil {
				c.log.Error("dropping undecodable frame", "subject", msg.Subject, "error", err)
				continue
			}
			mb := c.route(f.Kind)
			if mb == nil {
				c.log.Error("dropping frame of unknown kind", "subject", msg.Subject, "kind", f.Kind)
				continue
			}
			pending[mb] = append(pending[mb], comm.Message{Src: f.Src, Tag: f.Tag, Row: f.Row})
		case outs[0] <- heads[0]:
			pending[boxes[0]] = pending[boxes[0]][1:]
		case outs[1] <- heads[1]:
			pending[boxes[1]] = pending[boxes[1]][1:]
		case outs[2] <- heads[2]:
			pending[boxes[2]] = pending[boxes[2]][1:]
		case <-ctx.Done():
			return
		}
	}
}

func (c *Comm) route(kind uint8) *comm.Mailbox {
	switch kind {
	case kindP2P:
		return c.p2p
	case kindGather:
		return c.gather
	case kindBarrier, kindRelease:
		return c.barrier
	}
	return nil
}

func (c *Comm) publish(subject string, f frame) error {
	data, err := encodeFrame(f, c.cfg.Compress)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("natscomm: publish %s: %w", subject, err)
	}
	return nil
}

func (c *Comm) Rank() int { return c.cfg.Rank }

func (c *Comm) Size() int { return c.cfg.Size }

func (c *Comm) Send(ctx context.Context, dest, tag int, row []int) error {
	if err := comm.CheckRank(dest, c.cfg.Size); err != nil {
		return fmt.Errorf("natscomm: send to %d: %w", dest, err)
	}
	return c.publish(c.subjects.p2p(dest), frame{Kind: kindP2P, Src: c.cfg.Rank, Tag: tag, Row: row})
}

func (c *Comm) Recv(ctx context.Context, src, tag int) ([]int, error) {
	if err := comm.CheckRank(src, c.cfg.Size); err != nil {
		return nil, fmt.Errorf("natscomm: receive from %d: %w", src, err)
	}
	m, err := c.p2p.Take(ctx, src, tag)
	if err != nil {
		return nil, err
	}
	return m.Row, nil
}

func (c *Comm) Gather(ctx context.Context, root, tag int, row []int) ([][]int, error) {
	if err := comm.CheckRank(root, c.cfg.Size); err != nil {
		return nil, fmt.Errorf("natscomm: gather at %d: %w", root, err)
	}
	if c.cfg.Rank != root {
		return nil, c.publish(c.subjects.gather(root), frame{Kind: kindGather, Src: c.cfg.Rank, Tag: tag, Row: row})
	}
	return comm.CollectGather(ctx, c.gather, root, c.cfg.Size, tag, row)
}

// Barrier sends an arrival for this generation to rank 0; rank 0 waits for all
// arrivals and then publishes the release.
func (c *Comm) Barrier(ctx context.Context) error {
	c.gen++
	gen := c.gen
	if c.cfg.Rank != 0 {
		if err := c.publish(c.subjects.barrier(), frame{Kind: kindBarrier, Src: c.cfg.Rank, Tag: gen}); err != nil {
			return err
		}
		if err := c.flush(ctx); err != nil {
			return err
		}
		_, err := c.barrier.Take(ctx, 0, gen)
		return err
	}
	for src := 1; src < c.cfg.Size; src++ {
		if _, err := c.barrier.Take(ctx, src, gen); err != nil {
			return err
		}
	}
	if err := c.publish(c.subjects.release(), frame{Kind: kindRelease, Src: 0, Tag: gen}); err != nil {
		return err
	}
	return c.flush(ctx)
}

// flush waits for the server to acknowledge everything published so far.
// FlushWithContext insists on a deadline.
func (c *Comm) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("natscomm: flush: %w", err)
	}
	return nil
}

// Close flushes outstanding frames and disconnects.
func (c *Comm) Close() error {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	err := c.nc.Flush()
	c.nc.Close()
	c.cancel()
	c.pumped.Wait()
	c.p2p.Close()
	c.gather.Close()
	c.barrier.Close()
	return err
}
