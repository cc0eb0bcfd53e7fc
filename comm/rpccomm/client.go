package rpccomm

import (
	"context"
	"fmt"
	"log/slog"
	"net/rpc"
	"time"

	"uk.ac.bris.cs/mandelbrot/comm"
	"uk.ac.bris.cs/mandelbrot/stubs"
)

// Remote is a non-root rank connected to the hub.
type Remote struct {
	client *rpc.Client
	rank   int
	size   int
	log    *slog.Logger
}

// Dial connects rank cfg.Rank to the hub at cfg.Addr, retrying until the hub is
// reachable or cfg.DialTimeout passes, and subscribes it.
func Dial(ctx context.Context, cfg Config) (*Remote, error) {
	cfg.defaults()
	if cfg.Rank <= 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("rpccomm: dial as rank %d of %d: %w", cfg.Rank, cfg.Size, comm.ErrRank)
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var client *rpc.Client
	backoff := 50 * time.Millisecond
	for {
		var err error
		client, err = rpc.Dial("tcp", cfg.Addr)
		if err == nil {
			break
		}
		cfg.Logger.Debug("hub not reachable yet", "addr", cfg.Addr, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rpccomm: dial %s: %w", cfg.Addr, err)
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}

	r := &Remote{client: client, rank: cfg.Rank, size: cfg.Size, log: cfg.Logger}
	subscription := stubs.Subscription{Rank: cfg.Rank, Size: cfg.Size, Signature: cfg.Signature}
	var response stubs.StatusReport
	if err := r.call(ctx, stubs.Subscribe, subscription, &response); err != nil {
		client.Close()
		return nil, fmt.Errorf("rpccomm: subscribe: %w", err)
	}
	cfg.Logger.Info("connected to hub", "addr", cfg.Addr)
	return r, nil
}

func (r *Remote) Rank() int { return r.rank }

func (r *Remote) Size() int { return r.size }

func (r *Remote) Send(ctx context.Context, dest, tag int, row []int) error {
	if err := comm.CheckRank(dest, r.size); err != nil {
		return fmt.Errorf("rpccomm: send to %d: %w", dest, err)
	}
	msg := stubs.RowMessage{Src: r.rank, Dest: dest, Tag: tag, Row: row}
	return r.call(ctx, stubs.Send, msg, &stubs.StatusReport{})
}

func (r *Remote) Recv(ctx context.Context, src, tag int) ([]int, error) {
	if err := comm.CheckRank(src, r.size); err != nil {
		return nil, fmt.Errorf("rpccomm: receive from %d: %w", src, err)
	}
	var msg stubs.RowMessage
	if err := r.call(ctx, stubs.Recv, stubs.RecvRequest{Rank: r.rank, Src: src, Tag: tag}, &msg); err != nil {
		return nil, err
	}
	return msg.Row, nil
}

func (r *Remote) Gather(ctx context.Context, root, tag int, row []int) ([][]int, error) {
	if err := comm.CheckRank(root, r.size); err != nil {
		return nil, fmt.Errorf("rpccomm: gather at %d: %w", root, err)
	}
	var res stubs.GatherResponse
	req := stubs.GatherRequest{Rank: r.rank, Root: root, Tag: tag, Row: row}
	if err := r.call(ctx, stubs.Gather, req, &res); err != nil {
		return nil, err
	}
	if r.rank != root {
		return nil, nil
	}
	return res.Rows, nil
}

func (r *Remote) Barrier(ctx context.Context) error {
	return r.call(ctx, stubs.Barrier, stubs.RankRequest{Rank: r.rank}, &stubs.StatusReport{})
}

// Close leaves the group and hangs up.
func (r *Remote) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.call(ctx, stubs.Leave, stubs.RankRequest{Rank: r.rank}, &stubs.StatusReport{}); err != nil {
		r.log.Warn("leave failed", "error", err)
	}
	return r.client.Close()
}

// call runs an RPC and gives up when ctx is done. net/rpc has no cancellation, so
// an abandoned call is left to fail when the connection closes.
func (r *Remote) call(ctx context.Context, method string, args, reply any) error {
	call := r.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		if call.Error != nil {
			return fmt.Errorf("%s: %w", method, call.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
