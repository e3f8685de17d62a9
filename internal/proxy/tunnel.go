package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/dohfrag/internal/fragment"
)

// TunnelOptions control how the client to backend direction is written.
type TunnelOptions struct {
	Fragments        int
	FragmentDelay    time.Duration
	FirstPacketGrace time.Duration
}

// RunTunnel relays bytes between client and backend until either direction
// ends, then closes both connections. The first chunk sent to backend is
// head if non-empty, or else the first read from client after
// FirstPacketGrace; it is written with fragment.Write. Later chunks are
// written whole. Canceling ctx closes both connections.
func RunTunnel(ctx context.Context, client, backend net.Conn, head []byte, opts TunnelOptions) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = backend.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group

	g.Go(func() error {
		defer closeBoth()
		return downstream(client, backend)
	})

	g.Go(func() error {
		defer closeBoth()
		return upstream(backend, client, head, opts)
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// upstream copies client to backend, fragmenting the first chunk.
func upstream(backend, client net.Conn, head []byte, opts TunnelOptions) error {
	bp := upstreamPool.Get()
	defer upstreamPool.Put(bp)
	buf := *bp

	first := true
	if len(head) > 0 {
		if err := fragment.Write(backend, head, opts.Fragments, opts.FragmentDelay, nil); err != nil {
			return err
		}
		first = false
	} else if opts.FirstPacketGrace > 0 {
		time.Sleep(opts.FirstPacketGrace)
	}

	for {
		n, rerr := client.Read(buf)
		if n > 0 {
			var werr error
			if first {
				werr = fragment.Write(backend, buf[:n], opts.Fragments, opts.FragmentDelay, nil)
				first = false
			} else {
				_, werr = backend.Write(buf[:n])
			}
			if werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

// downstream copies backend to client unchanged.
func downstream(client, backend net.Conn) error {
	bp := downstreamPool.Get()
	defer downstreamPool.Put(bp)

	_, err := io.CopyBuffer(client, backend, *bp)
	return err
}
