// Package forward relays TCP connections from a listen address to a target,
// so tests can sit between the consumer and the simulator and cut the link.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const dialTimeout = 5 * time.Second

type Forwarder struct {
	target string
	log    *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(target string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{target: target, log: logger, conns: map[net.Conn]struct{}{}}
}

// ListenAndServe listens on addr and forwards until ctx ends.
func (f *Forwarder) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return f.Serve(ctx, l)
}

// Serve accepts on l until ctx ends, then closes l and every relayed
// connection and waits for the relays to finish.
func (f *Forwarder) Serve(ctx context.Context, l net.Listener) error {
	f.log.Info("forwarding", slog.String("listen", l.Addr().String()), slog.String("target", f.target))
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer func() {
		f.DropAll()
		f.wg.Wait()
	}()

	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		f.log.Debug("accepted", slog.String("from", c.RemoteAddr().String()))
		f.wg.Add(1)
		go f.relay(ctx, c)
	}
}

func (f *Forwarder) relay(ctx context.Context, client net.Conn) {
	defer f.wg.Done()
	d := net.Dialer{Timeout: dialTimeout}
	upstream, err := d.DialContext(ctx, "tcp", f.target)
	if err != nil {
		f.log.Warn("dial target", slog.String("target", f.target), slog.String("err", err.Error()))
		_ = client.Close()
		return
	}
	f.track(client, upstream)
	defer f.untrack(client, upstream)

	var wg sync.WaitGroup
	wg.Add(2)
	go pipe(&wg, upstream, client)
	go pipe(&wg, client, upstream)
	wg.Wait()
	_ = client.Close()
	_ = upstream.Close()
}

// pipe copies src to dst and half-closes dst when src is done.
func pipe(wg *sync.WaitGroup, dst, src net.Conn) {
	defer wg.Done()
	_, _ = io.Copy(dst, src)
	if tc, ok := dst.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		return
	}
	_ = dst.Close()
}

func (f *Forwarder) track(cs ...net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cs {
		f.conns[c] = struct{}{}
	}
}

func (f *Forwarder) untrack(cs ...net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cs {
		delete(f.conns, c)
	}
}

// Active is the number of relayed connection pairs.
func (f *Forwarder) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns) / 2
}

// DropAll closes every relayed connection, which looks like a network drop
// to both ends.
func (f *Forwarder) DropAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		_ = c.Close()
	}
	return len(f.conns) / 2
}
