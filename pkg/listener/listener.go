// Package listener owns the socket lifecycle for a SPOP agent: it binds a
// TCP or UNIX listener, accepts connections, and hands each one to a fresh
// [spop.Conn]. It never reads or writes protocol bytes itself.
package listener

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"github.com/tzrikka/spoa/pkg/spop"
)

// ConnFactory builds the per-connection handler for one accepted socket.
// It is called once per accepted connection, on its own goroutine.
type ConnFactory func(sessionID string, rwc net.Conn) *spop.Conn

// Listener accepts SPOP connections on a single TCP or UNIX address and
// runs each one to completion on its own goroutine.
type Listener struct {
	addr    string
	newConn ConnFactory
	logger  zerolog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// Option configures a [Listener] built by [New].
type Option func(*Listener)

// WithLogger attaches a logger used for accept-loop and per-connection
// lifecycle events. Without one, the listener logs nothing.
func WithLogger(l zerolog.Logger) Option {
	return func(ls *Listener) { ls.logger = l }
}

// New builds a [Listener] bound to addr. addr is either a "host:port" TCP
// address or a UNIX socket path — distinguished per [isUnixSocket]. newConn
// builds the [spop.Conn] used to drive each accepted connection.
func New(addr string, newConn ConnFactory, opts ...Option) *Listener {
	ls := &Listener{
		addr:    addr,
		newConn: newConn,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ls)
	}
	return ls
}

// isUnixSocket reports whether addr should be bound as a UNIX domain socket
// rather than a TCP address: a path containing a slash, or a bare name
// ending in ".sock".
func isUnixSocket(addr string) bool {
	return strings.Contains(addr, "/") || strings.HasSuffix(addr, ".sock")
}

// Serve binds the listener and accepts connections until ctx is canceled or
// Shutdown is called. It blocks until the accept loop stops.
func (ls *Listener) Serve(ctx context.Context) error {
	network := "tcp"
	if isUnixSocket(ls.addr) {
		network = "unix"
		_ = os.Remove(ls.addr) // Clear a stale socket file from a prior run.
	}

	ln, err := net.Listen(network, ls.addr)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	ls.ln = ln
	ls.mu.Unlock()

	ls.logger.Info().Str("network", network).Str("addr", ls.addr).Msg("spop listener accepting connections")

	go func() {
		<-ctx.Done()
		_ = ls.Shutdown(context.Background())
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				ls.wg.Wait()
				return nil
			}
			return err
		}

		sessionID := shortuuid.New()
		ls.wg.Add(1)
		go func() {
			defer ls.wg.Done()
			ls.serveOne(ctx, sessionID, conn)
		}()
	}
}

func (ls *Listener) serveOne(ctx context.Context, sessionID string, conn net.Conn) {
	l := ls.logger.With().Str("session_id", sessionID).Logger()
	c := ls.newConn(sessionID, conn)
	if err := c.Serve(ctx); err != nil {
		l.Warn().Err(err).Msg("spop connection ended with error")
		return
	}
	l.Debug().Msg("spop connection closed")
}

// Shutdown stops the accept loop and closes the listening socket. It does
// not forcibly close in-flight connections; callers that need a bounded
// wait should pass a ctx with a deadline to a subsequent call that waits on
// the accept loop's return (Serve returns once all connections finish).
func (ls *Listener) Shutdown(context.Context) error {
	ls.mu.Lock()
	ln := ls.ln
	addr := ls.addr
	ls.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	if isUnixSocket(addr) {
		_ = os.Remove(addr)
	}
	return err
}
