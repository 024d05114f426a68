// Package kvserver implements the TCP server lifecycle: a bounded
// accept loop, one handler goroutine per connection running a strict
// request→reply loop, and a drain barrier for graceful shutdown.
package kvserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/command"
	"github.com/kstaniek/resp-kv-server/internal/connio"
	"github.com/kstaniek/resp-kv-server/internal/kvstore"
	"github.com/kstaniek/resp-kv-server/internal/logging"
	"github.com/kstaniek/resp-kv-server/internal/metrics"
	"github.com/kstaniek/resp-kv-server/internal/respio"
	"golang.org/x/sync/semaphore"
)

// Sentinel errors surfaced by Serve/Shutdown.
var (
	ErrListen  = errors.New("kvserver: listen failed")
	ErrAccept  = errors.New("kvserver: accept failed")
	ErrContext = errors.New("kvserver: shutdown deadline exceeded")
)

const defaultMaxClients = 10

// Server owns the TCP listener and the store, and coordinates
// connection admission and graceful shutdown.
type Server struct {
	mu   sync.RWMutex
	addr string

	Store *kvstore.Store

	maxClients int
	sem        *semaphore.Weighted

	readyOnce sync.Once
	readyCh   chan struct{}

	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	listener net.Listener
	wg       sync.WaitGroup
	logger   *slog.Logger

	nextConnID    uint64
	totalAccepted atomic.Uint64
	totalRejected atomic.Uint64
	activeConns   atomic.Int64
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// NewServer builds a Server; Serve still needs to be called to bind
// and accept connections.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		maxClients: defaultMaxClients,
		readyCh:    make(chan struct{}),
		errCh:      make(chan error, 1),
		logger:     logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Store == nil {
		s.Store = kvstore.New()
	}
	s.sem = semaphore.NewWeighted(int64(s.maxClients))
	return s
}

// WithListenAddr sets the TCP address to bind.
func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }

// WithStore injects a pre-built store (mainly for tests).
func WithStore(store *kvstore.Store) ServerOption { return func(s *Server) { s.Store = store } }

// WithMaxClients bounds concurrent connections.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

// WithLogger overrides the server's logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Addr returns the bound listen address (valid after Serve starts).
func (s *Server) Addr() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }

func (s *Server) setAddr(a string) { s.mu.Lock(); s.addr = a; s.mu.Unlock() }

// Ready closes once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors surfaces fatal listener errors.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// LastError returns the most recent fatal error, if any.
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve binds the listener, starts the store's sweeper, and runs the
// accept loop until ctx is cancelled. It returns nil on a clean
// shutdown (ctx cancellation), or a wrapped error on a fatal listener
// failure.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(metrics.ErrTCPRead)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr(), "max_clients", s.maxClients)

	go s.Store.Run(ctx)
	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce blocks for an admission permit, accepts one connection,
// and spawns its handler goroutine.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return context.Canceled
	}

	conn, err := ln.Accept()
	if err != nil {
		s.sem.Release(1)
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(metrics.ErrTCPRead)
		s.setError(wrap)
		return wrap
	}

	s.totalAccepted.Add(1)
	metrics.IncConnectionAccepted()
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	s.activeConns.Add(1)
	metrics.SetConnectionsActive(int(s.activeConns.Load()))
	connLogger.Info("client_connected")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer conn.Close()
		defer func() {
			s.activeConns.Add(-1)
			metrics.SetConnectionsActive(int(s.activeConns.Load()))
			connLogger.Info("client_disconnected")
		}()
		s.handle(ctx, conn, connLogger)
	}()
	return nil
}

// handle drives a single connection's strict request→reply loop until
// the client disconnects, a protocol error occurs, or ctx is
// cancelled.
func (s *Server) handle(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	c := connio.New(conn)
	for {
		frame, ok, err := c.ReadFrameContext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			metrics.IncMalformed()
			_ = c.WriteFrame(errorReply(err))
			return
		}
		if !ok {
			return
		}

		cmd, err := command.Decode(frame)
		if err != nil {
			metrics.IncError(metrics.ErrProtocol)
			if werr := c.WriteFrame(errorReply(err)); werr != nil {
				return
			}
			continue
		}

		metrics.IncCommand(commandName(cmd))
		reply := command.Execute(cmd, s.Store)
		if err := c.WriteFrame(reply); err != nil {
			logger.Warn("write_failed", "error", err)
			return
		}
	}
}

func commandName(cmd command.Command) string {
	switch cmd.Kind {
	case command.KindPing:
		return "ping"
	case command.KindGet:
		return "get"
	case command.KindSet:
		return "set"
	default:
		return "unknown"
	}
}

func errorReply(err error) respio.Frame {
	return respio.Simple(fmt.Sprintf("error: %s", err))
}

// Shutdown closes the listener and waits for every in-flight handler
// to exit, or returns an error if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
		)
		return nil
	}
}
