// Package server owns the bind/accept loop and per-connection wiring for
// the command console: each accepted connection gets a handshake against
// the shared host keys and dispatcher-configured authentication, and each
// inbound channel gets a fresh command session.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/semaphore"

	"sshexecd/internal/auth"
	"sshexecd/internal/hostkey"
	"sshexecd/internal/session"
)

// serverVersion is the SSH identification banner sent to clients.
const serverVersion = "SSH-2.0-sshexecd_1.0"

// Config holds the listener's immutable configuration.
type Config struct {
	// Address is the bind address (default "0.0.0.0").
	Address string
	// Port is the listen port. Port 0 binds an ephemeral port, reported
	// by Addr after Start; the external default of 2222 comes from the
	// configuration layer.
	Port int
	// Workers is the width of the connection worker pool (default 1).
	// Width 1 serializes command handling across connections.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = "0.0.0.0"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Server is the command console listener. A Server is single-use: once
// stopped, create a new instance.
type Server struct {
	cfg        Config
	sshConfig  *ssh.ServerConfig
	dispatcher *auth.Dispatcher
	handler    session.Handler
	logger     *log.Logger

	mu      sync.Mutex
	ln      net.Listener
	running bool

	conns   sync.Map // *ssh.ServerConn -> struct{}
	workers *semaphore.Weighted
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New wires a listener from the shared host keys, the authentication
// dispatcher and the command handler. The host key set must not be empty.
func New(cfg Config, hostKeys []*hostkey.KeyPair, dispatcher *auth.Dispatcher, handler session.Handler, logger *log.Logger) *Server {
	cfg = cfg.withDefaults()

	sshConfig := &ssh.ServerConfig{ServerVersion: serverVersion}
	dispatcher.Apply(sshConfig)
	for _, key := range hostKeys {
		sshConfig.AddHostKey(key.Signer())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		sshConfig:  sshConfig,
		dispatcher: dispatcher,
		handler:    handler,
		logger:     logger,
		workers:    semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the listening socket and begins accepting connections. The
// bind happens synchronously: a non-nil return means no listener state
// remains, a nil return means the socket is bound and serving.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server: already started")
	}

	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", addr, err)
	}
	s.ln = ln
	s.running = true
	s.logger.Info("listening", "addr", ln.Addr(), "methods", s.dispatcher.Methods(), "workers", s.cfg.Workers)

	s.wg.Add(1)
	go s.serve(ln)
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// serve accepts connections until the listener closes. Each connection
// takes a worker-pool slot for its whole lifetime, so with Workers == 1
// connection handling is fully serialized.
func (s *Server) serve(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", "error", err)
			}
			return
		}
		if err := s.workers.Acquire(s.ctx, 1); err != nil {
			// Shutting down.
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.workers.Release(1)
			s.handleConn(conn)
		}()
	}
}

// handleConn performs the handshake and services the connection's channels
// sequentially. Protocol violations terminate only this connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.logger.Debug("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	defer sshConn.Close()

	s.conns.Store(sshConn, struct{}{})
	defer s.conns.Delete(sshConn)

	user := session.KnownIdentity(sshConn.User())
	s.logger.Info("connection authenticated", "user", user, "remote", sshConn.RemoteAddr())

	// Global requests carry nothing we service.
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if err := session.Serve(nch, user, s.handler, s.logger); err != nil {
			s.logger.Warn("channel terminated", "user", user, "error", err)
		}
	}
	s.logger.Info("connection closed", "user", user, "remote", sshConn.RemoteAddr())
}

// Stop closes the listening socket and every open connection, then waits
// for the accept loop and in-flight sessions to finish. It does not
// preempt a handler that is already running, and it does not forcibly time
// out slow peers. The first close error encountered is returned.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.ln
	s.mu.Unlock()

	s.cancel()

	var closeErr error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		closeErr = fmt.Errorf("server: close listener: %w", err)
	}
	s.conns.Range(func(key, _ any) bool {
		conn := key.(*ssh.ServerConn)
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && closeErr == nil {
			closeErr = fmt.Errorf("server: close connection %s: %w", conn.RemoteAddr(), err)
		}
		return true
	})

	s.wg.Wait()
	s.logger.Info("stopped")
	return closeErr
}
