package imap

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/mail-bridge/internal/directory"
	"github.com/shineum/mail-bridge/internal/store"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an IMAP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":1143").
	ListenAddr string

	// Domain is the mail domain used in the greeting.
	Domain string

	// Directory authenticates users.
	Directory *directory.Directory

	// Store holds the raw inbound messages.
	Store store.Store

	// Prefix scopes the store scan to inbound messages.
	Prefix string

	// TLSConfig enables implicit TLS on the listener when set.
	TLSConfig *tls.Config
}

// Server is an IMAP server that accepts connections and answers mailbox
// queries from the message store.
type Server struct {
	config   ServerConfig
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new IMAP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	return &Server{config: cfg}
}

// ListenAndServe starts the IMAP server and blocks until the context is
// cancelled. On context cancellation, it stops accepting new connections
// and waits up to 30 seconds for in-flight sessions to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}
	s.listener = ln

	slog.Info("IMAP server listening",
		"addr", ln.Addr().String(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	// Monitor context for shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down IMAP server")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown
				s.waitForSessions()
				return nil
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session := NewSession(
				conn,
				s.config.Directory,
				s.config.Store,
				s.config.Prefix,
				s.config.Domain,
			)
			session.Handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
