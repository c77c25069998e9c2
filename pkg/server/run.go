package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"
)

// Run loads the documents, starts every configured listener and blocks until
// ctx is cancelled or Shutdown is called. The store is closed on return.
func (s *Server) Run(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() {
		if err := s.store.Close(); err != nil {
			slog.Error("close store", "err", err)
		}
	}()
	if err := s.Load(); err != nil {
		return err
	}

	if err := s.Listen(); err != nil {
		return err
	}
	if s.cfg.RelayAddr != "" {
		if err := s.ListenRelay(); err != nil {
			s.Shutdown()
			return err
		}
	}
	var httpLn net.Listener
	if s.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			s.Shutdown()
			return fmt.Errorf("server: listen http: %w", err)
		}
		httpLn = ln
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	sched := s.newScheduler()
	sched.Start()
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx) })
	if s.cfg.RelayAddr != "" {
		g.Go(func() error { return s.relayLoop(gctx) })
	}
	if httpLn != nil {
		g.Go(func() error { return s.serveHTTP(gctx, httpLn) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		s.Shutdown()
		return nil
	})

	slog.Info("order hub running",
		"listen", s.cfg.ListenAddr,
		"relay", s.cfg.RelayAddr,
		"http", s.cfg.HTTPAddr,
	)
	return g.Wait()
}

// Shutdown stops accepting, closes the listeners and drops every connection.
// Safe to call more than once.
func (s *Server) Shutdown() {
	s.cancel()

	s.mu.Lock()
	ln, udp := s.listener, s.udpConn
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if udp != nil {
		_ = udp.Close()
	}

	for _, c := range s.conns.All() {
		s.disconnect(c, "shutdown")
	}
}
