package server

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	ln, err := listen(s.cfg)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ln) }()

	slog.Info("RoomChat server running",
		"addr", s.cfg.ListenAddr,
		"tls", s.cfg.TLS,
		"rooms", s.rooms.Names(),
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		slog.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			s.Shutdown()
			return err
		}
	}
	s.Shutdown()
	return nil
}

// Shutdown stops accepting, closes every session, waits for workers and
// pending email deliveries, then closes the store. Safe to call more than
// once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.lnMu.Lock()
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.lnMu.Unlock()

	for _, sess := range s.registry.Snapshot() {
		_ = sess.Close()
	}
	s.workers.Wait()

	if err := s.store.Close(); err != nil {
		slog.Error("close store", "err", err)
	}
}
