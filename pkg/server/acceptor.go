package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
)

// Serve accepts connections on ln until the listener is closed, running one
// worker goroutine per connection. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.lnMu.Lock()
	s.listener = ln
	s.lnMu.Unlock()

	slog.Info("chat listener ready", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			continue
		}

		if !s.addWorker() {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.workers.Done()
			s.handleConn(conn)
		}()
	}
}

// addWorker counts a new connection worker unless shutdown has begun.
// shutdown cancels under lnMu, so a worker added here is always waited for.
func (s *Server) addWorker() bool {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.workers.Add(1)
	return true
}

// handleConn runs the worker loop of one connection.
func (s *Server) handleConn(conn net.Conn) {
	sess := newSession(conn, s.cfg.SendTimeout)
	s.registry.Add(sess)
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	sess.log().Debug("client connected")

	defer func() {
		s.removeSession(sess)
		_ = sess.Close()
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		sess.log().Info("client disconnected")
	}()

	// shutdown may have taken its session snapshot before Add
	if s.ctx.Err() != nil {
		return
	}

	for {
		raw, err := sess.ch.ReceiveRaw()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			sess.log().Warn("read failed", "err", err)
			return
		}

		var req pb.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			sess.log().Warn("malformed request", "err", fmt.Errorf("%w: %v", protocol.ErrMalformedFrame, err))
			return
		}

		if !s.serveRequest(sess, &req) {
			return
		}
	}
}

// serveRequest dispatches one request and writes its response, if any.
// It returns false when the session must be torn down.
func (s *Server) serveRequest(sess *Session, req *pb.Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sess.log().Error("handler panic", "command", req.Command, "panic", r, "stack", string(debug.Stack()))
			ok = false
		}
	}()

	resp, hasResp := s.Dispatch(s.ctx, sess, req)
	if !hasResp {
		return true
	}
	if err := sess.Send(resp); err != nil {
		sess.log().Warn("response write failed", "command", req.Command, "err", err)
		return false
	}
	return true
}

// removeSession drops sess from the registry and, if it was in a room,
// tells the room it left. Removing a session twice is a no-op.
func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	removed := s.registry.Remove(sess)
	s.mu.Unlock()
	if !removed {
		return
	}

	if !sess.Authenticated() {
		return
	}
	if prev := sess.setRoom(""); prev != "" {
		s.notifyPresence(sess, prev, "")
	}
}
