package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// ErrAlreadyAuthenticated is returned by Bind on a session that is already
// logged in. Reaching it means a handler skipped its own checks.
var ErrAlreadyAuthenticated = errors.New("server: session already authenticated")

// Session is the server-side state of one connected peer.
//
// username and name are set together, once, by Bind. room is empty until the
// session enters a room from the catalog.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	seq    uint64 // registry insertion order
	conn   net.Conn
	ch     *protocol.Channel
	logger *slog.Logger

	mu       sync.RWMutex
	username string
	name     string
	room     string

	closeOnce sync.Once
}

// SessionSnapshot is a copy of a session's mutable fields.
type SessionSnapshot struct {
	ID       string
	Username string
	Name     string
	Room     string
}

func newSession(conn net.Conn, sendTimeout time.Duration) *Session {
	id := uuid.NewString()
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		ID:          id,
		RemoteAddr:  remote,
		ConnectedAt: time.Now(),
		conn:        conn,
		ch:          protocol.NewChannel(conn, sendTimeout),
		logger:      slog.With("session", id, "remote", remote),
	}
}

// Bind authenticates the session as username with display name.
func (s *Session) Bind(username, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.username != "" {
		return ErrAlreadyAuthenticated
	}
	s.username = username
	s.name = name
	s.logger = s.logger.With("user", username)
	return nil
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// Authenticated reports whether Bind has succeeded.
func (s *Session) Authenticated() bool {
	return s.Username() != ""
}

// Snapshot returns a consistent copy of the session's identity and room.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		ID:       s.ID,
		Username: s.username,
		Name:     s.name,
		Room:     s.room,
	}
}

// setRoom moves the session to room and returns the previous room.
// Callers validate room against the catalog.
func (s *Session) setRoom(room string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.room
	s.room = room
	return prev
}

func (s *Session) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Send writes one frame to the peer. Frames from concurrent senders never
// interleave; a write that exceeds the send timeout fails.
func (s *Session) Send(v any) error {
	return s.ch.Send(v)
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
