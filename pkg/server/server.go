// Package server implements the RoomChat server: sessions, the command
// dispatcher, room broadcast and the connection acceptor.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/NicolasHaas/roomchat/pkg/credential"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/mail"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

// Server is the main RoomChat server.
type Server struct {
	cfg      Config
	registry *Registry
	rooms    *model.RoomCatalog
	creds    *credential.Service
	mailer   mail.Mailer
	mailFrom string
	metrics  *Metrics
	store    datastore.DataProviderFactory
	commands map[string]commandHandler

	// mu serializes login, signup and session removal across all workers.
	mu sync.Mutex

	lnMu     sync.Mutex
	listener net.Listener
	workers  sync.WaitGroup // connection workers and email deliveries

	shutdownOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: missing store dependency")
	}

	rooms, err := LoadRoomCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("server: rooms: %w", err)
	}

	mailer := deps.Mailer
	if mailer == nil {
		mailer = &mail.LogMailer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		rooms:    rooms,
		creds:    credential.NewService(deps.Store),
		mailer:   mailer,
		mailFrom: deps.MailFrom,
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.commands = s.commandTable()
	return s, nil
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Rooms returns the room catalog.
func (s *Server) Rooms() *model.RoomCatalog {
	return s.rooms
}

// Credentials returns the credential and validation store.
func (s *Server) Credentials() *credential.Service {
	return s.creds
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the listener address once Serve has started, or nil.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
