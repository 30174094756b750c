package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/mail"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string        // TCP bind address (e.g. ":5000")
	DBPath      string        // SQLite database path
	TLS         bool          // serve the chat protocol over TLS
	CertFile    string        // TLS certificate file path
	KeyFile     string        // TLS private key file path
	DataDir     string        // directory for generated certs and data
	RoomsFile   string        // YAML file defining the room catalog
	MetricsAddr string        // HTTP bind address for /metrics endpoint (empty = disabled)
	SendTimeout time.Duration // write deadline for every frame sent to a peer
	MailTimeout time.Duration // upper bound for one validation email delivery

	// Rooms is the catalog used when RoomsFile is empty. Nil means DefaultRooms.
	Rooms []model.Room

	// CLI-only actions (run and exit)
	ExportUsers bool // export all users as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store    datastore.DataProviderFactory
	Mailer   mail.Mailer
	MailFrom string // sender address of validation emails
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":5000",
		MetricsAddr: ":5002",
		DBPath:      "roomchat.db",
		DataDir:     ".",
		SendTimeout: 5 * time.Second,
		MailTimeout: time.Minute,
	}
}

// RoomsConfig is the top-level YAML config for the room catalog.
type RoomsConfig struct {
	Rooms []model.Room `yaml:"rooms"`
}

// LoadRoomCatalog builds the catalog from cfg.RoomsFile, else cfg.Rooms,
// else DefaultRooms.
func LoadRoomCatalog(cfg Config) (*model.RoomCatalog, error) {
	switch {
	case cfg.RoomsFile != "":
		return LoadRoomsFromYAML(cfg.RoomsFile)
	case cfg.Rooms != nil:
		return model.NewRoomCatalog(cfg.Rooms)
	default:
		return model.NewRoomCatalog(model.DefaultRooms())
	}
}

// LoadRoomsFromYAML reads a rooms YAML file and builds the catalog.
func LoadRoomsFromYAML(path string) (*model.RoomCatalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return nil, fmt.Errorf("read rooms config: %w", err)
	}
	return ParseRoomsYAML(data)
}

// ParseRoomsYAML parses YAML data into a validated room catalog.
func ParseRoomsYAML(data []byte) (*model.RoomCatalog, error) {
	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rooms config: %w", err)
	}
	catalog, err := model.NewRoomCatalog(cfg.Rooms)
	if err != nil {
		return nil, fmt.Errorf("rooms config: %w", err)
	}
	return catalog, nil
}

// ExportRoomsYAML renders a catalog in the rooms file format.
func ExportRoomsYAML(catalog *model.RoomCatalog) ([]byte, error) {
	return yaml.Marshal(&RoomsConfig{Rooms: catalog.Rooms()})
}

// UserYAML represents a user in YAML export. Password hashes are never
// exported.
type UserYAML struct {
	Username    string `yaml:"username"`
	Name        string `yaml:"name"`
	Email       string `yaml:"email"`
	PhoneNumber string `yaml:"phone_number"`
	Active      bool   `yaml:"active"`
	CreatedAt   string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// ExportUsersYAML exports all users as YAML.
func ExportUsersYAML(ctx context.Context, st datastore.DataProviderFactory) ([]byte, error) {
	users, err := st.NonTx().ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			Username:    u.Username,
			Name:        u.Name,
			Email:       u.Email,
			PhoneNumber: u.PhoneNumber,
			Active:      u.Active,
			CreatedAt:   u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
