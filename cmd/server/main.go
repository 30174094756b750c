package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/logging"
	"github.com/NicolasHaas/roomchat/pkg/mail"
	"github.com/NicolasHaas/roomchat/pkg/server"
	"github.com/NicolasHaas/roomchat/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	logDefaults, err := logging.LoadOptionsFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging environment: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP bind address of the chat protocol")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.BoolVar(&cfg.TLS, "tls", false, "Serve the chat protocol over TLS")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	flag.StringVar(&cfg.RoomsFile, "rooms-file", "", "YAML file defining the room catalog")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "Write deadline for each frame sent to a client")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	exportRooms := flag.Bool("export-rooms", false, "Print the room catalog as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", logDefaults.Level, "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", logDefaults.Format, "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("roomchat-server"))
		return
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *exportRooms {
		if err := printRooms(cfg); err != nil {
			slog.Error("export rooms", "err", err)
			os.Exit(1)
		}
		return
	}

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	if cfg.ExportUsers {
		data, err := server.ExportUsersYAML(context.Background(), st)
		_ = st.Close()
		if err != nil {
			slog.Error("export users", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	mailCfg, err := mail.LoadConfigFromEnv()
	if err != nil {
		slog.Error("mail config", "err", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, server.Dependencies{
		Store:    st,
		Mailer:   mail.New(mailCfg),
		MailFrom: mailCfg.Address,
	})
	if err != nil {
		_ = st.Close()
		slog.Error("create server", "err", err)
		os.Exit(1)
	}
	slog.Info("starting", "version", version.Full())
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func printRooms(cfg server.Config) error {
	catalog, err := server.LoadRoomCatalog(cfg)
	if err != nil {
		return err
	}
	data, err := server.ExportRoomsYAML(catalog)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
