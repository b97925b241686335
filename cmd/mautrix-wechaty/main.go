// Copyright 2024-2026 Aiku AI

// Command mautrix-wechaty runs the Matrix side of a Wechaty appservice: it
// keeps the identity and direct room bookkeeping for bridged accounts and
// exposes it through an admin HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"maunium.net/go/mautrix/appservice"

	"github.com/aiku/mautrix-wechaty/pkg/adminapi"
	"github.com/aiku/mautrix-wechaty/pkg/config"
	"github.com/aiku/mautrix-wechaty/pkg/manager"
	"github.com/aiku/mautrix-wechaty/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath  = flag.StringP("config", "c", "config.yaml", "Path to the config file")
	noUpdate    = flag.Bool("no-update", false, "Don't save the upgraded config back to disk")
	showVersion = flag.BoolP("version", "v", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("mautrix-wechaty %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}

	cfg, err := config.Load(*configPath, !*noUpdate)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(10)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(cfg.Logging.Level()).
		With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Appservice stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	reg, err := appservice.LoadRegistration(cfg.AppService.Registration)
	if err != nil {
		return fmt.Errorf("failed to load registration: %w", err)
	}

	as, err := appservice.CreateFull(appservice.CreateOpts{
		Registration:     reg,
		HomeserverDomain: cfg.Homeserver.Domain,
		HomeserverURL:    cfg.Homeserver.Address,
		HostConfig: appservice.HostConfig{
			Hostname: cfg.AppService.Hostname,
			Port:     cfg.AppService.Port,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create appservice: %w", err)
	}
	as.Log = log.With().Str("component", "appservice").Logger()

	var st store.Store
	if cfg.Database.Path != "" {
		if st, err = store.NewSQLiteStore(cfg.Database.Path, log); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("No database path configured, keeping state in memory")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	membership, err := manager.NewNamespaceMembership(reg)
	if err != nil {
		return err
	}
	intents := manager.NewIntentProvisioner(as, log)
	mgr, err := manager.New(manager.Params{
		Store:      st,
		Rooms:      intents,
		Sender:     intents,
		Membership: membership,
		Options: manager.Options{
			BotLocalpart:     reg.SenderLocalpart,
			Domain:           cfg.Homeserver.Domain,
			VirtualLocalpart: cfg.Bridge.VirtualLocalpart,
			RoomNamePostfix:  cfg.Bridge.RoomNamePostfix,
			DirectRoomName:   cfg.Bridge.DirectRoomName,
		},
		Log: log,
	})
	if err != nil {
		return err
	}

	if err := mgr.EnsureUser(ctx, mgr.BotUserID()); err != nil {
		return fmt.Errorf("failed to create bot user entry: %w", err)
	}
	if err := mgr.VerifyBotUser(ctx); err != nil {
		return err
	}
	enabled, err := mgr.EnabledUsers(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Stringer("bot_mxid", mgr.BotUserID()).
		Int("enabled_users", len(enabled)).
		Msg("Appservice manager ready")

	go as.Start()
	defer as.Stop()

	if cfg.AdminAPI.Address == "" {
		<-ctx.Done()
		return nil
	}

	server := adminapi.New(mgr, log).HTTPServer(cfg.AdminAPI.Address)
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.AdminAPI.Address).Msg("Starting admin API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("admin API failed: %w", err)
		}
		return nil
	}
}
