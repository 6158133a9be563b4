// Command rosterd is the daemon entrypoint: it wires config, storage, the
// event bus, every domain manager (C5-C10), the plugin runtime (C11), the
// stanza pipeline, and the connection manager together and runs until
// signaled to stop. This replaces the teacher's cmd/roster, which wired the
// same backend into a Bubble Tea TUI — a Non-goal here (spec §1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/config"
	"github.com/waddlechat/waddle/internal/connection"
	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/logging"
	"github.com/waddlechat/waddle/internal/mam"
	"github.com/waddlechat/waddle/internal/message"
	"github.com/waddlechat/waddle/internal/muc"
	"github.com/waddlechat/waddle/internal/offlinequeue"
	"github.com/waddlechat/waddle/internal/pipeline"
	"github.com/waddlechat/waddle/internal/plugin"
	"github.com/waddlechat/waddle/internal/presence"
	"github.com/waddlechat/waddle/internal/roster"
	"github.com/waddlechat/waddle/internal/storage"
	"github.com/waddlechat/waddle/internal/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rosterd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()

	accounts, err := config.LoadAccounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	account, err := selectAccount(accounts)
	if err != nil {
		return err
	}

	self, err := jid.Parse(account.JID)
	if err != nil {
		return fmt.Errorf("invalid account jid: %w", err)
	}

	db, err := sqlite.New(cfg.General.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	var store storage.Store = db

	bus := eventbus.New(eventbus.DefaultCapacity)

	pl := pipeline.New(log,
		pipeline.NewRosterProcessor(time.Now),
		pipeline.NewPresenceProcessor(time.Now),
		pipeline.NewMessageProcessor(time.Now),
		pipeline.NewChatStateProcessor(time.Now),
		pipeline.NewMucProcessor(time.Now),
		pipeline.NewMamProcessor(time.Now),
		pipeline.NewDebugProcessor(log),
	)

	conn, err := connection.New(connection.Config{
		JID:      account.JID,
		Password: account.Password,
		Server:   account.Server,
		Port:     account.Port,
		Resource: account.Resource,
		Priority: account.Priority,
	}, bus, pl, log)
	if err != nil {
		return fmt.Errorf("init connection manager: %w", err)
	}

	rosterBus := roster.NewBusManager(store, bus, self, log)
	presenceBus := presence.NewBusManager(bus, self, log)
	messageBus := message.NewBusManager(store, bus, self, log)
	mucBus := muc.NewBusManager(store, bus, log)
	mamMgr := mam.NewManager(store, bus, log)
	offlineQueue := offlinequeue.New(store, bus, log)
	router := pipeline.NewRouter(bus, conn, log)

	pluginHost := plugin.NewHost(bus, log)
	if err := loadPlugins(context.Background(), pluginHost, cfg.Plugins); err != nil {
		log.Error("loading plugins", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Run(ctx) })
	g.Go(func() error { return router.Run(ctx) })
	g.Go(func() error { return rosterBus.Run(ctx) })
	g.Go(func() error { return presenceBus.Run(ctx) })
	g.Go(func() error { return messageBus.Run(ctx) })
	g.Go(func() error { return mucBus.Run(ctx) })
	g.Go(func() error { return mamMgr.Run(ctx) })
	g.Go(func() error { return offlineQueue.Run(ctx) })
	g.Go(func() error { return pluginHost.Run(ctx) })
	g.Go(func() error { return watchShutdown(ctx, bus, stop) })

	log.Info("rosterd starting", "jid", self.String())
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("rosterd exited: %w", err)
	}
	log.Info("rosterd stopped")
	return nil
}

// selectAccount picks the first auto-connect account, or the only account
// if exactly one is configured.
func selectAccount(accounts *config.AccountsConfig) (*config.Account, error) {
	if len(accounts.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	for i := range accounts.Accounts {
		if accounts.Accounts[i].AutoConnect {
			return &accounts.Accounts[i], nil
		}
	}
	return &accounts.Accounts[0], nil
}

// loadPlugins loads every enabled plugin's manifest.toml + plugin.wasm pair
// from <plugin_dir>/<name>/ (spec §4.10).
func loadPlugins(ctx context.Context, host *plugin.Host, cfg config.PluginsConfig) error {
	for _, name := range cfg.Enabled {
		dir := filepath.Join(cfg.PluginDir, name)
		manifestBytes, err := os.ReadFile(filepath.Join(dir, "manifest.toml"))
		if err != nil {
			return fmt.Errorf("plugin %s: read manifest: %w", name, err)
		}
		wasmBytes, err := os.ReadFile(filepath.Join(dir, "plugin.wasm"))
		if err != nil {
			return fmt.Errorf("plugin %s: read wasm: %w", name, err)
		}
		if err := host.Load(ctx, manifestBytes, wasmBytes); err != nil {
			return fmt.Errorf("plugin %s: load: %w", name, err)
		}
	}
	return nil
}

// watchShutdown stops the group when a ShutdownRequested event crosses the
// bus (spec §4.3: connection manager requests shutdown on auth failure).
func watchShutdown(ctx context.Context, bus *eventbus.Bus, stop context.CancelFunc) error {
	sub, err := bus.Subscribe(event.ChSystemShutdownRequested)
	if err != nil {
		return err
	}
	ev, err := sub.Recv(ctx)
	if err != nil {
		return nil
	}
	if _, ok := ev.Payload.(event.ShutdownRequested); ok {
		stop()
	}
	return nil
}
