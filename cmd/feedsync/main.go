package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pders01/feedsync/internal/config"
	"github.com/pders01/feedsync/internal/debuglog"
	"github.com/pders01/feedsync/internal/feed"
	"github.com/pders01/feedsync/internal/storage"
	"github.com/pders01/feedsync/internal/validation"
)

// Version is the version of the application, set at build time
var Version = "dev"

// app holds the global flags and the state shared by subcommands.
type app struct {
	configPath  string
	dbPath      string
	backend     string
	sourcesPath string
	logLevel    string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "feedsync",
		Short: "Synchronize RSS, Atom and JSON feeds into a local store",
		Long: `feedsync fetches the feeds listed in feeds.yaml, reconciles new entries
into a local database and keeps per-entry read state.

Example usage:
  feedsync sync                          # Sync every configured feed once
  feedsync watch --interval 30m          # Sync periodically until interrupted
  feedsync feeds                         # List feeds with unread counts
  feedsync read https://example.org/rss  # Mark a feed read`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			debuglog.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	flags.StringVar(&a.dbPath, "db", "", "database path (overrides config)")
	flags.StringVar(&a.backend, "backend", "", "storage backend: bolt or sqlite (overrides config)")
	flags.StringVar(&a.sourcesPath, "feeds", "", "feeds.yaml path (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error, off")

	root.AddCommand(
		a.syncCmd(),
		a.refreshCmd(),
		a.watchCmd(),
		a.feedsCmd(),
		a.entriesCmd(),
		a.readCmd(),
		a.resetIconCmd(),
		generateConfigCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.backend != "" {
		cfg.Database.Backend = a.backend
	}
	if a.sourcesPath != "" {
		cfg.Feed.Sources = a.sourcesPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var logFile []string
	if cfg.Log.File != "" {
		logFile = append(logFile, cfg.Log.File)
	}
	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), logFile...); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	a.cfg = cfg
	return nil
}

// withManager opens the store and sources, runs fn and closes everything.
func (a *app) withManager(opts []feed.Option, fn func(m *feed.Manager, store storage.Store) error) error {
	sources, err := config.LoadSources(a.cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(a.cfg.Database.Backend, a.cfg.Database.Path, a.cfg.Database.Timeout)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	m := feed.NewManager(store, a.cfg, sources, opts...)
	defer m.Close()
	return fn(m, store)
}

// feedArg normalizes a feed URL argument the way sources are normalized.
func feedArg(raw string) (string, error) {
	return validation.NewPermissiveURLValidator().ValidateAndNormalize(raw)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
