// Package cli implements the nlink command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/nlink/pkg/buildinfo"
	"github.com/matzehuels/nlink/pkg/cache"
	"github.com/matzehuels/nlink/pkg/config"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/observability"
	"github.com/matzehuels/nlink/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "nlink"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
	LogWarn  = log.WarnLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// ConfigPath is the --config flag; empty means defaults only.
	ConfigPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "nlink",
		Short: "nlink analyzes N-link basins of a link graph",
		Long: `nlink follows the Nth link of every page of a link graph. Under a fixed N
every page has at most one successor, so every page ends in HALT or a cycle.
nlink finds the cycles, maps their basins of attraction, measures how
trunk-like each basin is, and classifies pages whose basin changes with N.`,
		Version:      buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.ConfigPath, "config", "", "config file (.toml or .yaml)")

	// Register all subcommands
	root.AddCommand(c.importCommand())
	root.AddCommand(c.traceCommand())
	root.AddCommand(c.cyclesCommand())
	root.AddCommand(c.basinCommand())
	root.AddCommand(c.analyzeCommand())
	root.AddCommand(c.classifyCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Config
// =============================================================================

// loadConfig reads --config, or returns the defaults without one.
func (c *CLI) loadConfig() (*config.Config, error) {
	if c.ConfigPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("loaded config", "path", c.ConfigPath)
	return cfg, nil
}

// =============================================================================
// Store Flags
// =============================================================================

// storeFlags selects the link store of an analysis command.
type storeFlags struct {
	links      string
	pages      string
	db         string
	postgres   string
	linksTable string
	pagesTable string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.links, "links", "", "link-sequence file (.jsonl or .tsv)")
	cmd.Flags().StringVar(&f.pages, "pages", "", "page table file (.jsonl or .tsv)")
	cmd.Flags().StringVar(&f.db, "db", "", "link store directory written by 'nlink import'")
	cmd.Flags().StringVar(&f.postgres, "postgres", "", "Postgres connection string")
	cmd.Flags().StringVar(&f.linksTable, "links-table", "", "Postgres link-sequence table")
	cmd.Flags().StringVar(&f.pagesTable, "pages-table", "", "Postgres page table")
	cmd.MarkFlagsMutuallyExclusive("links", "db", "postgres")
}

// apply overrides config values with flags given on the command line.
func (f *storeFlags) apply(cmd *cobra.Command, cfg *config.StoreConfig) {
	override(cmd, "links", &cfg.Links, f.links)
	override(cmd, "pages", &cfg.Pages, f.pages)
	override(cmd, "db", &cfg.DB, f.db)
	override(cmd, "postgres", &cfg.Postgres, f.postgres)
	override(cmd, "links-table", &cfg.LinksTable, f.linksTable)
	override(cmd, "pages-table", &cfg.PagesTable, f.pagesTable)
	// a store chosen on the command line replaces the config file's
	switch {
	case cmd.Flags().Changed("links"):
		cfg.DB, cfg.Postgres = "", ""
	case cmd.Flags().Changed("db"):
		cfg.Links, cfg.Postgres = "", ""
	case cmd.Flags().Changed("postgres"):
		cfg.Links, cfg.DB = "", ""
	}
}

func override[T any](cmd *cobra.Command, name string, dst *T, v T) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}

// openStore opens the configured link store.
func (c *CLI) openStore(ctx context.Context, cfg *config.Config) (linkstore.Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	s := cfg.Store
	start := time.Now()
	var (
		store   linkstore.Store
		backend string
		err     error
	)
	switch {
	case s.Links != "":
		backend = "file"
		store, err = linkstore.Load(s.Links, s.Pages)
	case s.DB != "":
		backend = "badger"
		bcfg := linkstore.DefaultBadgerConfig(s.DB)
		bcfg.ReadOnly = true
		bcfg.Logger = c.Logger
		store, err = linkstore.OpenBadger(bcfg)
	default:
		backend = "postgres"
		opts := linkstore.DefaultPostgresOptions()
		if s.LinksTable != "" {
			opts.LinksTable = s.LinksTable
		}
		if s.PagesTable != "" {
			opts.PagesTable = s.PagesTable
		}
		store, err = linkstore.LoadPostgres(ctx, s.Postgres, opts)
	}

	pages := 0
	if err == nil {
		pages = store.Len()
	}
	observability.Store().OnStoreLoad(ctx, backend, pages, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("open %s link store: %w", backend, err)
	}
	c.Logger.Info("opened link store", "backend", backend, "pages", pages, "duration", time.Since(start))
	return store, nil
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner for CLI use.
func (c *CLI) newRunner(ctx context.Context, cfg config.CacheConfig, noCache bool) (*pipeline.Runner, error) {
	ch, err := c.newCache(ctx, cfg, noCache)
	if err != nil {
		return nil, err
	}
	var keyer cache.Keyer
	if cfg.Prefix != "" {
		keyer = cache.NewScopedKeyer(nil, cfg.Prefix)
	}
	return pipeline.NewRunner(ch, keyer, c.Logger), nil
}

func (c *CLI) newCache(ctx context.Context, cfg config.CacheConfig, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	switch cfg.Backend {
	case "none":
		return cache.NewNullCache(), nil
	case "redis":
		return cache.NewRedisCache(ctx, cache.RedisConfig{URL: cfg.Redis})
	}
	dir := cfg.Dir
	if dir == "" {
		var err error
		if dir, err = cacheDir(); err != nil {
			c.Logger.Warn("no cache directory, caching disabled", "err", err)
			return cache.NewNullCache(), nil
		}
	}
	return cache.NewFileCache(dir)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/nlink/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
