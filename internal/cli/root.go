package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/laurels/internal/catalog"
	"github.com/roach88/laurels/internal/config"
	"github.com/roach88/laurels/internal/engine"
	"github.com/roach88/laurels/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	EnvFile    string
	Database   string
	Catalog    string

	// Engine options appended after the defaults (for testing).
	EngineOptions []engine.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the laurels CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "laurels",
		Short: "laurels - achievement and rank awarding",
		Long: `Awards badges for user activity: scarce founder ranks drawn from
fixed pools, and progress badges granted when a counter crosses a threshold.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "path to .env file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Catalog, "catalog", "", "path to CUE catalog (default: embedded catalog)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewBadgesCommand(opts))
	cmd.AddCommand(NewNextCommand(opts))
	cmd.AddCommand(NewPoolsCommand(opts))
	cmd.AddCommand(NewDeadLetterCommand(opts))
	cmd.AddCommand(NewAdminCommand(opts))

	return cmd
}

// loadConfig resolves settings: config file and environment first, then any
// flag the user set explicitly.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.ConfigFile, o.EnvFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = o.Database
	}
	if flags.Changed("catalog") {
		cfg.Catalog = o.Catalog
	}
	return cfg, nil
}

// logger builds the command's logger. Logs always go to stderr so JSON
// output stays clean.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if o.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadCatalog loads path, or the embedded default when path is empty.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// session is an open store with an engine over it.
type session struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// openSession loads the catalog, opens the database, and starts an engine.
// Catalog and reconciliation failures are command errors.
func (o *RootOptions) openSession(ctx context.Context, cmd *cobra.Command, cfg config.Config, dir engine.Directory) (*session, error) {
	logger := o.logger(cmd.ErrOrStderr())

	c, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	if dir == nil {
		dir = engine.NewStaticDirectory()
	}
	opts := append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithRetryPolicy(cfg.RetryPolicy()),
	}, o.EngineOptions...)

	eng, err := engine.New(ctx, st, c, dir, opts...)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "catalog does not match database", err)
	}
	return &session{store: st, engine: eng, logger: logger}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
