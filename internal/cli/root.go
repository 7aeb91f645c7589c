package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic"
	"github.com/polyneme/maggtomic/config"
	"github.com/polyneme/maggtomic/tx"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	ConfigFile string

	// Now and Labels override the store's clock and anonymous entity
	// labels (for testing). Nil means the defaults.
	Now    func() time.Time
	Labels tx.LabelGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the maggtomic CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maggtomic",
		Short: "maggtomic - an immutable datom store",
		Long: `An append-only store of entity-attribute-value-transaction facts with
as-of queries over four covering indexes.

The store is selected by --db, then the path in --config, then the
MAGGTOMIC_DB environment variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the store")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "configuration file (.yaml or .cue)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewTransactCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewCurrentCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewIDCommand(opts))

	return cmd
}

// loadConfig resolves the configuration from the global flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	var cfg config.Config
	if o.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(o.ConfigFile); err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}
	if o.Database != "" {
		cfg.Path = o.Database
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// open opens the store the global flags select. Logs go to logw.
func (o *RootOptions) open(ctx context.Context, logw io.Writer) (*maggtomic.Conn, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	if !o.Verbose {
		if level, _ := cfg.Log.SlogLevel(); level < slog.LevelWarn {
			cfg.Log.Level = "warn"
		}
	}
	log, err := maggtomic.NewLogger(logw, cfg.Log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	conn, err := maggtomic.Open(ctx, maggtomic.Options{
		Config: cfg,
		Logger: log,
		Now:    o.Now,
		Labels: o.Labels,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return conn, nil
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
