package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Family  string
	AsOf    int64
	History bool
	Output  string
	Rate    float64
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write datoms as JSON lines",
		Long: `Write the datoms of one index family as JSON lines, one object per
datom, in the family's sort order. The output is always JSON lines;
--format only affects the summary printed with --verbose.

The write rate is limited by export.rate_per_second in the configuration
or by --rate.

Examples:
  maggtomic export --db ./people.db > people.jsonl
  maggtomic export --db ./people.db --family AEVT --history -o history.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Family, "family", "EAVT", "index family (EAVT|AEVT|AVET|VAET)")
	cmd.Flags().Int64Var(&opts.AsOf, "as-of", 0, "transaction to export as of (default the basis)")
	cmd.Flags().BoolVar(&opts.History, "history", false, "include retractions and superseded assertions")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 0, "datoms per second (default from configuration)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	family, ok := datom.ParseFamily(opts.Family)
	if !ok {
		return NewExitError(ExitCommandError, "unknown family "+strings.ToUpper(opts.Family))
	}

	ctx := commandContext(cmd)
	conn, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer conn.Close()

	w := cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", err)
		}
		defer f.Close()
		w = f
	}

	cfg := conn.Config().Export
	rate := cfg.RatePerSecond
	if opts.Rate > 0 {
		rate = opts.Rate
	}
	stats, err := export.Write(ctx, w, conn, export.Options{
		Family:        family,
		AsOf:          resolveAsOf(conn, opts.AsOf),
		History:       opts.History,
		RatePerSecond: rate,
		Burst:         cfg.Burst,
		Ident:         conn.Ident,
	})
	out := opts.formatter(cmd)
	out.Writer = out.GetErrWriter()
	if err != nil {
		return out.StoreError("export failed", err)
	}
	if opts.Verbose {
		return out.Success(stats, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "exported %d datoms (%d bytes)\n", stats.Datoms, stats.Bytes)
			return err
		})
	}
	return nil
}
