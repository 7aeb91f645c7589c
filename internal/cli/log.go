package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/export"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	After int64
	UpTo  int64
	Tx    int64
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List committed transactions",
		Long: `List the datoms of committed transactions in commit order, including
retractions and each transaction's own provenance datoms.

Examples:
  maggtomic log --db ./people.db
  maggtomic log --db ./people.db --after 4398046511105 --up-to 4398046511107
  maggtomic log --db ./people.db --tx 4398046511106 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "list transactions after this one")
	cmd.Flags().Int64Var(&opts.UpTo, "up-to", 0, "list transactions up to this one (default the basis)")
	cmd.Flags().Int64Var(&opts.Tx, "tx", 0, "list a single transaction")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	conn, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer conn.Close()

	seq := conn.Log(ctx, datom.ID(opts.After), resolveAsOf(conn, opts.UpTo))
	if opts.Tx > 0 {
		seq = conn.TxData(ctx, datom.ID(opts.Tx))
	}

	out := opts.formatter(cmd)
	records := []export.Record{}
	var lines []string
	for d, err := range seq {
		if err != nil {
			return out.StoreError("read failed", err)
		}
		records = append(records, export.NewRecord(d, conn.Ident))
		lines = append(lines, d.Format(conn.Ident))
	}

	return out.Success(records, func(w io.Writer) error {
		for _, l := range lines {
			if _, err := fmt.Fprintln(w, l); err != nil {
				return err
			}
		}
		return nil
	})
}
