package cli

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic/internal/harness"
)

// TransactOptions holds flags for the transact command.
type TransactOptions struct {
	*RootOptions
	File string
}

// TransactResult is the output of the transact command.
type TransactResult struct {
	Tx      int64            `json:"tx"`
	Basis   int64            `json:"basis_before"`
	Tempids map[string]int64 `json:"tempids"`
	Datoms  []string         `json:"datoms"`
}

// NewTransactCommand creates the transact command.
func NewTransactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transact",
		Short: "Commit a transaction from a YAML file",
		Long: `Commit the datoms of a YAML transaction file in one transaction.

The file lists [op, entity, attribute, value] entries and optional
metadata asserted on the transaction entity:

  metadata:
    tx/source: import
  datoms:
    - [assert, $alice, person/name, Alice]
    - [assert, $alice, person/friend, {ref: $bob}]
    - [retract, 8796093022209, person/name, Old]

Example:
  maggtomic transact --db ./people.db -f people.yaml
  cat people.yaml | maggtomic transact --db ./people.db -f -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransact(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "transaction file, - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runTransact(opts *TransactOptions, cmd *cobra.Command) error {
	var (
		data []byte
		err  error
	)
	if opts.File == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(opts.File)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transaction", err)
	}
	doc, err := harness.ParseTxDoc(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid transaction file", err)
	}
	req, err := doc.Request(harness.Labels{})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid transaction file", err)
	}

	ctx := commandContext(cmd)
	conn, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer conn.Close()

	out := opts.formatter(cmd)
	rep, err := conn.Transact(ctx, req)
	if err != nil {
		return out.StoreError("transaction rejected", err)
	}

	res := TransactResult{
		Tx:      int64(rep.TxID),
		Basis:   int64(rep.BasisBefore),
		Tempids: make(map[string]int64, len(rep.Tempids)),
	}
	for label, id := range rep.Tempids {
		res.Tempids[label] = int64(id)
	}
	for _, d := range rep.Datoms {
		res.Datoms = append(res.Datoms, d.Format(conn.Ident))
	}
	out.VerboseLog("committed %d datoms in tx %d", len(res.Datoms), res.Tx)

	return out.Success(res, func(w io.Writer) error {
		fmt.Fprintf(w, "tx %d: %d datoms\n", res.Tx, len(res.Datoms))
		for _, label := range slices.Sorted(maps.Keys(res.Tempids)) {
			fmt.Fprintf(w, "  $%s = %d\n", label, res.Tempids[label])
		}
		if opts.Verbose {
			for _, d := range res.Datoms {
				fmt.Fprintf(w, "  %s\n", d)
			}
		}
		return nil
	})
}
