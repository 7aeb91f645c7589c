package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// InitResult is the output of the init command.
type InitResult struct {
	Path       string `json:"path"`
	Basis      int64  `json:"basis"`
	Attributes int    `json:"attributes"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a store",
		Long: `Create a store and commit its genesis transaction. Running init on an
existing store only reports its basis.

Example:
  maggtomic init --db ./people.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := rootOpts.open(commandContext(cmd), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer conn.Close()

			res := InitResult{
				Path:       conn.Config().Path,
				Basis:      int64(conn.Basis()),
				Attributes: len(conn.Attributes()),
			}
			return rootOpts.formatter(cmd).Success(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "store %s ready at basis %d (%d attributes)\n", res.Path, res.Basis, res.Attributes)
				return err
			})
		},
	}
}
