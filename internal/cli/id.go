package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic/datom"
)

// IDRow is one converted id.
type IDRow struct {
	ID        int64  `json:"id"`
	Shared    string `json:"shared"`
	Partition string `json:"partition"`
}

// NewIDCommand creates the id command.
func NewIDCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "id <id>...",
		Short: "Convert between entity ids and shareable ids",
		Long: `Convert numeric entity ids to shareable ids and back. Shareable ids are
Crockford base32 with a two-digit checksum, hyphenated every five
characters; case is ignored and I, L and O are read as 1, 1 and 0.
Arguments made only of digits are read as entity ids.

The command does not open a store.

Example:
  maggtomic id 8796093022209 80000-00020-4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]IDRow, 0, len(args))
			for _, arg := range args {
				id, err := convertID(arg)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid id", err)
				}
				rows = append(rows, IDRow{ID: int64(id), Shared: datom.ShareID(id), Partition: id.Partition().String()})
			}
			return rootOpts.formatter(cmd).Success(rows, func(w io.Writer) error {
				for _, r := range rows {
					if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Shared, r.Partition); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func convertID(s string) (datom.ID, error) {
	if n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64); err == nil && !strings.Contains(s, "-") {
		if n < 0 {
			return 0, fmt.Errorf("id %d is negative", n)
		}
		return datom.ID(n), nil
	}
	return datom.ParseSharedID(s)
}
