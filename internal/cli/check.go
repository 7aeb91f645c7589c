package cli

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic/datom"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	AsOf int64
}

// FamilyStats summarizes one family in check output.
type FamilyStats struct {
	Rows     int64  `json:"rows"`
	Entities uint64 `json:"entities"`
}

// CheckResult is the output of the check command.
type CheckResult struct {
	AsOf       int64                  `json:"as_of"`
	Consistent bool                   `json:"consistent"`
	Families   map[string]FamilyStats `json:"families"`
	Problems   []string               `json:"problems,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that the index families agree",
		Long: `Verify that the four index families hold the same committed datoms as
of a transaction: AEVT equals EAVT, AVET equals EAVT restricted to
indexed attributes, and VAET equals EAVT restricted to references.

Exits with status 1 when the families disagree.

Example:
  maggtomic check --db ./people.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.AsOf, "as-of", 0, "transaction to check as of (default the basis)")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	conn, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer conn.Close()

	out := opts.formatter(cmd)
	rep, err := conn.Check(ctx, resolveAsOf(conn, opts.AsOf))
	if err != nil {
		return out.StoreError("check failed", err)
	}

	res := CheckResult{
		AsOf:       int64(rep.AsOf),
		Consistent: rep.OK(),
		Families:   make(map[string]FamilyStats, len(rep.Families)),
		Problems:   rep.Problems,
	}
	for f, s := range rep.Families {
		fs := FamilyStats{Rows: s.Rows}
		if s.Entities != nil {
			fs.Entities = s.Entities.GetCardinality()
		}
		res.Families[f.String()] = fs
	}

	err = out.Success(res, func(w io.Writer) error {
		state := "consistent"
		if !res.Consistent {
			state = "INCONSISTENT"
		}
		fmt.Fprintf(w, "%s as of %d\n", state, res.AsOf)
		for _, f := range datom.Families {
			if s, ok := res.Families[f.String()]; ok {
				fmt.Fprintf(w, "  %s  %d rows, %d entities\n", f, s.Rows, s.Entities)
			}
		}
		for _, p := range res.Problems {
			fmt.Fprintf(w, "  problem: %s\n", p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !res.Consistent {
		return NewExitError(ExitFailure, "index families disagree: "+strings.Join(res.Problems, "; "))
	}
	return nil
}

// AttributeRow describes one attribute in stats output.
type AttributeRow struct {
	ID      int64  `json:"id"`
	Ident   string `json:"ident"`
	Indexed bool   `json:"indexed"`
	Many    bool   `json:"many"`
}

// StatsResult is the output of the stats command.
type StatsResult struct {
	Path        string           `json:"path"`
	Basis       int64            `json:"basis"`
	Rows        map[string]int64 `json:"rows"`
	Interned    int64            `json:"interned"`
	RawBytes    int64            `json:"raw_bytes"`
	StoredBytes int64            `json:"stored_bytes"`
	Reserved    map[string]int64 `json:"reserved"`
	Attributes  []AttributeRow   `json:"attributes"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Long: `Show row counts per index family, value interning statistics, the
allocator's reserved id marks and the installed attributes.

Example:
  maggtomic stats --db ./people.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	conn, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer conn.Close()

	out := opts.formatter(cmd)
	counts, err := conn.Counts(ctx)
	if err != nil {
		return out.StoreError("stats failed", err)
	}

	res := StatsResult{
		Path:        conn.Config().Path,
		Basis:       int64(conn.Basis()),
		Rows:        make(map[string]int64, len(counts.Rows)),
		Interned:    counts.Interned,
		RawBytes:    counts.RawBytes,
		StoredBytes: counts.StoredBytes,
		Reserved:    make(map[string]int64),
	}
	for f, n := range counts.Rows {
		res.Rows[f.String()] = n
	}
	for s, mark := range conn.Reserved() {
		res.Reserved[s.String()] = mark
	}
	for _, a := range conn.Attributes() {
		res.Attributes = append(res.Attributes, AttributeRow{ID: int64(a.ID), Ident: a.Ident, Indexed: a.Indexed, Many: a.Many})
	}
	slices.SortFunc(res.Attributes, func(x, y AttributeRow) int { return cmp.Compare(x.ID, y.ID) })

	return out.Success(res, func(w io.Writer) error {
		fmt.Fprintf(w, "store %s at basis %d\n", res.Path, res.Basis)
		for _, f := range datom.Families {
			fmt.Fprintf(w, "  %s  %d rows\n", f, res.Rows[f.String()])
		}
		fmt.Fprintf(w, "  interned values: %d (%d bytes, %d stored)\n", res.Interned, res.RawBytes, res.StoredBytes)
		for _, s := range slices.Sorted(maps.Keys(res.Reserved)) {
			fmt.Fprintf(w, "  reserved %s ids: %d\n", s, res.Reserved[s])
		}
		fmt.Fprintln(w, "attributes:")
		for _, a := range res.Attributes {
			var flags []string
			if a.Indexed {
				flags = append(flags, "indexed")
			}
			if a.Many {
				flags = append(flags, "many")
			}
			fmt.Fprintf(w, "  %d  :%s  %s\n", a.ID, a.Ident, strings.Join(flags, ","))
		}
		return nil
	})
}
