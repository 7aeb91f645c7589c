package cli

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic"
	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Find     []string
	AsOf     int64
	Prefixes map[string]string
}

// QueryResult is the output of the query command.
type QueryResult struct {
	AsOf    int64               `json:"as_of"`
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <pattern>...",
		Short: "Match datom patterns",
		Long: `Match a conjunction of [e a v t] patterns and print the bindings.

Each argument is one pattern of three or four terms separated by spaces:
?name is a variable, _ matches anything, :ns/name is an ident, #123 an
entity id, "text" a string, @2024-01-02T03:04:05Z an instant, and true,
false and numbers are literals.

Examples:
  maggtomic query --db ./people.db '?p :person/name "Alice"' '?p :person/friend ?f'
  maggtomic query --db ./people.db --find ?n --as-of 4398046511107 '_ :person/name ?n'
  maggtomic query --db ./people.db --prefix p=person/ '?e :p:name ?n'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Find, "find", nil, "variables to return (default all)")
	cmd.Flags().Int64Var(&opts.AsOf, "as-of", 0, "transaction to query as of (default the basis)")
	cmd.Flags().StringToStringVar(&opts.Prefixes, "prefix", nil, "ident prefix expansions, name=expansion")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command, args []string) error {
	q := query.Query{Find: opts.Find, Prefixes: opts.Prefixes}
	for _, arg := range args {
		terms, err := splitTerms(arg)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid pattern", err)
		}
		p, err := query.ParsePattern(terms)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid pattern", err)
		}
		q.Where = append(q.Where, p)
	}

	ctx := commandContext(cmd)
	conn, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer conn.Close()

	out := opts.formatter(cmd)
	asOf := resolveAsOf(conn, opts.AsOf)
	bindings, err := conn.Query(ctx, q, asOf)
	if err != nil {
		return out.StoreError("query failed", err)
	}

	res := QueryResult{AsOf: int64(asOf), Columns: columns(q), Rows: make([]map[string]string, 0, len(bindings))}
	for _, b := range bindings {
		row := make(map[string]string, len(b))
		for name, v := range b {
			row[name] = v.String()
		}
		res.Rows = append(res.Rows, row)
	}
	slices.SortFunc(res.Rows, func(x, y map[string]string) int {
		for _, c := range res.Columns {
			if n := strings.Compare(x[c], y[c]); n != 0 {
				return n
			}
		}
		return 0
	})
	out.VerboseLog("%d bindings as of %d", len(res.Rows), res.AsOf)

	return out.Success(res, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
		for _, row := range res.Rows {
			cells := make([]string, len(res.Columns))
			for i, c := range res.Columns {
				cells[i] = row[c]
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		return tw.Flush()
	})
}

// columns returns the projected variables: Find, or every variable in
// order of first appearance.
func columns(q query.Query) []string {
	if len(q.Find) > 0 {
		return q.Find
	}
	var names []string
	for _, p := range q.Where {
		for _, t := range []query.Term{p.E, p.A, p.V, p.T} {
			if t.Kind == query.TermVar && !slices.Contains(names, t.Name) {
				names = append(names, t.Name)
			}
		}
	}
	return names
}

// splitTerms splits a pattern at spaces, keeping double-quoted strings
// whole.
func splitTerms(s string) ([]string, error) {
	var terms []string
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			return terms, nil
		}
		if s[0] == '"' {
			q, err := strconv.QuotedPrefix(s)
			if err != nil {
				return nil, fmt.Errorf("unterminated string in %q", s)
			}
			terms = append(terms, q)
			s = s[len(q):]
			continue
		}
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			end = len(s)
		}
		terms = append(terms, s[:end])
		s = s[end:]
	}
}

// resolveAsOf maps 0, and anything past the basis, to the basis.
func resolveAsOf(conn *maggtomic.Conn, asOf int64) datom.ID {
	if asOf <= 0 || datom.ID(asOf) > conn.Basis() {
		return conn.Basis()
	}
	return datom.ID(asOf)
}

// parseEntity accepts an entity id as 123, #123 or a shareable id.
func parseEntity(s string) (datom.ID, error) {
	if n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("entity id %d is not positive", n)
		}
		return datom.ID(n), nil
	}
	return datom.ParseSharedID(s)
}
