package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/index"
)

// CurrentOptions holds flags for the current command.
type CurrentOptions struct {
	*RootOptions
	AsOf int64
}

// CurrentResult is the output of the current command.
type CurrentResult struct {
	Entity    int64    `json:"entity"`
	Attribute string   `json:"attribute"`
	AsOf      int64    `json:"as_of"`
	Values    []string `json:"values"`
}

// NewCurrentCommand creates the current command.
func NewCurrentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CurrentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "current <entity> <attribute>",
		Short: "Show the current value of an attribute",
		Long: `Show the value an entity holds for an attribute as of a transaction.
Cardinality-one attributes have at most one value; cardinality-many
attributes list every asserted value that has not been retracted.

The entity is an id (123 or #123) or a shareable id; the attribute is
an ident.

Example:
  maggtomic current --db ./people.db 8796093022209 person/name
  maggtomic current --db ./people.db 80000-00010-7 person/friend --as-of 4398046511107`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCurrent(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().Int64Var(&opts.AsOf, "as-of", 0, "transaction to read as of (default the basis)")

	return cmd
}

func runCurrent(opts *CurrentOptions, cmd *cobra.Command, entity, attribute string) error {
	e, err := parseEntity(entity)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid entity", err)
	}

	ctx := commandContext(cmd)
	conn, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer conn.Close()

	out := opts.formatter(cmd)
	a, ok := conn.Entid(attribute)
	if !ok {
		return out.StoreError("unknown attribute", datom.NewQueryPattern("unknown ident %s", attribute))
	}
	var info index.AttrInfo
	for _, ai := range conn.Attributes() {
		if ai.ID == a {
			info = ai
		}
	}

	asOf := resolveAsOf(conn, opts.AsOf)
	res := CurrentResult{Entity: int64(e), Attribute: conn.Ident(a), AsOf: int64(asOf), Values: []string{}}
	if info.Many {
		vs, err := conn.CurrentValues(ctx, e, a, asOf)
		if err != nil {
			return out.StoreError("read failed", err)
		}
		for _, v := range vs {
			res.Values = append(res.Values, v.String())
		}
	} else {
		v, ok, err := conn.CurrentValue(ctx, e, a, asOf)
		if err != nil {
			return out.StoreError("read failed", err)
		}
		if ok {
			res.Values = append(res.Values, v.String())
		}
	}

	return out.Success(res, func(w io.Writer) error {
		if len(res.Values) == 0 {
			_, err := fmt.Fprintf(w, "%d :%s has no value as of %d\n", res.Entity, res.Attribute, res.AsOf)
			return err
		}
		_, err := fmt.Fprintln(w, strings.Join(res.Values, "\n"))
		return err
	})
}
