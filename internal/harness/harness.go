package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/polyneme/maggtomic"
	"github.com/polyneme/maggtomic/config"
	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/testutil"
	"github.com/polyneme/maggtomic/query"
)

// Harness runs scenario steps against one open store.
type Harness struct {
	conn   *maggtomic.Conn
	labels Labels
	names  map[string]datom.ID
}

// Run executes sc against a fresh store in a temporary directory and
// returns the trace. The clock and anonymous labels are deterministic, so
// equal scenarios produce equal traces.
//
// An error is returned only when the scenario itself is unusable; failed
// expectations are reported in the result.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "maggtomic-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Default()
	cfg.Path = filepath.Join(dir, "scenario.db")
	conn, err := maggtomic.Open(ctx, maggtomic.Options{
		Config: cfg,
		Logger: maggtomic.DiscardLogger(),
		Now:    testutil.NewDeterministicClock(time.Time{}, 0).Now,
		Labels: testutil.NewSequenceLabels(""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario store: %w", err)
	}
	defer conn.Close()

	h := New(conn)
	result := NewResult()
	for i, step := range sc.Steps {
		if err := h.Step(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return result, nil
}

// New creates a harness over conn.
func New(conn *maggtomic.Conn) *Harness {
	return &Harness{conn: conn, labels: Labels{}, names: make(map[string]datom.ID)}
}

// Step runs one step and appends its trace event to result.
func (h *Harness) Step(ctx context.Context, i int, s Step, result *Result) error {
	ev := TraceEvent{Step: i, Kind: s.kind()}
	var err error
	switch ev.Kind {
	case "transact":
		err = h.transact(ctx, s, &ev)
	case "query":
		err = h.query(ctx, s, &ev)
	case "check":
		err = h.check(ctx, s, &ev, result)
	default:
		return errors.New("empty step")
	}
	if err != nil {
		return err
	}
	result.Trace = append(result.Trace, ev)

	switch {
	case s.ExpectError != "" && ev.Error != s.ExpectError:
		result.AddError(fmt.Sprintf("step %d: expected error %s, got %q", i, s.ExpectError, ev.Error))
	case s.ExpectError == "" && ev.Error != "":
		result.AddError(fmt.Sprintf("step %d: unexpected error %s", i, ev.Error))
	}
	if s.ExpectCount != nil && len(ev.Bindings) != *s.ExpectCount {
		result.AddError(fmt.Sprintf("step %d: expected %d bindings, got %d", i, *s.ExpectCount, len(ev.Bindings)))
	}
	if s.Expect != nil {
		got, want := bindingKeys(ev.Bindings), bindingKeys(s.Expect)
		if !slices.Equal(got, want) {
			result.AddError(fmt.Sprintf("step %d: bindings %v, want %v", i, got, want))
		}
	}
	return nil
}

func (h *Harness) transact(ctx context.Context, s Step, ev *TraceEvent) error {
	req, err := s.Transact.Request(h.labels)
	if err != nil {
		return err
	}
	rep, err := h.conn.Transact(ctx, req)
	if err != nil {
		ev.Error = errorCode(err)
		return nil
	}

	ev.Tx = int64(rep.TxID)
	ev.Tempids = make(map[string]int64, len(rep.Tempids))
	for label, id := range rep.Tempids {
		ev.Tempids[label] = int64(id)
		h.labels[label] = id
	}
	for _, d := range rep.Datoms {
		ev.Datoms = append(ev.Datoms, d.Format(h.conn.Ident))
	}
	if s.As != "" {
		h.names[s.As] = rep.TxID
	}
	return nil
}

func (h *Harness) query(ctx context.Context, s Step, ev *TraceEvent) error {
	asOf, err := h.asOf(s.Query.AsOf)
	if err != nil {
		return err
	}
	ev.AsOf = int64(asOf)

	q, err := h.compile(s.Query)
	if err != nil {
		ev.Error = errorCode(err)
		return nil
	}
	bindings, err := h.conn.Query(ctx, q, asOf)
	if err != nil {
		ev.Error = errorCode(err)
		return nil
	}
	for _, b := range bindings {
		row := make(map[string]string, len(b))
		for name, v := range b {
			row[name] = v.String()
		}
		ev.Bindings = append(ev.Bindings, row)
	}
	slices.SortFunc(ev.Bindings, func(x, y map[string]string) int {
		return strings.Compare(bindingKey(x), bindingKey(y))
	})
	return nil
}

func (h *Harness) check(ctx context.Context, s Step, ev *TraceEvent, result *Result) error {
	asOf, err := h.asOf(s.Check.AsOf)
	if err != nil {
		return err
	}
	ev.AsOf = int64(asOf)

	rep, err := h.conn.Check(ctx, asOf)
	if err != nil {
		ev.Error = errorCode(err)
		return nil
	}
	ok := rep.OK()
	ev.Consistent = &ok
	ev.Problems = rep.Problems
	if !ok {
		result.AddError(fmt.Sprintf("step %d: index families disagree: %s", ev.Step, strings.Join(rep.Problems, "; ")))
	}
	return nil
}

// asOf resolves "" to the current basis, a transaction name to its id and
// an integer to itself.
func (h *Harness) asOf(s string) (datom.ID, error) {
	if s == "" {
		return h.conn.Basis(), nil
	}
	if id, ok := h.names[s]; ok {
		return id, nil
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown transaction %q", s)
	}
	return datom.ID(n), nil
}

// compile turns a QueryDoc into a query, replacing "$label" terms with the
// entities earlier steps created.
func (h *Harness) compile(doc *QueryDoc) (query.Query, error) {
	q := query.Query{Find: doc.Find, Prefixes: doc.Prefixes}
	for _, fields := range doc.Where {
		terms := make([]string, len(fields))
		copy(terms, fields)
		var subst [4]*datom.ID
		for i, f := range terms {
			if !strings.HasPrefix(f, "$") {
				continue
			}
			id, ok := h.labels[f[1:]]
			if !ok {
				return query.Query{}, datom.NewQueryPattern("unknown entity label %s", f)
			}
			subst[i] = &id
			terms[i] = "_"
		}
		p, err := query.ParsePattern(terms)
		if err != nil {
			return query.Query{}, err
		}
		for i, id := range subst {
			if id == nil {
				continue
			}
			t := query.Lit(datom.Ref(*id))
			switch i {
			case 0:
				p.E = t
			case 1:
				p.A = t
			case 2:
				p.V = t
			case 3:
				p.T = t
			}
		}
		q.Where = append(q.Where, p)
	}
	return q, nil
}

func errorCode(err error) string {
	var e *datom.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return "ERROR"
}

func bindingKey(b map[string]string) string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + b[name]
	}
	return strings.Join(parts, " ")
}

func bindingKeys(bs []map[string]string) []string {
	keys := make([]string, len(bs))
	for i, b := range bs {
		keys[i] = bindingKey(b)
	}
	slices.Sort(keys)
	return keys
}
