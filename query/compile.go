package query

import (
	"errors"

	"github.com/polyneme/maggtomic/datom"
)

// Positions of a pattern.
const (
	posE = iota
	posA
	posV
	posT
)

var posNames = [4]string{"entity", "attribute", "value", "transaction"}

type slotKind uint8

const (
	slotBlank slotKind = iota
	slotVar
	slotConst
)

type slot struct {
	kind slotKind
	name string
	val  datom.Value
}

// clause is a validated pattern with idents resolved.
type clause struct {
	slots   [4]slot
	written int
	source  Pattern
}

// compile validates q and resolves its idents. It returns the clauses in
// written order and the projected variables.
func (ev *Evaluator) compile(q Query) ([]clause, []string, error) {
	if len(q.Where) == 0 {
		return nil, nil, datom.NewQueryPattern("query has no patterns")
	}

	clauses := make([]clause, len(q.Where))
	var vars []string
	seen := make(map[string]bool)
	for i, p := range q.Where {
		c := clause{written: i, source: p}
		for pos, t := range p.terms() {
			s, err := ev.compileTerm(t, pos, q.Prefixes)
			if err != nil {
				return nil, nil, datom.NewQueryPattern("pattern %d %s: %s position: %s",
					i, p, posNames[pos], errMessage(err))
			}
			if s.kind == slotVar && !seen[s.name] {
				seen[s.name] = true
				vars = append(vars, s.name)
			}
			c.slots[pos] = s
		}
		clauses[i] = c
	}

	if len(q.Find) == 0 {
		return clauses, vars, nil
	}
	for _, name := range q.Find {
		if !ValidVar(name) {
			return nil, nil, datom.NewQueryPattern("malformed find variable %q", name)
		}
		if !seen[name] {
			return nil, nil, datom.NewQueryPattern("find variable %s does not appear in any pattern", name)
		}
	}
	return clauses, q.Find, nil
}

func errMessage(err error) string {
	var e *datom.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func (ev *Evaluator) compileTerm(t Term, pos int, prefixes map[string]string) (slot, error) {
	switch t.Kind {
	case TermBlank:
		return slot{kind: slotBlank}, nil
	case TermVar:
		if !ValidVar(t.Name) {
			return slot{}, datom.NewQueryPattern("malformed variable %q", t.Name)
		}
		return slot{kind: slotVar, name: t.Name}, nil
	case TermIdent:
		ident := datom.ExpandIdent(datom.NormalizeIdent(t.Name), prefixes)
		if ident == "" {
			return slot{}, datom.NewQueryPattern("empty ident")
		}
		id, ok := ev.schema.Lookup(ident)
		if !ok {
			return slot{}, datom.NewQueryPattern("unknown ident :%s", ident)
		}
		return slot{kind: slotConst, val: datom.Ref(id)}, nil
	case TermLit:
		if t.Value == nil {
			return slot{}, datom.NewQueryPattern("nil literal")
		}
		if pos != posV {
			if _, ok := t.Value.(datom.Ref); !ok {
				return slot{}, datom.NewQueryPattern("literal %s is a %s, not an entity", t.Value, t.Value.Kind())
			}
		}
		return slot{kind: slotConst, val: t.Value}, nil
	}
	return slot{}, datom.NewQueryPattern("unknown term kind %d", t.Kind)
}

// order returns the clauses in evaluation order: repeatedly the clause
// with the most bound positions, counting constants and variables bound
// by clauses already placed. Ties keep written order.
func order(clauses []clause) []clause {
	remaining := append([]clause(nil), clauses...)
	out := make([]clause, 0, len(clauses))
	bound := make(map[string]bool)
	for len(remaining) > 0 {
		best, bestScore := 0, -1
		for i, c := range remaining {
			score := 0
			for _, s := range c.slots {
				if s.kind == slotConst || (s.kind == slotVar && bound[s.name]) {
					score++
				}
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		c := remaining[best]
		out = append(out, c)
		remaining = append(remaining[:best], remaining[best+1:]...)
		for _, s := range c.slots {
			if s.kind == slotVar {
				bound[s.name] = true
			}
		}
	}
	return out
}
