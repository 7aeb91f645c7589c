package harness

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/tx"
)

// TxDoc is a transaction written in YAML:
//
//	metadata:
//	  tx/source: import
//	datoms:
//	  - [assert, $alice, person/name, Alice]
//	  - [assert, $alice, person/friend, {ref: $bob}]
//	  - [retract, 8796093022209, person/age, 41]
//
// Entity and attribute positions take "$label" (a tempid), "_" (a new
// anonymous entity), an integer or "#integer" (an entity id), or an
// ident with or without a leading ':'. Values take a YAML scalar, whose
// tag picks the kind, or one of the mappings {ref: <entity>},
// {instant: <RFC 3339>} and {bytes: <base64>}.
type TxDoc struct {
	Metadata map[string]ValueDoc `yaml:"metadata,omitempty"`
	Datoms   []DatomDoc          `yaml:"datoms"`
}

// DatomDoc is one [op, e, a, v] entry.
type DatomDoc struct {
	Op   datom.Op
	E, A string
	V    ValueDoc
	line int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DatomDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 4 {
		return fmt.Errorf("line %d: datom must be [op, e, a, v]", node.Line)
	}
	switch node.Content[0].Value {
	case "assert", "add":
		d.Op = datom.Assert
	case "retract":
		d.Op = datom.Retract
	default:
		return fmt.Errorf("line %d: unknown op %q", node.Line, node.Content[0].Value)
	}
	for i, dst := range []*string{&d.E, &d.A} {
		n := node.Content[i+1]
		if n.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: entity and attribute must be scalars", n.Line)
		}
		*dst = n.Value
	}
	d.line = node.Line
	return d.V.UnmarshalYAML(node.Content[3])
}

// ValueDoc is a value position: a literal or a reference.
type ValueDoc struct {
	Lit datom.Value
	Ref string // entity term when the value is a reference
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *ValueDoc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: value mapping must have exactly one key", node.Line)
		}
		key, val := node.Content[0].Value, node.Content[1].Value
		switch key {
		case "ref":
			v.Ref = val
		case "instant":
			t, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return fmt.Errorf("line %d: %w", node.Line, err)
			}
			v.Lit = datom.NewInstant(t)
		case "bytes":
			b, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return fmt.Errorf("line %d: %w", node.Line, err)
			}
			v.Lit = datom.Bytes(b)
		default:
			return fmt.Errorf("line %d: unknown value form %q", node.Line, key)
		}
		return nil
	case yaml.ScalarNode:
		lit, err := scalar(node)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		v.Lit = lit
		return nil
	}
	return fmt.Errorf("line %d: value must be a scalar or a mapping", node.Line)
}

func scalar(node *yaml.Node) (datom.Value, error) {
	switch node.ShortTag() {
	case "!!str":
		return datom.String(node.Value), nil
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return nil, err
		}
		return datom.Int(n), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return nil, err
		}
		return datom.Float(f), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, err
		}
		return datom.Bool(b), nil
	case "!!timestamp":
		var t time.Time
		if err := node.Decode(&t); err != nil {
			return nil, err
		}
		return datom.NewInstant(t), nil
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(node.Value)
		if err != nil {
			return nil, err
		}
		return datom.Bytes(b), nil
	}
	return nil, fmt.Errorf("unsupported value %q (%s)", node.Value, node.ShortTag())
}

// Labels maps tempid labels to entities committed by earlier
// transactions. A label it does not know becomes a tempid.
type Labels map[string]datom.ID

// Request builds the transaction request.
func (doc *TxDoc) Request(labels Labels) (*tx.Request, error) {
	req := tx.NewRequest()
	for i, d := range doc.Datoms {
		e, err := labels.ref(d.E)
		if err != nil {
			return nil, fmt.Errorf("datom %d (line %d): entity: %w", i, d.line, err)
		}
		a, err := labels.ref(d.A)
		if err != nil {
			return nil, fmt.Errorf("datom %d (line %d): attribute: %w", i, d.line, err)
		}
		v, err := labels.val(d.V)
		if err != nil {
			return nil, fmt.Errorf("datom %d (line %d): value: %w", i, d.line, err)
		}
		if d.Op == datom.Assert {
			req.Assert(e, a, v)
		} else {
			req.Retract(e, a, v)
		}
	}
	for k, v := range doc.Metadata {
		if v.Ref != "" {
			r, err := labels.ref(v.Ref)
			if err != nil || r.Kind != tx.RefID {
				return nil, fmt.Errorf("metadata %q: reference must name a committed entity", k)
			}
			req.With(k, datom.Ref(r.ID))
			continue
		}
		req.With(k, v.Lit)
	}
	return req, nil
}

func (l Labels) ref(term string) (tx.Ref, error) {
	term = strings.TrimSpace(term)
	switch {
	case term == "" || term == "_":
		return tx.NewEntity(), nil
	case strings.HasPrefix(term, "$"):
		label := term[1:]
		if label == "" {
			return tx.Ref{}, fmt.Errorf("empty tempid label")
		}
		if id, ok := l[label]; ok {
			return tx.ID(id), nil
		}
		return tx.Temp(label), nil
	}
	if n, err := strconv.ParseInt(strings.TrimPrefix(term, "#"), 10, 64); err == nil {
		return tx.ID(datom.ID(n)), nil
	}
	return tx.Ident(term), nil
}

func (l Labels) val(v ValueDoc) (tx.Val, error) {
	if v.Ref == "" {
		return tx.Lit(v.Lit), nil
	}
	r, err := l.ref(v.Ref)
	if err != nil {
		return tx.Val{}, err
	}
	return tx.RefTo(r), nil
}

// ParseTxDoc decodes a transaction document.
func ParseTxDoc(data []byte) (*TxDoc, error) {
	var doc TxDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	return &doc, nil
}

// LoadTxDoc reads a transaction document from path.
func LoadTxDoc(path string) (*TxDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return ParseTxDoc(data)
}
