package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/glint/pkg/blackboard"
	"gopkg.in/yaml.v3"
)

// Op is a condition comparison operator.
type Op string

const (
	OpExists Op = "exists"
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
)

// symbols in match order: two-character operators first.
var opSymbols = []struct {
	symbol string
	op     Op
}{
	{">=", OpGte},
	{"<=", OpLte},
	{"==", OpEq},
	{"!=", OpNe},
	{">", OpGt},
	{"<", OpLt},
}

// Condition is a guard over the blackboard, written either as a mapping
// {signal, op, value} or as an expression such as "ocr.confidence < 0.5".
type Condition struct {
	Signal string `yaml:"signal" validate:"required"`
	Op     Op     `yaml:"op,omitempty" validate:"omitempty,oneof=exists eq ne gt gte lt lte"`
	Value  any    `yaml:"value,omitempty"`
}

// ParseCondition parses "key", "key exists" or "key <op> value".
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Condition{}, fmt.Errorf("empty condition")
	}

	for _, s := range opSymbols {
		if i := strings.Index(expr, s.symbol); i >= 0 {
			key := strings.TrimSpace(expr[:i])
			raw := strings.TrimSpace(expr[i+len(s.symbol):])
			if key == "" || raw == "" {
				return Condition{}, fmt.Errorf("malformed condition %q", expr)
			}
			return Condition{Signal: key, Op: s.op, Value: parseLiteral(raw)}, nil
		}
	}

	fields := strings.Fields(expr)
	switch {
	case len(fields) == 1:
		return Condition{Signal: fields[0], Op: OpExists}, nil
	case len(fields) == 2 && fields[1] == string(OpExists):
		return Condition{Signal: fields[0], Op: OpExists}, nil
	}
	return Condition{}, fmt.Errorf("malformed condition %q", expr)
}

func parseLiteral(raw string) any {
	if unquoted, err := strconv.Unquote(raw); err == nil {
		return unquoted
	}
	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
		return raw[1 : len(raw)-1]
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// UnmarshalYAML accepts both the expression and the mapping form.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var expr string
		if err := node.Decode(&expr); err != nil {
			return err
		}
		parsed, err := ParseCondition(expr)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}

	type plain Condition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Condition(p)
	if c.Op == "" {
		c.Op = OpExists
	}
	return nil
}

// String renders the condition in expression form.
func (c Condition) String() string {
	if c.Op == OpExists || c.Op == "" {
		return c.Signal + " exists"
	}
	for _, s := range opSymbols {
		if s.op == c.Op {
			return fmt.Sprintf("%s %s %v", c.Signal, s.symbol, c.Value)
		}
	}
	return fmt.Sprintf("%s %s %v", c.Signal, c.Op, c.Value)
}

// Eval evaluates the condition against the last occurrence of the signal.
// A missing signal satisfies no condition except "ne".
func (c Condition) Eval(snap *blackboard.Snapshot) bool {
	if c.Op == OpExists || c.Op == "" {
		return snap.HasPrefix(c.Signal)
	}

	sig, ok := snap.Get(c.Signal)
	if !ok {
		return c.Op == OpNe
	}

	switch c.Op {
	case OpEq:
		return valueEquals(sig.Value, c.Value)
	case OpNe:
		return !valueEquals(sig.Value, c.Value)
	}

	have, ok := sig.Value.AsFloat()
	if !ok {
		return false
	}
	want, ok := toFloat(c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGt:
		return have > want
	case OpGte:
		return have >= want
	case OpLt:
		return have < want
	case OpLte:
		return have <= want
	}
	return false
}

// All reports whether every condition holds. An empty list holds.
func All(conds []Condition, snap *blackboard.Snapshot) bool {
	for _, c := range conds {
		if !c.Eval(snap) {
			return false
		}
	}
	return true
}

// Any reports whether at least one condition holds. An empty list does not.
func Any(conds []Condition, snap *blackboard.Snapshot) bool {
	for _, c := range conds {
		if c.Eval(snap) {
			return true
		}
	}
	return false
}

func valueEquals(v blackboard.Value, want any) bool {
	switch w := want.(type) {
	case bool:
		b, ok := v.AsBool()
		return ok && b == w
	case string:
		return v.AsString() == w
	case nil:
		return false
	}
	f, ok := toFloat(want)
	if !ok {
		return false
	}
	have, ok := v.AsFloat()
	return ok && have == f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
