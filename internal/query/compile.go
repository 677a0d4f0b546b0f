package query

import (
	"fmt"
	"strings"
)

// Compiler turns predicates and orders into SQL fragments for one table.
//
// Every compiled ORDER BY ends with the table's key column so results are
// deterministic even when the caller's sort keys tie.
type Compiler struct {
	fields map[string]bool
	key    string
}

// NewCompiler creates a compiler that accepts only the given field names.
// key is the row-key column used as the final ORDER BY tiebreaker.
func NewCompiler(key string, fields ...string) *Compiler {
	c := &Compiler{fields: make(map[string]bool, len(fields)+1), key: key}
	c.fields[key] = true
	for _, f := range fields {
		c.fields[f] = true
	}
	return c
}

// Where compiles p to a WHERE fragment (without the keyword) and its params.
// A nil predicate compiles to "1 = 1".
func (c *Compiler) Where(p Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case Equals:
		return c.compileEquals(pred)
	case *Equals:
		return c.compileEquals(*pred)
	case Compare:
		return c.compileCompare(pred)
	case *Compare:
		return c.compileCompare(*pred)
	case And:
		return c.compileAnd(pred)
	case *And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// OrderBy compiles o to an ORDER BY fragment (without the keyword).
// An empty order sorts by the key column alone.
func (c *Compiler) OrderBy(o Order) (string, error) {
	parts := make([]string, 0, len(o)+1)
	hasKey := false
	for _, term := range o {
		if err := c.checkField(term.Field); err != nil {
			return "", err
		}
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", term.Field, dir))
		if term.Field == c.key {
			hasKey = true
		}
	}
	if !hasKey {
		parts = append(parts, c.key+" ASC")
	}
	return strings.Join(parts, ", "), nil
}

func (c *Compiler) compileEquals(eq Equals) (string, []any, error) {
	if err := c.checkField(eq.Field); err != nil {
		return "", nil, err
	}
	if eq.Value == nil {
		return "", nil, fmt.Errorf("field %q: nil value in equality", eq.Field)
	}
	return eq.Field + " = ?", []any{eq.Value}, nil
}

func (c *Compiler) compileCompare(cmp Compare) (string, []any, error) {
	if err := c.checkField(cmp.Field); err != nil {
		return "", nil, err
	}
	switch cmp.Op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpNotEqual:
	default:
		return "", nil, fmt.Errorf("field %q: unsupported operator %q", cmp.Field, cmp.Op)
	}
	if cmp.Value == nil {
		return "", nil, fmt.Errorf("field %q: nil value in comparison", cmp.Field)
	}
	return fmt.Sprintf("%s %s ?", cmp.Field, cmp.Op), []any{cmp.Value}, nil
}

func (c *Compiler) compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var params []any
	for _, p := range and.Predicates {
		sql, ps, err := c.Where(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

func (c *Compiler) checkField(field string) error {
	if !c.fields[field] {
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}
