// Package query defines the filter and ordering vocabulary accepted by the
// record store, and compiles it to parameterized SQLite fragments.
//
// Predicate is a sealed interface: only types in this package implement it,
// so the compiler's type switch is exhaustive. Values are never
// interpolated into SQL; field names are checked against a per-collection
// allow-list before they reach the statement text.
package query

// Predicate is a row filter.
type Predicate interface {
	predicateNode()
}

// Operator is a comparison operator for Compare.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpNotEqual     Operator = "!="
)

// Equals matches rows where Field = Value.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// Compare matches rows where Field <Op> Value.
type Compare struct {
	Field string
	Op    Operator
	Value any
}

func (Compare) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches all rows.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Eq is shorthand for Equals{field, v}.
func Eq(field string, v any) Predicate { return Equals{Field: field, Value: v} }

// Lt is shorthand for Compare{field, OpLess, v}.
func Lt(field string, v any) Predicate { return Compare{Field: field, Op: OpLess, Value: v} }

// Le is shorthand for Compare{field, OpLessEqual, v}.
func Le(field string, v any) Predicate { return Compare{Field: field, Op: OpLessEqual, Value: v} }

// Gt is shorthand for Compare{field, OpGreater, v}.
func Gt(field string, v any) Predicate { return Compare{Field: field, Op: OpGreater, Value: v} }

// Ge is shorthand for Compare{field, OpGreaterEqual, v}.
func Ge(field string, v any) Predicate { return Compare{Field: field, Op: OpGreaterEqual, Value: v} }

// All combines predicates with AND, dropping nils.
func All(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return And{Predicates: out}
}

// Term is one ORDER BY key.
type Term struct {
	Field string
	Desc  bool
}

// Order is an ordered list of sort keys.
type Order []Term

// Asc sorts ascending by field.
func Asc(field string) Term { return Term{Field: field} }

// Desc sorts descending by field.
func Desc(field string) Term { return Term{Field: field, Desc: true} }

// By builds an Order from terms.
func By(terms ...Term) Order { return Order(terms) }
