package fragments

import (
	"fmt"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/jackc/pgx/v5/pgtype"
)

// Transform reshapes a parameter value before it is bound: wrapping it in LIKE
// wildcards, nesting it into a containment document, converting enums.
type Transform func(any) (any, error)

// Binder supplies the current value of a closure. A compiled query plan binds its
// closures to the fields of the instance being executed.
type Binder interface {
	Bind(c *expr.Closure) (any, error)
}

// Value is the source of one command parameter: either an inline constant or a
// closure read at bind time, followed by a chain of transforms.
type Value struct {
	constant   any
	closure    *expr.Closure
	parts      []*Value
	compose    func([]any) (any, error)
	transforms []Transform
	// OID is the PostgreSQL type of the bound value, or 0 to let the server infer it.
	OID uint32
}

// Constant creates a value from a literal.
func Constant(v any, oid uint32) *Value {
	return &Value{constant: v, OID: oid}
}

// FromClosure creates a value read from a closure each time it is bound.
func FromClosure(c *expr.Closure, oid uint32) *Value {
	return &Value{closure: c, OID: oid}
}

// Compose creates a value computed from several others each time it is bound.
func Compose(fn func(parts []any) (any, error), oid uint32, parts ...*Value) *Value {
	return &Value{parts: parts, compose: fn, OID: oid}
}

// FromNode creates a value from a constant node. A bare closure stays a closure so
// compiled plans can re-bind it; any other node over closures is re-evaluated each
// time it is bound. Closure-free nodes are evaluated now.
func FromNode(n expr.Node, oid uint32) (*Value, error) {
	if c, ok := n.(*expr.Closure); ok {
		return FromClosure(c, oid), nil
	}
	if u, ok := n.(*expr.Unary); ok && u.Op == expr.OpConvert {
		if c, ok := u.Operand.(*expr.Closure); ok {
			t := u.Type()
			return FromClosure(c, oid).Then(func(v any) (any, error) { return expr.ConvertTo(v, t) }), nil
		}
	}
	return Deferred(n, oid, expr.Eval)
}

// Deferred creates a value computed by fn from n. When n references closures, their
// values are read through the binder and inlined into n before fn runs, on every
// bind; otherwise fn runs once, now.
func Deferred(n expr.Node, oid uint32, fn func(expr.Node) (any, error)) (*Value, error) {
	closures := distinctClosures(n)
	if len(closures) == 0 {
		v, err := fn(n)
		if err != nil {
			return nil, err
		}
		return Constant(v, oid), nil
	}
	parts := make([]*Value, len(closures))
	for i, c := range closures {
		parts[i] = FromClosure(c, 0)
	}
	return Compose(func(values []any) (any, error) {
		bound := make(map[*expr.Closure]any, len(closures))
		for i, c := range closures {
			bound[c] = values[i]
		}
		inlined := expr.Rewrite(n, func(m expr.Node) (expr.Node, bool) {
			if c, ok := m.(*expr.Closure); ok {
				return expr.NewTypedConstant(bound[c], c.Type()), true
			}
			return m, false
		})
		return fn(inlined)
	}, oid, parts...), nil
}

func distinctClosures(n expr.Node) []*expr.Closure {
	var out []*expr.Closure
	seen := make(map[*expr.Closure]bool)
	for _, c := range expr.Closures(n) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Then returns a copy of the value with t appended to its transforms.
func (v *Value) Then(t Transform) *Value {
	out := *v
	out.transforms = append(append([]Transform(nil), v.transforms...), t)
	return &out
}

// WithOID returns a copy of the value tagged with a parameter type.
func (v *Value) WithOID(oid uint32) *Value {
	out := *v
	out.OID = oid
	return &out
}

// Closure returns the closure the value reads directly, or nil.
func (v *Value) Closure() *expr.Closure { return v.closure }

// Closures returns every closure the value depends on.
func (v *Value) Closures() []*expr.Closure {
	var out []*expr.Closure
	if v.closure != nil {
		out = append(out, v.closure)
	}
	for _, p := range v.parts {
		out = append(out, p.Closures()...)
	}
	return out
}

// IsConstant reports whether the value reads no closure.
func (v *Value) IsConstant() bool { return len(v.Closures()) == 0 }

// Resolve computes the value to bind. A nil binder reads closures directly.
func (v *Value) Resolve(b Binder) (any, error) {
	var raw any
	switch {
	case v.compose != nil:
		parts := make([]any, len(v.parts))
		for i, p := range v.parts {
			var err error
			if parts[i], err = p.Resolve(b); err != nil {
				return nil, err
			}
		}
		var err error
		if raw, err = v.compose(parts); err != nil {
			return nil, err
		}
	case v.closure == nil:
		raw = v.constant
	case b == nil:
		raw = v.closure.Value()
	default:
		var err error
		raw, err = b.Bind(v.closure)
		if err != nil {
			return nil, err
		}
	}
	for _, t := range v.transforms {
		var err error
		if raw, err = t(raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// Current resolves the value with closures read directly.
func (v *Value) Current() (any, error) { return v.Resolve(nil) }

func (v *Value) String() string {
	if v.closure != nil {
		return fmt.Sprintf("<%s>", v.closure.Name)
	}
	if v.compose != nil {
		return fmt.Sprintf("%v", v.parts)
	}
	return fmt.Sprintf("%v", v.constant)
}

// OIDFor returns the PostgreSQL type of a Go value, or 0 when the server should
// infer it.
func OIDFor(v any) uint32 {
	switch v.(type) {
	case []string:
		return pgtype.TextArrayOID
	case []int, []int64:
		return pgtype.Int8ArrayOID
	case []int32:
		return pgtype.Int4ArrayOID
	case []float64:
		return pgtype.Float8ArrayOID
	case []bool:
		return pgtype.BoolArrayOID
	case string:
		return pgtype.TextOID
	case int32:
		return pgtype.Int4OID
	case int, int64:
		return pgtype.Int8OID
	case float64:
		return pgtype.Float8OID
	case bool:
		return pgtype.BoolOID
	}
	return 0
}
