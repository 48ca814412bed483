package parsing

import (
	"reflect"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/member"
)

// Where translates a boolean expression into a filter. Each branch returns its
// fragment directly; && and || combine the fragments of their sides.
func (p *Parser) Where(scope *member.Scope, n expr.Node) (fragments.Fragment, error) {
	switch n := n.(type) {
	case *expr.Binary:
		switch {
		case n.Op == expr.OpAndAlso || n.Op == expr.OpOrElse:
			l, err := p.Where(scope, n.Left)
			if err != nil {
				return nil, err
			}
			r, err := p.Where(scope, n.Right)
			if err != nil {
				return nil, err
			}
			if n.Op == expr.OpAndAlso {
				return fragments.And(l, r), nil
			}
			return fragments.Or(l, r), nil
		case n.Op.IsComparison():
			return p.Compare(scope, n)
		}
		return nil, expr.BadExpression(n, "operator %s does not produce a boolean", n.Op)

	case *expr.Unary:
		switch n.Op {
		case expr.OpNot:
			inner, err := p.Where(scope, n.Operand)
			if err != nil {
				return nil, err
			}
			return fragments.Negate(inner), nil
		case expr.OpConvert:
			return p.Where(scope, n.Operand)
		}

	case *expr.Call:
		return p.Method(scope, n)

	case *expr.Lambda:
		return p.Where(scope, n.Body)
	}

	if expr.IsConstant(n) {
		return p.literal(n)
	}
	if scope.IsMemberChain(n) && isBool(n.Type()) {
		m, err := scope.Resolve(n)
		if err != nil {
			return nil, err
		}
		return &fragments.BooleanIsTrue{Locator: locatorFor(m)}, nil
	}
	return nil, expr.BadExpression(n, "expression cannot be used as a filter")
}

// literal renders a constant in predicate position. Literal values are kept as
// written, so Where(x => false) yields no rows.
func (p *Parser) literal(n expr.Node) (fragments.Fragment, error) {
	if !isBool(n.Type()) {
		return nil, expr.BadExpression(n, "filter constant must be a boolean")
	}
	v, err := fragments.FromNode(n, boolOID)
	if err != nil {
		return nil, err
	}
	if !p.peekable(v) {
		return fragments.Param{Value: v, Cast: "boolean"}, nil
	}
	current, err := v.Current()
	if err != nil {
		return nil, err
	}
	b, _ := current.(bool)
	return fragments.Literal(b), nil
}

func isBool(t reflect.Type) bool {
	t = expr.Deref(t)
	return t != nil && t.Kind() == reflect.Bool
}
