package parsing

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
)

// OperandKind classifies one side of a comparison.
type OperandKind int

const (
	// OperandConstant is an inline value or a closure.
	OperandConstant OperandKind = iota
	// OperandMember is a queryable member.
	OperandMember
	// OperandComputed is SQL computed from members, such as x.Number % 2 or a count.
	OperandComputed
	// OperandOrdering is a.CompareTo(b) or string.Compare(a, b): only comparable
	// with zero.
	OperandOrdering
)

// Operand is a classified side of a comparison.
type Operand struct {
	Kind OperandKind
	Node expr.Node

	Member   member.Member
	Value    *fragments.Value
	Fragment fragments.Fragment
	Type     reflect.Type

	left, right *Operand
	ignoreCase  bool
}

// sql renders a non-constant operand as a fragment.
func (o *Operand) sql() fragments.Fragment {
	if o.Kind == OperandMember {
		return fragments.SQL(locatorFor(o.Member))
	}
	return o.Fragment
}

// Classify determines what n is: a constant, a member, or a computed comparable.
// Anything else fails immediately.
func (p *Parser) Classify(scope *member.Scope, n expr.Node) (*Operand, error) {
	if expr.IsConstant(n) {
		v, err := fragments.FromNode(n, 0)
		if err != nil {
			return nil, expr.BadExpression(n, "%v", err)
		}
		return &Operand{Kind: OperandConstant, Node: n, Value: v, Type: n.Type()}, nil
	}
	if scope.IsMemberChain(n) {
		m, err := scope.Resolve(n)
		if err != nil {
			return nil, err
		}
		return &Operand{Kind: OperandMember, Node: n, Member: m, Type: m.Type()}, nil
	}

	switch n := n.(type) {
	case *expr.Unary:
		switch n.Op {
		case expr.OpConvert:
			return p.Classify(scope, n.Operand)
		case expr.OpNegate:
			inner, err := p.Classify(scope, n.Operand)
			if err != nil {
				return nil, err
			}
			return computed(n, &fragments.Wrapped{Prefix: "-(", Inner: side(inner), Suffix: ")"}, inner.Type), nil
		case expr.OpNot:
			f, err := p.Where(scope, n)
			if err != nil {
				return nil, err
			}
			return computed(n, f, n.Type()), nil
		}

	case *expr.Binary:
		if n.Op.IsComparison() || n.Op.IsLogical() {
			f, err := p.Where(scope, n)
			if err != nil {
				return nil, err
			}
			return computed(n, f, n.Type()), nil
		}
		return p.arithmetic(scope, n)

	case *expr.Call:
		return p.classifyCall(scope, n)
	}
	return nil, expr.BadExpression(n, "expression is neither a constant nor a queryable member")
}

// side renders an operand inside computed SQL.
func side(o *Operand) fragments.Fragment {
	if o.Kind == OperandConstant {
		return fragments.Param{Value: o.Value}
	}
	return o.sql()
}

func computed(n expr.Node, f fragments.Fragment, t reflect.Type) *Operand {
	return &Operand{Kind: OperandComputed, Node: n, Fragment: f, Type: t}
}

func (p *Parser) arithmetic(scope *member.Scope, n *expr.Binary) (*Operand, error) {
	op, ok := sqlOperators[n.Op]
	if !ok {
		return nil, expr.BadExpression(n, "operator %s is not supported", n.Op)
	}
	left, err := p.Classify(scope, n.Left)
	if err != nil {
		return nil, err
	}
	right, err := p.Classify(scope, n.Right)
	if err != nil {
		return nil, err
	}
	if left.Kind == OperandOrdering || right.Kind == OperandOrdering {
		return nil, expr.BadExpression(n, "orderings can only be compared with zero")
	}
	return computed(n, &fragments.Compound{Separator: op, Parts: []fragments.Fragment{side(left), side(right)}}, n.Type()), nil
}

func (p *Parser) classifyCall(scope *member.Scope, n *expr.Call) (*Operand, error) {
	switch {
	case n.Family == expr.FamilyObject && n.Method == "CompareTo":
		return p.ordering(scope, n, n.Subject(), n.Operands()[0], false)

	case n.Family == expr.FamilyString && n.Method == "Compare":
		args := n.Args
		ignoreCase := false
		if len(args) > 2 {
			v, err := p.inline(n, args[2])
			if err != nil {
				return nil, err
			}
			if cmp, ok := v.(expr.StringComparison); ok {
				ignoreCase = cmp.IgnoresCase()
			}
		}
		return p.ordering(scope, n, args[0], args[1], ignoreCase)

	case n.Family == expr.FamilyEnumerable && n.Method == "Count":
		q, err := p.collection(scope, n.Subject())
		if err != nil {
			return nil, err
		}
		where := q.where
		if ops := n.Operands(); len(ops) > 0 {
			pred, ok := ops[0].(*expr.Lambda)
			if !ok {
				return nil, expr.BadExpression(n, "Count expects a predicate")
			}
			f, err := q.filter(p, pred)
			if err != nil {
				return nil, err
			}
			where = fragments.And(where, f)
		}
		return computed(n, &fragments.SubQuery{Select: "count(*)", Source: q.root.Source(), Where: where}, n.Type()), nil
	}

	if n.Type() == reflect.TypeFor[bool]() {
		f, err := p.Where(scope, n)
		if err != nil {
			return nil, err
		}
		return computed(n, f, n.Type()), nil
	}
	return nil, &expr.UnsupportedMethodError{Method: n.Method, Node: n}
}

func (p *Parser) ordering(scope *member.Scope, n expr.Node, a, b expr.Node, ignoreCase bool) (*Operand, error) {
	left, err := p.Classify(scope, a)
	if err != nil {
		return nil, err
	}
	right, err := p.Classify(scope, b)
	if err != nil {
		return nil, err
	}
	return &Operand{Kind: OperandOrdering, Node: n, left: left, right: right, ignoreCase: ignoreCase, Type: reflect.TypeFor[int]()}, nil
}

// Compare translates a binary comparison.
func (p *Parser) Compare(scope *member.Scope, n *expr.Binary) (fragments.Fragment, error) {
	left, err := p.Classify(scope, n.Left)
	if err != nil {
		return nil, err
	}
	right, err := p.Classify(scope, n.Right)
	if err != nil {
		return nil, err
	}
	return p.compareOperands(n, left, n.Op, right)
}

// compareOperands renders "left op right". A constant on the left is swapped to
// the right with the operator flipped, so each case is written once.
func (p *Parser) compareOperands(n expr.Node, left *Operand, op expr.BinaryOp, right *Operand) (fragments.Fragment, error) {
	if left.Kind == OperandConstant && right.Kind != OperandConstant {
		left, right, op = right, left, op.Flip()
	}
	sqlOp, ok := sqlOperators[op]
	if !ok || !op.IsComparison() {
		return nil, expr.BadExpression(n, "operator %s is not a comparison", op)
	}

	switch left.Kind {
	case OperandConstant:
		return p.constantComparison(n, left, op, right)

	case OperandOrdering:
		if right.Kind != OperandConstant {
			return nil, expr.BadExpression(n, "orderings can only be compared with zero")
		}
		zero, err := right.Value.Current()
		if err != nil {
			return nil, err
		}
		if f, ok := expr.ToFloat64(zero); !ok || f != 0 || !right.Value.IsConstant() {
			return nil, expr.BadExpression(n, "orderings can only be compared with the constant 0")
		}
		a, b := left.left, left.right
		if left.ignoreCase {
			a, b = lowered(a), lowered(b)
		}
		return p.compareOperands(n, a, op, b)

	case OperandMember:
		switch right.Kind {
		case OperandConstant:
			return p.memberComparison(left.Member, op, right)
		case OperandMember, OperandComputed:
			return fragments.Compare(left.sql(), sqlOp, right.sql()), nil
		}

	case OperandComputed:
		switch right.Kind {
		case OperandConstant:
			v := right.Value
			if t := left.Type; t != nil {
				v = v.Then(func(raw any) (any, error) { return expr.ConvertTo(raw, t) })
			}
			v, err := p.check(v)
			if err != nil {
				return nil, err
			}
			if left.Type == reflect.TypeFor[bool]() {
				return p.booleanComparison(n, left.Fragment, op, v)
			}
			return fragments.Compare(left.Fragment, sqlOp, fragments.Param{Value: v}), nil
		case OperandMember, OperandComputed:
			return fragments.Compare(left.Fragment, sqlOp, right.sql()), nil
		}
	}
	return nil, expr.BadExpression(n, "cannot compare these operands")
}

// booleanComparison compares a boolean sub-expression with a boolean constant:
// (x.Number > 3) == false.
func (p *Parser) booleanComparison(n expr.Node, f fragments.Fragment, op expr.BinaryOp, v *fragments.Value) (fragments.Fragment, error) {
	if op != expr.OpEqual && op != expr.OpNotEqual {
		return nil, expr.BadExpression(n, "booleans only support == and !=")
	}
	if !p.peekable(v) {
		return fragments.Compare(f, sqlOperators[op], fragments.Param{Value: v}), nil
	}
	current, err := v.Current()
	if err != nil {
		return nil, err
	}
	b, _ := current.(bool)
	if b == (op == expr.OpEqual) {
		return f, nil
	}
	return fragments.Negate(f), nil
}

func lowered(o *Operand) *Operand {
	switch o.Kind {
	case OperandMember:
		return computed(o.Node, fragments.SQL("lower("+o.Member.RawLocator()+")"), reflect.TypeFor[string]())
	case OperandConstant:
		out := *o
		out.Value = o.Value.Then(func(v any) (any, error) {
			if v == nil {
				return nil, nil
			}
			return strings.ToLower(fmt.Sprint(v)), nil
		})
		return &out
	case OperandComputed:
		return computed(o.Node, &fragments.Wrapped{Prefix: "lower(", Inner: o.Fragment, Suffix: ")"}, reflect.TypeFor[string]())
	}
	return o
}

// constantComparison folds a comparison between two constants into a literal.
func (p *Parser) constantComparison(n expr.Node, left *Operand, op expr.BinaryOp, right *Operand) (fragments.Fragment, error) {
	if !p.peekable(left.Value) || !p.peekable(right.Value) {
		return nil, expr.BadExpression(n, "a compiled query cannot compare two closures")
	}
	l, err := left.Value.Current()
	if err != nil {
		return nil, err
	}
	r, err := right.Value.Current()
	if err != nil {
		return nil, err
	}
	switch op {
	case expr.OpEqual:
		return fragments.Literal(expr.Equal(l, r)), nil
	case expr.OpNotEqual:
		return fragments.Literal(!expr.Equal(l, r)), nil
	}
	c, ok := expr.CompareValues(l, r)
	if !ok {
		return nil, expr.BadExpression(n, "values are not comparable")
	}
	switch op {
	case expr.OpLessThan:
		return fragments.Literal(c < 0), nil
	case expr.OpLessThanOrEqual:
		return fragments.Literal(c <= 0), nil
	case expr.OpGreaterThan:
		return fragments.Literal(c > 0), nil
	}
	return fragments.Literal(c >= 0), nil
}

// memberComparison compares a member with a constant. Null constants become
// "is null" tests and plain equality prefers containment when the mapping allows.
func (p *Parser) memberComparison(m member.Member, op expr.BinaryOp, right *Operand) (fragments.Fragment, error) {
	v, err := p.value(m, right.Node)
	if err != nil {
		return nil, err
	}
	if p.peekable(v) {
		current, err := v.Current()
		if err != nil {
			return nil, err
		}
		if current == nil {
			switch op {
			case expr.OpEqual:
				return &fragments.IsNull{Locator: nullLocator(m)}, nil
			case expr.OpNotEqual:
				return &fragments.IsNotNull{Locator: nullLocator(m)}, nil
			}
		}
		if op == expr.OpEqual {
			if path, ok := p.containmentPath(m); ok {
				return &fragments.Containment{
					Locator: member.RootOf(m).JSONBLocator(),
					Value:   right.Value.Then(p.containmentJSON(path, m.Type(), false)).WithOID(jsonbOID),
				}, nil
			}
		}
	}
	if m.FieldType() == schema.FieldTypeBoolean && (op == expr.OpEqual || op == expr.OpNotEqual) && p.peekable(v) {
		current, _ := v.Current()
		if b, ok := current.(bool); ok {
			var f fragments.Fragment = &fragments.BooleanIsTrue{Locator: locatorFor(m)}
			if b != (op == expr.OpEqual) {
				f = fragments.Negate(f)
			}
			return f, nil
		}
	}
	return fragments.CompareValue(locatorFor(m), sqlOperators[op], v), nil
}

// containmentPath reports whether equality on m can use the @> operator and returns
// the JSON path it nests the value in.
func (p *Parser) containmentPath(m member.Member) ([]string, bool) {
	if _, ok := m.(*member.Value); !ok {
		return nil, false
	}
	mapping := member.MappingOf(m)
	if mapping == nil || !mapping.UseContainment() {
		return nil, false
	}
	switch m.FieldType() {
	case schema.FieldTypeString, schema.FieldTypeInteger, schema.FieldTypeBigInt,
		schema.FieldTypeNumber, schema.FieldTypeDecimal, schema.FieldTypeUUID:
	case schema.FieldTypeEnum:
		if p.serializer.EnumStorage() == schema.AsString {
			return nil, false
		}
	default:
		return nil, false
	}
	path, ok := member.JSONPath(m)
	if !ok || len(path) == 0 {
		return nil, false
	}
	return path, true
}

// Expression translates a value expression used as a sort key or an aggregate
// argument. With ignoreCase, text is compared through lower().
func (p *Parser) Expression(scope *member.Scope, n expr.Node, ignoreCase bool) (fragments.Fragment, reflect.Type, error) {
	o, err := p.Classify(scope, n)
	if err != nil {
		return nil, nil, err
	}
	switch o.Kind {
	case OperandConstant, OperandOrdering:
		return nil, nil, expr.BadExpression(n, "expression does not depend on the document")
	}
	if ignoreCase {
		o = lowered(o)
	}
	return o.sql(), o.Type, nil
}
