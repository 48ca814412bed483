// Package expr defines the expression trees that queries are written in. A query
// predicate, projection or ordering is a tree of Node values rooted at a Lambda whose
// parameter stands for the document (or child element) being queried. The translator
// in core/linq walks these trees and turns them into SQL; Eval and Match interpret the
// same trees in memory.
package expr

import (
	"fmt"
	"reflect"
)

// Node is the interface implemented by every expression node. The set of node kinds is
// closed: the marker method keeps implementations inside this package so that every
// consumer can switch over the concrete types exhaustively.
type Node interface {
	// Type returns the Go type the node evaluates to, or nil when it cannot be known
	// (an untyped nil constant or an unresolvable member).
	Type() reflect.Type
	node()
}

// BinaryOp identifies the operator of a Binary node.
type BinaryOp string

const (
	OpEqual              BinaryOp = "=="
	OpNotEqual           BinaryOp = "!="
	OpLessThan           BinaryOp = "<"
	OpLessThanOrEqual    BinaryOp = "<="
	OpGreaterThan        BinaryOp = ">"
	OpGreaterThanOrEqual BinaryOp = ">="
	OpAndAlso            BinaryOp = "&&"
	OpOrElse             BinaryOp = "||"
	OpAdd                BinaryOp = "+"
	OpSubtract           BinaryOp = "-"
	OpMultiply           BinaryOp = "*"
	OpDivide             BinaryOp = "/"
	OpModulo             BinaryOp = "%"
)

// IsComparison reports whether the operator compares its operands.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		return true
	}
	return false
}

// IsLogical reports whether the operator is && or ||.
func (op BinaryOp) IsLogical() bool {
	return op == OpAndAlso || op == OpOrElse
}

// Flip returns the operator to use when the operands of a comparison are swapped,
// so that "3 < x" can be rewritten as "x > 3".
func (op BinaryOp) Flip() BinaryOp {
	switch op {
	case OpLessThan:
		return OpGreaterThan
	case OpLessThanOrEqual:
		return OpGreaterThanOrEqual
	case OpGreaterThan:
		return OpLessThan
	case OpGreaterThanOrEqual:
		return OpLessThanOrEqual
	}
	return op
}

// Negate returns the comparison that is true exactly when op is false.
func (op BinaryOp) Negate() BinaryOp {
	switch op {
	case OpEqual:
		return OpNotEqual
	case OpNotEqual:
		return OpEqual
	case OpLessThan:
		return OpGreaterThanOrEqual
	case OpLessThanOrEqual:
		return OpGreaterThan
	case OpGreaterThan:
		return OpLessThanOrEqual
	case OpGreaterThanOrEqual:
		return OpLessThan
	}
	return op
}

// UnaryOp identifies the operator of a Unary node.
type UnaryOp string

const (
	OpNot         UnaryOp = "!"
	OpNegate      UnaryOp = "-"
	OpConvert     UnaryOp = "convert"
	OpArrayLength UnaryOp = "len"
)

// Family groups methods by the type that declares them. Method names overlap across
// families (Contains exists on strings, enumerables and dictionaries), so parsers
// match on both.
type Family string

const (
	FamilyString     Family = "string"
	FamilyEnumerable Family = "enumerable"
	FamilyDictionary Family = "dictionary"
	FamilyExtensions Family = "extensions"
	FamilyObject     Family = "object"
	FamilyMath       Family = "math"
)

// CtorKind classifies the constructor used by a New node.
type CtorKind int

const (
	// CtorAnonymous builds an ad hoc shape with no declared Go type.
	CtorAnonymous CtorKind = iota
	// CtorParameterless builds a struct value by assigning exported fields.
	CtorParameterless
	// CtorDesignated calls the constructor the type declares for deserialization.
	CtorDesignated
	// CtorArbitrary calls any other constructor function.
	CtorArbitrary
)

func (k CtorKind) String() string {
	switch k {
	case CtorAnonymous:
		return "anonymous"
	case CtorParameterless:
		return "parameterless"
	case CtorDesignated:
		return "designated"
	default:
		return "arbitrary"
	}
}

// Parameter is a lambda parameter. Identity is by pointer: two parameters with the
// same name are still different parameters.
type Parameter struct {
	Name string
	typ  reflect.Type
}

// NewParameter creates a parameter of the given type.
func NewParameter(name string, t reflect.Type) *Parameter {
	return &Parameter{Name: name, typ: t}
}

func (p *Parameter) Type() reflect.Type { return p.typ }
func (*Parameter) node()                {}

// Constant is an inline literal value.
type Constant struct {
	Value any
	typ   reflect.Type
}

// NewConstant wraps a literal value. A nil value produces an untyped constant.
func NewConstant(v any) *Constant {
	if n, ok := v.(*Constant); ok {
		return n
	}
	return &Constant{Value: v, typ: reflect.TypeOf(v)}
}

// NewTypedConstant wraps a literal value with an explicit type, which is how a typed
// nil (a nil pointer or nil slice of a known type) is expressed.
func NewTypedConstant(v any, t reflect.Type) *Constant {
	return &Constant{Value: v, typ: t}
}

func (c *Constant) Type() reflect.Type { return c.typ }
func (*Constant) node()                {}

// Closure references a caller variable through a pointer. Its value is read when the
// expression is evaluated, not when it is built, which is what lets a compiled query
// bind a parameter to a field rather than inlining its current value.
type Closure struct {
	Name string
	ptr  reflect.Value
}

// NewClosure creates a closure over the variable ptr points to. It panics when ptr is
// not a non-nil pointer, which is a programming error at the call site.
func NewClosure(name string, ptr any) *Closure {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		panic(fmt.Sprintf("expr: closure %q must reference a non-nil pointer, got %T", name, ptr))
	}
	return &Closure{Name: name, ptr: v}
}

// Value returns the current value of the referenced variable.
func (c *Closure) Value() any { return c.ptr.Elem().Interface() }

// Pointer returns the address of the referenced variable.
func (c *Closure) Pointer() uintptr { return c.ptr.Pointer() }

func (c *Closure) Type() reflect.Type { return c.ptr.Elem().Type() }
func (*Closure) node()                {}

// Member is a field access on a struct-typed target, by Go field name.
type Member struct {
	Target Node
	Name   string
	typ    reflect.Type
}

// NewMember creates a member access, resolving its type from the target's struct type.
func NewMember(target Node, name string) *Member {
	return &Member{Target: target, Name: name, typ: fieldType(target.Type(), name)}
}

func (m *Member) Type() reflect.Type { return m.typ }
func (*Member) node()                {}

// Index is an element access on a slice, array or map.
type Index struct {
	Target Node
	Key    Node
	typ    reflect.Type
}

// NewIndex creates an index access.
func NewIndex(target Node, key Node) *Index {
	var t reflect.Type
	if tt := Deref(target.Type()); tt != nil {
		switch tt.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			t = tt.Elem()
		}
	}
	return &Index{Target: target, Key: key, typ: t}
}

func (i *Index) Type() reflect.Type { return i.typ }
func (*Index) node()                {}

// Call is a method call. Receiver is nil for static calls; extension-style calls put
// the extended value first in Args, matching how they are declared.
type Call struct {
	Receiver Node
	Method   string
	Family   Family
	Args     []Node
	typ      reflect.Type
}

// NewCall creates a method call with an explicit result type.
func NewCall(receiver Node, family Family, method string, result reflect.Type, args ...Node) *Call {
	return &Call{Receiver: receiver, Method: method, Family: family, Args: args, typ: result}
}

func (c *Call) Type() reflect.Type { return c.typ }
func (*Call) node()                {}

// Subject returns the value the method operates on: the receiver for instance
// methods, the first argument for extension-style calls.
func (c *Call) Subject() Node {
	if c.Receiver != nil {
		return c.Receiver
	}
	if len(c.Args) > 0 {
		return c.Args[0]
	}
	return nil
}

// Operands returns the arguments that are not the subject.
func (c *Call) Operands() []Node {
	if c.Receiver != nil || len(c.Args) == 0 {
		return c.Args
	}
	return c.Args[1:]
}

// Binary is a binary operation.
type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
	typ   reflect.Type
}

// NewBinary creates a binary node. Comparisons and logical operators are boolean;
// arithmetic takes the type of its left operand.
func NewBinary(op BinaryOp, left, right Node) *Binary {
	t := left.Type()
	if op.IsComparison() || op.IsLogical() {
		t = boolType
	} else if t == nil {
		t = right.Type()
	}
	return &Binary{Op: op, Left: left, Right: right, typ: t}
}

func (b *Binary) Type() reflect.Type { return b.typ }
func (*Binary) node()                {}

// Unary is a unary operation.
type Unary struct {
	Op      UnaryOp
	Operand Node
	typ     reflect.Type
}

// NewUnary creates a unary node.
func NewUnary(op UnaryOp, operand Node, t reflect.Type) *Unary {
	if t == nil {
		switch op {
		case OpNot:
			t = boolType
		case OpArrayLength:
			t = intType
		default:
			t = operand.Type()
		}
	}
	return &Unary{Op: op, Operand: operand, typ: t}
}

func (u *Unary) Type() reflect.Type { return u.typ }
func (*Unary) node()                {}

// Lambda is a function literal: parameters plus a body.
type Lambda struct {
	Params []*Parameter
	Body   Node
}

// NewLambda creates a lambda node.
func NewLambda(body Node, params ...*Parameter) *Lambda {
	return &Lambda{Params: params, Body: body}
}

func (l *Lambda) Type() reflect.Type { return l.Body.Type() }
func (*Lambda) node()                {}

// Param returns the first parameter, or nil for a parameterless lambda.
func (l *Lambda) Param() *Parameter {
	if len(l.Params) == 0 {
		return nil
	}
	return l.Params[0]
}

// Binding assigns a value to a named member of a constructed object.
type Binding struct {
	Name  string
	Value Node
}

// New constructs an object from named bindings.
type New struct {
	Kind     CtorKind
	Bindings []Binding
	typ      reflect.Type
}

// NewObject creates a construction node. An anonymous shape has no declared type
// and is materialized as map[string]any.
func NewObject(kind CtorKind, t reflect.Type, bindings ...Binding) *New {
	if t == nil {
		t = mapType
	}
	return &New{Kind: kind, Bindings: bindings, typ: t}
}

func (n *New) Type() reflect.Type { return n.typ }
func (*New) node()                {}

// Binding returns the value bound to name.
func (n *New) Binding(name string) (Node, bool) {
	for _, b := range n.Bindings {
		if b.Name == name {
			return b.Value, true
		}
	}
	return nil, false
}

var (
	boolType   = reflect.TypeOf(false)
	intType    = reflect.TypeOf(0)
	stringType = reflect.TypeOf("")
	mapType    = reflect.TypeOf(map[string]any{})
)

// Deref strips pointer indirections from t.
func Deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func fieldType(t reflect.Type, name string) reflect.Type {
	t = Deref(t)
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Struct {
		if f, ok := t.FieldByName(name); ok {
			return f.Type
		}
	}
	return nil
}

// Compile-time verification that all node types implement Node
var (
	_ Node = (*Parameter)(nil)
	_ Node = (*Constant)(nil)
	_ Node = (*Closure)(nil)
	_ Node = (*Member)(nil)
	_ Node = (*Index)(nil)
	_ Node = (*Call)(nil)
	_ Node = (*Binary)(nil)
	_ Node = (*Unary)(nil)
	_ Node = (*Lambda)(nil)
	_ Node = (*New)(nil)
)
