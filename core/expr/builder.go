package expr

import (
	"reflect"
	"unicode"
)

// StringComparison selects case sensitivity for string methods that accept it.
type StringComparison int

const (
	Ordinal StringComparison = iota
	OrdinalIgnoreCase
	CurrentCulture
	CurrentCultureIgnoreCase
	InvariantCulture
	InvariantCultureIgnoreCase
)

// IgnoresCase reports whether the comparison is case-insensitive.
func (c StringComparison) IgnoresCase() bool {
	return c == OrdinalIgnoreCase || c == CurrentCultureIgnoreCase || c == InvariantCultureIgnoreCase
}

func (c StringComparison) String() string {
	switch c {
	case Ordinal:
		return "Ordinal"
	case OrdinalIgnoreCase:
		return "OrdinalIgnoreCase"
	case CurrentCulture:
		return "CurrentCulture"
	case CurrentCultureIgnoreCase:
		return "CurrentCultureIgnoreCase"
	case InvariantCulture:
		return "InvariantCulture"
	default:
		return "InvariantCultureIgnoreCase"
	}
}

// E is a fluent handle over a Node. Lambdas are written as ordinary Go functions
// over E values:
//
//	where := expr.LambdaFor[Target](func(x expr.E) expr.E {
//		return x.Member("Number").Gt(3).And(x.Member("Tags").Contains("a"))
//	})
type E struct {
	n Node
}

// Wrap returns a builder for an existing node.
func Wrap(n Node) E { return E{n: n} }

// Node returns the node under construction.
func (e E) Node() Node { return e.n }

// Type returns the Go type of the node under construction.
func (e E) Type() reflect.Type { return e.n.Type() }

func (e E) String() string { return Format(e.n) }

// LambdaFor builds a single-parameter lambda over documents of type T.
func LambdaFor[T any](fn func(x E) E) *Lambda {
	return LambdaOf(reflect.TypeFor[T](), "x", fn)
}

// LambdaOf builds a single-parameter lambda over values of type t.
func LambdaOf(t reflect.Type, name string, fn func(E) E) *Lambda {
	p := NewParameter(name, t)
	return NewLambda(fn(E{n: p}).n, p)
}

// Const wraps a literal value.
func Const(v any) E { return E{n: NewConstant(v)} }

// Nil returns a typed nil constant of type T.
func Nil[T any]() E {
	return E{n: NewTypedConstant(nil, reflect.TypeFor[T]())}
}

// Ref references a caller variable that is read at translation time.
func Ref(name string, ptr any) E { return E{n: NewClosure(name, ptr)} }

func lift(v any) Node {
	switch v := v.(type) {
	case E:
		return v.n
	case Node:
		return v
	default:
		return NewConstant(v)
	}
}

// Member accesses a struct field by its Go name.
func (e E) Member(name string) E { return E{n: NewMember(e.n, name)} }

// Index accesses a slice or array element.
func (e E) Index(i any) E { return E{n: NewIndex(e.n, lift(i))} }

// Key accesses a map entry.
func (e E) Key(k any) E { return E{n: NewIndex(e.n, lift(k))} }

// Len is the length of an array or slice member.
func (e E) Len() E { return E{n: NewUnary(OpArrayLength, e.n, nil)} }

// Convert casts the value to t.
func (e E) Convert(t reflect.Type) E { return E{n: NewUnary(OpConvert, e.n, t)} }

func (e E) binary(op BinaryOp, v any) E { return E{n: NewBinary(op, e.n, lift(v))} }

// Eq compares for equality.
func (e E) Eq(v any) E { return e.binary(OpEqual, v) }

// Neq compares for inequality.
func (e E) Neq(v any) E { return e.binary(OpNotEqual, v) }

// Lt is a less-than comparison.
func (e E) Lt(v any) E { return e.binary(OpLessThan, v) }

// Lte is a less-than-or-equal comparison.
func (e E) Lte(v any) E { return e.binary(OpLessThanOrEqual, v) }

// Gt is a greater-than comparison.
func (e E) Gt(v any) E { return e.binary(OpGreaterThan, v) }

// Gte is a greater-than-or-equal comparison.
func (e E) Gte(v any) E { return e.binary(OpGreaterThanOrEqual, v) }

// And combines two predicates with &&.
func (e E) And(v any) E { return e.binary(OpAndAlso, v) }

// Or combines two predicates with ||.
func (e E) Or(v any) E { return e.binary(OpOrElse, v) }

// Not negates a predicate.
func (e E) Not() E { return E{n: NewUnary(OpNot, e.n, nil)} }

func (e E) Add(v any) E { return e.binary(OpAdd, v) }
func (e E) Sub(v any) E { return e.binary(OpSubtract, v) }
func (e E) Mul(v any) E { return e.binary(OpMultiply, v) }
func (e E) Div(v any) E { return e.binary(OpDivide, v) }
func (e E) Mod(v any) E { return e.binary(OpModulo, v) }

// Neg negates a numeric value.
func (e E) Neg() E { return E{n: NewUnary(OpNegate, e.n, nil)} }

func (e E) call(family Family, method string, result reflect.Type, args ...any) E {
	nodes := make([]Node, len(args))
	for i, a := range args {
		nodes[i] = lift(a)
	}
	return E{n: NewCall(e.n, family, method, result, nodes...)}
}

func (e E) extension(family Family, method string, result reflect.Type, args ...any) E {
	nodes := make([]Node, 0, len(args)+1)
	nodes = append(nodes, e.n)
	for _, a := range args {
		nodes = append(nodes, lift(a))
	}
	return E{n: NewCall(nil, family, method, result, nodes...)}
}

func withComparison(v any, cmp []StringComparison) []any {
	if len(cmp) == 0 {
		return []any{v}
	}
	return []any{v, NewConstant(cmp[0])}
}

func (e E) isString() bool {
	t := Deref(e.Type())
	return t != nil && t.Kind() == reflect.String
}

// StartsWith tests a string prefix.
func (e E) StartsWith(v any, cmp ...StringComparison) E {
	return e.call(FamilyString, "StartsWith", boolType, withComparison(v, cmp)...)
}

// EndsWith tests a string suffix.
func (e E) EndsWith(v any, cmp ...StringComparison) E {
	return e.call(FamilyString, "EndsWith", boolType, withComparison(v, cmp)...)
}

// Contains tests for a substring when the receiver is a string, and for an element
// when the receiver is a collection.
func (e E) Contains(v any, cmp ...StringComparison) E {
	if e.isString() {
		return e.call(FamilyString, "Contains", boolType, withComparison(v, cmp)...)
	}
	return e.extension(FamilyEnumerable, "Contains", boolType, v)
}

// Equals compares with an explicit string comparison mode.
func (e E) Equals(v any, cmp ...StringComparison) E {
	if e.isString() {
		return e.call(FamilyString, "Equals", boolType, withComparison(v, cmp)...)
	}
	return e.call(FamilyObject, "Equals", boolType, v)
}

// ToLower lower-cases a string.
func (e E) ToLower() E { return e.call(FamilyString, "ToLower", stringType) }

// ToUpper upper-cases a string.
func (e E) ToUpper() E { return e.call(FamilyString, "ToUpper", stringType) }

// CompareTo orders the receiver against v: negative, zero or positive.
func (e E) CompareTo(v any) E { return e.call(FamilyObject, "CompareTo", intType, v) }

// IsNullOrEmpty tests a string for nil or "".
func IsNullOrEmpty(v E) E {
	return E{n: NewCall(nil, FamilyString, "IsNullOrEmpty", boolType, v.n)}
}

// Compare orders two strings, optionally ignoring case.
func Compare(a, b any, cmp ...StringComparison) E {
	args := []Node{lift(a), lift(b)}
	if len(cmp) > 0 {
		args = append(args, NewConstant(cmp[0]))
	}
	return E{n: NewCall(nil, FamilyString, "Compare", intType, args...)}
}

// ElementType returns the element type of a slice or array type, or nil.
func ElementType(t reflect.Type) reflect.Type {
	t = Deref(t)
	if t == nil {
		return nil
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return t.Elem()
	}
	return nil
}

func (e E) elementLambda(fn func(E) E) *Lambda {
	et := ElementType(e.Type())
	return LambdaOf(et, parameterName(et), fn)
}

func parameterName(t reflect.Type) string {
	t = Deref(t)
	if t == nil || t.Name() == "" {
		return "e"
	}
	r := []rune(t.Name())
	return string(unicode.ToLower(r[0]))
}

// Any tests a collection for elements, optionally matching a predicate.
func (e E) Any(pred ...func(E) E) E {
	if len(pred) == 0 {
		return e.extension(FamilyEnumerable, "Any", boolType)
	}
	return e.extension(FamilyEnumerable, "Any", boolType, e.elementLambda(pred[0]))
}

// Count counts the elements of a collection, optionally matching a predicate.
func (e E) Count(pred ...func(E) E) E {
	if len(pred) == 0 {
		return e.extension(FamilyEnumerable, "Count", intType)
	}
	return e.extension(FamilyEnumerable, "Count", intType, e.elementLambda(pred[0]))
}

// Where filters the elements of a collection.
func (e E) Where(pred func(E) E) E {
	return e.extension(FamilyEnumerable, "Where", e.Type(), e.elementLambda(pred))
}

// Select projects the elements of a collection.
func (e E) Select(fn func(E) E) E {
	l := e.elementLambda(fn)
	var t reflect.Type = reflect.TypeOf([]any{})
	if bt := l.Body.Type(); bt != nil {
		t = reflect.SliceOf(bt)
	}
	return e.extension(FamilyEnumerable, "Select", t, l)
}

// Intersect yields the elements shared with another collection.
func (e E) Intersect(other any) E {
	return e.extension(FamilyEnumerable, "Intersect", e.Type(), other)
}

// IsEmpty tests a collection for having no elements.
func (e E) IsEmpty() E { return e.extension(FamilyExtensions, "IsEmpty", boolType) }

// ContainsKey tests a map for a key.
func (e E) ContainsKey(k any) E { return e.call(FamilyDictionary, "ContainsKey", boolType, k) }

// ContainsEntry tests a map for a key holding a value.
func (e E) ContainsEntry(k, v any) E {
	return e.call(FamilyDictionary, "Contains", boolType, k, v)
}

// Keys is the key collection of a map.
func (e E) Keys() E {
	var t reflect.Type
	if mt := Deref(e.Type()); mt != nil && mt.Kind() == reflect.Map {
		t = reflect.SliceOf(mt.Key())
	}
	return e.call(FamilyDictionary, "Keys", t)
}

// Values is the value collection of a map.
func (e E) Values() E {
	var t reflect.Type
	if mt := Deref(e.Type()); mt != nil && mt.Kind() == reflect.Map {
		t = reflect.SliceOf(mt.Elem())
	}
	return e.call(FamilyDictionary, "Values", t)
}

// IsOneOf tests the value for membership in a list.
func (e E) IsOneOf(values any) E { return e.extension(FamilyExtensions, "IsOneOf", boolType, values) }

// IsNotOneOf tests the value for absence from a list.
func (e E) IsNotOneOf(values any) E {
	return e.extension(FamilyExtensions, "IsNotOneOf", boolType, values)
}

// In is IsOneOf over inline values, which must share one type.
func (e E) In(values ...any) E {
	if len(values) == 0 {
		return e.IsOneOf(values)
	}
	first := reflect.TypeOf(values[0])
	list := reflect.MakeSlice(reflect.SliceOf(first), 0, len(values))
	for _, v := range values {
		rv := reflect.ValueOf(v)
		if rv.Type() != first {
			return e.IsOneOf(values)
		}
		list = reflect.Append(list, rv)
	}
	return e.IsOneOf(list.Interface())
}

func (e E) search(method string, term any, regConfig []string) E {
	args := []any{term}
	if len(regConfig) > 0 {
		args = append(args, regConfig[0])
	}
	return e.extension(FamilyExtensions, method, boolType, args...)
}

// Search matches the document's full-text index with to_tsquery.
func (e E) Search(term any, regConfig ...string) E { return e.search("Search", term, regConfig) }

// PlainTextSearch matches the document's full-text index with plainto_tsquery.
func (e E) PlainTextSearch(term any, regConfig ...string) E {
	return e.search("PlainTextSearch", term, regConfig)
}

// PhraseSearch matches the document's full-text index with phraseto_tsquery.
func (e E) PhraseSearch(term any, regConfig ...string) E {
	return e.search("PhraseSearch", term, regConfig)
}

// WebStyleSearch matches the document's full-text index with websearch_to_tsquery.
func (e E) WebStyleSearch(term any, regConfig ...string) E {
	return e.search("WebStyleSearch", term, regConfig)
}

// NgramSearch matches a string member against its trigram index.
func (e E) NgramSearch(term any) E { return e.extension(FamilyExtensions, "NgramSearch", boolType, term) }

// MatchesSql embeds a raw SQL predicate; '?' marks positional parameters.
func (e E) MatchesSql(sql string, params ...any) E {
	args := append([]any{sql}, params...)
	return e.extension(FamilyExtensions, "MatchesSql", boolType, args...)
}

// MatchesJsonPath matches a JSONPath filter, given either as a string or as a
// predicate function over the document that is translated to JSONPath.
func (e E) MatchesJsonPath(path any) E {
	if fn, ok := path.(func(E) E); ok {
		return e.extension(FamilyExtensions, "MatchesJsonPath", boolType, LambdaOf(e.Type(), "j", fn))
	}
	return e.extension(FamilyExtensions, "MatchesJsonPath", boolType, path)
}

// IsDeleted selects only soft-deleted documents.
func (e E) IsDeleted() E { return e.extension(FamilyExtensions, "IsDeleted", boolType) }

// MaybeDeleted selects documents regardless of soft-deletion.
func (e E) MaybeDeleted() E { return e.extension(FamilyExtensions, "MaybeDeleted", boolType) }

// DeletedSince selects documents soft-deleted after t.
func (e E) DeletedSince(t any) E { return e.extension(FamilyExtensions, "DeletedSince", boolType, t) }

// DeletedBefore selects documents soft-deleted before t.
func (e E) DeletedBefore(t any) E { return e.extension(FamilyExtensions, "DeletedBefore", boolType, t) }

// AnyTenant lifts the session's tenant filter.
func (e E) AnyTenant() E { return e.extension(FamilyExtensions, "AnyTenant", boolType) }

// TenantIsOneOf selects documents belonging to any of the tenants.
func (e E) TenantIsOneOf(tenants ...string) E {
	return e.extension(FamilyExtensions, "TenantIsOneOf", boolType, tenants)
}

// Bind assigns a value to a member of a constructed object.
func Bind(name string, v any) Binding { return Binding{Name: name, Value: lift(v)} }

// NewAnonymous constructs an anonymous object.
func NewAnonymous(bindings ...Binding) E { return E{n: NewObject(CtorAnonymous, nil, bindings...)} }

// NewOf constructs a T by assigning its exported fields.
func NewOf[T any](bindings ...Binding) E {
	return E{n: NewObject(CtorParameterless, reflect.TypeFor[T](), bindings...)}
}

// Construct builds a T through one of its constructors.
func Construct[T any](kind CtorKind, bindings ...Binding) E {
	return E{n: NewObject(kind, reflect.TypeFor[T](), bindings...)}
}
