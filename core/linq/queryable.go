package linq

import (
	"fmt"
	"reflect"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/linq/selectors"
	"github.com/asaidimu/go-marten/core/linq/statements"
)

// operator applies one recorded query operator to a statement builder.
type operator struct {
	name  string
	apply func(b *statements.Builder) error
	// nodes are the expressions the operator translates.
	nodes []expr.Node
}

// includeTarget receives the rows of one Include statement. The target is the
// caller's collection or callback; at execution it is resolved through the
// environment so compiled queries fill the current instance's fields.
type includeTarget struct {
	target any
	read   func(rows Rows, target any) error
}

// query is the untyped state behind a Queryable. It is never mutated once
// shared: every operator returns a new query.
type query struct {
	provider *Provider
	compiled bool
	docType  reflect.Type
	ops      []operator
	includes []includeTarget
	stats    *selectors.Statistics
}

func (q *query) with(op operator) *query {
	out := *q
	out.ops = append(append([]operator(nil), q.ops...), op)
	return &out
}

// Queryable is an immutable query yielding values of type T. Operators return a
// new Queryable, so a partially built query can be reused as a base.
type Queryable[T any] struct {
	q *query
}

// Query starts a query over documents of type T.
func Query[T any](p *Provider) Queryable[T] {
	return Queryable[T]{q: &query{provider: p, docType: reflect.TypeFor[T]()}}
}

func lambda[T any](fn func(x expr.E) expr.E) *expr.Lambda {
	return expr.LambdaOf(reflect.TypeFor[T](), "x", fn)
}

// count lifts a Take/Skip argument: an int, or a reference built with expr.Ref.
func count(n any) expr.Node {
	if e, ok := n.(expr.E); ok {
		return e.Node()
	}
	return expr.NewConstant(n)
}

func (q Queryable[T]) then(name string, apply func(b *statements.Builder) error, nodes ...expr.Node) Queryable[T] {
	return Queryable[T]{q: q.q.with(operator{name: name, apply: apply, nodes: nodes})}
}

// Where filters the values.
func (q Queryable[T]) Where(pred func(x expr.E) expr.E) Queryable[T] {
	l := lambda[T](pred)
	return q.then("Where", func(b *statements.Builder) error { return b.Where(l) }, l)
}

func (q Queryable[T]) sort(name string, key func(x expr.E) expr.E, o statements.Ordering) Queryable[T] {
	l := lambda[T](key)
	return q.then(name, func(b *statements.Builder) error { return b.OrderBy(l, o) }, l)
}

// OrderBy sorts ascending by key, replacing earlier sort keys.
func (q Queryable[T]) OrderBy(key func(x expr.E) expr.E) Queryable[T] {
	return q.sort("OrderBy", key, statements.Ordering{})
}

// OrderByDescending sorts descending by key, replacing earlier sort keys.
func (q Queryable[T]) OrderByDescending(key func(x expr.E) expr.E) Queryable[T] {
	return q.sort("OrderByDescending", key, statements.Ordering{Descending: true})
}

// ThenBy adds an ascending sort key.
func (q Queryable[T]) ThenBy(key func(x expr.E) expr.E) Queryable[T] {
	return q.sort("ThenBy", key, statements.Ordering{Then: true})
}

// ThenByDescending adds a descending sort key.
func (q Queryable[T]) ThenByDescending(key func(x expr.E) expr.E) Queryable[T] {
	return q.sort("ThenByDescending", key, statements.Ordering{Descending: true, Then: true})
}

// OrderByWith sorts by key with explicit direction, casing and chaining.
func (q Queryable[T]) OrderByWith(key func(x expr.E) expr.E, o statements.Ordering) Queryable[T] {
	return q.sort("OrderBy", key, o)
}

// Take limits the number of values. n is an int or an expr.Ref to one.
func (q Queryable[T]) Take(n any) Queryable[T] {
	node := count(n)
	return q.then("Take", func(b *statements.Builder) error {
		v, err := statements.IntValue(node)
		if err != nil {
			return err
		}
		b.Take(v)
		return nil
	}, node)
}

// Skip skips values. n is an int or an expr.Ref to one.
func (q Queryable[T]) Skip(n any) Queryable[T] {
	node := count(n)
	return q.then("Skip", func(b *statements.Builder) error {
		v, err := statements.IntValue(node)
		if err != nil {
			return err
		}
		b.Skip(v)
		return nil
	}, node)
}

// Distinct removes duplicate values.
func (q Queryable[T]) Distinct() Queryable[T] {
	return q.then("Distinct", func(b *statements.Builder) error {
		b.Distinct()
		return nil
	})
}

// Stats records the total number of matching values, before Take and Skip, into
// stats when the query executes.
func (q Queryable[T]) Stats(stats *selectors.Statistics) Queryable[T] {
	out := q.then("Stats", func(b *statements.Builder) error {
		b.Stats()
		return nil
	})
	out.q.stats = stats
	return out
}

// String describes the operator chain, for logs.
func (q Queryable[T]) String() string {
	s := fmt.Sprintf("Query<%s>", q.q.docType.Name())
	for _, op := range q.q.ops {
		s += "." + op.name + "()"
	}
	return s
}

// Select projects each value of q.
func Select[T, R any](q Queryable[T], fn func(x expr.E) expr.E) Queryable[R] {
	l := lambda[T](fn)
	return Queryable[R]{q: q.then("Select", func(b *statements.Builder) error { return b.Select(l) }, l).q}
}

// SelectMany flattens a collection member of each value into its elements.
func SelectMany[T, R any](q Queryable[T], fn func(x expr.E) expr.E) Queryable[R] {
	l := lambda[T](fn)
	return Queryable[R]{q: q.then("SelectMany", func(b *statements.Builder) error { return b.SelectMany(l) }, l).q}
}

func include[T any](q Queryable[T], fn func(x expr.E) expr.E, docType reflect.Type, identity bool, t includeTarget) Queryable[T] {
	l := lambda[T](fn)
	out := q.then("Include", func(b *statements.Builder) error { return b.Include(l, docType, identity) }, l)
	out.q.includes = append(append([]includeTarget(nil), q.q.includes...), t)
	return out
}

// Include loads the documents referenced by the id member of fn into a fresh
// slice assigned to into each time the query executes.
func Include[T, I any](q Queryable[T], fn func(x expr.E) expr.E, into *[]I) Queryable[T] {
	decode := selectors.JSON[I](q.q.provider.adhoc.Serializer())
	return include(q, fn, reflect.TypeFor[I](), false, includeTarget{target: into, read: func(rows Rows, target any) error {
		docs, err := selectors.List(selectors.Data(decode)).Handle(rows)
		if err != nil {
			return err
		}
		*target.(*[]I) = docs
		return nil
	}})
}

// IncludeMap loads the referenced documents into a fresh map keyed by id.
func IncludeMap[T, I any](q Queryable[T], fn func(x expr.E) expr.E, into *map[string]I) Queryable[T] {
	decode := selectors.JSON[I](q.q.provider.adhoc.Serializer())
	return include(q, fn, reflect.TypeFor[I](), true, includeTarget{target: into, read: func(rows Rows, target any) error {
		docs, err := selectors.List(selectors.Identity(decode)).Handle(rows)
		if err != nil {
			return err
		}
		m := make(map[string]I, len(docs))
		for _, d := range docs {
			m[d.Id] = d.Document
		}
		*target.(*map[string]I) = m
		return nil
	}})
}

// IncludeFunc passes each referenced document to callback.
func IncludeFunc[T, I any](q Queryable[T], fn func(x expr.E) expr.E, callback func(I)) Queryable[T] {
	decode := selectors.JSON[I](q.q.provider.adhoc.Serializer())
	return include(q, fn, reflect.TypeFor[I](), false, includeTarget{target: nil, read: func(rows Rows, _ any) error {
		sel := selectors.Data(decode)
		for rows.Next() {
			doc, err := sel.Read(rows)
			if err != nil {
				return err
			}
			callback(doc)
		}
		return rows.Err()
	}})
}
