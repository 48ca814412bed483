package linq

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/linq/parsing"
	"github.com/asaidimu/go-marten/core/linq/selectors"
	"github.com/asaidimu/go-marten/core/linq/statements"
	"go.uber.org/zap"
)

// ErrNoExecutor is returned when a query is executed by a provider without an
// executor.
var ErrNoExecutor = errors.New("linq: provider has no executor")

// env resolves what changes between executions of one translation: the closure
// values and the caller's include and statistics targets.
type env struct {
	binder fragments.Binder
	target func(t any) any
}

func adhocEnv() *env {
	return &env{target: func(t any) any { return t }}
}

type handlerFactory[R any] func(p *Provider, e *env) (selectors.Handler[R], error)

// Terminal is a query finished by a terminal operator. It is translated and run
// by Execute, or translated only by Translate.
type Terminal[R any] struct {
	q       *query
	name    string
	finish  func(b *statements.Builder) (*statements.Statement, error)
	handler handlerFactory[R]
	// paged terminals cannot be compiled.
	paged bool
	// nodes are the expressions the terminal operator translates.
	nodes []expr.Node
}

// Name returns the terminal operator's name.
func (t Terminal[R]) Name() string { return t.name }

// translated is the output of one translation: the command plus everything
// needed to read its result sets.
type translated[R any] struct {
	command  *fragments.Command
	handler  handlerFactory[R]
	includes []includeTarget
	tenant   *expr.Closure
}

func translate[R any](p *Provider, t Terminal[R], parser *parsing.Parser) (*translated[R], error) {
	start := time.Now()
	p.emit(Event{Kind: EventTranslateStart, DocType: t.q.docType, Operator: t.name})
	tr, err := buildCommand(p, t, parser)
	if err != nil {
		p.logger.Warn("Failed to translate query",
			zap.String("docType", t.q.docType.String()),
			zap.String("operator", t.name),
			zap.Error(err))
		p.emit(Event{Kind: EventTranslateFailed, DocType: t.q.docType, Operator: t.name, Duration: time.Since(start), Error: err})
		return nil, err
	}
	sqls := make([]string, len(tr.command.Statements))
	for i, s := range tr.command.Statements {
		sqls[i] = s.SQL
	}
	p.logger.Debug("Translated query",
		zap.String("docType", t.q.docType.String()),
		zap.String("operator", t.name),
		zap.Strings("sql", sqls),
		zap.Bool("compiled", parser.IsCompiled()))
	p.emit(Event{Kind: EventTranslateSuccess, DocType: t.q.docType, Operator: t.name, SQL: sqls, Duration: time.Since(start)})
	return tr, nil
}

func buildCommand[R any](p *Provider, t Terminal[R], parser *parsing.Parser) (*translated[R], error) {
	tenant, closure := p.tenantValue()
	b, err := statements.NewBuilder(parser, t.q.docType, statements.WithTenant(tenant))
	if err != nil {
		return nil, err
	}
	for _, op := range t.q.ops {
		if err := op.apply(b); err != nil {
			return nil, err
		}
	}
	stmt, err := t.finish(b)
	if err != nil {
		return nil, err
	}
	includes, err := b.Includes()
	if err != nil {
		return nil, err
	}
	cmd := &fragments.Command{Statements: []fragments.Statement{fragments.Render(stmt)}}
	for _, inc := range includes {
		cmd.Statements = append(cmd.Statements, fragments.Render(inc))
	}
	return &translated[R]{command: cmd, handler: t.handler, includes: t.q.includes, tenant: closure}, nil
}

func run[R any](ctx context.Context, p *Provider, name string, tr *translated[R], e *env) (R, error) {
	var result R
	if p.executor == nil {
		return result, ErrNoExecutor
	}
	sqls, args, err := tr.command.Render(e.binder)
	if err != nil {
		return result, err
	}
	handler, err := tr.handler(p, e)
	if err != nil {
		return result, err
	}

	start := time.Now()
	p.emit(Event{Kind: EventExecuteStart, Operator: name, SQL: sqls})
	err = p.executor.Execute(ctx, Batch{Statements: sqls, Args: args}, func(i int, rows Rows) error {
		if i == 0 {
			r, err := handler.Handle(rows)
			if err != nil {
				return err
			}
			result = r
			return nil
		}
		if i > len(tr.includes) {
			return fmt.Errorf("unexpected result set %d", i)
		}
		inc := tr.includes[i-1]
		return inc.read(rows, e.target(inc.target))
	})
	if err != nil {
		p.emit(Event{Kind: EventExecuteFailed, Operator: name, SQL: sqls, Duration: time.Since(start), Error: err})
		var zero R
		return zero, err
	}
	p.emit(Event{Kind: EventExecuteSuccess, Operator: name, SQL: sqls, Duration: time.Since(start)})
	return result, nil
}

// Execute translates and runs a terminal.
func Execute[R any](ctx context.Context, t Terminal[R]) (R, error) {
	p := t.q.provider
	tr, err := translate(p, t, p.adhoc)
	if err != nil {
		var zero R
		return zero, err
	}
	return run(ctx, p, t.name, tr, adhocEnv())
}

// Translate returns the command a terminal runs and the handler reading its
// first result set, without executing anything.
func Translate[R any](t Terminal[R]) (*fragments.Command, selectors.Handler[R], error) {
	p := t.q.provider
	tr, err := translate(p, t, p.adhoc)
	if err != nil {
		return nil, nil, err
	}
	h, err := tr.handler(p, adhocEnv())
	if err != nil {
		return nil, nil, err
	}
	return tr.command, h, nil
}

func decoder[R any](p *Provider) selectors.Decoder[R] {
	return selectors.JSON[R](p.adhoc.Serializer())
}

// values reads one jsonb value per row, with the total count when Stats is on.
func values[T any](p *Provider, q *query, e *env) selectors.Selector[T] {
	if q.stats != nil {
		return selectors.WithStats(decoder[T](p), e.target(q.stats).(*selectors.Statistics))
	}
	return selectors.Data(decoder[T](p))
}

// AsList finishes q as a list.
func AsList[T any](q Queryable[T]) Terminal[[]T] {
	return Terminal[[]T]{
		q:      q.q,
		name:   "ToList",
		finish: func(b *statements.Builder) (*statements.Statement, error) { return b.List(), nil },
		handler: func(p *Provider, e *env) (selectors.Handler[[]T], error) {
			return selectors.List(values[T](p, q.q, e)), nil
		},
	}
}

func asOne[T any](q Queryable[T], mode selectors.OneMode) Terminal[T] {
	return Terminal[T]{
		q:      q.q,
		name:   mode.String(),
		finish: func(b *statements.Builder) (*statements.Statement, error) { return b.One(mode.Limit()), nil },
		handler: func(p *Provider, e *env) (selectors.Handler[T], error) {
			return selectors.One(values[T](p, q.q, e), mode), nil
		},
	}
}

// AsFirst finishes q with its first value; an empty result is an error.
func AsFirst[T any](q Queryable[T]) Terminal[T] { return asOne(q, selectors.First) }

// AsFirstOrDefault finishes q with its first value or the zero value.
func AsFirstOrDefault[T any](q Queryable[T]) Terminal[T] { return asOne(q, selectors.FirstOrDefault) }

// AsSingle finishes q with its only value; zero or several values are an error.
func AsSingle[T any](q Queryable[T]) Terminal[T] { return asOne(q, selectors.Single) }

// AsSingleOrDefault finishes q with its only value or the zero value; several
// values are an error.
func AsSingleOrDefault[T any](q Queryable[T]) Terminal[T] {
	return asOne(q, selectors.SingleOrDefault)
}

func lastUnsupported(method string) error {
	return fmt.Errorf("%w: reverse the ordering and use First or FirstOrDefault instead",
		&expr.UnsupportedMethodError{Method: method})
}

// AsLast always fails: reverse the ordering and use AsFirst.
func AsLast[T any](q Queryable[T]) Terminal[T] {
	return Terminal[T]{
		q:    q.q,
		name: "Last",
		finish: func(*statements.Builder) (*statements.Statement, error) {
			return nil, lastUnsupported("Last")
		},
		handler: func(*Provider, *env) (selectors.Handler[T], error) { return nil, lastUnsupported("Last") },
	}
}

// AsLastOrDefault always fails: reverse the ordering and use AsFirstOrDefault.
func AsLastOrDefault[T any](q Queryable[T]) Terminal[T] {
	return Terminal[T]{
		q:    q.q,
		name: "LastOrDefault",
		finish: func(*statements.Builder) (*statements.Statement, error) {
			return nil, lastUnsupported("LastOrDefault")
		},
		handler: func(*Provider, *env) (selectors.Handler[T], error) { return nil, lastUnsupported("LastOrDefault") },
	}
}

// AsLongCount finishes q with the number of values.
func AsLongCount[T any](q Queryable[T]) Terminal[int64] {
	return Terminal[int64]{
		q:      q.q,
		name:   "LongCount",
		finish: func(b *statements.Builder) (*statements.Statement, error) { return b.Count(), nil },
		handler: func(*Provider, *env) (selectors.Handler[int64], error) {
			return selectors.Scalar(selectors.Value[int64]()), nil
		},
	}
}

// AsCount finishes q with the number of values.
func AsCount[T any](q Queryable[T]) Terminal[int] {
	return Terminal[int]{
		q:      q.q,
		name:   "Count",
		finish: func(b *statements.Builder) (*statements.Statement, error) { return b.Count(), nil },
		handler: func(*Provider, *env) (selectors.Handler[int], error) {
			inner := selectors.Scalar(selectors.Value[int64]())
			return selectors.HandlerFunc[int](func(rows Rows) (int, error) {
				n, err := inner.Handle(rows)
				return int(n), err
			}), nil
		},
	}
}

// AsAny finishes q with whether it yields any value.
func AsAny[T any](q Queryable[T]) Terminal[bool] {
	return Terminal[bool]{
		q:       q.q,
		name:    "Any",
		finish:  func(b *statements.Builder) (*statements.Statement, error) { return b.Any(), nil },
		handler: func(*Provider, *env) (selectors.Handler[bool], error) { return selectors.Any(), nil },
	}
}

func aggregate[T, R any](q Queryable[T], name string, fn statements.Aggregate, key func(x expr.E) expr.E, nullable bool) Terminal[R] {
	var l *expr.Lambda
	var nodes []expr.Node
	if key != nil {
		l = lambda[T](key)
		nodes = append(nodes, l)
	}
	return Terminal[R]{
		q:      q.q,
		name:   name,
		nodes:  nodes,
		finish: func(b *statements.Builder) (*statements.Statement, error) { return b.Aggregate(fn, l) },
		handler: func(p *Provider, _ *env) (selectors.Handler[R], error) {
			return selectors.Aggregate(decoder[R](p), nullable), nil
		},
	}
}

func isNullable[R any]() bool {
	switch reflect.TypeFor[R]().Kind() {
	case reflect.Pointer, reflect.Interface:
		return true
	}
	return false
}

// AsMin finishes q with the smallest key, or the smallest value when key is nil.
// An empty sequence is an error unless R is a pointer.
func AsMin[T, R any](q Queryable[T], key func(x expr.E) expr.E) Terminal[R] {
	return aggregate[T, R](q, "Min", statements.Min, key, isNullable[R]())
}

// AsMax finishes q with the largest key, or the largest value when key is nil.
func AsMax[T, R any](q Queryable[T], key func(x expr.E) expr.E) Terminal[R] {
	return aggregate[T, R](q, "Max", statements.Max, key, isNullable[R]())
}

// AsSum finishes q with the sum of key; an empty sequence sums to zero.
func AsSum[T, R any](q Queryable[T], key func(x expr.E) expr.E) Terminal[R] {
	return aggregate[T, R](q, "Sum", statements.Sum, key, true)
}

// AsAverage finishes q with the average of key.
func AsAverage[T any](q Queryable[T], key func(x expr.E) expr.E) Terminal[float64] {
	return aggregate[T, float64](q, "Average", statements.Average, key, false)
}

// AsJSONArray finishes q with its values as one JSON array, as stored.
func AsJSONArray[T any](q Queryable[T]) Terminal[string] {
	return Terminal[string]{
		q:       q.q,
		name:    "ToJsonArray",
		finish:  func(b *statements.Builder) (*statements.Statement, error) { return b.List(), nil },
		handler: func(*Provider, *env) (selectors.Handler[string], error) { return selectors.JSONArray(), nil },
	}
}

// AsPagedList finishes q with one page of values and paging metadata. Pages are
// numbered from 1.
func AsPagedList[T any](q Queryable[T], pageNumber, pageSize int) Terminal[*selectors.PagedList[T]] {
	check := func() error {
		if pageNumber < 1 {
			return expr.InvalidOperation("page number %d must be at least 1", pageNumber)
		}
		if pageSize < 1 {
			return expr.InvalidOperation("page size %d must be at least 1", pageSize)
		}
		return nil
	}
	return Terminal[*selectors.PagedList[T]]{
		q:     q.q,
		name:  "ToPagedList",
		paged: true,
		finish: func(b *statements.Builder) (*statements.Statement, error) {
			if err := check(); err != nil {
				return nil, err
			}
			b.Stats()
			b.Skip(statements.Int(int64((pageNumber - 1) * pageSize)))
			b.Take(statements.Int(int64(pageSize)))
			return b.List(), nil
		},
		handler: func(p *Provider, _ *env) (selectors.Handler[*selectors.PagedList[T]], error) {
			if err := check(); err != nil {
				return nil, err
			}
			return selectors.Paged(decoder[T](p), pageNumber, pageSize), nil
		},
	}
}

// ToList runs q and returns its values.
func ToList[T any](ctx context.Context, q Queryable[T]) ([]T, error) {
	return Execute(ctx, AsList(q))
}

// First runs q and returns its first value.
func First[T any](ctx context.Context, q Queryable[T]) (T, error) {
	return Execute(ctx, AsFirst(q))
}

// FirstOrDefault runs q and returns its first value or the zero value.
func FirstOrDefault[T any](ctx context.Context, q Queryable[T]) (T, error) {
	return Execute(ctx, AsFirstOrDefault(q))
}

// Single runs q and returns its only value.
func Single[T any](ctx context.Context, q Queryable[T]) (T, error) {
	return Execute(ctx, AsSingle(q))
}

// SingleOrDefault runs q and returns its only value or the zero value.
func SingleOrDefault[T any](ctx context.Context, q Queryable[T]) (T, error) {
	return Execute(ctx, AsSingleOrDefault(q))
}

// Last always fails; see AsLast.
func Last[T any](ctx context.Context, q Queryable[T]) (T, error) {
	return Execute(ctx, AsLast(q))
}

// LastOrDefault always fails; see AsLastOrDefault.
func LastOrDefault[T any](ctx context.Context, q Queryable[T]) (T, error) {
	return Execute(ctx, AsLastOrDefault(q))
}

// Count runs q and returns the number of values.
func Count[T any](ctx context.Context, q Queryable[T]) (int, error) {
	return Execute(ctx, AsCount(q))
}

// LongCount runs q and returns the number of values.
func LongCount[T any](ctx context.Context, q Queryable[T]) (int64, error) {
	return Execute(ctx, AsLongCount(q))
}

// Any runs q and reports whether it yields a value.
func Any[T any](ctx context.Context, q Queryable[T]) (bool, error) {
	return Execute(ctx, AsAny(q))
}

// Min runs q and returns the smallest key.
func Min[T, R any](ctx context.Context, q Queryable[T], key func(x expr.E) expr.E) (R, error) {
	return Execute(ctx, AsMin[T, R](q, key))
}

// Max runs q and returns the largest key.
func Max[T, R any](ctx context.Context, q Queryable[T], key func(x expr.E) expr.E) (R, error) {
	return Execute(ctx, AsMax[T, R](q, key))
}

// Sum runs q and returns the sum of key.
func Sum[T, R any](ctx context.Context, q Queryable[T], key func(x expr.E) expr.E) (R, error) {
	return Execute(ctx, AsSum[T, R](q, key))
}

// Average runs q and returns the average of key.
func Average[T any](ctx context.Context, q Queryable[T], key func(x expr.E) expr.E) (float64, error) {
	return Execute(ctx, AsAverage(q, key))
}

// ToJSONArray runs q and returns its values as a JSON array.
func ToJSONArray[T any](ctx context.Context, q Queryable[T]) (string, error) {
	return Execute(ctx, AsJSONArray(q))
}

// ToPagedList runs q and returns one page of values.
func ToPagedList[T any](ctx context.Context, q Queryable[T], pageNumber, pageSize int) (*selectors.PagedList[T], error) {
	return Execute(ctx, AsPagedList(q, pageNumber, pageSize))
}
