package linq

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CompiledQuery is a query whose parameters are the fields of its own value.
// QueryIs builds the query once, referencing fields with expr.Ref; the translated
// plan is cached per type and later executions only re-read the fields.
//
//	type IssuesAbove struct{ Number int }
//
//	func (q *IssuesAbove) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
//		return linq.AsList(src.Where(func(x expr.E) expr.E {
//			return x.Member("Number").Gt(expr.Ref("Number", &q.Number))
//		}))
//	}
//
// Implementations must be pointers to structs, and every reference must point at
// an exported field of the receiver.
type CompiledQuery[TDoc, TOut any] interface {
	QueryIs(q Queryable[TDoc]) Terminal[TOut]
}

// plan is a cached compiled query: the translation plus where each closure and
// target lives inside an instance.
type plan[R any] struct {
	tr      *translated[R]
	name    string
	fields  map[*expr.Closure][]int
	targets map[uintptr][]int
}

// instance binds a plan to one compiled-query value.
type instance[R any] struct {
	plan   *plan[R]
	value  reflect.Value
	tenant string
}

func (in *instance[R]) Bind(c *expr.Closure) (any, error) {
	if c == in.plan.tr.tenant {
		return in.tenant, nil
	}
	idx, ok := in.plan.fields[c]
	if !ok {
		return c.Value(), nil
	}
	return in.value.FieldByIndex(idx).Interface(), nil
}

func (in *instance[R]) target(t any) any {
	if t == nil {
		return nil
	}
	idx, ok := in.plan.targets[reflect.ValueOf(t).Pointer()]
	if !ok {
		return t
	}
	return in.value.FieldByIndex(idx).Addr().Interface()
}

// PlanCache holds compiled-query plans keyed by query type. Concurrent first
// executions of one type share a single translation.
type PlanCache struct {
	plans  sync.Map
	group  singleflight.Group
	logger *zap.Logger
}

// NewPlanCache creates an empty cache.
func NewPlanCache(logger *zap.Logger) *PlanCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanCache{logger: logger}
}

func cacheKey(t reflect.Type) string {
	return expr.Deref(t).PkgPath() + "/" + t.String()
}

// Len returns the number of cached plans.
func (c *PlanCache) Len() int {
	n := 0
	c.plans.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// load returns the cached plan of t, building it with build on first use. It
// reports whether the plan was already cached.
func (c *PlanCache) load(t reflect.Type, build func() (any, error)) (any, bool, error) {
	if p, ok := c.plans.Load(t); ok {
		return p, true, nil
	}
	v, err, _ := c.group.Do(cacheKey(t), func() (any, error) {
		if p, ok := c.plans.Load(t); ok {
			return p, nil
		}
		p, err := build()
		if err != nil {
			return nil, err
		}
		c.plans.Store(t, p)
		c.logger.Info("Compiled query plan created", zap.String("type", t.String()))
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

func prepare[TDoc, TOut any](p *Provider, cq CompiledQuery[TDoc, TOut]) (*plan[TOut], reflect.Value, error) {
	t := reflect.TypeOf(cq)
	value, err := utils.StructPointer(cq)
	if err != nil {
		return nil, reflect.Value{}, &expr.InvalidCompiledQueryError{Type: t, Reason: err.Error()}
	}
	v, hit, err := p.plans.load(t, func() (any, error) { return buildPlan(p, cq, value) })
	if err != nil {
		return nil, reflect.Value{}, err
	}
	kind := EventCompiledMiss
	if hit {
		kind = EventCompiledHit
	}
	p.logger.Debug("Compiled query lookup", zap.String("type", t.String()), zap.Bool("hit", hit))
	p.emit(Event{Kind: kind, DocType: reflect.TypeFor[TDoc](), Operator: t.String()})
	return v.(*plan[TOut]), value, nil
}

func buildPlan[TDoc, TOut any](p *Provider, cq CompiledQuery[TDoc, TOut], value reflect.Value) (*plan[TOut], error) {
	t := reflect.TypeOf(cq)
	src := Queryable[TDoc]{q: &query{provider: p, compiled: true, docType: reflect.TypeFor[TDoc]()}}
	term := cq.QueryIs(src)
	if term.q == nil {
		return nil, &expr.InvalidCompiledQueryError{Type: t, Reason: "QueryIs returned an empty terminal"}
	}
	if term.paged {
		return nil, &expr.InvalidCompiledQueryError{Type: t,
			Reason: "ToPagedList cannot be used in a compiled query; use Stats with Skip and Take instead"}
	}
	tr, err := translate(p, term, p.compiled)
	if err != nil {
		return nil, err
	}

	pl := &plan[TOut]{tr: tr, name: term.name, fields: make(map[*expr.Closure][]int), targets: make(map[uintptr][]int)}
	locate := func(name string, ptr uintptr, want reflect.Type) ([]int, error) {
		base, size := value.Addr().Pointer(), value.Type().Size()
		if ptr >= base && ptr < base+size {
			if idx, ok := utils.FieldByOffset(value.Type(), ptr-base, want); ok {
				return idx, nil
			}
		}
		return nil, &expr.InvalidCompiledQueryError{Type: t,
			Reason: fmt.Sprintf("%s must reference an exported field of the query value", name)}
	}
	for _, s := range tr.command.Statements {
		for _, param := range s.Params {
			for _, c := range param.Closures() {
				if c == tr.tenant {
					continue
				}
				if _, done := pl.fields[c]; done {
					continue
				}
				idx, err := locate("parameter "+c.Name, c.Pointer(), c.Type())
				if err != nil {
					return nil, err
				}
				pl.fields[c] = idx
			}
		}
	}
	for _, c := range referencedClosures(term) {
		if c == tr.tenant {
			continue
		}
		if _, bound := pl.fields[c]; !bound {
			return nil, &expr.InvalidCompiledQueryError{Type: t,
				Reason: fmt.Sprintf("%s is rendered into the SQL text and cannot change between executions", c.Name)}
		}
	}
	targets := make([]any, 0, len(term.q.includes)+1)
	for _, inc := range term.q.includes {
		targets = append(targets, inc.target)
	}
	if term.q.stats != nil {
		targets = append(targets, term.q.stats)
	}
	for _, target := range targets {
		if target == nil {
			continue
		}
		rv := reflect.ValueOf(target)
		idx, err := locate("include or statistics target", rv.Pointer(), rv.Type().Elem())
		if err != nil {
			return nil, err
		}
		pl.targets[rv.Pointer()] = idx
	}
	bound := make([]string, 0, len(pl.fields))
	for _, idx := range pl.fields {
		bound = append(bound, utils.FieldPath(value.Type(), idx))
	}
	p.logger.Debug("Compiled query fields bound",
		zap.String("type", t.String()),
		zap.Strings("parameters", bound),
		zap.Int("targets", len(pl.targets)))
	return pl, nil
}

// referencedClosures returns every closure the operators of term translate.
func referencedClosures[R any](term Terminal[R]) []*expr.Closure {
	var out []*expr.Closure
	for _, op := range term.q.ops {
		for _, n := range op.nodes {
			out = append(out, expr.Closures(n)...)
		}
	}
	for _, n := range term.nodes {
		out = append(out, expr.Closures(n)...)
	}
	return out
}

// ExecuteCompiled runs a compiled query with the current values of its fields.
func ExecuteCompiled[TDoc, TOut any](ctx context.Context, p *Provider, cq CompiledQuery[TDoc, TOut]) (TOut, error) {
	pl, value, err := prepare(p, cq)
	if err != nil {
		var zero TOut
		return zero, err
	}
	in := &instance[TOut]{plan: pl, value: value, tenant: p.tenant}
	return run(ctx, p, pl.name, pl.tr, &env{binder: in, target: in.target})
}

// TranslateCompiled returns the cached command of a compiled query and the
// arguments it binds for cq's current field values.
func TranslateCompiled[TDoc, TOut any](p *Provider, cq CompiledQuery[TDoc, TOut]) ([]string, [][]any, error) {
	pl, value, err := prepare(p, cq)
	if err != nil {
		return nil, nil, err
	}
	in := &instance[TOut]{plan: pl, value: value, tenant: p.tenant}
	return pl.tr.command.Render(in)
}
