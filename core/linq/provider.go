// Package linq is the query surface over stored documents: immutable Queryable
// values built from expression lambdas, terminal operators that translate them
// into a batched SQL command plus a result handler, and compiled queries whose
// translation is cached per query type.
package linq

import (
	"context"
	"reflect"
	"time"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/linq/parsing"
	"github.com/asaidimu/go-marten/core/linq/selectors"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// Rows is one result set of an executed batch.
type Rows = selectors.Rows

// Batch is a translated command ready to run: statements with their resolved
// arguments, executed in one round trip.
type Batch struct {
	Statements []string
	Args       [][]any
}

// Executor runs a batch and hands result set i to read, in statement order.
type Executor interface {
	Execute(ctx context.Context, batch Batch, read func(i int, rows Rows) error) error
}

// EventKind names a query lifecycle step.
type EventKind string

const (
	EventTranslateStart   EventKind = "query:translate:start"
	EventTranslateSuccess EventKind = "query:translate:success"
	EventTranslateFailed  EventKind = "query:translate:failed"
	EventCompiledHit      EventKind = "query:compiled:hit"
	EventCompiledMiss     EventKind = "query:compiled:miss"
	EventExecuteStart     EventKind = "query:execute:start"
	EventExecuteSuccess   EventKind = "query:execute:success"
	EventExecuteFailed    EventKind = "query:execute:failed"
)

// Event reports one lifecycle step of a query.
type Event struct {
	Kind     EventKind
	DocType  reflect.Type
	Operator string
	SQL      []string
	Duration time.Duration
	Error    error
}

// Observer receives query lifecycle events.
type Observer func(Event)

// Provider translates and executes queries for one session: it owns the parsers,
// the session tenant and the executor.
type Provider struct {
	catalog  *member.Catalog
	adhoc    *parsing.Parser
	compiled *parsing.Parser
	executor Executor
	plans    *PlanCache
	logger   *zap.Logger
	observer Observer
	tenant   string
	methods  []parsing.MethodParser
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the provider's logger.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTenant scopes multi-tenanted documents to tenant.
func WithTenant(tenant string) ProviderOption {
	return func(p *Provider) { p.tenant = tenant }
}

// WithPlanCache shares a compiled-query plan cache, usually the store's.
func WithPlanCache(c *PlanCache) ProviderOption {
	return func(p *Provider) { p.plans = c }
}

// WithObserver receives lifecycle events.
func WithObserver(o Observer) ProviderOption {
	return func(p *Provider) { p.observer = o }
}

// WithMethods registers additional method parsers ahead of the defaults.
func WithMethods(m ...parsing.MethodParser) ProviderOption {
	return func(p *Provider) { p.methods = append(p.methods, m...) }
}

// NewProvider creates a provider over a member catalog.
func NewProvider(catalog *member.Catalog, executor Executor, opts ...ProviderOption) *Provider {
	p := &Provider{catalog: catalog, executor: executor, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.plans == nil {
		p.plans = NewPlanCache(p.logger)
	}
	p.adhoc = parsing.NewParser(catalog, parsing.WithLogger(p.logger), parsing.WithMethods(p.methods...))
	p.compiled = parsing.NewParser(catalog, parsing.WithLogger(p.logger), parsing.WithMethods(p.methods...), parsing.Compiled())
	return p
}

// Tenant returns the session tenant.
func (p *Provider) Tenant() string { return p.tenant }

// Catalog returns the member catalog.
func (p *Provider) Catalog() *member.Catalog { return p.catalog }

// Plans returns the compiled-query plan cache.
func (p *Provider) Plans() *PlanCache { return p.plans }

func (p *Provider) emit(e Event) {
	if p.observer != nil {
		p.observer(e)
	}
}

// tenantValue binds the session tenant. It reads through a closure so compiled
// plans, shared across sessions, bind each session's own tenant.
func (p *Provider) tenantValue() (*fragments.Value, *expr.Closure) {
	c := expr.NewClosure("tenant", &p.tenant)
	return fragments.FromClosure(c, pgtype.TextOID), c
}
