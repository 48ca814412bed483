package persistence

import (
	"context"

	"github.com/asaidimu/go-marten/core/linq"
)

// Session queries the store on behalf of one tenant. Sessions are cheap to open
// and share the store's mappings and compiled-query plans.
type Session struct {
	store    *DocumentStore
	tenant   string
	provider *linq.Provider
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	tenant   string
	executor linq.Executor
}

// ForTenant scopes the session's queries of multi-tenanted documents to tenant.
func ForTenant(tenant string) SessionOption {
	return func(c *sessionConfig) { c.tenant = tenant }
}

// WithExecutor runs the session's queries through e instead of the store's
// executor, for example inside a transaction.
func WithExecutor(e linq.Executor) SessionOption {
	return func(c *sessionConfig) { c.executor = e }
}

// OpenSession opens a session on the store.
func (s *DocumentStore) OpenSession(opts ...SessionOption) *Session {
	cfg := sessionConfig{executor: s.opts.Executor}
	for _, opt := range opts {
		opt(&cfg)
	}
	provider := linq.NewProvider(s.catalog, cfg.executor,
		linq.WithLogger(s.logger),
		linq.WithTenant(cfg.tenant),
		linq.WithPlanCache(s.plans),
		linq.WithObserver(s.observe(cfg.tenant)),
		linq.WithMethods(s.opts.Methods...))
	return &Session{store: s, tenant: cfg.tenant, provider: provider}
}

// Tenant returns the session's tenant id.
func (s *Session) Tenant() string { return s.tenant }

// Store returns the store the session was opened on.
func (s *Session) Store() *DocumentStore { return s.store }

// Provider returns the query provider behind the session.
func (s *Session) Provider() *linq.Provider { return s.provider }

// Query starts a query over the documents of type T.
func Query[T any](s *Session) linq.Queryable[T] {
	return linq.Query[T](s.provider)
}

// QueryCompiled runs a compiled query with the current values of its fields.
func QueryCompiled[TDoc, TOut any](ctx context.Context, s *Session, cq linq.CompiledQuery[TDoc, TOut]) (TOut, error) {
	return linq.ExecuteCompiled(ctx, s.provider, cq)
}
