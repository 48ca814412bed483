package persistence_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/linq"
	"github.com/asaidimu/go-marten/core/linq/linqtest"
	"github.com/asaidimu/go-marten/core/persistence"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Invoice struct {
	Id     uuid.UUID
	Number int
	Status string
}

type InvoicesAbove struct {
	Number int
}

func (q *InvoicesAbove) QueryIs(src linq.Queryable[Invoice]) linq.Terminal[[]Invoice] {
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return x.Member("Number").Gt(expr.Ref("Number", &q.Number))
	}))
}

func newStore(t *testing.T, exec linq.Executor) *persistence.DocumentStore {
	t.Helper()
	opts := persistence.DefaultStoreOptions()
	opts.Executor = exec
	store, err := persistence.NewDocumentStore(opts)
	require.NoError(t, err)
	return store
}

type recorder struct {
	mu     sync.Mutex
	events []persistence.QueryEvent
}

func (r *recorder) record(_ context.Context, e persistence.QueryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []persistence.QueryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persistence.QueryEvent(nil), r.events...)
}

func TestDefaultStoreOptions(t *testing.T) {
	opts := persistence.DefaultStoreOptions()
	assert.Equal(t, "public", opts.SchemaName)
	assert.Equal(t, "mt_doc_", opts.TablePrefix)
	assert.Equal(t, "english", opts.DefaultRegConfig)
	assert.NotNil(t, opts.Serializer)
	assert.NotNil(t, opts.Logger)
}

func TestNewDocumentStoreRejectsBadRegConfig(t *testing.T) {
	opts := persistence.DefaultStoreOptions()
	opts.DefaultRegConfig = "english; drop table x"
	_, err := persistence.NewDocumentStore(opts)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	opts := persistence.DefaultStoreOptions()
	opts.SchemaName = "billing"
	store, err := persistence.NewDocumentStore(opts)
	require.NoError(t, err)

	m, err := persistence.RegisterJSON[Invoice](store, []byte(`{"name":"invoices","softDeleted":true}`))
	require.NoError(t, err)
	assert.Equal(t, "billing.mt_doc_invoice", m.TableName())
	assert.True(t, m.SoftDeleted)

	same, err := store.Mapping(reflect.TypeFor[Invoice]())
	require.NoError(t, err)
	assert.Same(t, m, same)

	records, err := store.Schemas()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "invoices", records[0].Name)
	assert.Equal(t, "billing.mt_doc_invoice", records[0].Table)
	assert.JSONEq(t, `{"name":"invoices","softDeleted":true}`, string(records[0].Schema))

	_, err = persistence.RegisterJSON[Invoice](store, []byte(`{`))
	assert.Error(t, err)
}

func TestSessionQueriesAreTenantScoped(t *testing.T) {
	exec := linqtest.Static([]linqtest.Row{{[]byte(`{"Number":4,"Status":"open"}`)}})
	store := newStore(t, exec)
	_, err := persistence.Register[Invoice](store, &schema.DocumentSchema{Name: "invoices", MultiTenanted: true})
	require.NoError(t, err)

	session := store.OpenSession(persistence.ForTenant("acme"))
	assert.Equal(t, "acme", session.Tenant())
	assert.Same(t, store, session.Store())

	invoices, err := linq.ToList(context.Background(), persistence.Query[Invoice](session).Where(func(x expr.E) expr.E {
		return x.Member("Number").Gt(1)
	}))
	require.NoError(t, err)
	assert.Equal(t, []Invoice{{Number: 4, Status: "open"}}, invoices)

	batch := exec.Last()
	assert.Equal(t, "select d.data from public.mt_doc_invoice as d where (CAST(d.data ->> 'Number' as integer) > $1 AND d.tenant_id = $2)",
		batch.Statements[0])
	assert.Equal(t, []any{1, "acme"}, batch.Args[0])
}

func TestCompiledPlansAreSharedAcrossSessions(t *testing.T) {
	exec := linqtest.Static()
	store := newStore(t, exec)
	ctx := context.Background()

	for _, tenant := range []string{"a", "b"} {
		_, err := persistence.QueryCompiled[Invoice, []Invoice](ctx, store.OpenSession(persistence.ForTenant(tenant)), &InvoicesAbove{Number: 2})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.Plans().Len())
	assert.Len(t, exec.Batches(), 2)
}

func TestSessionExecutorOverride(t *testing.T) {
	store := newStore(t, nil)
	_, err := linq.ToList(context.Background(), persistence.Query[Invoice](store.OpenSession()))
	assert.ErrorIs(t, err, linq.ErrNoExecutor)

	exec := linqtest.Static()
	_, err = linq.ToList(context.Background(), persistence.Query[Invoice](store.OpenSession(persistence.WithExecutor(exec))))
	require.NoError(t, err)
	assert.Len(t, exec.Batches(), 1)
}

func TestSubscriptions(t *testing.T) {
	store := newStore(t, linqtest.Static([]linqtest.Row{{int64(0)}}))
	rec := &recorder{}
	label := "audit"

	id := store.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event:    persistence.QueryExecuteSuccess,
		Label:    &label,
		Callback: rec.record,
	})
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	subs, err := store.Subscriptions()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, id, *subs[0].Id)
	assert.Equal(t, "audit", *subs[0].Label)

	session := store.OpenSession(persistence.ForTenant("acme"))
	_, err = linq.Count(context.Background(), persistence.Query[Invoice](session))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	event := rec.snapshot()[0]
	assert.Equal(t, persistence.QueryExecuteSuccess, event.Type)
	assert.Equal(t, "Count", event.Operation)
	require.NotNil(t, event.Tenant)
	assert.Equal(t, "acme", *event.Tenant)
	assert.Equal(t, []string{"select count(*) as number from public.mt_doc_invoice as d"}, event.SQL)

	store.UnregisterSubscription(id)
	subs, err = store.Subscriptions()
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestFailedTranslationEvent(t *testing.T) {
	store := newStore(t, linqtest.Static())
	rec := &recorder{}
	store.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event:    persistence.QueryTranslateFailed,
		Callback: rec.record,
	})

	_, err := linq.ToList(context.Background(), persistence.Query[Invoice](store.OpenSession()).Where(func(x expr.E) expr.E {
		return x.Member("Missing").Eq(1)
	}))
	require.Error(t, err)

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	event := rec.snapshot()[0]
	require.NotNil(t, event.Error)
	require.NotNil(t, event.DocumentType)
	assert.Equal(t, "persistence_test.Invoice", *event.DocumentType)
	assert.Nil(t, event.Tenant)
}
