package linq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/linq"
	"github.com/asaidimu/go-marten/core/linq/linqtest"
	"github.com/asaidimu/go-marten/core/linq/selectors"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Issue struct {
	Id         uuid.UUID
	Number     int
	Title      string
	AssigneeId uuid.UUID
	Tags       []string
}

type User struct {
	Id   uuid.UUID
	Name string
}

var (
	ada   = User{Id: uuid.MustParse("6a1f3c1e-0000-4000-8000-000000000001"), Name: "Ada"}
	grace = User{Id: uuid.MustParse("6a1f3c1e-0000-4000-8000-000000000002"), Name: "Grace"}
)

func newProvider(t *testing.T, exec linq.Executor, schemas map[string]*schema.DocumentSchema, opts ...linq.ProviderOption) *linq.Provider {
	t.Helper()
	r := schema.NewRegistry(schema.DefaultMappingOptions())
	if s, ok := schemas["issue"]; ok {
		_, err := schema.Register[Issue](r, s)
		require.NoError(t, err)
	}
	if s, ok := schemas["user"]; ok {
		_, err := schema.Register[User](r, s)
		require.NoError(t, err)
	}
	return linq.NewProvider(member.NewCatalog(r), exec, opts...)
}

func row(cols ...any) linqtest.Row { return linqtest.Row(cols) }

func doc(json string) linqtest.Row { return row([]byte(json)) }

func above(n any) func(x expr.E) expr.E {
	return func(x expr.E) expr.E { return x.Member("Number").Gt(n) }
}

func TestToList(t *testing.T) {
	exec := linqtest.Static([]linqtest.Row{
		doc(`{"Number":4,"Title":"four"}`),
		doc(`{"Number":5,"Title":"five"}`),
	})
	p := newProvider(t, exec, nil)

	issues, err := linq.ToList(context.Background(), linq.Query[Issue](p).Where(above(3)))
	require.NoError(t, err)
	assert.Equal(t, []Issue{{Number: 4, Title: "four"}, {Number: 5, Title: "five"}}, issues)

	batch := exec.Last()
	want := []string{"select d.data from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1"}
	if diff := cmp.Diff(want, batch.Statements); diff != "" {
		t.Errorf("statements mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, [][]any{{3}}, batch.Args)
}

func TestOneModes(t *testing.T) {
	ctx := context.Background()

	empty := newProvider(t, linqtest.Static(), nil)
	_, err := linq.First(ctx, linq.Query[Issue](empty))
	assert.ErrorIs(t, err, selectors.ErrNoElements)

	got, err := linq.FirstOrDefault(ctx, linq.Query[Issue](empty))
	require.NoError(t, err)
	assert.Zero(t, got)

	two := newProvider(t, linqtest.Static([]linqtest.Row{doc(`{"Number":1}`), doc(`{"Number":2}`)}), nil)
	_, err = linq.Single(ctx, linq.Query[Issue](two))
	assert.ErrorIs(t, err, selectors.ErrMoreThanOneElement)

	first, err := linq.First(ctx, linq.Query[Issue](two).OrderBy(func(x expr.E) expr.E { return x.Member("Number") }))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Number)
}

func TestLastIsRejected(t *testing.T) {
	p := newProvider(t, linqtest.Static(), nil)
	_, err := linq.Last(context.Background(), linq.Query[Issue](p))
	require.Error(t, err)
	assert.ErrorIs(t, err, expr.ErrUnsupported)
	assert.Contains(t, err.Error(), "First or FirstOrDefault")

	_, err = linq.LastOrDefault(context.Background(), linq.Query[Issue](p))
	assert.ErrorIs(t, err, expr.ErrUnsupported)
}

func TestScalars(t *testing.T) {
	ctx := context.Background()

	p := newProvider(t, linqtest.Static([]linqtest.Row{row(int64(5))}), nil)
	n, err := linq.Count(ctx, linq.Query[Issue](p))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	p = newProvider(t, linqtest.Static([]linqtest.Row{row(true)}), nil)
	found, err := linq.Any(ctx, linq.Query[Issue](p).Where(above(1)))
	require.NoError(t, err)
	assert.True(t, found)

	exec := linqtest.Static([]linqtest.Row{row([]byte(`7`))})
	p = newProvider(t, exec, nil)
	highest, err := linq.Max[Issue, int](ctx, linq.Query[Issue](p), func(x expr.E) expr.E { return x.Member("Number") })
	require.NoError(t, err)
	assert.Equal(t, 7, highest)
	assert.Equal(t, "select to_jsonb(max(CAST(d.data ->> 'Number' as integer))) as data from public.mt_doc_issue as d",
		exec.Last().Statements[0])

	p = newProvider(t, linqtest.Static([]linqtest.Row{row(nil)}), nil)
	_, err = linq.Min[Issue, int](ctx, linq.Query[Issue](p), func(x expr.E) expr.E { return x.Member("Number") })
	assert.ErrorIs(t, err, selectors.ErrNoElements)

	lowest, err := linq.Min[Issue, *int](ctx, linq.Query[Issue](p), func(x expr.E) expr.E { return x.Member("Number") })
	require.NoError(t, err)
	assert.Nil(t, lowest)
}

func TestSelectProjection(t *testing.T) {
	exec := linqtest.Static([]linqtest.Row{doc(`"four"`), doc(`"five"`)})
	p := newProvider(t, exec, nil)

	q := linq.Select[Issue, string](linq.Query[Issue](p).Where(above(3)), func(x expr.E) expr.E { return x.Member("Title") })
	titles, err := linq.ToList(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"four", "five"}, titles)
	assert.Equal(t, "select d.data -> 'Title' from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1",
		exec.Last().Statements[0])
}

func TestToJSONArray(t *testing.T) {
	p := newProvider(t, linqtest.Static([]linqtest.Row{doc(`{"Number":1}`), doc(`{"Number":2}`)}), nil)
	js, err := linq.ToJSONArray(context.Background(), linq.Query[Issue](p))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"Number":1},{"Number":2}]`, js)
}

func TestPagedList(t *testing.T) {
	exec := linqtest.Static([]linqtest.Row{
		row([]byte(`{"Number":3}`), int64(5)),
		row([]byte(`{"Number":4}`), int64(5)),
	})
	p := newProvider(t, exec, nil)

	page, err := linq.ToPagedList(context.Background(), linq.Query[Issue](p), 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.TotalItemCount)
	assert.Equal(t, int64(3), page.PageCount)
	assert.True(t, page.HasNextPage)

	batch := exec.Last()
	assert.Equal(t, "select d.data, count(*) OVER() as total_rows from public.mt_doc_issue as d LIMIT $1 OFFSET $2", batch.Statements[0])
	assert.Equal(t, []any{int64(2), int64(2)}, batch.Args[0])

	_, err = linq.ToPagedList(context.Background(), linq.Query[Issue](p), 0, 2)
	var invalid *expr.InvalidOperationError
	assert.True(t, errors.As(err, &invalid))
}

func TestStats(t *testing.T) {
	exec := linqtest.Static([]linqtest.Row{row([]byte(`{"Number":3}`), int64(42))})
	p := newProvider(t, exec, nil)

	var stats selectors.Statistics
	issues, err := linq.ToList(context.Background(), linq.Query[Issue](p).Stats(&stats).Take(1))
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, int64(42), stats.TotalResults)
}

func TestIncludeIsFreshOnEveryExecution(t *testing.T) {
	exec := linqtest.Static(
		[]linqtest.Row{doc(`{"Number":1}`)},
		[]linqtest.Row{doc(`{"Id":"` + ada.Id.String() + `","Name":"Ada"}`)},
	)
	p := newProvider(t, exec, nil)

	users := []User{grace}
	q := linq.Include(linq.Query[Issue](p), func(x expr.E) expr.E { return x.Member("AssigneeId") }, &users)

	for i := 0; i < 2; i++ {
		issues, err := linq.ToList(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, issues, 1)
		assert.Equal(t, []User{ada}, users)
	}
	require.Len(t, exec.Last().Statements, 2)
	assert.Contains(t, exec.Last().Statements[1], "from public.mt_doc_user as d where d.id IN (SELECT CAST(d.data ->> 'AssigneeId' as uuid) FROM mt_temp_id_list1CTE as d)")
}

func TestIncludeMapAndCallback(t *testing.T) {
	exec := linqtest.Static(
		[]linqtest.Row{doc(`{"Number":1}`)},
		[]linqtest.Row{row(ada.Id.String(), []byte(`{"Name":"Ada"}`))},
		[]linqtest.Row{doc(`{"Name":"Grace"}`)},
	)
	p := newProvider(t, exec, nil)

	byID := map[string]User{}
	var seen []string
	q := linq.IncludeMap(linq.Query[Issue](p), func(x expr.E) expr.E { return x.Member("AssigneeId") }, &byID)
	q = linq.IncludeFunc(q, func(x expr.E) expr.E { return x.Member("AssigneeId") }, func(u User) { seen = append(seen, u.Name) })

	_, err := linq.ToList(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, map[string]User{ada.Id.String(): {Name: "Ada"}}, byID)
	assert.Equal(t, []string{"Grace"}, seen)
	assert.Contains(t, exec.Last().Statements[1], "select CAST(d.id as varchar) as id, d.data from public.mt_doc_user")
}

func TestTenancy(t *testing.T) {
	exec := linqtest.Static()
	p := newProvider(t, exec, map[string]*schema.DocumentSchema{"issue": {Name: "issue", MultiTenanted: true}}, linq.WithTenant("blue"))

	_, err := linq.ToList(context.Background(), linq.Query[Issue](p).Where(above(1)))
	require.NoError(t, err)
	batch := exec.Last()
	assert.Equal(t, "select d.data from public.mt_doc_issue as d where (CAST(d.data ->> 'Number' as integer) > $1 AND d.tenant_id = $2)", batch.Statements[0])
	assert.Equal(t, []any{1, "blue"}, batch.Args[0])
}

func TestQueryablesAreImmutable(t *testing.T) {
	p := newProvider(t, nil, nil)
	base := linq.Query[Issue](p).Where(above(1))
	limited := base.Take(1)
	filtered := base.Where(func(x expr.E) expr.E { return x.Member("Number").Lt(9) })

	cmd, _, err := linq.Translate(linq.AsList(limited))
	require.NoError(t, err)
	assert.Equal(t, "select d.data from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1 LIMIT $2", cmd.Statements[0].SQL)

	cmd, _, err = linq.Translate(linq.AsList(filtered))
	require.NoError(t, err)
	assert.Equal(t, "select d.data from public.mt_doc_issue as d where (CAST(d.data ->> 'Number' as integer) > $1 AND CAST(d.data ->> 'Number' as integer) < $2)", cmd.Statements[0].SQL)

	assert.Equal(t, "Query<Issue>.Where().Take()", limited.String())
}

func TestExecuteWithoutExecutor(t *testing.T) {
	p := newProvider(t, nil, nil)
	_, err := linq.ToList(context.Background(), linq.Query[Issue](p))
	assert.ErrorIs(t, err, linq.ErrNoExecutor)
}

func TestTranslationErrorsSurface(t *testing.T) {
	p := newProvider(t, linqtest.Static(), nil)
	_, err := linq.ToList(context.Background(), linq.Query[Issue](p).Where(func(x expr.E) expr.E {
		return x.Member("Missing").Eq(1)
	}))
	assert.ErrorIs(t, err, expr.ErrUnsupported)
}

func TestObserver(t *testing.T) {
	var kinds []linq.EventKind
	p := newProvider(t, linqtest.Static(), nil, linq.WithObserver(func(e linq.Event) { kinds = append(kinds, e.Kind) }))

	_, err := linq.ToList(context.Background(), linq.Query[Issue](p))
	require.NoError(t, err)
	assert.Equal(t, []linq.EventKind{
		linq.EventTranslateStart,
		linq.EventTranslateSuccess,
		linq.EventExecuteStart,
		linq.EventExecuteSuccess,
	}, kinds)
}
