package linq_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/linq"
	"github.com/asaidimu/go-marten/core/linq/linqtest"
	"github.com/asaidimu/go-marten/core/linq/selectors"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type IssuesAbove struct {
	Number int
	Limit  int
}

func (q *IssuesAbove) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return x.Member("Number").Gt(expr.Ref("Number", &q.Number))
	}).Take(expr.Ref("Limit", &q.Limit)))
}

type IssuesWithAssignees struct {
	Number    int
	Assignees []User
}

func (q *IssuesWithAssignees) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	src = linq.Include(src, func(x expr.E) expr.E { return x.Member("AssigneeId") }, &q.Assignees)
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return x.Member("Number").Gt(expr.Ref("Number", &q.Number))
	}))
}

type ByValue struct{ Number int }

func (q ByValue) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.AsList(src)
}

var threshold = 3

type OutsideReference struct{ Unused int }

func (q *OutsideReference) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return x.Member("Number").Gt(expr.Ref("threshold", &threshold))
	}))
}

type EmptyTerminal struct{}

func (q *EmptyTerminal) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.Terminal[[]Issue]{}
}

type AboveNext struct{ Number int }

func (q *AboveNext) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return x.Member("Number").Gt(expr.Ref("Number", &q.Number).Add(1))
	}))
}

type AboveByPath struct{ Number int }

func (q *AboveByPath) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return x.MatchesJsonPath(func(j expr.E) expr.E {
			return j.Member("Number").Gt(expr.Ref("Number", &q.Number))
		})
	}))
}

type TitleStartsWith struct {
	Prefix string
	Mode   expr.StringComparison
}

func (q *TitleStartsWith) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return expr.Wrap(expr.NewCall(x.Member("Title").Node(), expr.FamilyString, "StartsWith", reflect.TypeFor[bool](),
			expr.Ref("Prefix", &q.Prefix).Node(), expr.Ref("Mode", &q.Mode).Node()))
	}))
}

type Paged struct{ Page int }

func (q *Paged) QueryIs(src linq.Queryable[Issue]) linq.Terminal[*selectors.PagedList[Issue]] {
	return linq.AsPagedList(src, 1, 10)
}

func TestCompiledQueryRebindsFields(t *testing.T) {
	exec := linqtest.Static([]linqtest.Row{doc(`{"Number":8}`)})
	p := newProvider(t, exec, nil)
	ctx := context.Background()

	issues, err := linq.ExecuteCompiled[Issue, []Issue](ctx, p, &IssuesAbove{Number: 5, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, issues, 1)

	_, err = linq.ExecuteCompiled[Issue, []Issue](ctx, p, &IssuesAbove{Number: 7, Limit: 3})
	require.NoError(t, err)

	batches := exec.Batches()
	require.Len(t, batches, 2)
	want := "select d.data from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1 LIMIT $2"
	assert.Equal(t, want, batches[0].Statements[0])
	assert.Equal(t, want, batches[1].Statements[0])
	assert.Equal(t, []any{5, int64(10)}, batches[0].Args[0])
	assert.Equal(t, []any{7, int64(3)}, batches[1].Args[0])
	assert.Equal(t, 1, p.Plans().Len())
}

func TestCompiledQueryRecomputesDerivedValues(t *testing.T) {
	p := newProvider(t, nil, nil)

	tests := []struct {
		name  string
		first linq.CompiledQuery[Issue, []Issue]
		next  linq.CompiledQuery[Issue, []Issue]
		sql   string
		args  [2][]any
	}{
		{
			name:  "arithmetic over a field",
			first: &AboveNext{Number: 1},
			next:  &AboveNext{Number: 10},
			sql:   "select d.data from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1",
			args:  [2][]any{{2}, {11}},
		},
		{
			name:  "json path predicate over a field",
			first: &AboveByPath{Number: 1},
			next:  &AboveByPath{Number: 10},
			sql:   "select d.data from public.mt_doc_issue as d where d.data @? CAST($1 as jsonpath)",
			args:  [2][]any{{"$ ? (@.Number > 1)"}, {"$ ? (@.Number > 10)"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, q := range []linq.CompiledQuery[Issue, []Issue]{tt.first, tt.next} {
				sqls, args, err := linq.TranslateCompiled[Issue, []Issue](p, q)
				require.NoError(t, err)
				assert.Equal(t, []string{tt.sql}, sqls)
				assert.Equal(t, tt.args[i], args[0])
			}
		})
	}
}

func TestCompiledQueryRejectsFieldsRenderedIntoSQL(t *testing.T) {
	p := newProvider(t, nil, nil)

	_, _, err := linq.TranslateCompiled[Issue, []Issue](p, &TitleStartsWith{Prefix: "a", Mode: expr.OrdinalIgnoreCase})
	require.Error(t, err)
	assert.True(t, errors.Is(err, expr.ErrUnsupported), fmt.Sprintf("unexpected error %v", err))
	assert.Contains(t, err.Error(), "rendered into the SQL text")
}

func TestCompiledQueryCacheEvents(t *testing.T) {
	var kinds []linq.EventKind
	p := newProvider(t, nil, nil, linq.WithObserver(func(e linq.Event) {
		if e.Kind == linq.EventCompiledHit || e.Kind == linq.EventCompiledMiss {
			kinds = append(kinds, e.Kind)
		}
	}))

	for _, n := range []int{1, 2} {
		sqls, args, err := linq.TranslateCompiled[Issue, []Issue](p, &IssuesAbove{Number: n, Limit: 1})
		require.NoError(t, err)
		require.Len(t, sqls, 1)
		assert.Equal(t, []any{n, int64(1)}, args[0])
	}
	assert.Equal(t, []linq.EventKind{linq.EventCompiledMiss, linq.EventCompiledHit}, kinds)
}

func TestCompiledQuerySharedCacheBindsTenant(t *testing.T) {
	cache := linq.NewPlanCache(nil)
	schemas := map[string]*schema.DocumentSchema{"issue": {Name: "issue", MultiTenanted: true}}
	blue := newProvider(t, nil, schemas, linq.WithTenant("blue"), linq.WithPlanCache(cache))
	green := newProvider(t, nil, schemas, linq.WithTenant("green"), linq.WithPlanCache(cache))

	_, args, err := linq.TranslateCompiled[Issue, []Issue](blue, &IssuesAbove{Number: 1, Limit: 1})
	require.NoError(t, err)
	assert.Contains(t, args[0], "blue")

	_, args, err = linq.TranslateCompiled[Issue, []Issue](green, &IssuesAbove{Number: 1, Limit: 1})
	require.NoError(t, err)
	assert.Contains(t, args[0], "green")
	assert.NotContains(t, args[0], "blue")
	assert.Equal(t, 1, cache.Len())
}

func TestCompiledQueryIncludeTargetsTheExecutingInstance(t *testing.T) {
	exec := linqtest.Static(
		[]linqtest.Row{doc(`{"Number":4}`)},
		[]linqtest.Row{doc(`{"Name":"Ada"}`)},
	)
	p := newProvider(t, exec, nil)
	ctx := context.Background()

	first := &IssuesWithAssignees{Number: 1}
	_, err := linq.ExecuteCompiled[Issue, []Issue](ctx, p, first)
	require.NoError(t, err)
	assert.Equal(t, []User{{Name: "Ada"}}, first.Assignees)

	second := &IssuesWithAssignees{Number: 2}
	_, err = linq.ExecuteCompiled[Issue, []Issue](ctx, p, second)
	require.NoError(t, err)
	assert.Equal(t, []User{{Name: "Ada"}}, second.Assignees)
	assert.Equal(t, []any{2}, exec.Last().Args[0])
}

func TestCompiledQueryConcurrentFirstUse(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	exec := linqtest.NewExecutor(func(b linq.Batch) ([]*linqtest.Rows, error) {
		mu.Lock()
		defer mu.Unlock()
		seen[b.Args[0][0].(int)] = true
		return []*linqtest.Rows{linqtest.NewRows()}, nil
	})
	p := newProvider(t, exec, nil)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := linq.ExecuteCompiled[Issue, []Issue](context.Background(), p, &IssuesAbove{Number: i, Limit: 1})
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, p.Plans().Len())
	assert.Len(t, seen, 8)
}

func TestCompiledQueryRejections(t *testing.T) {
	p := newProvider(t, linqtest.Static(), nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		run    func() error
		reason string
	}{
		{
			name: "value receiver",
			run: func() error {
				_, err := linq.ExecuteCompiled[Issue, []Issue](ctx, p, ByValue{})
				return err
			},
		},
		{
			name: "reference outside the query value",
			run: func() error {
				_, err := linq.ExecuteCompiled[Issue, []Issue](ctx, p, &OutsideReference{})
				return err
			},
			reason: "must reference an exported field",
		},
		{
			name: "empty terminal",
			run: func() error {
				_, err := linq.ExecuteCompiled[Issue, []Issue](ctx, p, &EmptyTerminal{})
				return err
			},
			reason: "empty terminal",
		},
		{
			name: "paged list",
			run: func() error {
				_, err := linq.ExecuteCompiled[Issue, *selectors.PagedList[Issue]](ctx, p, &Paged{})
				return err
			},
			reason: "ToPagedList cannot be used",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var invalid *expr.InvalidCompiledQueryError
			require.True(t, errors.As(err, &invalid), fmt.Sprintf("unexpected error %v", err))
			assert.Contains(t, invalid.Reason, tt.reason)
		})
	}
}
