package statements

import (
	"errors"
	"reflect"
	"testing"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/linq/parsing"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Task struct {
	Name   string
	Points int
}

type Issue struct {
	Id         uuid.UUID
	Number     int
	Title      string
	AssigneeId uuid.UUID
	Reviewers  []uuid.UUID
	Tags       []string
	Tasks      []Task
}

type User struct {
	Id   uuid.UUID
	Name string
}

func newBuilder(t *testing.T, s *schema.DocumentSchema, opts ...Option) *Builder {
	t.Helper()
	r := schema.NewRegistry(schema.DefaultMappingOptions())
	if s != nil {
		_, err := schema.Register[Issue](r, s)
		require.NoError(t, err)
	}
	b, err := NewBuilder(parsing.NewParser(member.NewCatalog(r)), reflect.TypeFor[Issue](), opts...)
	require.NoError(t, err)
	return b
}

func render(t *testing.T, s *Statement) (string, []any) {
	t.Helper()
	st := fragments.Render(s)
	args, err := st.Args(nil)
	require.NoError(t, err)
	return st.SQL, args
}

func issue(fn func(x expr.E) expr.E) *expr.Lambda { return expr.LambdaFor[Issue](fn) }

func numberAbove(n int) *expr.Lambda {
	return issue(func(x expr.E) expr.E { return x.Member("Number").Gt(n) })
}

func TestBuilder(t *testing.T) {
	tests := []struct {
		name   string
		schema *schema.DocumentSchema
		opts   []Option
		build  func(t *testing.T, b *Builder) *Statement
		sql    string
		args   []any
	}{
		{
			name: "filtered list",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Where(numberAbove(3)))
				return b.List()
			},
			sql:  "select d.data from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1",
			args: []any{3},
		},
		{
			name: "chained filters are joined",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Where(numberAbove(3)))
				require.NoError(t, b.Where(issue(func(x expr.E) expr.E { return expr.Const(false) })))
				return b.List()
			},
			sql:  "select d.data from public.mt_doc_issue as d where (CAST(d.data ->> 'Number' as integer) > $1 AND FALSE)",
			args: []any{3},
		},
		{
			name: "repeated take keeps the smaller count",
			build: func(t *testing.T, b *Builder) *Statement {
				b.Take(Int(5))
				b.Take(Int(3))
				return b.List()
			},
			sql:  "select d.data from public.mt_doc_issue as d LIMIT $1",
			args: []any{int64(3)},
		},
		{
			name: "skip inside take shrinks the limit",
			build: func(t *testing.T, b *Builder) *Statement {
				b.Take(Int(10))
				b.Skip(Int(2))
				return b.List()
			},
			sql:  "select d.data from public.mt_doc_issue as d LIMIT $1 OFFSET $2",
			args: []any{int64(8), int64(2)},
		},
		{
			name: "skips add up",
			build: func(t *testing.T, b *Builder) *Statement {
				b.Skip(Int(2))
				b.Skip(Int(3))
				return b.List()
			},
			sql:  "select d.data from public.mt_doc_issue as d OFFSET $1",
			args: []any{int64(5)},
		},
		{
			name: "filter after take starts a new stage",
			build: func(t *testing.T, b *Builder) *Statement {
				b.Take(Int(2))
				require.NoError(t, b.Where(numberAbove(3)))
				return b.List()
			},
			sql: "WITH mt_temp_id_list1CTE as (\nselect d.* from public.mt_doc_issue as d LIMIT $1\n)\n" +
				"select d.data from mt_temp_id_list1CTE as d where CAST(d.data ->> 'Number' as integer) > $2",
			args: []any{int64(2), 3},
		},
		{
			name: "ordering",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.OrderBy(issue(func(x expr.E) expr.E { return x.Member("Number") }), Ordering{Descending: true}))
				require.NoError(t, b.OrderBy(issue(func(x expr.E) expr.E { return x.Member("Title") }), Ordering{IgnoreCase: true, Then: true}))
				return b.List()
			},
			sql: "select d.data from public.mt_doc_issue as d order by CAST(d.data ->> 'Number' as integer) desc, lower(d.data ->> 'Title')",
		},
		{
			name: "order by replaces earlier keys",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.OrderBy(issue(func(x expr.E) expr.E { return x.Member("Number") }), Ordering{}))
				require.NoError(t, b.OrderBy(issue(func(x expr.E) expr.E { return x.Member("Title") }), Ordering{}))
				return b.List()
			},
			sql: "select d.data from public.mt_doc_issue as d order by d.data ->> 'Title'",
		},
		{
			name: "projection",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Select(issue(func(x expr.E) expr.E { return x.Member("Title") })))
				return b.List()
			},
			sql: "select d.data -> 'Title' from public.mt_doc_issue as d",
		},
		{
			name: "filter on a projected member is applied to the document",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Select(issue(func(x expr.E) expr.E {
					return expr.NewAnonymous(expr.Bind("N", x.Member("Number")))
				})))
				require.NoError(t, b.Where(expr.LambdaOf(reflect.TypeFor[map[string]any](), "p", func(p expr.E) expr.E {
					return p.Member("N").Gt(3)
				})))
				return b.List()
			},
			sql: "select jsonb_build_object('N', d.data -> 'Number') from public.mt_doc_issue as d " +
				"where CAST(d.data ->> 'Number' as integer) > $1",
			args: []any{3},
		},
		{
			name: "filter on a projected member after take reads the stage rows",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Select(issue(func(x expr.E) expr.E {
					return expr.NewAnonymous(expr.Bind("N", x.Member("Number")), expr.Bind("Title", x.Member("Title")))
				})))
				b.Take(Int(3))
				require.NoError(t, b.Where(expr.LambdaOf(reflect.TypeFor[map[string]any](), "p", func(p expr.E) expr.E {
					return p.Member("N").Gt(1).And(p.Member("Title").StartsWith("a"))
				})))
				return b.List()
			},
			sql: "WITH mt_temp_id_list1CTE as (\nselect jsonb_build_object('N', d.data -> 'Number', 'Title', d.data -> 'Title') as data " +
				"from public.mt_doc_issue as d LIMIT $1\n)\n" +
				"select d.data from mt_temp_id_list1CTE as d where (CAST(d.data ->> 'N' as integer) > $2 AND d.data ->> 'Title' LIKE $3)",
			args: []any{int64(3), 1, "a%"},
		},
		{
			name: "distinct count counts the distinct values",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Select(issue(func(x expr.E) expr.E { return x.Member("Title") })))
				b.Distinct()
				return b.Count()
			},
			sql: "WITH mt_temp_id_list1CTE as (\nselect distinct d.data -> 'Title' as data from public.mt_doc_issue as d\n)\n" +
				"select count(*) as number from mt_temp_id_list1CTE as d",
		},
		{
			name: "count",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Where(numberAbove(1)))
				return b.Count()
			},
			sql:  "select count(*) as number from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1",
			args: []any{1},
		},
		{
			name: "any",
			build: func(t *testing.T, b *Builder) *Statement {
				return b.Any()
			},
			sql:  "select TRUE as result from public.mt_doc_issue as d LIMIT $1",
			args: []any{int64(1)},
		},
		{
			name: "single reads two rows",
			build: func(t *testing.T, b *Builder) *Statement {
				b.Take(Int(10))
				return b.One(2)
			},
			sql:  "select d.data from public.mt_doc_issue as d LIMIT $1",
			args: []any{int64(2)},
		},
		{
			name: "max",
			build: func(t *testing.T, b *Builder) *Statement {
				s, err := b.Aggregate(Max, issue(func(x expr.E) expr.E { return x.Member("Number") }))
				require.NoError(t, err)
				return s
			},
			sql: "select to_jsonb(max(CAST(d.data ->> 'Number' as integer))) as data from public.mt_doc_issue as d",
		},
		{
			name: "sum of a projection",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Select(issue(func(x expr.E) expr.E { return x.Member("Number") })))
				s, err := b.Aggregate(Sum, nil)
				require.NoError(t, err)
				return s
			},
			sql: "select to_jsonb(coalesce(sum(CAST(d.data ->> 'Number' as integer)), 0)) as data from public.mt_doc_issue as d",
		},
		{
			name: "select many flattens into rows",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.SelectMany(issue(func(x expr.E) expr.E { return x.Member("Tasks") })))
				require.NoError(t, b.Where(expr.LambdaFor[Task](func(x expr.E) expr.E { return x.Member("Points").Gt(1) })))
				require.NoError(t, b.Select(expr.LambdaFor[Task](func(x expr.E) expr.E { return x.Member("Name") })))
				return b.List()
			},
			sql: "WITH mt_temp_id_list1CTE as (\nselect jsonb_array_elements(d.data -> 'Tasks') as data from public.mt_doc_issue as d\n)\n" +
				"select d.data -> 'Name' from mt_temp_id_list1CTE as d where CAST(d.data ->> 'Points' as integer) > $1",
			args: []any{1},
		},
		{
			name: "select many of scalars",
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.SelectMany(issue(func(x expr.E) expr.E { return x.Member("Tags") })))
				b.Distinct()
				return b.List()
			},
			sql: "WITH mt_temp_id_list1CTE as (\nselect jsonb_array_elements(d.data -> 'Tags') as data from public.mt_doc_issue as d\n)\n" +
				"select distinct d.data from mt_temp_id_list1CTE as d",
		},
		{
			name:   "soft deleted documents are excluded by default",
			schema: &schema.DocumentSchema{Name: "issue", SoftDeleted: true},
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Where(numberAbove(3)))
				return b.List()
			},
			sql:  "select d.data from public.mt_doc_issue as d where (CAST(d.data ->> 'Number' as integer) > $1 AND d.mt_deleted = FALSE)",
			args: []any{3},
		},
		{
			name:   "an explicit deleted filter replaces the default",
			schema: &schema.DocumentSchema{Name: "issue", SoftDeleted: true},
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Where(issue(func(x expr.E) expr.E { return x.IsDeleted() })))
				return b.List()
			},
			sql: "select d.data from public.mt_doc_issue as d where d.mt_deleted = TRUE",
		},
		{
			name:   "tenant scope",
			schema: &schema.DocumentSchema{Name: "issue", MultiTenanted: true},
			opts:   []Option{WithTenant(fragments.Constant("green", pgtype.TextOID))},
			build: func(t *testing.T, b *Builder) *Statement {
				return b.List()
			},
			sql:  "select d.data from public.mt_doc_issue as d where d.tenant_id = $1",
			args: []any{"green"},
		},
		{
			name:   "any tenant lifts the tenant scope",
			schema: &schema.DocumentSchema{Name: "issue", MultiTenanted: true},
			opts:   []Option{WithTenant(fragments.Constant("green", pgtype.TextOID))},
			build: func(t *testing.T, b *Builder) *Statement {
				require.NoError(t, b.Where(issue(func(x expr.E) expr.E { return x.AnyTenant() })))
				return b.List()
			},
			sql: "select d.data from public.mt_doc_issue as d where TRUE",
		},
		{
			name: "statistics",
			build: func(t *testing.T, b *Builder) *Statement {
				b.Stats()
				b.Take(Int(10))
				return b.List()
			},
			sql:  "select d.data, count(*) OVER() as total_rows from public.mt_doc_issue as d LIMIT $1",
			args: []any{int64(10)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, tt.schema, tt.opts...)
			sql, args := render(t, tt.build(t, b))
			if diff := cmp.Diff(tt.sql, sql); diff != "" {
				t.Errorf("sql mismatch (-want +got):\n%s", diff)
			}
			if len(tt.args) == 0 {
				assert.Empty(t, args)
				return
			}
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestTakeReadsClosuresWhenBound(t *testing.T) {
	b := newBuilder(t, nil)
	n := 10
	v, err := IntValue(expr.Ref("n", &n).Node())
	require.NoError(t, err)
	b.Take(v)
	s := b.List()

	_, args := render(t, s)
	assert.Equal(t, []any{int64(10)}, args)

	n = 4
	_, args = render(t, s)
	assert.Equal(t, []any{int64(4)}, args)
}

func TestInclude(t *testing.T) {
	r := schema.NewRegistry(schema.DefaultMappingOptions())
	_, err := schema.Register[User](r, &schema.DocumentSchema{Name: "user", SoftDeleted: true})
	require.NoError(t, err)
	b, err := NewBuilder(parsing.NewParser(member.NewCatalog(r)), reflect.TypeFor[Issue]())
	require.NoError(t, err)

	require.NoError(t, b.Include(issue(func(x expr.E) expr.E { return x.Member("AssigneeId") }), reflect.TypeFor[User](), false))
	require.NoError(t, b.Include(issue(func(x expr.E) expr.E { return x.Member("Reviewers") }), reflect.TypeFor[User](), true))
	require.NoError(t, b.Where(numberAbove(3)))
	main, _ := render(t, b.One(1))
	assert.Equal(t, "select d.data from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1 LIMIT $2", main)

	includes, err := b.Includes()
	require.NoError(t, err)
	require.Len(t, includes, 2)

	sql, args := render(t, includes[0])
	assert.Equal(t, "WITH mt_temp_id_list1CTE as (\n"+
		"select d.* from public.mt_doc_issue as d where CAST(d.data ->> 'Number' as integer) > $1 LIMIT $2\n)\n"+
		"select d.data from public.mt_doc_user as d where (d.id IN (SELECT CAST(d.data ->> 'AssigneeId' as uuid) FROM mt_temp_id_list1CTE as d) AND d.mt_deleted = FALSE)", sql)
	assert.Equal(t, []any{3, int64(1)}, args)

	sql, _ = render(t, includes[1])
	assert.Contains(t, sql, "select CAST(d.id as varchar) as id, d.data from public.mt_doc_user as d")
	assert.Contains(t, sql, "SELECT CAST(jsonb_array_elements_text(d.data -> 'Reviewers') as uuid) FROM mt_temp_id_list2CTE as d")
}

func TestBuilderErrors(t *testing.T) {
	t.Run("include after projection", func(t *testing.T) {
		b := newBuilder(t, nil)
		require.NoError(t, b.Select(issue(func(x expr.E) expr.E { return x.Member("Title") })))
		err := b.Include(issue(func(x expr.E) expr.E { return x.Member("AssigneeId") }), reflect.TypeFor[User](), false)
		var invalid *expr.InvalidOperationError
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("select many over a scalar", func(t *testing.T) {
		b := newBuilder(t, nil)
		err := b.SelectMany(issue(func(x expr.E) expr.E { return x.Member("Title") }))
		assert.ErrorIs(t, err, expr.ErrUnsupported)
	})

	t.Run("unknown member", func(t *testing.T) {
		b := newBuilder(t, nil)
		err := b.Where(issue(func(x expr.E) expr.E { return x.Member("Missing").Eq(1) }))
		assert.ErrorIs(t, err, expr.ErrUnsupported)
	})
}
