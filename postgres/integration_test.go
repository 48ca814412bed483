package postgres_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/linq"
	"github.com/asaidimu/go-marten/core/persistence"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/asaidimu/go-marten/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type Owner struct {
	Name string
}

type Ticket struct {
	Id     uuid.UUID
	Number int
	Title  string
	Open   bool
	Tags   []string
	Owner  Owner
}

// connect opens a pool on MARTEN_TEST_DATABASE_URL and skips the test when the
// variable is unset or the database is unavailable.
func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("MARTEN_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MARTEN_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Skipf("PostgreSQL unavailable: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("PostgreSQL unavailable: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

type fixture struct {
	store   *persistence.DocumentStore
	exec    *postgres.Executor
	mapping *schema.DocumentMapping
	tickets []Ticket
}

func setup(t *testing.T, n int) *fixture {
	t.Helper()
	pool := connect(t)
	ctx := context.Background()
	exec := postgres.NewExecutor(pool, zaptest.NewLogger(t))

	dbSchema := "marten_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	t.Cleanup(func() {
		_ = exec.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+dbSchema+" CASCADE")
	})

	opts := persistence.DefaultStoreOptions()
	opts.SchemaName = dbSchema
	opts.Executor = exec
	opts.Logger = zaptest.NewLogger(t)
	store, err := persistence.NewDocumentStore(opts)
	require.NoError(t, err)

	m, err := persistence.Register[Ticket](store, &schema.DocumentSchema{
		Name:        "tickets",
		SoftDeleted: true,
		Indexes:     []schema.IndexDefinition{{Type: schema.IndexTypeGin, Fields: []string{"*"}}},
	})
	require.NoError(t, err)
	require.NoError(t, exec.CreateDocumentTable(ctx, m))

	rng := rand.New(rand.NewPCG(7, 11))
	titles := []string{"alpha", "beta", "gamma", "delta", "betamax", "omega"}
	tags := []string{"red", "green", "blue"}
	owners := []string{"ann", "bob", "cy"}

	tickets := make([]Ticket, n)
	docs := make([]any, n)
	for i := range tickets {
		tk := Ticket{
			Id:     uuid.New(),
			Number: rng.IntN(100),
			Title:  titles[rng.IntN(len(titles))],
			Open:   rng.IntN(2) == 0,
			Owner:  Owner{Name: owners[rng.IntN(len(owners))]},
		}
		for _, tag := range tags {
			if rng.IntN(3) == 0 {
				tk.Tags = append(tk.Tags, tag)
			}
		}
		tickets[i] = tk
		docs[i] = tk
	}
	require.NoError(t, exec.Store(ctx, m, "", false, docs...))
	return &fixture{store: store, exec: exec, mapping: m, tickets: tickets}
}

func ids(tickets []Ticket) []string {
	out := make([]string, len(tickets))
	for i, tk := range tickets {
		out[i] = tk.Id.String()
	}
	slices.Sort(out)
	return out
}

// TestWhereMatchesInMemoryEvaluation checks that each translated filter selects
// exactly the documents the expression selects when evaluated in memory.
func TestWhereMatchesInMemoryEvaluation(t *testing.T) {
	f := setup(t, 60)
	session := f.store.OpenSession()

	predicates := map[string]func(x expr.E) expr.E{
		"greater than":       func(x expr.E) expr.E { return x.Member("Number").Gt(50) },
		"range":              func(x expr.E) expr.E { return x.Member("Number").Gte(10).And(x.Member("Number").Lt(40)) },
		"equality":           func(x expr.E) expr.E { return x.Member("Title").Eq("alpha") },
		"inequality":         func(x expr.E) expr.E { return x.Member("Title").Neq("alpha") },
		"starts with":        func(x expr.E) expr.E { return x.Member("Title").StartsWith("be") },
		"contains":           func(x expr.E) expr.E { return x.Member("Title").Contains("ta") },
		"ignore case":        func(x expr.E) expr.E { return x.Member("Title").EndsWith("MAX", expr.OrdinalIgnoreCase) },
		"boolean member":     func(x expr.E) expr.E { return x.Member("Open") },
		"negated boolean":    func(x expr.E) expr.E { return x.Member("Open").Not() },
		"nested or":          func(x expr.E) expr.E { return x.Member("Owner").Member("Name").Eq("ann").Or(x.Member("Number").Lt(5)) },
		"collection contains": func(x expr.E) expr.E {
			return x.Member("Tags").Contains("red")
		},
		"is one of": func(x expr.E) expr.E { return x.Member("Number").IsOneOf([]int{1, 2, 3, 50, 99}) },
		"negated compound": func(x expr.E) expr.E {
			return x.Member("Open").And(x.Member("Number").Gt(20)).Not()
		},
	}

	for name, pred := range predicates {
		t.Run(name, func(t *testing.T) {
			var want []Ticket
			l := expr.LambdaFor[Ticket](pred)
			for _, tk := range f.tickets {
				ok, err := expr.Match(l, tk)
				require.NoError(t, err)
				if ok {
					want = append(want, tk)
				}
			}

			got, err := linq.ToList(context.Background(), persistence.Query[Ticket](session).Where(pred))
			require.NoError(t, err)
			assert.Equal(t, ids(want), ids(got))
		})
	}
}

func TestTerminalsAgainstPostgres(t *testing.T) {
	f := setup(t, 25)
	ctx := context.Background()
	session := f.store.OpenSession()
	q := persistence.Query[Ticket](session)

	count, err := linq.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 25, count)

	highest := slices.MaxFunc(f.tickets, func(a, b Ticket) int { return a.Number - b.Number }).Number
	got, err := linq.Max[Ticket, int](ctx, q, func(x expr.E) expr.E { return x.Member("Number") })
	require.NoError(t, err)
	assert.Equal(t, highest, got)

	page, err := linq.ToPagedList(ctx, q.OrderBy(func(x expr.E) expr.E { return x.Member("Number") }), 2, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)
	assert.Equal(t, int64(25), page.TotalItemCount)
	assert.Equal(t, int64(3), page.PageCount)

	titles, err := linq.ToList(ctx, linq.Select[Ticket, string](q.Distinct(), func(x expr.E) expr.E { return x.Member("Title") }))
	require.NoError(t, err)
	assert.NotEmpty(t, titles)

	found, err := linq.Any(ctx, q.Where(func(x expr.E) expr.E { return x.Member("Number").Gt(1000) }))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSoftDeletedDocumentsAreHidden(t *testing.T) {
	f := setup(t, 5)
	ctx := context.Background()

	gone := Ticket{Id: uuid.New(), Number: 500, Title: "gone"}
	require.NoError(t, f.exec.Store(ctx, f.mapping, "", true, gone))

	session := f.store.OpenSession()
	count, err := linq.Count(ctx, persistence.Query[Ticket](session).Where(func(x expr.E) expr.E { return x.Member("Number").Eq(500) }))
	require.NoError(t, err)
	assert.Zero(t, count)

	deleted, err := linq.ToList(ctx, persistence.Query[Ticket](session).Where(func(x expr.E) expr.E { return x.IsDeleted() }))
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, gone.Id, deleted[0].Id)
}

type TicketsAbove struct {
	Number int
	Limit  int
}

func (q *TicketsAbove) QueryIs(src linq.Queryable[Ticket]) linq.Terminal[[]Ticket] {
	return linq.AsList(src.Where(func(x expr.E) expr.E {
		return x.Member("Number").Gt(expr.Ref("Number", &q.Number))
	}).OrderBy(func(x expr.E) expr.E { return x.Member("Number") }).Take(expr.Ref("Limit", &q.Limit)))
}

func TestCompiledQueryAgainstPostgres(t *testing.T) {
	f := setup(t, 30)
	ctx := context.Background()
	session := f.store.OpenSession()

	for _, n := range []int{10, 60} {
		t.Run(fmt.Sprintf("above %d", n), func(t *testing.T) {
			got, err := persistence.QueryCompiled[Ticket, []Ticket](ctx, session, &TicketsAbove{Number: n, Limit: 5})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), 5)
			for _, tk := range got {
				assert.Greater(t, tk.Number, n)
			}
		})
	}
	assert.Equal(t, 1, f.store.Plans().Len())
}
