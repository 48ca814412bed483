package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/linq"
	"github.com/asaidimu/go-marten/core/persistence"
	"github.com/asaidimu/go-marten/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const issueSchemaJSON = `{
	"name": "issues",
	"description": "Issues tracked per project",
	"softDeleted": true,
	"fields": [
		{"name": "Project", "duplicated": true}
	],
	"indexes": [
		{"name": "mt_doc_issue_idx_data", "fields": ["*"], "type": "gin"},
		{"fields": ["Title", "Body"], "type": "fulltext"}
	]
}`

type Issue struct {
	Id       uuid.UUID
	Project  string
	Number   int
	Title    string
	Body     string
	Labels   []string
	Assignee *string
}

// OpenIssues is a compiled query: translated once, re-bound on every execution.
type OpenIssues struct {
	Project string
	Limit   int
}

func (q *OpenIssues) QueryIs(src linq.Queryable[Issue]) linq.Terminal[[]Issue] {
	return linq.AsList(src.
		Where(func(x expr.E) expr.E { return x.Member("Project").Eq(expr.Ref("Project", &q.Project)) }).
		OrderByDescending(func(x expr.E) expr.E { return x.Member("Number") }).
		Take(expr.Ref("Limit", &q.Limit)))
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := persistence.DefaultStoreOptions()
	opts.Logger = logger

	// Without a database the demo only prints the translated SQL.
	var exec *postgres.Executor
	if url := os.Getenv("MARTEN_DATABASE_URL"); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			log.Fatalf("Failed to open database pool: %v", err)
		}
		defer pool.Close()
		exec = postgres.NewExecutor(pool, logger)
		opts.Executor = exec
	}

	store, err := persistence.NewDocumentStore(opts)
	if err != nil {
		log.Fatalf("Failed to initialize document store: %v", err)
	}
	mapping, err := persistence.RegisterJSON[Issue](store, []byte(issueSchemaJSON))
	if err != nil {
		log.Fatalf("Failed to register issue schema: %v", err)
	}
	fmt.Printf("Registered Issue as %s\n", mapping.TableName())

	store.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event: persistence.QueryExecuteSuccess,
		Callback: func(ctx context.Context, event persistence.QueryEvent) error {
			fmt.Printf("  [event] %s %s in %dms\n", event.Type, event.Operation, *event.Duration)
			return nil
		},
	})

	session := store.OpenSession()
	issues := persistence.Query[Issue](session)
	bugs := issues.Where(func(x expr.E) expr.E {
		return x.Member("Labels").Contains("bug").And(x.Member("Assignee").Eq(nil))
	}).OrderBy(func(x expr.E) expr.E { return x.Member("Number") })
	search := issues.Where(func(x expr.E) expr.E { return x.Search("crash on startup") })

	for name, q := range map[string]linq.Queryable[Issue]{"unassigned bugs": bugs, "search": search} {
		cmd, _, err := linq.Translate(linq.AsList(q))
		if err != nil {
			log.Fatalf("Failed to translate %s: %v", name, err)
		}
		fmt.Printf("%s:\n  %s\n", name, cmd.Statements[0].SQL)
	}

	sqls, args, err := linq.TranslateCompiled[Issue, []Issue](session.Provider(), &OpenIssues{Project: "core", Limit: 3})
	if err != nil {
		log.Fatalf("Failed to translate compiled query: %v", err)
	}
	fmt.Printf("compiled:\n  %s\n  args: %v\n", sqls[0], args[0])

	if exec == nil {
		fmt.Println("Set MARTEN_DATABASE_URL to run the queries against PostgreSQL.")
		return
	}

	if err := exec.CreateDocumentTable(ctx, mapping); err != nil {
		log.Fatalf("Failed to create document table: %v", err)
	}
	alice := "alice"
	seed := []any{
		Issue{Id: uuid.New(), Project: "core", Number: 1, Title: "Crash on startup", Body: "The app crashes on startup", Labels: []string{"bug"}},
		Issue{Id: uuid.New(), Project: "core", Number: 2, Title: "Dark mode", Labels: []string{"feature"}, Assignee: &alice},
		Issue{Id: uuid.New(), Project: "web", Number: 3, Title: "Broken link", Labels: []string{"bug"}},
	}
	if err := exec.Store(ctx, mapping, "", false, seed...); err != nil {
		log.Fatalf("Failed to store issues: %v", err)
	}

	found, err := linq.ToList(ctx, bugs)
	if err != nil {
		log.Fatalf("Failed to query bugs: %v", err)
	}
	for _, issue := range found {
		fmt.Printf("  #%d %s (%s)\n", issue.Number, issue.Title, issue.Project)
	}

	open, err := persistence.QueryCompiled[Issue, []Issue](ctx, session, &OpenIssues{Project: "core", Limit: 3})
	if err != nil {
		log.Fatalf("Failed to run compiled query: %v", err)
	}
	fmt.Printf("  %d open core issues\n", len(open))
}
