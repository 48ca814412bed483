package postgres

import (
	"reflect"
	"strings"
	"testing"

	"github.com/asaidimu/go-marten/core/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Customer struct {
	Name string
}

type Order struct {
	Id       uuid.UUID
	Customer Customer
	Notes    string
	Total    float64
}

type Note struct {
	ID   string
	Text string
}

func orderMapping(t *testing.T) *schema.DocumentMapping {
	t.Helper()
	m, err := schema.NewMapping(reflect.TypeFor[Order](), &schema.DocumentSchema{
		Name:          "orders",
		MultiTenanted: true,
		Fields:        []schema.FieldDefinition{{Name: "Customer.Name", Duplicated: true}},
		Indexes: []schema.IndexDefinition{
			{Type: schema.IndexTypeGin, Fields: []string{"*"}},
			{Type: schema.IndexTypeFullText, Fields: []string{"Notes"}},
			{Type: schema.IndexTypeNgram, Fields: []string{"Notes"}},
		},
	}, schema.DefaultMappingOptions())
	require.NoError(t, err)
	return m
}

func TestDocumentTableSQL(t *testing.T) {
	stmts, err := DocumentTableSQL(orderMapping(t))
	require.NoError(t, err)

	require.Len(t, stmts, 9)
	want := []string{
		"CREATE SCHEMA IF NOT EXISTS public",
		"CREATE TABLE IF NOT EXISTS public.mt_doc_order (\n" +
			"  tenant_id varchar NOT NULL DEFAULT '*DEFAULT*',\n" +
			"  id uuid NOT NULL,\n" +
			"  data jsonb NOT NULL,\n" +
			"  mt_last_modified timestamptz NOT NULL DEFAULT now(),\n" +
			"  mt_deleted boolean NOT NULL DEFAULT FALSE,\n" +
			"  mt_deleted_at timestamptz,\n" +
			"  customer_name varchar,\n" +
			"  PRIMARY KEY (tenant_id, id)\n)",
		"CREATE INDEX IF NOT EXISTS mt_doc_order_idx_data ON public.mt_doc_order USING gin (data jsonb_path_ops)",
		"CREATE INDEX IF NOT EXISTS mt_doc_order_idx_customer_name ON public.mt_doc_order (customer_name)",
		"CREATE INDEX IF NOT EXISTS mt_doc_order_idx_fts ON public.mt_doc_order USING gin (to_tsvector('english'::regconfig, (coalesce(data ->> 'Notes', ''))))",
	}
	if diff := cmp.Diff(want, stmts[:5]); diff != "" {
		t.Errorf("ddl mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, strings.HasPrefix(stmts[5], "CREATE OR REPLACE FUNCTION mt_grams_array"))
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS mt_doc_order_idx_ngram_notes ON public.mt_doc_order USING gin (mt_grams_vector(data ->> 'Notes'))", stmts[8])
}

func TestDocumentTableSQLConventions(t *testing.T) {
	m, err := schema.NewMapping(reflect.TypeFor[Note](), nil, schema.DefaultMappingOptions())
	require.NoError(t, err)

	stmts, err := DocumentTableSQL(m)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "id varchar NOT NULL")
	assert.Contains(t, stmts[1], "PRIMARY KEY (id)")
}

func TestUpsertSQL(t *testing.T) {
	sql, err := UpsertSQL(orderMapping(t))
	require.NoError(t, err)
	assert.Equal(t, "insert into public.mt_doc_order "+
		"(id, data, tenant_id, mt_deleted, mt_deleted_at, mt_last_modified, customer_name) "+
		"values ($1, $2::jsonb, $3, $4, CASE WHEN $4 THEN now() END, now(), CAST($2::jsonb #>> '{Customer,Name}' as varchar)) "+
		"on conflict (tenant_id, id) do update set data = excluded.data, tenant_id = excluded.tenant_id, "+
		"mt_deleted = excluded.mt_deleted, mt_deleted_at = excluded.mt_deleted_at, "+
		"mt_last_modified = excluded.mt_last_modified, customer_name = excluded.customer_name", sql)
}
