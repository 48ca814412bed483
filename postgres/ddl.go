package postgres

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
	"go.uber.org/zap"
)

// DefaultTenant is stored in tenant_id for documents written without a tenant.
const DefaultTenant = "*DEFAULT*"

// idPgType returns the column type of the mapping's identity.
func idPgType(m *schema.DocumentMapping) (string, error) {
	f, ok := m.DocType.FieldByName(m.IdMember)
	if !ok {
		return "", fmt.Errorf("%s has no identity field %s", m.DocType, m.IdMember)
	}
	switch schema.FieldTypeOf(f.Type) {
	case schema.FieldTypeUUID:
		return "uuid", nil
	case schema.FieldTypeInteger:
		return "integer", nil
	case schema.FieldTypeBigInt:
		return "bigint", nil
	}
	return "varchar", nil
}

// jsonPath returns the JSON keys a Go field path is stored under.
func jsonPath(m *schema.DocumentMapping, path string) ([]string, error) {
	t := m.DocType
	var keys []string
	for _, name := range strings.Split(path, ".") {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		f, ok := t.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("%s has no field %s", t, name)
		}
		keys = append(keys, schema.KeyFor(f, m.Serializer.Casing()))
		t = f.Type
	}
	return keys, nil
}

// unalias strips the query alias from a generated locator so it can be used in
// index definitions.
func unalias(locator string) string {
	return strings.ReplaceAll(locator, member.DocumentAlias+".", "")
}

// DocumentTableSQL generates the DDL statements that create the table of a
// document mapping and its indexes.
func DocumentTableSQL(m *schema.DocumentMapping) ([]string, error) {
	idType, err := idPgType(m)
	if err != nil {
		return nil, err
	}
	table := m.TableName()

	columns := []string{
		"tenant_id varchar NOT NULL DEFAULT " + member.Literal(DefaultTenant),
		"id " + idType + " NOT NULL",
		"data jsonb NOT NULL",
		"mt_last_modified timestamptz NOT NULL DEFAULT now()",
		"mt_deleted boolean NOT NULL DEFAULT FALSE",
		"mt_deleted_at timestamptz",
	}
	for _, f := range m.DuplicatedFields() {
		columns = append(columns, f.Column+" "+f.DbType)
	}
	if m.MultiTenanted {
		columns = append(columns, "PRIMARY KEY (tenant_id, id)")
	} else {
		columns = append(columns, "PRIMARY KEY (id)")
	}

	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + m.DatabaseSchema,
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, strings.Join(columns, ",\n  ")),
	}

	prefix := m.TablePrefix + m.Alias
	if m.HasGinIndex() {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_idx_data ON %s USING gin (data jsonb_path_ops)", prefix, table))
	}
	for _, f := range m.DuplicatedFields() {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_idx_%s ON %s (%s)", prefix, f.Column, table, f.Column))
	}

	root := member.NewDocumentRoot(m)
	for _, idx := range m.FullTextIndexes() {
		data := "data"
		if len(idx.Paths) > 0 {
			parts := make([]string, len(idx.Paths))
			for i, path := range idx.Paths {
				mem, err := root.FieldPath(path)
				if err != nil {
					return nil, err
				}
				parts[i] = "coalesce(" + unalias(mem.RawLocator()) + ", '')"
			}
			data = "(" + strings.Join(parts, " || ' ' || ") + ")"
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (to_tsvector('%s'::regconfig, %s))",
			idx.Name, table, idx.RegConfig, data))
	}
	if paths := m.NgramPaths(); len(paths) > 0 {
		stmts = append(stmts, ngramFunctions...)
		for _, path := range paths {
			mem, err := root.FieldPath(path)
			if err != nil {
				return nil, err
			}
			column := schema.ApplyCasing(strings.ReplaceAll(path, ".", ""), schema.CasingSnake)
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_idx_ngram_%s ON %s USING gin (mt_grams_vector(%s))",
				prefix, column, table, unalias(mem.RawLocator())))
		}
	}
	return stmts, nil
}

// ngramFunctions split text into the one to three character grams searched by
// NgramSearch.
var ngramFunctions = []string{
	`CREATE OR REPLACE FUNCTION mt_grams_array(words text) RETURNS text[]
LANGUAGE plpgsql IMMUTABLE STRICT AS $function$
DECLARE
  result text[];
  word text;
  clean_word text;
BEGIN
  FOREACH word IN ARRAY string_to_array(words, ' ') LOOP
    clean_word := regexp_replace(word, '[^a-zA-Z0-9]+', '', 'g');
    FOR i IN 1 .. length(clean_word) LOOP
      result := result || quote_literal(substr(lower(clean_word), i, 1));
      result := result || quote_literal(substr(lower(clean_word), i, 2));
      result := result || quote_literal(substr(lower(clean_word), i, 3));
    END LOOP;
  END LOOP;
  RETURN ARRAY(SELECT DISTINCT e FROM unnest(result) AS a(e) ORDER BY e);
END;
$function$`,
	`CREATE OR REPLACE FUNCTION mt_grams_vector(text) RETURNS tsvector
LANGUAGE plpgsql IMMUTABLE STRICT AS $function$
BEGIN
  RETURN (SELECT array_to_string(mt_grams_array($1), ' ')::tsvector);
END;
$function$`,
	`CREATE OR REPLACE FUNCTION mt_grams_query(text) RETURNS tsquery
LANGUAGE plpgsql IMMUTABLE STRICT AS $function$
BEGIN
  RETURN (SELECT array_to_string(mt_grams_array($1), ' & ')::tsquery);
END;
$function$`,
}

// UpsertSQL generates the statement that stores one document. Its parameters are
// the id, the JSON data, the tenant and the deleted flag; duplicated columns are
// filled from the data.
func UpsertSQL(m *schema.DocumentMapping) (string, error) {
	columns := []string{"id", "data", "tenant_id", "mt_deleted", "mt_deleted_at", "mt_last_modified"}
	values := []string{"$1", "$2::jsonb", "$3", "$4", "CASE WHEN $4 THEN now() END", "now()"}
	for _, f := range m.DuplicatedFields() {
		keys, err := jsonPath(m, f.Path)
		if err != nil {
			return "", err
		}
		columns = append(columns, f.Column)
		values = append(values, member.Cast("$2::jsonb #>> '{"+strings.Join(keys, ",")+"}'", f.DbType))
	}

	conflict := "(id)"
	if m.MultiTenanted {
		conflict = "(tenant_id, id)"
	}
	updates := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		updates = append(updates, c+" = excluded."+c)
	}
	return fmt.Sprintf("insert into %s (%s) values (%s) on conflict %s do update set %s",
		m.TableName(), strings.Join(columns, ", "), strings.Join(values, ", "), conflict, strings.Join(updates, ", ")), nil
}

// CreateDocumentTable creates the table and indexes of a mapping when missing.
// The statements run in one transaction.
func (e *Executor) CreateDocumentTable(ctx context.Context, m *schema.DocumentMapping) error {
	stmts, err := DocumentTableSQL(m)
	if err != nil {
		return fmt.Errorf("failed to generate SQL for %s: %w", m.TableName(), err)
	}
	return e.inTransaction(ctx, func(tx *Executor) error {
		for _, stmt := range stmts {
			if err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
			}
		}
		return nil
	})
}

// Store upserts documents of the mapping's type for tenant, which may be empty.
// Documents marked deleted are written soft-deleted.
func (e *Executor) Store(ctx context.Context, m *schema.DocumentMapping, tenant string, deleted bool, docs ...any) error {
	sql, err := UpsertSQL(m)
	if err != nil {
		return err
	}
	if tenant == "" {
		tenant = DefaultTenant
	}
	return e.inTransaction(ctx, func(tx *Executor) error {
		for _, doc := range docs {
			v := reflect.Indirect(reflect.ValueOf(doc))
			if v.Type() != m.DocType {
				return fmt.Errorf("cannot store %s as %s", v.Type(), m.DocType)
			}
			data, err := m.Serializer.ToJSON(doc)
			if err != nil {
				return fmt.Errorf("failed to serialize %s: %w", m.DocType, err)
			}
			id := v.FieldByName(m.IdMember).Interface()
			if err := tx.Exec(ctx, sql, id, data, tenant, deleted); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Executor) inTransaction(ctx context.Context, fn func(tx *Executor) error) error {
	if e.tx != nil {
		return fn(e)
	}
	tx, err := e.StartTransaction(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit(ctx)
}
