// Package statements assembles translated fragments into executable SELECT
// statements. A query is a chain of statements: the document table stage first,
// then one stage per operator that cannot be folded into the previous one, each
// reading the rows of its predecessor through a common table expression.
package statements

import (
	"fmt"
	"reflect"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/jackc/pgx/v5/pgtype"
)

// Statement is one SELECT of a query pipeline.
type Statement struct {
	// From is the document table, or the name of the previous stage.
	From      string
	Select    fragments.Fragment
	Where     []fragments.Fragment
	Orderings []fragments.Fragment
	Limit     *fragments.Value
	Offset    *fragments.Value
	Distinct  bool
	// Stats adds the total row count, before limit and offset, to every row.
	Stats bool

	// Previous is the stage this one reads from. It renders as a CTE named Name.
	Previous *Statement
	Name     string

	// Mapping and Tenant are set on stages reading a document table; they drive
	// the default soft-delete and tenant filters.
	Mapping *schema.DocumentMapping
	Tenant  *fragments.Value
}

// CTEName returns the name of the n-th intermediate stage.
func CTEName(n int) string {
	return fmt.Sprintf("mt_temp_id_list%dCTE", n)
}

// Filters returns the where fragments including the defaults of the document
// table: soft-deleted documents are excluded and the query is scoped to the
// session tenant, unless a filter already addresses either explicitly.
func (s *Statement) Filters() []fragments.Fragment {
	where := append([]fragments.Fragment(nil), s.Where...)
	if s.Mapping == nil {
		return where
	}
	if s.Mapping.SoftDeleted && !hasAny(where, isDeletedFilter) {
		where = append(where, fragments.NotDeleted{})
	}
	if s.Mapping.MultiTenanted && s.Tenant != nil && !hasAny(where, isTenantFilter) {
		where = append(where, &fragments.Tenant{Tenants: s.Tenant})
	}
	return where
}

func isDeletedFilter(f fragments.Fragment) bool {
	_, ok := f.(fragments.DeletedFilter)
	return ok
}

func isTenantFilter(f fragments.Fragment) bool {
	_, ok := f.(fragments.TenantFilter)
	return ok
}

func hasAny(list []fragments.Fragment, pred func(fragments.Fragment) bool) bool {
	for _, f := range list {
		if fragments.Has(f, pred) {
			return true
		}
	}
	return false
}

// Stages returns the chain ending at s, first stage first.
func (s *Statement) Stages() []*Statement {
	var out []*Statement
	for cur := s; cur != nil; cur = cur.Previous {
		out = append([]*Statement{cur}, out...)
	}
	return out
}

// Apply renders the whole chain: earlier stages as a WITH clause, then s.
func (s *Statement) Apply(b *fragments.CommandBuilder) {
	stages := s.Stages()
	for i, st := range stages[:len(stages)-1] {
		if i == 0 {
			b.Append("WITH ")
		} else {
			b.Append(",\n")
		}
		b.Append(st.Name + " as (\n")
		st.applySelect(b)
		b.Append("\n)")
	}
	if len(stages) > 1 {
		b.Append("\n")
	}
	s.applySelect(b)
}

func (s *Statement) applySelect(b *fragments.CommandBuilder) {
	b.Append("select ")
	if s.Distinct {
		b.Append("distinct ")
	}
	if s.Select == nil {
		b.Append("d.data")
	} else {
		s.Select.Apply(b)
	}
	if s.Stats {
		b.Append(", count(*) OVER() as total_rows")
	}
	b.Append(" from " + s.From + " as d")
	if where := fragments.And(s.Filters()...); where != nil {
		b.Append(" where ")
		where.Apply(b)
	}
	for i, o := range s.Orderings {
		if i == 0 {
			b.Append(" order by ")
		} else {
			b.Append(", ")
		}
		o.Apply(b)
	}
	if s.Limit != nil {
		b.Append(" LIMIT ").AppendParameter(s.Limit)
	}
	if s.Offset != nil {
		b.Append(" OFFSET ").AppendParameter(s.Offset)
	}
}

// clone copies the stage without its mutable slices being shared.
func (s *Statement) clone() *Statement {
	c := *s
	c.Where = append([]fragments.Fragment(nil), s.Where...)
	c.Orderings = append([]fragments.Fragment(nil), s.Orderings...)
	return &c
}

// IntValue builds an integer parameter from a constant or closure node, such as
// the count of Take or Skip.
func IntValue(n expr.Node) (*fragments.Value, error) {
	v, err := fragments.FromNode(n, pgtype.Int8OID)
	if err != nil {
		return nil, err
	}
	return v.Then(func(raw any) (any, error) { return toInt64(raw) }), nil
}

// Int creates a constant integer parameter.
func Int(n int64) *fragments.Value {
	return fragments.Constant(n, pgtype.Int8OID)
}

func toInt64(v any) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("row count must not be nil")
	}
	if i, ok := v.(int64); ok {
		return i, nil
	}
	f, ok := expr.ToFloat64(v)
	if !ok {
		return 0, expr.NewConversionError(v, reflect.TypeFor[int64](), fmt.Errorf("%T is not a number", v))
	}
	return int64(f), nil
}

// minOf composes a limit that is the smaller of two values.
func minOf(a, b *fragments.Value) *fragments.Value {
	if a == nil {
		return b
	}
	return fragments.Compose(func(parts []any) (any, error) {
		x, err := toInt64(parts[0])
		if err != nil {
			return nil, err
		}
		y, err := toInt64(parts[1])
		if err != nil {
			return nil, err
		}
		return min(x, y), nil
	}, pgtype.Int8OID, a, b)
}

// sumOf composes an offset that adds two values.
func sumOf(a, b *fragments.Value) *fragments.Value {
	if a == nil {
		return b
	}
	return fragments.Compose(func(parts []any) (any, error) {
		x, err := toInt64(parts[0])
		if err != nil {
			return nil, err
		}
		y, err := toInt64(parts[1])
		if err != nil {
			return nil, err
		}
		return x + y, nil
	}, pgtype.Int8OID, a, b)
}

// shrink composes a limit reduced by a skipped count, never below zero.
func shrink(limit, skipped *fragments.Value) *fragments.Value {
	return fragments.Compose(func(parts []any) (any, error) {
		x, err := toInt64(parts[0])
		if err != nil {
			return nil, err
		}
		y, err := toInt64(parts[1])
		if err != nil {
			return nil, err
		}
		return max(x-y, 0), nil
	}, pgtype.Int8OID, limit, skipped)
}
