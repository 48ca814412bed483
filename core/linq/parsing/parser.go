// Package parsing translates expression trees into SQL fragments: classifying
// comparison operands, dispatching method calls to their parsers, and building
// where clauses and projections.
package parsing

import (
	"fmt"
	"reflect"
	"time"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// Parser translates lambdas over one store's document types.
type Parser struct {
	catalog    *member.Catalog
	serializer schema.Serializer
	methods    []MethodParser
	compiled   bool
	logger     *zap.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the parser's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// Compiled marks the parser as translating a compiled query. Closures are then
// never read at translation time, since their values change between executions.
func Compiled() Option {
	return func(p *Parser) { p.compiled = true }
}

// WithMethods prepends parsers to the default registry, so they take precedence.
func WithMethods(m ...MethodParser) Option {
	return func(p *Parser) { p.methods = append(append([]MethodParser(nil), m...), p.methods...) }
}

// NewParser creates a parser resolving members through catalog.
func NewParser(catalog *member.Catalog, opts ...Option) *Parser {
	p := &Parser{
		catalog:    catalog,
		serializer: catalog.Registry().Options().Serializer,
		methods:    DefaultMethods(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Catalog returns the member catalog.
func (p *Parser) Catalog() *member.Catalog { return p.catalog }

// Serializer returns the serializer values are rendered with.
func (p *Parser) Serializer() schema.Serializer { return p.serializer }

// IsCompiled reports whether the parser translates a compiled query.
func (p *Parser) IsCompiled() bool { return p.compiled }

// Scope binds the parameter of a lambda over document type t to its root.
func (p *Parser) Scope(t reflect.Type, l *expr.Lambda) (*member.Scope, error) {
	root, err := p.catalog.RootFor(t)
	if err != nil {
		return nil, err
	}
	return member.NewScope(l.Param(), root), nil
}

// peekable reports whether a value may be read now to specialize the SQL.
func (p *Parser) peekable(v *fragments.Value) bool {
	return !p.compiled || v.IsConstant()
}

// inline evaluates a node whose value is written into the SQL text rather than
// bound as a parameter. A compiled plan could not re-bind it, so closures are
// rejected there.
func (p *Parser) inline(call *expr.Call, n expr.Node) (any, error) {
	if p.compiled && len(expr.Closures(n)) > 0 {
		return nil, expr.BadExpression(call, "%s is rendered into the SQL text and cannot reference a compiled query field", expr.Format(n))
	}
	return expr.Eval(n)
}

// value builds the parameter a constant node is bound through, converted to the
// member's Go type and rendered the way the member is stored.
func (p *Parser) value(m member.Member, n expr.Node) (*fragments.Value, error) {
	v, err := fragments.FromNode(n, 0)
	if err != nil {
		return nil, err
	}
	t := m.Type()
	if _, ok := m.(*member.Length); !ok && t != nil {
		v = v.Then(func(raw any) (any, error) { return expr.ConvertTo(raw, t) })
	}
	enums := p.serializer.EnumStorage()
	v = v.Then(func(raw any) (any, error) { return sqlValue(raw, enums), nil })
	return p.check(v)
}

// check resolves a value once when it can be read now, so conversion errors surface
// at translation time.
func (p *Parser) check(v *fragments.Value) (*fragments.Value, error) {
	if !p.peekable(v) {
		return v, nil
	}
	current, err := v.Current()
	if err != nil {
		return nil, err
	}
	if oid := fragments.OIDFor(current); oid != 0 && v.OID == 0 {
		v = v.WithOID(oid)
	}
	return v, nil
}

// sqlValue renders enums per the storage mode and leaves other values as they are.
func sqlValue(v any, enums schema.EnumStorage) any {
	if v == nil {
		return nil
	}
	if schema.IsEnum(reflect.TypeOf(v)) {
		return schema.EnumValue(v, enums)
	}
	return v
}

// typedArray converts a list into the typed slice an "= ANY($1)" parameter needs.
func typedArray(list any, ft schema.FieldType, elem reflect.Type, enums schema.EnumStorage) (any, error) {
	items, ok := expr.ToSlice(list)
	if !ok {
		if list == nil {
			items = nil
		} else {
			return nil, fmt.Errorf("%T is not a list", list)
		}
	}
	convert := func(v any) (any, error) {
		if elem == nil {
			return v, nil
		}
		return expr.ConvertTo(v, elem)
	}
	if ft == schema.FieldTypeEnum {
		if enums == schema.AsString {
			ft = schema.FieldTypeString
		} else {
			ft = schema.FieldTypeBigInt
		}
	}

	switch ft {
	case schema.FieldTypeInteger, schema.FieldTypeBigInt:
		out := make([]int64, 0, len(items))
		for _, item := range items {
			c, err := convert(item)
			if err != nil {
				return nil, err
			}
			switch v := sqlValue(c, enums).(type) {
			case int64:
				out = append(out, v)
			default:
				f, ok := expr.ToFloat64(v)
				if !ok {
					return nil, expr.NewConversionError(item, elem, fmt.Errorf("%T is not an integer", v))
				}
				out = append(out, int64(f))
			}
		}
		return out, nil
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		out := make([]float64, 0, len(items))
		for _, item := range items {
			c, err := convert(item)
			if err != nil {
				return nil, err
			}
			f, ok := expr.ToFloat64(c)
			if !ok {
				return nil, expr.NewConversionError(item, elem, fmt.Errorf("%T is not a number", c))
			}
			out = append(out, f)
		}
		return out, nil
	case schema.FieldTypeBoolean:
		out := make([]bool, 0, len(items))
		for _, item := range items {
			c, err := convert(item)
			if err != nil {
				return nil, err
			}
			b, _ := c.(bool)
			out = append(out, b)
		}
		return out, nil
	case schema.FieldTypeUUID:
		out := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			c, err := convert(item)
			if err != nil {
				return nil, err
			}
			u, _ := c.(uuid.UUID)
			out = append(out, u)
		}
		return out, nil
	case schema.FieldTypeTimestamp:
		out := make([]time.Time, 0, len(items))
		for _, item := range items {
			c, err := convert(item)
			if err != nil {
				return nil, err
			}
			ts, _ := c.(time.Time)
			out = append(out, ts)
		}
		return out, nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		c, err := convert(item)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprint(sqlValue(c, enums)))
	}
	return out, nil
}

// arrayOID is the parameter type of a typed array built by typedArray.
func arrayOID(v any) uint32 {
	switch v.(type) {
	case []uuid.UUID:
		return pgtype.UUIDArrayOID
	case []time.Time:
		return pgtype.TimestamptzArrayOID
	}
	return fragments.OIDFor(v)
}

// containmentJSON builds the transform turning a value into the JSON document a
// containment filter on path matches.
func (p *Parser) containmentJSON(path []string, t reflect.Type, wrapInArray bool) fragments.Transform {
	return func(raw any) (any, error) {
		v, err := expr.ConvertTo(raw, t)
		if err != nil {
			return nil, err
		}
		var leaf any = v
		if wrapInArray {
			leaf = []any{v}
		}
		return p.serializer.ToJSON(member.Nest(path, leaf))
	}
}

// locatorFor returns the locator a member is compared through: the typed locator
// for scalars, JSONB for objects and collections.
func locatorFor(m member.Member) string {
	return m.TypedLocator()
}

// nullLocator returns the locator tested by "is null".
func nullLocator(m member.Member) string {
	switch m.(type) {
	case *member.Id, *member.Duplicated, *member.Length, *member.Cased, member.Root:
		return m.TypedLocator()
	}
	return m.RawLocator()
}

const (
	jsonbOID = pgtype.JSONBOID
	boolOID  = pgtype.BoolOID
)

var sqlOperators = map[expr.BinaryOp]string{
	expr.OpEqual:              "=",
	expr.OpNotEqual:           "!=",
	expr.OpLessThan:           "<",
	expr.OpLessThanOrEqual:    "<=",
	expr.OpGreaterThan:        ">",
	expr.OpGreaterThanOrEqual: ">=",
	expr.OpAdd:                "+",
	expr.OpSubtract:           "-",
	expr.OpMultiply:           "*",
	expr.OpDivide:             "/",
	expr.OpModulo:             "%",
}
