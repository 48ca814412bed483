package statements

import (
	"fmt"
	"go/token"
	"reflect"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/linq/parsing"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
)

// Ordering configures one sort key.
type Ordering struct {
	Descending bool
	// IgnoreCase sorts text through lower().
	IgnoreCase bool
	// Then appends to the current sort keys instead of replacing them.
	Then bool
}

// Aggregate is a SQL aggregate function applied by a terminal operator.
type Aggregate string

const (
	Min     Aggregate = "min"
	Max     Aggregate = "max"
	Sum     Aggregate = "sum"
	Average Aggregate = "avg"
)

// Option configures a Builder.
type Option func(*Builder)

// WithTenant scopes multi-tenanted document tables to the tenant bound by v.
func WithTenant(v *fragments.Value) Option {
	return func(b *Builder) { b.tenant = v }
}

type include struct {
	locator  string
	mapping  *schema.DocumentMapping
	identity bool
}

// Builder applies query operators one at a time, in call order, to a statement
// chain over one document type. A builder is used for a single translation.
type Builder struct {
	parser  *parsing.Parser
	mapping *schema.DocumentMapping
	tenant  *fragments.Value

	root  member.Root
	param *expr.Parameter
	scope *member.Scope
	// current is what the next lambda's parameter stands for, expressed over param:
	// param itself, or the body of the pending projection.
	current    expr.Node
	projection *parsing.Projection

	stmt     *Statement
	stages   int
	includes []include
}

// NewBuilder starts a query over the table of docType.
func NewBuilder(parser *parsing.Parser, docType reflect.Type, opts ...Option) (*Builder, error) {
	root, err := parser.Catalog().RootFor(docType)
	if err != nil {
		return nil, err
	}
	b := &Builder{parser: parser, mapping: root.Mapping()}
	for _, opt := range opts {
		opt(b)
	}
	b.bind(root)
	b.stmt = &Statement{From: b.mapping.TableName(), Mapping: b.mapping, Tenant: b.tenant}
	return b, nil
}

func (b *Builder) bind(root member.Root) {
	b.root = root
	b.param = expr.NewParameter(member.DocumentAlias, root.Type())
	b.scope = member.NewScope(b.param, root)
	b.current = b.param
	b.projection = nil
}

// Mapping returns the mapping of the queried document type.
func (b *Builder) Mapping() *schema.DocumentMapping { return b.mapping }

// Statement returns the current stage.
func (b *Builder) Statement() *Statement { return b.stmt }

// ElementType returns the Go type of the values the query currently yields.
func (b *Builder) ElementType() reflect.Type { return b.current.Type() }

// IsDocument reports whether the query still yields whole documents.
func (b *Builder) IsDocument() bool {
	_, ok := b.root.(*member.DocumentRoot)
	return ok && (b.projection == nil || b.projection.Identity)
}

func (b *Builder) body(l *expr.Lambda) (expr.Node, error) {
	if l == nil || l.Param() == nil {
		return nil, fmt.Errorf("operator needs a single-parameter lambda")
	}
	return expr.Substitute(l.Body, l.Param(), b.current), nil
}

// selection is what the current stage yields as a jsonb value.
func (b *Builder) selection() fragments.Fragment {
	if b.projection != nil {
		return b.projection.Fragment
	}
	return fragments.SQL(b.root.JSONBLocator())
}

// push closes the current stage into a CTE and starts a new stage reading it.
// Whole documents keep their columns, so the new stage filters them exactly as
// the table. Anything else is selected into a jsonb data column.
func (b *Builder) push() {
	if b.IsDocument() {
		b.pushAs(fragments.SQL("d.*"), nil)
		return
	}
	b.pushAs(&fragments.Wrapped{Inner: b.selection(), Suffix: " as data"}, rowType(b.current))
}

// rowType is the Go type the rows of a closed stage are read back as. An anonymous
// projection has no declared type, so its shape becomes a struct with one field
// per binding, keyed the way the projection serialized it.
func rowType(n expr.Node) reflect.Type {
	obj, ok := n.(*expr.New)
	if !ok || obj.Kind != expr.CtorAnonymous {
		return n.Type()
	}
	fields := make([]reflect.StructField, 0, len(obj.Bindings))
	seen := make(map[string]bool, len(obj.Bindings))
	for _, bnd := range obj.Bindings {
		if !token.IsIdentifier(bnd.Name) || !token.IsExported(bnd.Name) || seen[bnd.Name] {
			return n.Type()
		}
		seen[bnd.Name] = true
		t := rowType(bnd.Value)
		if t == nil {
			t = anyType
		}
		fields = append(fields, reflect.StructField{Name: bnd.Name, Type: t})
	}
	return reflect.StructOf(fields)
}

var anyType = reflect.TypeFor[any]()

// pushAs closes the current stage selecting sel. A non-nil rows type rebinds the
// next stage to jsonb rows of that type.
func (b *Builder) pushAs(sel fragments.Fragment, rows reflect.Type) {
	prev := b.stmt
	b.stages++
	prev.Name = CTEName(b.stages)
	prev.Select = sel
	next := &Statement{From: prev.Name, Previous: prev}
	if rows == nil {
		next.Orderings = append(next.Orderings, prev.Orderings...)
	} else {
		b.bind(member.NewRowRoot(b.mapping, rows, member.DocumentAlias))
	}
	b.stmt = next
}

func (b *Builder) paged() bool {
	return b.stmt.Limit != nil || b.stmt.Offset != nil
}

// Where adds a filter. Filters after Take, Skip or Distinct apply to their result,
// so they start a new stage.
func (b *Builder) Where(l *expr.Lambda) error {
	if b.paged() || b.stmt.Distinct {
		b.push()
	}
	body, err := b.body(l)
	if err != nil {
		return err
	}
	f, err := b.parser.Where(b.scope, body)
	if err != nil {
		return err
	}
	b.stmt.Where = append(b.stmt.Where, f)
	return nil
}

// Select projects the current values. Projections compose: the new body is
// expressed over the previous one.
func (b *Builder) Select(l *expr.Lambda) error {
	if b.stmt.Distinct {
		b.push()
	}
	body, err := b.body(l)
	if err != nil {
		return err
	}
	proj, err := b.parser.Select(b.scope, body)
	if err != nil {
		return err
	}
	b.projection = proj
	b.current = body
	return nil
}

// SelectMany flattens a collection member into one row per element.
func (b *Builder) SelectMany(l *expr.Lambda) error {
	if b.paged() || b.stmt.Distinct {
		b.push()
	}
	body, err := b.body(l)
	if err != nil {
		return err
	}
	m, err := b.scope.Resolve(body)
	if err != nil {
		return err
	}
	coll, ok := m.(*member.Collection)
	if !ok {
		return expr.BadExpression(body, "SelectMany needs a collection member, got %s", m.Path())
	}
	sel := fragments.SQL("jsonb_array_elements(" + coll.JSONBLocator() + ") as data")
	b.pushAs(sel, coll.ElementType())
	return nil
}

// OrderBy sets or extends the sort keys.
func (b *Builder) OrderBy(l *expr.Lambda, o Ordering) error {
	if b.paged() {
		b.push()
	}
	body, err := b.body(l)
	if err != nil {
		return err
	}
	f, _, err := b.parser.Expression(b.scope, body, o.IgnoreCase)
	if err != nil {
		return err
	}
	if o.Descending {
		f = &fragments.Wrapped{Inner: f, Suffix: " desc"}
	}
	if !o.Then {
		b.stmt.Orderings = nil
	}
	b.stmt.Orderings = append(b.stmt.Orderings, f)
	return nil
}

// Take limits the rows. Repeated calls keep the smaller count.
func (b *Builder) Take(n *fragments.Value) {
	b.stmt.Limit = minOf(b.stmt.Limit, n)
}

// Skip offsets the rows. Skipping inside an earlier Take shrinks that limit.
func (b *Builder) Skip(n *fragments.Value) {
	if b.stmt.Limit != nil {
		b.stmt.Limit = shrink(b.stmt.Limit, n)
	}
	b.stmt.Offset = sumOf(b.stmt.Offset, n)
}

// Distinct removes duplicate values.
func (b *Builder) Distinct() {
	if b.paged() {
		b.push()
	}
	b.stmt.Distinct = true
}

// Stats adds the total row count to every row.
func (b *Builder) Stats() {
	b.stmt.Stats = true
}

// Include fetches the documents of type docType whose id is held by the member of
// l, in the same round trip as the query. With identity the included rows carry
// their id as text ahead of the data.
func (b *Builder) Include(l *expr.Lambda, docType reflect.Type, identity bool) error {
	if !b.IsDocument() {
		return expr.InvalidOperation("Include must be applied before the documents are projected")
	}
	body, err := b.body(l)
	if err != nil {
		return err
	}
	m, err := b.scope.Resolve(body)
	if err != nil {
		return err
	}
	mapping, err := b.parser.Catalog().Registry().MappingFor(docType)
	if err != nil {
		return err
	}
	idField, _ := mapping.DocType.FieldByName(mapping.IdMember)
	enums := b.parser.Serializer().EnumStorage()
	pg := member.PgType(idField.Type, schema.FieldTypeOf(idField.Type), enums)

	var locator string
	switch m := m.(type) {
	case *member.Collection:
		locator = member.Cast("jsonb_array_elements_text("+m.JSONBLocator()+")", pg)
	case *member.Id, *member.Duplicated:
		locator = m.TypedLocator()
	default:
		locator = member.Cast(m.RawLocator(), pg)
	}
	b.includes = append(b.includes, include{locator: locator, mapping: mapping, identity: identity})
	return nil
}

// List finishes the query as a list of the current values.
func (b *Builder) List() *Statement {
	b.stmt.Select = b.selection()
	return b.stmt
}

// One finishes the query as a single value, reading at most limit rows: 1 for
// First, 2 for Single so a second row can be detected.
func (b *Builder) One(limit int) *Statement {
	b.Take(Int(int64(limit)))
	return b.List()
}

// Count finishes the query as a row count. Counting distinct or paged rows counts
// the result of the previous stage.
func (b *Builder) Count() *Statement {
	if b.paged() || b.stmt.Distinct {
		b.push()
	}
	b.stmt.Select = fragments.SQL("count(*) as number")
	b.stmt.Orderings = nil
	b.stmt.Stats = false
	return b.stmt
}

// Any finishes the query as an existence test.
func (b *Builder) Any() *Statement {
	b.stmt.Select = fragments.SQL("TRUE as result")
	b.stmt.Stats = false
	b.Take(Int(1))
	return b.stmt
}

// Aggregate finishes the query with an aggregate over l, or over the current
// values when l is nil. The result is a single jsonb value.
func (b *Builder) Aggregate(fn Aggregate, l *expr.Lambda) (*Statement, error) {
	if b.paged() || b.stmt.Distinct {
		b.push()
	}
	body := b.current
	if l != nil {
		var err error
		if body, err = b.body(l); err != nil {
			return nil, err
		}
	}
	f, _, err := b.parser.Expression(b.scope, body, false)
	if err != nil {
		return nil, err
	}
	prefix, suffix := "to_jsonb("+string(fn)+"(", ")) as data"
	if fn == Sum {
		prefix, suffix = "to_jsonb(coalesce(sum(", "), 0)) as data"
	}
	b.stmt.Select = &fragments.Wrapped{Prefix: prefix, Inner: f, Suffix: suffix}
	b.stmt.Orderings = nil
	b.stmt.Stats = false
	return b.stmt, nil
}

// Includes builds one statement per Include, each reading the final query as a
// CTE. Call it after the terminal operator.
func (b *Builder) Includes() ([]*Statement, error) {
	if len(b.includes) == 0 {
		return nil, nil
	}
	if !b.IsDocument() {
		return nil, expr.InvalidOperation("Include needs a query returning whole documents")
	}
	out := make([]*Statement, 0, len(b.includes))
	for i, inc := range b.includes {
		source := b.stmt.clone()
		source.Name = CTEName(b.stages + i + 1)
		source.Select = fragments.SQL("d.*")
		source.Stats = false

		sel := fragments.SQL("d.data")
		if inc.identity {
			sel = fragments.SQL("CAST(d.id as varchar) as id, d.data")
		}
		out = append(out, &Statement{
			From:   inc.mapping.TableName(),
			Select: sel,
			Where: []fragments.Fragment{&fragments.InSubQuery{
				Value: fragments.SQL("d.id"),
				Query: &fragments.SubQuery{Select: inc.locator, Source: source.Name + " as d"},
			}},
			Previous: source,
			Mapping:  inc.mapping,
			Tenant:   b.tenant,
		})
	}
	return out, nil
}
