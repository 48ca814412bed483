package fragments

import (
	"strings"
)

// Fragment is a piece of SQL that renders itself, with its parameters, into a
// command builder. Fragments capture everything they need at construction.
type Fragment interface {
	Apply(b *CommandBuilder)
}

// Reversible is a fragment that knows its own negation.
type Reversible interface {
	Fragment
	Reverse() Fragment
}

// Parent is a fragment wrapping other fragments.
type Parent interface {
	Children() []Fragment
}

// SQL is literal SQL text, typically a member locator.
type SQL string

func (s SQL) Apply(b *CommandBuilder) { b.Append(string(s)) }

// Param renders a single parameter placeholder.
type Param struct {
	Value *Value
	// Cast, when set, wraps the placeholder: CAST($1 as <Cast>).
	Cast string
}

func (p Param) Apply(b *CommandBuilder) {
	if p.Cast == "" {
		b.AppendParameter(p.Value)
		return
	}
	b.Append("CAST(").AppendParameter(p.Value).Append(" as " + p.Cast + ")")
}

// Wrapped renders Prefix, the inner fragment, then Suffix: lower(...), -(...).
type Wrapped struct {
	Prefix string
	Inner  Fragment
	Suffix string
}

func (w *Wrapped) Apply(b *CommandBuilder) {
	b.Append(w.Prefix)
	w.Inner.Apply(b)
	b.Append(w.Suffix)
}

func (w *Wrapped) Children() []Fragment { return []Fragment{w.Inner} }

// Comparison renders "left op right".
type Comparison struct {
	Left  Fragment
	Op    string
	Right Fragment
}

// Compare creates a comparison fragment.
func Compare(left Fragment, op string, right Fragment) *Comparison {
	return &Comparison{Left: left, Op: op, Right: right}
}

// CompareValue compares a locator with a parameter.
func CompareValue(locator string, op string, v *Value) *Comparison {
	return &Comparison{Left: SQL(locator), Op: op, Right: Param{Value: v}}
}

// CompareMembers compares two locators.
func CompareMembers(left, op, right string) *Comparison {
	return &Comparison{Left: SQL(left), Op: op, Right: SQL(right)}
}

func (c *Comparison) Apply(b *CommandBuilder) {
	c.Left.Apply(b)
	b.Append(" " + c.Op + " ")
	c.Right.Apply(b)
}

var negatedOps = map[string]string{
	"=":  "!=",
	"!=": "=",
	"<":  ">=",
	"<=": ">",
	">":  "<=",
	">=": "<",
}

// Reverse negates the operator. Operators without a negation are wrapped in NOT.
func (c *Comparison) Reverse() Fragment {
	if op, ok := negatedOps[c.Op]; ok {
		return &Comparison{Left: c.Left, Op: op, Right: c.Right}
	}
	return &Not{Inner: c}
}

func (c *Comparison) Children() []Fragment { return []Fragment{c.Left, c.Right} }

// Containment matches documents whose JSONB body contains a JSON value:
// "d.data @> $1".
type Containment struct {
	Locator string
	Value   *Value
}

func (c *Containment) Apply(b *CommandBuilder) {
	b.Append(c.Locator + " @> ").AppendParameter(c.Value)
}

// Compound joins fragments with AND or OR.
type Compound struct {
	Separator string
	Parts     []Fragment
}

// And joins fragments with AND, flattening nested conjunctions.
func And(parts ...Fragment) Fragment { return combine("AND", parts) }

// Or joins fragments with OR, flattening nested disjunctions.
func Or(parts ...Fragment) Fragment { return combine("OR", parts) }

func combine(sep string, parts []Fragment) Fragment {
	var flat []Fragment
	for _, p := range parts {
		if p == nil {
			continue
		}
		if c, ok := p.(*Compound); ok && c.Separator == sep {
			flat = append(flat, c.Parts...)
			continue
		}
		flat = append(flat, p)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return &Compound{Separator: sep, Parts: flat}
}

func (c *Compound) Apply(b *CommandBuilder) {
	b.Append("(")
	for i, p := range c.Parts {
		if i > 0 {
			b.Append(" " + c.Separator + " ")
		}
		p.Apply(b)
	}
	b.Append(")")
}

func (c *Compound) Children() []Fragment { return c.Parts }

// List renders fragments joined by a separator, without parentheses.
type List struct {
	Separator string
	Parts     []Fragment
}

func (l *List) Apply(b *CommandBuilder) {
	for i, p := range l.Parts {
		if i > 0 {
			b.Append(l.Separator)
		}
		p.Apply(b)
	}
}

func (l *List) Children() []Fragment { return l.Parts }

// Not negates an arbitrary fragment.
type Not struct {
	Inner Fragment
}

// Negate returns the reverse of a reversible fragment, or wraps it in NOT.
func Negate(f Fragment) Fragment {
	switch f := f.(type) {
	case *Not:
		return f.Inner
	case Reversible:
		return f.Reverse()
	}
	return &Not{Inner: f}
}

func (n *Not) Apply(b *CommandBuilder) {
	b.Append("NOT(")
	n.Inner.Apply(b)
	b.Append(")")
}

func (n *Not) Children() []Fragment { return []Fragment{n.Inner} }

// IsNull renders "locator is null".
type IsNull struct{ Locator string }

func (f *IsNull) Apply(b *CommandBuilder) { b.Append(f.Locator + " is null") }
func (f *IsNull) Reverse() Fragment       { return &IsNotNull{Locator: f.Locator} }

// IsNotNull renders "locator is not null".
type IsNotNull struct{ Locator string }

func (f *IsNotNull) Apply(b *CommandBuilder) { b.Append(f.Locator + " is not null") }
func (f *IsNotNull) Reverse() Fragment       { return &IsNull{Locator: f.Locator} }

// BooleanIsTrue tests a boolean member used without an explicit comparison.
type BooleanIsTrue struct{ Locator string }

func (f *BooleanIsTrue) Apply(b *CommandBuilder) { b.Append(f.Locator + " = TRUE") }
func (f *BooleanIsTrue) Reverse() Fragment       { return &BooleanIsFalse{Locator: f.Locator} }

// BooleanIsFalse is the negation of BooleanIsTrue; a missing value counts as false.
type BooleanIsFalse struct{ Locator string }

func (f *BooleanIsFalse) Apply(b *CommandBuilder) {
	b.Append("(" + f.Locator + " is null or " + f.Locator + " = FALSE)")
}
func (f *BooleanIsFalse) Reverse() Fragment { return &BooleanIsTrue{Locator: f.Locator} }

// Literal is a constant TRUE or FALSE filter. It is rendered as written, never
// folded away.
type Literal bool

// True and False are the literal filters.
const (
	True  Literal = true
	False Literal = false
)

func (l Literal) Apply(b *CommandBuilder) {
	if l {
		b.Append("TRUE")
		return
	}
	b.Append("FALSE")
}

func (l Literal) Reverse() Fragment { return !l }

// AnyOf tests a locator against an array parameter: "locator = ANY($1)".
type AnyOf struct {
	Locator string
	Values  *Value
	Negated bool
}

func (f *AnyOf) Apply(b *CommandBuilder) {
	if f.Negated {
		b.Append("NOT(")
	}
	b.Append(f.Locator + " = ANY(").AppendParameter(f.Values).Append(")")
	if f.Negated {
		b.Append(")")
	}
}

func (f *AnyOf) Reverse() Fragment {
	return &AnyOf{Locator: f.Locator, Values: f.Values, Negated: !f.Negated}
}

// ValueInArray tests a parameter against an array locator: "$1 = ANY(locator)".
type ValueInArray struct {
	Value        *Value
	ArrayLocator string
}

func (f *ValueInArray) Apply(b *CommandBuilder) {
	b.AppendParameter(f.Value).Append(" = ANY(" + f.ArrayLocator + ")")
}

// Like matches a text locator against a pattern parameter.
type Like struct {
	Locator         string
	Pattern         *Value
	CaseInsensitive bool
}

func (f *Like) Apply(b *CommandBuilder) {
	op := " LIKE "
	if f.CaseInsensitive {
		op = " ILIKE "
	}
	b.Append(f.Locator + op).AppendParameter(f.Pattern)
}

// EscapeLike escapes the LIKE wildcards in s.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Raw is caller-supplied SQL with "?" placeholders bound in order.
type Raw struct {
	Text   string
	Params []*Value
}

func (f *Raw) Apply(b *CommandBuilder) {
	i := 0
	for _, r := range f.Text {
		if r == '?' && i < len(f.Params) {
			b.AppendParameter(f.Params[i])
			i++
			continue
		}
		b.Append(string(r))
	}
}

// Exists filters on the existence of a matching element in a flattened collection:
// "EXISTS (SELECT 1 FROM source WHERE where)".
type Exists struct {
	Source string
	Where  Fragment
}

func (f *Exists) Apply(b *CommandBuilder) {
	b.Append("EXISTS (SELECT 1 FROM " + f.Source)
	if f.Where != nil {
		b.Append(" WHERE ")
		f.Where.Apply(b)
	}
	b.Append(")")
}

func (f *Exists) Children() []Fragment {
	if f.Where == nil {
		return nil
	}
	return []Fragment{f.Where}
}

// CollectionIsNotEmpty tests that a JSONB array holds at least one element.
type CollectionIsNotEmpty struct{ Locator string }

func (f *CollectionIsNotEmpty) Apply(b *CommandBuilder) {
	b.Append("(" + f.Locator + " is not null and jsonb_array_length(" + f.Locator + ") > 0)")
}

func (f *CollectionIsNotEmpty) Reverse() Fragment { return &CollectionIsEmpty{Locator: f.Locator} }

// CollectionIsEmpty tests that a JSONB array is missing or empty.
type CollectionIsEmpty struct{ Locator string }

func (f *CollectionIsEmpty) Apply(b *CommandBuilder) {
	b.Append("(" + f.Locator + " is null or jsonb_array_length(" + f.Locator + ") = 0)")
}

func (f *CollectionIsEmpty) Reverse() Fragment { return &CollectionIsNotEmpty{Locator: f.Locator} }

// SubQuery renders a scalar sub-select over a flattened collection, for example a
// filtered count: "(SELECT count(*) FROM source WHERE where)".
type SubQuery struct {
	Select string
	Source string
	Where  Fragment
}

func (f *SubQuery) Apply(b *CommandBuilder) {
	b.Append("(SELECT " + f.Select + " FROM " + f.Source)
	if f.Where != nil {
		b.Append(" WHERE ")
		f.Where.Apply(b)
	}
	b.Append(")")
}

func (f *SubQuery) Children() []Fragment {
	if f.Where == nil {
		return nil
	}
	return []Fragment{f.Where}
}

// InSubQuery tests a value against the rows of a sub-select:
// "$1 IN (SELECT c1.data FROM ...)".
type InSubQuery struct {
	Value Fragment
	Query *SubQuery
}

func (f *InSubQuery) Apply(b *CommandBuilder) {
	f.Value.Apply(b)
	b.Append(" IN ")
	f.Query.Apply(b)
}

func (f *InSubQuery) Children() []Fragment { return []Fragment{f.Value, f.Query} }

// ArrayOverlap tests whether an array locator shares an element with an array
// parameter: "locator && $1".
type ArrayOverlap struct {
	ArrayLocator string
	Values       *Value
}

func (f *ArrayOverlap) Apply(b *CommandBuilder) {
	b.Append(f.ArrayLocator + " && ").AppendParameter(f.Values)
}

// KeyExists tests for a top-level key of a JSONB object: "locator ? $1".
type KeyExists struct {
	Locator string
	Key     *Value
}

func (f *KeyExists) Apply(b *CommandBuilder) {
	b.Append(f.Locator + " ? ").AppendParameter(f.Key)
}

// JSONPathMatch applies a JSONPath predicate: "locator @? CAST($1 as jsonpath)".
type JSONPathMatch struct {
	Locator string
	Path    *Value
}

func (f *JSONPathMatch) Apply(b *CommandBuilder) {
	b.Append(f.Locator + " @? CAST(").AppendParameter(f.Path).Append(" as jsonpath)")
}

// SearchFunction is the tsquery constructor a full text search uses.
type SearchFunction string

const (
	ToTsQuery          SearchFunction = "to_tsquery"
	PlainToTsQuery     SearchFunction = "plainto_tsquery"
	PhraseToTsQuery    SearchFunction = "phraseto_tsquery"
	WebSearchToTsQuery SearchFunction = "websearch_to_tsquery"
)

// FullText matches a text search vector against a query:
// "to_tsvector('english'::regconfig, data) @@ plainto_tsquery('english'::regconfig, $1)".
type FullText struct {
	Function  SearchFunction
	RegConfig string
	// Data is the SQL the vector is built from.
	Data string
	Term *Value
}

func (f *FullText) Apply(b *CommandBuilder) {
	cfg := "'" + f.RegConfig + "'::regconfig"
	b.Append("to_tsvector(" + cfg + ", " + f.Data + ") @@ " + string(f.Function) + "(" + cfg + ", ")
	b.AppendParameter(f.Term).Append(")")
}

// Ngram matches an ngram-indexed member against a search term.
type Ngram struct {
	Locator string
	Term    *Value
}

func (f *Ngram) Apply(b *CommandBuilder) {
	b.Append("mt_grams_vector(" + f.Locator + ") @@ mt_grams_query(").AppendParameter(f.Term).Append(")")
}

// TenantColumn is the column multi-tenanted documents store their tenant in.
const TenantColumn = "d.tenant_id"

// TenantFilter is any fragment that addresses tenancy explicitly. Its presence
// suppresses the session's default tenant filter.
type TenantFilter interface {
	Fragment
	tenantFilter()
}

// Tenant restricts a query to one or more tenants.
type Tenant struct {
	Tenants *Value
	// Many compares against an array of tenant ids.
	Many bool
}

func (f *Tenant) Apply(b *CommandBuilder) {
	if f.Many {
		b.Append(TenantColumn + " = ANY(").AppendParameter(f.Tenants).Append(")")
		return
	}
	b.Append(TenantColumn + " = ").AppendParameter(f.Tenants)
}

func (f *Tenant) tenantFilter() {}

// AnyTenant lifts the default tenant restriction. It renders as TRUE.
type AnyTenant struct{}

func (AnyTenant) Apply(b *CommandBuilder) { b.Append("TRUE") }
func (AnyTenant) tenantFilter()           {}

// Soft delete columns.
const (
	DeletedColumn   = "d.mt_deleted"
	DeletedAtColumn = "d.mt_deleted_at"
)

// DeletedFilter is any fragment that addresses soft-deleted state explicitly. Its
// presence suppresses the default "not deleted" filter.
type DeletedFilter interface {
	Fragment
	deletedFilter()
}

// NotDeleted is the default filter of soft-deleted document types.
type NotDeleted struct{}

func (NotDeleted) Apply(b *CommandBuilder) { b.Append(DeletedColumn + " = FALSE") }
func (NotDeleted) Reverse() Fragment       { return IsDeleted{} }
func (NotDeleted) deletedFilter()          {}

// IsDeleted matches only deleted documents.
type IsDeleted struct{}

func (IsDeleted) Apply(b *CommandBuilder) { b.Append(DeletedColumn + " = TRUE") }
func (IsDeleted) Reverse() Fragment       { return NotDeleted{} }
func (IsDeleted) deletedFilter()          {}

// MaybeDeleted matches documents in either state. It renders as TRUE.
type MaybeDeleted struct{}

func (MaybeDeleted) Apply(b *CommandBuilder) { b.Append("TRUE") }
func (MaybeDeleted) deletedFilter()          {}

// DeletedSince matches documents deleted after a timestamp.
type DeletedSince struct{ Since *Value }

func (f DeletedSince) Apply(b *CommandBuilder) {
	b.Append("(" + DeletedColumn + " = TRUE and " + DeletedAtColumn + " >= ").AppendParameter(f.Since).Append(")")
}
func (DeletedSince) deletedFilter() {}

// DeletedBefore matches documents deleted before a timestamp.
type DeletedBefore struct{ Before *Value }

func (f DeletedBefore) Apply(b *CommandBuilder) {
	b.Append("(" + DeletedColumn + " = TRUE and " + DeletedAtColumn + " < ").AppendParameter(f.Before).Append(")")
}
func (DeletedBefore) deletedFilter() {}

// Walk visits f and every fragment nested in it.
func Walk(f Fragment, fn func(Fragment)) {
	if f == nil {
		return
	}
	fn(f)
	if p, ok := f.(Parent); ok {
		for _, c := range p.Children() {
			Walk(c, fn)
		}
	}
}

// Has reports whether any fragment in f satisfies pred.
func Has(f Fragment, pred func(Fragment) bool) bool {
	found := false
	Walk(f, func(f Fragment) {
		if !found && pred(f) {
			found = true
		}
	})
	return found
}

// Render renders a fragment on its own, for logging and tests.
func Render(f Fragment) Statement {
	b := NewCommandBuilder()
	f.Apply(b)
	return b.Statement()
}
