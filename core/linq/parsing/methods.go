package parsing

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// MethodParser translates one family of method calls into a filter.
type MethodParser interface {
	// Name identifies the parser in logs.
	Name() string
	Matches(call *expr.Call) bool
	Parse(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error)
}

type methodParser struct {
	name    string
	matches func(*expr.Call) bool
	parse   func(*Parser, *member.Scope, *expr.Call) (fragments.Fragment, error)
}

func (m *methodParser) Name() string                 { return m.name }
func (m *methodParser) Matches(call *expr.Call) bool { return m.matches(call) }
func (m *methodParser) Parse(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	return m.parse(p, scope, call)
}

// NewMethodParser creates a parser from a match predicate and a parse function.
func NewMethodParser(name string, matches func(*expr.Call) bool,
	parse func(*Parser, *member.Scope, *expr.Call) (fragments.Fragment, error)) MethodParser {
	return &methodParser{name: name, matches: matches, parse: parse}
}

func is(family expr.Family, methods ...string) func(*expr.Call) bool {
	return func(c *expr.Call) bool {
		if c.Family != family {
			return false
		}
		for _, m := range methods {
			if c.Method == m {
				return true
			}
		}
		return false
	}
}

func isCall(n expr.Node, family expr.Family, methods ...string) bool {
	c, ok := n.(*expr.Call)
	return ok && is(family, methods...)(c)
}

// DefaultMethods returns the built-in parsers in matching order. The first parser
// whose Matches accepts a call wins, so the Contains variants are ordered from the
// most specific receiver (dictionary keys and values, constant lists, filtered
// sub-collections) to the generic member collection.
func DefaultMethods() []MethodParser {
	return []MethodParser{
		NewMethodParser("string-search", is(expr.FamilyString, "StartsWith", "EndsWith", "Contains"), parseStringSearch),
		NewMethodParser("string-equals", is(expr.FamilyString, "Equals"), parseStringEquals),
		NewMethodParser("string-null-or-empty", is(expr.FamilyString, "IsNullOrEmpty"), parseNullOrEmpty),
		NewMethodParser("dictionary-contains-key", is(expr.FamilyDictionary, "ContainsKey"), parseContainsKey),
		NewMethodParser("dictionary-contains-entry", is(expr.FamilyDictionary, "Contains"), parseContainsEntry),
		NewMethodParser("dictionary-keys-contains", func(c *expr.Call) bool {
			return is(expr.FamilyEnumerable, "Contains")(c) && isCall(c.Subject(), expr.FamilyDictionary, "Keys")
		}, parseKeysContains),
		NewMethodParser("dictionary-values-contains", func(c *expr.Call) bool {
			return is(expr.FamilyEnumerable, "Contains")(c) && isCall(c.Subject(), expr.FamilyDictionary, "Values")
		}, parseValuesContains),
		NewMethodParser("list-contains-member", func(c *expr.Call) bool {
			return is(expr.FamilyEnumerable, "Contains")(c) && expr.IsConstant(c.Subject()) && !expr.IsConstant(c.Operands()[0])
		}, func(p *Parser, scope *member.Scope, c *expr.Call) (fragments.Fragment, error) {
			return p.oneOf(scope, c, c.Operands()[0], c.Subject(), false)
		}),
		NewMethodParser("sub-query-contains", func(c *expr.Call) bool {
			return is(expr.FamilyEnumerable, "Contains")(c) && isCall(c.Subject(), expr.FamilyEnumerable, "Where", "Select")
		}, func(p *Parser, scope *member.Scope, c *expr.Call) (fragments.Fragment, error) {
			q, err := p.collection(scope, c.Subject())
			if err != nil {
				return nil, err
			}
			return p.contains(q, c.Operands()[0])
		}),
		NewMethodParser("collection-contains", is(expr.FamilyEnumerable, "Contains"), parseCollectionContains),
		NewMethodParser("intersect-any", func(c *expr.Call) bool {
			return is(expr.FamilyEnumerable, "Any")(c) && len(c.Operands()) == 0 &&
				isCall(c.Subject(), expr.FamilyEnumerable, "Intersect")
		}, parseIntersect),
		NewMethodParser("any", is(expr.FamilyEnumerable, "Any"), parseAny),
		NewMethodParser("is-one-of", is(expr.FamilyExtensions, "IsOneOf", "IsNotOneOf"),
			func(p *Parser, scope *member.Scope, c *expr.Call) (fragments.Fragment, error) {
				return p.oneOf(scope, c, c.Subject(), c.Operands()[0], c.Method == "IsNotOneOf")
			}),
		NewMethodParser("is-empty", is(expr.FamilyExtensions, "IsEmpty"), parseIsEmpty),
		NewMethodParser("full-text-search", is(expr.FamilyExtensions, "Search", "PlainTextSearch", "PhraseSearch", "WebStyleSearch"), parseFullText),
		NewMethodParser("ngram-search", is(expr.FamilyExtensions, "NgramSearch"), parseNgram),
		NewMethodParser("matches-sql", is(expr.FamilyExtensions, "MatchesSql"), parseMatchesSQL),
		NewMethodParser("matches-json-path", is(expr.FamilyExtensions, "MatchesJsonPath"), parseMatchesJSONPath),
		NewMethodParser("soft-deleted", is(expr.FamilyExtensions, "IsDeleted", "MaybeDeleted", "DeletedSince", "DeletedBefore"), parseSoftDeleted),
		NewMethodParser("tenancy", is(expr.FamilyExtensions, "AnyTenant", "TenantIsOneOf"), parseTenancy),
		NewMethodParser("object-equals", is(expr.FamilyObject, "Equals"),
			func(p *Parser, scope *member.Scope, c *expr.Call) (fragments.Fragment, error) {
				return p.Compare(scope, expr.NewBinary(expr.OpEqual, c.Subject(), c.Operands()[0]))
			}),
	}
}

// Method translates a boolean method call with the first matching parser.
func (p *Parser) Method(scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	for _, m := range p.methods {
		if m.Matches(call) {
			p.logger.Debug("Parsing method call", zap.String("parser", m.Name()), zap.String("call", expr.Format(call)))
			return m.Parse(p, scope, call)
		}
	}
	return nil, &expr.UnsupportedMethodError{Method: call.Method, Node: call}
}

// resolveMember resolves n, which must be a member chain of scope.
func resolveMember(scope *member.Scope, call *expr.Call, n expr.Node) (member.Member, error) {
	if !scope.IsMemberChain(n) {
		return nil, expr.BadExpression(call, "%s must be called on a document member", call.Method)
	}
	return scope.Resolve(n)
}

// requireConstant fails unless n can be evaluated without the document.
func requireConstant(call *expr.Call, n expr.Node) error {
	if !expr.IsConstant(n) {
		return expr.BadExpression(call, "argument %s must be a constant", expr.Format(n))
	}
	return nil
}

func (p *Parser) stringComparison(call *expr.Call) (expr.StringComparison, error) {
	ops := call.Operands()
	if len(ops) < 2 {
		return expr.Ordinal, nil
	}
	v, err := p.inline(call, ops[len(ops)-1])
	if err != nil {
		return expr.Ordinal, err
	}
	cmp, ok := v.(expr.StringComparison)
	if !ok {
		return expr.Ordinal, expr.BadExpression(call, "%v is not a string comparison", v)
	}
	return cmp, nil
}

// textLocator renders a member as text for LIKE matching.
func textLocator(m member.Member) string {
	switch m.(type) {
	case *member.Id, *member.Duplicated:
		if m.FieldType() != schema.FieldTypeString {
			return member.Cast(m.TypedLocator(), "varchar")
		}
	}
	return m.RawLocator()
}

func parseStringSearch(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	m, err := resolveMember(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	arg := call.Operands()[0]
	if err := requireConstant(call, arg); err != nil {
		return nil, err
	}
	cmp, err := p.stringComparison(call)
	if err != nil {
		return nil, err
	}
	method := call.Method
	v, err := fragments.FromNode(arg, pgtype.TextOID)
	if err != nil {
		return nil, err
	}
	v, err = p.check(v.Then(func(raw any) (any, error) {
		if raw == nil {
			return nil, expr.BadExpression(call, "%s does not accept null", method)
		}
		s := fragments.EscapeLike(fmt.Sprint(raw))
		switch method {
		case "StartsWith":
			return s + "%", nil
		case "EndsWith":
			return "%" + s, nil
		}
		return "%" + s + "%", nil
	}))
	if err != nil {
		return nil, err
	}
	return &fragments.Like{Locator: textLocator(m), Pattern: v, CaseInsensitive: cmp.IgnoresCase()}, nil
}

func parseStringEquals(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	cmp, err := p.stringComparison(call)
	if err != nil {
		return nil, err
	}
	subject, arg := call.Subject(), call.Operands()[0]
	if !cmp.IgnoresCase() {
		return p.Compare(scope, expr.NewBinary(expr.OpEqual, subject, arg))
	}
	if expr.IsConstant(subject) {
		subject, arg = arg, subject
	}
	m, err := resolveMember(scope, call, subject)
	if err != nil {
		return nil, err
	}
	if err := requireConstant(call, arg); err != nil {
		return nil, err
	}
	v, err := fragments.FromNode(arg, pgtype.TextOID)
	if err != nil {
		return nil, err
	}
	v, err = p.check(v.Then(func(raw any) (any, error) {
		if raw == nil {
			return nil, expr.BadExpression(call, "Equals does not accept null")
		}
		return fragments.EscapeLike(fmt.Sprint(raw)), nil
	}))
	if err != nil {
		return nil, err
	}
	return &fragments.Like{Locator: textLocator(m), Pattern: v, CaseInsensitive: true}, nil
}

func parseNullOrEmpty(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	m, err := resolveMember(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	loc := m.RawLocator()
	return fragments.Or(&fragments.IsNull{Locator: loc}, fragments.CompareMembers(loc, "=", "''")), nil
}

func dictionaryOf(scope *member.Scope, call *expr.Call, n expr.Node) (*member.Dictionary, error) {
	m, err := resolveMember(scope, call, n)
	if err != nil {
		return nil, err
	}
	d, ok := m.(*member.Dictionary)
	if !ok {
		return nil, expr.BadExpression(call, "%s is not a map", m.Path())
	}
	return d, nil
}

func keyValue(call *expr.Call, n expr.Node) (*fragments.Value, error) {
	if err := requireConstant(call, n); err != nil {
		return nil, err
	}
	v, err := fragments.FromNode(n, pgtype.TextOID)
	if err != nil {
		return nil, err
	}
	return v.Then(func(raw any) (any, error) { return fmt.Sprint(raw), nil }), nil
}

func parseContainsKey(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	d, err := dictionaryOf(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	k, err := keyValue(call, call.Operands()[0])
	if err != nil {
		return nil, err
	}
	return &fragments.KeyExists{Locator: d.JSONBLocator(), Key: k}, nil
}

func parseContainsEntry(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	d, err := dictionaryOf(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	ops := call.Operands()
	k, err := keyValue(call, ops[0])
	if err != nil {
		return nil, err
	}
	if err := requireConstant(call, ops[1]); err != nil {
		return nil, err
	}
	v, err := fragments.FromNode(ops[1], 0)
	if err != nil {
		return nil, err
	}
	vt := d.ValueType()
	entry := fragments.Compose(func(parts []any) (any, error) {
		value, err := expr.ConvertTo(parts[1], vt)
		if err != nil {
			return nil, err
		}
		return p.serializer.ToJSON(map[string]any{parts[0].(string): value})
	}, jsonbOID, k, v)
	entry, err = p.check(entry)
	if err != nil {
		return nil, err
	}
	return &fragments.Containment{Locator: d.JSONBLocator(), Value: entry}, nil
}

func parseKeysContains(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	keys := call.Subject().(*expr.Call)
	d, err := dictionaryOf(scope, call, keys.Subject())
	if err != nil {
		return nil, err
	}
	k, err := keyValue(call, call.Operands()[0])
	if err != nil {
		return nil, err
	}
	return &fragments.KeyExists{Locator: d.JSONBLocator(), Key: k}, nil
}

func parseValuesContains(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	values := call.Subject().(*expr.Call)
	d, err := dictionaryOf(scope, call, values.Subject())
	if err != nil {
		return nil, err
	}
	arg := call.Operands()[0]
	if err := requireConstant(call, arg); err != nil {
		return nil, err
	}
	v, err := fragments.FromNode(arg, pgtype.TextOID)
	if err != nil {
		return nil, err
	}
	enums := p.serializer.EnumStorage()
	v, err = p.check(v.Then(func(raw any) (any, error) { return fmt.Sprint(sqlValue(raw, enums)), nil }))
	if err != nil {
		return nil, err
	}
	return &fragments.ValueInArray{Value: v, ArrayLocator: d.Values().ArrayLocator()}, nil
}

// oneOf translates membership of a scalar member in a constant list.
func (p *Parser) oneOf(scope *member.Scope, call *expr.Call, subject, list expr.Node, negated bool) (fragments.Fragment, error) {
	m, err := resolveMember(scope, call, subject)
	if err != nil {
		return nil, err
	}
	if !m.FieldType().IsScalar() {
		return nil, expr.BadExpression(call, "%s is not a scalar member", m.Path())
	}
	if err := requireConstant(call, list); err != nil {
		return nil, err
	}
	ft, t, enums := m.FieldType(), m.Type(), p.serializer.EnumStorage()
	empty, _ := typedArray(nil, ft, t, enums)
	v, err := fragments.FromNode(list, arrayOID(empty))
	if err != nil {
		return nil, err
	}
	v, err = p.check(v.Then(func(raw any) (any, error) { return typedArray(raw, ft, t, enums) }))
	if err != nil {
		return nil, err
	}
	return &fragments.AnyOf{Locator: locatorFor(m), Values: v, Negated: negated}, nil
}

func parseCollectionContains(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	m, err := resolveMember(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	coll, ok := m.(*member.Collection)
	if !ok {
		return nil, expr.BadExpression(call, "%s is not a collection", m.Path())
	}
	arg := call.Operands()[0]
	if err := requireConstant(call, arg); err != nil {
		return nil, err
	}
	raw, err := fragments.FromNode(arg, 0)
	if err != nil {
		return nil, err
	}
	if p.peekable(raw) {
		current, err := raw.Current()
		if err != nil {
			return nil, err
		}
		if current != nil {
			if path, ok := p.collectionContainmentPath(coll); ok {
				v, err := p.check(raw.Then(p.containmentJSON(path, coll.ElementType(), true)).WithOID(jsonbOID))
				if err != nil {
					return nil, err
				}
				return &fragments.Containment{Locator: member.RootOf(coll).JSONBLocator(), Value: v}, nil
			}
		}
	}
	if !coll.IsScalar() {
		return nil, expr.BadExpression(call, "elements of %s can only be matched by containment", coll.Path())
	}
	et, enums := coll.ElementType(), p.serializer.EnumStorage()
	v, err := p.check(raw.Then(func(r any) (any, error) {
		c, err := expr.ConvertTo(r, et)
		if err != nil {
			return nil, err
		}
		c = sqlValue(c, enums)
		if coll.ArrayPgType() == "varchar[]" && c != nil {
			return fmt.Sprint(c), nil
		}
		return c, nil
	}))
	if err != nil {
		return nil, err
	}
	return &fragments.ValueInArray{Value: v, ArrayLocator: coll.ArrayLocator()}, nil
}

// collectionContainmentPath reports whether Contains on coll can use @>.
func (p *Parser) collectionContainmentPath(coll *member.Collection) ([]string, bool) {
	mapping := member.MappingOf(coll)
	if mapping == nil || !mapping.UseContainment() {
		return nil, false
	}
	if coll.ElementFieldType() == schema.FieldTypeEnum && p.serializer.EnumStorage() == schema.AsString {
		return nil, false
	}
	if coll.ElementFieldType() == schema.FieldTypeTimestamp {
		return nil, false
	}
	path, ok := member.JSONPath(coll)
	return path, ok && len(path) > 0
}

func parseIntersect(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	intersect := call.Subject().(*expr.Call)
	subject, other := intersect.Subject(), intersect.Operands()[0]
	if expr.IsConstant(subject) {
		subject, other = other, subject
	}
	m, err := resolveMember(scope, intersect, subject)
	if err != nil {
		return nil, err
	}
	coll, ok := m.(member.ArrayMember)
	if !ok {
		return nil, expr.BadExpression(intersect, "%s is not a collection", m.Path())
	}
	if err := requireConstant(intersect, other); err != nil {
		return nil, err
	}
	ft, et, enums := coll.ElementFieldType(), coll.ElementType(), p.serializer.EnumStorage()
	if !ft.IsScalar() {
		return nil, expr.BadExpression(intersect, "only collections of scalars can be intersected")
	}
	v, err := fragments.FromNode(other, 0)
	if err != nil {
		return nil, err
	}
	v, err = p.check(v.Then(func(raw any) (any, error) { return typedArray(raw, ft, et, enums) }))
	if err != nil {
		return nil, err
	}
	return &fragments.ArrayOverlap{ArrayLocator: coll.ArrayLocator(), Values: v}, nil
}

func parseAny(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	q, err := p.collection(scope, call.Subject())
	if err != nil {
		return nil, err
	}
	var pred *expr.Lambda
	if ops := call.Operands(); len(ops) > 0 {
		l, ok := ops[0].(*expr.Lambda)
		if !ok {
			return nil, expr.BadExpression(call, "Any expects a predicate")
		}
		pred = l
	}
	return p.any(scope, call, q, pred)
}

func parseIsEmpty(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	m, err := resolveMember(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	if _, ok := m.(*member.Collection); !ok {
		return nil, expr.BadExpression(call, "%s is not a collection", m.Path())
	}
	return &fragments.CollectionIsEmpty{Locator: m.JSONBLocator()}, nil
}

var searchFunctions = map[string]fragments.SearchFunction{
	"Search":          fragments.ToTsQuery,
	"PlainTextSearch": fragments.PlainToTsQuery,
	"PhraseSearch":    fragments.PhraseToTsQuery,
	"WebStyleSearch":  fragments.WebSearchToTsQuery,
}

// searchTerm binds a search term, rejecting null or empty terms.
func (p *Parser) searchTerm(call *expr.Call, n expr.Node) (*fragments.Value, error) {
	if err := requireConstant(call, n); err != nil {
		return nil, err
	}
	v, err := fragments.FromNode(n, pgtype.TextOID)
	if err != nil {
		return nil, err
	}
	return p.check(v.Then(func(raw any) (any, error) {
		s, _ := raw.(string)
		if strings.TrimSpace(s) == "" {
			return nil, expr.BadExpression(call, "search term must not be null or empty")
		}
		return s, nil
	}))
}

func parseFullText(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	subject, err := resolveMember(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	mapping := member.MappingOf(subject)
	ops := call.Operands()
	regConfig := mapping.DefaultRegConfig
	if len(ops) > 1 {
		cfg, err := p.inline(call, ops[1])
		if err != nil {
			return nil, err
		}
		regConfig, _ = cfg.(string)
	}
	if !schema.ValidRegConfig(regConfig) {
		return nil, expr.BadExpression(call, "invalid text search configuration %q", regConfig)
	}
	term, err := p.searchTerm(call, ops[0])
	if err != nil {
		return nil, err
	}

	data := subject.RawLocator()
	if root, ok := subject.(*member.DocumentRoot); ok {
		data = root.JSONBLocator()
		if idx := mapping.FullTextIndexFor(regConfig); len(idx.Paths) > 0 {
			parts := make([]string, len(idx.Paths))
			for i, path := range idx.Paths {
				m, err := root.FieldPath(path)
				if err != nil {
					return nil, err
				}
				parts[i] = "coalesce(" + m.RawLocator() + ", '')"
			}
			data = "(" + strings.Join(parts, " || ' ' || ") + ")"
		}
	}
	return &fragments.FullText{Function: searchFunctions[call.Method], RegConfig: regConfig, Data: data, Term: term}, nil
}

func parseNgram(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	m, err := resolveMember(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	if mapping := member.MappingOf(m); mapping != nil && !mapping.IsNgramIndexed(m.Path()) {
		p.logger.Debug("Ngram search on a member without an ngram index", zap.String("member", m.Path()))
	}
	term, err := p.searchTerm(call, call.Operands()[0])
	if err != nil {
		return nil, err
	}
	return &fragments.Ngram{Locator: m.RawLocator(), Term: term}, nil
}

func parseMatchesSQL(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	ops := call.Operands()
	sql, err := p.inline(call, ops[0])
	if err != nil {
		return nil, err
	}
	text, ok := sql.(string)
	if !ok || text == "" {
		return nil, expr.BadExpression(call, "MatchesSql expects SQL text")
	}
	raw := &fragments.Raw{Text: text}
	for _, a := range ops[1:] {
		if err := requireConstant(call, a); err != nil {
			return nil, err
		}
		v, err := fragments.FromNode(a, 0)
		if err != nil {
			return nil, err
		}
		raw.Params = append(raw.Params, v)
	}
	if n := strings.Count(text, "?"); n != len(raw.Params) {
		return nil, expr.BadExpression(call, "MatchesSql has %d placeholders but %d parameters", n, len(raw.Params))
	}
	return raw, nil
}

func parseMatchesJSONPath(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	subject, err := resolveMember(scope, call, call.Subject())
	if err != nil {
		return nil, err
	}
	arg := call.Operands()[0]
	if l, ok := arg.(*expr.Lambda); ok {
		creator := NewJSONPathCreator(p.serializer)
		if _, err := creator.Path(l); err != nil {
			return nil, err
		}
		path, err := fragments.Deferred(l, pgtype.TextOID, func(n expr.Node) (any, error) {
			return creator.Path(n.(*expr.Lambda))
		})
		if err != nil {
			return nil, err
		}
		return &fragments.JSONPathMatch{Locator: subject.JSONBLocator(), Path: path}, nil
	}
	if err := requireConstant(call, arg); err != nil {
		return nil, err
	}
	if t := expr.Deref(arg.Type()); t == nil || t.Kind() != reflect.String {
		return nil, expr.BadExpression(call, "MatchesJsonPath expects a string or a predicate")
	}
	v, err := fragments.FromNode(arg, pgtype.TextOID)
	if err != nil {
		return nil, err
	}
	return &fragments.JSONPathMatch{Locator: subject.JSONBLocator(), Path: v}, nil
}

func documentMapping(scope *member.Scope) *schema.DocumentMapping {
	return member.MappingOf(scope.Root())
}

func parseSoftDeleted(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	mapping := documentMapping(scope)
	if mapping == nil || !mapping.SoftDeleted {
		return nil, expr.InvalidOperation("document type %s is not configured as soft deleted", docTypeName(mapping))
	}
	switch call.Method {
	case "IsDeleted":
		return fragments.IsDeleted{}, nil
	case "MaybeDeleted":
		return fragments.MaybeDeleted{}, nil
	}
	arg := call.Operands()[0]
	if err := requireConstant(call, arg); err != nil {
		return nil, err
	}
	v, err := fragments.FromNode(arg, pgtype.TimestamptzOID)
	if err != nil {
		return nil, err
	}
	if call.Method == "DeletedSince" {
		return fragments.DeletedSince{Since: v}, nil
	}
	return fragments.DeletedBefore{Before: v}, nil
}

func parseTenancy(p *Parser, scope *member.Scope, call *expr.Call) (fragments.Fragment, error) {
	mapping := documentMapping(scope)
	if mapping == nil || !mapping.MultiTenanted {
		return nil, expr.InvalidOperation("document type %s is not multi-tenanted", docTypeName(mapping))
	}
	if call.Method == "AnyTenant" {
		return fragments.AnyTenant{}, nil
	}
	v, err := fragments.FromNode(call.Operands()[0], pgtype.TextArrayOID)
	if err != nil {
		return nil, err
	}
	return &fragments.Tenant{Tenants: v, Many: true}, nil
}

func docTypeName(m *schema.DocumentMapping) string {
	if m == nil {
		return "<unknown>"
	}
	return m.DocType.String()
}
