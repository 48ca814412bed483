package parsing

import (
	"reflect"
	"strconv"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
)

// Projection is a translated Select body. Its fragment renders the selected value
// as jsonb, which the result selector decodes into Type.
type Projection struct {
	Fragment fragments.Fragment
	Type     reflect.Type
	// Identity marks a projection of the whole document.
	Identity bool
	// Body is the projection expression, kept so later filters over the projected
	// shape can be rewritten onto the document.
	Body expr.Node
}

// Select translates a projection body.
func (p *Parser) Select(scope *member.Scope, body expr.Node) (*Projection, error) {
	if param, ok := body.(*expr.Parameter); ok {
		if root, ok := scope.Lookup(param); ok {
			return &Projection{Fragment: fragments.SQL(root.JSONBLocator()), Type: body.Type(), Identity: true, Body: body}, nil
		}
	}
	f, err := p.projectValue(scope, body)
	if err != nil {
		return nil, err
	}
	return &Projection{Fragment: f, Type: body.Type(), Body: body}, nil
}

func (p *Parser) projectValue(scope *member.Scope, n expr.Node) (fragments.Fragment, error) {
	if obj, ok := n.(*expr.New); ok {
		return p.buildObject(scope, obj)
	}
	if expr.IsConstant(n) {
		return p.projectConstant(n)
	}
	if scope.IsMemberChain(n) {
		m, err := scope.Resolve(n)
		if err != nil {
			return nil, err
		}
		return fragments.SQL(m.JSONBLocator()), nil
	}
	if c, ok := n.(*expr.Call); ok && c.Family == expr.FamilyEnumerable && (c.Method == "Select" || c.Method == "Where") {
		q, err := p.collection(scope, c)
		if err != nil {
			return nil, err
		}
		sel := q.root.JSONBLocator()
		if q.selected != nil {
			inner, err := p.projectValue(q.scope, q.selected)
			if err != nil {
				return nil, err
			}
			rendered := fragments.Render(inner)
			if len(rendered.Params) > 0 {
				return nil, expr.BadExpression(n, "collection projections cannot bind parameters")
			}
			sel = rendered.SQL
		}
		return &fragments.Wrapped{
			Prefix: "coalesce(",
			Inner:  &fragments.SubQuery{Select: "jsonb_agg(" + sel + ")", Source: q.root.Source(), Where: q.where},
			Suffix: ", '[]'::jsonb)",
		}, nil
	}
	o, err := p.Classify(scope, n)
	if err != nil {
		return nil, err
	}
	if o.Kind != OperandComputed {
		return nil, expr.BadExpression(n, "expression cannot be projected")
	}
	return &fragments.Wrapped{Prefix: "to_jsonb(", Inner: o.Fragment, Suffix: ")"}, nil
}

// buildObject renders an object construction as jsonb_build_object(key, value, ...).
func (p *Parser) buildObject(scope *member.Scope, obj *expr.New) (fragments.Fragment, error) {
	switch obj.Kind {
	case expr.CtorAnonymous, expr.CtorParameterless, expr.CtorDesignated:
	default:
		return nil, expr.BadExpression(obj,
			"only anonymous types, parameterless constructors and designated deserialization constructors can be projected, not a %s constructor", obj.Kind)
	}
	parts := make([]fragments.Fragment, 0, len(obj.Bindings)*2)
	for _, b := range obj.Bindings {
		key, err := p.bindingKey(obj, b.Name)
		if err != nil {
			return nil, err
		}
		value, err := p.projectValue(scope, b.Value)
		if err != nil {
			return nil, err
		}
		parts = append(parts, fragments.SQL(member.Literal(key)), value)
	}
	return &fragments.Wrapped{
		Prefix: "jsonb_build_object(",
		Inner:  &fragments.List{Separator: ", ", Parts: parts},
		Suffix: ")",
	}, nil
}

// bindingKey returns the JSON key a binding is serialized under.
func (p *Parser) bindingKey(obj *expr.New, name string) (string, error) {
	casing := p.serializer.Casing()
	t := expr.Deref(obj.Type())
	if obj.Kind == expr.CtorAnonymous || t == nil || t.Kind() != reflect.Struct {
		return schema.ApplyCasing(name, casing), nil
	}
	f, ok := t.FieldByName(name)
	if !ok {
		return "", expr.BadExpression(obj, "%s has no field %s", t, name)
	}
	key := schema.KeyFor(f, casing)
	if key == "" {
		return "", expr.BadExpression(obj, "field %s.%s is not serialized", t, name)
	}
	return key, nil
}

// projectConstant renders literals inline and binds closures as jsonb parameters.
func (p *Parser) projectConstant(n expr.Node) (fragments.Fragment, error) {
	v, err := fragments.FromNode(n, 0)
	if err != nil {
		return nil, err
	}
	if !v.IsConstant() {
		return fragments.Param{
			Value: v.Then(func(raw any) (any, error) { return p.serializer.ToJSON(raw) }).WithOID(jsonbOID),
			Cast:  "jsonb",
		}, nil
	}
	raw, err := v.Current()
	if err != nil {
		return nil, err
	}
	switch x := raw.(type) {
	case nil:
		return fragments.SQL("NULL"), nil
	case bool:
		return fragments.SQL(strconv.FormatBool(x)), nil
	case string:
		return fragments.SQL(member.Literal(x)), nil
	case int, int8, int16, int32, int64:
		return fragments.SQL(strconv.FormatInt(reflect.ValueOf(x).Int(), 10)), nil
	case uint, uint8, uint16, uint32, uint64:
		return fragments.SQL(strconv.FormatUint(reflect.ValueOf(x).Uint(), 10)), nil
	case float32:
		return fragments.SQL(strconv.FormatFloat(float64(x), 'f', -1, 32)), nil
	case float64:
		return fragments.SQL(strconv.FormatFloat(x, 'f', -1, 64)), nil
	}
	js, err := p.serializer.ToJSON(raw)
	if err != nil {
		return nil, err
	}
	return fragments.SQL("CAST(" + member.Literal(js) + " as jsonb)"), nil
}
