package parsing

import (
	"fmt"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/fragments"
	"github.com/asaidimu/go-marten/core/member"
	"go.uber.org/zap"
)

// collectionQuery is a child collection flattened into rows, after any Where and
// Select operators applied to it: x.Children.Where(c => c.Number > 1).Select(c => c.Name).
type collectionQuery struct {
	collection *member.Collection
	root       *member.ElementRoot
	scope      *member.Scope
	param      *expr.Parameter
	where      fragments.Fragment
	// selected is the projected element in terms of param, or nil for the element.
	selected expr.Node
}

// current is the expression a following lambda's parameter stands for.
func (q *collectionQuery) current() expr.Node {
	if q.selected != nil {
		return q.selected
	}
	return q.param
}

// filter translates a predicate over the current element.
func (q *collectionQuery) filter(p *Parser, pred *expr.Lambda) (fragments.Fragment, error) {
	body := expr.Substitute(pred.Body, pred.Param(), q.current())
	return p.Where(q.scope, body)
}

// plain reports whether the query is the bare collection.
func (q *collectionQuery) plain() bool {
	return q.where == nil && q.selected == nil
}

// selectedMember resolves the projected element.
func (q *collectionQuery) selectedMember() (member.Member, error) {
	return q.scope.Resolve(q.current())
}

// collection resolves n as a flattened child collection.
func (p *Parser) collection(scope *member.Scope, n expr.Node) (*collectionQuery, error) {
	if c, ok := n.(*expr.Call); ok && c.Family == expr.FamilyEnumerable && (c.Method == "Where" || c.Method == "Select") {
		q, err := p.collection(scope, c.Subject())
		if err != nil {
			return nil, err
		}
		ops := c.Operands()
		if len(ops) != 1 {
			return nil, expr.BadExpression(c, "%s expects a lambda", c.Method)
		}
		l, ok := ops[0].(*expr.Lambda)
		if !ok {
			return nil, expr.BadExpression(c, "%s expects a lambda", c.Method)
		}
		out := *q
		if c.Method == "Where" {
			f, err := q.filter(p, l)
			if err != nil {
				return nil, err
			}
			out.where = fragments.And(q.where, f)
		} else {
			out.selected = expr.Substitute(l.Body, l.Param(), q.current())
		}
		return &out, nil
	}

	m, err := scope.Resolve(n)
	if err != nil {
		return nil, err
	}
	coll, ok := m.(*member.Collection)
	if !ok {
		return nil, &expr.UnsupportedMemberError{Node: n, Reason: fmt.Sprintf("%s is not a collection", m.Path())}
	}
	root := coll.Element()
	param := expr.NewParameter(root.Alias(), coll.ElementType())
	return &collectionQuery{
		collection: coll,
		root:       root,
		scope:      scope.With(param, root),
		param:      param,
	}, nil
}

// any translates Any over a collection query, with an optional predicate.
func (p *Parser) any(scope *member.Scope, call *expr.Call, q *collectionQuery, pred *expr.Lambda) (fragments.Fragment, error) {
	if pred == nil && q.plain() {
		return &fragments.CollectionIsNotEmpty{Locator: q.collection.JSONBLocator()}, nil
	}
	if pred != nil && q.plain() {
		if path, ok := p.anyAsJSONPath(q, pred); ok {
			return path, nil
		}
	}
	where := q.where
	if pred != nil {
		f, err := q.filter(p, pred)
		if err != nil {
			return nil, err
		}
		where = fragments.And(where, f)
	}
	return &fragments.Exists{Source: q.root.Source(), Where: where}, nil
}

// anyAsJSONPath renders Any(pred) over a document-level collection as a JSONPath
// filter when the predicate can be expressed in JSONPath.
func (p *Parser) anyAsJSONPath(q *collectionQuery, pred *expr.Lambda) (fragments.Fragment, bool) {
	if _, docRooted := member.RootOf(q.collection).(*member.DocumentRoot); !docRooted {
		return nil, false
	}
	mapping := member.MappingOf(q.collection)
	if mapping == nil || !mapping.UseContainment() {
		return nil, false
	}
	if p.compiled && len(expr.Closures(pred)) > 0 {
		return nil, false
	}
	keys, ok := member.JSONPath(q.collection)
	if !ok {
		return nil, false
	}
	filter, err := NewJSONPathCreator(p.serializer).Filter(pred)
	if err != nil {
		p.logger.Debug("Falling back to EXISTS for collection predicate",
			zap.String("predicate", expr.Format(pred)), zap.Error(err))
		return nil, false
	}
	path := JSONPathRoot(keys) + "[*] ? (" + filter + ")"
	return &fragments.JSONPathMatch{Locator: member.RootOf(q.collection).JSONBLocator(), Path: fragments.Constant(path, 0)}, true
}

// contains translates Contains(value) over a filtered or projected collection as an
// IN sub-select.
func (p *Parser) contains(q *collectionQuery, value expr.Node) (fragments.Fragment, error) {
	sel, err := q.selectedMember()
	if err != nil {
		return nil, err
	}
	v, err := p.value(sel, value)
	if err != nil {
		return nil, err
	}
	return &fragments.InSubQuery{
		Value: fragments.Param{Value: v},
		Query: &fragments.SubQuery{Select: locatorFor(sel), Source: q.root.Source(), Where: q.where},
	}, nil
}
