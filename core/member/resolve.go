package member

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/schema"
)

// Scope binds lambda parameters to the roots they stand for. Scopes nest: a
// sub-query over child elements sees its own parameter and every outer one.
type Scope struct {
	param  *expr.Parameter
	root   Member
	parent *Scope
}

// NewScope binds p to root.
func NewScope(p *expr.Parameter, root Member) *Scope {
	return &Scope{param: p, root: root}
}

// With returns a child scope that additionally binds p to root.
func (s *Scope) With(p *expr.Parameter, root Member) *Scope {
	return &Scope{param: p, root: root, parent: s}
}

// Lookup returns the member bound to p.
func (s *Scope) Lookup(p *expr.Parameter) (Member, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.param == p {
			return cur.root, true
		}
	}
	return nil, false
}

// Root returns the innermost bound root.
func (s *Scope) Root() Member { return s.root }

// IsMemberChain reports whether n is a chain of accesses ending at a parameter of
// this scope, without evaluating it.
func (s *Scope) IsMemberChain(n expr.Node) bool {
	switch n := n.(type) {
	case *expr.Parameter:
		_, ok := s.Lookup(n)
		return ok
	case *expr.Member:
		return s.IsMemberChain(n.Target)
	case *expr.Index:
		return s.IsMemberChain(n.Target) && expr.IsConstant(n.Key)
	case *expr.Unary:
		if n.Op == expr.OpArrayLength || n.Op == expr.OpConvert {
			return s.IsMemberChain(n.Operand)
		}
	case *expr.Call:
		if isMemberMethod(n) {
			return s.IsMemberChain(n.Subject())
		}
	}
	return false
}

func isMemberMethod(c *expr.Call) bool {
	switch c.Family {
	case expr.FamilyString:
		return (c.Method == "ToLower" || c.Method == "ToUpper") && c.Receiver != nil
	case expr.FamilyEnumerable:
		return c.Method == "Count" && len(c.Operands()) == 0
	case expr.FamilyDictionary:
		return c.Method == "Keys" || c.Method == "Values"
	}
	return false
}

// Resolve maps a member-access chain to its queryable member. Any chain that cannot
// be resolved fails with *expr.UnsupportedMemberError naming the expression.
func (s *Scope) Resolve(n expr.Node) (Member, error) {
	m, err := s.resolve(n)
	if err != nil {
		var unsupported *expr.UnsupportedMemberError
		if errors.As(err, &unsupported) {
			return nil, err
		}
		return nil, &expr.UnsupportedMemberError{Node: n, Reason: err.Error()}
	}
	return m, nil
}

func (s *Scope) resolve(n expr.Node) (Member, error) {
	switch n := n.(type) {
	case *expr.Parameter:
		if m, ok := s.Lookup(n); ok {
			return m, nil
		}
		return nil, fmt.Errorf("parameter %s is not in scope", n.Name)

	case *expr.Member:
		parent, err := s.resolve(n.Target)
		if err != nil {
			return nil, err
		}
		c, ok := parent.(Container)
		if !ok {
			return nil, fmt.Errorf("%s has no members", parent.Path())
		}
		return c.Child(n.Name)

	case *expr.Index:
		parent, err := s.resolve(n.Target)
		if err != nil {
			return nil, err
		}
		key, err := expr.Eval(n.Key)
		if err != nil {
			return nil, fmt.Errorf("index must be constant: %w", err)
		}
		switch p := parent.(type) {
		case *Collection:
			i, ok := expr.ToFloat64(key)
			if !ok {
				return nil, fmt.Errorf("array index %v is not a number", key)
			}
			return p.Index(int(i)), nil
		case *Dictionary:
			return p.Entry(fmt.Sprint(key)), nil
		}
		return nil, fmt.Errorf("%s cannot be indexed", parent.Path())

	case *expr.Unary:
		switch n.Op {
		case expr.OpArrayLength:
			of, err := s.resolve(n.Operand)
			if err != nil {
				return nil, err
			}
			return &Length{of: of}, nil
		case expr.OpConvert:
			return s.resolve(n.Operand)
		}

	case *expr.Call:
		if !isMemberMethod(n) {
			break
		}
		of, err := s.resolve(n.Subject())
		if err != nil {
			return nil, err
		}
		switch n.Method {
		case "ToLower":
			return &Cased{of: of}, nil
		case "ToUpper":
			return &Cased{of: of, upper: true}, nil
		case "Count":
			return &Length{of: of}, nil
		case "Keys", "Values":
			d, ok := of.(*Dictionary)
			if !ok {
				return nil, fmt.Errorf("%s is not a map", of.Path())
			}
			if n.Method == "Keys" {
				return d.Keys(), nil
			}
			return d.Values(), nil
		}
	}
	return nil, &expr.UnsupportedMemberError{Node: n}
}

// Catalog hands out the member tree of each document type. Trees are built on first
// use and then shared by every translation.
type Catalog struct {
	registry *schema.Registry
	mu       sync.RWMutex
	roots    map[reflect.Type]*DocumentRoot
}

// NewCatalog creates a catalog over a mapping registry.
func NewCatalog(registry *schema.Registry) *Catalog {
	return &Catalog{registry: registry, roots: make(map[reflect.Type]*DocumentRoot)}
}

// Registry returns the mapping registry.
func (c *Catalog) Registry() *schema.Registry { return c.registry }

// RootFor returns the member tree of document type t.
func (c *Catalog) RootFor(t reflect.Type) (*DocumentRoot, error) {
	t = expr.Deref(t)
	c.mu.RLock()
	root, ok := c.roots[t]
	c.mu.RUnlock()
	if ok {
		return root, nil
	}
	mapping, err := c.registry.MappingFor(t)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if root, ok := c.roots[t]; ok {
		return root, nil
	}
	root = NewDocumentRoot(mapping)
	c.roots[t] = root
	return root, nil
}

// FieldFor resolves a member chain rooted at the lambda parameter p over document
// type t.
func (c *Catalog) FieldFor(t reflect.Type, p *expr.Parameter, n expr.Node) (Member, error) {
	root, err := c.RootFor(t)
	if err != nil {
		return nil, err
	}
	return NewScope(p, root).Resolve(n)
}
