package expr

// Walk visits n and its descendants depth-first. Returning false from fn skips the
// children of the node just visited.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Member:
		Walk(n.Target, fn)
	case *Index:
		Walk(n.Target, fn)
		Walk(n.Key, fn)
	case *Call:
		Walk(n.Receiver, fn)
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *Lambda:
		Walk(n.Body, fn)
	case *New:
		for _, b := range n.Bindings {
			Walk(b.Value, fn)
		}
	}
}

// IsConstant reports whether n can be evaluated without binding any parameter.
func IsConstant(n Node) bool {
	constant := true
	Walk(n, func(n Node) bool {
		if _, ok := n.(*Parameter); ok {
			constant = false
		}
		return constant
	})
	return constant
}

// Closures returns the closures referenced anywhere in n, in visiting order.
func Closures(n Node) []*Closure {
	var out []*Closure
	Walk(n, func(n Node) bool {
		if c, ok := n.(*Closure); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Substitute returns a copy of n with every reference to p replaced by with. Member
// accesses on a substituted object construction collapse to the bound value, so
// substituting a projection new{Name = x.Name} into y.Name yields x.Name.
func Substitute(n Node, p *Parameter, with Node) Node {
	return Rewrite(n, func(n Node) (Node, bool) {
		if n == Node(p) {
			return with, true
		}
		return n, false
	})
}

// Rewrite rebuilds n bottom-up. fn is offered each node before its children; when it
// reports true its replacement is used as is.
func Rewrite(n Node, fn func(Node) (Node, bool)) Node {
	if n == nil {
		return nil
	}
	if r, ok := fn(n); ok {
		return r
	}
	switch n := n.(type) {
	case *Member:
		target := Rewrite(n.Target, fn)
		if target == n.Target {
			return n
		}
		if obj, ok := target.(*New); ok {
			if v, ok := obj.Binding(n.Name); ok {
				return v
			}
		}
		m := NewMember(target, n.Name)
		if m.typ == nil {
			m.typ = n.typ
		}
		return m
	case *Index:
		target, key := Rewrite(n.Target, fn), Rewrite(n.Key, fn)
		if target == n.Target && key == n.Key {
			return n
		}
		i := NewIndex(target, key)
		if i.typ == nil {
			i.typ = n.typ
		}
		return i
	case *Call:
		changed := false
		recv := Rewrite(n.Receiver, fn)
		changed = recv != n.Receiver
		args := make([]Node, len(n.Args))
		for i, a := range n.Args {
			args[i] = Rewrite(a, fn)
			changed = changed || args[i] != a
		}
		if !changed {
			return n
		}
		return NewCall(recv, n.Family, n.Method, n.typ, args...)
	case *Binary:
		l, r := Rewrite(n.Left, fn), Rewrite(n.Right, fn)
		if l == n.Left && r == n.Right {
			return n
		}
		return &Binary{Op: n.Op, Left: l, Right: r, typ: n.typ}
	case *Unary:
		op := Rewrite(n.Operand, fn)
		if op == n.Operand {
			return n
		}
		return &Unary{Op: n.Op, Operand: op, typ: n.typ}
	case *Lambda:
		body := Rewrite(n.Body, fn)
		if body == n.Body {
			return n
		}
		return NewLambda(body, n.Params...)
	case *New:
		changed := false
		bindings := make([]Binding, len(n.Bindings))
		for i, b := range n.Bindings {
			bindings[i] = Binding{Name: b.Name, Value: Rewrite(b.Value, fn)}
			changed = changed || bindings[i].Value != b.Value
		}
		if !changed {
			return n
		}
		return &New{Kind: n.Kind, Bindings: bindings, typ: n.typ}
	}
	return n
}
