package expr

import (
	"fmt"
	"strings"
)

// Format renders a node as readable source-like text for error messages and logs.
func Format(n Node) string {
	var sb strings.Builder
	writeNode(&sb, n)
	return sb.String()
}

func writeNode(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *Parameter:
		sb.WriteString(n.Name)
	case *Constant:
		writeValue(sb, n.Value)
	case *Closure:
		sb.WriteString(n.Name)
	case *Member:
		writeNode(sb, n.Target)
		sb.WriteByte('.')
		sb.WriteString(n.Name)
	case *Index:
		writeNode(sb, n.Target)
		sb.WriteByte('[')
		writeNode(sb, n.Key)
		sb.WriteByte(']')
	case *Call:
		args := n.Args
		if n.Receiver != nil {
			writeNode(sb, n.Receiver)
			sb.WriteByte('.')
		} else if n.Family == FamilyExtensions || n.Family == FamilyEnumerable {
			if len(args) > 0 {
				writeNode(sb, args[0])
				sb.WriteByte('.')
				args = args[1:]
			}
		} else {
			sb.WriteString(string(n.Family))
			sb.WriteByte('.')
		}
		sb.WriteString(n.Method)
		sb.WriteByte('(')
		for i, a := range args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeNode(sb, a)
		}
		sb.WriteByte(')')
	case *Binary:
		sb.WriteByte('(')
		writeNode(sb, n.Left)
		sb.WriteByte(' ')
		sb.WriteString(string(n.Op))
		sb.WriteByte(' ')
		writeNode(sb, n.Right)
		sb.WriteByte(')')
	case *Unary:
		switch n.Op {
		case OpNot:
			sb.WriteByte('!')
			writeNode(sb, n.Operand)
		case OpNegate:
			sb.WriteByte('-')
			writeNode(sb, n.Operand)
		case OpArrayLength:
			sb.WriteString("len(")
			writeNode(sb, n.Operand)
			sb.WriteByte(')')
		default:
			if n.typ != nil {
				sb.WriteString(n.typ.String())
			}
			sb.WriteByte('(')
			writeNode(sb, n.Operand)
			sb.WriteByte(')')
		}
	case *Lambda:
		names := make([]string, len(n.Params))
		for i, p := range n.Params {
			names[i] = p.Name
		}
		if len(names) == 1 {
			sb.WriteString(names[0])
		} else {
			sb.WriteString("(" + strings.Join(names, ", ") + ")")
		}
		sb.WriteString(" => ")
		writeNode(sb, n.Body)
	case *New:
		sb.WriteString("new ")
		if n.Kind != CtorAnonymous && n.typ != nil {
			sb.WriteString(n.typ.String())
		}
		sb.WriteString("{")
		for i, b := range n.Bindings {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.Name)
			sb.WriteString(" = ")
			writeNode(sb, b.Value)
		}
		sb.WriteString("}")
	default:
		fmt.Fprintf(sb, "%T", n)
	}
}

func writeValue(sb *strings.Builder, v any) {
	switch v := v.(type) {
	case nil:
		sb.WriteString("null")
	case string:
		fmt.Fprintf(sb, "%q", v)
	case fmt.Stringer:
		sb.WriteString(v.String())
	default:
		fmt.Fprintf(sb, "%v", v)
	}
}
