package expr

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Eval reduces a parameter-free expression to a value: literals, closures, negation,
// arithmetic, conversions, member and index access on concrete values, and the
// string and collection methods the query surface exposes.
func Eval(n Node) (any, error) {
	return (&evaluator{}).eval(n)
}

// Match evaluates a boolean lambda against an in-memory value. It is the reference
// semantics that translated SQL is checked against.
func Match(l *Lambda, doc any) (bool, error) {
	v, err := Apply(l, doc)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("lambda %s returned %T, not bool", Format(l), v)
	}
	return b, nil
}

// Apply evaluates a single-parameter lambda with its parameter bound to arg.
func Apply(l *Lambda, arg any) (any, error) {
	ev := &evaluator{env: map[*Parameter]any{}}
	if p := l.Param(); p != nil {
		ev.env[p] = arg
	}
	return ev.eval(l.Body)
}

type evaluator struct {
	env map[*Parameter]any
}

func (ev *evaluator) bind(p *Parameter, v any) *evaluator {
	env := make(map[*Parameter]any, len(ev.env)+1)
	for k, val := range ev.env {
		env[k] = val
	}
	env[p] = v
	return &evaluator{env: env}
}

func (ev *evaluator) eval(n Node) (any, error) {
	switch n := n.(type) {
	case *Parameter:
		if v, ok := ev.env[n]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: depends on parameter %s", ErrNotConstant, n.Name)
	case *Constant:
		return n.Value, nil
	case *Closure:
		return n.Value(), nil
	case *Member:
		target, err := ev.eval(n.Target)
		if err != nil {
			return nil, err
		}
		return memberValue(target, n.Name)
	case *Index:
		target, err := ev.eval(n.Target)
		if err != nil {
			return nil, err
		}
		key, err := ev.eval(n.Key)
		if err != nil {
			return nil, err
		}
		return indexValue(target, key)
	case *Unary:
		return ev.unary(n)
	case *Binary:
		return ev.binary(n)
	case *Call:
		return ev.call(n)
	case *Lambda:
		return n, nil
	case *New:
		return ev.construct(n)
	}
	return nil, BadExpression(n, "cannot be evaluated")
}

func memberValue(target any, name string) (any, error) {
	if target == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		f := rv.FieldByName(name)
		if !f.IsValid() {
			return nil, fmt.Errorf("%s has no field %s", rv.Type(), name)
		}
		return f.Interface(), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, nil
		}
		return v.Interface(), nil
	}
	return nil, fmt.Errorf("cannot access member %s of %T", name, target)
}

func indexValue(target, key any) (any, error) {
	if target == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(target)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		i, ok := ToFloat64(key)
		if !ok {
			return nil, fmt.Errorf("index %v is not numeric", key)
		}
		if int(i) < 0 || int(i) >= rv.Len() {
			return nil, nil
		}
		return rv.Index(int(i)).Interface(), nil
	case reflect.Map:
		k := reflect.ValueOf(key)
		if !k.Type().ConvertibleTo(rv.Type().Key()) {
			return nil, fmt.Errorf("key %v does not fit %s", key, rv.Type())
		}
		v := rv.MapIndex(k.Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, nil
		}
		return v.Interface(), nil
	}
	return nil, fmt.Errorf("cannot index %T", target)
}

func (ev *evaluator) unary(n *Unary) (any, error) {
	v, err := ev.eval(n.Operand)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case OpNot:
		b, ok := v.(bool)
		if !ok {
			return nil, BadExpression(n, "operand of ! is %T", v)
		}
		return !b, nil
	case OpNegate:
		if v == nil {
			return nil, nil
		}
		rv := reflect.ValueOf(v)
		out := reflect.New(rv.Type()).Elem()
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out.SetInt(-rv.Int())
		case reflect.Float32, reflect.Float64:
			out.SetFloat(-rv.Float())
		default:
			return nil, BadExpression(n, "cannot negate %T", v)
		}
		return out.Interface(), nil
	case OpConvert:
		return ConvertTo(v, n.typ)
	case OpArrayLength:
		if v == nil {
			return 0, nil
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
			return rv.Len(), nil
		}
		return nil, BadExpression(n, "len of %T", v)
	}
	return nil, BadExpression(n, "unknown unary operator %s", n.Op)
}

func (ev *evaluator) truth(n Node) (bool, error) {
	v, err := ev.eval(n)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, BadExpression(n, "is %T, not bool", v)
	}
	return b, nil
}

func (ev *evaluator) binary(n *Binary) (any, error) {
	if n.Op.IsLogical() {
		l, err := ev.truth(n.Left)
		if err != nil {
			return nil, err
		}
		if n.Op == OpAndAlso && !l {
			return false, nil
		}
		if n.Op == OpOrElse && l {
			return true, nil
		}
		return ev.truth(n.Right)
	}

	l, err := ev.eval(n.Left)
	if err != nil {
		return nil, err
	}
	r, err := ev.eval(n.Right)
	if err != nil {
		return nil, err
	}

	if n.Op.IsComparison() {
		return compareOp(n.Op, l, r), nil
	}
	return arithmetic(n, l, r)
}

func compareOp(op BinaryOp, l, r any) bool {
	switch op {
	case OpEqual:
		return Equal(l, r)
	case OpNotEqual:
		return !Equal(l, r)
	}
	c, ok := CompareValues(l, r)
	if !ok {
		return false
	}
	switch op {
	case OpLessThan:
		return c < 0
	case OpLessThanOrEqual:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	default:
		return c >= 0
	}
}

func arithmetic(n *Binary, l, r any) (any, error) {
	if l == nil || r == nil {
		return nil, nil
	}
	if ls, ok := l.(string); ok && n.Op == OpAdd {
		return ls + fmt.Sprint(r), nil
	}
	lf, lok := ToFloat64(l)
	rf, rok := ToFloat64(r)
	if !lok || !rok {
		return nil, BadExpression(n, "arithmetic on %T and %T", l, r)
	}
	var out float64
	switch n.Op {
	case OpAdd:
		out = lf + rf
	case OpSubtract:
		out = lf - rf
	case OpMultiply:
		out = lf * rf
	case OpDivide:
		if rf == 0 {
			return nil, BadExpression(n, "division by zero")
		}
		out = lf / rf
		if isInteger(l) && isInteger(r) {
			out = math.Trunc(out)
		}
	case OpModulo:
		if rf == 0 {
			return nil, BadExpression(n, "division by zero")
		}
		out = math.Mod(lf, rf)
	default:
		return nil, BadExpression(n, "unknown operator %s", n.Op)
	}
	if t := reflect.TypeOf(l); IsNumericKind(t) {
		return reflect.ValueOf(out).Convert(t).Interface(), nil
	}
	return out, nil
}

func isInteger(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// Equal compares two values the way the query layer does: numbers by value across
// kinds, enums against their string names, nil equal only to nil.
func Equal(l, r any) bool {
	l, r = derefValue(l), derefValue(r)
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if c, ok := CompareValues(l, r); ok {
		return c == 0
	}
	return reflect.DeepEqual(l, r)
}

// CompareValues orders two values. It reports false when they are not comparable.
func CompareValues(l, r any) (int, bool) {
	l, r = derefValue(l), derefValue(r)
	if l == nil || r == nil {
		return 0, false
	}
	if ls, ok := stringish(l, r); ok {
		rs, _ := stringish(r, l)
		return strings.Compare(ls, rs), true
	}
	if lf, ok := ToFloat64(l); ok && !isString(l) {
		if rf, ok := ToFloat64(r); ok && !isString(r) {
			switch {
			case lf < rf:
				return -1, true
			case lf > rf:
				return 1, true
			}
			return 0, true
		}
	}
	switch lv := l.(type) {
	case bool:
		rv, ok := r.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case lv == rv:
			return 0, true
		case !lv:
			return -1, true
		}
		return 1, true
	case time.Time:
		rv, ok := r.(time.Time)
		if !ok {
			return 0, false
		}
		return lv.Compare(rv), true
	}
	if lb, ok := bytesOf(l); ok {
		if rb, ok := bytesOf(r); ok {
			return bytes.Compare(lb, rb), true
		}
	}
	return 0, false
}

func bytesOf(v any) ([]byte, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array || rv.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}
	out := make([]byte, rv.Len())
	for i := range out {
		out[i] = byte(rv.Index(i).Uint())
	}
	return out, true
}

func isString(v any) bool {
	return reflect.ValueOf(v).Kind() == reflect.String
}

// stringish returns v as a string when v is a string, or when v is a Stringer enum
// being compared against a string.
func stringish(v, other any) (string, bool) {
	if isString(v) {
		if isString(other) {
			return reflect.ValueOf(v).String(), true
		}
		if _, ok := other.(fmt.Stringer); ok && isInteger(other) {
			return reflect.ValueOf(v).String(), true
		}
		return "", false
	}
	if s, ok := v.(fmt.Stringer); ok && isInteger(v) && isString(other) {
		return s.String(), true
	}
	return "", false
}

func derefValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func (ev *evaluator) construct(n *New) (any, error) {
	if n.Kind == CtorAnonymous || n.typ.Kind() == reflect.Map {
		out := make(map[string]any, len(n.Bindings))
		for _, b := range n.Bindings {
			v, err := ev.eval(b.Value)
			if err != nil {
				return nil, err
			}
			out[b.Name] = v
		}
		return out, nil
	}
	t := Deref(n.typ)
	out := reflect.New(t).Elem()
	for _, b := range n.Bindings {
		v, err := ev.eval(b.Value)
		if err != nil {
			return nil, err
		}
		f := out.FieldByName(b.Name)
		if !f.IsValid() || !f.CanSet() {
			return nil, BadExpression(n, "%s has no settable field %s", t, b.Name)
		}
		if v == nil {
			continue
		}
		cv, err := ConvertTo(v, f.Type())
		if err != nil {
			return nil, err
		}
		f.Set(reflect.ValueOf(cv))
	}
	return out.Interface(), nil
}
