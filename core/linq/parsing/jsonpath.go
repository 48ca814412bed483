package parsing

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/schema"
)

var jsonPathOperators = map[expr.BinaryOp]string{
	expr.OpEqual:              "==",
	expr.OpNotEqual:           "!=",
	expr.OpLessThan:           "<",
	expr.OpLessThanOrEqual:    "<=",
	expr.OpGreaterThan:        ">",
	expr.OpGreaterThanOrEqual: ">=",
}

var plainKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// JSONPathKey renders one member step of a JSONPath.
func JSONPathKey(key string) string {
	if plainKey.MatchString(key) {
		return "." + key
	}
	return "." + strconv.Quote(key)
}

// JSONPathRoot renders the path from the document root through keys.
func JSONPathRoot(keys []string) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, k := range keys {
		sb.WriteString(JSONPathKey(k))
	}
	return sb.String()
}

// JSONPathCreator translates boolean lambdas into PostgreSQL JSONPath filter
// expressions, with @ standing for the lambda parameter. Only comparisons, && and
// ||, negation, member access and literals translate; any method call is rejected.
type JSONPathCreator struct {
	serializer schema.Serializer
}

// NewJSONPathCreator creates a creator rendering keys and literals with s.
func NewJSONPathCreator(s schema.Serializer) *JSONPathCreator {
	return &JSONPathCreator{serializer: s}
}

// Filter translates the body of l.
func (j *JSONPathCreator) Filter(l *expr.Lambda) (string, error) {
	return j.filter(l.Param(), l.Body)
}

// Path translates l into a whole-document JSONPath predicate: $ ? (...).
func (j *JSONPathCreator) Path(l *expr.Lambda) (string, error) {
	f, err := j.Filter(l)
	if err != nil {
		return "", err
	}
	return "$ ? (" + f + ")", nil
}

func (j *JSONPathCreator) filter(param *expr.Parameter, n expr.Node) (string, error) {
	switch n := n.(type) {
	case *expr.Binary:
		switch {
		case n.Op == expr.OpAndAlso || n.Op == expr.OpOrElse:
			l, err := j.filter(param, n.Left)
			if err != nil {
				return "", err
			}
			r, err := j.filter(param, n.Right)
			if err != nil {
				return "", err
			}
			return "(" + l + " " + string(n.Op) + " " + r + ")", nil
		case n.Op.IsComparison():
			return j.comparison(param, n)
		}
	case *expr.Unary:
		switch n.Op {
		case expr.OpNot:
			inner, err := j.filter(param, n.Operand)
			if err != nil {
				return "", err
			}
			return "!(" + inner + ")", nil
		case expr.OpConvert:
			return j.filter(param, n.Operand)
		}
	case *expr.Call:
		return "", expr.BadExpression(n, "method calls cannot be expressed in JSONPath")
	}
	if t := n.Type(); t != nil && expr.Deref(t).Kind() == reflect.Bool {
		if path, err := j.path(param, n); err == nil {
			return path + " == true", nil
		}
	}
	return "", expr.BadExpression(n, "only comparisons and logical operators can be expressed in JSONPath")
}

func (j *JSONPathCreator) comparison(param *expr.Parameter, n *expr.Binary) (string, error) {
	left, right, op := n.Left, n.Right, n.Op
	if expr.IsConstant(left) && !expr.IsConstant(right) {
		left, right, op = right, left, op.Flip()
	}
	l, err := j.path(param, left)
	if err != nil {
		return "", err
	}
	var r string
	if expr.IsConstant(right) {
		r, err = j.literal(right)
	} else {
		r, err = j.path(param, right)
	}
	if err != nil {
		return "", err
	}
	return l + " " + jsonPathOperators[op] + " " + r, nil
}

// path renders a member chain rooted at param.
func (j *JSONPathCreator) path(param *expr.Parameter, n expr.Node) (string, error) {
	switch n := n.(type) {
	case *expr.Parameter:
		if n == param {
			return "@", nil
		}
	case *expr.Unary:
		if n.Op == expr.OpConvert {
			return j.path(param, n.Operand)
		}
	case *expr.Member:
		target, err := j.path(param, n.Target)
		if err != nil {
			return "", err
		}
		t := expr.Deref(n.Target.Type())
		if t == nil || t.Kind() != reflect.Struct {
			return "", expr.BadExpression(n, "%s is not a struct member", n.Name)
		}
		f, ok := t.FieldByName(n.Name)
		if !ok {
			return "", expr.BadExpression(n, "%s has no field %s", t, n.Name)
		}
		key := schema.KeyFor(f, j.serializer.Casing())
		if key == "" {
			return "", expr.BadExpression(n, "field %s is not serialized", n.Name)
		}
		return target + JSONPathKey(key), nil
	case *expr.Index:
		target, err := j.path(param, n.Target)
		if err != nil {
			return "", err
		}
		if !expr.IsConstant(n.Key) {
			return "", expr.BadExpression(n, "index must be constant")
		}
		k, err := expr.Eval(n.Key)
		if err != nil {
			return "", err
		}
		if s, ok := k.(string); ok {
			return target + JSONPathKey(s), nil
		}
		if i, ok := expr.ToFloat64(k); ok {
			return fmt.Sprintf("%s[%d]", target, int(i)), nil
		}
		return "", expr.BadExpression(n, "unsupported index %v", k)
	}
	return "", expr.BadExpression(n, "not a member of the JSONPath subject")
}

// literal renders a constant as a JSON literal.
func (j *JSONPathCreator) literal(n expr.Node) (string, error) {
	v, err := expr.Eval(n)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "null", nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "null", nil
		}
		rv = rv.Elem()
	}
	if _, ok := rv.Interface().(time.Time); ok {
		return "", expr.BadExpression(n, "timestamps cannot be compared in JSONPath")
	}
	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice:
		return "", expr.BadExpression(n, "only scalar literals can be expressed in JSONPath")
	case reflect.Array:
		if _, ok := rv.Interface().(fmt.Stringer); !ok {
			return "", expr.BadExpression(n, "only scalar literals can be expressed in JSONPath")
		}
	}
	return j.serializer.ToJSON(rv.Interface())
}
