package expr

import (
	"fmt"
	"reflect"
	"strings"
)

func (ev *evaluator) args(nodes []Node) ([]any, error) {
	out := make([]any, len(nodes))
	for i, a := range nodes {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (ev *evaluator) call(n *Call) (any, error) {
	subject, err := ev.eval(n.Subject())
	if err != nil {
		return nil, err
	}
	operands := n.Operands()

	switch n.Family {
	case FamilyString:
		return ev.stringCall(n, subject, operands)
	case FamilyEnumerable:
		return ev.enumerableCall(n, subject, operands)
	case FamilyDictionary:
		args, err := ev.args(operands)
		if err != nil {
			return nil, err
		}
		return dictionaryCall(n, subject, args)
	case FamilyObject:
		args, err := ev.args(operands)
		if err != nil {
			return nil, err
		}
		switch n.Method {
		case "CompareTo":
			c, ok := CompareValues(subject, args[0])
			if !ok {
				return nil, BadExpression(n, "values are not comparable")
			}
			return c, nil
		case "Equals":
			return Equal(subject, args[0]), nil
		}
	case FamilyExtensions:
		args, err := ev.args(operands)
		if err != nil {
			return nil, err
		}
		switch n.Method {
		case "IsOneOf", "IsNotOneOf":
			list, ok := ToSlice(args[0])
			if !ok {
				return nil, BadExpression(n, "%T is not a list", args[0])
			}
			found := containsValue(list, subject)
			if n.Method == "IsNotOneOf" {
				return !found, nil
			}
			return found, nil
		case "IsEmpty":
			list, _ := ToSlice(subject)
			return len(list) == 0, nil
		}
	}
	return nil, &UnsupportedMethodError{Method: n.Method, Node: n}
}

func comparisonArg(args []any) StringComparison {
	if len(args) == 0 {
		return Ordinal
	}
	if c, ok := args[len(args)-1].(StringComparison); ok {
		return c
	}
	return Ordinal
}

func (ev *evaluator) stringCall(n *Call, subject any, operands []Node) (any, error) {
	args, err := ev.args(operands)
	if err != nil {
		return nil, err
	}
	if n.Method == "IsNullOrEmpty" {
		s, _ := derefValue(subject).(string)
		return s == "", nil
	}
	if n.Method == "Compare" {
		a, _ := derefValue(subject).(string)
		b, _ := derefValue(args[0]).(string)
		if comparisonArg(args[1:]).IgnoresCase() {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		return strings.Compare(a, b), nil
	}

	if derefValue(subject) == nil {
		switch n.Method {
		case "ToLower", "ToUpper":
			return nil, nil
		}
		return false, nil
	}
	s := fmt.Sprint(derefValue(subject))
	switch n.Method {
	case "ToLower":
		return strings.ToLower(s), nil
	case "ToUpper":
		return strings.ToUpper(s), nil
	}

	if len(args) == 0 {
		return nil, &UnsupportedMethodError{Method: n.Method, Node: n}
	}
	v := fmt.Sprint(derefValue(args[0]))
	if comparisonArg(args[1:]).IgnoresCase() {
		s, v = strings.ToLower(s), strings.ToLower(v)
	}
	switch n.Method {
	case "StartsWith":
		return strings.HasPrefix(s, v), nil
	case "EndsWith":
		return strings.HasSuffix(s, v), nil
	case "Contains":
		return strings.Contains(s, v), nil
	case "Equals":
		return s == v, nil
	}
	return nil, &UnsupportedMethodError{Method: n.Method, Node: n}
}

func (ev *evaluator) enumerableCall(n *Call, subject any, operands []Node) (any, error) {
	list, ok := ToSlice(subject)
	if !ok && subject != nil {
		return nil, BadExpression(n, "%T is not a collection", subject)
	}

	var pred *Lambda
	if len(operands) > 0 {
		pred, _ = operands[0].(*Lambda)
	}
	filter := func() ([]any, error) {
		if pred == nil {
			return list, nil
		}
		var out []any
		for _, item := range list {
			ok, err := ev.bind(pred.Param(), item).truth(pred.Body)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, item)
			}
		}
		return out, nil
	}

	switch n.Method {
	case "Any":
		matched, err := filter()
		if err != nil {
			return nil, err
		}
		return len(matched) > 0, nil
	case "Count":
		matched, err := filter()
		if err != nil {
			return nil, err
		}
		return len(matched), nil
	case "Where":
		return filter()
	case "Select":
		out := make([]any, 0, len(list))
		for _, item := range list {
			v, err := ev.bind(pred.Param(), item).eval(pred.Body)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case "Contains":
		v, err := ev.eval(operands[0])
		if err != nil {
			return nil, err
		}
		return containsValue(list, v), nil
	case "Intersect":
		v, err := ev.eval(operands[0])
		if err != nil {
			return nil, err
		}
		other, _ := ToSlice(v)
		var out []any
		for _, item := range list {
			if containsValue(other, item) && !containsValue(out, item) {
				out = append(out, item)
			}
		}
		return out, nil
	}
	return nil, &UnsupportedMethodError{Method: n.Method, Node: n}
}

func dictionaryCall(n *Call, subject any, args []any) (any, error) {
	rv := reflect.ValueOf(derefValue(subject))
	if !rv.IsValid() {
		return false, nil
	}
	if rv.Kind() != reflect.Map {
		return nil, BadExpression(n, "%s is not a map", rv.Type())
	}
	lookup := func(key any) (reflect.Value, bool) {
		k := reflect.ValueOf(key)
		if !k.IsValid() || !k.Type().ConvertibleTo(rv.Type().Key()) {
			return reflect.Value{}, false
		}
		v := rv.MapIndex(k.Convert(rv.Type().Key()))
		return v, v.IsValid()
	}
	switch n.Method {
	case "ContainsKey":
		_, ok := lookup(args[0])
		return ok, nil
	case "Contains":
		v, ok := lookup(args[0])
		return ok && Equal(v.Interface(), args[1]), nil
	case "Keys":
		out := make([]any, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			out = append(out, k.Interface())
		}
		return out, nil
	case "Values":
		out := make([]any, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, iter.Value().Interface())
		}
		return out, nil
	}
	return nil, &UnsupportedMethodError{Method: n.Method, Node: n}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if Equal(item, v) {
			return true
		}
	}
	return false
}
