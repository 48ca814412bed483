package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ToFloat64 converts a value of any numeric kind, including named integer types such
// as enums, to a float64. Numeric strings are parsed. It reports whether the
// conversion succeeded.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// IsNumericKind reports whether t is an integer or floating point type.
func IsNumericKind(t reflect.Type) bool {
	t = Deref(t)
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
	timeType = reflect.TypeOf(time.Time{})
)

// ConvertTo coerces value to type t, the way a typed member comparison requires.
// Numeric kinds convert between each other, strings parse into numbers, booleans,
// UUIDs and RFC 3339 timestamps. Failures are reported as *ConversionError.
func ConvertTo(value any, t reflect.Type) (any, error) {
	if value == nil || t == nil {
		return value, nil
	}
	target := Deref(t)
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Type() == target {
		return rv.Interface(), nil
	}

	if s, ok := rv.Interface().(string); ok {
		parsed, err := parseString(s, target)
		if err != nil {
			return nil, NewConversionError(value, t, err)
		}
		return parsed, nil
	}

	if IsNumericKind(rv.Type()) && IsNumericKind(target) {
		return rv.Convert(target).Interface(), nil
	}
	if rv.Type().ConvertibleTo(target) && rv.Kind() == target.Kind() {
		return rv.Convert(target).Interface(), nil
	}
	return nil, NewConversionError(value, t, fmt.Errorf("incompatible kinds %s and %s", rv.Kind(), target.Kind()))
}

func parseString(s string, target reflect.Type) (any, error) {
	switch target {
	case uuidType:
		return uuid.Parse(s)
	case timeType:
		return time.Parse(time.RFC3339Nano, s)
	}
	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, target.Bits())
		if err != nil {
			return nil, err
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, target.Bits())
		if err != nil {
			return nil, err
		}
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, target.Bits())
		if err != nil {
			return nil, err
		}
		out.SetFloat(f)
	default:
		return nil, fmt.Errorf("no conversion from string to %s", target)
	}
	return out.Interface(), nil
}

// ToSlice returns the elements of a slice or array value.
func ToSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
