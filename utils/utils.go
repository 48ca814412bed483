package utils

import (
	"fmt"
	"reflect"
	"strings"
)

// StructPointer validates that record is a non-nil pointer to a struct and returns
// the addressable struct value it points to.
//
// Compiled queries rely on this: their parameters are read from the fields of the
// instance being executed, which is only possible when the fields are addressable.
//
// Example:
//
//	type ByNumber struct{ Number int }
//	v, err := StructPointer(&ByNumber{Number: 3})
//	// v.Field(0).Int() == 3
func StructPointer(record any) (reflect.Value, error) {
	val := reflect.ValueOf(record)

	// Handle nil interface input directly
	if !val.IsValid() {
		return reflect.Value{}, fmt.Errorf("input record cannot be nil")
	}
	if val.Kind() != reflect.Pointer {
		return reflect.Value{}, fmt.Errorf("input record must be a pointer to a struct, got %s", val.Kind())
	}
	if val.IsNil() {
		return reflect.Value{}, fmt.Errorf("input record cannot be a nil pointer to a struct")
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("input record must be a pointer to a struct, got pointer to %s", val.Kind())
	}
	return val, nil
}

// FieldByOffset finds the exported field of struct type t that starts offset bytes
// into a value of t and has type want. Nested struct fields, embedded or not, are
// searched as well. The result is the index path accepted by
// reflect.Value.FieldByIndex.
//
// It reports false when no such field exists, or when the path to it crosses an
// unexported field.
func FieldByOffset(t reflect.Type, offset uintptr, want reflect.Type) ([]int, bool) {
	if t.Kind() != reflect.Struct {
		return nil, false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if offset < f.Offset || offset >= f.Offset+f.Type.Size() {
			continue
		}
		if !f.IsExported() {
			return nil, false
		}
		if offset == f.Offset && f.Type == want {
			return []int{i}, true
		}
		if f.Type.Kind() == reflect.Struct {
			if rest, ok := FieldByOffset(f.Type, offset-f.Offset, want); ok {
				return append([]int{i}, rest...), true
			}
		}
		return nil, false
	}
	return nil, false
}

// FieldPath renders an index path as the dotted field names it leads through.
func FieldPath(t reflect.Type, index []int) string {
	names := make([]string, 0, len(index))
	for _, i := range index {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		f := t.Field(i)
		names = append(names, f.Name)
		t = f.Type
	}
	return strings.Join(names, ".")
}
