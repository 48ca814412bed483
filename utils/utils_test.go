package utils

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type window struct {
	From int
	To   int
}

type search struct {
	Term   string
	Range  window
	hidden window
	Limit  int
}

func TestStructPointer(t *testing.T) {
	var nilPtr *search
	tests := []struct {
		name    string
		input   any
		wantErr string
	}{
		{name: "pointer to struct", input: &search{Term: "a"}},
		{name: "nil", input: nil, wantErr: "cannot be nil"},
		{name: "struct value", input: search{}, wantErr: "must be a pointer to a struct, got struct"},
		{name: "nil pointer", input: nilPtr, wantErr: "nil pointer"},
		{name: "pointer to int", input: new(int), wantErr: "got pointer to int"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := StructPointer(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, v.CanAddr())
			assert.Equal(t, "a", v.Field(0).String())
		})
	}
}

func TestFieldByOffset(t *testing.T) {
	s := &search{}
	base := uintptr(unsafe.Pointer(s))
	typ := reflect.TypeFor[search]()
	intType := reflect.TypeFor[int]()

	tests := []struct {
		name  string
		ptr   uintptr
		want  reflect.Type
		index []int
		found bool
	}{
		{name: "top level", ptr: uintptr(unsafe.Pointer(&s.Limit)), want: intType, index: []int{3}, found: true},
		{name: "nested", ptr: uintptr(unsafe.Pointer(&s.Range.To)), want: intType, index: []int{1, 1}, found: true},
		{name: "whole struct", ptr: uintptr(unsafe.Pointer(&s.Range)), want: reflect.TypeFor[window](), index: []int{1}, found: true},
		{name: "unexported path", ptr: uintptr(unsafe.Pointer(&s.hidden.From)), want: intType},
		{name: "wrong type", ptr: uintptr(unsafe.Pointer(&s.Term)), want: intType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, ok := FieldByOffset(typ, tt.ptr-base, tt.want)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.index, index)
		})
	}
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "Range.To", FieldPath(reflect.TypeFor[*search](), []int{1, 1}))
	assert.Equal(t, "Limit", FieldPath(reflect.TypeFor[search](), []int{3}))
}
