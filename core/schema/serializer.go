package schema

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnumStorage selects how enum values are written to JSON.
type EnumStorage int

const (
	// AsInteger stores the numeric value.
	AsInteger EnumStorage = iota
	// AsString stores the String() name.
	AsString
)

// ValueCasting selects how strictly JSON values are cast when compared.
type ValueCasting int

const (
	// Strict casts locators to the member's declared type.
	Strict ValueCasting = iota
	// Relaxed tolerates values stored under a different JSON type, such as numbers
	// written as strings.
	Relaxed
)

// Serializer is the JSON codec the query layer consults. The translator inlines
// serialized constants for containment filters, and reads the enum and casing
// settings to decide how members and parameters are rendered.
type Serializer interface {
	ToJSON(v any) (string, error)
	FromJSON(data []byte, v any) error
	EnumStorage() EnumStorage
	Casing() Casing
	ValueCasting() ValueCasting
}

// SerializerOption configures a JSONSerializer.
type SerializerOption func(*JSONSerializer)

// WithEnumStorage sets the enum storage mode.
func WithEnumStorage(e EnumStorage) SerializerOption {
	return func(s *JSONSerializer) { s.enums = e }
}

// WithCasing sets the key casing convention.
func WithCasing(c Casing) SerializerOption {
	return func(s *JSONSerializer) { s.casing = c }
}

// WithValueCasting sets the value casting mode.
func WithValueCasting(v ValueCasting) SerializerOption {
	return func(s *JSONSerializer) { s.casting = v }
}

// JSONSerializer is the default Serializer, built on encoding/json. Struct keys
// follow json tags when present and the configured casing otherwise.
type JSONSerializer struct {
	enums   EnumStorage
	casing  Casing
	casting ValueCasting
}

// NewJSONSerializer creates a serializer with integer enums and Go field names.
func NewJSONSerializer(opts ...SerializerOption) *JSONSerializer {
	s := &JSONSerializer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JSONSerializer) EnumStorage() EnumStorage   { return s.enums }
func (s *JSONSerializer) Casing() Casing             { return s.casing }
func (s *JSONSerializer) ValueCasting() ValueCasting { return s.casting }

// ToJSON serializes v.
func (s *JSONSerializer) ToJSON(v any) (string, error) {
	b, err := json.Marshal(s.Normalize(v))
	if err != nil {
		return "", fmt.Errorf("failed to serialize %T: %w", v, err)
	}
	return string(b), nil
}

// KeyFor returns the JSON key of a struct field, or "" when the field is not
// serialized.
func KeyFor(f reflect.StructField, c Casing) string {
	if !f.IsExported() {
		return ""
	}
	if tag, ok := f.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return ApplyCasing(f.Name, c)
}

// Normalize converts v into plain JSON-ready values: maps, slices and scalars, with
// struct keys and enums rendered the way this serializer stores them.
func (s *JSONSerializer) Normalize(v any) any {
	if v == nil {
		return nil
	}
	return s.normalize(reflect.ValueOf(v))
}

func (s *JSONSerializer) normalize(v reflect.Value) any {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Type() {
	case timeType:
		return v.Interface().(time.Time).Format(time.RFC3339Nano)
	case uuidType:
		return v.Interface().(uuid.UUID).String()
	case rawJSONType:
		return v.Interface()
	}
	if IsEnum(v.Type()) {
		if s.enums == AsString {
			return v.Interface().(fmt.Stringer).String()
		}
		if v.CanInt() {
			return v.Int()
		}
		return v.Uint()
	}
	if m, ok := v.Interface().(json.Marshaler); ok {
		return m
	}
	switch v.Kind() {
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			key := KeyFor(t.Field(i), s.casing)
			if key == "" {
				continue
			}
			out[key] = s.normalize(v.Field(i))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(s.normalize(iter.Key()))] = s.normalize(iter.Value())
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type() == byteSliceType {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = s.normalize(v.Index(i))
		}
		return out
	}
	return v.Interface()
}

// FromJSON deserializes data into v, which must be a non-nil pointer.
func (s *JSONSerializer) FromJSON(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("FromJSON: target must be a non-nil pointer, got %T", v)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("FromJSON: failed to parse JSON: %w", err)
	}
	if err := s.assign(rv.Elem(), raw); err != nil {
		return fmt.Errorf("FromJSON: %w", err)
	}
	return nil
}

func (s *JSONSerializer) assign(dst reflect.Value, raw any) error {
	if raw == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	t := dst.Type()

	if t.Kind() == reflect.Pointer {
		elem := reflect.New(t.Elem())
		if err := s.assign(elem.Elem(), raw); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if t.Kind() == reflect.Interface {
		dst.Set(reflect.ValueOf(raw))
		return nil
	}

	switch t {
	case timeType, uuidType:
		str, ok := raw.(string)
		if !ok {
			return fmt.Errorf("cannot decode %T into %s", raw, t)
		}
		u := dst.Addr().Interface().(encoding.TextUnmarshaler)
		return u.UnmarshalText([]byte(str))
	case rawJSONType:
		b, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		dst.SetBytes(b)
		return nil
	}

	if IsEnum(t) {
		if str, ok := raw.(string); ok {
			return assignEnumName(dst, str)
		}
	}
	if u, ok := dst.Addr().Interface().(json.Unmarshaler); ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		return u.UnmarshalJSON(b)
	}

	switch t.Kind() {
	case reflect.Struct:
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot decode %T into %s", raw, t)
		}
		for i := 0; i < t.NumField(); i++ {
			key := KeyFor(t.Field(i), s.casing)
			if key == "" {
				continue
			}
			val, ok := obj[key]
			if !ok {
				continue
			}
			if err := s.assign(dst.Field(i), val); err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name(), t.Field(i).Name, err)
			}
		}
		return nil
	case reflect.Map:
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot decode %T into %s", raw, t)
		}
		m := reflect.MakeMapWithSize(t, len(obj))
		for k, val := range obj {
			key := reflect.New(t.Key()).Elem()
			if err := s.assign(key, k); err != nil {
				return err
			}
			item := reflect.New(t.Elem()).Elem()
			if err := s.assign(item, val); err != nil {
				return err
			}
			m.SetMapIndex(key, item)
		}
		dst.Set(m)
		return nil
	case reflect.Slice:
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("cannot decode %T into %s", raw, t)
		}
		out := reflect.MakeSlice(t, len(list), len(list))
		for i, val := range list {
			if err := s.assign(out.Index(i), val); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Array:
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("cannot decode %T into %s", raw, t)
		}
		for i := 0; i < len(list) && i < dst.Len(); i++ {
			if err := s.assign(dst.Index(i), list[i]); err != nil {
				return err
			}
		}
		return nil
	case reflect.String:
		str, ok := raw.(string)
		if !ok {
			str = fmt.Sprint(raw)
		}
		dst.SetString(str)
		return nil
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("cannot decode %T into %s", raw, t)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := number(raw, t)
		if err != nil {
			return err
		}
		dst.SetInt(int64(f))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, err := number(raw, t)
		if err != nil {
			return err
		}
		dst.SetUint(uint64(f))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := number(raw, t)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil
	}
	return fmt.Errorf("cannot decode into %s", t)
}

func number(raw any, t reflect.Type) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case string:
		var f float64
		if _, err := fmt.Sscan(n, &f); err != nil {
			return 0, fmt.Errorf("cannot decode %q into %s: %w", n, t, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot decode %T into %s", raw, t)
}

// enums with more members than this must implement encoding.TextUnmarshaler to be
// stored by name.
const maxEnumScan = 1024

func assignEnumName(dst reflect.Value, name string) error {
	if u, ok := dst.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(name))
	}
	probe := reflect.New(dst.Type()).Elem()
	for i := 0; i < maxEnumScan; i++ {
		if probe.CanInt() {
			probe.SetInt(int64(i))
		} else {
			probe.SetUint(uint64(i))
		}
		if enumName(probe) == name {
			dst.Set(probe)
			return nil
		}
	}
	return fmt.Errorf("%q is not a name of %s", name, dst.Type())
}

// enumName calls String on probe, treating a panic (an out of range value for a
// table-driven String method) as no name.
func enumName(probe reflect.Value) (name string) {
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	return probe.Interface().(fmt.Stringer).String()
}

// EnumValue renders an enum for comparison according to the storage mode.
func EnumValue(v any, storage EnumStorage) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !IsEnum(rv.Type()) {
		return v
	}
	if storage == AsString {
		return v.(fmt.Stringer).String()
	}
	if rv.CanInt() {
		return rv.Int()
	}
	return int64(rv.Uint())
}

var _ Serializer = (*JSONSerializer)(nil)
