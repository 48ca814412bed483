package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// FieldType represents the storage types a document member can have.
type FieldType string

const (
	FieldTypeString    FieldType = "string"    // Text data
	FieldTypeNumber    FieldType = "number"    // Floating point data
	FieldTypeInteger   FieldType = "integer"   // 32-bit integers
	FieldTypeBigInt    FieldType = "bigint"    // 64-bit integers
	FieldTypeDecimal   FieldType = "decimal"   // Arbitrary precision numbers
	FieldTypeBoolean   FieldType = "boolean"   // True/false values
	FieldTypeUUID      FieldType = "uuid"      // RFC 4122 identifiers
	FieldTypeTimestamp FieldType = "timestamp" // Points in time
	FieldTypeArray     FieldType = "array"     // Ordered list of items
	FieldTypeEnum      FieldType = "enum"      // One out of a set of pre-defined items
	FieldTypeObject    FieldType = "object"    // Structured data with nested fields
	FieldTypeRecord    FieldType = "record"    // Key-value object, resolves to a Go map
)

// IndexType represents index types for optimizing different query patterns.
type IndexType string

const (
	IndexTypeNormal   IndexType = "normal"   // General-purpose btree index on a locator
	IndexTypeUnique   IndexType = "unique"   // Unique index
	IndexTypeGin      IndexType = "gin"      // jsonb_path_ops index serving @> containment
	IndexTypeFullText IndexType = "fulltext" // tsvector index over one or more members
	IndexTypeNgram    IndexType = "ngram"    // trigram index over a string member
)

// PropertySearching selects how equality on a plain JSON member is rendered.
type PropertySearching string

const (
	// SearchContainment prefers "d.data @> '{...}'" so a GIN index can serve it.
	SearchContainment PropertySearching = "containment"
	// SearchLocator always compares the extracted locator.
	SearchLocator PropertySearching = "locator"
)

// FieldDefinition configures one member of a document type. Name is the Go field
// path, dot-separated for nested members ("Address.City").
type FieldDefinition struct {
	Name string `json:"name"`
	// Type overrides the storage type inferred from the Go type.
	Type FieldType `json:"type,omitempty"`
	// Duplicated copies the member into its own column.
	Duplicated bool `json:"duplicated,omitempty"`
	// DbType is the column type of a duplicated member.
	DbType string `json:"dbType,omitempty"`
	// Column overrides the generated column name of a duplicated member.
	Column      string  `json:"column,omitempty"`
	Description *string `json:"description,omitempty"`
}

// IndexDefinition defines an index for optimizing queries.
type IndexDefinition struct {
	Fields []string  `json:"fields"`
	Type   IndexType `json:"type"`
	Name   string    `json:"name"`
	// RegConfig is the text search configuration of a fulltext index.
	RegConfig   string  `json:"regConfig,omitempty"`
	Description *string `json:"description,omitempty"`
}

// DocumentSchema is the JSON configuration of a document type.
type DocumentSchema struct {
	// Name identifies the schema; it is informational.
	Name string `json:"name"`
	// Alias names the table: <schema>.<prefix><alias>. Defaults to the snake-cased
	// Go type name.
	Alias string `json:"alias,omitempty"`
	// Identity is the Go field holding the document id. Defaults to Id or ID.
	Identity          string            `json:"identity,omitempty"`
	Fields            []FieldDefinition `json:"fields,omitempty"`
	Indexes           []IndexDefinition `json:"indexes,omitempty"`
	SoftDeleted       bool              `json:"softDeleted,omitempty"`
	MultiTenanted     bool              `json:"multiTenanted,omitempty"`
	PropertySearching PropertySearching `json:"propertySearching,omitempty"`
	Description       *string           `json:"description,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
}

var regConfigPattern = regexp.MustCompile(`^[a-z_]+$`)

// ValidRegConfig reports whether name is safe to inline as a regconfig literal.
func ValidRegConfig(name string) bool {
	return regConfigPattern.MatchString(name)
}

// ParseDocumentSchema decodes and validates a JSON document schema.
func ParseDocumentSchema(data []byte) (*DocumentSchema, error) {
	var s DocumentSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse document schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the schema for internal consistency.
func (s *DocumentSchema) Validate() error {
	switch s.PropertySearching {
	case "", SearchContainment, SearchLocator:
	default:
		return fmt.Errorf("schema %q: unknown property searching mode %q", s.Name, s.PropertySearching)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q: field without a name", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: field %q defined twice", s.Name, f.Name)
		}
		seen[f.Name] = true
	}
	for _, idx := range s.Indexes {
		if len(idx.Fields) == 0 {
			return fmt.Errorf("schema %q: index %q has no fields", s.Name, idx.Name)
		}
		if idx.RegConfig != "" && !ValidRegConfig(idx.RegConfig) {
			return fmt.Errorf("schema %q: index %q has invalid regconfig %q", s.Name, idx.Name, idx.RegConfig)
		}
	}
	return nil
}

// FindField returns the definition of the named field, or nil.
func (s *DocumentSchema) FindField(name string) *FieldDefinition {
	if s == nil {
		return nil
	}
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	stringerType  = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	rawJSONType   = reflect.TypeOf(json.RawMessage{})
	byteSliceType = reflect.TypeOf([]byte{})
)

// IsEnum reports whether t is a named integer type with a String method, which is
// how enumerations are declared.
func IsEnum(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return t.PkgPath() != "" && t.Implements(stringerType)
	}
	return false
}

// FieldTypeOf infers the storage type of a Go type.
func FieldTypeOf(t reflect.Type) FieldType {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return FieldTypeObject
	}
	switch t {
	case timeType:
		return FieldTypeTimestamp
	case uuidType:
		return FieldTypeUUID
	case rawJSONType, byteSliceType:
		return FieldTypeObject
	}
	if IsEnum(t) {
		return FieldTypeEnum
	}
	switch t.Kind() {
	case reflect.String:
		return FieldTypeString
	case reflect.Bool:
		return FieldTypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16:
		return FieldTypeInteger
	case reflect.Int64, reflect.Uint32, reflect.Uint64:
		return FieldTypeBigInt
	case reflect.Float32, reflect.Float64:
		return FieldTypeNumber
	case reflect.Slice, reflect.Array:
		return FieldTypeArray
	case reflect.Map:
		return FieldTypeRecord
	}
	return FieldTypeObject
}

// IsScalar reports whether values of the type are stored as JSON scalars.
func (f FieldType) IsScalar() bool {
	switch f {
	case FieldTypeArray, FieldTypeObject, FieldTypeRecord:
		return false
	}
	return true
}

// PgType returns the PostgreSQL type a locator of this field type is cast to, or
// "" when the raw text locator is used as is.
func (f FieldType) PgType() string {
	switch f {
	case FieldTypeInteger:
		return "integer"
	case FieldTypeBigInt:
		return "bigint"
	case FieldTypeNumber:
		return "double precision"
	case FieldTypeDecimal:
		return "numeric"
	case FieldTypeBoolean:
		return "boolean"
	case FieldTypeUUID:
		return "uuid"
	case FieldTypeTimestamp:
		return "timestamptz"
	}
	return ""
}
