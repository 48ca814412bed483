package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// DuplicatedField is a member copied into its own column of the document table.
type DuplicatedField struct {
	// Path is the dot-separated Go field path.
	Path      string
	Column    string
	DbType    string
	FieldType FieldType
}

// FullTextIndex is a tsvector index over whole documents or selected members.
type FullTextIndex struct {
	Name      string
	RegConfig string
	// Paths lists the indexed members; empty means the whole document.
	Paths []string
}

// MappingOptions carries the store-wide settings every mapping shares.
type MappingOptions struct {
	DatabaseSchema   string
	TablePrefix      string
	DefaultRegConfig string
	Serializer       Serializer
}

// DefaultMappingOptions returns the settings used when none are given.
func DefaultMappingOptions() MappingOptions {
	return MappingOptions{
		DatabaseSchema:   "public",
		TablePrefix:      "mt_doc_",
		DefaultRegConfig: "english",
		Serializer:       NewJSONSerializer(),
	}
}

// DocumentMapping describes how one Go document type is stored. It is built once
// when the type is registered and only read afterwards.
type DocumentMapping struct {
	DocType          reflect.Type
	Alias            string
	DatabaseSchema   string
	TablePrefix      string
	IdMember         string
	DefaultRegConfig string
	Serializer       Serializer
	SoftDeleted      bool
	MultiTenanted    bool
	Searching        PropertySearching

	duplicated map[string]DuplicatedField
	overrides  map[string]FieldType
	fullText   []FullTextIndex
	ngram      map[string]bool
	gin        bool
}

// NewMapping builds the mapping of a struct type. A nil schema uses conventions
// only: the table alias is the snake-cased type name and the id is Id or ID.
func NewMapping(t reflect.Type, s *DocumentSchema, opts MappingOptions) (*DocumentMapping, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("document type must be a struct, got %v", t)
	}
	if s == nil {
		s = &DocumentSchema{Name: t.Name()}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if opts.Serializer == nil {
		opts.Serializer = NewJSONSerializer()
	}
	if opts.DatabaseSchema == "" {
		opts.DatabaseSchema = "public"
	}
	if opts.DefaultRegConfig == "" {
		opts.DefaultRegConfig = "english"
	}

	m := &DocumentMapping{
		DocType:          t,
		Alias:            s.Alias,
		DatabaseSchema:   opts.DatabaseSchema,
		TablePrefix:      opts.TablePrefix,
		DefaultRegConfig: opts.DefaultRegConfig,
		Serializer:       opts.Serializer,
		SoftDeleted:      s.SoftDeleted,
		MultiTenanted:    s.MultiTenanted,
		Searching:        s.PropertySearching,
		duplicated:       make(map[string]DuplicatedField),
		overrides:        make(map[string]FieldType),
		ngram:            make(map[string]bool),
	}
	if m.Alias == "" {
		m.Alias = ApplyCasing(t.Name(), CasingSnake)
	}
	if m.Searching == "" {
		m.Searching = SearchContainment
	}

	id, err := identityMember(t, s.Identity)
	if err != nil {
		return nil, err
	}
	m.IdMember = id

	for _, f := range s.Fields {
		ft, err := FieldPathType(t, f.Name)
		if err != nil {
			return nil, err
		}
		fieldType := FieldTypeOf(ft)
		if f.Type != "" {
			fieldType = f.Type
			m.overrides[f.Name] = f.Type
		}
		if !f.Duplicated {
			continue
		}
		column := f.Column
		if column == "" {
			column = ApplyCasing(strings.ReplaceAll(f.Name, ".", ""), CasingSnake)
		}
		dbType := f.DbType
		if dbType == "" {
			dbType = duplicatedDbType(fieldType, m.Serializer.EnumStorage())
		}
		m.duplicated[f.Name] = DuplicatedField{Path: f.Name, Column: column, DbType: dbType, FieldType: fieldType}
	}

	for _, idx := range s.Indexes {
		switch idx.Type {
		case IndexTypeGin:
			m.gin = true
		case IndexTypeFullText:
			regConfig := idx.RegConfig
			if regConfig == "" {
				regConfig = m.DefaultRegConfig
			}
			paths := idx.Fields
			if len(paths) == 1 && paths[0] == "*" {
				paths = nil
			}
			for _, p := range paths {
				if _, err := FieldPathType(t, p); err != nil {
					return nil, err
				}
			}
			name := idx.Name
			if name == "" {
				name = fmt.Sprintf("%s%s_idx_fts", m.TablePrefix, m.Alias)
			}
			m.fullText = append(m.fullText, FullTextIndex{Name: name, RegConfig: regConfig, Paths: paths})
		case IndexTypeNgram:
			for _, p := range idx.Fields {
				if _, err := FieldPathType(t, p); err != nil {
					return nil, err
				}
				m.ngram[p] = true
			}
		}
	}
	return m, nil
}

func identityMember(t reflect.Type, configured string) (string, error) {
	if configured != "" {
		if _, ok := t.FieldByName(configured); !ok {
			return "", fmt.Errorf("%s has no identity field %s", t, configured)
		}
		return configured, nil
	}
	for _, name := range []string{"Id", "ID"} {
		if _, ok := t.FieldByName(name); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%s needs an Id or ID field, or a configured identity", t)
}

func duplicatedDbType(f FieldType, enums EnumStorage) string {
	if f == FieldTypeEnum {
		if enums == AsString {
			return "varchar"
		}
		return "integer"
	}
	if pg := f.PgType(); pg != "" {
		return pg
	}
	if f == FieldTypeArray {
		return "jsonb"
	}
	return "varchar"
}

// FieldPathType resolves a dot-separated Go field path against t.
func FieldPathType(t reflect.Type, path string) (reflect.Type, error) {
	cur := t
	for _, part := range strings.Split(path, ".") {
		for cur.Kind() == reflect.Pointer {
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%s: %s is not a struct", path, cur)
		}
		f, ok := cur.FieldByName(part)
		if !ok {
			return nil, fmt.Errorf("%s has no field %s", t, path)
		}
		cur = f.Type
	}
	return cur, nil
}

// TableName returns the qualified document table name.
func (m *DocumentMapping) TableName() string {
	return m.DatabaseSchema + "." + m.TablePrefix + m.Alias
}

// Duplicated returns the duplicated column backing path, if any.
func (m *DocumentMapping) Duplicated(path string) (DuplicatedField, bool) {
	f, ok := m.duplicated[path]
	return f, ok
}

// DuplicatedFields returns every duplicated column, ordered by column name.
func (m *DocumentMapping) DuplicatedFields() []DuplicatedField {
	out := make([]DuplicatedField, 0, len(m.duplicated))
	for _, f := range m.duplicated {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

// FieldTypeOverride returns the storage type configured for path, if any.
func (m *DocumentMapping) FieldTypeOverride(path string) (FieldType, bool) {
	f, ok := m.overrides[path]
	return f, ok
}

// FullTextIndexes returns the configured full-text indexes.
func (m *DocumentMapping) FullTextIndexes() []FullTextIndex { return m.fullText }

// FullTextIndexFor returns the full-text index using regConfig. Without one, the
// whole document is searched.
func (m *DocumentMapping) FullTextIndexFor(regConfig string) FullTextIndex {
	for _, idx := range m.fullText {
		if idx.RegConfig == regConfig {
			return idx
		}
	}
	return FullTextIndex{RegConfig: regConfig}
}

// IsNgramIndexed reports whether path carries a trigram index.
func (m *DocumentMapping) IsNgramIndexed(path string) bool { return m.ngram[path] }

// NgramPaths returns the members with trigram indexes.
func (m *DocumentMapping) NgramPaths() []string {
	out := make([]string, 0, len(m.ngram))
	for p := range m.ngram {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HasGinIndex reports whether the document body carries a jsonb_path_ops index.
func (m *DocumentMapping) HasGinIndex() bool { return m.gin }

// UseContainment reports whether equality on plain JSON members should be
// rendered with the @> operator.
func (m *DocumentMapping) UseContainment() bool { return m.Searching == SearchContainment }

// Registry holds the mapping of every document type known to a store. Mappings are
// created on first use and never change afterwards.
type Registry struct {
	mu       sync.RWMutex
	mappings map[reflect.Type]*DocumentMapping
	opts     MappingOptions
}

// NewRegistry creates an empty registry.
func NewRegistry(opts MappingOptions) *Registry {
	if opts.Serializer == nil {
		opts.Serializer = NewJSONSerializer()
	}
	return &Registry{mappings: make(map[reflect.Type]*DocumentMapping), opts: opts}
}

// Options returns the settings shared by the registry's mappings.
func (r *Registry) Options() MappingOptions { return r.opts }

// Register configures a document type from a schema. Registering a type twice is
// an error.
func (r *Registry) Register(t reflect.Type, s *DocumentSchema) (*DocumentMapping, error) {
	m, err := NewMapping(t, s, r.opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mappings[m.DocType]; exists {
		return nil, fmt.Errorf("document type %s is already registered", m.DocType)
	}
	r.mappings[m.DocType] = m
	return m, nil
}

// Register configures document type T.
func Register[T any](r *Registry, s *DocumentSchema) (*DocumentMapping, error) {
	return r.Register(reflect.TypeFor[T](), s)
}

// MappingFor returns the mapping of t, creating a conventional one on first use.
func (r *Registry) MappingFor(t reflect.Type) (*DocumentMapping, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	m, ok := r.mappings[t]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mappings[t]; ok {
		return m, nil
	}
	m, err := NewMapping(t, nil, r.opts)
	if err != nil {
		return nil, err
	}
	r.mappings[t] = m
	return m, nil
}

// All returns every registered mapping ordered by table name.
func (r *Registry) All() []*DocumentMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DocumentMapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName() < out[j].TableName() })
	return out
}
