// Package member resolves member-access chains over a document type into queryable
// members. Each member knows how to locate its value inside the stored JSONB body:
// as raw text, cast to its SQL type, or as JSONB. A member's locators derive from its
// parent chain and its own segment only.
package member

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/asaidimu/go-marten/core/schema"
)

// Member is one resolvable path segment into a stored document.
type Member interface {
	// Name is the Go field name, the map key or the array index that reached it.
	Name() string
	// JSONKey is the key used in the stored JSON, or "" for non-key segments.
	JSONKey() string
	// Path is the dot-separated Go path from the nearest root.
	Path() string
	Type() reflect.Type
	FieldType() schema.FieldType
	Parent() Member
	// RawLocator extracts the value as text.
	RawLocator() string
	// TypedLocator extracts the value cast to its SQL type.
	TypedLocator() string
	// JSONBLocator extracts the value as jsonb.
	JSONBLocator() string
}

// Container is a member with children addressable by Go field name.
type Container interface {
	Member
	Child(name string) (Member, error)
}

// Root is the starting point of a chain: the document itself or the current element
// of a flattened collection.
type Root interface {
	Container
	// Alias is the table alias the root's locators refer to.
	Alias() string
}

type base struct {
	name      string
	key       string
	segment   string
	path      string
	typ       reflect.Type
	fieldType schema.FieldType
	parent    Member
	mapping   *schema.DocumentMapping
	indexed   bool
}

func (b *base) Name() string                { return b.name }
func (b *base) JSONKey() string             { return b.key }
func (b *base) Path() string                { return b.path }
func (b *base) Type() reflect.Type          { return b.typ }
func (b *base) FieldType() schema.FieldType { return b.fieldType }
func (b *base) Parent() Member              { return b.parent }

// Mapping returns the document mapping the member was resolved against.
func (b *base) Mapping() *schema.DocumentMapping { return b.mapping }

// Indexed reports whether the member was reached through an array index or a
// dynamic map key rather than a declared field.
func (b *base) Indexed() bool { return b.indexed }

func (b *base) rawLocator() string {
	return b.parent.JSONBLocator() + " ->> " + b.segment
}

func (b *base) jsonbLocator() string {
	return b.parent.JSONBLocator() + " -> " + b.segment
}

// Literal quotes s as a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Cast wraps a locator in a CAST to pgType; an empty type leaves it unchanged.
func Cast(locator, pgType string) string {
	if pgType == "" {
		return locator
	}
	return fmt.Sprintf("CAST(%s as %s)", locator, pgType)
}

// PgType returns the SQL type a member of the given Go type is compared as,
// honoring the serializer's enum storage. Strings and other text values yield "".
func PgType(t reflect.Type, ft schema.FieldType, enums schema.EnumStorage) string {
	if ft == schema.FieldTypeEnum {
		if enums == schema.AsString {
			return ""
		}
		return "integer"
	}
	return ft.PgType()
}

// ArrayPgType returns the SQL array type for elements of the given type.
func ArrayPgType(ft schema.FieldType, enums schema.EnumStorage) string {
	pg := PgType(nil, ft, enums)
	if pg == "" {
		return "varchar[]"
	}
	return pg + "[]"
}

// Ancestors returns m's ancestors, root first, excluding m.
func Ancestors(m Member) []Member {
	var out []Member
	for p := m.Parent(); p != nil; p = p.Parent() {
		out = append([]Member{p}, out...)
	}
	return out
}

// RootOf returns the root m descends from.
func RootOf(m Member) Root {
	for cur := m; cur != nil; cur = cur.Parent() {
		if r, ok := cur.(Root); ok {
			return r
		}
	}
	return nil
}

// MappingOf returns the document mapping m was resolved against.
func MappingOf(m Member) *schema.DocumentMapping {
	for cur := m; cur != nil; cur = cur.Parent() {
		if b, ok := cur.(interface{ Mapping() *schema.DocumentMapping }); ok {
			return b.Mapping()
		}
	}
	return nil
}

// JSONPath returns the JSON keys leading from m's root to m. It reports false when
// the chain passes through anything other than declared object fields, in which
// case no containment document or JSONPath expression can address it.
func JSONPath(m Member) ([]string, bool) {
	var keys []string
	for cur := m; cur != nil; cur = cur.Parent() {
		switch c := cur.(type) {
		case Root:
			return keys, true
		case *Value:
			if c.indexed {
				return nil, false
			}
		case *Child:
			if c.indexed {
				return nil, false
			}
		case *Collection:
			if c.indexed {
				return nil, false
			}
		case *Dictionary:
			if c.indexed {
				return nil, false
			}
		default:
			return nil, false
		}
		keys = append([]string{cur.JSONKey()}, keys...)
	}
	return keys, true
}

// Nest wraps value in objects keyed by path, innermost last: Nest([a b], 1) is
// {"a": {"b": 1}}.
func Nest(path []string, value any) map[string]any {
	out := map[string]any{path[len(path)-1]: value}
	for i := len(path) - 2; i >= 0; i-- {
		out = map[string]any{path[i]: out}
	}
	return out
}
