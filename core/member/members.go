package member

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/asaidimu/go-marten/core/expr"
	"github.com/asaidimu/go-marten/core/schema"
)

// DocumentAlias is the table alias every document-level locator refers to.
const DocumentAlias = "d"

// DocumentRoot is the stored document itself.
type DocumentRoot struct {
	base
	children sync.Map
}

// NewDocumentRoot creates the root of a document type's member tree.
func NewDocumentRoot(m *schema.DocumentMapping) *DocumentRoot {
	return &DocumentRoot{base: base{
		name:      m.DocType.Name(),
		typ:       m.DocType,
		fieldType: schema.FieldTypeObject,
		mapping:   m,
	}}
}

func (r *DocumentRoot) Alias() string        { return DocumentAlias }
func (r *DocumentRoot) RawLocator() string   { return DocumentAlias + ".data" }
func (r *DocumentRoot) TypedLocator() string { return DocumentAlias + ".data" }
func (r *DocumentRoot) JSONBLocator() string { return DocumentAlias + ".data" }

// FieldPath resolves a dot-separated Go field path such as "Inner.Name".
func (r *DocumentRoot) FieldPath(path string) (Member, error) {
	var cur Member = r
	for _, name := range strings.Split(path, ".") {
		c, ok := cur.(Container)
		if !ok {
			return nil, fmt.Errorf("%s has no members", cur.Path())
		}
		next, err := c.Child(name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Child returns the top-level member name. The identity field resolves to the id
// column and duplicated fields to their own columns.
func (r *DocumentRoot) Child(name string) (Member, error) {
	if cached, ok := r.children.Load(name); ok {
		return cached.(Member), nil
	}
	var m Member
	if name == r.mapping.IdMember {
		f, _ := r.typ.FieldByName(name)
		m = &Id{base: base{
			name:      name,
			key:       schema.KeyFor(f, r.mapping.Serializer.Casing()),
			path:      name,
			typ:       f.Type,
			fieldType: schema.FieldTypeOf(f.Type),
			parent:    r,
			mapping:   r.mapping,
		}}
	} else {
		var err error
		m, err = structChild(r, r.mapping, r.typ, "", name)
		if err != nil {
			return nil, err
		}
	}
	actual, _ := r.children.LoadOrStore(name, m)
	return actual.(Member), nil
}

// ElementRoot is the current element of a collection flattened with
// jsonb_array_elements, as seen from inside a sub-select. It also stands for the
// rows of an intermediate statement, whose data column holds jsonb values.
type ElementRoot struct {
	base
	alias      string
	collection *Collection
	scalar     bool
	// rows marks jsonb rows of a previous statement rather than flattened elements.
	rows     bool
	children sync.Map
}

// NewRowRoot creates the root of rows selected by an earlier statement into a
// jsonb data column, such as the elements produced by SelectMany.
func NewRowRoot(mapping *schema.DocumentMapping, t reflect.Type, alias string) *ElementRoot {
	ft := schema.FieldTypeOf(t)
	return &ElementRoot{
		base:   base{name: alias, typ: t, fieldType: ft, mapping: mapping},
		alias:  alias,
		scalar: ft.IsScalar(),
		rows:   true,
	}
}

func (r *ElementRoot) Alias() string { return r.alias }

func (r *ElementRoot) RawLocator() string {
	if r.rows && r.scalar {
		return r.alias + ".data #>> '{}'"
	}
	return r.alias + ".data"
}

func (r *ElementRoot) TypedLocator() string {
	if !r.scalar {
		return r.alias + ".data"
	}
	return Cast(r.RawLocator(), PgType(r.typ, r.fieldType, r.mapping.Serializer.EnumStorage()))
}

// JSONBLocator is the element itself. Scalar elements are flattened as text, so
// they are converted back to jsonb from their typed value.
func (r *ElementRoot) JSONBLocator() string {
	if r.scalar && !r.rows {
		return "to_jsonb(" + r.TypedLocator() + ")"
	}
	return r.alias + ".data"
}

// Scalar reports whether the elements are JSON scalars rather than objects.
func (r *ElementRoot) Scalar() bool { return r.scalar }

// Collection returns the collection the element belongs to, or nil for the rows of
// a previous statement.
func (r *ElementRoot) Collection() *Collection { return r.collection }

// Source renders the set-returning function that yields the elements.
func (r *ElementRoot) Source() string {
	fn := "jsonb_array_elements"
	if r.scalar {
		fn = "jsonb_array_elements_text"
	}
	return fmt.Sprintf("%s(%s) as %s(data)", fn, r.collection.JSONBLocator(), r.alias)
}

func (r *ElementRoot) Child(name string) (Member, error) {
	if r.scalar {
		return nil, fmt.Errorf("elements of %s have no member %s", r.typ, name)
	}
	if cached, ok := r.children.Load(name); ok {
		return cached.(Member), nil
	}
	m, err := structChild(r, r.mapping, r.typ, "", name)
	if err != nil {
		return nil, err
	}
	actual, _ := r.children.LoadOrStore(name, m)
	return actual.(Member), nil
}

// structChild resolves a field of a struct-typed container.
func structChild(owner Member, mapping *schema.DocumentMapping, t reflect.Type, prefix, name string) (Member, error) {
	t = expr.Deref(t)
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}
	f, ok := t.FieldByName(name)
	if !ok || !f.IsExported() {
		return nil, fmt.Errorf("%s has no exported field %s", t, name)
	}
	key := schema.KeyFor(f, mapping.Serializer.Casing())
	if key == "" {
		return nil, fmt.Errorf("field %s.%s is not serialized", t, name)
	}
	path := name
	if prefix != "" {
		path = prefix + "." + name
	}

	if _, docRooted := RootOf(owner).(*DocumentRoot); docRooted {
		if dup, ok := mapping.Duplicated(path); ok {
			return &Duplicated{
				base: base{
					name: name, key: key, path: path, typ: f.Type,
					fieldType: dup.FieldType, parent: owner, mapping: mapping,
				},
				column: dup,
			}, nil
		}
	}
	return newMember(owner, mapping, name, key, Literal(key), path, f.Type, false), nil
}

// newMember picks the member kind for a Go type.
func newMember(parent Member, mapping *schema.DocumentMapping, name, key, segment, path string, t reflect.Type, indexed bool) Member {
	ft := schema.FieldTypeOf(t)
	if _, docRooted := RootOf(parent).(*DocumentRoot); docRooted && !indexed {
		if o, ok := mapping.FieldTypeOverride(path); ok {
			ft = o
		}
	}
	b := base{
		name: name, key: key, segment: segment, path: path, typ: t,
		fieldType: ft, parent: parent, mapping: mapping, indexed: indexed,
	}
	switch ft {
	case schema.FieldTypeArray:
		return &Collection{base: b}
	case schema.FieldTypeRecord:
		return &Dictionary{base: b}
	case schema.FieldTypeObject:
		if expr.Deref(t).Kind() == reflect.Struct {
			return &Child{base: b}
		}
	}
	return &Value{base: b}
}

// Value is a scalar member stored inside the JSON body.
type Value struct {
	base
}

func (v *Value) RawLocator() string   { return v.rawLocator() }
func (v *Value) JSONBLocator() string { return v.jsonbLocator() }

func (v *Value) TypedLocator() string {
	return Cast(v.rawLocator(), PgType(v.typ, v.fieldType, v.mapping.Serializer.EnumStorage()))
}

// Id is the document identity, stored in the id column.
type Id struct {
	base
}

func (i *Id) RawLocator() string   { return DocumentAlias + ".id" }
func (i *Id) TypedLocator() string { return DocumentAlias + ".id" }
func (i *Id) JSONBLocator() string { return "to_jsonb(" + DocumentAlias + ".id)" }

// Duplicated is a member whose value is copied into its own column.
type Duplicated struct {
	base
	column schema.DuplicatedField
}

func (d *Duplicated) RawLocator() string   { return DocumentAlias + "." + d.column.Column }
func (d *Duplicated) TypedLocator() string { return DocumentAlias + "." + d.column.Column }
func (d *Duplicated) JSONBLocator() string {
	return "to_jsonb(" + DocumentAlias + "." + d.column.Column + ")"
}

// Column returns the backing column definition.
func (d *Duplicated) Column() schema.DuplicatedField { return d.column }

// Child is a nested object member.
type Child struct {
	base
	children sync.Map
}

func (c *Child) RawLocator() string   { return c.rawLocator() }
func (c *Child) TypedLocator() string { return c.jsonbLocator() }
func (c *Child) JSONBLocator() string { return c.jsonbLocator() }

func (c *Child) Child(name string) (Member, error) {
	if cached, ok := c.children.Load(name); ok {
		return cached.(Member), nil
	}
	m, err := structChild(c, c.mapping, c.typ, c.path, name)
	if err != nil {
		return nil, err
	}
	actual, _ := c.children.LoadOrStore(name, m)
	return actual.(Member), nil
}

// ArrayMember is a member that can be rendered as a typed SQL array.
type ArrayMember interface {
	Member
	ArrayLocator() string
	ElementType() reflect.Type
	ElementFieldType() schema.FieldType
}

// Collection is a slice or array member.
type Collection struct {
	base
	once    sync.Once
	element *ElementRoot
}

func (c *Collection) RawLocator() string   { return c.rawLocator() }
func (c *Collection) TypedLocator() string { return c.jsonbLocator() }
func (c *Collection) JSONBLocator() string { return c.jsonbLocator() }

func (c *Collection) ElementType() reflect.Type { return expr.ElementType(c.typ) }

func (c *Collection) ElementFieldType() schema.FieldType {
	return schema.FieldTypeOf(c.ElementType())
}

// IsScalar reports whether the elements are JSON scalars.
func (c *Collection) IsScalar() bool { return c.ElementFieldType().IsScalar() }

// ArrayPgType is the SQL array type of the elements.
func (c *Collection) ArrayPgType() string {
	return ArrayPgType(c.ElementFieldType(), c.mapping.Serializer.EnumStorage())
}

// ArrayLocator renders the elements as a typed SQL array.
func (c *Collection) ArrayLocator() string {
	if !c.IsScalar() {
		return fmt.Sprintf("ARRAY(SELECT jsonb_array_elements(%s))", c.JSONBLocator())
	}
	return fmt.Sprintf("CAST(ARRAY(SELECT jsonb_array_elements_text(%s)) as %s)", c.JSONBLocator(), c.ArrayPgType())
}

// Element returns the root used to query the collection's elements in a sub-select.
// Each nesting level gets its own alias so sub-selects can refer to outer elements.
func (c *Collection) Element() *ElementRoot {
	c.once.Do(func() {
		depth := 1
		for cur := Member(c); cur != nil; cur = cur.Parent() {
			r, ok := cur.(*ElementRoot)
			if !ok {
				continue
			}
			if r.rows {
				break
			}
			depth++
			cur = r.collection
		}
		et := c.ElementType()
		c.element = &ElementRoot{
			base: base{
				name:      c.name,
				typ:       et,
				fieldType: schema.FieldTypeOf(et),
				mapping:   c.mapping,
			},
			alias:      "c" + strconv.Itoa(depth),
			collection: c,
			scalar:     c.IsScalar(),
		}
	})
	return c.element
}

// Index returns the member at a fixed array position.
func (c *Collection) Index(i int) Member {
	return newMember(c, c.mapping, "["+strconv.Itoa(i)+"]", "", strconv.Itoa(i),
		c.path+"["+strconv.Itoa(i)+"]", c.ElementType(), true)
}

// Dictionary is a map member.
type Dictionary struct {
	base
}

func (d *Dictionary) RawLocator() string   { return d.rawLocator() }
func (d *Dictionary) TypedLocator() string { return d.jsonbLocator() }
func (d *Dictionary) JSONBLocator() string { return d.jsonbLocator() }

// ValueType is the Go type of the map's values.
func (d *Dictionary) ValueType() reflect.Type { return expr.Deref(d.typ).Elem() }

// Entry returns a synthetic member for the value under key.
func (d *Dictionary) Entry(key string) Member {
	return newMember(d, d.mapping, key, key, Literal(key), d.path+"."+key, d.ValueType(), true)
}

// Keys returns the key collection of the map.
func (d *Dictionary) Keys() *DictionaryPart {
	return &DictionaryPart{dict: d, keys: true}
}

// Values returns the value collection of the map.
func (d *Dictionary) Values() *DictionaryPart {
	return &DictionaryPart{dict: d}
}

// DictionaryPart is the key or value collection of a map member.
type DictionaryPart struct {
	dict *Dictionary
	keys bool
}

func (p *DictionaryPart) Name() string {
	if p.keys {
		return "Keys"
	}
	return "Values"
}
func (p *DictionaryPart) JSONKey() string { return "" }
func (p *DictionaryPart) Path() string    { return p.dict.path + "." + p.Name() }
func (p *DictionaryPart) Parent() Member  { return p.dict }

func (p *DictionaryPart) Type() reflect.Type { return reflect.SliceOf(p.ElementType()) }

func (p *DictionaryPart) FieldType() schema.FieldType { return schema.FieldTypeArray }

// IsKeys reports whether this is the key collection.
func (p *DictionaryPart) IsKeys() bool { return p.keys }

// Dictionary returns the owning map member.
func (p *DictionaryPart) Dictionary() *Dictionary { return p.dict }

func (p *DictionaryPart) ElementType() reflect.Type {
	t := expr.Deref(p.dict.typ)
	if p.keys {
		return t.Key()
	}
	return t.Elem()
}

func (p *DictionaryPart) ElementFieldType() schema.FieldType {
	return schema.FieldTypeOf(p.ElementType())
}

func (p *DictionaryPart) ArrayLocator() string {
	if p.keys {
		return fmt.Sprintf("ARRAY(SELECT jsonb_object_keys(%s))", p.dict.JSONBLocator())
	}
	return fmt.Sprintf("CAST(ARRAY(SELECT value FROM jsonb_each_text(%s)) as %s)", p.dict.JSONBLocator(),
		ArrayPgType(p.ElementFieldType(), p.dict.mapping.Serializer.EnumStorage()))
}

func (p *DictionaryPart) RawLocator() string   { return p.ArrayLocator() }
func (p *DictionaryPart) TypedLocator() string { return p.ArrayLocator() }
func (p *DictionaryPart) JSONBLocator() string { return "to_jsonb(" + p.ArrayLocator() + ")" }

// Length is the element count of a collection or map, or the length of a string.
type Length struct {
	of Member
}

func (l *Length) Name() string                { return "Count" }
func (l *Length) JSONKey() string             { return "" }
func (l *Length) Path() string                { return l.of.Path() + ".Count" }
func (l *Length) Type() reflect.Type          { return reflect.TypeFor[int]() }
func (l *Length) FieldType() schema.FieldType { return schema.FieldTypeInteger }
func (l *Length) Parent() Member              { return l.of }

// Of returns the measured member.
func (l *Length) Of() Member { return l.of }

func (l *Length) RawLocator() string {
	switch of := l.of.(type) {
	case *Dictionary:
		return fmt.Sprintf("(SELECT count(*) FROM jsonb_object_keys(%s))", of.JSONBLocator())
	case *Collection:
		return fmt.Sprintf("jsonb_array_length(%s)", of.JSONBLocator())
	case *DictionaryPart:
		return fmt.Sprintf("(SELECT count(*) FROM jsonb_object_keys(%s))", of.dict.JSONBLocator())
	}
	return fmt.Sprintf("char_length(%s)", l.of.RawLocator())
}

func (l *Length) TypedLocator() string { return l.RawLocator() }
func (l *Length) JSONBLocator() string { return "to_jsonb(" + l.RawLocator() + ")" }

// Cased applies lower() or upper() to a string member.
type Cased struct {
	of    Member
	upper bool
}

func (c *Cased) fn() string {
	if c.upper {
		return "upper"
	}
	return "lower"
}

func (c *Cased) Name() string                { return c.of.Name() }
func (c *Cased) JSONKey() string             { return "" }
func (c *Cased) Path() string                { return c.of.Path() }
func (c *Cased) Type() reflect.Type          { return c.of.Type() }
func (c *Cased) FieldType() schema.FieldType { return schema.FieldTypeString }
func (c *Cased) Parent() Member              { return c.of.Parent() }
func (c *Cased) RawLocator() string          { return c.fn() + "(" + c.of.RawLocator() + ")" }
func (c *Cased) TypedLocator() string        { return c.RawLocator() }
func (c *Cased) JSONBLocator() string        { return "to_jsonb(" + c.RawLocator() + ")" }

// Upper reports whether the transform is upper().
func (c *Cased) Upper() bool { return c.upper }

var (
	_ Root        = (*DocumentRoot)(nil)
	_ Root        = (*ElementRoot)(nil)
	_ Container   = (*Child)(nil)
	_ ArrayMember = (*Collection)(nil)
	_ ArrayMember = (*DictionaryPart)(nil)
	_ Member      = (*Value)(nil)
	_ Member      = (*Id)(nil)
	_ Member      = (*Duplicated)(nil)
	_ Member      = (*Length)(nil)
	_ Member      = (*Cased)(nil)
)
