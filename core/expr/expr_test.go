package expr

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Color int

const (
	Red Color = iota
	Green
	Blue
)

func (c Color) String() string {
	return [...]string{"Red", "Green", "Blue"}[c]
}

type Child struct {
	Number int
	Name   string
}

type Target struct {
	Id       uuid.UUID
	Number   int
	Double   float64
	String   string
	Flag     bool
	Color    Color
	Tags     []string
	Numbers  []int
	Children []Child
	Inner    *Target
	Attrs    map[string]string
}

func TestBuilder_Types(t *testing.T) {
	x := Wrap(NewParameter("x", reflect.TypeFor[Target]()))

	tests := []struct {
		name     string
		expr     E
		expected reflect.Type
	}{
		{"member", x.Member("Number"), reflect.TypeFor[int]()},
		{"nested member", x.Member("Inner").Member("String"), reflect.TypeFor[string]()},
		{"index", x.Member("Tags").Index(0), reflect.TypeFor[string]()},
		{"key", x.Member("Attrs").Key("color"), reflect.TypeFor[string]()},
		{"comparison", x.Member("Number").Gt(3), reflect.TypeFor[bool]()},
		{"arithmetic", x.Member("Number").Mod(2), reflect.TypeFor[int]()},
		{"count", x.Member("Children").Count(), reflect.TypeFor[int]()},
		{"len", x.Member("Numbers").Len(), reflect.TypeFor[int]()},
		{"select", x.Member("Children").Select(func(c E) E { return c.Member("Name") }), reflect.TypeFor[[]string]()},
		{"keys", x.Member("Attrs").Keys(), reflect.TypeFor[[]string]()},
		{"unknown member", x.Member("Missing"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.expr.Type())
		})
	}
}

func TestBuilder_ContainsDispatch(t *testing.T) {
	x := Wrap(NewParameter("x", reflect.TypeFor[Target]()))

	s := x.Member("String").Contains("a").Node().(*Call)
	assert.Equal(t, FamilyString, s.Family)
	assert.Equal(t, x.Member("String").Node().(*Member).Name, s.Receiver.(*Member).Name)

	c := x.Member("Tags").Contains("a").Node().(*Call)
	assert.Equal(t, FamilyEnumerable, c.Family)
	assert.Nil(t, c.Receiver)
	assert.Len(t, c.Args, 2)
	assert.Equal(t, "Tags", c.Subject().(*Member).Name)
	assert.Len(t, c.Operands(), 1)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		lambda   *Lambda
		expected string
	}{
		{
			name:     "comparison",
			lambda:   LambdaFor[Target](func(x E) E { return x.Member("Number").Gt(3) }),
			expected: "x => (x.Number > 3)",
		},
		{
			name: "sub-query",
			lambda: LambdaFor[Target](func(x E) E {
				return x.Member("Children").Any(func(c E) E { return c.Member("Name").StartsWith("A") })
			}),
			expected: `x => x.Children.Any(c => c.Name.StartsWith("A"))`,
		},
		{
			name:     "static",
			lambda:   LambdaFor[Target](func(x E) E { return IsNullOrEmpty(x.Member("String")).Not() }),
			expected: "x => !string.IsNullOrEmpty(x.String)",
		},
		{
			name: "projection",
			lambda: LambdaFor[Target](func(x E) E {
				return NewAnonymous(Bind("Name", x.Member("String")), Bind("N", 1))
			}),
			expected: "x => new {Name = x.String, N = 1}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.lambda))
		})
	}
}

func TestNewClosure_PanicsOnNonPointer(t *testing.T) {
	assert.Panics(t, func() { NewClosure("n", 3) })
	var p *int
	assert.Panics(t, func() { NewClosure("n", p) })
}

func TestEval_Constants(t *testing.T) {
	n := 5
	name := "Jeremy"

	tests := []struct {
		name     string
		expr     E
		expected any
	}{
		{"literal", Const(3), 3},
		{"closure", Ref("n", &n), 5},
		{"negation", Ref("n", &n).Neg(), -5},
		{"arithmetic", Ref("n", &n).Add(2).Mul(3), 21},
		{"modulo", Ref("n", &n).Mod(2), 1},
		{"integer division", Ref("n", &n).Div(2), 2},
		{"string concat", Ref("name", &name).Add("!"), "Jeremy!"},
		{"conversion", Ref("n", &n).Convert(reflect.TypeFor[float64]()), 5.0},
		{"enum conversion", Const(2).Convert(reflect.TypeFor[Color]()), Blue},
		{"string method", Ref("name", &name).ToUpper(), "JEREMY"},
		{"comparison", Ref("n", &n).Gte(5), true},
		{"index", Const([]int{1, 2, 3}).Index(1), 2},
		{"out of range index", Const([]int{1}).Index(4), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Eval(tt.expr.Node())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}

	t.Run("closure reads current value", func(t *testing.T) {
		e := Ref("n", &n).Add(1)
		n = 10
		v, err := Eval(e.Node())
		require.NoError(t, err)
		assert.Equal(t, 11, v)
	})

	t.Run("parameter is not constant", func(t *testing.T) {
		x := Wrap(NewParameter("x", reflect.TypeFor[Target]()))
		_, err := Eval(x.Member("Number").Node())
		assert.True(t, errors.Is(err, ErrNotConstant))
		assert.False(t, IsConstant(x.Member("Number").Node()))
		assert.True(t, IsConstant(Ref("n", &n).Add(1).Node()))
	})
}

func TestMatch(t *testing.T) {
	doc := Target{
		Number:   4,
		String:   "Hello World",
		Flag:     true,
		Color:    Green,
		Tags:     []string{"a", "b"},
		Children: []Child{{Number: 1, Name: "one"}, {Number: 5, Name: "five"}},
		Attrs:    map[string]string{"color": "blue"},
		Inner:    &Target{Number: 9},
	}

	tests := []struct {
		name     string
		build    func(x E) E
		expected bool
	}{
		{"gt", func(x E) E { return x.Member("Number").Gt(3) }, true},
		{"reversed", func(x E) E { return Const(3).Lt(x.Member("Number")) }, true},
		{"and", func(x E) E { return x.Member("Number").Gt(3).And(x.Member("Flag")) }, true},
		{"or", func(x E) E { return x.Member("Number").Gt(10).Or(x.Member("Flag").Not()) }, false},
		{"starts with ignore case", func(x E) E { return x.Member("String").StartsWith("hello", OrdinalIgnoreCase) }, true},
		{"starts with ordinal", func(x E) E { return x.Member("String").StartsWith("hello") }, false},
		{"tags contains", func(x E) E { return x.Member("Tags").Contains("b") }, true},
		{"is one of", func(x E) E { return x.Member("Number").IsOneOf([]int{1, 4}) }, true},
		{"is not one of", func(x E) E { return x.Member("Number").IsNotOneOf([]int{1, 4}) }, false},
		{"enum against name", func(x E) E { return x.Member("Color").Eq("Green") }, true},
		{"enum against value", func(x E) E { return x.Member("Color").Eq(Green) }, true},
		{"any with predicate", func(x E) E {
			return x.Member("Children").Any(func(c E) E { return c.Member("Number").Gt(3) })
		}, true},
		{"count with predicate", func(x E) E {
			return x.Member("Children").Count(func(c E) E { return c.Member("Number").Gt(3) }).Eq(1)
		}, true},
		{"nested member", func(x E) E { return x.Member("Inner").Member("Number").Eq(9) }, true},
		{"dictionary key", func(x E) E { return x.Member("Attrs").ContainsKey("color") }, true},
		{"dictionary entry", func(x E) E { return x.Member("Attrs").ContainsEntry("color", "red") }, false},
		{"dictionary index", func(x E) E { return x.Member("Attrs").Key("color").Eq("blue") }, true},
		{"compare to", func(x E) E { return x.Member("String").CompareTo("A").Gt(0) }, true},
		{"literal false", func(x E) E { return Const(false) }, false},
		{"is empty", func(x E) E { return x.Member("Numbers").IsEmpty() }, true},
		{"intersect", func(x E) E { return x.Member("Tags").Intersect([]string{"b", "z"}).Any() }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Match(LambdaFor[Target](tt.build), doc)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}

	t.Run("non boolean lambda", func(t *testing.T) {
		_, err := Match(LambdaFor[Target](func(x E) E { return x.Member("Number") }), doc)
		assert.Error(t, err)
	})

	t.Run("unsupported method", func(t *testing.T) {
		_, err := Match(LambdaFor[Target](func(x E) E { return x.Search("hello") }), doc)
		var unsupported *UnsupportedMethodError
		require.True(t, errors.As(err, &unsupported))
		assert.Equal(t, "Search", unsupported.Method)
		assert.True(t, errors.Is(err, ErrUnsupported))
	})
}

func TestApply_Projection(t *testing.T) {
	type Summary struct {
		Name  string
		Total int
	}
	project := LambdaFor[Target](func(x E) E {
		return NewOf[Summary](Bind("Name", x.Member("String")), Bind("Total", x.Member("Number").Add(1)))
	})

	v, err := Apply(project, Target{String: "a", Number: 2})
	require.NoError(t, err)
	assert.Equal(t, Summary{Name: "a", Total: 3}, v)
}

func TestSubstitute(t *testing.T) {
	selector := LambdaFor[Target](func(x E) E {
		return NewAnonymous(Bind("Name", x.Member("String")), Bind("Inner", x.Member("Inner")))
	})
	shape := NewParameter("y", selector.Type())
	y := Wrap(shape)

	where := y.Member("Name").Eq("A").And(y.Member("Inner").Member("Number").Gt(1))
	got := Substitute(where.Node(), shape, selector.Body)

	assert.Equal(t, `((x.String == "A") && (x.Inner.Number > 1))`, Format(got))
	assert.Equal(t, reflect.TypeFor[int](), got.(*Binary).Right.(*Binary).Left.Type())

	doc := Target{String: "A", Inner: &Target{Number: 2}}
	ok, err := Match(NewLambda(got, selector.Param()), doc)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClosures(t *testing.T) {
	a, b := 1, "x"
	l := LambdaFor[Target](func(x E) E {
		return x.Member("Number").Gt(Ref("a", &a)).And(x.Member("String").Eq(Ref("b", &b)))
	})
	cs := Closures(l)
	require.Len(t, cs, 2)
	assert.Equal(t, "a", cs[0].Name)
	assert.Equal(t, "b", cs[1].Name)
}

func TestConvertTo(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name     string
		value    any
		target   reflect.Type
		expected any
		wantErr  bool
	}{
		{"int to float", 3, reflect.TypeFor[float64](), 3.0, false},
		{"string to int", "42", reflect.TypeFor[int](), 42, false},
		{"string to uuid", id.String(), reflect.TypeFor[uuid.UUID](), id, false},
		{"named string", "Red", reflect.TypeFor[string](), "Red", false},
		{"bad int", "nope", reflect.TypeFor[int](), nil, true},
		{"bool to int", true, reflect.TypeFor[int](), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ConvertTo(tt.value, tt.target)
			if tt.wantErr {
				var conv *ConversionError
				assert.True(t, errors.As(err, &conv), fmt.Sprint(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestBinaryOp_FlipAndNegate(t *testing.T) {
	assert.Equal(t, OpGreaterThan, OpLessThan.Flip())
	assert.Equal(t, OpLessThanOrEqual, OpGreaterThanOrEqual.Flip())
	assert.Equal(t, OpEqual, OpEqual.Flip())
	assert.Equal(t, OpGreaterThanOrEqual, OpLessThan.Negate())
	assert.Equal(t, OpEqual, OpNotEqual.Negate())
}

func TestErrors(t *testing.T) {
	x := Wrap(NewParameter("x", reflect.TypeFor[Target]()))
	err := &UnsupportedMethodError{Method: "Reverse"}
	assert.Equal(t, "document store does not (yet) support Linq operator/method 'Reverse'", err.Error())

	bad := BadExpression(x.Member("Number").Node(), "no locator")
	assert.Contains(t, bad.Error(), "x.Number")
	assert.True(t, errors.Is(bad, ErrUnsupported))

	cause := errors.New("boom")
	conv := NewConversionError("a", reflect.TypeFor[int](), cause)
	assert.True(t, errors.Is(conv, cause))
}
