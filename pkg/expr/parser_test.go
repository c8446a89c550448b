package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiterals(t *testing.T) {
	cases := []struct {
		src  string
		want LitKind
	}{
		{"true", BoolLit(true)},
		{"FALSE", BoolLit(false)},
		{"null", NullLit{}},
		{"123", IntegerLit("123")},
		{"-7", IntegerLit("-7")},
		{"0", IntegerLit("0")},
		{"0x1F", IntegerLit("0x1F")},
		{"0b101", IntegerLit("0b101")},
		{"123.456", FloatLit("123.456")},
		{"1e10", FloatLit("1e10")},
		{"-2.5e-3", FloatLit("-2.5e-3")},
		{`"hello"`, StrLit("hello")},
		{`'hello'`, StrLit("hello")},
		{`"he\"llo\n"`, StrLit("he\"llo\n")},
		{`b"ABC"`, BytesLit([]byte("ABC"))},
		{`b[1,2,3]`, BytesLit([]byte{1, 2, 3})},
		{`b[65, "BC"]`, BytesLit([]byte("ABC"))},
	}

	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			e, err := Parse(tc.src)
			require.NoError(t, err)
			lit, ok := e.Kind.(Lit)
			require.True(t, ok, "parsed %T", e.Kind)
			assert.Equal(t, tc.want, lit.Kind)
		})
	}
}

func TestParseRetainsSource(t *testing.T) {
	for _, src := range []string{
		"steps.foo.out[0] == b\"ABC\"",
		"1 + 2 * 3",
		"[1, 2, 3]",
		`{"a": 1, "b": 2}`,
		"{1, 2, 3}",
		"if steps.s.out.len() > 0 { true } else { false }",
		"!foo.bar && baz[1..3] contains 2",
	} {
		t.Run(src, func(t *testing.T) {
			e, err := Parse(src)
			require.NoError(t, err)
			assert.Equal(t, src, e.Raw)
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	e, err := Parse("1 + 2 * 3")
	require.NoError(t, err)
	top, ok := e.Kind.(BinOp)
	require.True(t, ok)
	assert.Equal(t, OpAdd, top.Op)
	assert.Equal(t, "2 * 3", top.R.Raw)

	e, err = Parse("a == 1 && b == 2 || c == 3")
	require.NoError(t, err)
	top = e.Kind.(BinOp)
	assert.Equal(t, OpOr, top.Op)
	assert.Equal(t, "a == 1 && b == 2", top.L.Raw)

	e, err = Parse("x contains 1 + 2")
	require.NoError(t, err)
	top = e.Kind.(BinOp)
	assert.Equal(t, OpContains, top.Op)
	assert.Equal(t, "1 + 2", top.R.Raw)

	e, err = Parse("x NOT CONTAINS y")
	require.NoError(t, err)
	top = e.Kind.(BinOp)
	assert.Equal(t, OpNotContains, top.Op)
}

func TestParseWordOperators(t *testing.T) {
	for _, src := range []string{"a AND b", "a and b", "a && b"} {
		e, err := Parse(src)
		require.NoError(t, err, src)
		assert.Equal(t, OpAnd, e.Kind.(BinOp).Op, src)
	}
	for _, src := range []string{"a OR b", "a || b"} {
		e, err := Parse(src)
		require.NoError(t, err, src)
		assert.Equal(t, OpOr, e.Kind.(BinOp).Op, src)
	}
	e, err := Parse("NOT a")
	require.NoError(t, err)
	assert.Equal(t, OpNot, e.Kind.(UnOp).Op)
}

func TestParseTermParts(t *testing.T) {
	e, err := Parse("foo.bar[1].baz")
	require.NoError(t, err)
	term, ok := e.Kind.(Term)
	require.True(t, ok)
	require.Len(t, term.Parts, 4)
	assert.Equal(t, IdentPart("foo"), term.Parts[0])
	assert.Equal(t, IdentPart("bar"), term.Parts[1])
	assert.Equal(t, IndexPart(1), term.Parts[2])
	assert.Equal(t, IdentPart("baz"), term.Parts[3])

	e, err = Parse("steps.s.out[*]")
	require.NoError(t, err)
	term = e.Kind.(Term)
	assert.Equal(t, WildcardPart{}, term.Parts[3])

	e, err = Parse("steps.s.out[1..4]")
	require.NoError(t, err)
	term = e.Kind.(Term)
	assert.Equal(t, RangePart{Lo: 1, Hi: 4}, term.Parts[3])

	e, err = Parse("steps.s.out.len()")
	require.NoError(t, err)
	term = e.Kind.(Term)
	require.Len(t, term.Parts, 5)
	assert.Equal(t, IdentPart("len"), term.Parts[3])
	assert.Equal(t, CallPart(nil), term.Parts[4])

	e, err = Parse("steps.s.out[steps.i.out[0]]")
	require.NoError(t, err)
	term = e.Kind.(Term)
	sub, ok := term.Parts[3].(SubExprPart)
	require.True(t, ok)
	assert.Equal(t, "steps.i.out[0]", sub.Sub.Raw)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"1 +",
		"(1",
		"[1, 2",
		`"unterminated`,
		"foo.",
		"123abc",
		"a == == b",
		"if a { b }", // missing else
		"1 2",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			assert.Error(t, err)
		})
	}
}

func TestTermExtraction(t *testing.T) {
	e, err := Parse("steps.foo.out[1] == 123 && steps.bar.out[0] == steps.foo.out[2]")
	require.NoError(t, err)

	terms := Terms(e)
	require.Len(t, terms, 3)
	assert.Equal(t, "steps.foo.out[1]", terms[0].Raw)
	assert.Equal(t, "steps.bar.out[0]", terms[1].Raw)
	assert.Equal(t, "steps.foo.out[2]", terms[2].Raw)

	keys := SubscriptionKeys(e)
	require.Len(t, keys, 2)
	assert.Equal(t, TermKey("steps.foo.out"), keys[0])
	assert.Equal(t, TermKey("steps.bar.out"), keys[1])
}

func TestTermExtractionSkipsLiteralSubtrees(t *testing.T) {
	e, err := Parse("[1, 2, 3] == [4, 5, 6]")
	require.NoError(t, err)
	assert.Empty(t, Terms(e))
}

func TestTermExtractionIsIdempotent(t *testing.T) {
	e, err := Parse("steps.a.out[0] == steps.b.out[1]")
	require.NoError(t, err)
	first := Terms(e)
	second := Terms(e)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]))
	}
}

func TestTermsInsideComputedIndexes(t *testing.T) {
	e, err := Parse("steps.s.out[steps.i.out[0]]")
	require.NoError(t, err)
	terms := Terms(e)
	require.Len(t, terms, 2)
	assert.Equal(t, "steps.s.out[steps.i.out[0]]", terms[0].Raw)
	assert.Equal(t, "steps.i.out[0]", terms[1].Raw)
}

func TestExprEqualityBySource(t *testing.T) {
	a := MustParse("steps.s.out[0] == null")
	b := MustParse("steps.s.out[0] == null")
	c := MustParse("steps.s.out[0]==null")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c)) // equality is literal source equality
}
