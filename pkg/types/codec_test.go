package types

import "testing"

func TestValueWireRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Bytes([]byte{0, 1, 255}),
		String("test"),
		Integer("123456789012345678901234567890"),
		Float("1.25e10"),
		Array(Integer("1"), Integer("2"), Integer("3")),
		Map(map[string]Value{"a": Integer("1"), "b": Integer("2")}),
		Set(String("x"), String("y")),
		Array(Map(map[string]Value{"nested": Array(Null(), Bool(true))})),
	}

	for _, v := range values {
		payload, err := EncodeValue(v)
		if err != nil {
			t.Fatalf("encode %s: %v", v, err)
		}
		back, err := DecodeValue(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", v, err)
		}
		if !back.Equal(v) {
			t.Errorf("round trip changed %s into %s", v, back)
		}
	}
}

func TestDecodeRejectsBadTag(t *testing.T) {
	// [99, nil] — a tag outside the union.
	payload := []byte{0x92, 0x63, 0xc0}
	if _, err := DecodeValue(payload); err == nil {
		t.Error("decode accepted unknown tag")
	}
}

func TestFromGo(t *testing.T) {
	raw := map[string]any{
		"s":    "text",
		"b":    true,
		"n":    nil,
		"i":    int64(42),
		"f":    1.5,
		"list": []any{"a", int64(1)},
		"deep": map[string]any{"k": "v"},
	}

	v, err := FromGo(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, err := v.AsMap()
	if err != nil {
		t.Fatal(err)
	}
	if !m["s"].Equal(String("text")) {
		t.Errorf("string: %s", m["s"])
	}
	if !m["i"].Equal(Integer("42")) {
		t.Errorf("integer: %s", m["i"])
	}
	if !m["f"].Equal(Float("1.5")) {
		t.Errorf("float: %s", m["f"])
	}
	if !m["n"].IsNull() {
		t.Errorf("null: %s", m["n"])
	}
	if !m["list"].Equal(Array(String("a"), Integer("1"))) {
		t.Errorf("list: %s", m["list"])
	}
}

func TestFromGoWholeFloatIsInteger(t *testing.T) {
	// encoding/json without UseNumber hands back float64 for every number;
	// whole floats must still compare equal to integer literals.
	v, err := FromGo(float64(3))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(Integer("3")) {
		t.Errorf("3.0 decoded as %s", v)
	}
}
