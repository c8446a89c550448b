package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// The plugin wire format carries each Value as a MessagePack two-element
// array: the kind tag, then the body. Collections nest recursively.

// EncodeValue serializes a Value for a plugin datum payload.
func EncodeValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, v); err != nil {
		return nil, fmt.Errorf("encode %s value: %w", v.Kind(), err)
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.boolVal)
	case KindBytes:
		return enc.EncodeBytes(v.bytesVal)
	case KindString, KindInteger, KindFloat:
		return enc.EncodeString(v.strVal)
	case KindArray, KindSet:
		if err := enc.EncodeArrayLen(len(v.elems)); err != nil {
			return err
		}
		for _, e := range v.elems {
			if err := encodeValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if err := enc.EncodeMapLen(len(v.mapVal)); err != nil {
			return err
		}
		for k, e := range v.mapVal {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := encodeValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unencodable kind %s", v.kind)
}

// DecodeValue deserializes a plugin datum payload.
func DecodeValue(payload []byte) (Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

func decodeValue(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Value{}, err
	}
	if n != 2 {
		return Value{}, fmt.Errorf("want [tag, body] pair, got %d elements", n)
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return Value{}, err
	}
	switch ValueKind(tag) {
	case KindNull:
		if err := dec.DecodeNil(); err != nil {
			return Value{}, err
		}
		return Null(), nil
	case KindBool:
		b, err := dec.DecodeBool()
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case KindBytes:
		b, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil
	case KindString:
		s, err := dec.DecodeString()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case KindInteger:
		s, err := dec.DecodeString()
		if err != nil {
			return Value{}, err
		}
		return Integer(s), nil
	case KindFloat:
		s, err := dec.DecodeString()
		if err != nil {
			return Value{}, err
		}
		return Float(s), nil
	case KindArray, KindSet:
		count, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			e, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, e)
		}
		if ValueKind(tag) == KindSet {
			return Set(elems...), nil
		}
		return Array(elems...), nil
	case KindMap:
		count, err := dec.DecodeMapLen()
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, count)
		for i := 0; i < count; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return Value{}, err
			}
			e, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			m[k] = e
		}
		return Map(m), nil
	}
	return Value{}, fmt.Errorf("unknown value tag %d", tag)
}

// FromGo converts the generic Go values produced by the json, yaml and toml
// decoders into the tagged union. Numbers keep their textual form where the
// decoder preserves it (json.Number), otherwise they are formatted back.
func FromGo(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		if _, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return Integer(x.String()), nil
		}
		return Float(x.String()), nil
	case int:
		return Integer(strconv.Itoa(x)), nil
	case int64:
		return Integer(strconv.FormatInt(x, 10)), nil
	case uint64:
		return Integer(strconv.FormatUint(x, 10)), nil
	case float64:
		if x == float64(int64(x)) {
			return Integer(strconv.FormatInt(int64(x), 10)), nil
		}
		return Float(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case []byte:
		return Bytes(x), nil
	case []any:
		elems := make([]Value, 0, len(x))
		for _, e := range x {
			v, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, v)
		}
		return Array(elems...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			v, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	case map[any]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			ks, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("map key %v is not a string", k)
			}
			v, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			m[ks] = v
		}
		return Map(m), nil
	}
	return Value{}, fmt.Errorf("cannot represent %T", raw)
}
