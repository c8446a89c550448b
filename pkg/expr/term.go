package expr

import (
	"fmt"
	"strconv"

	"github.com/ormasoftchile/patui/pkg/types"
)

// evalTerm resolves a `steps.NAME.CHAN` reference and applies the remaining
// postfix parts to the sequence received so far.
//
// Certainty follows from whether the accessed slice of the stream can still
// change: a present index is Known, a missing index is Unknown, and any view
// of the whole stream (wildcard, bare channel, len()) is Predictable until
// the producer closes.
func evalTerm(e *Expr, term Term, results Results) (Result, error) {
	key, ok := term.SubscriptionKey()
	if !ok {
		return unknown, types.NewError(types.ErrConfiguration,
			"term %q does not name step data (want steps.<step>.<channel>)", e.Raw)
	}
	seq, ok := results[key]
	if !ok {
		return unknown, types.NewError(types.ErrConfiguration,
			"no subscription for term %q", string(key))
	}

	rest := term.Parts[3:]

	// First part after the channel selects out of the stream; everything
	// later operates on the selected value.
	cur, idx, err := selectFromStream(e, rest, seq, results)
	if err != nil || cur.Certainty == Unknown {
		return cur, err
	}

	for idx < len(rest) {
		part := rest[idx]
		idx++
		switch pt := part.(type) {
		case IdentPart:
			// A builtin call when followed by an argument list.
			if idx < len(rest) {
				if call, ok := rest[idx].(CallPart); ok {
					idx++
					cur, err = applyBuiltin(e, string(pt), call, cur)
					if err != nil || cur.Certainty == Unknown {
						return cur, err
					}
					continue
				}
			}
			cur, err = fieldAccess(e, cur, string(pt))
			if err != nil || cur.Certainty == Unknown {
				return cur, err
			}
		case IndexPart:
			cur, err = indexValue(e, cur, int(pt))
			if err != nil || cur.Certainty == Unknown {
				return cur, err
			}
		case RangePart:
			cur, err = rangeValue(e, cur, pt.Lo, pt.Hi)
			if err != nil || cur.Certainty == Unknown {
				return cur, err
			}
		case WildcardPart:
			if cur.Value.Kind() != types.KindArray && cur.Value.Kind() != types.KindSet {
				return unknown, fmt.Errorf("%q: [*] over %s", e.Raw, cur.Value.Kind())
			}
		case SubExprPart:
			sub, err := Eval(pt.Sub, results)
			if err != nil {
				return unknown, err
			}
			if sub.Certainty == Unknown {
				return unknown, nil
			}
			cur, err = computedAccess(e, cur, sub)
			if err != nil || cur.Certainty == Unknown {
				return cur, err
			}
		case CallPart:
			return unknown, fmt.Errorf("%q: call without a function name", e.Raw)
		}
	}

	return cur, nil
}

// selectFromStream consumes the leading postfix parts that apply to the raw
// sequence and returns the resulting value plus how many parts it consumed.
func selectFromStream(e *Expr, rest []TermPart, seq []types.Datum, results Results) (Result, int, error) {
	values := func() []types.Value {
		vals := make([]types.Value, len(seq))
		for i, d := range seq {
			vals[i] = d.Value
		}
		return vals
	}

	if len(rest) == 0 {
		return predictable(types.Array(values()...)), 0, nil
	}

	switch pt := rest[0].(type) {
	case IndexPart:
		if int(pt) < len(seq) {
			return known(seq[int(pt)].Value), 1, nil
		}
		return unknown, 1, nil
	case RangePart:
		if pt.Hi <= len(seq) {
			return known(types.Array(values()[pt.Lo:pt.Hi]...)), 1, nil
		}
		return unknown, 1, nil
	case WildcardPart:
		return predictable(types.Array(values()...)), 1, nil
	case IdentPart:
		// A builtin over the stream itself, e.g. `.len()`.
		if len(rest) >= 2 {
			if call, ok := rest[1].(CallPart); ok {
				res, err := applyBuiltin(e, string(pt), call, predictable(types.Array(values()...)))
				return res, 2, err
			}
		}
		return unknown, 0, fmt.Errorf("%q: cannot select %q from a stream", e.Raw, string(pt))
	case CallPart:
		// A control-action call such as `wait("exit_code")`: the subscribed
		// stream carries the action's single datum once it is available.
		if len(seq) > 0 {
			return known(seq[0].Value), 1, nil
		}
		return unknown, 1, nil
	case SubExprPart:
		sub, err := Eval(pt.Sub, results)
		if err != nil {
			return unknown, 1, err
		}
		if sub.Certainty == Unknown {
			return unknown, 1, nil
		}
		i, err := intIndex(sub.Value)
		if err != nil {
			return unknown, 1, fmt.Errorf("%q: %w", e.Raw, err)
		}
		if i < len(seq) {
			res := known(seq[i].Value)
			res.Certainty = combine(res.Certainty, sub.Certainty)
			return res, 1, nil
		}
		return unknown, 1, nil
	}
	return unknown, 0, fmt.Errorf("%q: unsupported stream selector", e.Raw)
}

func fieldAccess(e *Expr, cur Result, field string) (Result, error) {
	m, err := cur.Value.AsMap()
	if err != nil {
		return unknown, fmt.Errorf("%q: field %q: %w", e.Raw, field, err)
	}
	v, ok := m[field]
	if !ok {
		if cur.Certainty == Known {
			return unknown, fmt.Errorf("%q: no key %q", e.Raw, field)
		}
		return unknown, nil
	}
	return Result{Certainty: cur.Certainty, Value: v}, nil
}

func indexValue(e *Expr, cur Result, i int) (Result, error) {
	elems, err := cur.Value.Elems()
	if err != nil {
		return unknown, fmt.Errorf("%q: index %d: %w", e.Raw, i, err)
	}
	if i < len(elems) {
		return Result{Certainty: cur.Certainty, Value: elems[i]}, nil
	}
	if cur.Certainty == Known {
		return unknown, fmt.Errorf("%q: index %d out of range (len %d)", e.Raw, i, len(elems))
	}
	return unknown, nil
}

func rangeValue(e *Expr, cur Result, lo, hi int) (Result, error) {
	elems, err := cur.Value.Elems()
	if err != nil {
		return unknown, fmt.Errorf("%q: range [%d..%d]: %w", e.Raw, lo, hi, err)
	}
	if hi <= len(elems) {
		return Result{Certainty: cur.Certainty, Value: types.Array(elems[lo:hi]...)}, nil
	}
	if cur.Certainty == Known {
		return unknown, fmt.Errorf("%q: range [%d..%d] out of range (len %d)", e.Raw, lo, hi, len(elems))
	}
	return unknown, nil
}

func computedAccess(e *Expr, cur Result, sub Result) (Result, error) {
	certainty := combine(cur.Certainty, sub.Certainty)
	if sub.Value.Kind() == types.KindString {
		key, _ := sub.Value.AsString()
		res, err := fieldAccess(e, Result{Certainty: certainty, Value: cur.Value}, key)
		return res, err
	}
	i, err := intIndex(sub.Value)
	if err != nil {
		return unknown, fmt.Errorf("%q: %w", e.Raw, err)
	}
	return indexValue(e, Result{Certainty: certainty, Value: cur.Value}, i)
}

func intIndex(v types.Value) (int, error) {
	text, err := v.NumText()
	if err != nil {
		return 0, fmt.Errorf("index is %s, not integer", v.Kind())
	}
	i, err := strconv.ParseInt(text, 0, 64)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("bad index %q", text)
	}
	return int(i), nil
}

// applyBuiltin dispatches the postfix call forms. `len()` is Predictable
// over an open stream (its receiver was built with stream certainty) and
// otherwise preserves the receiver's certainty.
func applyBuiltin(e *Expr, name string, args CallPart, recv Result) (Result, error) {
	switch name {
	case "len":
		if len(args) != 0 {
			return unknown, fmt.Errorf("%q: len() takes no arguments", e.Raw)
		}
		n, err := recv.Value.Len()
		if err != nil {
			return unknown, fmt.Errorf("%q: %w", e.Raw, err)
		}
		return Result{Certainty: recv.Certainty, Value: types.Integer(strconv.Itoa(n))}, nil
	}
	return unknown, fmt.Errorf("%q: unknown function %q", e.Raw, name)
}
