package expr

import (
	"fmt"
	"math/big"

	"github.com/ormasoftchile/patui/pkg/types"
)

// Certainty is the three-valued outcome of evaluating against a partial
// result set.
type Certainty int

const (
	// Unknown: the result cannot be determined from the data seen so far.
	Unknown Certainty = iota
	// Predictable: defined now, but a later arrival could change it.
	Predictable
	// Known: fixed; no further data can change it.
	Known
)

func (c Certainty) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case Predictable:
		return "predictable"
	case Known:
		return "known"
	}
	return "certainty?"
}

// Result pairs a value with how settled it is. Value is meaningless when
// Certainty is Unknown.
type Result struct {
	Certainty Certainty
	Value     types.Value
}

func known(v types.Value) Result       { return Result{Certainty: Known, Value: v} }
func predictable(v types.Value) Result { return Result{Certainty: Predictable, Value: v} }

var unknown = Result{Certainty: Unknown}

// Results maps subscription keys to the data received on them so far, in
// production order.
type Results map[TermKey][]types.Datum

// combine taints: any Unknown dominates, then any Predictable.
func combine(a, b Certainty) Certainty {
	if a < b {
		return a
	}
	return b
}

// Eval evaluates an expression against a partial result set. Known results
// are monotonic: once Known, appending data to any sequence cannot change
// them. Type mismatches and division by zero return an error, which is
// distinct from Unknown.
func Eval(e *Expr, results Results) (Result, error) {
	switch kind := e.Kind.(type) {
	case Lit:
		return evalLit(e, kind, results)
	case Term:
		return evalTerm(e, kind, results)
	case UnOp:
		return evalUnOp(e, kind, results)
	case BinOp:
		return evalBinOp(e, kind, results)
	case If:
		return evalIf(kind, results)
	}
	return unknown, fmt.Errorf("unhandled expression node %q", e.Raw)
}

// EvalLiteral evaluates an expression that must be free of term references,
// as required by sender steps. The shape restriction is a Configuration
// error.
func EvalLiteral(e *Expr) (types.Value, error) {
	if len(Terms(e)) > 0 {
		return types.Value{}, types.NewError(types.ErrConfiguration,
			"expression %q refers to step data where a literal is required", e.Raw)
	}
	res, err := Eval(e, nil)
	if err != nil {
		return types.Value{}, err
	}
	if res.Certainty != Known {
		return types.Value{}, types.NewError(types.ErrInternalInvariant,
			"literal %q did not evaluate to a known value", e.Raw)
	}
	return res.Value, nil
}

func evalLit(e *Expr, lit Lit, results Results) (Result, error) {
	switch lk := lit.Kind.(type) {
	case NullLit:
		return known(types.Null()), nil
	case BoolLit:
		return known(types.Bool(bool(lk))), nil
	case BytesLit:
		return known(types.Bytes([]byte(lk))), nil
	case IntegerLit:
		return known(types.Integer(string(lk))), nil
	case FloatLit:
		return known(types.Float(string(lk))), nil
	case StrLit:
		return known(types.String(string(lk))), nil
	case ListLit:
		return evalElems(lk, results, types.Array)
	case SetLit:
		return evalElems(lk, results, types.Set)
	case MapLit:
		certainty := Known
		m := make(map[string]types.Value, len(lk))
		for _, entry := range lk {
			keyRes, err := Eval(entry.Key, results)
			if err != nil {
				return unknown, err
			}
			valRes, err := Eval(entry.Value, results)
			if err != nil {
				return unknown, err
			}
			certainty = combine(certainty, combine(keyRes.Certainty, valRes.Certainty))
			if certainty == Unknown {
				return unknown, nil
			}
			key, err := keyRes.Value.AsString()
			if err != nil {
				return unknown, fmt.Errorf("map literal key in %q: %w", e.Raw, err)
			}
			m[key] = valRes.Value
		}
		return Result{Certainty: certainty, Value: types.Map(m)}, nil
	}
	return unknown, fmt.Errorf("unhandled literal in %q", e.Raw)
}

func evalElems(elems []*Expr, results Results, build func(...types.Value) types.Value) (Result, error) {
	certainty := Known
	vals := make([]types.Value, 0, len(elems))
	for _, el := range elems {
		res, err := Eval(el, results)
		if err != nil {
			return unknown, err
		}
		certainty = combine(certainty, res.Certainty)
		if certainty == Unknown {
			return unknown, nil
		}
		vals = append(vals, res.Value)
	}
	return Result{Certainty: certainty, Value: build(vals...)}, nil
}

func evalUnOp(e *Expr, op UnOp, results Results) (Result, error) {
	operand, err := Eval(op.Expr, results)
	if err != nil {
		return unknown, err
	}
	if operand.Certainty == Unknown {
		return unknown, nil
	}
	switch op.Op {
	case OpNot:
		b, err := operand.Value.AsBool()
		if err != nil {
			return unknown, fmt.Errorf("operand of ! in %q: %w", e.Raw, err)
		}
		return Result{Certainty: operand.Certainty, Value: types.Bool(!b)}, nil
	case OpNeg:
		switch operand.Value.Kind() {
		case types.KindInteger:
			i, err := operand.Value.AsInt()
			if err != nil {
				return unknown, err
			}
			return Result{Certainty: operand.Certainty, Value: types.Integer(i.Neg(i).String())}, nil
		case types.KindFloat:
			f, err := operand.Value.AsFloat()
			if err != nil {
				return unknown, err
			}
			return Result{Certainty: operand.Certainty, Value: types.Float(f.Neg(f).Text('g', -1))}, nil
		}
		return unknown, fmt.Errorf("operand of - in %q is %s, not numeric", e.Raw, operand.Value.Kind())
	}
	return unknown, fmt.Errorf("unhandled unary operator in %q", e.Raw)
}

func evalBinOp(e *Expr, op BinOp, results Results) (Result, error) {
	// && and || resolve as soon as the determining side is Known with the
	// dominating value, regardless of the other side.
	if op.Op == OpAnd || op.Op == OpOr {
		return evalLogic(e, op, results)
	}

	left, err := Eval(op.L, results)
	if err != nil {
		return unknown, err
	}
	right, err := Eval(op.R, results)
	if err != nil {
		return unknown, err
	}
	certainty := combine(left.Certainty, right.Certainty)
	if certainty == Unknown {
		return unknown, nil
	}
	val, err := applyBinOp(op.Op, left.Value, right.Value)
	if err != nil {
		return unknown, fmt.Errorf("%q: %w", e.Raw, err)
	}
	return Result{Certainty: certainty, Value: val}, nil
}

func evalLogic(e *Expr, op BinOp, results Results) (Result, error) {
	dominating := op.Op == OpOr // true dominates ||, false dominates &&

	left, err := Eval(op.L, results)
	if err != nil {
		return unknown, err
	}
	if left.Certainty == Known {
		b, err := left.Value.AsBool()
		if err != nil {
			return unknown, fmt.Errorf("left of %s in %q: %w", op.Op, e.Raw, err)
		}
		if b == dominating {
			return known(types.Bool(dominating)), nil
		}
	}

	right, err := Eval(op.R, results)
	if err != nil {
		return unknown, err
	}
	if right.Certainty == Known {
		b, err := right.Value.AsBool()
		if err != nil {
			return unknown, fmt.Errorf("right of %s in %q: %w", op.Op, e.Raw, err)
		}
		if b == dominating {
			return known(types.Bool(dominating)), nil
		}
	}

	certainty := combine(left.Certainty, right.Certainty)
	if certainty == Unknown {
		return unknown, nil
	}
	lb, err := left.Value.AsBool()
	if err != nil {
		return unknown, fmt.Errorf("left of %s in %q: %w", op.Op, e.Raw, err)
	}
	rb, err := right.Value.AsBool()
	if err != nil {
		return unknown, fmt.Errorf("right of %s in %q: %w", op.Op, e.Raw, err)
	}
	if op.Op == OpAnd {
		return Result{Certainty: certainty, Value: types.Bool(lb && rb)}, nil
	}
	return Result{Certainty: certainty, Value: types.Bool(lb || rb)}, nil
}

func evalIf(ifx If, results Results) (Result, error) {
	cond, err := Eval(ifx.Cond, results)
	if err != nil {
		return unknown, err
	}
	if cond.Certainty == Unknown {
		return unknown, nil
	}
	b, err := cond.Value.AsBool()
	if err != nil {
		return unknown, fmt.Errorf("if condition %q: %w", ifx.Cond.Raw, err)
	}
	branch := ifx.Then
	if !b {
		branch = ifx.Else
	}
	res, err := Eval(branch, results)
	if err != nil {
		return unknown, err
	}
	if res.Certainty == Unknown {
		return unknown, nil
	}
	return Result{Certainty: combine(cond.Certainty, res.Certainty), Value: res.Value}, nil
}

func applyBinOp(op BinOpKind, l, r types.Value) (types.Value, error) {
	switch op {
	case OpEq:
		return types.Bool(l.Equal(r)), nil
	case OpNe:
		return types.Bool(!l.Equal(r)), nil
	case OpContains:
		ok, err := l.Contains(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.Bool(ok), nil
	case OpNotContains:
		ok, err := l.Contains(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.Bool(!ok), nil
	case OpLt, OpLe, OpGt, OpGe:
		cmp, err := compareValues(l, r)
		if err != nil {
			return types.Value{}, err
		}
		switch op {
		case OpLt:
			return types.Bool(cmp < 0), nil
		case OpLe:
			return types.Bool(cmp <= 0), nil
		case OpGt:
			return types.Bool(cmp > 0), nil
		default:
			return types.Bool(cmp >= 0), nil
		}
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return arith(op, l, r)
	}
	return types.Value{}, fmt.Errorf("unhandled operator %s", op)
}

// compareValues orders numerics numerically and strings/bytes
// lexicographically; every other pairing is a type mismatch.
func compareValues(l, r types.Value) (int, error) {
	if isNumeric(l) && isNumeric(r) {
		lf, err := l.AsFloat()
		if err != nil {
			return 0, err
		}
		rf, err := r.AsFloat()
		if err != nil {
			return 0, err
		}
		return lf.Cmp(rf), nil
	}
	if l.Kind() == types.KindString && r.Kind() == types.KindString {
		ls, _ := l.AsString()
		rs, _ := r.AsString()
		switch {
		case ls < rs:
			return -1, nil
		case ls > rs:
			return 1, nil
		}
		return 0, nil
	}
	if l.Kind() == types.KindBytes && r.Kind() == types.KindBytes {
		lb, _ := l.AsBytes()
		rb, _ := r.AsBytes()
		switch {
		case string(lb) < string(rb):
			return -1, nil
		case string(lb) > string(rb):
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot order %s against %s", l.Kind(), r.Kind())
}

func isNumeric(v types.Value) bool {
	return v.Kind() == types.KindInteger || v.Kind() == types.KindFloat
}

func arith(op BinOpKind, l, r types.Value) (types.Value, error) {
	// Concatenation forms of +.
	if op == OpAdd {
		switch {
		case l.Kind() == types.KindString && r.Kind() == types.KindString:
			ls, _ := l.AsString()
			rs, _ := r.AsString()
			return types.String(ls + rs), nil
		case l.Kind() == types.KindBytes && r.Kind() == types.KindBytes:
			lb, _ := l.AsBytes()
			rb, _ := r.AsBytes()
			return types.Bytes(append(append([]byte{}, lb...), rb...)), nil
		case l.Kind() == types.KindArray && r.Kind() == types.KindArray:
			le, _ := l.Elems()
			re, _ := r.Elems()
			return types.Array(append(append([]types.Value{}, le...), re...)...), nil
		}
	}

	if !isNumeric(l) || !isNumeric(r) {
		return types.Value{}, fmt.Errorf("cannot apply %s to %s and %s", op, l.Kind(), r.Kind())
	}

	// Pure integers stay exact; any float operand moves to decimal.
	if l.Kind() == types.KindInteger && r.Kind() == types.KindInteger {
		li, err := l.AsInt()
		if err != nil {
			return types.Value{}, err
		}
		ri, err := r.AsInt()
		if err != nil {
			return types.Value{}, err
		}
		out := new(big.Int)
		switch op {
		case OpAdd:
			out.Add(li, ri)
		case OpSub:
			out.Sub(li, ri)
		case OpMul:
			out.Mul(li, ri)
		case OpDiv:
			if ri.Sign() == 0 {
				return types.Value{}, fmt.Errorf("division by zero")
			}
			out.Quo(li, ri)
		case OpMod:
			if ri.Sign() == 0 {
				return types.Value{}, fmt.Errorf("modulo by zero")
			}
			out.Rem(li, ri)
		}
		return types.Integer(out.String()), nil
	}

	lf, err := l.AsFloat()
	if err != nil {
		return types.Value{}, err
	}
	rf, err := r.AsFloat()
	if err != nil {
		return types.Value{}, err
	}
	out := new(big.Float)
	switch op {
	case OpAdd:
		out.Add(lf, rf)
	case OpSub:
		out.Sub(lf, rf)
	case OpMul:
		out.Mul(lf, rf)
	case OpDiv:
		if rf.Sign() == 0 {
			return types.Value{}, fmt.Errorf("division by zero")
		}
		out.Quo(lf, rf)
	case OpMod:
		return types.Value{}, fmt.Errorf("cannot apply %% to decimals")
	}
	return types.Float(out.Text('g', -1)), nil
}
