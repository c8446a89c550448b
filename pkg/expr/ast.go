package expr

import (
	"fmt"
	"strings"
)

// Expr is one node of the expression tree. Raw retains the source slice the
// node was parsed from; equality and hashing of whole expressions are defined
// on it, and diagnostics quote it.
type Expr struct {
	Raw  string
	Kind Kind
}

// Equal compares expressions by their source text.
func (e *Expr) Equal(o *Expr) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Raw == o.Raw
}

func (e *Expr) String() string { return e.Raw }

// Kind is the closed set of expression node variants.
type Kind interface{ isExprKind() }

// Lit is a literal subtree.
type Lit struct {
	Kind LitKind
}

// LitKind is the closed set of literal variants.
type LitKind interface{ isLitKind() }

type (
	// NullLit is the `null` literal.
	NullLit struct{}
	// BoolLit is `true` or `false`.
	BoolLit bool
	// BytesLit is a b"..." or b[...] literal.
	BytesLit []byte
	// IntegerLit keeps the integer's text verbatim, bases and sign included.
	IntegerLit string
	// FloatLit keeps the decimal's text verbatim.
	FloatLit string
	// StrLit is an unescaped string literal.
	StrLit string
	// ListLit is an ordered [..] literal.
	ListLit []*Expr
	// MapLit is a {"k": v, ..} literal with ordered entries.
	MapLit []MapEntry
	// SetLit is a {a, b, ..} literal.
	SetLit []*Expr
)

// MapEntry is one key/value pair of a map literal.
type MapEntry struct {
	Key   *Expr
	Value *Expr
}

func (NullLit) isLitKind()    {}
func (BoolLit) isLitKind()    {}
func (BytesLit) isLitKind()   {}
func (IntegerLit) isLitKind() {}
func (FloatLit) isLitKind()   {}
func (StrLit) isLitKind()     {}
func (ListLit) isLitKind()    {}
func (MapLit) isLitKind()     {}
func (SetLit) isLitKind()     {}

// Term is a reference: one identifier followed by postfix parts. Terms are
// the only nodes that refer to another step's data.
type Term struct {
	Parts []TermPart
}

// TermPart is the closed set of postfix parts.
type TermPart interface{ isTermPart() }

type (
	// IdentPart is a `.name` (or the leading identifier).
	IdentPart string
	// IndexPart is a literal `[n]` index.
	IndexPart int
	// RangePart is a `[l..r]` slice.
	RangePart struct{ Lo, Hi int }
	// WildcardPart is `[*]`.
	WildcardPart struct{}
	// CallPart is an argument list `(...)`.
	CallPart []*Expr
	// SubExprPart is a computed `[expr]` index.
	SubExprPart struct{ Sub *Expr }
)

func (IdentPart) isTermPart()    {}
func (IndexPart) isTermPart()    {}
func (RangePart) isTermPart()    {}
func (WildcardPart) isTermPart() {}
func (CallPart) isTermPart()     {}
func (SubExprPart) isTermPart()  {}

// UnOpKind enumerates unary operators.
type UnOpKind int

const (
	OpNeg UnOpKind = iota
	OpNot
)

// UnOp is a unary operation node.
type UnOp struct {
	Op   UnOpKind
	Expr *Expr
}

// BinOpKind enumerates binary operators.
type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpContains
	OpNotContains
)

// String returns the operator's surface syntax.
func (op BinOpKind) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpContains:
		return "contains"
	case OpNotContains:
		return "not contains"
	}
	return "?"
}

// BinOp is a binary operation node.
type BinOp struct {
	Op   BinOpKind
	L, R *Expr
}

// If is `if cond { then } else { alt }`.
type If struct {
	Cond *Expr
	Then *Expr
	Else *Expr
}

func (Lit) isExprKind()   {}
func (Term) isExprKind()  {}
func (UnOp) isExprKind()  {}
func (BinOp) isExprKind() {}
func (If) isExprKind()    {}

// Key renders the term's parts in canonical dotted/bracketed form. Two
// syntactically different expressions referring to the same channel render
// the same key for the `steps.NAME.CHAN` prefix.
func (t Term) Key() string {
	var sb strings.Builder
	for i, p := range t.Parts {
		switch part := p.(type) {
		case IdentPart:
			if i > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(string(part))
		case IndexPart:
			fmt.Fprintf(&sb, "[%d]", int(part))
		case RangePart:
			fmt.Fprintf(&sb, "[%d..%d]", part.Lo, part.Hi)
		case WildcardPart:
			sb.WriteString("[*]")
		case CallPart:
			args := make([]string, len(part))
			for j, a := range part {
				args[j] = a.Raw
			}
			sb.WriteString("(" + strings.Join(args, ", ") + ")")
		case SubExprPart:
			sb.WriteString("[" + part.Sub.Raw + "]")
		}
	}
	return sb.String()
}

// SubscriptionKey returns the canonical `steps.NAME.CHAN` triple a term
// subscribes to, when the term has that shape.
func (t Term) SubscriptionKey() (TermKey, bool) {
	if len(t.Parts) < 3 {
		return "", false
	}
	first, ok0 := t.Parts[0].(IdentPart)
	name, ok1 := t.Parts[1].(IdentPart)
	chann, ok2 := t.Parts[2].(IdentPart)
	if !ok0 || !ok1 || !ok2 || first != "steps" {
		return "", false
	}
	return TermKey("steps." + string(name) + "." + string(chann)), true
}

// TermKey is the canonical subscription key `steps.<step>.<channel>`.
type TermKey string

// StepAndChannel splits the key back into its step and channel names.
func (k TermKey) StepAndChannel() (string, string, bool) {
	parts := strings.Split(string(k), ".")
	if len(parts) != 3 || parts[0] != "steps" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// MakeTermKey builds the canonical key for a step's channel.
func MakeTermKey(step, channel string) TermKey {
	return TermKey("steps." + step + "." + channel)
}
