package expr

// Terms returns every Term node of the tree in syntactic order, one entry
// per occurrence. Literal-only subtrees contribute nothing; terms nested in
// computed indexes and call arguments are included.
func Terms(e *Expr) []*Expr {
	var out []*Expr
	// Walk visits children before their parent, so a separate pre-order walk
	// is used here: each term is recorded before the terms nested in its
	// computed indexes and call arguments, which keeps syntactic order.
	var collect func(e *Expr)
	collect = func(e *Expr) {
		if e == nil {
			return
		}
		switch kind := e.Kind.(type) {
		case Term:
			out = append(out, e)
			for _, part := range kind.Parts {
				switch pt := part.(type) {
				case CallPart:
					for _, a := range pt {
						collect(a)
					}
				case SubExprPart:
					collect(pt.Sub)
				}
			}
		case Lit:
			switch lk := kind.Kind.(type) {
			case ListLit:
				for _, el := range lk {
					collect(el)
				}
			case SetLit:
				for _, el := range lk {
					collect(el)
				}
			case MapLit:
				for _, entry := range lk {
					collect(entry.Key)
					collect(entry.Value)
				}
			}
		case UnOp:
			collect(kind.Expr)
		case BinOp:
			collect(kind.L)
			collect(kind.R)
		case If:
			collect(kind.Cond)
			collect(kind.Then)
			collect(kind.Else)
		}
	}
	collect(e)
	return out
}

// SubscriptionKeys returns the distinct `steps.NAME.CHAN` keys the
// expression depends on, in first-occurrence order.
func SubscriptionKeys(e *Expr) []TermKey {
	var keys []TermKey
	seen := map[TermKey]bool{}
	for _, t := range Terms(e) {
		term := t.Kind.(Term)
		key, ok := term.SubscriptionKey()
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}
