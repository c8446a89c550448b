package expr

// Visitor receives each node of an expression tree. Walk calls VisitExpr on
// children before their parent, matching evaluation order.
type Visitor interface {
	VisitExpr(e *Expr) error
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(e *Expr) error

// VisitExpr calls the wrapped function.
func (f VisitorFunc) VisitExpr(e *Expr) error { return f(e) }

// Walk traverses the tree depth-first, visiting every node including the
// subexpressions embedded in literals and term parts.
func Walk(e *Expr, v Visitor) error {
	if e == nil {
		return nil
	}
	switch kind := e.Kind.(type) {
	case Lit:
		switch lk := kind.Kind.(type) {
		case ListLit:
			for _, el := range lk {
				if err := Walk(el, v); err != nil {
					return err
				}
			}
		case SetLit:
			for _, el := range lk {
				if err := Walk(el, v); err != nil {
					return err
				}
			}
		case MapLit:
			for _, entry := range lk {
				if err := Walk(entry.Key, v); err != nil {
					return err
				}
				if err := Walk(entry.Value, v); err != nil {
					return err
				}
			}
		}
	case Term:
		for _, part := range kind.Parts {
			switch pt := part.(type) {
			case CallPart:
				for _, a := range pt {
					if err := Walk(a, v); err != nil {
						return err
					}
				}
			case SubExprPart:
				if err := Walk(pt.Sub, v); err != nil {
					return err
				}
			}
		}
	case UnOp:
		if err := Walk(kind.Expr, v); err != nil {
			return err
		}
	case BinOp:
		if err := Walk(kind.L, v); err != nil {
			return err
		}
		if err := Walk(kind.R, v); err != nil {
			return err
		}
	case If:
		if err := Walk(kind.Cond, v); err != nil {
			return err
		}
		if err := Walk(kind.Then, v); err != nil {
			return err
		}
		if err := Walk(kind.Else, v); err != nil {
			return err
		}
	}
	return v.VisitExpr(e)
}
