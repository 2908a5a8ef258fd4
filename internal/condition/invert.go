package condition

// Invert locates the clause that compares the triggering fact's
// current value and synthesizes its logical opposite against the
// previous sample. Appending it approximates edge-triggered firing:
// the rule fires on the transition into the condition, not on every
// tick while it stays true.
//
// Returns false when no clause references both the key and a current
// value; that simply disables inversion for the evaluation.
func Invert(e *Expr, memoryKey string) (Clause, bool) {
	for _, c := range e.Clauses {
		if !c.mentions(memoryKey) || !c.hasCurrent() {
			continue
		}

		inverted := Clause{
			Left:  c.Left.toPrevious(),
			Op:    invertOp(c.Op),
			Right: c.Right,
		}
		if inverted.Right.kind == operandRef {
			inverted.Right.ref = inverted.Right.ref.toPrevious()
		}
		return inverted, true
	}
	return Clause{}, false
}

func (c Clause) mentions(key string) bool {
	if c.Left.Key == key {
		return true
	}
	return c.Right.kind == operandRef && c.Right.ref.Key == key
}

func (c Clause) hasCurrent() bool {
	if c.Left.usesCurrent() {
		return true
	}
	return c.Right.kind == operandRef && c.Right.ref.usesCurrent()
}

// invertOp flips strict and non-strict operators the way the rule
// language defines it: the inverse of "crossed at or above" is
// "was strictly below", so >= pairs with < and <= with >.
func invertOp(op Op) Op {
	switch op {
	case OpGTE:
		return OpLT
	case OpLTE:
		return OpGT
	case OpGT:
		return OpLT
	case OpLT:
		return OpGT
	case OpEQ:
		return OpNEQ
	case OpNEQ:
		return OpEQ
	}
	return op
}
