package condition

// Eval evaluates the conjunction against a fact snapshot. A missing
// fact or field makes the expression false, not an error: the rule is
// simply not ready yet.
func (e *Expr) Eval(memory map[string]interface{}) bool {
	for _, c := range e.Clauses {
		if !c.eval(memory) {
			return false
		}
	}
	return true
}

// Eval evaluates a single clause, with the same missing-field
// semantics as the full expression.
func (c Clause) Eval(memory map[string]interface{}) bool {
	return c.eval(memory)
}

func (c Clause) eval(memory map[string]interface{}) bool {
	left, ok := resolve(memory, c.Left)
	if !ok {
		return false
	}

	var right interface{}
	switch c.Right.kind {
	case operandRef:
		right, ok = resolve(memory, c.Right.ref)
		if !ok {
			return false
		}
	case operandNumber:
		right = c.Right.num
	case operandString:
		right = c.Right.str
	case operandBool:
		right = c.Right.b
	}

	return compare(left, c.Op, right)
}

func resolve(memory map[string]interface{}, ref Ref) (interface{}, bool) {
	v, ok := memory[ref.Key]
	if !ok || v == nil {
		return nil, false
	}

	for _, seg := range ref.Path {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok = m[seg]
		if !ok || v == nil {
			return nil, false
		}
	}
	return v, true
}

func compare(left interface{}, op Op, right interface{}) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case OpGT:
			return lf > rf
		case OpGTE:
			return lf >= rf
		case OpLT:
			return lf < rf
		case OpLTE:
			return lf <= rf
		case OpEQ:
			return lf == rf
		case OpNEQ:
			return lf != rf
		}
		return false
	}

	// non-numeric comparisons only support (in)equality
	switch op {
	case OpEQ:
		return left == right
	case OpNEQ:
		return left != right
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
