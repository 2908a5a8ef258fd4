package condition

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const refPrefix = "MEMORY['"

// Parse compiles a condition string into an Expr. A malformed string
// is a rule-logic error, reported to the rule owner, never a panic.
func Parse(raw string) (*Expr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Expr{}, nil
	}

	parts := strings.Split(raw, "&&")
	expr := &Expr{Clauses: make([]Clause, 0, len(parts))}

	for _, part := range parts {
		clause, err := parseClause(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		expr.Clauses = append(expr.Clauses, clause)
	}
	return expr, nil
}

// operator search order matters: two-char ops first so ">" doesn't
// shadow ">=".
var opOrder = []Op{OpGTE, OpLTE, OpEQ, OpNEQ, OpGT, OpLT}

func parseClause(raw string) (Clause, error) {
	if raw == "" {
		return Clause{}, errors.New("empty condition clause")
	}

	for _, op := range opOrder {
		idx := indexOutsideQuotes(raw, string(op))
		if idx < 0 {
			continue
		}

		leftRaw := strings.TrimSpace(raw[:idx])
		rightRaw := strings.TrimSpace(raw[idx+len(op):])

		left, err := parseRef(leftRaw)
		if err != nil {
			return Clause{}, errors.Wrapf(err, "left side of %q", raw)
		}

		right, err := parseOperand(rightRaw)
		if err != nil {
			return Clause{}, errors.Wrapf(err, "right side of %q", raw)
		}

		return Clause{Left: left, Op: op, Right: right}, nil
	}

	return Clause{}, errors.Errorf("no comparison operator in clause %q", raw)
}

func parseRef(raw string) (Ref, error) {
	if !strings.HasPrefix(raw, refPrefix) {
		return Ref{}, errors.Errorf("expected MEMORY reference, got %q", raw)
	}

	rest := raw[len(refPrefix):]
	end := strings.Index(rest, "']")
	if end < 0 {
		return Ref{}, errors.Errorf("unterminated MEMORY key in %q", raw)
	}

	ref := Ref{Key: rest[:end]}
	tail := rest[end+2:]
	if tail == "" {
		return ref, nil
	}
	if !strings.HasPrefix(tail, ".") {
		return Ref{}, errors.Errorf("unexpected trailer %q in %q", tail, raw)
	}

	for _, seg := range strings.Split(tail[1:], ".") {
		if seg == "" {
			return Ref{}, errors.Errorf("empty path segment in %q", raw)
		}
		ref.Path = append(ref.Path, seg)
	}
	return ref, nil
}

func parseOperand(raw string) (Operand, error) {
	switch {
	case raw == "":
		return Operand{}, errors.New("missing operand")
	case strings.HasPrefix(raw, refPrefix):
		ref, err := parseRef(raw)
		if err != nil {
			return Operand{}, err
		}
		return Reference(ref), nil
	case raw == "true":
		return Bool(true), nil
	case raw == "false":
		return Bool(false), nil
	case (raw[0] == '\'' && raw[len(raw)-1] == '\'' && len(raw) >= 2),
		(raw[0] == '"' && raw[len(raw)-1] == '"' && len(raw) >= 2):
		return String(raw[1 : len(raw)-1]), nil
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Operand{}, errors.Errorf("invalid literal %q", raw)
		}
		return Number(f), nil
	}
}

func indexOutsideQuotes(s, sub string) int {
	inQuote := byte(0)
	for i := 0; i+len(sub) <= len(s); i++ {
		c := s[i]
		if inQuote != 0 {
			if c == inQuote {
				inQuote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			inQuote = c
			continue
		}
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
