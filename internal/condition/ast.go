// Package condition implements the rule condition language: a
// conjunction of comparisons between memory references
// (MEMORY['SYMBOL:INDEX'].path) and literals or other references.
// Conditions arrive as strings from configuration, are parsed once
// into an AST and evaluated against a fact snapshot; no general
// purpose evaluation is involved.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

type Op string

const (
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpEQ  Op = "=="
	OpNEQ Op = "!="
)

// Ref addresses a fact and an optional path into it, e.g.
// MEMORY['BTCUSDT:BOOK'].current.bestAsk.
type Ref struct {
	Key  string
	Path []string
}

func (r Ref) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "MEMORY['%s']", r.Key)
	for _, p := range r.Path {
		b.WriteByte('.')
		b.WriteString(p)
	}
	return b.String()
}

// usesCurrent reports whether any path segment is the "current" half
// of a previous/current envelope.
func (r Ref) usesCurrent() bool {
	for _, p := range r.Path {
		if p == "current" {
			return true
		}
	}
	return false
}

func (r Ref) toPrevious() Ref {
	out := Ref{Key: r.Key, Path: make([]string, len(r.Path))}
	for i, p := range r.Path {
		if p == "current" {
			out.Path[i] = "previous"
		} else {
			out.Path[i] = p
		}
	}
	return out
}

type operandKind int

const (
	operandNumber operandKind = iota
	operandString
	operandBool
	operandRef
)

type Operand struct {
	kind operandKind
	num  float64
	str  string
	b    bool
	ref  Ref
}

func Number(f float64) Operand { return Operand{kind: operandNumber, num: f} }
func String(s string) Operand  { return Operand{kind: operandString, str: s} }
func Bool(b bool) Operand      { return Operand{kind: operandBool, b: b} }
func Reference(r Ref) Operand  { return Operand{kind: operandRef, ref: r} }

// Number reports the literal numeric value, when the operand is one.
func (o Operand) Number() (float64, bool) {
	if o.kind == operandNumber {
		return o.num, true
	}
	return 0, false
}

func (o Operand) String() string {
	switch o.kind {
	case operandNumber:
		return strconv.FormatFloat(o.num, 'f', -1, 64)
	case operandString:
		return "'" + o.str + "'"
	case operandBool:
		return strconv.FormatBool(o.b)
	default:
		return o.ref.String()
	}
}

type Clause struct {
	Left  Ref
	Op    Op
	Right Operand
}

func (c Clause) String() string {
	return c.Left.String() + string(c.Op) + c.Right.String()
}

// Expr is a conjunction of clauses.
type Expr struct {
	Clauses []Clause
}

func (e *Expr) String() string {
	parts := make([]string, len(e.Clauses))
	for i, c := range e.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " && ")
}

// Keys returns the distinct fact keys the expression reads.
func (e *Expr) Keys() []string {
	seen := map[string]bool{}
	var out []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, c := range e.Clauses {
		add(c.Left.Key)
		if c.Right.kind == operandRef {
			add(c.Right.ref.Key)
		}
	}
	return out
}
