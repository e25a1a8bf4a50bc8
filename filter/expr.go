package filter

import (
	"gorm.io/gorm/clause"
)

// The node types below implement clause.Expression. Every compound node
// wraps itself in parentheses so nodes compose without precedence surprises
// when gorm joins them with other WHERE conditions.

type operand struct {
	target
}

func (o operand) Build(b clause.Builder) {
	switch {
	case o.unknown:
		b.WriteString("NULL")
	case o.jsonPath != "":
		b.WriteString("json_extract(")
		b.WriteQuoted(clause.Column{Name: o.column})
		b.WriteString(", ")
		b.AddVar(b, o.jsonPath)
		b.WriteByte(')')
	default:
		b.WriteQuoted(clause.Column{Name: o.column})
	}
}

type literal string

func (l literal) Build(b clause.Builder) {
	b.WriteString(string(l))
}

const (
	matchAll  literal = "1 = 1"
	matchNone literal = "0 = 1"
)

type compare struct {
	field operand
	op    string
	value any
}

func (c compare) Build(b clause.Builder) {
	c.field.Build(b)
	b.WriteByte(' ')
	b.WriteString(c.op)
	b.WriteByte(' ')
	b.AddVar(b, c.value)
}

type isNull struct {
	field operand
}

func (n isNull) Build(b clause.Builder) {
	n.field.Build(b)
	b.WriteString(" IS NULL")
}

type in struct {
	field  operand
	values []any
}

func (i in) Build(b clause.Builder) {
	if len(i.values) == 0 {
		matchNone.Build(b)
		return
	}

	i.field.Build(b)
	b.WriteString(" IN (")
	for idx, v := range i.values {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.AddVar(b, v)
	}
	b.WriteByte(')')
}

type regex struct {
	field   operand
	pattern string
}

func (r regex) Build(b clause.Builder) {
	r.field.Build(b)
	b.WriteString(" REGEXP ")
	b.AddVar(b, r.pattern)
}

type not struct {
	expr clause.Expression
}

func (n not) Build(b clause.Builder) {
	b.WriteString("NOT ")
	if j, ok := n.expr.(junction); ok && len(j.exprs) > 1 {
		j.Build(b)
		return
	}
	group{n.expr}.Build(b)
}

// group parenthesizes a single expression.
type group struct {
	expr clause.Expression
}

func (g group) Build(b clause.Builder) {
	b.WriteByte('(')
	g.expr.Build(b)
	b.WriteByte(')')
}

// junction joins expressions with AND or OR. An empty AND matches
// everything, an empty OR matches nothing.
type junction struct {
	op    string
	exprs []clause.Expression
}

func (j junction) Build(b clause.Builder) {
	switch len(j.exprs) {
	case 0:
		if j.op == "OR" {
			matchNone.Build(b)
		} else {
			matchAll.Build(b)
		}
		return
	case 1:
		j.exprs[0].Build(b)
		return
	}

	b.WriteByte('(')
	for idx, e := range j.exprs {
		if idx > 0 {
			b.WriteByte(' ')
			b.WriteString(j.op)
			b.WriteByte(' ')
		}
		e.Build(b)
	}
	b.WriteByte(')')
}

func and(exprs ...clause.Expression) clause.Expression {
	return junction{op: "AND", exprs: exprs}
}

func or(exprs ...clause.Expression) clause.Expression {
	return junction{op: "OR", exprs: exprs}
}

// orNull makes a negative condition also match rows where the field is
// absent.
func orNull(field operand, expr clause.Expression) clause.Expression {
	if field.unknown {
		return matchAll
	}
	return or(isNull{field}, expr)
}
