package filter

import (
	"strings"

	"ghfeed/internal/model"
)

// Expr is a compiled rule. A nil Expr places no constraint on items.
//
// Match and SQL agree on every item: SQL uses two-valued logic, treating a
// NULL text column as the empty string.
type Expr interface {
	// Match evaluates the rule against an item in memory.
	Match(item *model.ActivityItem) bool
	// SQL renders the rule as a SQLite boolean expression over the
	// activities table aliased as qualifier, with positional arguments.
	SQL(qualifier string) (string, []any)
}

type family int

const (
	familyString family = iota
	familyDate
)

type field struct {
	column string
	family family
	text   func(*model.ActivityItem) string
}

var fields = map[string]field{
	"title":           {column: "title", text: func(i *model.ActivityItem) string { return i.Title }},
	"repo":            {column: "repo", text: func(i *model.ActivityItem) string { return i.Repo }},
	"type":            {column: "type", text: func(i *model.ActivityItem) string { return i.Type }},
	"summary":         {column: "summary", text: func(i *model.ActivityItem) string { return i.Summary }},
	"content":         {column: "content", text: func(i *model.ActivityItem) string { return i.Content }},
	"link":            {column: "link", text: func(i *model.ActivityItem) string { return i.Link }},
	"githubUserLogin": {column: "account_login", text: func(i *model.ActivityItem) string { return i.AccountLogin }},
	"accountLogin":    {column: "account_login", text: func(i *model.ActivityItem) string { return i.AccountLogin }},
	"publishedAt":     {column: "published_at", family: familyDate},
}

// Compile turns a rule tree into an Expr. Conditions that cannot be applied
// (unknown field or operator, unsuitable or missing argument) and groups
// left without children compile to nil.
func Compile(n Node) Expr {
	switch v := n.(type) {
	case *Group:
		return compileGroup(v)
	case *Condition:
		return compileCondition(v)
	}
	return nil
}

func compileGroup(g *Group) Expr {
	if g == nil {
		return nil
	}
	var parts []Expr
	for _, c := range g.Children {
		if e := Compile(c); e != nil {
			parts = append(parts, e)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	var e Expr
	switch {
	case len(parts) == 1:
		e = parts[0]
	case g.Op == OpOr:
		e = junction{op: "OR", parts: parts}
	default:
		e = junction{op: "AND", parts: parts}
	}
	if g.Invert {
		return not{e}
	}
	return e
}

func compileCondition(c *Condition) Expr {
	if c == nil {
		return nil
	}
	f, ok := fields[c.Field]
	if !ok {
		return nil
	}

	var e Expr
	switch f.family {
	case familyString:
		e = compileString(f, c.Operator, c.Arg)
	case familyDate:
		e = compileDate(f, c.Operator, c.Arg)
	}
	if e == nil {
		return nil
	}
	if c.Invert {
		return not{e}
	}
	return e
}

func compileString(f field, op string, arg Value) Expr {
	switch op {
	case IsEmpty:
		return textCond{f: f, op: op}
	case IsNotEmpty:
		return not{textCond{f: f, op: IsEmpty}}
	}

	if arg.Kind != KindString {
		return nil
	}
	switch op {
	case Equals:
		return textCond{f: f, op: Equals, arg: arg.Str}
	case NotEqual:
		return not{textCond{f: f, op: Equals, arg: arg.Str}}
	}

	// Substring operators with an empty needle would match everything.
	if arg.Str == "" {
		return nil
	}
	switch op {
	case Contains, StartsWith, EndsWith:
		return textCond{f: f, op: op, arg: arg.Str}
	case NotContains:
		return not{textCond{f: f, op: Contains, arg: arg.Str}}
	case NotStartsWith:
		return not{textCond{f: f, op: StartsWith, arg: arg.Str}}
	case NotEndsWith:
		return not{textCond{f: f, op: EndsWith, arg: arg.Str}}
	}
	return nil
}

func compileDate(f field, op string, arg Value) Expr {
	switch op {
	case Before, After, Equals, NotEqual:
		if arg.Kind != KindDate {
			return nil
		}
		ms := float64(arg.Time.UnixMilli())
		switch op {
		case Before:
			return timeCond{f: f, cmp: "<", ms: ms}
		case After:
			return timeCond{f: f, cmp: ">", ms: ms}
		case Equals:
			return timeCond{f: f, cmp: "=", ms: ms}
		default:
			return timeCond{f: f, cmp: "<>", ms: ms}
		}
	case GreaterThan, LessThan:
		if arg.Kind != KindNumber {
			return nil
		}
		if op == GreaterThan {
			return timeCond{f: f, cmp: ">", ms: arg.Num}
		}
		return timeCond{f: f, cmp: "<", ms: arg.Num}
	}
	return nil
}

// Hide combines stored hide rules: an item is kept only when no rule
// matches it. Nil rules are ignored; the result is nil if none remain.
func Hide(rules ...Expr) Expr {
	var parts []Expr
	for _, r := range rules {
		if r != nil {
			parts = append(parts, not{r})
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return junction{op: "AND", parts: parts}
}

func column(qualifier, name string) string {
	if qualifier == "" {
		return name
	}
	return qualifier + "." + name
}

type textCond struct {
	f   field
	op  string
	arg string
}

func (c textCond) Match(item *model.ActivityItem) bool {
	v := c.f.text(item)
	switch c.op {
	case IsEmpty:
		return v == ""
	case Equals:
		return v == c.arg
	case Contains:
		return strings.Contains(v, c.arg)
	case StartsWith:
		return strings.HasPrefix(v, c.arg)
	case EndsWith:
		return strings.HasSuffix(v, c.arg)
	}
	return false
}

func (c textCond) SQL(qualifier string) (string, []any) {
	col := "COALESCE(" + column(qualifier, c.f.column) + ", '')"
	switch c.op {
	case IsEmpty:
		return col + " = ''", nil
	case Equals:
		return col + " = ?", []any{c.arg}
	case Contains:
		return "instr(" + col + ", ?) > 0", []any{c.arg}
	case StartsWith:
		return "instr(" + col + ", ?) = 1", []any{c.arg}
	case EndsWith:
		return "substr(" + col + ", -length(?)) = ?", []any{c.arg, c.arg}
	}
	return "0", nil
}

type timeCond struct {
	f   field
	cmp string
	ms  float64
}

func (c timeCond) Match(item *model.ActivityItem) bool {
	v := float64(item.PublishedAt.UnixMilli())
	switch c.cmp {
	case "<":
		return v < c.ms
	case ">":
		return v > c.ms
	case "=":
		return v == c.ms
	case "<>":
		return v != c.ms
	}
	return false
}

func (c timeCond) SQL(qualifier string) (string, []any) {
	return column(qualifier, c.f.column) + " " + c.cmp + " ?", []any{c.ms}
}

type not struct {
	e Expr
}

func (n not) Match(item *model.ActivityItem) bool { return !n.e.Match(item) }

func (n not) SQL(qualifier string) (string, []any) {
	s, args := n.e.SQL(qualifier)
	return "NOT (" + s + ")", args
}

type junction struct {
	op    string
	parts []Expr
}

func (j junction) Match(item *model.ActivityItem) bool {
	for _, p := range j.parts {
		m := p.Match(item)
		if j.op == "OR" && m {
			return true
		}
		if j.op == "AND" && !m {
			return false
		}
	}
	return j.op == "AND"
}

func (j junction) SQL(qualifier string) (string, []any) {
	clauses := make([]string, 0, len(j.parts))
	var args []any
	for _, p := range j.parts {
		s, a := p.SQL(qualifier)
		clauses = append(clauses, "("+s+")")
		args = append(args, a...)
	}
	return strings.Join(clauses, " "+j.op+" "), args
}
