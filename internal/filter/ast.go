// Package filter implements the activity rule tree: its persisted JSON form,
// compilation into predicates, and lowering of those predicates to SQL.
package filter

import (
	"time"

	"github.com/google/uuid"
)

// Node is a rule tree node: either *Condition or *Group.
type Node interface {
	node()
}

// Group combines child nodes with Op.
type Group struct {
	ID       string
	Op       string
	Children []Node
	Invert   bool
}

// Condition compares one field of an item with Arg.
type Condition struct {
	ID       string
	Field    string
	Operator string
	Arg      Value
	Invert   bool
}

func (*Group) node()     {}
func (*Condition) node() {}

// Group operators.
const (
	OpAnd = "and"
	OpOr  = "or"
)

// Condition operators.
const (
	Equals        = "equals"
	NotEqual      = "notEqual"
	Contains      = "contains"
	NotContains   = "notContains"
	StartsWith    = "startsWith"
	NotStartsWith = "notStartsWith"
	EndsWith      = "endsWith"
	NotEndsWith   = "notEndsWith"
	IsEmpty       = "isEmpty"
	IsNotEmpty    = "isNotEmpty"
	Before        = "before"
	After         = "after"
	GreaterThan   = "greaterThan"
	LessThan      = "lessThan"
)

// Kind is the type of a condition argument.
type Kind int

// Argument kinds.
const (
	KindNone Kind = iota
	KindString
	KindNumber
	KindDate
)

// Value is a condition argument.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Time time.Time
}

// String returns a string argument.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number returns a numeric argument.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Date returns a date argument.
func Date(t time.Time) Value { return Value{Kind: KindDate, Time: t} }

// TypeRule returns a rule tree matching items of the given activity type.
func TypeRule(activityType string) *Group {
	return &Group{
		ID: uuid.NewString(),
		Op: OpAnd,
		Children: []Node{
			&Condition{
				ID:       uuid.NewString(),
				Field:    "type",
				Operator: Equals,
				Arg:      String(activityType),
			},
		},
	}
}
