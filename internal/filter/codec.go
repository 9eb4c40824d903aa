package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRule is returned when a document is not a valid rule tree.
var ErrInvalidRule = errors.New("invalid filter rule")

const (
	typeGroup     = "FilterGroup"
	typeCondition = "Filter"
	dateTag       = "Date"
	dateLayout    = "2006-01-02T15:04:05.000Z07:00"
)

type wireNode struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Op         string            `json:"op,omitempty"`
	Conditions []wireNode        `json:"conditions,omitempty"`
	Path       []string          `json:"path,omitempty"`
	Name       string            `json:"name,omitempty"`
	Args       []json.RawMessage `json:"args,omitempty"`
	Invert     bool              `json:"invert"`
}

type wireGroup struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Op         string `json:"op"`
	Conditions []any  `json:"conditions"`
	Invert     bool   `json:"invert"`
}

type wireCondition struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Path   []string `json:"path"`
	Name   string   `json:"name"`
	Args   []any    `json:"args"`
	Invert bool     `json:"invert"`
}

type wireDate struct {
	Type  string `json:"__type"`
	Value string `json:"value"`
}

// Decode parses a persisted rule tree. The root must be a group.
func Decode(data []byte) (*Group, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if w.Type != typeGroup {
		return nil, fmt.Errorf("%w: root must be a %s", ErrInvalidRule, typeGroup)
	}
	n, err := decodeNode(w)
	if err != nil {
		return nil, err
	}
	return n.(*Group), nil
}

func decodeNode(w wireNode) (Node, error) {
	switch w.Type {
	case typeGroup:
		if w.Op != OpAnd && w.Op != OpOr {
			return nil, fmt.Errorf("%w: unknown group op %q", ErrInvalidRule, w.Op)
		}
		g := &Group{ID: w.ID, Op: w.Op, Invert: w.Invert, Children: make([]Node, 0, len(w.Conditions))}
		for _, c := range w.Conditions {
			child, err := decodeNode(c)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, child)
		}
		return g, nil
	case typeCondition:
		c := &Condition{
			ID:       w.ID,
			Field:    strings.Join(w.Path, "."),
			Operator: w.Name,
			Invert:   w.Invert,
		}
		if len(w.Args) > 0 {
			c.Arg = decodeValue(w.Args[0])
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown node type %q", ErrInvalidRule, w.Type)
	}
}

// decodeValue maps a JSON argument to a Value. Arguments of any other shape
// decode as KindNone, which compiles to no constraint.
func decodeValue(raw json.RawMessage) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return String(s)
		}
	case '{':
		var d wireDate
		if err := json.Unmarshal(raw, &d); err == nil && d.Type == dateTag {
			if t, err := time.Parse(time.RFC3339Nano, d.Value); err == nil {
				return Date(t.UTC())
			}
		}
	case 'n', 't', 'f', '[':
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return Number(n)
		}
	}
	return Value{}
}

// Encode serializes a rule tree to its persisted JSON form.
func Encode(n Node) ([]byte, error) {
	data, err := json.Marshal(encodeNode(n))
	if err != nil {
		return nil, fmt.Errorf("encode rule: %w", err)
	}
	return data, nil
}

func encodeNode(n Node) any {
	switch v := n.(type) {
	case *Group:
		children := make([]any, 0, len(v.Children))
		for _, c := range v.Children {
			children = append(children, encodeNode(c))
		}
		return wireGroup{ID: v.ID, Type: typeGroup, Op: v.Op, Conditions: children, Invert: v.Invert}
	case *Condition:
		args := []any{}
		if a := encodeValue(v.Arg); a != nil {
			args = append(args, a)
		}
		var path []string
		if v.Field != "" {
			path = strings.Split(v.Field, ".")
		}
		return wireCondition{ID: v.ID, Type: typeCondition, Path: path, Name: v.Operator, Args: args, Invert: v.Invert}
	}
	return nil
}

func encodeValue(v Value) any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindDate:
		return wireDate{Type: dateTag, Value: v.Time.UTC().Format(dateLayout)}
	}
	return nil
}
