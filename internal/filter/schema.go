package filter

import "sort"

// FieldSchema describes a filterable field for rule builders.
type FieldSchema struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Operators []string `json:"operators"`
}

var (
	stringOperators = []string{
		Equals, NotEqual, Contains, NotContains, StartsWith, NotStartsWith,
		EndsWith, NotEndsWith, IsEmpty, IsNotEmpty,
	}
	dateOperators = []string{Before, After, Equals, NotEqual, GreaterThan, LessThan}
)

// Schema lists the fields a rule may reference, sorted by name.
func Schema() []FieldSchema {
	out := make([]FieldSchema, 0, len(fields))
	for name, f := range fields {
		s := FieldSchema{Name: name, Type: "string", Operators: stringOperators}
		if f.family == familyDate {
			s.Type = "date"
			s.Operators = dateOperators
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
