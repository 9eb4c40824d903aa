package bot

import (
	"fmt"
	"strings"
)

// ParseLogins splits command arguments on whitespace and commas.
func ParseLogins(args string) []string {
	return strings.FieldsFunc(args, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}

// ParseTypeArg returns the first argument lower-cased, or "".
func ParseTypeArg(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// ParseHideRuleArgs parses "/hiderule <name> <json>". The rule starts at
// the first '{'.
func ParseHideRuleArgs(args string) (string, string, error) {
	i := strings.Index(args, "{")
	if i < 0 {
		return "", "", fmt.Errorf("usage: /hiderule <name> <json rule>")
	}
	name := strings.TrimSpace(args[:i])
	if name == "" {
		return "", "", fmt.Errorf("rule name is required")
	}
	return name, strings.TrimSpace(args[i:]), nil
}
