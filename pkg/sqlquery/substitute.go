package sqlquery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/formdb/pkg/record"
)

// Substitute replaces {{name}} placeholders in a query template with
// SQL-rendered values. Strings and dates are single-quoted with
// embedded quotes doubled, numbers and booleans are inlined, and lists
// render as parenthesized literal lists for IN. A placeholder with no
// supplied value fails with ErrMissingVariable; substitution is
// all-or-nothing.
func Substitute(src string, values map[string]record.Value) (string, error) {
	var b strings.Builder

	rest := src

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)

			return b.String(), nil
		}

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)

			return b.String(), nil
		}

		end += start

		name := strings.TrimSpace(rest[start+2 : end])

		value, ok := lookupVariable(values, name)
		if !ok {
			return "", fmt.Errorf("%w: {{%s}}", ErrMissingVariable, name)
		}

		b.WriteString(rest[:start])
		b.WriteString(renderValue(value))

		rest = rest[end+2:]
	}
}

// Placeholders lists the distinct {{name}} placeholders in a template,
// in order of first appearance.
func Placeholders(src string) []string {
	var names []string

	seen := make(map[string]struct{})

	rest := src

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			return names
		}

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return names
		}

		end += start

		name := strings.TrimSpace(rest[start+2 : end])
		if _, dup := seen[name]; !dup && name != "" {
			seen[name] = struct{}{}

			names = append(names, name)
		}

		rest = rest[end+2:]
	}
}

func lookupVariable(values map[string]record.Value, name string) (record.Value, bool) {
	if v, ok := values[name]; ok {
		return v, true
	}

	for key, v := range values {
		if strings.EqualFold(key, name) {
			return v, true
		}
	}

	return record.Value{}, false
}

// renderValue writes one value as a SQL literal.
func renderValue(v record.Value) string {
	switch v.Kind {
	case record.KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case record.KindBool:
		if v.Bool {
			return "TRUE"
		}

		return "FALSE"
	case record.KindDate:
		return quoteSQL(v.Time.UTC().Format(time.RFC3339))
	case record.KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = quoteSQL(item)
		}

		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return quoteSQL(v.Text())
	}
}

// quoteSQL single-quotes s, doubling embedded quotes.
func quoteSQL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
