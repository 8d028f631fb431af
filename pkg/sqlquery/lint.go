package sqlquery

import (
	"errors"
	"strings"
)

// Severity levels for lint diagnostics.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic is one lint finding. From/To are byte offsets into the
// original query text so editors can underline the exact span.
type Diagnostic struct {
	From     int    `json:"from"`
	To       int    `json:"to"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Lint runs the quick structural checks used for editor feedback.
// It never executes the query and is independent of the full parser:
// a query that lints clean can still fail Parse.
func Lint(src string) []Diagnostic {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return []Diagnostic{{From: 0, To: len(src), Severity: SeverityError, Message: "Query is required"}}
	}

	var diags []Diagnostic

	tokens, err := tokenize(src)
	if err != nil {
		var synErr *SyntaxError
		if errors.As(err, &synErr) {
			return []Diagnostic{{From: synErr.From, To: synErr.To, Severity: SeverityError, Message: synErr.Message}}
		}

		return []Diagnostic{{From: 0, To: len(src), Severity: SeverityError, Message: err.Error()}}
	}

	first := tokens[0]
	if !first.keyword("SELECT") {
		diags = append(diags, Diagnostic{
			From: first.From, To: first.To,
			Severity: SeverityError,
			Message:  "Query must start with SELECT",
		})
	}

	if !containsKeyword(tokens, "FROM") {
		diags = append(diags, Diagnostic{
			From: 0, To: len(src),
			Severity: SeverityError,
			Message:  "Query must contain FROM",
		})
	}

	// A ';' anywhere but the end of the trimmed text means more than one
	// statement; only the first would run.
	lastMeaningful := len(strings.TrimRight(src, " \t\r\n")) - 1
	for _, tok := range tokens {
		if tok.Kind == TokenSymbol && tok.Text == ";" && tok.From != lastMeaningful {
			diags = append(diags, Diagnostic{
				From: tok.From, To: tok.To,
				Severity: SeverityWarning,
				Message:  "multiple statements detected; only the first is executed",
			})
		}
	}

	for i, tok := range tokens {
		if !tok.keyword("LIMIT") || i+1 >= len(tokens) {
			continue
		}

		next := tokens[i+1]
		if next.Kind != TokenNumber {
			diags = append(diags, Diagnostic{
				From: next.From, To: next.To,
				Severity: SeverityError,
				Message:  "LIMIT value must be a number",
			})
		}
	}

	return diags
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}

	return false
}

func containsKeyword(tokens []Token, word string) bool {
	for _, tok := range tokens {
		if tok.keyword(word) {
			return true
		}
	}

	return false
}
