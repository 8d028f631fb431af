package sqlquery

import (
	"errors"
	"fmt"
)

// SyntaxError reports a malformed query with the offending span.
// It is distinguishable from generic failures so transports can map it
// to a dedicated error shape.
type SyntaxError struct {
	Message string
	From    int
	To      int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query syntax error at %d: %s", e.From, e.Message)
}

// LimitError reports an explicit LIMIT above the server maximum.
// The query is rejected before execution, never silently clamped.
type LimitError struct {
	Requested int
	Max       int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("LIMIT %d exceeds the maximum of %d", e.Requested, e.Max)
}

// ErrUnknownTable reports a FROM/JOIN reference to a table the catalog
// does not expose.
var ErrUnknownTable = errors.New("unknown table")

// ErrUnknownColumn reports a column reference that resolves to nothing
// in the joined row.
var ErrUnknownColumn = errors.New("unknown column")

// ErrMissingVariable reports a {{variable}} with no supplied value.
var ErrMissingVariable = errors.New("missing variable value")
