package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the concrete type held by a [Value].
// The set is closed so the query engine and schema validator can
// exhaustively match.
type Kind uint8

// Value kinds.
const (
	KindString Kind = iota
	KindNumber
	KindDate
	KindBool
	KindList
	KindMarkdown
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindBool:
		return "boolean"
	case KindList:
		return "list"
	case KindMarkdown:
		return "markdown"
	default:
		return "string"
	}
}

// KindFromString maps a schema type name to a [Kind].
// Returns false for unknown names.
func KindFromString(name string) (Kind, bool) {
	switch name {
	case "string":
		return KindString, true
	case "number":
		return KindNumber, true
	case "date":
		return KindDate, true
	case "boolean", "bool":
		return KindBool, true
	case "list":
		return KindList, true
	case "markdown":
		return KindMarkdown, true
	default:
		return KindString, false
	}
}

// Value is a tagged union over the property types a record can hold.
// Exactly one payload field is meaningful, selected by Kind.
// The zero value is the empty string.
type Value struct {
	Kind Kind
	Str  string    // KindString, KindMarkdown
	Num  float64   // KindNumber
	Time time.Time // KindDate, always UTC
	Bool bool      // KindBool
	List []string  // KindList
}

// String constructors for each kind.

// StringValue returns a string-kind Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// MarkdownValue returns a markdown-kind Value.
func MarkdownValue(s string) Value { return Value{Kind: KindMarkdown, Str: s} }

// NumberValue returns a number-kind Value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// DateValue returns a date-kind Value normalized to UTC.
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Time: t.UTC()} }

// BoolValue returns a boolean-kind Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListValue returns a list-kind Value.
func ListValue(items []string) Value { return Value{Kind: KindList, List: items} }

// dateLayouts are the accepted date formats, tried in order.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseDate parses a date in RFC3339 or YYYY-MM-DD form, normalized to UTC.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Coerce attempts to convert v to the target kind.
// String/markdown sources are parsed for number/date/boolean targets.
// A failed coercion returns an error and leaves the caller free to keep
// the original value as a best-effort result.
func (v Value) Coerce(target Kind) (Value, error) {
	if v.Kind == target {
		return v, nil
	}

	switch target {
	case KindString:
		return StringValue(v.Text()), nil
	case KindMarkdown:
		return MarkdownValue(v.Text()), nil
	case KindNumber:
		if v.Kind == KindString || v.Kind == KindMarkdown {
			n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
			if err != nil {
				return v, fmt.Errorf("cannot parse %q as number", v.Str)
			}

			return NumberValue(n), nil
		}

		if v.Kind == KindBool {
			if v.Bool {
				return NumberValue(1), nil
			}

			return NumberValue(0), nil
		}

		return v, fmt.Errorf("cannot coerce %s to number", v.Kind)
	case KindDate:
		if v.Kind == KindString || v.Kind == KindMarkdown {
			t, err := ParseDate(strings.TrimSpace(v.Str))
			if err != nil {
				return v, err
			}

			return DateValue(t), nil
		}

		return v, fmt.Errorf("cannot coerce %s to date", v.Kind)
	case KindBool:
		if v.Kind == KindString || v.Kind == KindMarkdown {
			switch strings.ToLower(strings.TrimSpace(v.Str)) {
			case "true", "yes":
				return BoolValue(true), nil
			case "false", "no":
				return BoolValue(false), nil
			}

			return v, fmt.Errorf("cannot parse %q as boolean", v.Str)
		}

		return v, fmt.Errorf("cannot coerce %s to boolean", v.Kind)
	case KindList:
		if v.Kind == KindString || v.Kind == KindMarkdown {
			if strings.TrimSpace(v.Str) == "" {
				return ListValue(nil), nil
			}

			parts := strings.Split(v.Str, ",")
			items := make([]string, 0, len(parts))

			for _, p := range parts {
				items = append(items, strings.TrimSpace(p))
			}

			return ListValue(items), nil
		}

		return v, fmt.Errorf("cannot coerce %s to list", v.Kind)
	default:
		return v, fmt.Errorf("unknown target kind %d", target)
	}
}

// Text renders the value as a plain string. Lists join with ", ".
// Dates render as RFC3339, whole numbers without a decimal point.
func (v Value) Text() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		return v.Time.Format(time.RFC3339)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		return strings.Join(v.List, ", ")
	default:
		return v.Str
	}
}

// Compare orders two values. Numbers and dates compare numerically,
// booleans order false < true, everything else falls back to the
// textual rendering. Mixed kinds compare textually.
func Compare(a, b Value) int {
	if a.Kind == b.Kind {
		switch a.Kind {
		case KindNumber:
			switch {
			case a.Num < b.Num:
				return -1
			case a.Num > b.Num:
				return 1
			default:
				return 0
			}
		case KindDate:
			switch {
			case a.Time.Before(b.Time):
				return -1
			case a.Time.After(b.Time):
				return 1
			default:
				return 0
			}
		case KindBool:
			switch {
			case !a.Bool && b.Bool:
				return -1
			case a.Bool && !b.Bool:
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(a.Text(), b.Text())
}

// Equal reports whether two values are equal under [Compare] semantics.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// valueJSON is the persisted wire form of a Value.
type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any

	switch v.Kind {
	case KindNumber:
		payload = v.Num
	case KindDate:
		payload = v.Time.Format(time.RFC3339Nano)
	case KindBool:
		payload = v.Bool
	case KindList:
		items := v.List
		if items == nil {
			items = []string{}
		}

		payload = items
	default:
		payload = v.Str
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal value payload: %w", err)
	}

	return json.Marshal(valueJSON{Kind: v.Kind.String(), Value: raw})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}

	kind, ok := KindFromString(wire.Kind)
	if !ok {
		return fmt.Errorf("unmarshal value: unknown kind %q", wire.Kind)
	}

	switch kind {
	case KindNumber:
		var n float64

		err = json.Unmarshal(wire.Value, &n)
		if err != nil {
			return fmt.Errorf("unmarshal number value: %w", err)
		}

		*v = NumberValue(n)
	case KindDate:
		var s string

		err = json.Unmarshal(wire.Value, &s)
		if err != nil {
			return fmt.Errorf("unmarshal date value: %w", err)
		}

		t, parseErr := time.Parse(time.RFC3339Nano, s)
		if parseErr != nil {
			return fmt.Errorf("unmarshal date value: %w", parseErr)
		}

		*v = DateValue(t)
	case KindBool:
		var b bool

		err = json.Unmarshal(wire.Value, &b)
		if err != nil {
			return fmt.Errorf("unmarshal boolean value: %w", err)
		}

		*v = BoolValue(b)
	case KindList:
		var items []string

		err = json.Unmarshal(wire.Value, &items)
		if err != nil {
			return fmt.Errorf("unmarshal list value: %w", err)
		}

		*v = ListValue(items)
	case KindMarkdown:
		var s string

		err = json.Unmarshal(wire.Value, &s)
		if err != nil {
			return fmt.Errorf("unmarshal markdown value: %w", err)
		}

		*v = MarkdownValue(s)
	default:
		var s string

		err = json.Unmarshal(wire.Value, &s)
		if err != nil {
			return fmt.Errorf("unmarshal string value: %w", err)
		}

		*v = StringValue(s)
	}

	return nil
}

// ErrNoProperty reports a property lookup miss on [Properties].
var ErrNoProperty = errors.New("property not found")
