// Package extract turns raw markdown into a structured record projection.
//
// Extraction is a pure function: the same markdown and schema always
// produce byte-identical properties. Frontmatter keys and '## Header'
// body sections merge into one property map with the precedence
// section > frontmatter > schema default. Validation against a form
// schema is advisory; issues are reported, never thrown.
package extract

import (
	"strings"

	"github.com/calvinalkan/formdb/pkg/form"
	"github.com/calvinalkan/formdb/pkg/record"
)

// Issue is one advisory validation finding attached to an extraction.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// MissingRequiredField is the message used when a required schema field
// has no section, frontmatter key, or default.
const MissingRequiredField = "missing required field"

// Frontmatter keys the extractor consumes directly instead of exposing
// as properties.
const (
	keyForm   = "form"
	keyClass  = "class"
	keyTags   = "tags"
	keyCanvas = "canvas"
)

// Extract parses markdown into a record projection. def may be nil for
// schemaless extraction. The returned record has no identity fields set
// (ID, RevisionID, timestamps); the revision store owns those.
func Extract(markdown string, def *form.Definition) (record.Record, []Issue) {
	var (
		rec    record.Record
		issues []Issue
	)

	yamlBlock, body := splitFrontmatter(markdown)

	entries, err := decodeFrontmatter(yamlBlock)
	if err != nil {
		// Malformed YAML never aborts extraction: report and fall back
		// to treating the whole input as body.
		issues = append(issues, Issue{Field: "frontmatter", Message: err.Error()})
		body = markdown
		entries = nil
	}

	for _, entry := range entries {
		switch strings.ToLower(entry.key) {
		case keyForm, keyClass:
			rec.Form = entry.value.Text()
		case keyTags:
			rec.Tags = tagSet(entry.value)
		case keyCanvas:
			if pos, ok := canvasFromEntry(entry.value); ok {
				rec.Canvas = pos
			}
		default:
			if form.IsReservedColumn(entry.key) {
				issues = append(issues, Issue{Field: entry.key, Message: "reserved field name"})

				continue
			}

			rec.Properties.Set(entry.key, entry.value)
		}
	}

	for _, sec := range splitSections(body) {
		setFold(&rec.Properties, sec.title, record.StringValue(sec.value))
	}

	if def != nil {
		issues = append(issues, applySchema(&rec, def)...)
	}

	rec.Title = deriveTitle(body)
	rec.WordCount = countWords(body)
	rec.Links = extractLinks(body)
	rec.Assets = extractAssets(body)

	if rec.Properties == nil {
		rec.Properties = record.Properties{}
	}

	return rec, issues
}

// applySchema coerces typed fields, fills defaults, and reports missing
// required fields. Coercion failures keep the raw value as best effort.
func applySchema(rec *record.Record, def *form.Definition) []Issue {
	var issues []Issue

	for _, field := range def.Fields {
		idx := indexFold(rec.Properties, field.Name)

		if idx < 0 {
			if raw, ok := def.Defaults[field.Name]; ok {
				rec.Properties.Set(field.Name, coerceDefault(raw, def.FieldKind(field.Name)))

				continue
			}

			if field.Spec.Required {
				issues = append(issues, Issue{Field: field.Name, Message: MissingRequiredField})
			}

			continue
		}

		// Canonicalize the property name to the schema's declared casing.
		rec.Properties[idx].Name = field.Name

		coerced, err := rec.Properties[idx].Value.Coerce(def.FieldKind(field.Name))
		if err != nil {
			issues = append(issues, Issue{Field: field.Name, Message: err.Error()})

			continue
		}

		rec.Properties[idx].Value = coerced
	}

	return issues
}

// coerceDefault parses a schema default string into the field's kind,
// falling back to the raw string.
func coerceDefault(raw string, kind record.Kind) record.Value {
	coerced, err := record.StringValue(raw).Coerce(kind)
	if err != nil {
		return record.StringValue(raw)
	}

	return coerced
}

// deriveTitle picks the first H1, else the first non-empty line, else
// "Untitled".
func deriveTitle(body string) string {
	if h1 := firstH1(body); h1 != "" {
		return h1
	}

	if line := firstNonEmptyLine(body); line != "" {
		return strings.TrimLeft(line, "# ")
	}

	return "Untitled"
}

// tagSet normalizes a tags frontmatter value into a deduplicated list,
// preserving first-seen order.
func tagSet(v record.Value) []string {
	var raw []string

	if v.Kind == record.KindList {
		raw = v.List
	} else {
		for _, part := range strings.Split(v.Text(), ",") {
			raw = append(raw, part)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))

	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}

		if _, dup := seen[tag]; dup {
			continue
		}

		seen[tag] = struct{}{}

		tags = append(tags, tag)
	}

	if len(tags) == 0 {
		return nil
	}

	return tags
}

// setFold sets name case-insensitively: an existing property keeps its
// original name and takes the new value; otherwise the pair is appended.
func setFold(props *record.Properties, name string, v record.Value) {
	idx := indexFold(*props, name)
	if idx >= 0 {
		(*props)[idx].Value = v

		return
	}

	*props = append(*props, record.Property{Name: name, Value: v})
}

// indexFold finds a property by case-insensitive name, or -1.
func indexFold(props record.Properties, name string) int {
	for i := range props {
		if strings.EqualFold(props[i].Name, name) {
			return i
		}
	}

	return -1
}
