// Package form holds Form/Class definitions: named schemas declaring
// required and optional typed fields, defaults, and a markdown template
// for new records. Definitions are immutable once referenced except
// through explicit re-create, which bumps the version.
package form

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calvinalkan/formdb/pkg/record"
)

// Field type names accepted in a [FieldSpec].
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeDate     = "date"
	TypeBoolean  = "boolean"
	TypeList     = "list"
	TypeMarkdown = "markdown"
)

// FieldSpec declares the type and requiredness of one schema field.
type FieldSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Definition is a named form schema. Fields preserve declaration order so
// templates and extraction output stay stable.
type Definition struct {
	Name      string            `json:"name"`
	Version   int               `json:"version"`
	Template  string            `json:"template,omitempty"`
	Fields    []NamedField      `json:"fields"`
	Defaults  map[string]string `json:"defaults,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitzero"`
	UpdatedAt time.Time         `json:"updated_at,omitzero"`
}

// NamedField pairs a field name with its spec, preserving order.
type NamedField struct {
	Name string    `json:"name"`
	Spec FieldSpec `json:"spec"`
}

// Field returns the spec for name and whether it exists.
func (d *Definition) Field(name string) (FieldSpec, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return d.Fields[i].Spec, true
		}
	}

	return FieldSpec{}, false
}

// FieldKind returns the value kind declared for name, defaulting to string.
func (d *Definition) FieldKind(name string) record.Kind {
	spec, ok := d.Field(name)
	if !ok {
		return record.KindString
	}

	kind, _ := record.KindFromString(spec.Type)

	return kind
}

// reservedColumns are system column names that schema fields may never use.
// They collide with columns the query engine exposes on every table.
var reservedColumns = map[string]struct{}{
	"id":                 {},
	"entry_id":           {},
	"title":              {},
	"form":               {},
	"tags":               {},
	"links":              {},
	"assets":             {},
	"created_at":         {},
	"updated_at":         {},
	"revision_id":        {},
	"parent_revision_id": {},
	"deleted":            {},
	"deleted_at":         {},
	"author":             {},
	"integrity":          {},
	"space_id":           {},
	"word_count":         {},
}

// IsReservedColumn reports whether name collides with a system column.
// The query engine resolves columns case-insensitively, so the check
// folds case too.
func IsReservedColumn(name string) bool {
	_, ok := reservedColumns[strings.ToLower(name)]

	return ok
}

// ErrInvalidDefinition reports a definition that failed validation.
var ErrInvalidDefinition = errors.New("invalid form definition")

// Validate checks the definition for an empty name, unknown field types,
// reserved field names, and duplicate fields.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidDefinition)
	}

	seen := make(map[string]struct{}, len(d.Fields))

	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidDefinition)
		}

		if IsReservedColumn(f.Name) {
			return fmt.Errorf("%w: field %q is a reserved column", ErrInvalidDefinition, f.Name)
		}

		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidDefinition, f.Name)
		}

		seen[f.Name] = struct{}{}

		_, ok := record.KindFromString(f.Spec.Type)
		if !ok {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidDefinition, f.Name, f.Spec.Type)
		}
	}

	for name := range d.Defaults {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("%w: default for unknown field %q", ErrInvalidDefinition, name)
		}
	}

	return nil
}
