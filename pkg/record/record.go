// Package record defines the projected record model and its property values.
//
// A [Record] is never mutated in place: it is the projection of the latest
// accepted [Revision] for an id, recomputed by the extractor each time a
// revision is accepted. Revisions are immutable and append-only; the chain
// for an id is a singly linked list via ParentRevisionID.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Property is one named value inside a record's ordered property map.
type Property struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Properties is an insertion-ordered set of named values.
// Order is part of the extraction contract: extracting the same markdown
// twice yields byte-identical serialized properties.
type Properties []Property

// Get returns the value for name, or [ErrNoProperty].
func (p Properties) Get(name string) (Value, error) {
	for i := range p {
		if p[i].Name == name {
			return p[i].Value, nil
		}
	}

	return Value{}, fmt.Errorf("%q: %w", name, ErrNoProperty)
}

// Has reports whether name is present.
func (p Properties) Has(name string) bool {
	_, err := p.Get(name)

	return err == nil
}

// Set replaces the value for name in place, or appends it.
func (p *Properties) Set(name string, v Value) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = v

			return
		}
	}

	*p = append(*p, Property{Name: name, Value: v})
}

// LinkRef is one directed edge owned by a record. A conceptual bidirectional
// link is stored as two directed edges sharing a LinkID, one per endpoint.
type LinkRef struct {
	LinkID string `json:"link_id"`
	Target string `json:"target"`
}

// AssetRef is an opaque reference to an attachment. Resolution is not a
// core concern; the reference is carried verbatim.
type AssetRef struct {
	Ref string `json:"ref"`
}

// CanvasPosition is an optional 2D placement hint carried through from
// frontmatter.
type CanvasPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Record is the current structured projection of a document's latest
// accepted revision.
type Record struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Form       string          `json:"form,omitempty"` // FormDefinition name, empty when unbound
	Properties Properties      `json:"properties"`
	Tags       []string        `json:"tags,omitempty"`
	Links      []LinkRef       `json:"links,omitempty"`
	Assets     []AssetRef      `json:"assets,omitempty"`
	Canvas     *CanvasPosition `json:"canvas_position,omitempty"`
	WordCount  int             `json:"word_count"`
	RevisionID string          `json:"revision_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at,omitzero"`
	UpdatedAt  time.Time       `json:"updated_at,omitzero"`
}

// MarshalProjection serializes the record for storage as the head projection.
func (r *Record) MarshalProjection() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.ID, err)
	}

	return data, nil
}

// UnmarshalProjection decodes a stored head projection.
func UnmarshalProjection(data []byte) (Record, error) {
	var rec Record

	err := json.Unmarshal(data, &rec)
	if err != nil {
		return Record{}, fmt.Errorf("unmarshal record projection: %w", err)
	}

	return rec, nil
}

// Revision is one immutable version of a record's raw markdown.
type Revision struct {
	RevisionID       string    `json:"revision_id"`
	ParentRevisionID string    `json:"parent_revision_id,omitempty"` // empty only for the first revision
	Markdown         string    `json:"markdown"`
	Author           string    `json:"author"`
	Timestamp        time.Time `json:"timestamp"`
	Integrity        string    `json:"integrity"` // sha256 hex of the markdown
}

// Checksum computes the integrity checksum for a markdown payload.
func Checksum(markdown string) string {
	sum := sha256.Sum256([]byte(markdown))

	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored integrity checksum matches the markdown.
func (rev *Revision) Verify() bool {
	return rev.Integrity == Checksum(rev.Markdown)
}

// RevisionMeta is the history listing entry for one revision.
type RevisionMeta struct {
	RevisionID       string    `json:"revision_id"`
	ParentRevisionID string    `json:"parent_revision_id,omitempty"`
	Author           string    `json:"author"`
	Timestamp        time.Time `json:"timestamp"`
}
