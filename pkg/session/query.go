// Package session provides saved SQL queries, materialized views, and
// stateless paging sessions over a pinned storage snapshot. Session
// state is metadata-only, so any server instance sharing the same
// space directory and store can serve pages for a session created by
// another instance.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// ErrNotFound reports an unknown saved query, view, or session id.
var ErrNotFound = errors.New("not found")

// Variable declares one {{name}} placeholder of a saved query.
type Variable struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// SavedQuery is a reusable SQL template stored under
// spaces/{space}/queries/{id}.json.
type SavedQuery struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	SQL       string     `json:"sql"`
	Variables []Variable `json:"variables,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// QueryRegistry stores saved queries as one JSON file per query.
type QueryRegistry struct {
	dir string
}

// OpenQueryRegistry opens (creating if needed) the saved query
// directory of a space.
func OpenQueryRegistry(dir string) (*QueryRegistry, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("open query registry: %w", err)
	}

	return &QueryRegistry{dir: dir}, nil
}

// Get loads one saved query by id.
func (r *QueryRegistry) Get(id string) (*SavedQuery, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("saved query %q: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("read saved query %q: %w", id, err)
	}

	var q SavedQuery

	err = json.Unmarshal(data, &q)
	if err != nil {
		return nil, fmt.Errorf("decode saved query %q: %w", id, err)
	}

	return &q, nil
}

// List returns all saved queries sorted by name.
func (r *QueryRegistry) List() ([]*SavedQuery, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list saved queries: %w", err)
	}

	var queries []*SavedQuery

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		q, getErr := r.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if getErr != nil {
			return nil, getErr
		}

		queries = append(queries, q)
	}

	sort.Slice(queries, func(i, j int) bool { return queries[i].Name < queries[j].Name })

	return queries, nil
}

// Save writes a saved query atomically, preserving CreatedAt across
// updates.
func (r *QueryRegistry) Save(q *SavedQuery, now time.Time) error {
	if q.ID == "" {
		return fmt.Errorf("save query: id is required")
	}

	if strings.TrimSpace(q.SQL) == "" {
		return fmt.Errorf("save query %q: sql is required", q.ID)
	}

	existing, err := r.Get(q.ID)

	switch {
	case err == nil:
		q.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		q.CreatedAt = now.UTC()
	default:
		return err
	}

	q.UpdatedAt = now.UTC()

	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return fmt.Errorf("encode saved query %q: %w", q.ID, err)
	}

	err = atomic.WriteFile(r.path(q.ID), strings.NewReader(string(data)+"\n"))
	if err != nil {
		return fmt.Errorf("write saved query %q: %w", q.ID, err)
	}

	return nil
}

// Delete removes a saved query. Deleting an unknown id is ErrNotFound.
func (r *QueryRegistry) Delete(id string) error {
	err := os.Remove(r.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("saved query %q: %w", id, ErrNotFound)
		}

		return fmt.Errorf("delete saved query %q: %w", id, err)
	}

	return nil
}

func (r *QueryRegistry) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}
