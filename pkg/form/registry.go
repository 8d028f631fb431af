package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// ErrNotFound indicates the requested form does not exist.
var ErrNotFound = errors.New("form not found")

// Registry stores form definitions as JSON files under a directory,
// one file per form. Writes are atomic; re-creating an existing form
// bumps its version instead of overwriting history silently.
//
// Safe for concurrent use.
type Registry struct {
	dir string

	mu sync.RWMutex
}

// OpenRegistry opens (and creates if needed) a form registry directory.
func OpenRegistry(dir string) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("open registry: directory is empty")
	}

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("open registry: create directory: %w", err)
	}

	return &Registry{dir: filepath.Clean(dir)}, nil
}

// Get returns the definition for name. Lookup is case-insensitive on the
// form name; the stored name casing is preserved in the result.
func (r *Registry) Get(name string) (*Definition, error) {
	if name == "" {
		return nil, errors.New("get form: name is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, err := r.load(name)
	if err != nil {
		return nil, fmt.Errorf("get form: %w", err)
	}

	return def, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() ([]Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}

	defs := make([]Definition, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		def, loadErr := r.load(strings.TrimSuffix(entry.Name(), ".json"))
		if loadErr != nil {
			return nil, fmt.Errorf("list forms: %w", loadErr)
		}

		defs = append(defs, *def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs, nil
}

// Save validates and persists a definition. If a form with the same name
// already exists, the stored version is bumped by one and CreatedAt is
// carried over; otherwise the definition starts at version 1.
func (r *Registry) Save(def Definition) (*Definition, error) {
	err := def.Validate()
	if err != nil {
		return nil, fmt.Errorf("save form: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	existing, loadErr := r.load(def.Name)

	switch {
	case loadErr == nil:
		def.Version = existing.Version + 1
		def.CreatedAt = existing.CreatedAt
	case errors.Is(loadErr, ErrNotFound):
		def.Version = 1
		def.CreatedAt = now
	default:
		return nil, fmt.Errorf("save form: %w", loadErr)
	}

	def.UpdatedAt = now

	data, err := json.MarshalIndent(&def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("save form %s: marshal: %w", def.Name, err)
	}

	err = atomic.WriteFile(r.path(def.Name), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("save form %s: write: %w", def.Name, err)
	}

	return &def, nil
}

// Delete removes a form definition. Deleting an unknown form returns
// [ErrNotFound].
func (r *Registry) Delete(name string) error {
	if name == "" {
		return errors.New("delete form: name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def, err := r.load(name)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}

	err = os.Remove(r.path(def.Name))
	if err != nil {
		return fmt.Errorf("delete form %s: %w", name, err)
	}

	return nil
}

// path returns the on-disk file for a form name. Names are stored
// lowercased so lookup stays case-insensitive across filesystems.
func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, strings.ToLower(name)+".json")
}

// load reads a definition without locking. Callers hold r.mu.
func (r *Registry) load(name string) (*Definition, error) {
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
		}

		return nil, fmt.Errorf("read %q: %w", name, err)
	}

	var def Definition

	err = json.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", name, err)
	}

	return &def, nil
}
