package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// ViewMeta pins a materialized view to the storage snapshot it was
// built from. The view's lifecycle strictly mirrors its saved query:
// saving the query creates or refreshes the view, deleting the query
// deletes the view.
type ViewMeta struct {
	SQLID      string    `json:"sql_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	SnapshotID uint64    `json:"snapshot_id"`
	SchemaHash string    `json:"schema_hash"`
}

// Stale reports whether the view was built from a different query
// definition than q.
func (v *ViewMeta) Stale(q *SavedQuery) bool {
	return v.SchemaHash != queryHash(q)
}

// queryHash fingerprints a saved query's definition: the SQL text plus
// its declared variables. A view whose hash differs from its query's
// must be rebuilt before use.
func queryHash(q *SavedQuery) string {
	h := sha256.New()
	h.Write([]byte(q.SQL))

	for _, v := range q.Variables {
		fmt.Fprintf(h, "\x00%s\x00%s", v.Name, v.Type)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// viewStore persists view metadata under
// spaces/{space}/materialized_views/{sql_id}/meta.json.
type viewStore struct {
	dir string
}

func (s *viewStore) get(sqlID string) (*ViewMeta, error) {
	data, err := os.ReadFile(s.metaPath(sqlID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("materialized view %q: %w", sqlID, ErrNotFound)
		}

		return nil, fmt.Errorf("read materialized view %q: %w", sqlID, err)
	}

	var meta ViewMeta

	err = json.Unmarshal(data, &meta)
	if err != nil {
		return nil, fmt.Errorf("decode materialized view %q: %w", sqlID, err)
	}

	return &meta, nil
}

// put writes view metadata, preserving CreatedAt across rebuilds.
func (s *viewStore) put(meta *ViewMeta, now time.Time) error {
	existing, err := s.get(meta.SQLID)

	switch {
	case err == nil:
		meta.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		meta.CreatedAt = now.UTC()
	default:
		return err
	}

	meta.UpdatedAt = now.UTC()

	dir := filepath.Join(s.dir, meta.SQLID)

	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("create view dir %q: %w", meta.SQLID, err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode materialized view %q: %w", meta.SQLID, err)
	}

	err = atomic.WriteFile(s.metaPath(meta.SQLID), strings.NewReader(string(data)+"\n"))
	if err != nil {
		return fmt.Errorf("write materialized view %q: %w", meta.SQLID, err)
	}

	return nil
}

func (s *viewStore) delete(sqlID string) error {
	err := os.RemoveAll(filepath.Join(s.dir, sqlID))
	if err != nil {
		return fmt.Errorf("delete materialized view %q: %w", sqlID, err)
	}

	return nil
}

func (s *viewStore) metaPath(sqlID string) string {
	return filepath.Join(s.dir, sqlID, "meta.json")
}
