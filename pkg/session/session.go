package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// Session lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// ErrExpired reports access to a session past its expires_at. Callers
// treat it like ErrNotFound and recreate the session.
var ErrExpired = errors.New("session expired")

// View pins a session to one storage snapshot.
type View struct {
	SnapshotID    uint64    `json:"snapshot_id"`
	SnapshotAt    time.Time `json:"snapshot_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Pagination holds the deterministic ordering a session pages with.
// OrderBy always ends in a tie-breaker column (id) so pages never
// overlap or skip rows.
type Pagination struct {
	OrderBy      []string `json:"order_by"`
	DefaultLimit int      `json:"default_limit"`
	MaxLimit     int      `json:"max_limit"`
}

// Count caches the on-demand total row count.
type Count struct {
	Mode     string     `json:"mode"`
	CachedAt *time.Time `json:"cached_at,omitempty"`
	Value    *int       `json:"value,omitempty"`
}

// Session is the paging metadata persisted at
// spaces/{space}/sql_sessions/{id}/meta.json. It holds no result rows;
// every page re-evaluates the pinned query against the pinned snapshot.
type Session struct {
	ID         string     `json:"id"`
	SQLID      string     `json:"sql_id,omitempty"`
	SQL        string     `json:"sql"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	View       View       `json:"view"`
	Pagination Pagination `json:"pagination"`
	Count      Count      `json:"count"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Expired reports whether the session is past its lifetime.
func (s *Session) Expired(now time.Time) bool {
	return s.Status == StatusExpired || now.After(s.ExpiresAt)
}

// sessionStore persists session metadata, one directory per session.
type sessionStore struct {
	dir string
}

func (s *sessionStore) get(id string) (*Session, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("read session %q: %w", id, err)
	}

	var sess Session

	err = json.Unmarshal(data, &sess)
	if err != nil {
		return nil, fmt.Errorf("decode session %q: %w", id, err)
	}

	return &sess, nil
}

func (s *sessionStore) put(sess *Session) error {
	dir := filepath.Join(s.dir, sess.ID)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("create session dir %q: %w", sess.ID, err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %q: %w", sess.ID, err)
	}

	err = atomic.WriteFile(s.metaPath(sess.ID), strings.NewReader(string(data)+"\n"))
	if err != nil {
		return fmt.Errorf("write session %q: %w", sess.ID, err)
	}

	return nil
}

func (s *sessionStore) delete(id string) error {
	err := os.RemoveAll(filepath.Join(s.dir, id))
	if err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}

	return nil
}

func (s *sessionStore) metaPath(id string) string {
	return filepath.Join(s.dir, id, "meta.json")
}
