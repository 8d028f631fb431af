// Package sqlite implements the [storage.Store] snapshot table store on
// modernc.org/sqlite. Every accepted append commits a revision row, a
// commit-journal entry, and the head pointer advance in one transaction,
// so readers always see a projection matching some committed revision.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/storage"
)

// busyTimeoutMs is the time SQLite waits when the database is locked
// before returning SQLITE_BUSY.
const busyTimeoutMs = 10000

// Store is the sqlite-backed snapshot table store.
// Safe for concurrent use; a single connection serializes writes and the
// CAS check in [Store.Append] runs inside an IMMEDIATE transaction.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the store database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("open store: context is nil")
	}

	if path == "" {
		return nil, errors.New("open store: path is empty")
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front, so the CAS in Append never deadlocks on a deferred-to-write
	// lock upgrade.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open store: sqlite: %w", err)
	}

	// Ensure per-connection PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open store: ping sqlite: %w", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA temp_store = MEMORY;
	`, busyTimeoutMs))
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open store: apply pragmas: %w", err)
	}

	err = initSchema(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the SQLite handle. Safe on nil, idempotent.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	return nil
}

// Append applies one head transition atomically. The CAS check against
// the stored head revision id runs inside the same transaction as the
// writes, so concurrent appends on one record id serialize here.
func (s *Store) Append(ctx context.Context, op storage.AppendOp) (uint64, error) {
	if ctx == nil {
		return 0, errors.New("append: context is nil")
	}

	if s == nil || s.db == nil {
		return 0, fmt.Errorf("append: %w", storage.ErrUnavailable)
	}

	if op.RecordID == "" {
		return 0, errors.New("append: record id is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append: begin: %w: %w", storage.ErrUnavailable, err)
	}

	defer func() { _ = tx.Rollback() }()

	var currentRev string

	row := tx.QueryRowContext(ctx, "SELECT revision_id FROM heads WHERE record_id = ?", op.RecordID)

	err = row.Scan(&currentRev)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		currentRev = ""
	case err != nil:
		return 0, fmt.Errorf("append: read head: %w: %w", storage.ErrUnavailable, err)
	}

	if op.ParentRevisionID != currentRev {
		return 0, &storage.ConflictError{RecordID: op.RecordID, CurrentRevisionID: currentRev}
	}

	projection, err := op.Projection.MarshalProjection()
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO revisions (record_id, revision_id, parent_revision_id, author, ts, markdown, integrity)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.RecordID, op.Revision.RevisionID, op.Revision.ParentRevisionID, op.Revision.Author,
		op.Revision.Timestamp.UTC().Format(time.RFC3339Nano), op.Revision.Markdown, op.Revision.Integrity)
	if err != nil {
		return 0, fmt.Errorf("append: insert revision: %w: %w", storage.ErrUnavailable, err)
	}

	deleted := 0
	if op.Tombstone {
		deleted = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO head_log (record_id, revision_id, projection, deleted)
		VALUES (?, ?, ?, ?)`,
		op.RecordID, op.Revision.RevisionID, string(projection), deleted)
	if err != nil {
		return 0, fmt.Errorf("append: journal head: %w: %w", storage.ErrUnavailable, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append: commit seq: %w: %w", storage.ErrUnavailable, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO heads (record_id, revision_id, projection, deleted, commit_seq)
		VALUES (?, ?, ?, ?, ?)`,
		op.RecordID, op.Revision.RevisionID, string(projection), deleted, seq)
	if err != nil {
		return 0, fmt.Errorf("append: advance head: %w: %w", storage.ErrUnavailable, err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("append: commit: %w: %w", storage.ErrUnavailable, err)
	}

	return uint64(seq), nil
}

// Head returns the current projection for id.
func (s *Store) Head(ctx context.Context, id string) (storage.Head, error) {
	if ctx == nil {
		return storage.Head{}, errors.New("head: context is nil")
	}

	if s == nil || s.db == nil {
		return storage.Head{}, fmt.Errorf("head: %w", storage.ErrUnavailable)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT record_id, revision_id, projection, deleted, commit_seq FROM heads WHERE record_id = ?", id)

	head, err := scanHead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Head{}, fmt.Errorf("head %s: %w", id, storage.ErrNotFound)
		}

		return storage.Head{}, fmt.Errorf("head %s: %w", id, err)
	}

	if head.Deleted {
		return storage.Head{}, fmt.Errorf("head %s: %w", id, storage.ErrNotFound)
	}

	return head, nil
}

// ListByPrefix returns current non-deleted heads ordered by record id.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]storage.Head, error) {
	if ctx == nil {
		return nil, errors.New("list: context is nil")
	}

	if s == nil || s.db == nil {
		return nil, fmt.Errorf("list: %w", storage.ErrUnavailable)
	}

	pattern := escapeLike(prefix) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, revision_id, projection, deleted, commit_seq
		FROM heads
		WHERE deleted = 0 AND record_id LIKE ? ESCAPE '\'
		ORDER BY record_id`, pattern)
	if err != nil {
		return nil, fmt.Errorf("list: query: %w: %w", storage.ErrUnavailable, err)
	}

	defer func() { _ = rows.Close() }()

	return collectHeads(rows)
}

// Snapshot returns the current snapshot id (the latest commit sequence).
func (s *Store) Snapshot(ctx context.Context) (uint64, error) {
	if ctx == nil {
		return 0, errors.New("snapshot: context is nil")
	}

	if s == nil || s.db == nil {
		return 0, fmt.Errorf("snapshot: %w", storage.ErrUnavailable)
	}

	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(commit_seq), 0) FROM head_log")

	var seq uint64

	err := row.Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("snapshot: %w: %w", storage.ErrUnavailable, err)
	}

	return seq, nil
}

// HeadsAt returns all non-deleted heads as of the given snapshot.
// The commit journal keeps every head transition, so any past snapshot
// stays readable after later writes.
func (s *Store) HeadsAt(ctx context.Context, snapshot uint64) ([]storage.Head, error) {
	if ctx == nil {
		return nil, errors.New("heads at: context is nil")
	}

	if s == nil || s.db == nil {
		return nil, fmt.Errorf("heads at: %w", storage.ErrUnavailable)
	}

	// Bare-column MAX picks the journal row with the highest commit_seq
	// per record id, which is the head as of the snapshot.
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, revision_id, projection, deleted, MAX(commit_seq) AS commit_seq
		FROM head_log
		WHERE commit_seq <= ?
		GROUP BY record_id
		HAVING deleted = 0
		ORDER BY record_id`, snapshot)
	if err != nil {
		return nil, fmt.Errorf("heads at %d: query: %w: %w", snapshot, storage.ErrUnavailable, err)
	}

	defer func() { _ = rows.Close() }()

	return collectHeads(rows)
}

// History returns revision metadata for id, newest first. Works for
// tombstoned records so history stays auditable.
func (s *Store) History(ctx context.Context, id string) ([]record.RevisionMeta, error) {
	if ctx == nil {
		return nil, errors.New("history: context is nil")
	}

	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history: %w", storage.ErrUnavailable)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT revision_id, parent_revision_id, author, ts
		FROM revisions
		WHERE record_id = ?
		ORDER BY ts DESC, revision_id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("history %s: query: %w: %w", id, storage.ErrUnavailable, err)
	}

	defer func() { _ = rows.Close() }()

	var metas []record.RevisionMeta

	for rows.Next() {
		var (
			meta record.RevisionMeta
			ts   string
		)

		err = rows.Scan(&meta.RevisionID, &meta.ParentRevisionID, &meta.Author, &ts)
		if err != nil {
			return nil, fmt.Errorf("history %s: scan: %w", id, err)
		}

		meta.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("history %s: timestamp: %w", id, err)
		}

		metas = append(metas, meta)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("history %s: rows: %w", id, err)
	}

	if len(metas) == 0 {
		return nil, fmt.Errorf("history %s: %w", id, storage.ErrNotFound)
	}

	return metas, nil
}

// GetRevision returns one stored revision including its markdown.
func (s *Store) GetRevision(ctx context.Context, id, revisionID string) (record.Revision, error) {
	if ctx == nil {
		return record.Revision{}, errors.New("get revision: context is nil")
	}

	if s == nil || s.db == nil {
		return record.Revision{}, fmt.Errorf("get revision: %w", storage.ErrUnavailable)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT revision_id, parent_revision_id, author, ts, markdown, integrity
		FROM revisions
		WHERE record_id = ? AND revision_id = ?`, id, revisionID)

	var (
		rev record.Revision
		ts  string
	)

	err := row.Scan(&rev.RevisionID, &rev.ParentRevisionID, &rev.Author, &ts, &rev.Markdown, &rev.Integrity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Revision{}, fmt.Errorf("get revision %s@%s: %w", id, revisionID, storage.ErrNotFound)
		}

		return record.Revision{}, fmt.Errorf("get revision %s@%s: %w", id, revisionID, err)
	}

	rev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return record.Revision{}, fmt.Errorf("get revision %s@%s: timestamp: %w", id, revisionID, err)
	}

	return rev, nil
}

// rowScanner is the shared surface of *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanHead decodes one heads/head_log row.
func scanHead(row rowScanner) (storage.Head, error) {
	var (
		head       storage.Head
		projection string
		deleted    int
	)

	err := row.Scan(&head.RecordID, &head.RevisionID, &projection, &deleted, &head.CommitSeq)
	if err != nil {
		return storage.Head{}, err
	}

	head.Deleted = deleted != 0

	head.Record, err = record.UnmarshalProjection([]byte(projection))
	if err != nil {
		return storage.Head{}, err
	}

	return head, nil
}

// collectHeads drains a heads query result.
func collectHeads(rows *sql.Rows) ([]storage.Head, error) {
	var heads []storage.Head

	for rows.Next() {
		head, err := scanHead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan head: %w", err)
		}

		heads = append(heads, head)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return heads, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE wildcards in a prefix.
func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
