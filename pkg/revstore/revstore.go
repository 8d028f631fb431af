// Package revstore owns the append-only revision history per record id.
//
// Writers declare the revision they believe is current; the store rejects
// writes based on stale beliefs instead of locking readers. A per-id
// mutex serializes concurrent proposals in-process, and the storage
// engine's compare-and-swap on the head pointer backs the same guarantee
// across processes. Different record ids never block each other.
package revstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/formdb/pkg/extract"
	"github.com/calvinalkan/formdb/pkg/form"
	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/storage"
)

// ErrValidation reports a proposal rejected under strict validation
// because extraction produced a required-field issue.
var ErrValidation = errors.New("validation failed")

// Config configures a revision store.
type Config struct {
	// Store is the snapshot table store. Required.
	Store storage.Store

	// Forms resolves the schema a record binds via its 'form' frontmatter
	// key. Optional; nil disables schema validation entirely.
	Forms *form.Registry

	// Strict makes missing-required-field issues fatal on Propose and
	// Restore. The policy applies identically to create and update paths.
	Strict bool

	// Now supplies timestamps; defaults to time.Now. Tests inject a
	// fixed clock here.
	Now func() time.Time
}

// Store coordinates proposals, history reads, and restores.
type Store struct {
	cfg Config

	// locks holds one mutex per record id seen by this process.
	// Entries are never removed; the per-id footprint is one mutex.
	locks sync.Map // map[string]*sync.Mutex
}

// Accepted is the successful result of a proposal or restore.
type Accepted struct {
	RevisionID string
	Record     record.Record
	Issues     []extract.Issue
}

// New creates a revision store.
func New(cfg Config) (*Store, error) {
	if cfg.Store == nil {
		return nil, errors.New("revstore: Config.Store is required")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{cfg: cfg}, nil
}

// Propose submits new markdown for id. parentRevisionID must equal the
// current head revision id; empty claims the record does not exist yet.
// On acceptance the extractor recomputes the projection, a new revision
// is appended, and the head advances atomically. On a stale parent the
// proposal is rejected with *[storage.ConflictError] carrying the actual
// head, and nothing is written.
func (s *Store) Propose(ctx context.Context, id, markdown, parentRevisionID, author string) (*Accepted, error) {
	if ctx == nil {
		return nil, errors.New("propose: context is nil")
	}

	if id == "" {
		return nil, errors.New("propose: id is empty")
	}

	unlock := s.lockID(id)
	defer unlock()

	rec, issues, err := s.project(markdown)
	if err != nil {
		return nil, fmt.Errorf("propose %s: %w", id, err)
	}

	now := s.cfg.Now().UTC()

	createdAt := now
	if parentRevisionID != "" {
		head, headErr := s.cfg.Store.Head(ctx, id)
		if headErr == nil {
			createdAt = head.Record.CreatedAt
		}
	}

	rev := record.Revision{
		RevisionID:       uuid.Must(uuid.NewV7()).String(),
		ParentRevisionID: parentRevisionID,
		Markdown:         markdown,
		Author:           author,
		Timestamp:        now,
		Integrity:        record.Checksum(markdown),
	}

	rec.ID = id
	rec.RevisionID = rev.RevisionID
	rec.CreatedAt = createdAt
	rec.UpdatedAt = now

	_, err = s.cfg.Store.Append(ctx, storage.AppendOp{
		RecordID:         id,
		ParentRevisionID: parentRevisionID,
		Revision:         rev,
		Projection:       rec,
	})
	if err != nil {
		return nil, fmt.Errorf("propose %s: %w", id, err)
	}

	return &Accepted{RevisionID: rev.RevisionID, Record: rec, Issues: issues}, nil
}

// Head returns the current projection for id, or [storage.ErrNotFound]
// when the record is unknown or tombstoned.
func (s *Store) Head(ctx context.Context, id string) (record.Record, error) {
	if ctx == nil {
		return record.Record{}, errors.New("head: context is nil")
	}

	head, err := s.cfg.Store.Head(ctx, id)
	if err != nil {
		return record.Record{}, fmt.Errorf("head: %w", err)
	}

	return head.Record, nil
}

// History lists revision metadata for id, newest first. Tombstoned
// records keep their history readable for audit.
func (s *Store) History(ctx context.Context, id string) ([]record.RevisionMeta, error) {
	if ctx == nil {
		return nil, errors.New("history: context is nil")
	}

	metas, err := s.cfg.Store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return metas, nil
}

// GetRevision returns one stored revision and verifies its integrity
// checksum before handing it out.
func (s *Store) GetRevision(ctx context.Context, id, revisionID string) (record.Revision, error) {
	if ctx == nil {
		return record.Revision{}, errors.New("get revision: context is nil")
	}

	rev, err := s.cfg.Store.GetRevision(ctx, id, revisionID)
	if err != nil {
		return record.Revision{}, fmt.Errorf("get revision: %w", err)
	}

	if !rev.Verify() {
		return record.Revision{}, fmt.Errorf("get revision %s@%s: integrity checksum mismatch", id, revisionID)
	}

	return rev, nil
}

// Restore creates a new revision whose content equals the target
// revision. History is preserved; restore is never destructive. The new
// revision's parent is the current head, so a concurrent write conflicts
// the same way any proposal would.
func (s *Store) Restore(ctx context.Context, id, targetRevisionID, author string) (*Accepted, error) {
	if ctx == nil {
		return nil, errors.New("restore: context is nil")
	}

	target, err := s.GetRevision(ctx, id, targetRevisionID)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	head, err := s.cfg.Store.Head(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	accepted, err := s.Propose(ctx, id, target.Markdown, head.RevisionID, author)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	return accepted, nil
}

// Delete tombstones the record head. parentRevisionID carries the usual
// optimistic-concurrency claim. Subsequent Head calls return not-found;
// History keeps working.
func (s *Store) Delete(ctx context.Context, id, parentRevisionID, author string) error {
	if ctx == nil {
		return errors.New("delete: context is nil")
	}

	if id == "" {
		return errors.New("delete: id is empty")
	}

	unlock := s.lockID(id)
	defer unlock()

	now := s.cfg.Now().UTC()

	rev := record.Revision{
		RevisionID:       uuid.Must(uuid.NewV7()).String(),
		ParentRevisionID: parentRevisionID,
		Author:           author,
		Timestamp:        now,
		Integrity:        record.Checksum(""),
	}

	_, err := s.cfg.Store.Append(ctx, storage.AppendOp{
		RecordID:         id,
		ParentRevisionID: parentRevisionID,
		Revision:         rev,
		Projection:       record.Record{ID: id, RevisionID: rev.RevisionID, UpdatedAt: now},
		Tombstone:        true,
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	return nil
}

// project runs the extractor with the record's bound form, enforcing the
// strict required-field policy when configured.
func (s *Store) project(markdown string) (record.Record, []extract.Issue, error) {
	// First pass discovers the bound form name.
	rec, issues := extract.Extract(markdown, nil)

	if rec.Form != "" && s.cfg.Forms != nil {
		def, err := s.cfg.Forms.Get(rec.Form)

		switch {
		case err == nil:
			rec, issues = extract.Extract(markdown, def)
		case errors.Is(err, form.ErrNotFound):
			issues = append(issues, extract.Issue{Field: "form", Message: fmt.Sprintf("unknown form %q", rec.Form)})
		default:
			return record.Record{}, nil, err
		}
	}

	if s.cfg.Strict {
		for _, issue := range issues {
			if issue.Message == extract.MissingRequiredField {
				return record.Record{}, nil, fmt.Errorf("%w: field %q: %s", ErrValidation, issue.Field, issue.Message)
			}
		}
	}

	return rec, issues, nil
}

// lockID takes the per-id mutex and returns its unlock func.
func (s *Store) lockID(id string) func() {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})

	lock, ok := mu.(*sync.Mutex)
	if !ok {
		panic("revstore: lock map holds a non-mutex")
	}

	lock.Lock()

	return lock.Unlock
}
