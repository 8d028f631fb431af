// Package storage defines the table-store abstraction the record core
// consumes. The engine behind it is externally supplied; the core only
// needs an ordered key-value surface: read the current snapshot, append
// a revision with compare-and-swap head semantics, and list by prefix.
//
// Snapshots are monotonically increasing commit sequence numbers. Every
// accepted append advances the snapshot by exactly one, and any past
// snapshot remains readable so sessions can pin a consistent view.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinalkan/formdb/pkg/record"
)

// ErrNotFound indicates the requested record or revision does not exist,
// or the record is tombstoned at the current head.
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps storage I/O failures. Callers may retry; the core
// itself never does, to keep partial-failure semantics visible.
var ErrUnavailable = errors.New("storage unavailable")

// ConflictError reports a compare-and-swap failure on a head pointer.
// CurrentRevisionID is the head that actually won, so the caller can
// re-read and resubmit.
type ConflictError struct {
	RecordID          string
	CurrentRevisionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: current revision is %s", e.RecordID, e.CurrentRevisionID)
}

// Head is the stored projection of a record's current (or as-of-snapshot)
// state.
type Head struct {
	RecordID   string
	RevisionID string
	Record     record.Record
	Deleted    bool
	CommitSeq  uint64
}

// AppendOp is one head transition: a new revision plus the projection it
// produces. ParentRevisionID carries the caller's optimistic-concurrency
// claim; empty means "this must be the first revision".
type AppendOp struct {
	RecordID         string
	ParentRevisionID string
	Revision         record.Revision
	Projection       record.Record
	Tombstone        bool
}

// Store is the snapshot table store. Implementations must make each
// append atomic: the revision row, the head pointer advance, and the new
// projection become visible together or not at all, and concurrent
// appends on the same record id serialize through the CAS check.
type Store interface {
	// Append applies op and returns the new snapshot id.
	// Returns *ConflictError when ParentRevisionID does not match the
	// stored head, without writing anything.
	Append(ctx context.Context, op AppendOp) (uint64, error)

	// Head returns the current projection for id. Tombstoned and unknown
	// ids return ErrNotFound.
	Head(ctx context.Context, id string) (Head, error)

	// ListByPrefix returns current non-deleted heads whose record id
	// starts with prefix, ordered by id. An empty prefix lists all.
	ListByPrefix(ctx context.Context, prefix string) ([]Head, error)

	// Snapshot returns the current snapshot id. Zero means no commits.
	Snapshot(ctx context.Context) (uint64, error)

	// HeadsAt returns all non-deleted heads as of the given snapshot,
	// ordered by id. Later commits are invisible.
	HeadsAt(ctx context.Context, snapshot uint64) ([]Head, error)

	// History returns the revision chain metadata for id, newest first.
	// Tombstoned records keep their history readable for audit.
	History(ctx context.Context, id string) ([]record.RevisionMeta, error)

	// GetRevision returns one stored revision including its markdown.
	GetRevision(ctx context.Context, id, revisionID string) (record.Revision, error)

	// Close releases the underlying engine.
	Close() error
}
