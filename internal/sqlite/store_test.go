package sqlite_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/formdb/internal/sqlite"
	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/storage"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func appendOp(id, parent, markdown string) storage.AppendOp {
	revID := uuid.Must(uuid.NewV7()).String()

	return storage.AppendOp{
		RecordID:         id,
		ParentRevisionID: parent,
		Revision: record.Revision{
			RevisionID:       revID,
			ParentRevisionID: parent,
			Markdown:         markdown,
			Author:           "tester",
			Timestamp:        time.Now().UTC(),
			Integrity:        record.Checksum(markdown),
		},
		Projection: record.Record{
			ID:         id,
			Title:      markdown,
			RevisionID: revID,
			UpdatedAt:  time.Now().UTC(),
		},
	}
}

func mustAppend(t *testing.T, s *sqlite.Store, op storage.AppendOp) uint64 {
	t.Helper()

	seq, err := s.Append(t.Context(), op)
	if err != nil {
		t.Fatalf("append %s: %v", op.RecordID, err)
	}

	return seq
}

func Test_Append_Rejects_Stale_Parent_With_Current_Head(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	first := appendOp("a", "", "v1")
	mustAppend(t, s, first)

	second := appendOp("a", first.Revision.RevisionID, "v2")
	mustAppend(t, s, second)

	// A writer still holding v1 as its parent must lose.
	stale := appendOp("a", first.Revision.RevisionID, "v3")

	_, err := s.Append(t.Context(), stale)

	var conflict *storage.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	if conflict.CurrentRevisionID != second.Revision.RevisionID {
		t.Fatalf("conflict carries %q, want current head %q", conflict.CurrentRevisionID, second.Revision.RevisionID)
	}

	// Nothing was written for the losing proposal.
	history, err := s.History(t.Context(), "a")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
}

func Test_Append_Rejects_Create_When_Record_Exists(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	mustAppend(t, s, appendOp("a", "", "v1"))

	_, err := s.Append(t.Context(), appendOp("a", "", "again"))

	var conflict *storage.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func Test_Head_Returns_Latest_Projection(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	first := appendOp("a", "", "v1")
	mustAppend(t, s, first)
	mustAppend(t, s, appendOp("a", first.Revision.RevisionID, "v2"))

	head, err := s.Head(t.Context(), "a")
	if err != nil {
		t.Fatalf("head: %v", err)
	}

	if head.Record.Title != "v2" {
		t.Fatalf("head title = %q, want v2", head.Record.Title)
	}
}

func Test_Head_Hides_Tombstoned_Record(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	first := appendOp("a", "", "v1")
	mustAppend(t, s, first)

	tomb := appendOp("a", first.Revision.RevisionID, "")
	tomb.Tombstone = true
	mustAppend(t, s, tomb)

	_, err := s.Head(t.Context(), "a")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// History stays readable for audit.
	history, err := s.History(t.Context(), "a")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
}

func Test_HeadsAt_Reads_Past_Snapshot_After_New_Writes(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	first := appendOp("a", "", "old")
	mustAppend(t, s, first)

	snapshot, err := s.Snapshot(t.Context())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	mustAppend(t, s, appendOp("a", first.Revision.RevisionID, "new"))
	mustAppend(t, s, appendOp("b", "", "later"))

	heads, err := s.HeadsAt(t.Context(), snapshot)
	if err != nil {
		t.Fatalf("heads at: %v", err)
	}

	if len(heads) != 1 {
		t.Fatalf("heads = %d, want 1 (record b is after the snapshot)", len(heads))
	}

	if heads[0].Record.Title != "old" {
		t.Fatalf("snapshot read saw %q, want old", heads[0].Record.Title)
	}
}

func Test_History_Is_Newest_First(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	first := appendOp("a", "", "v1")
	first.Revision.Timestamp = time.Now().UTC().Add(-time.Hour)
	mustAppend(t, s, first)

	second := appendOp("a", first.Revision.RevisionID, "v2")
	mustAppend(t, s, second)

	history, err := s.History(t.Context(), "a")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	if history[0].RevisionID != second.Revision.RevisionID {
		t.Fatalf("newest revision not first: %v", history)
	}
}

func Test_ListByPrefix_Escapes_Like_Metacharacters(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	mustAppend(t, s, appendOp("note_1", "", "underscore"))
	mustAppend(t, s, appendOp("noteX1", "", "decoy"))

	heads, err := s.ListByPrefix(t.Context(), "note_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(heads) != 1 || heads[0].RecordID != "note_1" {
		t.Fatalf("prefix match = %v, want only note_1", heads)
	}
}

func Test_GetRevision_Returns_Stored_Markdown(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	op := appendOp("a", "", "# content")
	mustAppend(t, s, op)

	rev, err := s.GetRevision(t.Context(), "a", op.Revision.RevisionID)
	if err != nil {
		t.Fatalf("get revision: %v", err)
	}

	if rev.Markdown != "# content" {
		t.Fatalf("markdown = %q", rev.Markdown)
	}

	if !rev.Verify() {
		t.Fatal("integrity verification failed")
	}
}

func Test_Snapshot_Is_Monotonic(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	before, err := s.Snapshot(t.Context())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	mustAppend(t, s, appendOp("a", "", "v1"))

	after, err := s.Snapshot(t.Context())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if after <= before {
		t.Fatalf("snapshot did not advance: %d -> %d", before, after)
	}
}
