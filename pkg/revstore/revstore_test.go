package revstore_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/calvinalkan/formdb/internal/sqlite"
	"github.com/calvinalkan/formdb/pkg/form"
	"github.com/calvinalkan/formdb/pkg/revstore"
	"github.com/calvinalkan/formdb/pkg/storage"
)

func newTestStore(t *testing.T, strict bool) *revstore.Store {
	t.Helper()

	backing, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open backing store: %v", err)
	}

	t.Cleanup(func() { _ = backing.Close() })

	forms, err := form.OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	_, err = forms.Save(form.Definition{
		Name: "task",
		Fields: []form.NamedField{
			{Name: "Status", Spec: form.FieldSpec{Type: "string", Required: true}},
		},
	})
	if err != nil {
		t.Fatalf("save form: %v", err)
	}

	s, err := revstore.New(revstore.Config{Store: backing, Forms: forms, Strict: strict})
	if err != nil {
		t.Fatalf("new revstore: %v", err)
	}

	return s
}

func Test_Propose_Creates_Record_With_Projection(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	accepted, err := s.Propose(t.Context(), "n1", "---\nform: task\n---\n# Hello\n\n## Status\nopen", "", "alice")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	if accepted.Record.Title != "Hello" {
		t.Fatalf("title = %q", accepted.Record.Title)
	}

	v, err := accepted.Record.Properties.Get("Status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if v.Text() != "open" {
		t.Fatalf("status = %q", v.Text())
	}
}

func Test_Propose_Conflict_Carries_Current_Head(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	first, err := s.Propose(t.Context(), "n1", "# v1", "", "alice")
	if err != nil {
		t.Fatalf("propose v1: %v", err)
	}

	second, err := s.Propose(t.Context(), "n1", "# v2", first.RevisionID, "bob")
	if err != nil {
		t.Fatalf("propose v2: %v", err)
	}

	// carol proposes against the revision she read before bob won.
	_, err = s.Propose(t.Context(), "n1", "# v3", first.RevisionID, "carol")

	var conflict *storage.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	if conflict.CurrentRevisionID != second.RevisionID {
		t.Fatalf("conflict head = %q, want %q", conflict.CurrentRevisionID, second.RevisionID)
	}
}

func Test_Concurrent_Proposes_On_Same_Parent_Accept_Exactly_One(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	first, err := s.Propose(t.Context(), "n1", "# v1", "", "alice")
	if err != nil {
		t.Fatalf("propose v1: %v", err)
	}

	const writers = 8

	type outcome struct {
		accepted *revstore.Accepted
		err      error
	}

	results := make(chan outcome, writers)

	var wg sync.WaitGroup

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			accepted, proposeErr := s.Propose(t.Context(), "n1", fmt.Sprintf("# writer %d", n), first.RevisionID, "bob")
			results <- outcome{accepted: accepted, err: proposeErr}
		}(i)
	}

	wg.Wait()
	close(results)

	var winner *revstore.Accepted

	var conflicts []*storage.ConflictError

	for res := range results {
		if res.err == nil {
			if winner != nil {
				t.Fatal("two proposes accepted for the same parent")
			}

			winner = res.accepted

			continue
		}

		var conflict *storage.ConflictError
		if !errors.As(res.err, &conflict) {
			t.Fatalf("loser err = %v, want ConflictError", res.err)
		}

		conflicts = append(conflicts, conflict)
	}

	if winner == nil {
		t.Fatal("no propose accepted")
	}

	if len(conflicts) != writers-1 {
		t.Fatalf("conflicts = %d, want %d", len(conflicts), writers-1)
	}

	// Every loser learns the head that actually won.
	for _, conflict := range conflicts {
		if conflict.CurrentRevisionID != winner.RevisionID {
			t.Fatalf("conflict head = %q, want %q", conflict.CurrentRevisionID, winner.RevisionID)
		}
	}

	history, err := s.History(t.Context(), "n1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (rejected writes never append)", len(history))
	}
}

func Test_Propose_Preserves_CreatedAt_Across_Updates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	first, err := s.Propose(t.Context(), "n1", "# v1", "", "alice")
	if err != nil {
		t.Fatalf("propose v1: %v", err)
	}

	second, err := s.Propose(t.Context(), "n1", "# v2", first.RevisionID, "alice")
	if err != nil {
		t.Fatalf("propose v2: %v", err)
	}

	if !second.Record.CreatedAt.Equal(first.Record.CreatedAt) {
		t.Fatalf("created_at changed: %v -> %v", first.Record.CreatedAt, second.Record.CreatedAt)
	}

	if !second.Record.UpdatedAt.After(first.Record.UpdatedAt) && !second.Record.UpdatedAt.Equal(first.Record.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}
}

func Test_Strict_Mode_Rejects_Missing_Required_Field(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, true)

	_, err := s.Propose(t.Context(), "n1", "---\nform: task\n---\n# No status", "", "alice")
	if !errors.Is(err, revstore.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func Test_Advisory_Mode_Reports_Missing_Required_Field_As_Issue(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	accepted, err := s.Propose(t.Context(), "n1", "---\nform: task\n---\n# No status", "", "alice")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	if len(accepted.Issues) == 0 {
		t.Fatal("missing required field not reported")
	}
}

func Test_Unknown_Form_Becomes_Issue_Not_Error(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	accepted, err := s.Propose(t.Context(), "n1", "---\nform: ghost\n---\nbody", "", "alice")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	found := false

	for _, issue := range accepted.Issues {
		if issue.Field == "form" {
			found = true
		}
	}

	if !found {
		t.Fatalf("unknown form not reported: %v", accepted.Issues)
	}
}

func Test_Restore_Appends_Instead_Of_Rewriting_History(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	first, err := s.Propose(t.Context(), "n1", "# v1", "", "alice")
	if err != nil {
		t.Fatalf("propose v1: %v", err)
	}

	_, err = s.Propose(t.Context(), "n1", "# v2", first.RevisionID, "alice")
	if err != nil {
		t.Fatalf("propose v2: %v", err)
	}

	restored, err := s.Restore(t.Context(), "n1", first.RevisionID, "alice")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.Record.Title != "v1" {
		t.Fatalf("restored title = %q", restored.Record.Title)
	}

	history, err := s.History(t.Context(), "n1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (restore appends)", len(history))
	}
}

func Test_Delete_Tombstones_But_Keeps_History(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	first, err := s.Propose(t.Context(), "n1", "# v1", "", "alice")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	err = s.Delete(t.Context(), "n1", first.RevisionID, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = s.Head(t.Context(), "n1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("head err = %v, want ErrNotFound", err)
	}

	history, err := s.History(t.Context(), "n1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
}

func Test_GetRevision_Verifies_Integrity(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, false)

	first, err := s.Propose(t.Context(), "n1", "# original", "", "alice")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	rev, err := s.GetRevision(t.Context(), "n1", first.RevisionID)
	if err != nil {
		t.Fatalf("get revision: %v", err)
	}

	if rev.Markdown != "# original" {
		t.Fatalf("markdown = %q", rev.Markdown)
	}
}
