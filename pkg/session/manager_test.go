package session_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/formdb/internal/sqlite"
	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/session"
	"github.com/calvinalkan/formdb/pkg/sqlquery"
	"github.com/calvinalkan/formdb/pkg/storage"
)

type fixture struct {
	store *sqlite.Store
	mgr   *session.Manager
	now   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	store, err := sqlite.Open(t.Context(), filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	f := &fixture{store: store, now: &now}

	f.mgr, err = session.NewManager(session.Config{
		Dir:   dir,
		Store: store,
		Now:   func() time.Time { return *f.now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	return f
}

func (f *fixture) seed(t *testing.T, id, title string) {
	t.Helper()

	revID := uuid.Must(uuid.NewV7()).String()

	_, err := f.store.Append(t.Context(), storage.AppendOp{
		RecordID: id,
		Revision: record.Revision{
			RevisionID: revID,
			Markdown:   "# " + title,
			Author:     "tester",
			Timestamp:  *f.now,
			Integrity:  record.Checksum("# " + title),
		},
		Projection: record.Record{ID: id, Title: title, RevisionID: revID, UpdatedAt: *f.now},
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func Test_CreateSession_Pins_Snapshot_Against_Later_Writes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "Before")

	sess, err := f.mgr.CreateSession(t.Context(), "SELECT * FROM records")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// The store advances after the session pinned its snapshot.
	f.seed(t, "b", "After")

	page, err := f.mgr.Rows(t.Context(), sess.ID, 0, 10)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}

	if page.TotalCount != 1 {
		t.Fatalf("total = %d, want 1 (write after snapshot invisible)", page.TotalCount)
	}
}

func Test_Rows_Pages_Are_Disjoint_With_Id_TieBreaker(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for i := 0; i < 30; i++ {
		f.seed(t, fmt.Sprintf("%02d", i), "Same")
	}

	sess, err := f.mgr.CreateSession(t.Context(), "SELECT * FROM records ORDER BY updated_at")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	seen := make(map[string]struct{})

	for offset := 0; offset < 30; offset += 10 {
		page, pageErr := f.mgr.Rows(t.Context(), sess.ID, offset, 10)
		if pageErr != nil {
			t.Fatalf("rows at %d: %v", offset, pageErr)
		}

		idCol := -1

		for i, col := range page.Columns {
			if col == "id" {
				idCol = i
			}
		}

		if idCol < 0 {
			t.Fatalf("no id column in %v", page.Columns)
		}

		for _, row := range page.Rows {
			id := row[idCol].Text()
			if _, dup := seen[id]; dup {
				t.Fatalf("id %q on two pages", id)
			}

			seen[id] = struct{}{}
		}
	}

	if len(seen) != 30 {
		t.Fatalf("pages covered %d ids, want 30", len(seen))
	}
}

func Test_Rows_Caches_On_Demand_Count(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "One")
	f.seed(t, "b", "Two")

	sess, err := f.mgr.CreateSession(t.Context(), "SELECT * FROM records")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = f.mgr.Rows(t.Context(), sess.ID, 0, 10)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}

	reloaded, err := f.mgr.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	if reloaded.Count.Value == nil || *reloaded.Count.Value != 2 {
		t.Fatalf("cached count = %v, want 2", reloaded.Count.Value)
	}

	if reloaded.Count.CachedAt == nil {
		t.Fatal("cached_at not set")
	}

	if reloaded.Status != session.StatusCompleted {
		t.Fatalf("status = %q, want completed", reloaded.Status)
	}
}

func Test_Rows_Oversized_Limit_Is_Rejected_Without_Failing_Session(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "One")

	sess, err := f.mgr.CreateSession(t.Context(), "SELECT * FROM records")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = f.mgr.Rows(t.Context(), sess.ID, 0, sess.Pagination.MaxLimit+1)

	var limitErr *sqlquery.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want LimitError", err)
	}

	// The bad request must not poison the session for valid pages.
	page, err := f.mgr.Rows(t.Context(), sess.ID, 0, 10)
	if err != nil {
		t.Fatalf("rows after rejected limit: %v", err)
	}

	if page.TotalCount != 1 {
		t.Fatalf("total = %d, want 1", page.TotalCount)
	}

	reloaded, err := f.mgr.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	if reloaded.Status == session.StatusFailed {
		t.Fatal("session marked failed by a validation error")
	}
}

func Test_GetSession_Reaps_Expired_Sessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "One")

	sess, err := f.mgr.CreateSession(t.Context(), "SELECT * FROM records")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	*f.now = f.now.Add(session.DefaultTTL + time.Minute)

	_, err = f.mgr.GetSession(sess.ID)
	if !errors.Is(err, session.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}

	_, err = f.mgr.Rows(t.Context(), sess.ID, 0, 10)
	if !errors.Is(err, session.ErrExpired) {
		t.Fatalf("rows err = %v, want ErrExpired", err)
	}
}

func Test_CreateSession_With_Invalid_SQL_Is_Failed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	sess, err := f.mgr.CreateSession(t.Context(), "DELETE FROM records")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if sess.Status != session.StatusFailed || sess.Error == "" {
		t.Fatalf("session = %+v, want failed with error", sess)
	}

	_, err = f.mgr.Rows(t.Context(), sess.ID, 0, 10)
	if err == nil {
		t.Fatal("rows on failed session succeeded")
	}
}

func Test_SaveQuery_Creates_View_And_Delete_Removes_It(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "One")

	q := &session.SavedQuery{ID: "q1", Name: "all", SQL: "SELECT * FROM records"}

	err := f.mgr.SaveQuery(t.Context(), q)
	if err != nil {
		t.Fatalf("save query: %v", err)
	}

	view, err := f.mgr.View("q1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	if view.SnapshotID == 0 {
		t.Fatal("view snapshot not pinned")
	}

	err = f.mgr.DeleteQuery("q1")
	if err != nil {
		t.Fatalf("delete query: %v", err)
	}

	_, err = f.mgr.View("q1")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after paired delete", err)
	}
}

func Test_SavedQuery_Session_Uses_View_Snapshot_Until_Refresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "One")

	q := &session.SavedQuery{ID: "q1", Name: "all", SQL: "SELECT * FROM records"}

	err := f.mgr.SaveQuery(t.Context(), q)
	if err != nil {
		t.Fatalf("save query: %v", err)
	}

	// New data lands after the view was built.
	f.seed(t, "b", "Two")

	sess, err := f.mgr.CreateSessionFromSaved(t.Context(), "q1", nil)
	if err != nil {
		t.Fatalf("create from saved: %v", err)
	}

	page, err := f.mgr.Rows(t.Context(), sess.ID, 0, 10)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}

	if page.TotalCount != 1 {
		t.Fatalf("total = %d, want 1 (view snapshot predates second record)", page.TotalCount)
	}

	err = f.mgr.RefreshView(t.Context(), "q1")
	if err != nil {
		t.Fatalf("refresh view: %v", err)
	}

	fresh, err := f.mgr.CreateSessionFromSaved(t.Context(), "q1", nil)
	if err != nil {
		t.Fatalf("create after refresh: %v", err)
	}

	page, err = f.mgr.Rows(t.Context(), fresh.ID, 0, 10)
	if err != nil {
		t.Fatalf("rows after refresh: %v", err)
	}

	if page.TotalCount != 2 {
		t.Fatalf("total = %d, want 2 after refresh", page.TotalCount)
	}
}

func Test_Stale_View_Is_Rebuilt_When_Definition_Changes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "One")

	q := &session.SavedQuery{ID: "q1", Name: "all", SQL: "SELECT * FROM records"}

	err := f.mgr.SaveQuery(t.Context(), q)
	if err != nil {
		t.Fatalf("save query: %v", err)
	}

	before, err := f.mgr.View("q1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	f.seed(t, "b", "Two")

	// Changing the definition rebuilds the view at the new snapshot.
	q.SQL = "SELECT * FROM records ORDER BY id"

	err = f.mgr.SaveQuery(t.Context(), q)
	if err != nil {
		t.Fatalf("save changed query: %v", err)
	}

	after, err := f.mgr.View("q1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	if after.SnapshotID <= before.SnapshotID {
		t.Fatalf("view snapshot did not advance: %d -> %d", before.SnapshotID, after.SnapshotID)
	}

	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("view created_at changed on rebuild")
	}
}

func Test_Saved_Query_Variables_Are_Substituted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "a", "Alpha")
	f.seed(t, "b", "Beta")

	q := &session.SavedQuery{
		ID:        "q1",
		Name:      "by-title",
		SQL:       "SELECT * FROM records WHERE title = {{wanted}}",
		Variables: []session.Variable{{Name: "wanted", Type: "string"}},
	}

	err := f.mgr.SaveQuery(t.Context(), q)
	if err != nil {
		t.Fatalf("save query: %v", err)
	}

	sess, err := f.mgr.CreateSessionFromSaved(t.Context(), "q1", map[string]record.Value{
		"wanted": record.StringValue("Beta"),
	})
	if err != nil {
		t.Fatalf("create from saved: %v", err)
	}

	page, err := f.mgr.Rows(t.Context(), sess.ID, 0, 10)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}

	if page.TotalCount != 1 {
		t.Fatalf("total = %d, want 1", page.TotalCount)
	}
}

func Test_Saved_Query_Missing_Variable_Fails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	q := &session.SavedQuery{
		ID:        "q1",
		Name:      "by-title",
		SQL:       "SELECT * FROM records WHERE title = {{wanted}}",
		Variables: []session.Variable{{Name: "wanted", Type: "string"}},
	}

	err := f.mgr.SaveQuery(t.Context(), q)
	if err != nil {
		t.Fatalf("save query: %v", err)
	}

	_, err = f.mgr.CreateSessionFromSaved(t.Context(), "q1", nil)
	if !errors.Is(err, sqlquery.ErrMissingVariable) {
		t.Fatalf("err = %v, want ErrMissingVariable", err)
	}
}
