package sqlquery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/calvinalkan/formdb/pkg/record"
)

func taskRecord(id, title, status string, priority float64) record.Record {
	return record.Record{
		ID:    id,
		Title: title,
		Form:  "task",
		Properties: record.Properties{
			{Name: "status", Value: record.StringValue(status)},
			{Name: "priority", Value: record.NumberValue(priority)},
		},
		UpdatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func colIdx(t *testing.T, result *Result, name string) int {
	t.Helper()

	for i, col := range result.Columns {
		if col == name {
			return i
		}
	}

	t.Fatalf("column %q not in %v", name, result.Columns)

	return -1
}

func mustParse(t *testing.T, sql string) *Query {
	t.Helper()

	q, err := Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}

	return q
}

func Test_Exec_Where_Filters_And_Orders(t *testing.T) {
	t.Parallel()

	cat := &Catalog{Records: []record.Record{
		taskRecord("1", "One", "open", 3),
		taskRecord("2", "Two", "closed", 1),
		taskRecord("3", "Three", "open", 1),
	}}

	q := mustParse(t, "SELECT * FROM records WHERE status = 'open' ORDER BY priority, id")

	engine := &Engine{}

	result, err := engine.Exec(q, cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 2 {
		t.Fatalf("total = %d, want 2", result.Total)
	}

	idCol := colIdx(t, result, "id")
	if result.Rows[0][idCol].Text() != "3" || result.Rows[1][idCol].Text() != "1" {
		t.Fatalf("order wrong: %v", result.Rows)
	}
}

func Test_Exec_Form_Table_Filters_By_Form(t *testing.T) {
	t.Parallel()

	other := taskRecord("9", "Note", "", 0)
	other.Form = "note"

	cat := &Catalog{Records: []record.Record{taskRecord("1", "One", "open", 1), other}}

	result, err := (&Engine{}).Exec(mustParse(t, "SELECT * FROM task"), cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 1 {
		t.Fatalf("total = %d, want only the task record", result.Total)
	}
}

func Test_Exec_Unknown_Table_Fails_When_Forms_Known(t *testing.T) {
	t.Parallel()

	cat := &Catalog{
		Records: []record.Record{taskRecord("1", "One", "open", 1)},
		Forms:   []string{"task"},
	}

	_, err := (&Engine{}).Exec(mustParse(t, "SELECT * FROM tsak"), cat)
	if !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("err = %v, want ErrUnknownTable", err)
	}
}

func Test_Exec_Explicit_Limit_Above_Max_Is_Rejected(t *testing.T) {
	t.Parallel()

	cat := &Catalog{Records: []record.Record{taskRecord("1", "One", "open", 1)}}

	_, err := (&Engine{MaxLimit: 100}).Exec(mustParse(t, "SELECT * FROM records LIMIT 101"), cat)

	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want LimitError", err)
	}

	if limitErr.Requested != 101 || limitErr.Max != 100 {
		t.Fatalf("limit error = %+v", limitErr)
	}

	if limitErr.Error() != "LIMIT 101 exceeds the maximum of 100" {
		t.Fatalf("message = %q", limitErr.Error())
	}
}

func Test_Exec_Missing_Limit_Caps_At_Max_But_Total_Is_Full(t *testing.T) {
	t.Parallel()

	var records []record.Record
	for i := 0; i < 10; i++ {
		records = append(records, taskRecord(fmt.Sprintf("%02d", i), "T", "open", 1))
	}

	result, err := (&Engine{MaxLimit: 4}).Exec(mustParse(t, "SELECT * FROM records ORDER BY id"), &Catalog{Records: records})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if len(result.Rows) != 4 {
		t.Fatalf("rows = %d, want capped 4", len(result.Rows))
	}

	if result.Total != 10 {
		t.Fatalf("total = %d, want 10", result.Total)
	}
}

func Test_Exec_Inner_Join_Links(t *testing.T) {
	t.Parallel()

	withLink := taskRecord("1", "One", "open", 1)
	withLink.Links = []record.LinkRef{{LinkID: "aa", Target: "alpha"}}

	cat := &Catalog{Records: []record.Record{withLink, taskRecord("2", "Two", "open", 1)}}

	q := mustParse(t, "SELECT * FROM records r JOIN links l ON r.id = l.id WHERE l.target = 'alpha'")

	result, err := (&Engine{}).Exec(q, cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 1 {
		t.Fatalf("total = %d, want 1", result.Total)
	}

	idCol := colIdx(t, result, "r.id")
	if result.Rows[0][idCol].Text() != "1" {
		t.Fatalf("joined row = %v", result.Rows[0])
	}

	targetCol := colIdx(t, result, "l.target")
	if result.Rows[0][targetCol].Text() != "alpha" {
		t.Fatalf("target = %q", result.Rows[0][targetCol].Text())
	}
}

func Test_Exec_Left_Join_Keeps_Unmatched_Left_Rows(t *testing.T) {
	t.Parallel()

	withLink := taskRecord("1", "One", "open", 1)
	withLink.Links = []record.LinkRef{{LinkID: "aa", Target: "alpha"}}

	cat := &Catalog{Records: []record.Record{withLink, taskRecord("2", "Two", "open", 1)}}

	q := mustParse(t, "SELECT * FROM records r LEFT JOIN links l ON r.id = l.id ORDER BY r.id")

	result, err := (&Engine{}).Exec(q, cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 2 {
		t.Fatalf("total = %d, want 2 (unmatched left kept)", result.Total)
	}

	targetCol := colIdx(t, result, "l.target")
	if result.Rows[1][targetCol].Text() != "" {
		t.Fatalf("padded right side = %q, want empty", result.Rows[1][targetCol].Text())
	}
}

func Test_Exec_Using_Join_Matches_Shared_Column(t *testing.T) {
	t.Parallel()

	withLink := taskRecord("1", "One", "open", 1)
	withLink.Links = []record.LinkRef{{LinkID: "aa", Target: "alpha"}}

	cat := &Catalog{Records: []record.Record{withLink, taskRecord("2", "Two", "open", 1)}}

	q := mustParse(t, "SELECT * FROM records r JOIN links l USING (id)")

	result, err := (&Engine{}).Exec(q, cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 1 {
		t.Fatalf("total = %d, want 1", result.Total)
	}
}

func Test_Exec_Unqualified_Column_In_Join_Fails(t *testing.T) {
	t.Parallel()

	withLink := taskRecord("1", "One", "open", 1)
	withLink.Links = []record.LinkRef{{LinkID: "aa", Target: "alpha"}}

	cat := &Catalog{Records: []record.Record{withLink}}

	q := mustParse(t, "SELECT * FROM records r JOIN links l ON r.id = l.id WHERE target = 'alpha'")

	_, err := (&Engine{}).Exec(q, cat)
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("err = %v, want ErrUnknownColumn", err)
	}
}

func Test_Exec_Date_Comparison_Coerces_String_Literal(t *testing.T) {
	t.Parallel()

	early := taskRecord("1", "One", "open", 1)
	early.Properties.Set("due", record.DateValue(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)))

	late := taskRecord("2", "Two", "open", 1)
	late.Properties.Set("due", record.DateValue(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	cat := &Catalog{Records: []record.Record{early, late}}

	result, err := (&Engine{}).Exec(mustParse(t, "SELECT * FROM records WHERE due > '2026-01-01'"), cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 1 {
		t.Fatalf("total = %d, want 1", result.Total)
	}
}

func Test_Exec_Like_Is_Case_Insensitive_And_Literal_Safe(t *testing.T) {
	t.Parallel()

	cat := &Catalog{Records: []record.Record{
		taskRecord("1", "Quarterly (Q1) Plan", "open", 1),
		taskRecord("2", "Notes", "open", 1),
	}}

	result, err := (&Engine{}).Exec(mustParse(t, "SELECT * FROM records WHERE title LIKE '%(q1)%'"), cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 1 {
		t.Fatalf("total = %d, want 1", result.Total)
	}
}

func Test_Exec_Like_Matches_MultiByte_Text(t *testing.T) {
	t.Parallel()

	cat := &Catalog{Records: []record.Record{
		taskRecord("1", "Café menu", "open", 1),
		taskRecord("2", "Cafe menu", "open", 1),
	}}

	result, err := (&Engine{}).Exec(mustParse(t, "SELECT * FROM records WHERE title LIKE '%café%'"), cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 1 {
		t.Fatalf("total = %d, want only the accented title", result.Total)
	}

	idCol := colIdx(t, result, "id")
	if result.Rows[0][idCol].Text() != "1" {
		t.Fatalf("matched row = %v", result.Rows[0])
	}
}

func Test_Exec_Is_Null_Matches_Missing_Property(t *testing.T) {
	t.Parallel()

	withDue := taskRecord("1", "One", "open", 1)
	withDue.Properties.Set("due", record.DateValue(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	cat := &Catalog{Records: []record.Record{withDue, taskRecord("2", "Two", "open", 1)}}

	result, err := (&Engine{}).Exec(mustParse(t, "SELECT * FROM records WHERE due IS NULL"), cat)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if result.Total != 1 {
		t.Fatalf("total = %d, want only the record without due", result.Total)
	}
}

func Test_ExecPage_Pages_Are_Disjoint_And_Complete(t *testing.T) {
	t.Parallel()

	// Every record shares updated_at so the id tie-breaker does all the
	// work.
	var records []record.Record
	for i := 29; i >= 0; i-- {
		records = append(records, taskRecord(fmt.Sprintf("%02d", i), "T", "open", 1))
	}

	cat := &Catalog{Records: records}
	q := mustParse(t, "SELECT * FROM records")
	engine := &Engine{}

	order := []OrderKey{
		{Column: ColumnRef{Name: "updated_at"}},
		{Column: ColumnRef{Name: "id"}},
	}

	seen := make(map[string]struct{})

	for offset := 0; offset < 30; offset += 10 {
		page, err := engine.ExecPage(q, cat, PageOptions{OrderBy: order, Offset: offset, Limit: 10})
		if err != nil {
			t.Fatalf("page at %d: %v", offset, err)
		}

		if len(page.Rows) != 10 {
			t.Fatalf("page at %d has %d rows", offset, len(page.Rows))
		}

		idCol := colIdx(t, page, "id")

		for _, row := range page.Rows {
			id := row[idCol].Text()
			if _, dup := seen[id]; dup {
				t.Fatalf("id %q appeared on two pages", id)
			}

			seen[id] = struct{}{}
		}
	}

	if len(seen) != 30 {
		t.Fatalf("pages covered %d ids, want 30", len(seen))
	}
}
