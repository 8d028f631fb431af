package sqlquery

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/calvinalkan/formdb/pkg/record"
)

// DefaultMaxLimit caps result sets when the server does not configure
// its own maximum.
const DefaultMaxLimit = 1000

// Engine evaluates parsed queries over in-memory record sets with
// nested-loop joins. Evaluation is read-only; an Engine is safe for
// concurrent use.
type Engine struct {
	// MaxLimit caps output rows. An explicit LIMIT above this is a
	// validation error, not a silent clamp. Zero means DefaultMaxLimit.
	MaxLimit int
}

// maxLimit returns the effective cap.
func (e *Engine) maxLimit() int {
	if e == nil || e.MaxLimit <= 0 {
		return DefaultMaxLimit
	}

	return e.MaxLimit
}

// Catalog is the record set a query runs against: a consistent snapshot
// of current projections.
type Catalog struct {
	// Records are the current projections, one per live record.
	Records []record.Record

	// Forms optionally lists known form names. When set, a FROM/JOIN
	// table that is neither a system table nor a listed form fails with
	// ErrUnknownTable instead of silently matching nothing.
	Forms []string
}

// Result is the output of one evaluation.
type Result struct {
	Columns []string
	Rows    [][]record.Value

	// Total is the number of rows matched before LIMIT/OFFSET.
	Total int
}

// PageOptions overrides ordering and windowing for session paging.
type PageOptions struct {
	// OrderBy replaces the query's ORDER BY when non-empty. Callers
	// that page must include a deterministic tie-breaker column
	// (typically id) so pages never overlap or skip.
	OrderBy []OrderKey

	Offset int
	Limit  int
}

// Exec evaluates q against the catalog, honoring the query's own ORDER
// BY and LIMIT plus the engine's result cap.
func (e *Engine) Exec(q *Query, cat *Catalog) (*Result, error) {
	return e.exec(q, cat, nil)
}

// ExecPage evaluates q with paging overrides.
func (e *Engine) ExecPage(q *Query, cat *Catalog, page PageOptions) (*Result, error) {
	return e.exec(q, cat, &page)
}

func (e *Engine) exec(q *Query, cat *Catalog, page *PageOptions) (*Result, error) {
	if q == nil {
		return nil, fmt.Errorf("exec: query is nil")
	}

	if q.Limit != nil && *q.Limit > e.maxLimit() {
		return nil, &LimitError{Requested: *q.Limit, Max: e.maxLimit()}
	}

	rows, err := e.joinRows(q, cat)
	if err != nil {
		return nil, err
	}

	if q.Where != nil {
		filtered := rows[:0:0]

		for _, row := range rows {
			ok, evalErr := evalExpr(q.Where, row)
			if evalErr != nil {
				return nil, evalErr
			}

			if ok {
				filtered = append(filtered, row)
			}
		}

		rows = filtered
	}

	total := len(rows)

	orderBy := q.OrderBy
	if page != nil && len(page.OrderBy) > 0 {
		orderBy = page.OrderBy
	}

	if len(orderBy) > 0 {
		err = sortRows(rows, orderBy)
		if err != nil {
			return nil, err
		}
	}

	offset := 0
	limit := e.maxLimit()

	if q.Limit != nil {
		limit = *q.Limit
	}

	if page != nil {
		offset = page.Offset

		if page.Limit > 0 {
			if page.Limit > e.maxLimit() {
				return nil, &LimitError{Requested: page.Limit, Max: e.maxLimit()}
			}

			limit = page.Limit
		}
	}

	if offset > len(rows) {
		offset = len(rows)
	}

	rows = rows[offset:]

	if len(rows) > limit {
		rows = rows[:limit]
	}

	columns := columnList(q, cat)

	out := make([][]record.Value, len(rows))
	for i, row := range rows {
		out[i] = projectRow(row, columns)
	}

	return &Result{Columns: columns, Rows: out, Total: total}, nil
}

// evalRow is one joined row: a value map per table key. A nil vals map
// marks the padded side of an outer join.
type evalRow []tableSlot

type tableSlot struct {
	key  string
	vals map[string]record.Value
	// props preserves property iteration order for column discovery.
	props []string
}

// joinRows builds the base table and folds each join clause in with a
// nested loop. Correctness only; no indexes.
func (e *Engine) joinRows(q *Query, cat *Catalog) ([]evalRow, error) {
	base, err := tableRows(q.From, cat)
	if err != nil {
		return nil, err
	}

	rows := make([]evalRow, len(base))
	for i, slot := range base {
		rows[i] = evalRow{slot}
	}

	for i := range q.Joins {
		join := &q.Joins[i]

		right, rightErr := tableRows(join.Table, cat)
		if rightErr != nil {
			return nil, rightErr
		}

		rows, err = applyJoin(rows, right, join)
		if err != nil {
			return nil, err
		}
	}

	return rows, nil
}

// applyJoin folds one joined table into the row set.
func applyJoin(left []evalRow, right []tableSlot, join *Join) ([]evalRow, error) {
	cond, err := joinCondition(left, right, join)
	if err != nil {
		return nil, err
	}

	var out []evalRow

	rightMatched := make([]bool, len(right))

	for _, lrow := range left {
		matched := false

		for ri, rslot := range right {
			combined := append(append(evalRow{}, lrow...), rslot)

			ok, condErr := cond(combined)
			if condErr != nil {
				return nil, condErr
			}

			if !ok {
				continue
			}

			matched = true
			rightMatched[ri] = true

			out = append(out, combined)
		}

		if !matched && (join.Kind == JoinLeft || join.Kind == JoinFull) {
			out = append(out, append(append(evalRow{}, lrow...), nullSlot(join.Table.key(), right)))
		}
	}

	if join.Kind == JoinRight || join.Kind == JoinFull {
		for ri, rslot := range right {
			if rightMatched[ri] {
				continue
			}

			var padded evalRow
			if len(left) > 0 {
				for _, slot := range left[0] {
					padded = append(padded, tableSlot{key: slot.key, props: slot.props})
				}
			}

			out = append(out, append(padded, rslot))
		}
	}

	return out, nil
}

// joinCondition builds the per-row predicate for a join clause.
func joinCondition(left []evalRow, right []tableSlot, join *Join) (func(evalRow) (bool, error), error) {
	switch {
	case join.Kind == JoinCross:
		return func(evalRow) (bool, error) { return true, nil }, nil
	case join.Natural:
		cols := naturalColumns(left, right)

		return usingCondition(join.Table.key(), cols), nil
	case len(join.Using) > 0:
		return usingCondition(join.Table.key(), join.Using), nil
	case join.On != nil:
		return func(row evalRow) (bool, error) { return evalExpr(join.On, row) }, nil
	default:
		return nil, &SyntaxError{Message: fmt.Sprintf("%s JOIN requires a condition", join.Kind)}
	}
}

// usingCondition matches equality across the named shared columns.
func usingCondition(rightKey string, cols []string) func(evalRow) (bool, error) {
	return func(row evalRow) (bool, error) {
		for _, col := range cols {
			var lv, rv record.Value

			lFound := false
			rFound := false

			for i := range row {
				v, ok := slotValue(&row[i], col)
				if !ok {
					continue
				}

				if strings.EqualFold(row[i].key, rightKey) {
					rv, rFound = v, true
				} else if !lFound {
					lv, lFound = v, true
				}
			}

			if !lFound || !rFound || !record.Equal(lv, rv) {
				return false, nil
			}
		}

		return true, nil
	}
}

// naturalColumns finds column names shared by both sides.
func naturalColumns(left []evalRow, right []tableSlot) []string {
	leftCols := make(map[string]struct{})

	for _, row := range left {
		for i := range row {
			for col := range row[i].vals {
				leftCols[strings.ToLower(col)] = struct{}{}
			}
		}
	}

	seen := make(map[string]struct{})

	var cols []string

	for _, slot := range right {
		for col := range slot.vals {
			lower := strings.ToLower(col)
			if _, shared := leftCols[lower]; !shared {
				continue
			}

			if _, dup := seen[lower]; dup {
				continue
			}

			seen[lower] = struct{}{}

			cols = append(cols, col)
		}
	}

	sort.Strings(cols)

	return cols
}

// nullSlot pads the missing side of an outer join, keeping the property
// order of the first right row for column discovery.
func nullSlot(key string, right []tableSlot) tableSlot {
	slot := tableSlot{key: key}
	if len(right) > 0 {
		slot.props = right[0].props
	}

	return slot
}

// System table names.
const (
	tableRecords     = "records"
	tableLinks       = "links"
	tableAssets      = "assets"
	tableAttachments = "attachments"
)

// tableRows materializes the rows of one table reference.
func tableRows(ref TableRef, cat *Catalog) ([]tableSlot, error) {
	key := ref.key()

	switch strings.ToLower(ref.Name) {
	case tableRecords:
		slots := make([]tableSlot, 0, len(cat.Records))
		for i := range cat.Records {
			slots = append(slots, recordSlot(key, &cat.Records[i]))
		}

		return slots, nil
	case tableLinks:
		var slots []tableSlot

		for i := range cat.Records {
			rec := &cat.Records[i]
			for _, link := range rec.Links {
				slots = append(slots, tableSlot{key: key, vals: map[string]record.Value{
					"id":      record.StringValue(rec.ID),
					"link_id": record.StringValue(link.LinkID),
					"target":  record.StringValue(link.Target),
				}})
			}
		}

		return slots, nil
	case tableAssets, tableAttachments:
		var slots []tableSlot

		for i := range cat.Records {
			rec := &cat.Records[i]
			for _, asset := range rec.Assets {
				slots = append(slots, tableSlot{key: key, vals: map[string]record.Value{
					"id":  record.StringValue(rec.ID),
					"ref": record.StringValue(asset.Ref),
				}})
			}
		}

		return slots, nil
	default:
		if cat.Forms != nil && !containsFold(cat.Forms, ref.Name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTable, ref.Name)
		}

		var slots []tableSlot

		for i := range cat.Records {
			if strings.EqualFold(cat.Records[i].Form, ref.Name) {
				slots = append(slots, recordSlot(key, &cat.Records[i]))
			}
		}

		return slots, nil
	}
}

// recordSlot flattens one record into a column map. Standard columns and
// schema fields share one namespace; reserved-column validation on form
// definitions keeps them from colliding.
func recordSlot(key string, rec *record.Record) tableSlot {
	vals := map[string]record.Value{
		"id":          record.StringValue(rec.ID),
		"title":       record.StringValue(rec.Title),
		"form":        record.StringValue(rec.Form),
		"tags":        record.ListValue(rec.Tags),
		"word_count":  record.NumberValue(float64(rec.WordCount)),
		"revision_id": record.StringValue(rec.RevisionID),
		"created_at":  record.DateValue(rec.CreatedAt),
		"updated_at":  record.DateValue(rec.UpdatedAt),
	}

	props := make([]string, 0, len(rec.Properties))

	for _, prop := range rec.Properties {
		if _, taken := vals[strings.ToLower(prop.Name)]; taken {
			continue
		}

		vals[prop.Name] = prop.Value
		props = append(props, prop.Name)
	}

	return tableSlot{key: key, vals: vals, props: props}
}

// slotValue resolves a column inside one slot, case-insensitively.
// "class" is a synonym for "form".
func slotValue(slot *tableSlot, name string) (record.Value, bool) {
	if slot.vals == nil {
		return record.Value{}, false
	}

	if strings.EqualFold(name, "class") {
		name = "form"
	}

	if v, ok := slot.vals[name]; ok {
		return v, true
	}

	for col, v := range slot.vals {
		if strings.EqualFold(col, name) {
			return v, true
		}
	}

	return record.Value{}, false
}

// resolve finds a column in the joined row. Unqualified references are
// rejected when more than one table is in scope; joins require
// table-qualified columns.
func resolve(ref *ColumnRef, row evalRow) (record.Value, bool, error) {
	if ref.Table != "" {
		for i := range row {
			if strings.EqualFold(row[i].key, ref.Table) {
				v, ok := slotValue(&row[i], ref.Name)

				return v, ok, nil
			}
		}

		return record.Value{}, false, fmt.Errorf("%w: table %q", ErrUnknownColumn, ref.Table)
	}

	if len(row) > 1 {
		return record.Value{}, false, fmt.Errorf("%w: %q must be table-qualified in joins", ErrUnknownColumn, ref.Name)
	}

	if len(row) == 0 {
		return record.Value{}, false, nil
	}

	v, ok := slotValue(&row[0], ref.Name)

	return v, ok, nil
}

// evalExpr evaluates a predicate over one joined row.
func evalExpr(expr Expr, row evalRow) (bool, error) {
	switch node := expr.(type) {
	case *LogicalExpr:
		left, err := evalExpr(node.Left, row)
		if err != nil {
			return false, err
		}

		if node.Op == "AND" && !left {
			return false, nil
		}

		if node.Op == "OR" && left {
			return true, nil
		}

		return evalExpr(node.Right, row)
	case *NotExpr:
		inner, err := evalExpr(node.Inner, row)
		if err != nil {
			return false, err
		}

		return !inner, nil
	case *CompareExpr:
		return evalCompare(node, row)
	case *InExpr:
		v, found, err := operandValue(node.Left, row)
		if err != nil {
			return false, err
		}

		if !found {
			return false, nil
		}

		for _, candidate := range node.Values {
			if compareValues(v, candidate) == 0 {
				return !node.Negate, nil
			}
		}

		return node.Negate, nil
	case *NullExpr:
		_, found, err := operandValue(node.Left, row)
		if err != nil {
			return false, err
		}

		return found == node.Negate, nil
	default:
		return false, fmt.Errorf("unsupported expression %T", expr)
	}
}

func evalCompare(node *CompareExpr, row evalRow) (bool, error) {
	left, lFound, err := operandValue(node.Left, row)
	if err != nil {
		return false, err
	}

	right, rFound, err := operandValue(node.Right, row)
	if err != nil {
		return false, err
	}

	// SQL-ish null semantics: comparisons with a missing column are
	// never true.
	if !lFound || !rFound {
		return false, nil
	}

	if node.Op == "LIKE" {
		return likeMatch(left.Text(), right.Text()), nil
	}

	cmp := compareValues(left, right)

	switch node.Op {
	case "=":
		return cmp == 0, nil
	case "!=", "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", node.Op)
	}
}

// compareValues orders two values, coercing string literals toward the
// other side's kind first so date and number comparisons behave
// numerically rather than lexically.
func compareValues(a, b record.Value) int {
	if a.Kind != b.Kind {
		if coerced, err := b.Coerce(a.Kind); err == nil {
			return record.Compare(a, coerced)
		}

		if coerced, err := a.Coerce(b.Kind); err == nil {
			return record.Compare(coerced, b)
		}
	}

	return record.Compare(a, b)
}

func operandValue(op Operand, row evalRow) (record.Value, bool, error) {
	if op.Literal != nil {
		return *op.Literal, true, nil
	}

	if op.Column != nil {
		return resolve(op.Column, row)
	}

	return record.Value{}, false, fmt.Errorf("empty operand")
}

// likeMatch implements SQL LIKE with % and _ wildcards,
// case-insensitively. The pattern's literal runs are regexp-escaped so
// user text containing metacharacters matches verbatim.
func likeMatch(text, pattern string) bool {
	var b strings.Builder

	b.WriteString("(?is)^")

	// Iterate runes, not bytes, so multi-byte literals survive intact.
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}

	return re.MatchString(text)
}

// sortRows orders rows by the given keys, stably so equal keys keep
// their original relative order.
func sortRows(rows []evalRow, keys []OrderKey) error {
	var sortErr error

	sort.SliceStable(rows, func(i, j int) bool {
		for k := range keys {
			key := &keys[k]

			lv, _, err := resolve(&key.Column, rows[i])
			if err != nil && sortErr == nil {
				sortErr = err
			}

			rv, _, err := resolve(&key.Column, rows[j])
			if err != nil && sortErr == nil {
				sortErr = err
			}

			cmp := compareValues(lv, rv)
			if cmp == 0 {
				continue
			}

			if key.Desc {
				return cmp > 0
			}

			return cmp < 0
		}

		return false
	})

	return sortErr
}

// standardColumns is the fixed leading column order for record tables.
var standardColumns = []string{"id", "title", "form", "tags", "created_at", "updated_at", "word_count"}

// columnList derives the SELECT * output columns: standard columns then
// schema fields in first-seen order, qualified per table when joined.
func columnList(q *Query, cat *Catalog) []string {
	refs := append([]TableRef{q.From}, make([]TableRef, 0, len(q.Joins))...)
	for i := range q.Joins {
		refs = append(refs, q.Joins[i].Table)
	}

	qualify := len(refs) > 1

	var columns []string

	for _, ref := range refs {
		for _, col := range tableColumns(ref, cat) {
			if qualify {
				columns = append(columns, ref.key()+"."+col)
			} else {
				columns = append(columns, col)
			}
		}
	}

	return columns
}

// tableColumns lists one table's output columns.
func tableColumns(ref TableRef, cat *Catalog) []string {
	switch strings.ToLower(ref.Name) {
	case tableLinks:
		return []string{"id", "link_id", "target"}
	case tableAssets, tableAttachments:
		return []string{"id", "ref"}
	}

	columns := append([]string(nil), standardColumns...)

	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		seen[strings.ToLower(col)] = struct{}{}
	}

	isForm := !strings.EqualFold(ref.Name, tableRecords)

	for i := range cat.Records {
		rec := &cat.Records[i]
		if isForm && !strings.EqualFold(rec.Form, ref.Name) {
			continue
		}

		for _, prop := range rec.Properties {
			lower := strings.ToLower(prop.Name)
			if _, dup := seen[lower]; dup {
				continue
			}

			seen[lower] = struct{}{}

			columns = append(columns, prop.Name)
		}
	}

	return columns
}

// projectRow renders one joined row in column order. Absent values
// project as empty strings.
func projectRow(row evalRow, columns []string) []record.Value {
	qualified := len(row) > 1

	out := make([]record.Value, len(columns))

	for i, col := range columns {
		name := col
		table := ""

		if qualified {
			if t, n, ok := strings.Cut(col, "."); ok {
				table, name = t, n
			}
		}

		ref := ColumnRef{Table: table, Name: name}

		v, _, err := resolve(&ref, row)
		if err == nil {
			out[i] = v
		}
	}

	return out
}

func containsFold(list []string, name string) bool {
	for _, item := range list {
		if strings.EqualFold(item, name) {
			return true
		}
	}

	return false
}
