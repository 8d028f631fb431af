package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/formdb/pkg/form"
	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/sqlquery"
	"github.com/calvinalkan/formdb/pkg/storage"
)

// Defaults for session behavior.
const (
	DefaultTTL       = 10 * time.Minute
	DefaultPageLimit = 25
)

const (
	countModeOnDemand = "on_demand"
	schemaVersion     = 1
)

// Config configures a Manager.
type Config struct {
	// Dir is the space directory. Saved queries, views, and sessions
	// live in subdirectories of it.
	Dir string

	Store storage.Store
	Forms *form.Registry

	// Engine evaluates queries. Nil means a default engine with the
	// standard result cap.
	Engine *sqlquery.Engine

	// TTL bounds a session's useful lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// DefaultLimit is the page size when the caller passes none.
	DefaultLimit int

	// Now is the clock, for tests. Nil means time.Now.
	Now func() time.Time

	// Log receives background activity (view rebuilds, reaping).
	// Nil disables logging.
	Log *slog.Logger
}

// Manager owns the saved query registry, materialized view lifecycle,
// and paging sessions of one space.
type Manager struct {
	queries  *QueryRegistry
	views    viewStore
	sessions sessionStore

	store  storage.Store
	forms  *form.Registry
	engine *sqlquery.Engine

	ttl          time.Duration
	defaultLimit int
	now          func() time.Time
	log          *slog.Logger
}

// NewManager wires a Manager over a space directory.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("new session manager: dir is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("new session manager: store is required")
	}

	queries, err := OpenQueryRegistry(filepath.Join(cfg.Dir, "queries"))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		queries:      queries,
		views:        viewStore{dir: filepath.Join(cfg.Dir, "materialized_views")},
		sessions:     sessionStore{dir: filepath.Join(cfg.Dir, "sql_sessions")},
		store:        cfg.Store,
		forms:        cfg.Forms,
		engine:       cfg.Engine,
		ttl:          cfg.TTL,
		defaultLimit: cfg.DefaultLimit,
		now:          cfg.Now,
		log:          cfg.Log,
	}

	if m.engine == nil {
		m.engine = &sqlquery.Engine{}
	}

	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}

	if m.defaultLimit <= 0 {
		m.defaultLimit = DefaultPageLimit
	}

	if m.now == nil {
		m.now = time.Now
	}

	return m, nil
}

// Queries exposes the saved query registry for read access.
func (m *Manager) Queries() *QueryRegistry { return m.queries }

// SaveQuery validates and stores a saved query, then builds or
// rebuilds its materialized view at the current snapshot. The two
// writes are a paired operation: a saved query never exists without a
// matching view.
func (m *Manager) SaveQuery(ctx context.Context, q *SavedQuery) error {
	if ctx == nil {
		return fmt.Errorf("save query: ctx is nil")
	}

	_, err := sqlquery.Parse(probeSQL(q))
	if err != nil {
		return fmt.Errorf("save query %q: %w", q.ID, err)
	}

	err = m.queries.Save(q, m.now())
	if err != nil {
		return err
	}

	return m.RefreshView(ctx, q.ID)
}

// DeleteQuery removes a saved query together with its materialized
// view.
func (m *Manager) DeleteQuery(id string) error {
	err := m.queries.Delete(id)
	if err != nil {
		return err
	}

	return m.views.delete(id)
}

// RefreshView rebuilds a saved query's materialized view at the
// current storage snapshot.
func (m *Manager) RefreshView(ctx context.Context, sqlID string) error {
	q, err := m.queries.Get(sqlID)
	if err != nil {
		return err
	}

	snapshot, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("refresh view %q: %w", sqlID, err)
	}

	meta := &ViewMeta{SQLID: sqlID, SnapshotID: snapshot, SchemaHash: queryHash(q)}

	err = m.views.put(meta, m.now())
	if err != nil {
		return err
	}

	if m.log != nil {
		m.log.Debug("materialized view rebuilt", "sql_id", sqlID, "snapshot_id", snapshot)
	}

	return nil
}

// View returns a saved query's view metadata.
func (m *Manager) View(sqlID string) (*ViewMeta, error) {
	return m.views.get(sqlID)
}

// CreateSession opens a paging session over an ad-hoc SQL query. The
// current snapshot is pinned at creation; all pages read that exact
// snapshot even as the store advances.
func (m *Manager) CreateSession(ctx context.Context, sql string) (*Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("create session: ctx is nil")
	}

	snapshot, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return m.newSession("", sql, snapshot)
}

// CreateSessionFromSaved opens a paging session over a saved query,
// substituting the given variable values. A stale materialized view is
// rebuilt first; the session pins the view's snapshot.
func (m *Manager) CreateSessionFromSaved(ctx context.Context, sqlID string, values map[string]record.Value) (*Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("create session: ctx is nil")
	}

	q, err := m.queries.Get(sqlID)
	if err != nil {
		return nil, err
	}

	view, err := m.views.get(sqlID)
	if errors.Is(err, ErrNotFound) || (err == nil && view.Stale(q)) {
		err = m.RefreshView(ctx, sqlID)
		if err != nil {
			return nil, err
		}

		view, err = m.views.get(sqlID)
	}

	if err != nil {
		return nil, err
	}

	sql, err := sqlquery.Substitute(q.SQL, values)
	if err != nil {
		return nil, fmt.Errorf("create session for %q: %w", sqlID, err)
	}

	return m.newSession(sqlID, sql, view.SnapshotID)
}

// newSession validates the SQL and persists the session metadata. A
// query that fails validation still produces a session, in failed
// status, so the caller can inspect the error later.
func (m *Manager) newSession(sqlID, sql string, snapshot uint64) (*Session, error) {
	now := m.now().UTC()

	sess := &Session{
		ID:     uuid.Must(uuid.NewV7()).String(),
		SQLID:  sqlID,
		SQL:    sql,
		Status: StatusPending,
		View: View{
			SnapshotID:    snapshot,
			SnapshotAt:    now,
			SchemaVersion: schemaVersion,
		},
		Pagination: Pagination{
			DefaultLimit: m.defaultLimit,
			MaxLimit:     m.engine.MaxLimit,
		},
		Count:     Count{Mode: countModeOnDemand},
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if sess.Pagination.MaxLimit <= 0 {
		sess.Pagination.MaxLimit = sqlquery.DefaultMaxLimit
	}

	query, err := sqlquery.Parse(sql)
	if err != nil {
		sess.Status = StatusFailed
		sess.Error = err.Error()
	} else {
		sess.Pagination.OrderBy = pagingOrder(query)
	}

	err = m.sessions.put(sess)
	if err != nil {
		return nil, err
	}

	if m.log != nil {
		m.log.Debug("session created", "session_id", sess.ID, "sql_id", sqlID, "snapshot_id", snapshot, "status", sess.Status)
	}

	return sess, nil
}

// GetSession loads a session, lazily reaping it if expired. Expired
// sessions return ErrExpired; callers recreate rather than retry.
func (m *Manager) GetSession(id string) (*Session, error) {
	sess, err := m.sessions.get(id)
	if err != nil {
		return nil, err
	}

	if sess.Expired(m.now()) {
		if sess.Status != StatusExpired {
			sess.Status = StatusExpired

			putErr := m.sessions.put(sess)
			if putErr != nil {
				return nil, putErr
			}

			if m.log != nil {
				m.log.Debug("session reaped", "session_id", id)
			}
		}

		return nil, fmt.Errorf("session %q: %w", id, ErrExpired)
	}

	return sess, nil
}

// Page is one window of session results.
type Page struct {
	Columns    []string
	Rows       [][]record.Value
	TotalCount int
}

// Rows re-evaluates the session's pinned query against its pinned
// snapshot and returns the [offset, offset+limit) window. A limit of
// zero means the session's default page size. The total count is
// computed on demand and cached in the session metadata.
func (m *Manager) Rows(ctx context.Context, id string, offset, limit int) (*Page, error) {
	if ctx == nil {
		return nil, fmt.Errorf("session rows: ctx is nil")
	}

	sess, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}

	if sess.Status == StatusFailed {
		return nil, fmt.Errorf("session %q failed: %s", id, sess.Error)
	}

	if limit <= 0 {
		limit = sess.Pagination.DefaultLimit
	}

	// An oversized page is a validation error on the request, rejected
	// before execution. It must not poison the session.
	if limit > sess.Pagination.MaxLimit {
		return nil, &sqlquery.LimitError{Requested: limit, Max: sess.Pagination.MaxLimit}
	}

	query, err := sqlquery.Parse(sess.SQL)
	if err != nil {
		return nil, m.failSession(sess, err)
	}

	catalog, err := m.catalogAt(ctx, sess.View.SnapshotID)
	if err != nil {
		return nil, m.failSession(sess, err)
	}

	sess.Status = StatusRunning

	result, err := m.engine.ExecPage(query, catalog, sqlquery.PageOptions{
		OrderBy: orderKeys(sess.Pagination.OrderBy),
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		var limitErr *sqlquery.LimitError
		if errors.As(err, &limitErr) {
			return nil, err
		}

		return nil, m.failSession(sess, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, m.failSession(sess, fmt.Errorf("execution budget exceeded: %w", ctxErr))
	}

	sess.Status = StatusCompleted
	cachedAt := m.now().UTC()
	total := result.Total
	sess.Count = Count{Mode: countModeOnDemand, CachedAt: &cachedAt, Value: &total}

	err = m.sessions.put(sess)
	if err != nil {
		return nil, err
	}

	return &Page{Columns: result.Columns, Rows: result.Rows, TotalCount: result.Total}, nil
}

// DeleteSession removes a session's metadata.
func (m *Manager) DeleteSession(id string) error {
	return m.sessions.delete(id)
}

// failSession records a failure in the session metadata and returns
// the original error.
func (m *Manager) failSession(sess *Session, cause error) error {
	sess.Status = StatusFailed
	sess.Error = cause.Error()

	putErr := m.sessions.put(sess)
	if putErr != nil {
		return errors.Join(cause, putErr)
	}

	return cause
}

// catalogAt loads the live heads as of a snapshot into a query
// catalog.
func (m *Manager) catalogAt(ctx context.Context, snapshot uint64) (*sqlquery.Catalog, error) {
	heads, err := m.store.HeadsAt(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", snapshot, err)
	}

	catalog := &sqlquery.Catalog{Records: make([]record.Record, 0, len(heads))}

	for _, head := range heads {
		catalog.Records = append(catalog.Records, head.Record)
	}

	if m.forms != nil {
		defs, listErr := m.forms.List()
		if listErr != nil {
			return nil, fmt.Errorf("list forms: %w", listErr)
		}

		catalog.Forms = make([]string, 0, len(defs))
		for _, def := range defs {
			catalog.Forms = append(catalog.Forms, def.Name)
		}
	}

	return catalog, nil
}

// pagingOrder derives the session's deterministic ordering from the
// query's ORDER BY, appending the id tie-breaker when absent.
func pagingOrder(q *sqlquery.Query) []string {
	var order []string

	hasID := false

	for _, key := range q.OrderBy {
		name := key.Column.Name
		if key.Column.Table != "" {
			name = key.Column.Table + "." + name
		}

		if strings.EqualFold(key.Column.Name, "id") {
			hasID = true
		}

		if key.Desc {
			name += " desc"
		}

		order = append(order, name)
	}

	if !hasID {
		order = append(order, "id")
	}

	return order
}

// orderKeys parses the persisted ordering back into engine order keys.
func orderKeys(order []string) []sqlquery.OrderKey {
	keys := make([]sqlquery.OrderKey, 0, len(order))

	for _, entry := range order {
		name, suffix, _ := strings.Cut(entry, " ")

		key := sqlquery.OrderKey{Desc: strings.EqualFold(strings.TrimSpace(suffix), "desc")}

		if table, col, qualified := strings.Cut(name, "."); qualified && !strings.EqualFold(table, "properties") {
			key.Column = sqlquery.ColumnRef{Table: table, Name: col}
		} else if qualified {
			key.Column = sqlquery.ColumnRef{Name: col, Props: true}
		} else {
			key.Column = sqlquery.ColumnRef{Name: name}
		}

		keys = append(keys, key)
	}

	return keys
}

// probeSQL renders a saved query with placeholder probe values so the
// template can be parse-checked at save time.
func probeSQL(q *SavedQuery) string {
	if len(q.Variables) == 0 && !strings.Contains(q.SQL, "{{") {
		return q.SQL
	}

	values := make(map[string]record.Value)

	for _, name := range sqlquery.Placeholders(q.SQL) {
		values[name] = record.StringValue("probe")
	}

	for _, v := range q.Variables {
		if kind, ok := record.KindFromString(v.Type); ok {
			probe, err := record.StringValue("0").Coerce(kind)
			if err == nil {
				values[v.Name] = probe

				continue
			}
		}

		values[v.Name] = record.StringValue("probe")
	}

	sql, err := sqlquery.Substitute(q.SQL, values)
	if err != nil {
		return q.SQL
	}

	return sql
}
