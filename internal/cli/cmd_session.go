package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/session"
)

func newSessionCmd(cfg Config) *Command {
	flags := flag.NewFlagSet("session", flag.ContinueOnError)
	savedID := flags.String("saved", "", "create the session from a saved query id")
	vars := flags.StringArray("var", nil, "saved query variable as name=value (repeatable)")
	offset := flags.Int("offset", 0, "row offset for 'rows'")
	limit := flags.Int("limit", 0, "row limit for 'rows' (0 = session default)")
	asJSON := flags.Bool("json", false, "print rows as JSON")

	return &Command{
		Flags: flags,
		Usage: "session <subcommand> [args]",
		Short: "Manage paging sessions and saved queries",
		Long: `Subcommands:
  create <sql>                    Open a session over an ad-hoc query
  create --saved <id> [--var ...] Open a session over a saved query
  show <id>                       Print session metadata
  rows <id> [--offset] [--limit]  Page through session results
  rm <id>                         Delete a session
  save-query <name> <sql>         Save a reusable query
  queries                         List saved queries
  rm-query <id>                   Delete a saved query and its view
  refresh-view <id>               Rebuild a saved query's view`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return errors.New("missing session subcommand")
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			mgr := a.sessions

			switch args[0] {
			case "create":
				return sessionCreate(ctx, o, mgr, *savedID, *vars, args[1:])
			case "show":
				return sessionShow(o, mgr, args[1:])
			case "rows":
				return sessionRows(ctx, o, mgr, args[1:], *offset, *limit, *asJSON)
			case "rm":
				if len(args) < 2 {
					return errors.New("usage: session rm <id>")
				}

				return mgr.DeleteSession(args[1])
			case "save-query":
				return sessionSaveQuery(ctx, o, mgr, args[1:])
			case "queries":
				return sessionListQueries(o, mgr)
			case "rm-query":
				if len(args) < 2 {
					return errors.New("usage: session rm-query <id>")
				}

				return mgr.DeleteQuery(args[1])
			case "refresh-view":
				if len(args) < 2 {
					return errors.New("usage: session refresh-view <id>")
				}

				return mgr.RefreshView(ctx, args[1])
			default:
				return fmt.Errorf("unknown session subcommand: %s", args[0])
			}
		},
	}
}

func sessionCreate(ctx context.Context, o *IO, mgr *session.Manager, savedID string, vars, args []string) error {
	var (
		sess *session.Session
		err  error
	)

	if savedID != "" {
		values, parseErr := parseVars(vars)
		if parseErr != nil {
			return parseErr
		}

		sess, err = mgr.CreateSessionFromSaved(ctx, savedID, values)
	} else {
		if len(args) < 1 {
			return errors.New("usage: session create <sql>")
		}

		sess, err = mgr.CreateSession(ctx, strings.Join(args, " "))
	}

	if err != nil {
		return err
	}

	o.Println("OK: session", sess.ID, "status", sess.Status, "snapshot", sess.View.SnapshotID)

	if sess.Status == session.StatusFailed {
		return fmt.Errorf("session failed: %s", sess.Error)
	}

	return nil
}

func sessionShow(o *IO, mgr *session.Manager, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: session show <id>")
	}

	sess, err := mgr.GetSession(args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	o.Println(string(data))

	return nil
}

func sessionRows(ctx context.Context, o *IO, mgr *session.Manager, args []string, offset, limit int, asJSON bool) error {
	if len(args) < 1 {
		return errors.New("usage: session rows <id>")
	}

	page, err := mgr.Rows(ctx, args[0], offset, limit)
	if err != nil {
		return err
	}

	if asJSON {
		rows := make([]map[string]record.Value, len(page.Rows))

		for i, row := range page.Rows {
			obj := make(map[string]record.Value, len(row))
			for c, col := range page.Columns {
				obj[col] = row[c]
			}

			rows[i] = obj
		}

		data, marshalErr := json.MarshalIndent(map[string]any{
			"columns":     page.Columns,
			"rows":        rows,
			"total_count": page.TotalCount,
		}, "", "  ")
		if marshalErr != nil {
			return marshalErr
		}

		o.Println(string(data))

		return nil
	}

	o.Println(strings.Join(page.Columns, "\t"))

	for _, row := range page.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.Text()
		}

		o.Println(strings.Join(cells, "\t"))
	}

	o.Printf("(%d of %d rows)\n", len(page.Rows), page.TotalCount)

	return nil
}

func sessionSaveQuery(ctx context.Context, o *IO, mgr *session.Manager, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: session save-query <name> <sql>")
	}

	q := &session.SavedQuery{
		ID:   uuid.Must(uuid.NewV7()).String(),
		Name: args[0],
		SQL:  strings.Join(args[1:], " "),
	}

	err := mgr.SaveQuery(ctx, q)
	if err != nil {
		return err
	}

	o.Println("OK: saved query", q.ID)

	return nil
}

func sessionListQueries(o *IO, mgr *session.Manager) error {
	queries, err := mgr.Queries().List()
	if err != nil {
		return err
	}

	for _, q := range queries {
		o.Printf("%s  %-24s %s\n", q.ID, q.Name, q.SQL)
	}

	return nil
}

// parseVars turns name=value pairs into typed values: numbers, bools,
// and dates are detected, everything else stays a string.
func parseVars(vars []string) (map[string]record.Value, error) {
	values := make(map[string]record.Value, len(vars))

	for _, pair := range vars {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --var %q, want name=value", pair)
		}

		values[name] = detectValue(raw)
	}

	return values, nil
}

func detectValue(raw string) record.Value {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return record.NumberValue(n)
	}

	if b, err := strconv.ParseBool(raw); err == nil {
		return record.BoolValue(b)
	}

	if t, err := record.ParseDate(raw); err == nil {
		return record.DateValue(t)
	}

	return record.StringValue(raw)
}
