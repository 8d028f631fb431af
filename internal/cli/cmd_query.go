package cli

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/sqlquery"
)

func newQueryCmd(cfg Config) *Command {
	flags := flag.NewFlagSet("query", flag.ContinueOnError)
	lintOnly := flags.Bool("lint", false, "lint the query and print diagnostics without executing")
	asJSON := flags.Bool("json", false, "print rows as JSON")

	return &Command{
		Flags: flags,
		Usage: "query <sql> [flags]",
		Short: "Run a one-shot SQL query",
		Long: `Evaluates a restricted SQL query (SELECT * FROM ... [JOIN] [WHERE]
[ORDER BY] [LIMIT]) against the current snapshot. Tables: records,
links, assets, and one table per form name.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return errors.New("missing sql")
			}

			sql := strings.Join(args, " ")

			if *lintOnly {
				diags := sqlquery.Lint(sql)

				data, err := json.MarshalIndent(diags, "", "  ")
				if err != nil {
					return err
				}

				o.Println(string(data))

				if sqlquery.HasErrors(diags) {
					return errors.New("query has lint errors")
				}

				return nil
			}

			query, err := sqlquery.Parse(sql)
			if err != nil {
				return err
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			snapshot, err := a.store.Snapshot(ctx)
			if err != nil {
				return err
			}

			heads, err := a.store.HeadsAt(ctx, snapshot)
			if err != nil {
				return err
			}

			catalog := &sqlquery.Catalog{Records: make([]record.Record, 0, len(heads))}
			for _, head := range heads {
				catalog.Records = append(catalog.Records, head.Record)
			}

			engine := &sqlquery.Engine{MaxLimit: cfg.MaxLimit}

			result, err := engine.Exec(query, catalog)
			if err != nil {
				return err
			}

			return printResult(o, result, *asJSON)
		},
	}
}

func printResult(o *IO, result *sqlquery.Result, asJSON bool) error {
	if asJSON {
		rows := make([]map[string]record.Value, len(result.Rows))

		for i, row := range result.Rows {
			obj := make(map[string]record.Value, len(row))
			for c, col := range result.Columns {
				obj[col] = row[c]
			}

			rows[i] = obj
		}

		data, err := json.MarshalIndent(map[string]any{
			"columns":     result.Columns,
			"rows":        rows,
			"total_count": result.Total,
		}, "", "  ")
		if err != nil {
			return err
		}

		o.Println(string(data))

		return nil
	}

	o.Println(strings.Join(result.Columns, "\t"))

	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.Text()
		}

		o.Println(strings.Join(cells, "\t"))
	}

	o.Printf("(%d rows)\n", result.Total)

	return nil
}
