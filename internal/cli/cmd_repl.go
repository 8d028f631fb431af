package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/formdb/pkg/record"
	"github.com/calvinalkan/formdb/pkg/sqlquery"
)

func newReplCmd(cfg Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Interactive query shell",
		Long: `Starts a readline shell. SELECT statements run against the current
snapshot; 'lint <sql>' prints diagnostics; 'get <id>', 'ls [prefix]'
and 'forms' inspect the store.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			_ = o // REPL writes straight to the terminal

			r := &repl{app: a}

			return r.run(ctx)
		},
	}
}

type repl struct {
	app   *app
	liner *liner.State
}

// historyFile returns the path to the REPL history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".formdb_history")
}

func (r *repl) run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("formdb - space %q\n", r.app.cfg.Space)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("formdb> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "select":
			r.cmdQuery(ctx, line)

		case "lint":
			r.cmdLint(strings.TrimSpace(strings.TrimPrefix(line, parts[0])))

		case "get":
			r.cmdGet(ctx, parts[1:])

		case "ls", "list":
			r.cmdList(ctx, parts[1:])

		case "forms":
			r.cmdForms()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{
		"select", "lint", "get", "ls", "list",
		"forms", "clear", "cls",
		"help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *repl) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  SELECT * FROM ...     Run a query against the current snapshot")
	fmt.Println("  lint <sql>            Lint a query and print diagnostics")
	fmt.Println("  get <id>              Show a record's projection")
	fmt.Println("  ls [prefix]           List record ids")
	fmt.Println("  forms                 List form definitions")
	fmt.Println("  help                  Show this help")
	fmt.Println("  exit / quit / q       Exit")
}

func (r *repl) cmdQuery(ctx context.Context, sql string) {
	query, err := sqlquery.Parse(sql)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	snapshot, err := r.app.store.Snapshot(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	heads, err := r.app.store.HeadsAt(ctx, snapshot)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	catalog := &sqlquery.Catalog{Records: make([]record.Record, 0, len(heads))}
	for _, head := range heads {
		catalog.Records = append(catalog.Records, head.Record)
	}

	engine := &sqlquery.Engine{MaxLimit: r.app.cfg.MaxLimit}

	result, err := engine.Exec(query, catalog)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println(strings.Join(result.Columns, "\t"))

	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.Text()
		}

		fmt.Println(strings.Join(cells, "\t"))
	}

	fmt.Printf("(%d rows)\n", result.Total)
}

func (r *repl) cmdLint(sql string) {
	diags := sqlquery.Lint(sql)
	if len(diags) == 0 {
		fmt.Println("OK: no findings")

		return
	}

	for _, d := range diags {
		fmt.Printf("%s [%d:%d] %s\n", d.Severity, d.From, d.To, d.Message)
	}
}

func (r *repl) cmdGet(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <id>")

		return
	}

	rec, err := r.app.revs.Head(ctx, args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	data, err := rec.MarshalProjection()
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println(string(data))
}

func (r *repl) cmdList(ctx context.Context, args []string) {
	prefix := ""
	if len(args) >= 1 {
		prefix = args[0]
	}

	heads, err := r.app.store.ListByPrefix(ctx, prefix)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if len(heads) == 0 {
		fmt.Println("(empty)")

		return
	}

	for i, head := range heads {
		fmt.Printf("%3d. %s  %s\n", i+1, head.RecordID, head.Record.Title)
	}
}

func (r *repl) cmdForms() {
	defs, err := r.app.forms.List()
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if len(defs) == 0 {
		fmt.Println("(no forms)")

		return
	}

	for _, def := range defs {
		fmt.Printf("%-24s v%-3d %d fields\n", def.Name, def.Version, len(def.Fields))
	}
}
