package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	minArgs     = 2
	consumedOne = 1
	consumedTwo = 2
	helpFlag    = "--help"
)

// Run is the main entry point. Returns exit code.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < minArgs {
		printUsage(out)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		DataDirOverride: flags.dataDir,
		SpaceOverride:   flags.space,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut)

		return 1
	}

	if len(flags.remaining) == 0 {
		printUsage(out)

		return 0
	}

	name := flags.remaining[0]
	if name == "-h" || name == helpFlag {
		printUsage(out)

		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			<-sigCh
			cancel()
		}()
	}

	ioCtx := NewIO(out, errOut)

	if name == "print-config" {
		err = cmdPrintConfig(ioCtx, cfg)
		if err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}

		return ioCtx.Finish()
	}

	cmd, ok := commands(cfg, in)[name]
	if !ok {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut)

		return 1
	}

	code := cmd.Run(ctx, ioCtx, flags.remaining[1:])
	if code != 0 {
		return code
	}

	return ioCtx.Finish()
}

// commands builds the dispatch table. Each command opens the stores it
// needs lazily inside Exec so that help output never touches the data
// directory.
func commands(cfg Config, in io.Reader) map[string]*Command {
	table := make(map[string]*Command)

	for _, cmd := range []*Command{
		newInitCmd(cfg),
		newPutCmd(cfg, in),
		newGetCmd(cfg),
		newHistoryCmd(cfg),
		newRestoreCmd(cfg),
		newRmCmd(cfg),
		newFormCmd(cfg),
		newQueryCmd(cfg),
		newSessionCmd(cfg),
		newReplCmd(cfg),
	} {
		table[cmd.Name()] = cmd
	}

	return table
}

type globalFlags struct {
	workDir    string
	configPath string
	dataDir    string
	space      string
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			// Not a flag, this is the command
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// parseFlag tries to parse a flag at args[idx]. Returns number of args consumed (0 if not a flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	// -C/--cwd flag (work directory)
	if (arg == "-C" || arg == "--cwd") && idx+1 < len(args) {
		flags.workDir = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "-C"); ok {
		flags.workDir = after

		return consumedOne, nil
	}

	if after, ok := strings.CutPrefix(arg, "--cwd="); ok {
		flags.workDir = after

		return consumedOne, nil
	}

	// -c/--config flag
	if arg == "-c" || arg == "--config" {
		if idx+1 >= len(args) {
			return 0, fmt.Errorf("%w: %s", ErrFlagRequiresArg, arg)
		}

		flags.configPath = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "--config="); ok {
		flags.configPath = after

		return consumedOne, nil
	}

	// --data-dir flag
	if arg == "--data-dir" {
		if idx+1 >= len(args) {
			return 0, fmt.Errorf("%w: %s", ErrFlagRequiresArg, arg)
		}

		flags.dataDir = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "--data-dir="); ok {
		flags.dataDir = after

		return consumedOne, nil
	}

	// --space flag
	if arg == "--space" {
		if idx+1 >= len(args) {
			return 0, fmt.Errorf("%w: %s", ErrFlagRequiresArg, arg)
		}

		flags.space = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "--space="); ok {
		flags.space = after

		return consumedOne, nil
	}

	// -h/--help flags
	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	// Unknown flag
	if strings.HasPrefix(arg, "-") && arg != "-" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFlag, arg)
	}

	// Not a flag
	return 0, nil
}

func cmdPrintConfig(o *IO, cfg Config) error {
	formatted, err := FormatConfig(cfg)
	if err != nil {
		return err
	}

	o.Println(formatted)

	o.Println("")
	o.Println("# Sources:")

	if cfg.Sources.Global != "" {
		o.Println("#   global:", cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		o.Println("#   project:", cfg.Sources.Project)
	}

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		o.Println("#   (using defaults only)")
	}

	return nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(writer io.Writer) {
	fprintln(writer, `formdb - markdown records with forms, revisions, and SQL

Usage: formdb [options] <command> [args]

Options:
  -C, --cwd <dir>     Run as if started in <dir>
  -c, --config        Use specified config file
  --data-dir <dir>    Override the data directory
  --space <name>      Override the space (default: main)

Commands:
  init                         Initialize the data directory
  put <id> [file]              Create or update a record from markdown
  get <id>                     Show a record's current projection
  history <id>                 List a record's revisions
  restore <id> <revision>      Restore an earlier revision as a new head
  rm <id>                      Delete a record (tombstone)
  form <subcommand>            Manage form definitions
  query <sql>                  Run a one-shot SQL query
  session <subcommand>         Manage paging sessions and saved queries
  repl                         Interactive query shell
  print-config                 Show resolved configuration`)
}
