package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/formdb/pkg/storage"
)

func newPutCmd(cfg Config, in io.Reader) *Command {
	flags := flag.NewFlagSet("put", flag.ContinueOnError)
	parent := flags.String("parent", "", "expected head revision id (CAS); defaults to the current head")
	author := flags.String("author", "", "revision author; defaults to the configured author")
	create := flags.Bool("create", false, "require that the record does not exist yet")

	return &Command{
		Flags: flags,
		Usage: "put <id> [file]",
		Short: "Create or update a record from markdown",
		Long: `Appends a new revision for <id> from a markdown file ("-" or no
file reads stdin). Updates are compare-and-swapped against the current
head revision; a concurrent writer causes a conflict error carrying
the winning revision id.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return errors.New("missing record id")
			}

			id := args[0]

			markdown, err := readMarkdown(in, args[1:])
			if err != nil {
				return err
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			parentRev := *parent
			if parentRev == "" && !*create {
				head, headErr := a.store.Head(ctx, id)
				if headErr == nil {
					parentRev = head.RevisionID
				} else if !errors.Is(headErr, storage.ErrNotFound) {
					return headErr
				}
			}

			accepted, err := a.revs.Propose(ctx, id, markdown, parentRev, authorOr(*author, cfg))
			if err != nil {
				var conflict *storage.ConflictError
				if errors.As(err, &conflict) {
					return fmt.Errorf("conflict: head of %q is now revision %s; re-read and retry", id, conflict.CurrentRevisionID)
				}

				return err
			}

			for _, issue := range accepted.Issues {
				o.Warn(fmt.Sprintf("field %q: %s", issue.Field, issue.Message), "fix the markdown and put again")
			}

			o.Println("OK:", id, "revision", accepted.RevisionID)

			return nil
		},
	}
}

func readMarkdown(in io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}

		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}

	return string(data), nil
}

func authorOr(flagVal string, cfg Config) string {
	if flagVal != "" {
		return flagVal
	}

	if cfg.Author != "" {
		return cfg.Author
	}

	return "unknown"
}
