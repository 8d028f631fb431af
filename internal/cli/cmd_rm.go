package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"
)

func newRmCmd(cfg Config) *Command {
	flags := flag.NewFlagSet("rm", flag.ContinueOnError)
	author := flags.String("author", "", "revision author; defaults to the configured author")

	return &Command{
		Flags: flags,
		Usage: "rm <id>",
		Short: "Delete a record (tombstone)",
		Long: `Appends a tombstone revision. The record disappears from reads and
queries but its history remains restorable.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return errors.New("missing record id")
			}

			id := args[0]

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			head, err := a.store.Head(ctx, id)
			if err != nil {
				return err
			}

			err = a.revs.Delete(ctx, id, head.RevisionID, authorOr(*author, cfg))
			if err != nil {
				return err
			}

			o.Println("OK: deleted", id)

			return nil
		},
	}
}
