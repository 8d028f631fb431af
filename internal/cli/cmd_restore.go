package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"
)

func newRestoreCmd(cfg Config) *Command {
	flags := flag.NewFlagSet("restore", flag.ContinueOnError)
	author := flags.String("author", "", "revision author; defaults to the configured author")

	return &Command{
		Flags: flags,
		Usage: "restore <id> <revision>",
		Short: "Restore an earlier revision as a new head",
		Long: `Re-proposes the markdown of <revision> on top of the current head.
History stays append-only: the restored content becomes a new revision
rather than rewriting the chain.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return errors.New("usage: restore <id> <revision>")
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			accepted, err := a.revs.Restore(ctx, args[0], args[1], authorOr(*author, cfg))
			if err != nil {
				return err
			}

			o.Println("OK:", args[0], "restored as revision", accepted.RevisionID)

			return nil
		},
	}
}
