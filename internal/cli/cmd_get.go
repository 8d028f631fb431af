package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"
)

func newGetCmd(cfg Config) *Command {
	flags := flag.NewFlagSet("get", flag.ContinueOnError)
	asMarkdown := flags.Bool("markdown", false, "print the head revision's raw markdown instead of the projection")

	return &Command{
		Flags: flags,
		Usage: "get <id>",
		Short: "Show a record's current projection",
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

			rec, err := a.revs.Head(ctx, id)
			if err != nil {
				return err
			}

			if *asMarkdown {
				rev, revErr := a.revs.GetRevision(ctx, id, rec.RevisionID)
				if revErr != nil {
					return revErr
				}

				o.Printf("%s", rev.Markdown)

				return nil
			}

			data, err := rec.MarshalProjection()
			if err != nil {
				return err
			}

			o.Println(string(data))

			return nil
		},
	}
}
