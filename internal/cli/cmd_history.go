package cli

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	flag "github.com/spf13/pflag"
)

func newHistoryCmd(cfg Config) *Command {
	flags := flag.NewFlagSet("history", flag.ContinueOnError)
	asJSON := flags.Bool("json", false, "print revision metadata as JSON")

	return &Command{
		Flags: flags,
		Usage: "history <id>",
		Short: "List a record's revisions, newest first",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return errors.New("missing record id")
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.revs.History(ctx, args[0])
			if err != nil {
				return err
			}

			if *asJSON {
				data, marshalErr := json.MarshalIndent(history, "", "  ")
				if marshalErr != nil {
					return marshalErr
				}

				o.Println(string(data))

				return nil
			}

			for _, meta := range history {
				parent := meta.ParentRevisionID
				if parent == "" {
					parent = "(initial)"
				}

				o.Printf("%s  %s  %s  parent=%s\n",
					meta.Timestamp.UTC().Format(time.RFC3339), meta.RevisionID, meta.Author, parent)
			}

			return nil
		},
	}
}
