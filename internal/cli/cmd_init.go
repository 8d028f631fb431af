package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

func newInitCmd(cfg Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("init", flag.ContinueOnError),
		Usage: "init",
		Short: "Initialize the data directory",
		Long:  `Creates the space directory skeleton and the revision store.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			err := initSpace(ctx, cfg)
			if err != nil {
				return err
			}

			o.Println("OK: initialized space", cfg.Space, "at", cfg.SpaceDir())

			return nil
		},
	}
}
