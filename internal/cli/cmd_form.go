package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/formdb/pkg/form"
)

func newFormCmd(cfg Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("form", flag.ContinueOnError),
		Usage: "form <set|ls|show|rm> [args]",
		Short: "Manage form definitions",
		Long: `Subcommands:
  set <file>    Define or update a form from a JSON file (JSONC allowed)
  ls            List defined forms
  show <name>   Print a form definition
  rm <name>     Delete a form definition`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 1 {
				return errors.New("missing form subcommand (set, ls, show, rm)")
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			switch args[0] {
			case "set":
				return formSet(o, a.forms, args[1:])
			case "ls", "list":
				return formList(o, a.forms)
			case "show":
				return formShow(o, a.forms, args[1:])
			case "rm", "delete":
				return formDelete(o, a.forms, args[1:])
			default:
				return fmt.Errorf("unknown form subcommand: %s", args[0])
			}
		},
	}
}

func formSet(o *IO, forms *form.Registry, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: form set <file>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("%s: invalid JSONC: %w", args[0], err)
	}

	var def form.Definition

	err = json.Unmarshal(standardized, &def)
	if err != nil {
		return fmt.Errorf("%s: invalid form definition: %w", args[0], err)
	}

	saved, err := forms.Save(def)
	if err != nil {
		return err
	}

	o.Println("OK: form", saved.Name, "version", saved.Version)

	return nil
}

func formList(o *IO, forms *form.Registry) error {
	defs, err := forms.List()
	if err != nil {
		return err
	}

	for _, def := range defs {
		o.Printf("%-24s v%-3d %d fields\n", def.Name, def.Version, len(def.Fields))
	}

	return nil
}

func formShow(o *IO, forms *form.Registry, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: form show <name>")
	}

	def, err := forms.Get(args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return err
	}

	o.Println(string(data))

	return nil
}

func formDelete(o *IO, forms *form.Registry, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: form rm <name>")
	}

	err := forms.Delete(args[0])
	if err != nil {
		return err
	}

	o.Println("OK: deleted form", args[0])

	return nil
}
