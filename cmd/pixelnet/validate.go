package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Load and validate the config file",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "config ok: %d account(s), mode %s, board %s\n",
				len(cfg.Credentials), cfg.Mode(), cfg.WSURL)
			return nil
		},
	}
}
