package main

import (
	"github.com/fxnlabs/oclarbiter/internal/report"
	"github.com/urfave/cli/v2"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Discover platforms and devices and print them in order of preference",
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)

			api, err := newAPI(cfg, log)
			if err != nil {
				return err
			}
			reg, err := initPlatforms(cfg, api, newReserver(cfg, log), log)
			if err != nil {
				return err
			}
			defer reg.Close()

			return report.WritePlatforms(c.App.Writer, reg)
		},
	}
}
