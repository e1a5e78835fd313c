package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxnlabs/oclarbiter/fixtures"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write a configuration template, a sample topology and a sample kernel",
		ArgsUsage: "[directory]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite existing files",
			},
		},
		Action: func(c *cli.Context) error {
			log := appLogger(c)
			dir := "."
			if c.Args().Present() {
				dir = c.Args().First()
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			files := []struct {
				name string
				data []byte
			}{
				{"config.yaml", fixtures.ConfigTemplate},
				{"simulation.yaml", fixtures.SimulationTopology},
				{"kernel.cl", fixtures.SquareKernel},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if _, err := os.Stat(path); err == nil && !c.Bool("force") {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				}
				if err := os.WriteFile(path, f.data, 0o644); err != nil {
					return err
				}
				log.Info("wrote file", zap.String("path", path))
			}
			return nil
		},
	}
}
