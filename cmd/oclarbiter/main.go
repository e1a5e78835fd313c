package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/oclarbiter/internal/config"
	"github.com/fxnlabs/oclarbiter/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "oclarbiter",
		Usage: "Select, reserve and run kernels on OpenCL devices shared between processes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				EnvVars: []string{"OCLARBITER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: `Preferred platform: nvidia, amd, intel, apple, or "-1" for the first one`,
			},
			&cli.StringFlag{
				Name:  "lock-dir",
				Usage: "Directory holding the device lock files",
			},
			&cli.BoolFlag{
				Name:  "no-lock",
				Usage: "Do not use lock files; every device is considered free",
			},
			&cli.StringFlag{
				Name:  "simulate",
				Usage: "Use the simulated compute API described by this topology file",
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Default()
			if path := c.String("config"); path != "" {
				var err error
				cfg, err = config.LoadConfig(path)
				if err != nil {
					return err
				}
			}
			applyFlags(c, cfg)

			zapLogger, err := logger.New(cfg.Logger.Verbosity, cfg.Logger.OutputPaths...)
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("oclarbiter")
			return nil
		},
		After: func(c *cli.Context) error {
			if log, ok := c.App.Metadata["logger"].(*zap.Logger); ok {
				// Sync fails on terminals; nothing to report.
				_ = log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			initCommand(),
			listCommand(),
			lockPathCommand(),
			holdCommand(),
			runCommand(),
		},
		Metadata: map[string]interface{}{},
	}
}

// applyFlags lets command line flags override the configuration file.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("verbosity") {
		cfg.Logger.Verbosity = c.String("verbosity")
	}
	if c.IsSet("platform") {
		cfg.Platform.Preferred = c.String("platform")
	}
	if c.IsSet("lock-dir") {
		cfg.Lock.Dir = c.String("lock-dir")
	}
	if c.IsSet("no-lock") {
		cfg.Lock.Disabled = c.Bool("no-lock")
	}
	if c.IsSet("simulate") {
		cfg.Simulation.Path = c.String("simulate")
	}
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func appLogger(c *cli.Context) *zap.Logger {
	return c.App.Metadata["logger"].(*zap.Logger)
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		if log, ok := app.Metadata["logger"].(*zap.Logger); ok {
			log.Fatal("failed to run app", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
