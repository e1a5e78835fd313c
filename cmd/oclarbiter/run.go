package main

import (
	"fmt"

	"github.com/fxnlabs/oclarbiter/internal/config"
	"github.com/fxnlabs/oclarbiter/internal/kernel"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Reserve the best device, build a kernel on it and launch it once",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kernel",
				Usage: "Path to the kernel source file",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Name of the kernel function",
			},
			&cli.StringFlag{
				Name:  "options",
				Usage: "Compiler options",
			},
			&cli.IntSliceFlag{
				Name:  "global",
				Usage: "Global work size (x,y)",
			},
			&cli.IntSliceFlag{
				Name:  "local",
				Usage: "Local work size (x,y)",
			},
			&cli.BoolFlag{
				Name:  "round-up",
				Usage: "Round the global work size up to a multiple of the local work size",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)
			if err := applyKernelFlags(c, cfg); err != nil {
				return err
			}

			api, err := newAPI(cfg, log)
			if err != nil {
				return err
			}
			reg, err := initPlatforms(cfg, api, newReserver(cfg, log), log)
			if err != nil {
				return err
			}
			defer reg.Close()

			p, err := lockBestDevice(c.App.Writer, reg)
			if err != nil {
				return err
			}
			d, err := p.PreferredDevice()
			if err != nil {
				return err
			}
			ctx, _ := d.Context()

			k := kernel.New(api, ctx, d.ID(), cfg.Kernel.Path, kernel.FileReader{}, log.Named("kernel"))
			defer k.Close()
			if err := k.Build(cfg.Kernel.Name, cfg.Kernel.Options); err != nil {
				return err
			}

			global, local := cfg.Kernel.Global, cfg.Kernel.Local
			if c.Bool("round-up") {
				global = []int{kernel.RoundUp(global[0], local[0]), kernel.RoundUp(global[1], local[1])}
			}
			if err := k.ComputeWorkSize(global[0], global[1], local[0], local[1]); err != nil {
				return err
			}

			queue, err := d.NewQueue()
			if err != nil {
				return err
			}
			defer func() {
				if err := api.ReleaseQueue(queue); err != nil {
					log.Warn("failed to release command queue", zap.Error(err))
				}
			}()

			if err := k.Launch(queue); err != nil {
				return err
			}
			if err := api.Finish(queue); err != nil {
				return fmt.Errorf("waiting for kernel %q: %w", cfg.Kernel.Name, err)
			}

			fmt.Fprintf(c.App.Writer, "Kernel %q ran on %s (%s): global %v, local %v\n",
				k.Name(), d.Name(), p.Name(), k.GlobalWorkSize(), k.LocalWorkSize())
			return nil
		},
	}
}

func applyKernelFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("kernel") {
		cfg.Kernel.Path = c.String("kernel")
	}
	if c.IsSet("name") {
		cfg.Kernel.Name = c.String("name")
	}
	if c.IsSet("options") {
		cfg.Kernel.Options = c.String("options")
	}
	if c.IsSet("global") {
		cfg.Kernel.Global = c.IntSlice("global")
	}
	if c.IsSet("local") {
		cfg.Kernel.Local = c.IntSlice("local")
	}
	if len(cfg.Kernel.Global) != kernel.Dimension || len(cfg.Kernel.Local) != kernel.Dimension {
		return fmt.Errorf("work sizes need %d dimensions, got global %v and local %v",
			kernel.Dimension, cfg.Kernel.Global, cfg.Kernel.Local)
	}
	if cfg.Kernel.Name == "" {
		return fmt.Errorf("no kernel name given, use --name")
	}
	return nil
}
