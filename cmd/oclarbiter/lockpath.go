package main

import (
	"fmt"
	"strconv"

	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"github.com/urfave/cli/v2"
)

func lockPathCommand() *cli.Command {
	return &cli.Command{
		Name:      "lock-path",
		Usage:     "Print the lock file path of a device",
		ArgsUsage: "<platform offset> <device index> <platform name> <device name>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 4 {
				return fmt.Errorf("expected 4 arguments, got %d", c.NArg())
			}
			offset, err := strconv.Atoi(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid platform offset: %w", err)
			}
			index, err := strconv.Atoi(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid device index: %w", err)
			}

			key := lockfile.Key{
				PlatformOffset: offset,
				DeviceIndex:    index,
				PlatformName:   c.Args().Get(2),
				DeviceName:     c.Args().Get(3),
			}
			fmt.Fprintln(c.App.Writer, key.Path(appConfig(c).Lock.Dir))
			return nil
		},
	}
}
