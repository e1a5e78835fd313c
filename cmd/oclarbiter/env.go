package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/fxnlabs/oclarbiter/internal/config"
	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"github.com/fxnlabs/oclarbiter/internal/platform"
	"github.com/fxnlabs/oclarbiter/internal/report"
	"go.uber.org/zap"
)

// newAPI returns the simulated compute API when a topology is configured and
// the OpenCL binding otherwise.
func newAPI(cfg *config.Config, log *zap.Logger) (compute.API, error) {
	if cfg.Simulation.Path != "" {
		log.Info("using simulated compute API", zap.String("topology", cfg.Simulation.Path))
		sim, err := compute.LoadSimulation(cfg.Simulation.Path)
		if err != nil {
			return nil, err
		}
		return sim, nil
	}
	api, err := compute.NewAPI(log)
	if errors.Is(err, compute.ErrUnavailable) {
		return nil, fmt.Errorf("%w: rebuild with -tags opencl or pass --simulate", err)
	}
	return api, err
}

func newReserver(cfg *config.Config, log *zap.Logger) lockfile.Reserver {
	if cfg.Lock.Disabled {
		log.Warn("lock files disabled, devices are not reserved across processes")
		return lockfile.Disabled{}
	}
	return lockfile.New(cfg.Lock.Dir, log.Named("lockfile"))
}

// initPlatforms discovers every platform and ranks its devices.
func initPlatforms(cfg *config.Config, api compute.API, reserver lockfile.Reserver, log *zap.Logger) (*platform.Registry, error) {
	reg := platform.NewRegistry(api, reserver, log.Named("platform"))
	if err := reg.Initialize(cfg.Platform.Preferred); err != nil {
		return nil, err
	}
	return reg, nil
}

// lockBestDevice reserves the preferred device. An unknown preferred platform
// prints what was discovered before failing.
func lockBestDevice(w io.Writer, reg *platform.Registry) (*platform.Platform, error) {
	p, err := reg.Preferred()
	if errors.Is(err, platform.ErrPlatformNotFound) {
		for _, p := range reg.Platforms() {
			report.WritePlatform(w, p)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if _, err := p.LockBestDevice(); err != nil {
		return nil, err
	}
	return p, nil
}
