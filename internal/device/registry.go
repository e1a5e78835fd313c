package device

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"github.com/fxnlabs/oclarbiter/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrNoDevices is returned when a platform exposes neither CPUs nor GPUs.
	ErrNoDevices = errors.New("no device found on platform")
	// ErrAllDevicesInUse is returned when every device is claimed by another process.
	ErrAllDevicesInUse = errors.New("all devices are in use")
	// ErrNoContext is returned when no device accepts an execution context.
	ErrNoContext = errors.New("cannot create a context on any of the available devices")
	// ErrNotInitialized is returned when the registry is used before Initialize succeeds.
	ErrNotInitialized = errors.New("device registry not initialized")
)

// Registry holds the ranked devices of one platform and the preferred one.
type Registry struct {
	api      compute.API
	reserver lockfile.Reserver
	logger   *zap.Logger

	platform  Platform
	devices   []*Device
	preferred *Device
	nbCPU     int
	nbGPU     int
}

// NewRegistry creates an empty registry.
func NewRegistry(api compute.API, reserver lockfile.Reserver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		api:      api,
		reserver: reserver,
		logger:   logger,
	}
}

// countDevices lists the devices of class t, treating "not found" as none.
func (r *Registry) countDevices(p Platform, t compute.DeviceType) ([]compute.DeviceID, error) {
	ids, err := r.api.Devices(p.ID(), t)
	if errors.Is(err, compute.DeviceNotFound) {
		r.logger.Warn("no usable device of this type", zap.String("platform", p.Name()), zap.Stringer("type", t))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s devices: %w", ErrCapabilityQuery, t, err)
	}
	return ids, nil
}

// Initialize enumerates the platform's devices (CPUs first, then GPUs),
// ranks them, and selects the first one that accepts an execution context.
func (r *Registry) Initialize(p Platform, preferredPlatform string) error {
	r.logger.Info("initializing platform devices",
		zap.String("platform", p.Name()),
		zap.String("preferred_platform", preferredPlatform))

	r.Close()
	r.platform = p
	r.devices = nil
	r.preferred = nil

	gpus, err := r.countDevices(p, compute.TypeGPU)
	if err != nil {
		return err
	}
	cpus, err := r.countDevices(p, compute.TypeCPU)
	if err != nil {
		return err
	}
	r.nbCPU, r.nbGPU = len(cpus), len(gpus)
	if r.nbCPU+r.nbGPU == 0 {
		return fmt.Errorf("%w: %s", ErrNoDevices, p.Name())
	}

	allInUse := true
	inUse := 0
	add := func(index int, id compute.DeviceID, isGPU bool) error {
		d := New(r.api, r.reserver, r.logger)
		if err := d.SetInformation(index, id, p.Offset(), p.Name(), isGPU); err != nil {
			return err
		}
		d.platform = p
		if d.InUse() {
			inUse++
		} else {
			allInUse = false
		}
		r.devices = append(r.devices, d)
		return nil
	}
	for i, id := range cpus {
		if err := add(i, id, false); err != nil {
			r.devices = nil
			return err
		}
	}
	for i, id := range gpus {
		if err := add(r.nbCPU+i, id, true); err != nil {
			r.devices = nil
			return err
		}
	}

	metrics.DevicesDiscovered.WithLabelValues(p.Name(), "cpu").Set(float64(r.nbCPU))
	metrics.DevicesDiscovered.WithLabelValues(p.Name(), "gpu").Set(float64(r.nbGPU))
	metrics.DevicesInUse.WithLabelValues(p.Name()).Set(float64(inUse))

	if allInUse {
		return fmt.Errorf("%w: %s", ErrAllDevicesInUse, p.Name())
	}

	slices.SortStableFunc(r.devices, func(a, b *Device) int {
		return a.RankKey().Compare(b.RankKey())
	})

	for _, d := range r.devices {
		r.logger.Info("trying to set a context", zap.String("device", d.Name()), zap.Int("id", d.Index()))
		if err := d.SetContext(); err != nil {
			metrics.ContextAttempts.WithLabelValues(metrics.ResultFailed).Inc()
			r.logger.Warn("context creation failed, trying next device",
				zap.String("device", d.Name()), zap.Error(err))
			continue
		}
		metrics.ContextAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
		r.preferred = d
		break
	}
	if r.preferred == nil {
		return fmt.Errorf("%w: %s", ErrNoContext, p.Name())
	}

	r.logger.Info("preferred device selected",
		zap.String("platform", p.Name()),
		zap.String("device", r.preferred.Name()),
		zap.Int("id", r.preferred.Index()))
	return nil
}

// PreferredDevice returns the device selected by Initialize.
func (r *Registry) PreferredDevice() (*Device, error) {
	if r.preferred == nil {
		return nil, ErrNotInitialized
	}
	return r.preferred, nil
}

// Devices returns the devices in order of preference.
func (r *Registry) Devices() []*Device {
	return slices.Clone(r.devices)
}

// Counts returns the number of CPU and GPU devices discovered.
func (r *Registry) Counts() (cpus, gpus int) {
	return r.nbCPU, r.nbGPU
}

// Close releases every context and lock held by the registry's devices.
func (r *Registry) Close() error {
	var errs []error
	for _, d := range r.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
