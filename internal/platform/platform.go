// Package platform enumerates compute platforms, classifies them by vendor
// and owns one device registry per platform.
package platform

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/fxnlabs/oclarbiter/internal/device"
	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"github.com/fxnlabs/oclarbiter/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrNoPlatforms is returned when the compute API reports no platform.
	ErrNoPlatforms = errors.New("no compute platform found")
	// ErrUnknownVendor is returned for a vendor outside the known set.
	ErrUnknownVendor = errors.New("unknown platform vendor")
	// ErrPlatformNotFound is returned by Get for a key that was not discovered.
	ErrPlatformNotFound = errors.New("platform not found")
	// ErrNotInitialized is returned when the registry is used before Initialize succeeds.
	ErrNotInitialized = errors.New("platform registry not initialized")
)

// Platform is one vendor implementation of the compute API and its devices.
type Platform struct {
	key    string
	id     compute.PlatformID
	offset int
	info   compute.PlatformInfo

	devices *device.Registry
}

func (p *Platform) ID() compute.PlatformID     { return p.id }
func (p *Platform) Offset() int                { return p.offset }
func (p *Platform) Name() string               { return p.info.Name }
func (p *Platform) Key() string                { return p.key }
func (p *Platform) Vendor() string             { return p.info.Vendor }
func (p *Platform) Version() string            { return p.info.Version }
func (p *Platform) Profile() string            { return p.info.Profile }
func (p *Platform) Extensions() string         { return p.info.Extensions }
func (p *Platform) Info() compute.PlatformInfo { return p.info }
func (p *Platform) Devices() *device.Registry  { return p.devices }

// PreferredDevice returns the platform's preferred device.
func (p *Platform) PreferredDevice() (*device.Device, error) {
	return p.devices.PreferredDevice()
}

// LockBestDevice reserves the platform's preferred device for this process.
func (p *Platform) LockBestDevice() (*device.Device, error) {
	d, err := p.devices.PreferredDevice()
	if err != nil {
		return nil, err
	}
	if err := d.Lock(); err != nil {
		return nil, err
	}
	return d, nil
}

// Registry holds every discovered platform keyed by vendor.
type Registry struct {
	api      compute.API
	reserver lockfile.Reserver
	logger   *zap.Logger

	platforms map[string]*Platform
	preferred string
}

// NewRegistry creates an empty registry. Devices of every platform reserve
// through reserver.
func NewRegistry(api compute.API, reserver lockfile.Reserver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		api:       api,
		reserver:  reserver,
		logger:    logger,
		platforms: make(map[string]*Platform),
	}
}

// Initialize enumerates the platforms and initializes each one's devices.
// preferredKey selects the platform returned by Preferred; KeyUnset or ""
// picks the first key in lexicographic order.
func (r *Registry) Initialize(preferredKey string) error {
	r.logger.Info("getting the list of platforms")
	r.Close()
	r.platforms = make(map[string]*Platform)
	r.preferred = ""

	ids, err := r.api.Platforms()
	if errors.Is(err, compute.PlatformNotFoundKHR) {
		return ErrNoPlatforms
	}
	if err != nil {
		return fmt.Errorf("listing platforms: %w", err)
	}
	if len(ids) == 0 {
		return ErrNoPlatforms
	}
	r.logger.Info("initializing platforms", zap.Int("count", len(ids)))

	// The offset tells apart identical device names exposed by different
	// platforms in the lock file name, so it advances for every platform.
	for offset, id := range ids {
		info, err := r.api.PlatformInfo(id)
		if err != nil {
			return fmt.Errorf("querying platform %d: %w", offset, err)
		}
		key, err := Classify(info.Vendor)
		if err != nil {
			r.Close()
			return err
		}
		if _, dup := r.platforms[key]; dup {
			r.logger.Warn("skipping platform with an already registered vendor",
				zap.String("key", key), zap.String("name", info.Name))
			continue
		}

		p := &Platform{
			key:     key,
			id:      id,
			offset:  offset,
			info:    info,
			devices: device.NewRegistry(r.api, r.reserver, r.logger.Named(key)),
		}
		if err := p.devices.Initialize(p, preferredKey); err != nil {
			r.Close()
			return fmt.Errorf("platform %q: %w", key, err)
		}
		r.platforms[key] = p
		r.logger.Info("platform initialized",
			zap.String("key", key),
			zap.String("vendor", info.Vendor),
			zap.String("name", info.Name),
			zap.Int("offset", offset))
	}
	metrics.PlatformsDiscovered.Set(float64(len(r.platforms)))

	r.preferred = preferredKey
	if isUnset(preferredKey) {
		r.preferred = r.Keys()[0]
	}
	return nil
}

// Keys returns the discovered vendor keys in lexicographic order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.platforms))
	for k := range r.platforms {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Platforms returns the discovered platforms in key order.
func (r *Registry) Platforms() []*Platform {
	out := make([]*Platform, 0, len(r.platforms))
	for _, k := range r.Keys() {
		out = append(out, r.platforms[k])
	}
	return out
}

// Get returns the platform for key. KeyUnset or "" returns the first one.
func (r *Registry) Get(key string) (*Platform, error) {
	if len(r.platforms) == 0 {
		return nil, ErrNotInitialized
	}
	if isUnset(key) {
		return r.platforms[r.Keys()[0]], nil
	}
	p, ok := r.platforms[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrPlatformNotFound, key, r.Keys())
	}
	return p, nil
}

// PreferredKey returns the key of the platform selected at initialization.
func (r *Registry) PreferredKey() string {
	return r.preferred
}

// Preferred returns the platform selected at initialization.
func (r *Registry) Preferred() (*Platform, error) {
	return r.Get(r.preferred)
}

// LockBestDevice reserves the preferred device of the preferred platform.
func (r *Registry) LockBestDevice() (*device.Device, error) {
	p, err := r.Preferred()
	if err != nil {
		return nil, err
	}
	return p.LockBestDevice()
}

// Close releases every context and lock held on any platform.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.Platforms() {
		if err := p.devices.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
