// Package device describes compute devices and ranks the devices of one
// platform to pick the one this process should use.
package device

import (
	"cmp"
	"errors"
	"fmt"
	"strings"

	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"go.uber.org/zap"
)

var (
	// ErrCapabilityQuery wraps any unrecoverable failure of the capability query.
	ErrCapabilityQuery = errors.New("device capability query failed")
	// ErrUnknownDeviceType is returned for a device reporting no known class.
	ErrUnknownDeviceType = errors.New("unknown device type")
	// ErrLockFailed is returned when a selected device cannot be reserved.
	ErrLockFailed = errors.New("failed to lock device")
)

// Platform is what a device needs to know about the platform exposing it.
type Platform interface {
	ID() compute.PlatformID
	Offset() int
	Name() string
}

// Device is one compute device: its capability snapshot, whether another
// process claimed it at discovery time, and whether this process holds it.
type Device struct {
	api      compute.API
	reserver lockfile.Reserver
	logger   *zap.Logger

	index    int
	id       compute.DeviceID
	key      lockfile.Key
	isGPU    bool
	platform Platform

	info     compute.DeviceInfo
	nvidia   compute.NvidiaInfo
	isNvidia bool

	// inUse reflects other processes' locks as probed during discovery.
	inUse bool
	// reservation is non-nil only after a successful Lock by this process.
	reservation lockfile.Reservation

	context    compute.ContextID
	hasContext bool
}

// New returns an empty Device. Call SetInformation before anything else.
func New(api compute.API, reserver lockfile.Reserver, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		api:      api,
		reserver: reserver,
		logger:   logger,
		index:    -1,
	}
}

// SetInformation queries the capability snapshot of the device and probes
// whether another process currently holds its lock.
func (d *Device) SetInformation(index int, id compute.DeviceID, platformOffset int, platformName string, isGPU bool) error {
	d.index = index
	d.id = id
	d.isGPU = isGPU

	info, err := d.api.DeviceInfo(id)
	if err != nil {
		return fmt.Errorf("%w: device %d: %w", ErrCapabilityQuery, index, err)
	}
	if !info.Type.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownDeviceType, info.Type)
	}
	d.info = info

	d.isNvidia = strings.Contains(info.Extensions, compute.NvidiaAttributeQuery)
	if d.isNvidia {
		nv, err := d.api.NvidiaInfo(id)
		if err != nil {
			return fmt.Errorf("%w: device %d nvidia attributes: %w", ErrCapabilityQuery, index, err)
		}
		d.nvidia = nv
	} else {
		d.nvidia = compute.NvidiaInfo{}
	}

	d.key = lockfile.Key{
		PlatformOffset: platformOffset,
		DeviceIndex:    index,
		PlatformName:   platformName,
		DeviceName:     info.Name,
	}
	d.inUse = d.reserver.InUse(d.key)

	d.logger.Debug("device information set",
		zap.Int("index", index),
		zap.String("name", info.Name),
		zap.Uint32("compute_units", info.MaxComputeUnits),
		zap.Bool("gpu", isGPU),
		zap.Bool("in_use", d.inUse))
	return nil
}

// Lock reserves the device for this process. A failure means the caller
// selected a device it cannot have and is reported as ErrLockFailed.
func (d *Device) Lock() error {
	if d.reservation != nil {
		return nil
	}
	res, err := d.reserver.Reserve(d.key)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLockFailed, d.key, err)
	}
	d.reservation = res
	d.logger.Info("device locked", zap.String("device", d.info.Name), zap.String("path", res.Path()))
	return nil
}

// Unlock releases the reservation if held. It is a no-op otherwise.
func (d *Device) Unlock() error {
	if d.reservation == nil {
		return nil
	}
	err := d.reservation.Release()
	d.reservation = nil
	if err != nil {
		return fmt.Errorf("unlocking %s: %w", d.key, err)
	}
	d.logger.Info("device unlocked", zap.String("device", d.info.Name))
	return nil
}

// LockPath returns the path of the lock held by this process, or "" when the
// device is not locked or the reservation has no backing file.
func (d *Device) LockPath() string {
	if d.reservation == nil {
		return ""
	}
	return d.reservation.Path()
}

// SetContext creates an execution context bound to the device. Failure is
// returned, not fatal: the registry moves on to the next candidate.
func (d *Device) SetContext() error {
	if d.hasContext {
		return nil
	}
	ctx, err := d.api.CreateContext(d.id)
	if err != nil {
		return err
	}
	d.context = ctx
	d.hasContext = true
	return nil
}

// NewQueue creates a command queue on the device's context.
func (d *Device) NewQueue() (compute.QueueID, error) {
	if !d.hasContext {
		return 0, fmt.Errorf("device %s has no context", d.info.Name)
	}
	return d.api.CreateQueue(d.context, d.id)
}

// Close releases the context and the lock, whichever are held.
func (d *Device) Close() error {
	var errs []error
	if d.hasContext {
		if err := d.api.ReleaseContext(d.context); err != nil {
			errs = append(errs, fmt.Errorf("releasing context of %s: %w", d.info.Name, err))
		}
		d.hasContext = false
	}
	if err := d.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Device) Index() int                         { return d.index }
func (d *Device) ID() compute.DeviceID               { return d.id }
func (d *Device) Name() string                       { return d.info.Name }
func (d *Device) Info() compute.DeviceInfo           { return d.info }
func (d *Device) Key() lockfile.Key                  { return d.key }
func (d *Device) IsGPU() bool                        { return d.isGPU }
func (d *Device) InUse() bool                        { return d.inUse }
func (d *Device) Locked() bool                       { return d.reservation != nil }
func (d *Device) IsNvidia() bool                     { return d.isNvidia }
func (d *Device) Nvidia() compute.NvidiaInfo         { return d.nvidia }
func (d *Device) ComputeUnits() uint32               { return d.info.MaxComputeUnits }
func (d *Device) Platform() Platform                 { return d.platform }
func (d *Device) Context() (compute.ContextID, bool) { return d.context, d.hasContext }

// RankKey orders devices for selection. Sorted ascending: free devices first,
// then more compute units, then discovery order.
type RankKey struct {
	UsagePenalty    int
	NegComputeUnits int64
	DiscoveryIndex  int
}

// Compare returns -1, 0 or +1 as k ranks before, equal to, or after o.
func (k RankKey) Compare(o RankKey) int {
	if c := cmp.Compare(k.UsagePenalty, o.UsagePenalty); c != 0 {
		return c
	}
	if c := cmp.Compare(k.NegComputeUnits, o.NegComputeUnits); c != 0 {
		return c
	}
	return cmp.Compare(k.DiscoveryIndex, o.DiscoveryIndex)
}

// RankKey returns the device's ranking key.
func (d *Device) RankKey() RankKey {
	penalty := 0
	if d.inUse {
		penalty = 1
	}
	return RankKey{
		UsagePenalty:    penalty,
		NegComputeUnits: -int64(d.info.MaxComputeUnits),
		DiscoveryIndex:  d.index,
	}
}

// Less reports whether a ranks strictly before b.
func Less(a, b *Device) bool {
	return a.RankKey().Compare(b.RankKey()) < 0
}
