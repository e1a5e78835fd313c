package device

import (
	"errors"
	"testing"

	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testPlatform struct {
	id     compute.PlatformID
	offset int
	name   string
}

func (p testPlatform) ID() compute.PlatformID { return p.id }
func (p testPlatform) Offset() int            { return p.offset }
func (p testPlatform) Name() string           { return p.name }

func gpu(name string, units uint32) compute.SimDevice {
	return compute.SimDevice{DeviceInfo: compute.DeviceInfo{Name: name, Type: compute.TypeGPU, MaxComputeUnits: units}}
}

func cpu(name string, units uint32) compute.SimDevice {
	return compute.SimDevice{DeviceInfo: compute.DeviceInfo{Name: name, Type: compute.TypeCPU, MaxComputeUnits: units}}
}

// newTestEnv returns a simulator with one platform holding devs, its
// platform handle, and a file locker rooted in a temp dir.
func newTestEnv(t *testing.T, devs ...compute.SimDevice) (*compute.Simulator, testPlatform, *lockfile.Locker) {
	t.Helper()
	sim := compute.NewSimulator(compute.Topology{
		Platforms: []compute.SimPlatform{{
			PlatformInfo: compute.PlatformInfo{Vendor: "NVIDIA Corporation", Name: "NVIDIA CUDA"},
			Devices:      devs,
		}},
	})
	ids, err := sim.Platforms()
	require.NoError(t, err)
	return sim, testPlatform{id: ids[0], offset: 0, name: "NVIDIA CUDA"}, lockfile.New(t.TempDir(), zap.NewNop())
}

// holdLock claims key from an independent locker, as another process would.
func holdLock(t *testing.T, l *lockfile.Locker, key lockfile.Key) {
	t.Helper()
	other := lockfile.New(l.Dir(), zap.NewNop())
	h, err := other.TryAcquire(other.Path(key))
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
}

func TestRankKey(t *testing.T) {
	mk := func(index int, units uint32, inUse bool) *Device {
		d := New(nil, lockfile.Disabled{}, nil)
		d.index = index
		d.info.MaxComputeUnits = units
		d.inUse = inUse
		return d
	}

	t.Run("free device outranks busy one regardless of compute units", func(t *testing.T) {
		free := mk(0, 1, false)
		busy := mk(1, 512, true)
		assert.True(t, Less(free, busy))
		assert.False(t, Less(busy, free))
	})

	t.Run("more compute units rank first", func(t *testing.T) {
		small := mk(0, 4, false)
		big := mk(1, 16, false)
		assert.True(t, Less(big, small))
		assert.False(t, Less(small, big))
	})

	t.Run("busy devices compare by compute units", func(t *testing.T) {
		small := mk(0, 4, true)
		big := mk(1, 16, true)
		assert.True(t, Less(big, small))
	})

	t.Run("ties resolve by discovery order", func(t *testing.T) {
		first := mk(0, 8, false)
		second := mk(1, 8, false)
		assert.True(t, Less(first, second))
		assert.False(t, Less(second, first))
		assert.Equal(t, 0, first.RankKey().Compare(first.RankKey()))
	})

	t.Run("key fields", func(t *testing.T) {
		assert.Equal(t, RankKey{UsagePenalty: 1, NegComputeUnits: -12, DiscoveryIndex: 3}, mk(3, 12, true).RankKey())
	})
}

func TestSetInformation(t *testing.T) {
	t.Run("populates snapshot and lock key", func(t *testing.T) {
		sim, p, locker := newTestEnv(t, gpu("Tesla C2050", 14))
		ids, err := sim.Devices(p.id, compute.TypeGPU)
		require.NoError(t, err)

		d := New(sim, locker, zap.NewNop())
		require.NoError(t, d.SetInformation(2, ids[0], p.offset, p.name, true))

		assert.Equal(t, 2, d.Index())
		assert.Equal(t, "Tesla C2050", d.Name())
		assert.Equal(t, uint32(14), d.ComputeUnits())
		assert.True(t, d.IsGPU())
		assert.False(t, d.InUse())
		assert.False(t, d.Locked())
		assert.False(t, d.IsNvidia())
		assert.Equal(t, lockfile.Key{PlatformOffset: 0, DeviceIndex: 2, PlatformName: "NVIDIA CUDA", DeviceName: "Tesla C2050"}, d.Key())
	})

	t.Run("nvidia attributes", func(t *testing.T) {
		dev := gpu("GTX 580", 16)
		dev.Extensions = "cl_khr_fp64 cl_nv_device_attribute_query"
		dev.Nvidia = &compute.NvidiaInfo{ComputeCapabilityMajor: 2, ComputeCapabilityMinor: 0, WarpSize: 32}
		sim, p, locker := newTestEnv(t, dev)
		ids, _ := sim.Devices(p.id, compute.TypeGPU)

		d := New(sim, locker, zap.NewNop())
		require.NoError(t, d.SetInformation(0, ids[0], p.offset, p.name, true))
		assert.True(t, d.IsNvidia())
		assert.Equal(t, uint32(32), d.Nvidia().WarpSize)
	})

	t.Run("in use by another process", func(t *testing.T) {
		sim, p, locker := newTestEnv(t, gpu("Tesla", 14))
		ids, _ := sim.Devices(p.id, compute.TypeGPU)
		holdLock(t, locker, lockfile.Key{PlatformOffset: 0, DeviceIndex: 0, PlatformName: p.name, DeviceName: "Tesla"})

		d := New(sim, locker, zap.NewNop())
		require.NoError(t, d.SetInformation(0, ids[0], p.offset, p.name, true))
		assert.True(t, d.InUse())
		// Somebody else's lock is never ours
		assert.False(t, d.Locked())
	})

	t.Run("capability query failure", func(t *testing.T) {
		dev := gpu("Broken", 1)
		dev.FailQuery = true
		sim, p, locker := newTestEnv(t, dev)
		ids, _ := sim.Devices(p.id, compute.TypeGPU)

		d := New(sim, locker, zap.NewNop())
		err := d.SetInformation(0, ids[0], p.offset, p.name, true)
		assert.ErrorIs(t, err, ErrCapabilityQuery)
		assert.ErrorIs(t, err, compute.OutOfHostMemory)
	})

	t.Run("unknown device type", func(t *testing.T) {
		dev := gpu("Odd", 1)
		dev.Type = compute.DeviceType(64) | compute.TypeGPU
		sim, p, locker := newTestEnv(t, dev)
		ids, _ := sim.Devices(p.id, compute.TypeGPU)
		// GPU bit present: accepted
		d := New(sim, locker, zap.NewNop())
		require.NoError(t, d.SetInformation(0, ids[0], p.offset, p.name, true))

		sim2 := compute.NewSimulator(compute.Topology{Platforms: []compute.SimPlatform{{
			Devices: []compute.SimDevice{{DeviceInfo: compute.DeviceInfo{Name: "Odd", Type: compute.DeviceType(64)}}},
		}}})
		pids, _ := sim2.Platforms()
		dids, err := sim2.Devices(pids[0], compute.DeviceType(64))
		require.NoError(t, err)
		err = New(sim2, locker, nil).SetInformation(0, dids[0], 0, "x", false)
		assert.ErrorIs(t, err, ErrUnknownDeviceType)
	})
}

func TestLockUnlock(t *testing.T) {
	sim, p, locker := newTestEnv(t, gpu("Tesla", 14))
	ids, _ := sim.Devices(p.id, compute.TypeGPU)

	d := New(sim, locker, zap.NewNop())
	require.NoError(t, d.SetInformation(0, ids[0], p.offset, p.name, true))

	assert.Empty(t, d.LockPath())
	require.NoError(t, d.Lock())
	assert.True(t, d.Locked())
	assert.Equal(t, locker.Path(d.Key()), d.LockPath())
	// Locking twice keeps the same reservation
	require.NoError(t, d.Lock())

	other := lockfile.New(locker.Dir(), zap.NewNop())
	assert.True(t, other.InUse(d.Key()))

	require.NoError(t, d.Unlock())
	assert.False(t, d.Locked())
	assert.Empty(t, d.LockPath())
	assert.False(t, other.InUse(d.Key()))

	// Unlock without a lock is a no-op
	assert.NoError(t, d.Unlock())
}

func TestLockFailure(t *testing.T) {
	sim, p, locker := newTestEnv(t, gpu("Tesla", 14))
	ids, _ := sim.Devices(p.id, compute.TypeGPU)

	d := New(sim, locker, zap.NewNop())
	require.NoError(t, d.SetInformation(0, ids[0], p.offset, p.name, true))
	holdLock(t, locker, d.Key())

	err := d.Lock()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockFailed))
	assert.True(t, errors.Is(err, lockfile.ErrBusy))
	assert.False(t, d.Locked())
}

func TestContext(t *testing.T) {
	bad := gpu("Flaky", 4)
	bad.FailContext = true
	sim, p, locker := newTestEnv(t, gpu("Good", 8), bad)
	ids, _ := sim.Devices(p.id, compute.TypeGPU)

	good := New(sim, locker, zap.NewNop())
	require.NoError(t, good.SetInformation(0, ids[0], p.offset, p.name, true))
	flaky := New(sim, locker, zap.NewNop())
	require.NoError(t, flaky.SetInformation(1, ids[1], p.offset, p.name, true))

	assert.ErrorIs(t, flaky.SetContext(), compute.DeviceNotAvailable)
	_, ok := flaky.Context()
	assert.False(t, ok)
	_, err := flaky.NewQueue()
	assert.Error(t, err)

	require.NoError(t, good.SetContext())
	require.NoError(t, good.SetContext())
	assert.Equal(t, 1, sim.OpenContexts())

	q, err := good.NewQueue()
	require.NoError(t, err)
	require.NoError(t, sim.ReleaseQueue(q))

	require.NoError(t, good.Lock())
	require.NoError(t, good.Close())
	assert.Equal(t, 0, sim.OpenContexts())
	assert.False(t, good.Locked())
}
