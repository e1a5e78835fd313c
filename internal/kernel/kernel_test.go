package kernel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const squareSource = `__kernel void square(__global float *x) {
    int i = get_global_id(0);
    x[i] = x[i] * x[i];
}
`

type memReader map[string]string

func (m memReader) ReadSource(path string) ([]byte, error) {
	src, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(src), nil
}

// setup returns a simulator with one GPU and an open context on it.
func setup(t *testing.T, build compute.SimBuild) (*compute.Simulator, compute.ContextID, compute.DeviceID) {
	t.Helper()
	sim := compute.NewSimulator(compute.Topology{
		Platforms: []compute.SimPlatform{{
			PlatformInfo: compute.PlatformInfo{Vendor: "NVIDIA Corporation", Name: "NVIDIA CUDA"},
			Devices: []compute.SimDevice{{
				DeviceInfo: compute.DeviceInfo{Name: "GTX 580", Type: compute.TypeGPU, MaxComputeUnits: 16},
			}},
		}},
		Build: build,
	})
	pids, err := sim.Platforms()
	require.NoError(t, err)
	dids, err := sim.Devices(pids[0], compute.TypeGPU)
	require.NoError(t, err)
	ctx, err := sim.CreateContext(dids[0])
	require.NoError(t, err)
	return sim, ctx, dids[0]
}

func TestComputeWorkSize(t *testing.T) {
	tests := []struct {
		name                             string
		globalX, globalY, localX, localY int
		wantErr                          bool
	}{
		{"divisible", 100, 100, 10, 10, false},
		{"equal sizes", 16, 16, 16, 16, false},
		{"not a multiple", 100, 100, 7, 10, true},
		{"global smaller than local", 5, 100, 10, 10, true},
		{"second dimension checked", 100, 30, 10, 20, true},
		{"zero local size", 100, 100, 0, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := New(nil, 0, 0, "", nil, nil)
			err := k.ComputeWorkSize(tt.globalX, tt.globalY, tt.localX, tt.localY)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrWorkSize)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{tt.globalX, tt.globalY}, k.GlobalWorkSize())
			assert.Equal(t, []int{tt.localX, tt.localY}, k.LocalWorkSize())
		})
	}

	t.Run("rejected sizes keep the previous ones", func(t *testing.T) {
		k := New(nil, 0, 0, "", nil, nil)
		require.NoError(t, k.ComputeWorkSize(64, 64, 8, 8))
		require.Error(t, k.ComputeWorkSize(64, 64, 7, 8))
		assert.Equal(t, []int{64, 64}, k.GlobalWorkSize())
	})
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, 16, RoundUp(3, 16))
	assert.Equal(t, 32, RoundUp(32, 16))
	assert.Equal(t, 48, RoundUp(33, 16))
	assert.Equal(t, 100, RoundUp(100, 10))
	assert.Equal(t, 105, RoundUp(100, 7))
	assert.Equal(t, 100, RoundUp(100, 0))
}

func TestBuildAndLaunch(t *testing.T) {
	sim, ctx, dev := setup(t, compute.SimBuild{Log: "ok", Kernels: []string{"square"}})
	k := New(sim, ctx, dev, "square.cl", memReader{"square.cl": squareSource}, zap.NewNop())

	q, err := sim.CreateQueue(ctx, dev)
	require.NoError(t, err)

	assert.ErrorIs(t, k.Launch(q), ErrNotBuilt)

	require.NoError(t, k.Build("square", "-cl-fast-relaxed-math"))
	assert.Equal(t, "square", k.Name())
	assert.Equal(t, "-cl-fast-relaxed-math", k.Options())

	assert.ErrorIs(t, k.Launch(q), ErrWorkSize)

	require.NoError(t, k.ComputeWorkSize(128, 64, 16, 8))
	require.NoError(t, k.Launch(q))
	require.NoError(t, sim.Finish(q))

	launches := sim.Launches()
	require.Len(t, launches, 1)
	assert.Equal(t, "square", launches[0].Kernel)
	assert.Equal(t, []int{128, 64}, launches[0].Global)
	assert.Equal(t, []int{16, 8}, launches[0].Local)

	require.NoError(t, sim.ReleaseQueue(q))
	require.NoError(t, k.Close())
	require.NoError(t, k.Close())
	assert.Equal(t, 0, sim.OpenObjects())
}

func TestBuildFromFile(t *testing.T) {
	sim, ctx, dev := setup(t, compute.SimBuild{})
	path := filepath.Join(t.TempDir(), "square.cl")
	require.NoError(t, os.WriteFile(path, []byte(squareSource), 0o644))

	k := New(sim, ctx, dev, path, nil, nil)
	require.NoError(t, k.Build("square", ""))

	// Rebuilding releases the previous program first.
	require.NoError(t, k.Build("square", "-w"))
	assert.Equal(t, 2, sim.OpenObjects())
	require.NoError(t, k.Close())
	assert.Equal(t, 0, sim.OpenObjects())
}

func TestBuildErrors(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		sim, ctx, dev := setup(t, compute.SimBuild{})
		k := New(sim, ctx, dev, filepath.Join(t.TempDir(), "missing.cl"), nil, zap.NewNop())
		err := k.Build("square", "")
		assert.ErrorIs(t, err, ErrSourceOpen)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("compile failure carries the log", func(t *testing.T) {
		sim, ctx, dev := setup(t, compute.SimBuild{Fail: true, Log: "error: use of undeclared identifier 'y'"})
		k := New(sim, ctx, dev, "square.cl", memReader{"square.cl": squareSource}, zap.NewNop())

		err := k.Build("square", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBuildFailed)
		assert.ErrorIs(t, err, compute.BuildProgramFailure)

		var buildErr *BuildError
		require.True(t, errors.As(err, &buildErr))
		assert.Equal(t, "error: use of undeclared identifier 'y'", buildErr.Log)
		assert.Contains(t, err.Error(), "undeclared identifier")
		assert.Equal(t, 0, sim.OpenObjects())
	})

	t.Run("unknown kernel name", func(t *testing.T) {
		sim, ctx, dev := setup(t, compute.SimBuild{Kernels: []string{"square"}})
		k := New(sim, ctx, dev, "square.cl", memReader{"square.cl": squareSource}, zap.NewNop())

		err := k.Build("cube", "")
		assert.ErrorIs(t, err, ErrBuildFailed)
		assert.ErrorIs(t, err, compute.InvalidKernelName)
		assert.Equal(t, 0, sim.OpenObjects())
	})
}
