package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/oclarbiter/fixtures"
	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"github.com/fxnlabs/oclarbiter/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	dir      string
	lockDir  string
	topology string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:      dir,
		lockDir:  filepath.Join(dir, "locks"),
		topology: filepath.Join(dir, "simulation.yaml"),
	}
	require.NoError(t, os.Mkdir(env.lockDir, 0o755))
	require.NoError(t, os.WriteFile(env.topology, fixtures.SimulationTopology, 0o644))
	return env
}

// run executes the CLI against the simulated topology and returns its output.
func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var buf bytes.Buffer
	app.Writer = &buf
	argv := append([]string{"oclarbiter", "--verbosity", "error", "--simulate", e.topology, "--lock-dir", e.lockDir}, args...)
	err := app.Run(argv)
	return buf.String(), err
}

func (e testEnv) gtx580Lock() string {
	return lockfile.Key{PlatformOffset: 0, DeviceIndex: 0, PlatformName: "NVIDIA CUDA", DeviceName: "GeForce GTX 580"}.Path(e.lockDir)
}

func TestListCommand(t *testing.T) {
	env := newTestEnv(t)

	t.Run("first platform by default", func(t *testing.T) {
		out, err := env.run(t, "list")
		require.NoError(t, err)
		assert.Contains(t, out, "Platform intel")
		assert.Contains(t, out, "Platform nvidia")
		assert.Contains(t, out, "Preferred platform:     Intel(R) OpenCL (intel)")
	})

	t.Run("preferred platform", func(t *testing.T) {
		out, err := env.run(t, "--platform", "nvidia", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "Preferred best device:  GeForce GTX 580 (id = 0)")
	})

	t.Run("no lock is left behind", func(t *testing.T) {
		_, err := env.run(t, "list")
		require.NoError(t, err)
		assert.False(t, lockfile.New(env.lockDir, zap.NewNop()).Probe(env.gtx580Lock()))
	})

	t.Run("missing topology", func(t *testing.T) {
		app := newApp()
		app.Writer = &bytes.Buffer{}
		err := app.Run([]string{"oclarbiter", "--verbosity", "error", "--simulate", filepath.Join(env.dir, "missing.yaml"), "list"})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLockPathCommand(t *testing.T) {
	app := newApp()
	var buf bytes.Buffer
	app.Writer = &buf
	err := app.Run([]string{"oclarbiter", "--verbosity", "error", "lock-path", "0", "1", "NVIDIA CUDA", "GeForce GTX 580"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/gpu0_1_NVIDIA_CUDA_GeForce_GTX_580.lck\n", buf.String())

	t.Run("wrong argument count", func(t *testing.T) {
		err := newApp().Run([]string{"oclarbiter", "--verbosity", "error", "lock-path", "0"})
		assert.Error(t, err)
	})

	t.Run("invalid offset", func(t *testing.T) {
		err := newApp().Run([]string{"oclarbiter", "--verbosity", "error", "lock-path", "x", "1", "a", "b"})
		assert.ErrorContains(t, err, "invalid platform offset")
	})
}

func TestRunCommand(t *testing.T) {
	env := newTestEnv(t)
	kernelPath := filepath.Join(env.dir, "kernel.cl")
	require.NoError(t, os.WriteFile(kernelPath, fixtures.SquareKernel, 0o644))

	t.Run("builds and launches on the best device", func(t *testing.T) {
		out, err := env.run(t, "--platform", "nvidia", "run",
			"--kernel", kernelPath, "--name", "square", "--global", "100,100", "--local", "10,10")
		require.NoError(t, err)
		assert.Contains(t, out, `Kernel "square" ran on GeForce GTX 580 (NVIDIA CUDA): global [100 100], local [10 10]`)
		assert.False(t, lockfile.New(env.lockDir, zap.NewNop()).Probe(env.gtx580Lock()))
	})

	t.Run("round up", func(t *testing.T) {
		out, err := env.run(t, "--platform", "nvidia", "run",
			"--kernel", kernelPath, "--name", "square", "--global", "100,100", "--local", "16,16", "--round-up")
		require.NoError(t, err)
		assert.Contains(t, out, "global [112 112], local [16 16]")
	})

	t.Run("invalid work size", func(t *testing.T) {
		_, err := env.run(t, "--platform", "nvidia", "run",
			"--kernel", kernelPath, "--name", "square", "--global", "100,100", "--local", "7,10")
		assert.Error(t, err)
	})

	t.Run("unknown kernel", func(t *testing.T) {
		_, err := env.run(t, "--platform", "nvidia", "run", "--kernel", kernelPath, "--name", "cube")
		assert.Error(t, err)
	})

	t.Run("unknown platform prints what was found", func(t *testing.T) {
		out, err := env.run(t, "--platform", "apple", "run", "--kernel", kernelPath, "--name", "square")
		assert.ErrorIs(t, err, platform.ErrPlatformNotFound)
		assert.Contains(t, out, "Platform nvidia")
	})
}

func TestHoldCommand(t *testing.T) {
	env := newTestEnv(t)

	t.Run("holds the best device", func(t *testing.T) {
		out, err := env.run(t, "--platform", "nvidia", "hold", "--duration", "10ms")
		require.NoError(t, err)
		assert.Contains(t, out, "Holding GeForce GTX 580 on NVIDIA CUDA (lock file "+env.gtx580Lock()+")")
		assert.False(t, lockfile.New(env.lockDir, zap.NewNop()).Probe(env.gtx580Lock()))
	})

	t.Run("skips a device held by another process", func(t *testing.T) {
		other := lockfile.New(env.lockDir, zap.NewNop())
		h, err := other.TryAcquire(env.gtx580Lock())
		require.NoError(t, err)
		defer h.Release()

		out, err := env.run(t, "--platform", "nvidia", "hold", "--duration", "10ms")
		require.NoError(t, err)
		assert.Contains(t, out, "Holding GeForce GT 520 on NVIDIA CUDA")
	})

	t.Run("without lock files", func(t *testing.T) {
		out, err := env.run(t, "--no-lock", "--platform", "nvidia", "hold", "--duration", "10ms")
		require.NoError(t, err)
		assert.Contains(t, out, "Holding GeForce GTX 580 on NVIDIA CUDA\n")
	})
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "arbiter")
	args := []string{"oclarbiter", "--verbosity", "error", "init", dir}

	require.NoError(t, newApp().Run(args))
	for _, name := range []string{"config.yaml", "simulation.yaml", "kernel.cl"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	assert.ErrorContains(t, newApp().Run(args), "already exists")
	require.NoError(t, newApp().Run([]string{"oclarbiter", "--verbosity", "error", "init", "--force", dir}))

	// The generated config drives the other commands.
	cfgPath := filepath.Join(dir, "config.yaml")
	app := newApp()
	var buf bytes.Buffer
	app.Writer = &buf
	err := app.Run([]string{"oclarbiter", "--config", cfgPath, "--verbosity", "error",
		"--simulate", filepath.Join(dir, "simulation.yaml"), "--lock-dir", t.TempDir(), "list"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Platform nvidia")
}
