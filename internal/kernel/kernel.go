// Package kernel compiles a compute kernel on a device context and launches
// it over a two-dimensional work grid.
package kernel

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/fxnlabs/oclarbiter/internal/metrics"
	"go.uber.org/zap"
)

// Dimension is the number of work dimensions of every launch.
const Dimension = 2

var (
	// ErrSourceOpen is returned when the kernel source cannot be read.
	ErrSourceOpen = errors.New("cannot open kernel source")
	// ErrBuildFailed is returned when the program or kernel cannot be built.
	ErrBuildFailed = errors.New("kernel build failed")
	// ErrWorkSize is returned for an invalid global/local work size pair.
	ErrWorkSize = errors.New("invalid work size")
	// ErrNotBuilt is returned when launching a kernel that was never built.
	ErrNotBuilt = errors.New("kernel not built")
)

// BuildError reports a failed compilation together with the compiler log.
type BuildError struct {
	Path string
	Log  string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: building %s: %v\nbuild log:\n%s", ErrBuildFailed, e.Path, e.Err, e.Log)
}

func (e *BuildError) Unwrap() []error {
	return []error{ErrBuildFailed, e.Err}
}

// Kernel is one kernel function built from a source file for a bound
// context and device.
type Kernel struct {
	api    compute.API
	ctx    compute.ContextID
	dev    compute.DeviceID
	path   string
	reader SourceReader
	logger *zap.Logger

	name    string
	options string

	program compute.ProgramID
	kernel  compute.KernelID
	built   bool

	global [Dimension]int
	local  [Dimension]int
	sized  bool
}

// New returns a kernel loader for the source at path. A nil reader reads
// from the filesystem.
func New(api compute.API, ctx compute.ContextID, dev compute.DeviceID, path string, reader SourceReader, logger *zap.Logger) *Kernel {
	if reader == nil {
		reader = FileReader{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kernel{
		api:    api,
		ctx:    ctx,
		dev:    dev,
		path:   path,
		reader: reader,
		logger: logger,
	}
}

// Build reads the source, compiles it with options and creates the kernel
// called name. The compiler log is logged whether or not the build succeeds.
func (k *Kernel) Build(name, options string) error {
	if err := k.Close(); err != nil {
		return err
	}
	k.name = name
	k.options = options

	k.logger.Info("loading program", zap.String("path", k.path))
	source, err := k.reader.ReadSource(k.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSourceOpen, k.path, err)
	}

	k.logger.Info("building program", zap.String("options", options))
	start := time.Now()
	program, buildLog, err := k.api.BuildProgram(k.ctx, k.dev, source, options)
	metrics.KernelBuildDuration.Observe(float64(time.Since(start).Milliseconds()))
	k.logger.Info("program build log", zap.String("path", k.path), zap.String("log", buildLog))
	if err != nil {
		metrics.KernelBuilds.WithLabelValues(metrics.ResultFailed).Inc()
		return &BuildError{Path: k.path, Log: buildLog, Err: err}
	}

	kern, err := k.api.CreateKernel(program, name)
	if err != nil {
		metrics.KernelBuilds.WithLabelValues(metrics.ResultFailed).Inc()
		if rerr := k.api.ReleaseProgram(program); rerr != nil {
			k.logger.Warn("failed to release program", zap.Error(rerr))
		}
		return fmt.Errorf("%w: creating kernel %q: %w", ErrBuildFailed, name, err)
	}
	metrics.KernelBuilds.WithLabelValues(metrics.ResultSuccess).Inc()

	k.program = program
	k.kernel = kern
	k.built = true
	k.logger.Info("kernel built", zap.String("name", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// ComputeWorkSize sets the global and local work sizes. In each dimension the
// global size must be at least the local size and a multiple of it.
func (k *Kernel) ComputeWorkSize(globalX, globalY, localX, localY int) error {
	global := [Dimension]int{globalX, globalY}
	local := [Dimension]int{localX, localY}
	for i := range Dimension {
		if err := checkWorkSize(i, global[i], local[i]); err != nil {
			return err
		}
	}
	k.global = global
	k.local = local
	k.sized = true
	return nil
}

func checkWorkSize(dim, global, local int) error {
	switch {
	case local <= 0:
		return fmt.Errorf("%w: dimension %d: local size %d must be positive", ErrWorkSize, dim, local)
	case global < local:
		return fmt.Errorf("%w: dimension %d: global size %d is smaller than local size %d", ErrWorkSize, dim, global, local)
	case global%local != 0:
		return fmt.Errorf("%w: dimension %d: global size %d is not a multiple of local size %d", ErrWorkSize, dim, global, local)
	}
	return nil
}

// GlobalWorkSize returns the configured global work size.
func (k *Kernel) GlobalWorkSize() []int { return slices.Clone(k.global[:]) }

// LocalWorkSize returns the configured local work size.
func (k *Kernel) LocalWorkSize() []int { return slices.Clone(k.local[:]) }

func (k *Kernel) Name() string { return k.name }

func (k *Kernel) Options() string { return k.options }

// Launch enqueues the kernel on queue with the configured work sizes.
func (k *Kernel) Launch(queue compute.QueueID) error {
	if !k.built {
		return ErrNotBuilt
	}
	if !k.sized {
		return fmt.Errorf("%w: work size not configured", ErrWorkSize)
	}
	if err := k.api.EnqueueKernel(queue, k.kernel, k.global[:], k.local[:]); err != nil {
		return fmt.Errorf("enqueueing kernel %q: %w", k.name, err)
	}
	metrics.KernelLaunches.Inc()
	return nil
}

// Close releases the kernel and its program.
func (k *Kernel) Close() error {
	if !k.built {
		return nil
	}
	k.built = false
	return errors.Join(
		k.api.ReleaseKernel(k.kernel),
		k.api.ReleaseProgram(k.program),
	)
}

// RoundUp returns the smallest multiple of base that is at least n, and at
// least base. A non-positive base leaves n unchanged.
func RoundUp(n, base int) int {
	if base <= 0 {
		return n
	}
	if n < base {
		return base
	}
	if n%base == 0 {
		return n
	}
	return (n/base + 1) * base
}
