package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lock attempt results.
const (
	ResultAcquired = "acquired"
	ResultBusy     = "busy"
	ResultError    = "error"
)

// Context attempt results.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

var (
	// Discovery Metrics
	DevicesDiscovered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oclarbiter_devices_discovered",
		Help: "Number of compute devices discovered per platform and device class",
	}, []string{"platform", "class"})

	DevicesInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oclarbiter_devices_in_use",
		Help: "Number of devices claimed by another process at discovery time",
	}, []string{"platform"})

	PlatformsDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oclarbiter_platforms_discovered",
		Help: "Number of classified compute platforms",
	})

	// Lock Metrics
	LockAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oclarbiter_lock_attempts_total",
		Help: "Total number of advisory lock acquisition attempts by result",
	}, []string{"result"})

	DevicesLocked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oclarbiter_devices_locked",
		Help: "Number of devices currently reserved by this process",
	})

	// Context Metrics
	ContextAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oclarbiter_context_attempts_total",
		Help: "Total number of execution context creation attempts by result",
	}, []string{"result"})

	// Kernel Metrics
	KernelBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oclarbiter_kernel_build_duration_ms",
		Help:    "Duration of kernel program compilation in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~32s
	})

	KernelBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oclarbiter_kernel_builds_total",
		Help: "Total number of kernel builds by result",
	}, []string{"result"})

	KernelLaunches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oclarbiter_kernel_launches_total",
		Help: "Total number of kernel launches enqueued",
	})
)
