package compute

import "errors"

// Opaque handles handed out by an API implementation.
type (
	PlatformID uintptr
	DeviceID   uintptr
	ContextID  uintptr
	QueueID    uintptr
	ProgramID  uintptr
	KernelID   uintptr
)

// ErrUnavailable is returned by NewAPI when no compute binding is compiled in.
var ErrUnavailable = errors.New("compute API not available")

// NvidiaAttributeQuery is the device extension that enables NvidiaInfo.
const NvidiaAttributeQuery = "cl_nv_device_attribute_query"

// PlatformInfo describes one vendor implementation of the compute API.
type PlatformInfo struct {
	Vendor     string `yaml:"vendor"`
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Profile    string `yaml:"profile"`
	Extensions string `yaml:"extensions"`
}

// DeviceInfo is the capability snapshot of one device.
type DeviceInfo struct {
	Name          string     `yaml:"name"`
	Vendor        string     `yaml:"vendor"`
	Version       string     `yaml:"version"`
	DriverVersion string     `yaml:"driverVersion"`
	Profile       string     `yaml:"profile"`
	Extensions    string     `yaml:"extensions"`
	Type          DeviceType `yaml:"type"`
	VendorID      uint32     `yaml:"vendorId"`

	MaxComputeUnits   uint32 `yaml:"maxComputeUnits"`
	MaxClockFrequency uint32 `yaml:"maxClockFrequency"` // MHz
	AddressBits       uint32 `yaml:"addressBits"`

	Available              bool `yaml:"available"`
	CompilerAvailable      bool `yaml:"compilerAvailable"`
	EndianLittle           bool `yaml:"endianLittle"`
	ErrorCorrectionSupport bool `yaml:"errorCorrectionSupport"`
	ImageSupport           bool `yaml:"imageSupport"`

	GlobalMemSize          uint64       `yaml:"globalMemSize"`
	GlobalMemCacheSize     uint64       `yaml:"globalMemCacheSize"`
	GlobalMemCacheType     MemCacheType `yaml:"globalMemCacheType"`
	GlobalMemCachelineSize uint32       `yaml:"globalMemCachelineSize"`
	LocalMemSize           uint64       `yaml:"localMemSize"`
	LocalMemType           LocalMemType `yaml:"localMemType"`
	MaxConstantBufferSize  uint64       `yaml:"maxConstantBufferSize"`
	MaxMemAllocSize        uint64       `yaml:"maxMemAllocSize"`
	MaxParameterSize       uint64       `yaml:"maxParameterSize"`

	MaxWorkGroupSize      uint64   `yaml:"maxWorkGroupSize"`
	MaxWorkItemDimensions uint32   `yaml:"maxWorkItemDimensions"`
	MaxWorkItemSizes      []uint64 `yaml:"maxWorkItemSizes"`

	QueueProperties          QueueProperties `yaml:"queueProperties"`
	SingleFPConfig           FPConfig        `yaml:"singleFpConfig"`
	ProfilingTimerResolution uint64          `yaml:"profilingTimerResolution"` // ns
}

// NvidiaInfo holds the fields exposed by the NVIDIA attribute query extension.
type NvidiaInfo struct {
	ComputeCapabilityMajor uint32 `yaml:"computeCapabilityMajor"`
	ComputeCapabilityMinor uint32 `yaml:"computeCapabilityMinor"`
	RegistersPerBlock      uint32 `yaml:"registersPerBlock"`
	WarpSize               uint32 `yaml:"warpSize"`
	GPUOverlap             bool   `yaml:"gpuOverlap"`
	KernelExecTimeout      bool   `yaml:"kernelExecTimeout"`
	IntegratedMemory       bool   `yaml:"integratedMemory"`
}

// API is the compute binding the arbitration core calls through.
//
// Implementations report failures as Status values (possibly wrapped), so
// callers can match specific conditions such as DeviceNotFound with errors.Is.
// Handles are only meaningful to the implementation that returned them.
type API interface {
	// Platforms lists every installed platform. No platform is not an error.
	Platforms() ([]PlatformID, error)
	PlatformInfo(id PlatformID) (PlatformInfo, error)

	// Devices lists the devices of class t. An empty class returns DeviceNotFound.
	Devices(id PlatformID, t DeviceType) ([]DeviceID, error)
	DeviceInfo(id DeviceID) (DeviceInfo, error)
	// NvidiaInfo must only be called on devices advertising NvidiaAttributeQuery.
	NvidiaInfo(id DeviceID) (NvidiaInfo, error)

	CreateContext(dev DeviceID) (ContextID, error)
	ReleaseContext(ctx ContextID) error

	CreateQueue(ctx ContextID, dev DeviceID) (QueueID, error)
	ReleaseQueue(q QueueID) error
	Finish(q QueueID) error

	// BuildProgram compiles source for dev. The build log is returned even
	// when compilation fails; on failure no program is kept alive.
	BuildProgram(ctx ContextID, dev DeviceID, source []byte, options string) (ProgramID, string, error)
	ReleaseProgram(p ProgramID) error

	CreateKernel(p ProgramID, name string) (KernelID, error)
	ReleaseKernel(k KernelID) error

	// EnqueueKernel queues an N-dimensional launch; len(global) == len(local).
	EnqueueKernel(q QueueID, k KernelID, global, local []int) error
}
