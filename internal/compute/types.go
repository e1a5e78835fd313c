package compute

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeviceType is the device class bitfield.
type DeviceType uint64

const (
	TypeDefault     DeviceType = 1 << 0
	TypeCPU         DeviceType = 1 << 1
	TypeGPU         DeviceType = 1 << 2
	TypeAccelerator DeviceType = 1 << 3
)

// Known reports whether t carries at least one recognised device class bit.
func (t DeviceType) Known() bool {
	return t&(TypeDefault|TypeCPU|TypeGPU|TypeAccelerator) != 0
}

// String names the most specific class bit set in t.
func (t DeviceType) String() string {
	switch {
	case t&TypeCPU != 0:
		return "CL_DEVICE_TYPE_CPU"
	case t&TypeGPU != 0:
		return "CL_DEVICE_TYPE_GPU"
	case t&TypeAccelerator != 0:
		return "CL_DEVICE_TYPE_ACCELERATOR"
	case t&TypeDefault != 0:
		return "CL_DEVICE_TYPE_DEFAULT"
	}
	return fmt.Sprintf("DeviceType(%d)", uint64(t))
}

// UnmarshalYAML accepts "cpu", "gpu", "accelerator", "default" or a raw number.
func (t *DeviceType) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(value.Value) {
	case "cpu":
		*t = TypeCPU
	case "gpu":
		*t = TypeGPU
	case "accelerator":
		*t = TypeAccelerator
	case "default":
		*t = TypeDefault
	default:
		var raw uint64
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("invalid device type %q", value.Value)
		}
		*t = DeviceType(raw)
	}
	return nil
}

// QueueProperties is the command queue capability bitfield.
type QueueProperties uint64

const (
	QueueOutOfOrderExecModeEnable QueueProperties = 1 << 0
	QueueProfilingEnable          QueueProperties = 1 << 1
)

// String lists the set flags, each followed by ", ".
func (q QueueProperties) String() string {
	var b strings.Builder
	if q&QueueOutOfOrderExecModeEnable != 0 {
		b.WriteString("CL_QUEUE_OUT_OF_ORDER_EXEC_MODE_ENABLE, ")
	}
	if q&QueueProfilingEnable != 0 {
		b.WriteString("CL_QUEUE_PROFILING_ENABLE, ")
	}
	return b.String()
}

// FPConfig is the floating point capability bitfield.
type FPConfig uint64

const (
	FPDenorm         FPConfig = 1 << 0
	FPInfNan         FPConfig = 1 << 1
	FPRoundToNearest FPConfig = 1 << 2
	FPRoundToZero    FPConfig = 1 << 3
	FPRoundToInf     FPConfig = 1 << 4
	FPFMA            FPConfig = 1 << 5
)

var fpConfigNames = []struct {
	flag FPConfig
	name string
}{
	{FPDenorm, "CL_FP_DENORM"},
	{FPInfNan, "CL_FP_INF_NAN"},
	{FPRoundToNearest, "CL_FP_ROUND_TO_NEAREST"},
	{FPRoundToZero, "CL_FP_ROUND_TO_ZERO"},
	{FPRoundToInf, "CL_FP_ROUND_TO_INF"},
	{FPFMA, "CL_FP_FMA"},
}

// String lists the set flags, each followed by ", ".
func (f FPConfig) String() string {
	var b strings.Builder
	for _, n := range fpConfigNames {
		if f&n.flag != 0 {
			b.WriteString(n.name)
			b.WriteString(", ")
		}
	}
	return b.String()
}

// MemCacheType is the global memory cache kind.
type MemCacheType uint32

const (
	CacheNone      MemCacheType = 0
	CacheReadOnly  MemCacheType = 1
	CacheReadWrite MemCacheType = 2
)

func (c MemCacheType) String() string {
	switch c {
	case CacheNone:
		return "CL_NONE"
	case CacheReadOnly:
		return "CL_READ_ONLY_CACHE"
	case CacheReadWrite:
		return "CL_READ_WRITE_CACHE"
	}
	return fmt.Sprintf("MemCacheType(%d)", uint32(c))
}

// LocalMemType is the local memory kind.
type LocalMemType uint32

const (
	LocalMemLocal  LocalMemType = 1
	LocalMemGlobal LocalMemType = 2
)

func (l LocalMemType) String() string {
	switch l {
	case LocalMemLocal:
		return "CL_LOCAL"
	case LocalMemGlobal:
		return "CL_GLOBAL"
	}
	return fmt.Sprintf("LocalMemType(%d)", uint32(l))
}
