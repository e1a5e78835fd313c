package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDeviceTypeString(t *testing.T) {
	assert.Equal(t, "CL_DEVICE_TYPE_CPU", TypeCPU.String())
	assert.Equal(t, "CL_DEVICE_TYPE_GPU", TypeGPU.String())
	assert.Equal(t, "CL_DEVICE_TYPE_ACCELERATOR", TypeAccelerator.String())
	assert.Equal(t, "CL_DEVICE_TYPE_DEFAULT", TypeDefault.String())
	assert.Equal(t, "DeviceType(64)", DeviceType(64).String())

	assert.True(t, TypeGPU.Known())
	assert.False(t, DeviceType(0).Known())
	assert.False(t, DeviceType(64).Known())
	assert.True(t, (TypeGPU | TypeDefault).Known())
	assert.Equal(t, "CL_DEVICE_TYPE_GPU", (TypeGPU | TypeDefault).String())
}

func TestDeviceTypeYAML(t *testing.T) {
	var out struct {
		A DeviceType `yaml:"a"`
		B DeviceType `yaml:"b"`
		C DeviceType `yaml:"c"`
	}
	err := yaml.Unmarshal([]byte("a: GPU\nb: cpu\nc: 8\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, TypeGPU, out.A)
	assert.Equal(t, TypeCPU, out.B)
	assert.Equal(t, TypeAccelerator, out.C)

	err = yaml.Unmarshal([]byte("a: quantum\n"), &out)
	assert.Error(t, err)
}

func TestQueuePropertiesString(t *testing.T) {
	assert.Equal(t, "", QueueProperties(0).String())
	assert.Equal(t, "CL_QUEUE_PROFILING_ENABLE, ", QueueProfilingEnable.String())
	assert.Equal(t,
		"CL_QUEUE_OUT_OF_ORDER_EXEC_MODE_ENABLE, CL_QUEUE_PROFILING_ENABLE, ",
		(QueueOutOfOrderExecModeEnable | QueueProfilingEnable).String())
}

func TestFPConfigString(t *testing.T) {
	assert.Equal(t, "", FPConfig(0).String())
	assert.Equal(t, "CL_FP_DENORM, CL_FP_INF_NAN, CL_FP_ROUND_TO_NEAREST, ",
		(FPDenorm | FPInfNan | FPRoundToNearest).String())
	assert.Equal(t, "CL_FP_ROUND_TO_ZERO, CL_FP_ROUND_TO_INF, CL_FP_FMA, ",
		(FPRoundToZero | FPRoundToInf | FPFMA).String())
}

func TestMemoryTypeStrings(t *testing.T) {
	assert.Equal(t, "CL_NONE", CacheNone.String())
	assert.Equal(t, "CL_READ_WRITE_CACHE", CacheReadWrite.String())
	assert.Equal(t, "CL_LOCAL", LocalMemLocal.String())
	assert.Equal(t, "CL_GLOBAL", LocalMemGlobal.String())
	assert.Equal(t, "LocalMemType(9)", LocalMemType(9).String())
}
