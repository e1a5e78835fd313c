package compute

// Status is a compute API return code. Non-success values are errors and can
// be matched with errors.Is.
type Status int32

const (
	Success                      Status = 0
	DeviceNotFound               Status = -1
	DeviceNotAvailable           Status = -2
	CompilerNotAvailable         Status = -3
	MemObjectAllocationFailure   Status = -4
	OutOfResources               Status = -5
	OutOfHostMemory              Status = -6
	ProfilingInfoNotAvailable    Status = -7
	MemCopyOverlap               Status = -8
	ImageFormatMismatch          Status = -9
	ImageFormatNotSupported      Status = -10
	BuildProgramFailure          Status = -11
	MapFailure                   Status = -12
	InvalidValue                 Status = -30
	InvalidDeviceType            Status = -31
	InvalidPlatform              Status = -32
	InvalidDevice                Status = -33
	InvalidContext               Status = -34
	InvalidQueueProperties       Status = -35
	InvalidCommandQueue          Status = -36
	InvalidHostPtr               Status = -37
	InvalidMemObject             Status = -38
	InvalidImageFormatDescriptor Status = -39
	InvalidImageSize             Status = -40
	InvalidSampler               Status = -41
	InvalidBinary                Status = -42
	InvalidBuildOptions          Status = -43
	InvalidProgram               Status = -44
	InvalidProgramExecutable     Status = -45
	InvalidKernelName            Status = -46
	InvalidKernelDefinition      Status = -47
	InvalidKernel                Status = -48
	InvalidArgIndex              Status = -49
	InvalidArgValue              Status = -50
	InvalidArgSize               Status = -51
	InvalidKernelArgs            Status = -52
	InvalidWorkDimension         Status = -53
	InvalidWorkGroupSize         Status = -54
	InvalidWorkItemSize          Status = -55
	InvalidGlobalOffset          Status = -56
	InvalidEventWaitList         Status = -57
	InvalidEvent                 Status = -58
	InvalidOperation             Status = -59
	InvalidGLObject              Status = -60
	InvalidBufferSize            Status = -61
	InvalidMipLevel              Status = -62
	InvalidGlobalWorkSize        Status = -63
	PlatformNotFoundKHR          Status = -1001
)

// statusNames is indexed by -status.
var statusNames = [...]string{
	"CL_SUCCESS",
	"CL_DEVICE_NOT_FOUND",
	"CL_DEVICE_NOT_AVAILABLE",
	"CL_COMPILER_NOT_AVAILABLE",
	"CL_MEM_OBJECT_ALLOCATION_FAILURE",
	"CL_OUT_OF_RESOURCES",
	"CL_OUT_OF_HOST_MEMORY",
	"CL_PROFILING_INFO_NOT_AVAILABLE",
	"CL_MEM_COPY_OVERLAP",
	"CL_IMAGE_FORMAT_MISMATCH",
	"CL_IMAGE_FORMAT_NOT_SUPPORTED",
	"CL_BUILD_PROGRAM_FAILURE",
	"CL_MAP_FAILURE",
	"", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "",
	"CL_INVALID_VALUE",
	"CL_INVALID_DEVICE_TYPE",
	"CL_INVALID_PLATFORM",
	"CL_INVALID_DEVICE",
	"CL_INVALID_CONTEXT",
	"CL_INVALID_QUEUE_PROPERTIES",
	"CL_INVALID_COMMAND_QUEUE",
	"CL_INVALID_HOST_PTR",
	"CL_INVALID_MEM_OBJECT",
	"CL_INVALID_IMAGE_FORMAT_DESCRIPTOR",
	"CL_INVALID_IMAGE_SIZE",
	"CL_INVALID_SAMPLER",
	"CL_INVALID_BINARY",
	"CL_INVALID_BUILD_OPTIONS",
	"CL_INVALID_PROGRAM",
	"CL_INVALID_PROGRAM_EXECUTABLE",
	"CL_INVALID_KERNEL_NAME",
	"CL_INVALID_KERNEL_DEFINITION",
	"CL_INVALID_KERNEL",
	"CL_INVALID_ARG_INDEX",
	"CL_INVALID_ARG_VALUE",
	"CL_INVALID_ARG_SIZE",
	"CL_INVALID_KERNEL_ARGS",
	"CL_INVALID_WORK_DIMENSION",
	"CL_INVALID_WORK_GROUP_SIZE",
	"CL_INVALID_WORK_ITEM_SIZE",
	"CL_INVALID_GLOBAL_OFFSET",
	"CL_INVALID_EVENT_WAIT_LIST",
	"CL_INVALID_EVENT",
	"CL_INVALID_OPERATION",
	"CL_INVALID_GL_OBJECT",
	"CL_INVALID_BUFFER_SIZE",
	"CL_INVALID_MIP_LEVEL",
	"CL_INVALID_GLOBAL_WORK_SIZE",
}

// String returns the symbolic name of s, or "Unspecified Error".
func (s Status) String() string {
	if s == PlatformNotFoundKHR {
		return "CL_PLATFORM_NOT_FOUND_KHR"
	}
	index := -int(s)
	if index >= 0 && index < len(statusNames) && statusNames[index] != "" {
		return statusNames[index]
	}
	return "Unspecified Error"
}

func (s Status) Error() string {
	return s.String()
}
