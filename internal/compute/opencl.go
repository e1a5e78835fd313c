//go:build opencl

package compute

/*
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>

// cl_nv_device_attribute_query
#ifndef CL_DEVICE_COMPUTE_CAPABILITY_MAJOR_NV
#define CL_DEVICE_COMPUTE_CAPABILITY_MAJOR_NV 0x4000
#define CL_DEVICE_COMPUTE_CAPABILITY_MINOR_NV 0x4001
#define CL_DEVICE_REGISTERS_PER_BLOCK_NV      0x4002
#define CL_DEVICE_WARP_SIZE_NV                0x4003
#define CL_DEVICE_GPU_OVERLAP_NV              0x4004
#define CL_DEVICE_KERNEL_EXEC_TIMEOUT_NV      0x4005
#define CL_DEVICE_INTEGRATED_MEMORY_NV        0x4006
#endif
*/
import "C"
import (
	"bytes"
	"fmt"
	"unsafe"
)

// OpenCL implements API on top of the system OpenCL ICD loader.
type OpenCL struct{}

func clPlatform(id PlatformID) C.cl_platform_id { return C.cl_platform_id(unsafe.Pointer(id)) }
func clDevice(id DeviceID) C.cl_device_id       { return C.cl_device_id(unsafe.Pointer(id)) }
func clContext(id ContextID) C.cl_context       { return C.cl_context(unsafe.Pointer(id)) }
func clQueue(id QueueID) C.cl_command_queue     { return C.cl_command_queue(unsafe.Pointer(id)) }
func clProgram(id ProgramID) C.cl_program       { return C.cl_program(unsafe.Pointer(id)) }
func clKernel(id KernelID) C.cl_kernel          { return C.cl_kernel(unsafe.Pointer(id)) }

func check(op string, st C.cl_int) error {
	if st == C.CL_SUCCESS {
		return nil
	}
	return fmt.Errorf("%s: %w", op, Status(st))
}

func trimNul(buf []byte) string {
	return string(bytes.TrimRight(buf, "\x00"))
}

func (o *OpenCL) Platforms() ([]PlatformID, error) {
	var n C.cl_uint
	st := C.clGetPlatformIDs(0, nil, &n)
	if Status(st) == PlatformNotFoundKHR || n == 0 {
		return nil, nil
	}
	if err := check("clGetPlatformIDs", st); err != nil {
		return nil, err
	}
	ids := make([]C.cl_platform_id, n)
	if err := check("clGetPlatformIDs", C.clGetPlatformIDs(n, &ids[0], nil)); err != nil {
		return nil, err
	}
	out := make([]PlatformID, n)
	for i, id := range ids {
		out[i] = PlatformID(unsafe.Pointer(id))
	}
	return out, nil
}

func platformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	if err := check("clGetPlatformInfo", C.clGetPlatformInfo(id, param, 0, nil, &size)); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := check("clGetPlatformInfo", C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return "", err
	}
	return trimNul(buf), nil
}

func (o *OpenCL) PlatformInfo(id PlatformID) (PlatformInfo, error) {
	p := clPlatform(id)
	var info PlatformInfo
	fields := []struct {
		param C.cl_platform_info
		dst   *string
	}{
		{C.CL_PLATFORM_PROFILE, &info.Profile},
		{C.CL_PLATFORM_VERSION, &info.Version},
		{C.CL_PLATFORM_NAME, &info.Name},
		{C.CL_PLATFORM_VENDOR, &info.Vendor},
		{C.CL_PLATFORM_EXTENSIONS, &info.Extensions},
	}
	for _, f := range fields {
		s, err := platformString(p, f.param)
		if err != nil {
			return PlatformInfo{}, err
		}
		*f.dst = s
	}
	return info, nil
}

func (o *OpenCL) Devices(id PlatformID, t DeviceType) ([]DeviceID, error) {
	var n C.cl_uint
	st := C.clGetDeviceIDs(clPlatform(id), C.cl_device_type(t), 0, nil, &n)
	if err := check("clGetDeviceIDs", st); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, DeviceNotFound
	}
	ids := make([]C.cl_device_id, n)
	if err := check("clGetDeviceIDs", C.clGetDeviceIDs(clPlatform(id), C.cl_device_type(t), n, &ids[0], nil)); err != nil {
		return nil, err
	}
	out := make([]DeviceID, n)
	for i, d := range ids {
		out[i] = DeviceID(unsafe.Pointer(d))
	}
	return out, nil
}

// deviceQuery accumulates the first error over a series of clGetDeviceInfo calls.
type deviceQuery struct {
	id  C.cl_device_id
	err error
}

func (q *deviceQuery) raw(param C.cl_device_info, size C.size_t, ptr unsafe.Pointer) {
	if q.err != nil {
		return
	}
	q.err = check(fmt.Sprintf("clGetDeviceInfo(%#x)", int(param)), C.clGetDeviceInfo(q.id, param, size, ptr, nil))
}

func (q *deviceQuery) uint(param C.cl_device_info) uint32 {
	var v C.cl_uint
	q.raw(param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	return uint32(v)
}

func (q *deviceQuery) ulong(param C.cl_device_info) uint64 {
	var v C.cl_ulong
	q.raw(param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	return uint64(v)
}

func (q *deviceQuery) size(param C.cl_device_info) uint64 {
	var v C.size_t
	q.raw(param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	return uint64(v)
}

func (q *deviceQuery) bool(param C.cl_device_info) bool {
	var v C.cl_bool
	q.raw(param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	return v == C.CL_TRUE
}

func (q *deviceQuery) string(param C.cl_device_info) string {
	if q.err != nil {
		return ""
	}
	var n C.size_t
	q.err = check("clGetDeviceInfo", C.clGetDeviceInfo(q.id, param, 0, nil, &n))
	if q.err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	q.raw(param, n, unsafe.Pointer(&buf[0]))
	return trimNul(buf)
}

func (o *OpenCL) DeviceInfo(id DeviceID) (DeviceInfo, error) {
	q := &deviceQuery{id: clDevice(id)}
	info := DeviceInfo{
		Name:          q.string(C.CL_DEVICE_NAME),
		Vendor:        q.string(C.CL_DEVICE_VENDOR),
		Version:       q.string(C.CL_DEVICE_VERSION),
		DriverVersion: q.string(C.CL_DRIVER_VERSION),
		Profile:       q.string(C.CL_DEVICE_PROFILE),
		Extensions:    q.string(C.CL_DEVICE_EXTENSIONS),
		Type:          DeviceType(q.ulong(C.CL_DEVICE_TYPE)),
		VendorID:      q.uint(C.CL_DEVICE_VENDOR_ID),

		MaxComputeUnits:   q.uint(C.CL_DEVICE_MAX_COMPUTE_UNITS),
		MaxClockFrequency: q.uint(C.CL_DEVICE_MAX_CLOCK_FREQUENCY),
		AddressBits:       q.uint(C.CL_DEVICE_ADDRESS_BITS),

		Available:              q.bool(C.CL_DEVICE_AVAILABLE),
		CompilerAvailable:      q.bool(C.CL_DEVICE_COMPILER_AVAILABLE),
		EndianLittle:           q.bool(C.CL_DEVICE_ENDIAN_LITTLE),
		ErrorCorrectionSupport: q.bool(C.CL_DEVICE_ERROR_CORRECTION_SUPPORT),
		ImageSupport:           q.bool(C.CL_DEVICE_IMAGE_SUPPORT),

		GlobalMemSize:          q.ulong(C.CL_DEVICE_GLOBAL_MEM_SIZE),
		GlobalMemCacheSize:     q.ulong(C.CL_DEVICE_GLOBAL_MEM_CACHE_SIZE),
		GlobalMemCacheType:     MemCacheType(q.uint(C.CL_DEVICE_GLOBAL_MEM_CACHE_TYPE)),
		GlobalMemCachelineSize: q.uint(C.CL_DEVICE_GLOBAL_MEM_CACHELINE_SIZE),
		LocalMemSize:           q.ulong(C.CL_DEVICE_LOCAL_MEM_SIZE),
		LocalMemType:           LocalMemType(q.uint(C.CL_DEVICE_LOCAL_MEM_TYPE)),
		MaxConstantBufferSize:  q.ulong(C.CL_DEVICE_MAX_CONSTANT_BUFFER_SIZE),
		MaxMemAllocSize:        q.ulong(C.CL_DEVICE_MAX_MEM_ALLOC_SIZE),
		MaxParameterSize:       q.size(C.CL_DEVICE_MAX_PARAMETER_SIZE),

		MaxWorkGroupSize:      q.size(C.CL_DEVICE_MAX_WORK_GROUP_SIZE),
		MaxWorkItemDimensions: q.uint(C.CL_DEVICE_MAX_WORK_ITEM_DIMENSIONS),

		QueueProperties:          QueueProperties(q.ulong(C.CL_DEVICE_QUEUE_PROPERTIES)),
		SingleFPConfig:           FPConfig(q.ulong(C.CL_DEVICE_SINGLE_FP_CONFIG)),
		ProfilingTimerResolution: q.size(C.CL_DEVICE_PROFILING_TIMER_RESOLUTION),
	}
	if dims := info.MaxWorkItemDimensions; q.err == nil && dims > 0 {
		sizes := make([]C.size_t, dims)
		q.raw(C.CL_DEVICE_MAX_WORK_ITEM_SIZES, C.size_t(len(sizes))*C.size_t(unsafe.Sizeof(sizes[0])), unsafe.Pointer(&sizes[0]))
		for _, s := range sizes {
			info.MaxWorkItemSizes = append(info.MaxWorkItemSizes, uint64(s))
		}
	}
	if q.err != nil {
		return DeviceInfo{}, q.err
	}
	return info, nil
}

func (o *OpenCL) NvidiaInfo(id DeviceID) (NvidiaInfo, error) {
	q := &deviceQuery{id: clDevice(id)}
	info := NvidiaInfo{
		ComputeCapabilityMajor: q.uint(C.CL_DEVICE_COMPUTE_CAPABILITY_MAJOR_NV),
		ComputeCapabilityMinor: q.uint(C.CL_DEVICE_COMPUTE_CAPABILITY_MINOR_NV),
		RegistersPerBlock:      q.uint(C.CL_DEVICE_REGISTERS_PER_BLOCK_NV),
		WarpSize:               q.uint(C.CL_DEVICE_WARP_SIZE_NV),
		GPUOverlap:             q.bool(C.CL_DEVICE_GPU_OVERLAP_NV),
		KernelExecTimeout:      q.bool(C.CL_DEVICE_KERNEL_EXEC_TIMEOUT_NV),
		IntegratedMemory:       q.bool(C.CL_DEVICE_INTEGRATED_MEMORY_NV),
	}
	if q.err != nil {
		return NvidiaInfo{}, q.err
	}
	return info, nil
}

func (o *OpenCL) CreateContext(dev DeviceID) (ContextID, error) {
	var st C.cl_int
	d := clDevice(dev)
	ctx := C.clCreateContext(nil, 1, &d, nil, nil, &st)
	if err := check("clCreateContext", st); err != nil {
		return 0, err
	}
	return ContextID(unsafe.Pointer(ctx)), nil
}

func (o *OpenCL) ReleaseContext(ctx ContextID) error {
	return check("clReleaseContext", C.clReleaseContext(clContext(ctx)))
}

func (o *OpenCL) CreateQueue(ctx ContextID, dev DeviceID) (QueueID, error) {
	var st C.cl_int
	q := C.clCreateCommandQueue(clContext(ctx), clDevice(dev), 0, &st)
	if err := check("clCreateCommandQueue", st); err != nil {
		return 0, err
	}
	return QueueID(unsafe.Pointer(q)), nil
}

func (o *OpenCL) ReleaseQueue(q QueueID) error {
	return check("clReleaseCommandQueue", C.clReleaseCommandQueue(clQueue(q)))
}

func (o *OpenCL) Finish(q QueueID) error {
	return check("clFinish", C.clFinish(clQueue(q)))
}

func buildLog(p C.cl_program, d C.cl_device_id) string {
	var n C.size_t
	if C.clGetProgramBuildInfo(p, d, C.CL_PROGRAM_BUILD_LOG, 0, nil, &n) != C.CL_SUCCESS || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if C.clGetProgramBuildInfo(p, d, C.CL_PROGRAM_BUILD_LOG, n, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return trimNul(buf)
}

func (o *OpenCL) BuildProgram(ctx ContextID, dev DeviceID, source []byte, options string) (ProgramID, string, error) {
	src := C.CString(string(source))
	defer C.free(unsafe.Pointer(src))
	length := C.size_t(len(source))

	var st C.cl_int
	prog := C.clCreateProgramWithSource(clContext(ctx), 1, &src, &length, &st)
	if err := check("clCreateProgramWithSource", st); err != nil {
		return 0, "", err
	}

	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))
	d := clDevice(dev)
	st = C.clBuildProgram(prog, 1, &d, opts, nil, nil)
	log := buildLog(prog, d)
	if err := check("clBuildProgram", st); err != nil {
		C.clReleaseProgram(prog)
		return 0, log, err
	}
	return ProgramID(unsafe.Pointer(prog)), log, nil
}

func (o *OpenCL) ReleaseProgram(p ProgramID) error {
	return check("clReleaseProgram", C.clReleaseProgram(clProgram(p)))
}

func (o *OpenCL) CreateKernel(p ProgramID, name string) (KernelID, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var st C.cl_int
	k := C.clCreateKernel(clProgram(p), cname, &st)
	if err := check("clCreateKernel", st); err != nil {
		return 0, err
	}
	return KernelID(unsafe.Pointer(k)), nil
}

func (o *OpenCL) ReleaseKernel(k KernelID) error {
	return check("clReleaseKernel", C.clReleaseKernel(clKernel(k)))
}

func (o *OpenCL) EnqueueKernel(q QueueID, k KernelID, global, local []int) error {
	if len(global) == 0 || len(global) != len(local) {
		return InvalidWorkDimension
	}
	g := make([]C.size_t, len(global))
	l := make([]C.size_t, len(local))
	for i := range global {
		g[i] = C.size_t(global[i])
		l[i] = C.size_t(local[i])
	}
	st := C.clEnqueueNDRangeKernel(clQueue(q), clKernel(k), C.cl_uint(len(g)), nil, &g[0], &l[0], 0, nil, nil)
	return check("clEnqueueNDRangeKernel", st)
}
