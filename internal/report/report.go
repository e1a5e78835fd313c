// Package report prints the discovered platforms and devices.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fxnlabs/oclarbiter/internal/device"
	"github.com/fxnlabs/oclarbiter/internal/platform"
	"github.com/olekukonko/tablewriter"
)

// Bytes renders a size in bytes along with its IEC rendering.
func Bytes(n uint64) string {
	return fmt.Sprintf("%d bytes (%s)", n, humanize.IBytes(n))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func renderSection(w io.Writer, header string, rows [][]string) {
	fmt.Fprintln(w, header)
	table := newTable(w)
	table.AppendBulk(rows)
	table.Render()
	fmt.Fprintln(w)
}

// WritePlatform prints one platform's information, each of its devices, and
// the order of preference of those devices.
func WritePlatform(w io.Writer, p *platform.Platform) {
	renderSection(w, "Platform "+p.Key(), [][]string{
		{"", "vendor", p.Vendor()},
		{"", "name", p.Name()},
		{"", "version", p.Version()},
		{"", "profile", p.Profile()},
		{"", "extensions", p.Extensions()},
		{"", "offset", strconv.Itoa(p.Offset())},
	})

	devices := p.Devices().Devices()
	if len(devices) == 0 {
		fmt.Fprintln(w, "  None")
		return
	}
	for _, d := range devices {
		WriteDevice(w, d)
	}
	WriteOrder(w, devices)
}

// WriteDevice prints the capability snapshot of d.
func WriteDevice(w io.Writer, d *device.Device) {
	info := d.Info()
	platformName := ""
	if p := d.Platform(); p != nil {
		platformName = p.Name()
	}

	rows := [][]string{
		{"", "id", strconv.Itoa(d.Index())},
		{"", "parent platform", platformName},
		{"", "in use", yesNo(d.InUse())},
		{"", "gpu", yesNo(d.IsGPU())},
		{"", "type", fmt.Sprintf("%s (%d)", info.Type, uint64(info.Type))},
		{"", "vendor", info.Vendor},
		{"", "vendor id", strconv.FormatUint(uint64(info.VendorID), 10)},
		{"", "version", info.Version},
		{"", "driver version", info.DriverVersion},
		{"", "profile", info.Profile},
		{"", "max compute units", strconv.FormatUint(uint64(info.MaxComputeUnits), 10)},
		{"", "max clock frequency", fmt.Sprintf("%d MHz", info.MaxClockFrequency)},
		{"", "address bits", strconv.FormatUint(uint64(info.AddressBits), 10)},
		{"", "available", yesNo(info.Available)},
		{"", "compiler available", yesNo(info.CompilerAvailable)},
		{"", "little endian", yesNo(info.EndianLittle)},
		{"", "error correction", yesNo(info.ErrorCorrectionSupport)},
		{"", "image support", yesNo(info.ImageSupport)},
		{"", "global memory", Bytes(info.GlobalMemSize)},
		{"", "global memory cache", Bytes(info.GlobalMemCacheSize)},
		{"", "global memory cache type", info.GlobalMemCacheType.String()},
		{"", "global memory cacheline", Bytes(uint64(info.GlobalMemCachelineSize))},
		{"", "local memory", Bytes(info.LocalMemSize)},
		{"", "local memory type", info.LocalMemType.String()},
		{"", "max constant buffer", Bytes(info.MaxConstantBufferSize)},
		{"", "max memory allocation", Bytes(info.MaxMemAllocSize)},
		{"", "max parameter size", Bytes(info.MaxParameterSize)},
		{"", "max work group size", strconv.FormatUint(info.MaxWorkGroupSize, 10)},
		{"", "max work item dimensions", strconv.FormatUint(uint64(info.MaxWorkItemDimensions), 10)},
		{"", "max work item sizes", workItemSizes(info.MaxWorkItemSizes)},
		{"", "queue properties", fmt.Sprintf("%s(%d)", info.QueueProperties, uint64(info.QueueProperties))},
		{"", "single fp config", fmt.Sprintf("%s(%d)", info.SingleFPConfig, uint64(info.SingleFPConfig))},
		{"", "profiling timer resolution", fmt.Sprintf("%d ns", info.ProfilingTimerResolution)},
		{"", "extensions", info.Extensions},
	}

	if d.IsNvidia() {
		nv := d.Nvidia()
		rows = append(rows,
			[]string{"", "nvidia compute capability", fmt.Sprintf("%d.%d", nv.ComputeCapabilityMajor, nv.ComputeCapabilityMinor)},
			[]string{"", "nvidia registers per block", strconv.FormatUint(uint64(nv.RegistersPerBlock), 10)},
			[]string{"", "nvidia warp size", strconv.FormatUint(uint64(nv.WarpSize), 10)},
			[]string{"", "nvidia gpu overlap", yesNo(nv.GPUOverlap)},
			[]string{"", "nvidia kernel exec timeout", yesNo(nv.KernelExecTimeout)},
			[]string{"", "nvidia integrated memory", yesNo(nv.IntegratedMemory)},
		)
	}

	renderSection(w, "Device "+d.Name(), rows)
}

func workItemSizes(sizes []uint64) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = strconv.FormatUint(s, 10)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// WriteOrder prints devices in their order of preference.
func WriteOrder(w io.Writer, devices []*device.Device) {
	fmt.Fprintln(w, "Order of preference")
	table := newTable(w)
	table.SetHeader([]string{"RANK", "NAME", "ID", "IN USE", "COMPUTE UNITS"})
	for i, d := range devices {
		table.Append([]string{
			strconv.Itoa(i),
			d.Name(),
			strconv.Itoa(d.Index()),
			yesNo(d.InUse()),
			strconv.FormatUint(uint64(d.ComputeUnits()), 10),
		})
	}
	table.Render()
	fmt.Fprintln(w)
}

// WritePlatforms prints every platform of reg followed by the preferred
// platform and its best device.
func WritePlatforms(w io.Writer, reg *platform.Registry) error {
	for _, p := range reg.Platforms() {
		WritePlatform(w, p)
	}

	p, err := reg.Preferred()
	if err != nil {
		return err
	}
	d, err := p.PreferredDevice()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Preferred platform:     %s (%s)\n", p.Name(), p.Key())
	fmt.Fprintf(w, "Preferred best device:  %s (id = %d)\n", d.Name(), d.Index())
	return nil
}
