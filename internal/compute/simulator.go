package compute

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Topology describes the platforms and devices a Simulator exposes.
type Topology struct {
	Platforms []SimPlatform `yaml:"platforms"`
	Build     SimBuild      `yaml:"build"`
}

// SimPlatform is one simulated platform.
type SimPlatform struct {
	PlatformInfo `yaml:",inline"`
	Devices      []SimDevice `yaml:"devices"`
	// FailQuery makes every device enumeration on the platform fail.
	FailQuery bool `yaml:"failQuery"`
}

// SimDevice is one simulated device.
type SimDevice struct {
	DeviceInfo `yaml:",inline"`
	Nvidia     *NvidiaInfo `yaml:"nvidia"`
	// FailContext makes context creation on this device fail.
	FailContext bool `yaml:"failContext"`
	// FailQuery makes the capability query fail.
	FailQuery bool `yaml:"failQuery"`
}

// SimBuild controls the outcome of program builds.
type SimBuild struct {
	Fail bool   `yaml:"fail"`
	Log  string `yaml:"log"`
	// Kernels lists the kernel names a built program contains. Empty means any.
	Kernels []string `yaml:"kernels"`
}

// Launch records one EnqueueKernel call.
type Launch struct {
	Queue  QueueID
	Kernel string
	Global []int
	Local  []int
}

type simDevice struct {
	SimDevice
	platform PlatformID
}

// Simulator is an in-memory API implementation driven by a Topology. It stands
// in for a real binding in tests and on hosts built without OpenCL support.
type Simulator struct {
	mu sync.Mutex

	topology  Topology
	platforms []PlatformID
	devices   map[DeviceID]*simDevice
	order     map[PlatformID][]DeviceID

	nextHandle uintptr
	contexts   map[ContextID]DeviceID
	queues     map[QueueID]ContextID
	programs   map[ProgramID]ContextID
	kernels    map[KernelID]string
	launches   []Launch
}

// NewSimulator builds a Simulator from topo.
func NewSimulator(topo Topology) *Simulator {
	s := &Simulator{
		topology: topo,
		devices:  make(map[DeviceID]*simDevice),
		order:    make(map[PlatformID][]DeviceID),
		contexts: make(map[ContextID]DeviceID),
		queues:   make(map[QueueID]ContextID),
		programs: make(map[ProgramID]ContextID),
		kernels:  make(map[KernelID]string),
	}
	for _, p := range topo.Platforms {
		pid := PlatformID(s.handle())
		s.platforms = append(s.platforms, pid)
		for _, d := range p.Devices {
			did := DeviceID(s.handle())
			s.devices[did] = &simDevice{SimDevice: d, platform: pid}
			s.order[pid] = append(s.order[pid], did)
		}
	}
	return s
}

// LoadSimulation reads a YAML Topology from path.
func LoadSimulation(path string) (*Simulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sim, err := ParseSimulation(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sim, nil
}

// ParseSimulation builds a Simulator from a YAML Topology document.
func ParseSimulation(data []byte) (*Simulator, error) {
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("parsing simulation: %w", err)
	}
	return NewSimulator(topo), nil
}

func (s *Simulator) handle() uintptr {
	s.nextHandle++
	return s.nextHandle
}

func (s *Simulator) platformIndex(id PlatformID) (int, error) {
	i := slices.Index(s.platforms, id)
	if i < 0 {
		return 0, InvalidPlatform
	}
	return i, nil
}

func (s *Simulator) Platforms() ([]PlatformID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.platforms), nil
}

func (s *Simulator) PlatformInfo(id PlatformID) (PlatformInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.platformIndex(id)
	if err != nil {
		return PlatformInfo{}, err
	}
	return s.topology.Platforms[i].PlatformInfo, nil
}

func (s *Simulator) Devices(id PlatformID, t DeviceType) ([]DeviceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.platformIndex(id)
	if err != nil {
		return nil, err
	}
	if s.topology.Platforms[i].FailQuery {
		return nil, OutOfResources
	}
	var ids []DeviceID
	for _, did := range s.order[id] {
		if s.devices[did].Type&t != 0 {
			ids = append(ids, did)
		}
	}
	if len(ids) == 0 {
		return nil, DeviceNotFound
	}
	return ids, nil
}

func (s *Simulator) DeviceInfo(id DeviceID) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return DeviceInfo{}, InvalidDevice
	}
	if d.FailQuery {
		return DeviceInfo{}, OutOfHostMemory
	}
	info := d.DeviceInfo
	info.MaxWorkItemSizes = slices.Clone(d.MaxWorkItemSizes)
	return info, nil
}

func (s *Simulator) NvidiaInfo(id DeviceID) (NvidiaInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return NvidiaInfo{}, InvalidDevice
	}
	if d.Nvidia == nil || !strings.Contains(d.Extensions, NvidiaAttributeQuery) {
		return NvidiaInfo{}, InvalidValue
	}
	return *d.Nvidia, nil
}

func (s *Simulator) CreateContext(dev DeviceID) (ContextID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[dev]
	if !ok {
		return 0, InvalidDevice
	}
	if d.FailContext {
		return 0, DeviceNotAvailable
	}
	ctx := ContextID(s.handle())
	s.contexts[ctx] = dev
	return ctx, nil
}

func (s *Simulator) ReleaseContext(ctx ContextID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[ctx]; !ok {
		return InvalidContext
	}
	delete(s.contexts, ctx)
	return nil
}

func (s *Simulator) CreateQueue(ctx ContextID, dev DeviceID) (QueueID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bound, ok := s.contexts[ctx]
	if !ok {
		return 0, InvalidContext
	}
	if bound != dev {
		return 0, InvalidDevice
	}
	q := QueueID(s.handle())
	s.queues[q] = ctx
	return q, nil
}

func (s *Simulator) ReleaseQueue(q QueueID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[q]; !ok {
		return InvalidCommandQueue
	}
	delete(s.queues, q)
	return nil
}

func (s *Simulator) Finish(q QueueID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[q]; !ok {
		return InvalidCommandQueue
	}
	return nil
}

func (s *Simulator) BuildProgram(ctx ContextID, dev DeviceID, source []byte, options string) (ProgramID, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bound, ok := s.contexts[ctx]
	if !ok {
		return 0, "", InvalidContext
	}
	if bound != dev {
		return 0, "", InvalidDevice
	}
	if len(source) == 0 {
		return 0, "", InvalidValue
	}
	if s.topology.Build.Fail {
		return 0, s.topology.Build.Log, BuildProgramFailure
	}
	p := ProgramID(s.handle())
	s.programs[p] = ctx
	return p, s.topology.Build.Log, nil
}

func (s *Simulator) ReleaseProgram(p ProgramID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[p]; !ok {
		return InvalidProgram
	}
	delete(s.programs, p)
	return nil
}

func (s *Simulator) CreateKernel(p ProgramID, name string) (KernelID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[p]; !ok {
		return 0, InvalidProgram
	}
	known := s.topology.Build.Kernels
	if len(known) > 0 && !slices.Contains(known, name) {
		return 0, InvalidKernelName
	}
	k := KernelID(s.handle())
	s.kernels[k] = name
	return k, nil
}

func (s *Simulator) ReleaseKernel(k KernelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kernels[k]; !ok {
		return InvalidKernel
	}
	delete(s.kernels, k)
	return nil
}

func (s *Simulator) EnqueueKernel(q QueueID, k KernelID, global, local []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[q]; !ok {
		return InvalidCommandQueue
	}
	name, ok := s.kernels[k]
	if !ok {
		return InvalidKernel
	}
	if len(global) == 0 || len(global) != len(local) {
		return InvalidWorkDimension
	}
	s.launches = append(s.launches, Launch{
		Queue:  q,
		Kernel: name,
		Global: slices.Clone(global),
		Local:  slices.Clone(local),
	})
	return nil
}

// Launches returns every launch enqueued so far.
func (s *Simulator) Launches() []Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.launches)
}

// OpenContexts returns the number of contexts not yet released.
func (s *Simulator) OpenContexts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// OpenObjects returns the number of live queues, programs and kernels.
func (s *Simulator) OpenObjects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues) + len(s.programs) + len(s.kernels)
}
