//go:build linux

// Package process_linux reads the memory of a live process through
// process_vm_readv. It never writes to the target.
package process_linux

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"objgraph/process"
	"objgraph/process/memory_map"
	"objgraph/process_blob"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// LinuxProcess implements process.MemoryAccessor for a Linux process
type LinuxProcess struct {
	pid  int
	name string
	log  *logger.Logger
	mm   []memory_map.MemoryMapItem
	mu   sync.Mutex
}

var _ process.MemoryAccessor = (*LinuxProcess)(nil)

// Open attaches to pid and takes an initial memory map.
func Open(pid int) (*LinuxProcess, error) {
	if !procExists(pid) {
		return nil, fmt.Errorf("process with PID %d does not exist", pid)
	}

	p := &LinuxProcess{
		pid:  pid,
		name: commName(pid),
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid))),
	}

	if err := p.UpdateMemoryMap(); err != nil {
		return nil, fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Infoln("Process opened", p.name)
	return p, nil
}

// OpenByName attaches to the lowest PID whose comm or exe matches name.
func OpenByName(name string) (*LinuxProcess, error) {
	ps, err := OneByName(name)
	if err != nil {
		return nil, fmt.Errorf("find process %q: %w", name, err)
	}
	return Open(ps.PID)
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pid = 0
	p.mm = nil
	p.log.Infoln("Process closed")
	return nil
}

func (p *LinuxProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *LinuxProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()
	if pid == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.ReadMemoryMap(pid)
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	p.mu.Lock()
	p.mm = mm
	p.mu.Unlock()
	return nil
}

// MemoryMap returns a copy of the last memory map taken.
func (p *LinuxProcess) MemoryMap() []memory_map.MemoryMapItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result
}

func (p *LinuxProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := memory_map.Find(uint64(addr), p.mm)
	return item != nil && item.IsReadable()
}

func (p *LinuxProcess) ReadPOINTER(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	return process.ReadPointer(p, addr)
}

// ReadText clamps the read to the containing region.
func (p *LinuxProcess) ReadText(addr process.ProcessMemoryAddress, maxLength process.ProcessMemorySize, enc process.TextEncoding) (string, error) {
	p.mu.Lock()
	if item := memory_map.Find(uint64(addr), p.mm); item != nil {
		if left := item.End() - uint64(addr); uint64(maxLength) > left {
			maxLength = process.ProcessMemorySize(left)
		}
	}
	p.mu.Unlock()

	return process.ReadText(p, addr, maxLength, enc)
}

func (p *LinuxProcess) FindSignature(aob process.AOB) (process.ProcessMemoryAddress, error) {
	addr, err := process.ScanFirst(p, process.SignatureRegions(p.MemoryMap()), aob, runtime.NumCPU())
	if err != nil {
		return 0, err
	}
	p.log.Debugln("signature", aob.String(), "at", addr.ToString())
	return addr, nil
}

func (p *LinuxProcess) ModuleBase(name string) (process.ProcessMemoryAddress, error) {
	if base, ok := memory_map.ModuleBase(name, p.MemoryMap()); ok {
		return process.ProcessMemoryAddress(base), nil
	}
	return 0, fmt.Errorf("%w: %s", process.ErrModuleNotFound, name)
}

// Modules lists every mapped image with its lowest address.
func (p *LinuxProcess) Modules() []process_blob.Module {
	seen := make(map[string]bool)
	var out []process_blob.Module
	mm := p.MemoryMap()
	for _, item := range mm {
		if item.Path == "" || item.Path[0] == '[' || seen[item.Path] {
			continue
		}
		seen[item.Path] = true
		if base, ok := memory_map.ModuleBase(baseName(item.Path), mm); ok {
			out = append(out, process_blob.Module{Name: baseName(item.Path), Base: base})
		}
	}
	return out
}

// Save writes the process to dirname in the dump format process_blob loads.
func (p *LinuxProcess) Save(dirname string) (process_blob.SaveStats, error) {
	if err := p.UpdateMemoryMap(); err != nil {
		return process_blob.SaveStats{}, err
	}
	meta := process_blob.Metadata{PID: p.PID(), Name: p.name, Modules: p.Modules()}
	return process_blob.SaveDump(dirname, meta, p.MemoryMap(), p)
}

func commName(pid int) string {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return string(bytesTrimNL(comm))
}
