//go:build windows

// Package process_windows reads the memory of a live Windows process.
package process_windows

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"objgraph/process"
	"objgraph/process/memory_map"
	"objgraph/process_blob"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

// WindowsProcess implements process.MemoryAccessor for a Windows process
type WindowsProcess struct {
	pid     uint32
	name    string
	handle  windows.Handle
	log     *logger.Logger
	mm      []memory_map.MemoryMapItem
	modules []process_blob.Module
	mu      sync.Mutex
}

var _ process.MemoryAccessor = (*WindowsProcess)(nil)

// Open attaches with read and query rights only.
func Open(pid int) (*WindowsProcess, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("OpenProcess(%d): %w", pid, err)
	}

	p := &WindowsProcess{
		pid:    uint32(pid),
		handle: handle,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid))),
	}
	if err := p.UpdateMemoryMap(); err != nil {
		p.log.Warn("Failed to initialize memory map: ", err)
	}
	if exe, ok := p.mainModule(); ok {
		p.name = exe
	}

	p.log.Infoln("Process opened", p.name)
	return p, nil
}

// OpenByName attaches to the first process whose image name matches.
func OpenByName(name string) (*WindowsProcess, error) {
	pid, err := FindProcessByName(name)
	if err != nil {
		return nil, err
	}
	return Open(pid)
}

// FindProcessByName walks a process snapshot comparing image names
// case-insensitively.
func FindProcessByName(name string) (int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var pe windows.ProcessEntry32
	pe.Size = uint32(unsafe.Sizeof(pe))
	for err = windows.Process32First(snap, &pe); err == nil; err = windows.Process32Next(snap, &pe) {
		if strings.EqualFold(windows.UTF16ToString(pe.ExeFile[:]), name) {
			return int(pe.ProcessID), nil
		}
	}
	return 0, fmt.Errorf("no process named %q", name)
}

func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != 0 {
		if err := windows.CloseHandle(p.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
		p.handle = 0
	}
	p.pid = 0
	p.mm = nil
	p.modules = nil
	p.log.Infoln("Process closed")
	return nil
}

func (p *WindowsProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.pid)
}

// UpdateMemoryMap rebuilds the region list with VirtualQueryEx and tags image
// regions with their module name.
func (p *WindowsProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	handle, pid := p.handle, p.pid
	p.mu.Unlock()
	if handle == 0 {
		return process.ErrProcessNotOpen
	}

	modules, err := snapshotModules(pid)
	if err != nil {
		return err
	}

	var (
		mm   []memory_map.MemoryMapItem
		mbi  windows.MemoryBasicInformation
		addr uintptr
	)
	for {
		if err := windows.VirtualQueryEx(handle, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			break
		}
		next := mbi.BaseAddress + mbi.RegionSize
		if next <= addr {
			break
		}
		addr = next

		if mbi.State != windows.MEM_COMMIT {
			continue
		}
		item := memory_map.MemoryMapItem{
			Address: uint64(mbi.BaseAddress),
			Size:    uint(mbi.RegionSize),
			Perms:   permsOf(mbi.Protect),
		}
		for _, m := range modules {
			if item.Address >= m.Base && item.Address < m.Base+m.size {
				item.Path = m.Name
				break
			}
		}
		mm = append(mm, item)
	}
	memory_map.Sort(mm)

	p.mu.Lock()
	p.mm = mm
	p.modules = p.modules[:0]
	for _, m := range modules {
		p.modules = append(p.modules, m.Module)
	}
	p.mu.Unlock()
	return nil
}

// permsOf renders a page protection in the maps notation.
func permsOf(protect uint32) string {
	if protect&(windows.PAGE_GUARD|windows.PAGE_NOACCESS) != 0 {
		return "---p"
	}
	switch protect & 0xFF {
	case windows.PAGE_READONLY:
		return "r--p"
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return "rw-p"
	case windows.PAGE_EXECUTE:
		return "--xp"
	case windows.PAGE_EXECUTE_READ:
		return "r-xp"
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return "rwxp"
	}
	return "---p"
}

type moduleRange struct {
	process_blob.Module
	size uint64
}

func snapshotModules(pid uint32) ([]moduleRange, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
	if err != nil {
		return nil, fmt.Errorf("module snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var (
		out []moduleRange
		me  windows.ModuleEntry32
	)
	me.Size = uint32(unsafe.Sizeof(me))
	for err = windows.Module32First(snap, &me); err == nil; err = windows.Module32Next(snap, &me) {
		out = append(out, moduleRange{
			Module: process_blob.Module{Name: windows.UTF16ToString(me.Module[:]), Base: uint64(me.ModBaseAddr)},
			size:   uint64(me.ModBaseSize),
		})
	}
	return out, nil
}

func (p *WindowsProcess) mainModule() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.modules) == 0 {
		return "", false
	}
	return p.modules[0].Name, true
}

func (p *WindowsProcess) MemoryMap() []memory_map.MemoryMapItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result
}

func (p *WindowsProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	item := memory_map.Find(uint64(addr), p.mm)
	return item != nil && item.IsReadable()
}

func (p *WindowsProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	if handle == 0 {
		return nil, fmt.Errorf("%w: %w", process.ErrChannel, process.ErrProcessNotOpen)
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead)
	switch {
	case errors.Is(err, windows.ERROR_PARTIAL_COPY), errors.Is(err, windows.ERROR_NOACCESS):
		return nil, fmt.Errorf("%w: %s: %v", process.ErrOutOfRange, addr, err)
	case err != nil:
		return nil, fmt.Errorf("%w: ReadProcessMemory at %s: %v", process.ErrChannel, addr, err)
	case bytesRead != uintptr(size):
		return nil, fmt.Errorf("%w: read incomplete at %s: expected %d, got %d", process.ErrOutOfRange, addr, size, bytesRead)
	}
	return buf, nil
}

func (p *WindowsProcess) ReadPOINTER(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	return process.ReadPointer(p, addr)
}

func (p *WindowsProcess) ReadText(addr process.ProcessMemoryAddress, maxLength process.ProcessMemorySize, enc process.TextEncoding) (string, error) {
	p.mu.Lock()
	if item := memory_map.Find(uint64(addr), p.mm); item != nil {
		if left := item.End() - uint64(addr); uint64(maxLength) > left {
			maxLength = process.ProcessMemorySize(left)
		}
	}
	p.mu.Unlock()

	return process.ReadText(p, addr, maxLength, enc)
}

func (p *WindowsProcess) FindSignature(aob process.AOB) (process.ProcessMemoryAddress, error) {
	return process.ScanFirst(p, process.SignatureRegions(p.MemoryMap()), aob, runtime.NumCPU())
}

func (p *WindowsProcess) ModuleBase(name string) (process.ProcessMemoryAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.modules {
		if strings.EqualFold(m.Name, name) {
			return process.ProcessMemoryAddress(m.Base), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", process.ErrModuleNotFound, name)
}

// Save writes the process to dirname in the dump format process_blob loads.
func (p *WindowsProcess) Save(dirname string) (process_blob.SaveStats, error) {
	if err := p.UpdateMemoryMap(); err != nil {
		return process_blob.SaveStats{}, err
	}
	p.mu.Lock()
	meta := process_blob.Metadata{PID: int(p.pid), Name: p.name, Modules: append([]process_blob.Module(nil), p.modules...)}
	p.mu.Unlock()
	return process_blob.SaveDump(dirname, meta, p.MemoryMap(), p)
}
