// Package process_blob holds an address space entirely in local memory. It
// backs saved dumps and the synthetic object graphs used in tests.
package process_blob

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"

	"objgraph/process"
	"objgraph/process/memory_map"
)

type region struct {
	item memory_map.MemoryMapItem
	data []byte
}

// Memory is a sparse address space made of non-overlapping regions.
// It is safe for concurrent use.
type Memory struct {
	PID  int
	Name string

	mu      sync.RWMutex
	regions []region
	modules map[string]process.ProcessMemoryAddress
}

var _ process.MemoryAccessor = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		modules: make(map[string]process.ProcessMemoryAddress),
	}
}

// Map adds a zero-filled region. Perms uses the maps notation ("r-xp").
func (m *Memory) Map(addr process.ProcessMemoryAddress, size process.ProcessMemorySize, perms string) error {
	return m.MapData(addr, make([]byte, size), perms)
}

// MapData adds a region backed by data. The slice is owned by the Memory afterwards.
func (m *Memory) MapData(addr process.ProcessMemoryAddress, data []byte, perms string) error {
	if len(data) == 0 {
		return fmt.Errorf("region at %s is empty", addr)
	}
	item := memory_map.MemoryMapItem{Address: uint64(addr), Size: uint(len(data)), Perms: perms}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.regions {
		if item.Address < r.item.End() && r.item.Address < item.End() {
			return fmt.Errorf("region %#x-%#x overlaps %#x-%#x", item.Address, item.End(), r.item.Address, r.item.End())
		}
	}

	m.regions = append(m.regions, region{item: item, data: data})
	m.sortLocked()
	return nil
}

// Unmap removes the region starting at addr.
func (m *Memory) Unmap(addr process.ProcessMemoryAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.regions {
		if r.item.Address == uint64(addr) {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return
		}
	}
}

func (m *Memory) sortLocked() {
	for i := 1; i < len(m.regions); i++ {
		for j := i; j > 0 && m.regions[j].item.Address < m.regions[j-1].item.Address; j-- {
			m.regions[j], m.regions[j-1] = m.regions[j-1], m.regions[j]
		}
	}
}

// findLocked returns the region containing addr.
func (m *Memory) findLocked(addr uint64) *region {
	lo, hi := 0, len(m.regions)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.regions[mid].item.End() > addr {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo < len(m.regions) && m.regions[lo].item.Address <= addr {
		return &m.regions[lo]
	}
	return nil
}

// Write stores data at addr. The range must lie inside one mapped region.
func (m *Memory) Write(addr process.ProcessMemoryAddress, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.findLocked(uint64(addr))
	if r == nil {
		return fmt.Errorf("%w: %s", process.ErrOutOfRange, addr)
	}
	off := uint64(addr) - r.item.Address
	if off+uint64(len(data)) > uint64(len(r.data)) {
		return fmt.Errorf("%w: write of %d bytes at %s crosses region end", process.ErrOutOfRange, len(data), addr)
	}
	copy(r.data[off:], data)
	return nil
}

// PutPointer writes a little-endian pointer at addr.
func (m *Memory) PutPointer(addr, value process.ProcessMemoryAddress) error {
	var buf [process.PointerSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(value))
	return m.Write(addr, buf[:])
}

// PutUint32 writes a little-endian uint32 at addr.
func (m *Memory) PutUint32(addr process.ProcessMemoryAddress, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return m.Write(addr, buf[:])
}

// PutText writes a null-terminated string at addr in the given encoding.
func (m *Memory) PutText(addr process.ProcessMemoryAddress, s string, enc process.TextEncoding) error {
	switch enc {
	case process.TextUTF16:
		units := utf16.Encode([]rune(s))
		buf := make([]byte, 2*len(units)+2)
		for i, u := range units {
			binary.LittleEndian.PutUint16(buf[2*i:], u)
		}
		return m.Write(addr, buf)
	default:
		return m.Write(addr, append([]byte(s), 0))
	}
}

// SetModule records the load address of a module.
func (m *Memory) SetModule(name string, base process.ProcessMemoryAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[strings.ToLower(name)] = base
}

// Modules returns a copy of the module table.
func (m *Memory) Modules() map[string]process.ProcessMemoryAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]process.ProcessMemoryAddress, len(m.modules))
	for k, v := range m.modules {
		out[k] = v
	}
	return out
}

// MemoryMap returns a copy of the region list sorted by address.
func (m *Memory) MemoryMap() []memory_map.MemoryMapItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]memory_map.MemoryMapItem, len(m.regions))
	for i, r := range m.regions {
		result[i] = r.item
	}
	return result
}

// IsValidAddress reports whether addr lies in a readable region.
func (m *Memory) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := m.findLocked(uint64(addr))
	return r != nil && r.item.IsReadable()
}

func (m *Memory) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := m.findLocked(uint64(addr))
	if r == nil || !r.item.IsReadable() {
		return nil, fmt.Errorf("%w: %s", process.ErrOutOfRange, addr)
	}

	off := uint64(addr) - r.item.Address
	if off+uint64(size) > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: read of %d bytes at %s crosses region end", process.ErrOutOfRange, size, addr)
	}

	result := make([]byte, size)
	copy(result, r.data[off:off+uint64(size)])
	return result, nil
}

func (m *Memory) ReadPOINTER(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	return process.ReadPointer(m, addr)
}

// ReadText clamps maxLength to the end of the containing region so strings
// stored near a region boundary remain readable.
func (m *Memory) ReadText(addr process.ProcessMemoryAddress, maxLength process.ProcessMemorySize, enc process.TextEncoding) (string, error) {
	m.mu.RLock()
	if r := m.findLocked(uint64(addr)); r != nil {
		if left := r.item.End() - uint64(addr); uint64(maxLength) > left {
			maxLength = process.ProcessMemorySize(left)
		}
	}
	m.mu.RUnlock()

	return process.ReadText(m, addr, maxLength, enc)
}

func (m *Memory) FindSignature(aob process.AOB) (process.ProcessMemoryAddress, error) {
	return process.ScanFirst(m, process.SignatureRegions(m.MemoryMap()), aob, 1)
}

func (m *Memory) ModuleBase(name string) (process.ProcessMemoryAddress, error) {
	m.mu.RLock()
	base, ok := m.modules[strings.ToLower(name)]
	m.mu.RUnlock()
	if ok {
		return base, nil
	}

	if addr, found := memory_map.ModuleBase(name, m.MemoryMap()); found {
		return process.ProcessMemoryAddress(addr), nil
	}
	return 0, fmt.Errorf("%w: %s", process.ErrModuleNotFound, name)
}
