package memory_map

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 `json:"Address"` // The starting address of the memory region
	Size    uint   `json:"Size"`    // The size of the memory region in bytes
	Perms   string `json:"Perms"`   // Permissions (e.g., "r-xp" for read, execute, private)
	Path    string `json:"Path,omitempty"`
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, Path: %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.Path)
}

func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return len(mmItem.Perms) > 0 && mmItem.Perms[0] == 'r'
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return len(mmItem.Perms) > 2 && mmItem.Perms[2] == 'x'
}

// Sort orders the map by address, which Find requires.
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// Find returns the region containing addr using binary search over a map
// sorted by address, or nil.
func Find(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}
	return nil
}

// IsReadableRange reports whether [addr, addr+size) lies inside one readable region.
func IsReadableRange(addr uint64, size uint64, memoryMap []MemoryMapItem) bool {
	item := Find(addr, memoryMap)
	if item == nil || !item.IsReadable() {
		return false
	}
	return addr+size <= item.End()
}

// ModuleBase returns the lowest mapped address whose backing file's base name
// matches name, compared case-insensitively.
func ModuleBase(name string, memoryMap []MemoryMapItem) (uint64, bool) {
	var (
		base  uint64
		found bool
	)
	for _, item := range memoryMap {
		if item.Path == "" {
			continue
		}
		if !strings.EqualFold(baseName(item.Path), name) {
			continue
		}
		if !found || item.Address < base {
			base = item.Address
			found = true
		}
	}
	return base, found
}

// baseName handles both slash styles since maps may describe Windows images.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return filepath.Base(path)
}
