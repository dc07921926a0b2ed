package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"objgraph/process"
	"objgraph/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"

	// MaxSavedRegion is the largest region written to a dump.
	MaxSavedRegion = 100 * 1024 * 1024
)

// Module is one loaded image recorded in a dump.
type Module struct {
	Name string `json:"name"`
	Base uint64 `json:"base"`
}

// Metadata is the contents of metadata.json.
type Metadata struct {
	PID     int      `json:"pid"`
	Name    string   `json:"name"`
	Modules []Module `json:"modules,omitempty"`
}

// SaveStats counts what happened to each region during a save.
type SaveStats struct {
	Saved       int
	NonReadable int
	TooLarge    int
	ReadErrors  int
}

func blobFilename(dirname string, item memory_map.MemoryMapItem) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", item.Address, item.Size))
}

// SaveDump writes meta, the memory map and every readable region of r that
// fits MaxSavedRegion into dirname. Regions that fail to read are counted and
// skipped.
func SaveDump(dirname string, meta Metadata, mm []memory_map.MemoryMapItem, r process.Reader) (SaveStats, error) {
	var stats SaveStats
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "dump-save"))

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return stats, fmt.Errorf("failed to create directory: %w", err)
	}

	metadataJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return stats, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, metadataFile), metadataJSON, 0644); err != nil {
		return stats, fmt.Errorf("failed to write metadata file: %w", err)
	}

	memoryMapJSON, err := json.MarshalIndent(mm, "", "  ")
	if err != nil {
		return stats, fmt.Errorf("failed to marshal memory map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, memoryMapFile), memoryMapJSON, 0644); err != nil {
		return stats, fmt.Errorf("failed to write memory map file: %w", err)
	}

	for _, region := range mm {
		if !region.IsReadable() {
			stats.NonReadable++
			continue
		}
		if region.Size > MaxSavedRegion {
			log.Infoln("Skipping large region at", fmt.Sprintf("%x", region.Address), "(size:", region.Size/1024/1024, "MB)")
			stats.TooLarge++
			continue
		}

		data, err := r.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			stats.ReadErrors++
			continue
		}

		if err := os.WriteFile(blobFilename(dirname, region), data, 0644); err != nil {
			return stats, fmt.Errorf("failed to write region 0x%x: %w", region.Address, err)
		}
		stats.Saved++
	}

	log.Infoln("Process dump saved:", stats.Saved, "regions saved,", stats.ReadErrors, "read errors")
	return stats, nil
}

// Save writes the Memory in the dump directory format.
func (m *Memory) Save(dirname string) (SaveStats, error) {
	meta := Metadata{PID: m.PID, Name: m.Name}
	for name, base := range m.Modules() {
		meta.Modules = append(meta.Modules, Module{Name: name, Base: uint64(base)})
	}
	return SaveDump(dirname, meta, m.MemoryMap(), m)
}

// Load reads a dump directory into a new Memory. Regions listed in the map
// without a blob file are left unmapped.
func Load(dirname string) (*Memory, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}

	var mm []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &mm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory map: %w", err)
	}
	memory_map.Sort(mm)

	m := NewMemory()
	m.PID = meta.PID
	m.Name = meta.Name
	for _, mod := range meta.Modules {
		m.SetModule(mod.Name, process.ProcessMemoryAddress(mod.Base))
	}

	for _, region := range mm {
		data, err := os.ReadFile(blobFilename(dirname, region))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read blob for region 0x%x: %w", region.Address, err)
		}
		if uint(len(data)) != region.Size {
			return nil, fmt.Errorf("blob for region 0x%x has %d bytes, map says %d", region.Address, len(data), region.Size)
		}
		if err := m.MapData(process.ProcessMemoryAddress(region.Address), data, region.Perms); err != nil {
			return nil, err
		}
		if region.Path != "" {
			m.setRegionPath(region.Address, region.Path)
		}
	}

	return m, nil
}

func (m *Memory) setRegionPath(addr uint64, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.findLocked(addr); r != nil && r.item.Address == addr {
		r.item.Path = path
	}
}

// MapModule maps an image region and records it in the module table.
func (m *Memory) MapModule(name string, base process.ProcessMemoryAddress, data []byte, perms string) error {
	if err := m.MapData(base, data, perms); err != nil {
		return err
	}
	m.setRegionPath(uint64(base), name)
	m.SetModule(name, base)
	return nil
}
