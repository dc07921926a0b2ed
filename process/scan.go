package process

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"objgraph/process/memory_map"

	"golang.org/x/sync/errgroup"
)

// scanChunkSize bounds a single read while scanning a region.
const scanChunkSize = 16 << 20

// normalize fills in an exact-match mask when none was given.
func (aob AOB) normalize() (AOB, error) {
	if len(aob.Pattern) == 0 {
		return aob, fmt.Errorf("empty pattern")
	}
	if len(aob.Mask) == 0 {
		aob.Mask = bytes.Repeat([]byte{0xFF}, len(aob.Pattern))
	} else if len(aob.Mask) != len(aob.Pattern) {
		return aob, fmt.Errorf("mask length (%d) doesn't match pattern length (%d)",
			len(aob.Mask), len(aob.Pattern))
	}
	return aob, nil
}

// MatchAt reports whether the pattern matches data at offset i.
func (aob AOB) MatchAt(data []byte, i int) bool {
	if i < 0 || i+len(aob.Pattern) > len(data) {
		return false
	}
	for j := 0; j < len(aob.Pattern); j++ {
		// Apply the mask: if mask byte is 0, skip this byte (wildcard)
		if aob.Mask[j] == 0 {
			continue
		}
		if data[i+j]&aob.Mask[j] != aob.Pattern[j]&aob.Mask[j] {
			return false
		}
	}
	return true
}

// FindPatternMatches finds all occurrences of the pattern in the data and
// returns the offsets where matches were found.
func FindPatternMatches(data []byte, aob AOB) []uint {
	aob, err := aob.normalize()
	if err != nil || len(data) < len(aob.Pattern) {
		return nil
	}

	var matches []uint
	for i := 0; i <= len(data)-len(aob.Pattern); i++ {
		if aob.MatchAt(data, i) {
			matches = append(matches, uint(i))
		}
	}
	return matches
}

// SignatureRegions picks the regions a signature scan should cover: readable
// executable regions when the map carries execute bits, every readable region
// otherwise.
func SignatureRegions(mm []memory_map.MemoryMapItem) []memory_map.MemoryMapItem {
	var code, readable []memory_map.MemoryMapItem
	for _, item := range mm {
		if !item.IsReadable() {
			continue
		}
		readable = append(readable, item)
		if item.IsExecutable() {
			code = append(code, item)
		}
	}
	if len(code) > 0 {
		return code
	}
	return readable
}

// ScanRegions searches the regions for the pattern with at most maxdop
// concurrent region reads and returns the matches sorted by address.
// Regions that can no longer be read are skipped.
func ScanRegions(r Reader, regions []memory_map.MemoryMapItem, aob AOB, maxdop int) ([]ProcessMemoryAddress, error) {
	aob, err := aob.normalize()
	if err != nil {
		return nil, err
	}

	if maxdop <= 0 {
		maxdop = 1
	}
	if numCPU := runtime.NumCPU(); maxdop > numCPU {
		maxdop = numCPU
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results []ProcessMemoryAddress
	)
	g.SetLimit(maxdop)

	for _, region := range regions {
		region := region
		g.Go(func() error {
			found, err := scanRegion(r, region, aob)
			if err != nil {
				if errors.Is(err, ErrChannel) {
					return err
				}
				// Some regions might fail to read due to permissions or
				// having been unmapped since the map was taken.
				return nil
			}
			if len(found) > 0 {
				mu.Lock()
				results = append(results, found...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	return results, nil
}

// scanRegion reads a region in chunks overlapping by len(pattern)-1 bytes so
// matches straddling a chunk boundary are not lost.
func scanRegion(r Reader, region memory_map.MemoryMapItem, aob AOB) ([]ProcessMemoryAddress, error) {
	var results []ProcessMemoryAddress
	overlap := uint64(len(aob.Pattern) - 1)
	end := region.Address + uint64(region.Size)

	for start := region.Address; start < end; {
		size := uint64(scanChunkSize)
		if start+size > end {
			size = end - start
		}
		if size < uint64(len(aob.Pattern)) {
			break
		}

		data, err := r.ReadMemory(ProcessMemoryAddress(start), ProcessMemorySize(size))
		if err != nil {
			return results, err
		}
		for _, off := range FindPatternMatches(data, aob) {
			results = append(results, ProcessMemoryAddress(start+uint64(off)))
		}

		if start+size >= end {
			break
		}
		start += size - overlap
	}
	return results, nil
}

// ScanFirst returns the lowest matching address.
func ScanFirst(r Reader, regions []memory_map.MemoryMapItem, aob AOB, maxdop int) (ProcessMemoryAddress, error) {
	results, err := ScanRegions(r, regions, aob, maxdop)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrSignatureNotFound, aob.String())
	}
	return results[0], nil
}
