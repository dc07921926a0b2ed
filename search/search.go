// Package search discovers offset paths from a base address to a known
// value. The paths it reports are what matcher specs use as pointer chains.
package search

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	"objgraph/process"
	"objgraph/resolver"
)

// Searcher holds configuration for the search
type Searcher struct {
	MaxStructSize uint
	MaxDepth      int
	MinAlignment  uint
	MaxResults    int
	SearchFor     func([]byte) bool
	IsPointer     func(process.ProcessMemoryAddress) bool
}

// Option is a function that configures a Searcher
type Option func(*Searcher)

func WithMaxStructSize(size uint) Option {
	return func(s *Searcher) {
		s.MaxStructSize = size
	}
}

func WithMaxDepth(depth int) Option {
	return func(s *Searcher) {
		s.MaxDepth = depth
	}
}

func WithMinAlignment(align uint) Option {
	return func(s *Searcher) {
		if align > 0 {
			s.MinAlignment = align
		}
	}
}

// WithMaxResults stops the search after n paths; 0 means unlimited.
func WithMaxResults(n int) Option {
	return func(s *Searcher) {
		s.MaxResults = n
	}
}

// WithPointerFilter decides which values are followed as pointers.
func WithPointerFilter(isPointer func(process.ProcessMemoryAddress) bool) Option {
	return func(s *Searcher) {
		s.IsPointer = isPointer
	}
}

// WithValidator follows only values the validator accepts.
func WithValidator(v *resolver.Validator) Option {
	return WithPointerFilter(v.IsValid)
}

func WithSearchForType[T any](val T) Option {
	return func(s *Searcher) {
		// POD, little endian
		valBytes := unsafe.Slice((*byte)(unsafe.Pointer(&val)), int(unsafe.Sizeof(val)))
		s.SearchFor = func(data []byte) bool {
			return bytes.HasPrefix(data, valBytes)
		}
	}
}

// WithSearchForText looks for an inline string in the given encoding,
// without its terminator.
func WithSearchForText(text string, enc process.TextEncoding) Option {
	return func(s *Searcher) {
		want := []byte(text)
		if enc == process.TextUTF16 {
			want = want[:0]
			for _, r := range text {
				want = binary.LittleEndian.AppendUint16(want, uint16(r))
			}
		}
		s.SearchFor = func(data []byte) bool {
			return len(want) > 0 && bytes.HasPrefix(data, want)
		}
	}
}

// SearchResult represents a found path to the target
type SearchResult struct {
	Path []process.ProcessMemorySize // Offsets from base
}

// Chain returns the path as a chain whose last offset addresses the value.
func (r SearchResult) Chain() resolver.Chain {
	return resolver.NewChain(r.Path...).Field()
}

func (r SearchResult) String() string {
	return r.Chain().String()
}

// Search performs a recursive search for the target value, visiting every
// struct at most once.
func Search(r process.Reader, base process.ProcessMemoryAddress, options ...Option) ([]SearchResult, error) {
	s := &Searcher{
		MaxStructSize: 256,
		MaxDepth:      3,
		MinAlignment:  4,
		IsPointer:     func(a process.ProcessMemoryAddress) bool { return a != 0 },
	}

	for _, opt := range options {
		opt(s)
	}

	if s.SearchFor == nil {
		return nil, fmt.Errorf("no search target specified")
	}

	var results []SearchResult
	visited := make(map[process.ProcessMemoryAddress]bool)
	full := func() bool { return s.MaxResults > 0 && len(results) >= s.MaxResults }

	var searchRecursive func(addr process.ProcessMemoryAddress, depth int, path []process.ProcessMemorySize)
	searchRecursive = func(addr process.ProcessMemoryAddress, depth int, path []process.ProcessMemorySize) {
		if depth > s.MaxDepth || visited[addr] || full() {
			return
		}
		visited[addr] = true

		data, err := r.ReadMemory(addr, process.ProcessMemorySize(s.MaxStructSize))
		if err != nil {
			return
		}

		for offset := uint(0); offset < s.MaxStructSize; offset += s.MinAlignment {
			if offset+s.MinAlignment > uint(len(data)) || full() {
				break
			}

			extend := func() []process.ProcessMemorySize {
				p := make([]process.ProcessMemorySize, len(path), len(path)+1)
				copy(p, path)
				return append(p, process.ProcessMemorySize(offset))
			}

			if s.SearchFor(data[offset:]) {
				results = append(results, SearchResult{Path: extend()})
			}

			if offset%process.PointerSize == 0 && depth < s.MaxDepth && offset+process.PointerSize <= uint(len(data)) {
				ptr := process.ProcessMemoryAddress(binary.LittleEndian.Uint64(data[offset:]))
				if s.IsPointer(ptr) {
					searchRecursive(ptr, depth+1, extend())
				}
			}
		}
	}

	searchRecursive(base, 0, nil)

	return results, nil
}
