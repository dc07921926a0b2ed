// Package hexdump renders remote memory for inspection, annotating words
// that look like pointers.
package hexdump

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Options defines options for customizing the hexdump output
type Options struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// GroupSize defines the grouping of bytes (1, 2, 4 or 8)
	GroupSize int

	// ShowASCII determines whether to show the ASCII representation
	ShowASCII bool

	// StartOffset is the address printed for the first byte
	StartOffset uint64

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int

	// IsPointer, when set, marks aligned 8-byte words it accepts
	IsPointer func(uint64) bool
}

func DefaultOptions() Options {
	return Options{
		BytesPerLine: 16,
		GroupSize:    1,
		ShowASCII:    true,
	}
}

// Dump returns the dump as a string.
func Dump(data []byte, options Options) string {
	var sb strings.Builder
	DumpToWriter(&sb, data, options)
	return sb.String()
}

func DumpToWriter(w io.Writer, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.GroupSize <= 0 || options.BytesPerLine%options.GroupSize != 0 {
		options.GroupSize = 1
	}

	lines := 0
	for off := 0; off < len(data); off += options.BytesPerLine {
		if options.MaxLines > 0 && lines >= options.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-off)
			return
		}
		end := off + options.BytesPerLine
		if end > len(data) {
			end = len(data)
		}
		formatLine(w, data[off:end], options.StartOffset+uint64(off), options)
		lines++
	}
}

func formatLine(w io.Writer, line []byte, addr uint64, options Options) {
	fmt.Fprintf(w, "%016x  ", addr)

	cells := options.BytesPerLine / options.GroupSize
	for c := 0; c < cells; c++ {
		start := c * options.GroupSize
		if start >= len(line) {
			fmt.Fprint(w, strings.Repeat(" ", options.GroupSize*2+1))
			continue
		}
		// groups print most significant byte first, like a little-endian word
		for i := options.GroupSize - 1; i >= 0; i-- {
			if start+i < len(line) {
				fmt.Fprintf(w, "%02x", line[start+i])
			} else {
				fmt.Fprint(w, "  ")
			}
		}
		fmt.Fprint(w, " ")
	}

	if options.ShowASCII {
		fmt.Fprint(w, " |")
		for _, b := range line {
			if b >= 0x20 && b < 0x7f {
				fmt.Fprintf(w, "%c", b)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprint(w, strings.Repeat(" ", options.BytesPerLine-len(line)))
		fmt.Fprint(w, "|")
	}

	if options.IsPointer != nil {
		var ptrs []string
		for i := 0; i+8 <= len(line); i += 8 {
			if (addr+uint64(i))%8 != 0 {
				continue
			}
			if v := binary.LittleEndian.Uint64(line[i:]); options.IsPointer(v) {
				ptrs = append(ptrs, fmt.Sprintf("+%#x->%#x", i, v))
			}
		}
		if len(ptrs) > 0 {
			fmt.Fprint(w, "  ", strings.Join(ptrs, " "))
		}
	}
	fmt.Fprintln(w)
}
