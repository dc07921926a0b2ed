package process

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

func (pma ProcessMemoryAddress) String() string {
	return pma.ToString()
}

// Add offsets the address by a byte count.
func (pma ProcessMemoryAddress) Add(off ProcessMemorySize) ProcessMemoryAddress {
	return pma + ProcessMemoryAddress(off)
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// AOB (Array of Bytes) represents a pattern to search for in memory
type AOB struct {
	Pattern []byte // The byte pattern to search for
	Mask    []byte // Optional mask where 0xFF means exact match and 0x00 means wildcard
}

// IsValid checks if the AOB pattern is valid
func (aob AOB) IsValid() bool {
	return len(aob.Pattern) > 0 && (len(aob.Mask) == 0 || len(aob.Pattern) == len(aob.Mask))
}

func NewAOB(pattern, mask []byte) (AOB, error) {
	if len(pattern) != len(mask) {
		return AOB{}, fmt.Errorf("pattern and mask must be of the same length")
	}
	return AOB{Pattern: pattern, Mask: mask}, nil
}

// ParseAOB parses a signature such as "48 89 05 ?? ?? ?? ?? 48 83 C4".
// Bytes may be separated by spaces or commas; "?" and "??" are wildcards.
func ParseAOB(sig string) (AOB, error) {
	parts := strings.FieldsFunc(sig, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(parts) == 0 {
		return AOB{}, fmt.Errorf("empty signature")
	}

	pattern := make([]byte, 0, len(parts))
	mask := make([]byte, 0, len(parts))
	for _, part := range parts {
		if part == "??" || part == "?" {
			pattern = append(pattern, 0)
			mask = append(mask, 0)
			continue
		}

		val, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return AOB{}, fmt.Errorf("invalid hex byte: %s", part)
		}
		pattern = append(pattern, byte(val))
		mask = append(mask, 0xFF)
	}

	return NewAOB(pattern, mask)
}

// String formats the pattern the way ParseAOB accepts it.
func (aob AOB) String() string {
	var sb strings.Builder
	for i, b := range aob.Pattern {
		if i > 0 {
			sb.WriteString(" ")
		}
		if len(aob.Mask) == len(aob.Pattern) && aob.Mask[i] == 0 {
			sb.WriteString("??")
			continue
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return sb.String()
}

// TextEncoding selects how bounded strings are decoded.
type TextEncoding int

const (
	TextUTF8 TextEncoding = iota
	TextUTF16
)

func (e TextEncoding) String() string {
	switch e {
	case TextUTF8:
		return "utf8"
	case TextUTF16:
		return "utf16"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// ParseTextEncoding accepts "utf8"/"utf-8" and "utf16"/"unicode".
func ParseTextEncoding(s string) (TextEncoding, error) {
	switch strings.ToLower(s) {
	case "", "utf8", "utf-8", "ascii":
		return TextUTF8, nil
	case "utf16", "utf-16", "utf16le", "unicode":
		return TextUTF16, nil
	}
	return 0, fmt.Errorf("unknown text encoding %q", s)
}
