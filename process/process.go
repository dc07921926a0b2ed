// Package process defines the address types and the read capability the
// resolver consumes from an observed process.
package process

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// PointerSize is the width of a pointer in the observed process.
const PointerSize = 8

var (
	// ErrInvalidAddress is returned when an address is null, a sentinel or
	// outside the plausible range of the observed process.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrOutOfRange is returned when a memory address is not found within any
	// mapped region of a process, or a read would cross the end of one.
	ErrOutOfRange = errors.New("address not mapped")

	// ErrChannel is returned when the transport itself failed, independent of
	// the address being read.
	ErrChannel = errors.New("memory channel failure")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	ErrSignatureNotFound = errors.New("signature not found")
	ErrModuleNotFound    = errors.New("module not found")
)

// Reader is the raw byte read primitive every backend provides.
type Reader interface {
	// ReadMemory reads size bytes at addr. A short read is an error.
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)
}

// MemoryAccessor is the capability set the resolver consumes. All methods
// turn faults into ErrInvalidAddress, ErrOutOfRange or ErrChannel.
type MemoryAccessor interface {
	Reader

	// ReadPOINTER reads a pointer value from the specified address
	ReadPOINTER(addr ProcessMemoryAddress) (ProcessMemoryAddress, error)

	// ReadText reads at most maxLength bytes and decodes them up to the first terminator
	ReadText(addr ProcessMemoryAddress, maxLength ProcessMemorySize, enc TextEncoding) (string, error)

	// FindSignature returns the lowest address matching the pattern in code regions
	FindSignature(aob AOB) (ProcessMemoryAddress, error)

	// ModuleBase returns the load address of a named module
	ModuleBase(name string) (ProcessMemoryAddress, error)
}

// ReadPointer reads a little-endian pointer through r.
func ReadPointer(r Reader, addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	if addr == 0 {
		return 0, fmt.Errorf("%w: 0x0", ErrInvalidAddress)
	}

	data, err := r.ReadMemory(addr, PointerSize)
	if err != nil {
		return 0, err
	}
	return ProcessMemoryAddress(binary.LittleEndian.Uint64(data)), nil
}

// ReadText reads a bounded string through r.
func ReadText(r Reader, addr ProcessMemoryAddress, maxLength ProcessMemorySize, enc TextEncoding) (string, error) {
	if maxLength == 0 {
		return "", nil
	}
	if addr == 0 {
		return "", fmt.Errorf("%w: 0x0", ErrInvalidAddress)
	}

	data, err := r.ReadMemory(addr, maxLength)
	if err != nil {
		return "", err
	}
	return DecodeText(data, enc), nil
}

// DecodeText decodes data up to the first null terminator. If none is found
// the whole buffer is used.
func DecodeText(data []byte, enc TextEncoding) string {
	switch enc {
	case TextUTF16:
		units := make([]uint16, 0, len(data)/2)
		for i := 0; i+1 < len(data); i += 2 {
			u := binary.LittleEndian.Uint16(data[i:])
			if u == 0 {
				break
			}
			units = append(units, u)
		}
		return string(utf16.Decode(units))
	default:
		for i, b := range data {
			if b == 0 {
				return string(data[:i])
			}
		}
		return string(data)
	}
}
