package resolver

import (
	"encoding/binary"

	"objgraph/process"
)

// Node is one record of the observed doubly-linked list, read fresh on every
// hop. It is only meaningful for the matcher call that received it.
type Node struct {
	Record process.ProcessMemoryAddress // where the record was read from
	Self   process.ProcessMemoryAddress // owning object
	Next   process.ProcessMemoryAddress // record address of the next node
	Prev   process.ProcessMemoryAddress // record address of the previous node
}

// NodeLayout gives the byte offsets of the link fields inside a node record.
type NodeLayout struct {
	Prev process.ProcessMemorySize
	Next process.ProcessMemorySize
	Self process.ProcessMemorySize
}

// DefaultNodeLayout is { prev, next, self } packed as three pointers.
var DefaultNodeLayout = NodeLayout{Prev: 0x0, Next: 0x8, Self: 0x10}

// Span is the number of bytes covering every field.
func (l NodeLayout) Span() process.ProcessMemorySize {
	end := l.Prev
	if l.Next > end {
		end = l.Next
	}
	if l.Self > end {
		end = l.Self
	}
	return end + process.PointerSize
}

// ReadNode reads a node record with one remote read.
func ReadNode(r process.Reader, layout NodeLayout, addr process.ProcessMemoryAddress) (Node, error) {
	data, err := r.ReadMemory(addr, layout.Span())
	if err != nil {
		return Node{}, err
	}
	ptr := func(off process.ProcessMemorySize) process.ProcessMemoryAddress {
		return process.ProcessMemoryAddress(binary.LittleEndian.Uint64(data[off:]))
	}
	return Node{
		Record: addr,
		Self:   ptr(layout.Self),
		Next:   ptr(layout.Next),
		Prev:   ptr(layout.Prev),
	}, nil
}
