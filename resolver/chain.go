package resolver

import (
	"fmt"
	"io"

	"objgraph/process"

	"github.com/cockroachdb/errors"
)

// Chain is an ordered list of offset-then-dereference steps.
//
//	final = *(*(*(base + off0) + off1) ... + offN)
//
// With FieldAtEnd the last offset is added to the final pointer but not
// dereferenced, so the result is the address of a value field.
type Chain struct {
	Offsets      []process.ProcessMemorySize
	ValidateHops bool
	FieldAtEnd   bool
}

// NewChain returns a chain that validates every pointer it reads.
func NewChain(offsets ...process.ProcessMemorySize) Chain {
	return Chain{Offsets: offsets, ValidateHops: true}
}

// Field returns a copy of c whose last offset addresses a value.
func (c Chain) Field() Chain {
	c.FieldAtEnd = true
	return c
}

func (c Chain) String() string {
	s := "["
	for i, off := range c.Offsets {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%#x", uint64(off))
	}
	s += "]"
	if c.FieldAtEnd {
		s += "+field"
	}
	return s
}

// ChainReader follows pointer chains through an accessor. It holds no
// mutable state and is safe for concurrent use.
type ChainReader struct {
	mem       process.MemoryAccessor
	validator *Validator
	trace     io.Writer
}

func NewChainReader(mem process.MemoryAccessor, v *Validator) *ChainReader {
	return &ChainReader{mem: mem, validator: v}
}

// WithTrace returns a reader that prints every hop to w.
func (c *ChainReader) WithTrace(w io.Writer) *ChainReader {
	cp := *c
	cp.trace = w
	return &cp
}

func (c *ChainReader) tracef(format string, args ...any) {
	if c.trace != nil {
		fmt.Fprintf(c.trace, "[chain] "+format+"\n", args...)
	}
}

// Follow walks chain from base. Any failed read or failed validation at hop i
// returns a *ChainBrokenError with Hop == i; nothing past hop i is read.
// Retries are the caller's business.
func (c *ChainReader) Follow(base process.ProcessMemoryAddress, chain Chain) (process.ProcessMemoryAddress, error) {
	c.tracef("base=%s", base)
	if err := c.validator.Validate(base); err != nil {
		return 0, &ChainBrokenError{Hop: 0, Address: base, Cause: err}
	}

	current := base
	last := len(chain.Offsets) - 1
	for i, off := range chain.Offsets {
		addr := current.Add(off)
		if chain.FieldAtEnd && i == last {
			c.tracef("final: %s + %#x => %s", current, uint64(off), addr)
			return addr, nil
		}

		ptr, err := c.mem.ReadPOINTER(addr)
		c.tracef("step %d: *(%s + %#x) => %s", i, current, uint64(off), ptr)
		if err != nil {
			return 0, &ChainBrokenError{Hop: i, Address: addr, Cause: err}
		}

		if chain.ValidateHops {
			err = c.validator.Validate(ptr)
		} else if ptr == 0 {
			err = errors.Wrap(ErrInvalidAddress, "null")
		}
		if err != nil {
			return 0, &ChainBrokenError{Hop: i, Address: addr, Cause: err}
		}
		current = ptr
	}
	return current, nil
}
