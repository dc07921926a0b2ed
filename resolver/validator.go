package resolver

import (
	"objgraph/process"
	"objgraph/process/memory_map"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultMinAddress rejects the null page and low sentinel values.
	DefaultMinAddress = process.ProcessMemoryAddress(0x10000)
	// DefaultMaxAddress is the top of the canonical user-mode range.
	DefaultMaxAddress = process.ProcessMemoryAddress(0x7FFFFFFFFFFF)
)

// Validator decides whether a raw value is a plausible pointer into the
// observed process. The zero value is not usable, call NewValidator.
type Validator struct {
	min, max  process.ProcessMemoryAddress
	regions   []memory_map.MemoryMapItem
	sentinels map[process.ProcessMemoryAddress]struct{}
	freed     func(process.ProcessMemoryAddress) bool
}

type ValidatorOption func(*Validator)

// WithRange sets the plausible range [min, max).
func WithRange(min, max process.ProcessMemoryAddress) ValidatorOption {
	return func(v *Validator) {
		v.min = min
		v.max = max
	}
}

// WithRegions additionally requires the address to fall in a readable region.
func WithRegions(mm []memory_map.MemoryMapItem) ValidatorOption {
	return func(v *Validator) {
		v.regions = make([]memory_map.MemoryMapItem, len(mm))
		copy(v.regions, mm)
		memory_map.Sort(v.regions)
	}
}

// WithSentinels rejects specific marker values.
func WithSentinels(addrs ...process.ProcessMemoryAddress) ValidatorOption {
	return func(v *Validator) {
		for _, a := range addrs {
			v.sentinels[a] = struct{}{}
		}
	}
}

// WithFreedCheck rejects addresses the callback knows to be released.
func WithFreedCheck(freed func(process.ProcessMemoryAddress) bool) ValidatorOption {
	return func(v *Validator) {
		v.freed = freed
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		min:       DefaultMinAddress,
		max:       DefaultMaxAddress,
		sentinels: make(map[process.ProcessMemoryAddress]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns nil or an error that matches ErrInvalidAddress.
func (v *Validator) Validate(addr process.ProcessMemoryAddress) error {
	switch {
	case addr == 0:
		return errors.Wrap(ErrInvalidAddress, "null")
	case addr < v.min || addr >= v.max:
		return errors.Wrapf(ErrInvalidAddress, "%s outside [%s, %s)", addr, v.min, v.max)
	}
	if _, ok := v.sentinels[addr]; ok {
		return errors.Wrapf(ErrInvalidAddress, "%s is a sentinel", addr)
	}
	if v.regions != nil {
		item := memory_map.Find(uint64(addr), v.regions)
		if item == nil || !item.IsReadable() {
			return errors.Wrapf(ErrInvalidAddress, "%s not in a readable region", addr)
		}
	}
	if v.freed != nil && v.freed(addr) {
		return errors.Wrapf(ErrInvalidAddress, "%s already freed", addr)
	}
	return nil
}

func (v *Validator) IsValid(addr process.ProcessMemoryAddress) bool {
	return v.Validate(addr) == nil
}
