package resolver

import (
	"testing"

	"objgraph/process"
	"objgraph/process/memory_map"

	"github.com/cockroachdb/errors"
)

func TestValidator(t *testing.T) {
	regions := []memory_map.MemoryMapItem{
		{Address: 0x20000, Size: 0x1000, Perms: "rw-p"},
		{Address: 0x40000, Size: 0x1000, Perms: "---p"},
	}
	freed := func(a process.ProcessMemoryAddress) bool { return a == 0x20800 }

	tests := []struct {
		label string
		opts  []ValidatorOption
		addr  process.ProcessMemoryAddress
		ok    bool
	}{
		{"null", nil, 0, false},
		{"below range", nil, 0x1000, false},
		{"at min", nil, DefaultMinAddress, true},
		{"at max", nil, DefaultMaxAddress, false},
		{"kernel half", nil, 0xFFFF800000000000, false},
		{"custom range", []ValidatorOption{WithRange(1, 200)}, 104, true},
		{"sentinel", []ValidatorOption{WithSentinels(0xDEADBEEF)}, 0xDEADBEEF, false},
		{"mapped", []ValidatorOption{WithRegions(regions)}, 0x20010, true},
		{"unmapped", []ValidatorOption{WithRegions(regions)}, 0x30000, false},
		{"no read perm", []ValidatorOption{WithRegions(regions)}, 0x40010, false},
		{"freed", []ValidatorOption{WithFreedCheck(freed)}, 0x20800, false},
		{"not freed", []ValidatorOption{WithFreedCheck(freed)}, 0x20808, true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			v := NewValidator(tt.opts...)
			err := v.Validate(tt.addr)
			if tt.ok {
				if err != nil {
					t.Fatalf("Validate(%s) = %v, want nil", tt.addr, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidAddress) {
				t.Fatalf("Validate(%s) = %v, want ErrInvalidAddress", tt.addr, err)
			}
			if v.IsValid(tt.addr) {
				t.Fatalf("IsValid(%s) = true", tt.addr)
			}
		})
	}
}
