package process

import (
	"errors"
	"fmt"
	"testing"

	"objgraph/process/memory_map"
)

// flatReader serves one contiguous block of memory.
type flatReader struct {
	base uint64
	data []byte
	fail error
}

func (f flatReader) ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	off := uint64(addr) - f.base
	if uint64(addr) < f.base || off+uint64(size) > uint64(len(f.data)) {
		return nil, fmt.Errorf("%w: %s", ErrOutOfRange, addr)
	}
	return f.data[off : off+uint64(size)], nil
}

func TestParseAOB(t *testing.T) {
	tests := []struct {
		sig     string
		pattern []byte
		mask    []byte
		wantErr bool
	}{
		{"48 8B 05 ?? ?? 90", []byte{0x48, 0x8B, 0x05, 0, 0, 0x90}, []byte{0xFF, 0xFF, 0xFF, 0, 0, 0xFF}, false},
		{"e8,?,c3", []byte{0xE8, 0, 0xC3}, []byte{0xFF, 0, 0xFF}, false},
		{"", nil, nil, true},
		{"48 GG", nil, nil, true},
		{"123", nil, nil, true},
	}

	for _, tt := range tests {
		aob, err := ParseAOB(tt.sig)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAOB(%q) succeeded", tt.sig)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAOB(%q): %v", tt.sig, err)
		}
		if string(aob.Pattern) != string(tt.pattern) || string(aob.Mask) != string(tt.mask) {
			t.Fatalf("ParseAOB(%q) = %v/%v", tt.sig, aob.Pattern, aob.Mask)
		}
	}

	aob, _ := ParseAOB("48 8B 05 ?? ?? 90")
	if got := aob.String(); got != "48 8B 05 ?? ?? 90" {
		t.Fatalf("String() = %q", got)
	}
}

func TestFindPatternMatches(t *testing.T) {
	data := []byte{0x00, 0x48, 0x8B, 0x11, 0x90, 0x48, 0x8B, 0x22, 0x90, 0x48}
	aob, _ := ParseAOB("48 8B ?? 90")

	got := FindPatternMatches(data, aob)
	if len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Fatalf("matches = %v", got)
	}

	exact := AOB{Pattern: []byte{0x90, 0x48}}
	if got := FindPatternMatches(data, exact); len(got) != 2 || got[0] != 4 || got[1] != 8 {
		t.Fatalf("exact matches = %v", got)
	}

	if got := FindPatternMatches(data[:2], aob); got != nil {
		t.Fatalf("short data matches = %v", got)
	}
}

func TestScanRegionsAcrossChunks(t *testing.T) {
	base := uint64(0x10000000)
	data := make([]byte, scanChunkSize+0x1000)
	aob, _ := ParseAOB("DE AD ?? EF")
	// straddles the first chunk boundary
	at := scanChunkSize - 2
	copy(data[at:], []byte{0xDE, 0xAD, 0x00, 0xEF})
	copy(data[0x10:], []byte{0xDE, 0xAD, 0x77, 0xEF})

	r := flatReader{base: base, data: data}
	regions := []memory_map.MemoryMapItem{{Address: base, Size: uint(len(data)), Perms: "r-xp"}}

	got, err := ScanRegions(r, regions, aob, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []ProcessMemoryAddress{ProcessMemoryAddress(base + 0x10), ProcessMemoryAddress(base + uint64(at))}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ScanRegions = %v, want %v", got, want)
	}

	first, err := ScanFirst(r, regions, aob, 1)
	if err != nil || first != want[0] {
		t.Fatalf("ScanFirst = %s, %v", first, err)
	}
}

func TestScanRegionsErrors(t *testing.T) {
	aob, _ := ParseAOB("DE AD")
	regions := []memory_map.MemoryMapItem{{Address: 0x1000, Size: 0x100, Perms: "r-xp"}}

	// unreadable regions are skipped
	_, err := ScanFirst(flatReader{fail: ErrOutOfRange}, regions, aob, 1)
	if !errors.Is(err, ErrSignatureNotFound) {
		t.Fatalf("err = %v, want ErrSignatureNotFound", err)
	}

	_, err = ScanFirst(flatReader{fail: ErrChannel}, regions, aob, 1)
	if !errors.Is(err, ErrChannel) {
		t.Fatalf("err = %v, want ErrChannel", err)
	}
}

func TestSignatureRegions(t *testing.T) {
	mm := []memory_map.MemoryMapItem{
		{Address: 0x1000, Size: 0x1000, Perms: "r--p"},
		{Address: 0x2000, Size: 0x1000, Perms: "r-xp"},
		{Address: 0x3000, Size: 0x1000, Perms: "--xp"},
	}
	if got := SignatureRegions(mm); len(got) != 1 || got[0].Address != 0x2000 {
		t.Fatalf("SignatureRegions = %v", got)
	}
	if got := SignatureRegions(mm[:1]); len(got) != 1 || got[0].Address != 0x1000 {
		t.Fatalf("SignatureRegions without code = %v", got)
	}
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		label string
		data  []byte
		enc   TextEncoding
		want  string
	}{
		{"utf8 terminated", []byte("Target\x00junk"), TextUTF8, "Target"},
		{"utf8 unterminated", []byte("Target"), TextUTF8, "Target"},
		{"utf16", []byte{'Z', 0, 0xFC, 0, 'g', 0, 0, 0, 'x', 0}, TextUTF16, "Züg"},
		{"utf16 odd length", []byte{'a', 0, 'b'}, TextUTF16, "a"},
	}
	for _, tt := range tests {
		if got := DecodeText(tt.data, tt.enc); got != tt.want {
			t.Errorf("%s: DecodeText = %q, want %q", tt.label, got, tt.want)
		}
	}

	if enc, err := ParseTextEncoding("UTF-16"); err != nil || enc != TextUTF16 {
		t.Fatalf("ParseTextEncoding = %v, %v", enc, err)
	}
}

func TestReadPointerNull(t *testing.T) {
	if _, err := ReadPointer(flatReader{}, 0); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
}
