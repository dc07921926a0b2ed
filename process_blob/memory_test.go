package process_blob

import (
	"errors"
	"testing"

	"objgraph/process"
)

func TestReadMemoryBounds(t *testing.T) {
	m := NewMemory()
	if err := m.MapData(0x1000, []byte("abcdefgh"), "rw-p"); err != nil {
		t.Fatal(err)
	}
	if err := m.Map(0x2000, 0x10, "---p"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		label string
		addr  process.ProcessMemoryAddress
		size  process.ProcessMemorySize
		want  string
		err   error
	}{
		{"whole", 0x1000, 8, "abcdefgh", nil},
		{"inner", 0x1002, 3, "cde", nil},
		{"crosses end", 0x1006, 4, "", process.ErrOutOfRange},
		{"unmapped", 0x1800, 1, "", process.ErrOutOfRange},
		{"no read perm", 0x2000, 1, "", process.ErrOutOfRange},
	}
	for _, tt := range tests {
		got, err := m.ReadMemory(tt.addr, tt.size)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("%s: err = %v, want %v", tt.label, err, tt.err)
			}
			continue
		}
		if err != nil || string(got) != tt.want {
			t.Errorf("%s: got %q, %v", tt.label, got, err)
		}
	}

	if err := m.Map(0x1004, 0x10, "rw-p"); err == nil {
		t.Fatal("overlapping Map succeeded")
	}
}

func TestTextAndPointers(t *testing.T) {
	m := NewMemory()
	if err := m.Map(0x10000, 0x100, "rw-p"); err != nil {
		t.Fatal(err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	must(m.PutPointer(0x10000, 0x10080))
	must(m.PutText(0x10080, "Target", process.TextUTF8))
	must(m.PutText(0x100C0, "Wide", process.TextUTF16))
	// ends right at the region boundary
	must(m.PutText(0x100FC, "abc", process.TextUTF8))

	ptr, err := m.ReadPOINTER(0x10000)
	must(err)
	if ptr != 0x10080 {
		t.Fatalf("ReadPOINTER = %s", ptr)
	}
	if s, err := m.ReadText(ptr, 64, process.TextUTF8); err != nil || s != "Target" {
		t.Fatalf("ReadText = %q, %v", s, err)
	}
	if s, err := m.ReadText(0x100C0, 32, process.TextUTF16); err != nil || s != "Wide" {
		t.Fatalf("ReadText utf16 = %q, %v", s, err)
	}
	if s, err := m.ReadText(0x100FC, 64, process.TextUTF8); err != nil || s != "abc" {
		t.Fatalf("ReadText at boundary = %q, %v", s, err)
	}
	if _, err := m.ReadPOINTER(0); !errors.Is(err, process.ErrInvalidAddress) {
		t.Fatalf("ReadPOINTER(0) err = %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	m := NewMemory()
	m.PID = 4242
	m.Name = "game"

	code := make([]byte, 0x200)
	copy(code[0x40:], []byte{0x48, 0x8B, 0x05, 0x11, 0x22, 0x33, 0x44})
	if err := m.MapModule("Game.bin", 0x400000, code, "r-xp"); err != nil {
		t.Fatal(err)
	}
	if err := m.MapData(0x600000, []byte("heapdata"), "rw-p"); err != nil {
		t.Fatal(err)
	}
	if err := m.Map(0x700000, 0x1000, "---p"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	stats, err := m.Save(dir)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Saved != 2 || stats.NonReadable != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.PID != 4242 || loaded.Name != "game" {
		t.Fatalf("metadata = %d %q", loaded.PID, loaded.Name)
	}
	if len(loaded.MemoryMap()) != 2 {
		t.Fatalf("loaded %d regions, want 2", len(loaded.MemoryMap()))
	}

	data, err := loaded.ReadMemory(0x600000, 8)
	if err != nil || string(data) != "heapdata" {
		t.Fatalf("heap = %q, %v", data, err)
	}

	base, err := loaded.ModuleBase("game.BIN")
	if err != nil || base != 0x400000 {
		t.Fatalf("ModuleBase = %s, %v", base, err)
	}
	if _, err := loaded.ModuleBase("other.bin"); !errors.Is(err, process.ErrModuleNotFound) {
		t.Fatalf("ModuleBase(other) err = %v", err)
	}

	aob, _ := process.ParseAOB("48 8B 05 ?? ?? ?? ??")
	at, err := loaded.FindSignature(aob)
	if err != nil || at != 0x400040 {
		t.Fatalf("FindSignature = %s, %v", at, err)
	}
}

func TestModuleBaseFromPath(t *testing.T) {
	m := NewMemory()
	if err := m.Map(0x800000, 0x100, "r-xp"); err != nil {
		t.Fatal(err)
	}
	m.setRegionPath(0x800000, "/usr/lib/libengine.so")

	base, err := m.ModuleBase("libengine.so")
	if err != nil || base != 0x800000 {
		t.Fatalf("ModuleBase = %s, %v", base, err)
	}
}
