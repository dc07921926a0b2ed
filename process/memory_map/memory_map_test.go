package memory_map

import (
	"strings"
	"testing"
)

const sampleMaps = `55d0c0a00000-55d0c0a28000 r--p 00000000 08:02 173521 /usr/bin/game
55d0c0a28000-55d0c0b00000 r-xp 00028000 08:02 173521 /usr/bin/game
55d0c0c00000-55d0c0c10000 rw-p 00000000 00:00 0 [heap]
7f1000000000-7f1000001000 ---p 00000000 00:00 0
garbage line
7f2000000000-7f2000010000 r-xp 00000000 08:02 99 /opt/app/Program Files/Engine.DLL
`

func TestParseMaps(t *testing.T) {
	mm, err := ParseMaps(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatal(err)
	}
	if len(mm) != 5 {
		t.Fatalf("parsed %d regions, want 5", len(mm))
	}
	if mm[1].Address != 0x55d0c0a28000 || mm[1].Size != 0xd8000 || !mm[1].IsExecutable() {
		t.Fatalf("code region = %s", mm[1])
	}
	if mm[2].Path != "[heap]" || !mm[2].IsWritable() {
		t.Fatalf("heap region = %s", mm[2])
	}
	if mm[3].IsReadable() || mm[3].Path != "" {
		t.Fatalf("guard region = %s", mm[3])
	}
	if mm[4].Path != "/opt/app/Program Files/Engine.DLL" {
		t.Fatalf("path with spaces = %q", mm[4].Path)
	}
}

func TestFind(t *testing.T) {
	mm, _ := ParseMaps(strings.NewReader(sampleMaps))
	Sort(mm)

	tests := []struct {
		addr uint64
		want uint64
		ok   bool
	}{
		{0x55d0c0a00000, 0x55d0c0a00000, true},
		{0x55d0c0a27fff, 0x55d0c0a00000, true},
		{0x55d0c0a28000, 0x55d0c0a28000, true},
		{0x55d0c0b00000, 0, false},
		{0x1000, 0, false},
		{0x7f200000ffff, 0x7f2000000000, true},
	}
	for _, tt := range tests {
		item := Find(tt.addr, mm)
		if (item != nil) != tt.ok || (item != nil && item.Address != tt.want) {
			t.Errorf("Find(%#x) = %v", tt.addr, item)
		}
	}

	if !IsReadableRange(0x55d0c0c00000, 0x10000, mm) {
		t.Error("heap not readable")
	}
	if IsReadableRange(0x55d0c0c0f000, 0x2000, mm) {
		t.Error("range crossing region end reported readable")
	}
	if IsReadableRange(0x7f1000000000, 8, mm) {
		t.Error("guard page reported readable")
	}
}

func TestModuleBase(t *testing.T) {
	mm, _ := ParseMaps(strings.NewReader(sampleMaps))

	if base, ok := ModuleBase("game", mm); !ok || base != 0x55d0c0a00000 {
		t.Fatalf("ModuleBase(game) = %#x, %v", base, ok)
	}
	if base, ok := ModuleBase("engine.dll", mm); !ok || base != 0x7f2000000000 {
		t.Fatalf("ModuleBase(engine.dll) = %#x, %v", base, ok)
	}
	if _, ok := ModuleBase("missing.so", mm); ok {
		t.Fatal("found a module that is not mapped")
	}
	if got := baseName(`C:\Games\bin\Client.exe`); got != "Client.exe" {
		t.Fatalf("baseName = %q", got)
	}
}
