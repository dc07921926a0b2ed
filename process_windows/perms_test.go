//go:build windows

package process_windows

import (
	"testing"

	"golang.org/x/sys/windows"
)

func TestPermsOf(t *testing.T) {
	tests := []struct {
		protect uint32
		want    string
	}{
		{windows.PAGE_READONLY, "r--p"},
		{windows.PAGE_READWRITE, "rw-p"},
		{windows.PAGE_EXECUTE_READ, "r-xp"},
		{windows.PAGE_EXECUTE_READWRITE, "rwxp"},
		{windows.PAGE_READWRITE | windows.PAGE_GUARD, "---p"},
		{windows.PAGE_NOACCESS, "---p"},
	}
	for _, tt := range tests {
		if got := permsOf(tt.protect); got != tt.want {
			t.Errorf("permsOf(%#x) = %q, want %q", tt.protect, got, tt.want)
		}
	}
}
