//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// Process is one /proc entry found by name.
type Process struct {
	PID  int
	Name string // comm, or exe base name when comm is truncated
}

// ListByName returns every other process whose comm or exe base name equals
// name, ordered by PID.
func ListByName(name string) ([]Process, error) {
	if name == "" {
		return nil, errors.New("empty name")
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	self := os.Getpid()
	var out []Process
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() || pid <= 0 || pid == self {
			continue
		}

		if comm := commName(pid); comm == name {
			out = append(out, Process{PID: pid, Name: comm})
			continue
		}
		// comm is cut at 15 bytes, the exe link is not; zombies have none
		if exe, _ := os.Readlink(filepath.Join("/proc", e.Name(), "exe")); exe != "" {
			exe = strings.TrimSuffix(exe, " (deleted)")
			if baseName(exe) == name {
				out = append(out, Process{PID: pid, Name: baseName(exe)})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// OneByName returns the lowest matching PID, or os.ErrNotExist.
func OneByName(name string) (Process, error) {
	ps, err := ListByName(name)
	if err != nil {
		return Process{}, err
	}
	if len(ps) == 0 {
		return Process{}, os.ErrNotExist
	}
	return ps[0], nil
}

func procExists(pid int) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	// permission trouble on /proc, ask the kernel directly
	return syscall.Kill(pid, 0) == nil
}

func bytesTrimNL(b []byte) []byte {
	for len(b) > 0 {
		switch b[len(b)-1] {
		case '\n', '\r', ' ', '\t':
			b = b[:len(b)-1]
		default:
			return b
		}
	}
	return b
}

func baseName(path string) string {
	return filepath.Base(path)
}
