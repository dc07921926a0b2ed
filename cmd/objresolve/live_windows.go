//go:build windows

package main

import "objgraph/process_windows"

func openLive(pid int, name string) (*target, error) {
	var (
		p   *process_windows.WindowsProcess
		err error
	)
	if pid != 0 {
		p, err = process_windows.Open(pid)
	} else {
		p, err = process_windows.OpenByName(name)
	}
	if err != nil {
		return nil, err
	}
	return &target{mem: p, mm: p.MemoryMap(), save: p.Save, close: p.Close}, nil
}
