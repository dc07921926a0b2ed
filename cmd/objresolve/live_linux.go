//go:build linux

package main

import "objgraph/process_linux"

func openLive(pid int, name string) (*target, error) {
	var (
		p   *process_linux.LinuxProcess
		err error
	)
	if pid != 0 {
		p, err = process_linux.Open(pid)
	} else {
		p, err = process_linux.OpenByName(name)
	}
	if err != nil {
		return nil, err
	}
	return &target{mem: p, mm: p.MemoryMap(), save: p.Save, close: p.Close}, nil
}
