//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"unsafe"

	"objgraph/process"
	"objgraph/process/memory_map"

	"golang.org/x/sys/unix"
)

// process_vm_readv uses the process_vm_readv syscall to read memory from another process
func process_vm_readv(pid int, remoteAddr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	localBuf := make([]byte, size)

	localIov := unix.Iovec{
		Base: &localBuf[0],
		Len:  uint64(size),
	}

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  int(size),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov)),
		uintptr(1),
		uintptr(unsafe.Pointer(&remoteIov)),
		uintptr(1),
		uintptr(0),
	)

	if errno != 0 {
		return nil, errno
	}

	if int(n) != int(size) {
		return nil, fmt.Errorf("%w: partial read: %d of %d bytes at %s", process.ErrOutOfRange, n, size, remoteAddr)
	}

	return localBuf, nil
}

// classify maps syscall failures onto the accessor errors. Faults on the
// address are ErrOutOfRange, a vanished or forbidden target is ErrChannel.
func classify(err error, addr process.ProcessMemoryAddress) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.EFAULT, unix.EIO, unix.EINVAL:
		return fmt.Errorf("%w: %s: %v", process.ErrOutOfRange, addr, errno)
	default:
		return fmt.Errorf("%w: process_vm_readv at %s: %v", process.ErrChannel, addr, errno)
	}
}

// ReadMemory reads memory from the process at the specified address
func (p *LinuxProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	pid := p.pid
	item := memory_map.Find(uint64(addr), p.mm)
	p.mu.Unlock()

	if pid == 0 {
		return nil, fmt.Errorf("%w: %w", process.ErrChannel, process.ErrProcessNotOpen)
	}
	if item == nil || !item.IsReadable() {
		return nil, fmt.Errorf("%w: %s", process.ErrOutOfRange, addr)
	}

	data, err := process_vm_readv(pid, addr, size)
	if err != nil {
		return nil, classify(err, addr)
	}
	return data, nil
}
