//go:build !linux && !windows

package main

import (
	"runtime"

	"github.com/cockroachdb/errors"
)

func openLive(pid int, name string) (*target, error) {
	return nil, errors.Newf("live processes are not supported on %s, use --dump", runtime.GOOS)
}
