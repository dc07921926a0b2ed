package resolver

import (
	"fmt"

	"objgraph/process"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidAddress is process.ErrInvalidAddress so that accessor and
	// validator failures answer the same errors.Is check.
	ErrInvalidAddress = process.ErrInvalidAddress

	// ErrChannel is process.ErrChannel: the transport failed.
	ErrChannel = process.ErrChannel

	// ErrNotFound is returned by a single directional scan that reached its
	// terminal or a dead end without a match.
	ErrNotFound = errors.New("no matching node")

	// ErrCancelled is returned by a single directional scan that observed
	// cancellation before a match.
	ErrCancelled = errors.New("scan cancelled")

	// ErrScanExhausted is returned when a scan used its whole visit budget,
	// which points at a corrupted or cyclic list.
	ErrScanExhausted = errors.New("scan budget exhausted")

	ErrEntityNotFound = errors.New("entity not found")
	ErrAborted        = errors.New("resolution aborted")
	ErrRootNotFound   = errors.New("root not found")
)

// ChainBrokenError reports the hop at which a pointer chain could not be
// followed. Address is the location whose pointer was being read.
type ChainBrokenError struct {
	Hop     int
	Address process.ProcessMemoryAddress
	Cause   error
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("pointer chain broken at hop %d (%s): %v", e.Hop, e.Address, e.Cause)
}

func (e *ChainBrokenError) Unwrap() error { return e.Cause }

// BrokenHop returns the hop index if err carries a ChainBrokenError.
func BrokenHop(err error) (int, bool) {
	var cb *ChainBrokenError
	if errors.As(err, &cb) {
		return cb.Hop, true
	}
	return 0, false
}

// IsStructural reports whether err means the resolution as a whole cannot
// succeed, as opposed to one node being transiently unreadable.
func IsStructural(err error) bool {
	return errors.IsAny(err, ErrRootNotFound, ErrEntityNotFound, ErrScanExhausted, ErrChannel, ErrAborted)
}
